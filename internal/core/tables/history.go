package tables

import "github.com/JonMunkholm/helios/internal/core"

func init() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:   core.TableBatches,
			Group: core.GroupHistory,
			Label: "Ingest batches",
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "batch_id", Type: core.FieldText, Key: true, MaxLen: 128},
			{Name: "filename", Type: core.FieldText, MaxLen: 512},
			{Name: "mode", Type: core.FieldText, MaxLen: 16},
			{Name: "status", Type: core.FieldText, MaxLen: 16},
			{Name: "sheets", Type: core.FieldInt},
			{Name: "rows", Type: core.FieldInt},
			{Name: "skipped", Type: core.FieldInt},
			{Name: "inserted", Type: core.FieldInt},
			{Name: "updated", Type: core.FieldInt},
			{Name: "error", Type: core.FieldText},
			{Name: "source_ip", Type: core.FieldText, MaxLen: 64},
		},
	})
}
