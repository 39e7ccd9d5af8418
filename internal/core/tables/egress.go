package tables

import "github.com/JonMunkholm/helios/internal/core"

func init() {
	registerEndpoints()
	registerSchedules()
	registerSelectors()
	registerConfigurations()
	registerConfigSelectors()
}

func registerEndpoints() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:   core.TableEndpoints,
			Group: core.GroupEgress,
			Label: "Egress endpoints",
			Rank:  0,
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "id", Type: core.FieldText, Key: true, MaxLen: 128},
			{Name: "endpoint", Type: core.FieldText, MaxLen: 2048},
			{Name: "username", Type: core.FieldText, MaxLen: 128},
			{Name: "password", Type: core.FieldText, MaxLen: 128},
			{Name: "clientid", Type: core.FieldText, MaxLen: 128},
			{Name: "clientsecret", Type: core.FieldText, MaxLen: 256},
			{Name: "debugexpiration", Type: core.FieldText, MaxLen: 128},
			{Name: "tokenendpoint", Type: core.FieldText, MaxLen: 2048},
			{Name: "validateendpointcertificate", Type: core.FieldBool},
		},
	})
}

func registerSchedules() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:   core.TableSchedules,
			Group: core.GroupEgress,
			Label: "Schedules",
			Rank:  0,
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "id", Type: core.FieldText, Key: true, MaxLen: 128},
			{Name: "period", Type: core.FieldText, MaxLen: 128},
			{Name: "starttime", Type: core.FieldText, MaxLen: 128},
		},
	})
}

func registerSelectors() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:   core.TableSelectors,
			Group: core.GroupEgress,
			Label: "Data selectors",
			Rank:  0,
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "id", Type: core.FieldText, Key: true, MaxLen: 128},
			{Name: "streamfilter", Type: core.FieldText, MaxLen: 256},
			{Name: "absolutedeadband", Type: core.FieldText, MaxLen: 128},
			{Name: "percentchange", Type: core.FieldText, MaxLen: 128},
			{Name: "expirationperiod", Type: core.FieldText, MaxLen: 128},
		},
	})
}

func registerConfigurations() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:   core.TableConfigs,
			Group: core.GroupEgress,
			Label: "Egress configurations",
			Rank:  1,
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "id", Type: core.FieldText, Key: true, MaxLen: 128},
			{Name: "name", Type: core.FieldText, MaxLen: 128},
			{Name: "description", Type: core.FieldText, MaxLen: 128},
			{Name: "enabled", Type: core.FieldBool},
			{Name: "endpointid", Type: core.FieldText, MaxLen: 128},
			{Name: "scheduleid", Type: core.FieldText, MaxLen: 128},
			{Name: "namespaceid", Type: core.FieldText, MaxLen: 128},
			{Name: "backfill", Type: core.FieldBool},
			{Name: "streamprefix", Type: core.FieldText, MaxLen: 128},
			{Name: "typeprefix", Type: core.FieldText, MaxLen: 128},
		},
		ForeignKeys: []core.ForeignKey{
			{Columns: []string{"endpointid"}, Target: core.TableEndpoints},
			{Columns: []string{"scheduleid"}, Target: core.TableSchedules},
		},
	})
}

func registerConfigSelectors() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:   core.TableConfigSelects,
			Group: core.GroupEgress,
			Label: "Configuration selectors",
			Rank:  2,
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "ec_id", Type: core.FieldText, Key: true, MaxLen: 128},
			{Name: "ds_id", Type: core.FieldText, Key: true, MaxLen: 128},
		},
		ForeignKeys: []core.ForeignKey{
			{Columns: []string{"ec_id"}, Target: core.TableConfigs},
			{Columns: []string{"ds_id"}, Target: core.TableSelectors},
		},
	})
}
