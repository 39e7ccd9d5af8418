package tables

import "github.com/JonMunkholm/helios/internal/core"

func init() {
	registerCustomers()
	registerZones()
	registerCameras()
	registerCameraZones()
	registerPresets()
	registerTemperatures()
}

func registerCustomers() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:   core.TableCustomers,
			Group: core.GroupTelemetry,
			Label: "Customers",
			Rank:  0,
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "customer_id", Type: core.FieldText, Key: true, MaxLen: 128, Aliases: []string{"client_id", "customer"}},
			{Name: "customer_name", Type: core.FieldText, MaxLen: 128, Aliases: []string{"client_name", "client"}},
		},
		Signatures: [][]string{
			{"customer_id"},
			{"customer_name"},
		},
		NameColumn: "customer_name",
	})
}

func registerZones() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:   core.TableZones,
			Group: core.GroupTelemetry,
			Label: "Zones",
			Rank:  1,
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "zone_id", Type: core.FieldText, Key: true, MaxLen: 128, Aliases: []string{"zone"}},
			{Name: "zone_name", Type: core.FieldText, MaxLen: 128},
			{Name: "customer_id", Type: core.FieldText, MaxLen: 128, Aliases: []string{"client_id", "customer"}},
		},
		ForeignKeys: []core.ForeignKey{
			{Columns: []string{"customer_id"}, Target: core.TableCustomers},
		},
		Signatures: [][]string{
			{"zone_id"},
			{"zone_name"},
		},
		Parent:     core.TableCustomers,
		NameColumn: "zone_name",
	})
}

func registerCameras() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:   core.TableCameras,
			Group: core.GroupTelemetry,
			Label: "Camera configs",
			Rank:  2,
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "camera_id", Type: core.FieldText, Key: true, MaxLen: 128, Aliases: []string{"camera"}},
			{Name: "camera_ip", Type: core.FieldText, MaxLen: 128, Aliases: []string{"ip", "ip_address"}},
			{Name: "camera_name", Type: core.FieldText, MaxLen: 128},
			{Name: "camera_location", Type: core.FieldText, MaxLen: 128, Aliases: []string{"location"}},
			{Name: "camera_type", Type: core.FieldText, MaxLen: 128},
			{Name: "brand", Type: core.FieldText, MaxLen: 128},
			{Name: "model", Type: core.FieldText, MaxLen: 128},
			{Name: "firmware_version", Type: core.FieldText, MaxLen: 128, Aliases: []string{"firmware"}},
		},
		Signatures: [][]string{
			{"camera_id"},
		},
		Parent: core.TableZones,
	})
}

// camera_in_zone is never a sheet target; rows are derived from camera rows
// that name a zone.
func registerCameraZones() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:   core.TableCameraZones,
			Group: core.GroupTelemetry,
			Label: "Camera zones",
			Rank:  3,
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "camera_id", Type: core.FieldText, Key: true, MaxLen: 128},
			{Name: "zone_id", Type: core.FieldText, Key: true, MaxLen: 128},
		},
		ForeignKeys: []core.ForeignKey{
			{Columns: []string{"camera_id"}, Target: core.TableCameras},
			{Columns: []string{"zone_id"}, Target: core.TableZones},
		},
	})
}

func registerPresets() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:   core.TablePresets,
			Group: core.GroupTelemetry,
			Label: "Camera presets",
			Rank:  4,
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "camera_id", Type: core.FieldText, Key: true, MaxLen: 128},
			{Name: "preset_number", Type: core.FieldInt, Key: true, Aliases: []string{"preset", "preset_no"}},
		},
		ForeignKeys: []core.ForeignKey{
			{Columns: []string{"camera_id"}, Target: core.TableCameras},
		},
		Signatures: [][]string{
			{"camera_id", "preset_number"},
		},
		Parent: core.TableCameras,
	})
}

func registerTemperatures() {
	core.Register(core.TableDefinition{
		Info: core.TableInfo{
			Key:   core.TableTemperatures,
			Group: core.GroupTelemetry,
			Label: "Temperatures",
			Rank:  5,
		},
		FieldSpecs: []core.FieldSpec{
			{Name: "temperature_id", Type: core.FieldInt, Key: true},
			{Name: "camera_id", Type: core.FieldText, MaxLen: 128},
			{Name: "preset_number", Type: core.FieldInt},
			{Name: "measurement", Type: core.FieldNumeric, Aliases: []string{"value", "temperature"}},
			{Name: "measurement_type", Type: core.FieldText, MaxLen: 128},
			{Name: "description", Type: core.FieldText, MaxLen: 256},
			{Name: "point_in_preset", Type: core.FieldInt, Aliases: []string{"point"}},
		},
		ForeignKeys: []core.ForeignKey{
			{Columns: []string{"camera_id", "preset_number"}, Target: core.TablePresets},
		},
		Signatures: [][]string{
			{"temperature_id"},
		},
		Parent: core.TablePresets,
	})
}
