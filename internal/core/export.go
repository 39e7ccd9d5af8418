package core

import (
	"context"
	"fmt"
	"time"
)

// ExportHeaders is the column order of the flattened export. The headers
// are accepted by the normalizer, so an export can be uploaded again.
var ExportHeaders = []string{
	"camera_id", "camera_ip", "camera_name", "camera_location",
	"camera_type", "brand", "model", "firmware_version",
	"zone_id", "zone_name", "preset_number",
	"temperature_id", "measurement", "measurement_type", "description", "point_in_preset",
	"customer_id", "customer_name",
}

// UnassignedSheet holds cameras that belong to no zone.
const UnassignedSheet = "unassigned"

// ExportFilter narrows the flattened export.
type ExportFilter struct {
	CameraIP     string
	PresetNumber *int64
}

// Export is the flattened telemetry, one sheet per zone.
type Export struct {
	Sheets []Sheet `json:"sheets"`
}

// ExportData joins cameras, zones, customers, presets and temperatures into
// one row per reading. Cameras without presets and presets without readings
// still produce a row with the missing columns blank.
func (s *Service) ExportData(ctx context.Context, f ExportFilter) (*Export, error) {
	now := s.now().UTC().Format(time.RFC3339)
	sheets := make(map[string]*Sheet)
	var order []string

	add := func(name string, values Row) {
		sh, ok := sheets[name]
		if !ok {
			sh = &Sheet{Name: name, Headers: ExportHeaders, Rows: [][]any{}, CreatedAt: now}
			sheets[name] = sh
			order = append(order, name)
		}
		row := make([]any, len(ExportHeaders))
		for i, h := range ExportHeaders {
			row[i] = values[h]
		}
		sh.Rows = append(sh.Rows, row)
	}

	err := WithTx(ctx, s.store, func(tx Tx) error {
		var camFilter Filter
		if f.CameraIP != "" {
			camFilter = Filter{"camera_ip": f.CameraIP}
		}
		cameras, err := tx.List(ctx, TableCameras, camFilter)
		if err != nil {
			return fmt.Errorf("list cameras: %w", err)
		}

		for _, cam := range cameras {
			camID := cam.Text("camera_id")

			zones, err := cameraZones(ctx, tx, camID)
			if err != nil {
				return err
			}

			presetFilter := Filter{"camera_id": camID}
			if f.PresetNumber != nil {
				presetFilter["preset_number"] = *f.PresetNumber
			}
			presets, err := tx.List(ctx, TablePresets, presetFilter)
			if err != nil {
				return fmt.Errorf("list presets: %w", err)
			}
			if f.PresetNumber != nil && len(presets) == 0 {
				continue
			}

			var readings []Row
			for _, p := range presets {
				temps, err := tx.List(ctx, TableTemperatures, Filter{
					"camera_id":     camID,
					"preset_number": p["preset_number"],
				})
				if err != nil {
					return fmt.Errorf("list temperatures: %w", err)
				}
				if len(temps) == 0 {
					readings = append(readings, Row{"preset_number": p["preset_number"]})
					continue
				}
				readings = append(readings, temps...)
			}
			if len(readings) == 0 {
				readings = []Row{{}}
			}

			for _, z := range zones {
				sheet := UnassignedSheet
				if z != nil {
					sheet = z.Text("zone_id")
				}
				for _, t := range readings {
					values := cam.Clone()
					for k, v := range z {
						values[k] = v
					}
					values["preset_number"] = t["preset_number"]
					values["temperature_id"] = t["temperature_id"]
					values["measurement"] = t["measurement"]
					values["measurement_type"] = t["measurement_type"]
					values["description"] = t["description"]
					values["point_in_preset"] = t["point_in_preset"]
					add(sheet, values)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := &Export{Sheets: make([]Sheet, 0, len(order))}
	for _, name := range order {
		out.Sheets = append(out.Sheets, *sheets[name])
	}
	return out, nil
}

// cameraZones returns the zones of a camera merged with their customers, or
// a single nil entry when the camera has none.
func cameraZones(ctx context.Context, tx Tx, cameraID string) ([]Row, error) {
	links, err := tx.List(ctx, TableCameraZones, Filter{"camera_id": cameraID})
	if err != nil {
		return nil, fmt.Errorf("list camera zones: %w", err)
	}

	var zones []Row
	for _, l := range links {
		z, err := optionalRow(ctx, tx, TableZones, l.Text("zone_id"))
		if err != nil {
			return nil, err
		}
		if z == nil {
			continue
		}
		values := Row{
			"zone_id":     z["zone_id"],
			"zone_name":   z["zone_name"],
			"customer_id": z["customer_id"],
		}
		if cid := z.Text("customer_id"); cid != "" {
			c, err := optionalRow(ctx, tx, TableCustomers, cid)
			if err != nil {
				return nil, err
			}
			if c != nil {
				values["customer_name"] = c["customer_name"]
			}
		}
		zones = append(zones, values)
	}
	if len(zones) == 0 {
		zones = []Row{nil}
	}
	return zones, nil
}
