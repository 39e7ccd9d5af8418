package core

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TableID identifies a registered table. It doubles as the storage table name.
type TableID string

const (
	TableCustomers     TableID = "customers"
	TableZones         TableID = "zones"
	TableCameras       TableID = "camera_configs"
	TableCameraZones   TableID = "camera_in_zone"
	TablePresets       TableID = "camera_presets"
	TableTemperatures  TableID = "temperatures"
	TableEndpoints     TableID = "egress_endpoints"
	TableSchedules     TableID = "schedules"
	TableSelectors     TableID = "data_selectors"
	TableConfigs       TableID = "egress_configurations"
	TableConfigSelects TableID = "egress_config_selectors"
	TableBatches       TableID = "ingest_batches"
)

// Table groups.
const (
	GroupTelemetry = "telemetry"
	GroupEgress    = "egress"
	GroupHistory   = "history"
)

// FieldType represents the stored type of a column.
type FieldType int

const (
	FieldText FieldType = iota
	FieldInt
	FieldNumeric
	FieldBool
	FieldTime
)

func (ft FieldType) String() string {
	switch ft {
	case FieldText:
		return "text"
	case FieldInt:
		return "integer"
	case FieldNumeric:
		return "number"
	case FieldBool:
		return "bool"
	case FieldTime:
		return "timestamp"
	default:
		return "value"
	}
}

// FieldSpec describes a single stored column.
type FieldSpec struct {
	Name    string    // Column name, also the canonical sheet header
	Type    FieldType // Stored type
	Key     bool      // Part of the natural key (key columns are listed in key order)
	MaxLen  int       // Maximum text length, 0 for unlimited
	Aliases []string  // Alternative normalized headers accepted on ingestion
}

// ForeignKey links Columns to the natural key of Target, in key order.
type ForeignKey struct {
	Columns []string
	Target  TableID
}

// TableInfo contains display information about a table.
type TableInfo struct {
	Key   TableID `json:"key"`
	Group string  `json:"group"`
	Label string  `json:"label"`
	// Rank orders ingestible tables so that referenced tables come first.
	Rank int `json:"rank"`
}

// TableDefinition contains everything needed to store and ingest a table.
type TableDefinition struct {
	Info        TableInfo
	FieldSpecs  []FieldSpec
	ForeignKeys []ForeignKey

	// Signatures lists header sets that classify a sheet as this table.
	// Tables without signatures are never the target of a sheet.
	Signatures [][]string

	// Parent is the next table up the ingestion lineage.
	Parent TableID

	// NameColumn, when set, lets references resolve by display name.
	NameColumn string
}

// Ingestible reports whether rows of this table are written by ingestion.
func (t TableDefinition) Ingestible() bool {
	return t.Info.Group == GroupTelemetry
}

// KeyColumns returns the natural key columns in key order.
func (t TableDefinition) KeyColumns() []string {
	var cols []string
	for _, f := range t.FieldSpecs {
		if f.Key {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

// Columns returns all column names in declaration order.
func (t TableDefinition) Columns() []string {
	cols := make([]string, len(t.FieldSpecs))
	for i, f := range t.FieldSpecs {
		cols[i] = f.Name
	}
	return cols
}

// Field returns the spec for a column.
func (t TableDefinition) Field(name string) (FieldSpec, bool) {
	for _, f := range t.FieldSpecs {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// KeyOf extracts the natural key from a row. ok is false when any key column is nil.
func (t TableDefinition) KeyOf(row Row) (Key, bool) {
	cols := t.KeyColumns()
	key := make(Key, len(cols))
	for i, c := range cols {
		v := row[c]
		if v == nil {
			return nil, false
		}
		key[i] = v
	}
	return key, true
}

// KeyRow returns a row holding only the key columns set to key.
func (t TableDefinition) KeyRow(key Key) Row {
	cols := t.KeyColumns()
	row := make(Row, len(cols))
	for i, c := range cols {
		if i < len(key) {
			row[c] = key[i]
		}
	}
	return row
}

// Project keeps only the columns this table stores.
func (t TableDefinition) Project(values Row) Row {
	row := make(Row, len(t.FieldSpecs))
	for _, f := range t.FieldSpecs {
		if v, ok := values[f.Name]; ok {
			row[f.Name] = v
		}
	}
	return row
}

// Row is a stored or pending row keyed by column name.
// Values are string, int64, float64, bool, time.Time or nil.
type Row map[string]any

// Clone returns a shallow copy.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Text returns a text column, or "" when nil.
func (r Row) Text(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns a bool column, or false when nil.
func (r Row) Bool(col string) bool {
	b, _ := r[col].(bool)
	return b
}

// Int returns an integer column, or 0 when nil.
func (r Row) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Time returns a timestamp column.
func (r Row) Time(col string) time.Time {
	t, _ := r[col].(time.Time)
	return t
}

// Column names shared by every table.
const (
	ColCreatedAt = "created_at"
	ColUpdatedAt = "updated_at"
)

// Key is a natural key, one value per key column.
type Key []any

// String renders the key as "v1|v2" for messages.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, v := range k {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, "|")
}

// MapKey encodes the key for use as a map index. Each part is quoted, so
// keys whose parts contain the separator never collide.
func (k Key) MapKey() string {
	var b strings.Builder
	for i, v := range k {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(fmt.Sprint(v)))
	}
	return b.String()
}

// Less orders keys column by column; integers compare numerically.
func (k Key) Less(other Key) bool {
	for i := 0; i < len(k) && i < len(other); i++ {
		a, b := k[i], other[i]
		if ai, ok := a.(int64); ok {
			if bi, ok := b.(int64); ok {
				if ai != bi {
					return ai < bi
				}
				continue
			}
		}
		as, bs := fmt.Sprint(a), fmt.Sprint(b)
		if as != bs {
			return as < bs
		}
	}
	return len(k) < len(other)
}

// SortRows orders rows by the table's natural key.
func SortRows(def TableDefinition, rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		ki, _ := def.KeyOf(rows[i])
		kj, _ := def.KeyOf(rows[j])
		return ki.Less(kj)
	})
}

// Filter is an equality filter. A nil value matches NULL.
type Filter map[string]any

// Matches reports whether row satisfies every condition.
func (f Filter) Matches(row Row) bool {
	for col, want := range f {
		got := row[col]
		if want == nil {
			if got != nil {
				return false
			}
			continue
		}
		if got == nil || !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares stored values, treating integer widths alike.
func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case int64:
		switch bv := b.(type) {
		case int64:
			return av == bv
		case int:
			return av == int64(bv)
		}
	case int:
		return valuesEqual(int64(av), b)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	}
	return a == b
}

// Outcome reports what an upsert did.
type Outcome int

const (
	Inserted Outcome = iota + 1
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// Reference is a row that points at another row through a foreign key.
type Reference struct {
	Table  TableID `json:"table"`
	Column string  `json:"column"`
	Key    Key     `json:"key"`
}

func (r Reference) String() string {
	return fmt.Sprintf("%s %s (via %s)", r.Table, r.Key, r.Column)
}
