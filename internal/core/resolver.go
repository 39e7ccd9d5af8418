package core

// resolver.go orders records by dependency and resolves references.
//
// Every reference a record makes (zone -> customer, camera -> zone,
// preset -> camera, temperature -> preset) is resolved against a
// batch-scoped arena first and the store second. Missing parents are
// synthesized from whatever attributes the same row carries, so a single
// temperature row can create its preset, camera, zone and customer.

import (
	"context"
	"errors"
	"fmt"
)

// PlannedTable is the ordered write set for one table.
type PlannedTable struct {
	Table TableID
	Rows  []Row
}

// Plan is the resolver output: tables in dependency order, rows within a
// table sorted by natural key.
type Plan struct {
	Tables []PlannedTable
}

// Size returns the number of rows in the plan.
func (p *Plan) Size() int {
	n := 0
	for _, t := range p.Tables {
		n += len(t.Rows)
	}
	return n
}

// Rows returns the planned rows for table.
func (p *Plan) Rows(table TableID) []Row {
	for _, t := range p.Tables {
		if t.Table == table {
			return t.Rows
		}
	}
	return nil
}

type pending struct {
	key Key
	row Row
}

// arena is the batch-scoped resolution state. It is built for one call and
// discarded with it.
type arena struct {
	rows   map[TableID]map[string]*pending
	byName map[TableID]map[string]string
}

func newArena() *arena {
	return &arena{
		rows:   make(map[TableID]map[string]*pending),
		byName: make(map[TableID]map[string]string),
	}
}

func (a *arena) get(table TableID, key Key) (*pending, bool) {
	p, ok := a.rows[table][key.MapKey()]
	return p, ok
}

// merge adds or folds a row into the arena. Later non-nil values win and a
// nil never erases an earlier value of the same batch.
func (a *arena) merge(def TableDefinition, key Key, row Row) {
	table := def.Info.Key
	if a.rows[table] == nil {
		a.rows[table] = make(map[string]*pending)
	}
	p, ok := a.rows[table][key.MapKey()]
	if !ok {
		p = &pending{key: key, row: def.KeyRow(key)}
		a.rows[table][key.MapKey()] = p
	}
	for col, v := range row {
		if v != nil {
			p.row[col] = v
		}
	}

	if def.NameColumn != "" {
		if name, ok := p.row[def.NameColumn].(string); ok && name != "" {
			if a.byName[table] == nil {
				a.byName[table] = make(map[string]string)
			}
			a.byName[table][name] = key[0].(string)
		}
	}
}

// indexNames records every id and name pair the batch declares, so a
// name-only reference resolves to the declared id wherever the declaring
// row sits in the batch. Later declarations win, as in merge.
func (a *arena) indexNames(n *Normalized) {
	var named []TableDefinition
	for _, def := range IngestOrder() {
		if def.NameColumn != "" {
			named = append(named, def)
		}
	}

	for _, def := range IngestOrder() {
		for _, rec := range n.Records[def.Info.Key] {
			for _, nd := range named {
				id, _ := rec.Values[nd.KeyColumns()[0]].(string)
				name, _ := rec.Values[nd.NameColumn].(string)
				if id == "" || name == "" {
					continue
				}
				table := nd.Info.Key
				if a.byName[table] == nil {
					a.byName[table] = make(map[string]string)
				}
				a.byName[table][name] = id
			}
		}
	}
}

// Resolver turns normalized records into a write plan.
type Resolver struct {
	tx    Tx
	arena *arena
}

// Resolve builds the plan for one batch using tx for lookups. tx is only
// read from.
func Resolve(ctx context.Context, tx Tx, n *Normalized) (*Plan, error) {
	r := &Resolver{tx: tx, arena: newArena()}
	r.arena.indexNames(n)

	for _, def := range IngestOrder() {
		for _, rec := range n.Records[def.Info.Key] {
			if err := r.resolve(ctx, rec.Table, rec.Values); err != nil {
				return nil, withRow(err, rec.Sheet, rec.Row)
			}
		}
	}

	return r.plan(), nil
}

func (r *Resolver) resolve(ctx context.Context, table TableID, values Row) error {
	switch table {
	case TableCustomers:
		_, _, err := r.customer(ctx, values)
		return err
	case TableZones:
		_, _, err := r.zone(ctx, values)
		return err
	case TableCameras:
		return r.camera(ctx, values)
	case TablePresets:
		return r.preset(ctx, values)
	case TableTemperatures:
		return r.temperature(ctx, values)
	}
	return fmt.Errorf("table %s is not ingestible", table)
}

// customer resolves the customer a row names, by id or by name.
func (r *Resolver) customer(ctx context.Context, values Row) (string, bool, error) {
	return r.named(ctx, MustGet(TableCustomers), values, nil)
}

// zone resolves the zone a row names and, through it, the zone's customer.
func (r *Resolver) zone(ctx context.Context, values Row) (string, bool, error) {
	def := MustGet(TableZones)
	extra := Row{}
	if cid, ok, err := r.customer(ctx, values); err != nil {
		return "", false, err
	} else if ok {
		extra["customer_id"] = cid
	}
	return r.named(ctx, def, values, extra)
}

// named resolves a table whose rows can be referenced by id or display
// name. An unknown name becomes the id of a synthesized row.
func (r *Resolver) named(ctx context.Context, def TableDefinition, values Row, extra Row) (string, bool, error) {
	keyCol := def.KeyColumns()[0]
	id, _ := values[keyCol].(string)
	name, _ := values[def.NameColumn].(string)
	if id == "" && name == "" {
		return "", false, nil
	}

	if id == "" {
		found, err := r.lookupName(ctx, def, name)
		if err != nil {
			return "", false, err
		}
		id = found
		if id == "" {
			id = name
		}
	}

	row := def.Project(values)
	row[keyCol] = id
	for k, v := range extra {
		row[k] = v
	}
	r.arena.merge(def, Key{id}, row)
	return id, true, nil
}

func (r *Resolver) lookupName(ctx context.Context, def TableDefinition, name string) (string, error) {
	table := def.Info.Key
	if id, ok := r.arena.byName[table][name]; ok {
		return id, nil
	}
	rows, err := r.tx.List(ctx, table, Filter{def.NameColumn: name})
	if err != nil {
		return "", fmt.Errorf("lookup %s by name: %w", table, err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].Text(def.KeyColumns()[0]), nil
}

// camera plans the camera row and, when the row names a zone, the link.
func (r *Resolver) camera(ctx context.Context, values Row) error {
	def := MustGet(TableCameras)
	key, ok := def.KeyOf(values)
	if !ok {
		return &Error{Kind: KindUnresolvableReference, Table: TableCameras, Field: "camera_id", Msg: "camera_id is blank"}
	}
	r.arena.merge(def, key, def.Project(values))

	zoneID, ok, err := r.zone(ctx, values)
	if err != nil {
		return err
	}
	if ok {
		link := MustGet(TableCameraZones)
		lk := Key{key[0], zoneID}
		r.arena.merge(link, lk, link.KeyRow(lk))
	}
	return nil
}

func (r *Resolver) preset(ctx context.Context, values Row) error {
	def := MustGet(TablePresets)
	key, ok := def.KeyOf(values)
	if !ok {
		return &Error{Kind: KindUnresolvableReference, Table: TablePresets, Field: "preset_number", Msg: "camera_id and preset_number are required"}
	}
	if err := r.camera(ctx, values); err != nil {
		return err
	}
	r.arena.merge(def, key, def.KeyRow(key))
	return nil
}

// temperature resolves the preset a reading belongs to. Blank camera_id or
// preset_number cells fall back to the values already planned or stored for
// the same temperature_id.
func (r *Resolver) temperature(ctx context.Context, values Row) error {
	def := MustGet(TableTemperatures)
	key, ok := def.KeyOf(values)
	if !ok {
		return &Error{Kind: KindInvalidValue, Table: TableTemperatures, Field: "temperature_id", Msg: "temperature_id is blank"}
	}

	values = values.Clone()
	if values["camera_id"] == nil || values["preset_number"] == nil {
		prior, err := r.priorTemperature(ctx, def, key)
		if err != nil {
			return err
		}
		for _, col := range []string{"camera_id", "preset_number"} {
			if values[col] == nil && prior != nil {
				values[col] = prior[col]
			}
		}
	}

	for _, col := range []string{"camera_id", "preset_number"} {
		if values[col] == nil {
			return &Error{
				Kind:  KindUnresolvableReference,
				Table: TableTemperatures,
				Field: col,
				Ref:   fmt.Sprintf("temperature %s", key),
				Msg:   fmt.Sprintf("temperature %s has no %s and none is stored", key, col),
			}
		}
	}

	if err := r.preset(ctx, values); err != nil {
		return err
	}
	r.arena.merge(def, key, def.Project(values))
	return nil
}

func (r *Resolver) priorTemperature(ctx context.Context, def TableDefinition, key Key) (Row, error) {
	if p, ok := r.arena.get(def.Info.Key, key); ok {
		return p.row, nil
	}
	row, err := r.tx.Get(ctx, def.Info.Key, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup temperature %s: %w", key, err)
	}
	return row, nil
}

// plan flattens the arena in dependency order with rows sorted by key, which
// gives concurrent batches a consistent lock order.
func (r *Resolver) plan() *Plan {
	p := &Plan{}
	for _, def := range IngestOrder() {
		entries := r.arena.rows[def.Info.Key]
		if len(entries) == 0 {
			continue
		}
		rows := make([]Row, 0, len(entries))
		for _, e := range entries {
			rows = append(rows, e.row)
		}
		SortRows(def, rows)
		p.Tables = append(p.Tables, PlannedTable{Table: def.Info.Key, Rows: rows})
	}
	return p
}
