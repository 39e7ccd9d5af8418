package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/JonMunkholm/helios/internal/core"
)

// ErrTxDone is returned by any call on a finished transaction.
var ErrTxDone = errors.New("transaction already committed or rolled back")

// MemoryStore is an in-process core.RowStore. Transactions are fully
// serialized: Begin blocks until the previous transaction ends, and a
// rollback restores the snapshot taken at Begin.
type MemoryStore struct {
	sem chan struct{}
	now func() time.Time

	tables map[core.TableID]map[string]*memRow
	seq    int64
}

type memRow struct {
	seq int64
	row core.Row
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryClock overrides time.Now for created_at / updated_at.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) { m.now = now }
}

// NewMemoryStore creates an empty store for every registered table.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	m := &MemoryStore{
		sem:    make(chan struct{}, 1),
		now:    time.Now,
		tables: make(map[core.TableID]map[string]*memRow),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, def := range core.All() {
		m.tables[def.Info.Key] = make(map[string]*memRow)
	}
	return m
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Begin waits for exclusive access and snapshots the data.
func (m *MemoryStore) Begin(ctx context.Context) (core.Tx, error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memTx{store: m, snapshot: m.snapshot(), seq: m.seq}, nil
}

func (m *MemoryStore) snapshot() map[core.TableID]map[string]*memRow {
	out := make(map[core.TableID]map[string]*memRow, len(m.tables))
	for t, rows := range m.tables {
		cp := make(map[string]*memRow, len(rows))
		for k, r := range rows {
			cp[k] = &memRow{seq: r.seq, row: r.row.Clone()}
		}
		out[t] = cp
	}
	return out
}

type memTx struct {
	store    *MemoryStore
	snapshot map[core.TableID]map[string]*memRow
	seq      int64
	done     bool
}

func (tx *memTx) table(id core.TableID) (core.TableDefinition, map[string]*memRow, error) {
	if tx.done {
		return core.TableDefinition{}, nil, ErrTxDone
	}
	def, ok := core.Get(id)
	if !ok {
		return def, nil, fmt.Errorf("unknown table: %s", id)
	}
	rows, ok := tx.store.tables[id]
	if !ok {
		rows = make(map[string]*memRow)
		tx.store.tables[id] = rows
	}
	return def, rows, nil
}

func (tx *memTx) Get(ctx context.Context, table core.TableID, key core.Key) (core.Row, error) {
	_, rows, err := tx.table(table)
	if err != nil {
		return nil, err
	}
	r, ok := rows[key.MapKey()]
	if !ok {
		return nil, core.NotFound(table, key)
	}
	return r.row.Clone(), nil
}

// GetForUpdate is Get; the transaction already holds the store exclusively.
func (tx *memTx) GetForUpdate(ctx context.Context, table core.TableID, key core.Key) (core.Row, error) {
	return tx.Get(ctx, table, key)
}

func (tx *memTx) List(ctx context.Context, table core.TableID, filter core.Filter) ([]core.Row, error) {
	_, rows, err := tx.table(table)
	if err != nil {
		return nil, err
	}
	matched := make([]*memRow, 0, len(rows))
	for _, r := range rows {
		if filter.Matches(r.row) {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	out := make([]core.Row, len(matched))
	for i, r := range matched {
		out[i] = r.row.Clone()
	}
	return out, nil
}

func (tx *memTx) Upsert(ctx context.Context, table core.TableID, row core.Row) (core.Outcome, error) {
	def, rows, err := tx.table(table)
	if err != nil {
		return 0, err
	}
	row, err = normalizeRow(def, row)
	if err != nil {
		return 0, err
	}
	key, ok := def.KeyOf(row)
	if !ok {
		return 0, core.Conflict(table, fmt.Errorf("null value in key of %s", table), false)
	}

	existing, found := rows[key.MapKey()]
	if !found {
		if err := tx.checkForeignKeys(ctx, def, row); err != nil {
			return 0, err
		}
		tx.insert(rows, key, row)
		return core.Inserted, nil
	}

	merged := existing.row.Clone()
	for col, v := range row {
		if v != nil {
			merged[col] = v
		}
	}
	if err := tx.checkForeignKeys(ctx, def, merged); err != nil {
		return 0, err
	}
	if changed(def, existing.row, merged) {
		merged[core.ColUpdatedAt] = tx.store.timestamp()
	}
	existing.row = merged
	return core.Updated, nil
}

func (tx *memTx) Insert(ctx context.Context, table core.TableID, row core.Row) error {
	def, rows, err := tx.table(table)
	if err != nil {
		return err
	}
	row, err = normalizeRow(def, row)
	if err != nil {
		return err
	}
	key, ok := def.KeyOf(row)
	if !ok {
		return core.Conflict(table, fmt.Errorf("null value in key of %s", table), false)
	}
	if _, found := rows[key.MapKey()]; found {
		return core.Duplicate(table, key)
	}
	if err := tx.checkForeignKeys(ctx, def, row); err != nil {
		return err
	}
	tx.insert(rows, key, row)
	return nil
}

func (tx *memTx) insert(rows map[string]*memRow, key core.Key, row core.Row) {
	now := tx.store.timestamp()
	stored := row.Clone()
	stored[core.ColCreatedAt] = now
	stored[core.ColUpdatedAt] = now
	tx.store.seq++
	rows[key.MapKey()] = &memRow{seq: tx.store.seq, row: stored}
}

func (tx *memTx) Update(ctx context.Context, table core.TableID, key core.Key, row core.Row) error {
	def, rows, err := tx.table(table)
	if err != nil {
		return err
	}
	existing, found := rows[key.MapKey()]
	if !found {
		return core.NotFound(table, key)
	}
	row, err = normalizeRow(def, row)
	if err != nil {
		return err
	}
	for _, col := range def.KeyColumns() {
		if v, ok := row[col]; ok && !sameValue(v, existing.row[col]) {
			return core.Conflict(table, fmt.Errorf("key column %s cannot change", col), false)
		}
	}

	merged := existing.row.Clone()
	for col, v := range row {
		merged[col] = v
	}
	if err := tx.checkForeignKeys(ctx, def, merged); err != nil {
		return err
	}
	if changed(def, existing.row, merged) {
		merged[core.ColUpdatedAt] = tx.store.timestamp()
	}
	existing.row = merged
	return nil
}

func (tx *memTx) Delete(ctx context.Context, table core.TableID, key core.Key) error {
	_, rows, err := tx.table(table)
	if err != nil {
		return err
	}
	if _, found := rows[key.MapKey()]; !found {
		return core.NotFound(table, key)
	}
	if err := tx.checkReferrers(ctx, table, key); err != nil {
		return err
	}
	delete(rows, key.MapKey())
	return nil
}

func (tx *memTx) DeleteWhere(ctx context.Context, table core.TableID, filter core.Filter) (int64, error) {
	def, rows, err := tx.table(table)
	if err != nil {
		return 0, err
	}
	var n int64
	for k, r := range rows {
		if !filter.Matches(r.row) {
			continue
		}
		key, _ := def.KeyOf(r.row)
		if err := tx.checkReferrers(ctx, table, key); err != nil {
			return n, err
		}
		delete(rows, k)
		n++
	}
	return n, nil
}

func (tx *memTx) ListReferencing(ctx context.Context, target core.TableID, key core.Key) ([]core.Reference, error) {
	if tx.done {
		return nil, ErrTxDone
	}
	return core.ReferencingRows(ctx, tx, target, key)
}

func (tx *memTx) Commit(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	<-tx.store.sem
	return nil
}

func (tx *memTx) Rollback(ctx context.Context) error {
	if tx.done {
		return ErrTxDone
	}
	tx.done = true
	tx.store.tables = tx.snapshot
	tx.store.seq = tx.seq
	<-tx.store.sem
	return nil
}

// checkForeignKeys rejects a row whose non-null foreign key has no target.
func (tx *memTx) checkForeignKeys(ctx context.Context, def core.TableDefinition, row core.Row) error {
	for _, fk := range def.ForeignKeys {
		key := make(core.Key, len(fk.Columns))
		null := false
		for i, col := range fk.Columns {
			if row[col] == nil {
				null = true
				break
			}
			key[i] = row[col]
		}
		if null {
			continue
		}
		if _, err := tx.Get(ctx, fk.Target, key); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				return core.Conflict(def.Info.Key, fmt.Errorf("insert or update on %s violates foreign key to %s %s", def.Info.Key, fk.Target, key), false)
			}
			return err
		}
	}
	return nil
}

// checkReferrers rejects deleting a row that is still referenced.
func (tx *memTx) checkReferrers(ctx context.Context, table core.TableID, key core.Key) error {
	refs, err := core.ReferencingRows(ctx, tx, table, key)
	if err != nil {
		return err
	}
	if len(refs) > 0 {
		return core.Conflict(table, fmt.Errorf("delete on %s %s violates foreign key from %s", table, key, refs[0]), false)
	}
	return nil
}

func (m *MemoryStore) timestamp() time.Time {
	return m.now().UTC().Truncate(time.Microsecond)
}

// changed reports whether any stored column differs between two versions.
func changed(def core.TableDefinition, before, after core.Row) bool {
	for _, col := range def.Columns() {
		if !sameValue(before[col], after[col]) {
			return true
		}
	}
	return false
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return core.Filter{"v": b}.Matches(core.Row{"v": a})
}

// normalizeRow checks columns against the definition and coerces numeric
// widths to the stored representation.
func normalizeRow(def core.TableDefinition, row core.Row) (core.Row, error) {
	out := make(core.Row, len(row))
	for col, v := range row {
		spec, ok := def.Field(col)
		if !ok {
			return nil, fmt.Errorf("column %q does not exist in %s", col, def.Info.Key)
		}
		nv, err := coerce(spec, v)
		if err != nil {
			return nil, core.Invalid(def.Info.Key, col, "%s", err.Error())
		}
		out[col] = nv
	}
	return out, nil
}

func coerce(spec core.FieldSpec, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch spec.Type {
	case core.FieldText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case core.FieldInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case float64:
			if n == float64(int64(n)) {
				return int64(n), nil
			}
		}
	case core.FieldNumeric:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case int:
			return float64(n), nil
		}
	case core.FieldBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case core.FieldTime:
		if t, ok := v.(time.Time); ok {
			return t.UTC(), nil
		}
	}
	return nil, fmt.Errorf("%v is not a valid %s", v, spec.Type)
}
