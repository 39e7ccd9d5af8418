package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/JonMunkholm/helios/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the PostgreSQL core.RowStore. Tables are named after their
// TableID; every table carries created_at, updated_at and a seq column that
// records insertion order.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore wraps an open pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Ping checks the connection.
func (s *PgStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Begin opens a read-committed transaction.
func (s *PgStore) Begin(ctx context.Context) (core.Tx, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Get(ctx context.Context, table core.TableID, key core.Key) (core.Row, error) {
	return t.get(ctx, table, key, "")
}

func (t *pgTx) GetForUpdate(ctx context.Context, table core.TableID, key core.Key) (core.Row, error) {
	return t.get(ctx, table, key, " FOR UPDATE")
}

func (t *pgTx) get(ctx context.Context, table core.TableID, key core.Key, suffix string) (core.Row, error) {
	def, err := lookup(table)
	if err != nil {
		return nil, err
	}
	where, args := keyCondition(def, key, 1)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s%s",
		strings.Join(selectColumns(def), ", "),
		quoteIdentifier(string(table)),
		where,
		suffix,
	)

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(table, err)
	}
	out, err := collectRows(def, rows)
	if err != nil {
		return nil, mapError(table, err)
	}
	if len(out) == 0 {
		return nil, core.NotFound(table, key)
	}
	return out[0], nil
}

func (t *pgTx) List(ctx context.Context, table core.TableID, filter core.Filter) ([]core.Row, error) {
	def, err := lookup(table)
	if err != nil {
		return nil, err
	}

	var conds []string
	var args []any
	cols := make([]string, 0, len(filter))
	for col := range filter {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	for _, col := range cols {
		if _, ok := def.Field(col); !ok {
			return nil, fmt.Errorf("column %q does not exist in %s", col, table)
		}
		v := filter[col]
		if v == nil {
			conds = append(conds, quoteIdentifier(col)+" IS NULL")
			continue
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", quoteIdentifier(col), len(args)))
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(selectColumns(def), ", "), quoteIdentifier(string(table)))
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(table, err)
	}
	out, err := collectRows(def, rows)
	if err != nil {
		return nil, mapError(table, err)
	}
	return out, nil
}

// Upsert inserts or merges the row. Nil columns keep their stored value and
// updated_at moves only when a stored value changes. xmax = 0 on the
// returned row means the tuple was freshly inserted.
func (t *pgTx) Upsert(ctx context.Context, table core.TableID, row core.Row) (core.Outcome, error) {
	def, err := lookup(table)
	if err != nil {
		return 0, err
	}
	cols, args, err := rowColumns(def, row)
	if err != nil {
		return 0, err
	}

	tbl := quoteIdentifier(string(table))
	keys := quoteColumns(def.KeyColumns())

	var sets, before, after []string
	for _, col := range cols {
		if isKey(def, col) {
			continue
		}
		q := quoteIdentifier(col)
		merged := fmt.Sprintf("COALESCE(EXCLUDED.%s, t.%s)", q, q)
		sets = append(sets, fmt.Sprintf("%s = %s", q, merged))
		before = append(before, "t."+q)
		after = append(after, merged)
	}
	if len(sets) == 0 {
		sets = append(sets, "updated_at = t.updated_at")
	} else {
		sets = append(sets, fmt.Sprintf(
			"updated_at = CASE WHEN ROW(%s) IS DISTINCT FROM ROW(%s) THEN now() ELSE t.updated_at END",
			strings.Join(before, ", "), strings.Join(after, ", "),
		))
	}

	query := fmt.Sprintf(
		"INSERT INTO %s AS t (%s, created_at, updated_at) VALUES (%s, now(), now()) "+
			"ON CONFLICT (%s) DO UPDATE SET %s RETURNING (xmax = 0)",
		tbl,
		strings.Join(quoteColumns(cols), ", "),
		placeholders(1, len(cols)),
		strings.Join(keys, ", "),
		strings.Join(sets, ", "),
	)

	var inserted bool
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&inserted); err != nil {
		return 0, mapError(table, err)
	}
	if inserted {
		return core.Inserted, nil
	}
	return core.Updated, nil
}

func (t *pgTx) Insert(ctx context.Context, table core.TableID, row core.Row) error {
	def, err := lookup(table)
	if err != nil {
		return err
	}
	cols, args, err := rowColumns(def, row)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("INSERT INTO %s (%s, created_at, updated_at) VALUES (%s, now(), now())",
		quoteIdentifier(string(table)),
		strings.Join(quoteColumns(cols), ", "),
		placeholders(1, len(cols)),
	)
	if _, err := t.tx.Exec(ctx, query, args...); err != nil {
		if key, ok := def.KeyOf(row); ok && isCode(err, "23505") {
			return core.Duplicate(table, key)
		}
		return mapError(table, err)
	}
	return nil
}

func (t *pgTx) Update(ctx context.Context, table core.TableID, key core.Key, row core.Row) error {
	def, err := lookup(table)
	if err != nil {
		return err
	}
	cols, args, err := rowColumns(def, row)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		_, err := t.Get(ctx, table, key)
		return err
	}

	sets := make([]string, len(cols))
	current := make([]string, len(cols))
	incoming := make([]string, len(cols))
	for i, col := range cols {
		q := quoteIdentifier(col)
		spec, _ := def.Field(col)
		sets[i] = fmt.Sprintf("%s = $%d", q, i+1)
		current[i] = q
		incoming[i] = fmt.Sprintf("$%d::%s", i+1, columnType(spec))
	}
	where, keyArgs := keyCondition(def, key, len(args)+1)
	query := fmt.Sprintf(
		"UPDATE %s SET updated_at = CASE WHEN ROW(%s) IS DISTINCT FROM ROW(%s) THEN now() ELSE updated_at END, %s WHERE %s",
		quoteIdentifier(string(table)),
		strings.Join(current, ", "),
		strings.Join(incoming, ", "),
		strings.Join(sets, ", "),
		where,
	)

	tag, err := t.tx.Exec(ctx, query, append(args, keyArgs...)...)
	if err != nil {
		return mapError(table, err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound(table, key)
	}
	return nil
}

func (t *pgTx) Delete(ctx context.Context, table core.TableID, key core.Key) error {
	def, err := lookup(table)
	if err != nil {
		return err
	}
	where, args := keyCondition(def, key, 1)
	tag, err := t.tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdentifier(string(table)), where), args...)
	if err != nil {
		return mapError(table, err)
	}
	if tag.RowsAffected() == 0 {
		return core.NotFound(table, key)
	}
	return nil
}

func (t *pgTx) DeleteWhere(ctx context.Context, table core.TableID, filter core.Filter) (int64, error) {
	def, err := lookup(table)
	if err != nil {
		return 0, err
	}
	var conds []string
	var args []any
	for _, col := range def.Columns() {
		v, ok := filter[col]
		if !ok {
			continue
		}
		if v == nil {
			conds = append(conds, quoteIdentifier(col)+" IS NULL")
			continue
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", quoteIdentifier(col), len(args)))
	}
	if len(conds) != len(filter) {
		return 0, fmt.Errorf("filter names a column that does not exist in %s", table)
	}

	query := "DELETE FROM " + quoteIdentifier(string(table))
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, mapError(table, err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) ListReferencing(ctx context.Context, target core.TableID, key core.Key) ([]core.Reference, error) {
	return core.ReferencingRows(ctx, t, target, key)
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return mapError("", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func lookup(table core.TableID) (core.TableDefinition, error) {
	def, ok := core.Get(table)
	if !ok {
		return def, fmt.Errorf("unknown table: %s", table)
	}
	return def, nil
}

func selectColumns(def core.TableDefinition) []string {
	cols := quoteColumns(def.Columns())
	return append(cols, core.ColCreatedAt, core.ColUpdatedAt)
}

func collectRows(def core.TableDefinition, rows pgx.Rows) ([]core.Row, error) {
	defer rows.Close()

	names := append(def.Columns(), core.ColCreatedAt, core.ColUpdatedAt)
	var out []core.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		r := make(core.Row, len(names))
		for i, name := range names {
			r[name] = values[i]
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// rowColumns returns the row's columns in definition order with their args.
func rowColumns(def core.TableDefinition, row core.Row) ([]string, []any, error) {
	for col := range row {
		if _, ok := def.Field(col); !ok {
			return nil, nil, fmt.Errorf("column %q does not exist in %s", col, def.Info.Key)
		}
	}
	var cols []string
	var args []any
	for _, col := range def.Columns() {
		if v, ok := row[col]; ok {
			cols = append(cols, col)
			args = append(args, v)
		}
	}
	return cols, args, nil
}

func keyCondition(def core.TableDefinition, key core.Key, start int) (string, []any) {
	cols := def.KeyColumns()
	conds := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		conds[i] = fmt.Sprintf("%s = $%d", quoteIdentifier(col), start+i)
		if i < len(key) {
			args[i] = key[i]
		}
	}
	return strings.Join(conds, " AND "), args
}

func isKey(def core.TableDefinition, col string) bool {
	spec, ok := def.Field(col)
	return ok && spec.Key
}

func placeholders(start, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ps, ", ")
}

// quoteIdentifier safely quotes a PostgreSQL identifier.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteColumns(cols []string) []string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = quoteIdentifier(col)
	}
	return quoted
}

func isCode(err error, codes ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	for _, c := range codes {
		if pgErr.Code == c {
			return true
		}
	}
	return false
}

// mapError classifies PostgreSQL failures. Integrity violations become
// ConstraintViolation; serialization failures and deadlocks are retryable.
func mapError(table core.TableID, err error) error {
	switch {
	case isCode(err, "40001", "40P01"):
		return core.Conflict(table, err, true)
	case isCode(err, "23505"):
		return &core.Error{
			Kind:  core.KindConstraintViolation,
			Table: table,
			Err:   fmt.Errorf("%w: %w", core.ErrDuplicateKey, err),
		}
	case isCode(err, "23503", "23502", "23514", "22001", "22003"):
		return core.Conflict(table, err, false)
	}
	return err
}
