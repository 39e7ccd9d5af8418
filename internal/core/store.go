package core

import (
	"context"
	"fmt"
)

// RowStore is the durable relational storage the engine writes through.
// Implementations live in internal/database.
type RowStore interface {
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
}

// Tx is a transaction-scoped handle. Every read and write of one request
// goes through a single Tx so the request commits or rolls back as a unit.
type Tx interface {
	// Get returns the row with the given natural key or a NotFound error.
	Get(ctx context.Context, table TableID, key Key) (Row, error)

	// GetForUpdate is Get plus a row lock held until the transaction ends.
	GetForUpdate(ctx context.Context, table TableID, key Key) (Row, error)

	// List returns rows matching filter in insertion order.
	List(ctx context.Context, table TableID, filter Filter) ([]Row, error)

	// Upsert inserts the row or updates the existing one. Nil columns keep
	// the stored value. updated_at advances only when a value changes.
	Upsert(ctx context.Context, table TableID, row Row) (Outcome, error)

	// Insert creates a row; a duplicate key is a ConstraintViolation.
	Insert(ctx context.Context, table TableID, row Row) error

	// Update writes the given columns (nil writes NULL) or returns NotFound.
	Update(ctx context.Context, table TableID, key Key, row Row) error

	// Delete removes the row or returns NotFound.
	Delete(ctx context.Context, table TableID, key Key) error

	// DeleteWhere removes every row matching filter.
	DeleteWhere(ctx context.Context, table TableID, filter Filter) (int64, error)

	// ListReferencing returns every row whose foreign key points at key.
	ListReferencing(ctx context.Context, target TableID, key Key) ([]Reference, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// WithTx runs fn inside a transaction. The transaction commits only when fn
// returns nil; every other exit path, panics included, rolls back.
func WithTx(ctx context.Context, store RowStore, fn func(tx Tx) error) (err error) {
	tx, err := store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// Rollback on a fresh context so a cancelled request still releases locks.
		_ = tx.Rollback(context.WithoutCancel(ctx))
		if p := recover(); p != nil {
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// ReferencingRows scans every registered foreign key that targets table and
// returns the referencing rows. Stores use it to implement ListReferencing.
func ReferencingRows(ctx context.Context, tx Tx, target TableID, key Key) ([]Reference, error) {
	var refs []Reference
	for _, r := range Referrers(target) {
		filter := make(Filter, len(r.ForeignKey.Columns))
		for i, col := range r.ForeignKey.Columns {
			if i < len(key) {
				filter[col] = key[i]
			}
		}
		rows, err := tx.List(ctx, r.Table, filter)
		if err != nil {
			return nil, fmt.Errorf("list %s referencing %s: %w", r.Table, target, err)
		}
		def := MustGet(r.Table)
		for _, row := range rows {
			k, _ := def.KeyOf(row)
			refs = append(refs, Reference{
				Table:  r.Table,
				Column: r.ForeignKey.Columns[0],
				Key:    k,
			})
		}
	}
	return refs, nil
}
