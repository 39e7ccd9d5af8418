package core

import (
	"context"
	"errors"
	"fmt"
)

// TableCount is the per-table write tally of one batch.
type TableCount struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
}

// Counts maps each written table to its tally.
type Counts map[TableID]TableCount

// Total sums every table.
func (c Counts) Total() (inserted, updated int) {
	for _, tc := range c {
		inserted += tc.Inserted
		updated += tc.Updated
	}
	return inserted, updated
}

// Apply writes a plan through tx in plan order. The first failing row stops
// the batch; the caller rolls back.
func Apply(ctx context.Context, tx Tx, plan *Plan) (Counts, error) {
	counts := make(Counts, len(plan.Tables))

	for _, pt := range plan.Tables {
		def := MustGet(pt.Table)
		tc := counts[pt.Table]
		for _, row := range pt.Rows {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			outcome, err := tx.Upsert(ctx, pt.Table, row)
			if err != nil {
				key, _ := def.KeyOf(row)
				return nil, upsertError(pt.Table, key, err)
			}
			switch outcome {
			case Inserted:
				tc.Inserted++
			case Updated:
				tc.Updated++
			}
		}
		counts[pt.Table] = tc
	}

	return counts, nil
}

// upsertError classifies a store failure, keeping the store's kind when it
// already set one.
func upsertError(table TableID, key Key, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if e, ok := AsError(err); ok {
		if e.Table == "" {
			e.Table = table
		}
		if e.Ref == "" {
			e.Ref = key.String()
		}
		return e
	}
	return &Error{
		Kind:  KindConstraintViolation,
		Table: table,
		Ref:   key.String(),
		Msg:   fmt.Sprintf("upsert %s %s", table, key),
		Err:   err,
	}
}
