package core

// guard.go enforces referential integrity on egress deletes.
//
// A delete locks the target row, asks the guard whether anything still
// references it, and either removes it (with a configuration's owned
// selector mapping) or rejects with ReferentialConflict. Nothing retries.

import (
	"context"
	"fmt"
	"log/slog"
)

// Verdict is the guard's answer for one delete request.
type Verdict struct {
	Allowed    bool        `json:"allowed"`
	Reason     string      `json:"reason,omitempty"`
	References []Reference `json:"references,omitempty"`
}

// CanDelete reports whether entity id may be deleted inside tx. The reason
// names the first referencing configuration and the column that holds the
// reference.
func CanDelete(ctx context.Context, tx Tx, e Entity, id string) (Verdict, error) {
	refs, err := tx.ListReferencing(ctx, e.Table(), Key{id})
	if err != nil {
		return Verdict{}, fmt.Errorf("check references to %s %s: %w", e.Label(), id, err)
	}

	var blocking []Reference
	for _, ref := range refs {
		// A configuration owns its selector mapping rows.
		if e == EntityConfiguration && ref.Table == TableConfigSelects {
			continue
		}
		blocking = append(blocking, ref)
	}
	if len(blocking) == 0 {
		return Verdict{Allowed: true}, nil
	}

	first := blocking[0]
	column := first.Column
	if first.Table == TableConfigSelects {
		column = "dataSelectorIds"
	}
	return Verdict{
		Allowed:    false,
		Reason:     fmt.Sprintf("%s %q is referenced by configuration %q (%s)", e.Label(), id, configOf(first), column),
		References: blocking,
	}, nil
}

// configOf returns the configuration id behind a reference.
func configOf(ref Reference) string {
	if len(ref.Key) == 0 {
		return ""
	}
	return fmt.Sprint(ref.Key[0])
}

// Delete removes an egress entity in one transaction if nothing references
// it. A configuration's selector mapping is removed with it.
func (s *Service) Delete(ctx context.Context, e Entity, id string) error {
	table := e.Table()
	if table == "" {
		return fmt.Errorf("unknown entity %q", e)
	}

	var verdict Verdict
	err := WithTx(ctx, s.store, func(tx Tx) error {
		if _, err := tx.GetForUpdate(ctx, table, Key{id}); err != nil {
			return err
		}

		var err error
		verdict, err = CanDelete(ctx, tx, e, id)
		if err != nil {
			return err
		}
		if !verdict.Allowed {
			first := verdict.References[0]
			return &Error{
				Kind:  KindReferentialConflict,
				Table: table,
				Field: first.Column,
				Ref:   configOf(first),
				Msg:   verdict.Reason,
			}
		}

		if e == EntityConfiguration {
			if _, err := tx.DeleteWhere(ctx, TableConfigSelects, Filter{"ec_id": id}); err != nil {
				return fmt.Errorf("delete selector mapping: %w", err)
			}
		}
		return tx.Delete(ctx, table, Key{id})
	})
	if err != nil {
		if KindOf(err) == KindReferentialConflict {
			slog.Info("delete rejected", "entity", e, "id", id, "reason", verdict.Reason)
		}
		return err
	}

	s.entityChanged(ctx, e, id, "deleted")
	return nil
}
