package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/helios/internal/core"
	_ "github.com/JonMunkholm/helios/internal/core/tables"
)

func steppingClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func inTx(t *testing.T, m *MemoryStore, fn func(tx core.Tx) error) error {
	t.Helper()
	return core.WithTx(context.Background(), m, fn)
}

func TestMemoryStore_UpsertMergesNulls(t *testing.T) {
	m := NewMemoryStore(WithMemoryClock(steppingClock()))
	ctx := context.Background()

	require.NoError(t, inTx(t, m, func(tx core.Tx) error {
		out, err := tx.Upsert(ctx, core.TableCameras, core.Row{"camera_id": "cam-1", "brand": "Flir", "model": "A50"})
		require.NoError(t, err)
		assert.Equal(t, core.Inserted, out)
		return nil
	}))

	var first core.Row
	require.NoError(t, inTx(t, m, func(tx core.Tx) error {
		out, err := tx.Upsert(ctx, core.TableCameras, core.Row{"camera_id": "cam-1", "brand": nil, "model": "A50"})
		require.NoError(t, err)
		assert.Equal(t, core.Updated, out)
		first, err = tx.Get(ctx, core.TableCameras, core.Key{"cam-1"})
		return err
	}))
	assert.Equal(t, "Flir", first.Text("brand"), "nil keeps the stored value")
	assert.Equal(t, first.Time(core.ColCreatedAt), first.Time(core.ColUpdatedAt), "no change keeps updated_at")

	var second core.Row
	require.NoError(t, inTx(t, m, func(tx core.Tx) error {
		_, err := tx.Upsert(ctx, core.TableCameras, core.Row{"camera_id": "cam-1", "model": "A70"})
		require.NoError(t, err)
		second, err = tx.Get(ctx, core.TableCameras, core.Key{"cam-1"})
		return err
	}))
	assert.Equal(t, "A70", second.Text("model"))
	assert.True(t, second.Time(core.ColUpdatedAt).After(first.Time(core.ColUpdatedAt)))
}

func TestMemoryStore_ForeignKeys(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	err := inTx(t, m, func(tx core.Tx) error {
		_, err := tx.Upsert(ctx, core.TableZones, core.Row{"zone_id": "z1", "customer_id": "missing"})
		return err
	})
	require.ErrorIs(t, err, core.ErrConstraintViolation)
	assert.Contains(t, err.Error(), "violates foreign key")

	require.NoError(t, inTx(t, m, func(tx core.Tx) error {
		if _, err := tx.Upsert(ctx, core.TableCustomers, core.Row{"customer_id": "c1"}); err != nil {
			return err
		}
		_, err := tx.Upsert(ctx, core.TableZones, core.Row{"zone_id": "z1", "customer_id": "c1"})
		return err
	}))

	err = inTx(t, m, func(tx core.Tx) error {
		return tx.Delete(ctx, core.TableCustomers, core.Key{"c1"})
	})
	require.ErrorIs(t, err, core.ErrConstraintViolation)

	require.NoError(t, inTx(t, m, func(tx core.Tx) error {
		refs, err := tx.ListReferencing(ctx, core.TableCustomers, core.Key{"c1"})
		require.NoError(t, err)
		require.Len(t, refs, 1)
		assert.Equal(t, core.Reference{Table: core.TableZones, Column: "customer_id", Key: core.Key{"z1"}}, refs[0])
		return nil
	}))
}

func TestMemoryStore_RollbackRestores(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, inTx(t, m, func(tx core.Tx) error {
		_, err := tx.Upsert(ctx, core.TableCustomers, core.Row{"customer_id": "c1", "customer_name": "Acme"})
		return err
	}))

	boom := errors.New("boom")
	err := inTx(t, m, func(tx core.Tx) error {
		if _, err := tx.Upsert(ctx, core.TableCustomers, core.Row{"customer_id": "c1", "customer_name": "Changed"}); err != nil {
			return err
		}
		if _, err := tx.Upsert(ctx, core.TableCustomers, core.Row{"customer_id": "c2"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, inTx(t, m, func(tx core.Tx) error {
		rows, err := tx.List(ctx, core.TableCustomers, nil)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "Acme", rows[0].Text("customer_name"))
		return nil
	}))
}

func TestMemoryStore_InsertUpdateDelete(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	row := core.Row{"id": "s1", "period": "0:00:15"}
	require.NoError(t, inTx(t, m, func(tx core.Tx) error { return tx.Insert(ctx, core.TableSchedules, row) }))

	err := inTx(t, m, func(tx core.Tx) error { return tx.Insert(ctx, core.TableSchedules, row) })
	require.ErrorIs(t, err, core.ErrDuplicateKey)

	err = inTx(t, m, func(tx core.Tx) error {
		return tx.Update(ctx, core.TableSchedules, core.Key{"s1"}, core.Row{"id": "s2"})
	})
	require.ErrorIs(t, err, core.ErrConstraintViolation, "key columns cannot change")

	err = inTx(t, m, func(tx core.Tx) error {
		return tx.Update(ctx, core.TableSchedules, core.Key{"nope"}, core.Row{"period": "0:00:30"})
	})
	require.ErrorIs(t, err, core.ErrNotFound)

	require.NoError(t, inTx(t, m, func(tx core.Tx) error {
		if err := tx.Update(ctx, core.TableSchedules, core.Key{"s1"}, core.Row{"starttime": nil, "period": "0:00:30"}); err != nil {
			return err
		}
		got, err := tx.Get(ctx, core.TableSchedules, core.Key{"s1"})
		require.NoError(t, err)
		assert.Equal(t, "0:00:30", got.Text("period"))
		return tx.Delete(ctx, core.TableSchedules, core.Key{"s1"})
	}))

	err = inTx(t, m, func(tx core.Tx) error { return tx.Delete(ctx, core.TableSchedules, core.Key{"s1"}) })
	require.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryStore_ListOrderAndFilter(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, inTx(t, m, func(tx core.Tx) error {
		for _, id := range []string{"zeta", "alpha", "mid"} {
			if err := tx.Insert(ctx, core.TableSelectors, core.Row{"id": id, "streamfilter": "f-" + id}); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, inTx(t, m, func(tx core.Tx) error {
		rows, err := tx.List(ctx, core.TableSelectors, nil)
		require.NoError(t, err)
		var ids []string
		for _, r := range rows {
			ids = append(ids, r.Text("id"))
		}
		assert.Equal(t, []string{"zeta", "alpha", "mid"}, ids, "insertion order")

		rows, err = tx.List(ctx, core.TableSelectors, core.Filter{"streamfilter": "f-mid"})
		require.NoError(t, err)
		require.Len(t, rows, 1)

		n, err := tx.DeleteWhere(ctx, core.TableSelectors, core.Filter{"streamfilter": "f-alpha"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		return nil
	}))
}

func TestMemoryStore_Coerce(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	err := inTx(t, m, func(tx core.Tx) error {
		if _, err := tx.Upsert(ctx, core.TableCameras, core.Row{"camera_id": "cam"}); err != nil {
			return err
		}
		if _, err := tx.Upsert(ctx, core.TablePresets, core.Row{"camera_id": "cam", "preset_number": 3}); err != nil {
			return err
		}
		got, err := tx.Get(ctx, core.TablePresets, core.Key{"cam", int64(3)})
		require.NoError(t, err)
		assert.Equal(t, int64(3), got["preset_number"])
		return nil
	})
	require.NoError(t, err)

	err = inTx(t, m, func(tx core.Tx) error {
		_, err := tx.Upsert(ctx, core.TableCameras, core.Row{"camera_id": 12})
		return err
	})
	require.ErrorIs(t, err, core.ErrInvalidValue)

	err = inTx(t, m, func(tx core.Tx) error {
		_, err := tx.Upsert(ctx, core.TableCameras, core.Row{"camera_id": "cam", "nope": "x"})
		return err
	})
	require.Error(t, err)
}

func TestMemoryStore_FinishedTx(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	tx, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, err = tx.Get(ctx, core.TableCustomers, core.Key{"c"})
	assert.ErrorIs(t, err, ErrTxDone)
	assert.ErrorIs(t, tx.Rollback(ctx), ErrTxDone)
}

func TestMemoryStore_BeginHonorsContext(t *testing.T) {
	m := NewMemoryStore()
	tx, err := m.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Begin(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
