package core_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/helios/internal/core"
)

func TestPruneHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	customers := batch(sheet("customers", []string{"customer_id"}, []any{"c1"}))
	for i := 0; i < 2; i++ {
		_, err := svc.Ingest(ctx, core.ModeUpload, customers)
		require.NoError(t, err)
	}

	n, err := svc.PruneHistory(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "recent batches are kept")

	n, err = svc.PruneHistory(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	history, err := svc.ListBatches(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStartHistoryPruner_StopsWithContext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		svc.StartHistoryPruner(ctx, core.PruneConfig{Retention: time.Hour, Interval: time.Millisecond})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruner did not stop")
	}
}

func TestStartHistoryPruner_Disabled(t *testing.T) {
	svc, _ := newTestService(t)
	// Returns immediately without a retention window.
	svc.StartHistoryPruner(context.Background(), core.PruneConfig{})
}
