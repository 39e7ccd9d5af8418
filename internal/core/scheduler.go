package core

// scheduler.go runs background maintenance for the ingest history.
//
// Batch records accumulate with every ingest. The pruner deletes records
// older than the retention window, once on start and then every interval,
// until its context is cancelled. Failures are logged and retried on the
// next tick.

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PruneConfig controls history pruning. A zero Retention disables it.
type PruneConfig struct {
	Retention time.Duration // Keep batch records this long
	Interval  time.Duration // How often to run (default: 24h)
}

// DefaultPruneInterval is used when PruneConfig.Interval is zero.
const DefaultPruneInterval = 24 * time.Hour

// StartHistoryPruner blocks, pruning the batch history until ctx ends.
func (s *Service) StartHistoryPruner(ctx context.Context, cfg PruneConfig) {
	if cfg.Retention <= 0 {
		slog.Info("history pruning disabled")
		return
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPruneInterval
	}
	slog.Info("history pruner started", "retention", cfg.Retention, "interval", cfg.Interval)

	s.runPruneJob(ctx, cfg.Retention)

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("history pruner stopped")
			return
		case <-ticker.C:
			s.runPruneJob(ctx, cfg.Retention)
		}
	}
}

func (s *Service) runPruneJob(ctx context.Context, retention time.Duration) {
	start := time.Now()
	n, err := s.PruneHistory(ctx, retention)
	if err != nil {
		slog.Error("prune history failed", "error", err)
		return
	}
	slog.Info("pruned ingest history",
		"batches_deleted", n,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// PruneHistory deletes batch records created more than retention ago and
// returns how many were removed.
func (s *Service) PruneHistory(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().Add(-retention)

	var deleted int
	err := WithTx(ctx, s.store, func(tx Tx) error {
		rows, err := tx.List(ctx, TableBatches, nil)
		if err != nil {
			return err
		}
		for _, r := range rows {
			if !r.Time(ColCreatedAt).Before(cutoff) {
				continue
			}
			if err := tx.Delete(ctx, TableBatches, Key{r.Text("batch_id")}); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	return deleted, nil
}
