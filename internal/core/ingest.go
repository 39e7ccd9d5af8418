package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// IngestResult reports a committed batch.
type IngestResult struct {
	BatchID  string         `json:"batch_id"`
	Mode     Mode           `json:"mode"`
	Counts   Counts         `json:"counts"`
	Rows     int            `json:"rows"`
	Skipped  int            `json:"skipped"`
	Sheets   []SheetSummary `json:"sheets"`
	Duration time.Duration  `json:"-"`
}

// Inserted returns the rows inserted across every table.
func (r *IngestResult) Inserted() int {
	n, _ := r.Counts.Total()
	return n
}

// Updated returns the rows updated across every table.
func (r *IngestResult) Updated() int {
	_, n := r.Counts.Total()
	return n
}

// Ingest normalizes, resolves and upserts one batch in a single transaction.
// Any failure rolls back the whole batch. The outcome is recorded in the
// batch history either way.
//
// Returns ErrTooManyIngests if no ingestion slot frees up in time.
func (s *Service) Ingest(ctx context.Context, mode Mode, b Batch) (*IngestResult, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.ingestTimeout)
	defer cancel()

	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if mode == "" {
		mode = ModeUpload
	}

	start := s.now()
	log := slog.With("batch_id", b.ID, "mode", mode, "sheets", len(b.Sheets))

	result, err := s.ingest(ctx, mode, b)
	if err != nil {
		log.Warn("ingest failed", "error", err, "duration", s.now().Sub(start))
		s.recordFailure(ctx, mode, b, err)
		return nil, err
	}
	result.Duration = s.now().Sub(start)

	inserted, updated := result.Counts.Total()
	log.Info("ingest committed",
		"rows", result.Rows,
		"skipped", result.Skipped,
		"inserted", inserted,
		"updated", updated,
		"duration", result.Duration,
	)

	s.publish(ctx, Change{
		Event:   EventIngestCommitted,
		BatchID: b.ID,
		Counts:  result.Counts,
	})
	return result, nil
}

func (s *Service) ingest(ctx context.Context, mode Mode, b Batch) (*IngestResult, error) {
	if len(b.Sheets) == 0 {
		return nil, &Error{Kind: KindSchemaMismatch, Msg: "payload has no sheets"}
	}

	n, err := s.normalizer.Normalize(b)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{
		BatchID: b.ID,
		Mode:    mode,
		Rows:    n.Rows(),
		Skipped: n.Skipped(),
		Sheets:  n.Sheets,
	}

	err = WithTx(ctx, s.store, func(tx Tx) error {
		plan, err := Resolve(ctx, tx, n)
		if err != nil {
			return err
		}
		counts, err := Apply(ctx, tx, plan)
		if err != nil {
			return err
		}
		result.Counts = counts
		return recordBatch(ctx, tx, batchRecord{
			ID:       b.ID,
			Filename: b.Filename,
			Mode:     mode,
			Status:   BatchCommitted,
			Sheets:   len(b.Sheets),
			Rows:     result.Rows,
			Skipped:  result.Skipped,
			Counts:   counts,
			SourceIP: GetIPAddressFromContext(ctx),
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// recordFailure writes the failed batch to history in its own transaction.
// A batch id that already committed is left alone.
func (s *Service) recordFailure(ctx context.Context, mode Mode, b Batch, cause error) {
	if errors.Is(cause, ErrTooManyIngests) {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := WithTx(ctx, s.store, func(tx Tx) error {
		return recordBatch(ctx, tx, batchRecord{
			ID:       b.ID,
			Filename: b.Filename,
			Mode:     mode,
			Status:   BatchFailed,
			Sheets:   len(b.Sheets),
			Error:    cause.Error(),
			SourceIP: GetIPAddressFromContext(ctx),
		})
	})
	if err != nil {
		slog.Error("record failed batch", "batch_id", b.ID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, c Change) {
	if c.At.IsZero() {
		c.At = s.now().UTC()
	}
	if err := s.notifier.Publish(context.WithoutCancel(ctx), c); err != nil {
		slog.Warn("publish change", "event", c.Event, "table", c.Table, "id", c.ID, "error", err)
	}
}

// PreviewTable is the planned effect of a batch on one table.
type PreviewTable struct {
	Table   TableID `json:"table"`
	Inserts int     `json:"inserts"`
	Updates int     `json:"updates"`
	Samples []Row   `json:"samples,omitempty"`
}

// PreviewResult is the dry-run outcome of a batch.
type PreviewResult struct {
	Rows             int            `json:"rows"`
	Skipped          int            `json:"skipped"`
	Sheets           []SheetSummary `json:"sheets"`
	Tables           []PreviewTable `json:"tables"`
	ProcessingTimeMs int64          `json:"processingTimeMs"`
}

const maxPreviewSamples = 5

var errPreviewRollback = errors.New("preview rollback")

// Preview runs a batch through the full ingestion path and rolls it back,
// reporting what a real ingest would insert and update. Failures surface
// exactly as Ingest would report them.
func (s *Service) Preview(ctx context.Context, b Batch) (*PreviewResult, error) {
	start := s.now()

	if len(b.Sheets) == 0 {
		return nil, &Error{Kind: KindSchemaMismatch, Msg: "payload has no sheets"}
	}
	n, err := s.normalizer.Normalize(b)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{
		Rows:    n.Rows(),
		Skipped: n.Skipped(),
		Sheets:  n.Sheets,
	}

	err = WithTx(ctx, s.store, func(tx Tx) error {
		plan, err := Resolve(ctx, tx, n)
		if err != nil {
			return err
		}
		counts, err := Apply(ctx, tx, plan)
		if err != nil {
			return err
		}
		for _, pt := range plan.Tables {
			tc := counts[pt.Table]
			samples := pt.Rows
			if len(samples) > maxPreviewSamples {
				samples = samples[:maxPreviewSamples]
			}
			result.Tables = append(result.Tables, PreviewTable{
				Table:   pt.Table,
				Inserts: tc.Inserted,
				Updates: tc.Updated,
				Samples: samples,
			})
		}
		return errPreviewRollback
	})
	if err != nil && !errors.Is(err, errPreviewRollback) {
		return nil, fmt.Errorf("preview: %w", err)
	}

	result.ProcessingTimeMs = s.now().Sub(start).Milliseconds()
	return result, nil
}
