package core

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// Batch statuses recorded in history.
const (
	BatchCommitted = "committed"
	BatchFailed    = "failed"
)

// DefaultHistoryLimit caps ListBatches when no limit is given.
const DefaultHistoryLimit = 50

// BatchRecord is one ingest_batches row.
type BatchRecord struct {
	ID        string    `json:"batch_id"`
	Filename  string    `json:"filename,omitempty"`
	Mode      Mode      `json:"mode"`
	Status    string    `json:"status"`
	Sheets    int64     `json:"sheets"`
	Rows      int64     `json:"rows"`
	Skipped   int64     `json:"skipped"`
	Inserted  int64     `json:"inserted"`
	Updated   int64     `json:"updated"`
	Error     string    `json:"error,omitempty"`
	SourceIP  string    `json:"source_ip,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type batchRecord struct {
	ID       string
	Filename string
	Mode     Mode
	Status   string
	Sheets   int
	Rows     int
	Skipped  int
	Counts   Counts
	Error    string
	SourceIP string
}

func recordBatch(ctx context.Context, tx Tx, rec batchRecord) error {
	inserted, updated := rec.Counts.Total()
	row := Row{
		"batch_id":  rec.ID,
		"filename":  nullIfEmpty(rec.Filename),
		"mode":      string(rec.Mode),
		"status":    rec.Status,
		"sheets":    int64(rec.Sheets),
		"rows":      int64(rec.Rows),
		"skipped":   int64(rec.Skipped),
		"inserted":  int64(inserted),
		"updated":   int64(updated),
		"error":     nullIfEmpty(truncate(rec.Error, 1024)),
		"source_ip": nullIfEmpty(rec.SourceIP),
	}

	if rec.Status == BatchFailed {
		// A failed retry must not overwrite the record of a committed batch.
		existing, err := tx.Get(ctx, TableBatches, Key{rec.ID})
		if err == nil && existing.Text("status") == BatchCommitted {
			return nil
		}
	}

	if _, err := tx.Upsert(ctx, TableBatches, row); err != nil {
		return fmt.Errorf("record batch %s: %w", rec.ID, err)
	}
	return nil
}

// ListBatches returns recent batches, newest first.
func (s *Service) ListBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var rows []Row
	err := WithTx(ctx, s.store, func(tx Tx) error {
		var err error
		rows, err = tx.List(ctx, TableBatches, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}

	out := make([]BatchRecord, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, batchFromRow(rows[i]))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetBatch returns one batch record.
func (s *Service) GetBatch(ctx context.Context, id string) (*BatchRecord, error) {
	var row Row
	err := WithTx(ctx, s.store, func(tx Tx) error {
		var err error
		row, err = tx.Get(ctx, TableBatches, Key{id})
		return err
	})
	if err != nil {
		return nil, err
	}
	rec := batchFromRow(row)
	return &rec, nil
}

func batchFromRow(r Row) BatchRecord {
	return BatchRecord{
		ID:        r.Text("batch_id"),
		Filename:  r.Text("filename"),
		Mode:      Mode(r.Text("mode")),
		Status:    r.Text("status"),
		Sheets:    r.Int("sheets"),
		Rows:      r.Int("rows"),
		Skipped:   r.Int("skipped"),
		Inserted:  r.Int("inserted"),
		Updated:   r.Int("updated"),
		Error:     r.Text("error"),
		SourceIP:  r.Text("source_ip"),
		CreatedAt: r.Time(ColCreatedAt),
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
