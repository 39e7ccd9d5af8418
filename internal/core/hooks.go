package core

import (
	"context"
	"time"
)

// BundleCache stores serialized bundle reads under a generation. Get
// reports the generation it looked in, hit or miss; Set stores data only
// while that generation is still current, so a read that raced a write is
// never cached. Invalidate starts a new generation, dropping every entry.
type BundleCache interface {
	Get(ctx context.Context, key string) (data []byte, gen int64, ok bool, err error)
	Set(ctx context.Context, key string, gen int64, data []byte) error
	Invalidate(ctx context.Context) error
}

// NopCache never hits.
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]byte, int64, bool, error) { return nil, 0, false, nil }
func (NopCache) Set(context.Context, string, int64, []byte) error          { return nil }
func (NopCache) Invalidate(context.Context) error                         { return nil }

// EventIngestCommitted is published after a batch commits. Egress writes
// publish "<entity>.<action>", e.g. "schedule.updated".
const EventIngestCommitted = "ingest.committed"

// Change describes a committed write.
type Change struct {
	Event   string                 `json:"event"`
	Table   TableID                `json:"table,omitempty"`
	ID      string                 `json:"id,omitempty"`
	BatchID string                 `json:"batch_id,omitempty"`
	Counts  map[TableID]TableCount `json:"counts,omitempty"`
	At      time.Time              `json:"at"`
}

// ChangeNotifier publishes committed changes. Publish is called after commit
// and its error never undoes the write.
type ChangeNotifier interface {
	Publish(ctx context.Context, c Change) error
}

// NopNotifier drops every change.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Change) error { return nil }
