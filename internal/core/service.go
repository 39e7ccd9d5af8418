package core

import (
	"context"
	"time"
)

// DefaultIngestTimeout bounds a single ingestion call.
const DefaultIngestTimeout = 10 * time.Minute

// DefaultSkipKeyword drops alarm rows from uploaded sheets.
const DefaultSkipKeyword = "alarm"

// Service is the entry point for ingestion, bundle reads and guarded
// deletes. It holds no per-request state; every call runs in its own
// transaction.
type Service struct {
	store      RowStore
	normalizer *Normalizer
	limiter    *IngestLimiter
	cache      BundleCache
	notifier   ChangeNotifier

	ingestTimeout time.Duration
	skipKeyword   string
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBundleCache sets the read-through bundle cache.
func WithBundleCache(c BundleCache) Option {
	return func(s *Service) {
		if c != nil {
			s.cache = c
		}
	}
}

// WithNotifier sets the change notifier.
func WithNotifier(n ChangeNotifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithIngestLimiter replaces the default ingestion limiter.
func WithIngestLimiter(l *IngestLimiter) Option {
	return func(s *Service) {
		if l != nil {
			s.limiter = l
		}
	}
}

// WithIngestTimeout bounds each ingestion call.
func WithIngestTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ingestTimeout = d
		}
	}
}

// WithSkipKeyword sets the description keyword that drops rows. Empty
// disables skipping.
func WithSkipKeyword(k string) Option {
	return func(s *Service) { s.skipKeyword = k }
}

// WithClock overrides time.Now for history timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates a Service over store. Tables must already be registered
// (import internal/core/tables).
func NewService(store RowStore, opts ...Option) *Service {
	s := &Service{
		store:         store,
		limiter:       NewIngestLimiter(DefaultMaxConcurrentIngests, DefaultMaxWaitTime),
		cache:         NopCache{},
		notifier:      NopNotifier{},
		ingestTimeout: DefaultIngestTimeout,
		skipKeyword:   DefaultSkipKeyword,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.normalizer = NewNormalizer(s.skipKeyword)
	return s
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Normalizer returns the sheet normalizer.
func (s *Service) Normalizer() *Normalizer {
	return s.normalizer
}

// TableCatalog describes a registered table for API listing.
type TableCatalog struct {
	TableInfo
	Columns    []string   `json:"columns"`
	Key        []string   `json:"natural_key"`
	Signatures [][]string `json:"signatures,omitempty"`
}

// ListTables returns every registered table.
func (s *Service) ListTables() []TableCatalog {
	defs := All()
	out := make([]TableCatalog, len(defs))
	for i, def := range defs {
		out[i] = TableCatalog{
			TableInfo:  def.Info,
			Columns:    def.Columns(),
			Key:        def.KeyColumns(),
			Signatures: def.Signatures,
		}
	}
	return out
}

// IngestLimiterStatus reports ingestion slot usage.
func (s *Service) IngestLimiterStatus() IngestLimiterStatus {
	return s.limiter.Status()
}

// WaitForIngests blocks until running ingestions finish or ctx ends.
func (s *Service) WaitForIngests(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
