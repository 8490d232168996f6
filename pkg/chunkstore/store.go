// Package chunkstore persists datasets as fixed-size row chunks on a
// substrate.Backend.
//
// A dataset has primary rows and any number of named sub-sources; each of
// these scopes is chunked independently. ProjectMetadata records the
// committed extent of every scope. Readers only see rows inside that
// extent, and metadata is written after every chunk of an operation has
// been stored, so a failed write leaves the previous committed view intact.
package chunkstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eunmann/chunkagg/pkg/logging"
	"github.com/eunmann/chunkagg/pkg/membudget"
	"github.com/eunmann/chunkagg/pkg/metrics"
	"github.com/eunmann/chunkagg/pkg/querycache"
	"github.com/eunmann/chunkagg/pkg/substrate"
)

// Opener opens the substrate. It is called at most once per Store.
type Opener func(ctx context.Context) (substrate.Backend, error)

// Store is the dataset store. It is safe for concurrent use; see the
// package documentation for the consistency guarantees.
type Store struct {
	cfg     Config
	open    Opener
	cache   *querycache.Cache
	budget  *membudget.Budget
	metrics *metrics.Metrics
	clock   clock.Clock

	once    sync.Once
	backend substrate.Backend
	openErr error

	mu     sync.Mutex
	closed bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithBudget bounds decoded chunks in flight. Without it reads are not
// throttled.
func WithBudget(b *membudget.Budget) StoreOption {
	return func(s *Store) { s.budget = b }
}

// WithMetrics records chunk and cache activity on m.
func WithMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

// WithClock replaces the wall clock for timestamps and cache expiry.
func WithClock(c clock.Clock) StoreOption {
	return func(s *Store) { s.clock = c }
}

// New returns a Store that opens its substrate with open on first use.
func New(cfg Config, open Opener, opts ...StoreOption) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if open == nil {
		return nil, fmt.Errorf("opener is required")
	}
	s := &Store{cfg: cfg, open: open, clock: clock.New()}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = querycache.New(s, cfg.CacheTTL,
		querycache.WithClock(s.clock),
		querycache.WithMetrics(s.metrics))
	return s, nil
}

// Backend opens and migrates the substrate on first call. An open failure
// is returned on every later call; the Store never retries it.
func (s *Store) Backend(ctx context.Context) (substrate.Backend, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, substrate.ErrClosed)
	}

	s.once.Do(func() {
		log := logging.WithPhase("store_open")
		start := time.Now()

		b, err := s.open(ctx)
		if err != nil {
			s.openErr = fmt.Errorf("%w: open substrate: %w", ErrStoreUnavailable, err)
			log.Error().Err(err).Msg("failed to open substrate")
			return
		}
		if err := migrate(ctx, b); err != nil {
			_ = b.Close()
			s.openErr = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
			log.Error().Err(err).Msg("failed to migrate substrate")
			return
		}
		s.backend = b
		log.Debug().Dur("elapsed", time.Since(start)).Uint64("schema_version", SchemaVersion).Msg("store ready")
	})
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.backend, nil
}

// Cache returns the query cache bound to this store.
func (s *Store) Cache() *querycache.Cache { return s.cache }

// Metrics returns the metrics passed to New, possibly nil.
func (s *Store) Metrics() *metrics.Metrics { return s.metrics }

// Config returns the store configuration.
func (s *Store) Config() Config { return s.cfg }

// Clock returns the store clock.
func (s *Store) Clock() clock.Clock { return s.clock }

// WithTimeout derives the per-operation deadline from OpTimeout.
func (s *Store) WithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OpTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

// Close releases the substrate if it was opened.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.backend != nil {
		return s.backend.Close()
	}
	return nil
}

// reserve takes budget for rows decoded rows and returns the release func.
func (s *Store) reserve(ctx context.Context, rows int) (func(), error) {
	if s.budget == nil || rows <= 0 {
		return func() {}, nil
	}
	n := uint64(rows) * s.cfg.RowSizeEstimate
	if n > s.budget.Total() {
		n = s.budget.Total()
	}
	if err := s.budget.Reserve(ctx, n); err != nil {
		return nil, fmt.Errorf("reserve memory for %d rows: %w", rows, err)
	}
	return func() { s.budget.Release(n) }, nil
}

func (s *Store) observe(op string, start time.Time) {
	s.metrics.Observe(op, s.clock.Now().Sub(start).Seconds())
}
