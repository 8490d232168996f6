// Package aggregate computes grouped statistics over chunked datasets.
//
// The Engine streams a dataset one chunk at a time, so memory stays bounded
// by the chunk size regardless of dataset size. Results are memoized in the
// store's query cache under a canonical key and recomputed after any write
// to the dataset.
package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/eunmann/chunkagg/internal/logctx"
	"github.com/eunmann/chunkagg/pkg/chunkstore"
	"github.com/eunmann/chunkagg/pkg/logging"
	"github.com/eunmann/chunkagg/pkg/value"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultMaxRetries bounds scans repeated after a concurrent write.
	DefaultMaxRetries    = 3
	// DefaultUniqueLimit is the UniqueValues limit when none is given.
	DefaultUniqueLimit   = 100
	// DefaultFilteredLimit is the FilteredData limit when none is given.
	DefaultFilteredLimit = 1000
)

// ErrConcurrentWrite is returned when the dataset kept changing during
// every scan attempt.
var ErrConcurrentWrite = errors.New("dataset modified during scan")

// Engine runs aggregations against a chunkstore.Store. It is safe for
// concurrent use.
type Engine struct {
	store      *chunkstore.Store
	maxRetries int
	group      singleflight.Group

	// afterScan runs between a scan and its generation check.
	afterScan func(ctx context.Context, attempt int)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxRetries sets how many times a scan is repeated when the dataset
// generation changes underneath it.
func WithMaxRetries(n int) EngineOption {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// New returns an Engine reading from store.
func New(store *chunkstore.Store, opts ...EngineOption) *Engine {
	e := &Engine{store: store, maxRetries: DefaultMaxRetries}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// QueryOption adjusts UniqueValues and FilteredData.
type QueryOption func(*queryOptions)

type queryOptions struct {
	sourceID string
}

// InSource scans a named sub-source instead of the primary rows.
func InSource(sourceID string) QueryOption {
	return func(o *queryOptions) { o.sourceID = sourceID }
}

func applyQueryOptions(opts []QueryOption) queryOptions {
	var o queryOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// scanStats describes the successful attempt of a consistent scan.
type scanStats struct {
	chunks   int
	rows     int
	attempts int
	md       *chunkstore.ProjectMetadata
}

// consistentScan runs reset and then fn over every chunk of a scope, and
// repeats the whole pass when the dataset generation moved while it ran.
// reset must discard state from a previous attempt.
func (e *Engine) consistentScan(ctx context.Context, datasetID, sourceID string, reset func(), fn func(rows []value.Row) error) (scanStats, error) {
	var st scanStats
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		md, err := e.store.GetProjectMetadata(ctx, datasetID)
		if err != nil {
			return st, err
		}
		reset()
		st = scanStats{attempts: attempt + 1, md: md}

		err = e.store.ScanChunks(ctx, md, sourceID, func(_ int, rows []value.Row) error {
			st.chunks++
			st.rows += len(rows)
			return fn(rows)
		})
		if err != nil {
			return st, err
		}
		if e.afterScan != nil {
			e.afterScan(ctx, attempt)
		}

		after, err := e.store.GetProjectMetadata(ctx, datasetID)
		if err != nil {
			return st, err
		}
		if after.Generation == md.Generation {
			return st, nil
		}

		log := logctx.FromContext(ctx)
		log.Debug().
			Int("attempt", attempt+1).
			Uint64("generation_before", md.Generation).
			Uint64("generation_after", after.Generation).
			Msg("dataset changed during scan")
		if attempt < e.maxRetries {
			e.store.Metrics().Retry()
		}
	}
	return st, fmt.Errorf("%w: %s after %d attempts", ErrConcurrentWrite, datasetID, e.maxRetries+1)
}

// cacheLookup decodes a cached payload into out. Cache failures degrade to
// a miss.
func (e *Engine) cacheLookup(ctx context.Context, datasetID, key string, out any) bool {
	raw, ok, err := e.store.Cache().Get(ctx, datasetID, key)
	if err != nil {
		log := logctx.FromContext(ctx)
		log.Warn().Err(err).Msg("query cache read failed")
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log := logctx.FromContext(ctx)
		log.Warn().Err(err).Msg("discarding undecodable cache entry")
		return false
	}
	return true
}

// cacheStore saves v computed at generation gen. If a write landed after
// the scan, the entry may describe old data, so the dataset cache is
// cleared again.
func (e *Engine) cacheStore(ctx context.Context, datasetID, key string, gen uint64, v any) {
	log := logctx.FromContext(ctx)
	payload, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("encode cache entry")
		return
	}
	if err := e.store.Cache().Set(ctx, datasetID, key, payload); err != nil {
		log.Warn().Err(err).Msg("query cache write failed")
		return
	}
	md, err := e.store.GetProjectMetadata(ctx, datasetID)
	if err == nil && md.Generation == gen {
		return
	}
	if _, err := e.store.Cache().Clear(ctx, datasetID); err != nil {
		log.Warn().Err(err).Msg("query cache clear failed")
	}
}

func flightKey(datasetID, key string) string {
	return datasetID + "\x00" + key
}

// Aggregate groups a dataset by cfg.Dimension and returns entries sorted by
// value, largest first. The result is cached until the dataset is written.
// The returned Result is owned by the caller.
func (e *Engine) Aggregate(ctx context.Context, datasetID string, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx, cancel := e.store.WithTimeout(ctx)
	defer cancel()
	ctx = logctx.WithOp(logctx.WithDataset(ctx, datasetID), "aggregate")

	key := cfg.CanonicalKey()
	var cached Result
	if e.cacheLookup(ctx, datasetID, key, &cached) {
		return &cached, nil
	}

	v, err, _ := e.group.Do(flightKey(datasetID, key), func() (any, error) {
		return e.aggregate(ctx, datasetID, cfg, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result).clone(), nil
}

func (e *Engine) aggregate(ctx context.Context, datasetID string, cfg Config, key string) (*Result, error) {
	start := e.store.Clock().Now()

	var acc *accumulator
	st, err := e.consistentScan(ctx, datasetID, cfg.SourceID,
		func() { acc = newAccumulator(cfg) },
		func(rows []value.Row) error {
			for _, row := range rows {
				acc.add(row)
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("aggregate %s by %s: %w", datasetID, cfg.Dimension, err)
	}
	res := acc.result()
	e.cacheStore(ctx, datasetID, key, st.md.Generation, res)

	elapsed := e.store.Clock().Now().Sub(start)
	e.store.Metrics().Observe("aggregate", elapsed.Seconds())
	log := logctx.FromContext(ctx)
	logging.ScanComplete(log, "aggregate", elapsed).
		Str("dimension", cfg.Dimension).
		Str("measure", string(cfg.measure())).
		Int("chunks", st.chunks).
		Int("matched", acc.rows).
		Int("groups", len(res.Entries)).
		Int("attempts", st.attempts).
		Rows(int64(st.rows)).
		Log("aggregation complete")
	return res, nil
}

func (r *Result) clone() *Result {
	out := &Result{Stacked: r.Stacked, Entries: make([]Entry, len(r.Entries))}
	for i, e := range r.Entries {
		out.Entries[i] = cloneEntry(e)
	}
	return out
}

// UniqueValues samples distinct non-empty values of column in the order
// they are first encountered. Scanning stops after the chunk in which
// 2*limit distinct values have been seen, so for high-cardinality columns
// the result is the first limit values found, not the most frequent ones.
func (e *Engine) UniqueValues(ctx context.Context, datasetID, column string, limit int, opts ...QueryOption) ([]string, error) {
	if limit <= 0 {
		limit = DefaultUniqueLimit
	}
	o := applyQueryOptions(opts)
	ctx, cancel := e.store.WithTimeout(ctx)
	defer cancel()
	ctx = logctx.WithOp(logctx.WithDataset(ctx, datasetID), "unique_values")

	key := uniqueKey(column, limit, o.sourceID)
	var cached []string
	if e.cacheLookup(ctx, datasetID, key, &cached) {
		return cached, nil
	}

	v, err, _ := e.group.Do(flightKey(datasetID, key), func() (any, error) {
		return e.uniqueValues(ctx, datasetID, column, limit, o, key)
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}

func (e *Engine) uniqueValues(ctx context.Context, datasetID, column string, limit int, o queryOptions, key string) ([]string, error) {
	start := e.store.Clock().Now()
	cutoff := 2 * limit

	var (
		seen map[string]struct{}
		out  []string
	)
	st, err := e.consistentScan(ctx, datasetID, o.sourceID,
		func() {
			seen = make(map[string]struct{})
			out = nil
		},
		func(rows []value.Row) error {
			for _, row := range rows {
				v := row[column]
				if v.IsEmpty() {
					continue
				}
				s := v.String()
				if _, ok := seen[s]; ok {
					continue
				}
				seen[s] = struct{}{}
				out = append(out, s)
			}
			if len(out) >= cutoff {
				return chunkstore.ErrStop
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("unique values of %s.%s: %w", datasetID, column, err)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []string{}
	}
	e.cacheStore(ctx, datasetID, key, st.md.Generation, out)

	elapsed := e.store.Clock().Now().Sub(start)
	e.store.Metrics().Observe("unique_values", elapsed.Seconds())
	log := logctx.FromContext(ctx)
	logging.ScanComplete(log, "unique_values", elapsed).
		Str("column", column).
		Int("chunks", st.chunks).
		Int("values", len(out)).
		Rows(int64(st.rows)).
		LogDebug("unique values sampled")
	return out, nil
}

// FilteredData returns up to limit rows matching every filter, in dataset
// order. Chunks after the one that completes the limit are not read.
// Results are not cached.
func (e *Engine) FilteredData(ctx context.Context, datasetID string, filters []Filter, limit int, opts ...QueryOption) ([]value.Row, error) {
	if limit <= 0 {
		limit = DefaultFilteredLimit
	}
	for i, f := range filters {
		if f.Column == "" {
			return nil, fmt.Errorf("%w: filter %d has no column", ErrInvalidConfig, i)
		}
	}
	o := applyQueryOptions(opts)
	ctx, cancel := e.store.WithTimeout(ctx)
	defer cancel()
	ctx = logctx.WithOp(logctx.WithDataset(ctx, datasetID), "filtered_data")
	start := e.store.Clock().Now()

	var out []value.Row
	st, err := e.consistentScan(ctx, datasetID, o.sourceID,
		func() { out = nil },
		func(rows []value.Row) error {
			for _, row := range rows {
				if Matches(row, filters) {
					out = append(out, row)
				}
			}
			if len(out) >= limit {
				return chunkstore.ErrStop
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("filter %s: %w", datasetID, err)
	}
	if len(out) > limit {
		out = out[:limit]
	}

	elapsed := e.store.Clock().Now().Sub(start)
	e.store.Metrics().Observe("filtered_data", elapsed.Seconds())
	log := logctx.FromContext(ctx)
	logging.ScanComplete(log, "filtered_data", elapsed).
		Int("filters", len(filters)).
		Int("chunks", st.chunks).
		Int("matched", len(out)).
		Rows(int64(st.rows)).
		LogDebug("filtered rows collected")
	return out, nil
}

