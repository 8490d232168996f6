// Package querycache stores computed query results per dataset with a
// time-to-live.
//
// Entries live in the "cache" store keyed by (dataset id, query key). Each
// entry value is an 8-byte big-endian expiry (unix nanoseconds) followed by
// the snappy-compressed payload. The "cache_expiry" store indexes entries by
// (expiry, dataset id, query key) so PurgeExpired can sweep in expiry order.
// Get treats expired entries as misses without deleting them.
package querycache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eunmann/chunkagg/internal/logctx"
	"github.com/eunmann/chunkagg/pkg/metrics"
	"github.com/eunmann/chunkagg/pkg/substrate"
	"github.com/golang/snappy"
)

const (
	entriesStore = "cache"
	expiryStore  = "cache_expiry"
)

var (
	// EntriesSpec declares the cache entry store.
	EntriesSpec = substrate.StoreSpec{
		Name:    entriesStore,
		KeyPath: []string{"dataset_id", "query_key"},
	}
	// ExpirySpec declares the expiry index over EntriesSpec.
	ExpirySpec = substrate.StoreSpec{
		Name:    expiryStore,
		KeyPath: []string{"expires_at", "dataset_id", "query_key"},
		IndexOf: entriesStore,
	}
)

// Specs returns the stores the cache needs.
func Specs() []substrate.StoreSpec {
	return []substrate.StoreSpec{EntriesSpec, ExpirySpec}
}

// DefaultTTL is the entry lifetime when none is configured.
const DefaultTTL = time.Hour

// BackendSource hands out the substrate the cache reads and writes.
// chunkstore.Store satisfies it, opening the substrate on first use.
type BackendSource interface {
	Backend(ctx context.Context) (substrate.Backend, error)
}

// Cache is safe for concurrent use.
type Cache struct {
	src     BackendSource
	ttl     time.Duration
	clock   clock.Clock
	metrics *metrics.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock. Tests pass clock.NewMock().
func WithClock(c clock.Clock) Option {
	return func(qc *Cache) { qc.clock = c }
}

// WithMetrics records hits, misses and evictions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(qc *Cache) { qc.metrics = m }
}

// New returns a cache over src. A non-positive ttl means DefaultTTL.
func New(src BackendSource, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{src: src, ttl: ttl, clock: clock.New()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

func encodeEntry(expiry time.Time, payload []byte) []byte {
	buf := make([]byte, 8, 8+snappy.MaxEncodedLen(len(payload)))
	binary.BigEndian.PutUint64(buf, uint64(expiry.UnixNano()))
	return append(buf, snappy.Encode(nil, payload)...)
}

func entryExpiry(raw []byte) (uint64, error) {
	if len(raw) < 8 {
		return 0, errors.New("cache entry too short")
	}
	return binary.BigEndian.Uint64(raw[:8]), nil
}

func decodeEntry(raw []byte) (uint64, []byte, error) {
	exp, err := entryExpiry(raw)
	if err != nil {
		return 0, nil, err
	}
	payload, err := snappy.Decode(nil, raw[8:])
	if err != nil {
		return 0, nil, fmt.Errorf("decompress cache entry: %w", err)
	}
	return exp, payload, nil
}

// Get returns the payload cached under (datasetID, key) if it has not
// expired. A miss is (nil, false, nil).
func (c *Cache) Get(ctx context.Context, datasetID, key string) ([]byte, bool, error) {
	b, err := c.src.Backend(ctx)
	if err != nil {
		return nil, false, err
	}
	raw, err := b.Get(ctx, entriesStore, substrate.K(datasetID, key))
	if errors.Is(err, substrate.ErrNotFound) {
		c.metrics.CacheMiss()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache entry: %w", err)
	}

	exp, payload, err := decodeEntry(raw)
	if err != nil {
		return nil, false, err
	}
	if uint64(c.clock.Now().UnixNano()) >= exp {
		c.metrics.CacheMiss()
		return nil, false, nil
	}
	c.metrics.CacheHit()
	return payload, true, nil
}

// Set stores payload under (datasetID, key), expiring after the TTL.
// An existing entry and its expiry index row are replaced.
func (c *Cache) Set(ctx context.Context, datasetID, key string, payload []byte) error {
	b, err := c.src.Backend(ctx)
	if err != nil {
		return err
	}
	expiry := c.clock.Now().Add(c.ttl)
	entryKey := substrate.K(datasetID, key)

	err = b.Update(ctx, func(tx substrate.Txn) error {
		old, err := tx.Get(ctx, entriesStore, entryKey)
		switch {
		case err == nil:
			if oldExp, err := entryExpiry(old); err == nil {
				if err := tx.Delete(ctx, expiryStore, substrate.K(oldExp, datasetID, key)); err != nil {
					return err
				}
			}
		case !errors.Is(err, substrate.ErrNotFound):
			return err
		}
		if err := tx.Put(ctx, entriesStore, entryKey, encodeEntry(expiry, payload)); err != nil {
			return err
		}
		return tx.Put(ctx, expiryStore, substrate.K(uint64(expiry.UnixNano()), datasetID, key), nil)
	})
	if err != nil {
		return fmt.Errorf("write cache entry: %w", err)
	}
	return nil
}

// Clear removes every entry of datasetID with its index rows and returns
// how many entries were removed.
func (c *Cache) Clear(ctx context.Context, datasetID string) (int, error) {
	b, err := c.src.Backend(ctx)
	if err != nil {
		return 0, err
	}
	cur, err := b.Scan(ctx, entriesStore, substrate.K(datasetID))
	if err != nil {
		return 0, fmt.Errorf("scan cache: %w", err)
	}
	defer cur.Close()

	var n int
	for cur.Next() {
		key := cur.Key().String(1)
		if exp, err := entryExpiry(cur.Value()); err == nil {
			if err := b.Delete(ctx, expiryStore, substrate.K(exp, datasetID, key)); err != nil {
				return n, fmt.Errorf("delete cache index row: %w", err)
			}
		}
		if err := cur.Delete(); err != nil {
			return n, fmt.Errorf("delete cache entry: %w", err)
		}
		n++
	}
	if err := cur.Err(); err != nil {
		return n, fmt.Errorf("scan cache: %w", err)
	}

	if n > 0 {
		log := logctx.FromContext(ctx)
		log.Debug().Str("dataset_id", datasetID).Int("entries", n).Msg("cache cleared")
	}
	return n, nil
}

// PurgeExpired removes entries whose expiry has passed, walking the expiry
// index in ascending order and stopping at the first live entry.
func (c *Cache) PurgeExpired(ctx context.Context) (int, error) {
	b, err := c.src.Backend(ctx)
	if err != nil {
		return 0, err
	}
	now := uint64(c.clock.Now().UnixNano())

	cur, err := b.Scan(ctx, expiryStore, substrate.K())
	if err != nil {
		return 0, fmt.Errorf("scan cache expiry: %w", err)
	}
	defer cur.Close()

	var n int
	for cur.Next() {
		k := cur.Key()
		if k.Uint(0) > now {
			break
		}
		if err := b.Delete(ctx, entriesStore, substrate.K(k.String(1), k.String(2))); err != nil {
			return n, fmt.Errorf("delete cache entry: %w", err)
		}
		if err := cur.Delete(); err != nil {
			return n, fmt.Errorf("delete cache index row: %w", err)
		}
		n++
	}
	if err := cur.Err(); err != nil {
		return n, fmt.Errorf("scan cache expiry: %w", err)
	}
	c.metrics.CacheEvict(n)
	return n, nil
}
