// Package badgerkv implements substrate.Backend on BadgerDB.
//
// Stores are key prefixes: every entry of store "chunks" lives under
// "s:chunks\x00" followed by the encoded compound key. The store registry
// itself is kept under "r:" keys.
package badgerkv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/eunmann/chunkagg/pkg/logging"
	"github.com/eunmann/chunkagg/pkg/substrate"
	"github.com/rs/zerolog"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool
}

// DefaultConfig returns defaults for persistent use.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Validate checks configuration values.
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return errors.New("path is required for persistent database")
	}
	return nil
}

// Backend is a BadgerDB-backed substrate.Backend.
type Backend struct {
	db *badger.DB

	mu     sync.RWMutex
	stores map[string]bool
	closed bool
}

var _ substrate.Backend = (*Backend)(nil)

// badgerLogger adapts zerolog to BadgerDB's Logger interface.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(format, args...)
}

// Open creates and opens a BadgerDB instance and loads the store registry.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log := logging.WithPhase("badger_open")

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	b := &Backend{db: db, stores: make(map[string]bool)}
	names, err := b.Stores(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, n := range names {
		b.stores[n] = true
	}

	log.Info().
		Str("path", cfg.Path).
		Bool("in_memory", cfg.InMemory).
		Int("stores", len(names)).
		Msg("opened Badger substrate")

	return b, nil
}

const (
	registryPrefix = "r:"
	storePrefix    = "s:"
)

func registryKey(store string) []byte {
	return []byte(registryPrefix + store)
}

func storeKeyPrefix(store string) []byte {
	p := make([]byte, 0, len(storePrefix)+len(store)+1)
	p = append(p, storePrefix...)
	p = append(p, store...)
	return append(p, 0)
}

func fullKey(store string, key substrate.Key) []byte {
	return append(storeKeyPrefix(store), key.Encode()...)
}

func (b *Backend) check(store string) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return substrate.ErrClosed
	}
	if !b.stores[store] {
		return fmt.Errorf("%w: %s", substrate.ErrUnknownStore, store)
	}
	return nil
}

// EnsureStore implements substrate.Backend.
func (b *Backend) EnsureStore(_ context.Context, spec substrate.StoreSpec) (bool, error) {
	if err := spec.Validate(); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false, substrate.ErrClosed
	}
	if b.stores[spec.Name] {
		return false, nil
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(registryKey(spec.Name), []byte(spec.IndexOf))
	})
	if err != nil {
		return false, fmt.Errorf("register store %s: %w", spec.Name, err)
	}
	b.stores[spec.Name] = true
	return true, nil
}

// Stores implements substrate.Backend.
func (b *Backend) Stores(_ context.Context) ([]string, error) {
	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(registryPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(registryPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Get implements substrate.Backend.
func (b *Backend) Get(ctx context.Context, store string, key substrate.Key) ([]byte, error) {
	if err := b.check(store); err != nil {
		return nil, err
	}
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		val, err = get(txn, store, key)
		return err
	})
	return val, err
}

func get(txn *badger.Txn, store string, key substrate.Key) ([]byte, error) {
	item, err := txn.Get(fullKey(store, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, substrate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", store, err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("read %s value: %w", store, err)
	}
	return val, nil
}

// Put implements substrate.Backend.
func (b *Backend) Put(ctx context.Context, store string, key substrate.Key, val []byte) error {
	if err := b.check(store); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(fullKey(store, key), val)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", store, err)
	}
	return nil
}

// Delete implements substrate.Backend.
func (b *Backend) Delete(ctx context.Context, store string, key substrate.Key) error {
	if err := b.check(store); err != nil {
		return err
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(fullKey(store, key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", store, err)
	}
	return nil
}

// Update implements substrate.Backend.
func (b *Backend) Update(ctx context.Context, fn func(substrate.Txn) error) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return substrate.ErrClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return fn(&batch{b: b, txn: txn})
	})
}

type batch struct {
	b   *Backend
	txn *badger.Txn
}

func (t *batch) Get(_ context.Context, store string, key substrate.Key) ([]byte, error) {
	if err := t.b.check(store); err != nil {
		return nil, err
	}
	return get(t.txn, store, key)
}

func (t *batch) Put(_ context.Context, store string, key substrate.Key, val []byte) error {
	if err := t.b.check(store); err != nil {
		return err
	}
	if err := t.txn.Set(fullKey(store, key), val); err != nil {
		return fmt.Errorf("put %s: %w", store, err)
	}
	return nil
}

func (t *batch) Delete(_ context.Context, store string, key substrate.Key) error {
	if err := t.b.check(store); err != nil {
		return err
	}
	if err := t.txn.Delete(fullKey(store, key)); err != nil {
		return fmt.Errorf("delete %s: %w", store, err)
	}
	return nil
}

// Scan implements substrate.Backend. The cursor reads from a snapshot taken
// when Scan is called; deletes made through the cursor do not disturb it.
func (b *Backend) Scan(ctx context.Context, store string, prefix substrate.Key) (substrate.Cursor, error) {
	if err := b.check(store); err != nil {
		return nil, err
	}
	sp := storeKeyPrefix(store)
	txn := b.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = append(sp, prefix.Encode()...)
	return &cursor{
		b:       b,
		ctx:     ctx,
		store:   store,
		storeLn: len(sp),
		txn:     txn,
		it:      txn.NewIterator(opts),
	}, nil
}

type cursor struct {
	b       *Backend
	ctx     context.Context
	store   string
	storeLn int
	txn     *badger.Txn
	it      *badger.Iterator

	started bool
	rawKey  []byte
	key     substrate.Key
	val     []byte
	err     error
	closed  bool
}

func (c *cursor) Next() bool {
	if c.err != nil || c.closed {
		return false
	}
	if err := c.ctx.Err(); err != nil {
		c.err = err
		return false
	}
	if !c.started {
		c.it.Rewind()
		c.started = true
	} else {
		c.it.Next()
	}
	if !c.it.Valid() {
		return false
	}

	item := c.it.Item()
	c.rawKey = item.KeyCopy(nil)
	key, err := substrate.DecodeKey(c.rawKey[c.storeLn:])
	if err != nil {
		c.err = fmt.Errorf("decode %s key: %w", c.store, err)
		return false
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		c.err = fmt.Errorf("read %s value: %w", c.store, err)
		return false
	}
	c.key = key
	c.val = val
	return true
}

func (c *cursor) Key() substrate.Key { return c.key }

func (c *cursor) Value() []byte { return c.val }

func (c *cursor) Delete() error {
	if c.rawKey == nil {
		return fmt.Errorf("delete %s: cursor not positioned", c.store)
	}
	err := c.b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(c.rawKey)
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", c.store, err)
	}
	return nil
}

func (c *cursor) Err() error { return c.err }

func (c *cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.it.Close()
	c.txn.Discard()
	return nil
}

// Close closes the database.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
