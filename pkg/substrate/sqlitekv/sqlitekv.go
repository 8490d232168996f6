// Package sqlitekv implements substrate.Backend on SQLite.
//
// Each logical store is a WITHOUT ROWID table keyed by the encoded compound
// key, so range scans are clustered B-tree walks.
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/eunmann/chunkagg/pkg/logging"
	"github.com/eunmann/chunkagg/pkg/substrate"
	_ "github.com/mattn/go-sqlite3"
)

// Config holds configuration for the SQLite backend.
type Config struct {
	// DBPath is the path to the SQLite database file.
	DBPath string
	// Synchronous sets the SQLite synchronous pragma.
	// "NORMAL" is the default (good balance of safety and speed).
	// "OFF" for maximum speed (unsafe on crash).
	// "FULL" for maximum safety.
	Synchronous string
	// MmapSize is the mmap size in bytes (default 256MB).
	MmapSize int64
	// CacheSizeKB is the page cache size in KB (default 64MB).
	CacheSizeKB int
	// ScanBatchSize is the number of rows a cursor fetches per query.
	ScanBatchSize int
}

// DefaultConfig returns a default configuration.
func DefaultConfig(dbPath string) Config {
	return Config{
		DBPath:        dbPath,
		Synchronous:   "NORMAL",
		MmapSize:      268435456, // 256MB
		CacheSizeKB:   65536,     // 64MB
		ScanBatchSize: 256,
	}
}

// Validate checks configuration values and returns an error for invalid settings.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("DBPath is required")
	}
	switch c.Synchronous {
	case "", "OFF", "NORMAL", "FULL":
	default:
		return fmt.Errorf("invalid Synchronous value %q: must be OFF, NORMAL, or FULL", c.Synchronous)
	}
	if c.MmapSize < 0 {
		return fmt.Errorf("MmapSize must be non-negative, got %d", c.MmapSize)
	}
	if c.CacheSizeKB < 0 {
		return fmt.Errorf("CacheSizeKB must be non-negative, got %d", c.CacheSizeKB)
	}
	if c.ScanBatchSize < 0 {
		return fmt.Errorf("ScanBatchSize must be non-negative, got %d", c.ScanBatchSize)
	}
	return nil
}

// Backend is a SQLite-backed substrate.Backend.
type Backend struct {
	db  *sql.DB
	cfg Config

	mu     sync.RWMutex
	stores map[string]bool
	closed bool
}

var _ substrate.Backend = (*Backend)(nil)

// Open opens or creates the database and loads the existing store list.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Synchronous == "" {
		cfg.Synchronous = "NORMAL"
	}
	if cfg.ScanBatchSize == 0 {
		cfg.ScanBatchSize = 256
	}

	log := logging.WithPhase("sqlite_open")

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection serializes every operation, which is the contract the
	// dataset layer expects from the substrate.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA synchronous=%s", cfg.Synchronous),
		"PRAGMA temp_store=MEMORY",
		fmt.Sprintf("PRAGMA mmap_size=%d", cfg.MmapSize),
		fmt.Sprintf("PRAGMA cache_size=-%d", cfg.CacheSizeKB),
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute pragma %q: %w", pragma, err)
		}
	}

	b := &Backend{db: db, cfg: cfg, stores: make(map[string]bool)}
	names, err := b.listTables(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	for _, n := range names {
		b.stores[n] = true
	}

	log.Info().
		Str("db_path", cfg.DBPath).
		Str("synchronous", cfg.Synchronous).
		Int("stores", len(names)).
		Msg("opened SQLite substrate")

	return b, nil
}

func tableName(store string) string {
	return "kv_" + store
}

func (b *Backend) listTables(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'kv\_%' ESCAPE '\' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, strings.TrimPrefix(name, "kv_"))
	}
	return names, rows.Err()
}

// check verifies the backend is open and the store exists.
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
func (b *Backend) EnsureStore(ctx context.Context, spec substrate.StoreSpec) (bool, error) {
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

	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			k BLOB NOT NULL PRIMARY KEY,
			v BLOB
		) WITHOUT ROWID
	`, tableName(spec.Name))
	if _, err := b.db.ExecContext(ctx, createSQL); err != nil {
		return false, fmt.Errorf("create store %s: %w", spec.Name, err)
	}
	b.stores[spec.Name] = true
	return true, nil
}

// Stores implements substrate.Backend.
func (b *Backend) Stores(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, substrate.ErrClosed
	}
	return b.listTables(ctx)
}

// Get implements substrate.Backend.
func (b *Backend) Get(ctx context.Context, store string, key substrate.Key) ([]byte, error) {
	if err := b.check(store); err != nil {
		return nil, err
	}
	return get(ctx, b.db, store, key)
}

// Put implements substrate.Backend.
func (b *Backend) Put(ctx context.Context, store string, key substrate.Key, val []byte) error {
	if err := b.check(store); err != nil {
		return err
	}
	return put(ctx, b.db, store, key, val)
}

// Delete implements substrate.Backend.
func (b *Backend) Delete(ctx context.Context, store string, key substrate.Key) error {
	if err := b.check(store); err != nil {
		return err
	}
	return del(ctx, b.db, store, key)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func get(ctx context.Context, q execer, store string, key substrate.Key) ([]byte, error) {
	var v []byte
	err := q.QueryRowContext(ctx, "SELECT v FROM "+tableName(store)+" WHERE k = ?", key.Encode()).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, substrate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", store, err)
	}
	return v, nil
}

func put(ctx context.Context, q execer, store string, key substrate.Key, val []byte) error {
	if val == nil {
		val = []byte{}
	}
	_, err := q.ExecContext(ctx,
		"INSERT INTO "+tableName(store)+" (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v",
		key.Encode(), val)
	if err != nil {
		return fmt.Errorf("put %s: %w", store, err)
	}
	return nil
}

func del(ctx context.Context, q execer, store string, key substrate.Key) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM "+tableName(store)+" WHERE k = ?", key.Encode()); err != nil {
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

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&txn{b: b, tx: tx}); err != nil {
		// Rollback error is secondary to the error that aborted the batch.
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type txn struct {
	b  *Backend
	tx *sql.Tx
}

func (t *txn) Get(ctx context.Context, store string, key substrate.Key) ([]byte, error) {
	if err := t.b.check(store); err != nil {
		return nil, err
	}
	return get(ctx, t.tx, store, key)
}

func (t *txn) Put(ctx context.Context, store string, key substrate.Key, val []byte) error {
	if err := t.b.check(store); err != nil {
		return err
	}
	return put(ctx, t.tx, store, key, val)
}

func (t *txn) Delete(ctx context.Context, store string, key substrate.Key) error {
	if err := t.b.check(store); err != nil {
		return err
	}
	return del(ctx, t.tx, store, key)
}

// Close closes the database connection.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
