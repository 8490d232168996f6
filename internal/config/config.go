// Package config loads chunkagg settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eunmann/chunkagg/pkg/chunkstore"
	"github.com/eunmann/chunkagg/pkg/ingest"
	"github.com/eunmann/chunkagg/pkg/membudget"
	"github.com/eunmann/chunkagg/pkg/substrate/badgerkv"
	"github.com/eunmann/chunkagg/pkg/substrate/sqlitekv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvDB        = "CHUNKAGG_DB"
	EnvBackend   = "CHUNKAGG_BACKEND"
	EnvMemBudget = "CHUNKAGG_MEM_BUDGET"
)

// Backend names.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Config is the top-level configuration.
type Config struct {
	// Backend selects the substrate: "sqlite" or "badger".
	Backend string `yaml:"backend"`
	// DBPath is the SQLite file or the Badger directory.
	DBPath string `yaml:"db_path"`
	// MemBudget bounds decoded chunks in flight, e.g. "512MiB". "auto"
	// uses a fraction of system RAM.
	MemBudget string `yaml:"mem_budget"`

	Store  StoreConfig  `yaml:"store"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Badger BadgerConfig `yaml:"badger"`
	Import ImportConfig `yaml:"import"`
	Log    LogConfig    `yaml:"log"`

	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr"`
}

// StoreConfig mirrors chunkstore.Config.
type StoreConfig struct {
	ChunkSize       int           `yaml:"chunk_size"`
	OpTimeout       time.Duration `yaml:"op_timeout"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	RowSizeEstimate uint64        `yaml:"row_size_estimate"`
}

// SQLiteConfig holds SQLite tuning.
type SQLiteConfig struct {
	Synchronous string `yaml:"synchronous"`
	MmapSize    int64  `yaml:"mmap_size"`
	CacheSizeKB int    `yaml:"cache_size_kb"`
}

// BadgerConfig holds Badger tuning.
type BadgerConfig struct {
	SyncWrites bool `yaml:"sync_writes"`
}

// ImportConfig holds import and S3 download settings.
type ImportConfig struct {
	BatchSize     int   `yaml:"batch_size"`
	S3Concurrency int   `yaml:"s3_concurrency"`
	S3PartSize    int64 `yaml:"s3_part_size"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Debug bool `yaml:"debug"`
	Human bool `yaml:"human"`
}

// Default returns the built-in configuration.
func Default() Config {
	sc := chunkstore.DefaultConfig()
	sq := sqlitekv.DefaultConfig("")
	s3 := ingest.DefaultS3Config()
	return Config{
		Backend:   BackendSQLite,
		DBPath:    "chunkagg.db",
		MemBudget: "auto",
		Store: StoreConfig{
			ChunkSize:       sc.ChunkSize,
			OpTimeout:       sc.OpTimeout,
			CacheTTL:        sc.CacheTTL,
			RowSizeEstimate: sc.RowSizeEstimate,
		},
		SQLite: SQLiteConfig{
			Synchronous: sq.Synchronous,
			MmapSize:    sq.MmapSize,
			CacheSizeKB: sq.CacheSizeKB,
		},
		Badger: BadgerConfig{SyncWrites: true},
		Import: ImportConfig{
			S3Concurrency: s3.Concurrency,
			S3PartSize:    s3.PartSize,
		},
	}
}

// Load reads path over the defaults and then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDB); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvBackend); v != "" {
		cfg.Backend = strings.ToLower(v)
	}
	if v := os.Getenv(EnvMemBudget); v != "" {
		cfg.MemBudget = v
	}
}

// Validate checks configuration values.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendSQLite, BackendBadger:
	default:
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendSQLite, BackendBadger, c.Backend))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	sc := c.ChunkStore()
	if err := sc.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	sq := c.sqlite()
	if err := sq.Validate(); err != nil && c.Backend == BackendSQLite {
		errs = append(errs, fmt.Errorf("sqlite: %w", err))
	}
	if c.Import.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("import.batch_size must be non-negative, got %d", c.Import.BatchSize))
	}
	if _, err := c.Budget(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ChunkStore returns the chunk store settings.
func (c *Config) ChunkStore() chunkstore.Config {
	return chunkstore.Config{
		ChunkSize:       c.Store.ChunkSize,
		OpTimeout:       c.Store.OpTimeout,
		CacheTTL:        c.Store.CacheTTL,
		RowSizeEstimate: c.Store.RowSizeEstimate,
	}
}

func (c *Config) sqlite() sqlitekv.Config {
	cfg := sqlitekv.DefaultConfig(c.DBPath)
	cfg.Synchronous = c.SQLite.Synchronous
	cfg.MmapSize = c.SQLite.MmapSize
	cfg.CacheSizeKB = c.SQLite.CacheSizeKB
	return cfg
}

// Opener returns the substrate opener for the configured backend.
func (c *Config) Opener() chunkstore.Opener {
	if c.Backend == BackendBadger {
		cfg := badgerkv.DefaultConfig(c.DBPath)
		cfg.SyncWrites = c.Badger.SyncWrites
		return chunkstore.Badger(cfg)
	}
	return chunkstore.SQLite(c.sqlite())
}

// Budget builds the memory budget from MemBudget.
func (c *Config) Budget() (*membudget.Budget, error) {
	b, err := membudget.FromSize(c.MemBudget)
	if err != nil {
		return nil, fmt.Errorf("mem_budget %q (or %s): %w", c.MemBudget, EnvMemBudget, err)
	}
	return b, nil
}

// S3 returns the S3 download settings.
func (c *Config) S3() ingest.S3Config {
	return ingest.S3Config{
		Concurrency: c.Import.S3Concurrency,
		PartSize:    c.Import.S3PartSize,
	}
}
