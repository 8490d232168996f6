package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eunmann/chunkagg/pkg/membudget"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chunkagg.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Store.ChunkSize != 1000 {
		t.Errorf("ChunkSize = %d, want 1000", cfg.Store.ChunkSize)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
backend: badger
db_path: /var/lib/chunkagg
mem_budget: 256MiB
store:
  chunk_size: 500
  op_timeout: 5s
  cache_ttl: 10m
log:
  debug: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend != BackendBadger || cfg.DBPath != "/var/lib/chunkagg" {
		t.Errorf("backend/db = %q/%q", cfg.Backend, cfg.DBPath)
	}
	if cfg.Store.ChunkSize != 500 || cfg.Store.OpTimeout != 5*time.Second || cfg.Store.CacheTTL != 10*time.Minute {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Store.RowSizeEstimate != 512 {
		t.Errorf("unset fields keep defaults, RowSizeEstimate = %d", cfg.Store.RowSizeEstimate)
	}
	if !cfg.Log.Debug {
		t.Error("log.debug not applied")
	}

	b, err := cfg.Budget()
	if err != nil {
		t.Fatalf("Budget failed: %v", err)
	}
	if b.Total() != 256*1024*1024 || b.Source() != membudget.SourceConfig {
		t.Errorf("budget = %d (%s)", b.Total(), b.Source())
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvDB, "/tmp/override.db")
	t.Setenv(EnvBackend, "SQLITE")
	path := writeConfig(t, "backend: badger\ndb_path: file.db\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DBPath != "/tmp/override.db" {
		t.Errorf("DBPath = %q, want env override", cfg.DBPath)
	}
	if cfg.Backend != BackendSQLite {
		t.Errorf("Backend = %q, want sqlite", cfg.Backend)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, "store: [not, a, map]\n")); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad backend", func(c *Config) { c.Backend = "postgres" }, "backend"},
		{"no db path", func(c *Config) { c.DBPath = "" }, "db_path"},
		{"zero chunk size", func(c *Config) { c.Store.ChunkSize = 0 }, "ChunkSize"},
		{"bad synchronous", func(c *Config) { c.SQLite.Synchronous = "SOMETIMES" }, "sqlite"},
		{"negative batch", func(c *Config) { c.Import.BatchSize = -1 }, "batch_size"},
		{"bad budget", func(c *Config) { c.MemBudget = "lots" }, EnvMemBudget},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestBudgetFromEnv(t *testing.T) {
	t.Setenv(EnvMemBudget, "1GiB")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	b, err := cfg.Budget()
	if err != nil {
		t.Fatalf("Budget failed: %v", err)
	}
	if b.Total() != 1<<30 {
		t.Errorf("Total() = %d, want 1GiB", b.Total())
	}
}
