package sqlitekv

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/eunmann/chunkagg/pkg/substrate"
	"github.com/eunmann/chunkagg/pkg/substrate/substratetest"
)

func openTemp(t *testing.T) substrate.Backend {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "kv.db"))
	// Small batches so cursor paging is exercised by the suite.
	cfg.ScanBatchSize = 64
	b, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return b
}

func TestConformance(t *testing.T) {
	substratetest.Run(t, openTemp)
}

func TestReopenKeepsStores(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kv.db")

	b, err := Open(ctx, DefaultConfig(path))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	spec := substrate.StoreSpec{Name: "things", KeyPath: []string{"id"}}
	if _, err := b.EnsureStore(ctx, spec); err != nil {
		t.Fatalf("EnsureStore failed: %v", err)
	}
	if err := b.Put(ctx, "things", substrate.K("a"), []byte("1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	b, err = Open(ctx, DefaultConfig(path))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer b.Close()

	created, err := b.EnsureStore(ctx, spec)
	if err != nil {
		t.Fatalf("EnsureStore failed: %v", err)
	}
	if created {
		t.Error("existing store reported as created")
	}
	got, err := b.Get(ctx, "things", substrate.K("a"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "1" {
		t.Errorf("Get = %q, want %q", got, "1")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid default config", DefaultConfig("/tmp/test.db"), false},
		{"empty db path", Config{}, true},
		{"invalid synchronous", Config{DBPath: "/tmp/test.db", Synchronous: "INVALID"}, true},
		{"negative mmap size", Config{DBPath: "/tmp/test.db", MmapSize: -1}, true},
		{"negative cache size", Config{DBPath: "/tmp/test.db", CacheSizeKB: -1}, true},
		{"negative scan batch", Config{DBPath: "/tmp/test.db", ScanBatchSize: -1}, true},
		{"empty synchronous uses default", Config{DBPath: "/tmp/test.db"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
