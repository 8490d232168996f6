package badgerkv

import (
	"context"
	"testing"

	"github.com/eunmann/chunkagg/pkg/substrate"
	"github.com/eunmann/chunkagg/pkg/substrate/substratetest"
	"github.com/stretchr/testify/require"
)

func openInMemory(t *testing.T) substrate.Backend {
	t.Helper()
	b, err := Open(context.Background(), InMemoryConfig())
	require.NoError(t, err)
	return b
}

func TestConformance(t *testing.T) {
	substratetest.Run(t, openInMemory)
}

func TestPersistentReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	spec := substrate.StoreSpec{Name: "things", KeyPath: []string{"id"}}

	b, err := Open(ctx, DefaultConfig(dir))
	require.NoError(t, err)
	_, err = b.EnsureStore(ctx, spec)
	require.NoError(t, err)
	require.NoError(t, b.Put(ctx, "things", substrate.K("a", 1), []byte("x")))
	require.NoError(t, b.Close())

	b, err = Open(ctx, DefaultConfig(dir))
	require.NoError(t, err)
	defer b.Close()

	names, err := b.Stores(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"things"}, names)

	got, err := b.Get(ctx, "things", substrate.K("a", 1))
	require.NoError(t, err)
	require.Equal(t, []byte("x"), got)
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	require.Error(t, cfg.Validate())
	cfg = InMemoryConfig()
	require.NoError(t, cfg.Validate())
}
