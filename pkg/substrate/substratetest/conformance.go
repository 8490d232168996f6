// Package substratetest holds the behavioural tests every substrate.Backend
// implementation must pass.
package substratetest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/eunmann/chunkagg/pkg/substrate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opener returns a fresh, empty backend. The test closes it.
type Opener func(t *testing.T) substrate.Backend

var (
	itemsSpec = substrate.StoreSpec{Name: "items", KeyPath: []string{"group", "seq"}}
	indexSpec = substrate.StoreSpec{Name: "items_by_tag", KeyPath: []string{"tag", "group", "seq"}, IndexOf: "items"}
)

// Run executes the conformance suite against backends produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("EnsureStoreIsIdempotent", func(t *testing.T) { testEnsureStore(t, open) })
	t.Run("GetPutDelete", func(t *testing.T) { testGetPutDelete(t, open) })
	t.Run("UnknownStore", func(t *testing.T) { testUnknownStore(t, open) })
	t.Run("ScanPrefixOrder", func(t *testing.T) { testScanPrefixOrder(t, open) })
	t.Run("ScanDeleteWhileIterating", func(t *testing.T) { testScanDelete(t, open) })
	t.Run("ScanEmptyRange", func(t *testing.T) { testScanEmpty(t, open) })
	t.Run("UpdateAtomic", func(t *testing.T) { testUpdate(t, open) })
	t.Run("ClosedBackend", func(t *testing.T) { testClosed(t, open) })
}

func setup(t *testing.T, open Opener) substrate.Backend {
	t.Helper()
	b := open(t)
	t.Cleanup(func() { _ = b.Close() })
	ctx := context.Background()
	_, err := b.EnsureStore(ctx, itemsSpec)
	require.NoError(t, err)
	_, err = b.EnsureStore(ctx, indexSpec)
	require.NoError(t, err)
	return b
}

func testEnsureStore(t *testing.T, open Opener) {
	b := open(t)
	defer b.Close()
	ctx := context.Background()

	created, err := b.EnsureStore(ctx, itemsSpec)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = b.EnsureStore(ctx, itemsSpec)
	require.NoError(t, err)
	assert.False(t, created, "second EnsureStore must not recreate")

	_, err = b.EnsureStore(ctx, substrate.StoreSpec{Name: "Bad-Name", KeyPath: []string{"k"}})
	assert.Error(t, err)

	names, err := b.Stores(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "items")
}

func testGetPutDelete(t *testing.T, open Opener) {
	b := setup(t, open)
	ctx := context.Background()
	key := substrate.K("g1", 7)

	_, err := b.Get(ctx, "items", key)
	assert.True(t, errors.Is(err, substrate.ErrNotFound))

	require.NoError(t, b.Put(ctx, "items", key, []byte("one")))
	got, err := b.Get(ctx, "items", key)
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	require.NoError(t, b.Put(ctx, "items", key, []byte("two")))
	got, err = b.Get(ctx, "items", key)
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)

	require.NoError(t, b.Delete(ctx, "items", key))
	_, err = b.Get(ctx, "items", key)
	assert.True(t, errors.Is(err, substrate.ErrNotFound))

	// Deleting a missing key is not an error.
	require.NoError(t, b.Delete(ctx, "items", key))
}

func testUnknownStore(t *testing.T, open Opener) {
	b := setup(t, open)
	ctx := context.Background()

	_, err := b.Get(ctx, "nope", substrate.K("x"))
	assert.True(t, errors.Is(err, substrate.ErrUnknownStore))
	err = b.Put(ctx, "nope", substrate.K("x"), []byte("v"))
	assert.True(t, errors.Is(err, substrate.ErrUnknownStore))
	_, err = b.Scan(ctx, "nope", substrate.K())
	assert.True(t, errors.Is(err, substrate.ErrUnknownStore))
}

func testScanPrefixOrder(t *testing.T, open Opener) {
	b := setup(t, open)
	ctx := context.Background()

	// Insert out of order, across neighbouring prefixes.
	for _, seq := range []int{10, 2, 300, 1} {
		require.NoError(t, b.Put(ctx, "items", substrate.K("a", seq), []byte(fmt.Sprint(seq))))
	}
	require.NoError(t, b.Put(ctx, "items", substrate.K("ab", 0), []byte("other")))
	require.NoError(t, b.Put(ctx, "items", substrate.K("", 5), []byte("empty")))

	cur, err := b.Scan(ctx, "items", substrate.K("a"))
	require.NoError(t, err)
	defer cur.Close()

	var seqs []uint64
	for cur.Next() {
		assert.Equal(t, "a", cur.Key().String(0))
		seqs = append(seqs, cur.Key().Uint(1))
	}
	require.NoError(t, cur.Err())
	assert.Equal(t, []uint64{1, 2, 10, 300}, seqs)

	all, err := b.Scan(ctx, "items", substrate.K())
	require.NoError(t, err)
	defer all.Close()
	var n int
	for all.Next() {
		n++
	}
	require.NoError(t, all.Err())
	assert.Equal(t, 6, n)
}

func testScanDelete(t *testing.T, open Opener) {
	b := setup(t, open)
	ctx := context.Background()

	// More entries than a typical scan batch to cross page boundaries.
	for i := 0; i < 600; i++ {
		require.NoError(t, b.Put(ctx, "items", substrate.K("del", i), []byte{byte(i)}))
	}
	require.NoError(t, b.Put(ctx, "items", substrate.K("keep", 1), []byte("k")))

	n, err := substrate.DeletePrefix(ctx, b, "items", substrate.K("del"))
	require.NoError(t, err)
	assert.Equal(t, 600, n)

	cur, err := b.Scan(ctx, "items", substrate.K("del"))
	require.NoError(t, err)
	assert.False(t, cur.Next())
	require.NoError(t, cur.Err())
	require.NoError(t, cur.Close())

	_, err = b.Get(ctx, "items", substrate.K("keep", 1))
	require.NoError(t, err)
}

func testScanEmpty(t *testing.T, open Opener) {
	b := setup(t, open)
	ctx := context.Background()

	n, err := substrate.DeletePrefix(ctx, b, "items", substrate.K("missing"))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func testUpdate(t *testing.T, open Opener) {
	b := setup(t, open)
	ctx := context.Background()

	err := b.Update(ctx, func(tx substrate.Txn) error {
		if err := tx.Put(ctx, "items", substrate.K("t", 1), []byte("a")); err != nil {
			return err
		}
		return tx.Put(ctx, "items_by_tag", substrate.K("red", "t", 1), nil)
	})
	require.NoError(t, err)

	_, err = b.Get(ctx, "items_by_tag", substrate.K("red", "t", 1))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = b.Update(ctx, func(tx substrate.Txn) error {
		if err := tx.Put(ctx, "items", substrate.K("t", 2), []byte("b")); err != nil {
			return err
		}
		got, err := tx.Get(ctx, "items", substrate.K("t", 1))
		if err != nil {
			return err
		}
		if string(got) != "a" {
			return fmt.Errorf("unexpected value %q", got)
		}
		return boom
	})
	assert.True(t, errors.Is(err, boom))

	_, err = b.Get(ctx, "items", substrate.K("t", 2))
	assert.True(t, errors.Is(err, substrate.ErrNotFound), "aborted batch must not be applied")
}

func testClosed(t *testing.T, open Opener) {
	b := open(t)
	ctx := context.Background()
	_, err := b.EnsureStore(ctx, itemsSpec)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = b.Get(ctx, "items", substrate.K("x"))
	assert.True(t, errors.Is(err, substrate.ErrClosed))
	require.NoError(t, b.Close(), "double close is a no-op")
}
