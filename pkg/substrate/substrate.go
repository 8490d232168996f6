// Package substrate defines the embedded, key-ordered object store the
// dataset layer is built on.
//
// A Backend holds named logical stores. Each store maps compound keys to
// opaque byte values and can be range-scanned in ascending key order by key
// prefix. Secondary indexes are modelled as separate stores whose keys embed
// the indexed field followed by the primary key.
//
// Implementations live in sub-packages (sqlitekv, badgerkv).
package substrate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("key not found")
	// ErrUnknownStore is returned when a store has not been created with EnsureStore.
	ErrUnknownStore = errors.New("unknown store")
	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("backend closed")
)

// StoreSpec declares a logical store.
type StoreSpec struct {
	// Name identifies the store. Lowercase letters, digits and underscores.
	Name string
	// KeyPath documents the compound key layout, e.g. ["dataset_id", "chunk_index"].
	KeyPath []string
	// IndexOf names the primary store when this store is a secondary index.
	IndexOf string
}

var storeNameRE = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Validate checks the store name is usable by every backend.
func (s StoreSpec) Validate() error {
	if !storeNameRE.MatchString(s.Name) {
		return fmt.Errorf("invalid store name %q", s.Name)
	}
	if len(s.KeyPath) == 0 {
		return fmt.Errorf("store %q: key path is required", s.Name)
	}
	return nil
}

// Reader is the read half shared by Backend and Txn.
type Reader interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, store string, key Key) ([]byte, error)
}

// Writer is the write half shared by Backend and Txn.
type Writer interface {
	// Put stores val under key, replacing any existing value.
	Put(ctx context.Context, store string, key Key, val []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, store string, key Key) error
}

// Txn is a write batch applied atomically by Backend.Update.
type Txn interface {
	Reader
	Writer
}

// Backend is an embedded key-ordered object store.
//
// Operations on a single store are serialized by the backend. There is no
// snapshot isolation across separate calls.
type Backend interface {
	Reader
	Writer

	// EnsureStore creates the store if it does not exist. Existing stores
	// are left untouched. Reports whether the store was created.
	EnsureStore(ctx context.Context, spec StoreSpec) (bool, error)

	// Stores lists the names of existing stores.
	Stores(ctx context.Context) ([]string, error)

	// Scan returns a cursor over every key in store starting with prefix,
	// in ascending key order. An empty prefix scans the whole store.
	Scan(ctx context.Context, store string, prefix Key) (Cursor, error)

	// Update runs fn inside a single atomic write batch. fn must only use
	// the supplied Txn; calling back into the Backend may deadlock.
	Update(ctx context.Context, fn func(Txn) error) error

	// Close releases the underlying database.
	Close() error
}

// Cursor iterates a key range. It supports deleting the current entry
// while iterating. Close must always be called.
type Cursor interface {
	// Next advances to the next entry, returning false at the end of the
	// range or on error.
	Next() bool
	// Key returns the current decoded key.
	Key() Key
	// Value returns the current value. The slice is owned by the caller.
	Value() []byte
	// Delete removes the current entry.
	Delete() error
	// Err returns the first error encountered during iteration.
	Err() error
	// Close releases resources held by the cursor.
	Close() error
}

// DeletePrefix removes every entry in store whose key starts with prefix,
// draining the cursor fully. It returns the number of entries removed.
func DeletePrefix(ctx context.Context, b Backend, store string, prefix Key) (int, error) {
	cur, err := b.Scan(ctx, store, prefix)
	if err != nil {
		return 0, err
	}
	defer cur.Close()

	var n int
	for cur.Next() {
		if err := cur.Delete(); err != nil {
			return n, fmt.Errorf("delete %s entry: %w", store, err)
		}
		n++
	}
	if err := cur.Err(); err != nil {
		return n, fmt.Errorf("scan %s: %w", store, err)
	}
	return n, nil
}
