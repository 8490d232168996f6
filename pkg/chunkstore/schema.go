package chunkstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/eunmann/chunkagg/pkg/logging"
	"github.com/eunmann/chunkagg/pkg/querycache"
	"github.com/eunmann/chunkagg/pkg/substrate"
)

const (
	projectsStore     = "projects"
	chunksStore       = "chunks"
	sourceChunksStore = "source_chunks"
	schemaMetaStore   = "schema_meta"
)

var schemaMetaSpec = substrate.StoreSpec{Name: schemaMetaStore, KeyPath: []string{"name"}}

// migration lists the stores introduced at a schema version. Migrations are
// additive: a step only creates stores that do not exist yet.
type migration struct {
	version uint64
	stores  []substrate.StoreSpec
}

var migrations = []migration{
	{
		version: 1,
		stores: []substrate.StoreSpec{
			{Name: projectsStore, KeyPath: []string{"dataset_id"}},
			{Name: chunksStore, KeyPath: []string{"dataset_id", "chunk_index"}},
		},
	},
	{
		version: 2,
		stores: []substrate.StoreSpec{
			{Name: sourceChunksStore, KeyPath: []string{"dataset_id", "source_id", "chunk_index"}},
		},
	},
	{
		version: 3,
		stores:  querycache.Specs(),
	},
}

// SchemaVersion is the version a freshly migrated substrate reports.
var SchemaVersion = migrations[len(migrations)-1].version

var versionKey = substrate.K("version")

// migrate brings b up to SchemaVersion. Every step is idempotent, so a
// crash between creating a store and recording the version is repaired on
// the next open.
func migrate(ctx context.Context, b substrate.Backend) error {
	if _, err := b.EnsureStore(ctx, schemaMetaSpec); err != nil {
		return fmt.Errorf("create schema store: %w", err)
	}
	current, err := readSchemaVersion(ctx, b)
	if err != nil {
		return err
	}

	log := logging.WithPhase("migrate")
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		for _, spec := range m.stores {
			created, err := b.EnsureStore(ctx, spec)
			if err != nil {
				return fmt.Errorf("migrate to v%d: create store %s: %w", m.version, spec.Name, err)
			}
			if created {
				log.Debug().Str("store", spec.Name).Uint64("version", m.version).Msg("store created")
			}
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], m.version)
		if err := b.Put(ctx, schemaMetaStore, versionKey, buf[:]); err != nil {
			return fmt.Errorf("record schema v%d: %w", m.version, err)
		}
		log.Info().Uint64("from", current).Uint64("to", m.version).Msg("schema migrated")
		current = m.version
	}
	return nil
}

func readSchemaVersion(ctx context.Context, b substrate.Reader) (uint64, error) {
	raw, err := b.Get(ctx, schemaMetaStore, versionKey)
	if errors.Is(err, substrate.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("read schema version: corrupt value of %d bytes", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

// scopeStore returns the store and key prefix holding the chunks of a
// dataset scope.
func scopeStore(datasetID, sourceID string) (string, substrate.Key) {
	if sourceID == "" {
		return chunksStore, substrate.K(datasetID)
	}
	return sourceChunksStore, substrate.K(datasetID, sourceID)
}

func chunkKey(datasetID, sourceID string, index int) (string, substrate.Key) {
	store, prefix := scopeStore(datasetID, sourceID)
	return store, append(prefix, index)
}
