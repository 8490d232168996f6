package chunkstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/eunmann/chunkagg/internal/logctx"
	"github.com/eunmann/chunkagg/pkg/logging"
	"github.com/eunmann/chunkagg/pkg/substrate"
)

// DeleteAll removes every chunk of a dataset scope and returns the number
// of chunks removed. An empty sourceID selects the primary rows, whose
// extent is reset to zero; a sub-source is removed from the metadata. The
// cursor is drained fully, also when nothing matches.
func (s *Store) DeleteAll(ctx context.Context, datasetID, sourceID string) (int, error) {
	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()
	ctx = logctx.WithDataset(ctx, datasetID)

	b, err := s.Backend(ctx)
	if err != nil {
		return 0, err
	}
	start := s.clock.Now()

	store, prefix := scopeStore(datasetID, sourceID)
	n, err := substrate.DeletePrefix(ctx, b, store, prefix)
	if err != nil {
		return n, fmt.Errorf("delete chunks of %s: %w", datasetID, err)
	}

	md, err := loadMetadata(ctx, b, datasetID)
	switch {
	case errors.Is(err, ErrDatasetNotFound):
	case err != nil:
		return n, err
	default:
		now := s.clock.Now()
		if sourceID == "" {
			md.Extent = Extent{ChunkSize: md.ChunkSize}
			md.Columns = nil
		} else {
			delete(md.Sources, sourceID)
		}
		md.Generation++
		md.UpdatedAt = now
		if err := storeMetadata(ctx, b, md); err != nil {
			return n, err
		}
	}
	if err := s.invalidate(ctx, datasetID); err != nil {
		return n, err
	}

	s.observe("delete_all", start)
	logging.NewCompletionEvent(logctx.FromContext(ctx), "delete_completed", "delete", s.clock.Now().Sub(start)).
		Str("source_id", sourceID).
		Int("chunks", n).
		Log("chunks deleted")
	return n, nil
}

// DeleteDataset removes a dataset with all of its chunks, sub-source
// chunks, cached results and metadata.
func (s *Store) DeleteDataset(ctx context.Context, datasetID string) error {
	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()
	ctx = logctx.WithDataset(ctx, datasetID)

	b, err := s.Backend(ctx)
	if err != nil {
		return err
	}
	if _, err := loadMetadata(ctx, b, datasetID); err != nil {
		return err
	}

	for _, store := range []string{chunksStore, sourceChunksStore} {
		if _, err := substrate.DeletePrefix(ctx, b, store, substrate.K(datasetID)); err != nil {
			return fmt.Errorf("delete %s of %s: %w", store, datasetID, err)
		}
	}
	if err := s.invalidate(ctx, datasetID); err != nil {
		return err
	}
	if err := b.Delete(ctx, projectsStore, substrate.K(datasetID)); err != nil {
		return fmt.Errorf("delete metadata of %s: %w", datasetID, err)
	}

	log := logctx.FromContext(ctx)
	log.Info().Msg("dataset deleted")
	return nil
}
