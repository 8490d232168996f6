package chunkstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/eunmann/chunkagg/pkg/substrate"
	"github.com/eunmann/chunkagg/pkg/value"
)

// readChunk loads chunk index of a scope and trims it to its committed row
// count want.
func (s *Store) readChunk(ctx context.Context, b substrate.Reader, datasetID, sourceID string, index, want int) ([]value.Row, error) {
	store, key := chunkKey(datasetID, sourceID, index)
	raw, err := b.Get(ctx, store, key)
	if errors.Is(err, substrate.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s chunk %d", ErrChunkNotFound, datasetID, index)
	}
	if err != nil {
		return nil, fmt.Errorf("read chunk %d of %s: %w", index, datasetID, err)
	}
	s.metrics.ChunkRead(1)

	rows, err := decodeChunk(raw)
	if err != nil {
		return nil, fmt.Errorf("chunk %d of %s: %w", index, datasetID, err)
	}
	if len(rows) < want {
		return nil, fmt.Errorf("%w: %s chunk %d holds %d of %d committed rows",
			ErrChunkNotFound, datasetID, index, len(rows), want)
	}
	return rows[:want], nil
}

func scopeOf(md *ProjectMetadata, sourceID string) (Extent, error) {
	ext, ok := md.Scope(sourceID)
	if !ok {
		return Extent{}, fmt.Errorf("%w: %s has no source %q", ErrDatasetNotFound, md.ID, sourceID)
	}
	return ext, nil
}

// GetChunk returns the committed rows of one chunk.
func (s *Store) GetChunk(ctx context.Context, datasetID string, index int, opts ...Option) ([]value.Row, error) {
	o := applyOptions(opts)
	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()

	b, err := s.Backend(ctx)
	if err != nil {
		return nil, err
	}
	md, err := loadMetadata(ctx, b, datasetID)
	if err != nil {
		return nil, err
	}
	ext, err := scopeOf(md, o.sourceID)
	if err != nil {
		return nil, err
	}
	want := ext.ChunkRows(index)
	if want == 0 {
		return nil, fmt.Errorf("%w: %s chunk %d (chunk count %d)", ErrChunkNotFound, datasetID, index, ext.ChunkCount)
	}
	return s.readChunk(ctx, b, datasetID, o.sourceID, index, want)
}

// ScanChunks calls fn with each committed chunk of a scope in ascending
// index order, using md as the committed view. Returning ErrStop from fn
// ends the scan without error. Rows retained after fn returns are no longer
// counted against the memory budget.
func (s *Store) ScanChunks(ctx context.Context, md *ProjectMetadata, sourceID string, fn func(index int, rows []value.Row) error) error {
	ext, err := scopeOf(md, sourceID)
	if err != nil {
		return err
	}
	b, err := s.Backend(ctx)
	if err != nil {
		return err
	}

	for i := 0; i < ext.ChunkCount; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan %s: %w", md.ID, err)
		}
		want := ext.ChunkRows(i)
		release, err := s.reserve(ctx, want)
		if err != nil {
			return err
		}
		rows, err := s.readChunk(ctx, b, md.ID, sourceID, i, want)
		if err == nil {
			err = fn(i, rows)
		}
		release()
		if errors.Is(err, ErrStop) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// IterChunks streams the committed chunks of a dataset scope. An empty
// sourceID selects the primary rows.
func (s *Store) IterChunks(ctx context.Context, datasetID, sourceID string, fn func(index int, rows []value.Row) error) error {
	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()

	md, err := s.GetProjectMetadata(ctx, datasetID)
	if err != nil {
		return err
	}
	return s.ScanChunks(ctx, md, sourceID, fn)
}

// GetAllChunks returns every committed row of a scope in order. Its cost
// is O(rows); prefer GetPage or IterChunks for large datasets.
func (s *Store) GetAllChunks(ctx context.Context, datasetID string, opts ...Option) ([]value.Row, error) {
	o := applyOptions(opts)
	var out []value.Row
	err := s.IterChunks(ctx, datasetID, o.sourceID, func(_ int, rows []value.Row) error {
		out = append(out, rows...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
