package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/chunkagg/internal/logctx"
	"github.com/eunmann/chunkagg/pkg/logging"
	"github.com/eunmann/chunkagg/pkg/substrate"
	"github.com/eunmann/chunkagg/pkg/value"
)

func numChunks(rows, chunkSize int) int {
	return (rows + chunkSize - 1) / chunkSize
}

func (s *Store) writeChunk(ctx context.Context, b substrate.Backend, datasetID, sourceID string, index int, rows []value.Row) error {
	payload, err := encodeChunk(rows)
	if err != nil {
		return err
	}
	store, key := chunkKey(datasetID, sourceID, index)
	if err := b.Put(ctx, store, key, payload); err != nil {
		return err
	}
	s.metrics.ChunkWrite(1, len(rows))
	logging.ChunkWritten(logctx.FromContext(ctx), datasetID, index, len(rows))
	return nil
}

// writeChunks stores rows as consecutive chunks starting at first, reporting
// progress after each one.
func (s *Store) writeChunks(ctx context.Context, b substrate.Backend, datasetID string, o opOptions, first, chunkSize int, rows []value.Row, pt *logging.ProgressTracker) (int, error) {
	index := first
	for lo := 0; lo < len(rows); lo += chunkSize {
		if err := ctx.Err(); err != nil {
			return index, &PartialWriteError{DatasetID: datasetID, SourceID: o.sourceID, ChunkIndex: index, Err: err}
		}
		start := time.Now()
		hi := min(lo+chunkSize, len(rows))
		if err := s.writeChunk(ctx, b, datasetID, o.sourceID, index, rows[lo:hi]); err != nil {
			return index, &PartialWriteError{DatasetID: datasetID, SourceID: o.sourceID, ChunkIndex: index, Err: err}
		}
		pt.Record(time.Since(start))
		o.report(pt.Fraction() * 100)
		index++
	}
	return index, nil
}

// BatchInsert replaces the rows of a dataset scope. Existing chunks of the
// scope are deleted first, then rows are split into chunks of the configured
// size and written in order. Metadata is written last.
//
// If a chunk write fails the error wraps ErrPartialWrite. Retrying the whole
// call is safe; until it succeeds, reads of the scope may report
// ErrChunkNotFound because the previous chunks are gone.
func (s *Store) BatchInsert(ctx context.Context, datasetID string, rows []value.Row, opts ...Option) error {
	if datasetID == "" {
		return ErrInvalidDatasetID
	}
	o := applyOptions(opts)
	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()
	ctx = logctx.WithDataset(ctx, datasetID)

	b, err := s.Backend(ctx)
	if err != nil {
		return err
	}
	start := s.clock.Now()

	md, err := loadMetadata(ctx, b, datasetID)
	if errors.Is(err, ErrDatasetNotFound) {
		md = newMetadata(datasetID, s.cfg.ChunkSize, start)
	} else if err != nil {
		return err
	}

	store, prefix := scopeStore(datasetID, o.sourceID)
	if _, err := substrate.DeletePrefix(ctx, b, store, prefix); err != nil {
		return fmt.Errorf("delete previous chunks of %s: %w", datasetID, err)
	}

	chunkSize := s.cfg.ChunkSize
	pt := logging.NewProgressTracker("write", int64(numChunks(len(rows), chunkSize)))
	count, err := s.writeChunks(ctx, b, datasetID, o, 0, chunkSize, rows, pt)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	ext := Extent{RowCount: len(rows), ChunkCount: count, ChunkSize: chunkSize}
	md.setScope(o.sourceID, o.sourceName, ext, inferColumns(nil, rows), now)
	if o.name != "" {
		md.Name = o.name
	}
	md.Generation++
	md.UpdatedAt = now
	if err := storeMetadata(ctx, b, md); err != nil {
		return err
	}
	if err := s.invalidate(ctx, datasetID); err != nil {
		return err
	}

	s.observe("batch_insert", start)
	logging.WriteComplete(logctx.FromContext(ctx), "write", now.Sub(start)).
		Str("op", "batch_insert").
		Str("source_id", o.sourceID).
		Int("chunks", count).
		Rows(int64(len(rows))).
		Log("batch insert complete")
	return nil
}

// Append adds rows after the committed rows of an existing dataset scope
// and returns the new row count of that scope.
//
// A partially filled tail chunk is topped up by rewriting it as its
// committed rows followed by the first new rows; the rest go to new chunks
// after it. Existing chunk indices never change. Metadata is written only
// after every chunk write succeeded, and readers ignore rows past the
// committed row count, so a failed Append leaves the dataset as it was and
// can be retried.
func (s *Store) Append(ctx context.Context, datasetID string, rows []value.Row, opts ...Option) (int, error) {
	o := applyOptions(opts)
	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()
	ctx = logctx.WithDataset(ctx, datasetID)

	b, err := s.Backend(ctx)
	if err != nil {
		return 0, err
	}
	start := s.clock.Now()

	md, err := loadMetadata(ctx, b, datasetID)
	if err != nil {
		return 0, err
	}
	ext, ok := md.Scope(o.sourceID)
	if !ok {
		ext = Extent{ChunkSize: s.cfg.ChunkSize}
	}
	if ext.ChunkSize <= 0 {
		ext.ChunkSize = s.cfg.ChunkSize
	}
	if len(rows) == 0 {
		return ext.RowCount, nil
	}

	cs := ext.ChunkSize
	pending := rows
	next := ext.ChunkCount
	tail := ext.ChunkRows(ext.ChunkCount - 1)
	if tail == cs {
		tail = 0
	}
	pt := logging.NewProgressTracker("write", int64(numChunks(tail+len(rows), cs)))

	if tail > 0 {
		idx := ext.ChunkCount - 1
		committed, err := s.readChunk(ctx, b, datasetID, o.sourceID, idx, tail)
		if err != nil {
			return 0, &PartialWriteError{DatasetID: datasetID, SourceID: o.sourceID, ChunkIndex: idx, Err: err}
		}
		take := min(cs-tail, len(pending))
		merged := make([]value.Row, 0, tail+take)
		merged = append(merged, committed...)
		merged = append(merged, pending[:take]...)

		chunkStart := time.Now()
		if err := s.writeChunk(ctx, b, datasetID, o.sourceID, idx, merged); err != nil {
			return 0, &PartialWriteError{DatasetID: datasetID, SourceID: o.sourceID, ChunkIndex: idx, Err: err}
		}
		pt.Record(time.Since(chunkStart))
		o.report(pt.Fraction() * 100)
		pending = pending[take:]
	}

	next, err = s.writeChunks(ctx, b, datasetID, o, next, cs, pending, pt)
	if err != nil {
		return 0, err
	}

	now := s.clock.Now()
	newExt := Extent{RowCount: ext.RowCount + len(rows), ChunkCount: next, ChunkSize: cs}
	md.setScope(o.sourceID, o.sourceName, newExt, inferColumns(md.ScopeColumns(o.sourceID), rows), now)
	md.Generation++
	md.UpdatedAt = now
	if err := storeMetadata(ctx, b, md); err != nil {
		return 0, err
	}
	if err := s.invalidate(ctx, datasetID); err != nil {
		return 0, err
	}

	s.observe("append", start)
	logging.WriteComplete(logctx.FromContext(ctx), "write", now.Sub(start)).
		Str("op", "append").
		Str("source_id", o.sourceID).
		Int("chunks", newExt.ChunkCount).
		Int("total_rows", newExt.RowCount).
		Rows(int64(len(rows))).
		Log("append complete")
	return newExt.RowCount, nil
}

// invalidate drops every cached query result of datasetID.
func (s *Store) invalidate(ctx context.Context, datasetID string) error {
	if _, err := s.cache.Clear(ctx, datasetID); err != nil {
		return fmt.Errorf("invalidate cache for %s: %w", datasetID, err)
	}
	return nil
}
