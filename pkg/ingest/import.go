package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/eunmann/chunkagg/internal/logctx"
	"github.com/eunmann/chunkagg/pkg/chunkstore"
	"github.com/eunmann/chunkagg/pkg/logging"
	"github.com/eunmann/chunkagg/pkg/value"
	"github.com/google/uuid"
)

// ImportConfig controls how rows are written.
type ImportConfig struct {
	// BatchSize is the number of rows buffered per write. Default: ten
	// chunks. Multiples of the chunk size avoid rewriting tail chunks.
	BatchSize int
	// Append adds every batch to an existing dataset instead of replacing
	// its rows with the first batch.
	Append bool
	// Name is the dataset display name.
	Name string
	// SourceID and SourceName target a sub-source of the dataset.
	SourceID   string
	SourceName string
}

// ImportResult summarizes a completed import.
type ImportResult struct {
	DatasetID string
	Rows      int
	Batches   int
	Elapsed   time.Duration
}

// NewDatasetID returns a random dataset id.
func NewDatasetID() string {
	return uuid.NewString()
}

// Import drains r into store. An empty datasetID is replaced by a new
// random id. Unless cfg.Append is set, the first batch replaces the
// dataset's rows and later batches are appended, so a failed import leaves
// a prefix of the input committed.
func Import(ctx context.Context, store *chunkstore.Store, datasetID string, r Reader, cfg ImportConfig) (*ImportResult, error) {
	if datasetID == "" {
		datasetID = NewDatasetID()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = store.Config().ChunkSize * 10
	}
	ctx = logctx.WithDataset(ctx, datasetID)
	log := logctx.FromContext(ctx)
	start := time.Now()

	var opts []chunkstore.Option
	if cfg.SourceID != "" {
		opts = append(opts, chunkstore.WithSource(cfg.SourceID, cfg.SourceName))
	}
	if cfg.Name != "" {
		opts = append(opts, chunkstore.WithName(cfg.Name))
	}

	res := &ImportResult{DatasetID: datasetID}
	batch := make([]value.Row, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 && (res.Batches > 0 || cfg.Append) {
			return nil
		}
		var err error
		if res.Batches == 0 && !cfg.Append {
			err = store.BatchInsert(ctx, datasetID, batch, opts...)
		} else {
			_, err = store.Append(ctx, datasetID, batch, opts...)
		}
		if err != nil {
			return fmt.Errorf("write batch %d: %w", res.Batches, err)
		}
		res.Rows += len(batch)
		res.Batches++
		log.Debug().Int("batch", res.Batches).Int("rows", res.Rows).Msg("import batch written")
		batch = batch[:0]
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("import %s: %w", datasetID, err)
		}
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, fmt.Errorf("import %s after %d rows: %w", datasetID, res.Rows+len(batch), err)
		}
		batch = append(batch, row)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}

	res.Elapsed = time.Since(start)
	logging.ImportComplete(log, "import", res.Elapsed).
		Int("batches", res.Batches).
		Bool("append", cfg.Append).
		Rows(int64(res.Rows)).
		Log("import complete")
	return res, nil
}
