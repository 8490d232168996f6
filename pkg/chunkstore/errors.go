package chunkstore

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable indicates the substrate could not be opened or
	// migrated. It is sticky for the lifetime of a Store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrDatasetNotFound indicates no metadata exists for the dataset id.
	ErrDatasetNotFound = errors.New("dataset not found")
	// ErrPartialWrite indicates a write stopped part way. Metadata was not
	// updated, so the whole operation can be retried.
	ErrPartialWrite = errors.New("partial write")
	// ErrChunkNotFound indicates a chunk index outside the committed range,
	// or a committed chunk missing from the store.
	ErrChunkNotFound = errors.New("chunk not found")
	// ErrInvalidPage indicates a negative page or non-positive page size.
	ErrInvalidPage = errors.New("invalid page")
	// ErrInvalidDatasetID indicates an empty dataset id.
	ErrInvalidDatasetID = errors.New("invalid dataset id")

	// ErrStop can be returned from a ScanChunks callback to end the scan
	// early without an error.
	ErrStop = errors.New("stop scan")
)

// PartialWriteError reports the chunk at which a write failed.
// It matches both ErrPartialWrite and the underlying cause with errors.Is.
type PartialWriteError struct {
	DatasetID  string
	SourceID   string
	ChunkIndex int
	Err        error
}

func (e *PartialWriteError) Error() string {
	scope := e.DatasetID
	if e.SourceID != "" {
		scope += "/" + e.SourceID
	}
	return fmt.Sprintf("partial write to %s at chunk %d: %v", scope, e.ChunkIndex, e.Err)
}

func (e *PartialWriteError) Unwrap() []error {
	return []error{ErrPartialWrite, e.Err}
}
