// Package ingest reads tabular files into dataset rows and loads them into
// a chunkstore.Store.
//
// CSV (optionally gzip-compressed) and Parquet files are supported, from
// the local filesystem or from S3 via s3:// URIs.
package ingest

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/eunmann/chunkagg/pkg/value"
)

// Reader yields rows one at a time.
type Reader interface {
	// Next returns the next row, or io.EOF after the last one.
	Next() (value.Row, error)
	// Close releases resources associated with the reader.
	Close() error
}

// Format identifies a file encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// DetectFormat picks the format from a file name or object key. A trailing
// .gz is ignored.
func DetectFormat(name string) (Format, error) {
	base := strings.ToLower(path.Base(name))
	base = strings.TrimSuffix(base, ".gz")
	switch {
	case strings.HasSuffix(base, ".csv"), strings.HasSuffix(base, ".tsv"):
		return FormatCSV, nil
	case strings.HasSuffix(base, ".parquet"), strings.HasSuffix(base, ".pq"):
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unrecognized file format: %s", name)
	}
}

// SliceReader yields rows from memory.
type SliceReader struct {
	rows []value.Row
	pos  int
}

// NewSliceReader returns a Reader over rows.
func NewSliceReader(rows []value.Row) *SliceReader {
	return &SliceReader{rows: rows}
}

func (r *SliceReader) Next() (value.Row, error) {
	if r.pos >= len(r.rows) {
		return nil, io.EOF
	}
	row := r.rows[r.pos]
	r.pos++
	return row, nil
}

func (r *SliceReader) Close() error { return nil }
