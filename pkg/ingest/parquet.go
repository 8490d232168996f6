package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/eunmann/chunkagg/pkg/value"
	"github.com/parquet-go/parquet-go"
)

const parquetReadBatch = 1024

// parquetReader streams rows from a Parquet file one row group at a time.
type parquetReader struct {
	file    *parquet.File
	columns []string // leaf column names by column index
	closer  io.Closer

	rowGroups    []parquet.RowGroup
	currentRGIdx int
	currentRows  parquet.Rows
	rowBuf       []parquet.Row
	bufIdx       int
	bufLen       int
}

// NewParquetReader reads a Parquet file from r. Nested columns are named by
// their dotted path.
func NewParquetReader(r io.ReaderAt, size int64) (Reader, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	return newParquetReader(file, nil), nil
}

// NewParquetReaderFromStream buffers rc to a temporary file, since Parquet
// needs random access, and reads it. The file is removed by Close.
func NewParquetReaderFromStream(rc io.ReadCloser) (Reader, error) {
	tmp, err := os.CreateTemp("", "chunkagg-*.parquet")
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	written, err := io.Copy(tmp, rc)
	rc.Close()
	if err != nil {
		removeTemp(tmp)
		return nil, fmt.Errorf("buffer parquet data: %w", err)
	}
	return newParquetFromTemp(tmp, written)
}

func newParquetFromTemp(tmp *os.File, size int64) (Reader, error) {
	file, err := parquet.OpenFile(tmp, size)
	if err != nil {
		removeTemp(tmp)
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	return newParquetReader(file, tempCloser{tmp}), nil
}

func newParquetReader(file *parquet.File, closer io.Closer) *parquetReader {
	paths := file.Schema().Columns()
	columns := make([]string, len(paths))
	for i, p := range paths {
		columns[i] = strings.Join(p, ".")
	}
	return &parquetReader{
		file:         file,
		columns:      columns,
		closer:       closer,
		rowGroups:    file.RowGroups(),
		currentRGIdx: -1,
		rowBuf:       make([]parquet.Row, parquetReadBatch),
	}
}

// Next returns the next row.
func (r *parquetReader) Next() (value.Row, error) {
	for {
		if r.bufIdx < r.bufLen {
			row := r.rowBuf[r.bufIdx]
			r.bufIdx++
			return r.convert(row), nil
		}

		if r.currentRows != nil {
			n, err := r.currentRows.ReadRows(r.rowBuf)
			if n > 0 {
				r.bufIdx = 0
				r.bufLen = n
				continue
			}
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read parquet rows: %w", err)
			}
			r.currentRows.Close()
			r.currentRows = nil
		}

		r.currentRGIdx++
		if r.currentRGIdx >= len(r.rowGroups) {
			return nil, io.EOF
		}
		r.currentRows = r.rowGroups[r.currentRGIdx].Rows()
	}
}

func (r *parquetReader) convert(row parquet.Row) value.Row {
	out := make(value.Row, len(r.columns))
	for _, v := range row {
		col := v.Column()
		if col < 0 || col >= len(r.columns) {
			continue
		}
		out[r.columns[col]] = fromParquet(v)
	}
	return out
}

// fromParquet maps physical Parquet types onto value kinds. Byte arrays
// are text; numbers of every width are Number.
func fromParquet(v parquet.Value) value.Value {
	if v.IsNull() {
		return value.Null()
	}
	switch v.Kind() {
	case parquet.Boolean:
		return value.Bool(v.Boolean())
	case parquet.Int32:
		return value.Number(float64(v.Int32()))
	case parquet.Int64:
		return value.Number(float64(v.Int64()))
	case parquet.Float:
		return value.Number(float64(v.Float()))
	case parquet.Double:
		return value.Number(v.Double())
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return value.Text(string(v.ByteArray()))
	default:
		return value.Text(v.String())
	}
}

// Close releases resources.
func (r *parquetReader) Close() error {
	if r.currentRows != nil {
		r.currentRows.Close()
		r.currentRows = nil
	}
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// tempCloser closes and removes a temporary file.
type tempCloser struct{ f *os.File }

func (t tempCloser) Close() error {
	err := t.f.Close()
	os.Remove(t.f.Name())
	if err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return nil
}

func removeTemp(f *os.File) {
	f.Close()
	os.Remove(f.Name())
}
