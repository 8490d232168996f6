package ingest

import (
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/eunmann/chunkagg/pkg/value"
)

// csvReader reads rows from a CSV stream whose first record is the header.
type csvReader struct {
	r       *csv.Reader
	header  []string
	closers []io.Closer
}

// NewCSVReader reads CSV from r. The header record names the columns and
// every cell is converted with value.Parse. Blank header cells are named
// column_N.
func NewCSVReader(r io.Reader) (Reader, error) {
	return newCSVReader(r, ',', nil)
}

// NewCSVReaderFromStream is NewCSVReader for a named stream: a .gz name is
// decompressed and a .tsv name is read tab-separated. rc is closed by Close.
func NewCSVReaderFromStream(rc io.ReadCloser, name string) (Reader, error) {
	var src io.Reader = rc
	closers := []io.Closer{rc}

	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ".gz") {
		gzr, err := gzip.NewReader(rc)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("create gzip reader: %w", err)
		}
		closers = append(closers, gzr)
		src = gzr
		lower = strings.TrimSuffix(lower, ".gz")
	}

	comma := ','
	if strings.HasSuffix(lower, ".tsv") {
		comma = '\t'
	}
	r, err := newCSVReader(src, comma, closers)
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	return r, nil
}

func newCSVReader(r io.Reader, comma rune, closers []io.Closer) (*csvReader, error) {
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &csvReader{r: cr, closers: closers}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	names := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("column_%d", i+1)
		}
		names[i] = h
	}
	cr.ReuseRecord = true
	return &csvReader{r: cr, header: names, closers: closers}, nil
}

// Next returns the next row. Cells beyond the header are dropped; missing
// trailing cells are absent from the row.
func (r *csvReader) Next() (value.Row, error) {
	if r.header == nil {
		return nil, io.EOF
	}
	for {
		fields, err := r.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read CSV row: %w", err)
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}

		row := make(value.Row, len(r.header))
		for i, f := range fields {
			if i >= len(r.header) {
				break
			}
			row[r.header[i]] = value.Parse(f)
		}
		return row, nil
	}
}

func (r *csvReader) Close() error {
	return closeAll(r.closers)
}

// closeAll closes in reverse order, decompressors before their streams.
func closeAll(closers []io.Closer) error {
	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
