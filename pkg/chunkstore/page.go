package chunkstore

import (
	"context"
	"fmt"
	"math"

	"github.com/eunmann/chunkagg/pkg/value"
)

// Page is one page of rows.
type Page struct {
	Rows      []value.Row `json:"rows"`
	TotalRows int         `json:"total_rows"`
	Page      int         `json:"page"`
	PageSize  int         `json:"page_size"`
	HasMore   bool        `json:"has_more"`
}

// GetPage returns rows [page*pageSize, (page+1)*pageSize) of a scope. Only
// the chunks covering that range are read, so at most pageSize+chunkSize
// rows are held at once. A page past the end is empty, not an error; a
// page whose end offset does not fit in an int is ErrInvalidPage.
func (s *Store) GetPage(ctx context.Context, datasetID string, page, pageSize int, opts ...Option) (*Page, error) {
	if page < 0 || pageSize <= 0 || page > (math.MaxInt-pageSize)/pageSize {
		return nil, fmt.Errorf("%w: page %d, size %d", ErrInvalidPage, page, pageSize)
	}
	o := applyOptions(opts)
	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()

	b, err := s.Backend(ctx)
	if err != nil {
		return nil, err
	}
	start := s.clock.Now()
	md, err := loadMetadata(ctx, b, datasetID)
	if err != nil {
		return nil, err
	}
	ext, err := scopeOf(md, o.sourceID)
	if err != nil {
		return nil, err
	}

	out := &Page{Rows: []value.Row{}, TotalRows: ext.RowCount, Page: page, PageSize: pageSize}
	lo := page * pageSize
	if lo >= ext.RowCount {
		return out, nil
	}
	hi := min(lo+pageSize, ext.RowCount)

	release, err := s.reserve(ctx, pageSize+ext.ChunkSize)
	if err != nil {
		return nil, err
	}
	defer release()

	out.Rows = make([]value.Row, 0, hi-lo)
	for i := lo / ext.ChunkSize; i <= (hi-1)/ext.ChunkSize; i++ {
		rows, err := s.readChunk(ctx, b, datasetID, o.sourceID, i, ext.ChunkRows(i))
		if err != nil {
			return nil, err
		}
		base := i * ext.ChunkSize
		from := max(lo-base, 0)
		to := min(hi-base, len(rows))
		out.Rows = append(out.Rows, rows[from:to]...)
	}
	out.HasMore = hi < ext.RowCount

	s.observe("get_page", start)
	return out, nil
}
