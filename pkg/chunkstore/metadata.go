package chunkstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/eunmann/chunkagg/pkg/substrate"
	"github.com/eunmann/chunkagg/pkg/value"
)

// Column is one entry of an inferred column schema.
type Column struct {
	Name string     `json:"name"`
	Kind value.Kind `json:"kind"`
}

// Extent is the committed size of one chunked scope.
// ChunkCount == ceil(RowCount / ChunkSize) after every successful write.
type Extent struct {
	RowCount   int `json:"row_count"`
	ChunkCount int `json:"chunk_count"`
	ChunkSize  int `json:"chunk_size"`
}

// ChunkRows returns the committed row count of chunk i, or 0 when i is
// outside the extent.
func (e Extent) ChunkRows(i int) int {
	if i < 0 || i >= e.ChunkCount || e.ChunkSize <= 0 {
		return 0
	}
	return min(e.ChunkSize, e.RowCount-i*e.ChunkSize)
}

// SourceMetadata describes a named sub-source of a dataset.
type SourceMetadata struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Extent
	Columns   []Column  `json:"columns,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectMetadata describes a dataset. The embedded Extent covers the
// primary rows; sub-sources carry their own.
type ProjectMetadata struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Extent
	Columns []Column `json:"columns,omitempty"`

	Sources map[string]*SourceMetadata `json:"sources,omitempty"`

	// Generation is bumped by every write to any scope of the dataset.
	Generation uint64 `json:"generation"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Scope returns the extent of the primary rows (sourceID == "") or of a
// sub-source. ok is false for an unknown source.
func (m *ProjectMetadata) Scope(sourceID string) (Extent, bool) {
	if sourceID == "" {
		return m.Extent, true
	}
	src, ok := m.Sources[sourceID]
	if !ok {
		return Extent{}, false
	}
	return src.Extent, true
}

// ScopeColumns returns the column schema of a scope.
func (m *ProjectMetadata) ScopeColumns(sourceID string) []Column {
	if sourceID == "" {
		return m.Columns
	}
	if src, ok := m.Sources[sourceID]; ok {
		return src.Columns
	}
	return nil
}

// SourceIDs returns the sub-source ids in sorted order.
func (m *ProjectMetadata) SourceIDs() []string {
	ids := make([]string, 0, len(m.Sources))
	for id := range m.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *ProjectMetadata) setScope(sourceID, sourceName string, ext Extent, cols []Column, now time.Time) {
	if sourceID == "" {
		m.Extent = ext
		m.Columns = cols
		return
	}
	if m.Sources == nil {
		m.Sources = make(map[string]*SourceMetadata)
	}
	src, ok := m.Sources[sourceID]
	if !ok {
		src = &SourceMetadata{ID: sourceID, CreatedAt: now}
		m.Sources[sourceID] = src
	}
	if sourceName != "" {
		src.Name = sourceName
	}
	src.Extent = ext
	src.Columns = cols
	src.UpdatedAt = now
}

func newMetadata(datasetID string, chunkSize int, now time.Time) *ProjectMetadata {
	return &ProjectMetadata{
		ID:        datasetID,
		Extent:    Extent{ChunkSize: chunkSize},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func loadMetadata(ctx context.Context, r substrate.Reader, datasetID string) (*ProjectMetadata, error) {
	raw, err := r.Get(ctx, projectsStore, substrate.K(datasetID))
	if errors.Is(err, substrate.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, datasetID)
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata for %s: %w", datasetID, err)
	}
	var md ProjectMetadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", datasetID, err)
	}
	return &md, nil
}

func storeMetadata(ctx context.Context, b substrate.Backend, md *ProjectMetadata) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", md.ID, err)
	}
	err = b.Update(ctx, func(tx substrate.Txn) error {
		return tx.Put(ctx, projectsStore, substrate.K(md.ID), raw)
	})
	if err != nil {
		return fmt.Errorf("write metadata for %s: %w", md.ID, err)
	}
	return nil
}

// GetProjectMetadata returns the metadata of datasetID or ErrDatasetNotFound.
func (s *Store) GetProjectMetadata(ctx context.Context, datasetID string) (*ProjectMetadata, error) {
	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()

	b, err := s.Backend(ctx)
	if err != nil {
		return nil, err
	}
	return loadMetadata(ctx, b, datasetID)
}

// ListProjects returns the metadata of every dataset ordered by id.
func (s *Store) ListProjects(ctx context.Context) ([]*ProjectMetadata, error) {
	ctx, cancel := s.WithTimeout(ctx)
	defer cancel()

	b, err := s.Backend(ctx)
	if err != nil {
		return nil, err
	}
	cur, err := b.Scan(ctx, projectsStore, substrate.K())
	if err != nil {
		return nil, fmt.Errorf("scan projects: %w", err)
	}
	defer cur.Close()

	var out []*ProjectMetadata
	for cur.Next() {
		var md ProjectMetadata
		if err := json.Unmarshal(cur.Value(), &md); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", cur.Key().String(0), err)
		}
		out = append(out, &md)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("scan projects: %w", err)
	}
	return out, nil
}

// inferColumns extends cols with the columns of rows. A column takes the
// kind of its first non-empty value; a later value of a different kind
// widens it to text. Columns keep first-seen order; keys within a row are
// visited in sorted order.
func inferColumns(cols []Column, rows []value.Row) []Column {
	out := append([]Column(nil), cols...)
	pos := make(map[string]int, len(out))
	for i, c := range out {
		pos[c.Name] = i
	}

	var keys []string
	for _, row := range rows {
		keys = keys[:0]
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			v := row[k]
			i, seen := pos[k]
			if !seen {
				i = len(out)
				pos[k] = i
				out = append(out, Column{Name: k})
			}
			if v.IsEmpty() {
				continue
			}
			switch out[i].Kind {
			case value.KindNull:
				out[i].Kind = v.Kind()
			case v.Kind():
			default:
				out[i].Kind = value.KindText
			}
		}
	}
	return out
}
