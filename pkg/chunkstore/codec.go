package chunkstore

import (
	"encoding/json"
	"fmt"

	"github.com/eunmann/chunkagg/pkg/value"
	"github.com/golang/snappy"
)

// Chunk payloads are the JSON array of rows, snappy-compressed.

func encodeChunk(rows []value.Row) ([]byte, error) {
	raw, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode chunk: %w", err)
	}
	return snappy.Encode(nil, raw), nil
}

func decodeChunk(data []byte) ([]value.Row, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("decompress chunk: %w", err)
	}
	var rows []value.Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode chunk: %w", err)
	}
	return rows, nil
}
