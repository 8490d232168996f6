package chunkstore

import (
	"fmt"
	"time"
)

// Config holds Store settings.
type Config struct {
	// ChunkSize is the maximum number of rows per chunk for new scopes.
	// Existing scopes keep the chunk size recorded in their metadata.
	// Default: 1000
	ChunkSize int

	// OpTimeout bounds every public operation. Zero disables the deadline.
	// Default: 30s
	OpTimeout time.Duration

	// CacheTTL is the lifetime of cached query results.
	// Default: 1h
	CacheTTL time.Duration

	// RowSizeEstimate is the number of bytes reserved from the memory
	// budget per decoded row.
	// Default: 512
	RowSizeEstimate uint64
}

// DefaultConfig returns the default Store configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize:       1000,
		OpTimeout:       30 * time.Second,
		CacheTTL:        time.Hour,
		RowSizeEstimate: 512,
	}
}

// Validate checks configuration values.
func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("ChunkSize must be positive, got %d", c.ChunkSize)
	}
	if c.OpTimeout < 0 {
		return fmt.Errorf("OpTimeout must be non-negative, got %s", c.OpTimeout)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("CacheTTL must be non-negative, got %s", c.CacheTTL)
	}
	if c.RowSizeEstimate == 0 {
		return fmt.Errorf("RowSizeEstimate must be positive")
	}
	return nil
}
