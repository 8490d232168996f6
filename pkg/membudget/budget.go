// Package membudget bounds the memory held by decoded chunks in flight.
//
// Callers reserve an estimate before decoding or buffering rows and release
// it when the rows are dropped. Reserve blocks until enough budget is free
// or the context ends.
package membudget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/eunmann/chunkagg/pkg/humanfmt"
)

// DefaultBudgetBytes is used when system RAM cannot be detected.
const DefaultBudgetBytes uint64 = 2 * humanfmt.GiB

// RAMFraction is the share of detected RAM NewFromSystemRAM allows.
const RAMFraction = 0.25

// Source records how the budget size was chosen.
type Source string

const (
	SourceAuto    Source = "auto"
	SourceDefault Source = "default"
	SourceConfig  Source = "config"
)

// ErrExceedsBudget is returned when a single reservation can never fit.
var ErrExceedsBudget = errors.New("reservation exceeds total budget")

// Budget is safe for concurrent use.
type Budget struct {
	total  uint64
	source Source

	mu    sync.Mutex
	inUse uint64
	// freed is closed and replaced on every Release to wake blocked Reserve calls.
	freed chan struct{}
}

// New returns a budget of total bytes.
func New(total uint64, source Source) *Budget {
	return &Budget{total: total, source: source, freed: make(chan struct{})}
}

// NewFromSystemRAM sizes the budget at RAMFraction of physical memory.
func NewFromSystemRAM() *Budget {
	ram, ok := systemRAM()
	if !ok || ram == 0 {
		return New(DefaultBudgetBytes, SourceDefault)
	}
	return New(uint64(float64(ram)*RAMFraction), SourceAuto)
}

// FromSize parses a human size such as "512MiB". "" or "auto" sizes the
// budget from system RAM.
func FromSize(s string) (*Budget, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "auto") {
		return NewFromSystemRAM(), nil
	}
	n, err := ParseHumanSize(s)
	if err != nil {
		return nil, fmt.Errorf("parse memory budget: %w", err)
	}
	if n == 0 {
		return nil, errors.New("memory budget must be positive")
	}
	return New(n, SourceConfig), nil
}

// Total returns the budget size in bytes.
func (b *Budget) Total() uint64 { return b.total }

// Source returns how the budget was sized.
func (b *Budget) Source() Source { return b.source }

// InUse returns the reserved bytes.
func (b *Budget) InUse() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inUse
}

// TryReserve reserves n bytes if they are free right now.
func (b *Budget) TryReserve(n uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inUse+n > b.total {
		return false
	}
	b.inUse += n
	return true
}

// Reserve blocks until n bytes are reserved or ctx is done.
func (b *Budget) Reserve(ctx context.Context, n uint64) error {
	if n > b.total {
		return fmt.Errorf("%w: %s > %s", ErrExceedsBudget, humanfmt.Bytes(int64(n)), humanfmt.Bytes(int64(b.total)))
	}
	for {
		b.mu.Lock()
		if b.inUse+n <= b.total {
			b.inUse += n
			b.mu.Unlock()
			return nil
		}
		wait := b.freed
		b.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Release returns n bytes. Releasing more than is reserved clamps to zero.
func (b *Budget) Release(n uint64) {
	b.mu.Lock()
	if n > b.inUse {
		n = b.inUse
	}
	b.inUse -= n
	close(b.freed)
	b.freed = make(chan struct{})
	b.mu.Unlock()
}

// Stats is a point-in-time view of the budget.
type Stats struct {
	TotalBytes     uint64
	InUseBytes     uint64
	AvailableBytes uint64
	Source         Source
	UsagePercent   float64
}

// Stats returns current usage.
func (b *Budget) Stats() Stats {
	b.mu.Lock()
	inUse := b.inUse
	b.mu.Unlock()

	s := Stats{TotalBytes: b.total, InUseBytes: inUse, Source: b.source}
	if inUse < b.total {
		s.AvailableBytes = b.total - inUse
	}
	if b.total > 0 {
		s.UsagePercent = float64(inUse) / float64(b.total) * 100
	}
	return s
}

var sizeSuffixes = map[string]float64{
	"":    1,
	"B":   1,
	"KB":  1e3,
	"MB":  1e6,
	"GB":  1e9,
	"TB":  1e12,
	"K":   humanfmt.KiB,
	"KIB": humanfmt.KiB,
	"M":   humanfmt.MiB,
	"MIB": humanfmt.MiB,
	"G":   humanfmt.GiB,
	"GIB": humanfmt.GiB,
	"T":   humanfmt.TiB,
	"TIB": humanfmt.TiB,
}

// ParseHumanSize parses sizes such as "4GiB", "512MB" or "1024".
// Suffixes are case-insensitive; K/M/G/T without "B" are binary.
func ParseHumanSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size string")
	}
	end := strings.IndexFunc(s, func(r rune) bool { return (r < '0' || r > '9') && r != '.' })
	if end < 0 {
		end = len(s)
	}
	num, err := strconv.ParseFloat(s[:end], 64)
	if err != nil || num < 0 {
		return 0, fmt.Errorf("invalid number %q", s[:end])
	}
	mult, ok := sizeSuffixes[strings.ToUpper(strings.TrimSpace(s[end:]))]
	if !ok {
		return 0, fmt.Errorf("unknown size suffix %q", s[end:])
	}
	return uint64(num * mult), nil
}
