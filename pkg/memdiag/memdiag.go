// Package memdiag logs heap usage next to the memory budget while long
// commands run.
//
// Enable with CHUNKAGG_MEM_DEBUG=1. Profiling handlers are served on the
// metrics listener when one is configured.
package memdiag

import (
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/eunmann/chunkagg/pkg/humanfmt"
	"github.com/eunmann/chunkagg/pkg/logging"
	"github.com/eunmann/chunkagg/pkg/membudget"
)

// EnvMemDebug enables the tracker when set to "1".
const EnvMemDebug = "CHUNKAGG_MEM_DEBUG"

// Config holds configuration for memory diagnostics.
type Config struct {
	Enabled  bool
	Interval time.Duration
}

// DefaultConfig reads Enabled from the environment.
func DefaultConfig() Config {
	return Config{
		Enabled:  os.Getenv(EnvMemDebug) == "1",
		Interval: 5 * time.Second,
	}
}

// Stats is the subset of runtime.MemStats that is logged.
type Stats struct {
	HeapAlloc  uint64
	HeapInuse  uint64
	Sys        uint64
	StackInuse uint64
	NumGC      uint32
}

// Read reads current memory statistics.
func Read() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Stats{
		HeapAlloc:  m.HeapAlloc,
		HeapInuse:  m.HeapInuse,
		Sys:        m.Sys,
		StackInuse: m.StackInuse,
		NumGC:      m.NumGC,
	}
}

// Tracker samples memory on an interval until stopped. A nil budget logs
// heap figures only.
type Tracker struct {
	cfg    Config
	budget *membudget.Budget
	clock  clock.Clock

	mu       sync.Mutex
	phase    string
	peakHeap uint64
	samples  int

	stop chan struct{}
	done chan struct{}
}

// NewTracker returns a stopped tracker.
func NewTracker(cfg Config, budget *membudget.Budget, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Tracker{cfg: cfg, budget: budget, clock: clk, phase: "init"}
}

// Start begins periodic sampling. It is a no-op when disabled or already
// running.
func (t *Tracker) Start() {
	if !t.cfg.Enabled {
		return
	}
	t.mu.Lock()
	if t.stop != nil {
		t.mu.Unlock()
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	t.stop, t.done = stop, done
	// The ticker is created before Start returns so a mock clock can be
	// advanced right away.
	ticker := t.clock.Ticker(t.cfg.Interval)
	t.mu.Unlock()

	logging.L().Debug().Dur("interval", t.cfg.Interval).Msg("memory diagnostics enabled")
	go t.loop(ticker, stop, done)
}

func (t *Tracker) loop(ticker *clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			t.Sample("shutdown")
			return
		case <-ticker.C:
			t.Sample("periodic")
		}
	}
}

// Stop ends sampling and waits for the final sample.
func (t *Tracker) Stop() {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop = nil
	t.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// SetPhase labels later samples.
func (t *Tracker) SetPhase(phase string) {
	t.mu.Lock()
	t.phase = phase
	t.mu.Unlock()
}

// Sample logs current heap usage against the budget and returns it.
func (t *Tracker) Sample(reason string) Stats {
	stats := Read()

	t.mu.Lock()
	phase := t.phase
	t.peakHeap = max(t.peakHeap, stats.HeapAlloc)
	peak := t.peakHeap
	t.samples++
	t.mu.Unlock()

	log := logging.WithPhase(phase)
	ev := log.Debug().
		Str("reason", reason).
		Str("heap_alloc", humanfmt.Bytes(int64(stats.HeapAlloc))).
		Str("heap_inuse", humanfmt.Bytes(int64(stats.HeapInuse))).
		Str("sys_total", humanfmt.Bytes(int64(stats.Sys))).
		Str("peak_heap", humanfmt.Bytes(int64(peak))).
		Uint32("num_gc", stats.NumGC)
	if t.budget == nil {
		ev.Msg("memory stats")
		return stats
	}

	bs := t.budget.Stats()
	ev.Str("budget_inuse", humanfmt.Bytes(int64(bs.InUseBytes))).
		Str("budget_total", humanfmt.Bytes(int64(bs.TotalBytes))).
		Float64("budget_pct", bs.UsagePercent).
		Msg("memory stats")

	if stats.HeapAlloc > 2*bs.TotalBytes {
		log.Warn().
			Str("heap_alloc", humanfmt.Bytes(int64(stats.HeapAlloc))).
			Str("budget_total", humanfmt.Bytes(int64(bs.TotalBytes))).
			Msg("heap is more than twice the memory budget")
	}
	return stats
}

// PeakHeap returns the largest heap allocation sampled.
func (t *Tracker) PeakHeap() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peakHeap
}

// Samples returns the number of samples taken.
func (t *Tracker) Samples() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.samples
}

// RegisterPprof mounts the net/http/pprof handlers under /debug/pprof/.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
