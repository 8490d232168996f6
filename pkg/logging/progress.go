package logging

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eunmann/chunkagg/pkg/humanfmt"
	"github.com/rs/zerolog"
)

// ProgressTracker counts finished units of work (chunks written, chunks
// scanned) and estimates the time remaining. It is safe for concurrent use.
type ProgressTracker struct {
	total     int64
	done      atomic.Int64
	startTime time.Time
	phase     string

	mu     sync.Mutex
	recent []time.Duration
	window int
}

// NewProgressTracker creates a tracker for total units of work.
func NewProgressTracker(phase string, total int64) *ProgressTracker {
	return &ProgressTracker{
		total:     total,
		startTime: time.Now(),
		phase:     phase,
		recent:    make([]time.Duration, 0, 8),
		window:    8,
	}
}

// Record marks one unit finished after d.
func (pt *ProgressTracker) Record(d time.Duration) {
	pt.done.Add(1)

	pt.mu.Lock()
	if len(pt.recent) >= pt.window {
		pt.recent = pt.recent[1:]
	}
	pt.recent = append(pt.recent, d)
	pt.mu.Unlock()
}

// Done returns the number of finished units.
func (pt *ProgressTracker) Done() int64 { return pt.done.Load() }

// Total returns the number of units expected.
func (pt *ProgressTracker) Total() int64 { return pt.total }

// Fraction returns progress in [0, 1]. A zero total counts as finished.
func (pt *ProgressTracker) Fraction() float64 {
	if pt.total <= 0 {
		return 1
	}
	f := float64(pt.done.Load()) / float64(pt.total)
	if f > 1 {
		return 1
	}
	return f
}

// ETA estimates the remaining time from a moving average of recent units.
func (pt *ProgressTracker) ETA() time.Duration {
	done := pt.done.Load()
	remaining := pt.total - done
	if done == 0 || remaining <= 0 {
		return 0
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()
	var sum time.Duration
	for _, d := range pt.recent {
		sum += d
	}
	avg := sum / time.Duration(len(pt.recent))
	return avg * time.Duration(remaining)
}

// Elapsed returns time since the tracker was created.
func (pt *ProgressTracker) Elapsed() time.Duration {
	return time.Since(pt.startTime)
}

// CompletionEvent builds a structured "something finished" log line with a
// consistent set of fields.
type CompletionEvent struct {
	log     zerolog.Logger
	event   string
	phase   string
	elapsed time.Duration
	fields  map[string]interface{}
}

// NewCompletionEvent creates a completion event builder.
func NewCompletionEvent(log zerolog.Logger, event, phase string, elapsed time.Duration) *CompletionEvent {
	return &CompletionEvent{
		log:     log,
		event:   event,
		phase:   phase,
		elapsed: elapsed,
		fields:  make(map[string]interface{}),
	}
}

// Str adds a string field.
func (ce *CompletionEvent) Str(key, val string) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Int adds an int field.
func (ce *CompletionEvent) Int(key string, val int) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Bool adds a bool field.
func (ce *CompletionEvent) Bool(key string, val bool) *CompletionEvent {
	ce.fields[key] = val
	return ce
}

// Bytes adds a byte count, plus key_h in pretty mode.
func (ce *CompletionEvent) Bytes(key string, n int64) *CompletionEvent {
	ce.fields[key] = n
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Bytes(n)
	}
	return ce
}

// Count adds a count, plus key_h in pretty mode.
func (ce *CompletionEvent) Count(key string, n int64) *CompletionEvent {
	ce.fields[key] = n
	if IsPrettyMode() {
		ce.fields[key+"_h"] = humanfmt.Count(n)
	}
	return ce
}

// Rows adds the rows field and a rows_per_sec rate.
func (ce *CompletionEvent) Rows(n int64) *CompletionEvent {
	ce.Count("rows", n)
	if ce.elapsed > 0 {
		ce.fields["rows_per_sec"] = float64(n) / ce.elapsed.Seconds()
		if IsPrettyMode() {
			ce.fields["rate_h"] = humanfmt.Rate(n, "rows", ce.elapsed)
		}
	}
	return ce
}

// Progress adds done/total/progress_pct and, when known, the ETA.
func (ce *CompletionEvent) Progress(pt *ProgressTracker) *CompletionEvent {
	ce.fields["done"] = pt.Done()
	ce.fields["total"] = pt.Total()
	ce.fields["progress_pct"] = pt.Fraction() * 100
	if eta := pt.ETA(); eta > 0 {
		ce.fields["eta_ms"] = eta.Milliseconds()
		if IsPrettyMode() {
			ce.fields["eta_h"] = humanfmt.Duration(eta)
		}
	}
	return ce
}

// Log emits the event at info level.
func (ce *CompletionEvent) Log(msg string) {
	ce.emit(ce.log.Info(), msg)
}

// LogDebug emits the event at debug level.
func (ce *CompletionEvent) LogDebug(msg string) {
	ce.emit(ce.log.Debug(), msg)
}

func (ce *CompletionEvent) emit(e *zerolog.Event, msg string) {
	e = e.Str("event", ce.event).
		Str("phase", ce.phase).
		Int64("duration_ms", ce.elapsed.Milliseconds())
	if IsPrettyMode() {
		e = e.Str("duration_h", humanfmt.Duration(ce.elapsed))
	}
	for k, v := range ce.fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

// WriteComplete starts a write_completed event (BatchInsert, Append).
func WriteComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "write_completed", phase, elapsed)
}

// ScanComplete starts a scan_completed event (aggregation, unique values, filtering).
func ScanComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "scan_completed", phase, elapsed)
}

// ImportComplete starts an import_completed event.
func ImportComplete(log zerolog.Logger, phase string, elapsed time.Duration) *CompletionEvent {
	return NewCompletionEvent(log, "import_completed", phase, elapsed)
}

// ChunkWritten logs a single chunk write at debug level.
func ChunkWritten(log zerolog.Logger, datasetID string, index, rows int) {
	log.Debug().
		Str("event", "chunk_written").
		Str("dataset_id", datasetID).
		Int("chunk_index", index).
		Int("rows", rows).
		Msg("chunk written")
}
