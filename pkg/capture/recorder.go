package capture

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/nicktill/chunkdebug/pkg/event"
	"github.com/nicktill/chunkdebug/pkg/queue"
	"github.com/nicktill/chunkdebug/pkg/telemetry"
)

// maxFrames caps the captured call stack depth
const maxFrames = 64

// Gate reports whether capture is currently enabled.
// Enabled sits on hot simulation paths and must be a single atomic load.
type Gate interface {
	Enabled() bool

	// ActiveDimension is the dimension used by RecordActive
	ActiveDimension() int32
}

// TickSource samples the host simulation clock
type TickSource interface {
	CurrentTick() int32
}

// Enumerator lists every chunk currently resident in the host
type Enumerator interface {
	EachResident(fn func(dimension, x, z int32))
}

// Hooks are the host callback points. *Recorder implements them.
type Hooks interface {
	Loaded(x, z, dimension int32, annotation string)
	Generated(x, z, dimension int32, annotation string)
	Populated(x, z, dimension int32, annotation string)
	UnloadScheduled(x, z, dimension int32, annotation string)
	Unloaded(x, z, dimension int32, annotation string)
}

// Recorder builds events at capture sites and pushes them onto the queue
type Recorder struct {
	gate    Gate
	queue   *queue.Queue
	ticks   TickSource
	metrics *telemetry.Metrics
}

// NewRecorder creates a recorder feeding q. metrics may be nil.
func NewRecorder(gate Gate, q *queue.Queue, ticks TickSource, metrics *telemetry.Metrics) *Recorder {
	return &Recorder{
		gate:    gate,
		queue:   q,
		ticks:   ticks,
		metrics: metrics,
	}
}

// Record captures one event. It returns immediately when capture is disabled.
func (r *Recorder) Record(t event.Type, x, z, dimension int32, annotation string) {
	if !r.gate.Enabled() {
		return
	}
	r.record(t, x, z, dimension, annotation)
}

// RecordActive captures an event tagged with the gate's active dimension.
// Hosts running several worlds concurrently should call Record instead.
func (r *Recorder) RecordActive(t event.Type, x, z int32, annotation string) {
	if !r.gate.Enabled() {
		return
	}
	r.record(t, x, z, r.gate.ActiveDimension(), annotation)
}

// RecordResident emits an ALREADY_LOADED event for every chunk the host has resident
func (r *Recorder) RecordResident(enum Enumerator) int {
	if enum == nil || !r.gate.Enabled() {
		return 0
	}
	n := 0
	enum.EachResident(func(dimension, x, z int32) {
		r.AlreadyLoaded(x, z, dimension, "")
		n++
	})
	return n
}

func (r *Recorder) AlreadyLoaded(x, z, dimension int32, annotation string) {
	r.Record(event.AlreadyLoaded, x, z, dimension, annotation)
}

func (r *Recorder) Loaded(x, z, dimension int32, annotation string) {
	r.Record(event.Loaded, x, z, dimension, annotation)
}

func (r *Recorder) Generated(x, z, dimension int32, annotation string) {
	r.Record(event.Generated, x, z, dimension, annotation)
}

func (r *Recorder) Populated(x, z, dimension int32, annotation string) {
	r.Record(event.Populated, x, z, dimension, annotation)
}

func (r *Recorder) UnloadScheduled(x, z, dimension int32, annotation string) {
	r.Record(event.UnloadScheduled, x, z, dimension, annotation)
}

func (r *Recorder) Unloaded(x, z, dimension int32, annotation string) {
	r.Record(event.Unloaded, x, z, dimension, annotation)
}

func (r *Recorder) record(t event.Type, x, z, dimension int32, annotation string) {
	tick := r.ticks.CurrentTick()
	if tick < 0 {
		tick = 0
	}

	r.queue.Push(event.Event{
		X:         x,
		Z:         z,
		Tick:      tick,
		Dimension: dimension,
		Type:      t,
		Metadata: event.Metadata{
			Trace:      callerTrace(3),
			Annotation: annotation,
		},
	})
	r.metrics.EventRecorded(t)
}

// callerTrace returns the current goroutine's stack as "function(file.go:line)"
// descriptors, innermost first, skipping the given number of frames.
func callerTrace(skip int) []string {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	trace := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		fn := frame.Function
		if fn == "" {
			fn = "unknown"
		}
		trace = append(trace, fmt.Sprintf("%s(%s:%d)", fn, filepath.Base(frame.File), frame.Line))
		if !more {
			break
		}
	}
	return trace
}
