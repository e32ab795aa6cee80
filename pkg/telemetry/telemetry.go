// Package telemetry exposes Prometheus counters for the recorder and the listener.
//
// Every method is safe to call on a nil *Metrics so instrumentation can be
// left out entirely in tests and embedded hosts.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicktill/chunkdebug/pkg/event"
)

const namespace = "chunkdebug"

// Metrics groups the collectors used across the recorder pipeline
type Metrics struct {
	recorded   *prometheus.CounterVec
	written    *prometheus.CounterVec
	sinkErrors *prometheus.CounterVec
	sessions   *prometheus.CounterVec
	received   prometheus.Counter
}

// New creates and registers the collectors on reg.
// queueDepth, if non-nil, is exported as a gauge sampled at scrape time.
func New(reg prometheus.Registerer, queueDepth func() float64) *Metrics {
	m := &Metrics{
		recorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_recorded_total",
			Help:      "Chunk events accepted by the capture layer.",
		}, []string{"event"}),
		written: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_written_total",
			Help:      "Chunk events written by a sink.",
		}, []string{"sink"}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Sink failures by kind.",
		}, []string{"kind"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Capture sessions started by mode.",
		}, []string{"mode"}),
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_events_received_total",
			Help:      "Records received by the listener.",
		}),
	}

	reg.MustRegister(m.recorded, m.written, m.sinkErrors, m.sessions, m.received)
	if queueDepth != nil {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Events waiting in the capture queue.",
		}, queueDepth))
	}
	return m
}

// EventRecorded counts an event accepted by the capture layer
func (m *Metrics) EventRecorded(t event.Type) {
	if m == nil {
		return
	}
	m.recorded.WithLabelValues(string(t)).Inc()
}

// EventsWritten counts events delivered by a sink ("file" or "stream")
func (m *Metrics) EventsWritten(sink string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.written.WithLabelValues(sink).Add(float64(n))
}

// SinkError counts a sink failure ("sink_io", "connect", "stream_io")
func (m *Metrics) SinkError(kind string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(kind).Inc()
}

// SessionStarted counts a capture session ("recording" or "streaming")
func (m *Metrics) SessionStarted(mode string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(mode).Inc()
}

// EventsReceived counts records accepted by the listener
func (m *Metrics) EventsReceived(n int) {
	if m == nil || n == 0 {
		return
	}
	m.received.Add(float64(n))
}
