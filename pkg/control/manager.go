package control

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicktill/chunkdebug/pkg/capture"
	"github.com/nicktill/chunkdebug/pkg/config"
	"github.com/nicktill/chunkdebug/pkg/queue"
	"github.com/nicktill/chunkdebug/pkg/sink"
	"github.com/nicktill/chunkdebug/pkg/telemetry"
)

var (
	// ErrAlreadyActive is returned when starting a session while one is running
	ErrAlreadyActive = errors.New("chunk debug already enabled")

	// ErrWrongMode is returned when stopping the mode that isn't running,
	// e.g. stop during a streaming session
	ErrWrongMode = errors.New("chunk debug running in another mode")
)

// Config wires the manager to its host
type Config struct {
	// DumpDir receives recording dumps
	DumpDir string

	// PollInterval is the streaming sweep interval
	PollInterval time.Duration

	// Ticks samples the host simulation clock (required)
	Ticks capture.TickSource

	// Resident enumerates resident chunks for the session baseline. Optional.
	Resident capture.Enumerator

	// Dialer opens stream connections. Defaults to net.Dialer.
	Dialer sink.Dialer

	// Registerer, if set, receives the recorder's Prometheus collectors
	Registerer prometheus.Registerer
}

// Manager owns the capture state machine, the queue and the active sink.
// A Manager starts Disabled; call Close at process exit.
type Manager struct {
	// mu serializes control transitions; the capture path never takes it
	mu sync.Mutex

	state     atomic.Int32
	activeDim atomic.Int32

	queue    *queue.Queue
	recorder *capture.Recorder
	files    *sink.FileSink
	streamer *sink.Streamer
	metrics  *telemetry.Metrics
	config   Config
}

// New creates a disabled manager
func New(cfg Config) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.StreamPollInterval
	}

	m := &Manager{
		queue:  queue.New(),
		config: cfg,
	}
	if cfg.Registerer != nil {
		m.metrics = telemetry.New(cfg.Registerer, func() float64 {
			return float64(m.queue.Len())
		})
	}
	m.recorder = capture.NewRecorder(m, m.queue, cfg.Ticks, m.metrics)
	m.files = sink.NewFileSink(cfg.DumpDir, m.metrics)
	return m
}

// Recorder returns the capture API bound to this manager
func (m *Manager) Recorder() *capture.Recorder {
	return m.recorder
}

// State returns the current control state
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Enabled reports whether events are being captured
func (m *Manager) Enabled() bool {
	return m.state.Load() != int32(Disabled)
}

// ActiveDimension returns the dimension used by Recorder.RecordActive
func (m *Manager) ActiveDimension() int32 {
	return m.activeDim.Load()
}

// SetActiveDimension sets the dimension tagged by Recorder.RecordActive
func (m *Manager) SetActiveDimension(d int32) {
	m.activeDim.Store(d)
}

// QueueLen returns the number of events waiting for a sink
func (m *Manager) QueueLen() int {
	return m.queue.Len()
}

// Start begins a recording session that ends with Stop
func (m *Manager) Start(n Notifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != Disabled {
		notify(n, "Already enabled")
		return fmt.Errorf("start: %w", ErrAlreadyActive)
	}
	m.reapStreamer()

	notify(n, "Recording chunk events")
	m.queue.Clear()
	m.state.Store(int32(Recording))
	m.metrics.SessionStarted("recording")
	m.baseline()
	return nil
}

// Stop ends a recording session and writes the dump file, returning its path.
// Stopping while disabled is a no-op that writes nothing.
func (m *Manager) Stop(n Notifier) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.State() {
	case Disabled:
		notify(n, "Chunk debug is not recording")
		return "", nil
	case Streaming:
		notify(n, "Chunk debug is streaming, use disconnect")
		return "", fmt.Errorf("stop: %w", ErrWrongMode)
	}

	m.state.Store(int32(Disabled))
	return m.dump(n)
}

// Connect opens a streaming session to host:port. The dial happens on the
// caller's goroutine and is bounded only by ctx.
func (m *Manager) Connect(ctx context.Context, n Notifier, host string, port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != Disabled {
		notify(n, "Already enabled")
		return fmt.Errorf("connect: %w", ErrAlreadyActive)
	}
	m.reapStreamer()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := sink.Dial(ctx, m.config.Dialer, addr)
	if err != nil {
		m.metrics.SinkError("connect")
		notify(n, "Error connecting to chunk debug server, check console")
		log.Printf("[chunkdebug] %v", err)
		return err
	}

	m.queue.Clear()

	streamer := sink.NewStreamer(conn, m.queue, sink.StreamConfig{
		PollInterval: m.config.PollInterval,
		OnFailure: func(err error) {
			// Only this session's stream may disable capture
			m.state.CompareAndSwap(int32(Streaming), int32(Disabled))
			notify(n, "Error talking to chunk debug server, check console")
		},
		OnClosed: func() {
			notify(n, "Disconnected from chunk debug server")
		},
	}, m.metrics)

	m.streamer = streamer
	m.state.Store(int32(Streaming))
	streamer.Start(context.Background())
	notify(n, "Connected to chunk debug server")
	m.metrics.SessionStarted("streaming")
	m.baseline()
	return nil
}

// Disconnect ends a streaming session. It waits for the stream to send what is
// queued and close the connection.
func (m *Manager) Disconnect(n Notifier) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.State() {
	case Disabled:
		m.reapStreamer()
		notify(n, "Chunk debug is not connected")
		return nil
	case Recording:
		notify(n, "Chunk debug is recording, use stop")
		return fmt.Errorf("disconnect: %w", ErrWrongMode)
	}

	m.state.Store(int32(Disabled))
	return m.reapStreamer()
}

// Close forces the manager to Disabled, flushing whatever sink is open:
// a recording is dumped to file, a stream is flushed and closed.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.State()
	m.state.Store(int32(Disabled))

	switch prev {
	case Recording:
		_, err := m.dump(nil)
		return err
	case Streaming:
		return m.reapStreamer()
	}
	m.reapStreamer()
	return nil
}

// baseline feeds every resident chunk through the capture API as ALREADY_LOADED
func (m *Manager) baseline() {
	if m.config.Resident == nil {
		return
	}
	count := m.recorder.RecordResident(m.config.Resident)
	log.Printf("[chunkdebug] baseline: %d resident chunks", count)
}

func (m *Manager) dump(n Notifier) (string, error) {
	path, _, err := m.files.WriteSession(m.queue)
	if err != nil {
		notify(n, fmt.Sprintf("Error writing chunk debug file: %v", err))
		return path, err
	}
	notify(n, "Writing to file: "+path)
	return path, nil
}

// reapStreamer stops the current streamer, if any, and waits for it to exit
func (m *Manager) reapStreamer() error {
	if m.streamer == nil {
		return nil
	}
	err := m.streamer.Stop()
	m.streamer = nil
	return err
}
