package sink

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/nicktill/chunkdebug/pkg/config"
	"github.com/nicktill/chunkdebug/pkg/event"
	"github.com/nicktill/chunkdebug/pkg/queue"
	"github.com/nicktill/chunkdebug/pkg/telemetry"
)

// Dialer opens the outbound stream connection. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Dial connects to a listener at address. Failures are wrapped in ErrConnect.
// No timeout is applied beyond what ctx carries.
func Dial(ctx context.Context, d Dialer, address string) (net.Conn, error) {
	if d == nil {
		d = &net.Dialer{}
	}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnect, address, err)
	}
	return conn, nil
}

// StreamConfig configures a streaming session
type StreamConfig struct {
	// PollInterval is the pause between queue sweeps
	PollInterval time.Duration

	// OnFailure is called from the stream goroutine when a write fails.
	// The session is over by the time it runs; no reconnect is attempted.
	OnFailure func(err error)

	// OnClosed is called from the stream goroutine after a clean Stop
	OnClosed func()
}

// Streamer forwards queued events over a connection until stopped or broken
type Streamer struct {
	conn    net.Conn
	queue   *queue.Queue
	config  StreamConfig
	metrics *telemetry.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	err     error
	written int
}

// NewStreamer creates a streamer that owns conn. metrics may be nil.
func NewStreamer(conn net.Conn, q *queue.Queue, cfg StreamConfig, metrics *telemetry.Metrics) *Streamer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = config.StreamPollInterval
	}
	return &Streamer{
		conn:    conn,
		queue:   q,
		config:  cfg,
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Start launches the stream loop
func (s *Streamer) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.run()
}

// Stop signals the loop to finish its current sweep, flush and close the
// connection, then waits for it. Returns the session error, if any.
func (s *Streamer) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	return s.Err()
}

// Done is closed once the stream loop has exited
func (s *Streamer) Done() <-chan struct{} {
	return s.done
}

// Err returns the failure that ended the session, or nil
func (s *Streamer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Written returns the number of events sent so far
func (s *Streamer) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

func (s *Streamer) run() {
	defer close(s.done)

	w := bufio.NewWriter(s.conn)
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.sweep(w); err != nil {
			s.fail(err)
			return
		}

		select {
		case <-s.ctx.Done():
			// Final sweep so events recorded before the stop signal still go out
			if err := s.sweep(w); err != nil {
				s.fail(err)
				return
			}
			if err := s.conn.Close(); err != nil {
				log.Printf("[chunkdebug] error closing stream connection: %v", err)
			}
			if s.config.OnClosed != nil {
				s.config.OnClosed()
			}
			return
		case <-ticker.C:
		}
	}
}

// sweep polls the queue until empty, writing each event, then flushes
func (s *Streamer) sweep(w *bufio.Writer) error {
	n := 0
	for {
		e, ok := s.queue.Poll()
		if !ok {
			break
		}
		if err := event.WriteLine(w, e); err != nil {
			return err
		}
		n++
	}
	if n == 0 {
		return nil
	}
	if err := w.Flush(); err != nil {
		return err
	}

	s.mu.Lock()
	s.written += n
	s.mu.Unlock()
	s.metrics.EventsWritten("stream", n)
	return nil
}

func (s *Streamer) fail(cause error) {
	err := fmt.Errorf("%w: %w", ErrStreamIO, cause)

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	s.metrics.SinkError("stream_io")
	s.conn.Close()
	log.Printf("[chunkdebug] stream to %s failed: %v", remoteAddr(s.conn), cause)

	if s.config.OnFailure != nil {
		s.config.OnFailure(err)
	}
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
