// Package listener is the receiving end of the chunk debug stream. It accepts
// one recorder connection at a time, splits the byte stream into lines, parses
// each line into an event and stores the events under a per-connection session.
package listener

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nicktill/chunkdebug/pkg/config"
	"github.com/nicktill/chunkdebug/pkg/event"
	"github.com/nicktill/chunkdebug/pkg/storage"
	"github.com/nicktill/chunkdebug/pkg/telemetry"
)

// State is the listener's connection state
type State string

const (
	Running   State = "running"
	Connected State = "connected"
	Stopped   State = "stopped"
)

// Status is a snapshot of the listener
type Status struct {
	State    State  `json:"state"`
	Remote   string `json:"remote,omitempty"`
	Session  string `json:"session,omitempty"`
	Received uint64 `json:"received"`
	Rejected uint64 `json:"rejected"`
}

// Publisher receives every stored batch, e.g. a live WebSocket hub
type Publisher interface {
	Publish(session string, events []event.Event)
}

// Config configures a listener
type Config struct {
	// Addr is the host:port to bind
	Addr string

	// BatchSize flushes a batch to storage once it holds this many events
	BatchSize int

	// FlushInterval flushes a partial batch after this long
	FlushInterval time.Duration

	// Publisher, if set, is handed every flushed batch
	Publisher Publisher

	// Metrics may be nil
	Metrics *telemetry.Metrics
}

// Server accepts a single recorder connection at a time
type Server struct {
	store  storage.Storage
	config Config

	mu     sync.Mutex
	status Status
	active net.Conn
	addr   net.Addr
}

// New creates a stopped listener writing to store
func New(store storage.Storage, cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = net.JoinHostPort(config.DefaultListenHost, fmt.Sprint(config.DefaultListenPort))
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.ListenerBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = config.ListenerFlushEvery
	}
	return &Server{
		store:  store,
		config: cfg,
		status: Status{State: Stopped},
	}
}

// Status returns a snapshot of the listener state
func (s *Server) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Addr returns the bound address, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// ListenAndServe binds the configured address and serves until ctx is done
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. A connection arriving
// while another is active is closed immediately. Serve closes ln and waits for
// the active connection to finish storing before it returns.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.status = Status{State: Running}
	s.mu.Unlock()
	log.Printf("📡 Chunk debug listener on %s", ln.Addr())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
		s.mu.Lock()
		if s.active != nil {
			s.active.Close()
		}
		s.mu.Unlock()
	}()

	defer func() {
		close(stop)
		wg.Wait()
		s.setState(Stopped)
		log.Println("🛑 Chunk debug listener stopped")
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to accept: %w", err)
		}

		if !s.claim(conn) {
			log.Printf("⚠️  Already connected, rejecting %s", conn.RemoteAddr())
			conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(conn)
		}()
	}
}

// claim makes conn the active connection unless one is already active
func (s *Server) claim(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.status.Rejected++
		return false
	}
	s.active = conn
	s.status.State = Connected
	s.status.Remote = conn.RemoteAddr().String()
	s.status.Session = uuid.NewString()
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = nil
	if s.status.State == Connected {
		s.status.State = Running
	}
	s.status.Remote = ""
	s.status.Session = ""
}

func (s *Server) setState(st State) {
	s.mu.Lock()
	s.status.State = st
	s.mu.Unlock()
}

func (s *Server) handle(conn net.Conn) {
	defer s.release()
	defer conn.Close()

	session := s.Status().Session
	log.Printf("✅ Connection from %s (session %s)", conn.RemoteAddr(), session)

	events := make(chan event.Event, s.config.BatchSize)
	go readEvents(conn, events)

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]event.Event, 0, s.config.BatchSize)
	total := 0
	for {
		select {
		case e, ok := <-events:
			if !ok {
				total += s.flush(session, batch)
				log.Printf("🔌 Connection closed (session %s, %d events)", session, total)
				return
			}
			batch = append(batch, e)
			if len(batch) >= s.config.BatchSize {
				total += s.flush(session, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			total += s.flush(session, batch)
			batch = batch[:0]
		}
	}
}

// flush stores and publishes a batch, returning how many events it held
func (s *Server) flush(session string, batch []event.Event) int {
	if len(batch) == 0 {
		return 0
	}
	// The batch buffer is reused, so hand out a copy
	events := make([]event.Event, len(batch))
	copy(events, batch)

	ctx, cancel := context.WithTimeout(context.Background(), config.ListenerWriteTimeout)
	defer cancel()
	if err := s.store.Write(ctx, session, events); err != nil {
		log.Printf("❌ Failed to store %d events for session %s: %v", len(events), session, err)
		return 0
	}

	s.mu.Lock()
	s.status.Received += uint64(len(events))
	s.mu.Unlock()
	s.config.Metrics.EventsReceived(len(events))

	if s.config.Publisher != nil {
		s.config.Publisher.Publish(session, events)
	}
	return len(events)
}

// readEvents splits r into lines, parses them and sends the events on out.
// Malformed lines are logged and skipped; a trailing partial line is dropped.
// out is closed when r is exhausted or fails.
func readEvents(r io.Reader, out chan<- event.Event) {
	defer close(out)

	br := bufio.NewReaderSize(r, 64*1024)
	lineNo := 0
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if line != "" {
				log.Printf("⚠️  Dropping incomplete line (%d bytes)", len(line))
			}
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Printf("⚠️  Stream read error: %v", err)
			}
			return
		}

		lineNo++
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, err := event.ParseLine(line)
		if err != nil {
			log.Printf("⚠️  Skipping line %d: %v", lineNo, err)
			continue
		}
		out <- e
	}
}
