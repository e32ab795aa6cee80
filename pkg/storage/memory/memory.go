package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nicktill/chunkdebug/pkg/event"
	"github.com/nicktill/chunkdebug/pkg/storage"
)

// Storage stores entries in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	entries  []storage.Entry
	sessions map[string]*storage.Session
	order    []string
	seq      uint64
	mu       sync.RWMutex
}

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		entries:  make([]storage.Entry, 0, 10000),
		sessions: make(map[string]*storage.Session),
	}
}

// Write appends events to a session in memory
func (s *Storage) Write(ctx context.Context, session string, events []event.Event) error {
	if session == "" {
		return fmt.Errorf("session id cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		s.seq++
		s.entries = append(s.entries, storage.Entry{Session: session, Seq: s.seq, Event: e})
	}

	sess, ok := s.sessions[session]
	if !ok {
		sess = &storage.Session{ID: session}
		s.sessions[session] = sess
		s.order = append(s.order, session)
	}
	storage.TrackSession(sess, events, time.Now())
	return nil
}

// Query retrieves entries matching the request
func (s *Storage) Query(ctx context.Context, req storage.QueryRequest) ([]storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []storage.Entry
	for _, e := range s.entries {
		if !req.Matches(e) {
			continue
		}
		results = append(results, e)

		// Limit check
		if req.Limit > 0 && len(results) >= req.Limit {
			break
		}
	}
	return results, nil
}

// Sessions lists sessions in creation order
func (s *Storage) Sessions(ctx context.Context) ([]storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]storage.Session, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.sessions[id])
	}
	return out, nil
}

// DeleteSession removes a session and its entries
func (s *Storage) DeleteSession(ctx context.Context, session string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session]; !ok {
		return fmt.Errorf("%w: %s", storage.ErrSessionNotFound, session)
	}
	delete(s.sessions, session)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == session })

	filtered := make([]storage.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Session != session {
			filtered = append(filtered, e)
		}
	}
	s.entries = filtered
	return nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := make(map[event.Pos]bool)
	for _, e := range s.entries {
		chunks[e.Pos()] = true
	}

	return &storage.Stats{
		TotalEntries:  uint64(len(s.entries)),
		TotalSessions: uint64(len(s.sessions)),
		TotalChunks:   uint64(len(chunks)),
		// Rough size estimate (each entry ~200 bytes with its trace)
		SizeBytes: uint64(len(s.entries)) * 200,
	}, nil
}
