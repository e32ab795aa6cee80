package storage

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/nicktill/chunkdebug/pkg/event"
)

// ErrSessionNotFound is returned when a session ID is unknown
var ErrSessionNotFound = errors.New("session not found")

// Storage defines the interface for received-entry storage backends.
// Implementations: memory (testing), badger (production)
type Storage interface {
	// Write appends events to a session, creating the session on first write.
	// Events keep the order they are given in.
	Write(ctx context.Context, session string, events []event.Event) error

	// Query retrieves entries in arrival order
	Query(ctx context.Context, req QueryRequest) ([]Entry, error)

	// Sessions lists sessions, oldest first
	Sessions(ctx context.Context) ([]Session, error)

	// DeleteSession removes a session and all of its entries
	DeleteSession(ctx context.Context, session string) error

	// Close cleanly shuts down the storage
	Close() error

	// Stats returns storage statistics
	Stats(ctx context.Context) (*Stats, error)
}

// Entry is a stored event. Seq orders entries across all sessions.
type Entry struct {
	Session string `json:"session"`
	Seq     uint64 `json:"seq"`
	event.Event
}

// Session summarizes one stream connection or imported dump
type Session struct {
	ID        string    `json:"id"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
	Events    uint64    `json:"events"`
	FirstTick int32     `json:"first_tick"`
	LastTick  int32     `json:"last_tick"`
}

// QueryRequest specifies what entries to retrieve. Zero values mean no filter.
type QueryRequest struct {
	// Filter by session (optional)
	Session string

	// Filter by dimension (optional)
	Dimension *int32

	// Filter by chunk, including its dimension (optional)
	Chunk *event.Pos

	// Inclusive tick range (optional)
	MinTick *int32
	MaxTick *int32

	// Filter by event type (optional)
	Types []event.Type

	// Limit number of results (0 = no limit)
	Limit int
}

// Matches reports whether e passes every filter of the request
func (r QueryRequest) Matches(e Entry) bool {
	if r.Session != "" && e.Session != r.Session {
		return false
	}
	if r.Dimension != nil && e.Dimension != *r.Dimension {
		return false
	}
	if r.Chunk != nil && e.Pos() != *r.Chunk {
		return false
	}
	if r.MinTick != nil && e.Tick < *r.MinTick {
		return false
	}
	if r.MaxTick != nil && e.Tick > *r.MaxTick {
		return false
	}
	if len(r.Types) > 0 {
		found := false
		for _, t := range r.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Stats provides storage health and usage info
type Stats struct {
	// Total entries stored
	TotalEntries uint64 `json:"total_entries"`

	// Sessions stored
	TotalSessions uint64 `json:"total_sessions"`

	// Distinct chunks (dimension + coordinates) seen
	TotalChunks uint64 `json:"total_chunks"`

	// Storage size in bytes
	SizeBytes uint64 `json:"size_bytes"`
}

// Ticks returns the distinct ticks at which a dimension saw events in a
// session, ascending. This is the timeline a viewer steps through.
func Ticks(ctx context.Context, s Storage, session string, dimension int32) ([]int32, error) {
	entries, err := s.Query(ctx, QueryRequest{Session: session, Dimension: &dimension})
	if err != nil {
		return nil, err
	}

	ticks := make([]int32, 0)
	seen := make(map[int32]bool)
	for _, e := range entries {
		if seen[e.Tick] {
			continue
		}
		seen[e.Tick] = true
		ticks = append(ticks, e.Tick)
	}
	slices.Sort(ticks)
	return ticks, nil
}

// TrackSession folds a batch of events into a session summary
func TrackSession(s *Session, events []event.Event, now time.Time) {
	if s.Created.IsZero() {
		s.Created = now
	}
	s.Updated = now
	for _, e := range events {
		if s.Events == 0 || e.Tick < s.FirstTick {
			s.FirstTick = e.Tick
		}
		if s.Events == 0 || e.Tick > s.LastTick {
			s.LastTick = e.Tick
		}
		s.Events++
	}
}
