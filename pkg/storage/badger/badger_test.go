package badger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nicktill/chunkdebug/pkg/event"
	"github.com/nicktill/chunkdebug/pkg/storage"
)

func newTestStore(t *testing.T) *Storage {
	t.Helper()
	// Use in-memory mode for tests
	store, err := New(Config{InMemory: true})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testEvents() []event.Event {
	return []event.Event{
		{X: 3, Z: 4, Tick: 10, Type: event.Loaded, Metadata: event.Metadata{Trace: []string{"a(a.go:1)"}}},
		{X: 9, Z: 9, Tick: 10, Type: event.Generated},
		{X: 3, Z: 4, Tick: 11, Type: event.Populated, Metadata: event.Metadata{Annotation: "note"}},
		{X: 1, Z: 1, Tick: 12, Dimension: -1, Type: event.Loaded},
		{X: 3, Z: 4, Tick: 15, Type: event.Unloaded},
	}
}

func TestBadgerStorage_WriteAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Write(ctx, "s1", testEvents()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	results, err := store.Query(ctx, storage.QueryRequest{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("Expected 5 entries, got %d", len(results))
	}

	// Arrival order survives the chunk-grouped key layout
	want := testEvents()
	for i, r := range results {
		if r.Event.Pos() != want[i].Pos() || r.Type != want[i].Type {
			t.Errorf("entry %d: expected %v %s, got %v %s", i, want[i].Pos(), want[i].Type, r.Pos(), r.Type)
		}
		if i > 0 && results[i-1].Seq >= r.Seq {
			t.Errorf("entry %d: sequence not increasing", i)
		}
	}
	if results[0].Metadata.Trace[0] != "a(a.go:1)" || results[2].Metadata.Annotation != "note" {
		t.Errorf("metadata not preserved: %+v", results[0].Metadata)
	}
}

func TestBadgerStorage_QueryWithFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Write(ctx, "s1", testEvents())
	store.Write(ctx, "s2", []event.Event{{X: 3, Z: 4, Tick: 1, Type: event.AlreadyLoaded}})

	overworld := int32(0)
	minTick, maxTick := int32(10), int32(11)
	chunk := event.Pos{Dimension: 0, X: 3, Z: 4}

	tests := []struct {
		name string
		req  storage.QueryRequest
		want int
	}{
		{"session", storage.QueryRequest{Session: "s2"}, 1},
		{"dimension", storage.QueryRequest{Dimension: &overworld}, 5},
		{"chunk across sessions", storage.QueryRequest{Chunk: &chunk}, 4},
		{"chunk in session", storage.QueryRequest{Session: "s1", Chunk: &chunk}, 3},
		{"tick range", storage.QueryRequest{Session: "s1", MinTick: &minTick, MaxTick: &maxTick}, 3},
		{"types", storage.QueryRequest{Types: []event.Type{event.Loaded}}, 2},
		{"limit keeps earliest", storage.QueryRequest{Session: "s1", Chunk: &chunk, Limit: 2}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := store.Query(ctx, tt.req)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if len(results) != tt.want {
				t.Errorf("Expected %d entries, got %d", tt.want, len(results))
			}
		})
	}

	limited, _ := store.Query(ctx, storage.QueryRequest{Session: "s1", Chunk: &chunk, Limit: 2})
	if len(limited) == 2 && (limited[0].Tick != 10 || limited[1].Tick != 11) {
		t.Errorf("Expected the two earliest entries, got ticks %d and %d", limited[0].Tick, limited[1].Tick)
	}
}

func TestBadgerStorage_Sessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Write(ctx, "zeta", testEvents()[:2])
	store.Write(ctx, "alpha", testEvents()[2:3])
	store.Write(ctx, "zeta", testEvents()[4:])

	sessions, err := store.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "zeta" || sessions[1].ID != "alpha" {
		t.Errorf("Expected creation order [zeta alpha], got [%s %s]", sessions[0].ID, sessions[1].ID)
	}
	z := sessions[0]
	if z.Events != 3 || z.FirstTick != 10 || z.LastTick != 15 {
		t.Errorf("Unexpected session summary: %+v", z)
	}
	if z.Updated.Before(z.Created) {
		t.Errorf("Updated %v before Created %v", z.Updated, z.Created)
	}
}

func TestBadgerStorage_DeleteSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Write(ctx, "s1", testEvents())
	store.Write(ctx, "s2", testEvents()[:1])

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}

	results, _ := store.Query(ctx, storage.QueryRequest{})
	if len(results) != 1 || results[0].Session != "s2" {
		t.Errorf("Expected only the s2 entry to remain, got %d entries", len(results))
	}
	sessions, _ := store.Sessions(ctx)
	if len(sessions) != 1 {
		t.Errorf("Expected 1 session, got %d", len(sessions))
	}

	if err := store.DeleteSession(ctx, "s1"); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestBadgerStorage_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Write(ctx, "s1", testEvents())
	store.Write(ctx, "s2", testEvents()[:1])

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalEntries != 6 {
		t.Errorf("Expected 6 entries, got %d", stats.TotalEntries)
	}
	if stats.TotalSessions != 2 {
		t.Errorf("Expected 2 sessions, got %d", stats.TotalSessions)
	}
	if stats.TotalChunks != 3 {
		t.Errorf("Expected 3 chunks, got %d", stats.TotalChunks)
	}
}

func TestBadgerStorage_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := New(Config{Path: dir})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	if err := store.Write(ctx, "s1", testEvents()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	store.Close()

	store, err = New(Config{Path: dir})
	if err != nil {
		t.Fatalf("Failed to reopen storage: %v", err)
	}
	defer store.Close()

	if err := store.Write(ctx, "s2", testEvents()[:1]); err != nil {
		t.Fatalf("Write after reopen failed: %v", err)
	}

	results, err := store.Query(ctx, storage.QueryRequest{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("Expected 6 entries after reopen, got %d", len(results))
	}
	if results[5].Session != "s2" {
		t.Errorf("Entries written after reopen must sort last, got session %q", results[5].Session)
	}
}

func TestBadgerStorage_ContextCancelled(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Write(ctx, "s1", testEvents()); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from Write, got %v", err)
	}
	if _, err := store.Query(ctx, storage.QueryRequest{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from Query, got %v", err)
	}
}

func TestBadgerStorage_Ticks(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store.Write(ctx, "s1", testEvents())
	ticks, err := storage.Ticks(ctx, store, "s1", 0)
	if err != nil {
		t.Fatalf("Ticks failed: %v", err)
	}
	want := []int32{10, 11, 15}
	if len(ticks) != len(want) {
		t.Fatalf("Expected %v, got %v", want, ticks)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, ticks)
		}
	}
}
