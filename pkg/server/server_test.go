package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicktill/chunkdebug/pkg/config"
	"github.com/nicktill/chunkdebug/pkg/control"
	"github.com/nicktill/chunkdebug/pkg/event"
	"github.com/nicktill/chunkdebug/pkg/ingest"
	"github.com/nicktill/chunkdebug/pkg/listener"
	"github.com/nicktill/chunkdebug/pkg/server/monitor"
	"github.com/nicktill/chunkdebug/pkg/sim"
	"github.com/nicktill/chunkdebug/pkg/storage"
	"github.com/nicktill/chunkdebug/pkg/storage/memory"
	"github.com/nicktill/chunkdebug/pkg/telemetry"
)

type testStack struct {
	store    storage.Storage
	listener *listener.Server
	router   *mux.Router
	addr     *net.TCPAddr
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memory.New()
	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg, nil)

	hub := ingest.NewEntryHub()
	go hub.Run(ctx)

	srv := listener.New(store, listener.Config{
		FlushInterval: 10 * time.Millisecond,
		Publisher:     hub,
		Metrics:       metrics,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go srv.Serve(ctx, ln)

	router := mux.NewRouter()
	SetupRoutes(router, InitializeHandlers(store, srv, hub), store, nil, reg, "8090")

	return &testStack{store: store, listener: srv, router: router, addr: ln.Addr().(*net.TCPAddr)}
}

func (s *testStack) get(t *testing.T, target string, out interface{}) int {
	t.Helper()
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	if out != nil && rr.Code == http.StatusOK {
		if err := json.Unmarshal(rr.Body.Bytes(), out); err != nil {
			t.Fatalf("Invalid JSON from %s: %v", target, err)
		}
	}
	return rr.Code
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestE2E_StreamSimulatedWorld streams a simulated world through the recorder
// into the listener and reads it back over the HTTP API.
func TestE2E_StreamSimulatedWorld(t *testing.T) {
	stack := newTestStack(t)

	world := sim.NewWorld(sim.Config{Dimensions: []int32{0, -1}, Radius: 1, UnloadDelay: 2, Seed: 7})
	m := control.New(control.Config{DumpDir: t.TempDir(), PollInterval: 10 * time.Millisecond, Ticks: world, Resident: world})
	defer m.Close()
	world.SetHooks(m.Recorder())
	world.Step()

	if err := m.Connect(context.Background(), nil, "127.0.0.1", stack.addr.Port); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	for i := 0; i < 15; i++ {
		world.Step()
	}

	waitFor(t, "queue to drain", func() bool {
		return m.QueueLen() == 0 && stack.listener.Status().Received > 0
	})
	if err := m.Disconnect(nil); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	waitFor(t, "listener to go idle", func() bool {
		return stack.listener.Status().State == listener.Running
	})

	var sessions struct {
		Count    int               `json:"count"`
		Sessions []storage.Session `json:"sessions"`
	}
	if code := stack.get(t, "/v1/sessions", &sessions); code != http.StatusOK {
		t.Fatalf("sessions: status %d", code)
	}
	if sessions.Count != 1 {
		t.Fatalf("Expected 1 session, got %d", sessions.Count)
	}
	session := sessions.Sessions[0]

	var events struct {
		Count   int             `json:"count"`
		Entries []storage.Entry `json:"entries"`
	}
	if code := stack.get(t, "/v1/events?limit=50000&session="+session.ID, &events); code != http.StatusOK {
		t.Fatalf("events: status %d", code)
	}
	if uint64(events.Count) != session.Events {
		t.Errorf("Expected %d events, got %d", session.Events, events.Count)
	}

	// The session baseline comes first: 9 resident chunks per dimension
	baseline := 0
	for _, e := range events.Entries {
		if e.Type != event.AlreadyLoaded {
			break
		}
		baseline++
	}
	if baseline != 18 {
		t.Errorf("Expected 18 ALREADY_LOADED events first, got %d", baseline)
	}
	for _, e := range events.Entries {
		if len(e.Metadata.Trace) == 0 {
			t.Fatalf("Event %+v has no stack trace", e.Event)
		}
	}

	var ticks struct {
		Ticks []int32 `json:"ticks"`
	}
	stack.get(t, "/v1/ticks?dimension=-1&session="+session.ID, &ticks)
	if len(ticks.Ticks) == 0 || ticks.Ticks[0] != 1 {
		t.Errorf("Expected nether timeline to start at tick 1, got %v", ticks.Ticks)
	}

	rr := httptest.NewRecorder()
	stack.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	want := "chunkdebug_listener_events_received_total " + strconv.FormatUint(session.Events, 10)
	if !strings.Contains(rr.Body.String(), want) {
		t.Errorf("Expected %q in /metrics output", want)
	}
}

func TestE2E_ImportThenExport(t *testing.T) {
	stack := newTestStack(t)

	var dump strings.Builder
	for i := int32(0); i < 4; i++ {
		event.WriteLine(&dump, event.Event{X: i, Z: -i, Tick: 10 + i, Type: event.Loaded})
	}

	rr := httptest.NewRecorder()
	stack.router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/import?session=saved", strings.NewReader(dump.String())))
	if rr.Code != http.StatusOK {
		t.Fatalf("import: status %d: %s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	stack.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/export?session=saved", nil))
	if rr.Body.String() != dump.String() {
		t.Errorf("Exported dump differs:\n%s\nvs\n%s", rr.Body.String(), dump.String())
	}

	var status listener.Status
	stack.get(t, "/v1/status", &status)
	if status.State != listener.Running {
		t.Errorf("Expected listener running, got %s", status.State)
	}
}

func TestHealthAndStorage(t *testing.T) {
	store := memory.New()
	reg := prometheus.NewRegistry()
	dir := t.TempDir()

	tests := []struct {
		name       string
		sm         *monitor.StorageMonitor
		wantHealth int
		wantStatus string
	}{
		{"in memory", nil, http.StatusOK, "healthy"},
		{"under limit", monitor.NewStorageMonitor(dir, 1<<30), http.StatusOK, "healthy"},
		{"missing dir", monitor.NewStorageMonitor(dir+"/missing", 1<<30), http.StatusServiceUnavailable, "degraded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := mux.NewRouter()
			SetupRoutes(router, InitializeHandlers(store, nil, nil), store, tt.sm, reg, "8090")

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			if rr.Code != tt.wantHealth {
				t.Errorf("Expected %d, got %d", tt.wantHealth, rr.Code)
			}
			var health HealthResponse
			json.Unmarshal(rr.Body.Bytes(), &health)
			if health.Status != tt.wantStatus {
				t.Errorf("Expected %q, got %q", tt.wantStatus, health.Status)
			}
		})
	}

	router := mux.NewRouter()
	SetupRoutes(router, InitializeHandlers(store, nil, nil), store, nil, reg, "8090")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/storage", nil))
	var usage StorageUsage
	json.Unmarshal(rr.Body.Bytes(), &usage)
	if rr.Code != http.StatusOK || !usage.InMemory {
		t.Errorf("Expected in-memory usage, got %d %+v", rr.Code, usage)
	}
}

func TestCORSAllowsLocalOrigins(t *testing.T) {
	store := memory.New()
	router := mux.NewRouter()
	SetupRoutes(router, InitializeHandlers(store, nil, nil), store, nil, prometheus.NewRegistry(), "8090")

	for origin, want := range map[string]string{
		"http://localhost:8090": "http://localhost:8090",
		"http://evil.example":   "",
	} {
		req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
		req.Header.Set("Origin", origin)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("Origin %s: expected %q, got %q", origin, want, got)
		}
	}
}

func TestRunBadgerGCSkipsMemoryStore(t *testing.T) {
	if err := RunBadgerGC(context.Background(), memory.New(), config.BadgerGCInterval); err != nil {
		t.Errorf("Expected nil, got %v", err)
	}
}

func TestInitializeStorageInMemory(t *testing.T) {
	store, err := InitializeStorage(config.Listener{InMemory: true})
	if err != nil {
		t.Fatalf("InitializeStorage failed: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*memory.Storage); !ok {
		t.Errorf("Expected memory storage, got %T", store)
	}
	if InitializeMonitor(config.Listener{InMemory: true}) != nil {
		t.Error("Expected no monitor for in-memory storage")
	}
}
