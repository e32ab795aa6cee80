package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/chunkdebug/pkg/event"
	"github.com/nicktill/chunkdebug/pkg/listener"
	"github.com/nicktill/chunkdebug/pkg/storage/memory"
)

type fixedStatus listener.Status

func (s fixedStatus) Status() listener.Status { return listener.Status(s) }

func seededHandler(t *testing.T) *Handler {
	t.Helper()
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, "s1", []event.Event{
		{X: 0, Z: 0, Tick: 5, Type: event.AlreadyLoaded},
		{X: 1, Z: 2, Tick: 6, Type: event.Generated},
		{X: 1, Z: 2, Tick: 6, Type: event.Populated},
		{X: 1, Z: 2, Tick: 9, Dimension: -1, Type: event.Loaded},
		{X: 1, Z: 2, Tick: 12, Type: event.Unloaded},
	}))
	require.NoError(t, store.Write(ctx, "s2", []event.Event{{Tick: 1, Type: event.Loaded}}))
	return NewHandler(store, fixedStatus{State: listener.Connected, Session: "s2", Received: 1})
}

func getJSON(t *testing.T, fn http.HandlerFunc, target string, out interface{}) int {
	t.Helper()
	rr := httptest.NewRecorder()
	fn(rr, httptest.NewRequest(http.MethodGet, target, nil))
	if out != nil && rr.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), out))
	}
	return rr.Code
}

func TestHandleEvents(t *testing.T) {
	h := seededHandler(t)

	tests := []struct {
		name   string
		target string
		count  int
	}{
		{"all", "/v1/events", 6},
		{"session", "/v1/events?session=s1", 5},
		{"chunk in overworld", "/v1/events?session=s1&x=1&z=2", 3},
		{"chunk in nether", "/v1/events?session=s1&x=1&z=2&dimension=-1", 1},
		{"tick range", "/v1/events?session=s1&min_tick=6&max_tick=9", 3},
		{"types", "/v1/events?session=s1&type=generated,POPULATED", 2},
		{"limit", "/v1/events?limit=2", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp EventsResponse
			require.Equal(t, http.StatusOK, getJSON(t, h.HandleEvents, tt.target, &resp))
			assert.Equal(t, tt.count, resp.Count)
			assert.Len(t, resp.Entries, tt.count)
		})
	}
}

func TestHandleEvents_BadRequests(t *testing.T) {
	h := seededHandler(t)

	for _, target := range []string{
		"/v1/events?limit=0",
		"/v1/events?limit=abc",
		"/v1/events?x=1",
		"/v1/events?type=EXPLODED",
		"/v1/events?min_tick=10&max_tick=2",
		"/v1/events?dimension=end",
	} {
		rr := httptest.NewRecorder()
		h.HandleEvents(rr, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rr.Code, target)
	}
}

func TestParseQueryLimit(t *testing.T) {
	req, err := ParseQuery(httptest.NewRequest(http.MethodGet, "/v1/events", nil))
	require.NoError(t, err)
	assert.Equal(t, 1000, req.Limit)

	req, err = ParseQuery(httptest.NewRequest(http.MethodGet, "/v1/events?limit=999999", nil))
	require.NoError(t, err)
	assert.Equal(t, 50000, req.Limit)

	_, err = ParseQuery(httptest.NewRequest(http.MethodGet, "/v1/events?z=3", nil))
	assert.ErrorIs(t, err, ErrPartialChunk)

	_, err = ParseQuery(httptest.NewRequest(http.MethodGet, "/v1/events?type=nope", nil))
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestHandleTicks(t *testing.T) {
	h := seededHandler(t)

	var resp TicksResponse
	require.Equal(t, http.StatusOK, getJSON(t, h.HandleTicks, "/v1/ticks?session=s1", &resp))
	assert.Equal(t, []int32{5, 6, 12}, resp.Ticks)

	require.Equal(t, http.StatusOK, getJSON(t, h.HandleTicks, "/v1/ticks?session=s1&dimension=-1", &resp))
	assert.Equal(t, []int32{9}, resp.Ticks)
	assert.Equal(t, int32(-1), resp.Dimension)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, h.HandleTicks, "/v1/ticks", nil))
}

func TestHandleSessionsAndDelete(t *testing.T) {
	h := seededHandler(t)

	var resp struct {
		Count    int `json:"count"`
		Sessions []struct {
			ID     string `json:"id"`
			Events uint64 `json:"events"`
		} `json:"sessions"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, h.HandleSessions, "/v1/sessions", &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "s1", resp.Sessions[0].ID)
	assert.Equal(t, uint64(5), resp.Sessions[0].Events)

	del := func(id string) int {
		req := httptest.NewRequest(http.MethodDelete, "/v1/sessions/"+id, nil)
		req = mux.SetURLVars(req, map[string]string{"id": id})
		rr := httptest.NewRecorder()
		h.HandleDeleteSession(rr, req)
		return rr.Code
	}
	assert.Equal(t, http.StatusNoContent, del("s1"))
	assert.Equal(t, http.StatusNotFound, del("s1"))

	require.Equal(t, http.StatusOK, getJSON(t, h.HandleSessions, "/v1/sessions", &resp))
	assert.Equal(t, 1, resp.Count)
}

func TestHandleStatusAndStats(t *testing.T) {
	h := seededHandler(t)

	var status listener.Status
	require.Equal(t, http.StatusOK, getJSON(t, h.HandleStatus, "/v1/status", &status))
	assert.Equal(t, listener.Connected, status.State)
	assert.Equal(t, "s2", status.Session)

	var stats struct {
		TotalEntries  uint64 `json:"total_entries"`
		TotalSessions uint64 `json:"total_sessions"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, h.HandleStats, "/v1/stats", &stats))
	assert.Equal(t, uint64(6), stats.TotalEntries)
	assert.Equal(t, uint64(2), stats.TotalSessions)

	bare := NewHandler(memory.New(), nil)
	require.Equal(t, http.StatusOK, getJSON(t, bare.HandleStatus, "/v1/status", &status))
	assert.Equal(t, listener.Stopped, status.State)
}
