// Package ingest serves the listener's HTTP API: the received sessions and
// chunk events, the listener status and a live WebSocket feed of new entries.
package ingest

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nicktill/chunkdebug/pkg/config"
	"github.com/nicktill/chunkdebug/pkg/httpx"
	"github.com/nicktill/chunkdebug/pkg/listener"
	"github.com/nicktill/chunkdebug/pkg/storage"
)

// StatusSource reports the TCP listener state
type StatusSource interface {
	Status() listener.Status
}

// Handler serves read access to received chunk events
type Handler struct {
	store  storage.Storage
	status StatusSource
}

// NewHandler creates a new ingest handler. status may be nil when no TCP
// listener runs, e.g. a server that only holds imported dumps.
func NewHandler(store storage.Storage, status StatusSource) *Handler {
	return &Handler{store: store, status: status}
}

// EventsResponse is returned by GET /v1/events
type EventsResponse struct {
	Entries []storage.Entry `json:"entries"`
	Count   int             `json:"count"`
	Limit   int             `json:"limit"`
}

// TicksResponse is returned by GET /v1/ticks
type TicksResponse struct {
	Session   string  `json:"session"`
	Dimension int32   `json:"dimension"`
	Ticks     []int32 `json:"ticks"`
}

// HandleStatus handles GET /v1/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		httpx.RespondJSON(w, http.StatusOK, listener.Status{State: listener.Stopped})
		return
	}
	httpx.RespondJSON(w, http.StatusOK, h.status.Status())
}

// HandleSessions handles GET /v1/sessions
func (h *Handler) HandleSessions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	sessions, err := h.store.Sessions(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// HandleDeleteSession handles DELETE /v1/sessions/{id}
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "session id is required")
		return
	}

	err := h.store.DeleteSession(r.Context(), id)
	if errors.Is(err, storage.ErrSessionNotFound) {
		httpx.RespondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		log.Printf("❌ Failed to delete session %s: %v", id, err)
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	log.Printf("🗑️  Deleted session %s", id)
	w.WriteHeader(http.StatusNoContent)
}

// HandleEvents handles GET /v1/events. See ParseQuery for the parameters.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	req, err := ParseQuery(r)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	entries, err := h.store.Query(ctx, req)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	if entries == nil {
		entries = []storage.Entry{}
	}

	httpx.RespondJSON(w, http.StatusOK, EventsResponse{
		Entries: entries,
		Count:   len(entries),
		Limit:   req.Limit,
	})
}

// HandleTicks handles GET /v1/ticks?session=&dimension=
// The dimension defaults to 0.
func (h *Handler) HandleTicks(w http.ResponseWriter, r *http.Request) {
	session := r.URL.Query().Get("session")
	if session == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "session is required")
		return
	}
	dim, err := httpx.QueryInt32(r, "dimension")
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	resp := TicksResponse{Session: session}
	if dim != nil {
		resp.Dimension = *dim
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
	defer cancel()

	resp.Ticks, err = storage.Ticks(ctx, h.store, session, resp.Dimension)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// HandleStats handles GET /v1/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, stats)
}
