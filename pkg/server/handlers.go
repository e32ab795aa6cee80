package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nicktill/chunkdebug/pkg/httpx"
	"github.com/nicktill/chunkdebug/pkg/server/monitor"
	"github.com/nicktill/chunkdebug/pkg/storage"
)

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes int64 `json:"used_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
	InMemory  bool  `json:"in_memory,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// handleHealth reports degraded once the data directory is over its limit.
func handleHealth(sm *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if sm != nil {
			if over, err := sm.Exceeded(); err != nil || over {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		httpx.RespondJSON(w, code, HealthResponse{
			Status:  status,
			Version: "1.0.0",
			Uptime:  time.Since(startTime).Round(time.Second).String(),
		})
	}
}

// handleStorageUsage returns current storage usage.
func handleStorageUsage(store storage.Storage, sm *monitor.StorageMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sm == nil {
			stats, err := store.Stats(r.Context())
			if err != nil {
				httpx.RespondError(w, http.StatusInternalServerError, err)
				return
			}
			httpx.RespondJSON(w, http.StatusOK, StorageUsage{UsedBytes: int64(stats.SizeBytes), InMemory: true})
			return
		}

		used, err := sm.GetUsage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}
		httpx.RespondJSON(w, http.StatusOK, StorageUsage{UsedBytes: used, MaxBytes: sm.GetLimit()})
	}
}

// SetupRoutes configures all HTTP routes of the listener.
// sm may be nil for in-memory storage.
func SetupRoutes(
	router *mux.Router,
	handlers Handlers,
	store storage.Storage,
	sm *monitor.StorageMonitor,
	gatherer prometheus.Gatherer,
	port string,
) {
	router.Use(corsMiddleware(port))

	router.HandleFunc("/health", handleHealth(sm)).Methods("GET")
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	api := router.PathPrefix("/v1").Subrouter()

	api.HandleFunc("/status", handlers.Ingest.HandleStatus).Methods("GET")
	api.HandleFunc("/sessions", handlers.Ingest.HandleSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", handlers.Ingest.HandleDeleteSession).Methods("DELETE")
	api.HandleFunc("/events", handlers.Ingest.HandleEvents).Methods("GET")
	api.HandleFunc("/ticks", handlers.Ingest.HandleTicks).Methods("GET")
	api.HandleFunc("/stats", handlers.Ingest.HandleStats).Methods("GET")
	api.HandleFunc("/storage", handleStorageUsage(store, sm)).Methods("GET")

	api.HandleFunc("/export", handlers.Export.HandleExport).Methods("GET")
	api.HandleFunc("/import", handlers.Export.HandleImport).Methods("POST")

	api.HandleFunc("/ws", handlers.Hub.HandleWebSocket).Methods("GET")
}

// corsMiddleware creates CORS middleware that restricts to localhost origins only.
func corsMiddleware(port string) func(http.Handler) http.Handler {
	allowed := map[string]bool{
		"http://localhost:" + port: true,
		"http://127.0.0.1:" + port: true,
		"http://localhost:3000":    true,
		"http://127.0.0.1:3000":    true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin := r.Header.Get("Origin"); allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
