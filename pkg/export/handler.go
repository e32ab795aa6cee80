package export

import (
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/nicktill/chunkdebug/pkg/config"
	"github.com/nicktill/chunkdebug/pkg/httpx"
	"github.com/nicktill/chunkdebug/pkg/storage"
)

// MaxImportSize caps the request body of POST /v1/import
const MaxImportSize = 256 << 20

// Handler handles export/import HTTP endpoints
type Handler struct {
	exporter *Exporter
	importer *Importer
}

// NewHandler creates a new export/import handler
func NewHandler(store storage.Storage) *Handler {
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store),
	}
}

// HandleExport handles GET /v1/export
// Query params:
//   - session: session ID (required)
//   - format: "dump" or "json" (default: dump)
//   - dimension: restrict to one dimension (optional)
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	format := query.Get("format")
	if format == "" {
		format = "dump"
	}
	if format != "dump" && format != "json" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "Invalid format. Must be 'dump' or 'json'")
		return
	}

	opts := ExportOptions{Session: query.Get("session"), Format: format}
	if opts.Session == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "session is required")
		return
	}
	if d := query.Get("dimension"); d != "" {
		dim, err := strconv.ParseInt(d, 10, 32)
		if err != nil {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("invalid dimension %q", d))
			return
		}
		dim32 := int32(dim)
		opts.Dimension = &dim32
	}

	if format == "json" {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s%s.json", config.DumpFilePrefix, opts.Session))
	} else {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s%s%s", config.DumpFilePrefix, opts.Session, config.DumpFileExt))
	}

	ctx := r.Context()
	var result *ExportResult
	var err error
	if format == "json" {
		result, err = h.exporter.ExportToJSON(ctx, w, opts)
	} else {
		result, err = h.exporter.ExportSession(ctx, w, opts)
	}
	if err != nil {
		log.Printf("❌ Export failed: %v", err)
		http.Error(w, fmt.Sprintf("Export failed: %v", err), http.StatusInternalServerError)
		return
	}

	log.Printf("✅ Exported %d entries (%s) from session %s", result.EntriesExported, format, result.Session)
}

// HandleImport handles POST /v1/import
// The body is a dump file; ?session= names the new session (optional).
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, MaxImportSize)

	result, err := h.importer.ImportDump(r.Context(), body, r.URL.Query().Get("session"))
	if err != nil {
		log.Printf("❌ Import failed: %v", err)
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	if len(result.Errors) > 0 {
		log.Printf("⚠️  Import completed with %d malformed lines", len(result.Errors))
		for i, e := range result.Errors {
			if i < 10 {
				log.Printf("   - %s", e)
			}
		}
		if len(result.Errors) > 10 {
			log.Printf("   ... and %d more errors", len(result.Errors)-10)
		}
	}

	log.Printf("✅ Imported %d events in %d batches into session %s (ticks %s)",
		result.EventsImported, result.BatchesWritten, result.Session, result.TickRange)
	httpx.RespondJSON(w, http.StatusOK, result)
}
