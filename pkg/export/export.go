package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/nicktill/chunkdebug/pkg/event"
	"github.com/nicktill/chunkdebug/pkg/storage"
)

// Exporter writes stored sessions back out
type Exporter struct {
	storage storage.Storage
}

// NewExporter creates a new exporter
func NewExporter(store storage.Storage) *Exporter {
	return &Exporter{storage: store}
}

// ExportOptions configures the export operation
type ExportOptions struct {
	// Session to export (required)
	Session string

	// Restrict to one dimension (optional)
	Dimension *int32

	// Format: "dump" or "json"
	Format string
}

// ExportResult contains stats about the export
type ExportResult struct {
	EntriesExported int       `json:"entries_exported"`
	Session         string    `json:"session"`
	Format          string    `json:"format"`
	ExportedAt      time.Time `json:"exported_at"`
}

func (e *Exporter) query(ctx context.Context, opts ExportOptions) ([]storage.Entry, error) {
	if opts.Session == "" {
		return nil, fmt.Errorf("session is required")
	}
	entries, err := e.storage.Query(ctx, storage.QueryRequest{
		Session:   opts.Session,
		Dimension: opts.Dimension,
		Limit:     0, // No limit - export everything
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	return entries, nil
}

// ExportSession writes a session in the recorder's dump format, one line per
// entry. The output can be loaded back with ReadDump or the importer.
func (e *Exporter) ExportSession(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	entries, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	bw := bufio.NewWriter(w)
	for _, entry := range entries {
		if err := event.WriteLine(bw, entry.Event); err != nil {
			return nil, fmt.Errorf("failed to write entry %d: %w", entry.Seq, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush dump: %w", err)
	}

	return &ExportResult{
		EntriesExported: len(entries),
		Session:         opts.Session,
		Format:          "dump",
		ExportedAt:      time.Now(),
	}, nil
}

// ExportToJSON exports a session as JSON with an export header
func (e *Exporter) ExportToJSON(ctx context.Context, w io.Writer, opts ExportOptions) (*ExportResult, error) {
	entries, err := e.query(ctx, opts)
	if err != nil {
		return nil, err
	}

	exportData := struct {
		Metadata struct {
			ExportedAt time.Time `json:"exported_at"`
			Session    string    `json:"session"`
			EntryCount int       `json:"entry_count"`
			Format     string    `json:"format"`
			Version    string    `json:"version"`
		} `json:"metadata"`
		Entries []storage.Entry `json:"entries"`
	}{
		Entries: entries,
	}
	if exportData.Entries == nil {
		exportData.Entries = []storage.Entry{}
	}

	exportData.Metadata.ExportedAt = time.Now()
	exportData.Metadata.Session = opts.Session
	exportData.Metadata.EntryCount = len(entries)
	exportData.Metadata.Format = "json"
	exportData.Metadata.Version = "1.0"

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(exportData); err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}

	return &ExportResult{
		EntriesExported: len(entries),
		Session:         opts.Session,
		Format:          "json",
		ExportedAt:      exportData.Metadata.ExportedAt,
	}, nil
}
