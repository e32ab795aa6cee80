package export

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nicktill/chunkdebug/pkg/event"
	"github.com/nicktill/chunkdebug/pkg/storage"
)

const (
	// MaxImportBatchSize is the maximum number of events to write at once
	MaxImportBatchSize = 5000

	// maxLineSize bounds a single dump line
	maxLineSize = 4 * 1024 * 1024
)

// ReadDump parses a dump file. Blank lines are skipped and malformed lines are
// reported in the returned slice as "line N: reason" without stopping the read.
// The error is non-nil only when r itself fails.
func ReadDump(r io.Reader) ([]event.Event, []string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	var events []event.Event
	var problems []string
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			continue
		}
		e, err := event.ParseLine(line)
		if err != nil {
			problems = append(problems, fmt.Sprintf("line %d: %v", lineNo, err))
			continue
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return events, problems, fmt.Errorf("failed to read dump: %w", err)
	}
	return events, problems, nil
}

// Importer loads dump files into storage as new sessions
type Importer struct {
	storage storage.Storage
}

// NewImporter creates a new importer
func NewImporter(store storage.Storage) *Importer {
	return &Importer{storage: store}
}

// ImportResult contains stats about the import operation
type ImportResult struct {
	Session        string    `json:"session"`
	EventsImported int       `json:"events_imported"`
	BatchesWritten int       `json:"batches_written"`
	TickRange      string    `json:"tick_range"`
	ImportedAt     time.Time `json:"imported_at"`
	Errors         []string  `json:"errors,omitempty"`
}

// ImportDump reads a dump file and writes its events under session.
// An empty session gets a generated "dump-<uuid>" ID.
func (im *Importer) ImportDump(ctx context.Context, r io.Reader, session string) (*ImportResult, error) {
	events, problems, err := ReadDump(r)
	if err != nil {
		return nil, err
	}
	if session == "" {
		session = "dump-" + uuid.NewString()
	}

	result := &ImportResult{
		Session:    session,
		TickRange:  "empty",
		ImportedAt: time.Now(),
		Errors:     problems,
	}
	if len(events) == 0 {
		return result, nil
	}

	// Write events in batches to avoid overwhelming storage
	for i := 0; i < len(events); i += MaxImportBatchSize {
		end := i + MaxImportBatchSize
		if end > len(events) {
			end = len(events)
		}
		if err := im.storage.Write(ctx, session, events[i:end]); err != nil {
			return nil, fmt.Errorf("failed to write batch %d: %w", result.BatchesWritten, err)
		}
		result.BatchesWritten++
	}

	minTick, maxTick := events[0].Tick, events[0].Tick
	for _, e := range events {
		if e.Tick < minTick {
			minTick = e.Tick
		}
		if e.Tick > maxTick {
			maxTick = e.Tick
		}
	}

	result.EventsImported = len(events)
	result.TickRange = fmt.Sprintf("%d to %d", minTick, maxTick)
	return result, nil
}
