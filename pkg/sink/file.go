package sink

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/nicktill/chunkdebug/pkg/config"
	"github.com/nicktill/chunkdebug/pkg/event"
	"github.com/nicktill/chunkdebug/pkg/queue"
	"github.com/nicktill/chunkdebug/pkg/telemetry"
)

// maxNameAttempts bounds the numeric suffixes tried when a dump name is taken
const maxNameAttempts = 100

// FileSink dumps a recording session to a timestamped file
type FileSink struct {
	dir     string
	now     func() time.Time
	metrics *telemetry.Metrics
}

// NewFileSink creates a file sink writing into dir. metrics may be nil.
func NewFileSink(dir string, metrics *telemetry.Metrics) *FileSink {
	if dir == "" {
		dir = config.DefaultDumpDir
	}
	return &FileSink{
		dir:     dir,
		now:     time.Now,
		metrics: metrics,
	}
}

// FileName returns the dump name for t, e.g. chunkDebug-2024-05-01-13-04-05-0420.csv.
// The last group is the fraction of the second in 1/10000 s.
func FileName(t time.Time) string {
	return fmt.Sprintf("%s%s-%04d%s",
		config.DumpFilePrefix,
		t.Format("2006-01-02-15-04-05"),
		t.Nanosecond()/100000,
		config.DumpFileExt,
	)
}

// WriteSession drains q into a new dump file and returns its path and the
// number of events written. It runs on the caller's goroutine.
func (s *FileSink) WriteSession(q *queue.Queue) (string, int, error) {
	f, path, err := s.create()
	if err != nil {
		s.metrics.SinkError("sink_io")
		return "", 0, fmt.Errorf("%w: %w", ErrSinkIO, err)
	}

	n, err := writeEvents(f, q.DrainAll())
	if err != nil {
		f.Close()
		s.metrics.SinkError("sink_io")
		return path, n, fmt.Errorf("%w: failed to write %s: %w", ErrSinkIO, path, err)
	}
	if err := f.Close(); err != nil {
		s.metrics.SinkError("sink_io")
		return path, n, fmt.Errorf("%w: failed to close %s: %w", ErrSinkIO, path, err)
	}

	s.metrics.EventsWritten("file", n)
	log.Printf("[chunkdebug] wrote %d events to %s", n, path)
	return path, n, nil
}

// create opens a fresh dump file, adding a numeric suffix if the timestamped name exists
func (s *FileSink) create() (*os.File, string, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, "", fmt.Errorf("failed to create dump directory: %w", err)
	}

	base := FileName(s.now())
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := base
		if attempt > 0 {
			ext := filepath.Ext(base)
			name = fmt.Sprintf("%s-%d%s", base[:len(base)-len(ext)], attempt, ext)
		}
		path := filepath.Join(s.dir, name)

		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("failed to create %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("no free dump file name for %s after %d attempts", base, maxNameAttempts)
}

func writeEvents(f *os.File, events []event.Event) (int, error) {
	w := bufio.NewWriter(f)
	for i, e := range events {
		if err := event.WriteLine(w, e); err != nil {
			return i, err
		}
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}
	return len(events), nil
}
