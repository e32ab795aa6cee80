package server

import (
	"context"
	"errors"
	"log"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/nicktill/chunkdebug/pkg/server/monitor"
	"github.com/nicktill/chunkdebug/pkg/storage"
	"github.com/nicktill/chunkdebug/pkg/storage/badger"
)

const gcDiscardRatio = 0.5

// RunBadgerGC runs value log garbage collection every interval until ctx is
// done. Non-badger stores return immediately.
func RunBadgerGC(ctx context.Context, store storage.Storage, interval time.Duration) error {
	badgerStore, ok := store.(*badger.Storage)
	if !ok {
		log.Println("Storage is not BadgerDB, skipping GC")
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("🧹 BadgerDB GC scheduler started (runs every %v)", interval)

	for {
		select {
		case <-ctx.Done():
			log.Println("🛑 Stopping BadgerDB GC scheduler")
			return nil
		case <-ticker.C:
			start := time.Now()
			err := badgerStore.RunGC(gcDiscardRatio)
			switch {
			case err == nil:
				log.Printf("GC completed in %v (disk space reclaimed)", time.Since(start).Round(time.Millisecond))
			case errors.Is(err, badgerdb.ErrNoRewrite):
				log.Printf("GC completed in %v (no rewrite needed)", time.Since(start).Round(time.Millisecond))
			default:
				log.Printf("⚠️  BadgerDB GC failed: %v", err)
			}
		}
	}
}

// WatchStorage logs a warning whenever the data directory grows past its limit.
// A nil monitor returns immediately.
func WatchStorage(ctx context.Context, sm *monitor.StorageMonitor, interval time.Duration) error {
	if sm == nil {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	warned := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			over, err := sm.Exceeded()
			if err != nil {
				log.Printf("⚠️  Failed to measure storage: %v", err)
				continue
			}
			if over && !warned {
				used, _ := sm.GetUsage()
				log.Printf("⚠️  Storage limit exceeded: %d of %d bytes, delete old sessions", used, sm.GetLimit())
			}
			warned = over
		}
	}
}
