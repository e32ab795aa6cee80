// Package server wires the chunk debug listener: storage, HTTP routes and
// background tasks shared by cmd/listener and its tests.
package server

import (
	"fmt"
	"log"
	"os"

	"github.com/nicktill/chunkdebug/pkg/config"
	"github.com/nicktill/chunkdebug/pkg/export"
	"github.com/nicktill/chunkdebug/pkg/ingest"
	"github.com/nicktill/chunkdebug/pkg/server/monitor"
	"github.com/nicktill/chunkdebug/pkg/storage"
	"github.com/nicktill/chunkdebug/pkg/storage/badger"
	"github.com/nicktill/chunkdebug/pkg/storage/memory"
)

// Handlers groups the HTTP handlers of the listener API
type Handlers struct {
	Ingest *ingest.Handler
	Export *export.Handler
	Hub    *ingest.EntryHub
}

// LoadConfig reads listener settings from CHUNKDEBUG_* environment variables
func LoadConfig() (config.Listener, error) {
	return config.LoadListener()
}

// InitializeStorage opens the entry store described by cfg: BadgerDB under
// cfg.DataDir, or an in-memory store when cfg.InMemory is set.
func InitializeStorage(cfg config.Listener) (storage.Storage, error) {
	if cfg.InMemory {
		log.Println("Using in-memory storage, entries are lost on exit")
		return memory.New(), nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	log.Printf("Initializing BadgerDB storage in %s...", cfg.DataDir)
	store, err := badger.New(badger.Config{
		Path:        cfg.DataDir,
		MaxMemoryMB: cfg.MaxMemoryMB,
	})
	if err != nil {
		return nil, err
	}
	log.Println("BadgerDB storage initialized")
	return store, nil
}

// InitializeMonitor returns a disk usage monitor, or nil for in-memory storage
func InitializeMonitor(cfg config.Listener) *monitor.StorageMonitor {
	if cfg.InMemory {
		return nil
	}
	return monitor.NewStorageMonitor(cfg.DataDir, cfg.MaxStorageBytes())
}

// InitializeHandlers creates the API handlers around the live viewer hub.
// status may be nil; a nil hub gets a fresh one that nothing publishes to.
func InitializeHandlers(store storage.Storage, status ingest.StatusSource, hub *ingest.EntryHub) Handlers {
	if hub == nil {
		hub = ingest.NewEntryHub()
	}
	h := Handlers{
		Ingest: ingest.NewHandler(store, status),
		Export: export.NewHandler(store),
		Hub:    hub,
	}
	log.Println("API handlers created (events, sessions, import/export, live viewer feed)")
	return h
}
