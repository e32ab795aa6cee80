package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nicktill/chunkdebug/pkg/config"
	"github.com/nicktill/chunkdebug/pkg/ingest"
	"github.com/nicktill/chunkdebug/pkg/listener"
	"github.com/nicktill/chunkdebug/pkg/server"
	"github.com/nicktill/chunkdebug/pkg/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func run() error {
	cfg, err := server.LoadConfig()
	if err != nil {
		return err
	}

	flagSet := pflag.NewFlagSet("chunkdebug-listener", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.Host, "host", cfg.Host, "address the chunk debug stream listener binds")
	flagSet.IntVar(&cfg.Port, "port", cfg.Port, "port the chunk debug stream listener binds")
	flagSet.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "address of the HTTP API")
	flagSet.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "BadgerDB directory")
	flagSet.BoolVar(&cfg.InMemory, "in-memory", cfg.InMemory, "keep entries in memory only")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("--port %d out of range 1-65535", cfg.Port)
	}

	log.Println("🚀 Starting chunk debug listener...")

	store, err := server.InitializeStorage(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Printf("⚠️  Storage close warning: %v", err)
		}
	}()
	storageMonitor := server.InitializeMonitor(cfg)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.New(reg, nil)

	hub := ingest.NewEntryHub()
	streamListener := listener.New(store, listener.Config{
		Addr:      cfg.ListenAddr(),
		Publisher: hub,
		Metrics:   metrics,
	})
	handlers := server.InitializeHandlers(store, streamListener, hub)

	router := mux.NewRouter()
	server.SetupRoutes(router, handlers, store, storageMonitor, reg, httpPort(cfg.HTTPAddr))

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return streamListener.ListenAndServe(ctx)
	})
	g.Go(func() error {
		return server.RunBadgerGC(ctx, store, config.BadgerGCInterval)
	})
	g.Go(func() error {
		return server.WatchStorage(ctx, storageMonitor, config.StorageCacheDuration)
	})
	g.Go(func() error {
		log.Printf("🌐 HTTP API on %s", cfg.HTTPAddr)
		log.Println("   GET  /v1/sessions  - Received sessions")
		log.Println("   GET  /v1/events    - Query chunk events")
		log.Println("   GET  /v1/ticks     - Tick timeline of a dimension")
		log.Println("   POST /v1/import    - Load a dump file")
		log.Println("   GET  /v1/export    - Download a session as a dump")
		log.Println("   GET  /v1/ws        - Live entries")
		log.Println("   GET  /metrics      - Prometheus endpoint")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve HTTP: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Println("🛑 Shutdown signal received...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("⚠️  Server shutdown warning: %v", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Println("👋 Chunk debug listener exited cleanly")
	return nil
}

// httpPort extracts the port of a listen address for the CORS allow list
func httpPort(addr string) string {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		return addr[i+1:]
	}
	return addr
}
