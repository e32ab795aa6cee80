package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/nicktill/chunkdebug/pkg/command"
	"github.com/nicktill/chunkdebug/pkg/config"
	"github.com/nicktill/chunkdebug/pkg/control"
	"github.com/nicktill/chunkdebug/pkg/httpx"
	"github.com/nicktill/chunkdebug/pkg/sim"
)

const maxCommandSize = 1024

func main() {
	if err := run(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func run() error {
	cfg, err := config.LoadRecorder()
	if err != nil {
		return err
	}

	worldCfg := sim.DefaultConfig()
	tickEvery := 50 * time.Millisecond
	flagSet := pflag.NewFlagSet("chunkdebug-host", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.DumpDir, "dump-dir", cfg.DumpDir, "directory receiving chunkDebug-*.csv dumps")
	flagSet.StringVar(&cfg.StreamHost, "stream-host", cfg.StreamHost, "host the connect command dials")
	flagSet.IntVar(&cfg.StreamPort, "stream-port", cfg.StreamPort, "default port of the connect command")
	flagSet.StringVar(&cfg.HTTPAddr, "http", cfg.HTTPAddr, "address of the control API")
	flagSet.DurationVar(&tickEvery, "tick", tickEvery, "simulated tick interval")
	flagSet.Int32Var(&worldCfg.Radius, "radius", worldCfg.Radius, "chunk radius loaded around each walker")
	flagSet.Int64Var(&worldCfg.Seed, "seed", worldCfg.Seed, "random seed of the simulated world")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	log.Println("🚀 Starting simulated chunk host...")

	world := sim.NewWorld(worldCfg)
	reg := prometheus.NewRegistry()
	manager := control.New(control.Config{
		DumpDir:      cfg.DumpDir,
		PollInterval: cfg.PollInterval,
		Ticks:        world,
		Resident:     world,
		Registerer:   reg,
	})
	world.SetHooks(manager.Recorder())
	commands := command.NewHandler(manager, cfg.StreamHost, cfg.StreamPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		world.Run(ctx, tickEvery)
	}()

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/v1/command", handleCommand(commands)).Methods("POST")
	router.HandleFunc("/v1/state", func(w http.ResponseWriter, r *http.Request) {
		httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
			"state":  manager.State().String(),
			"tick":   world.CurrentTick(),
			"queued": manager.QueueLen(),
		})
	}).Methods("GET")

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}
	go func() {
		log.Printf("🌐 Control API on %s (POST /v1/command, GET /v1/state, GET /metrics)", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("❌ Control API failed: %v", err)
			stop()
		}
	}()

	go readCommands(ctx, os.Stdin, commands)
	log.Printf("✅ Host ready, type %s", command.Usage)

	<-ctx.Done()
	log.Println("🛑 Shutdown signal received...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️  Server shutdown warning: %v", err)
	}
	wg.Wait()

	if err := manager.Close(); err != nil {
		log.Printf("⚠️  Chunk debug close warning: %v", err)
	}
	log.Println("👋 Host exited cleanly")
	return nil
}

// readCommands executes one control command per stdin line until EOF
func readCommands(ctx context.Context, r io.Reader, commands *command.Handler) {
	console := control.NotifierFunc(func(msg string) {
		fmt.Println(msg)
	})

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Errors were already reported through the notifier
		commands.ExecuteLine(ctx, console, line)
	}
}

// CommandResponse is returned by POST /v1/command
type CommandResponse struct {
	Notices []string `json:"notices"`
	Error   string   `json:"error,omitempty"`
}

// handleCommand runs the command line in the request body
func handleCommand(commands *command.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandSize))
		if err != nil {
			httpx.RespondError(w, http.StatusBadRequest, err)
			return
		}

		var mu sync.Mutex
		resp := CommandResponse{Notices: []string{}}
		done := false
		notices := control.NotifierFunc(func(msg string) {
			mu.Lock()
			defer mu.Unlock()
			// Later stream notices only reach the log
			if !done {
				resp.Notices = append(resp.Notices, msg)
			}
		})

		err = commands.ExecuteLine(r.Context(), notices, string(body))

		mu.Lock()
		done = true
		if err != nil {
			resp.Error = err.Error()
		}
		mu.Unlock()

		status := http.StatusOK
		if errors.Is(err, command.ErrUsage) {
			status = http.StatusBadRequest
		}
		httpx.RespondJSON(w, status, resp)
	}
}
