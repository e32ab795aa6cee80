// Package command parses chunk debug control commands and dispatches them to
// a control.Manager.
package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nicktill/chunkdebug/pkg/config"
	"github.com/nicktill/chunkdebug/pkg/control"
)

// Usage is shown for missing or malformed arguments
const Usage = "/chunkDebug <start|stop|connect|disconnect> [port]"

// ErrUsage is returned when a command line cannot be parsed
var ErrUsage = errors.New("invalid chunk debug command")

var subcommands = []string{"start", "stop", "connect", "disconnect"}

// Handler executes control commands against a manager
type Handler struct {
	manager     *control.Manager
	host        string
	defaultPort int
}

// NewHandler creates a handler. Empty host and zero port fall back to the
// stream defaults.
func NewHandler(m *control.Manager, host string, defaultPort int) *Handler {
	if host == "" {
		host = config.DefaultStreamHost
	}
	if defaultPort <= 0 {
		defaultPort = config.DefaultStreamPort
	}
	return &Handler{manager: m, host: host, defaultPort: defaultPort}
}

// Execute runs one command. args excludes the command name itself,
// e.g. ["connect", "20001"]. Subcommands are case insensitive.
func (h *Handler) Execute(ctx context.Context, n control.Notifier, args []string) error {
	if len(args) < 1 {
		return usage(n)
	}

	switch strings.ToLower(args[0]) {
	case "start":
		return h.manager.Start(n)
	case "stop":
		_, err := h.manager.Stop(n)
		return err
	case "connect":
		port := h.defaultPort
		if len(args) >= 2 {
			p, err := strconv.Atoi(args[1])
			if err != nil || p < 1 || p > 65535 {
				return usage(n)
			}
			port = p
		}
		return h.manager.Connect(ctx, n, h.host, port)
	case "disconnect":
		return h.manager.Disconnect(n)
	default:
		return usage(n)
	}
}

// ExecuteLine splits a raw command line on whitespace and runs it. A leading
// "/chunkDebug" or "chunkDebug" is accepted and dropped.
func (h *Handler) ExecuteLine(ctx context.Context, n control.Notifier, line string) error {
	fields := strings.Fields(line)
	if len(fields) > 0 && strings.EqualFold(strings.TrimPrefix(fields[0], "/"), "chunkDebug") {
		fields = fields[1:]
	}
	return h.Execute(ctx, n, fields)
}

// Complete returns the subcommands matching the partially typed first argument.
// Later arguments have no completions.
func Complete(args []string) []string {
	if len(args) != 1 {
		return nil
	}
	prefix := strings.ToLower(args[0])
	var matches []string
	for _, s := range subcommands {
		if strings.HasPrefix(s, prefix) {
			matches = append(matches, s)
		}
	}
	return matches
}

func usage(n control.Notifier) error {
	if n != nil {
		n.Notify(Usage)
	}
	return fmt.Errorf("%w, usage: %s", ErrUsage, Usage)
}
