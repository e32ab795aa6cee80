package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// Recorder holds recorder settings read from CHUNKDEBUG_* environment variables
type Recorder struct {
	DumpDir      string        `env:"CHUNKDEBUG_DUMP_DIR" envDefault:"."`
	StreamHost   string        `env:"CHUNKDEBUG_STREAM_HOST" envDefault:"127.0.0.1"`
	StreamPort   int           `env:"CHUNKDEBUG_STREAM_PORT" envDefault:"20000"`
	PollInterval time.Duration `env:"CHUNKDEBUG_POLL_INTERVAL" envDefault:"50ms"`
	HTTPAddr     string        `env:"CHUNKDEBUG_HOST_HTTP_ADDR" envDefault:":8091"`
}

// Listener holds listener settings read from CHUNKDEBUG_* environment variables
type Listener struct {
	Host         string `env:"CHUNKDEBUG_LISTEN_HOST" envDefault:"127.0.0.1"`
	Port         int    `env:"CHUNKDEBUG_LISTEN_PORT" envDefault:"20000"`
	HTTPAddr     string `env:"CHUNKDEBUG_HTTP_ADDR" envDefault:":8090"`
	DataDir      string `env:"CHUNKDEBUG_DATA_DIR" envDefault:"./data/chunkdebug"`
	InMemory     bool   `env:"CHUNKDEBUG_IN_MEMORY" envDefault:"false"`
	MaxMemoryMB  int64  `env:"CHUNKDEBUG_MAX_MEMORY_MB" envDefault:"48"`
	MaxStorageGB int64  `env:"CHUNKDEBUG_MAX_STORAGE_GB" envDefault:"1"`
}

// LoadRecorder parses recorder settings from the environment
func LoadRecorder() (Recorder, error) {
	var cfg Recorder
	if err := env.Parse(&cfg); err != nil {
		return Recorder{}, fmt.Errorf("failed to parse recorder config: %w", err)
	}
	if err := validPort(cfg.StreamPort); err != nil {
		return Recorder{}, fmt.Errorf("CHUNKDEBUG_STREAM_PORT: %w", err)
	}
	return cfg, nil
}

// LoadListener parses listener settings from the environment
func LoadListener() (Listener, error) {
	var cfg Listener
	if err := env.Parse(&cfg); err != nil {
		return Listener{}, fmt.Errorf("failed to parse listener config: %w", err)
	}
	if err := validPort(cfg.Port); err != nil {
		return Listener{}, fmt.Errorf("CHUNKDEBUG_LISTEN_PORT: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the host:port the TCP listener binds
func (l Listener) ListenAddr() string {
	return net.JoinHostPort(l.Host, strconv.Itoa(l.Port))
}

// MaxStorageBytes returns the storage limit in bytes
func (l Listener) MaxStorageBytes() int64 {
	return l.MaxStorageGB * 1024 * 1024 * 1024
}

func validPort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", port)
	}
	return nil
}
