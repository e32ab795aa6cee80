package config

import "time"

// Recorder defaults
const (
	DefaultStreamHost  = "127.0.0.1"
	DefaultStreamPort  = 20000
	StreamPollInterval = 50 * time.Millisecond
	DumpFilePrefix     = "chunkDebug-"
	DumpFileExt        = ".csv"
	DefaultDumpDir     = "."
)

// Listener defaults
const (
	DefaultListenHost    = "127.0.0.1"
	DefaultListenPort    = 20000
	DefaultHTTPAddr      = ":8090"
	DefaultDataDir       = "./data/chunkdebug"
	DefaultMaxMemoryMB   = 48
	DefaultMaxStorageGB  = 1
	ListenerBatchSize    = 500
	ListenerFlushEvery   = 100 * time.Millisecond
	ListenerWriteTimeout = 10 * time.Second
)

// Background task intervals
const (
	BadgerGCInterval     = 10 * time.Minute
	StorageCacheDuration = 10 * time.Second
)

// Query defaults and limits
const (
	QueryDefaultLimit = 1000
	QueryMaxLimit     = 50000
	QueryTimeout      = 30 * time.Second
)

// HTTP server timeouts
const (
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 10 * time.Second
	ShutdownTimeout    = 30 * time.Second
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
