// Package monitor tracks the listener's on-disk footprint.
package monitor

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nicktill/chunkdebug/pkg/config"
)

// StorageMonitor reports disk usage of the data directory, cached between
// filesystem walks.
type StorageMonitor struct {
	dataDir       string
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	mu            sync.Mutex
}

// NewStorageMonitor creates a monitor for dataDir with a limit of maxBytes
func NewStorageMonitor(dataDir string, maxBytes int64) *StorageMonitor {
	return &StorageMonitor{
		dataDir:       dataDir,
		maxBytes:      maxBytes,
		cacheDuration: config.StorageCacheDuration,
	}
}

// GetUsage returns the bytes used by the data directory
func (sm *StorageMonitor) GetUsage() (int64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.lastCheck.IsZero() && time.Since(sm.lastCheck) < sm.cacheDuration {
		return sm.cachedUsage, nil
	}

	usage, err := dirSize(sm.dataDir)
	if err != nil {
		return 0, err
	}

	sm.cachedUsage = usage
	sm.lastCheck = time.Now()
	return usage, nil
}

// GetLimit returns the configured storage limit in bytes
func (sm *StorageMonitor) GetLimit() int64 {
	return sm.maxBytes
}

// Exceeded reports whether usage is over the limit. A zero limit never trips.
func (sm *StorageMonitor) Exceeded() (bool, error) {
	if sm.maxBytes <= 0 {
		return false, nil
	}
	used, err := sm.GetUsage()
	if err != nil {
		return false, err
	}
	return used > sm.maxBytes, nil
}

func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		n, err := diskUsage(p, info)
		if err != nil {
			n = info.Size()
		}
		size += n
		return nil
	})
	return size, err
}
