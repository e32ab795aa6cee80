//go:build !windows

package monitor

import (
	"os"
	"syscall"
)

// diskUsage returns the bytes allocated to a file, which for badger's
// preallocated value logs is smaller than the logical size
func diskUsage(_ string, info os.FileInfo) (int64, error) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.Size(), nil
	}
	return stat.Blocks * 512, nil
}
