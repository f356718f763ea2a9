//go:build !windows

package diskspace

import (
	"fmt"
	"path/filepath"
	"syscall"
)

// Check returns disk space information for the filesystem holding path.
// If path does not exist yet, its parent directory is used.
func Check(path string) (*Info, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		if err := syscall.Statfs(filepath.Dir(path), &stat); err != nil {
			return nil, fmt.Errorf("diskspace: failed to get disk stats: %w", err)
		}
	}

	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bfree * uint64(stat.Bsize)

	return &Info{
		Total:     total,
		Free:      free,
		Available: stat.Bavail * uint64(stat.Bsize),
		UsedPct:   usedPercent(total, free),
	}, nil
}
