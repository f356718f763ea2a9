//go:build windows

package diskspace

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
)

// Check returns disk space information for the volume holding path.
// If path does not exist yet, its parent directory is used.
func Check(path string) (*Info, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = filepath.Dir(path)
	}

	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("diskspace: failed to convert path: %w", err)
	}

	var available, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &available, &total, &free); err != nil {
		return nil, fmt.Errorf("diskspace: failed to get disk stats: %w", err)
	}

	return &Info{
		Total:     total,
		Free:      free,
		Available: available,
		UsedPct:   usedPercent(total, free),
	}, nil
}
