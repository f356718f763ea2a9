// Package diskspace reports free space for the filesystem holding a path.
package diskspace

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Thresholds
const (
	MinFreeBytes   = 10 * 1024 * 1024 // 10 MB minimum free space
	WarningPercent = 90               // Warn when disk is 90% full
)

// ErrInsufficient is returned by EnsureAvailable when a write would not fit.
var ErrInsufficient = errors.New("diskspace: insufficient disk space")

// Warnings receives advisory messages. Defaults to stderr.
var Warnings io.Writer = os.Stderr

// Info contains disk usage information
type Info struct {
	Total     uint64 `json:"total"`     // Total disk space in bytes
	Free      uint64 `json:"free"`      // Free disk space in bytes
	Available uint64 `json:"available"` // Available to non-root users
	UsedPct   int    `json:"used_pct"`  // Percentage of disk used
}

// Low reports whether usage is at or above WarningPercent.
func (i *Info) Low() bool {
	return i.UsedPct >= WarningPercent
}

// EnsureAvailable checks that a write of dataSize bytes under path leaves
// at least MinFreeBytes (or twice the data size) available.
// A failure to stat the filesystem is reported as a warning, not an error.
func EnsureAvailable(path string, dataSize int) error {
	info, err := Check(path)
	if err != nil {
		fmt.Fprintf(Warnings, "warning: failed to check disk space: %v\n", err)
		return nil
	}

	required := uint64(MinFreeBytes)
	if uint64(dataSize*2) > required {
		required = uint64(dataSize * 2)
	}

	if info.Available < required {
		return fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficient,
			info.Available/(1024*1024),
			required/(1024*1024))
	}

	if info.Low() {
		fmt.Fprintf(Warnings, "warning: disk is %d%% full, consider freeing space\n", info.UsedPct)
	}
	return nil
}

func usedPercent(total, free uint64) int {
	if total == 0 {
		return 0
	}
	return int(100 * (total - free) / total)
}
