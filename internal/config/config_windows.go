//go:build windows

package config

import (
	"fmt"
	"os"
)

// openConfigFile opens the config file. Windows has no O_NOFOLLOW, so
// symlinks are detected with Lstat.
func openConfigFile(path string) (*os.File, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, ErrSymlink
	}
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("config: failed to open config file: %w", err)
	}
	return f, nil
}

// checkFileSecurity on Windows is a no-op; access is governed by ACLs.
func checkFileSecurity(_ os.FileInfo) error {
	return nil
}
