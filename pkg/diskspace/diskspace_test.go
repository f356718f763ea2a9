package diskspace

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestCheck(t *testing.T) {
	info, err := Check(t.TempDir())
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if info.Total == 0 {
		t.Error("expected non-zero total space")
	}
	if info.Available > info.Total {
		t.Errorf("available %d exceeds total %d", info.Available, info.Total)
	}
	if info.UsedPct < 0 || info.UsedPct > 100 {
		t.Errorf("UsedPct = %d, want 0..100", info.UsedPct)
	}
}

func TestCheckMissingPathUsesParent(t *testing.T) {
	if _, err := Check(filepath.Join(t.TempDir(), "not-created-yet")); err != nil {
		t.Errorf("Check on missing path failed: %v", err)
	}
}

func TestEnsureAvailable(t *testing.T) {
	var buf bytes.Buffer
	prev := Warnings
	Warnings = &buf
	defer func() { Warnings = prev }()

	dir := t.TempDir()
	info, err := Check(dir)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}

	if info.Available > 2*MinFreeBytes {
		if err := EnsureAvailable(dir, 1024); err != nil {
			t.Errorf("EnsureAvailable(1KB) failed: %v", err)
		}
	}

	// A write larger than half the free space can never fit.
	huge := int(info.Available/2) + 1
	if err := EnsureAvailable(dir, huge); !errors.Is(err, ErrInsufficient) {
		t.Errorf("EnsureAvailable(huge) error = %v, want %v", err, ErrInsufficient)
	}
}

func TestUsedPercent(t *testing.T) {
	tests := []struct {
		total, free uint64
		want        int
	}{
		{0, 0, 0},
		{100, 100, 0},
		{100, 10, 90},
		{100, 0, 100},
	}
	for _, tt := range tests {
		if got := usedPercent(tt.total, tt.free); got != tt.want {
			t.Errorf("usedPercent(%d, %d) = %d, want %d", tt.total, tt.free, got, tt.want)
		}
	}
}
