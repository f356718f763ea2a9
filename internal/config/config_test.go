package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/forest6511/diaryctl/pkg/crypto"
	"github.com/forest6511/diaryctl/pkg/reflection"
)

func writeConfig(t *testing.T, home, content string, mode os.FileMode) {
	t.Helper()
	path := filepath.Join(home, FileName)
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	// WriteFile is subject to umask
	if err := os.Chmod(path, mode); err != nil {
		t.Fatalf("failed to chmod config: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.UseAI {
		t.Error("AI should be off by default")
	}
	if cfg.VaultKDF() != crypto.DefaultKDF {
		t.Errorf("VaultKDF() = %q, want %q", cfg.VaultKDF(), crypto.DefaultKDF)
	}
	if cfg.PromptRotation != reflection.RotateAfter {
		t.Errorf("PromptRotation = %v, want %v", cfg.PromptRotation, reflection.RotateAfter)
	}
	if cfg.AI.Model != reflection.DefaultModel || cfg.AI.MaxTokens != reflection.DefaultMaxTokens {
		t.Errorf("unexpected AI defaults: %+v", cfg.AI)
	}
	if cfg.MCP.AllowContent {
		t.Error("MCP content access should be off by default")
	}
	if cfg.Path() != filepath.Join(home, FileName) {
		t.Errorf("Path() = %q", cfg.Path())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, `
use_ai: true
kdf: argon2id
prompt_rotation: 30m
ai:
  model: gpt-4.1-mini
mcp:
  allow_content: true
`, 0600)

	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.UseAI || !cfg.MCP.AllowContent {
		t.Errorf("toggles not loaded: %+v", cfg)
	}
	if cfg.VaultKDF() != crypto.KDFArgon2id {
		t.Errorf("VaultKDF() = %q, want argon2id", cfg.VaultKDF())
	}
	if cfg.PromptRotation != 30*time.Minute {
		t.Errorf("PromptRotation = %v, want 30m", cfg.PromptRotation)
	}
	if cfg.AI.Model != "gpt-4.1-mini" {
		t.Errorf("AI.Model = %q", cfg.AI.Model)
	}
	// Unset fields keep defaults
	if cfg.AI.BaseURL != reflection.DefaultBaseURL || cfg.AI.MaxTokens != reflection.DefaultMaxTokens {
		t.Errorf("AI defaults lost: %+v", cfg.AI)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown kdf", "kdf: scrypt\n"},
		{"negative rotation", "prompt_rotation: -1h\n"},
		{"negative max tokens", "ai:\n  max_tokens: -5\n"},
		{"malformed yaml", "use_ai: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := t.TempDir()
			writeConfig(t, home, tt.content, 0600)
			if _, err := Load(home); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadRejectsInsecureFiles(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on Windows")
	}

	t.Run("world writable", func(t *testing.T) {
		home := t.TempDir()
		writeConfig(t, home, "use_ai: true\n", 0666)
		if _, err := Load(home); !errors.Is(err, ErrInsecure) {
			t.Errorf("expected ErrInsecure, got %v", err)
		}
	})

	t.Run("group readable is allowed", func(t *testing.T) {
		home := t.TempDir()
		writeConfig(t, home, "use_ai: true\n", 0640)
		if _, err := Load(home); err != nil {
			t.Errorf("Load failed: %v", err)
		}
	})

	t.Run("symlink", func(t *testing.T) {
		home := t.TempDir()
		target := filepath.Join(t.TempDir(), "elsewhere.yaml")
		if err := os.WriteFile(target, []byte("use_ai: true\n"), 0600); err != nil {
			t.Fatalf("failed to write target: %v", err)
		}
		if err := os.Symlink(target, filepath.Join(home, FileName)); err != nil {
			t.Skipf("symlinks unsupported: %v", err)
		}
		if _, err := Load(home); !errors.Is(err, ErrSymlink) {
			t.Errorf("expected ErrSymlink, got %v", err)
		}
	})
}

func TestSetUseAIPersists(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	cfg, err := Load(home)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := cfg.SetUseAI(true); err != nil {
		t.Fatalf("SetUseAI failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(home, FileName))
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm() != fileMode {
		t.Errorf("config mode = %04o, want %04o", info.Mode().Perm(), fileMode)
	}

	reloaded, err := Load(home)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !reloaded.UseAI {
		t.Error("UseAI should persist")
	}
	if reloaded.PromptRotation != reflection.RotateAfter {
		t.Errorf("PromptRotation = %v after round trip", reloaded.PromptRotation)
	}

	if err := reloaded.SetUseAI(false); err != nil {
		t.Fatalf("SetUseAI failed: %v", err)
	}
	again, err := Load(home)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if again.UseAI {
		t.Error("UseAI should be off after disabling")
	}
}

func TestResolveHome(t *testing.T) {
	flagHome := t.TempDir()
	envHome := t.TempDir()
	t.Setenv(EnvHome, envHome)

	got, err := ResolveHome(flagHome)
	if err != nil {
		t.Fatalf("ResolveHome failed: %v", err)
	}
	if got != flagHome {
		t.Errorf("flag should win: got %q", got)
	}

	got, err = ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome failed: %v", err)
	}
	if got != envHome {
		t.Errorf("env should win over default: got %q", got)
	}

	t.Setenv(EnvHome, "")
	got, err = ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome failed: %v", err)
	}
	if filepath.Base(got) != DefaultHome {
		t.Errorf("default home = %q, want ~/%s", got, DefaultHome)
	}

	if AuditDir(flagHome) != filepath.Join(flagHome, AuditDirName) {
		t.Errorf("AuditDir() = %q", AuditDir(flagHome))
	}
}
