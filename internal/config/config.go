// Package config loads and saves the plaintext settings file.
//
// Settings never hold secrets. The file lives at <home>/config.yaml, where
// home is --home, $DIARYCTL_HOME or ~/.diaryctl in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/forest6511/diaryctl/pkg/crypto"
	"github.com/forest6511/diaryctl/pkg/reflection"
)

// File and directory names under the home directory
const (
	FileName     = "config.yaml"
	AuditDirName = "audit"
	DefaultHome  = ".diaryctl"
)

// Environment variables
const (
	EnvHome       = "DIARYCTL_HOME"
	EnvPassphrase = "DIARYCTL_PASSPHRASE"
	EnvAPIKey     = "OPENAI_API_KEY"
)

const (
	fileMode = 0600
	dirMode  = 0700
)

var (
	// ErrInsecure is returned when the config file is writable by other users.
	ErrInsecure = errors.New("config: config file is writable by other users")

	// ErrSymlink is returned when the config file is a symlink.
	ErrSymlink = errors.New("config: config file is a symlink")

	// ErrNotOwnedByUser is returned when the config file belongs to another user.
	ErrNotOwnedByUser = errors.New("config: config file not owned by current user")
)

// AI configures the reflection client.
type AI struct {
	Model     string `yaml:"model,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`
	MaxTokens int    `yaml:"max_tokens,omitempty"`
}

// MCP configures the MCP server.
type MCP struct {
	// AllowContent lets MCP clients read decrypted entry text.
	AllowContent bool `yaml:"allow_content"`
}

// Config is the contents of config.yaml.
type Config struct {
	UseAI          bool          `yaml:"use_ai"`
	KDF            string        `yaml:"kdf,omitempty"`
	PromptRotation time.Duration `yaml:"prompt_rotation,omitempty"`
	AI             AI            `yaml:"ai"`
	MCP            MCP           `yaml:"mcp"`

	path string
}

// Default returns the settings used when no file exists.
func Default() *Config {
	return &Config{
		KDF:            string(crypto.DefaultKDF),
		PromptRotation: reflection.RotateAfter,
		AI: AI{
			Model:     reflection.DefaultModel,
			BaseURL:   reflection.DefaultBaseURL,
			MaxTokens: reflection.DefaultMaxTokens,
		},
	}
}

// ResolveHome returns flag if set, else $DIARYCTL_HOME, else ~/.diaryctl.
func ResolveHome(flag string) (string, error) {
	if flag != "" {
		return filepath.Abs(flag)
	}
	if env := os.Getenv(EnvHome); env != "" {
		return filepath.Abs(env)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, DefaultHome), nil
}

// AuditDir returns the audit log directory under home.
func AuditDir(home string) string {
	return filepath.Join(home, AuditDirName)
}

// Load reads <home>/config.yaml. A missing file yields Default().
// Missing fields keep their default values.
func Load(home string) (*Config, error) {
	cfg := Default()
	cfg.path = filepath.Join(home, FileName)

	f, err := openConfigFile(cfg.path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// fstat the open descriptor, not the path
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("config: failed to stat config file: %w", err)
	}
	if err := checkFileSecurity(info); err != nil {
		return nil, err
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", FileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the rest of the program cannot use.
func (c *Config) Validate() error {
	if _, err := crypto.ParseKDF(c.KDF); err != nil {
		return fmt.Errorf("config: kdf: %w", err)
	}
	if c.PromptRotation < 0 {
		return fmt.Errorf("config: prompt_rotation must not be negative")
	}
	if c.AI.MaxTokens < 0 {
		return fmt.Errorf("config: ai.max_tokens must not be negative")
	}
	return nil
}

// VaultKDF returns the KDF for new vaults.
func (c *Config) VaultKDF() crypto.KDF {
	kdf, err := crypto.ParseKDF(c.KDF)
	if err != nil {
		return crypto.DefaultKDF
	}
	return kdf
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Save writes the config atomically with mode 0600.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("config: no path set")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), dirMode); err != nil {
		return fmt.Errorf("config: failed to create home directory: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config: failed to write config: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config: failed to write config: %w", err)
	}
	return nil
}

// SetUseAI persists the AI toggle.
func (c *Config) SetUseAI(on bool) error {
	c.UseAI = on
	return c.Save()
}

// APIKey returns $OPENAI_API_KEY.
func APIKey() string {
	return os.Getenv(EnvAPIKey)
}
