// Package mcp implements the MCP (Model Context Protocol) server for diaryctl.
//
// Agents see entry metadata by default. Decrypted entry text is served only
// when mcp.allow_content is set in config.yaml, and every read is audited.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/diaryctl/internal/config"
	"github.com/forest6511/diaryctl/pkg/audit"
	"github.com/forest6511/diaryctl/pkg/journal"
	"github.com/forest6511/diaryctl/pkg/reflection"
	"github.com/forest6511/diaryctl/pkg/store"
	"github.com/forest6511/diaryctl/pkg/vault"
)

// ErrNoPassphrase is returned when neither the options nor the environment
// supply a passphrase.
var ErrNoPassphrase = errors.New("no passphrase provided: set " + config.EnvPassphrase + " environment variable")

// Server represents the MCP server for diaryctl.
type Server struct {
	server   *mcp.Server
	db       *store.SQLite
	vault    *vault.Manager
	journal  *journal.Service
	prompter *reflection.Prompter
	audit    *audit.Logger
	cfg      *config.Config
	loc      *time.Location
	now      func() time.Time
}

// ServerOptions contains configuration options for the MCP server.
type ServerOptions struct {
	// Home is the diaryctl home directory.
	// If empty, it is resolved as for the CLI.
	Home string

	// Passphrase unlocks the vault.
	// If empty, the server reads DIARYCTL_PASSPHRASE and clears it.
	Passphrase string

	// Config overrides <home>/config.yaml.
	Config *config.Config

	// Version is reported to clients.
	Version string

	// Location defines calendar days. Defaults to time.Local.
	Location *time.Location
}

// NewServer opens the journal under the home directory and unlocks it.
func NewServer(opts *ServerOptions) (*Server, error) {
	if opts == nil {
		opts = &ServerOptions{}
	}

	home, err := config.ResolveHome(opts.Home)
	if err != nil {
		return nil, err
	}

	cfg := opts.Config
	if cfg == nil {
		if cfg, err = config.Load(home); err != nil {
			return nil, err
		}
	}

	passphrase := opts.Passphrase
	if passphrase == "" {
		passphrase = os.Getenv(config.EnvPassphrase)
		// Clear the environment variable after reading
		os.Unsetenv(config.EnvPassphrase)
	}
	if passphrase == "" {
		return nil, ErrNoPassphrase
	}

	db, err := store.Open(home)
	if err != nil {
		return nil, err
	}

	auditLog := audit.NewLogger(config.AuditDir(home))
	v := vault.NewManager(db, vault.WithAudit(auditLog, audit.SourceMCP))
	if err := v.Unlock(passphrase); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to unlock vault: %w", err)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	codec := v.Codec()

	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		server: mcp.NewServer(
			&mcp.Implementation{
				Name:    "diaryctl",
				Version: version,
			},
			nil,
		),
		db:       db,
		vault:    v,
		journal:  journal.NewService(db, codec, journal.WithLocation(loc), journal.WithAudit(auditLog, audit.SourceMCP)),
		prompter: reflection.NewPrompter(db, codec, cfg.PromptRotation),
		audit:    auditLog,
		cfg:      cfg,
		loc:      loc,
		now:      time.Now,
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all MCP tools with the server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "journal_list",
		Description: "List journal entries with metadata: id, date, sentiment and themes. Does NOT return entry text.",
	}, s.handleJournalList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "journal_read",
		Description: "Read the decrypted text of one journal entry. Only available when the user has set mcp.allow_content in config.yaml.",
	}, s.handleJournalRead)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "journal_prompt",
		Description: "Get the current journaling prompt. Set new to pick a different one.",
	}, s.handleJournalPrompt)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "journal_summary",
		Description: "Summarize the last week or month: sentiment trend, top themes and highlights. Does NOT return entry text.",
	}, s.handleJournalSummary)
}

// Run starts the MCP server using stdio transport.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()

	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Close locks the vault and closes the database.
func (s *Server) Close() error {
	s.vault.Lock()
	return s.db.Close()
}
