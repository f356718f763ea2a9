package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forest6511/diaryctl/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the MCP server for AI assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI assistant integration",
	Long: `Start the MCP server that lets AI assistants read your journal.

The server implements the Model Context Protocol (MCP) over stdio transport.
By default agents see entry metadata only: dates, mood and themes.

Available tools:
  - journal_list:    List entries in a date range (metadata only)
  - journal_read:    Read an entry's text (needs mcp.allow_content: true)
  - journal_prompt:  Get the current writing prompt
  - journal_summary: Summarize mood and themes over a week or month

Every content read and every refused read is recorded in the audit log.

Authentication:
  Set DIARYCTL_PASSPHRASE environment variable before starting the server.
  The passphrase is read once and immediately cleared from the environment.

  SECURITY NOTE: On Linux, the environment variable may briefly be visible
  via /proc/<pid>/environ before it is cleared.

Example MCP configuration:
  {
    "mcpServers": {
      "diaryctl": {
        "type": "stdio",
        "command": "/path/to/diaryctl",
        "args": ["mcp-server"],
        "env": {
          "DIARYCTL_PASSPHRASE": "your-passphrase"
        }
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer()
	},
}

func runMCPServer() error {
	server, err := mcp.NewServer(&mcp.ServerOptions{
		Home:    home,
		Config:  cfg,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
		server.Close()
	}()

	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
