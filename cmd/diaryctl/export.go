package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/diaryctl/pkg/audit"
	"github.com/forest6511/diaryctl/pkg/backup"
)

var (
	exportOutput string
	exportForce  bool
)

func init() {
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)

	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Output file path (default: stdout)")
	exportCmd.Flags().BoolVarP(&exportForce, "force", "f", false, "Overwrite existing file")
}

// exportCmd writes every entry as plaintext JSON
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export entries as plaintext JSON",
	Long: `Export every entry, decrypted, as a JSON list. The output is NOT encrypted.
Use 'diaryctl backup' for an encrypted copy.

Examples:
  diaryctl export -o journal.json
  diaryctl export | jq '.[].content'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var path string
		if exportOutput != "" {
			var err error
			path, err = validateOutputPath(exportOutput)
			if err != nil {
				return err
			}
			if !exportForce {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("output file already exists: %s (use --force to overwrite)", path)
				}
			}
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}

		entries, err := journalSvc.All()
		if err != nil {
			return err
		}
		data, err := backup.ExportJSON(entries)
		if err != nil {
			return err
		}

		if path == "" {
			if _, err := os.Stdout.Write(append(data, '\n')); err != nil {
				return err
			}
		} else {
			if err := os.WriteFile(path, data, 0600); err != nil {
				return fmt.Errorf("failed to write output file: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Exported %d entries to %s\n", len(entries), path)
		}
		out.WarnfAlways("the export is not encrypted; delete it when you no longer need it")

		_ = auditLog.Log(audit.OpEntryExport, audit.SourceCLI, audit.ResultSuccess, "", nil,
			map[string]any{"count": len(entries)})
		return nil
	},
}

// importCmd reads a JSON export back into the journal
var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import entries from a JSON export",
	Long: `Import entries from a file written by 'diaryctl export'.

Entries for days without an entry are added. Text for a day that already has
an entry is appended to it, unless it is identical.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read import file: %w", err)
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}

		result, err := backup.Import(journalSvc, data, time.Now())
		if err != nil {
			if result != nil && result.Total() > 0 {
				out.WarnfAlways("import stopped after %d entries", result.Total())
			}
			_ = auditLog.LogError(audit.OpEntryImport, audit.SourceCLI, "", "import_failed", err.Error())
			return fmt.Errorf("import failed: %w", err)
		}

		_ = auditLog.Log(audit.OpEntryImport, audit.SourceCLI, audit.ResultSuccess, "", nil, map[string]any{
			"imported": result.Imported,
			"merged":   result.Merged,
			"skipped":  result.Skipped,
		})
		fmt.Printf("%s Imported %d, merged %d, skipped %d\n", okMark, result.Imported, result.Merged, result.Skipped)
		return nil
	},
}

// validateOutputPath resolves p and requires it to sit under the working
// directory, the user's home directory or the temp directory.
func validateOutputPath(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("invalid output path: %w", err)
	}

	var prefixes []string
	if cwd, err := os.Getwd(); err == nil {
		prefixes = append(prefixes, cwd)
	}
	if h, err := os.UserHomeDir(); err == nil {
		prefixes = append(prefixes, h)
	}
	prefixes = append(prefixes, os.TempDir())

	for _, prefix := range prefixes {
		if within(abs, prefix) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("output path must be within the current directory, home directory or %s", os.TempDir())
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
