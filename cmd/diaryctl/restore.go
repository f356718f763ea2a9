package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forest6511/diaryctl/internal/config"
	"github.com/forest6511/diaryctl/pkg/audit"
	"github.com/forest6511/diaryctl/pkg/backup"
	"github.com/forest6511/diaryctl/pkg/crypto"
)

var (
	restoreDryRun     bool
	restoreVerifyOnly bool
	restoreOnConflict string
	restoreKeyFile    string
	restoreForce      bool
	restoreWithAudit  bool
)

func init() {
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "Show what would be restored without making changes")
	restoreCmd.Flags().BoolVar(&restoreVerifyOnly, "verify-only", false, "Only verify backup integrity")
	restoreCmd.Flags().StringVar(&restoreOnConflict, "on-conflict", "error", "Conflict resolution: overwrite, error")
	restoreCmd.Flags().StringVar(&restoreKeyFile, "key-file", "", "Decryption key file")
	restoreCmd.Flags().BoolVarP(&restoreForce, "force", "f", false, "Skip confirmation prompt")
	restoreCmd.Flags().BoolVar(&restoreWithAudit, "with-audit", false, "Restore audit log (overwrites existing)")
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-file>",
	Short: "Restore journal from encrypted backup",
	Long: `Restore the journal from an encrypted backup file. The restored journal
keeps the passphrase it had when the backup was made.

Examples:
  # Dry run (preview only)
  diaryctl restore backup.enc --dry-run

  # Verify backup integrity without restoring
  diaryctl restore backup.enc --verify-only

  # Replace the current journal
  diaryctl restore backup.enc --on-conflict=overwrite

  # Restore with audit log
  diaryctl restore backup.enc --with-audit

  # Use key file for decryption
  diaryctl restore backup.enc --key-file=backup.key`,
	Args: cobra.ExactArgs(1),
	RunE: executeRestore,
}

func executeRestore(cmd *cobra.Command, args []string) error {
	backupPath := args[0]

	if err := validateRestoreFlags(); err != nil {
		return err
	}
	if _, err := os.Stat(backupPath); os.IsNotExist(err) {
		return fmt.Errorf("backup file not found: %s", backupPath)
	}
	conflictMode, err := parseConflictMode(restoreOnConflict)
	if err != nil {
		return err
	}

	var password []byte
	if restoreKeyFile == "" {
		password, err = readSecret("Enter backup password (or journal passphrase): ")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)
	}

	if restoreVerifyOnly {
		var result *backup.VerifyResult
		err := withSpinner("Verifying backup...", func() error {
			var verr error
			result, verr = backup.Verify(backupPath, password, restoreKeyFile)
			return verr
		})
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		if !result.Valid {
			return fmt.Errorf("verification failed: %s", result.Error)
		}
		fmt.Printf("%s Backup verification successful\n", okMark)
		fmt.Printf("  Version: %d\n", result.Version)
		fmt.Printf("  Created: %s\n", result.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("  Entries: %d\n", result.EntryCount)
		fmt.Printf("  Includes Audit: %v\n", result.IncludesAudit)
		return nil
	}

	if !restoreForce && !restoreDryRun {
		if !confirm("This will restore the journal from backup. Continue?") {
			fmt.Println("Restore cancelled.")
			return nil
		}
	}

	// The store must not be open while its file is swapped.
	closeJournal()

	var result *backup.RestoreResult
	err = withSpinner("Restoring...", func() error {
		var rerr error
		result, rerr = backup.Restore(backupPath, backup.RestoreOptions{
			DataDir:    home,
			AuditDir:   config.AuditDir(home),
			OnConflict: conflictMode,
			DryRun:     restoreDryRun,
			WithAudit:  restoreWithAudit,
			Password:   password,
			KeyFile:    restoreKeyFile,
		})
		return rerr
	})
	if errors.Is(err, backup.ErrConflict) {
		return fmt.Errorf("a journal already exists at %s (use --on-conflict=overwrite to replace it)", home)
	}
	if err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	if result.DryRun {
		fmt.Printf("Dry run complete. Would restore:\n")
	} else {
		fmt.Printf("%s Restore complete\n", okMark)
	}
	fmt.Printf("  Entries: %d\n", result.EntriesRestored)
	fmt.Printf("  Schema:  v%d\n", result.SchemaVersion)
	if result.AuditRestored {
		fmt.Printf("  Audit log: restored\n")
	}
	if result.DryRun {
		return nil
	}

	// Unlocking checks that the restored journal opens and records the
	// restore in its audit log.
	if err := ensureUnlocked(); err != nil {
		out.WarnfAlways("restored journal could not be unlocked: %v", err)
		return nil
	}
	_ = auditLog.Log(audit.OpBackupRestore, audit.SourceCLI, audit.ResultSuccess, "", nil, map[string]any{
		"entries":    result.EntriesRestored,
		"with_audit": result.AuditRestored,
	})
	return nil
}

func validateRestoreFlags() error {
	if _, err := parseConflictMode(restoreOnConflict); err != nil {
		return err
	}
	if restoreDryRun && restoreVerifyOnly {
		return fmt.Errorf("--dry-run and --verify-only are mutually exclusive")
	}
	return nil
}

func parseConflictMode(mode string) (backup.ConflictMode, error) {
	switch mode {
	case "overwrite":
		return backup.ConflictOverwrite, nil
	case "error":
		return backup.ConflictError, nil
	default:
		return backup.ConflictError, fmt.Errorf("invalid --on-conflict value: %s (valid: overwrite, error)", mode)
	}
}
