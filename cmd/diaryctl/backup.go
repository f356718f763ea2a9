package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forest6511/diaryctl/pkg/audit"
	"github.com/forest6511/diaryctl/pkg/backup"
	"github.com/forest6511/diaryctl/pkg/crypto"
)

var (
	backupOutput         string
	backupStdout         bool
	backupWithAudit      bool
	backupBackupPassword bool
	backupKeyFile        string
	backupForce          bool
)

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupKeygenCmd)

	backupCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "Output file path")
	backupCmd.Flags().BoolVar(&backupStdout, "stdout", false, "Output to stdout (for piping)")
	backupCmd.Flags().BoolVar(&backupWithAudit, "with-audit", false, "Include audit log in backup")
	backupCmd.Flags().BoolVar(&backupBackupPassword, "backup-password", false, "Use separate backup password")
	backupCmd.Flags().StringVar(&backupKeyFile, "key-file", "", "Encryption key file (32 bytes)")
	backupCmd.Flags().BoolVarP(&backupForce, "force", "f", false, "Overwrite existing file")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create encrypted backup of the journal",
	Long: `Create an encrypted backup of the journal. By default the backup is
encrypted with your journal passphrase.

Examples:
  # Backup to a file
  diaryctl backup -o journal-backup.enc

  # Backup with audit log
  diaryctl backup -o full-backup.enc --with-audit

  # Backup to stdout (for piping)
  diaryctl backup --stdout | gpg --encrypt > backup.gpg

  # Use separate backup password
  diaryctl backup -o backup.enc --backup-password

  # Use key file for encryption
  diaryctl backup keygen backup.key
  diaryctl backup -o backup.enc --key-file=backup.key`,
	Args: cobra.NoArgs,
	RunE: executeBackup,
}

func executeBackup(cmd *cobra.Command, args []string) error {
	if err := validateBackupFlags(); err != nil {
		return err
	}

	// Unlocking proves the caller owns the journal and keys the audit log.
	passphrase, err := unlock()
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(passphrase)

	var password []byte
	switch {
	case backupKeyFile != "":
	case backupBackupPassword:
		password, err = promptBackupPassword()
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)
	default:
		if len(passphrase) == 0 {
			return fmt.Errorf("journal passphrase unavailable: use --backup-password or --key-file")
		}
		password = passphrase
	}

	output := os.Stdout
	if !backupStdout {
		path, err := validateOutputPath(backupOutput)
		if err != nil {
			return err
		}
		flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
		if backupForce {
			flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		}
		output, err = os.OpenFile(path, flags, 0600)
		if os.IsExist(err) {
			return fmt.Errorf("output file already exists: %s (use --force to overwrite)", backupOutput)
		}
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()
	}

	var header *backup.Header
	err = withSpinner("Writing backup...", func() error {
		var berr error
		header, berr = backup.Backup(db, backup.BackupOptions{
			Output:       output,
			AuditDir:     auditLog.Path(),
			IncludeAudit: backupWithAudit,
			Password:     password,
			KeyFile:      backupKeyFile,
		})
		return berr
	})
	if err != nil {
		if !backupStdout {
			output.Close()
			os.Remove(output.Name())
		}
		_ = auditLog.LogError(audit.OpBackupCreate, audit.SourceCLI, "", "backup_failed", err.Error())
		return fmt.Errorf("backup failed: %w", err)
	}

	_ = auditLog.Log(audit.OpBackupCreate, audit.SourceCLI, audit.ResultSuccess, "", nil, map[string]any{
		"entries":    header.EntryCount,
		"with_audit": header.IncludesAudit,
		"mode":       string(header.EncryptionMode),
	})
	if !backupStdout {
		fmt.Printf("%s Backup created: %s (%d entries)\n", okMark, backupOutput, header.EntryCount)
	}
	return nil
}

func validateBackupFlags() error {
	if !backupStdout && backupOutput == "" {
		return fmt.Errorf("either --output or --stdout is required")
	}
	if backupStdout && backupOutput != "" {
		return fmt.Errorf("--output and --stdout are mutually exclusive")
	}
	if backupKeyFile != "" && backupBackupPassword {
		return fmt.Errorf("--key-file and --backup-password are mutually exclusive")
	}
	return nil
}

func promptBackupPassword() ([]byte, error) {
	password1, err := readSecret("Enter backup password: ")
	if err != nil {
		return nil, err
	}
	password2, err := readSecret("Confirm backup password: ")
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(password2)

	if string(password1) != string(password2) {
		return nil, fmt.Errorf("passwords do not match")
	}
	if len(password1) == 0 {
		return nil, fmt.Errorf("password cannot be empty")
	}
	return password1, nil
}

var backupKeygenCmd = &cobra.Command{
	Use:   "keygen <path>",
	Short: "Create a random key file for --key-file",
	Long: `Create a file holding a random 32-byte backup key. Store it apart from the
backups it encrypts: anyone with both can read your journal.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := validateOutputPath(args[0])
		if err != nil {
			return err
		}
		if err := backup.GenerateKeyFile(path); err != nil {
			return err
		}
		fmt.Printf("%s Key file created: %s\n", okMark, path)
		return nil
	},
}
