package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/diaryctl/internal/config"
	"github.com/forest6511/diaryctl/internal/logger"
	"github.com/forest6511/diaryctl/pkg/audit"
	"github.com/forest6511/diaryctl/pkg/crypto"
	"github.com/forest6511/diaryctl/pkg/diskspace"
	"github.com/forest6511/diaryctl/pkg/journal"
	"github.com/forest6511/diaryctl/pkg/store"
	"github.com/forest6511/diaryctl/pkg/vault"
)

// Root flags
var (
	homeFlag    string
	verboseFlag bool
	debugFlag   bool
)

// Process state, filled lazily by PersistentPreRunE and openJournal.
var (
	home       string
	cfg        *config.Config
	out        = logger.New(false, false)
	db         *store.SQLite
	auditLog   *audit.Logger
	vm         *vault.Manager
	journalSvc *journal.Service
)

var errNoJournal = errors.New("no journal found: run 'diaryctl init' first")

// stdin is shared by every prompt so buffered input is not lost between them.
var stdin = bufio.NewReader(os.Stdin)

var rootCmd = &cobra.Command{
	Use:   "diaryctl",
	Short: "diaryctl is a private, encrypted journal for the terminal",
	Long: `A local-first journal. Entries are encrypted with a key derived from your
passphrase and never leave this machine unless you opt in to AI reflections.`,
	Version:      version,
	SilenceUsage: true,
	// PersistentPreRunE resolves the home directory and loads config.yaml.
	// The journal itself is opened by the commands that need it.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		out = logger.New(verboseFlag, debugFlag)
		store.Warnf = out.WarnfAlways

		var err error
		home, err = config.ResolveHome(homeFlag)
		if err != nil {
			return err
		}
		cfg, err = config.Load(home)
		if err != nil {
			return err
		}
		out.Debugf("home: %s", home)
		return nil
	},
}

// Reset flags
var resetForce bool

func init() {
	rootCmd.PersistentFlags().StringVar(&homeFlag, "home", "", "Journal directory (default $"+config.EnvHome+" or ~/"+config.DefaultHome+")")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Debug output (implies --verbose)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(doctorCmd)

	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
}

// openJournal opens the store and wires the vault, audit log and journal
// service. It does not unlock.
func openJournal() error {
	if db != nil {
		return nil
	}
	var err error
	db, err = store.Open(home)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	auditLog = audit.NewLogger(config.AuditDir(home))
	vm = vault.NewManager(db,
		vault.WithKDF(cfg.VaultKDF()),
		vault.WithAudit(auditLog, audit.SourceCLI),
	)
	journalSvc = journal.NewService(db, vm.Codec(), journal.WithAudit(auditLog, audit.SourceCLI))
	out.Debugf("opened %s", db.DBPath())
	return nil
}

// closeJournal locks the vault and closes the store. Safe to call when
// nothing was opened.
func closeJournal() {
	if vm != nil && vm.IsUnlocked() {
		vm.Lock()
	}
	if db != nil {
		if err := db.Close(); err != nil {
			out.Debugf("close: %v", err)
		}
		db = nil
	}
}

func ensureUnlocked() error {
	passphrase, err := unlock()
	crypto.SecureWipe(passphrase)
	return err
}

// unlock opens and unlocks the journal, returning the passphrase used.
// The caller owns the returned slice and should wipe it.
func unlock() ([]byte, error) {
	if err := openJournal(); err != nil {
		return nil, err
	}
	state, err := vm.State()
	if err != nil {
		return nil, err
	}
	switch state {
	case vault.StateNoVault:
		return nil, errNoJournal
	case vault.StateUnlocked:
		return nil, nil
	}

	passphrase, err := readPassphrase("Enter passphrase: ")
	if err != nil {
		return nil, err
	}
	err = withSpinner("Unlocking journal...", func() error {
		return vm.Unlock(string(passphrase))
	})
	if errors.Is(err, vault.ErrWrongPassphrase) {
		crypto.SecureWipe(passphrase)
		return nil, errors.New("wrong passphrase")
	}
	if err != nil {
		crypto.SecureWipe(passphrase)
		return nil, fmt.Errorf("failed to unlock journal: %w", err)
	}
	out.Infof("journal unlocked")
	return passphrase, nil
}

// readPassphrase takes the passphrase from the environment when set, and
// prompts for it otherwise.
func readPassphrase(prompt string) ([]byte, error) {
	if p := os.Getenv(config.EnvPassphrase); p != "" {
		out.Debugf("using passphrase from $%s", config.EnvPassphrase)
		return []byte(p), nil
	}
	return readSecret(prompt)
}

// readSecret prompts on stderr and reads a line without echo. When stdin is
// not a terminal the line is read as is.
func readSecret(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdin.ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
		return []byte(strings.TrimRight(line, "\r\n")), nil
	}
	secret, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return secret, nil
}

// confirm asks a yes/no question. Anything but y or yes is a no.
func confirm(question string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", question)
	answer, err := stdin.ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// withSpinner runs fn while a spinner turns on stderr. Key derivation takes
// long enough to need one.
func withSpinner(suffix string, fn func() error) error {
	if debugFlag || !term.IsTerminal(int(os.Stderr.Fd())) {
		return fn()
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + suffix
	s.Start()
	err := fn()
	s.Stop()
	return err
}

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	failMark = color.New(color.FgRed).Sprint("✗")
)

// initCmd creates a new journal
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new encrypted journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openJournal(); err != nil {
			return err
		}
		exists, err := vm.HasVault()
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("a journal already exists at %s", home)
		}

		fmt.Println("Creating a new journal...")

		var passphrase []byte
		if p := os.Getenv(config.EnvPassphrase); p != "" {
			passphrase = []byte(p)
		} else {
			p1, err := readSecret("Choose a passphrase: ")
			if err != nil {
				return err
			}
			p2, err := readSecret("Confirm passphrase: ")
			if err != nil {
				return err
			}
			if string(p1) != string(p2) {
				return fmt.Errorf("passphrases do not match")
			}
			crypto.SecureWipe(p2)
			passphrase = p1
		}
		defer crypto.SecureWipe(passphrase)

		result := vault.ValidatePassphrase(string(passphrase))
		if !result.Valid {
			return fmt.Errorf("passphrase validation failed: %s", result.Warnings[0])
		}
		fmt.Printf("Passphrase strength: %s\n", result.Strength)
		for _, w := range result.Warnings {
			out.WarnfAlways("%s", w)
		}

		err = withSpinner("Deriving key...", func() error {
			return vm.Setup(string(passphrase))
		})
		if err != nil {
			return fmt.Errorf("failed to create journal: %w", err)
		}

		fmt.Printf("%s Journal created at %s (kdf: %s)\n", okMark, home, cfg.VaultKDF())
		fmt.Println("Your passphrase cannot be recovered. Keep it somewhere safe.")
		return nil
	},
}

// statusCmd shows the journal state without unlocking
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show journal status",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openJournal(); err != nil {
			return err
		}
		state, err := vm.State()
		if err != nil {
			return err
		}

		fmt.Printf("Home:    %s\n", home)
		fmt.Printf("Journal: %s\n", state)
		if state == vault.StateNoVault {
			fmt.Println("\nRun 'diaryctl init' to create a journal.")
			return nil
		}

		rec, err := db.LoadVault()
		if err != nil {
			return err
		}
		count, err := db.CountEntries()
		if err != nil {
			return err
		}
		version, err := db.SchemaVersion()
		if err != nil {
			return err
		}
		streak, err := journalSvc.Streak()
		if err != nil {
			return err
		}

		kdf := rec.KDF
		if kdf == "" {
			kdf = "pbkdf2-sha256 (legacy)"
		}
		fmt.Printf("Created: %s\n", rec.CreatedAt.Local().Format("2006-01-02"))
		fmt.Printf("KDF:     %s\n", kdf)
		fmt.Printf("Schema:  v%d\n", version)
		fmt.Printf("Entries: %d\n", count)
		fmt.Printf("Streak:  %s\n", pluralDays(streak))
		fmt.Printf("AI:      %s\n", onOff(cfg.UseAI))
		fmt.Printf("MCP content access: %s\n", onOff(cfg.MCP.AllowContent))
		return nil
	},
}

// resetCmd deletes the journal
var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the journal, every entry and the audit log",
	Long: `Delete the vault, every entry, cached reflections and the audit log.

This cannot be undone. Create a backup first if you may want the entries back.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openJournal(); err != nil {
			return err
		}
		exists, err := vm.HasVault()
		if err != nil {
			return err
		}
		if !exists {
			return errNoJournal
		}

		if !resetForce {
			count, err := db.CountEntries()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "This will permanently delete %d entries.\n", count)
			if !confirm("Are you sure?") {
				fmt.Println("Aborted")
				return nil
			}
		}

		if err := vm.Reset(); err != nil {
			return fmt.Errorf("failed to reset journal: %w", err)
		}
		fmt.Printf("%s Journal deleted\n", okMark)
		return nil
	},
}

// doctorCmd checks the store without unlocking
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check journal integrity and disk space",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := openJournal(); err != nil {
			return err
		}
		result, err := db.CheckIntegrity()
		if err != nil {
			return fmt.Errorf("integrity check failed: %w", err)
		}

		check := func(ok bool, label string) {
			mark := okMark
			if !ok {
				mark = failMark
			}
			fmt.Printf("%s %s\n", mark, label)
		}
		check(result.DBIntegrity, "database integrity")
		check(result.SchemaVersion > 0, fmt.Sprintf("schema version v%d", result.SchemaVersion))
		check(result.VaultExists, "vault present")
		check(result.VaultValid, "vault record well-formed")
		check(result.MalformedEntries == 0, fmt.Sprintf("%d entries, %d malformed", result.Entries, result.MalformedEntries))
		check(result.PermissionsValid, "owner-only file permissions")

		if info, err := diskspace.Check(home); err == nil {
			check(!info.Low(), fmt.Sprintf("disk %d%% used", info.UsedPct))
		} else {
			out.Warnf("failed to check disk space: %v", err)
		}

		if !result.Valid {
			for _, e := range result.Errors {
				out.Errorf("%s", e)
			}
			return fmt.Errorf("journal has %d problem(s)", len(result.Errors))
		}
		return nil
	},
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
