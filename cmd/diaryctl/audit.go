package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/diaryctl/pkg/audit"
)

// Audit flags
var (
	auditLimit int
	auditSince string
)

// Audit export flags
var (
	auditExportFormat string
	auditExportSince  string
	auditExportUntil  string
	auditExportOutput string
)

// Audit prune flags
var (
	auditPruneOlderThan string
	auditPruneDryRun    bool
	auditPruneForce     bool
)

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditExportCmd)
	auditCmd.AddCommand(auditPruneCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show events since duration (e.g., 24h)")

	auditExportCmd.Flags().StringVar(&auditExportFormat, "format", "json", "Output format: json, csv")
	auditExportCmd.Flags().StringVar(&auditExportSince, "since", "", "Export events since duration (e.g., 30d)")
	auditExportCmd.Flags().StringVar(&auditExportUntil, "until", "", "Export events until date (RFC 3339)")
	auditExportCmd.Flags().StringVarP(&auditExportOutput, "output", "o", "", "Output file path (default: stdout)")

	auditPruneCmd.Flags().StringVar(&auditPruneOlderThan, "older-than", "", "Delete logs older than duration (e.g., 12m for 12 months)")
	auditPruneCmd.Flags().BoolVar(&auditPruneDryRun, "dry-run", false, "Show what would be deleted without deleting")
	auditPruneCmd.Flags().BoolVarP(&auditPruneForce, "force", "f", false, "Skip confirmation prompt")
}

// auditCmd is the parent command for audit operations
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long: `The audit log records journal operations (never entry text) in an
HMAC chain keyed from your passphrase, so it can only be read and verified
while the journal is unlocked.`,
}

// auditListCmd lists audit log entries
var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if auditSince != "" {
			duration, err := parseDuration(auditSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-duration)
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}

		events, err := auditLog.ListEvents(auditLimit, since)
		if err != nil {
			return fmt.Errorf("failed to read audit log: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No audit log entries found")
			return nil
		}

		fmt.Printf("%-20s %-22s %-6s %-8s %s\n", "TIME", "OPERATION", "SOURCE", "RESULT", "TARGET")
		for _, e := range events {
			ts := e.Timestamp
			if t, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
				ts = t.Local().Format("2006-01-02 15:04:05")
			}
			target := e.Target
			if len(target) > 12 {
				target = target[:12]
			}
			fmt.Printf("%-20s %-22s %-6s %-8s %s\n", ts, e.Operation, e.Actor.Source, e.Result, target)
		}
		return nil
	},
}

// auditVerifyCmd verifies the HMAC chain
var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log HMAC chain integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}

		fmt.Println("Verifying audit log integrity...")

		result, err := auditLog.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}

		if !result.Valid {
			fmt.Printf("%s Audit log verification FAILED\n", failMark)
			fmt.Printf("  Records total: %d\n", result.RecordsTotal)
			fmt.Printf("  Records verified: %d\n", result.RecordsVerified)
			fmt.Println("  Errors:")
			for _, e := range result.Errors {
				fmt.Printf("    - %s\n", e)
			}
			return fmt.Errorf("audit log integrity check failed")
		}
		fmt.Printf("%s Audit log verified: %d records, chain intact\n", okMark, result.RecordsTotal)

		if debugFlag {
			jsonResult, _ := json.Marshal(result)
			out.Debugf("%s", jsonResult)
		}
		return nil
	},
}

// auditExportCmd exports audit logs
var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit logs to JSON or CSV format",
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditExportFormat != "json" && auditExportFormat != "csv" {
			return fmt.Errorf("invalid format: %s (use 'json' or 'csv')", auditExportFormat)
		}

		var since, until time.Time
		if auditExportSince != "" {
			duration, err := parseDuration(auditExportSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-duration)
		}
		if auditExportUntil != "" {
			var err error
			until, err = time.Parse(time.RFC3339, auditExportUntil)
			if err != nil {
				return fmt.Errorf("invalid until format (use RFC 3339): %w", err)
			}
		}

		var path string
		if auditExportOutput != "" {
			var err error
			path, err = validateOutputPath(auditExportOutput)
			if err != nil {
				return err
			}
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}

		data, err := auditLog.Export(auditExportFormat, since, until)
		if err != nil {
			return fmt.Errorf("failed to export audit logs: %w", err)
		}

		if path == "" {
			_, err := os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Audit logs exported to %s\n", path)
		return nil
	},
}

// auditPruneCmd deletes old audit logs
var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old audit log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditPruneOlderThan == "" {
			return fmt.Errorf("--older-than flag is required")
		}
		duration, err := parseDuration(auditPruneOlderThan)
		if err != nil {
			return fmt.Errorf("invalid older-than format: %w", err)
		}

		if err := ensureUnlocked(); err != nil {
			return err
		}

		events, err := auditLog.ListEvents(0, time.Time{})
		if err != nil {
			return fmt.Errorf("failed to read audit log: %w", err)
		}
		count := countOlderThan(events, time.Now().Add(-duration))

		if auditPruneDryRun {
			fmt.Printf("Would delete %d audit log entries older than %s\n", count, auditPruneOlderThan)
			return nil
		}
		if count == 0 {
			fmt.Println("No audit log entries to delete")
			return nil
		}

		if !auditPruneForce {
			fmt.Fprintf(os.Stderr, "This will delete %d audit log entries older than %s.\n", count, auditPruneOlderThan)
			if !confirm("Are you sure?") {
				fmt.Println("Aborted")
				return nil
			}
		}

		deleted, err := auditLog.Prune(duration)
		if err != nil {
			return fmt.Errorf("failed to prune audit logs: %w", err)
		}
		fmt.Printf("Deleted %d audit log entries\n", deleted)
		return nil
	},
}

// countOlderThan counts events stamped before cutoff. Events with an
// unreadable timestamp are not counted.
func countOlderThan(events []audit.Event, cutoff time.Time) int {
	n := 0
	for _, e := range events {
		t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
		if err == nil && t.Before(cutoff) {
			n++
		}
	}
	return n
}

// parseDuration parses a duration string like "30d", "1y", "24h"
func parseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("duration too short: %s", s)
	}

	unit := s[len(s)-1]
	valueStr := s[:len(s)-1]

	var value int
	if _, err := fmt.Sscanf(valueStr, "%d", &value); err != nil {
		return 0, fmt.Errorf("invalid duration value: %s", valueStr)
	}
	if value < 0 {
		return 0, fmt.Errorf("duration must not be negative: %s", s)
	}

	switch unit {
	case 'h':
		return time.Duration(value) * time.Hour, nil
	case 'd':
		return time.Duration(value) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	case 'm':
		return time.Duration(value) * 30 * 24 * time.Hour, nil
	case 'y':
		return time.Duration(value) * 365 * 24 * time.Hour, nil
	default:
		return time.ParseDuration(s)
	}
}
