package store

import (
	"errors"
	"fmt"
	"os"

	"github.com/forest6511/diaryctl/pkg/crypto"
	"github.com/forest6511/diaryctl/pkg/vault"
)

// IntegrityCheckResult contains the results of a store integrity check
type IntegrityCheckResult struct {
	Valid            bool     `json:"valid"`
	DBIntegrity      bool     `json:"db_integrity"`
	SchemaVersion    int      `json:"schema_version"`
	VaultExists      bool     `json:"vault_exists"`
	VaultValid       bool     `json:"vault_valid"`
	Entries          int      `json:"entries"`
	MalformedEntries int      `json:"malformed_entries"`
	PermissionsValid bool     `json:"permissions_valid"`
	Errors           []string `json:"errors,omitempty"`
}

func (r *IntegrityCheckResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// requiredTables are the tables every migrated database must contain.
var requiredTables = []string{"vault", "entries", "artifacts", "schema_version"}

// CheckIntegrity checks that the database passes SQLite's integrity check,
// carries every table at the current schema version, that the vault row
// and entry envelopes have well-formed lengths, and that file permissions
// are owner-only. Nothing is decrypted, so it works on a locked vault.
func (s *SQLite) CheckIntegrity() (*IntegrityCheckResult, error) {
	result := &IntegrityCheckResult{
		Valid:            true,
		PermissionsValid: true,
	}

	if info, err := os.Stat(s.dir); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			result.PermissionsValid = false
			result.fail("data directory has insecure permissions: %04o (expected 0700)", perm)
		}
	}
	if info, err := os.Stat(s.DBPath()); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			result.PermissionsValid = false
			result.fail("database file has insecure permissions: %04o (expected 0600)", perm)
		}
	}

	var integrity string
	if err := s.db.QueryRow("PRAGMA integrity_check").Scan(&integrity); err != nil {
		result.fail("database integrity check failed: %v", err)
		return result, nil
	}
	if integrity != "ok" {
		result.fail("database integrity check returned: %s", integrity)
		return result, nil
	}
	result.DBIntegrity = true

	for _, table := range requiredTables {
		var name string
		err := s.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			result.DBIntegrity = false
			result.fail("required table not found: %s", table)
		}
	}
	if !result.DBIntegrity {
		return result, nil
	}

	version, err := getSchemaVersion(s.db)
	if err != nil {
		return nil, err
	}
	result.SchemaVersion = version
	if version != CurrentSchemaVersion {
		result.fail("schema version %d, expected %d", version, CurrentSchemaVersion)
	}

	rec, err := s.LoadVault()
	switch {
	case err == nil:
		result.VaultExists = true
		result.VaultValid = len(rec.Salt) == crypto.SaltLength &&
			len(rec.VerifyNonce) == crypto.NonceLength &&
			len(rec.VerifyCiphertext) >= crypto.TagLength
		if !result.VaultValid {
			result.fail("vault record is malformed")
		}
	case errors.Is(err, vault.ErrVaultNotFound):
	default:
		return nil, err
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&result.Entries); err != nil {
		return nil, fmt.Errorf("store: failed to count entries: %w", err)
	}
	err = s.db.QueryRow(
		"SELECT COUNT(*) FROM entries WHERE length(nonce) != ? OR length(encrypted_content) < ?",
		crypto.NonceLength, crypto.TagLength).Scan(&result.MalformedEntries)
	if err != nil {
		return nil, fmt.Errorf("store: failed to check entries: %w", err)
	}
	if result.MalformedEntries > 0 {
		result.fail("%d entries have a malformed envelope", result.MalformedEntries)
	}

	return result, nil
}
