package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Schema version constants
const (
	// SchemaVersion1 is the vault and entries layout
	SchemaVersion1 = 1
	// SchemaVersion2 adds the artifacts table and the vault kdf column
	SchemaVersion2 = 2
	// SchemaVersion3 drops the legacy plaintext content column and indexes sentiment
	SchemaVersion3 = 3
	// CurrentSchemaVersion is the current schema version
	CurrentSchemaVersion = SchemaVersion3
)

// getSchemaVersion returns the stored schema version, or 1 when none is recorded.
func getSchemaVersion(db *sql.DB) (int, error) {
	var tableName string
	err := db.QueryRow(`
		SELECT name FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&tableName)
	if errors.Is(err, sql.ErrNoRows) {
		return SchemaVersion1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: failed to check schema_version table: %w", err)
	}

	var version int
	err = db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return SchemaVersion1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: failed to get schema version: %w", err)
	}
	return version, nil
}

// migrateSchema migrates the database schema to the current version.
// Every step is idempotent and runs in its own transaction.
func migrateSchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			migrated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("store: failed to create schema_version table: %w", err)
	}

	version, err := getSchemaVersion(db)
	if err != nil {
		return err
	}

	steps := []struct {
		version int
		apply   func(tx *sql.Tx) error
	}{
		{SchemaVersion2, migrateToV2},
		{SchemaVersion3, migrateToV3},
	}
	for _, step := range steps {
		if version >= step.version {
			continue
		}
		if err := runMigration(db, step.version, step.apply); err != nil {
			return fmt.Errorf("store: migration to v%d failed: %w", step.version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, version int, apply func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := apply(tx); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT OR REPLACE INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}

// migrateToV2 adds the artifacts table for sealed cache slots, and records
// the key derivation per vault. Vaults created before v2 used PBKDF2.
func migrateToV2(tx *sql.Tx) error {
	_, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS artifacts (
			name TEXT PRIMARY KEY,
			ciphertext BLOB NOT NULL,
			nonce BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create artifacts table: %w", err)
	}

	columns, err := getTableColumns(tx, "vault")
	if err != nil {
		return fmt.Errorf("failed to get vault columns: %w", err)
	}
	if !columns["kdf"] {
		if _, err := tx.Exec("ALTER TABLE vault ADD COLUMN kdf TEXT NOT NULL DEFAULT 'pbkdf2-sha256'"); err != nil {
			return fmt.Errorf("failed to add kdf column: %w", err)
		}
	}
	return nil
}

// migrateToV3 drops a plaintext content column left by early builds, so
// entry text only ever exists encrypted, and indexes sentiment for mood queries.
func migrateToV3(tx *sql.Tx) error {
	columns, err := getTableColumns(tx, "entries")
	if err != nil {
		return fmt.Errorf("failed to get entries columns: %w", err)
	}
	if columns["content"] {
		if _, err := tx.Exec("ALTER TABLE entries DROP COLUMN content"); err != nil {
			return fmt.Errorf("failed to drop content column: %w", err)
		}
	}

	if _, err := tx.Exec("CREATE INDEX IF NOT EXISTS idx_entries_sentiment ON entries(sentiment_score)"); err != nil {
		return fmt.Errorf("failed to create idx_entries_sentiment: %w", err)
	}
	return nil
}

// getTableColumns returns a map of column names for a table.
func getTableColumns(tx *sql.Tx, tableName string) (map[string]bool, error) {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		columns[name] = true
	}
	return columns, rows.Err()
}
