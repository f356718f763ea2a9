// Package store persists the vault record, journal entries and cached
// artifacts in a local SQLite database.
//
// Only sealed records cross this boundary for user-authored text. Entry
// metadata (sentiment score, label and themes) is stored in plaintext columns
// so it can be queried without the passphrase.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/forest6511/diaryctl/pkg/cache"
	"github.com/forest6511/diaryctl/pkg/diskspace"
	"github.com/forest6511/diaryctl/pkg/record"
	"github.com/forest6511/diaryctl/pkg/vault"
)

// Constants
const (
	DBFileName = "journal.db"
	FileMode   = 0600 // Owner read/write only
	DirMode    = 0700 // Owner read/write/execute only

	vaultRowID = 1
)

// Errors
var (
	ErrEntryNotFound = errors.New("store: entry not found")
	ErrDuplicateID   = errors.New("store: entry id already exists")
)

// Warnf reports advisory problems that do not block an operation.
var Warnf = func(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "warning: "+format+"\n", args...)
}

// EntryRow is a journal entry as stored on disk.
type EntryRow struct {
	ID             string
	CreatedAt      int64 // epoch milliseconds
	Content        *record.EncryptedRecord
	SentimentScore *float64
	SentimentLabel *string
	Themes         []string
}

// EntryUpdate lists the columns to change. Nil fields are left untouched.
type EntryUpdate struct {
	Content        *record.EncryptedRecord
	SentimentScore *float64
	SentimentLabel *string
	Themes         *[]string
}

// SQLite is the SQLite-backed store. It implements vault.Store,
// cache.Store and the journal service's row store.
type SQLite struct {
	dir string
	db  *sql.DB
}

var (
	_ vault.Store = (*SQLite)(nil)
	_ cache.Store = (*SQLite)(nil)
)

// Open opens (creating if needed) the database under dir and migrates it
// to the current schema.
func Open(dir string) (*SQLite, error) {
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return nil, fmt.Errorf("store: failed to create directory: %w", err)
	}

	dbPath := filepath.Join(dir, DBFileName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		f, err := os.OpenFile(dbPath, os.O_CREATE|os.O_WRONLY, FileMode)
		if err != nil {
			return nil, fmt.Errorf("store: failed to create database: %w", err)
		}
		f.Close()
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}

	// Single connection avoids "database is locked" between CLI and MCP use
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{dir: dir, db: db}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to create tables: %w", err)
	}
	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	s.checkAndWarnPermissions()
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Dir returns the data directory.
func (s *SQLite) Dir() string {
	return s.dir
}

// DBPath returns the database file path.
func (s *SQLite) DBPath() string {
	return filepath.Join(s.dir, DBFileName)
}

func (s *SQLite) createTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS vault (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt BLOB NOT NULL,
			kdf TEXT NOT NULL DEFAULT 'pbkdf2-sha256',
			verify_ciphertext BLOB NOT NULL,
			verify_nonce BLOB NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Only encrypted_content is opaque; the other columns are plaintext metadata
	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			encrypted_content BLOB NOT NULL,
			nonce BLOB NOT NULL,
			sentiment_score REAL,
			sentiment_label TEXT,
			themes TEXT
		)
	`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec("CREATE INDEX IF NOT EXISTS idx_entries_created_at ON entries(created_at)")
	return err
}

// LoadVault returns the vault row or vault.ErrVaultNotFound.
func (s *SQLite) LoadVault() (*vault.Record, error) {
	var rec vault.Record
	var created int64
	err := s.db.QueryRow(
		"SELECT salt, kdf, verify_ciphertext, verify_nonce, created_at FROM vault WHERE id = ?", vaultRowID).
		Scan(&rec.Salt, &rec.KDF, &rec.VerifyCiphertext, &rec.VerifyNonce, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, vault.ErrVaultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to read vault: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(created).UTC()
	return &rec, nil
}

// CreateVault inserts the vault row or returns vault.ErrVaultAlreadyExists.
func (s *SQLite) CreateVault(rec *vault.Record) error {
	if err := diskspace.EnsureAvailable(s.dir, 1024*1024); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRow("SELECT COUNT(*) FROM vault").Scan(&n); err != nil {
		return fmt.Errorf("store: failed to check vault: %w", err)
	}
	if n > 0 {
		return vault.ErrVaultAlreadyExists
	}

	_, err = tx.Exec(
		"INSERT INTO vault (id, salt, kdf, verify_ciphertext, verify_nonce, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		vaultRowID, rec.Salt, rec.KDF, rec.VerifyCiphertext, rec.VerifyNonce, rec.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: failed to save vault: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit transaction: %w", err)
	}
	return nil
}

// ResetVault deletes the vault, every entry and every artifact in one transaction.
func (s *SQLite) ResetVault() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"entries", "artifacts", "vault"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("store: failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit reset: %w", err)
	}
	return nil
}

// InsertEntry stores a new entry row.
func (s *SQLite) InsertEntry(row *EntryRow) error {
	if err := row.Content.Validate(); err != nil {
		return err
	}
	if err := diskspace.EnsureAvailable(s.dir, len(row.Content.Ciphertext)); err != nil {
		return err
	}

	themes, err := encodeThemes(row.Themes)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO entries (id, created_at, encrypted_content, nonce, sentiment_score, sentiment_label, themes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.CreatedAt, row.Content.Ciphertext, row.Content.Nonce,
		row.SentimentScore, row.SentimentLabel, themes)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDuplicateID, row.ID)
		}
		return fmt.Errorf("store: failed to insert entry: %w", err)
	}
	return nil
}

// UpdateEntry applies u to the entry with the given id.
func (s *SQLite) UpdateEntry(id string, u EntryUpdate) error {
	var sets []string
	var args []any

	if u.Content != nil {
		if err := u.Content.Validate(); err != nil {
			return err
		}
		if err := diskspace.EnsureAvailable(s.dir, len(u.Content.Ciphertext)); err != nil {
			return err
		}
		sets = append(sets, "encrypted_content = ?", "nonce = ?")
		args = append(args, u.Content.Ciphertext, u.Content.Nonce)
	}
	if u.SentimentScore != nil {
		sets = append(sets, "sentiment_score = ?")
		args = append(args, *u.SentimentScore)
	}
	if u.SentimentLabel != nil {
		sets = append(sets, "sentiment_label = ?")
		args = append(args, *u.SentimentLabel)
	}
	if u.Themes != nil {
		themes, err := encodeThemes(*u.Themes)
		if err != nil {
			return err
		}
		sets = append(sets, "themes = ?")
		args = append(args, themes)
	}

	if len(sets) == 0 {
		_, err := s.GetEntry(id)
		return err
	}

	args = append(args, id)
	res, err := s.db.Exec("UPDATE entries SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("store: failed to update entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// DeleteEntry removes the entry with the given id.
func (s *SQLite) DeleteEntry(id string) error {
	res, err := s.db.Exec("DELETE FROM entries WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("store: failed to delete entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrEntryNotFound
	}
	return nil
}

const entryColumns = "id, created_at, encrypted_content, nonce, sentiment_score, sentiment_label, themes"

// GetEntry returns the entry with the given id or ErrEntryNotFound.
func (s *SQLite) GetEntry(id string) (*EntryRow, error) {
	rows, err := s.db.Query("SELECT "+entryColumns+" FROM entries WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query entry: %w", err)
	}
	entries, err := scanEntryRows(rows)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrEntryNotFound
	}
	return entries[0], nil
}

// ListEntriesRange returns entries with start <= created_at <= end, newest first.
func (s *SQLite) ListEntriesRange(start, end int64) ([]*EntryRow, error) {
	return s.queryEntries("SELECT "+entryColumns+" FROM entries WHERE created_at >= ? AND created_at <= ? ORDER BY created_at DESC", start, end)
}

// RecentEntries returns at most limit entries, newest first.
func (s *SQLite) RecentEntries(limit int) ([]*EntryRow, error) {
	return s.queryEntries("SELECT "+entryColumns+" FROM entries ORDER BY created_at DESC LIMIT ?", limit)
}

// AllEntries returns every entry, newest first.
func (s *SQLite) AllEntries() ([]*EntryRow, error) {
	return s.queryEntries("SELECT " + entryColumns + " FROM entries ORDER BY created_at DESC")
}

// EntryTimestamps returns created_at for every entry without touching content.
func (s *SQLite) EntryTimestamps() ([]int64, error) {
	rows, err := s.db.Query("SELECT created_at FROM entries ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("store: failed to query timestamps: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("store: failed to scan timestamp: %w", err)
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// CountEntries returns the number of stored entries.
func (s *SQLite) CountEntries() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("store: failed to count entries: %w", err)
	}
	return n, nil
}

// ClearEntries deletes every entry.
func (s *SQLite) ClearEntries() error {
	if _, err := s.db.Exec("DELETE FROM entries"); err != nil {
		return fmt.Errorf("store: failed to clear entries: %w", err)
	}
	return nil
}

// Snapshot writes a consistent copy of the database to path, which must not
// exist. The copy is created with FileMode.
func (s *SQLite) Snapshot(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("store: snapshot target %s already exists", path)
	}
	if _, err := s.db.Exec("VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("store: failed to snapshot database: %w", err)
	}
	if err := os.Chmod(path, FileMode); err != nil {
		return fmt.Errorf("store: failed to set snapshot permissions: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied schema version.
func (s *SQLite) SchemaVersion() (int, error) {
	return getSchemaVersion(s.db)
}

func (s *SQLite) queryEntries(query string, args ...any) ([]*EntryRow, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query entries: %w", err)
	}
	return scanEntryRows(rows)
}

// scanEntryRows reads and closes rows. Missing ciphertext or nonce is
// returned as an empty Content record for the caller to reject.
func scanEntryRows(rows *sql.Rows) ([]*EntryRow, error) {
	defer rows.Close()

	var out []*EntryRow
	for rows.Next() {
		var (
			row    EntryRow
			ct     []byte
			nonce  []byte
			score  sql.NullFloat64
			label  sql.NullString
			themes sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.CreatedAt, &ct, &nonce, &score, &label, &themes); err != nil {
			return nil, fmt.Errorf("store: failed to scan entry: %w", err)
		}
		row.Content = &record.EncryptedRecord{Ciphertext: ct, Nonce: nonce}
		if score.Valid {
			row.SentimentScore = &score.Float64
		}
		if label.Valid {
			row.SentimentLabel = &label.String
		}
		if themes.Valid && themes.String != "" {
			if err := json.Unmarshal([]byte(themes.String), &row.Themes); err != nil {
				return nil, fmt.Errorf("store: entry %s has malformed themes: %w", row.ID, err)
			}
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}

func encodeThemes(themes []string) (string, error) {
	if themes == nil {
		themes = []string{}
	}
	data, err := json.Marshal(themes)
	if err != nil {
		return "", fmt.Errorf("store: failed to encode themes: %w", err)
	}
	return string(data), nil
}

// GetArtifact returns the sealed artifact called name or cache.ErrNotFound.
func (s *SQLite) GetArtifact(name string) (*record.EncryptedRecord, error) {
	var rec record.EncryptedRecord
	err := s.db.QueryRow("SELECT ciphertext, nonce FROM artifacts WHERE name = ?", name).
		Scan(&rec.Ciphertext, &rec.Nonce)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to read artifact: %w", err)
	}
	return &rec, nil
}

// PutArtifact replaces the artifact called name.
func (s *SQLite) PutArtifact(name string, rec *record.EncryptedRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := diskspace.EnsureAvailable(s.dir, len(rec.Ciphertext)); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO artifacts (name, ciphertext, nonce, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET ciphertext = excluded.ciphertext, nonce = excluded.nonce, updated_at = excluded.updated_at`,
		name, rec.Ciphertext, rec.Nonce, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: failed to write artifact: %w", err)
	}
	return nil
}

// DeleteArtifact removes the artifact called name, if present.
func (s *SQLite) DeleteArtifact(name string) error {
	if _, err := s.db.Exec("DELETE FROM artifacts WHERE name = ?", name); err != nil {
		return fmt.Errorf("store: failed to delete artifact: %w", err)
	}
	return nil
}

// checkAndWarnPermissions prints warnings if the data directory or database
// are readable by others. Advisory only.
func (s *SQLite) checkAndWarnPermissions() {
	if info, err := os.Stat(s.dir); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			Warnf("data directory has insecure permissions %04o (expected 0700)", perm)
		}
	}
	if info, err := os.Stat(s.DBPath()); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			Warnf("%s has insecure permissions %04o (expected 0600)", DBFileName, perm)
		}
	}
}
