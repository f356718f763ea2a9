// Package backup provides journal backup and restore functionality.
//
// Features:
//   - Encrypted backup with AES-256-GCM
//   - Argon2id key derivation with separate backup salt
//   - HMAC-SHA256 integrity verification
//   - Restore staged in a temp directory and validated before the swap
//   - Optional audit log inclusion
//   - Plaintext JSON export and merging import (export.go)
//
// Security:
//   - Backup salt is generated fresh for each backup (never reuses the vault salt)
//   - Outer HMAC covers header + ciphertext for tamper detection
//   - File permissions: 0600 for files, 0700 for directories
//   - Sensitive data cleared from memory with SecureWipe
package backup

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forest6511/diaryctl/pkg/audit"
	"github.com/forest6511/diaryctl/pkg/crypto"
	"github.com/forest6511/diaryctl/pkg/store"
	"github.com/forest6511/diaryctl/pkg/vault"
)

// ConflictMode specifies how to handle an existing journal during restore.
type ConflictMode int

const (
	// ConflictError returns ErrConflict if a journal already exists.
	ConflictError ConflictMode = iota
	// ConflictOverwrite replaces the existing journal.
	ConflictOverwrite
)

// auditMetaFile holds the audit chain state next to the log files.
const auditMetaFile = "audit.meta"

// BackupOptions configures the backup operation.
type BackupOptions struct {
	// Output is the destination writer for the backup.
	Output io.Writer
	// AuditDir is read when IncludeAudit is set.
	AuditDir string
	// IncludeAudit includes audit logs in the backup.
	IncludeAudit bool
	// Password for encryption.
	Password []byte
	// KeyFile path for encryption key (overrides Password).
	KeyFile string
}

// RestoreOptions configures the restore operation.
type RestoreOptions struct {
	// DataDir is the directory holding journal.db.
	DataDir string
	// AuditDir receives the audit log when WithAudit is set.
	AuditDir string
	// OnConflict specifies how to handle an existing journal.
	OnConflict ConflictMode
	// DryRun previews restore without making changes.
	DryRun bool
	// WithAudit restores audit logs (replaces existing).
	WithAudit bool
	// Password for decryption.
	Password []byte
	// KeyFile path for decryption key (overrides Password).
	KeyFile string
}

// RestoreResult contains the result of a restore operation.
type RestoreResult struct {
	// EntriesRestored is the number of journal entries restored.
	EntriesRestored int
	// SchemaVersion is the schema version after migration.
	SchemaVersion int
	// AuditRestored indicates if audit logs were restored.
	AuditRestored bool
	// DryRun indicates this was a dry run.
	DryRun bool
}

// VerifyResult contains the result of a verify operation.
type VerifyResult struct {
	// Valid indicates the backup passed all integrity checks.
	Valid bool
	// Version is the backup format version.
	Version int
	// CreatedAt is when the backup was created.
	CreatedAt time.Time
	// EntryCount is the number of entries in the backup.
	EntryCount int
	// IncludesAudit indicates if audit logs are included.
	IncludesAudit bool
	// Error is set if verification failed.
	Error string
}

// Backup creates an encrypted backup of the journal database.
// The vault need not be unlocked: entries stay sealed inside the snapshot.
func Backup(db *store.SQLite, opts BackupOptions) (*Header, error) {
	if opts.Output == nil {
		return nil, fmt.Errorf("backup: output writer is required")
	}

	encKey, macKey, kdfParams, encMode, err := backupKeys(opts.Password, opts.KeyFile)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	payload, err := collectJournalData(db, opts.AuditDir, opts.IncludeAudit)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to collect journal data: %w", err)
	}

	entryCount, err := db.CountEntries()
	if err != nil {
		return nil, err
	}
	schemaVersion, err := db.SchemaVersion()
	if err != nil {
		return nil, err
	}

	payloadBytes, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(payloadBytes)

	ciphertext, err := EncryptPayload(payloadBytes, encKey)
	if err != nil {
		return nil, err
	}

	header := &Header{
		Version:        FormatVersion,
		CreatedAt:      time.Now().UTC(),
		SchemaVersion:  schemaVersion,
		EncryptionMode: encMode,
		KDFParams:      kdfParams,
		IncludesAudit:  opts.IncludeAudit && len(payload.AuditLog) > 0,
		EntryCount:     entryCount,
		ChecksumAlgo:   "sha256",
	}

	// Write to buffer first (for HMAC calculation)
	var buf bytes.Buffer
	if err := WriteHeader(&buf, header); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(ciphertext))); err != nil {
		return nil, err
	}
	buf.Write(ciphertext)

	// HMAC over header + ciphertext length + ciphertext
	mac := ComputeHMAC(buf.Bytes(), macKey)

	if _, err := opts.Output.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("backup: failed to write backup: %w", err)
	}
	if _, err := opts.Output.Write(mac); err != nil {
		return nil, fmt.Errorf("backup: failed to write HMAC: %w", err)
	}
	return header, nil
}

func backupKeys(password []byte, keyFile string) (encKey, macKey []byte, params *KDFParams, mode EncryptionMode, err error) {
	if keyFile != "" {
		encKey, err = ReadKeyFile(keyFile)
		if err != nil {
			return nil, nil, nil, "", err
		}
		macKey, err = deriveHKDF(encKey, []byte(hkdfInfoMAC))
		if err != nil {
			crypto.SecureWipe(encKey)
			return nil, nil, nil, "", fmt.Errorf("backup: failed to derive MAC key: %w", err)
		}
		return encKey, macKey, nil, EncryptionModeKey, nil
	}

	if len(password) == 0 {
		return nil, nil, nil, "", ErrEmptyPassword
	}
	salt, err := GenerateSalt()
	if err != nil {
		return nil, nil, nil, "", err
	}
	encKey, macKey, err = DeriveBackupKeys(password, salt)
	if err != nil {
		return nil, nil, nil, "", err
	}
	params = &KDFParams{
		KDF:         string(KDF),
		Salt:        salt,
		Memory:      crypto.Argon2Memory,
		Iterations:  crypto.Argon2Time,
		Parallelism: crypto.Argon2Threads,
	}
	return encKey, macKey, params, EncryptionModePassword, nil
}

// collectJournalData snapshots the database and optionally reads the audit log.
func collectJournalData(db *store.SQLite, auditDir string, includeAudit bool) (*Payload, error) {
	tmpDir, err := os.MkdirTemp(db.Dir(), ".backup-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, store.DBFileName)
	if err := db.Snapshot(snapshot); err != nil {
		return nil, err
	}
	journalDB, err := os.ReadFile(snapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	payload := &Payload{JournalDB: journalDB}
	if includeAudit && auditDir != "" {
		payload.AuditLog, err = readAuditDir(auditDir)
		if err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// readAuditDir returns the log files and chain state under dir. A missing
// directory yields an empty map.
func readAuditDir(dir string) (map[string][]byte, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	files = append(files, filepath.Join(dir, auditMetaFile))

	out := make(map[string][]byte)
	for _, file := range files {
		data, err := os.ReadFile(file)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read audit file: %w", err)
		}
		out[filepath.Base(file)] = data
	}
	return out, nil
}

// Restore restores a journal from an encrypted backup.
func Restore(backupPath string, opts RestoreOptions) (*RestoreResult, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("backup: data directory is required")
	}

	data, err := os.ReadFile(backupPath)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to read backup file: %w", err)
	}

	header, payload, err := verifyAndDecrypt(data, opts.Password, opts.KeyFile)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(payload.JournalDB)

	if opts.DryRun {
		return &RestoreResult{
			EntriesRestored: header.EntryCount,
			SchemaVersion:   header.SchemaVersion,
			AuditRestored:   header.IncludesAudit && opts.WithAudit,
			DryRun:          true,
		}, nil
	}

	return performRestore(opts, payload)
}

// Verify checks backup integrity without restoring.
func Verify(backupPath string, password []byte, keyFile string) (*VerifyResult, error) {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return &VerifyResult{Valid: false, Error: err.Error()}, nil
	}

	header, payload, err := verifyAndDecrypt(data, password, keyFile)
	if err != nil {
		return &VerifyResult{Valid: false, Error: err.Error()}, nil
	}
	crypto.SecureWipe(payload.JournalDB)

	return &VerifyResult{
		Valid:         true,
		Version:       header.Version,
		CreatedAt:     header.CreatedAt,
		EntryCount:    header.EntryCount,
		IncludesAudit: header.IncludesAudit,
	}, nil
}

// verifyAndDecrypt verifies the backup integrity and decrypts the payload.
func verifyAndDecrypt(data []byte, password []byte, keyFile string) (*Header, *Payload, error) {
	if len(data) < len(MagicNumber)+4+HMACLength {
		return nil, nil, ErrInvalidMagic
	}

	reader := bytes.NewReader(data)
	header, err := ReadHeader(reader)
	if err != nil {
		return nil, nil, err
	}
	headerEnd := len(data) - reader.Len()

	var ciphertextLen uint32
	if err := binary.Read(reader, binary.BigEndian, &ciphertextLen); err != nil {
		return nil, nil, fmt.Errorf("backup: failed to read ciphertext length: %w", err)
	}
	if reader.Len() < int(ciphertextLen)+HMACLength {
		return nil, nil, ErrTruncated
	}

	ciphertext := make([]byte, ciphertextLen)
	if _, err := io.ReadFull(reader, ciphertext); err != nil {
		return nil, nil, fmt.Errorf("backup: failed to read ciphertext: %w", err)
	}
	storedHMAC := make([]byte, HMACLength)
	if _, err := io.ReadFull(reader, storedHMAC); err != nil {
		return nil, nil, fmt.Errorf("backup: failed to read HMAC: %w", err)
	}

	var encKey, macKey []byte
	switch {
	case keyFile != "":
		encKey, err = ReadKeyFile(keyFile)
		if err != nil {
			return nil, nil, err
		}
		macKey, err = deriveHKDF(encKey, []byte(hkdfInfoMAC))
		if err != nil {
			crypto.SecureWipe(encKey)
			return nil, nil, fmt.Errorf("backup: failed to derive MAC key: %w", err)
		}
	case header.EncryptionMode == EncryptionModePassword && header.KDFParams != nil:
		kdf, err := crypto.ParseKDF(header.KDFParams.KDF)
		if err != nil {
			return nil, nil, err
		}
		encKey, macKey, err = deriveBackupKeys(kdf, password, header.KDFParams.Salt)
		if err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, fmt.Errorf("backup: cannot determine decryption key for %s backup", header.EncryptionMode)
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	if !VerifyHMAC(data[:headerEnd+4+int(ciphertextLen)], storedHMAC, macKey) {
		return nil, nil, ErrIntegrityFailed
	}

	plaintext, err := DecryptPayload(ciphertext, encKey)
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(plaintext)

	payload, err := DecodePayload(plaintext)
	if err != nil {
		return nil, nil, err
	}
	return header, payload, nil
}

// performRestore stages the database in a temp directory next to the target,
// migrates and checks it, then renames it into place.
func performRestore(opts RestoreOptions, payload *Payload) (*RestoreResult, error) {
	target := filepath.Join(opts.DataDir, store.DBFileName)
	if _, err := os.Stat(target); err == nil && opts.OnConflict == ConflictError {
		inUse, err := journalInUse(opts.DataDir)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConflict, target, err)
		}
		if inUse {
			return nil, fmt.Errorf("%w: %s", ErrConflict, target)
		}
	}

	if err := os.MkdirAll(opts.DataDir, store.DirMode); err != nil {
		return nil, fmt.Errorf("backup: failed to create data directory: %w", err)
	}
	tempDir, err := os.MkdirTemp(opts.DataDir, ".restore-*")
	if err != nil {
		return nil, fmt.Errorf("backup: failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	staged := filepath.Join(tempDir, store.DBFileName)
	if err := os.WriteFile(staged, payload.JournalDB, store.FileMode); err != nil {
		return nil, fmt.Errorf("backup: failed to write %s: %w", store.DBFileName, err)
	}

	result, err := checkStaged(tempDir)
	if err != nil {
		return nil, err
	}

	// SQLite sidecar files belong to the database being replaced
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		os.Remove(target + suffix)
	}
	if err := os.Rename(staged, target); err != nil {
		return nil, fmt.Errorf("backup: failed to restore journal: %w", err)
	}

	if opts.WithAudit && len(payload.AuditLog) > 0 && opts.AuditDir != "" {
		if err := restoreAudit(opts.AuditDir, payload.AuditLog); err != nil {
			return nil, err
		}
		result.AuditRestored = true
	}
	return result, nil
}

// checkStaged opens the staged database, which applies pending migrations,
// and rejects it unless it holds a well-formed vault.
func checkStaged(dir string) (*RestoreResult, error) {
	db, err := store.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrityFailed, err)
	}
	defer db.Close()

	check, err := db.CheckIntegrity()
	if err != nil {
		return nil, fmt.Errorf("backup: failed to check restored journal: %w", err)
	}
	if !check.VaultExists {
		return nil, fmt.Errorf("%w: backup holds no vault", ErrIntegrityFailed)
	}
	if !check.DBIntegrity || !check.VaultValid || check.MalformedEntries > 0 {
		return nil, fmt.Errorf("%w: %s", ErrIntegrityFailed, strings.Join(check.Errors, "; "))
	}
	return &RestoreResult{
		EntriesRestored: check.Entries,
		SchemaVersion:   check.SchemaVersion,
	}, nil
}

// restoreAudit replaces the audit log under dir with files.
func restoreAudit(dir string, files map[string][]byte) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("backup: failed to create audit directory: %w", err)
	}
	if err := audit.NewLogger(dir).Purge(); err != nil {
		return err
	}
	for name, data := range files {
		// names come from the backup and must stay inside dir
		if name != filepath.Base(name) || !(strings.HasSuffix(name, ".jsonl") || name == auditMetaFile) {
			return fmt.Errorf("%w: unexpected audit file %q", ErrIntegrityFailed, name)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0600); err != nil {
			return fmt.Errorf("backup: failed to write %s: %w", name, err)
		}
	}
	return nil
}

// journalInUse reports whether the database in dir holds a vault or entries.
// The empty database left behind by reset or a fresh home does not count.
func journalInUse(dir string) (bool, error) {
	db, err := store.Open(dir)
	if err != nil {
		return false, err
	}
	defer db.Close()

	if _, err := db.LoadVault(); err == nil {
		return true, nil
	} else if !errors.Is(err, vault.ErrVaultNotFound) {
		return false, err
	}
	n, err := db.CountEntries()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
