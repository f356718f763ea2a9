package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/forest6511/diaryctl/pkg/audit"
	"github.com/forest6511/diaryctl/pkg/crypto"
	"github.com/forest6511/diaryctl/pkg/journal"
	"github.com/forest6511/diaryctl/pkg/store"
	"github.com/forest6511/diaryctl/pkg/vault"
)

const (
	testPassphrase = "correct-horse-battery"
	testPassword   = "backup-password-123"
)

// testJournal is an unlocked journal under a temp home directory.
type testJournal struct {
	home     string
	dataDir  string
	auditDir string
	db       *store.SQLite
	vault    *vault.Manager
	audit    *audit.Logger
	svc      *journal.Service
}

func newTestJournal(t *testing.T) *testJournal {
	t.Helper()
	home := t.TempDir()
	j := &testJournal{
		home:     home,
		dataDir:  filepath.Join(home, "data"),
		auditDir: filepath.Join(home, "audit"),
	}
	db, err := store.Open(j.dataDir)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	j.db = db

	j.audit = audit.NewLogger(j.auditDir)
	j.vault = vault.NewManager(db, vault.WithAudit(j.audit, audit.SourceCLI))
	if err := j.vault.Setup(testPassphrase); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	j.svc = journal.NewService(db, j.vault.Codec(), journal.WithLocation(time.UTC))
	return j
}

func (j *testJournal) write(t *testing.T, content string, createdAt time.Time) *journal.Entry {
	t.Helper()
	e, err := j.svc.Insert(content, createdAt.UnixMilli(), journal.Analyze(content))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return e
}

// writeBackup creates a password backup of j and returns its path.
func writeBackup(t *testing.T, j *testJournal, includeAudit bool) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := Backup(j.db, BackupOptions{
		Output:       &buf,
		AuditDir:     j.auditDir,
		IncludeAudit: includeAudit,
		Password:     []byte(testPassword),
	})
	if err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "journal.bkp")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

// openRestored unlocks the journal restored under dataDir.
func openRestored(t *testing.T, dataDir string) *journal.Service {
	t.Helper()
	db, err := store.Open(dataDir)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := vault.NewManager(db)
	if err := m.Unlock(testPassphrase); err != nil {
		t.Fatalf("Unlock of restored vault failed: %v", err)
	}
	return journal.NewService(db, m.Codec(), journal.WithLocation(time.UTC))
}

func TestGenerateSalt(t *testing.T) {
	salt1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	if len(salt1) != SaltLength {
		t.Errorf("Expected salt length %d, got %d", SaltLength, len(salt1))
	}

	salt2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}
	if bytes.Equal(salt1, salt2) {
		t.Error("Two generated salts should be different")
	}
}

func TestDeriveBackupKeys(t *testing.T) {
	password := []byte(testPassword)
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt failed: %v", err)
	}

	encKey, macKey, err := DeriveBackupKeys(password, salt)
	if err != nil {
		t.Fatalf("DeriveBackupKeys failed: %v", err)
	}
	defer crypto.SecureWipe(encKey)
	defer crypto.SecureWipe(macKey)

	if len(encKey) != KeyLength || len(macKey) != KeyLength {
		t.Errorf("Expected key lengths %d, got %d and %d", KeyLength, len(encKey), len(macKey))
	}
	if bytes.Equal(encKey, macKey) {
		t.Error("Encryption and MAC keys should be different")
	}

	encKey2, macKey2, err := DeriveBackupKeys(password, salt)
	if err != nil {
		t.Fatalf("DeriveBackupKeys failed: %v", err)
	}
	if !bytes.Equal(encKey, encKey2) || !bytes.Equal(macKey, macKey2) {
		t.Error("Same password and salt should produce same keys")
	}
}

func TestDeriveBackupKeysEmptyPassword(t *testing.T) {
	salt, _ := GenerateSalt()
	if _, _, err := DeriveBackupKeys(nil, salt); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("Expected ErrEmptyPassword, got %v", err)
	}
}

func TestEncryptDecryptPayload(t *testing.T) {
	key := make([]byte, KeyLength)
	plaintext := []byte("sealed journal snapshot")

	ciphertext, err := EncryptPayload(plaintext, key)
	if err != nil {
		t.Fatalf("EncryptPayload failed: %v", err)
	}
	if len(ciphertext) != crypto.NonceLength+len(plaintext)+crypto.TagLength {
		t.Errorf("Unexpected ciphertext length %d", len(ciphertext))
	}

	decrypted, err := DecryptPayload(ciphertext, key)
	if err != nil {
		t.Fatalf("DecryptPayload failed: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("Decrypted = %q, want %q", decrypted, plaintext)
	}

	wrongKey := bytes.Repeat([]byte{1}, KeyLength)
	if _, err := DecryptPayload(ciphertext, wrongKey); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed with wrong key, got %v", err)
	}
	if _, err := DecryptPayload(ciphertext[:5], key); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Expected ErrDecryptionFailed for short input, got %v", err)
	}
}

func TestHMAC(t *testing.T) {
	key := []byte("mac-key")
	data := []byte("header and ciphertext")
	mac := ComputeHMAC(data, key)

	if len(mac) != HMACLength {
		t.Errorf("Expected HMAC length %d, got %d", HMACLength, len(mac))
	}
	if !VerifyHMAC(data, mac, key) {
		t.Error("VerifyHMAC should accept the computed MAC")
	}
	if VerifyHMAC([]byte("other data"), mac, key) {
		t.Error("VerifyHMAC should reject different data")
	}
	if VerifyHMAC(data, mac, []byte("other-key")) {
		t.Error("VerifyHMAC should reject a different key")
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	header := &Header{
		Version:        FormatVersion,
		CreatedAt:      time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		SchemaVersion:  store.CurrentSchemaVersion,
		EncryptionMode: EncryptionModePassword,
		KDFParams: &KDFParams{
			KDF:         string(KDF),
			Salt:        bytes.Repeat([]byte{7}, SaltLength),
			Memory:      crypto.Argon2Memory,
			Iterations:  crypto.Argon2Time,
			Parallelism: crypto.Argon2Threads,
		},
		IncludesAudit: true,
		EntryCount:    3,
		ChecksumAlgo:  "sha256",
	}

	var buf bytes.Buffer
	if err := WriteHeader(&buf, header); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("DIARYBKP")) {
		t.Error("Backup should start with the magic number")
	}

	got, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if got.EntryCount != 3 || !got.IncludesAudit || got.EncryptionMode != EncryptionModePassword {
		t.Errorf("Header mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(header.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, header.CreatedAt)
	}
	if !bytes.Equal(got.KDFParams.Salt, header.KDFParams.Salt) {
		t.Error("Salt should survive the round trip")
	}
}

func TestReadHeaderErrors(t *testing.T) {
	t.Run("invalid magic", func(t *testing.T) {
		_, err := ReadHeader(bytes.NewReader([]byte("NOTABKUP\x00\x00\x00\x02{}")))
		if !errors.Is(err, ErrInvalidMagic) {
			t.Errorf("Expected ErrInvalidMagic, got %v", err)
		}
	})

	t.Run("unsupported version", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteHeader(&buf, &Header{Version: FormatVersion + 1}); err != nil {
			t.Fatalf("WriteHeader failed: %v", err)
		}
		if _, err := ReadHeader(&buf); !errors.Is(err, ErrUnsupportedVersion) {
			t.Errorf("Expected ErrUnsupportedVersion, got %v", err)
		}
	})

	t.Run("oversized header", func(t *testing.T) {
		data := append(MagicNumber[:], 0xff, 0xff, 0xff, 0xff)
		if _, err := ReadHeader(bytes.NewReader(data)); err == nil {
			t.Error("Expected error for oversized header")
		}
	})
}

func TestKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.key")

	if err := GenerateKeyFile(path); err != nil {
		t.Fatalf("GenerateKeyFile failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("Expected key file mode 0600, got %04o", info.Mode().Perm())
	}

	key, err := ReadKeyFile(path)
	if err != nil {
		t.Fatalf("ReadKeyFile failed: %v", err)
	}
	if len(key) != KeyLength {
		t.Errorf("Expected key length %d, got %d", KeyLength, len(key))
	}

	if err := GenerateKeyFile(path); err == nil {
		t.Error("GenerateKeyFile should not overwrite an existing file")
	}

	short := filepath.Join(t.TempDir(), "short.key")
	if err := os.WriteFile(short, []byte("too short"), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := ReadKeyFile(short); !errors.Is(err, ErrInvalidKeyFile) {
		t.Errorf("Expected ErrInvalidKeyFile, got %v", err)
	}
}

func TestBackupRequiresCredentials(t *testing.T) {
	j := newTestJournal(t)

	if _, err := Backup(j.db, BackupOptions{Password: []byte(testPassword)}); err == nil {
		t.Error("Backup without output should fail")
	}
	if _, err := Backup(j.db, BackupOptions{Output: &bytes.Buffer{}}); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("Expected ErrEmptyPassword, got %v", err)
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	j := newTestJournal(t)
	first := j.write(t, "Walked by the river. Felt calm.", time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC))
	second := j.write(t, "Long day at work, a little tired.", time.Date(2026, 3, 9, 21, 0, 0, 0, time.UTC))

	path := writeBackup(t, j, true)

	target := t.TempDir()
	dataDir := filepath.Join(target, "data")
	auditDir := filepath.Join(target, "audit")
	result, err := Restore(path, RestoreOptions{
		DataDir:   dataDir,
		AuditDir:  auditDir,
		WithAudit: true,
		Password:  []byte(testPassword),
	})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if result.EntriesRestored != 2 {
		t.Errorf("Expected 2 entries restored, got %d", result.EntriesRestored)
	}
	if result.SchemaVersion != store.CurrentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", store.CurrentSchemaVersion, result.SchemaVersion)
	}
	if !result.AuditRestored {
		t.Error("Expected audit log to be restored")
	}

	info, err := os.Stat(filepath.Join(dataDir, store.DBFileName))
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != store.FileMode {
		t.Errorf("Expected restored database mode %04o, got %04o", store.FileMode, info.Mode().Perm())
	}

	svc := openRestored(t, dataDir)
	for _, want := range []*journal.Entry{first, second} {
		got, err := svc.Get(want.ID)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", want.ID, err)
		}
		if got.Content != want.Content || got.CreatedAt != want.CreatedAt {
			t.Errorf("Restored entry = %+v, want %+v", got, want)
		}
	}

	restoredLog := audit.NewLogger(auditDir)
	m := vault.NewManager(mustOpen(t, dataDir), vault.WithAudit(restoredLog, audit.SourceCLI))
	if err := m.Unlock(testPassphrase); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	verify, err := restoredLog.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !verify.Valid {
		t.Errorf("Restored audit chain should verify, errors: %v", verify.Errors)
	}
}

func mustOpen(t *testing.T, dir string) *store.SQLite {
	t.Helper()
	db, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRestoreWithoutAudit(t *testing.T) {
	j := newTestJournal(t)
	j.write(t, "Quiet morning.", time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC))
	path := writeBackup(t, j, false)

	auditDir := filepath.Join(t.TempDir(), "audit")
	result, err := Restore(path, RestoreOptions{
		DataDir:   filepath.Join(t.TempDir(), "data"),
		AuditDir:  auditDir,
		WithAudit: true,
		Password:  []byte(testPassword),
	})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if result.AuditRestored {
		t.Error("Backup without audit should not restore audit logs")
	}
	if _, err := os.Stat(auditDir); !os.IsNotExist(err) {
		t.Error("Audit directory should not be created")
	}
}

func TestRestoreConflict(t *testing.T) {
	j := newTestJournal(t)
	j.write(t, "Original entry.", time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC))
	path := writeBackup(t, j, false)

	other := newTestJournal(t)
	other.write(t, "Entry that will be replaced.", time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC))
	other.db.Close()

	_, err := Restore(path, RestoreOptions{
		DataDir:  other.dataDir,
		Password: []byte(testPassword),
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	result, err := Restore(path, RestoreOptions{
		DataDir:    other.dataDir,
		OnConflict: ConflictOverwrite,
		Password:   []byte(testPassword),
	})
	if err != nil {
		t.Fatalf("Restore with overwrite failed: %v", err)
	}
	if result.EntriesRestored != 1 {
		t.Errorf("Expected 1 entry restored, got %d", result.EntriesRestored)
	}

	entries, err := openRestored(t, other.dataDir).All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Content != "Original entry." {
		t.Errorf("Expected only the backed up entry, got %+v", entries)
	}
}

func TestRestoreIntoEmptyJournal(t *testing.T) {
	j := newTestJournal(t)
	j.write(t, "Kept safe in a backup.", time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC))
	path := writeBackup(t, j, false)

	tests := []struct {
		name    string
		prepare func(t *testing.T) string
	}{
		{"after reset", func(t *testing.T) string {
			other := newTestJournal(t)
			if err := other.vault.Reset(); err != nil {
				t.Fatalf("Reset failed: %v", err)
			}
			other.db.Close()
			return other.dataDir
		}},
		{"fresh database", func(t *testing.T) string {
			dir := filepath.Join(t.TempDir(), "data")
			db, err := store.Open(dir)
			if err != nil {
				t.Fatalf("store.Open failed: %v", err)
			}
			db.Close()
			return dir
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataDir := tt.prepare(t)
			result, err := Restore(path, RestoreOptions{
				DataDir:  dataDir,
				Password: []byte(testPassword),
			})
			if err != nil {
				t.Fatalf("Restore failed: %v", err)
			}
			if result.EntriesRestored != 1 {
				t.Errorf("Expected 1 entry restored, got %d", result.EntriesRestored)
			}
			entries, err := openRestored(t, dataDir).All()
			if err != nil {
				t.Fatalf("All failed: %v", err)
			}
			if len(entries) != 1 || entries[0].Content != "Kept safe in a backup." {
				t.Errorf("Expected the backed up entry, got %+v", entries)
			}
		})
	}
}

func TestRestoreDryRun(t *testing.T) {
	j := newTestJournal(t)
	j.write(t, "Dry run entry.", time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC))
	path := writeBackup(t, j, true)

	dataDir := filepath.Join(t.TempDir(), "data")
	result, err := Restore(path, RestoreOptions{
		DataDir:   dataDir,
		DryRun:    true,
		WithAudit: true,
		Password:  []byte(testPassword),
	})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if !result.DryRun || result.EntriesRestored != 1 || !result.AuditRestored {
		t.Errorf("Unexpected dry run result: %+v", result)
	}
	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		t.Error("Dry run should not create the data directory")
	}
}

func TestRestoreRejectsBadInput(t *testing.T) {
	j := newTestJournal(t)
	j.write(t, "Tamper target.", time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC))
	path := writeBackup(t, j, false)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}

	tampered := append([]byte(nil), data...)
	tampered[len(tampered)-HMACLength-10] ^= 0x01
	tamperedPath := filepath.Join(t.TempDir(), "tampered.bkp")
	if err := os.WriteFile(tamperedPath, tampered, 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	truncatedPath := filepath.Join(t.TempDir(), "truncated.bkp")
	if err := os.WriteFile(truncatedPath, data[:len(data)-HMACLength-1], 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	tests := []struct {
		name     string
		path     string
		password string
		wantErr  error
	}{
		{"wrong password", path, "not-the-password", ErrIntegrityFailed},
		{"empty password", path, "", ErrEmptyPassword},
		{"tampered ciphertext", tamperedPath, testPassword, ErrIntegrityFailed},
		{"truncated", truncatedPath, testPassword, ErrTruncated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dataDir := filepath.Join(t.TempDir(), "data")
			_, err := Restore(tt.path, RestoreOptions{DataDir: dataDir, Password: []byte(tt.password)})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected %v, got %v", tt.wantErr, err)
			}
			if _, err := os.Stat(filepath.Join(dataDir, store.DBFileName)); !os.IsNotExist(err) {
				t.Error("Failed restore should not leave a database behind")
			}
		})
	}
}

func TestRestoreRejectsJournalWithoutVault(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer db.Close()

	var buf bytes.Buffer
	if _, err := Backup(db, BackupOptions{Output: &buf, Password: []byte(testPassword)}); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "empty.bkp")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err = Restore(path, RestoreOptions{
		DataDir:  filepath.Join(t.TempDir(), "data"),
		Password: []byte(testPassword),
	})
	if !errors.Is(err, ErrIntegrityFailed) {
		t.Errorf("Expected ErrIntegrityFailed, got %v", err)
	}
}

func TestBackupWithKeyFile(t *testing.T) {
	j := newTestJournal(t)
	entry := j.write(t, "Key file entry.", time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC))

	keyPath := filepath.Join(t.TempDir(), "backup.key")
	if err := GenerateKeyFile(keyPath); err != nil {
		t.Fatalf("GenerateKeyFile failed: %v", err)
	}

	var buf bytes.Buffer
	header, err := Backup(j.db, BackupOptions{Output: &buf, KeyFile: keyPath})
	if err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	if header.EncryptionMode != EncryptionModeKey || header.KDFParams != nil {
		t.Errorf("Key file backup header = %+v", header)
	}
	path := filepath.Join(t.TempDir(), "key.bkp")
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := Restore(path, RestoreOptions{
		DataDir:  filepath.Join(t.TempDir(), "data"),
		Password: []byte(testPassword),
	}); err == nil {
		t.Error("Key file backup should not restore with a password")
	}

	dataDir := filepath.Join(t.TempDir(), "data")
	if _, err := Restore(path, RestoreOptions{DataDir: dataDir, KeyFile: keyPath}); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	got, err := openRestored(t, dataDir).Get(entry.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != entry.Content {
		t.Errorf("Content = %q, want %q", got.Content, entry.Content)
	}
}

func TestVerify(t *testing.T) {
	j := newTestJournal(t)
	j.write(t, "One.", time.Date(2026, 3, 7, 9, 0, 0, 0, time.UTC))
	j.write(t, "Two.", time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC))
	path := writeBackup(t, j, true)

	result, err := Verify(path, []byte(testPassword), "")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid || result.EntryCount != 2 || !result.IncludesAudit || result.Version != FormatVersion {
		t.Errorf("Unexpected verify result: %+v", result)
	}

	result, err = Verify(path, []byte("wrong"), "")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid || result.Error == "" {
		t.Error("Verify with wrong password should report invalid")
	}

	result, _ = Verify(filepath.Join(t.TempDir(), "missing.bkp"), []byte(testPassword), "")
	if result.Valid {
		t.Error("Verify of a missing file should report invalid")
	}
}

func TestExportJSON(t *testing.T) {
	j := newTestJournal(t)
	j.write(t, "Walked by the river.", time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC))
	entries, err := j.svc.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}

	data, err := ExportJSON(entries)
	if err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}

	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Export is not a JSON list: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("Expected 1 exported entry, got %d", len(raw))
	}
	for _, key := range []string{"id", "content", "createdAt", "sentimentScore", "sentimentLabel", "themes"} {
		if _, ok := raw[0][key]; !ok {
			t.Errorf("Exported entry is missing %q", key)
		}
	}

	empty, err := ExportJSON(nil)
	if err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}
	if string(empty) != "[]" {
		t.Errorf("Empty export = %s, want []", empty)
	}
}

func TestImport(t *testing.T) {
	j := newTestJournal(t)
	j.write(t, "Morning run.", time.Date(2026, 3, 8, 7, 0, 0, 0, time.UTC))

	ms := func(d, h int) int64 { return time.Date(2026, 3, d, h, 0, 0, 0, time.UTC).UnixMilli() }
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	items := []map[string]any{
		{"content": "Morning run.", "createdAt": ms(8, 20)},
		{"content": "Evening with friends.", "createdAt": ms(8, 21)},
		{"content": "A brand new day.", "createdAt": ms(9, 10)},
		{"content": "A second note on the 9th.", "createdAt": ms(9, 18)},
		{"content": "   "},
		{"content": "Undated note."},
	}
	data, err := json.Marshal(items)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	result, err := Import(j.svc, data, now)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Imported != 2 || result.Merged != 2 || result.Skipped != 2 {
		t.Errorf("Import result = %+v, want 2 imported, 2 merged, 2 skipped", result)
	}
	if result.Total() != 4 {
		t.Errorf("Total = %d, want 4", result.Total())
	}

	byDay := map[int64]string{}
	entries, err := j.svc.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	for _, e := range entries {
		byDay[j.svc.DayStart(e.CreatedAt)] = e.Content
	}
	want := map[int64]string{
		j.svc.DayStart(ms(8, 0)):        "Morning run.\n\nEvening with friends.",
		j.svc.DayStart(ms(9, 0)):        "A brand new day.\n\nA second note on the 9th.",
		j.svc.DayStart(now.UnixMilli()): "Undated note.",
	}
	if len(byDay) != len(want) {
		t.Fatalf("Expected %d days, got %d: %v", len(want), len(byDay), byDay)
	}
	for dayStart, content := range want {
		if byDay[dayStart] != content {
			t.Errorf("Day %d content = %q, want %q", dayStart, byDay[dayStart], content)
		}
	}
}

func TestImportExportRoundTrip(t *testing.T) {
	src := newTestJournal(t)
	src.write(t, "Grateful for the sun.", time.Date(2026, 3, 8, 9, 0, 0, 0, time.UTC))
	src.write(t, "Rainy and slow.", time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC))
	entries, err := src.svc.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	data, err := ExportJSON(entries)
	if err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}

	dst := newTestJournal(t)
	result, err := Import(dst.svc, data, time.Now())
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Imported != 2 {
		t.Errorf("Expected 2 imported, got %d", result.Imported)
	}

	// A second import of the same file changes nothing
	result, err = Import(dst.svc, data, time.Now())
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.Total() != 0 || result.Skipped != 2 {
		t.Errorf("Re-import result = %+v, want all skipped", result)
	}
}

func TestImportInvalid(t *testing.T) {
	j := newTestJournal(t)
	for _, input := range []string{"", "{}", `{"entries": []}`, "[not json"} {
		if _, err := Import(j.svc, []byte(input), time.Now()); !errors.Is(err, ErrInvalidExport) {
			t.Errorf("Import(%q) error = %v, want ErrInvalidExport", input, err)
		}
	}

	result, err := Import(j.svc, []byte("[]"), time.Now())
	if err != nil {
		t.Fatalf("Import of empty list failed: %v", err)
	}
	if result.Total() != 0 {
		t.Errorf("Empty import should change nothing, got %+v", result)
	}
}

func TestImportLocked(t *testing.T) {
	j := newTestJournal(t)
	j.vault.Lock()
	if _, err := Import(j.svc, []byte(`[{"content":"x"}]`), time.Now()); !errors.Is(err, vault.ErrVaultLocked) {
		t.Errorf("Expected ErrVaultLocked, got %v", err)
	}
}
