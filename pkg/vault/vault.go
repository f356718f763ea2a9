// Package vault owns the one-time vault record and the unlock lifecycle.
//
// A vault is a random salt plus a known marker encrypted under the key derived
// from the passphrase. Setup writes it once; Unlock re-derives the key and
// accepts it only if the marker decrypts. The derived key lives in a
// session.Holder shared with record.Codec.
package vault

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/forest6511/diaryctl/pkg/audit"
	"github.com/forest6511/diaryctl/pkg/crypto"
	"github.com/forest6511/diaryctl/pkg/record"
	"github.com/forest6511/diaryctl/pkg/session"
)

// VerificationMarker is the known plaintext sealed at setup.
const VerificationMarker = "journal-companion-ok"

// Errors
var (
	ErrVaultAlreadyExists = errors.New("vault: vault already exists")
	ErrVaultNotFound      = errors.New("vault: vault not found")
	ErrWrongPassphrase    = errors.New("vault: wrong passphrase")
	ErrVaultCorrupted     = errors.New("vault: vault record is corrupted")

	// ErrVaultLocked is record.ErrLocked, so either matches with errors.Is.
	ErrVaultLocked = record.ErrLocked
)

// Record is the persisted vault row.
type Record struct {
	Salt             []byte
	KDF              string
	VerifyCiphertext []byte
	VerifyNonce      []byte
	CreatedAt        time.Time
}

// Store persists the vault record.
type Store interface {
	// LoadVault returns ErrVaultNotFound when no vault exists.
	LoadVault() (*Record, error)
	// CreateVault returns ErrVaultAlreadyExists when a vault exists.
	CreateVault(rec *Record) error
	// ResetVault removes the vault together with every record sealed under it.
	ResetVault() error
}

// State is the lifecycle state of a Manager.
type State int

const (
	StateNoVault State = iota
	StateLocked
	StateUnlocked
)

// String returns a human-readable state name
func (s State) String() string {
	switch s {
	case StateNoVault:
		return "no vault"
	case StateLocked:
		return "locked"
	case StateUnlocked:
		return "unlocked"
	default:
		return "unknown"
	}
}

// Manager implements setup, unlock, lock and reset over a Store.
type Manager struct {
	mu     sync.Mutex // serializes Setup, Unlock and Reset
	store  Store
	keys   *session.Holder
	kdf    crypto.KDF
	audit  *audit.Logger
	source string
}

// Option configures a Manager.
type Option func(*Manager)

// WithKDF selects the key derivation used by Setup. Unlock always uses the
// KDF recorded in the vault.
func WithKDF(kdf crypto.KDF) Option {
	return func(m *Manager) { m.kdf = kdf }
}

// WithSession makes the Manager store keys in h instead of a private holder.
func WithSession(h *session.Holder) Option {
	return func(m *Manager) { m.keys = h }
}

// WithAudit records lifecycle events to l, attributed to source.
func WithAudit(l *audit.Logger, source string) Option {
	return func(m *Manager) {
		m.audit = l
		m.source = source
	}
}

// NewManager creates a Manager. A fresh Manager over an existing vault is Locked.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		kdf:    crypto.DefaultKDF,
		source: audit.SourceCLI,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.keys == nil {
		m.keys = session.New()
	}
	return m
}

// Session returns the holder the Manager stores keys in.
func (m *Manager) Session() *session.Holder {
	return m.keys
}

// Codec returns a record.Codec bound to the Manager's session.
func (m *Manager) Codec() *record.Codec {
	return record.NewCodec(m.keys)
}

// HasVault reports whether a vault record exists.
func (m *Manager) HasVault() (bool, error) {
	_, err := m.store.LoadVault()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrVaultNotFound) {
		return false, nil
	}
	return false, err
}

// IsUnlocked reports whether a session key is held.
func (m *Manager) IsUnlocked() bool {
	return m.keys.IsUnlocked()
}

// State returns the current lifecycle state.
func (m *Manager) State() (State, error) {
	if m.keys.IsUnlocked() {
		return StateUnlocked, nil
	}
	ok, err := m.HasVault()
	if err != nil {
		return StateNoVault, err
	}
	if ok {
		return StateLocked, nil
	}
	return StateNoVault, nil
}

// Setup creates the vault and unlocks it:
// 1. Generate a random salt
// 2. Derive the key from passphrase and salt
// 3. Encrypt VerificationMarker under the key
// 4. Persist salt, KDF name and marker ciphertext
// 5. Store the key in the session
func (m *Manager) Setup(passphrase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.LoadVault(); err == nil {
		return ErrVaultAlreadyExists
	} else if !errors.Is(err, ErrVaultNotFound) {
		return err
	}

	salt, err := crypto.GenerateSalt()
	if err != nil {
		return err
	}

	key, err := crypto.DeriveKey(m.kdf, passphrase, salt)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(key)

	ct, nonce, err := crypto.EncryptString(key, VerificationMarker)
	if err != nil {
		return fmt.Errorf("vault: failed to encrypt verification marker: %w", err)
	}

	rec := &Record{
		Salt:             salt,
		KDF:              string(m.kdf),
		VerifyCiphertext: ct,
		VerifyNonce:      nonce,
		CreatedAt:        time.Now().UTC(),
	}
	if err := m.store.CreateVault(rec); err != nil {
		return err
	}

	if err := m.keys.Set(key); err != nil {
		return err
	}

	m.auditKey(key)
	m.logSuccess(audit.OpVaultSetup)
	return nil
}

// Unlock re-derives the key from passphrase and accepts it only if the
// stored marker decrypts. On any failure the session is left untouched.
func (m *Manager) Unlock(passphrase string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.store.LoadVault()
	if err != nil {
		return err
	}
	if len(rec.Salt) != crypto.SaltLength || len(rec.VerifyNonce) != crypto.NonceLength {
		return ErrVaultCorrupted
	}

	kdf, err := crypto.ParseKDF(rec.KDF)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVaultCorrupted, err)
	}

	key, err := crypto.DeriveKey(kdf, passphrase, rec.Salt)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(key)

	marker, err := crypto.DecryptString(key, rec.VerifyCiphertext, rec.VerifyNonce)
	if err != nil || marker != VerificationMarker {
		if err != nil && !errors.Is(err, crypto.ErrAuthenticationFailure) &&
			!errors.Is(err, crypto.ErrDecodeFailure) {
			return fmt.Errorf("vault: failed to verify passphrase: %w", err)
		}
		m.logError(audit.OpVaultUnlockFailed, "AUTH_FAILED", "wrong passphrase")
		return ErrWrongPassphrase
	}

	if err := m.keys.Set(key); err != nil {
		return err
	}

	m.auditKey(key)
	m.logSuccess(audit.OpVaultUnlock)
	return nil
}

// Lock wipes the session key. Calling Lock on a locked vault is a no-op.
func (m *Manager) Lock() {
	if m.keys.IsUnlocked() {
		m.logSuccess(audit.OpVaultLock)
	}
	m.keys.Clear()
}

// Reset destroys the vault and everything sealed under it, clears the
// session and purges the audit log. Reset with no vault is a no-op.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.ResetVault(); err != nil {
		return err
	}
	m.keys.Clear()

	if m.audit != nil {
		if err := m.audit.Purge(); err != nil {
			return fmt.Errorf("vault: failed to purge audit log: %w", err)
		}
	}
	return nil
}

func (m *Manager) auditKey(key []byte) {
	if m.audit == nil {
		return
	}
	if err := m.audit.SetHMACKey(key); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to initialize audit logger: %v\n", err)
	}
}

func (m *Manager) logSuccess(op string) {
	if m.audit == nil {
		return
	}
	_ = m.audit.LogSuccess(op, m.source, "")
}

func (m *Manager) logError(op, code, msg string) {
	if m.audit == nil {
		return
	}
	_ = m.audit.LogError(op, m.source, "", code, msg)
}
