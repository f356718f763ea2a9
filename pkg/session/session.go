// Package session holds the derived journal key for the lifetime of an
// unlocked session.
//
// A Holder is owned by a vault.Manager and shared with every component that
// seals or opens records. The key is copied on the way in and on the way out,
// and wiped when the holder is cleared or replaced.
package session

import (
	"errors"
	"sync"

	"github.com/forest6511/diaryctl/pkg/crypto"
)

// ErrInvalidKey is returned by Set when the key is not crypto.KeyLength bytes.
var ErrInvalidKey = errors.New("session: key must be 32 bytes")

// Holder keeps at most one session key in memory.
type Holder struct {
	mu  sync.RWMutex
	key []byte
}

// New returns an empty (locked) Holder.
func New() *Holder {
	return &Holder{}
}

// Set stores a copy of key, wiping any previous key.
func (h *Holder) Set(key []byte) error {
	if len(key) != crypto.KeyLength {
		return ErrInvalidKey
	}
	k := make([]byte, len(key))
	copy(k, key)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.key != nil {
		crypto.SecureWipe(h.key)
	}
	h.key = k
	return nil
}

// Get returns a copy of the key. The second result is false when no key is held.
// Callers should SecureWipe the copy when done with it.
func (h *Holder) Get() ([]byte, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.key == nil {
		return nil, false
	}
	k := make([]byte, len(h.key))
	copy(k, h.key)
	return k, true
}

// Clear wipes and forgets the key. Safe to call on an empty holder.
func (h *Holder) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.key != nil {
		crypto.SecureWipe(h.key)
		h.key = nil
	}
}

// IsUnlocked reports whether a key is held.
func (h *Holder) IsUnlocked() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.key != nil
}
