// Package cache keeps small derived artifacts (last prompt shown, AI
// reflection) sealed under the session key in named slots.
package cache

import (
	"errors"
	"fmt"

	"github.com/forest6511/diaryctl/pkg/record"
)

// Slot names
const (
	SlotLastPrompt = "last_prompt"
	SlotReflection = "reflection"
)

// ErrNotFound is returned when a slot is empty.
var ErrNotFound = errors.New("cache: artifact not found")

// Store persists sealed artifacts by name.
type Store interface {
	// GetArtifact returns ErrNotFound for an empty slot.
	GetArtifact(name string) (*record.EncryptedRecord, error)
	PutArtifact(name string, rec *record.EncryptedRecord) error
	DeleteArtifact(name string) error
}

// Slot is a typed view of one named artifact.
type Slot[T any] struct {
	name  string
	store Store
	codec *record.Codec
}

// NewSlot returns the slot called name.
func NewSlot[T any](store Store, codec *record.Codec, name string) *Slot[T] {
	return &Slot[T]{name: name, store: store, codec: codec}
}

// Load opens the artifact. The second result is false when the slot is empty.
//
// An artifact that fails to authenticate or decode is treated as absent, so a
// damaged cache is regenerated rather than blocking the caller. record.ErrLocked
// is always returned as an error.
func (s *Slot[T]) Load() (T, bool, error) {
	var zero T
	if !s.codec.IsUnlocked() {
		return zero, false, record.ErrLocked
	}

	rec, err := s.store.GetArtifact(s.name)
	if errors.Is(err, ErrNotFound) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("cache: failed to read %s: %w", s.name, err)
	}

	v, err := record.OpenAs[T](s.codec, rec)
	if errors.Is(err, record.ErrLocked) {
		return zero, false, err
	}
	if err != nil {
		return zero, false, nil
	}
	return v, true, nil
}

// Save seals v with a fresh nonce and replaces the slot contents.
func (s *Slot[T]) Save(v T) error {
	rec, err := s.codec.Seal(v)
	if err != nil {
		return err
	}
	if err := s.store.PutArtifact(s.name, rec); err != nil {
		return fmt.Errorf("cache: failed to write %s: %w", s.name, err)
	}
	return nil
}

// Clear empties the slot. Clearing an empty slot is not an error.
func (s *Slot[T]) Clear() error {
	if err := s.store.DeleteArtifact(s.name); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("cache: failed to clear %s: %w", s.name, err)
	}
	return nil
}
