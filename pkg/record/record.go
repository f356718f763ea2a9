// Package record seals structured values into independent encrypted records
// under the current session key.
//
// Every piece of user-authored text (entry content, cached prompt, cached
// reflection) crosses the storage boundary as an EncryptedRecord. Values are
// JSON-encoded before encryption so any serializable Go value can be sealed.
package record

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forest6511/diaryctl/pkg/crypto"
)

// Errors
var (
	// ErrLocked is returned when a record operation is attempted without a session key.
	ErrLocked = errors.New("record: vault is locked")

	// ErrCorruptRecord is returned when a record authenticates but its
	// plaintext is not the expected JSON value, or the envelope is malformed.
	ErrCorruptRecord = errors.New("record: corrupt record")
)

// KeySource supplies the current session key. *session.Holder satisfies it.
type KeySource interface {
	Get() ([]byte, bool)
}

// EncryptedRecord is a ciphertext and the nonce it was sealed with.
// The ciphertext carries the 16-byte GCM tag.
type EncryptedRecord struct {
	Ciphertext []byte
	Nonce      []byte
}

type encryptedRecordJSON struct {
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
}

// MarshalJSON encodes the record as {"ciphertext":"<base64>","nonce":"<base64>"}.
func (r EncryptedRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(encryptedRecordJSON{
		Ciphertext: base64.StdEncoding.EncodeToString(r.Ciphertext),
		Nonce:      base64.StdEncoding.EncodeToString(r.Nonce),
	})
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (r *EncryptedRecord) UnmarshalJSON(data []byte) error {
	var raw encryptedRecordJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	ct, err := base64.StdEncoding.DecodeString(raw.Ciphertext)
	if err != nil {
		return fmt.Errorf("%w: ciphertext: %v", ErrCorruptRecord, err)
	}
	nonce, err := base64.StdEncoding.DecodeString(raw.Nonce)
	if err != nil {
		return fmt.Errorf("%w: nonce: %v", ErrCorruptRecord, err)
	}
	r.Ciphertext = ct
	r.Nonce = nonce
	return nil
}

// Validate checks the envelope shape without touching any key.
func (r *EncryptedRecord) Validate() error {
	if r == nil || len(r.Ciphertext) == 0 || len(r.Nonce) == 0 {
		return fmt.Errorf("%w: missing ciphertext or nonce", ErrCorruptRecord)
	}
	if len(r.Nonce) != crypto.NonceLength {
		return fmt.Errorf("%w: nonce is %d bytes", ErrCorruptRecord, len(r.Nonce))
	}
	if len(r.Ciphertext) < crypto.TagLength {
		return fmt.Errorf("%w: ciphertext shorter than tag", ErrCorruptRecord)
	}
	return nil
}

// Codec seals and opens records with the key held by a KeySource.
type Codec struct {
	keys KeySource
}

// NewCodec returns a Codec reading keys from keys.
func NewCodec(keys KeySource) *Codec {
	return &Codec{keys: keys}
}

// IsUnlocked reports whether the key source currently holds a key.
func (c *Codec) IsUnlocked() bool {
	k, ok := c.keys.Get()
	crypto.SecureWipe(k)
	return ok
}

// Seal JSON-encodes v and encrypts it under the session key with a fresh nonce.
func (c *Codec) Seal(v any) (*EncryptedRecord, error) {
	key, ok := c.keys.Get()
	if !ok {
		return nil, ErrLocked
	}
	defer crypto.SecureWipe(key)

	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("record: failed to encode value: %w", err)
	}
	defer crypto.SecureWipe(plaintext)

	ct, nonce, err := crypto.Encrypt(key, plaintext)
	if err != nil {
		return nil, fmt.Errorf("record: failed to seal: %w", err)
	}
	return &EncryptedRecord{Ciphertext: ct, Nonce: nonce}, nil
}

// Open decrypts rec and decodes its JSON plaintext into v.
//
// Authentication and UTF-8 failures are returned wrapping
// crypto.ErrAuthenticationFailure and crypto.ErrDecodeFailure.
// Plaintext that is not valid JSON for v yields ErrCorruptRecord.
func (c *Codec) Open(rec *EncryptedRecord, v any) error {
	key, ok := c.keys.Get()
	if !ok {
		return ErrLocked
	}
	defer crypto.SecureWipe(key)

	if rec == nil {
		return fmt.Errorf("%w: nil record", ErrCorruptRecord)
	}
	if len(rec.Nonce) != crypto.NonceLength {
		return fmt.Errorf("%w: nonce is %d bytes", ErrCorruptRecord, len(rec.Nonce))
	}

	text, err := crypto.DecryptString(key, rec.Ciphertext, rec.Nonce)
	if err != nil {
		return fmt.Errorf("record: failed to open: %w", err)
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return nil
}

// OpenAs opens rec into a new value of type T.
func OpenAs[T any](c *Codec, rec *EncryptedRecord) (T, error) {
	var v T
	if err := c.Open(rec, &v); err != nil {
		var zero T
		return zero, err
	}
	return v, nil
}
