// Package crypto provides the cryptographic primitives for diaryctl.
//
// This package implements passphrase key derivation and AES-256-GCM
// authenticated encryption for journal records.
//
// # Security Features
//
//   - AES-256-GCM authenticated encryption (96-bit nonce, 128-bit tag, no AAD)
//   - PBKDF2-HMAC-SHA256 key derivation (250,000 iterations, default)
//   - Argon2id key derivation (64MB memory, 3 iterations, 4 threads, optional)
//   - Cryptographically secure random nonce per encryption
//   - Secure memory wiping for sensitive data
//
// # Example Usage
//
//	salt, _ := crypto.GenerateSalt()
//	key, err := crypto.DeriveKey(crypto.KDFPBKDF2, "passphrase", salt)
//
//	ciphertext, nonce, err := crypto.EncryptString(key, "dear diary")
//	text, err := crypto.DecryptString(key, ciphertext, nonce)
//
//	crypto.SecureWipe(key)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"runtime"
	"unicode/utf8"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDF names a passphrase key derivation construction.
type KDF string

const (
	// KDFPBKDF2 is PBKDF2-HMAC-SHA256 with PBKDF2Iterations rounds.
	KDFPBKDF2 KDF = "pbkdf2-sha256"

	// KDFArgon2id is Argon2id with the Argon2* parameters below.
	KDFArgon2id KDF = "argon2id"

	// DefaultKDF is used for new vaults unless configured otherwise.
	DefaultKDF = KDFPBKDF2
)

// Key derivation parameters.
const (
	// PBKDF2Iterations is the PBKDF2-HMAC-SHA256 work factor.
	PBKDF2Iterations = 250_000

	// Argon2Memory is the memory cost in KiB (64MB).
	Argon2Memory = 64 * 1024

	// Argon2Time is the number of iterations.
	Argon2Time = 3

	// Argon2Threads is the degree of parallelism.
	Argon2Threads = 4

	// SaltLength is the length of vault salts in bytes (128 bits).
	SaltLength = 16

	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = 32

	// NonceLength is the length of GCM nonces in bytes (96 bits).
	NonceLength = 12

	// TagLength is the length of the GCM authentication tag in bytes.
	TagLength = 16
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidInput indicates an empty passphrase, a salt of the wrong
	// length or an unknown KDF name.
	ErrInvalidInput = errors.New("crypto: invalid input")

	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrAuthenticationFailure indicates the ciphertext could not be
	// authenticated: wrong key, corruption or tampering.
	ErrAuthenticationFailure = errors.New("crypto: authentication failed")

	// ErrDecodeFailure indicates authenticated plaintext that is not valid UTF-8 text.
	ErrDecodeFailure = errors.New("crypto: decrypted data is not valid text")
)

// ParseKDF returns the KDF with the given name. An empty name selects DefaultKDF.
func ParseKDF(name string) (KDF, error) {
	switch KDF(name) {
	case "":
		return DefaultKDF, nil
	case KDFPBKDF2, KDFArgon2id:
		return KDF(name), nil
	default:
		return "", fmt.Errorf("%w: unknown kdf %q", ErrInvalidInput, name)
	}
}

// DeriveKey derives a 256-bit key from a passphrase and a 16-byte salt.
//
// The result is a deterministic function of (kdf, passphrase, salt), which lets
// unlock reproduce the setup-time key without storing it. The derivation is
// deliberately slow (hundreds of milliseconds) and cannot be interrupted.
//
// Returns ErrInvalidInput if the passphrase is empty, the salt is not
// SaltLength bytes or the kdf is unknown.
func DeriveKey(kdf KDF, passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("%w: passphrase is empty", ErrInvalidInput)
	}
	if len(salt) != SaltLength {
		return nil, fmt.Errorf("%w: salt must be %d bytes, got %d", ErrInvalidInput, SaltLength, len(salt))
	}

	switch kdf {
	case KDFPBKDF2:
		return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeyLength, sha256.New), nil
	case KDFArgon2id:
		return argon2.IDKey([]byte(passphrase), salt, Argon2Time, Argon2Memory, Argon2Threads, KeyLength), nil
	default:
		return nil, fmt.Errorf("%w: unknown kdf %q", ErrInvalidInput, kdf)
	}
}

// GenerateSalt returns SaltLength bytes from the system CSPRNG.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: failed to generate salt: %w", err)
	}
	return salt, nil
}

// Encrypt encrypts plaintext using AES-256-GCM authenticated encryption.
//
// A fresh 12-byte nonce is read from crypto/rand on every call and is never
// derived or cached. The authentication tag is appended to the ciphertext.
//
// Returns:
//   - ciphertext: encrypted data with authentication tag
//   - nonce: 12-byte nonce (must be stored with ciphertext for decryption)
//   - err: ErrInvalidKeyLength if key is not 32 bytes
func Encrypt(key, plaintext []byte) (ciphertext []byte, nonce []byte, err error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts ciphertext using AES-256-GCM authenticated encryption.
//
// Every failure to authenticate, including a ciphertext shorter than the
// tag, is reported as ErrAuthenticationFailure so callers cannot tell the
// causes apart.
func Decrypt(key, ciphertext, nonce []byte) (plaintext []byte, err error) {
	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonceLength
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.Overhead() {
		return nil, ErrAuthenticationFailure
	}

	plaintext, err = gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailure
	}

	return plaintext, nil
}

// EncryptString encrypts a text value. See Encrypt.
func EncryptString(key []byte, plaintext string) (ciphertext []byte, nonce []byte, err error) {
	return Encrypt(key, []byte(plaintext))
}

// DecryptString decrypts a value produced by EncryptString.
// Returns ErrDecodeFailure if the authenticated plaintext is not valid UTF-8.
func DecryptString(key, ciphertext, nonce []byte) (string, error) {
	plaintext, err := Decrypt(key, ciphertext, nonce)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(plaintext) {
		SecureWipe(plaintext)
		return "", ErrDecodeFailure
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create GCM: %w", err)
	}
	return gcm, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive keeps b "in use" so the loop is not optimized away.
	runtime.KeepAlive(b)
}
