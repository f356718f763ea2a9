package backup

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// MagicNumber starts every backup file.
var MagicNumber = [8]byte{'D', 'I', 'A', 'R', 'Y', 'B', 'K', 'P'}

// Current backup format version.
const FormatVersion = 1

// maxHeaderSize bounds the header read from untrusted input.
const maxHeaderSize = 1024 * 1024

// EncryptionMode specifies how the backup is encrypted.
type EncryptionMode string

const (
	// EncryptionModePassword derives the keys from a passphrase.
	EncryptionModePassword EncryptionMode = "password"
	// EncryptionModeKey uses a separate key file.
	EncryptionModeKey EncryptionMode = "key"
)

// KDFParams records how the backup key was derived from the passphrase.
type KDFParams struct {
	KDF         string `json:"kdf"`
	Salt        []byte `json:"salt"`        // Base64-encoded in JSON
	Memory      uint32 `json:"memory"`      // Memory in KiB
	Iterations  uint32 `json:"iterations"`  // Time cost
	Parallelism uint8  `json:"parallelism"` // Threads
}

// Header contains backup file metadata. It is authenticated but not encrypted.
type Header struct {
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"created_at"`
	SchemaVersion  int            `json:"schema_version"`
	EncryptionMode EncryptionMode `json:"encryption_mode"`
	KDFParams      *KDFParams     `json:"kdf_params,omitempty"` // nil if EncryptionModeKey
	IncludesAudit  bool           `json:"includes_audit"`
	EntryCount     int            `json:"entry_count"`
	ChecksumAlgo   string         `json:"checksum_algorithm"`
}

// Payload contains the encrypted backup data.
type Payload struct {
	JournalDB []byte            `json:"journal_db"`          // SQLite snapshot
	AuditLog  map[string][]byte `json:"audit_log,omitempty"` // file name -> contents
}

// WriteHeader writes the magic number and header to the writer.
func WriteHeader(w io.Writer, header *Header) error {
	if _, err := w.Write(MagicNumber[:]); err != nil {
		return fmt.Errorf("backup: failed to write magic number: %w", err)
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("backup: failed to marshal header: %w", err)
	}

	// Header length (4 bytes, big-endian)
	if err := binary.Write(w, binary.BigEndian, uint32(len(headerJSON))); err != nil {
		return fmt.Errorf("backup: failed to write header length: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("backup: failed to write header: %w", err)
	}
	return nil
}

// ReadHeader reads and validates the magic number and header from the reader.
func ReadHeader(r io.Reader) (*Header, error) {
	var magic [8]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("backup: failed to read magic number: %w", err)
	}
	if magic != MagicNumber {
		return nil, ErrInvalidMagic
	}

	var headerLen uint32
	if err := binary.Read(r, binary.BigEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("backup: failed to read header length: %w", err)
	}
	if headerLen > maxHeaderSize {
		return nil, fmt.Errorf("backup: header too large: %d bytes", headerLen)
	}

	headerJSON := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerJSON); err != nil {
		return nil, fmt.Errorf("backup: failed to read header: %w", err)
	}

	var header Header
	if err := json.Unmarshal(headerJSON, &header); err != nil {
		return nil, fmt.Errorf("backup: failed to unmarshal header: %w", err)
	}

	if header.Version < 1 || header.Version > FormatVersion {
		return nil, fmt.Errorf("%w: got %d, max supported %d",
			ErrUnsupportedVersion, header.Version, FormatVersion)
	}
	return &header, nil
}

// EncodePayload encodes the payload to JSON bytes.
func EncodePayload(payload *Payload) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("backup: failed to marshal payload: %w", err)
	}
	return data, nil
}

// DecodePayload decodes JSON bytes to a payload.
func DecodePayload(data []byte) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("backup: failed to unmarshal payload: %w", err)
	}
	return &payload, nil
}
