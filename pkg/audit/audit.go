// Package audit provides an append-only audit log with an HMAC chain for
// tamper detection.
//
// Events are JSON lines in one file per month. Each event's HMAC covers its
// fields and the previous event's HMAC, so any edit, deletion or reordering
// breaks verification. The HMAC key is derived from the session key, so only
// an unlocked process can write or verify the log. Entry ids are recorded as
// HMACs, never in the clear.
package audit

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/diaryctl/pkg/diskspace"
)

// MinAuditDiskSpace is the free space required before appending an event.
const MinAuditDiskSpace = 1024 * 1024 // 1 MB

// Operation types
const (
	OpVaultSetup        = "vault.setup"
	OpVaultUnlock       = "vault.unlock"
	OpVaultUnlockFailed = "vault.unlock_failed"
	OpVaultLock         = "vault.lock"

	OpEntryCreate = "entry.create"
	OpEntryUpdate = "entry.update"
	OpEntryDelete = "entry.delete"
	OpEntryRead   = "entry.read"
	OpEntryImport = "entry.import"
	OpEntryExport = "entry.export"
	OpEntryClear  = "entry.clear"

	OpReflectionGenerate = "reflection.generate"

	OpBackupCreate  = "backup.create"
	OpBackupRestore = "backup.restore"
)

// Source identifies where the operation originated
const (
	SourceCLI = "cli"
	SourceMCP = "mcp"
)

// Result indicates the outcome of an operation
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultDenied  = "denied"
)

const genesis = "genesis"

// ErrKeyNotSet is returned when writing or verifying before SetHMACKey.
var ErrKeyNotSet = errors.New("audit: HMAC key not set")

// Event is a single audit log record
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"` // UUIDv7, time ordered
	Timestamp string `json:"ts"` // RFC 3339 nanosecond precision

	Operation string `json:"op"`
	Target    string `json:"target,omitempty"` // HMAC of the entry id, if any

	Actor Actor `json:"actor"`

	Result string     `json:"result"`
	Error  *ErrorInfo `json:"error,omitempty"`

	Context map[string]any `json:"ctx,omitempty"`

	Chain Chain `json:"chain"`
}

// Actor identifies the process that performed the operation
type Actor struct {
	Source    string `json:"source"` // cli | mcp
	SessionID string `json:"session_id"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Chain links an event to its predecessor
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

// Logger appends events to the log directory
type Logger struct {
	path      string
	mu        sync.Mutex
	hmacKey   []byte
	sequence  int64
	prevHash  string
	sessionID string
}

// NewLogger creates a logger writing under path. Nothing is written until
// SetHMACKey has been called.
func NewLogger(path string) *Logger {
	return &Logger{
		path:      path,
		prevHash:  genesis,
		sessionID: uuid.NewString(),
	}
}

// Path returns the audit log directory path
func (l *Logger) Path() string {
	return l.path
}

// SetHMACKey derives the chain key from the session key using HKDF-SHA256
// and resumes the chain from the saved state.
func (l *Logger) SetHMACKey(sessionKey []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := make([]byte, 32)
	if _, err := hkdf.New(sha256.New, sessionKey, nil, []byte("diaryctl-audit-v1")).Read(key); err != nil {
		return fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}
	l.hmacKey = key

	if err := l.loadChainState(); err != nil {
		l.sequence = 0
		l.prevHash = genesis
	}
	return nil
}

// Log records an audit event. target, if non-empty, is stored as an HMAC.
func (l *Logger) Log(op, source, result, target string, errInfo *ErrorInfo, ctx map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return ErrKeyNotSet
	}

	if err := os.MkdirAll(l.path, 0700); err != nil {
		return fmt.Errorf("audit: failed to create directory: %w", err)
	}
	if err := l.checkDiskSpace(); err != nil {
		return err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("audit: failed to generate event id: %w", err)
	}

	event := Event{
		Version:   1,
		ID:        id.String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Operation: op,
		Actor: Actor{
			Source:    source,
			SessionID: l.sessionID,
		},
		Result:  result,
		Error:   errInfo,
		Context: ctx,
	}
	if target != "" {
		event.Target = l.mac([]byte(target))
	}

	l.sequence++
	event.Chain.Sequence = l.sequence
	event.Chain.PrevHash = l.prevHash
	event.Chain.HMAC = l.mac(recordData(&event))
	l.prevHash = event.Chain.HMAC

	if err := l.writeEvent(&event); err != nil {
		return err
	}
	return l.saveChainState()
}

// LogSuccess is a convenience method for successful operations
func (l *Logger) LogSuccess(op, source, target string) error {
	return l.Log(op, source, ResultSuccess, target, nil, nil)
}

// LogError is a convenience method for failed operations
func (l *Logger) LogError(op, source, target, errCode, errMsg string) error {
	return l.Log(op, source, ResultError, target, &ErrorInfo{Code: errCode, Message: errMsg}, nil)
}

// LogDenied is a convenience method for denied operations
func (l *Logger) LogDenied(op, source, target, reason string) error {
	return l.Log(op, source, ResultDenied, target, nil, map[string]any{"reason": reason})
}

// TargetHMAC returns the value Log stores for target, for matching events
// against a known entry id.
func (l *Logger) TargetHMAC(target string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hmacKey == nil {
		return "", ErrKeyNotSet
	}
	return l.mac([]byte(target)), nil
}

func (l *Logger) mac(data []byte) string {
	m := hmac.New(sha256.New, l.hmacKey)
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil))
}

// recordData builds the bytes covered by an event's HMAC.
func recordData(event *Event) []byte {
	errorData := ""
	if event.Error != nil {
		errorData = event.Error.Code + "|" + event.Error.Message
	}

	// Context is covered in its JSON form: values read back from the log are
	// float64, and JSON renders 1000000 the same for int and float64.
	var contextData []byte
	if len(event.Context) > 0 {
		contextData, _ = json.Marshal(event.Context)
	}

	return []byte(fmt.Sprintf("%d|%s|%s|%s|%s|%s|%s|%s|%s|%s|%d|%s",
		event.Version,
		event.ID,
		event.Timestamp,
		event.Operation,
		event.Target,
		event.Actor.Source,
		event.Actor.SessionID,
		event.Result,
		errorData,
		contextData,
		event.Chain.Sequence,
		event.Chain.PrevHash,
	))
}

// writeEvent appends an event to the current month's log file
func (l *Logger) writeEvent(event *Event) error {
	name := time.Now().UTC().Format("2006-01") + ".jsonl"
	f, err := os.OpenFile(filepath.Join(l.path, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (l *Logger) checkDiskSpace() error {
	info, err := diskspace.Check(l.path)
	if err != nil {
		fmt.Fprintf(diskspace.Warnings, "warning: failed to check disk space for audit: %v\n", err)
		return nil
	}
	if info.Available < MinAuditDiskSpace {
		return fmt.Errorf("audit: insufficient disk space: only %d bytes available, need at least %d",
			info.Available, MinAuditDiskSpace)
	}
	return nil
}

// chainState is persisted in audit.meta between processes
type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

func (l *Logger) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(l.path, "audit.meta"))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	l.sequence = state.Sequence
	l.prevHash = state.PrevHash
	return nil
}

func (l *Logger) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: l.sequence, PrevHash: l.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(l.path, "audit.meta"), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid           bool     `json:"valid"`
	RecordsTotal    int      `json:"records_total"`
	RecordsVerified int      `json:"records_verified"`
	Errors          []string `json:"errors,omitempty"`
}

// Verify checks the integrity of the whole chain.
func (l *Logger) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hmacKey == nil {
		return nil, ErrKeyNotSet
	}

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := genesis
	var expectedSeq int64 = 1

	for i := range events {
		event := &events[i]
		result.RecordsTotal++

		if event.Chain.Sequence != expectedSeq {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d",
				event.ID, expectedSeq, event.Chain.Sequence))
		}
		if event.Chain.PrevHash != expectedPrev {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s", event.ID))
		}
		if !hmac.Equal([]byte(event.Chain.HMAC), []byte(l.mac(recordData(event)))) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", event.ID))
		} else {
			result.RecordsVerified++
		}

		expectedPrev = event.Chain.HMAC
		expectedSeq++
	}

	return result, nil
}

// ListEvents returns events in chronological order.
// limit: maximum number of events to return, most recent kept (0 = all)
// since: only return events after this time (zero = no filter)
func (l *Logger) ListEvents(limit int, since time.Time) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}

	filtered := filterByTime(events, since, time.Time{})
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	return filtered, nil
}

// Export renders events between since and until as "json" or "csv".
// Zero times mean no bound.
func (l *Logger) Export(format string, since, until time.Time) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events, err := l.readAll()
	if err != nil {
		return nil, err
	}
	filtered := filterByTime(events, since, until)

	switch format {
	case "json":
		return json.MarshalIndent(filtered, "", "  ")
	case "csv":
		return formatCSV(filtered), nil
	default:
		return nil, fmt.Errorf("audit: unsupported format: %s", format)
	}
}

// Prune deletes events older than olderThan and returns how many were removed.
// Pruning the head of the chain is expected to make Verify report a broken
// link at the first kept record.
func (l *Logger) Prune(olderThan time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	files, err := l.logFiles()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return deleted, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}

		var remaining []Event
		for _, event := range events {
			ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
			if err == nil && !ts.After(cutoff) {
				deleted++
				continue
			}
			remaining = append(remaining, event)
		}
		if len(remaining) == len(events) {
			continue
		}

		if len(remaining) == 0 {
			if err := os.Remove(file); err != nil {
				return deleted, fmt.Errorf("audit: failed to delete %s: %w", file, err)
			}
		} else if err := rewriteLogFile(file, remaining); err != nil {
			return deleted, fmt.Errorf("audit: failed to rewrite %s: %w", file, err)
		}
	}
	return deleted, nil
}

// Purge deletes every log file and the chain state. The next event starts a
// new chain.
func (l *Logger) Purge() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := l.logFiles()
	if err != nil {
		return err
	}
	files = append(files, filepath.Join(l.path, "audit.meta"))
	for _, file := range files {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("audit: failed to delete %s: %w", file, err)
		}
	}

	l.sequence = 0
	l.prevHash = genesis
	return nil
}

func (l *Logger) logFiles() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.path, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// YYYY-MM.jsonl names sort chronologically
	slices.Sort(files)
	return files, nil
}

func (l *Logger) readAll() ([]Event, error) {
	files, err := l.logFiles()
	if err != nil {
		return nil, err
	}
	var all []Event
	for _, file := range files {
		events, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", file, err)
		}
		all = append(all, events...)
	}
	return all, nil
}

func readLogFile(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			return nil, fmt.Errorf("failed to parse line: %w", err)
		}
		events = append(events, event)
	}
	return events, nil
}

func rewriteLogFile(path string, events []Event) error {
	var buf bytes.Buffer
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func filterByTime(events []Event, since, until time.Time) []Event {
	if since.IsZero() && until.IsZero() {
		return events
	}
	var out []Event
	for _, event := range events {
		ts, err := time.Parse(time.RFC3339Nano, event.Timestamp)
		if err != nil {
			continue
		}
		if !since.IsZero() && !ts.After(since) {
			continue
		}
		if !until.IsZero() && ts.After(until) {
			continue
		}
		out = append(out, event)
	}
	return out
}

// formatCSV formats events as CSV with formula-injection escaping
func formatCSV(events []Event) []byte {
	var b strings.Builder
	b.WriteString("timestamp,operation,source,result,target\n")
	for _, event := range events {
		target := event.Target
		if len(target) > 16 {
			target = target[:16] + "..."
		}
		fmt.Fprintf(&b, "%s,%s,%s,%s,%s\n",
			csvEscape(event.Timestamp),
			csvEscape(event.Operation),
			csvEscape(event.Actor.Source),
			csvEscape(event.Result),
			csvEscape(target),
		)
	}
	return []byte(b.String())
}

// csvEscape prefixes fields starting with =, +, -, @, tab or CR with a single
// quote so spreadsheets treat them as text, then quotes fields containing
// separators.
func csvEscape(field string) string {
	if field == "" {
		return field
	}
	if strings.ContainsAny(field[:1], "=+-@\t\r") {
		field = "'" + field
	}
	if !strings.ContainsAny(field, ",\"\r\n") {
		return field
	}
	return `"` + strings.ReplaceAll(field, `"`, `""`) + `"`
}
