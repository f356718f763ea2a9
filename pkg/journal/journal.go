// Package journal implements journal entries on top of the sealed record
// store: content is sealed with record.Codec, while sentiment and themes are
// kept as queryable plaintext metadata.
package journal

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forest6511/diaryctl/pkg/audit"
	"github.com/forest6511/diaryctl/pkg/record"
	"github.com/forest6511/diaryctl/pkg/sentiment"
	"github.com/forest6511/diaryctl/pkg/store"
)

// IDPrefix starts every entry id.
const IDPrefix = "entry_"

// Errors
var (
	ErrMissingCiphertext = errors.New("journal: entry is missing encrypted data")
	ErrEmptyContent      = errors.New("journal: entry content is empty")

	// ErrNotFound is store.ErrEntryNotFound.
	ErrNotFound = store.ErrEntryNotFound
)

// Store is the row storage the Service needs. *store.SQLite implements it.
type Store interface {
	InsertEntry(row *store.EntryRow) error
	UpdateEntry(id string, u store.EntryUpdate) error
	DeleteEntry(id string) error
	GetEntry(id string) (*store.EntryRow, error)
	ListEntriesRange(start, end int64) ([]*store.EntryRow, error)
	RecentEntries(limit int) ([]*store.EntryRow, error)
	AllEntries() ([]*store.EntryRow, error)
	EntryTimestamps() ([]int64, error)
	ClearEntries() error
}

// Entry is a decrypted journal entry.
type Entry struct {
	ID             string           `json:"id"`
	Content        string           `json:"content"`
	CreatedAt      int64            `json:"createdAt"`
	SentimentScore *float64         `json:"sentimentScore"`
	SentimentLabel *sentiment.Label `json:"sentimentLabel"`
	Themes         []string         `json:"themes"`
}

// Time returns CreatedAt as a time.Time.
func (e *Entry) Time() time.Time {
	return time.UnixMilli(e.CreatedAt)
}

// Meta is the plaintext metadata stored alongside an entry.
type Meta struct {
	SentimentScore *float64
	SentimentLabel *sentiment.Label
	Themes         []string
}

// Analyze computes sentiment and themes for content.
func Analyze(content string) Meta {
	res := sentiment.Analyze(content)
	return Meta{
		SentimentScore: &res.Score,
		SentimentLabel: &res.Label,
		Themes:         sentiment.ExtractThemes(content),
	}
}

// Update lists the fields to change. Nil fields are left untouched.
type Update struct {
	Content        *string
	SentimentScore *float64
	SentimentLabel *sentiment.Label
	Themes         *[]string
}

// Service reads and writes journal entries.
type Service struct {
	store  Store
	codec  *record.Codec
	loc    *time.Location
	now    func() time.Time
	audit  *audit.Logger
	source string
}

// Option configures a Service.
type Option func(*Service)

// WithLocation sets the time zone that defines calendar days. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithAudit records entry mutations to l, attributed to source.
func WithAudit(l *audit.Logger, source string) Option {
	return func(s *Service) {
		s.audit = l
		s.source = source
	}
}

// NewService creates a Service. codec must share the vault's session.
func NewService(st Store, codec *record.Codec, opts ...Option) *Service {
	s := &Service{
		store:  st,
		codec:  codec,
		loc:    time.Local,
		now:    time.Now,
		source: audit.SourceCLI,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newID returns entry_<epoch-ms>_<8 hex>.
func (s *Service) newID() string {
	return fmt.Sprintf("%s%d_%s", IDPrefix, s.now().UnixMilli(), uuid.NewString()[:8])
}

// Create seals and stores new content with the given metadata.
func (s *Service) Create(content string, meta Meta) (*Entry, error) {
	return s.insert(content, s.now().UnixMilli(), meta)
}

// Insert stores content with an explicit creation time, as used by import
// and backfilling past days.
func (s *Service) Insert(content string, createdAt int64, meta Meta) (*Entry, error) {
	return s.insert(content, createdAt, meta)
}

func (s *Service) insert(content string, createdAt int64, meta Meta) (*Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	sealed, err := s.codec.Seal(content)
	if err != nil {
		return nil, err
	}

	themes := meta.Themes
	if themes == nil {
		themes = []string{}
	}
	row := &store.EntryRow{
		ID:             s.newID(),
		CreatedAt:      createdAt,
		Content:        sealed,
		SentimentScore: meta.SentimentScore,
		SentimentLabel: labelString(meta.SentimentLabel),
		Themes:         themes,
	}
	if err := s.store.InsertEntry(row); err != nil {
		return nil, err
	}
	s.log(audit.OpEntryCreate, row.ID)

	return &Entry{
		ID:             row.ID,
		Content:        content,
		CreatedAt:      createdAt,
		SentimentScore: meta.SentimentScore,
		SentimentLabel: meta.SentimentLabel,
		Themes:         themes,
	}, nil
}

// Update applies u to entry id. New content is re-sealed under a fresh nonce.
func (s *Service) Update(id string, u Update) error {
	var su store.EntryUpdate
	if u.Content != nil {
		content := strings.TrimSpace(*u.Content)
		if content == "" {
			return ErrEmptyContent
		}
		sealed, err := s.codec.Seal(content)
		if err != nil {
			return err
		}
		su.Content = sealed
	}
	su.SentimentScore = u.SentimentScore
	su.SentimentLabel = labelString(u.SentimentLabel)
	su.Themes = u.Themes

	if err := s.store.UpdateEntry(id, su); err != nil {
		return err
	}
	s.log(audit.OpEntryUpdate, id)
	return nil
}

// Delete removes entry id.
func (s *Service) Delete(id string) error {
	if err := s.store.DeleteEntry(id); err != nil {
		return err
	}
	s.log(audit.OpEntryDelete, id)
	return nil
}

// Get returns entry id, or ErrNotFound.
func (s *Service) Get(id string) (*Entry, error) {
	if !s.codec.IsUnlocked() {
		return nil, record.ErrLocked
	}
	row, err := s.store.GetEntry(id)
	if err != nil {
		return nil, err
	}
	return s.open(row)
}

// ListRange returns entries created within [start, end] (epoch ms), newest first.
func (s *Service) ListRange(start, end int64) ([]*Entry, error) {
	return s.openAll(func() ([]*store.EntryRow, error) { return s.store.ListEntriesRange(start, end) })
}

// Recent returns the n newest entries.
func (s *Service) Recent(n int) ([]*Entry, error) {
	return s.openAll(func() ([]*store.EntryRow, error) { return s.store.RecentEntries(n) })
}

// All returns every entry, newest first.
func (s *Service) All() ([]*Entry, error) {
	return s.openAll(s.store.AllEntries)
}

// ClearAll deletes every entry.
func (s *Service) ClearAll() error {
	if err := s.store.ClearEntries(); err != nil {
		return err
	}
	s.log(audit.OpEntryClear, "")
	return nil
}

func (s *Service) openAll(query func() ([]*store.EntryRow, error)) ([]*Entry, error) {
	if !s.codec.IsUnlocked() {
		return nil, record.ErrLocked
	}
	rows, err := query()
	if err != nil {
		return nil, err
	}
	out := make([]*Entry, 0, len(rows))
	for _, row := range rows {
		e, err := s.open(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Service) open(row *store.EntryRow) (*Entry, error) {
	if row.Content == nil || len(row.Content.Ciphertext) == 0 || len(row.Content.Nonce) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingCiphertext, row.ID)
	}
	content, err := record.OpenAs[string](s.codec, row.Content)
	if err != nil {
		return nil, fmt.Errorf("journal: failed to open entry %s: %w", row.ID, err)
	}

	e := &Entry{
		ID:             row.ID,
		Content:        content,
		CreatedAt:      row.CreatedAt,
		SentimentScore: row.SentimentScore,
		Themes:         row.Themes,
	}
	if row.SentimentLabel != nil {
		l := sentiment.Label(*row.SentimentLabel)
		e.SentimentLabel = &l
	}
	return e, nil
}

func labelString(l *sentiment.Label) *string {
	if l == nil {
		return nil
	}
	s := string(*l)
	return &s
}

func (s *Service) log(op, target string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.LogSuccess(op, s.source, target)
}

// SaveAction reports what SaveToday did.
type SaveAction int

const (
	SaveNone SaveAction = iota
	SaveCreated
	SaveUpdated
	SaveRemoved
)

// String returns a human-readable action name
func (a SaveAction) String() string {
	switch a {
	case SaveCreated:
		return "created"
	case SaveUpdated:
		return "updated"
	case SaveRemoved:
		return "removed"
	default:
		return "unchanged"
	}
}

// Today returns the newest entry written on the current day, or nil.
func (s *Service) Today() (*Entry, error) {
	start := s.DayStart(s.now().UnixMilli())
	entries, err := s.ListRange(start, s.DayEnd(start))
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

// SaveToday writes content as today's single entry: it creates the entry,
// replaces its content, or removes it when content is blank. Sentiment and
// themes are recomputed from the new content.
func (s *Service) SaveToday(content string) (SaveAction, *Entry, error) {
	content = strings.TrimSpace(content)
	today, err := s.Today()
	if err != nil {
		return SaveNone, nil, err
	}

	switch {
	case today == nil && content == "":
		return SaveNone, nil, nil
	case today == nil:
		e, err := s.Create(content, Analyze(content))
		return SaveCreated, e, err
	case content == "":
		return SaveRemoved, today, s.Delete(today.ID)
	case content == today.Content:
		return SaveNone, today, nil
	}

	meta := Analyze(content)
	err = s.Update(today.ID, Update{
		Content:        &content,
		SentimentScore: meta.SentimentScore,
		SentimentLabel: meta.SentimentLabel,
		Themes:         &meta.Themes,
	})
	if err != nil {
		return SaveNone, nil, err
	}
	today.Content = content
	today.SentimentScore = meta.SentimentScore
	today.SentimentLabel = meta.SentimentLabel
	today.Themes = meta.Themes
	return SaveUpdated, today, nil
}

// DayStart returns local midnight of the day containing ms.
func (s *Service) DayStart(ms int64) int64 {
	t := time.UnixMilli(ms).In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, s.loc).UnixMilli()
}

// DayEnd returns the last millisecond of the day starting at dayStart.
func (s *Service) DayEnd(dayStart int64) int64 {
	return s.shiftDays(dayStart, 1) - 1
}

// shiftDays moves a day start by n calendar days, so DST days keep their
// true length.
func (s *Service) shiftDays(dayStart int64, n int) int64 {
	t := time.UnixMilli(dayStart).In(s.loc)
	return time.Date(t.Year(), t.Month(), t.Day()+n, 0, 0, 0, 0, s.loc).UnixMilli()
}

// WriteDates returns the distinct day starts with at least one entry,
// newest first. No content is decrypted.
func (s *Service) WriteDates() ([]int64, error) {
	stamps, err := s.store.EntryTimestamps()
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool)
	var days []int64
	for _, ts := range stamps {
		d := s.DayStart(ts)
		if !seen[d] {
			seen[d] = true
			days = append(days, d)
		}
	}
	slices.Sort(days)
	slices.Reverse(days)
	return days, nil
}

// Streak counts consecutive days with an entry ending today, or ending
// yesterday when nothing has been written yet today.
func (s *Service) Streak() (int, error) {
	days, err := s.WriteDates()
	if err != nil {
		return 0, err
	}
	set := make(map[int64]bool, len(days))
	for _, d := range days {
		set[d] = true
	}

	day := s.DayStart(s.now().UnixMilli())
	if !set[day] {
		day = s.shiftDays(day, -1)
		if !set[day] {
			return 0, nil
		}
	}

	count := 0
	for set[day] {
		count++
		day = s.shiftDays(day, -1)
	}
	return count, nil
}

// MoodByDay maps each day start to the label of its newest entry. entries
// must be ordered newest first, as returned by All and ListRange. Entries
// without a label count as neutral.
func (s *Service) MoodByDay(entries []*Entry) map[int64]sentiment.Label {
	out := make(map[int64]sentiment.Label)
	for _, e := range entries {
		d := s.DayStart(e.CreatedAt)
		if _, ok := out[d]; ok {
			continue
		}
		if e.SentimentLabel != nil && *e.SentimentLabel != "" {
			out[d] = *e.SentimentLabel
		} else {
			out[d] = sentiment.Neutral
		}
	}
	return out
}
