package journal

import (
	"errors"
	"path/filepath"
	"reflect"
	"regexp"
	"testing"
	"time"

	"github.com/forest6511/diaryctl/pkg/audit"
	"github.com/forest6511/diaryctl/pkg/record"
	"github.com/forest6511/diaryctl/pkg/sentiment"
	"github.com/forest6511/diaryctl/pkg/store"
	"github.com/forest6511/diaryctl/pkg/vault"
)

const testPassphrase = "correct-horse-battery"

type fixture struct {
	db    *store.SQLite
	vault *vault.Manager
	svc   *Service
	now   time.Time
}

// newFixture opens an unlocked vault whose clock reads *now, in UTC.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	m := vault.NewManager(db)
	if err := m.Setup(testPassphrase); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	f := &fixture{db: db, vault: m, now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithLocation(time.UTC), WithClock(func() time.Time { return f.now })}, opts...)
	f.svc = NewService(db, m.Codec(), opts...)
	return f
}

func day(d int, hour int) int64 {
	return time.Date(2026, 3, d, hour, 0, 0, 0, time.UTC).UnixMilli()
}

var idPattern = regexp.MustCompile(`^entry_\d+_[0-9a-f]{8}$`)

func TestCreateAndGet(t *testing.T) {
	f := newFixture(t)

	e, err := f.svc.Create("  Walked by the river.\n", Analyze("Walked by the river."))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !idPattern.MatchString(e.ID) {
		t.Errorf("ID = %q, want entry_<ms>_<hex8>", e.ID)
	}
	if e.Content != "Walked by the river." {
		t.Errorf("Content = %q, want trimmed", e.Content)
	}
	if e.CreatedAt != f.now.UnixMilli() {
		t.Errorf("CreatedAt = %d, want %d", e.CreatedAt, f.now.UnixMilli())
	}

	got, err := f.svc.Get(e.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != e.Content {
		t.Errorf("Get content = %q, want %q", got.Content, e.Content)
	}
	if got.SentimentLabel == nil || got.SentimentScore == nil {
		t.Fatal("metadata not stored")
	}
	if !reflect.DeepEqual(got.Themes, []string{"walked", "river"}) {
		t.Errorf("Themes = %v", got.Themes)
	}

	// Content is sealed on disk; metadata is not.
	row, err := f.db.GetEntry(e.ID)
	if err != nil {
		t.Fatalf("GetEntry failed: %v", err)
	}
	if string(row.Content.Ciphertext) == `"Walked by the river."` {
		t.Error("content stored in plaintext")
	}
}

func TestCreateEmptyRejected(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Create(" \n ", Meta{}); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("Create(blank) error = %v, want ErrEmptyContent", err)
	}
}

func TestGetMissing(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Get("entry_0_00000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestLockedAccess(t *testing.T) {
	f := newFixture(t)
	e, err := f.svc.Create("secret", Meta{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	f.vault.Lock()

	if _, err := f.svc.Get(e.ID); !errors.Is(err, record.ErrLocked) {
		t.Errorf("Get error = %v, want ErrLocked", err)
	}
	if _, err := f.svc.All(); !errors.Is(err, record.ErrLocked) {
		t.Errorf("All error = %v, want ErrLocked", err)
	}
	if _, err := f.svc.Create("more", Meta{}); !errors.Is(err, record.ErrLocked) {
		t.Errorf("Create error = %v, want ErrLocked", err)
	}
	content := "edited"
	if err := f.svc.Update(e.ID, Update{Content: &content}); !errors.Is(err, record.ErrLocked) {
		t.Errorf("Update error = %v, want ErrLocked", err)
	}

	// Timestamps need no key.
	if _, err := f.svc.WriteDates(); err != nil {
		t.Errorf("WriteDates while locked failed: %v", err)
	}

	if err := f.vault.Unlock(testPassphrase); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if got, err := f.svc.Get(e.ID); err != nil || got.Content != "secret" {
		t.Errorf("Get after unlock = %v, %v", got, err)
	}
}

type hollowStore struct {
	*store.SQLite
}

func (h hollowStore) GetEntry(id string) (*store.EntryRow, error) {
	return &store.EntryRow{ID: id, CreatedAt: 1, Content: &record.EncryptedRecord{}}, nil
}

func TestMissingCiphertext(t *testing.T) {
	f := newFixture(t)
	svc := NewService(hollowStore{f.db}, f.vault.Codec())
	if _, err := svc.Get("x"); !errors.Is(err, ErrMissingCiphertext) {
		t.Errorf("Get error = %v, want ErrMissingCiphertext", err)
	}
}

func TestUpdateReseals(t *testing.T) {
	f := newFixture(t)
	e, err := f.svc.Create("first draft", Meta{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	before, _ := f.db.GetEntry(e.ID)

	content := "second draft"
	meta := Analyze(content)
	err = f.svc.Update(e.ID, Update{Content: &content, SentimentLabel: meta.SentimentLabel, Themes: &meta.Themes})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	after, _ := f.db.GetEntry(e.ID)
	if string(after.Content.Nonce) == string(before.Content.Nonce) {
		t.Error("Update reused the nonce")
	}

	got, err := f.svc.Get(e.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != content || got.CreatedAt != e.CreatedAt {
		t.Errorf("Get = %+v", got)
	}
	if !reflect.DeepEqual(got.Themes, []string{"second", "draft"}) {
		t.Errorf("Themes = %v", got.Themes)
	}

	if err := f.svc.Update("missing", Update{Content: &content}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateRejectsBlankContent(t *testing.T) {
	f := newFixture(t)
	e, err := f.svc.Create("keep me", Meta{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	blank := " \n\t "
	if err := f.svc.Update(e.ID, Update{Content: &blank}); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("Update(blank) error = %v, want ErrEmptyContent", err)
	}

	got, err := f.svc.Get(e.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Content != "keep me" {
		t.Errorf("Content = %q, want unchanged", got.Content)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	e, _ := f.svc.Create("bye", Meta{})
	if err := f.svc.Delete(e.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := f.svc.Get(e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete error = %v", err)
	}
	if err := f.svc.Delete(e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v", err)
	}
}

func TestListing(t *testing.T) {
	f := newFixture(t)
	for _, d := range []int{5, 8, 9, 10} {
		if _, err := f.svc.Insert("entry", day(d, 9), Meta{}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	in, err := f.svc.ListRange(day(8, 0), day(9, 23))
	if err != nil {
		t.Fatalf("ListRange failed: %v", err)
	}
	if len(in) != 2 || in[0].CreatedAt != day(9, 9) {
		t.Errorf("ListRange = %d entries", len(in))
	}

	recent, err := f.svc.Recent(3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 3 || recent[0].CreatedAt != day(10, 9) {
		t.Errorf("Recent = %d entries", len(recent))
	}

	if err := f.svc.ClearAll(); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	all, err := f.svc.All()
	if err != nil || len(all) != 0 {
		t.Errorf("All after ClearAll = %d, %v", len(all), err)
	}
}

func TestSaveToday(t *testing.T) {
	f := newFixture(t)

	steps := []struct {
		content string
		want    SaveAction
	}{
		{"", SaveNone},
		{"Slept badly, tired all day.", SaveCreated},
		{"Slept badly, tired all day.", SaveNone},
		{"Slept well. Great walk!", SaveUpdated},
		{"   ", SaveRemoved},
		{"", SaveNone},
	}
	for i, step := range steps {
		action, _, err := f.svc.SaveToday(step.content)
		if err != nil {
			t.Fatalf("step %d: SaveToday failed: %v", i, err)
		}
		if action != step.want {
			t.Errorf("step %d: action = %v, want %v", i, action, step.want)
		}
	}

	// Yesterday's entry is not today's.
	if _, err := f.svc.Insert("yesterday", day(9, 20), Meta{}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	action, e, err := f.svc.SaveToday("Great day")
	if err != nil || action != SaveCreated {
		t.Fatalf("SaveToday = %v, %v", action, err)
	}
	if *e.SentimentLabel != sentiment.Positive {
		t.Errorf("label = %v, want positive", *e.SentimentLabel)
	}

	action, e, err = f.svc.SaveToday("Awful, sad day")
	if err != nil || action != SaveUpdated {
		t.Fatalf("SaveToday = %v, %v", action, err)
	}
	got, _ := f.svc.Get(e.ID)
	if *got.SentimentLabel != sentiment.Negative {
		t.Errorf("stored label = %v, want negative", *got.SentimentLabel)
	}
}

func TestWriteDatesAndStreak(t *testing.T) {
	f := newFixture(t)
	for _, ts := range []int64{day(10, 8), day(9, 23), day(8, 1), day(8, 22), day(5, 12)} {
		if _, err := f.svc.Insert("x", ts, Meta{}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	dates, err := f.svc.WriteDates()
	if err != nil {
		t.Fatalf("WriteDates failed: %v", err)
	}
	want := []int64{day(10, 0), day(9, 0), day(8, 0), day(5, 0)}
	if !reflect.DeepEqual(dates, want) {
		t.Errorf("WriteDates = %v, want %v", dates, want)
	}

	tests := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC), 3},
		{time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), 3}, // nothing yet today
		{time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC), 0},
		{time.Date(2026, 3, 6, 9, 0, 0, 0, time.UTC), 1},
	}
	for _, tt := range tests {
		f.now = tt.now
		got, err := f.svc.Streak()
		if err != nil {
			t.Fatalf("Streak failed: %v", err)
		}
		if got != tt.want {
			t.Errorf("Streak at %v = %d, want %d", tt.now, got, tt.want)
		}
	}
}

func TestDayBoundariesFollowLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	svc := NewService(nil, nil, WithLocation(loc))

	// Clocks spring forward on 2026-03-08, a 23 hour day.
	start := svc.DayStart(time.Date(2026, 3, 8, 15, 0, 0, 0, loc).UnixMilli())
	if want := time.Date(2026, 3, 8, 0, 0, 0, 0, loc).UnixMilli(); start != want {
		t.Errorf("DayStart = %d, want %d", start, want)
	}
	if got := svc.DayEnd(start) - start + 1; got != (23 * time.Hour).Milliseconds() {
		t.Errorf("day length = %d ms, want 23h", got)
	}

	// 02:00 UTC on the 9th is still the 8th in New York.
	late := time.Date(2026, 3, 9, 2, 0, 0, 0, time.UTC).UnixMilli()
	if svc.DayStart(late) != start {
		t.Error("DayStart ignored the location")
	}
}

func TestMoodByDay(t *testing.T) {
	f := newFixture(t)
	pos, neg := sentiment.Positive, sentiment.Negative
	entries := []*Entry{
		{CreatedAt: day(10, 20), SentimentLabel: &pos},
		{CreatedAt: day(10, 8), SentimentLabel: &neg},
		{CreatedAt: day(9, 8)},
	}
	got := f.svc.MoodByDay(entries)
	want := map[int64]sentiment.Label{day(10, 0): sentiment.Positive, day(9, 0): sentiment.Neutral}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MoodByDay = %v, want %v", got, want)
	}
}

func TestAuditTrail(t *testing.T) {
	logger := audit.NewLogger(filepath.Join(t.TempDir(), "audit"))

	db, err := store.Open(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("store.Open failed: %v", err)
	}
	defer db.Close()
	m := vault.NewManager(db, vault.WithAudit(logger, audit.SourceCLI))
	if err := m.Setup(testPassphrase); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	svc := NewService(db, m.Codec(), WithAudit(logger, audit.SourceCLI))

	e, err := svc.Create("hello", Meta{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	content := "hello again"
	if err := svc.Update(e.ID, Update{Content: &content}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := svc.Delete(e.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	events, err := logger.ListEvents(0, time.Time{})
	if err != nil {
		t.Fatalf("ListEvents failed: %v", err)
	}
	var ops []string
	for _, ev := range events {
		ops = append(ops, ev.Operation)
	}
	want := []string{audit.OpVaultSetup, audit.OpEntryCreate, audit.OpEntryUpdate, audit.OpEntryDelete}
	if !reflect.DeepEqual(ops, want) {
		t.Errorf("ops = %v, want %v", ops, want)
	}

	target, _ := logger.TargetHMAC(e.ID)
	if events[1].Target != target {
		t.Error("entry id not recorded as HMAC target")
	}
}
