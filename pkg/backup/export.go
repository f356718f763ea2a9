package backup

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/forest6511/diaryctl/pkg/journal"
)

// ExportJSON renders entries as an indented JSON list. The output is
// plaintext and carries every field of journal.Entry.
func ExportJSON(entries []*journal.Entry) ([]byte, error) {
	out := make([]*journal.Entry, 0, len(entries))
	for _, e := range entries {
		cp := *e
		if cp.Themes == nil {
			cp.Themes = []string{}
		}
		out = append(out, &cp)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("backup: failed to encode export: %w", err)
	}
	return data, nil
}

// ImportResult counts what Import did with each item.
type ImportResult struct {
	Imported int // stored as new entries
	Merged   int // appended to an existing entry of the same day
	Skipped  int // empty, or identical to the entry of that day
}

// Total returns the number of items that changed the journal.
func (r *ImportResult) Total() int {
	return r.Imported + r.Merged
}

// importItem is the subset of an exported entry that import reads.
type importItem struct {
	Content   string `json:"content"`
	CreatedAt *int64 `json:"createdAt"`
}

// Import reads a list produced by ExportJSON into svc. Items are grouped by
// calendar day: content equal to the day's existing entry is skipped, other
// content for an occupied day is appended to that entry and re-analyzed, and
// content for a free day becomes a new entry. Items without a timestamp are
// dated now.
func Import(svc *journal.Service, data []byte, now time.Time) (*ImportResult, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return nil, ErrInvalidExport
	}
	var items []importItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExport, err)
	}

	existing, err := svc.All()
	if err != nil {
		return nil, err
	}
	byDay := make(map[int64]*journal.Entry, len(existing))
	for _, e := range existing {
		day := svc.DayStart(e.CreatedAt)
		if _, ok := byDay[day]; !ok {
			byDay[day] = e
		}
	}

	result := &ImportResult{}
	for _, item := range items {
		content := strings.TrimSpace(item.Content)
		if content == "" {
			result.Skipped++
			continue
		}
		createdAt := now.UnixMilli()
		if item.CreatedAt != nil && *item.CreatedAt > 0 {
			createdAt = *item.CreatedAt
		}
		day := svc.DayStart(createdAt)

		current, ok := byDay[day]
		if !ok {
			entry, err := svc.Insert(content, createdAt, journal.Analyze(content))
			if err != nil {
				return result, err
			}
			byDay[day] = entry
			result.Imported++
			continue
		}

		prev := strings.TrimSpace(current.Content)
		if prev == content {
			result.Skipped++
			continue
		}
		merged := prev + "\n\n" + content
		meta := journal.Analyze(merged)
		if err := svc.Update(current.ID, journal.Update{
			Content:        &merged,
			SentimentScore: meta.SentimentScore,
			SentimentLabel: meta.SentimentLabel,
			Themes:         &meta.Themes,
		}); err != nil {
			return result, err
		}
		updated := *current
		updated.Content = merged
		byDay[day] = &updated
		result.Merged++
	}
	return result, nil
}
