// Package reflection turns recent journal entries into prompts and
// reflections: a local statistical summary, an optional AI-written
// reflection, and the rotating prompt shown when writing.
package reflection

import (
	"fmt"
	"strings"
	"time"

	"github.com/forest6511/diaryctl/pkg/journal"
	"github.com/forest6511/diaryctl/pkg/sentiment"
)

// Period is a summary window ending today.
type Period string

const (
	Week  Period = "week"  // today and the 6 days before
	Month Period = "month" // today and the 29 days before
)

// ParsePeriod parses "week" or "month".
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case Week, Month:
		return Period(s), nil
	default:
		return "", fmt.Errorf("reflection: unknown period %q (want week or month)", s)
	}
}

// Days returns the number of calendar days in the period.
func (p Period) Days() int {
	if p == Month {
		return 30
	}
	return 7
}

// Trend compares mood with the previous period.
type Trend string

const (
	TrendUp     Trend = "up"
	TrendDown   Trend = "down"
	TrendStable Trend = "stable"
)

// TrendThreshold is the change in mean sentiment score that counts as a trend.
const TrendThreshold = 0.3

// Summary is a local, non-AI reflection over a period.
type Summary struct {
	Period         Period   `json:"period"`
	StartDate      int64    `json:"startDate"`
	EndDate        int64    `json:"endDate"`
	SentimentTrend Trend    `json:"sentimentTrend"`
	TopThemes      []string `json:"topThemes"`
	Highlights     []string `json:"highlights"`
	GeneratedAt    int64    `json:"generatedAt"`
}

// PeriodRange returns [start, end] in epoch ms: local midnight Days()-1 days
// before now through the last millisecond of now's day.
func PeriodRange(p Period, now time.Time) (start, end int64) {
	y, m, d := now.Date()
	loc := now.Location()
	end = time.Date(y, m, d+1, 0, 0, 0, 0, loc).UnixMilli() - 1
	start = time.Date(y, m, d-(p.Days()-1), 0, 0, 0, 0, loc).UnixMilli()
	return start, end
}

// InRange returns the entries with start <= CreatedAt <= end, keeping order.
func InRange(entries []*journal.Entry, start, end int64) []*journal.Entry {
	var out []*journal.Entry
	for _, e := range entries {
		if e.CreatedAt >= start && e.CreatedAt <= end {
			out = append(out, e)
		}
	}
	return out
}

func themeLists(entries []*journal.Entry) [][]string {
	out := make([][]string, len(entries))
	for i, e := range entries {
		out[i] = e.Themes
	}
	return out
}

func meanScore(entries []*journal.Entry) float64 {
	var sum float64
	var n int
	for _, e := range entries {
		if e.SentimentScore != nil {
			sum += *e.SentimentScore
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Summarize builds a Summary of entries for the period ending on now's day,
// comparing mood against the equally long period before it.
func Summarize(entries []*journal.Entry, p Period, now time.Time) *Summary {
	start, end := PeriodRange(p, now)
	y, m, d := time.UnixMilli(start).In(now.Location()).Date()
	prevStart := time.Date(y, m, d-p.Days(), 0, 0, 0, 0, now.Location()).UnixMilli()

	current := InRange(entries, start, end)
	previous := InRange(entries, prevStart, start-1)

	top := sentiment.AggregateThemes(themeLists(current))
	topThemes := make([]string, 0, 5)
	for _, tc := range top[:min(5, len(top))] {
		topThemes = append(topThemes, tc.Theme)
	}

	trend := TrendStable
	switch diff := meanScore(current) - meanScore(previous); {
	case diff > TrendThreshold:
		trend = TrendUp
	case diff < -TrendThreshold:
		trend = TrendDown
	}

	var highlights []string
	if len(topThemes) > 0 {
		highlights = append(highlights,
			fmt.Sprintf("You wrote often about: %s.", strings.Join(topThemes[:min(3, len(topThemes))], ", ")))
	}
	switch trend {
	case TrendUp:
		highlights = append(highlights, "Your entries tended to be more positive than the previous period.")
	case TrendDown:
		highlights = append(highlights, "Your entries reflected more difficult moments. Journaling can help process them.")
	}

	var positive []*journal.Entry
	for _, e := range current {
		if e.SentimentLabel != nil && *e.SentimentLabel == sentiment.Positive {
			positive = append(positive, e)
		}
	}
	if n := len(positive); n > 0 && n <= 3 {
		tp := sentiment.AggregateThemes(themeLists(positive))
		if len(tp) > 0 {
			names := make([]string, 0, 2)
			for _, tc := range tp[:min(2, len(tp))] {
				names = append(names, tc.Theme)
			}
			highlights = append(highlights,
				fmt.Sprintf("You felt better when writing about: %s.", strings.Join(names, " and ")))
		}
	}

	if len(highlights) == 0 {
		highlights = append(highlights, "Keep writing. Patterns become clearer over time.")
	}

	return &Summary{
		Period:         p,
		StartDate:      start,
		EndDate:        end,
		SentimentTrend: trend,
		TopThemes:      topThemes,
		Highlights:     highlights,
		GeneratedAt:    now.UnixMilli(),
	}
}
