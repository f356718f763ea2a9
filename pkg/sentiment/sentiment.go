// Package sentiment scores journal text and extracts recurring themes.
//
// Scoring uses VADER: a rated lexicon of about 7,500 words and emoticons,
// adjusted by intensifiers, negations, capitalisation, a contrastive "but"
// and exclamation marks, normalised into a compound score in [-1, 1].
package sentiment

import (
	"math"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/jonreiter/govader"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Label classifies an entry's overall tone.
type Label string

const (
	Positive Label = "positive"
	Neutral  Label = "neutral"
	Negative Label = "negative"
)

// Tuning constants.
const (
	// LabelThreshold is the compound magnitude above which text is not neutral.
	LabelThreshold = 0.1

	// ScoreScale maps the compound score onto the stored score range [-5, 5].
	ScoreScale = 5

	// MaxThemesPerEntry caps ExtractThemes.
	MaxThemesPerEntry = 8

	// MinWordLength is the shortest theme candidate.
	MinWordLength = 2
)

// Result is the sentiment of one text.
type Result struct {
	Score       float64 `json:"score"`       // Comparative * ScoreScale
	Comparative float64 `json:"comparative"` // compound score in [-1, 1]
	Label       Label   `json:"label"`
}

// ThemeCount is one aggregated theme.
type ThemeCount struct {
	Theme string `json:"theme"`
	Count int    `json:"count"`
}

var themeRe = regexp.MustCompile(`[a-zA-Z'][a-zA-Z0-9']*|[a-zA-Z]{2,}`)

// The analyzer loads its lexicon on first use. It is not documented as safe
// for concurrent use, so calls are serialised.
var (
	analyzerMu  sync.Mutex
	getAnalyzer = sync.OnceValue(govader.NewSentimentIntensityAnalyzer)
)

// newLower returns a lower-casing Caser. Casers are stateful, so each call
// gets its own.
func newLower() cases.Caser {
	return cases.Lower(language.English)
}

// normalize applies NFC and folds typographic apostrophes to ASCII so
// contractions like "didn’t" match the lexicon.
func normalize(text string) string {
	text = norm.NFC.String(text)
	return strings.NewReplacer("’", "'", "‘", "'").Replace(text)
}

// Analyze scores text. Empty or whitespace-only text is neutral with zero scores.
func Analyze(text string) Result {
	text = strings.TrimSpace(normalize(text))
	if text == "" {
		return Result{Label: Neutral}
	}

	analyzerMu.Lock()
	scores := getAnalyzer().PolarityScores(text)
	analyzerMu.Unlock()

	compound := math.Max(-1, math.Min(1, scores.Compound))
	compound = math.Round(compound*10000) / 10000

	return Result{
		Score:       compound * ScoreScale,
		Comparative: compound,
		Label:       LabelFor(compound),
	}
}

// LabelFor maps a compound score to a Label.
func LabelFor(compound float64) Label {
	switch {
	case compound > LabelThreshold:
		return Positive
	case compound < -LabelThreshold:
		return Negative
	default:
		return Neutral
	}
}

// ExtractThemes returns up to MaxThemesPerEntry recurring words from text,
// most frequent first. Ties keep first-occurrence order.
func ExtractThemes(text string) []string {
	text = strings.TrimSpace(normalize(text))
	if text == "" {
		return []string{}
	}

	lower := newLower()
	counts := make(map[string]int)
	var order []string
	for _, w := range themeRe.FindAllString(text, -1) {
		n := strings.TrimSpace(strings.ReplaceAll(lower.String(w), "'", ""))
		if len(n) < MinWordLength || stopwords[n] {
			continue
		}
		if counts[n] == 0 {
			order = append(order, n)
		}
		counts[n]++
	}

	slices.SortStableFunc(order, func(a, b string) int {
		return counts[b] - counts[a]
	})
	if len(order) > MaxThemesPerEntry {
		order = order[:MaxThemesPerEntry]
	}
	if order == nil {
		return []string{}
	}
	return order
}

// AggregateThemes counts themes across entries, case-insensitively, most
// frequent first. Ties keep first-occurrence order.
func AggregateThemes(themeLists [][]string) []ThemeCount {
	lower := newLower()
	counts := make(map[string]int)
	var order []string
	for _, themes := range themeLists {
		for _, t := range themes {
			key := lower.String(t)
			if counts[key] == 0 {
				order = append(order, key)
			}
			counts[key]++
		}
	}

	out := make([]ThemeCount, 0, len(order))
	for _, k := range order {
		out = append(out, ThemeCount{Theme: k, Count: counts[k]})
	}
	slices.SortStableFunc(out, func(a, b ThemeCount) int {
		return b.Count - a.Count
	})
	return out
}
