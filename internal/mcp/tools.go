package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/forest6511/diaryctl/pkg/audit"
	"github.com/forest6511/diaryctl/pkg/journal"
	"github.com/forest6511/diaryctl/pkg/reflection"
	"github.com/forest6511/diaryctl/pkg/store"
)

// Limits for journal_list
const (
	defaultListLimit = 30
	maxListLimit     = 366
)

const dateLayout = "2006-01-02"

// ErrContentDisabled is returned by journal_read unless mcp.allow_content is set.
var ErrContentDisabled = errors.New("entry text is not shared over MCP: set mcp.allow_content: true in config.yaml to allow it")

// JournalListInput represents input for journal_list tool.
type JournalListInput struct {
	From  string `json:"from,omitempty"` // YYYY-MM-DD, inclusive
	To    string `json:"to,omitempty"`   // YYYY-MM-DD, inclusive
	Limit int    `json:"limit,omitempty"`
}

// JournalListOutput represents output for journal_list tool.
type JournalListOutput struct {
	Entries []EntryInfo `json:"entries"`
}

// EntryInfo represents metadata for an entry (no text).
type EntryInfo struct {
	ID             string   `json:"id"`
	CreatedAt      string   `json:"created_at"`
	SentimentScore *float64 `json:"sentiment_score,omitempty"`
	SentimentLabel string   `json:"sentiment_label,omitempty"`
	Themes         []string `json:"themes"`
}

// JournalReadInput represents input for journal_read tool.
type JournalReadInput struct {
	ID string `json:"id"`
}

// JournalReadOutput represents output for journal_read tool.
type JournalReadOutput struct {
	EntryInfo
	Content string `json:"content"`
}

// JournalPromptInput represents input for journal_prompt tool.
type JournalPromptInput struct {
	New bool `json:"new,omitempty"`
}

// JournalPromptOutput represents output for journal_prompt tool.
type JournalPromptOutput struct {
	Prompt string `json:"prompt"`
}

// JournalSummaryInput represents input for journal_summary tool.
type JournalSummaryInput struct {
	Period string `json:"period,omitempty"` // week (default) or month
}

// JournalSummaryOutput represents output for journal_summary tool.
type JournalSummaryOutput struct {
	Period         string   `json:"period"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	EntryCount     int      `json:"entry_count"`
	SentimentTrend string   `json:"sentiment_trend"`
	TopThemes      []string `json:"top_themes"`
	Highlights     []string `json:"highlights"`
}

// handleJournalList handles the journal_list tool call. Metadata columns are
// plaintext, so nothing is decrypted.
func (s *Server) handleJournalList(_ context.Context, _ *mcp.CallToolRequest, input JournalListInput) (*mcp.CallToolResult, JournalListOutput, error) {
	limit := input.Limit
	switch {
	case limit < 0:
		return nil, JournalListOutput{}, errors.New("limit must not be negative")
	case limit == 0:
		limit = defaultListLimit
	case limit > maxListLimit:
		limit = maxListLimit
	}

	var rows []*store.EntryRow
	var err error
	if input.From == "" && input.To == "" {
		rows, err = s.db.RecentEntries(limit)
	} else {
		start, end, rangeErr := s.parseRange(input.From, input.To)
		if rangeErr != nil {
			return nil, JournalListOutput{}, rangeErr
		}
		rows, err = s.db.ListEntriesRange(start, end)
	}
	if err != nil {
		return nil, JournalListOutput{}, fmt.Errorf("failed to list entries: %w", err)
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}

	output := JournalListOutput{Entries: make([]EntryInfo, 0, len(rows))}
	for _, row := range rows {
		info := EntryInfo{
			ID:             row.ID,
			CreatedAt:      s.format(row.CreatedAt),
			SentimentScore: row.SentimentScore,
			Themes:         row.Themes,
		}
		if row.SentimentLabel != nil {
			info.SentimentLabel = *row.SentimentLabel
		}
		if info.Themes == nil {
			info.Themes = []string{}
		}
		output.Entries = append(output.Entries, info)
	}
	return nil, output, nil
}

// parseRange turns inclusive YYYY-MM-DD bounds into epoch ms. A missing
// bound is open.
func (s *Server) parseRange(from, to string) (start, end int64, err error) {
	start, end = 0, s.now().AddDate(100, 0, 0).UnixMilli()
	if from != "" {
		t, err := time.ParseInLocation(dateLayout, from, s.loc)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid from date %q: want YYYY-MM-DD", from)
		}
		start = t.UnixMilli()
	}
	if to != "" {
		t, err := time.ParseInLocation(dateLayout, to, s.loc)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid to date %q: want YYYY-MM-DD", to)
		}
		end = s.journal.DayEnd(t.UnixMilli())
	}
	if start > end {
		return 0, 0, errors.New("from must not be after to")
	}
	return start, end, nil
}

// handleJournalRead handles the journal_read tool call.
func (s *Server) handleJournalRead(_ context.Context, _ *mcp.CallToolRequest, input JournalReadInput) (*mcp.CallToolResult, JournalReadOutput, error) {
	if input.ID == "" {
		return nil, JournalReadOutput{}, errors.New("id is required")
	}
	if !s.cfg.MCP.AllowContent {
		_ = s.audit.LogDenied(audit.OpEntryRead, audit.SourceMCP, input.ID, "mcp.allow_content is off")
		return nil, JournalReadOutput{}, ErrContentDisabled
	}

	entry, err := s.journal.Get(input.ID)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			return nil, JournalReadOutput{}, fmt.Errorf("entry %s not found", input.ID)
		}
		return nil, JournalReadOutput{}, fmt.Errorf("failed to read entry: %w", err)
	}
	_ = s.audit.LogSuccess(audit.OpEntryRead, audit.SourceMCP, input.ID)

	output := JournalReadOutput{
		EntryInfo: EntryInfo{
			ID:             entry.ID,
			CreatedAt:      s.format(entry.CreatedAt),
			SentimentScore: entry.SentimentScore,
			Themes:         entry.Themes,
		},
		Content: entry.Content,
	}
	if entry.SentimentLabel != nil {
		output.SentimentLabel = string(*entry.SentimentLabel)
	}
	return nil, output, nil
}

// handleJournalPrompt handles the journal_prompt tool call.
func (s *Server) handleJournalPrompt(_ context.Context, _ *mcp.CallToolRequest, input JournalPromptInput) (*mcp.CallToolResult, JournalPromptOutput, error) {
	prompt, err := s.prompter.Next(input.New, s.now())
	if err != nil {
		return nil, JournalPromptOutput{}, fmt.Errorf("failed to choose prompt: %w", err)
	}
	return nil, JournalPromptOutput{Prompt: prompt}, nil
}

// handleJournalSummary handles the journal_summary tool call.
func (s *Server) handleJournalSummary(_ context.Context, _ *mcp.CallToolRequest, input JournalSummaryInput) (*mcp.CallToolResult, JournalSummaryOutput, error) {
	name := input.Period
	if name == "" {
		name = string(reflection.Week)
	}
	period, err := reflection.ParsePeriod(name)
	if err != nil {
		return nil, JournalSummaryOutput{}, err
	}

	now := s.now().In(s.loc)
	start, end := reflection.PeriodRange(period, now)
	// The previous period is needed for the trend
	prevStart := time.UnixMilli(start).In(s.loc).AddDate(0, 0, -period.Days()).UnixMilli()
	entries, err := s.journal.ListRange(prevStart, end)
	if err != nil {
		return nil, JournalSummaryOutput{}, fmt.Errorf("failed to load entries: %w", err)
	}

	summary := reflection.Summarize(entries, period, now)
	return nil, JournalSummaryOutput{
		Period:         string(summary.Period),
		StartDate:      time.UnixMilli(summary.StartDate).In(s.loc).Format(dateLayout),
		EndDate:        time.UnixMilli(summary.EndDate).In(s.loc).Format(dateLayout),
		EntryCount:     len(reflection.InRange(entries, start, end)),
		SentimentTrend: string(summary.SentimentTrend),
		TopThemes:      summary.TopThemes,
		Highlights:     summary.Highlights,
	}, nil
}

func (s *Server) format(ms int64) string {
	return time.UnixMilli(ms).In(s.loc).Format(time.RFC3339)
}
