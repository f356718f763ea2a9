package reflection

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/forest6511/diaryctl/pkg/journal"
)

// AI defaults.
const (
	DefaultModel      = "gpt-4.1-nano"
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultMaxTokens  = 800
	DefaultMaxRetries = 2

	// ReflectionDays is the window an AI reflection covers.
	ReflectionDays = 7

	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes = 1 << 20

	promptsMarker  = "PROMPTS:"
	maxErrorBody   = 4096
	defaultTimeout = 60 * time.Second
)

// Errors
var (
	ErrNoAPIKey      = errors.New("reflection: OpenAI API key not set (set OPENAI_API_KEY)")
	ErrNoEntries     = errors.New("reflection: no entries in the last 7 days")
	ErrEmptyResponse = errors.New("reflection: empty response from model")
)

// Result is a parsed AI reflection.
type Result struct {
	Reflection string   `json:"reflection"`
	Prompts    []string `json:"prompts"`
}

// Generator writes a reflection for a set of entries.
type Generator interface {
	Generate(ctx context.Context, entries []*journal.Entry) (*Result, error)
}

// OpenAIClient generates reflections with the chat completions API.
type OpenAIClient struct {
	client     openai.Client
	baseURL    string
	model      string
	maxTokens  int
	maxRetries int
	httpClient *http.Client
}

// ClientOption configures an OpenAIClient.
type ClientOption func(*OpenAIClient)

// WithModel overrides DefaultModel.
func WithModel(model string) ClientOption {
	return func(c *OpenAIClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) ClientOption {
	return func(c *OpenAIClient) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithMaxTokens overrides DefaultMaxTokens.
func WithMaxTokens(n int) ClientOption {
	return func(c *OpenAIClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithMaxRetries overrides DefaultMaxRetries. Zero disables retries.
func WithMaxRetries(n int) ClientOption {
	return func(c *OpenAIClient) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *OpenAIClient) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// NewOpenAIClient returns a client, or ErrNoAPIKey when apiKey is blank.
func NewOpenAIClient(apiKey string, opts ...ClientOption) (*OpenAIClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	c := &OpenAIClient{
		baseURL:    DefaultBaseURL,
		model:      DefaultModel,
		maxTokens:  DefaultMaxTokens,
		maxRetries: DefaultMaxRetries,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.client = openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(c.baseURL+"/"),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(c.maxRetries),
		option.WithRequestTimeout(defaultTimeout),
		option.WithMiddleware(limitResponseBody),
	)
	return c, nil
}

// limitResponseBody stops reading a response after MaxResponseBytes. A cut
// body fails to decode instead of growing without bound.
func limitResponseBody(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	resp, err := next(req)
	if err != nil || resp == nil || resp.Body == nil {
		return resp, err
	}
	resp.Body = struct {
		io.Reader
		io.Closer
	}{io.LimitReader(resp.Body, MaxResponseBytes), resp.Body}
	return resp, nil
}

// Generate sends entries to the model and parses its reply.
func (c *OpenAIClient) Generate(ctx context.Context, entries []*journal.Entry) (*Result, error) {
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt(ReflectionDays)),
			openai.UserMessage(UserPrompt(entries, ReflectionDays)),
		},
		MaxTokens: openai.Int(int64(c.maxTokens)),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("reflection: model returned status %d: %s", apiErr.StatusCode, apiErrorMessage(apiErr))
		}
		return nil, fmt.Errorf("reflection: request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, ErrEmptyResponse
	}
	return ParseReflection(text), nil
}

// apiErrorMessage prefers the API's own message and falls back to the start
// of the response body.
func apiErrorMessage(e *openai.Error) string {
	if e.Message != "" {
		return e.Message
	}
	if e.Response != nil && e.Response.Body != nil {
		data, _ := io.ReadAll(io.LimitReader(e.Response.Body, maxErrorBody))
		if msg := strings.TrimSpace(string(data)); msg != "" {
			return msg
		}
	}
	return http.StatusText(e.StatusCode)
}

// SystemPrompt instructs the model on voice and output format.
func SystemPrompt(days int) string {
	return fmt.Sprintf(`You are Diary, the user's private journaling companion. Your voice is warm, calm, and non-judgmental. You never lecture or give unsolicited advice.

Using their journal entries from the past %d days only:
1. REFLECTION (150-200 words): Write a short reflection spoken directly to them ("you"). Acknowledge what showed up (themes, moods, small wins or struggles) without sugarcoating or pushing positivity. Notice patterns or progress only when they're clearly there. End with something that feels like a gentle nod, not a lesson.

2. PROMPTS: On a new line write exactly "PROMPTS:" then list 2-4 short journal prompts based on their reflection (one per line, each starting with "- "). Each prompt should be a single open-ended question or invitation (one line only), e.g. "What felt alive in you today?" or "What would you tell your past self from this week?" No greetings or extra text in the prompts.

Output format: reflection text first, then a blank line, then "PROMPTS:" and the bullet list. Use only the entries provided; do not invent events or dates.`, days)
}

// UserPrompt lists entries oldest first under their local date.
func UserPrompt(entries []*journal.Entry, days int) string {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b *journal.Entry) int {
		return cmp.Compare(a.CreatedAt, b.CreatedAt)
	})

	parts := make([]string, len(sorted))
	for i, e := range sorted {
		parts[i] = fmt.Sprintf("[%s]\n%s", e.Time().Format("Mon, Jan 02, 2006"), e.Content)
	}
	return fmt.Sprintf("Entries from the past %d days:\n\n%s\n\nWrite the reflection and PROMPTS as specified.",
		days, strings.Join(parts, "\n\n---\n\n"))
}

var bulletRe = regexp.MustCompile(`^\s*-\s*`)

// ParseReflection splits a model reply into the reflection text and the
// bullet prompts following the "PROMPTS:" marker.
func ParseReflection(raw string) *Result {
	idx := strings.Index(raw, promptsMarker)
	if idx < 0 {
		return &Result{Reflection: strings.TrimSpace(raw), Prompts: []string{}}
	}

	res := &Result{
		Reflection: strings.TrimSpace(raw[:idx]),
		Prompts:    []string{},
	}
	rest := strings.TrimSpace(raw[idx+len(promptsMarker):])
	for _, line := range strings.Split(rest, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		res.Prompts = append(res.Prompts, strings.TrimSpace(bulletRe.ReplaceAllString(line, "")))
	}
	return res
}

// Refresh generates a reflection over the last ReflectionDays days of
// entries and stores it in c.
func Refresh(ctx context.Context, gen Generator, entries []*journal.Entry, c *Cache, now time.Time) (*Stored, error) {
	start, end := PeriodRange(Week, now)
	recent := InRange(entries, start, end)
	if len(recent) == 0 {
		return nil, ErrNoEntries
	}

	res, err := gen.Generate(ctx, recent)
	if err != nil {
		return nil, err
	}
	return c.Set(res, now)
}
