package reflection

import (
	"math/rand/v2"
	"slices"
	"time"

	"github.com/forest6511/diaryctl/pkg/cache"
	"github.com/forest6511/diaryctl/pkg/record"
)

// RotateAfter is how long a shown prompt stays current.
const RotateAfter = time.Hour

// GenericPrompts are used until a reflection supplies its own prompts.
var GenericPrompts = []string{
	"What's one small win from today?",
	"What are you grateful for?",
	"How are you feeling?",
	"What would make tomorrow better?",
	"What felt alive in you today?",
	"What's on your mind right now?",
	"What would you tell your past self from this week?",
	"What do you need to hear today?",
	"What are you proud of lately?",
	"What's one thing you'd do differently if you could?",
	"Who or what supported you recently?",
	"What are you looking forward to?",
	"What felt hard today, and what helped?",
	"What would rest look like for you right now?",
}

// LastPrompt is the prompt most recently shown.
type LastPrompt struct {
	Text string `json:"text"`
	TS   int64  `json:"ts"` // epoch ms when it was chosen
}

// Prompter picks the journal prompt of the moment.
type Prompter struct {
	last        *cache.Slot[LastPrompt]
	reflections *Cache
	rotate      time.Duration
	intn        func(n int) int
}

// NewPrompter returns a Prompter persisting its choice in st.
func NewPrompter(st cache.Store, codec *record.Codec, rotate time.Duration) *Prompter {
	if rotate <= 0 {
		rotate = RotateAfter
	}
	return &Prompter{
		last:        cache.NewSlot[LastPrompt](st, codec, cache.SlotLastPrompt),
		reflections: NewCache(st, codec),
		rotate:      rotate,
		intn:        rand.IntN,
	}
}

// Next returns the current prompt. The same prompt is returned until the
// rotation interval passes or forceNew is set; a new pick avoids repeating
// the previous prompt. Prompts from the stored reflection are preferred
// over GenericPrompts.
func (p *Prompter) Next(forceNew bool, now time.Time) (string, error) {
	stored, err := p.reflections.Get()
	if err != nil {
		return "", err
	}
	var aiPrompts []string
	if stored != nil {
		aiPrompts = stored.Prompts
	}

	last, hasLast, err := p.last.Load()
	if err != nil {
		return "", err
	}

	rotate := forceNew || !hasLast || now.UnixMilli()-last.TS > p.rotate.Milliseconds()
	exclude := ""
	if hasLast {
		exclude = last.Text
	}

	var chosen string
	save := rotate
	switch {
	case len(aiPrompts) > 0 && rotate:
		chosen = p.pick(aiPrompts, exclude)
	case len(aiPrompts) > 0 && slices.Contains(aiPrompts, last.Text):
		chosen = last.Text
	case len(aiPrompts) > 0:
		// A new reflection replaced the prompt list.
		chosen = p.pick(aiPrompts, "")
		save = true
	case rotate:
		chosen = p.pick(GenericPrompts, exclude)
	default:
		chosen = last.Text
	}

	if save {
		if err := p.last.Save(LastPrompt{Text: chosen, TS: now.UnixMilli()}); err != nil {
			return "", err
		}
	}
	return chosen, nil
}

func (p *Prompter) pick(prompts []string, exclude string) string {
	candidates := prompts
	if exclude != "" {
		candidates = slices.DeleteFunc(slices.Clone(prompts), func(s string) bool { return s == exclude })
	}
	if len(candidates) == 0 {
		return prompts[0]
	}
	return candidates[p.intn(len(candidates))]
}
