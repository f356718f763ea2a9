package reflection

import (
	"time"

	"github.com/forest6511/diaryctl/pkg/cache"
	"github.com/forest6511/diaryctl/pkg/record"
)

// Stored is a generated reflection as persisted in the reflection slot.
type Stored struct {
	Reflection    string   `json:"reflection"`
	Prompts       []string `json:"prompts"`
	GeneratedAt   int64    `json:"generatedAt"`
	GeneratedDate string   `json:"generatedDate"` // YYYY-MM-DD, local time
}

// IsFrom reports whether the reflection was generated on the same local day as t.
func (s *Stored) IsFrom(t time.Time) bool {
	return s != nil && s.GeneratedDate == t.Format(time.DateOnly)
}

// Cache keeps the latest reflection sealed in the store.
type Cache struct {
	slot *cache.Slot[Stored]
}

// NewCache returns a Cache over st, sealing with codec.
func NewCache(st cache.Store, codec *record.Codec) *Cache {
	return &Cache{slot: cache.NewSlot[Stored](st, codec, cache.SlotReflection)}
}

// Get returns the stored reflection, or nil when none is readable.
// It fails with record.ErrLocked while the vault is locked.
func (c *Cache) Get() (*Stored, error) {
	s, ok, err := c.slot.Load()
	if err != nil || !ok {
		return nil, err
	}
	if s.Reflection == "" && s.Prompts == nil {
		return nil, nil
	}
	return &s, nil
}

// Set stores r as generated at now.
func (c *Cache) Set(r *Result, now time.Time) (*Stored, error) {
	s := Stored{
		Reflection:    r.Reflection,
		Prompts:       r.Prompts,
		GeneratedAt:   now.UnixMilli(),
		GeneratedDate: now.Format(time.DateOnly),
	}
	if s.Prompts == nil {
		s.Prompts = []string{}
	}
	if err := c.slot.Save(s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Clear removes the stored reflection.
func (c *Cache) Clear() error {
	return c.slot.Clear()
}
