package aoftypes

import (
	"encoding/json"
	"time"
)

// MemoryEntry is one keyed, optionally-expiring record in a Memory Store.
// Entries with a past Expiry are lazily removed on read, never eagerly swept.
type MemoryEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       *time.Duration  `json:"ttl,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
}

// Expiry returns the absolute expiry time, or the zero time if the entry
// has no TTL.
func (e *MemoryEntry) Expiry() time.Time {
	if e.TTL == nil {
		return time.Time{}
	}
	return e.CreatedAt.Add(*e.TTL)
}

// Expired reports whether the entry's TTL has elapsed as of t.
func (e *MemoryEntry) Expired(t time.Time) bool {
	if e.TTL == nil {
		return false
	}
	return t.After(e.Expiry())
}
