// Package modelinfo implements the TTL-gated model metadata cache
// (spec §4.4, component C4): readers never observe a half-populated
// map, and concurrent refills coalesce into a single upstream call.
package modelinfo

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sad1droid/kiro-openai-gateway/internal/modelmap"
)

// Info is one model's metadata (spec §3).
type Info struct {
	ID                 string
	MaxInputTokens     int
	DefaultCreditsUsed float64
}

// RefillFunc fetches fresh model records from the upstream listing
// endpoint.
type RefillFunc func(ctx context.Context) ([]Info, error)

// Cache holds model metadata behind one mutex, with wall-clock TTL
// staleness and a static fallback list for when refill fails.
type Cache struct {
	mu              sync.RWMutex
	entries         map[string]Info
	updatedAt       time.Time
	ttl             time.Duration
	stale           bool
	defaultMaxInput int

	sf singleflight.Group
}

// NewCache creates an empty cache. defaultMaxInput is D_input (spec
// §4.4, default 200000), returned by GetMaxInputTokens for unknown models.
func NewCache(ttl time.Duration, defaultMaxInput int) *Cache {
	return &Cache{
		entries:         map[string]Info{},
		ttl:             ttl,
		defaultMaxInput: defaultMaxInput,
	}
}

// Get returns the cached record for modelID, if present.
func (c *Cache) Get(modelID string) (Info, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.entries[modelID]
	return info, ok
}

// GetMaxInputTokens returns the model's max input tokens, or
// defaultMaxInput if the model is unknown.
func (c *Cache) GetMaxInputTokens(modelID string) int {
	if info, ok := c.Get(modelID); ok {
		return info.MaxInputTokens
	}
	return c.defaultMaxInput
}

// Update atomically replaces the cache contents.
func (c *Cache) Update(records []Info) {
	entries := make(map[string]Info, len(records))
	for _, r := range records {
		entries[r.ID] = r
	}
	c.mu.Lock()
	c.entries = entries
	c.updatedAt = time.Now()
	c.stale = false
	c.mu.Unlock()
}

// markStale keeps the existing entries but flags them stale-but-usable,
// used when a refill attempt fails.
func (c *Cache) markStale() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// IsEmpty reports whether the cache currently holds no records.
func (c *Cache) IsEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries) == 0
}

// IsStale reports whether the TTL has elapsed since the last
// successful Update, or a refill has explicitly marked it stale.
func (c *Cache) IsStale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stale {
		return true
	}
	if c.updatedAt.IsZero() {
		return true
	}
	return time.Since(c.updatedAt) > c.ttl
}

// AllIDs returns the model IDs currently cached.
func (c *Cache) AllIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entries))
	for id := range c.entries {
		ids = append(ids, id)
	}
	return ids
}

// EnsureFresh refills the cache if empty or stale. Concurrent callers
// coalesce onto a single in-flight refill (singleflight). On refill
// failure, the static fallback list is installed (if the cache was
// empty) and the cache is marked stale-but-usable rather than erroring
// the caller — per spec §3, a failed refill degrades gracefully.
func (c *Cache) EnsureFresh(ctx context.Context, refill RefillFunc) {
	if !c.IsEmpty() && !c.IsStale() {
		return
	}

	_, _, _ = c.sf.Do("refill", func() (interface{}, error) {
		// Re-check: another caller may have refilled while we waited.
		if !c.IsEmpty() && !c.IsStale() {
			return nil, nil
		}
		records, err := refill(ctx)
		if err != nil {
			if c.IsEmpty() {
				c.Update(StaticFallback())
			}
			c.markStale()
			return nil, err
		}
		c.Update(records)
		return nil, nil
	})
}

// StaticFallback is the compiled-in model list served when the
// upstream listing call fails and the cache is empty (spec §3).
func StaticFallback() []Info {
	ids := modelmap.KnownExternalIDs()
	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		out = append(out, Info{
			ID:                 modelmap.InternalID(id),
			MaxInputTokens:     200000,
			DefaultCreditsUsed: 0,
		})
	}
	return out
}
