package wx

import (
	"sync"
	"time"

	"github.com/stationwx/wxboard/pkg/logger"
)

// ResponseCache is the server-side tier: raw upstream response bodies
// keyed by exact request signature, replayed byte-identically within a
// fixed TTL. Only successful responses are ever stored.
type ResponseCache struct {
	ttl     time.Duration
	entries map[string]responseEntry
	now     func() time.Time
	mu      sync.RWMutex
	logger  *logger.Logger
}

type responseEntry struct {
	body     []byte
	storedAt time.Time
}

// NewResponseCache creates an upstream response cache with the given TTL.
func NewResponseCache(ttl time.Duration, log *logger.Logger) *ResponseCache {
	return &ResponseCache{
		ttl:     ttl,
		entries: make(map[string]responseEntry),
		now:     time.Now,
		logger:  log.Named("response-cache"),
	}
}

// Get returns the cached body for the request signature, if still fresh.
func (c *ResponseCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		return nil, false
	}
	return entry.body, true
}

// Put stores a successful response body under the request signature.
func (c *ResponseCache) Put(key string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = responseEntry{body: body, storedAt: c.now()}
	c.logger.Debug("Cached upstream response",
		logger.String("key", key),
		logger.Int("bytes", len(body)))
}

// Purge drops expired entries. Called opportunistically from the refresh
// loop; correctness never depends on it running.
func (c *ResponseCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of stored entries, fresh or not.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// PayloadCache is the assembled-payload tier: a single slot holding the
// latest successful refresh. Validity requires both a fresh TTL and an
// unchanged station-list signature; either alone invalidates.
type PayloadCache struct {
	ttl     time.Duration
	payload *Payload
	savedAt time.Time
	sig     string
	now     func() time.Time
	mu      sync.RWMutex
	logger  *logger.Logger
}

// NewPayloadCache creates an empty single-slot payload cache.
func NewPayloadCache(ttl time.Duration, log *logger.Logger) *PayloadCache {
	return &PayloadCache{
		ttl:    ttl,
		now:    time.Now,
		logger: log.Named("payload-cache"),
	}
}

// Get returns the cached payload when it is fresh and was assembled for
// the given station-list signature.
func (c *PayloadCache) Get(sig string) (*Payload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.payload == nil || c.sig != sig {
		return nil, false
	}
	if c.now().Sub(c.savedAt) > c.ttl {
		return nil, false
	}
	return c.payload, true
}

// Last returns the most recent payload regardless of freshness. Used to
// keep the previous state on screen when a refresh fails.
func (c *PayloadCache) Last() *Payload {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.payload
}

// Set replaces the slot with a newly assembled payload.
func (c *PayloadCache) Set(p *Payload, sig string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.payload = p
	c.savedAt = c.now()
	c.sig = sig
	c.logger.Debug("Payload cached",
		logger.String("stations_sig", sig),
		logger.Time("expires_at", c.savedAt.Add(c.ttl)))
}

// Restore seeds the slot from a persisted snapshot, preserving its
// original save time so the TTL keeps counting across restarts.
func (c *PayloadCache) Restore(p *Payload, sig string, savedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.payload = p
	c.savedAt = savedAt
	c.sig = sig
}

// Invalidate clears the slot.
func (c *PayloadCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.payload = nil
	c.savedAt = time.Time{}
	c.sig = ""
	c.logger.Info("Payload cache invalidated")
}

// Stats returns cache statistics for the diagnostics endpoint.
func (c *PayloadCache) Stats() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := map[string]any{
		"has_payload": c.payload != nil,
	}
	if c.payload != nil {
		stats["saved_at"] = c.savedAt
		stats["stations_sig"] = c.sig
		stats["is_expired"] = c.now().Sub(c.savedAt) > c.ttl
		stats["fetched_at"] = c.payload.FetchedAt
	}
	return stats
}
