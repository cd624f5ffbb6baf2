// Package cache provides the TTL-bounded dedupe cache used to make
// idempotent gateway operations (chat.send, tool invocations) safe to
// retry.
package cache

import (
	"encoding/json"
	"sync"
	"time"
)

// DedupeEntry is the cached outcome of a prior idempotent operation.
type DedupeEntry struct {
	Timestamp time.Time
	OK        bool
	Payload   json.RawMessage
	Error     json.RawMessage
}

// DedupeCacheOptions configures a DedupeCache.
type DedupeCacheOptions struct {
	TTL     time.Duration
	MaxSize int
}

// DedupeCache is a TTL-bounded mapping from a caller-chosen idempotency key
// to the previously returned outcome. A cache hit means the caller MUST
// return the cached outcome unchanged instead of re-running the operation.
type DedupeCache struct {
	mu      sync.Mutex
	entries map[string]*DedupeEntry
	ttl     time.Duration
	maxSize int
}

// NewDedupeCache constructs a cache with the given options. A zero TTL
// defaults to one hour; a zero MaxSize means unbounded.
func NewDedupeCache(opts DedupeCacheOptions) *DedupeCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &DedupeCache{
		entries: make(map[string]*DedupeEntry),
		ttl:     ttl,
		maxSize: opts.MaxSize,
	}
}

// Get returns the entry iff now-entry.ts < ttl. An expired entry is removed
// and nil is returned. Get never extends the TTL of an entry it returns —
// observing a value has no side effect on when it expires.
func (c *DedupeCache) Get(key string) *DedupeEntry {
	return c.GetAt(key, time.Now())
}

// GetAt is Get with an explicit "now", for deterministic boundary tests.
func (c *DedupeCache) GetAt(key string, now time.Time) *DedupeEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if now.Sub(entry.Timestamp) >= c.ttl {
		delete(c.entries, key)
		return nil
	}
	return entry
}

// Set records the outcome of an operation under key, overwriting any
// existing entry. Callers must set the entry exactly once per
// (key, outcome) pair.
func (c *DedupeCache) Set(key string, ok bool, payload, errPayload json.RawMessage) {
	c.SetAt(key, ok, payload, errPayload, time.Now())
}

// SetAt is Set with an explicit timestamp.
func (c *DedupeCache) SetAt(key string, ok bool, payload, errPayload json.RawMessage, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &DedupeEntry{
		Timestamp: now,
		OK:        ok,
		Payload:   payload,
		Error:     errPayload,
	}
	c.pruneLocked(now)
}

// Cleanup evicts all expired entries and returns the number removed. It is
// invoked opportunistically by a periodic sweep (see internal/gateway),
// never required for correctness since Get self-evicts on read.
func (c *DedupeCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	before := len(c.entries)
	c.pruneExpiredLocked(time.Now())
	return before - len(c.entries)
}

// Size returns the number of entries currently cached (including any not
// yet lazily expired).
func (c *DedupeCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *DedupeCache) pruneExpiredLocked(now time.Time) {
	for k, e := range c.entries {
		if now.Sub(e.Timestamp) >= c.ttl {
			delete(c.entries, k)
		}
	}
}

func (c *DedupeCache) pruneLocked(now time.Time) {
	if c.maxSize <= 0 || len(c.entries) <= c.maxSize {
		return
	}
	c.pruneExpiredLocked(now)
	for len(c.entries) > c.maxSize {
		var oldestKey string
		var oldestTS time.Time
		first := true
		for k, e := range c.entries {
			if first || e.Timestamp.Before(oldestTS) {
				oldestKey, oldestTS, first = k, e.Timestamp, false
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.entries, oldestKey)
	}
}

// MessageDedupeKey builds the conventional dedupe key for an inbound
// channel message.
func MessageDedupeKey(channel, messageID string) string {
	return channel + ":" + messageID
}
