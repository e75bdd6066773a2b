package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"InterviewPrep/internal/session"
)

// Entry represents a cached value and when it was stored
type Entry[V any] struct {
	Value     V
	Timestamp time.Time
}

// Cache is a concurrency-safe map with optional expiry. A zero ttl keeps entries forever.
type Cache[V any] struct {
	entries sync.Map
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{ttl: ttl, now: time.Now}
}

// Get returns the value for key if present and not expired
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	val, ok := c.entries.Load(key)
	if !ok {
		return zero, false
	}
	entry := val.(Entry[V])
	if c.ttl > 0 && c.now().Sub(entry.Timestamp) > c.ttl {
		c.entries.Delete(key)
		return zero, false
	}
	return entry.Value, true
}

// Put stores value under key
func (c *Cache[V]) Put(key string, value V) {
	c.entries.Store(key, Entry[V]{Value: value, Timestamp: c.now()})
}

// Delete removes key
func (c *Cache[V]) Delete(key string) {
	c.entries.Delete(key)
}

// Prune drops every expired entry and returns how many were removed
func (c *Cache[V]) Prune() int {
	if c.ttl <= 0 {
		return 0
	}
	now := c.now()
	removed := 0
	c.entries.Range(func(key, val any) bool {
		if now.Sub(val.(Entry[V]).Timestamp) > c.ttl {
			c.entries.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// Len counts the stored entries, expired or not
func (c *Cache[V]) Len() int {
	n := 0
	c.entries.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// GenerateCacheKey generates a cache key from messages and any scoping values such as provider or model
func GenerateCacheKey(messages []session.Message, scope ...string) string {
	h := sha256.New()
	for _, s := range scope {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	for _, msg := range messages {
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
