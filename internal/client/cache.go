package client

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Key identifies a cached query, e.g. Key{"waiting-room", 12}.
type Key []any

func (k Key) String() string {
	parts := make([]string, len(k))
	for i, p := range k {
		parts[i] = fmt.Sprint(p)
	}
	return strings.Join(parts, "/")
}

// WaitingRoomKey and SettingsKey name the cached room queries.
func WaitingRoomKey(roomID uint64) Key { return Key{"waiting-room", roomID} }
func SettingsKey(roomID uint64) Key    { return Key{"waiting-room-settings", roomID} }

type cacheEntry struct {
	value any
	at    time.Time
}

// Cache is a small query cache with a fixed freshness window.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   clockwork.Clock
	entries map[string]cacheEntry
}

func NewCache(ttl time.Duration, clk clockwork.Clock) *Cache {
	return &Cache{ttl: ttl, clock: clk, entries: make(map[string]cacheEntry)}
}

// Get returns a value stored less than ttl ago.
func (c *Cache) Get(k Key) (any, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[k.String()]
	if !ok || c.clock.Now().Sub(e.at) >= c.ttl {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) Set(k Key, v any) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[k.String()] = cacheEntry{value: v, at: c.clock.Now()}
	c.mu.Unlock()
}

// Invalidate drops the given keys so the next read refetches.
func (c *Cache) Invalidate(keys ...Key) {
	if c == nil {
		return
	}
	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k.String())
	}
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len is the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
