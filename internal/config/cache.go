package config

import (
	"strings"
	"time"
)

// CacheConfig controls the Redis response cache in front of waiting-room
// reads. Entries are scoped per user and dropped whenever the room
// changes, so TTL only bounds staleness for a missed invalidation.
type CacheConfig struct {
	Enabled      bool
	Methods      map[string]bool
	TTL          time.Duration
	Prefix       string
	MaxBodyBytes int
}

// LoadCacheConfig reads CACHE_* variables. GET is always cacheable and
// nothing else is unless listed; TTL is clamped to [1s, 10m].
func LoadCacheConfig() CacheConfig {
	methods := map[string]bool{"GET": true}
	for _, m := range splitList(envStr("CACHE_METHODS", "")) {
		methods[strings.ToUpper(m)] = true
	}
	ttl := envDur("CACHE_TTL", 30*time.Second)
	switch {
	case ttl < time.Second:
		ttl = time.Second
	case ttl > 10*time.Minute:
		ttl = 10 * time.Minute
	}
	maxBody := envInt("CACHE_MAX_BODY_BYTES", 1<<20)
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return CacheConfig{
		Enabled:      envBool("CACHE_ENABLED", true),
		Methods:      methods,
		TTL:          ttl,
		Prefix:       envStr("CACHE_PREFIX", "timeegg:cache"),
		MaxBodyBytes: maxBody,
	}
}
