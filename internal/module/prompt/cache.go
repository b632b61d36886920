package prompt

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DescriptionCache memoizes rendered character description blocks so that
// repeated verification calls within a run do not rebuild the same text.
// It is an explicitly constructed object with a Clear hook, never hidden
// package state, so tests can reset it.
type DescriptionCache struct {
	cache   *gocache.Cache
	maxSize int
}

// NewDescriptionCache creates a cache holding at most maxSize entries,
// each expiring after ttl.
func NewDescriptionCache(maxSize int, ttl time.Duration) *DescriptionCache {
	if maxSize <= 0 {
		maxSize = 50
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &DescriptionCache{
		cache:   gocache.New(ttl, ttl),
		maxSize: maxSize,
	}
}

// Get returns the cached description block for a set of requested
// characters against a profile set.
func (c *DescriptionCache) Get(names []string, profiles map[string]CharacterProfile) (string, bool) {
	v, ok := c.cache.Get(descriptionKey(names, profiles))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Set stores a rendered description block. When the cache is full the
// whole cache is flushed rather than tracking recency; entries are cheap
// to rebuild and the bound only exists to cap memory.
func (c *DescriptionCache) Set(names []string, profiles map[string]CharacterProfile, descriptions string) {
	if c.cache.ItemCount() >= c.maxSize {
		c.cache.Flush()
	}
	c.cache.SetDefault(descriptionKey(names, profiles), descriptions)
}

// Len reports the number of live entries.
func (c *DescriptionCache) Len() int {
	return c.cache.ItemCount()
}

// Clear empties the cache.
func (c *DescriptionCache) Clear() {
	c.cache.Flush()
}
