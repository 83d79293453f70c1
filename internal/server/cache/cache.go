// Package cache is the HTTP read cache. Entries are keyed per project so a
// write to one project invalidates only that project's reads.
package cache

import (
	"strings"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache wraps go-cache with hit accounting and prefix invalidation.
type Cache struct {
	store  *gocache.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache whose entries expire after ttl and are swept every
// cleanupInterval.
func New(ttl, cleanupInterval time.Duration) *Cache {
	return &Cache{store: gocache.New(ttl, cleanupInterval)}
}

// ProjectKey builds a key scoped to a project.
func ProjectKey(projectID string, parts ...string) string {
	return "project/" + projectID + "/" + strings.Join(parts, "/")
}

// ProposalKey builds the key of a single proposal read.
func ProposalKey(id string) string {
	return "proposal/" + id
}

// Get returns a cached value.
func (c *Cache) Get(key string) (any, bool) {
	v, ok := c.store.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key string, value any) {
	c.store.Set(key, value, gocache.DefaultExpiration)
}

// Delete removes keys.
func (c *Cache) Delete(keys ...string) {
	for _, k := range keys {
		c.store.Delete(k)
	}
}

// InvalidateProject drops every entry scoped to projectID.
func (c *Cache) InvalidateProject(projectID string) int {
	prefix := ProjectKey(projectID)
	n := 0
	for k := range c.store.Items() {
		if strings.HasPrefix(k, prefix) {
			c.store.Delete(k)
			n++
		}
	}
	return n
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.store.Flush()
}

// ItemCount returns the number of entries, including expired ones not yet
// swept.
func (c *Cache) ItemCount() int {
	return c.store.ItemCount()
}

// Stats is a point-in-time view of cache usage.
type Stats struct {
	ItemCount int   `json:"item_count"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
}

// GetStats returns current statistics.
func (c *Cache) GetStats() Stats {
	return Stats{
		ItemCount: c.store.ItemCount(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
	}
}
