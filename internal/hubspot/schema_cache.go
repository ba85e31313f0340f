package hubspot

import (
	"context"
	"sync"
	"time"
)

const (
	defaultSchemaTTL        = time.Hour
	defaultSchemaMaxEntries = 500
)

// SchemaFetcher loads the remote mutable-property definitions for one API key.
type SchemaFetcher interface {
	ListProperties(ctx context.Context, apiKey string) ([]PropertyDefinition, error)
}

type SchemaCacheOptions struct {
	TTL        time.Duration
	MaxEntries int
	Now        func() time.Time
}

// SchemaCache is a read-through cache of property definitions keyed by API
// key. Entries expire after the TTL and the least-recently-used entry is
// evicted once the capacity is exceeded. Entries are replaced wholesale,
// never mutated in place.
type SchemaCache struct {
	fetcher    SchemaFetcher
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]*schemaEntry
}

type schemaEntry struct {
	definitions []PropertyDefinition
	fetchedAt   time.Time
	lastUsed    time.Time
}

func NewSchemaCache(fetcher SchemaFetcher, opts SchemaCacheOptions) *SchemaCache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultSchemaTTL
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = defaultSchemaMaxEntries
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &SchemaCache{
		fetcher:    fetcher,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        now,
		entries:    map[string]*schemaEntry{},
	}
}

// Get returns the cached definitions for apiKey if present and unexpired.
func (c *SchemaCache) Get(apiKey string) ([]PropertyDefinition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[apiKey]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.fetchedAt) >= c.ttl {
		delete(c.entries, apiKey)
		return nil, false
	}
	entry.lastUsed = c.now()
	return entry.definitions, true
}

// Ensure returns cached definitions or fetches, stores and returns a fresh
// set. Concurrent calls for the same key during a miss may each fetch; the
// last store wins. Fetch failures propagate and are not cached.
func (c *SchemaCache) Ensure(ctx context.Context, apiKey string) ([]PropertyDefinition, error) {
	if definitions, ok := c.Get(apiKey); ok {
		return definitions, nil
	}
	definitions, err := c.fetcher.ListProperties(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	c.store(apiKey, definitions)
	return definitions, nil
}

func (c *SchemaCache) store(apiKey string, definitions []PropertyDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.entries[apiKey] = &schemaEntry{
		definitions: definitions,
		fetchedAt:   now,
		lastUsed:    now,
	}
	for len(c.entries) > c.maxEntries {
		c.evictOldestLocked()
	}
}

func (c *SchemaCache) evictOldestLocked() {
	oldestKey := ""
	var oldestUsed time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.lastUsed.Before(oldestUsed) {
			oldestKey = key
			oldestUsed = entry.lastUsed
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Len reports the number of cached entries, expired or not.
func (c *SchemaCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
