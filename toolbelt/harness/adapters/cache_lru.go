package adapters

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

// LRUCache implements the Cache port with a size-bounded LRU whose entries
// expire after a fixed TTL. Expiry is enforced by the underlying cache, so
// Get never returns stale bytes.
type LRUCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewLRUCache creates a cache holding at most capacity entries, each living
// for ttl from the moment it is stored.
func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	return &LRUCache{
		lru: expirable.NewLRU[string, []byte](capacity, nil, ttl),
	}
}

// Get retrieves a value from the cache.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, bool) {
	return c.lru.Get(key)
}

// Set stores a value in the cache.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte) error {
	c.lru.Add(key, value)
	return nil
}

// Delete removes a key from the cache.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Ensure LRUCache implements the Cache interface.
var _ ports.Cache = (*LRUCache)(nil)
