// Copyright (C) 2025 Seventeen Sierra LLC
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package router

import (
	"sync"
	"time"
)

// responseCache is a time-boxed cache for GET response bodies.
//
// Each HTTPClient owns its own cache instance; nothing in this package
// is process-global, so multiple independent clients can coexist in
// one process and tests get isolation for free.
//
// Thread Safety: all methods are safe for concurrent use.
type responseCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	// now is swapped in tests to control expiry.
	now func() time.Time
}

// cacheEntry pairs a cached body with its expiry instant.
type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// newResponseCache creates an empty cache.
func newResponseCache() *responseCache {
	return &responseCache{
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// Get returns the cached body for key. A read past expiry removes the
// entry and reports a miss.
func (c *responseCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

// Set stores value under key for ttl. A non-positive ttl stores
// nothing: only callers that supply a TTL opt into caching.
func (c *responseCache) Set(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
}

// Delete removes a single entry.
func (c *responseCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Purge removes all entries.
func (c *responseCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of entries, expired or not.
func (c *responseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
