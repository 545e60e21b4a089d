// Package cache holds hot market metadata between discovery scans so
// strategy lookups never block on the store.
package cache

import "time"

// Cache is a TTL'd key-value cache for market metadata.
type Cache interface {
	// Get returns (value, true) when the key is present and fresh.
	Get(key string) (any, bool)

	// Set stores a value with a TTL. Returns false when the entry was
	// dropped instead of admitted.
	Set(key string, value any, ttl time.Duration) bool

	// Delete removes a key.
	Delete(key string)

	// Clear removes all entries.
	Clear()

	// Close releases cache resources.
	Close()
}
