// Package policy implements the eviction policies available to the local
// cache engine. A Policy tracks access history as the engine mutates its
// entries and, when the engine is full, selects which entry to evict.
package policy

import (
	"fmt"

	"github.com/hoardcache/hoard/internal/entry"
)

// Well-known policy names accepted by New.
const (
	LRU  = "lru"
	LFU  = "lfu"
	FIFO = "fifo"
	TTL  = "ttl"
)

// Policy decides which entry a bounded store evicts when it is full.
// Implementations are not safe for concurrent use; the engine serializes
// all calls under its own lock.
type Policy interface {
	// Name returns the policy name as accepted by New.
	Name() string

	// Add records the insertion of a key.
	Add(key string)

	// Touch records a successful read of a key.
	Touch(key string)

	// Remove drops any bookkeeping for a key.
	Remove(key string)

	// Reset drops all bookkeeping.
	Reset()

	// Victim returns the key to evict given the current entries.
	// It is side-effect free. Returns false if there is nothing to evict.
	Victim(entries map[string]*entry.Entry) (string, bool)
}

// New returns the policy for the given name.
// Unknown names are a configuration error.
func New(name string) (Policy, error) {
	switch name {
	case LRU:
		return newLRU(), nil
	case LFU:
		return newLFU(), nil
	case FIFO:
		return newFIFO(), nil
	case TTL:
		return newTTL(), nil
	default:
		return nil, fmt.Errorf("policy: unknown eviction policy %q", name)
	}
}
