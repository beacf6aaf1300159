// Package entry defines the value container stored by the cache engine,
// including TTL and access metadata used by eviction policies.
package entry

import "time"

// overhead is the fixed per-entry bookkeeping cost added to the size
// estimate: struct fields, map bucket share and pointer indirection.
const overhead = 112

// Entry is a single cached value with its access metadata.
type Entry struct {
	Key         string
	Value       []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time // zero means the entry never expires
	LastAccess  time.Time
	AccessCount int64
	Seq         uint64 // insertion sequence, used for LFU tie-breaks
	Size        int64
}

// New creates an entry for the given key and value. A ttl of zero means
// the entry never expires by time.
func New(key string, value []byte, ttl time.Duration, now time.Time, seq uint64) *Entry {
	e := &Entry{
		Key:        key,
		Value:      value,
		CreatedAt:  now,
		LastAccess: now,
		Seq:        seq,
		Size:       EstimateSize(key, value),
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

// Expired reports whether the entry has passed its expiry time.
// Entries without a TTL never expire.
func (e *Entry) Expired(now time.Time) bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return now.After(e.ExpiresAt)
}

// Touch records a successful read at the given time.
func (e *Entry) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccess = now
}

// TTL returns the remaining time to live at now, or -1 if the entry
// has no expiry.
func (e *Entry) TTL(now time.Time) time.Duration {
	if e.ExpiresAt.IsZero() {
		return -1
	}
	remaining := e.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// EstimateSize returns the approximate memory cost of storing the given
// key and value, including fixed per-entry overhead.
func EstimateSize(key string, value []byte) int64 {
	return int64(len(key)) + int64(len(value)) + overhead
}
