// Package cachedbackend wraps a slow backend (typically a remote object
// store) with a small in-process LRU front cache. Reads check the front
// first; writes go through to the underlying backend and update the
// front. Mutating operations invalidate the affected front entries.
package cachedbackend

import (
	"context"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hoardcache/hoard/backend"
)

// DefaultFrontSize is the front cache capacity when none is configured.
const DefaultFrontSize = 256

// Compile-time check that Backend implements backend.Backend.
var _ backend.Backend = (*Backend)(nil)

// frontEntry is a front-cache slot. expiresAt mirrors the underlying
// entry's expiry so the front never serves values past their TTL.
type frontEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (f frontEntry) expired(now time.Time) bool {
	return !f.expiresAt.IsZero() && now.After(f.expiresAt)
}

// Stats contains front-cache statistics.
type Stats struct {
	Hits   int64
	Misses int64
	Size   int
}

// HitRate returns the front-cache hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Backend is a read-through, write-through caching wrapper.
type Backend struct {
	underlying backend.Backend
	front      *lru.Cache[string, frontEntry]

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Backend.
type Option func(*config)

type config struct {
	frontSize int
}

// WithFrontSize sets the front cache capacity.
func WithFrontSize(n int) Option {
	return func(c *config) { c.frontSize = n }
}

// New creates a caching wrapper around the given backend.
func New(underlying backend.Backend, opts ...Option) (*Backend, error) {
	cfg := config{frontSize: DefaultFrontSize}
	for _, opt := range opts {
		opt(&cfg)
	}

	front, err := lru.New[string, frontEntry](cfg.frontSize)
	if err != nil {
		return nil, err
	}
	return &Backend{
		underlying: underlying,
		front:      front,
	}, nil
}

// Connect connects the underlying backend.
func (b *Backend) Connect(ctx context.Context) error {
	return b.underlying.Connect(ctx)
}

// Disconnect drops the front cache and disconnects the underlying backend.
func (b *Backend) Disconnect() error {
	b.front.Purge()
	return b.underlying.Disconnect()
}

// Get returns the value for key, checking the front cache first.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	now := time.Now()
	if fe, ok := b.front.Get(key); ok {
		if !fe.expired(now) {
			b.hits.Add(1)
			return fe.value, nil
		}
		b.front.Remove(key)
	}
	b.misses.Add(1)

	value, err := b.underlying.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	// Mirror the underlying TTL so the front entry expires in step.
	// A TTL failure only costs us the fill.
	if ttl, err := b.underlying.TTL(ctx, key); err == nil {
		fe := frontEntry{value: value}
		if ttl > 0 {
			fe.expiresAt = now.Add(ttl)
		}
		b.front.Add(key, fe)
	}
	return value, nil
}

// Set writes through to the underlying backend and updates the front.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.underlying.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	fe := frontEntry{value: value}
	if ttl > 0 {
		fe.expiresAt = time.Now().Add(ttl)
	}
	b.front.Add(key, fe)
	return nil
}

// Delete removes key from both layers.
func (b *Backend) Delete(ctx context.Context, key string) error {
	b.front.Remove(key)
	return b.underlying.Delete(ctx, key)
}

// Exists reports whether key holds a live value.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	if fe, ok := b.front.Get(key); ok && !fe.expired(time.Now()) {
		return true, nil
	}
	return b.underlying.Exists(ctx, key)
}

// Expire rewrites the expiry in the underlying backend and invalidates
// the front entry so the next read picks up the new TTL.
func (b *Backend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	b.front.Remove(key)
	return b.underlying.Expire(ctx, key, ttl)
}

// TTL returns the remaining time to live from the underlying backend.
func (b *Backend) TTL(ctx context.Context, key string) (time.Duration, error) {
	return b.underlying.TTL(ctx, key)
}

// Clear removes all keys from both layers.
func (b *Backend) Clear(ctx context.Context) error {
	b.front.Purge()
	return b.underlying.Clear(ctx)
}

// Stats returns front-cache statistics.
func (b *Backend) Stats() Stats {
	return Stats{
		Hits:   b.hits.Load(),
		Misses: b.misses.Load(),
		Size:   b.front.Len(),
	}
}
