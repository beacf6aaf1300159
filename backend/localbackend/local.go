// Package localbackend exposes the in-process eviction engine through
// the backend contract, for use as a single-node cache or as the storage
// unit behind one node of the distributed coordinator.
package localbackend

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hoardcache/hoard/backend"
	"github.com/hoardcache/hoard/internal/local"
	"github.com/hoardcache/hoard/internal/policy"
	"github.com/hoardcache/hoard/internal/stats"
)

// ErrNotConnected indicates an operation was issued before Connect or
// after Disconnect.
var ErrNotConnected = errors.New("localbackend: not connected")

// Compile-time check that Backend implements backend.Backend.
var _ backend.Backend = (*Backend)(nil)

// Backend wraps the local eviction engine.
type Backend struct {
	cfg    local.Config
	engine *local.Cache
}

// Option configures a Backend.
type Option func(*local.Config)

// WithMaxSize sets the maximum entry count.
func WithMaxSize(n int) Option {
	return func(c *local.Config) { c.MaxSize = n }
}

// WithMemoryLimit sets the memory bound in bytes.
func WithMemoryLimit(n int64) Option {
	return func(c *local.Config) { c.MemoryLimit = n }
}

// WithPolicy sets the eviction policy name ("lru", "lfu", "fifo", "ttl").
func WithPolicy(name string) Option {
	return func(c *local.Config) { c.Policy = name }
}

// WithSweepInterval sets the background TTL sweep period.
func WithSweepInterval(d time.Duration) Option {
	return func(c *local.Config) { c.SweepInterval = d }
}

// WithoutLazyExpiration disables removal of expired entries on access,
// leaving cleanup to the background sweep alone.
func WithoutLazyExpiration() Option {
	return func(c *local.Config) { c.LazyExpiration = false }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *local.Config) { c.Logger = l }
}

// WithStats sets the stats collector.
func WithStats(col stats.Collector) Option {
	return func(c *local.Config) { c.Collector = col }
}

// New creates a local backend. The engine itself is not started until
// Connect; configuration errors (an unknown policy name) surface eagerly
// here.
func New(opts ...Option) (*Backend, error) {
	cfg := local.Config{LazyExpiration: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Policy != "" {
		if _, err := policy.New(cfg.Policy); err != nil {
			return nil, err
		}
	}

	return &Backend{cfg: cfg}, nil
}

// Connect starts the engine and its background sweep.
func (b *Backend) Connect(ctx context.Context) error {
	if b.engine != nil {
		return nil
	}
	engine, err := local.New(b.cfg)
	if err != nil {
		return err
	}
	b.engine = engine
	return nil
}

// Disconnect stops the engine.
func (b *Backend) Disconnect() error {
	if b.engine != nil {
		b.engine.Close()
		b.engine = nil
	}
	return nil
}

// Get returns the value for key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	if b.engine == nil {
		return nil, ErrNotConnected
	}
	value, ok := b.engine.Get(key)
	if !ok {
		return nil, backend.ErrNotFound
	}
	return value, nil
}

// Set stores value under key.
func (b *Backend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if b.engine == nil {
		return ErrNotConnected
	}
	if ttl < 0 {
		return backend.ErrInvalidTTL
	}
	b.engine.Set(key, value, ttl)
	return nil
}

// Delete removes key. Absent keys are a no-op.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if b.engine == nil {
		return ErrNotConnected
	}
	b.engine.Delete(key)
	return nil
}

// Exists reports whether key holds a live value.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	if b.engine == nil {
		return false, ErrNotConnected
	}
	return b.engine.Exists(key), nil
}

// Expire rewrites the expiry of key.
func (b *Backend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if b.engine == nil {
		return ErrNotConnected
	}
	if ttl < 0 {
		return backend.ErrInvalidTTL
	}
	if !b.engine.Expire(key, ttl) {
		return backend.ErrNotFound
	}
	return nil
}

// TTL returns the remaining time to live for key.
func (b *Backend) TTL(ctx context.Context, key string) (time.Duration, error) {
	if b.engine == nil {
		return 0, ErrNotConnected
	}
	return b.engine.TTL(key), nil
}

// Clear removes all entries.
func (b *Backend) Clear(ctx context.Context) error {
	if b.engine == nil {
		return ErrNotConnected
	}
	b.engine.Clear()
	return nil
}

// Stats returns a snapshot of the engine statistics.
// A zero snapshot is returned when the backend is not connected.
func (b *Backend) Stats() local.Snapshot {
	if b.engine == nil {
		return local.Snapshot{}
	}
	return b.engine.Stats()
}
