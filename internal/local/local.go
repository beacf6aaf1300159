// Package local implements the bounded in-memory cache engine. It enforces
// item-count and memory limits via a pluggable eviction policy, expires
// entries lazily on access and eagerly through a background sweep.
package local

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hoardcache/hoard/internal/entry"
	"github.com/hoardcache/hoard/internal/policy"
	"github.com/hoardcache/hoard/internal/stats"
)

// Defaults applied by New for zero-valued config fields.
const (
	DefaultMaxSize       = 1024
	DefaultMemoryLimit   = 64 << 20 // 64 MiB
	DefaultSweepInterval = 30 * time.Second
)

// Config holds the engine configuration.
type Config struct {
	// MaxSize is the maximum number of entries. Zero means DefaultMaxSize.
	MaxSize int

	// MemoryLimit is the maximum estimated memory in bytes.
	// Zero means DefaultMemoryLimit.
	MemoryLimit int64

	// Policy is the eviction policy name. Empty means "lru".
	Policy string

	// SweepInterval is the period of the background TTL sweep.
	// Zero means DefaultSweepInterval.
	SweepInterval time.Duration

	// LazyExpiration removes expired entries when they are accessed.
	LazyExpiration bool

	// Logger is optional; nil means no logging.
	Logger *zap.Logger

	// Collector is optional; nil means no metrics.
	Collector stats.Collector
}

// Snapshot is a point-in-time view of engine statistics.
type Snapshot struct {
	Hits        int64
	Misses      int64
	Sets        int64
	Evictions   int64
	Expirations int64
	Len         int
	MemoryUsed  int64

	// OverLimit is latched when a single entry exceeded the configured
	// bounds and was stored anyway.
	OverLimit bool
}

// Cache is the bounded eviction engine. All operations take a single lock
// so the entry map, policy tracking and expiry heap stay consistent with
// each other. A Cache must be created with New.
type Cache struct {
	maxSize     int
	memoryLimit int64
	lazyExpiry  bool
	pol         policy.Policy
	logger      *zap.Logger
	collector   stats.Collector

	mu      sync.Mutex
	entries map[string]*entry.Entry
	expiry  expiryHeap
	seq     uint64
	memUsed int64

	hits        int64
	misses      int64
	sets        int64
	evictions   int64
	expirations int64
	overLimit   bool

	done      chan struct{}
	closeOnce sync.Once

	// now is swappable for tests.
	now func() time.Time
}

// New creates an engine from the given config and starts its background
// TTL sweep. An unknown policy name is a configuration error.
func New(cfg Config) (*Cache, error) {
	pol, err := policy.New(policyName(cfg.Policy))
	if err != nil {
		return nil, err
	}

	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = DefaultMemoryLimit
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Collector == nil {
		cfg.Collector = stats.NewNoop()
	}

	c := &Cache{
		maxSize:     cfg.MaxSize,
		memoryLimit: cfg.MemoryLimit,
		lazyExpiry:  cfg.LazyExpiration,
		pol:         pol,
		logger:      cfg.Logger,
		collector:   cfg.Collector,
		entries:     make(map[string]*entry.Entry),
		done:        make(chan struct{}),
		now:         time.Now,
	}

	go c.sweepLoop(cfg.SweepInterval)

	return c, nil
}

func policyName(name string) string {
	if name == "" {
		return policy.LRU
	}
	return name
}

// Get returns the value for key. An expired entry is removed and reported
// as a miss when lazy expiration is enabled. A hit updates the entry's
// access metadata and the policy's tracking state.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		c.collector.IncCounter(stats.MetricEngineMisses, 1)
		return nil, false
	}

	now := c.now()
	if c.lazyExpiry && e.Expired(now) {
		c.removeLocked(e)
		c.expirations++
		c.misses++
		c.collector.IncCounter(stats.MetricEngineExpirations, 1)
		c.collector.IncCounter(stats.MetricEngineMisses, 1)
		return nil, false
	}

	e.Touch(now)
	c.pol.Touch(key)
	c.hits++
	c.collector.IncCounter(stats.MetricEngineHits, 1)
	return e.Value, true
}

// Set stores value under key, evicting entries as needed to stay within
// the configured bounds. A ttl of zero means no expiry.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}

	size := entry.EstimateSize(key, value)
	c.ensureSpaceLocked(size)

	c.seq++
	e := entry.New(key, value, ttl, c.now(), c.seq)
	c.entries[key] = e
	c.memUsed += e.Size
	c.pol.Add(key)
	if !e.ExpiresAt.IsZero() {
		heap.Push(&c.expiry, heapItem{key: key, expiresAt: e.ExpiresAt})
	}

	c.sets++
	c.publishGaugesLocked()
}

// Delete removes key, reporting whether an entry was removed.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	c.removeLocked(e)
	c.publishGaugesLocked()
	return true
}

// Exists reports whether key holds a live entry. It honors lazy expiry
// but does not update access tracking.
func (c *Cache) Exists(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if c.lazyExpiry && e.Expired(c.now()) {
		c.removeLocked(e)
		c.expirations++
		c.collector.IncCounter(stats.MetricEngineExpirations, 1)
		return false
	}
	return true
}

// Expire rewrites the entry's expiry without touching its value.
// A ttl of zero clears the expiry. Reports whether the key existed.
func (c *Cache) Expire(key string, ttl time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if ttl > 0 {
		e.ExpiresAt = c.now().Add(ttl)
		heap.Push(&c.expiry, heapItem{key: key, expiresAt: e.ExpiresAt})
	} else {
		e.ExpiresAt = time.Time{}
	}
	return true
}

// TTL returns the remaining time to live for key, or -1 when the key is
// absent or has no expiry. The two cases collapse deliberately; callers
// needing to tell them apart should call Exists first.
func (c *Cache) TTL(key string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return -1
	}
	return e.TTL(c.now())
}

// Clear removes all entries and returns the number removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[string]*entry.Entry)
	c.expiry = c.expiry[:0]
	c.memUsed = 0
	c.overLimit = false
	c.pol.Reset()
	c.publishGaugesLocked()
	return n
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// MemoryUsed returns the estimated memory held by live entries.
func (c *Cache) MemoryUsed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memUsed
}

// Stats returns a snapshot of the engine statistics.
func (c *Cache) Stats() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Hits:        c.hits,
		Misses:      c.misses,
		Sets:        c.sets,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		Len:         len(c.entries),
		MemoryUsed:  c.memUsed,
		OverLimit:   c.overLimit,
	}
}

// Policy returns the active eviction policy name.
func (c *Cache) Policy() string {
	return c.pol.Name()
}

// Close stops the background sweep. It is safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// ensureSpaceLocked evicts entries until the new entry fits. If the store
// drains empty without satisfying the bound the entry is oversized; it is
// still inserted by the caller and the over-limit flag is latched so
// Stats can report it.
func (c *Cache) ensureSpaceLocked(size int64) {
	for len(c.entries) >= c.maxSize || c.memUsed+size > c.memoryLimit {
		key, ok := c.pol.Victim(c.entries)
		if !ok {
			if c.memUsed+size > c.memoryLimit {
				c.overLimit = true
				c.logger.Warn("entry exceeds memory limit, storing anyway",
					zap.Int64("size", size),
					zap.Int64("memoryLimit", c.memoryLimit),
				)
			}
			return
		}
		e := c.entries[key]
		c.removeLocked(e)
		c.evictions++
		c.collector.IncCounter(stats.MetricEngineEvictions, 1)
		c.logger.Debug("evicted entry",
			zap.String("key", key),
			zap.String("policy", c.pol.Name()),
		)
	}
}

// removeLocked removes e from the map, policy tracking and memory
// accounting. Stale heap items are dropped during the sweep.
func (c *Cache) removeLocked(e *entry.Entry) {
	delete(c.entries, e.Key)
	c.pol.Remove(e.Key)
	c.memUsed -= e.Size
}

func (c *Cache) publishGaugesLocked() {
	c.collector.SetGauge(stats.MetricEngineEntries, int64(len(c.entries)))
	c.collector.SetGauge(stats.MetricEngineMemory, c.memUsed)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

// sweep pops expired items from the heap and removes the entries that are
// genuinely expired. Heap items can be stale: the entry may have been
// deleted, replaced or had its TTL rewritten since the item was pushed,
// so each is validated against the live map before removal.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for len(c.expiry) > 0 && c.expiry[0].expiresAt.Before(now) {
		item := heap.Pop(&c.expiry).(heapItem)

		e, ok := c.entries[item.key]
		if !ok || !e.ExpiresAt.Equal(item.expiresAt) {
			continue // stale item
		}
		c.removeLocked(e)
		c.expirations++
		removed++
		c.collector.IncCounter(stats.MetricEngineExpirations, 1)
	}

	if removed > 0 {
		c.publishGaugesLocked()
		c.logger.Debug("ttl sweep removed entries", zap.Int("removed", removed))
	}
}
