// Package hoard provides a pluggable cache layer: a bounded local
// eviction engine and a distributed coordinator that shards and
// replicates entries across backing nodes using consistent hashing.
//
// Example usage:
//
//	a, _ := localbackend.New()
//	b, _ := localbackend.New()
//	client, err := hoard.New(
//	    hoard.WithNodes(
//	        hoard.Node{ID: "node-a:7000", Backend: a},
//	        hoard.Node{ID: "node-b:7000", Backend: b},
//	    ),
//	    hoard.WithReplication(2),
//	    hoard.WithWriteConsistency(hoard.Quorum),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.Set(ctx, "user:1", []byte("alice"), time.Minute)
//	value, err := client.Get(ctx, "user:1")
package hoard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hoardcache/hoard/backend"
	"github.com/hoardcache/hoard/internal/ring"
	"github.com/hoardcache/hoard/internal/stats"
)

// Sentinel errors for well-defined error conditions.
var (
	// ErrNotFound indicates the key is absent on every reachable replica.
	ErrNotFound = errors.New("hoard: key not found")

	// ErrClosed indicates the client has been closed.
	ErrClosed = errors.New("hoard: client closed")

	// ErrNoNodes indicates no non-quarantined node is available for the key.
	ErrNoNodes = errors.New("hoard: no nodes available")

	// ErrConsistencyNotMet indicates fewer replicas succeeded than the
	// configured consistency level requires. Writes that did land are
	// not rolled back.
	ErrConsistencyNotMet = errors.New("hoard: consistency level not met")
)

// Stats is a snapshot of coordinator statistics.
type Stats struct {
	Hits         int64
	Misses       int64
	Sets         int64
	NodeFailures int64
	Quarantined  []string
}

// Client is the distributed cache coordinator. It routes every operation
// through the consistent hash ring to the replicas owning the key and
// aggregates their answers per the configured consistency levels.
// A Client is safe for concurrent use by multiple goroutines.
type Client struct {
	nodes            map[string]Node
	ring             *ring.Ring
	replication      int
	readConsistency  Consistency
	writeConsistency Consistency
	readRepair       bool
	failureThreshold int
	healthInterval   time.Duration
	opTimeout        time.Duration
	collector        stats.Collector
	logger           *zap.Logger

	// mu serializes failure accounting, quarantine transitions, health
	// recovery and the closed flag against each other. Ring lookups take
	// the ring's own read lock and proceed concurrently.
	mu          sync.Mutex
	failures    map[string]int
	quarantined map[string]bool
	closed      bool

	sf singleflight.Group

	hits         atomic.Int64
	misses       atomic.Int64
	sets         atomic.Int64
	nodeFailures atomic.Int64

	connected atomic.Bool
	done      chan struct{}
	loopWG    sync.WaitGroup
	inflight  sync.WaitGroup
}

// begin registers an in-flight operation so Close can wait for it to
// finish before disconnecting backends. The returned release function
// must be called when the operation completes.
func (c *Client) begin() (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	c.inflight.Add(1)
	return c.inflight.Done, nil
}

// New creates a new Client with the given options.
// Configuration errors are raised here, not at operation time.
func New(opts ...Option) (*Client, error) {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt.apply(&cfg)
	}

	if len(cfg.nodes) == 0 {
		return nil, errors.New("hoard: at least one node is required")
	}
	if cfg.replication < 1 {
		return nil, fmt.Errorf("hoard: replication factor %d must be positive", cfg.replication)
	}
	if cfg.replication > len(cfg.nodes) {
		return nil, fmt.Errorf("hoard: replication factor %d exceeds node count %d",
			cfg.replication, len(cfg.nodes))
	}
	if cfg.failureThreshold < 1 {
		return nil, fmt.Errorf("hoard: failure threshold %d must be positive", cfg.failureThreshold)
	}

	nodes := make(map[string]Node, len(cfg.nodes))
	for _, n := range cfg.nodes {
		if n.ID == "" {
			return nil, errors.New("hoard: node id must not be empty")
		}
		if n.Backend == nil {
			return nil, fmt.Errorf("hoard: node %q has no backend", n.ID)
		}
		if _, dup := nodes[n.ID]; dup {
			return nil, fmt.Errorf("hoard: duplicate node id %q", n.ID)
		}
		nodes[n.ID] = n
	}

	c := &Client{
		nodes:            nodes,
		ring:             ring.New(cfg.hash, cfg.virtualNodes),
		replication:      cfg.replication,
		readConsistency:  cfg.readConsistency,
		writeConsistency: cfg.writeConsistency,
		readRepair:       cfg.readRepair,
		failureThreshold: cfg.failureThreshold,
		healthInterval:   cfg.healthInterval,
		opTimeout:        cfg.opTimeout,
		collector:        cfg.stats,
		logger:           cfg.logger,
		failures:         make(map[string]int),
		quarantined:      make(map[string]bool),
		done:             make(chan struct{}),
	}

	c.logger.Debug("client initialized",
		zap.Int("nodes", len(nodes)),
		zap.Int("replication", cfg.replication),
		zap.Stringer("readConsistency", cfg.readConsistency),
		zap.Stringer("writeConsistency", cfg.writeConsistency),
	)

	return c, nil
}

// Connect establishes every node's backend connection and starts the
// health recovery loop. A node whose connection fails is quarantined
// immediately instead of joining the ring; the health loop retries it.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !c.connected.CompareAndSwap(false, true) {
		return nil
	}

	for id, n := range c.nodes {
		if err := n.Backend.Connect(ctx); err != nil {
			c.mu.Lock()
			c.failures[id] = c.failureThreshold
			c.quarantined[id] = true
			c.mu.Unlock()
			c.logger.Warn("node connect failed, quarantined",
				zap.String("node", id),
				zap.Error(err),
			)
			continue
		}
		c.ring.AddNode(ring.Node{ID: id, Weight: n.Weight})
	}
	c.publishQuarantineGauge()

	c.loopWG.Add(1)
	go c.healthLoop()

	return nil
}

// Close stops the health loop, waits for in-flight operations
// (including background read repairs and write stragglers) to finish,
// and disconnects all backends. After Close, the client should not be
// used.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.loopWG.Wait()
	c.inflight.Wait()

	var err error
	for id, n := range c.nodes {
		if derr := n.Backend.Disconnect(); derr != nil {
			err = multierr.Append(err, fmt.Errorf("disconnecting node %s: %w", id, derr))
		}
	}
	return err
}

// Get returns the value for key from the first replica holding it.
// Concurrent gets for the same key are coalesced into one lookup.
func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	done, err := c.begin()
	if err != nil {
		return nil, err
	}
	defer done()
	c.collector.IncCounter(stats.MetricGets, 1)

	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		return c.doGet(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (c *Client) doGet(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() {
		c.collector.ObserveHistogram(stats.MetricOpDuration, time.Since(start).Seconds())
	}()

	candidates := c.ring.GetN(key, c.readConsistency.replicas(c.replication))
	if len(candidates) == 0 {
		return nil, ErrNoNodes
	}
	required := c.readConsistency.required(len(candidates))

	var (
		value   []byte
		found   bool
		foundOn string
		absent  []string // nodes that answered but had no value
	)
	answered := 0

	// Probe candidates in ring order. The value comes from the first
	// replica holding it, but the read only counts as consistent once
	// the required number of replicas have answered at all.
	for _, cand := range candidates {
		if found && answered >= required {
			break
		}
		v, err := c.nodeGet(ctx, cand.ID, key)
		switch {
		case err == nil:
			answered++
			c.recordSuccess(cand.ID)
			if !found {
				value, found, foundOn = v, true, cand.ID
			}
		case errors.Is(err, backend.ErrNotFound):
			answered++
			c.recordSuccess(cand.ID)
			absent = append(absent, cand.ID)
		default:
			c.recordFailure(cand.ID, err)
		}
	}

	if answered == 0 {
		return nil, fmt.Errorf("get %q: %w", key, ErrNoNodes)
	}
	if answered < required {
		return nil, fmt.Errorf("get %q: %d/%d replicas answered: %w",
			key, answered, required, ErrConsistencyNotMet)
	}
	if found {
		c.hits.Add(1)
		c.collector.IncCounter(stats.MetricHits, 1)
		if c.readRepair && len(absent) > 0 {
			// The caller's in-flight slot is still held here, so the
			// Add cannot race a Close that already started waiting.
			c.inflight.Add(1)
			go func() {
				defer c.inflight.Done()
				c.repair(key, value, foundOn, absent)
			}()
		}
		return value, nil
	}
	c.misses.Add(1)
	c.collector.IncCounter(stats.MetricMisses, 1)
	return nil, ErrNotFound
}

// Set stores value on up to the configured replication factor of nodes.
// It returns once the write consistency level is satisfied; slower
// replicas finish in the background. A ttl of zero means no expiry.
func (c *Client) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	done, err := c.begin()
	if err != nil {
		return err
	}
	defer done()
	if ttl < 0 {
		return backend.ErrInvalidTTL
	}
	c.sets.Add(1)
	c.collector.IncCounter(stats.MetricSets, 1)

	return c.fanOutWrite(ctx, c.writeConsistency, func(ctx context.Context, id string) error {
		return c.nodes[id].Backend.Set(ctx, key, value, ttl)
	}, key, "set")
}

// Delete removes key from all its replicas, best effort: individual
// replica failures are logged and counted but not surfaced, since a
// stale copy is removed again by eviction or TTL eventually.
func (c *Client) Delete(ctx context.Context, key string) error {
	done, err := c.begin()
	if err != nil {
		return err
	}
	defer done()

	targets := c.ring.GetN(key, c.replication)
	if len(targets) == 0 {
		return ErrNoNodes
	}

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
			defer cancel()
			if err := c.nodes[id].Backend.Delete(opCtx, key); err != nil {
				c.recordFailure(id, err)
				c.logger.Warn("delete failed on replica",
					zap.String("node", id),
					zap.String("key", key),
					zap.Error(err),
				)
				return
			}
			c.recordSuccess(id)
		}(t.ID)
	}
	wg.Wait()
	return nil
}

// Exists reports whether any reachable replica holds a live value for key.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	done, err := c.begin()
	if err != nil {
		return false, err
	}
	defer done()

	candidates := c.ring.GetN(key, c.readConsistency.replicas(c.replication))
	if len(candidates) == 0 {
		return false, ErrNoNodes
	}

	answered := 0
	for _, cand := range candidates {
		opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		ok, err := c.nodes[cand.ID].Backend.Exists(opCtx, key)
		cancel()
		if err != nil {
			c.recordFailure(cand.ID, err)
			continue
		}
		c.recordSuccess(cand.ID)
		answered++
		if ok {
			return true, nil
		}
	}
	if answered == 0 {
		return false, fmt.Errorf("exists %q: %w", key, ErrNoNodes)
	}
	return false, nil
}

// Expire rewrites the expiry of key on its replicas, subject to the
// write consistency level. A ttl of zero clears the expiry.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	done, err := c.begin()
	if err != nil {
		return err
	}
	defer done()
	if ttl < 0 {
		return backend.ErrInvalidTTL
	}

	return c.fanOutWrite(ctx, c.writeConsistency, func(ctx context.Context, id string) error {
		return c.nodes[id].Backend.Expire(ctx, key, ttl)
	}, key, "expire")
}

// TTL returns the remaining time to live for key from the first replica
// that answers, or backend.NoTTL when the key is absent or has no expiry.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	done, err := c.begin()
	if err != nil {
		return 0, err
	}
	defer done()

	candidates := c.ring.GetN(key, c.readConsistency.replicas(c.replication))
	if len(candidates) == 0 {
		return 0, ErrNoNodes
	}

	for _, cand := range candidates {
		opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
		ttl, err := c.nodes[cand.ID].Backend.TTL(opCtx, key)
		cancel()
		if err != nil {
			c.recordFailure(cand.ID, err)
			continue
		}
		c.recordSuccess(cand.ID)
		return ttl, nil
	}
	return 0, fmt.Errorf("ttl %q: %w", key, ErrNoNodes)
}

// Clear removes all entries from every ring-resident node, best effort.
func (c *Client) Clear(ctx context.Context) error {
	done, err := c.begin()
	if err != nil {
		return err
	}
	defer done()

	nodes := c.ring.Nodes()
	if len(nodes) == 0 {
		return ErrNoNodes
	}

	var wg sync.WaitGroup
	for _, n := range nodes {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
			defer cancel()
			if err := c.nodes[id].Backend.Clear(opCtx); err != nil {
				c.recordFailure(id, err)
				c.logger.Warn("clear failed on node",
					zap.String("node", id),
					zap.Error(err),
				)
				return
			}
			c.recordSuccess(id)
		}(n.ID)
	}
	wg.Wait()
	return nil
}

// Stats returns a snapshot of coordinator statistics.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	quarantined := make([]string, 0, len(c.quarantined))
	for id := range c.quarantined {
		quarantined = append(quarantined, id)
	}
	c.mu.Unlock()

	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Sets:         c.sets.Load(),
		NodeFailures: c.nodeFailures.Load(),
		Quarantined:  quarantined,
	}
}

// Nodes returns the IDs of nodes currently on the ring.
func (c *Client) Nodes() []string {
	nodes := c.ring.Nodes()
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// fanOutWrite issues op concurrently against the key's replicas and
// returns once the consistency level's required success count is met.
// Stragglers keep running in the background and still feed failure
// accounting through their own result handling.
func (c *Client) fanOutWrite(ctx context.Context, level Consistency, op func(context.Context, string) error, key, opName string) error {
	targets := c.ring.GetN(key, c.replication)
	if len(targets) == 0 {
		return ErrNoNodes
	}
	required := level.required(len(targets))

	results := make(chan error, len(targets))
	for _, t := range targets {
		// Stragglers may outlive the caller once the required count is
		// met; each holds an in-flight slot so Close waits for them.
		c.inflight.Add(1)
		go func(id string) {
			defer c.inflight.Done()
			opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
			defer cancel()
			err := op(opCtx, id)
			if err != nil {
				c.recordFailure(id, err)
			} else {
				c.recordSuccess(id)
			}
			results <- err
		}(t.ID)
	}

	successes, failures := 0, 0
	for i := 0; i < len(targets); i++ {
		if err := <-results; err != nil {
			failures++
			c.logger.Debug("replica write failed",
				zap.String("op", opName),
				zap.String("key", key),
				zap.Error(err),
			)
		} else {
			successes++
		}
		if successes >= required {
			return nil
		}
		if successes+(len(targets)-i-1) < required {
			// Remaining replicas cannot reach the required count.
			break
		}
	}
	return fmt.Errorf("%s %q: %d/%d replicas succeeded: %w",
		opName, key, successes, required, ErrConsistencyNotMet)
}

// nodeGet issues a single per-node get under its own timeout.
func (c *Client) nodeGet(ctx context.Context, id, key string) ([]byte, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()
	return c.nodes[id].Backend.Get(opCtx, key)
}

// repair propagates a value found on sourceID to replicas that reported
// it absent. Fire and forget: failures are logged at debug and dropped.
func (c *Client) repair(key string, value []byte, sourceID string, absent []string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	// Carry the source replica's remaining TTL so the repaired copies
	// expire in step with it.
	var ttl time.Duration
	if remaining, err := c.nodes[sourceID].Backend.TTL(ctx, key); err == nil && remaining > 0 {
		ttl = remaining
	}

	for _, id := range absent {
		if err := c.nodes[id].Backend.Set(ctx, key, value, ttl); err != nil {
			c.logger.Debug("read repair failed",
				zap.String("node", id),
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		c.collector.IncCounter(stats.MetricReadRepairs, 1)
		c.logger.Debug("read repair propagated value",
			zap.String("node", id),
			zap.String("key", key),
		)
	}
}

// recordFailure bumps the node's consecutive-failure count and
// quarantines it at the threshold, removing it from the ring so routing
// stops immediately rather than waiting for the next health cycle.
func (c *Client) recordFailure(id string, cause error) {
	c.nodeFailures.Add(1)
	c.collector.IncCounter(stats.MetricNodeFailures, 1)

	c.mu.Lock()
	c.failures[id]++
	count := c.failures[id]
	already := c.quarantined[id]
	if count >= c.failureThreshold && !already {
		c.quarantined[id] = true
	}
	c.mu.Unlock()

	if count >= c.failureThreshold && !already {
		c.ring.RemoveNode(id)
		c.publishQuarantineGauge()
		c.logger.Warn("node quarantined",
			zap.String("node", id),
			zap.Int("consecutiveFailures", count),
			zap.Error(cause),
		)
	}
}

// recordSuccess resets the node's consecutive-failure count.
func (c *Client) recordSuccess(id string) {
	c.mu.Lock()
	if c.failures[id] != 0 && !c.quarantined[id] {
		c.failures[id] = 0
	}
	c.mu.Unlock()
}

// healthLoop probes quarantined nodes on a fixed interval and restores
// the ones whose backends answer again.
func (c *Client) healthLoop() {
	defer c.loopWG.Done()

	ticker := time.NewTicker(c.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.probeQuarantined()
		}
	}
}

func (c *Client) probeQuarantined() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.quarantined))
	for id := range c.quarantined {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
		err := c.nodes[id].Backend.Connect(ctx)
		cancel()
		if err != nil {
			c.logger.Debug("health probe failed",
				zap.String("node", id),
				zap.Error(err),
			)
			continue
		}

		c.mu.Lock()
		delete(c.quarantined, id)
		c.failures[id] = 0
		c.mu.Unlock()

		n := c.nodes[id]
		c.ring.AddNode(ring.Node{ID: id, Weight: n.Weight})
		c.publishQuarantineGauge()
		c.logger.Info("node recovered from quarantine", zap.String("node", id))
	}
}

func (c *Client) publishQuarantineGauge() {
	c.mu.Lock()
	n := len(c.quarantined)
	c.mu.Unlock()
	c.collector.SetGauge(stats.MetricQuarantined, int64(n))
}
