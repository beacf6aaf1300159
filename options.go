package hoard

import (
	"time"

	"go.uber.org/zap"

	"github.com/hoardcache/hoard/backend"
	"github.com/hoardcache/hoard/internal/ring"
	"github.com/hoardcache/hoard/internal/ring/hasher"
	"github.com/hoardcache/hoard/internal/stats"
)

// Node is one physical cache node behind the coordinator.
type Node struct {
	// ID is the node's identity on the ring (host:port or a logical id).
	ID string

	// Weight scales the node's share of the ring. Values below 1 are
	// treated as 1.
	Weight int

	// Backend is the node's storage unit.
	Backend backend.Backend
}

// Option configures a Client.
type Option interface {
	apply(*options)
}

// options holds the client configuration.
type options struct {
	nodes            []Node
	replication      int
	readConsistency  Consistency
	writeConsistency Consistency
	readRepair       bool
	failureThreshold int
	healthInterval   time.Duration
	opTimeout        time.Duration
	virtualNodes     int
	hash             hasher.Hasher
	stats            stats.Collector
	logger           *zap.Logger
}

// defaultOptions returns the default configuration.
func defaultOptions() options {
	return options{
		replication:      1,
		readConsistency:  One,
		writeConsistency: One,
		readRepair:       true,
		failureThreshold: 3,
		healthInterval:   15 * time.Second,
		opTimeout:        5 * time.Second,
		virtualNodes:     ring.DefaultVirtualNodes,
		hash:             hasher.Default(),
		stats:            stats.NewNoop(),
		logger:           zap.NewNop(),
	}
}

// optionFunc wraps a function to implement Option.
type optionFunc func(*options)

// Compile-time check that optionFunc implements Option.
var _ Option = optionFunc(nil)

func (f optionFunc) apply(o *options) { f(o) }

// WithNodes sets the cache nodes.
func WithNodes(nodes ...Node) Option {
	return optionFunc(func(o *options) {
		o.nodes = append(o.nodes, nodes...)
	})
}

// WithReplication sets the replication factor: the number of distinct
// physical nodes holding a copy of each key. Default is 1.
func WithReplication(r int) Option {
	return optionFunc(func(o *options) {
		o.replication = r
	})
}

// WithReadConsistency sets the read consistency level. Default is One.
func WithReadConsistency(c Consistency) Option {
	return optionFunc(func(o *options) {
		o.readConsistency = c
	})
}

// WithWriteConsistency sets the write consistency level. Default is One.
func WithWriteConsistency(c Consistency) Option {
	return optionFunc(func(o *options) {
		o.writeConsistency = c
	})
}

// WithReadRepair enables or disables read repair. Default is enabled.
func WithReadRepair(enabled bool) Option {
	return optionFunc(func(o *options) {
		o.readRepair = enabled
	})
}

// WithFailureThreshold sets how many consecutive failures quarantine a
// node. Default is 3.
func WithFailureThreshold(n int) Option {
	return optionFunc(func(o *options) {
		o.failureThreshold = n
	})
}

// WithHealthCheckInterval sets the period of the quarantine recovery
// probe. Default is 15s.
func WithHealthCheckInterval(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.healthInterval = d
	})
}

// WithOperationTimeout sets the independent timeout applied to every
// per-node backend call. Default is 5s.
func WithOperationTimeout(d time.Duration) Option {
	return optionFunc(func(o *options) {
		o.opTimeout = d
	})
}

// WithVirtualNodes sets the ring positions per unit of node weight.
// Default is ring.DefaultVirtualNodes.
func WithVirtualNodes(n int) Option {
	return optionFunc(func(o *options) {
		o.virtualNodes = n
	})
}

// WithHashAlgorithm selects the ring hash function by name
// ("xxhash", "fnv1a", "sha256"). Unknown names fail at construction.
func WithHashAlgorithm(name string) (Option, error) {
	h, err := hasher.New(name)
	if err != nil {
		return nil, err
	}
	return optionFunc(func(o *options) {
		o.hash = h
	}), nil
}

// WithStats sets the stats collector.
// If not set, a no-op collector is used.
func WithStats(c stats.Collector) Option {
	return optionFunc(func(o *options) {
		o.stats = c
	})
}

// WithLogger sets the logger.
// If not set, a no-op logger is used.
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(o *options) {
		o.logger = l
	})
}
