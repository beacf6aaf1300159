// Package clusterhoardfx provides an fx module for a replicated cache
// client spanning several local engine nodes.
package clusterhoardfx

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hoardcache/hoard"
	"github.com/hoardcache/hoard/backend/localbackend"
	"github.com/hoardcache/hoard/internal/stats"
	"github.com/hoardcache/hoard/internal/stats/logger"
)

// Config holds configuration for the replicated cache client.
type Config struct {
	// NodeIDs identifies the cluster nodes. At least one is required.
	NodeIDs []string

	// Replication is the number of nodes holding a copy of each key.
	// Default is 1.
	Replication int

	// ReadConsistency and WriteConsistency name the consistency levels
	// ("one", "quorum", "all"). Empty means "one".
	ReadConsistency  string
	WriteConsistency string

	// EvictionPolicy names the per-node eviction policy
	// ("lru", "lfu", "fifo", "ttl"). Empty means lru.
	EvictionPolicy string

	// MaxEntriesPerNode bounds each node's engine.
	// Default is the engine default.
	MaxEntriesPerNode int
}

// Module provides a replicated cache client.
// Requires a Config and a *zap.Logger to be provided.
var Module = fx.Module("clusterhoard",
	fx.Provide(
		newStatsCollector,
		newClient,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("hoard.stats"))
}

// Params holds dependencies for creating the client.
type Params struct {
	fx.In

	Config    Config
	Logger    *zap.Logger
	Collector stats.Collector
	Lifecycle fx.Lifecycle
}

// Result holds the provided client.
type Result struct {
	fx.Out

	Client *hoard.Client
}

func newClient(p Params) (Result, error) {
	nodes := make([]hoard.Node, 0, len(p.Config.NodeIDs))
	for _, id := range p.Config.NodeIDs {
		var bopts []localbackend.Option
		if p.Config.EvictionPolicy != "" {
			bopts = append(bopts, localbackend.WithPolicy(p.Config.EvictionPolicy))
		}
		if p.Config.MaxEntriesPerNode > 0 {
			bopts = append(bopts, localbackend.WithMaxSize(p.Config.MaxEntriesPerNode))
		}
		bopts = append(bopts,
			localbackend.WithLogger(p.Logger.Named("hoard.local")),
			localbackend.WithStats(p.Collector),
		)

		b, err := localbackend.New(bopts...)
		if err != nil {
			return Result{}, fmt.Errorf("creating node %s: %w", id, err)
		}
		nodes = append(nodes, hoard.Node{ID: id, Backend: b})
	}

	opts := []hoard.Option{
		hoard.WithNodes(nodes...),
		hoard.WithStats(p.Collector),
		hoard.WithLogger(p.Logger.Named("hoard")),
	}
	if p.Config.Replication > 0 {
		opts = append(opts, hoard.WithReplication(p.Config.Replication))
	}
	if p.Config.ReadConsistency != "" {
		level, err := hoard.ParseConsistency(p.Config.ReadConsistency)
		if err != nil {
			return Result{}, err
		}
		opts = append(opts, hoard.WithReadConsistency(level))
	}
	if p.Config.WriteConsistency != "" {
		level, err := hoard.ParseConsistency(p.Config.WriteConsistency)
		if err != nil {
			return Result{}, err
		}
		opts = append(opts, hoard.WithWriteConsistency(level))
	}

	client, err := hoard.New(opts...)
	if err != nil {
		return Result{}, err
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Connect(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return Result{Client: client}, nil
}
