// Package localhoardfx provides an fx module for a single-node cache
// client backed by the in-process eviction engine.
// Useful for testing.
package localhoardfx

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/hoardcache/hoard"
	"github.com/hoardcache/hoard/backend/localbackend"
	"github.com/hoardcache/hoard/internal/stats"
	"github.com/hoardcache/hoard/internal/stats/logger"
)

// Module provides a single-node in-process cache client.
// Requires a *zap.Logger to be provided.
var Module = fx.Module("localhoard",
	fx.Provide(
		newStatsCollector,
		newBackend,
		newClient,
	),
)

func newStatsCollector(log *zap.Logger) stats.Collector {
	return logger.New(log.Named("hoard.stats"))
}

func newBackend(log *zap.Logger, coll stats.Collector) (*localbackend.Backend, error) {
	return localbackend.New(
		localbackend.WithLogger(log.Named("hoard.local")),
		localbackend.WithStats(coll),
	)
}

// Params holds dependencies for creating the client.
type Params struct {
	fx.In

	Logger    *zap.Logger
	Collector stats.Collector
	Backend   *localbackend.Backend
	Lifecycle fx.Lifecycle
}

// Result holds the provided client and backend.
type Result struct {
	fx.Out

	Client  *hoard.Client
	Backend *localbackend.Backend // Exposed for test setup
}

func newClient(p Params) (Result, error) {
	client, err := hoard.New(
		hoard.WithNodes(hoard.Node{ID: "local", Backend: p.Backend}),
		hoard.WithStats(p.Collector),
		hoard.WithLogger(p.Logger.Named("hoard")),
	)
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

	return Result{
		Client:  client,
		Backend: p.Backend,
	}, nil
}
