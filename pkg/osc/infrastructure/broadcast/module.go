package broadcast

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	"github.com/tigerroll/mysqler/pkg/osc/core/metrics"
)

// NewBroadcasterProvider builds the local hub and, when enabled, wraps it with the Redis relay.
func NewBroadcasterProvider(lc fx.Lifecycle, cfg *config.Config, recorder metrics.MetricRecorder) port.Broadcaster {
	bcfg := &cfg.Mysqler.Broadcast
	local := NewBroadcaster(bcfg, cfg.Mysqler.System.NodeID, recorder)
	if !bcfg.Redis.Enabled {
		return local
	}

	client := NewRedisClient(bcfg.Redis)
	relay := NewRedisRelay(local, client, bcfg.Redis.Channel, bcfg.BufferSize)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return relay.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			err := relay.Stop()
			if cerr := client.Close(); err == nil {
				err = cerr
			}
			return err
		},
	})
	return relay
}

// Module provides port.Broadcaster.
var Module = fx.Options(
	fx.Provide(NewBroadcasterProvider),
)
