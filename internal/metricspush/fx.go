package metricspush

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/packhouse/packline/internal/config"
)

// Pushing more often than this hammers the collector without adding signal.
const minPushInterval = 10 * time.Second

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Invoke(run),
)

func run(lc fx.Lifecycle, cfg config.Config, pusher Pusher, log *zap.Logger) {
	if pusher == nil {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}

	interval := cfg.MetricsPush.Interval
	if interval < minPushInterval {
		interval = minPushInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("starting metrics push worker", zap.Duration("interval", interval))
			go func() {
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				if err := pusher.Push(ctx, prometheus.DefaultGatherer); err != nil {
					log.Warn("initial metrics push failed", zap.Error(err))
				}

				for {
					select {
					case <-ticker.C:
						if err := pusher.Push(ctx, prometheus.DefaultGatherer); err != nil {
							log.Warn("periodic metrics push failed", zap.Error(err))
						}
					case <-ctx.Done():
						log.Info("stopping metrics push worker")
						return
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
