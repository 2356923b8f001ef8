// Command api-server runs the storefront HTTP API.
package main

import (
	"context"

	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	storefront "github.com/xenking/storefront/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := storefront.LoadConfig()
		if err != nil {
			return err
		}
		lg.Info("Configuration loaded",
			zap.Bool("mobile_simulated", cfg.Mobile.Simulate),
			zap.Bool("events_enabled", len(cfg.Kafka.Brokers) > 0),
			zap.String("currency", cfg.Currency),
		)
		return storefront.Run(ctx, lg, m, cfg)
	})
}
