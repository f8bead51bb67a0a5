package events

import (
	"context"
	"strings"

	"github.com/smallbiznis/packclaim/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(New),
)

// New connects to RabbitMQ when configured and falls back to a no-op publisher
// when the URL is empty or the broker is unreachable at startup.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Publisher {
	log = log.Named("events")

	var publisher Publisher
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		log.Info("RABBITMQ_URL not set, package events disabled")
		publisher = NewNoopPublisher(log)
	} else if p, err := NewAMQPPublisher(cfg.RabbitMQURL, cfg.PackageEventsExchange, log); err != nil {
		log.Warn("rabbitmq unavailable, package events disabled", zap.Error(err))
		publisher = NewNoopPublisher(log)
	} else {
		log.Info("publishing package events", zap.String("exchange", cfg.PackageEventsExchange))
		publisher = p
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			publisher.Close()
			return nil
		},
	})
	return publisher
}
