package payment

import (
	"github.com/smallbiznis/packclaim/internal/clock"
	"github.com/smallbiznis/packclaim/internal/config"
	"github.com/smallbiznis/packclaim/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/packclaim/internal/payment/domain"
	"github.com/smallbiznis/packclaim/internal/payment/repository"
	"github.com/smallbiznis/packclaim/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(cfg config.Config, clk clock.Clock) paymentdomain.Adapter {
		return stripe.NewAdapter(cfg.Stripe.WebhookSecret, cfg.Stripe.WebhookTolerance, clk)
	}),
	fx.Provide(service.NewService),
)
