package checkout

import (
	checkoutdomain "github.com/smallbiznis/packclaim/internal/checkout/domain"
	"github.com/smallbiznis/packclaim/internal/checkout/service"
	"github.com/smallbiznis/packclaim/internal/checkout/stripe"
	"github.com/smallbiznis/packclaim/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("checkout.service",
	fx.Provide(provideProcessor),
	fx.Provide(service.NewService),
)

func provideProcessor(cfg config.Config, log *zap.Logger) checkoutdomain.Processor {
	return stripe.NewClient(cfg.Stripe, log)
}
