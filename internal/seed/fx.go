package seed

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/packclaim/internal/clock"
	"github.com/smallbiznis/packclaim/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("seed",
	fx.Invoke(run),
)

func run(lc fx.Lifecycle, cfg config.Config, conn *gorm.DB, node *snowflake.Node, clk clock.Clock, log *zap.Logger) {
	if !cfg.SeedDemoPackages {
		return
	}
	log = log.Named("seed")
	if cfg.IsProduction() {
		log.Warn("SEED_DEMO_PACKAGES ignored in production")
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			created, err := EnsureDemoPackages(ctx, conn, node, clk)
			if err != nil {
				return err
			}
			log.Info("demo packages ready", zap.Int("created", created))
			return nil
		},
	})
}
