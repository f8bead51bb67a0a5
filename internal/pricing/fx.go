package pricing

import "go.uber.org/fx"

var Module = fx.Module("pricing.policy",
	fx.Provide(NewPolicy),
)
