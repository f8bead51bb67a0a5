package claim

import "go.uber.org/fx"

var Module = fx.Module("claim.manager",
	fx.Provide(NewManager),
)
