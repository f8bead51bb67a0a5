package audit

import (
	"github.com/smallbiznis/packclaim/internal/audit/repository"
	"github.com/smallbiznis/packclaim/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
