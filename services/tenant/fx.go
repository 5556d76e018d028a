package tenant

import (
	"rpa-orchestrator/pkg/middleware"

	"go.uber.org/fx"
)

var Module = fx.Module("tenant.service",
	fx.Provide(
		NewService,
		NewHandler,
		func(s *Service) middleware.CredentialVerifier { return s },
	),
)
