package agent

import "go.uber.org/fx"

var Module = fx.Module("agent.service",
	fx.Provide(
		NewService,
		NewHandler,
	),
)
