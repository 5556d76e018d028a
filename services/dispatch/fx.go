package dispatch

import "go.uber.org/fx"

var Module = fx.Module("dispatch.service",
	fx.Provide(
		NewService,
		NewHandler,
	),
)
