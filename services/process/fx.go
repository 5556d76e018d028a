package process

import "go.uber.org/fx"

var Module = fx.Module("process.service",
	fx.Provide(
		NewService,
		NewHandler,
	),
)
