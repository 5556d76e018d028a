package schedule

import (
	"rpa-orchestrator/services/workload"

	"go.uber.org/fx"
)

var Module = fx.Module("schedule.service",
	fx.Provide(
		NewService,
		NewHandler,
		NewScheduler,
		func(s *workload.Service) Enqueuer { return s },
	),
	fx.Invoke(registerScheduler),
)
