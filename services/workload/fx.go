package workload

import (
	"rpa-orchestrator/services/agent"
	"rpa-orchestrator/services/process"

	"go.uber.org/fx"
)

var Module = fx.Module("workload.service",
	fx.Provide(
		NewService,
		NewHandler,
		NewPublisher,
		func(s *Service) agent.ClaimRegistry { return s },
		func(s *process.Service) ProcessGate { return s },
	),
)
