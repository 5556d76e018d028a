package main

import (
	asynqfx "rpa-orchestrator/pkg/asynq"
	"rpa-orchestrator/pkg/config"
	"rpa-orchestrator/pkg/db"
	"rpa-orchestrator/pkg/gen"
	"rpa-orchestrator/pkg/logger"
	redisfx "rpa-orchestrator/pkg/redis"
	"rpa-orchestrator/services/audit"

	"go.uber.org/fx"
)

// The worker drains the lifecycle event queues into the execution event
// trail, decoupled from the request path of the orchestrator.
func main() {
	fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redisfx.Module,
		gen.Module,
		asynqfx.Server,
		audit.WorkerModule,
	).Run()
}
