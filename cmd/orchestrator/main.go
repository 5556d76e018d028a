package main

import (
	asynqfx "rpa-orchestrator/pkg/asynq"
	"rpa-orchestrator/pkg/config"
	"rpa-orchestrator/pkg/db"
	"rpa-orchestrator/pkg/gen"
	"rpa-orchestrator/pkg/health"
	"rpa-orchestrator/pkg/logger"
	miniofx "rpa-orchestrator/pkg/minio"
	"rpa-orchestrator/pkg/profiling"
	redisfx "rpa-orchestrator/pkg/redis"
	"rpa-orchestrator/pkg/sequence"
	"rpa-orchestrator/pkg/server"
	"rpa-orchestrator/services/agent"
	"rpa-orchestrator/services/audit"
	"rpa-orchestrator/services/bootstrap"
	"rpa-orchestrator/services/dispatch"
	"rpa-orchestrator/services/process"
	"rpa-orchestrator/services/schedule"
	"rpa-orchestrator/services/tenant"
	"rpa-orchestrator/services/workload"

	"go.uber.org/fx"
)

func main() {
	fx.New(
		config.Module,
		logger.Module,
		profiling.Module,
		db.Module,
		redisfx.Module,
		gen.Module,
		sequence.Module,
		asynqfx.Client,
		miniofx.Client,
		health.Module,

		tenant.Module,
		agent.Module,
		process.Module,
		workload.Module,
		dispatch.Module,
		schedule.Module,
		audit.Module,

		bootstrap.Module,
		bootstrap.Router,
		server.Module,
	).Run()
}
