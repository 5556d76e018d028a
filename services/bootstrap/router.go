package bootstrap

import (
	"rpa-orchestrator/pkg/health"
	"rpa-orchestrator/pkg/middleware"
	"rpa-orchestrator/services/agent"
	"rpa-orchestrator/services/audit"
	"rpa-orchestrator/services/dispatch"
	"rpa-orchestrator/services/process"
	"rpa-orchestrator/services/schedule"
	"rpa-orchestrator/services/tenant"
	"rpa-orchestrator/services/workload"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Router = fx.Module("router",
	fx.Invoke(RegisterRoutes),
)

type RouterParams struct {
	fx.In

	Engine   *gin.Engine
	Health   health.HealthService
	Verifier middleware.CredentialVerifier

	Tenants   *tenant.Handler
	Agents    *agent.Handler
	Processes *process.Handler
	Workload  *workload.Handler
	Dispatch  *dispatch.Handler
	Schedules *schedule.Handler
	Audit     *audit.Handler
}

// RegisterRoutes mounts every HTTP surface: probes and metrics stay open,
// tenant bootstrap is open, everything else sits behind credential auth.
func RegisterRoutes(p RouterParams) {
	p.Engine.GET("/healthz", p.Health.Liveness)
	p.Engine.GET("/readyz", p.Health.Readiness)
	p.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	public := p.Engine.Group("/api/v1")
	p.Tenants.RegisterPublic(public)

	api := p.Engine.Group("/api/v1")
	api.Use(middleware.TenantAuth(p.Verifier))

	p.Tenants.Register(api)
	p.Agents.Register(api)
	p.Processes.Register(api)
	p.Workload.Register(api)
	p.Dispatch.Register(api)
	p.Schedules.Register(api)
	p.Audit.Register(api)
}
