package bootstrap

import (
	"rpa-orchestrator/services/agent"
	"rpa-orchestrator/services/audit"
	"rpa-orchestrator/services/process"
	"rpa-orchestrator/services/schedule"
	"rpa-orchestrator/services/tenant"
	"rpa-orchestrator/services/workload"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("bootstrap",
	fx.Invoke(Migrate),
)

// Migrate keeps the schema in step with the models on startup.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&tenant.Tenant{},
		&tenant.Credential{},
		&agent.Agent{},
		&process.Process{},
		&process.Version{},
		&workload.Item{},
		&schedule.Schedule{},
		&audit.ExecutionEvent{},
	)
	if err != nil {
		zap.L().Error("database migration failed", zap.Error(err))
		return err
	}
	zap.L().Info("database migration complete")
	return nil
}
