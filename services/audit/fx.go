package audit

import (
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("audit.service",
	fx.Provide(
		NewService,
		NewHandler,
	),
)

// WorkerModule mounts the event consumers. Only the worker binary loads it,
// so it migrates its own table in case it starts before the orchestrator.
var WorkerModule = fx.Module("audit.worker",
	fx.Provide(NewService),
	fx.Invoke(func(db *gorm.DB) error {
		return db.AutoMigrate(&ExecutionEvent{})
	}),
	fx.Invoke(RegisterHandlers),
)
