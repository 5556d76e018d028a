package audit

import (
	"context"
	"encoding/json"
	"time"

	"rpa-orchestrator/pkg/taskname"
	"rpa-orchestrator/services/workload"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// eventTypes maps task names to the event type stored on the trail.
var eventTypes = map[string]string{
	taskname.WorkloadEnqueued:  "enqueued",
	taskname.WorkloadClaimed:   "claimed",
	taskname.WorkloadCompleted: "completed",
	taskname.WorkloadFailed:    "failed",
	taskname.WorkloadReclaimed: "reclaimed",
}

// RegisterHandlers wires the lifecycle event consumers onto the worker mux.
func RegisterHandlers(mux *asynq.ServeMux, svc *Service) {
	for task := range eventTypes {
		mux.HandleFunc(task, handleWorkloadEvent(svc))
	}
	mux.HandleFunc(taskname.ScheduleFired, handleScheduleFired(svc))
}

func handleWorkloadEvent(svc *Service) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var ev workload.Event
		if err := json.Unmarshal(task.Payload(), &ev); err != nil {
			zap.L().Error("malformed workload event", zap.Error(err), zap.String("task", task.Type()))
			return nil
		}

		return svc.Record(ctx, ExecutionEvent{
			TenantID:  ev.TenantID,
			ItemID:    ev.ItemID,
			AgentID:   ev.AgentID,
			ProcessID: ev.ProcessID,
			VersionID: ev.VersionID,
			Type:      eventTypes[task.Type()],
			Detail:    ev.Detail,
			At:        ev.At,
		})
	}
}

type scheduleFiredPayload struct {
	ScheduleID string    `json:"schedule_id"`
	TenantID   string    `json:"tenant_id"`
	ItemID     string    `json:"item_id"`
	Tick       time.Time `json:"tick"`
}

func handleScheduleFired(svc *Service) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var ev scheduleFiredPayload
		if err := json.Unmarshal(task.Payload(), &ev); err != nil {
			zap.L().Error("malformed schedule event", zap.Error(err))
			return nil
		}

		return svc.Record(ctx, ExecutionEvent{
			TenantID: ev.TenantID,
			ItemID:   ev.ItemID,
			Type:     "schedule_fired",
			Detail:   ev.ScheduleID,
			At:       ev.Tick,
		})
	}
}
