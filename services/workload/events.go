package workload

import (
	"context"
	"encoding/json"
	"time"

	"rpa-orchestrator/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Event is the payload published for every lifecycle transition. A worker
// process consumes these into the execution event trail.
type Event struct {
	ItemID    string    `json:"item_id"`
	TenantID  string    `json:"tenant_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	ProcessID string    `json:"process_id,omitempty"`
	VersionID string    `json:"version_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher fans lifecycle transitions out through asynq. Publishing is
// best effort: a broker outage must never fail the state transition that
// already committed.
type Publisher struct {
	client *asynq.Client
}

func NewPublisher(client *asynq.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) publish(ctx context.Context, task string, ev Event, opts ...asynq.Option) {
	if p == nil || p.client == nil {
		return
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		zap.L().Error("failed to marshal workload event", zap.Error(err), zap.String("task", task))
		return
	}

	if _, err := p.client.EnqueueContext(ctx, asynq.NewTask(task, payload), opts...); err != nil {
		zap.L().Error("failed to publish workload event",
			zap.Error(err),
			zap.String("task", task),
			zap.String("item_id", ev.ItemID),
		)
	}
}

func (p *Publisher) Enqueued(ctx context.Context, ev Event) {
	p.publish(ctx, taskname.WorkloadEnqueued, ev)
}

func (p *Publisher) Claimed(ctx context.Context, ev Event) {
	p.publish(ctx, taskname.WorkloadClaimed, ev)
}

func (p *Publisher) Completed(ctx context.Context, ev Event) {
	p.publish(ctx, taskname.WorkloadCompleted, ev)
}

func (p *Publisher) Failed(ctx context.Context, ev Event) {
	p.publish(ctx, taskname.WorkloadFailed, ev, asynq.Queue("critical"))
}

func (p *Publisher) Reclaimed(ctx context.Context, ev Event) {
	p.publish(ctx, taskname.WorkloadReclaimed, ev, asynq.Queue("critical"))
}
