package schedule

import (
	"context"
	"encoding/json"
	"time"

	"rpa-orchestrator/pkg/db/option"
	"rpa-orchestrator/pkg/db/pagination"
	"rpa-orchestrator/pkg/errutil"
	"rpa-orchestrator/pkg/repository"
	"rpa-orchestrator/pkg/taskname"
	"rpa-orchestrator/services/workload"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Enqueuer is the slice of the workload queue a firing schedule needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, tenantID string, in workload.EnqueueInput) (*workload.Item, error)
}

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	repo     repository.Repository[Schedule]
	enqueuer Enqueuer
	events   *asynq.Client

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Enqueuer Enqueuer
	Events   *asynq.Client `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		repo:     repository.ProvideStore[Schedule](p.DB),
		enqueuer: p.Enqueuer,
		events:   p.Events,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateInput struct {
	Name      string `json:"name" binding:"required"`
	CronExpr  string `json:"cron_expr" binding:"required"`
	ProcessID string `json:"process_id"`
	QueueName string `json:"queue_name"`
	IsActive  *bool  `json:"is_active"`
}

func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput) (*Schedule, error) {
	spec, err := cronParser.Parse(in.CronExpr)
	if err != nil {
		return nil, errutil.ValidationFailed("invalid cron expression: " + err.Error())
	}

	now := s.now()
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	sch := &Schedule{
		ID:        s.node.Generate().String(),
		TenantID:  tenantID,
		Name:      in.Name,
		CronExpr:  in.CronExpr,
		ProcessID: in.ProcessID,
		QueueName: in.QueueName,
		IsActive:  active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if active {
		next := spec.Next(now)
		sch.NextRun = &next
	}

	if err := s.repo.Create(ctx, sch); err != nil {
		return nil, errutil.Internal("failed to create schedule", errutil.WithErr(err))
	}

	zap.L().Info("schedule created",
		zap.String("tenant_id", tenantID),
		zap.String("schedule_id", sch.ID),
		zap.String("cron", sch.CronExpr),
	)
	return sch, nil
}

func (s *Service) List(ctx context.Context, tenantID string, p pagination.Pagination) (*pagination.Page[*Schedule], error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Schedule{}).
		Where("tenant_id = ?", tenantID).Count(&total).Error; err != nil {
		return nil, errutil.Internal("failed to list schedules", errutil.WithErr(err))
	}

	items, err := s.repo.Find(ctx, &Schedule{TenantID: tenantID},
		option.WithOrder("created_at DESC"),
		option.ApplyPagination(p),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list schedules", errutil.WithErr(err))
	}
	return pagination.NewPage(items, total, p), nil
}

func (s *Service) Get(ctx context.Context, tenantID, scheduleID string) (*Schedule, error) {
	return s.find(ctx, tenantID, scheduleID)
}

type UpdateInput struct {
	Name      *string `json:"name"`
	CronExpr  *string `json:"cron_expr"`
	ProcessID *string `json:"process_id"`
	QueueName *string `json:"queue_name"`
	IsActive  *bool   `json:"is_active"`
}

func (s *Service) Update(ctx context.Context, tenantID, scheduleID string, in UpdateInput) (*Schedule, error) {
	sch, err := s.find(ctx, tenantID, scheduleID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	updates := map[string]any{"updated_at": now}

	cronExpr := sch.CronExpr
	if in.CronExpr != nil {
		if _, err := cronParser.Parse(*in.CronExpr); err != nil {
			return nil, errutil.ValidationFailed("invalid cron expression: " + err.Error())
		}
		cronExpr = *in.CronExpr
		updates["cron_expr"] = cronExpr
	}
	if in.Name != nil {
		updates["name"] = *in.Name
	}
	if in.ProcessID != nil {
		updates["process_id"] = *in.ProcessID
	}
	if in.QueueName != nil {
		updates["queue_name"] = *in.QueueName
	}

	active := sch.IsActive
	if in.IsActive != nil {
		active = *in.IsActive
		updates["is_active"] = active
	}

	// Recompute the next tick whenever cadence or activation changes.
	if in.CronExpr != nil || in.IsActive != nil {
		if active {
			spec, _ := cronParser.Parse(cronExpr)
			next := spec.Next(now)
			updates["next_run"] = &next
		} else {
			updates["next_run"] = nil
		}
	}

	if err := s.repo.Update(ctx, sch.ID, updates); err != nil {
		return nil, errutil.Internal("failed to update schedule", errutil.WithErr(err))
	}
	return s.find(ctx, tenantID, scheduleID)
}

func (s *Service) Delete(ctx context.Context, tenantID, scheduleID string) error {
	res := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, scheduleID).
		Delete(&Schedule{})
	if res.Error != nil {
		return errutil.Internal("failed to delete schedule", errutil.WithErr(res.Error))
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("schedule not found")
	}
	return nil
}

// Evaluate fires every due schedule once. last_fired_at advances under a
// conditional update before the enqueue happens, which makes re-evaluating
// the same tick a no-op and keeps a broken schedule from wedging the loop.
func (s *Service) Evaluate(ctx context.Context, now time.Time) ([]*workload.Item, error) {
	var due []*Schedule
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND next_run IS NOT NULL AND next_run <= ?", true, now).
		Find(&due).Error
	if err != nil {
		return nil, errutil.Internal("failed to scan due schedules", errutil.WithErr(err))
	}

	var fired []*workload.Item
	for _, sch := range due {
		item, err := s.fire(ctx, sch, now)
		if err != nil {
			zap.L().Error("schedule evaluation failed",
				zap.Error(err),
				zap.String("schedule_id", sch.ID),
			)
			continue
		}
		if item != nil {
			fired = append(fired, item)
		}
	}
	return fired, nil
}

func (s *Service) fire(ctx context.Context, sch *Schedule, now time.Time) (*workload.Item, error) {
	tick := *sch.NextRun
	if sch.LastFiredAt != nil && !sch.LastFiredAt.Before(tick) {
		return nil, nil
	}

	spec, err := cronParser.Parse(sch.CronExpr)
	if err != nil {
		return nil, err
	}
	// Next tick is computed from now, not from the missed tick, so downtime
	// never produces a burst of catch-up items.
	next := spec.Next(now)

	res := s.db.WithContext(ctx).Model(&Schedule{}).
		Where("id = ? AND (last_fired_at IS NULL OR last_fired_at < ?)", sch.ID, tick).
		Updates(map[string]any{
			"last_fired_at": tick,
			"next_run":      next,
			"updated_at":    now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Another evaluator won this tick.
		return nil, nil
	}

	item, err := s.enqueuer.Enqueue(ctx, sch.TenantID, workload.EnqueueInput{
		QueueName: sch.QueueName,
		ProcessID: sch.ProcessID,
		Payload: map[string]any{
			"schedule_id":   sch.ID,
			"schedule_name": sch.Name,
			"scheduled_for": tick.Format(time.RFC3339),
		},
	})
	if err != nil {
		// The tick is already consumed. Deliberate: a schedule pointed at a
		// broken process logs every interval instead of blocking the loop.
		return nil, err
	}

	s.publishFired(ctx, sch, item, tick)

	zap.L().Info("schedule fired",
		zap.String("schedule_id", sch.ID),
		zap.String("item_id", item.ID),
		zap.Time("tick", tick),
	)
	return item, nil
}

func (s *Service) publishFired(ctx context.Context, sch *Schedule, item *workload.Item, tick time.Time) {
	if s.events == nil {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"schedule_id": sch.ID,
		"tenant_id":   sch.TenantID,
		"item_id":     item.ID,
		"tick":        tick,
	})
	if err != nil {
		return
	}
	if _, err := s.events.EnqueueContext(ctx, asynq.NewTask(taskname.ScheduleFired, payload), asynq.Queue("low")); err != nil {
		zap.L().Error("failed to publish schedule event", zap.Error(err), zap.String("schedule_id", sch.ID))
	}
}

func (s *Service) find(ctx context.Context, tenantID, scheduleID string) (*Schedule, error) {
	sch, err := s.repo.FindOne(ctx, &Schedule{ID: scheduleID, TenantID: tenantID})
	if err != nil {
		return nil, errutil.Internal("failed to get schedule", errutil.WithErr(err))
	}
	if sch == nil {
		return nil, errutil.NotFound("schedule not found")
	}
	return sch, nil
}
