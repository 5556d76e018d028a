package workload

import (
	"context"
	"time"

	"rpa-orchestrator/pkg/config"
	"rpa-orchestrator/pkg/db/option"
	"rpa-orchestrator/pkg/db/pagination"
	"rpa-orchestrator/pkg/errutil"
	"rpa-orchestrator/pkg/repository"
	"rpa-orchestrator/pkg/sequence"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProcessGate validates that new workload may target a process. Implemented
// by the process catalog.
type ProcessGate interface {
	EnsureSchedulable(ctx context.Context, tenantID, processID string) error
}

type Service struct {
	db        *gorm.DB
	node      *snowflake.Node
	config    *config.Config
	repo      repository.Repository[Item]
	gate      ProcessGate
	sequence  sequence.Generator
	publisher *Publisher

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Config    *config.Config
	Gate      ProcessGate        `optional:"true"`
	Sequence  sequence.Generator `optional:"true"`
	Publisher *Publisher         `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		config:    p.Config,
		repo:      repository.ProvideStore[Item](p.DB),
		gate:      p.Gate,
		sequence:  p.Sequence,
		publisher: p.Publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) claimGrace() time.Duration {
	return s.config.Orchestrator.ClaimGrace
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

type EnqueueInput struct {
	QueueName string         `json:"queue_name"`
	Priority  Priority       `json:"priority"`
	Payload   map[string]any `json:"payload"`
	ProcessID string         `json:"process_id"`
	Reference string         `json:"reference"`
}

// Enqueue creates a pending item. Items always enter the queue pending;
// there is no way to create a pre-claimed or pre-completed item.
func (s *Service) Enqueue(ctx context.Context, tenantID string, in EnqueueInput) (*Item, error) {
	if in.Priority == "" {
		in.Priority = PriorityNormal
	}
	if err := in.Priority.Validate(); err != nil {
		return nil, err
	}

	queue := "default"
	if in.QueueName != "" {
		queue = slug.Make(in.QueueName)
	}

	if in.ProcessID != "" && s.gate != nil {
		if err := s.gate.EnsureSchedulable(ctx, tenantID, in.ProcessID); err != nil {
			return nil, err
		}
	}

	reference := in.Reference
	if reference == "" && s.sequence != nil {
		ref, err := s.sequence.NextItemReference(ctx, tenantID)
		if err != nil {
			zap.L().Warn("failed to generate item reference", zap.Error(err))
		} else {
			reference = ref
		}
	}

	now := s.now()
	item := &Item{
		ID:        s.node.Generate().String(),
		TenantID:  tenantID,
		QueueName: queue,
		Reference: reference,
		Priority:  in.Priority,
		Payload:   datatypes.JSONMap(in.Payload),
		ProcessID: in.ProcessID,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, item); err != nil {
		return nil, errutil.Internal("failed to enqueue workload item", errutil.WithErr(err))
	}

	s.publisher.Enqueued(ctx, Event{
		ItemID:    item.ID,
		TenantID:  tenantID,
		ProcessID: item.ProcessID,
		At:        now,
	})

	zap.L().Info("workload item enqueued",
		zap.String("tenant_id", tenantID),
		zap.String("item_id", item.ID),
		zap.String("queue", queue),
		zap.String("priority", string(item.Priority)),
	)
	return item, nil
}

type ListFilter struct {
	Status    string
	Priority  Priority
	QueueName string
	ClaimedBy string
	ProcessID string
	pagination.Pagination
}

func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) (*pagination.Page[*Item], error) {
	tx := s.db.WithContext(ctx).Model(&Item{}).Where("tenant_id = ?", tenantID)

	if f.Status != "" {
		status, err := NormalizeStatus(f.Status)
		if err != nil {
			return nil, err
		}
		tx = tx.Where("status = ?", status)
	}
	if f.Priority != "" {
		if err := f.Priority.Validate(); err != nil {
			return nil, err
		}
		tx = tx.Where("priority = ?", f.Priority)
	}
	if f.QueueName != "" {
		tx = tx.Where("queue_name = ?", slug.Make(f.QueueName))
	}
	if f.ClaimedBy != "" {
		tx = tx.Where("claimed_by = ?", f.ClaimedBy)
	}
	if f.ProcessID != "" {
		tx = tx.Where("process_id = ?", f.ProcessID)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, errutil.Internal("failed to list workload items", errutil.WithErr(err))
	}

	var items []*Item
	if err := option.Apply(tx,
		option.WithOrder("created_at DESC"),
		option.ApplyPagination(f.Pagination),
	).Find(&items).Error; err != nil {
		return nil, errutil.Internal("failed to list workload items", errutil.WithErr(err))
	}

	return pagination.NewPage(items, total, f.Pagination), nil
}

func (s *Service) Get(ctx context.Context, tenantID, itemID string) (*Item, error) {
	item, err := s.repo.FindOne(ctx, &Item{ID: itemID, TenantID: tenantID})
	if err != nil {
		return nil, errutil.Internal("failed to get workload item", errutil.WithErr(err))
	}
	if item == nil {
		return nil, errutil.NotFound("workload item not found")
	}
	return item, nil
}

// Candidates returns a page of pending items in claim order: priority
// first, then oldest. The result is advisory; winning an item still
// requires TryClaim.
func (s *Service) Candidates(ctx context.Context, tenantID, queueName string, limit, offset int) ([]*Item, error) {
	tx := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ?", tenantID, StatusPending)
	if queueName != "" {
		tx = tx.Where("queue_name = ?", slug.Make(queueName))
	}

	var items []*Item
	err := tx.Order(priorityRank + " DESC, created_at ASC").Limit(limit).Offset(offset).Find(&items).Error
	if err != nil {
		return nil, errutil.Internal("failed to scan claim candidates", errutil.WithErr(err))
	}
	return items, nil
}

// TryClaim is the at-most-one-claim guard. The transition is one conditional
// update keyed on status = pending, so out of any number of concurrent
// claimers exactly one sees RowsAffected == 1.
func (s *Service) TryClaim(ctx context.Context, tenantID, itemID, agentID, versionID string) (bool, error) {
	now := s.now()

	res := s.db.WithContext(ctx).Model(&Item{}).
		Where("id = ? AND tenant_id = ? AND status = ?", itemID, tenantID, StatusPending).
		Updates(map[string]any{
			"status":             StatusClaimed,
			"claimed_by":         agentID,
			"claimed_at":         now,
			"process_version_id": versionID,
			"retry_count":        gorm.Expr("retry_count + 1"),
			"updated_at":         now,
		})
	if res.Error != nil {
		return false, errutil.Internal("failed to claim workload item", errutil.WithErr(res.Error))
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	s.publisher.Claimed(ctx, Event{
		ItemID:    itemID,
		TenantID:  tenantID,
		AgentID:   agentID,
		VersionID: versionID,
		At:        now,
	})
	return true, nil
}

// Complete moves a claimed item to its terminal success state. Only the
// claiming agent may complete it.
func (s *Service) Complete(ctx context.Context, tenantID, itemID, agentID string, result map[string]any) (*Item, error) {
	return s.finish(ctx, tenantID, itemID, agentID, StatusCompleted, result, "")
}

// Fail moves a claimed item to its terminal failure state. Terminal means
// terminal: failed items are never retried automatically.
func (s *Service) Fail(ctx context.Context, tenantID, itemID, agentID, errMsg string) (*Item, error) {
	return s.finish(ctx, tenantID, itemID, agentID, StatusFailed, nil, errMsg)
}

func (s *Service) finish(ctx context.Context, tenantID, itemID, agentID, terminal string, result map[string]any, errMsg string) (*Item, error) {
	item, err := s.Get(ctx, tenantID, itemID)
	if err != nil {
		return nil, err
	}

	if item.Status != StatusClaimed {
		return nil, errutil.Conflict("workload item is not claimed")
	}
	if item.ClaimedBy == nil || *item.ClaimedBy != agentID {
		return nil, errutil.Conflict("workload item is claimed by another agent")
	}

	now := s.now()
	updates := map[string]any{
		"status":       terminal,
		"completed_at": now,
		"updated_at":   now,
	}
	if result != nil {
		updates["result"] = datatypes.JSONMap(result)
	}
	if errMsg != "" {
		updates["error"] = errMsg
	}

	// Condition on (status, claimed_by) again so a racing reclaim between
	// the read above and this write loses cleanly.
	res := s.db.WithContext(ctx).Model(&Item{}).
		Where("id = ? AND status = ? AND claimed_by = ?", item.ID, StatusClaimed, agentID).
		Updates(updates)
	if res.Error != nil {
		return nil, errutil.Internal("failed to finish workload item", errutil.WithErr(res.Error))
	}
	if res.RowsAffected == 0 {
		return nil, errutil.Conflict("workload item is no longer claimed by this agent")
	}

	ev := Event{
		ItemID:    item.ID,
		TenantID:  tenantID,
		AgentID:   agentID,
		ProcessID: item.ProcessID,
		VersionID: item.ProcessVersionID,
		Detail:    errMsg,
		At:        now,
	}
	if terminal == StatusFailed {
		s.publisher.Failed(ctx, ev)
	} else {
		s.publisher.Completed(ctx, ev)
	}

	zap.L().Info("workload item finished",
		zap.String("item_id", item.ID),
		zap.String("agent_id", agentID),
		zap.String("status", terminal),
	)

	return s.Get(ctx, tenantID, itemID)
}

// ReleaseExpiredClaims returns the agent's expired claims to the queue.
// Called lazily from heartbeat and claim paths; there is no sweeper.
func (s *Service) ReleaseExpiredClaims(ctx context.Context, tenantID, agentID string, now time.Time) (int64, error) {
	return s.release(ctx, tenantID, agentID, now)
}

// ReclaimExpired releases every expired claim in the tenant regardless of
// owner. Run on the claim path so items stuck behind a dead agent become
// claimable again without waiting for that agent to return.
func (s *Service) ReclaimExpired(ctx context.Context, tenantID string, now time.Time) (int64, error) {
	return s.release(ctx, tenantID, "", now)
}

func (s *Service) release(ctx context.Context, tenantID, agentID string, now time.Time) (int64, error) {
	cutoff := now.Add(-s.claimGrace())

	// A claim expires only when its owner has also gone silent past the
	// grace window. A long-running job on an agent that keeps heartbeating
	// keeps its claim; owners that were deleted fall back to claim age.
	tx := s.db.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND claimed_at < ?", tenantID, StatusClaimed, cutoff).
		Where("NOT EXISTS (SELECT 1 FROM agents WHERE agents.id = workload_items.claimed_by AND agents.last_heartbeat >= ?)", cutoff)
	if agentID != "" {
		tx = tx.Where("claimed_by = ?", agentID)
	}

	var expired []*Item
	err := tx.Find(&expired).Error
	if err != nil {
		return 0, errutil.Internal("failed to scan expired claims", errutil.WithErr(err))
	}
	if len(expired) == 0 {
		return 0, nil
	}

	released := int64(0)
	for _, item := range expired {
		owner := ""
		if item.ClaimedBy != nil {
			owner = *item.ClaimedBy
		}
		res := s.db.WithContext(ctx).Model(&Item{}).
			Where("id = ? AND status = ? AND claimed_by = ?", item.ID, StatusClaimed, owner).
			Updates(map[string]any{
				"status":     StatusPending,
				"claimed_by": nil,
				"claimed_at": nil,
				"updated_at": now,
			})
		if res.Error != nil {
			return released, errutil.Internal("failed to release claim", errutil.WithErr(res.Error))
		}
		if res.RowsAffected == 0 {
			continue
		}
		released++

		s.publisher.Reclaimed(ctx, Event{
			ItemID:   item.ID,
			TenantID: tenantID,
			AgentID:  owner,
			At:       now,
		})
		zap.L().Warn("workload claim expired and was released",
			zap.String("item_id", item.ID),
			zap.String("agent_id", owner),
		)
	}
	return released, nil
}

// HasActiveClaim reports whether the agent currently owns a claimed item.
func (s *Service) HasActiveClaim(ctx context.Context, tenantID, agentID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Item{}).
		Where("tenant_id = ? AND claimed_by = ? AND status = ?", tenantID, agentID, StatusClaimed).
		Count(&n).Error
	if err != nil {
		return false, errutil.Internal("failed to check active claims", errutil.WithErr(err))
	}
	return n > 0, nil
}
