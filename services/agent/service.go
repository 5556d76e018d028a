package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rpa-orchestrator/pkg/config"
	"rpa-orchestrator/pkg/db/option"
	"rpa-orchestrator/pkg/db/pagination"
	"rpa-orchestrator/pkg/errutil"
	"rpa-orchestrator/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ClaimRegistry is the slice of the workload queue the registry needs:
// releasing expired claims when an agent comes back, and refusing deletion
// of an agent that still owns in-flight work.
type ClaimRegistry interface {
	ReleaseExpiredClaims(ctx context.Context, tenantID, agentID string, now time.Time) (int64, error)
	HasActiveClaim(ctx context.Context, tenantID, agentID string) (bool, error)
}

type Service struct {
	db     *gorm.DB
	node   *snowflake.Node
	config *config.Config
	repo   repository.Repository[Agent]
	claims ClaimRegistry

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
	Claims ClaimRegistry `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:     p.DB,
		node:   p.Node,
		config: p.Config,
		repo:   repository.ProvideStore[Agent](p.DB),
		claims: p.Claims,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) heartbeatTimeout() time.Duration {
	return s.config.Orchestrator.HeartbeatTimeout
}

type RegisterInput struct {
	Name         string         `json:"name" binding:"required"`
	MachineName  string         `json:"machine_name" binding:"required"`
	Address      string         `json:"address"`
	Version      string         `json:"version"`
	Capabilities []string       `json:"capabilities"`
	Extra        map[string]any `json:"extra"`
}

// Register creates an agent record, or reactivates the existing record of an
// offline agent with the same name. A second live registration under the
// same name is a conflict.
func (s *Service) Register(ctx context.Context, tenantID string, in RegisterInput) (*View, error) {
	now := s.now()

	existing, err := s.repo.FindOne(ctx, &Agent{TenantID: tenantID, Name: in.Name})
	if err != nil {
		zap.L().Error("failed to look up agent by name", zap.Error(err), zap.String("tenant_id", tenantID))
		return nil, errutil.Internal("failed to register agent", errutil.WithErr(err))
	}

	if existing != nil {
		if existing.IsOnline(now, s.heartbeatTimeout()) {
			return nil, errutil.Conflict(fmt.Sprintf("agent %q is already registered and online", in.Name))
		}

		// Offline record with the same name: reactivate in place.
		updates := map[string]any{
			"machine_name": in.MachineName,
			"address":      in.Address,
			"version":      in.Version,
			"capabilities": datatypes.NewJSONSlice(in.Capabilities),
			"updated_at":   now,
		}
		if err := s.repo.Update(ctx, existing.ID, updates); err != nil {
			return nil, errutil.Internal("failed to reactivate agent", errutil.WithErr(err))
		}
		return s.Get(ctx, tenantID, existing.ID)
	}

	a := &Agent{
		ID:           s.node.Generate().String(),
		TenantID:     tenantID,
		Name:         in.Name,
		MachineName:  in.MachineName,
		Address:      in.Address,
		Version:      in.Version,
		Capabilities: datatypes.NewJSONSlice(in.Capabilities),
		Extra:        datatypes.JSONMap(in.Extra),
		Status:       "offline",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if a.Extra == nil {
		a.Extra = datatypes.JSONMap{}
	}

	if err := s.repo.Create(ctx, a); err != nil {
		// Two racing registrations can both pass the lookup above; the
		// unique index on (tenant_id, name) decides the loser here.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict(fmt.Sprintf("agent %q is already registered and online", in.Name))
		}
		return nil, errutil.Internal("failed to register agent", errutil.WithErr(err))
	}

	zap.L().Info("agent registered",
		zap.String("tenant_id", tenantID),
		zap.String("agent_id", a.ID),
		zap.String("name", a.Name),
	)

	return a.View(now, s.heartbeatTimeout()), nil
}

type HeartbeatInput struct {
	Status string         `json:"status"`
	Extra  map[string]any `json:"extra"`
}

// Heartbeat bumps last_heartbeat to now. Idempotent: repeated calls only
// move the timestamp forward. If the agent was offline long enough for its
// claim to expire, the claim is released here rather than by a sweeper.
func (s *Service) Heartbeat(ctx context.Context, tenantID, agentID string, in HeartbeatInput) (*View, error) {
	a, err := s.find(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	wasOffline := !a.IsOnline(now, s.heartbeatTimeout())

	// Release stale claims before the heartbeat is recorded, while the
	// queue can still observe how long the agent was actually silent.
	if wasOffline && s.claims != nil {
		released, err := s.claims.ReleaseExpiredClaims(ctx, tenantID, agentID, now)
		if err != nil {
			zap.L().Error("failed to release expired claims", zap.Error(err), zap.String("agent_id", agentID))
		} else if released > 0 {
			zap.L().Info("released expired claims on heartbeat",
				zap.String("agent_id", agentID),
				zap.Int64("released", released),
			)
		}
	}

	updates := map[string]any{
		"last_heartbeat": now,
		"updated_at":     now,
	}
	if in.Status != "" {
		updates["status"] = in.Status
	}
	if len(in.Extra) > 0 {
		merged := datatypes.JSONMap{}
		for k, v := range a.Extra {
			merged[k] = v
		}
		for k, v := range in.Extra {
			merged[k] = v
		}
		updates["extra"] = merged
	}

	if err := s.repo.Update(ctx, a.ID, updates); err != nil {
		return nil, errutil.Internal("failed to record heartbeat", errutil.WithErr(err))
	}

	return s.Get(ctx, tenantID, agentID)
}

func (s *Service) Get(ctx context.Context, tenantID, agentID string) (*View, error) {
	a, err := s.find(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	return a.View(s.now(), s.heartbeatTimeout()), nil
}

type ListFilter struct {
	Online *bool
	pagination.Pagination
}

func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) (*pagination.Page[*View], error) {
	now := s.now()
	cutoff := now.Add(-s.heartbeatTimeout())

	opts := []option.QueryOption{option.WithOrder("created_at DESC")}
	if f.Online != nil {
		if *f.Online {
			opts = append(opts, option.Where("last_heartbeat >= ?", cutoff))
		} else {
			opts = append(opts, option.Where("last_heartbeat IS NULL OR last_heartbeat < ?", cutoff))
		}
	}

	countTx := s.db.WithContext(ctx).Model(&Agent{}).Where("tenant_id = ?", tenantID)
	if f.Online != nil {
		if *f.Online {
			countTx = countTx.Where("last_heartbeat >= ?", cutoff)
		} else {
			countTx = countTx.Where("last_heartbeat IS NULL OR last_heartbeat < ?", cutoff)
		}
	}
	var total int64
	if err := countTx.Count(&total).Error; err != nil {
		return nil, errutil.Internal("failed to count agents", errutil.WithErr(err))
	}

	opts = append(opts, option.ApplyPagination(f.Pagination))
	agents, err := s.repo.Find(ctx, &Agent{TenantID: tenantID}, opts...)
	if err != nil {
		zap.L().Error("failed to list agents", zap.Error(err), zap.String("tenant_id", tenantID))
		return nil, errutil.Internal("failed to list agents", errutil.WithErr(err))
	}

	views := make([]*View, 0, len(agents))
	for _, a := range agents {
		views = append(views, a.View(now, s.heartbeatTimeout()))
	}

	return pagination.NewPage(views, total, f.Pagination), nil
}

type UpdateInput struct {
	Name         *string        `json:"name"`
	MachineName  *string        `json:"machine_name"`
	Address      *string        `json:"address"`
	Version      *string        `json:"version"`
	Capabilities []string       `json:"capabilities"`
	Extra        map[string]any `json:"extra"`
}

func (s *Service) Update(ctx context.Context, tenantID, agentID string, in UpdateInput) (*View, error) {
	a, err := s.find(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"updated_at": s.now()}

	if in.Name != nil && *in.Name != a.Name {
		existing, err := s.repo.FindOne(ctx, &Agent{TenantID: tenantID, Name: *in.Name})
		if err != nil {
			return nil, errutil.Internal("failed to validate agent name", errutil.WithErr(err))
		}
		if existing != nil {
			return nil, errutil.Conflict(fmt.Sprintf("agent %q already exists", *in.Name))
		}
		updates["name"] = *in.Name
	}
	if in.MachineName != nil {
		updates["machine_name"] = *in.MachineName
	}
	if in.Address != nil {
		updates["address"] = *in.Address
	}
	if in.Version != nil {
		updates["version"] = *in.Version
	}
	if in.Capabilities != nil {
		updates["capabilities"] = datatypes.NewJSONSlice(in.Capabilities)
	}
	if in.Extra != nil {
		updates["extra"] = datatypes.JSONMap(in.Extra)
	}

	if err := s.repo.Update(ctx, a.ID, updates); err != nil {
		return nil, errutil.Internal("failed to update agent", errutil.WithErr(err))
	}

	return s.Get(ctx, tenantID, agentID)
}

// Delete removes the agent immediately. Refused while the agent owns a
// claimed, non-terminal item so in-flight work is never orphaned silently.
func (s *Service) Delete(ctx context.Context, tenantID, agentID string) error {
	a, err := s.find(ctx, tenantID, agentID)
	if err != nil {
		return err
	}

	if s.claims != nil {
		busy, err := s.claims.HasActiveClaim(ctx, tenantID, agentID)
		if err != nil {
			return errutil.Internal("failed to check agent claims", errutil.WithErr(err))
		}
		if busy {
			return errutil.Conflict("agent holds a claimed workload item; release it first")
		}
	}

	res := s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, a.ID).Delete(&Agent{})
	if res.Error != nil {
		return errutil.Internal("failed to delete agent", errutil.WithErr(res.Error))
	}
	if res.RowsAffected == 0 {
		return errutil.NotFound("agent not found")
	}

	zap.L().Info("agent deleted", zap.String("tenant_id", tenantID), zap.String("agent_id", agentID))
	return nil
}

// RecordOutcome bumps the lifecycle counters after a terminal transition.
func (s *Service) RecordOutcome(ctx context.Context, tenantID, agentID string, failed bool) error {
	column := "completed_count"
	if failed {
		column = "failed_count"
	}
	return s.db.WithContext(ctx).Model(&Agent{}).
		Where("tenant_id = ? AND id = ?", tenantID, agentID).
		UpdateColumn(column, gorm.Expr(column+" + 1")).Error
}

func (s *Service) find(ctx context.Context, tenantID, agentID string) (*Agent, error) {
	a, err := s.repo.FindOne(ctx, &Agent{ID: agentID, TenantID: tenantID})
	if err != nil {
		zap.L().Error("failed to get agent", zap.Error(err), zap.String("agent_id", agentID))
		return nil, errutil.Internal("failed to get agent", errutil.WithErr(err))
	}
	if a == nil {
		return nil, errutil.NotFound("agent not found")
	}
	return a, nil
}
