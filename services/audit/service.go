package audit

import (
	"context"
	"time"

	"rpa-orchestrator/pkg/db/option"
	"rpa-orchestrator/pkg/errutil"
	"rpa-orchestrator/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Service struct {
	repo repository.Repository[ExecutionEvent]
	node *snowflake.Node
	now  func() time.Time
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		repo: repository.ProvideStore[ExecutionEvent](p.DB),
		node: p.Node,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Record(ctx context.Context, ev ExecutionEvent) error {
	ev.ID = s.node.Generate().String()
	ev.CreatedAt = s.now()
	if ev.At.IsZero() {
		ev.At = ev.CreatedAt
	}
	if err := s.repo.Create(ctx, &ev); err != nil {
		return errutil.Internal("failed to record execution event", errutil.WithErr(err))
	}
	return nil
}

func (s *Service) ListForItem(ctx context.Context, tenantID, itemID string) ([]*ExecutionEvent, error) {
	events, err := s.repo.Find(ctx, &ExecutionEvent{TenantID: tenantID, ItemID: itemID},
		option.WithOrder("at ASC"),
	)
	if err != nil {
		return nil, errutil.Internal("failed to list execution events", errutil.WithErr(err))
	}
	return events, nil
}
