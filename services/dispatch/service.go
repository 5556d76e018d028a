package dispatch

import (
	"context"
	"time"

	"rpa-orchestrator/pkg/errutil"
	"rpa-orchestrator/services/agent"
	"rpa-orchestrator/services/process"
	"rpa-orchestrator/services/workload"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var claimOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "orchestrator_claim_requests_total",
	Help: "Claim requests by outcome.",
}, []string{"outcome"})

// candidateWindow is the page size used when scanning pending items for a
// claim. The scan keeps paging until it wins an item or runs out of pending
// work.
const candidateWindow = 5

// Service coordinates the claim handshake between agents, the queue and the
// process catalog. It owns the claim-time version pin: an item referencing a
// process is bound to whichever version is active at the moment the claim
// wins, not at enqueue time.
type Service struct {
	agents    *agent.Service
	processes *process.Service
	queue     *workload.Service

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	Agents    *agent.Service
	Processes *process.Service
	Queue     *workload.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		agents:    p.Agents,
		processes: p.Processes,
		queue:     p.Queue,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Claim hands the best pending item to the agent, or nil when the queue has
// nothing to offer. Losing a race for a candidate moves on to the next one
// rather than failing the request.
func (s *Service) Claim(ctx context.Context, tenantID, agentID, queueName string) (*workload.Item, error) {
	if _, err := s.agents.Get(ctx, tenantID, agentID); err != nil {
		return nil, err
	}

	now := s.now()
	if _, err := s.queue.ReclaimExpired(ctx, tenantID, now); err != nil {
		zap.L().Error("failed to reclaim expired items", zap.Error(err), zap.String("tenant_id", tenantID))
	}

	// Page through the pending set rather than giving up after one
	// window: unpinnable items near the head must not starve claimable
	// work behind them.
	for offset := 0; ; offset += candidateWindow {
		candidates, err := s.queue.Candidates(ctx, tenantID, queueName, candidateWindow, offset)
		if err != nil {
			return nil, err
		}

		for _, candidate := range candidates {
			versionID, err := s.pinVersion(ctx, tenantID, candidate)
			if err != nil {
				zap.L().Warn("skipping claim candidate",
					zap.Error(err),
					zap.String("item_id", candidate.ID),
				)
				continue
			}

			won, err := s.queue.TryClaim(ctx, tenantID, candidate.ID, agentID, versionID)
			if err != nil {
				return nil, err
			}
			if !won {
				claimOutcomes.WithLabelValues("raced").Inc()
				continue
			}

			claimOutcomes.WithLabelValues("granted").Inc()
			return s.queue.Get(ctx, tenantID, candidate.ID)
		}

		if len(candidates) < candidateWindow {
			break
		}
	}

	claimOutcomes.WithLabelValues("empty").Inc()
	return nil, nil
}

// pinVersion resolves the version the claiming agent must execute.
func (s *Service) pinVersion(ctx context.Context, tenantID string, item *workload.Item) (string, error) {
	if item.ProcessID == "" {
		return "", nil
	}

	v, err := s.processes.GetActiveVersion(ctx, tenantID, item.ProcessID)
	if err != nil {
		return "", err
	}
	if v == nil {
		return "", errutil.Conflict("process has no active version")
	}
	return v.ID, nil
}

// Complete finishes the item and credits the agent's lifecycle counters.
func (s *Service) Complete(ctx context.Context, tenantID, itemID, agentID string, result map[string]any) (*workload.Item, error) {
	item, err := s.queue.Complete(ctx, tenantID, itemID, agentID, result)
	if err != nil {
		return nil, err
	}
	s.recordOutcome(ctx, tenantID, agentID, false)
	return item, nil
}

// Fail marks the item terminally failed and debits the agent's counters.
func (s *Service) Fail(ctx context.Context, tenantID, itemID, agentID, errMsg string) (*workload.Item, error) {
	item, err := s.queue.Fail(ctx, tenantID, itemID, agentID, errMsg)
	if err != nil {
		return nil, err
	}
	s.recordOutcome(ctx, tenantID, agentID, true)
	return item, nil
}

func (s *Service) recordOutcome(ctx context.Context, tenantID, agentID string, failed bool) {
	if err := s.agents.RecordOutcome(ctx, tenantID, agentID, failed); err != nil {
		zap.L().Error("failed to record agent outcome",
			zap.Error(err),
			zap.String("agent_id", agentID),
		)
	}
}
