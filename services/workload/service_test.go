package workload

import (
	"context"
	"sync"
	"testing"
	"time"

	"rpa-orchestrator/pkg/config"
	"rpa-orchestrator/pkg/errutil"
	"rpa-orchestrator/services/agent"
	"rpa-orchestrator/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeGate struct {
	err error
}

func (f *fakeGate) EnsureSchedulable(ctx context.Context, tenantID, processID string) error {
	return f.err
}

func newTestService(t *testing.T, gate ProcessGate) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Item{}, &agent.Agent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Orchestrator.HeartbeatTimeout = 45 * time.Second
	cfg.Orchestrator.ClaimGrace = 120 * time.Second

	return NewService(ServiceParams{DB: db, Node: node, Config: cfg, Gate: gate})
}

func TestEnqueueDefaults(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	item, err := svc.Enqueue(ctx, "t1", EnqueueInput{
		QueueName: "Invoice Processing",
		Payload:   map[string]any{"invoice_id": "inv-1"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, item.Status)
	require.Equal(t, PriorityNormal, item.Priority)
	require.Equal(t, "invoice-processing", item.QueueName)
	require.Nil(t, item.ClaimedBy)
	require.Equal(t, 0, item.RetryCount)
}

func TestEnqueueInvalidPriority(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.Enqueue(context.Background(), "t1", EnqueueInput{Priority: "urgent"})
	require.Error(t, err)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
}

func TestEnqueueGateRejection(t *testing.T) {
	gate := &fakeGate{err: errutil.Conflict("process has no versions and cannot be scheduled")}
	svc := newTestService(t, gate)

	_, err := svc.Enqueue(context.Background(), "t1", EnqueueInput{ProcessID: "p1"})
	require.Error(t, err)
	require.True(t, errutil.IsConflict(err))

	gate.err = nil
	item, err := svc.Enqueue(context.Background(), "t1", EnqueueInput{ProcessID: "p1"})
	require.NoError(t, err)
	require.Equal(t, "p1", item.ProcessID)
}

func TestClaimOrdering(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ticks := 0
	svc.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks) * time.Second)
	}

	oldNormal, err := svc.Enqueue(ctx, "t1", EnqueueInput{Priority: PriorityNormal})
	require.NoError(t, err)
	newNormal, err := svc.Enqueue(ctx, "t1", EnqueueInput{Priority: PriorityNormal})
	require.NoError(t, err)
	critical, err := svc.Enqueue(ctx, "t1", EnqueueInput{Priority: PriorityCritical})
	require.NoError(t, err)
	low, err := svc.Enqueue(ctx, "t1", EnqueueInput{Priority: PriorityLow})
	require.NoError(t, err)

	candidates, err := svc.Candidates(ctx, "t1", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, candidates, 4)
	require.Equal(t, critical.ID, candidates[0].ID)
	require.Equal(t, oldNormal.ID, candidates[1].ID)
	require.Equal(t, newNormal.ID, candidates[2].ID)
	require.Equal(t, low.ID, candidates[3].ID)
}

func TestTryClaimExactlyOnce(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	item, err := svc.Enqueue(ctx, "t1", EnqueueInput{})
	require.NoError(t, err)

	var mu sync.Mutex
	winners := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			won, err := svc.TryClaim(ctx, "t1", item.ID, "agent-"+string(rune('a'+n)), "")
			require.NoError(t, err)
			if won {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	require.Equal(t, 1, winners)

	got, err := svc.Get(ctx, "t1", item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, got.Status)
	require.Equal(t, 1, got.RetryCount)
}

func TestCompleteRoundTrip(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	item, err := svc.Enqueue(ctx, "t1", EnqueueInput{Payload: map[string]any{"n": float64(1)}})
	require.NoError(t, err)

	won, err := svc.TryClaim(ctx, "t1", item.ID, "agent-1", "v1")
	require.NoError(t, err)
	require.True(t, won)

	done, err := svc.Complete(ctx, "t1", item.ID, "agent-1", map[string]any{"ok": true})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	require.Equal(t, "v1", done.ProcessVersionID)
	require.Equal(t, true, done.Result["ok"])
}

func TestCompleteOwnershipGuard(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	item, err := svc.Enqueue(ctx, "t1", EnqueueInput{})
	require.NoError(t, err)

	// Completing an unclaimed item is a conflict.
	_, err = svc.Complete(ctx, "t1", item.ID, "agent-1", nil)
	require.True(t, errutil.IsConflict(err))

	won, err := svc.TryClaim(ctx, "t1", item.ID, "agent-1", "")
	require.NoError(t, err)
	require.True(t, won)

	// Another agent cannot finish it.
	_, err = svc.Complete(ctx, "t1", item.ID, "agent-2", nil)
	require.True(t, errutil.IsConflict(err))
	_, err = svc.Fail(ctx, "t1", item.ID, "agent-2", "boom")
	require.True(t, errutil.IsConflict(err))

	_, err = svc.Fail(ctx, "t1", item.ID, "agent-1", "boom")
	require.NoError(t, err)

	// Terminal states do not transition again.
	_, err = svc.Complete(ctx, "t1", item.ID, "agent-1", nil)
	require.True(t, errutil.IsConflict(err))
}

func TestReleaseExpiredClaims(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	item, err := svc.Enqueue(ctx, "t1", EnqueueInput{})
	require.NoError(t, err)
	fresh, err := svc.Enqueue(ctx, "t1", EnqueueInput{})
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return base }

	won, err := svc.TryClaim(ctx, "t1", item.ID, "agent-1", "")
	require.NoError(t, err)
	require.True(t, won)

	// Second claim inside the grace window.
	svc.now = func() time.Time { return base.Add(time.Minute) }
	won, err = svc.TryClaim(ctx, "t1", fresh.ID, "agent-1", "")
	require.NoError(t, err)
	require.True(t, won)

	// Three minutes in only the first claim has exceeded the grace period.
	released, err := svc.ReleaseExpiredClaims(ctx, "t1", "agent-1", base.Add(3*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(1), released)

	got, err := svc.Get(ctx, "t1", item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
	require.Nil(t, got.ClaimedBy)
	require.Nil(t, got.ClaimedAt)
	require.Equal(t, 1, got.RetryCount)

	still, err := svc.Get(ctx, "t1", fresh.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, still.Status)

	// A reclaimed item can be claimed again, bumping the retry counter.
	won, err = svc.TryClaim(ctx, "t1", got.ID, "agent-2", "")
	require.NoError(t, err)
	require.True(t, won)
	got, err = svc.Get(ctx, "t1", got.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.RetryCount)
}

func TestReleaseSpareHeartbeatingOwner(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	later := base.Add(5 * time.Minute)

	// The owner is still heartbeating five minutes in. Its claim is old
	// but must not be treated as abandoned.
	hb := later.Add(-10 * time.Second)
	require.NoError(t, svc.db.Create(&agent.Agent{
		ID:            "agent-live",
		TenantID:      "t1",
		Name:          "bot-live",
		Status:        "active",
		LastHeartbeat: &hb,
		CreatedAt:     base,
		UpdatedAt:     hb,
	}).Error)

	item, err := svc.Enqueue(ctx, "t1", EnqueueInput{})
	require.NoError(t, err)

	svc.now = func() time.Time { return base }
	won, err := svc.TryClaim(ctx, "t1", item.ID, "agent-live", "")
	require.NoError(t, err)
	require.True(t, won)

	released, err := svc.ReclaimExpired(ctx, "t1", later)
	require.NoError(t, err)
	require.Zero(t, released)

	got, err := svc.Get(ctx, "t1", item.ID)
	require.NoError(t, err)
	require.Equal(t, StatusClaimed, got.Status)
	require.Equal(t, "agent-live", *got.ClaimedBy)

	// Once the owner itself goes silent past the grace window the claim
	// finally expires.
	stale := later.Add(3 * time.Minute)
	released, err = svc.ReclaimExpired(ctx, "t1", stale)
	require.NoError(t, err)
	require.Equal(t, int64(1), released)
}

func TestHasActiveClaim(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	busy, err := svc.HasActiveClaim(ctx, "t1", "agent-1")
	require.NoError(t, err)
	require.False(t, busy)

	item, err := svc.Enqueue(ctx, "t1", EnqueueInput{})
	require.NoError(t, err)
	won, err := svc.TryClaim(ctx, "t1", item.ID, "agent-1", "")
	require.NoError(t, err)
	require.True(t, won)

	busy, err = svc.HasActiveClaim(ctx, "t1", "agent-1")
	require.NoError(t, err)
	require.True(t, busy)

	_, err = svc.Complete(ctx, "t1", item.ID, "agent-1", nil)
	require.NoError(t, err)

	busy, err = svc.HasActiveClaim(ctx, "t1", "agent-1")
	require.NoError(t, err)
	require.False(t, busy)
}

func TestStatusAliases(t *testing.T) {
	for alias, want := range map[string]string{
		"queued":      StatusPending,
		"processing":  StatusClaimed,
		"in_progress": StatusClaimed,
		"running":     StatusClaimed,
		"pending":     StatusPending,
		"completed":   StatusCompleted,
	} {
		got, err := NormalizeStatus(alias)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := NormalizeStatus("cancelled")
	require.Error(t, err)
}

func TestListFilters(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	a, err := svc.Enqueue(ctx, "t1", EnqueueInput{QueueName: "alpha", Priority: PriorityHigh})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, "t1", EnqueueInput{QueueName: "beta"})
	require.NoError(t, err)
	_, err = svc.Enqueue(ctx, "t2", EnqueueInput{QueueName: "alpha"})
	require.NoError(t, err)

	page, err := svc.List(ctx, "t1", ListFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(2), page.Total)

	page, err = svc.List(ctx, "t1", ListFilter{QueueName: "alpha"})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)

	won, err := svc.TryClaim(ctx, "t1", a.ID, "agent-1", "")
	require.NoError(t, err)
	require.True(t, won)

	// Alias filters resolve to the canonical state.
	page, err = svc.List(ctx, "t1", ListFilter{Status: "processing"})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	require.Equal(t, a.ID, page.Items[0].ID)

	page, err = svc.List(ctx, "t1", ListFilter{Priority: PriorityHigh})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	require.Equal(t, a.ID, page.Items[0].ID)

	_, err = svc.List(ctx, "t1", ListFilter{Status: "bogus"})
	require.Error(t, err)

	_, err = svc.List(ctx, "t1", ListFilter{Priority: "urgent"})
	require.Error(t, err)
}
