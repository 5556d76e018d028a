package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"rpa-orchestrator/services/testutil"
	"rpa-orchestrator/services/workload"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEnqueuer struct {
	items  []*workload.Item
	failOn string
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, tenantID string, in workload.EnqueueInput) (*workload.Item, error) {
	if f.failOn != "" && in.ProcessID == f.failOn {
		return nil, errors.New("enqueue rejected")
	}
	item := &workload.Item{
		ID:        "item-" + in.ProcessID,
		TenantID:  tenantID,
		ProcessID: in.ProcessID,
		Status:    workload.StatusPending,
	}
	f.items = append(f.items, item)
	return item, nil
}

func newTestService(t *testing.T, enq Enqueuer) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Schedule{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node, Enqueuer: enq})
}

func TestCreateValidatesCron(t *testing.T) {
	svc := newTestService(t, &fakeEnqueuer{})
	ctx := context.Background()

	_, err := svc.Create(ctx, "t1", CreateInput{Name: "nightly", CronExpr: "not a cron"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cron")

	sch, err := svc.Create(ctx, "t1", CreateInput{Name: "nightly", CronExpr: "0 2 * * *"})
	require.NoError(t, err)
	require.True(t, sch.IsActive)
	require.NotNil(t, sch.NextRun)
	require.True(t, sch.NextRun.After(time.Now().UTC()))
}

func TestCreateInactiveHasNoNextRun(t *testing.T) {
	svc := newTestService(t, &fakeEnqueuer{})

	inactive := false
	sch, err := svc.Create(context.Background(), "t1", CreateInput{
		Name: "paused", CronExpr: "* * * * *", IsActive: &inactive,
	})
	require.NoError(t, err)
	require.Nil(t, sch.NextRun)
}

func TestEvaluateFiresOncePerTick(t *testing.T) {
	enq := &fakeEnqueuer{}
	svc := newTestService(t, enq)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 30, 0, time.UTC)
	svc.now = func() time.Time { return base }

	sch, err := svc.Create(ctx, "t1", CreateInput{Name: "minutely", CronExpr: "* * * * *", ProcessID: "p1"})
	require.NoError(t, err)
	tick := *sch.NextRun
	require.Equal(t, time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC), tick)

	// Before the tick nothing fires.
	fired, err := svc.Evaluate(ctx, tick.Add(-time.Second))
	require.NoError(t, err)
	require.Empty(t, fired)

	fired, err = svc.Evaluate(ctx, tick)
	require.NoError(t, err)
	require.Len(t, fired, 1)

	// Re-evaluating the same instant is a no-op.
	fired, err = svc.Evaluate(ctx, tick)
	require.NoError(t, err)
	require.Empty(t, fired)
	require.Len(t, enq.items, 1)

	got, err := svc.Get(ctx, "t1", sch.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastFiredAt)
	require.True(t, got.LastFiredAt.Equal(tick))
	require.True(t, got.NextRun.After(tick))
}

func TestEvaluateSkipsInactive(t *testing.T) {
	enq := &fakeEnqueuer{}
	svc := newTestService(t, enq)
	ctx := context.Background()

	sch, err := svc.Create(ctx, "t1", CreateInput{Name: "minutely", CronExpr: "* * * * *"})
	require.NoError(t, err)

	off := false
	_, err = svc.Update(ctx, "t1", sch.ID, UpdateInput{IsActive: &off})
	require.NoError(t, err)

	fired, err := svc.Evaluate(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, fired)
}

func TestEvaluateIsolatesFailures(t *testing.T) {
	enq := &fakeEnqueuer{failOn: "broken"}
	svc := newTestService(t, enq)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 30, 0, time.UTC)
	svc.now = func() time.Time { return base }

	bad, err := svc.Create(ctx, "t1", CreateInput{Name: "bad", CronExpr: "* * * * *", ProcessID: "broken"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "t1", CreateInput{Name: "good", CronExpr: "* * * * *", ProcessID: "ok"})
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC)
	fired, err := svc.Evaluate(ctx, at)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	require.Equal(t, "ok", fired[0].ProcessID)

	// The failing schedule still advanced past the tick, so it cannot wedge
	// the loop.
	got, err := svc.Get(ctx, "t1", bad.ID)
	require.NoError(t, err)
	require.True(t, got.NextRun.After(at))
}

func TestEvaluateDoesNotBackfill(t *testing.T) {
	enq := &fakeEnqueuer{}
	svc := newTestService(t, enq)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 30, 0, time.UTC)
	svc.now = func() time.Time { return base }

	sch, err := svc.Create(ctx, "t1", CreateInput{Name: "minutely", CronExpr: "* * * * *"})
	require.NoError(t, err)

	// An hour of downtime: exactly one item fires and next_run lands in the
	// future relative to the evaluation instant.
	late := base.Add(time.Hour)
	fired, err := svc.Evaluate(ctx, late)
	require.NoError(t, err)
	require.Len(t, fired, 1)

	got, err := svc.Get(ctx, "t1", sch.ID)
	require.NoError(t, err)
	require.True(t, got.NextRun.After(late))

	fired, err = svc.Evaluate(ctx, late)
	require.NoError(t, err)
	require.Empty(t, fired)
}

func TestUpdateRecomputesNextRun(t *testing.T) {
	svc := newTestService(t, &fakeEnqueuer{})
	ctx := context.Background()

	sch, err := svc.Create(ctx, "t1", CreateInput{Name: "hourly", CronExpr: "0 * * * *"})
	require.NoError(t, err)

	bad := "every hour"
	_, err = svc.Update(ctx, "t1", sch.ID, UpdateInput{CronExpr: &bad})
	require.Error(t, err)

	daily := "0 2 * * *"
	got, err := svc.Update(ctx, "t1", sch.ID, UpdateInput{CronExpr: &daily})
	require.NoError(t, err)
	require.Equal(t, daily, got.CronExpr)
	require.Equal(t, 2, got.NextRun.Hour())
}

func TestDelete(t *testing.T) {
	svc := newTestService(t, &fakeEnqueuer{})
	ctx := context.Background()

	sch, err := svc.Create(ctx, "t1", CreateInput{Name: "hourly", CronExpr: "0 * * * *"})
	require.NoError(t, err)

	require.Error(t, svc.Delete(ctx, "t2", sch.ID))
	require.NoError(t, svc.Delete(ctx, "t1", sch.ID))
	require.Error(t, svc.Delete(ctx, "t1", sch.ID))
}
