package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"rpa-orchestrator/pkg/taskname"
	"rpa-orchestrator/services/testutil"
	"rpa-orchestrator/services/workload"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &ExecutionEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestRecordAndList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, typ := range []string{"enqueued", "claimed", "completed"} {
		require.NoError(t, svc.Record(ctx, ExecutionEvent{
			TenantID: "t1",
			ItemID:   "item-1",
			Type:     typ,
			At:       base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, svc.Record(ctx, ExecutionEvent{
		TenantID: "t1", ItemID: "item-2", Type: "enqueued", At: base,
	}))

	events, err := svc.ListForItem(ctx, "t1", "item-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "enqueued", events[0].Type)
	require.Equal(t, "completed", events[2].Type)

	// Tenant scoping.
	events, err = svc.ListForItem(ctx, "t2", "item-1")
	require.NoError(t, err)
	require.Empty(t, events)
}

func TestWorkloadEventHandler(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	payload, err := json.Marshal(workload.Event{
		ItemID:   "item-1",
		TenantID: "t1",
		AgentID:  "agent-1",
		Detail:   "selector not found",
		At:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	handle := handleWorkloadEvent(svc)
	task := asynq.NewTask(taskname.WorkloadFailed, payload)
	require.NoError(t, handle(ctx, task))

	events, err := svc.ListForItem(ctx, "t1", "item-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "failed", events[0].Type)
	require.Equal(t, "agent-1", events[0].AgentID)
	require.Equal(t, "selector not found", events[0].Detail)
}

func TestMalformedEventIsDropped(t *testing.T) {
	svc := newTestService(t)

	handle := handleWorkloadEvent(svc)
	task := asynq.NewTask(taskname.WorkloadClaimed, []byte("{not json"))
	require.NoError(t, handle(context.Background(), task))

	events, err := svc.ListForItem(context.Background(), "t1", "item-1")
	require.NoError(t, err)
	require.Empty(t, events)
}
