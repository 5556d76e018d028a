package agent

import (
	"context"
	"testing"
	"time"

	"rpa-orchestrator/pkg/config"
	"rpa-orchestrator/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeClaims struct {
	released  int64
	active    bool
	releaseFn func() (int64, error)
}

func (f *fakeClaims) ReleaseExpiredClaims(ctx context.Context, tenantID, agentID string, now time.Time) (int64, error) {
	if f.releaseFn != nil {
		return f.releaseFn()
	}
	return f.released, nil
}

func (f *fakeClaims) HasActiveClaim(ctx context.Context, tenantID, agentID string) (bool, error) {
	return f.active, nil
}

func newTestService(t *testing.T, claims ClaimRegistry) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Agent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Orchestrator.HeartbeatTimeout = 45 * time.Second
	cfg.Orchestrator.ClaimGrace = 120 * time.Second

	svc := NewService(ServiceParams{DB: db, Node: node, Config: cfg, Claims: claims})
	return svc
}

func TestRegister(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	out, err := svc.Register(ctx, "t1", RegisterInput{
		Name:         "bot-1",
		MachineName:  "vm-01",
		Capabilities: []string{"browser", "excel"},
		Extra:        map[string]any{"os": "windows"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.ID)
	require.Equal(t, "bot-1", out.Name)
	require.False(t, out.IsOnline)
	require.Nil(t, out.LastHeartbeat)
}

func TestRegisterConflictWhenOnline(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	first, err := svc.Register(ctx, "t1", RegisterInput{Name: "bot-1", MachineName: "vm-01"})
	require.NoError(t, err)

	_, err = svc.Heartbeat(ctx, "t1", first.ID, HeartbeatInput{})
	require.NoError(t, err)

	_, err = svc.Register(ctx, "t1", RegisterInput{Name: "bot-1", MachineName: "vm-02"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "already registered")
}

func TestRegisterReactivatesOfflineAgent(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	first, err := svc.Register(ctx, "t1", RegisterInput{Name: "bot-1", MachineName: "vm-01"})
	require.NoError(t, err)

	// Heartbeat, then move the clock past the liveness window.
	_, err = svc.Heartbeat(ctx, "t1", first.ID, HeartbeatInput{})
	require.NoError(t, err)

	base := time.Now().UTC()
	svc.now = func() time.Time { return base.Add(10 * time.Minute) }

	out, err := svc.Register(ctx, "t1", RegisterInput{Name: "bot-1", MachineName: "vm-02", Version: "2.0.0"})
	require.NoError(t, err)
	require.Equal(t, first.ID, out.ID)
	require.Equal(t, "vm-02", out.MachineName)
	require.Equal(t, "2.0.0", out.Version)
}

func TestRegisterSameNameDifferentTenants(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	a, err := svc.Register(ctx, "t1", RegisterInput{Name: "bot-1", MachineName: "vm-01"})
	require.NoError(t, err)

	b, err := svc.Register(ctx, "t2", RegisterInput{Name: "bot-1", MachineName: "vm-02"})
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
}

func TestHeartbeatMergesExtra(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "t1", RegisterInput{
		Name:        "bot-1",
		MachineName: "vm-01",
		Extra:       map[string]any{"os": "windows", "region": "eu"},
	})
	require.NoError(t, err)

	out, err := svc.Heartbeat(ctx, "t1", reg.ID, HeartbeatInput{
		Status: "busy",
		Extra:  map[string]any{"region": "us", "cpu": float64(80)},
	})
	require.NoError(t, err)
	require.True(t, out.IsOnline)
	require.Equal(t, "busy", out.Status)
	require.Equal(t, "windows", out.Extra["os"])
	require.Equal(t, "us", out.Extra["region"])
	require.Equal(t, float64(80), out.Extra["cpu"])
}

func TestHeartbeatReleasesExpiredClaims(t *testing.T) {
	claims := &fakeClaims{released: 1}
	svc := newTestService(t, claims)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "t1", RegisterInput{Name: "bot-1", MachineName: "vm-01"})
	require.NoError(t, err)

	called := 0
	claims.releaseFn = func() (int64, error) {
		called++
		return 1, nil
	}

	// Agent has never heartbeat, so it counts as offline: release fires.
	_, err = svc.Heartbeat(ctx, "t1", reg.ID, HeartbeatInput{})
	require.NoError(t, err)
	require.Equal(t, 1, called)

	// A second heartbeat while online must not fire the release again.
	_, err = svc.Heartbeat(ctx, "t1", reg.ID, HeartbeatInput{})
	require.NoError(t, err)
	require.Equal(t, 1, called)
}

func TestOnlineBoundaryIsInclusive(t *testing.T) {
	hb := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	a := &Agent{LastHeartbeat: &hb}

	timeout := 45 * time.Second
	require.True(t, a.IsOnline(hb.Add(timeout), timeout))
	require.False(t, a.IsOnline(hb.Add(timeout+time.Nanosecond), timeout))
}

func TestGetNotFound(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.Get(context.Background(), "t1", "missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestGetWrongTenant(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "t1", RegisterInput{Name: "bot-1", MachineName: "vm-01"})
	require.NoError(t, err)

	_, err = svc.Get(ctx, "t2", reg.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not found")
}

func TestListOnlineFilter(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	live, err := svc.Register(ctx, "t1", RegisterInput{Name: "bot-live", MachineName: "vm-01"})
	require.NoError(t, err)
	_, err = svc.Heartbeat(ctx, "t1", live.ID, HeartbeatInput{})
	require.NoError(t, err)

	_, err = svc.Register(ctx, "t1", RegisterInput{Name: "bot-dead", MachineName: "vm-02"})
	require.NoError(t, err)

	online := true
	page, err := svc.List(ctx, "t1", ListFilter{Online: &online})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	require.Len(t, page.Items, 1)
	require.Equal(t, "bot-live", page.Items[0].Name)

	offline := false
	page, err = svc.List(ctx, "t1", ListFilter{Online: &offline})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	require.Equal(t, "bot-dead", page.Items[0].Name)

	page, err = svc.List(ctx, "t1", ListFilter{})
	require.NoError(t, err)
	require.Equal(t, int64(2), page.Total)
}

func TestUpdateNameConflict(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, "t1", RegisterInput{Name: "bot-1", MachineName: "vm-01"})
	require.NoError(t, err)
	second, err := svc.Register(ctx, "t1", RegisterInput{Name: "bot-2", MachineName: "vm-02"})
	require.NoError(t, err)

	name := "bot-1"
	_, err = svc.Update(ctx, "t1", second.ID, UpdateInput{Name: &name})
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")
}

func TestDeleteRefusedWhileClaimHeld(t *testing.T) {
	claims := &fakeClaims{active: true}
	svc := newTestService(t, claims)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "t1", RegisterInput{Name: "bot-1", MachineName: "vm-01"})
	require.NoError(t, err)

	err = svc.Delete(ctx, "t1", reg.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "claimed")

	claims.active = false
	require.NoError(t, svc.Delete(ctx, "t1", reg.ID))

	_, err = svc.Get(ctx, "t1", reg.ID)
	require.Error(t, err)
}

func TestRecordOutcome(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "t1", RegisterInput{Name: "bot-1", MachineName: "vm-01"})
	require.NoError(t, err)

	require.NoError(t, svc.RecordOutcome(ctx, "t1", reg.ID, false))
	require.NoError(t, svc.RecordOutcome(ctx, "t1", reg.ID, false))
	require.NoError(t, svc.RecordOutcome(ctx, "t1", reg.ID, true))

	out, err := svc.Get(ctx, "t1", reg.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), out.Completed)
	require.Equal(t, int64(1), out.Failed)
}

func TestRegisterNameUniquenessEnforcedByIndex(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Register(ctx, "t1", RegisterInput{Name: "bot-1", MachineName: "vm-1"})
	require.NoError(t, err)

	// Insert past the service-level lookup: the unique index on
	// (tenant_id, name) is what settles racing registrations.
	err = svc.db.Create(&Agent{ID: "raced", TenantID: "t1", Name: "bot-1", Status: "offline"}).Error
	require.Error(t, err)

	// Other tenants are unaffected.
	err = svc.db.Create(&Agent{ID: "other", TenantID: "t2", Name: "bot-1", Status: "offline"}).Error
	require.NoError(t, err)
}
