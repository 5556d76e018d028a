package tenant

import (
	"context"
	"strings"
	"testing"

	"rpa-orchestrator/services/testutil"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Tenant{}, &Credential{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestCreateTenantIssuesCredential(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	out, err := svc.CreateTenant(ctx, CreateTenantInput{Name: "acme"})
	require.NoError(t, err)
	require.Equal(t, "acme", out.Tenant.Name)
	require.Equal(t, Active, out.Tenant.Status)
	require.True(t, strings.HasPrefix(out.Token, "rpa_live_"))
	require.Contains(t, out.Token, ".")

	// The issued token authenticates as the new tenant.
	tenantID, err := svc.VerifyCredential(ctx, out.Token)
	require.NoError(t, err)
	require.Equal(t, out.Tenant.ID, tenantID)
}

func TestCreateTenantDuplicateName(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateTenant(ctx, CreateTenantInput{Name: "acme"})
	require.NoError(t, err)

	_, err = svc.CreateTenant(ctx, CreateTenantInput{Name: "acme"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "already exists")
}

func TestVerifyCredentialRejectsBadTokens(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	out, err := svc.CreateTenant(ctx, CreateTenantInput{Name: "acme"})
	require.NoError(t, err)

	for _, token := range []string{
		"",
		"no-separator",
		"rpa_live_unknown.secret",
		out.Token + "tampered",
	} {
		_, err := svc.VerifyCredential(ctx, token)
		require.Error(t, err, token)
	}
}

func TestGetTenant(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	out, err := svc.CreateTenant(ctx, CreateTenantInput{Name: "acme"})
	require.NoError(t, err)

	got, err := svc.GetTenant(ctx, out.Tenant.ID)
	require.NoError(t, err)
	require.Equal(t, "acme", got.Name)

	_, err = svc.GetTenant(ctx, "missing")
	require.Error(t, err)
}
