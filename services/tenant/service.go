package tenant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rpa-orchestrator/pkg/errutil"
	"rpa-orchestrator/pkg/repository"
	"rpa-orchestrator/pkg/security"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	repo  repository.Repository[Tenant]
	creds repository.Repository[Credential]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		repo:  repository.ProvideStore[Tenant](p.DB),
		creds: repository.ProvideStore[Credential](p.DB),
	}
}

type CreateTenantInput struct {
	Name string `json:"name" binding:"required"`
}

type CreateTenantOutput struct {
	Tenant *Tenant `json:"tenant"`
	// Token is the bearer credential, returned once.
	Token string `json:"token"`
}

func (s *Service) CreateTenant(ctx context.Context, in CreateTenantInput) (*CreateTenantOutput, error) {
	exist, err := s.repo.FindOne(ctx, &Tenant{Name: in.Name})
	if err != nil {
		zap.L().Error("failed to check existing tenant", zap.Error(err))
		return nil, errutil.Internal("failed to create tenant", errutil.WithErr(err))
	}
	if exist != nil {
		return nil, errutil.Conflict(fmt.Sprintf("tenant %q already exists", in.Name))
	}

	tenantID := s.node.Generate().String()
	credID := s.node.Generate().String()

	secret, err := security.GenerateBase64Secret(32)
	if err != nil {
		return nil, errutil.Internal("failed to generate credential secret", errutil.WithErr(err))
	}
	hash, err := security.HashArgon2(secret)
	if err != nil {
		return nil, errutil.Internal("failed to hash credential secret", errutil.WithErr(err))
	}

	keyID := fmt.Sprintf("rpa_live_%s", credID)
	now := time.Now().UTC()

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t := &Tenant{
			ID:        tenantID,
			Name:      in.Name,
			Status:    Active,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(t).Error; err != nil {
			return fmt.Errorf("failed to create tenant: %w", err)
		}

		cred := &Credential{
			ID:         credID,
			TenantID:   tenantID,
			KeyID:      keyID,
			SecretHash: hash,
			Status:     CredentialActive,
			CreatedAt:  now,
		}
		if err := tx.Create(cred).Error; err != nil {
			return fmt.Errorf("failed to create credential: %w", err)
		}

		return nil
	}); err != nil {
		zap.L().Error("failed to create tenant transaction", zap.Error(err))
		return nil, errutil.Internal("failed to create tenant", errutil.WithErr(err))
	}

	t, err := s.repo.FindOne(ctx, &Tenant{ID: tenantID})
	if err != nil || t == nil {
		return nil, errutil.Internal("failed to read back tenant")
	}

	zap.L().Info("tenant created", zap.String("tenant_id", tenantID), zap.String("name", in.Name))

	return &CreateTenantOutput{
		Tenant: t,
		Token:  fmt.Sprintf("%s.%s", keyID, secret),
	}, nil
}

func (s *Service) GetTenant(ctx context.Context, tenantID string) (*Tenant, error) {
	t, err := s.repo.FindOne(ctx, &Tenant{ID: tenantID})
	if err != nil {
		zap.L().Error("failed to get tenant", zap.Error(err), zap.String("tenant_id", tenantID))
		return nil, errutil.Internal("failed to get tenant", errutil.WithErr(err))
	}
	if t == nil {
		return nil, errutil.NotFound("tenant not found")
	}
	return t, nil
}

// VerifyCredential resolves a bearer token of the form "<key_id>.<secret>"
// to its tenant. Implements middleware.CredentialVerifier.
func (s *Service) VerifyCredential(ctx context.Context, token string) (string, error) {
	keyID, secret, ok := strings.Cut(token, ".")
	if !ok || keyID == "" || secret == "" {
		return "", errutil.Unauthorized("malformed credential")
	}

	cred, err := s.creds.FindOne(ctx, &Credential{KeyID: keyID, Status: CredentialActive})
	if err != nil {
		zap.L().Error("failed to look up credential", zap.Error(err))
		return "", errutil.Internal("failed to verify credential", errutil.WithErr(err))
	}
	if cred == nil || !security.VerifyArgon2(secret, cred.SecretHash) {
		return "", errutil.Unauthorized("invalid credential")
	}

	return cred.TenantID, nil
}
