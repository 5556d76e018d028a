package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"rpa-orchestrator/pkg/db/option"
	"rpa-orchestrator/pkg/db/pagination"
	"rpa-orchestrator/pkg/errutil"
	"rpa-orchestrator/pkg/minio"
	"rpa-orchestrator/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const activeVersionTTL = 5 * time.Second

type Service struct {
	db       *gorm.DB
	node     *snowflake.Node
	repo     repository.Repository[Process]
	versions repository.Repository[Version]
	packages minio.PackageStore

	locks *keyedMutex
	cache *activeVersionCache

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Packages minio.PackageStore `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		repo:     repository.ProvideStore[Process](p.DB),
		versions: repository.ProvideStore[Version](p.DB),
		packages: p.Packages,
		locks:    newKeyedMutex(),
		cache:    newActiveVersionCache(activeVersionTTL),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type CreateInput struct {
	Name        string         `json:"name" binding:"required"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Tags        []string       `json:"tags"`
	Extra       map[string]any `json:"extra"`
	IsActive    *bool          `json:"is_active"`
}

func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput) (*Process, error) {
	if in.Type == "" {
		in.Type = TypeUnattended
	}
	if err := ValidateType(in.Type); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindOne(ctx, &Process{TenantID: tenantID, Name: in.Name})
	if err != nil {
		return nil, errutil.Internal("failed to create process", errutil.WithErr(err))
	}
	if existing != nil {
		return nil, errutil.Conflict(fmt.Sprintf("process %q already exists", in.Name))
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	now := s.now()
	p := &Process{
		ID:          s.node.Generate().String(),
		TenantID:    tenantID,
		Name:        in.Name,
		Type:        in.Type,
		Description: in.Description,
		Tags:        datatypes.NewJSONSlice(in.Tags),
		Extra:       datatypes.JSONMap(in.Extra),
		IsActive:    active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict(fmt.Sprintf("process %q already exists", in.Name))
		}
		return nil, errutil.Internal("failed to create process", errutil.WithErr(err))
	}

	zap.L().Info("process created",
		zap.String("tenant_id", tenantID),
		zap.String("process_id", p.ID),
		zap.String("name", p.Name),
	)
	return p, nil
}

type ListFilter struct {
	Type           string
	Tag            string
	Name           string
	IncludeDeleted bool
	pagination.Pagination
}

func (s *Service) List(ctx context.Context, tenantID string, f ListFilter) (*pagination.Page[*Process], error) {
	if f.Type != "" {
		if err := ValidateType(f.Type); err != nil {
			return nil, err
		}
	}

	tx := s.db.WithContext(ctx).Model(&Process{})
	if f.IncludeDeleted {
		tx = tx.Unscoped()
	}
	tx = tx.Where("tenant_id = ?", tenantID)
	if f.Type != "" {
		tx = tx.Where("type = ?", f.Type)
	}
	if f.Name != "" {
		tx = tx.Where("name LIKE ?", "%"+f.Name+"%")
	}
	if f.Tag != "" {
		tx = tx.Where(datatypes.JSONArrayQuery("tags").Contains(f.Tag))
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, errutil.Internal("failed to list processes", errutil.WithErr(err))
	}

	var items []*Process
	if err := option.Apply(tx,
		option.WithOrder("created_at DESC"),
		option.ApplyPagination(f.Pagination),
	).Find(&items).Error; err != nil {
		return nil, errutil.Internal("failed to list processes", errutil.WithErr(err))
	}

	return pagination.NewPage(items, total, f.Pagination), nil
}

func (s *Service) Get(ctx context.Context, tenantID, processID string) (*Process, error) {
	return s.find(ctx, tenantID, processID)
}

type UpdateInput struct {
	Name        *string        `json:"name"`
	Type        *string        `json:"type"`
	Description *string        `json:"description"`
	Tags        []string       `json:"tags"`
	Extra       map[string]any `json:"extra"`
	IsActive    *bool          `json:"is_active"`
}

func (s *Service) Update(ctx context.Context, tenantID, processID string, in UpdateInput) (*Process, error) {
	p, err := s.find(ctx, tenantID, processID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"updated_at": s.now()}

	if in.Name != nil && *in.Name != p.Name {
		existing, err := s.repo.FindOne(ctx, &Process{TenantID: tenantID, Name: *in.Name})
		if err != nil {
			return nil, errutil.Internal("failed to validate process name", errutil.WithErr(err))
		}
		if existing != nil {
			return nil, errutil.Conflict(fmt.Sprintf("process %q already exists", *in.Name))
		}
		updates["name"] = *in.Name
	}
	if in.Type != nil {
		if err := ValidateType(*in.Type); err != nil {
			return nil, err
		}
		updates["type"] = *in.Type
	}
	if in.Description != nil {
		updates["description"] = *in.Description
	}
	if in.Tags != nil {
		updates["tags"] = datatypes.NewJSONSlice(in.Tags)
	}
	if in.Extra != nil {
		updates["extra"] = datatypes.JSONMap(in.Extra)
	}
	if in.IsActive != nil {
		updates["is_active"] = *in.IsActive
	}

	if err := s.repo.Update(ctx, p.ID, updates); err != nil {
		return nil, errutil.Internal("failed to update process", errutil.WithErr(err))
	}
	return s.find(ctx, tenantID, processID)
}

// Delete soft-deletes the process. Versions stay in place so past executions
// remain auditable, and the name is freed for reuse.
func (s *Service) Delete(ctx context.Context, tenantID, processID string) error {
	p, err := s.find(ctx, tenantID, processID)
	if err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(&Process{}, "id = ?", p.ID).Error; err != nil {
		return errutil.Internal("failed to delete process", errutil.WithErr(err))
	}

	s.cache.Invalidate(p.ID)
	zap.L().Info("process deleted", zap.String("tenant_id", tenantID), zap.String("process_id", processID))
	return nil
}

type CreateVersionInput struct {
	Version      string         `json:"version" binding:"required"`
	PackageRef   string         `json:"package_ref"`
	ReleaseNotes string         `json:"release_notes"`
	Config       map[string]any `json:"config"`
}

func (s *Service) CreateVersion(ctx context.Context, tenantID, processID string, in CreateVersionInput) (*Version, error) {
	if err := ValidateSemver(in.Version); err != nil {
		return nil, err
	}

	p, err := s.find(ctx, tenantID, processID)
	if err != nil {
		return nil, err
	}

	existing, err := s.versions.FindOne(ctx, &Version{ProcessID: p.ID, Version: in.Version})
	if err != nil {
		return nil, errutil.Internal("failed to create version", errutil.WithErr(err))
	}
	if existing != nil {
		return nil, errutil.Conflict(fmt.Sprintf("version %q already exists for this process", in.Version))
	}

	v := &Version{
		ID:           s.node.Generate().String(),
		ProcessID:    p.ID,
		Version:      in.Version,
		PackageRef:   in.PackageRef,
		ReleaseNotes: in.ReleaseNotes,
		Config:       datatypes.JSONMap(in.Config),
		CreatedAt:    s.now(),
	}
	if err := s.versions.Create(ctx, v); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict(fmt.Sprintf("version %q already exists for this process", in.Version))
		}
		return nil, errutil.Internal("failed to create version", errutil.WithErr(err))
	}

	zap.L().Info("process version created",
		zap.String("process_id", p.ID),
		zap.String("version", v.Version),
	)
	return v, nil
}

// ListVersions works against soft-deleted processes too: version history is
// part of the audit surface.
func (s *Service) ListVersions(ctx context.Context, tenantID, processID string) ([]*Version, error) {
	if _, err := s.findAny(ctx, tenantID, processID); err != nil {
		return nil, err
	}
	return s.versions.Find(ctx, &Version{ProcessID: processID}, option.WithOrder("created_at DESC"))
}

// ActivateVersion performs the single-active-version cut-over. The write
// order inside the transaction is deactivate first, activate second, so a
// crash mid-sequence leaves zero active versions rather than two.
func (s *Service) ActivateVersion(ctx context.Context, tenantID, processID, versionID string) (*Version, error) {
	p, err := s.find(ctx, tenantID, processID)
	if err != nil {
		return nil, err
	}

	v, err := s.versions.FindOne(ctx, &Version{ID: versionID})
	if err != nil {
		return nil, errutil.Internal("failed to activate version", errutil.WithErr(err))
	}
	if v == nil || v.ProcessID != p.ID {
		return nil, errutil.NotFound("version not found")
	}

	unlock := s.locks.Lock(p.ID)
	defer unlock()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Pin the process row so concurrent cut-overs on other replicas
		// serialize here. SQLite has a single writer and no FOR UPDATE
		// syntax, so the keyed mutex above carries that case alone.
		if s.db.Dialector.Name() != "sqlite" {
			var locked Process
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				First(&locked, "id = ?", p.ID).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&Version{}).
			Where("process_id = ? AND is_active = ? AND id <> ?", p.ID, true, v.ID).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Model(&Version{}).
			Where("id = ?", v.ID).
			Update("is_active", true).Error
	})
	if err != nil {
		return nil, errutil.Internal("failed to activate version", errutil.WithErr(err))
	}

	s.cache.Invalidate(p.ID)

	zap.L().Info("process version activated",
		zap.String("process_id", p.ID),
		zap.String("version_id", v.ID),
		zap.String("version", v.Version),
	)

	v.IsActive = true
	return v, nil
}

// GetActiveVersion returns the currently active version, nil when the
// process has none. Lookups go through the in-process cache.
func (s *Service) GetActiveVersion(ctx context.Context, tenantID, processID string) (*Version, error) {
	if _, err := s.findAny(ctx, tenantID, processID); err != nil {
		return nil, err
	}

	return s.cache.Get(ctx, processID, func(ctx context.Context) (*Version, error) {
		v, err := s.versions.FindOne(ctx, &Version{ProcessID: processID, IsActive: true})
		if err != nil {
			return nil, errutil.Internal("failed to resolve active version", errutil.WithErr(err))
		}
		return v, nil
	})
}

// UploadPackage streams a package artifact to object storage and records the
// resulting ref on the version.
func (s *Service) UploadPackage(ctx context.Context, tenantID, processID, versionID string, r io.Reader, size int64) (*Version, error) {
	if s.packages == nil {
		return nil, errutil.Internal("package storage is not configured")
	}

	p, err := s.find(ctx, tenantID, processID)
	if err != nil {
		return nil, err
	}

	v, err := s.versions.FindOne(ctx, &Version{ID: versionID})
	if err != nil {
		return nil, errutil.Internal("failed to upload package", errutil.WithErr(err))
	}
	if v == nil || v.ProcessID != p.ID {
		return nil, errutil.NotFound("version not found")
	}

	key := fmt.Sprintf("%s/%s/%s.zip", tenantID, slug.Make(p.Name), v.Version)
	ref, err := s.packages.PutPackage(ctx, key, r, size)
	if err != nil {
		zap.L().Error("failed to store package", zap.Error(err), zap.String("key", key))
		return nil, errutil.Internal("failed to store package", errutil.WithErr(err))
	}

	if err := s.versions.Update(ctx, v.ID, map[string]any{"package_ref": ref}); err != nil {
		return nil, errutil.Internal("failed to record package ref", errutil.WithErr(err))
	}

	v.PackageRef = ref
	return v, nil
}

// EnsureSchedulable validates that new workload may target the process:
// it must exist, must not be soft-deleted or disabled, and must have at
// least one version.
func (s *Service) EnsureSchedulable(ctx context.Context, tenantID, processID string) error {
	p, err := s.findAny(ctx, tenantID, processID)
	if err != nil {
		return err
	}
	if p.DeletedAt != 0 {
		return errutil.Conflict("process has been deleted")
	}
	if !p.IsActive {
		return errutil.Conflict("process is disabled")
	}

	count, err := s.versions.Count(ctx, &Version{ProcessID: processID})
	if err != nil {
		return errutil.Internal("failed to check process versions", errutil.WithErr(err))
	}
	if count == 0 {
		return errutil.Conflict("process has no versions and cannot be scheduled")
	}
	return nil
}

func (s *Service) find(ctx context.Context, tenantID, processID string) (*Process, error) {
	p, err := s.repo.FindOne(ctx, &Process{ID: processID, TenantID: tenantID})
	if err != nil {
		return nil, errutil.Internal("failed to get process", errutil.WithErr(err))
	}
	if p == nil {
		return nil, errutil.NotFound("process not found")
	}
	return p, nil
}

// findAny resolves the process including soft-deleted rows.
func (s *Service) findAny(ctx context.Context, tenantID, processID string) (*Process, error) {
	var p Process
	err := s.db.WithContext(ctx).Unscoped().
		Where("id = ? AND tenant_id = ?", processID, tenantID).
		First(&p).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errutil.NotFound("process not found")
		}
		return nil, errutil.Internal("failed to get process", errutil.WithErr(err))
	}
	return &p, nil
}
