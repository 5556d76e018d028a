package process

import (
	"fmt"
	"time"

	"rpa-orchestrator/pkg/errutil"

	"gorm.io/datatypes"
	"gorm.io/plugin/soft_delete"
)

// Process types mirror how the automation runs: unattended on a headless
// worker, attended alongside a human session, or hybrid.
const (
	TypeUnattended = "unattended"
	TypeAttended   = "attended"
	TypeHybrid     = "hybrid"
)

func ValidateType(t string) error {
	switch t {
	case TypeUnattended, TypeAttended, TypeHybrid:
		return nil
	default:
		return errutil.ValidationFailed(fmt.Sprintf("invalid process type %q", t))
	}
}

// Process is a named automation definition. Deletion is soft so executed
// versions stay queryable for audit. The deleted_at column participates in
// the name uniqueness index (zero while live), so a live name can exist only
// once per tenant while deleted processes free it for reuse.
type Process struct {
	ID          string                      `gorm:"column:id;primaryKey" json:"id"`
	TenantID    string                      `gorm:"column:tenant_id;uniqueIndex:uq_processes_tenant_name" json:"tenant_id"`
	Name        string                      `gorm:"column:name;uniqueIndex:uq_processes_tenant_name" json:"name"`
	Type        string                      `gorm:"column:type;index" json:"type"`
	Description string                      `gorm:"column:description" json:"description"`
	Tags        datatypes.JSONSlice[string] `gorm:"column:tags" json:"tags"`
	Extra       datatypes.JSONMap           `gorm:"column:extra" json:"extra"`
	IsActive    bool                        `gorm:"column:is_active" json:"is_active"`
	CreatedAt   time.Time                   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time                   `gorm:"column:updated_at" json:"updated_at"`
	DeletedAt   soft_delete.DeletedAt       `gorm:"column:deleted_at;uniqueIndex:uq_processes_tenant_name" json:"deleted_at,omitempty"`
}

func (Process) TableName() string { return "processes" }

// Version is one immutable revision of a process. Only the is_active flag
// ever changes after creation, and at most one version per process holds it.
type Version struct {
	ID           string            `gorm:"column:id;primaryKey" json:"id"`
	ProcessID    string            `gorm:"column:process_id;uniqueIndex:uq_versions_process_version" json:"process_id"`
	Version      string            `gorm:"column:version;uniqueIndex:uq_versions_process_version" json:"version"`
	PackageRef   string            `gorm:"column:package_ref" json:"package_ref"`
	ReleaseNotes string            `gorm:"column:release_notes" json:"release_notes"`
	Config       datatypes.JSONMap `gorm:"column:config" json:"config"`
	IsActive     bool              `gorm:"column:is_active;index" json:"is_active"`
	CreatedAt    time.Time         `gorm:"column:created_at" json:"created_at"`
}

func (Version) TableName() string { return "process_versions" }
