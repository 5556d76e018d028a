package workload

import (
	"time"

	"rpa-orchestrator/pkg/errutil"

	"gorm.io/datatypes"
)

// Priority is an ordered label. Ordering for claim selection happens in SQL
// via the CASE ranking in priorityRank, so the stored value stays readable.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// priorityRank is the SQL expression used to order claim candidates.
const priorityRank = "CASE priority WHEN 'critical' THEN 3 WHEN 'high' THEN 2 WHEN 'normal' THEN 1 ELSE 0 END"

func (p Priority) Validate() error {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return nil
	}
	return errutil.ValidationFailed("priority must be one of low, normal, high, critical")
}

// Item status values. The aliases block maps the labels older dashboard and
// agent builds still send onto the four canonical states.
const (
	StatusPending   = "pending"
	StatusClaimed   = "claimed"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var statusAliases = map[string]string{
	"queued":      StatusPending,
	"processing":  StatusClaimed,
	"in_progress": StatusClaimed,
	"running":     StatusClaimed,
}

// NormalizeStatus resolves presentation aliases to a canonical state.
// Returns an error for labels outside the state machine.
func NormalizeStatus(s string) (string, error) {
	if canonical, ok := statusAliases[s]; ok {
		return canonical, nil
	}
	switch s {
	case StatusPending, StatusClaimed, StatusCompleted, StatusFailed:
		return s, nil
	}
	return "", errutil.ValidationFailed("unknown workload status " + s)
}

// Item is one unit of dispatchable work. The status column plus claimed_by
// form the at-most-one-claim guard: the claim transition is a conditional
// update on status = pending, never a read-then-write.
type Item struct {
	ID               string            `gorm:"column:id;primaryKey" json:"id"`
	TenantID         string            `gorm:"column:tenant_id;index:idx_items_tenant_status" json:"tenant_id"`
	QueueName        string            `gorm:"column:queue_name;index" json:"queue_name"`
	Reference        string            `gorm:"column:reference;index" json:"reference"`
	Priority         Priority          `gorm:"column:priority" json:"priority"`
	Payload          datatypes.JSONMap `gorm:"column:payload" json:"payload"`
	ProcessID        string            `gorm:"column:process_id;index" json:"process_id,omitempty"`
	ProcessVersionID string            `gorm:"column:process_version_id" json:"process_version_id,omitempty"`
	Status           string            `gorm:"column:status;index:idx_items_tenant_status" json:"status"`
	ClaimedBy        *string           `gorm:"column:claimed_by;index" json:"claimed_by"`
	ClaimedAt        *time.Time        `gorm:"column:claimed_at" json:"claimed_at"`
	RetryCount       int               `gorm:"column:retry_count" json:"retry_count"`
	Result           datatypes.JSONMap `gorm:"column:result" json:"result,omitempty"`
	Error            string            `gorm:"column:error" json:"error,omitempty"`
	CreatedAt        time.Time         `gorm:"column:created_at;index" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"column:updated_at" json:"updated_at"`
	CompletedAt      *time.Time        `gorm:"column:completed_at" json:"completed_at"`
}

func (Item) TableName() string { return "workload_items" }
