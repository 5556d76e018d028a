package audit

import "time"

// ExecutionEvent is one row of the workload item event trail, written by the
// worker from lifecycle events the orchestrator publishes.
type ExecutionEvent struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	TenantID  string    `gorm:"column:tenant_id;index" json:"tenant_id"`
	ItemID    string    `gorm:"column:item_id;index" json:"item_id"`
	AgentID   string    `gorm:"column:agent_id" json:"agent_id,omitempty"`
	ProcessID string    `gorm:"column:process_id" json:"process_id,omitempty"`
	VersionID string    `gorm:"column:version_id" json:"version_id,omitempty"`
	Type      string    `gorm:"column:type" json:"type"`
	Detail    string    `gorm:"column:detail" json:"detail,omitempty"`
	At        time.Time `gorm:"column:at" json:"at"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (ExecutionEvent) TableName() string { return "execution_events" }
