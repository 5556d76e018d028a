package agent

import (
	"time"

	"gorm.io/datatypes"
)

// Agent is a registered worker process. Liveness is never stored: it is a
// pure function of (now, last_heartbeat, timeout) computed at read time.
type Agent struct {
	ID            string                      `gorm:"column:id;primaryKey" json:"id"`
	TenantID      string                      `gorm:"column:tenant_id;uniqueIndex:uq_agents_tenant_name" json:"tenant_id"`
	Name          string                      `gorm:"column:name;uniqueIndex:uq_agents_tenant_name" json:"name"`
	MachineName   string                      `gorm:"column:machine_name" json:"machine_name"`
	Address       string                      `gorm:"column:address" json:"address"`
	Version       string                      `gorm:"column:version" json:"version"`
	Capabilities  datatypes.JSONSlice[string] `gorm:"column:capabilities" json:"capabilities"`
	Extra         datatypes.JSONMap           `gorm:"column:extra" json:"extra"`
	Status        string                      `gorm:"column:status" json:"status"`
	LastHeartbeat *time.Time                  `gorm:"column:last_heartbeat;index" json:"last_heartbeat"`
	Completed     int64                       `gorm:"column:completed_count" json:"completed_count"`
	Failed        int64                       `gorm:"column:failed_count" json:"failed_count"`
	CreatedAt     time.Time                   `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time                   `gorm:"column:updated_at" json:"updated_at"`
}

func (Agent) TableName() string { return "agents" }

// IsOnline reports liveness at the given instant. The boundary is inclusive:
// an agent whose heartbeat is exactly timeout old is still online.
func (a *Agent) IsOnline(now time.Time, timeout time.Duration) bool {
	if a.LastHeartbeat == nil {
		return false
	}
	return now.Sub(*a.LastHeartbeat) <= timeout
}

// View is the serialization shape with liveness resolved.
type View struct {
	Agent
	IsOnline bool `json:"is_online"`
}

func (a *Agent) View(now time.Time, timeout time.Duration) *View {
	return &View{Agent: *a, IsOnline: a.IsOnline(now, timeout)}
}
