package schedule

import "time"

// Schedule fires workload items on a cron cadence. next_run is always the
// next future tick; missed ticks while the orchestrator was down are not
// backfilled.
type Schedule struct {
	ID          string     `gorm:"column:id;primaryKey" json:"id"`
	TenantID    string     `gorm:"column:tenant_id;index" json:"tenant_id"`
	Name        string     `gorm:"column:name" json:"name"`
	CronExpr    string     `gorm:"column:cron_expr" json:"cron_expr"`
	ProcessID   string     `gorm:"column:process_id" json:"process_id,omitempty"`
	QueueName   string     `gorm:"column:queue_name" json:"queue_name"`
	IsActive    bool       `gorm:"column:is_active;index" json:"is_active"`
	NextRun     *time.Time `gorm:"column:next_run;index" json:"next_run"`
	LastFiredAt *time.Time `gorm:"column:last_fired_at" json:"last_fired_at"`
	CreatedAt   time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

func (Schedule) TableName() string { return "schedules" }
