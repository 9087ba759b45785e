package models

import (
	"time"
)

// DailySnapshot holds, for one metric and one calendar day, the
// cumulative counters observed that day and the delta since the previous
// snapshot. Deltas are clamped at zero when the API reports a regression.
type DailySnapshot struct {
	ID       int64     `gorm:"primaryKey;autoIncrement;column:id"`
	MetricID int64     `gorm:"not null;uniqueIndex:idx_snapshots_metric_day;column:metric_id"`
	Day      time.Time `gorm:"type:date;not null;uniqueIndex:idx_snapshots_metric_day;column:day"`

	Cumulative JSONMap `gorm:"type:jsonb;column:cumulative"`
	Daily      JSONMap `gorm:"type:jsonb;column:daily"`

	CreatedAt time.Time `gorm:"not null;column:created_at"`
	UpdatedAt time.Time `gorm:"not null;column:updated_at"`

	Metric *Metric `gorm:"foreignKey:MetricID;references:ID"`
}

// TableName specifies the table name for DailySnapshot
func (DailySnapshot) TableName() string {
	return "daily_snapshots"
}

// AccountInsightSnapshot is an append-only record of account-level
// insights, audience demographics and profile details captured by one
// sync run. Rows are never updated or deduplicated.
type AccountInsightSnapshot struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id"`
	UserID     string    `gorm:"type:varchar(64);not null;index;column:user_id"`
	AccountID  string    `gorm:"type:varchar(64);not null;column:account_id"`
	RecordedAt time.Time `gorm:"not null;column:recorded_at"`

	InsightsPeriod       string  `gorm:"type:varchar(16);column:insights_period"`
	AccountInsights      JSONMap `gorm:"type:jsonb;column:account_insights"`
	AudienceDemographics JSONMap `gorm:"type:jsonb;column:audience_demographics"`
	AccountDetails       JSONMap `gorm:"type:jsonb;column:account_details"`

	CreatedAt time.Time `gorm:"not null;column:created_at"`
}

// TableName specifies the table name for AccountInsightSnapshot
func (AccountInsightSnapshot) TableName() string {
	return "account_insight_snapshots"
}
