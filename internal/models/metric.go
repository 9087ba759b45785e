package models

import (
	"time"
)

// Classification status values for a metric document
const (
	ClassificationPending = "pending"
	ClassificationDone    = "done"
	ClassificationSkipped = "skipped"
)

// Metric is the local persisted representation of one Instagram media
// item. Identity key is (user_id, instagram_media_id); stats counters are
// cumulative values as reported by the Graph API at fetch time.
type Metric struct {
	ID               int64     `gorm:"primaryKey;autoIncrement;column:id"`
	UserID           string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_metrics_user_media;column:user_id"`
	InstagramMediaID string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_metrics_user_media;column:instagram_media_id"`
	Source           string    `gorm:"type:varchar(32);not null;default:instagram;column:source"`
	PostLink         string    `gorm:"type:text;column:post_link"`
	Description      string    `gorm:"type:text;column:description"`
	PostDate         time.Time `gorm:"not null;column:post_date"`
	Format           string    `gorm:"type:varchar(32);column:format"`
	MediaType        string    `gorm:"type:varchar(32);column:media_type"`

	// Cumulative counters, merged on every sync; keys absent from a new
	// payload are never dropped.
	Stats JSONMap `gorm:"type:jsonb;column:stats"`

	ClassificationStatus string `gorm:"type:varchar(32);not null;default:pending;column:classification_status"`

	CreatedAt time.Time `gorm:"not null;column:created_at"`
	UpdatedAt time.Time `gorm:"not null;column:updated_at"`
}

// TableName specifies the table name for Metric
func (Metric) TableName() string {
	return "metrics"
}
