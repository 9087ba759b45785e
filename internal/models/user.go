package models

import (
	"database/sql"
	"time"
)

// User represents a platform user and their Instagram connection state.
// Connection fields are owned by the sync pipeline: populated on account
// linking, refreshed on every sync, wiped on fatal token failure.
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(64);column:id"`
	Email     string    `gorm:"type:varchar(255);column:email"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
	UpdatedAt time.Time `gorm:"not null;column:updated_at"`

	// Instagram connection
	InstagramConnected   bool           `gorm:"not null;default:false;column:instagram_connected"`
	InstagramAccountID   sql.NullString `gorm:"type:varchar(64);column:instagram_account_id"`
	InstagramAccessToken sql.NullString `gorm:"type:text;column:instagram_access_token"`

	// Cached profile fields
	InstagramUsername       sql.NullString `gorm:"type:varchar(255);column:instagram_username"`
	InstagramName           sql.NullString `gorm:"type:varchar(255);column:instagram_name"`
	InstagramBiography      sql.NullString `gorm:"type:text;column:instagram_biography"`
	InstagramProfilePicture sql.NullString `gorm:"type:text;column:instagram_profile_picture"`
	InstagramWebsite        sql.NullString `gorm:"type:text;column:instagram_website"`
	InstagramFollowersCount sql.NullInt64  `gorm:"column:instagram_followers_count"`
	InstagramFollowsCount   sql.NullInt64  `gorm:"column:instagram_follows_count"`
	InstagramMediaCount     sql.NullInt64  `gorm:"column:instagram_media_count"`

	// Sync status, overwritten on every run
	LastSyncAttempt  sql.NullTime   `gorm:"column:last_sync_attempt"`
	LastSyncSuccess  sql.NullTime   `gorm:"column:last_sync_success"`
	SyncErrorMessage sql.NullString `gorm:"type:text;column:sync_error_message"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

// Connection is the credential pair a sync run needs
type Connection struct {
	UserID      string
	AccountID   string
	AccessToken string
}
