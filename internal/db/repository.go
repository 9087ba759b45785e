package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/creatorlab/gramsync/internal/models"
)

// ReconnectMessage is the user-facing signal stored when credentials are
// wiped after a fatal token failure.
const ReconnectMessage = "Your Instagram connection has expired. Please reconnect your account."

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ProfileFields is a partial profile update; nil fields are left untouched
type ProfileFields struct {
	Username       *string
	Name           *string
	Biography      *string
	ProfilePicture *string
	Website        *string
	FollowersCount *int64
	FollowsCount   *int64
	MediaCount     *int64
}

// ConnectionRepository provides access to a user's Instagram connection
type ConnectionRepository struct {
	*Repository
}

// NewConnectionRepository creates a new connection repository
func NewConnectionRepository(repo *Repository) *ConnectionRepository {
	return &ConnectionRepository{Repository: repo}
}

// Get returns the stored credentials for a user, or nil when the user is
// unknown or not connected. Never errors on not-found.
func (r *ConnectionRepository) Get(ctx context.Context, userID string) (*models.Connection, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !user.InstagramConnected || !user.InstagramAccountID.Valid || !user.InstagramAccessToken.Valid {
		return nil, nil
	}
	return &models.Connection{
		UserID:      user.ID,
		AccountID:   user.InstagramAccountID.String,
		AccessToken: user.InstagramAccessToken.String,
	}, nil
}

// GetUser retrieves the full user row
func (r *ConnectionRepository) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// UpdateProfile applies a partial update of cached profile fields.
// No-op when every field is nil.
func (r *ConnectionRepository) UpdateProfile(ctx context.Context, userID string, fields ProfileFields) error {
	updates := map[string]interface{}{}
	if fields.Username != nil {
		updates["instagram_username"] = *fields.Username
	}
	if fields.Name != nil {
		updates["instagram_name"] = *fields.Name
	}
	if fields.Biography != nil {
		updates["instagram_biography"] = *fields.Biography
	}
	if fields.ProfilePicture != nil {
		updates["instagram_profile_picture"] = *fields.ProfilePicture
	}
	if fields.Website != nil {
		updates["instagram_website"] = *fields.Website
	}
	if fields.FollowersCount != nil {
		updates["instagram_followers_count"] = *fields.FollowersCount
	}
	if fields.FollowsCount != nil {
		updates["instagram_follows_count"] = *fields.FollowsCount
	}
	if fields.MediaCount != nil {
		updates["instagram_media_count"] = *fields.MediaCount
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(updates).Error
}

// Clear wipes the connection after a fatal token failure: credentials and
// cached profile fields are unset, the user must relink. Idempotent.
func (r *ConnectionRepository) Clear(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"instagram_connected":       false,
			"instagram_account_id":      nil,
			"instagram_access_token":    nil,
			"instagram_username":        nil,
			"instagram_name":            nil,
			"instagram_biography":       nil,
			"instagram_profile_picture": nil,
			"instagram_website":         nil,
			"instagram_followers_count": nil,
			"instagram_follows_count":   nil,
			"instagram_media_count":     nil,
			"sync_error_message":        ReconnectMessage,
		}).Error
}

// SetSyncStatus overwrites the last-attempt status fields
func (r *ConnectionRepository) SetSyncStatus(ctx context.Context, userID string, attempt time.Time, success *time.Time, message *string) error {
	updates := map[string]interface{}{
		"last_sync_attempt": attempt,
	}
	if success != nil {
		updates["last_sync_success"] = *success
	}
	if message != nil {
		updates["sync_error_message"] = *message
	} else {
		updates["sync_error_message"] = nil
	}
	return r.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", userID).
		Updates(updates).Error
}

// MetricRepository provides metric document operations
type MetricRepository struct {
	*Repository
}

// NewMetricRepository creates a new metric repository
func NewMetricRepository(repo *Repository) *MetricRepository {
	return &MetricRepository{Repository: repo}
}

// Upsert writes a metric document keyed by (user_id, instagram_media_id).
// Existing stats are merged with the incoming payload so counters saved
// by earlier runs survive partial updates. The insert path leaves
// classification_status at its pending default; updates never touch it.
// Returns the stored row and whether it was newly created.
func (r *MetricRepository) Upsert(ctx context.Context, metric *models.Metric) (*models.Metric, bool, error) {
	var stored models.Metric
	created := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Metric
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND instagram_media_id = ?", metric.UserID, metric.InstagramMediaID).
			First(&existing).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			metric.ClassificationStatus = models.ClassificationPending
			if err := tx.Create(metric).Error; err != nil {
				return err
			}
			created = true
			stored = *metric
			return nil
		}

		updates := map[string]interface{}{
			"post_link":   metric.PostLink,
			"description": metric.Description,
			"post_date":   metric.PostDate,
			"format":      metric.Format,
			"media_type":  metric.MediaType,
			"stats":       models.MergeStats(existing.Stats, metric.Stats),
		}
		if err := tx.Model(&existing).Updates(updates).Error; err != nil {
			return err
		}
		existing.Stats = updates["stats"].(models.JSONMap)
		stored = existing
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &stored, created, nil
}

// GetByID retrieves a metric by primary key
func (r *MetricRepository) GetByID(ctx context.Context, id int64) (*models.Metric, error) {
	var metric models.Metric
	if err := r.db.WithContext(ctx).First(&metric, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &metric, nil
}

// SnapshotRepository provides daily snapshot operations
type SnapshotRepository struct {
	*Repository
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(repo *Repository) *SnapshotRepository {
	return &SnapshotRepository{Repository: repo}
}

// LatestBefore returns the most recent snapshot for a metric strictly
// before the given day, or nil when none exists.
func (r *SnapshotRepository) LatestBefore(ctx context.Context, metricID int64, day time.Time) (*models.DailySnapshot, error) {
	var snap models.DailySnapshot
	err := r.db.WithContext(ctx).
		Where("metric_id = ? AND day < ?", metricID, day).
		Order("day DESC").
		First(&snap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &snap, nil
}

// UpsertDay writes the snapshot row for (metric_id, day)
func (r *SnapshotRepository) UpsertDay(ctx context.Context, snap *models.DailySnapshot) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.DailySnapshot
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("metric_id = ? AND day = ?", snap.MetricID, snap.Day).
			First(&existing).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			return tx.Create(snap).Error
		}
		return tx.Model(&existing).Updates(map[string]interface{}{
			"cumulative": snap.Cumulative,
			"daily":      snap.Daily,
		}).Error
	})
}

// AccountSnapshotRepository provides account insight snapshot operations
type AccountSnapshotRepository struct {
	*Repository
}

// NewAccountSnapshotRepository creates a new account snapshot repository
func NewAccountSnapshotRepository(repo *Repository) *AccountSnapshotRepository {
	return &AccountSnapshotRepository{Repository: repo}
}

// Append inserts a new snapshot row; the log is append-only
func (r *AccountSnapshotRepository) Append(ctx context.Context, snap *models.AccountInsightSnapshot) error {
	return r.db.WithContext(ctx).Create(snap).Error
}
