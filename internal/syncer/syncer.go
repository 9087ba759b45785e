package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/creatorlab/gramsync/internal/db"
	"github.com/creatorlab/gramsync/internal/graph"
	"github.com/creatorlab/gramsync/internal/models"
	"github.com/creatorlab/gramsync/pkg/config"
	"github.com/creatorlab/gramsync/pkg/logging"
	"github.com/creatorlab/gramsync/pkg/telemetry"
)

// GraphAPI is the Instagram Graph surface the pipeline consumes
type GraphAPI interface {
	AccountProfile(ctx context.Context, accountID, token string) (*graph.Profile, error)
	ListMedia(ctx context.Context, accountID, token, after string) ([]graph.Media, string, error)
	MediaInsights(ctx context.Context, mediaID, token, metrics string) (map[string]interface{}, error)
	AccountInsights(ctx context.Context, accountID, token, period string, systemToken bool) (*graph.InsightsResult, error)
	Demographics(ctx context.Context, accountID, token string) (*graph.InsightsResult, error)
}

// ConnectionStore reads and mutates a user's connection record
type ConnectionStore interface {
	Get(ctx context.Context, userID string) (*models.Connection, error)
	UpdateProfile(ctx context.Context, userID string, fields db.ProfileFields) error
	Clear(ctx context.Context, userID string) error
	SetSyncStatus(ctx context.Context, userID string, attempt time.Time, success *time.Time, message *string) error
}

// MetricStore persists metric documents
type MetricStore interface {
	Upsert(ctx context.Context, metric *models.Metric) (*models.Metric, bool, error)
}

// SnapshotStore persists daily snapshots
type SnapshotStore interface {
	LatestBefore(ctx context.Context, metricID int64, day time.Time) (*models.DailySnapshot, error)
	UpsertDay(ctx context.Context, snap *models.DailySnapshot) error
}

// AccountSnapshotStore persists account insight snapshots
type AccountSnapshotStore interface {
	Append(ctx context.Context, snap *models.AccountInsightSnapshot) error
}

// Publisher enqueues fire-and-forget jobs
type Publisher interface {
	EnqueueClassification(ctx context.Context, metricID int64) error
}

// RefreshDetails carries per-run observability counts
type RefreshDetails struct {
	MediaFound            int  `json:"mediaFound"`
	MediaProcessed        int  `json:"mediaProcessed"`
	MediaSaved            int  `json:"mediaSaved"`
	SkippedOld            int  `json:"skippedOld"`
	InsightsCollected     bool `json:"insightsCollected"`
	DemographicsCollected bool `json:"demographicsCollected"`
	ProfileFetched        bool `json:"profileFetched"`
}

// RefreshResult is the structured outcome of one refresh run
type RefreshResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Details RefreshDetails `json:"details"`
}

// Syncer runs the connected-account refresh pipeline
type Syncer struct {
	cfg              *config.SyncerConfig
	systemToken      string
	graphAPI         GraphAPI
	connections      ConnectionStore
	metrics          MetricStore
	snapshots        SnapshotStore
	accountSnapshots AccountSnapshotStore
	publisher        Publisher
	reconnectMessage string
	logger           *zap.Logger
	now              func() time.Time
}

// New creates a Syncer. All collaborators are injected; nothing is
// resolved from package state.
func New(cfg *config.Config, api GraphAPI, connections ConnectionStore, metrics MetricStore, snapshots SnapshotStore, accountSnapshots AccountSnapshotStore, publisher Publisher) *Syncer {
	return &Syncer{
		cfg:              &cfg.Syncer,
		systemToken:      cfg.Graph.SystemToken,
		graphAPI:         api,
		connections:      connections,
		metrics:          metrics,
		snapshots:        snapshots,
		accountSnapshots: accountSnapshots,
		publisher:        publisher,
		reconnectMessage: db.ReconnectMessage,
		logger:           logging.GetLogger().With(zap.String("component", "syncer")),
		now:              time.Now,
	}
}

// TriggerDataRefresh refreshes all cached Instagram data for one user.
// It never returns an error: every internal failure is folded into the
// structured result and, best effort, the stored sync status.
func (s *Syncer) TriggerDataRefresh(ctx context.Context, userID string) (result *RefreshResult) {
	ctx, span := telemetry.StartSpan(ctx, "sync.refresh")
	defer span.End()

	start := s.now().UTC()

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("Panic during refresh",
				zap.String("user_id", userID),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			message := "internal error during sync"
			result = &RefreshResult{Success: false, Message: message}
			if err := s.connections.SetSyncStatus(ctx, userID, start, nil, &message); err != nil {
				s.logger.Error("Failed to persist sync status after panic", zap.Error(err))
			}
		}
	}()

	s.logger.Info("Starting refresh", zap.String("user_id", userID))

	conn, err := s.connections.Get(ctx, userID)
	if err != nil {
		message := fmt.Sprintf("failed to load connection: %v", err)
		return &RefreshResult{Success: false, Message: message}
	}
	if conn == nil {
		return &RefreshResult{Success: false, Message: "instagram account not connected"}
	}

	r := &run{
		s:             s,
		userID:        userID,
		userToken:     conn.AccessToken,
		fallbackToken: s.systemToken,
	}
	details := RefreshDetails{}

	// FETCH_BASIC_PROFILE
	var profile *graph.Profile
	if err := r.call(ctx, false, func(token string, system bool) error {
		p, err := s.graphAPI.AccountProfile(ctx, conn.AccountID, token)
		if err == nil {
			profile = p
		}
		return err
	}); err != nil {
		if !r.isFatal() {
			r.recordStep("profile", err)
		}
	} else {
		details.ProfileFetched = true
		if err := s.connections.UpdateProfile(ctx, userID, profileFields(profile)); err != nil {
			r.recordStep("profile-update", err)
		}
	}

	// FETCH_MEDIA_PAGE* + FETCH_MEDIA_INSIGHTS
	s.syncMedia(ctx, r, conn, &details)

	// FETCH_ACCOUNT_INSIGHTS
	var insights *graph.InsightsResult
	if !r.isFatal() {
		if err := r.call(ctx, false, func(token string, system bool) error {
			res, err := s.graphAPI.AccountInsights(ctx, conn.AccountID, token, s.cfg.InsightsPeriod, system)
			if err == nil {
				insights = res
			}
			return err
		}); err != nil {
			if !r.isFatal() {
				r.recordStep("account-insights", err)
			}
		} else if insights != nil {
			details.InsightsCollected = len(insights.Values) > 0
			// Partial metric failures are warnings, not run failures
			for _, msg := range insights.Errors {
				s.logger.Warn("Account insight metric failed",
					zap.String("user_id", userID),
					zap.String("detail", msg))
			}
		}
	}

	// FETCH_DEMOGRAPHICS
	var demographics *graph.InsightsResult
	if !r.isFatal() {
		if err := r.call(ctx, false, func(token string, system bool) error {
			res, err := s.graphAPI.Demographics(ctx, conn.AccountID, token)
			if err == nil {
				demographics = res
			}
			return err
		}); err != nil {
			if !r.isFatal() {
				r.recordStep("demographics", err)
			}
		} else if demographics != nil {
			details.DemographicsCollected = len(demographics.Values) > 0
		}
	}

	// PERSIST_ACCOUNT_SNAPSHOT
	if !r.isFatal() {
		if err := s.SaveAccountSnapshot(ctx, userID, conn.AccountID, insights, demographics, profile); err != nil {
			r.recordStep("account-snapshot", err)
		}
	}

	// FINALIZE
	return s.finalize(ctx, r, start, details)
}

// syncMedia walks media pages in cursor order and fetches insights for
// fresh media under the bounded worker limit. A fatal token error from a
// worker short-circuits remaining pages.
func (s *Syncer) syncMedia(ctx context.Context, r *run, conn *models.Connection, details *RefreshDetails) {
	ctx, span := telemetry.StartSpan(ctx, "sync.media")
	defer span.End()

	if r.isFatal() {
		return
	}

	oldCutoff := startOfDayUTC(s.now()).AddDate(0, 0, -s.cfg.OldMediaCutoffDays)
	cursor := ""

	for page := 0; page < s.cfg.MaxMediaPages; page++ {
		var media []graph.Media
		var next string
		// Listing requires the user's own token; no fallback applies
		err := r.call(ctx, true, func(token string, system bool) error {
			m, n, err := s.graphAPI.ListMedia(ctx, conn.AccountID, token, cursor)
			if err == nil {
				media, next = m, n
			}
			return err
		})
		if err != nil {
			if !r.isFatal() {
				r.recordStep("media-list", err)
			}
			return
		}

		details.MediaFound += len(media)

		fresh := make([]graph.Media, 0, len(media))
		for _, m := range media {
			if postedAt := m.PostedAt(); !postedAt.IsZero() && postedAt.Before(oldCutoff) {
				details.SkippedOld++
				continue
			}
			fresh = append(fresh, m)
		}

		if fatalErr := s.fetchInsights(ctx, r, fresh, details); fatalErr != nil {
			r.escalateFatal(ctx)
			return
		}
		if r.isFatal() {
			return
		}

		if next == "" {
			return
		}
		cursor = next
	}
}

// fetchInsights processes one page's media under the concurrency bound.
// Returns the first *graph.TokenError seen by any worker, post-join.
func (s *Syncer) fetchInsights(ctx context.Context, r *run, media []graph.Media, details *RefreshDetails) error {
	sem := make(chan struct{}, s.cfg.MaxWorkers)
	var wg sync.WaitGroup

	var mu sync.Mutex
	var tokenErr error
	processed, saved := 0, 0

	for _, m := range media {
		wg.Add(1)
		sem <- struct{}{}
		go func(m graph.Media) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.processMedia(ctx, r, m)

			mu.Lock()
			defer mu.Unlock()
			processed++
			if err == nil {
				saved++
				return
			}
			var te *graph.TokenError
			if errors.As(err, &te) {
				if tokenErr == nil {
					tokenErr = err
				}
				return
			}
			r.recordStep(fmt.Sprintf("media-insights %s", m.ID), err)
		}(m)
	}
	wg.Wait()

	details.MediaProcessed += processed
	details.MediaSaved += saved
	return tokenErr
}

// processMedia fetches one media item's insights and persists them
func (s *Syncer) processMedia(ctx context.Context, r *run, m graph.Media) error {
	metrics := graph.MetricsForMedia(m.MediaType, m.MediaProductType)

	var insights map[string]interface{}
	// tryTokens, not call: workers must not escalate mid-flight
	if err := r.tryTokens(false, func(token string, system bool) error {
		values, err := s.graphAPI.MediaInsights(ctx, m.ID, token, metrics)
		if err == nil {
			insights = values
		}
		return err
	}); err != nil {
		return err
	}

	return s.SaveMetric(ctx, r.userID, m, insights)
}

// finalize computes the overall outcome and persists the sync status
func (s *Syncer) finalize(ctx context.Context, r *run, start time.Time, details RefreshDetails) *RefreshResult {
	r.mu.Lock()
	fatal := r.fatal
	tokenMessage := r.tokenMessage
	stepErrors := append([]string{}, r.stepErrors...)
	r.mu.Unlock()

	success := !fatal && len(stepErrors) == 0

	message := ""
	switch {
	case tokenMessage != "":
		message = tokenMessage
	case len(stepErrors) > 0:
		message = stepErrors[0]
	}

	var successAt *time.Time
	var messagePtr *string
	if success {
		now := s.now().UTC()
		successAt = &now
	}
	if message != "" {
		messagePtr = &message
	}
	if err := s.connections.SetSyncStatus(ctx, r.userID, start, successAt, messagePtr); err != nil {
		s.logger.Error("Failed to persist sync status",
			zap.String("user_id", r.userID),
			zap.Error(err))
	}

	s.logger.Info("Refresh finished",
		zap.String("user_id", r.userID),
		zap.Bool("success", success),
		zap.Int("media_found", details.MediaFound),
		zap.Int("media_saved", details.MediaSaved),
		zap.Int("skipped_old", details.SkippedOld),
		zap.Int("step_errors", len(stepErrors)))

	return &RefreshResult{Success: success, Message: message, Details: details}
}

// profileFields converts a fetched profile into a partial update
func profileFields(p *graph.Profile) db.ProfileFields {
	return db.ProfileFields{
		Username:       &p.Username,
		Name:           &p.Name,
		Biography:      &p.Biography,
		ProfilePicture: &p.ProfilePictureURL,
		Website:        &p.Website,
		FollowersCount: &p.FollowersCount,
		FollowsCount:   &p.FollowsCount,
		MediaCount:     &p.MediaCount,
	}
}
