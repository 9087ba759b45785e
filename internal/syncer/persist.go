package syncer

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/creatorlab/gramsync/internal/graph"
	"github.com/creatorlab/gramsync/internal/models"
)

// Display formats by raw media type; product naming predates the Go
// service and is kept as-is.
var formatByMediaType = map[string]string{
	"IMAGE":          "Foto",
	"VIDEO":          "Reel",
	"CAROUSEL_ALBUM": "Carrossel",
	"STORY":          "Story",
}

// FormatForMediaType maps a raw Graph media type to the display format
func FormatForMediaType(mediaType string) string {
	if format, ok := formatByMediaType[strings.ToUpper(mediaType)]; ok {
		return format
	}
	return "Desconhecido"
}

// Counters that get a day-over-day delta in daily snapshots.
// total_interactions is deliberately absent: it is stored cumulative
// only.
var deltaCounters = []string{
	"views", "likes", "comments", "shares", "saved",
	"reach", "follows", "profile_visits",
}

// Reel watch time keeps a cumulative/delta pair of its own
const watchTimeCounter = "ig_reels_video_view_total_time"

// SaveMetric upserts the metric document for one media item and derives
// its daily snapshot. Stories are skipped entirely: their metrics arrive
// through the story webhook path.
func (s *Syncer) SaveMetric(ctx context.Context, userID string, media graph.Media, insights map[string]interface{}) error {
	if strings.EqualFold(media.MediaType, "STORY") || strings.EqualFold(media.MediaProductType, "STORY") {
		return nil
	}

	metric := &models.Metric{
		UserID:           userID,
		InstagramMediaID: media.ID,
		Source:           "instagram",
		PostLink:         media.Permalink,
		Description:      media.Caption,
		PostDate:         media.PostedAt(),
		Format:           FormatForMediaType(media.MediaType),
		MediaType:        media.MediaType,
		Stats:            models.JSONMap(insights),
	}

	stored, created, err := s.metrics.Upsert(ctx, metric)
	if err != nil {
		return err
	}

	if created && stored.ClassificationStatus == models.ClassificationPending &&
		strings.TrimSpace(stored.Description) != "" {
		// Fire-and-forget; a queue outage must not fail the sync
		if err := s.publisher.EnqueueClassification(ctx, stored.ID); err != nil {
			s.logger.Warn("Failed to enqueue classification",
				zap.Int64("metric_id", stored.ID),
				zap.Error(err))
		}
	}

	return s.deriveDailySnapshot(ctx, stored)
}

// deriveDailySnapshot writes the (metric, today) snapshot row with
// cumulative counters and deltas against the latest prior snapshot.
func (s *Syncer) deriveDailySnapshot(ctx context.Context, metric *models.Metric) error {
	today := startOfDayUTC(s.now())

	if pastSnapshotWindow(metric.PostDate, today, s.cfg.SnapshotWindowDays) {
		s.logger.Debug("Post past snapshot window, skipping snapshot",
			zap.Int64("metric_id", metric.ID),
			zap.Time("post_date", metric.PostDate))
		return nil
	}

	prev, err := s.snapshots.LatestBefore(ctx, metric.ID, today)
	if err != nil {
		return err
	}
	var prevStats models.JSONMap
	if prev != nil {
		prevStats = prev.Cumulative
	}

	cumulative, daily, anomalies := buildSnapshotPayload(metric.Stats, prevStats)
	for _, name := range anomalies {
		s.logger.Warn("Cumulative counter regressed, clamping delta to zero",
			zap.Int64("metric_id", metric.ID),
			zap.String("counter", name))
	}

	return s.snapshots.UpsertDay(ctx, &models.DailySnapshot{
		MetricID:   metric.ID,
		Day:        today,
		Cumulative: cumulative,
		Daily:      daily,
	})
}

// startOfDayUTC truncates a time to UTC midnight
func startOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// pastSnapshotWindow reports whether today is beyond the snapshot cutoff
// for a post published at postDate.
func pastSnapshotWindow(postDate, today time.Time, windowDays int) bool {
	if postDate.IsZero() {
		return false
	}
	cutoff := startOfDayUTC(postDate).AddDate(0, 0, windowDays)
	return today.After(cutoff)
}

// buildSnapshotPayload computes the cumulative and daily payloads for a
// snapshot. Deltas are max(0, current-previous); counters that regressed
// are reported in anomalies. Pure.
func buildSnapshotPayload(current, previous models.JSONMap) (cumulative, daily models.JSONMap, anomalies []string) {
	cumulative = make(models.JSONMap, len(current))
	for k, v := range current {
		cumulative[k] = v
	}

	daily = make(models.JSONMap)
	counters := append(append([]string{}, deltaCounters...), watchTimeCounter)
	for _, name := range counters {
		cur, ok := models.NumberAt(current, name)
		if !ok {
			continue
		}
		prev, _ := models.NumberAt(previous, name)
		delta := cur - prev
		if delta < 0 {
			anomalies = append(anomalies, name)
			delta = 0
		}
		daily[name] = delta
	}
	return cumulative, daily, anomalies
}

// SaveAccountSnapshot appends one account insight snapshot row built
// from whichever payloads the run collected. No-op when all are empty.
func (s *Syncer) SaveAccountSnapshot(ctx context.Context, userID, accountID string, insights, demographics *graph.InsightsResult, profile *graph.Profile) error {
	hasInsights := insights != nil && len(insights.Values) > 0
	hasDemographics := demographics != nil && len(demographics.Values) > 0
	if !hasInsights && !hasDemographics && profile == nil {
		s.logger.Info("No account data collected, skipping snapshot",
			zap.String("user_id", userID))
		return nil
	}

	snap := &models.AccountInsightSnapshot{
		UserID:         userID,
		AccountID:      accountID,
		RecordedAt:     s.now().UTC(),
		InsightsPeriod: s.cfg.InsightsPeriod,
	}
	if hasInsights {
		snap.AccountInsights = models.JSONMap(insights.Values)
	}
	if hasDemographics {
		snap.AudienceDemographics = models.JSONMap(demographics.Values)
	}
	if profile != nil {
		snap.AccountDetails = models.JSONMap{
			"username":        profile.Username,
			"name":            profile.Name,
			"followers_count": profile.FollowersCount,
			"follows_count":   profile.FollowsCount,
			"media_count":     profile.MediaCount,
		}
	}
	return s.accountSnapshots.Append(ctx, snap)
}
