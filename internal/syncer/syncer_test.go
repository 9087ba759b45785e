package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/creatorlab/gramsync/internal/db"
	"github.com/creatorlab/gramsync/internal/graph"
	"github.com/creatorlab/gramsync/internal/models"
	"github.com/creatorlab/gramsync/pkg/config"
)

func tokenError(code int) error {
	return &graph.TokenError{APIError: graph.APIError{
		Code:    code,
		Message: "Error validating access token",
	}}
}

type fakeGraph struct {
	mu sync.Mutex

	profileErr error
	listErr    error
	media      [][]graph.Media

	insightsErrByToken map[string]error
	accountErrByToken  map[string]error
	demographicsErr    error

	listCalls     []string // tokens used for ListMedia
	accountTokens []string

	concurrent    int
	maxConcurrent int
}

func (f *fakeGraph) AccountProfile(ctx context.Context, accountID, token string) (*graph.Profile, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return &graph.Profile{
		ID:             accountID,
		Username:       "creator",
		Name:           "Creator",
		FollowersCount: 1200,
		FollowsCount:   300,
		MediaCount:     42,
	}, nil
}

func (f *fakeGraph) ListMedia(ctx context.Context, accountID, token, after string) ([]graph.Media, string, error) {
	f.mu.Lock()
	f.listCalls = append(f.listCalls, token)
	f.mu.Unlock()
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	page := 0
	if after != "" {
		fmt.Sscanf(after, "page%d", &page)
	}
	if page >= len(f.media) {
		return nil, "", nil
	}
	next := ""
	if page+1 < len(f.media) {
		next = fmt.Sprintf("page%d", page+1)
	}
	return f.media[page], next, nil
}

func (f *fakeGraph) MediaInsights(ctx context.Context, mediaID, token, metrics string) (map[string]interface{}, error) {
	f.mu.Lock()
	f.concurrent++
	if f.concurrent > f.maxConcurrent {
		f.maxConcurrent = f.concurrent
	}
	err := f.insightsErrByToken[token]
	f.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	f.concurrent--
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"views": float64(100), "likes": float64(5)}, nil
}

func (f *fakeGraph) AccountInsights(ctx context.Context, accountID, token, period string, systemToken bool) (*graph.InsightsResult, error) {
	f.mu.Lock()
	f.accountTokens = append(f.accountTokens, token)
	err := f.accountErrByToken[token]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &graph.InsightsResult{Values: map[string]interface{}{"reach": float64(500)}}, nil
}

func (f *fakeGraph) Demographics(ctx context.Context, accountID, token string) (*graph.InsightsResult, error) {
	if f.demographicsErr != nil {
		return nil, f.demographicsErr
	}
	return &graph.InsightsResult{Values: map[string]interface{}{
		"follower_demographics": map[string]interface{}{"Lisbon": float64(12)},
	}}, nil
}

type fakeConnections struct {
	mu         sync.Mutex
	conn       *models.Connection
	clearCalls int
	statuses   []string
	successSet bool
}

func (f *fakeConnections) Get(ctx context.Context, userID string) (*models.Connection, error) {
	return f.conn, nil
}

func (f *fakeConnections) UpdateProfile(ctx context.Context, userID string, fields db.ProfileFields) error {
	return nil
}

func (f *fakeConnections) Clear(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls++
	return nil
}

func (f *fakeConnections) SetSyncStatus(ctx context.Context, userID string, attempt time.Time, success *time.Time, message *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if message != nil {
		f.statuses = append(f.statuses, *message)
	}
	f.successSet = success != nil
	return nil
}

type fakeMetrics struct {
	mu       sync.Mutex
	upserted []*models.Metric
}

func (f *fakeMetrics) Upsert(ctx context.Context, metric *models.Metric) (*models.Metric, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *metric
	stored.ID = int64(len(f.upserted) + 1)
	stored.ClassificationStatus = models.ClassificationPending
	f.upserted = append(f.upserted, &stored)
	return &stored, true, nil
}

type fakeSnapshots struct {
	mu       sync.Mutex
	previous map[int64]*models.DailySnapshot
	upserted []*models.DailySnapshot
}

func (f *fakeSnapshots) LatestBefore(ctx context.Context, metricID int64, day time.Time) (*models.DailySnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.previous[metricID], nil
}

func (f *fakeSnapshots) UpsertDay(ctx context.Context, snap *models.DailySnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserted = append(f.upserted, snap)
	return nil
}

type fakeAccountSnapshots struct {
	appended []*models.AccountInsightSnapshot
}

func (f *fakeAccountSnapshots) Append(ctx context.Context, snap *models.AccountInsightSnapshot) error {
	f.appended = append(f.appended, snap)
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	enqueued []int64
	err      error
}

func (f *fakePublisher) EnqueueClassification(ctx context.Context, metricID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, metricID)
	return nil
}

type fixture struct {
	syncer           *Syncer
	api              *fakeGraph
	connections      *fakeConnections
	metrics          *fakeMetrics
	snapshots        *fakeSnapshots
	accountSnapshots *fakeAccountSnapshots
	publisher        *fakePublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Graph: config.GraphConfig{SystemToken: "system-token"},
		Syncer: config.SyncerConfig{
			MaxMediaPages:      10,
			MaxWorkers:         4,
			OldMediaCutoffDays: 180,
			SnapshotWindowDays: 30,
			InsightsPeriod:     "day",
		},
	}
	f := &fixture{
		api: &fakeGraph{
			insightsErrByToken: map[string]error{},
			accountErrByToken:  map[string]error{},
		},
		connections:      &fakeConnections{conn: &models.Connection{UserID: "u1", AccountID: "acct1", AccessToken: "user-token"}},
		metrics:          &fakeMetrics{},
		snapshots:        &fakeSnapshots{previous: map[int64]*models.DailySnapshot{}},
		accountSnapshots: &fakeAccountSnapshots{},
		publisher:        &fakePublisher{},
	}
	f.syncer = New(cfg, f.api, f.connections, f.metrics, f.snapshots, f.accountSnapshots, f.publisher)
	f.syncer.logger = zap.NewNop()
	f.syncer.now = func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) }
	return f
}

func mediaItem(id, mediaType, productType, timestamp string) graph.Media {
	return graph.Media{
		ID:               id,
		MediaType:        mediaType,
		MediaProductType: productType,
		Caption:          "caption for " + id,
		Permalink:        "https://instagram.com/p/" + id,
		Timestamp:        timestamp,
	}
}

func TestRefreshHappyPath(t *testing.T) {
	f := newFixture(t)
	f.api.media = [][]graph.Media{
		{
			mediaItem("m1", "IMAGE", "FEED", "2024-06-01T10:00:00+0000"),
			mediaItem("m2", "VIDEO", "REELS", "2024-06-10T10:00:00+0000"),
		},
		{
			mediaItem("m3", "CAROUSEL_ALBUM", "FEED", "2024-06-12T10:00:00+0000"),
		},
	}

	result := f.syncer.TriggerDataRefresh(context.Background(), "u1")

	if !result.Success {
		t.Fatalf("expected success, got message %q", result.Message)
	}
	if result.Details.MediaFound != 3 || result.Details.MediaSaved != 3 {
		t.Errorf("unexpected media counts: %+v", result.Details)
	}
	if !result.Details.ProfileFetched || !result.Details.InsightsCollected || !result.Details.DemographicsCollected {
		t.Errorf("expected all stages collected: %+v", result.Details)
	}
	if len(f.metrics.upserted) != 3 {
		t.Errorf("expected 3 metrics upserted, got %d", len(f.metrics.upserted))
	}
	if len(f.snapshots.upserted) != 3 {
		t.Errorf("expected 3 daily snapshots, got %d", len(f.snapshots.upserted))
	}
	if len(f.accountSnapshots.appended) != 1 {
		t.Fatalf("expected 1 account snapshot, got %d", len(f.accountSnapshots.appended))
	}
	if len(f.publisher.enqueued) != 3 {
		t.Errorf("expected 3 classification jobs, got %d", len(f.publisher.enqueued))
	}
	if !f.connections.successSet {
		t.Error("expected successful sync status persisted")
	}
}

func TestRefreshNotConnected(t *testing.T) {
	f := newFixture(t)
	f.connections.conn = nil

	result := f.syncer.TriggerDataRefresh(context.Background(), "u1")

	if result.Success {
		t.Fatal("expected failure for unconnected user")
	}
	if result.Message == "" {
		t.Error("expected explanatory message")
	}
}

// Media listing accepts only the user's own token, so a token failure
// there has no fallback and must tear the connection down.
func TestRefreshFatalOnMediaListing(t *testing.T) {
	f := newFixture(t)
	f.api.listErr = tokenError(190)

	result := f.syncer.TriggerDataRefresh(context.Background(), "u1")

	if result.Success {
		t.Fatal("expected failure after fatal token error")
	}
	if result.Message != db.ReconnectMessage {
		t.Errorf("expected reconnect message, got %q", result.Message)
	}
	if f.connections.clearCalls != 1 {
		t.Errorf("expected connection cleared exactly once, got %d", f.connections.clearCalls)
	}
	if len(f.accountSnapshots.appended) != 0 {
		t.Error("fatal run must not persist an account snapshot")
	}
	if f.connections.successSet {
		t.Error("fatal run must not record sync success")
	}
	if len(f.connections.statuses) != 1 || f.connections.statuses[0] != db.ReconnectMessage {
		t.Errorf("expected reconnect message in sync status, got %v", f.connections.statuses)
	}
}

// A rejected user token on a call that permits the system token must
// fall back and keep the run alive.
func TestRefreshFallbackOnAccountInsights(t *testing.T) {
	f := newFixture(t)
	f.api.media = [][]graph.Media{{mediaItem("m1", "IMAGE", "FEED", "2024-06-01T10:00:00+0000")}}
	f.api.accountErrByToken["user-token"] = tokenError(190)

	result := f.syncer.TriggerDataRefresh(context.Background(), "u1")

	if !result.Success {
		t.Fatalf("expected fallback to succeed, got message %q", result.Message)
	}
	if f.connections.clearCalls != 0 {
		t.Errorf("non-fatal compromise must not clear the connection, got %d clears", f.connections.clearCalls)
	}
	if len(f.api.accountTokens) != 2 || f.api.accountTokens[1] != "system-token" {
		t.Errorf("expected retry with system token, got %v", f.api.accountTokens)
	}
	if len(f.accountSnapshots.appended) != 1 {
		t.Fatalf("expected account snapshot persisted, got %d", len(f.accountSnapshots.appended))
	}
	if !result.Details.InsightsCollected {
		t.Error("expected insights collected via fallback")
	}
}

// Once the user token is known bad, later calls must go straight to the
// fallback instead of burning another doomed request.
func TestRefreshCompromisedTokenSkipsUserAttempt(t *testing.T) {
	f := newFixture(t)
	f.api.media = [][]graph.Media{{mediaItem("m1", "IMAGE", "FEED", "2024-06-01T10:00:00+0000")}}
	f.api.insightsErrByToken["user-token"] = tokenError(190)

	result := f.syncer.TriggerDataRefresh(context.Background(), "u1")

	if !result.Success {
		t.Fatalf("expected success via fallback, got %q", result.Message)
	}
	// Account insights ran after the compromise: system token only
	if len(f.api.accountTokens) != 1 || f.api.accountTokens[0] != "system-token" {
		t.Errorf("expected single system-token call, got %v", f.api.accountTokens)
	}
}

// A token failure inside a worker with no fallback left escalates after
// the page joins.
func TestRefreshWorkerTokenFailureEscalates(t *testing.T) {
	f := newFixture(t)
	f.api.media = [][]graph.Media{{mediaItem("m1", "IMAGE", "FEED", "2024-06-01T10:00:00+0000")}}
	f.api.insightsErrByToken["user-token"] = tokenError(190)
	f.api.insightsErrByToken["system-token"] = tokenError(190)

	result := f.syncer.TriggerDataRefresh(context.Background(), "u1")

	if result.Success {
		t.Fatal("expected failure when every token is rejected")
	}
	if f.connections.clearCalls != 1 {
		t.Errorf("expected connection cleared exactly once, got %d", f.connections.clearCalls)
	}
	if result.Message != db.ReconnectMessage {
		t.Errorf("expected reconnect message, got %q", result.Message)
	}
}

func TestRefreshConcurrencyBound(t *testing.T) {
	f := newFixture(t)
	page := make([]graph.Media, 0, 20)
	for i := 0; i < 20; i++ {
		page = append(page, mediaItem(fmt.Sprintf("m%d", i), "IMAGE", "FEED", "2024-06-01T10:00:00+0000"))
	}
	f.api.media = [][]graph.Media{page}

	result := f.syncer.TriggerDataRefresh(context.Background(), "u1")

	if !result.Success {
		t.Fatalf("unexpected failure: %q", result.Message)
	}
	if f.api.maxConcurrent > 4 {
		t.Errorf("insight concurrency exceeded bound: %d", f.api.maxConcurrent)
	}
	if result.Details.MediaProcessed != 20 {
		t.Errorf("expected 20 processed, got %d", result.Details.MediaProcessed)
	}
}

func TestRefreshSkipsOldMedia(t *testing.T) {
	f := newFixture(t)
	f.api.media = [][]graph.Media{{
		mediaItem("fresh", "IMAGE", "FEED", "2024-06-01T10:00:00+0000"),
		mediaItem("stale", "IMAGE", "FEED", "2023-01-01T10:00:00+0000"),
	}}

	result := f.syncer.TriggerDataRefresh(context.Background(), "u1")

	if !result.Success {
		t.Fatalf("unexpected failure: %q", result.Message)
	}
	if result.Details.SkippedOld != 1 {
		t.Errorf("expected 1 old media skipped, got %d", result.Details.SkippedOld)
	}
	if len(f.metrics.upserted) != 1 || f.metrics.upserted[0].InstagramMediaID != "fresh" {
		t.Errorf("expected only fresh media persisted, got %+v", f.metrics.upserted)
	}
}

// Non-token failures on individual stages degrade the result but never
// stop the remaining stages.
func TestRefreshStepErrorIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.api.media = [][]graph.Media{{mediaItem("m1", "IMAGE", "FEED", "2024-06-01T10:00:00+0000")}}
	f.api.demographicsErr = errors.New("upstream hiccup")

	result := f.syncer.TriggerDataRefresh(context.Background(), "u1")

	if result.Success {
		t.Fatal("expected degraded result")
	}
	if result.Message == "" {
		t.Error("expected first step error as message")
	}
	if f.connections.clearCalls != 0 {
		t.Error("non-token failure must not clear the connection")
	}
	// The run carried on: snapshot still persisted from insights+profile
	if len(f.accountSnapshots.appended) != 1 {
		t.Errorf("expected account snapshot despite demographics failure, got %d", len(f.accountSnapshots.appended))
	}
}

func TestRefreshQueueOutageIsSoft(t *testing.T) {
	f := newFixture(t)
	f.api.media = [][]graph.Media{{mediaItem("m1", "IMAGE", "FEED", "2024-06-01T10:00:00+0000")}}
	f.publisher.err = errors.New("redis down")

	result := f.syncer.TriggerDataRefresh(context.Background(), "u1")

	if !result.Success {
		t.Fatalf("classification enqueue failure must not fail the sync: %q", result.Message)
	}
	if len(f.metrics.upserted) != 1 {
		t.Errorf("expected metric persisted, got %d", len(f.metrics.upserted))
	}
}
