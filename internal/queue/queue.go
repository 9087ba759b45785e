package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/creatorlab/gramsync/internal/cache"
	"github.com/creatorlab/gramsync/internal/syncer"
	"github.com/creatorlab/gramsync/pkg/logging"
)

const (
	refreshQueueKey        = "gram:jobs:refresh"
	classificationQueueKey = "gram:jobs:classification"

	// JobTypeRefresh asks the worker to run a full account refresh
	JobTypeRefresh = "sync.refresh"
	// JobTypeClassification asks the content pipeline to classify a metric
	JobTypeClassification = "metric.classify"
)

// Job is the wire format of one queued unit of work
type Job struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     string    `json:"user_id,omitempty"`
	MetricID   int64     `json:"metric_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Publisher enqueues jobs onto the Redis-backed queues
type Publisher struct {
	cache  *cache.Cache
	logger *zap.Logger
}

// NewPublisher creates a Publisher over the given cache
func NewPublisher(c *cache.Cache) *Publisher {
	return &Publisher{
		cache:  c,
		logger: logging.WithComponent("queue"),
	}
}

// EnqueueRefresh queues a full refresh for one user and returns the job id
func (p *Publisher) EnqueueRefresh(ctx context.Context, userID string) (string, error) {
	job := Job{
		ID:         uuid.New().String(),
		Type:       JobTypeRefresh,
		UserID:     userID,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := p.push(ctx, refreshQueueKey, job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// EnqueueClassification queues a newly created metric for content
// classification. Consumed by the classification pipeline, not by this
// worker.
func (p *Publisher) EnqueueClassification(ctx context.Context, metricID int64) error {
	job := Job{
		ID:         uuid.New().String(),
		Type:       JobTypeClassification,
		MetricID:   metricID,
		EnqueuedAt: time.Now().UTC(),
	}
	return p.push(ctx, classificationQueueKey, job)
}

func (p *Publisher) push(ctx context.Context, key string, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := p.cache.LPush(ctx, key, payload); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	p.logger.Debug("Job enqueued",
		zap.String("job_id", job.ID),
		zap.String("type", job.Type))
	return nil
}

// Refresher is the slice of the sync pipeline the worker drives
type Refresher interface {
	TriggerDataRefresh(ctx context.Context, userID string) *syncer.RefreshResult
}

// Worker consumes refresh jobs and runs them under the per-user lease
type Worker struct {
	cache     *cache.Cache
	refresher Refresher
	lock      *SyncLock
	logger    *zap.Logger

	popTimeout time.Duration
}

// NewWorker creates a Worker
func NewWorker(c *cache.Cache, refresher Refresher, lock *SyncLock) *Worker {
	return &Worker{
		cache:      c,
		refresher:  refresher,
		lock:       lock,
		logger:     logging.WithComponent("worker"),
		popTimeout: 5 * time.Second,
	}
}

// Run blocks consuming the refresh queue until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started")
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("Worker stopping")
			return err
		}

		raw, err := w.cache.BRPop(ctx, w.popTimeout, refreshQueueKey)
		if err != nil {
			if cache.IsNil(err) {
				continue
			}
			if ctx.Err() != nil {
				w.logger.Info("Worker stopping")
				return ctx.Err()
			}
			w.logger.Error("Failed to pop job", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		w.handle(ctx, raw)
	}
}

// handle decodes and runs one job. Malformed payloads are dropped with a
// log line rather than requeued.
func (w *Worker) handle(ctx context.Context, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.logger.Error("Dropping malformed job", zap.Error(err), zap.String("payload", raw))
		return
	}
	if job.Type != JobTypeRefresh || job.UserID == "" {
		w.logger.Warn("Dropping unexpected job",
			zap.String("job_id", job.ID),
			zap.String("type", job.Type))
		return
	}

	acquired, err := w.lock.Acquire(ctx, job.UserID)
	if err != nil {
		w.logger.Error("Failed to acquire sync lease",
			zap.String("user_id", job.UserID),
			zap.Error(err))
		return
	}
	if !acquired {
		w.logger.Info("Refresh already running for user, skipping",
			zap.String("user_id", job.UserID),
			zap.String("job_id", job.ID))
		return
	}
	defer func() {
		if err := w.lock.Release(ctx, job.UserID); err != nil {
			w.logger.Warn("Failed to release sync lease",
				zap.String("user_id", job.UserID),
				zap.Error(err))
		}
	}()

	result := w.refresher.TriggerDataRefresh(ctx, job.UserID)
	w.logger.Info("Refresh job finished",
		zap.String("job_id", job.ID),
		zap.String("user_id", job.UserID),
		zap.Bool("success", result.Success))
}
