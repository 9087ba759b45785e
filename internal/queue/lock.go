package queue

import (
	"context"
	"time"

	"github.com/creatorlab/gramsync/internal/cache"
)

const leaseKeyPrefix = "gram:sync:lease:"

// SyncLock is a per-user lease guaranteeing at most one refresh run per
// user at a time. The TTL bounds how long a crashed worker can wedge a
// user's refreshes.
type SyncLock struct {
	cache *cache.Cache
	ttl   time.Duration
}

// NewSyncLock creates a SyncLock with the given lease TTL
func NewSyncLock(c *cache.Cache, ttl time.Duration) *SyncLock {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SyncLock{cache: c, ttl: ttl}
}

// Acquire takes the lease for a user; reports false when a refresh is
// already in flight.
func (l *SyncLock) Acquire(ctx context.Context, userID string) (bool, error) {
	return l.cache.SetNX(ctx, leaseKeyPrefix+userID, time.Now().UTC().Format(time.RFC3339), l.ttl)
}

// Release frees the lease after a run completes
func (l *SyncLock) Release(ctx context.Context, userID string) error {
	return l.cache.Delete(ctx, leaseKeyPrefix+userID)
}
