package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/creatorlab/gramsync/internal/graph"
)

// errTokenUnavailable marks a step skipped because every usable token
// for it has been rejected.
var errTokenUnavailable = errors.New("no usable access token for this call")

// run carries the per-invocation state of one refresh: the token
// session, accumulated step errors and the fatal flag. All fields are
// guarded by mu because the insight stage mutates them from workers.
type run struct {
	s      *Syncer
	userID string

	mu              sync.Mutex
	userToken       string
	fallbackToken   string
	userCompromised bool
	fatal           bool
	fatalHandled    bool
	tokenMessage    string
	stepErrors      []string
}

func (r *run) isFatal() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fatal
}

func (r *run) recordStep(step string, err error) {
	r.s.logger.Warn("Sync step failed",
		zap.String("user_id", r.userID),
		zap.String("step", step),
		zap.Error(err))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stepErrors = append(r.stepErrors, fmt.Sprintf("%s: %v", step, err))
}

// tryTokens runs fn with the user token first, falling back once to the
// system token on a token-classified failure. userOnly calls can never
// fall back. Returns *graph.TokenError when every option is exhausted;
// no side effects beyond marking the user token compromised.
func (r *run) tryTokens(userOnly bool, fn func(token string, system bool) error) error {
	r.mu.Lock()
	compromised := r.userCompromised
	userToken := r.userToken
	fallback := r.fallbackToken
	r.mu.Unlock()

	var userTokenErr *graph.TokenError
	if !compromised {
		err := fn(userToken, false)
		if err == nil || !errors.As(err, &userTokenErr) {
			return err
		}
		r.s.logger.Warn("User token rejected",
			zap.String("user_id", r.userID),
			zap.Int("code", userTokenErr.Code),
			zap.Int("subcode", userTokenErr.Subcode))
		r.mu.Lock()
		r.userCompromised = true
		r.mu.Unlock()
	}

	if !userOnly && fallback != "" {
		err := fn(fallback, true)
		var tokenErr *graph.TokenError
		if err == nil || !errors.As(err, &tokenErr) {
			return err
		}
		r.s.logger.Warn("Fallback token rejected",
			zap.String("user_id", r.userID),
			zap.Int("code", tokenErr.Code))
		return err
	}

	if userTokenErr != nil {
		return userTokenErr
	}
	// Token already known bad and nothing can replace it for this call
	return fmt.Errorf("%w", errTokenUnavailable)
}

// call is tryTokens plus immediate fatal escalation, for the sequential
// stages. Concurrent tasks use tryTokens directly and let the
// orchestrator escalate after the join.
func (r *run) call(ctx context.Context, userOnly bool, fn func(token string, system bool) error) error {
	err := r.tryTokens(userOnly, fn)
	var tokenErr *graph.TokenError
	if errors.As(err, &tokenErr) {
		r.escalateFatal(ctx)
	}
	return err
}

// escalateFatal handles a token failure with no viable fallback: the
// connection is cleared exactly once and the rest of the run is skipped.
func (r *run) escalateFatal(ctx context.Context) {
	r.mu.Lock()
	if r.fatalHandled {
		r.mu.Unlock()
		return
	}
	r.fatal = true
	r.fatalHandled = true
	r.tokenMessage = r.s.reconnectMessage
	r.mu.Unlock()

	r.s.logger.Error("Fatal token failure, clearing connection",
		zap.String("user_id", r.userID))
	if err := r.s.connections.Clear(ctx, r.userID); err != nil {
		r.s.logger.Error("Failed to clear connection",
			zap.String("user_id", r.userID),
			zap.Error(err))
	}
}
