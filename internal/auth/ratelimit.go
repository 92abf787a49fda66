// ABOUTME: Per-agent rate limiting over rolling hourly and daily windows
// ABOUTME: All windows are charged atomically; a refusal charges nothing

package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ddudl/agentgate/internal/config"
	"github.com/ddudl/agentgate/internal/store"
)

// Quota describes the most constrained window after an admitted action,
// in the shape the rate limit response headers need.
type Quota struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter enforces per-agent, per-action ceilings. Votes are exempt and
// never reach it.
type Limiter struct {
	store  *store.SQLiteStore
	limits config.LimitsConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewLimiter creates a rate limiter with the given ceiling table.
func NewLimiter(st *store.SQLiteStore, limits config.LimitsConfig, logger *slog.Logger) *Limiter {
	return &Limiter{
		store:  st,
		limits: limits,
		logger: logger.With("component", "limiter"),
		now:    time.Now,
	}
}

// CheckAndIncrement charges one action against every window for the
// action type, all or nothing. On admission it returns the quota of the
// window with the fewest remaining slots. On refusal it returns a
// RateLimitError naming the refusing window and charges nothing.
func (l *Limiter) CheckAndIncrement(ctx context.Context, principalID string, action store.ActionType) (*Quota, error) {
	limits := l.limits.ForAction(action)
	now := l.now().UTC()

	windows, blocked, err := l.store.IncrementRateWindows(ctx, principalID, action, limits.Charges(), now)
	if err != nil {
		return nil, fmt.Errorf("charging rate windows: %w", err)
	}

	if blocked != nil {
		limit := limits.Hourly
		if blocked.Kind == store.WindowDaily {
			limit = limits.Daily
		}
		retryAfter := blocked.ResetAt().Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		l.logger.Info("rate limit exceeded",
			"agent_id", principalID,
			"action", action,
			"window", blocked.Kind,
			"retry_after", retryAfter.Round(time.Second))
		return nil, &RateLimitError{
			Action:     string(action),
			Limit:      limit,
			RetryAfter: retryAfter,
		}
	}

	quota := &Quota{Limit: -1}
	for _, w := range windows {
		limit := limits.Hourly
		if w.Kind == store.WindowDaily {
			limit = limits.Daily
		}
		remaining := limit - w.Count
		if quota.Limit < 0 || remaining < quota.Remaining {
			quota.Limit = limit
			quota.Remaining = remaining
			quota.Reset = w.ResetAt()
		}
	}

	return quota, nil
}
