// Package ratelimit implements the per-token fixed-window limiter (C5):
// the authoritative allow/deny decision fed by the fast store, plus a
// coarser global guard in front of the whole proxy surface.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/feen-dev/feen-gateway/internal/logging"
)

// FastStore is the subset of the shared-store interface the limiter needs.
type FastStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Decision is the verdict returned for a single shared-token request.
type Decision struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// Limiter evaluates the fixed-window-per-minute counter from spec.md §4.4.
// It fails open when the fast store is unreachable: a cache outage must
// never block traffic outright.
type Limiter struct {
	store FastStore
}

func New(store FastStore) *Limiter {
	return &Limiter{store: store}
}

// Allow increments the window counter for tokenID and compares it against
// limitPerMinute. now is injected so callers (and tests) control the window
// boundary explicitly.
func (l *Limiter) Allow(ctx context.Context, tokenID string, limitPerMinute int, now time.Time) Decision {
	windowStart := now.Unix() / 60
	resetAt := time.Unix((windowStart+1)*60, 0)
	key := fmt.Sprintf("ratelimit:shared:%s:%d", tokenID, windowStart)

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		logging.FromContext(ctx).Warn("rate limiter fast store unreachable, failing open", "token_id", tokenID, "error", err)
		return Decision{Allowed: true, Remaining: int64(limitPerMinute), ResetAt: resetAt}
	}
	if count == 1 {
		if expErr := l.store.Expire(ctx, key, 60*time.Second); expErr != nil {
			logging.FromContext(ctx).Warn("rate limiter failed to set window expiry", "key", key, "error", expErr)
		}
	}

	remaining := int64(limitPerMinute) - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(limitPerMinute),
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// DailyCapStore is the subset needed for the synchronous daily cap check,
// used only when RateLimit.SynchronousDailyCap is enabled.
type DailyCapStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// CheckDailyCap increments today's usage counter for tokenID and reports
// whether it has crossed dailyCap. It is the synchronous alternative to the
// lazy sweep/recorder enforcement (spec.md §9, resolved in SPEC_FULL.md §4.4).
func CheckDailyCap(ctx context.Context, store DailyCapStore, tokenID string, dailyCap int, now time.Time) (exceeded bool, err error) {
	if dailyCap <= 0 {
		return false, nil
	}
	day := now.UTC().Format("2006-01-02")
	key := fmt.Sprintf("ratelimit:daily:%s:%s", tokenID, day)
	count, err := store.Incr(ctx, key)
	if err != nil {
		return false, err
	}
	if count == 1 {
		if expErr := store.Expire(ctx, key, 26*time.Hour); expErr != nil {
			logging.FromContext(ctx).Warn("daily cap counter failed to set expiry", "key", key, "error", expErr)
		}
	}
	return count > int64(dailyCap), nil
}
