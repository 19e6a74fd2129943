// Package ratelimit enforces a fixed-window request quota per widget visitor.
// Counter state lives in the store, so limits hold across restarts and
// replicas.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/logging"
	"github.com/soyeahso/vlowchat/internal/store"
)

// CounterStore advances and prunes durable counters.
type CounterStore interface {
	HitRateCounter(ctx context.Context, workspaceID, visitorID string, now time.Time, window time.Duration) (store.RateCounter, error)
	PruneRateCounters(ctx context.Context, cutoff time.Time) (int64, error)
}

// Limiter allows Requests hits per visitor in each Window.
type Limiter struct {
	store    CounterStore
	requests int
	window   time.Duration
	now      func() time.Time
	log      *logging.Logger
}

// New creates a limiter. Non-positive values fall back to 10 per minute.
func New(s CounterStore, requests int, window time.Duration, log *logging.Logger) *Limiter {
	if requests <= 0 {
		requests = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{store: s, requests: requests, window: window, now: time.Now, log: log.Sub("ratelimit")}
}

// Allow records one request and returns a rate_limited error once the
// visitor exceeds the quota of the current window.
func (l *Limiter) Allow(ctx context.Context, workspaceID, visitorID string) error {
	now := l.now()
	rc, err := l.store.HitRateCounter(ctx, workspaceID, visitorID, now, l.window)
	if err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	if rc.Count <= l.requests {
		return nil
	}

	retry := rc.WindowStart.Add(l.window).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	l.log.Debug().
		Str("workspace_id", workspaceID).
		Str("visitor_id", visitorID).
		Int("count", rc.Count).
		Dur("retry_after", retry).
		Msg("rate limited")
	return domain.RateLimited(retry)
}

// Prune drops counters whose window closed, keeping the table small.
func (l *Limiter) Prune(ctx context.Context) (int64, error) {
	return l.store.PruneRateCounters(ctx, l.now().Add(-l.window))
}

// RunPruner prunes expired counters every interval until ctx is done.
func (l *Limiter) RunPruner(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := l.Prune(ctx)
			if err != nil {
				l.log.Warn().Err(err).Msg("pruning rate counters")
				continue
			}
			if n > 0 {
				l.log.Debug().Int64("pruned", n).Msg("pruned rate counters")
			}
		}
	}
}
