package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/vlowchat/internal/domain"
	"github.com/soyeahso/vlowchat/internal/logging"
	"github.com/soyeahso/vlowchat/internal/store"
)

func testLimiter(t *testing.T, requests int, window time.Duration) (*Limiter, *time.Time) {
	t.Helper()
	db, err := store.Open(store.Options{Driver: store.DriverSQLite, DSN: ":memory:"}, logging.New(nil, "silent"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	l := New(db, requests, window, logging.New(nil, "silent"))
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_EleventhRequestRejected(t *testing.T) {
	l, now := testLimiter(t, 10, time.Minute)
	ctx := context.Background()

	for i := range 10 {
		require.NoError(t, l.Allow(ctx, "ws", "visitor"), "request %d", i+1)
		*now = now.Add(time.Second)
	}

	err := l.Allow(ctx, "ws", "visitor")
	require.Error(t, err)
	assert.Equal(t, domain.KindRateLimited, domain.KindOf(err))
	de := domain.AsError(err)
	assert.Equal(t, 50*time.Second, de.RetryAfter)

	// Other visitors are unaffected.
	assert.NoError(t, l.Allow(ctx, "ws", "other"))
}

func TestLimiter_WindowResets(t *testing.T) {
	l, now := testLimiter(t, 2, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "ws", "v"))
	require.NoError(t, l.Allow(ctx, "ws", "v"))
	require.Error(t, l.Allow(ctx, "ws", "v"))

	*now = now.Add(time.Minute)
	assert.NoError(t, l.Allow(ctx, "ws", "v"))
}

func TestLimiter_Defaults(t *testing.T) {
	l := New(nil, 0, 0, logging.New(nil, "silent"))
	assert.Equal(t, 10, l.requests)
	assert.Equal(t, time.Minute, l.window)
}

func TestLimiter_Prune(t *testing.T) {
	l, now := testLimiter(t, 5, time.Minute)
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "ws", "v"))
	*now = now.Add(2 * time.Minute)

	n, err := l.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
