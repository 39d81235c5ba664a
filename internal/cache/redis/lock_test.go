package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polyarb/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestLockExclusive(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	l, err := lm.Acquire(ctx, "agent:risk_guardian", 10*time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "agent:risk_guardian", 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	require.NoError(t, l.Refresh(ctx, 10*time.Second))
	assert.Greater(t, mr.TTL("lock:agent:risk_guardian"), 9*time.Second)

	require.NoError(t, l.Release())
	l2, err := lm.Acquire(ctx, "agent:risk_guardian", 10*time.Second)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}

func TestLockRefreshAfterTakeover(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	l, err := lm.Acquire(ctx, "agent:executor", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	other, err := lm.Acquire(ctx, "agent:executor", time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, l.Refresh(ctx, time.Second), domain.ErrLockHeld)
	require.NoError(t, l.Release(), "releasing a lost lock leaves the new holder alone")
	assert.True(t, mr.Exists("lock:agent:executor"))
	require.NoError(t, other.Release())
	assert.False(t, mr.Exists("lock:agent:executor"))
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := range 3 {
		ok, err := rl.Allow(ctx, "api:1.2.3.4", 3, time.Second)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "api:1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rl.Allow(ctx, "api:5.6.7.8", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "keys are independent")

	now = now.Add(1500 * time.Millisecond)
	ok, err = rl.Allow(ctx, "api:1.2.3.4", 3, time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "window slid past the old requests")
}
