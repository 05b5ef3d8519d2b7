package redis

import (
	"context"
	"testing"
	"time"

	"omnicoder/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClock() (*MemoryClient, *time.Time) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryClient()
	c.now = func() time.Time { return now }
	return c, &now
}

func TestRateLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	c, now := newClock()
	rl := NewRateLimiter(c).WithClock(c.now)
	key := ChatActionKey(42, "approve")

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, key, 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "call %d", i+1)
	}
	ok, err := rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	*now = now.Add(time.Minute)
	ok, err = rl.Allow(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "window resets after expiry")
}

func TestRateLimiter_DisabledLimit(t *testing.T) {
	rl := NewRateLimiter(NewMemoryClient())
	for i := 0; i < 5; i++ {
		ok, err := rl.Allow(context.Background(), ActionKey("ip:1.2.3.4", "enqueue"), 0, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestLocker_Exclusive(t *testing.T) {
	ctx := context.Background()
	c, now := newClock()
	l := NewLocker(c)
	l.wait = time.Millisecond

	token, err := l.TryLock(ctx, "drain", 10*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = l.TryLock(ctx, "drain", 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

	// a stale token must not release someone else's lock
	require.NoError(t, l.Unlock(ctx, "drain", "other"))
	_, err = l.TryLock(ctx, "drain", 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)

	require.NoError(t, l.Unlock(ctx, "drain", token))
	_, err = l.TryLock(ctx, "drain", 10*time.Second)
	require.NoError(t, err)

	*now = now.Add(11 * time.Second)
	_, err = l.TryLock(ctx, "drain", 10*time.Second)
	assert.NoError(t, err, "expired lock is free again")
}

func TestMemoryClient_GetMissing(t *testing.T) {
	c := NewMemoryClient()
	_, err := c.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, Nil)

	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), 0))
	v, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}
