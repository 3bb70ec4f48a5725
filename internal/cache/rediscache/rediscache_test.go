package rediscache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestRedisCache_GetSetDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	stored, err := c.SetIfNewer(ctx, "k", 1, []byte("v"), time.Minute)
	require.NoError(t, err)
	require.True(t, stored)

	b, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	// deleting a missing key is fine
	require.NoError(t, c.Delete(ctx, "missing"))
}

func TestRedisCache_OlderVersionLoses(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())
	ctx := context.Background()

	stored, err := c.SetIfNewer(ctx, "k", 2, []byte("v2"), time.Minute)
	require.NoError(t, err)
	require.True(t, stored)

	stored, err = c.SetIfNewer(ctx, "k", 1, []byte("v1"), time.Minute)
	require.NoError(t, err)
	require.False(t, stored)

	b, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), b)

	// same version rewrites, newer wins
	stored, _ = c.SetIfNewer(ctx, "k", 2, []byte("v2b"), time.Minute)
	require.True(t, stored)
	stored, _ = c.SetIfNewer(ctx, "k", 3, []byte("v3"), time.Minute)
	require.True(t, stored)
	b, _, _ = c.Get(ctx, "k")
	require.Equal(t, []byte("v3"), b)
}

func TestRedisCache_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c := New(mr.Addr())

	ctx := context.Background()
	_, err := c.SetIfNewer(ctx, "k", 1, []byte("v"), time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLocker_AcquireRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewLocker(mr.Addr())
	ctx := context.Background()

	token, ok, err := l.Acquire(ctx, "lock:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	_, ok, err = l.Acquire(ctx, "lock:1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	// a stale token does not release someone else's lock
	require.NoError(t, l.Release(ctx, "lock:1", "other"))
	require.True(t, mr.Exists("lock:1"))

	require.NoError(t, l.Release(ctx, "lock:1", token))
	require.False(t, mr.Exists("lock:1"))

	_, ok, err = l.Acquire(ctx, "lock:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLocker_Expires(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewLocker(mr.Addr())
	ctx := context.Background()

	_, ok, err := l.Acquire(ctx, "lock:2", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = l.Acquire(ctx, "lock:2", time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRateLimiter(mr.Addr())

	ctx := context.Background()
	ok, n, err := rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	ok, n, _ = rl.Allow(ctx, "rl:test", 2, time.Minute)
	require.False(t, ok)
	require.Equal(t, int64(3), n)
}
