package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLock(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	acquired, err := l.Acquire(ctx, "e1", "worker-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = l.Acquire(ctx, "e1", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired, "second holder must not acquire a held lease")

	// A different event is independent.
	acquired, err = l.Acquire(ctx, "e2", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	// Release by a non-holder is a no-op.
	require.NoError(t, l.Release(ctx, "e1", "worker-2"))

	acquired, err = l.Acquire(ctx, "e1", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, l.Release(ctx, "e1", "worker-1"))

	acquired, err = l.Acquire(ctx, "e1", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestMemoryLockExpiry(t *testing.T) {
	l := NewMemoryLock()
	ctx := context.Background()

	acquired, err := l.Acquire(ctx, "e1", "worker-1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, acquired)

	time.Sleep(20 * time.Millisecond)

	acquired, err = l.Acquire(ctx, "e1", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "expired lease must be reacquirable")
}

func newTestRedisLock(t *testing.T) (*RedisLock, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	return NewRedisLockWithClient(client), mr
}

func TestRedisLock(t *testing.T) {
	l, _ := newTestRedisLock(t)
	ctx := context.Background()

	acquired, err := l.Acquire(ctx, "e1", "worker-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = l.Acquire(ctx, "e1", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	// The release script refuses a non-holder.
	require.NoError(t, l.Release(ctx, "e1", "worker-2"))

	acquired, err = l.Acquire(ctx, "e1", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, l.Release(ctx, "e1", "worker-1"))

	acquired, err = l.Acquire(ctx, "e1", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisLockTTLExpiry(t *testing.T) {
	l, mr := newTestRedisLock(t)
	ctx := context.Background()

	acquired, err := l.Acquire(ctx, "e1", "worker-1", time.Second)
	require.NoError(t, err)
	assert.True(t, acquired)

	mr.FastForward(2 * time.Second)

	acquired, err = l.Acquire(ctx, "e1", "worker-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "lease must expire with its TTL")
}
