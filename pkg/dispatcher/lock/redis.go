package lock

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const leaseKeyPrefix = "conduct:inflight:"

// releaseScript deletes the lease only when the caller still holds it, so
// an expired-and-reacquired lease is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock implements the execution lease on redis SET NX with a TTL.
type RedisLock struct {
	client redis.UniversalClient
}

func NewRedisLock(addr, password string, db int) (*RedisLock, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisLock{client: client}, nil
}

// NewRedisLockWithClient wraps an existing client. Used by tests.
func NewRedisLockWithClient(client redis.UniversalClient) *RedisLock {
	return &RedisLock{client: client}
}

func (l *RedisLock) Acquire(ctx context.Context, eventID, holder string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, leaseKeyPrefix+eventID, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease for %s: %w", eventID, err)
	}

	return ok, nil
}

func (l *RedisLock) Release(ctx context.Context, eventID, holder string) error {
	err := releaseScript.Run(ctx, l.client, []string{leaseKeyPrefix + eventID}, holder).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release lease for %s: %w", eventID, err)
	}

	return nil
}

func (l *RedisLock) Close() error {
	return l.client.Close()
}
