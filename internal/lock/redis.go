package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "portalindex:lock:"

// Redis implements distributed locking with SET NX and a TTL.
type Redis struct {
	client  *redis.Client
	ownerID string
}

// NewRedis creates a Redis-backed lock.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, ownerID: newOwnerID()}
}

// OwnerID returns the value stored under held keys.
func (l *Redis) OwnerID() string { return l.ownerID }

// Acquire returns true if the lock was taken, false if another instance
// holds it.
func (l *Redis) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, redisKeyPrefix+name, l.ownerID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// releaseScript deletes the key only if it still holds our owner id.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Release releases a lock held by this instance. Releasing a lock that
// expired or belongs to someone else is a no-op.
func (l *Redis) Release(ctx context.Context, name string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{redisKeyPrefix + name}, l.ownerID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (l *Redis) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
