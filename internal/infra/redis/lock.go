package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Only the holder's token may release the lock.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker hands out short-lived named locks shared by all workers.
type Locker struct {
	rdb *redis.Client
}

// NewLocker creates a Locker on the shared client.
func NewLocker(client *Client) *Locker {
	return &Locker{rdb: client.rdb}
}

// Lock is a held lock. Release it when done.
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
}

// Acquire attempts to take the lock without waiting. ok is false when someone
// else holds it.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, bool, error) {
	key := lockKey(name)
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("setnx failed: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lock{rdb: l.rdb, key: key, token: token}, true, nil
}

// IsLocked reports whether the named lock is currently held.
func (l *Locker) IsLocked(ctx context.Context, name string) (bool, error) {
	n, err := l.rdb.Exists(ctx, lockKey(name)).Result()
	if err != nil {
		return false, fmt.Errorf("exists failed: %w", err)
	}
	return n > 0, nil
}

// Refresh extends the TTL of a held lock.
func (k *Lock) Refresh(ctx context.Context, ttl time.Duration) error {
	return k.rdb.Expire(ctx, k.key, ttl).Err()
}

// Release drops the lock if it is still ours.
func (k *Lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, k.rdb, []string{k.key}, k.token).Err(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", k.key, err)
	}
	return nil
}
