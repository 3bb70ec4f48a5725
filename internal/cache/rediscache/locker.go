package rediscache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Only the owner of the token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	c *redis.Client
}

func NewLocker(addr string) *Locker {
	return &Locker{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func NewLockerWithClient(c *redis.Client) *Locker {
	return &Locker{c: c}
}

// Acquire sets key with SET NX PX. ok is false when someone else holds the lock.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.c.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, errors.Wrap(err, "redis lock")
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *Locker) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.c, []string{key}, token).Err(); err != nil && err != redis.Nil {
		return errors.Wrap(err, "redis unlock")
	}
	return nil
}
