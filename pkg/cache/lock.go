package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when the lock is held by someone else.
var ErrLocked = errors.New("lock held by another owner")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out expiring single-owner locks.
type Locker struct {
	client *redis.Client
	prefix string
}

// NewLocker creates a locker. A nil client grants every lock.
func NewLocker(client *redis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Lock is a held lock.
type Lock struct {
	locker *Locker
	key    string
	token  string
}

// Acquire takes the lock for name or returns ErrLocked.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	lock := &Lock{locker: l, key: l.prefix + name, token: uuid.NewString()}
	if l.client == nil {
		return lock, nil
	}
	ok, err := l.client.SetNX(ctx, lock.key, lock.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	return lock, nil
}

// Release drops the lock if it is still owned by this holder.
func (k *Lock) Release(ctx context.Context) error {
	if k == nil || k.locker.client == nil {
		return nil
	}
	return releaseScript.Run(ctx, k.locker.client, []string{k.key}, k.token).Err()
}
