// Package lock provides the mutual exclusion that keeps sync runs from
// overlapping. Locks expire after their TTL so a crashed holder cannot
// wedge the service.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotHeld is returned by Release when the caller no longer owns the lock,
// usually because the TTL elapsed first.
var ErrNotHeld = errors.New("lock not held")

// Lease is one successful acquisition. Only the holder of the lease can
// release it.
type Lease struct {
	Key   string
	Token string
}

// Locker acquires without waiting: a held lock yields a nil lease.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is shared across processes through Redis.
type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	lease := &Lease{Key: key, Token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, key, lease.Token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, nil
	}
	return lease, nil
}

// Release deletes the key only while it still holds the lease's token.
func (l *RedisLocker) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return ErrNotHeld
	}
	n, err := releaseScript.Run(ctx, l.client, []string{lease.Key}, lease.Token).Int()
	if err != nil {
		return fmt.Errorf("lock: release %s: %w", lease.Key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

type localHold struct {
	token   string
	expires time.Time
}

// LocalLocker serves single-instance deployments without Redis.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]localHold
	now  func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]localHold), now: time.Now}
}

func (l *LocalLocker) Acquire(_ context.Context, key string, ttl time.Duration) (*Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return nil, nil
	}
	lease := &Lease{Key: key, Token: uuid.NewString()}
	l.held[key] = localHold{token: lease.Token, expires: now.Add(ttl)}
	return lease, nil
}

func (l *LocalLocker) Release(_ context.Context, lease *Lease) error {
	if lease == nil {
		return ErrNotHeld
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.held[lease.Key]
	if !ok || h.token != lease.Token {
		return ErrNotHeld
	}
	delete(l.held, lease.Key)
	return nil
}
