package dispatcher

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker is the optional per-intervention concurrency optimization spec.md
// §5 explicitly permits but does not require: "Implementations may add a
// per-intervention mutex as an optimization, but it is not required."
// A nil Locker (NoopLocker) means the engine relies solely on the backend to
// reject over-assignment, exactly as spec.md's baseline describes.
type Locker interface {
	// TryLock attempts to acquire the lock for key, returning a release
	// function and true on success. On failure it returns (noop, false)
	// and the caller should proceed without the optimization rather than
	// block, since the lock is a liveness optimization, not a correctness
	// requirement.
	TryLock(ctx context.Context, key string) (release func(), acquired bool)
}

// NoopLocker never refuses to proceed — the engine's baseline behavior of
// relying on the backend for uniqueness (spec.md §5).
type NoopLocker struct{}

func (NoopLocker) TryLock(ctx context.Context, key string) (func(), bool) {
	return func() {}, true
}

// RedisLocker implements Locker with a Redis SETNX lease, so the
// optimization also holds across multiple engine replicas rather than only
// within one process.
type RedisLocker struct {
	Client *redis.Client
	TTL    time.Duration
	Prefix string
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{Client: client, TTL: ttl, Prefix: "dispatch:lock:"}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool) {
	redisKey := l.Prefix + key
	ok, err := l.Client.SetNX(ctx, redisKey, "1", l.TTL).Result()
	if err != nil || !ok {
		return func() {}, false
	}
	return func() {
		l.Client.Del(context.Background(), redisKey)
	}, true
}
