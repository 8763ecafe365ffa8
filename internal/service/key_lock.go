package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/identity-service/pkg/database"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	lockRetryInterval  = 25 * time.Millisecond
	lockReleaseTimeout = time.Second
	defaultLockWait    = 2 * time.Second
)

// releaseScript deletes the lock only if it is still held by the caller's token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker holds per-key locks in Redis so that every instance of the
// service serializes on the same identity
type RedisLocker struct {
	redis  *database.Redis
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a new Redis backed locker
func NewRedisLocker(redis *database.Redis, ttl, wait time.Duration, logger *zap.Logger) *RedisLocker {
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &RedisLocker{redis: redis, ttl: ttl, wait: wait, logger: logger}
}

// Lock acquires every key in sorted order, waiting at most the configured wait time
func (l *RedisLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	token := uuid.New().String()
	var held []string

	for _, key := range lockOrder(keys) {
		redisKey := fmt.Sprintf("lock:%s", key)
		if err := l.acquire(ctx, redisKey, token); err != nil {
			l.release(held, token)
			return nil, err
		}
		held = append(held, redisKey)
	}

	return func() { l.release(held, token) }, nil
}

func (l *RedisLocker) acquire(ctx context.Context, key, token string) error {
	for {
		ok, err := l.redis.Client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for lock %s: %w", key, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

func (l *RedisLocker) release(keys []string, token string) {
	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
	defer cancel()

	for _, key := range keys {
		if err := releaseScript.Run(ctx, l.redis.Client, []string{key}, token).Err(); err != nil {
			l.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}
}

// LocalLocker is an in-process KeyLocker for single instance deployments and tests
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
	wait time.Duration
}

// NewLocalLocker creates a new in-process locker
func NewLocalLocker(wait time.Duration) *LocalLocker {
	if wait <= 0 {
		wait = defaultLockWait
	}
	return &LocalLocker{
		held: make(map[string]chan struct{}),
		wait: wait,
	}
}

// Lock acquires every key in sorted order, waiting at most the configured wait time
func (l *LocalLocker) Lock(ctx context.Context, keys ...string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	var held []string
	for _, key := range lockOrder(keys) {
		if err := l.acquire(ctx, key); err != nil {
			l.release(held)
			return nil, err
		}
		held = append(held, key)
	}

	return func() { l.release(held) }, nil
}

func (l *LocalLocker) acquire(ctx context.Context, key string) error {
	for {
		l.mu.Lock()
		released, busy := l.held[key]
		if !busy {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for lock %s: %w", key, ctx.Err())
		case <-released:
		}
	}
}

func (l *LocalLocker) release(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range keys {
		if ch, ok := l.held[key]; ok {
			close(ch)
			delete(l.held, key)
		}
	}
}

// lockOrder sorts and dedupes keys so that concurrent callers never deadlock
func lockOrder(keys []string) []string {
	ordered := slices.Clone(keys)
	slices.Sort(ordered)
	return slices.Compact(ordered)
}

func providerLockKey(provider, providerUserID string) string {
	return fmt.Sprintf("identity:provider:%s:%s", provider, providerUserID)
}

func emailLockKey(email string) string {
	return fmt.Sprintf("identity:email:%s", email)
}

func userLockKey(userID string) string {
	return fmt.Sprintf("identity:user:%s", userID)
}
