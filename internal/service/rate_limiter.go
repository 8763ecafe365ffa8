package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prperemyshlev/identity-service/pkg/database"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RedisRateLimiter handles rate limiting using a Redis sliding window log
type RedisRateLimiter struct {
	redis *database.Redis
}

// NewRedisRateLimiter creates a new Redis rate limiter
func NewRedisRateLimiter(redis *database.Redis) *RedisRateLimiter {
	return &RedisRateLimiter{redis: redis}
}

// Allow checks if a request is allowed based on rate limit
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	now := time.Now()
	windowStart := now.Add(-window)

	redisKey := fmt.Sprintf("ratelimit:%s", key)

	// Remove entries older than the window
	err := r.redis.Client.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixMilli())).Err()
	if err != nil {
		return false, fmt.Errorf("failed to clean old entries: %w", err)
	}

	count, err := r.redis.Client.ZCard(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to count entries: %w", err)
	}

	if count >= int64(limit) {
		return false, nil
	}

	err = r.redis.Client.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	}).Err()
	if err != nil {
		return false, fmt.Errorf("failed to add entry: %w", err)
	}

	// Expiry failures only delay cleanup; the entries still age out of the window
	r.redis.Client.Expire(ctx, redisKey, window+time.Minute)

	return true, nil
}

// LocalRateLimiter keeps one token bucket per key in process memory
type LocalRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLocalRateLimiter creates a new in-process rate limiter
func NewLocalRateLimiter() *LocalRateLimiter {
	return &LocalRateLimiter{limiters: make(map[string]*rate.Limiter)}
}

// Allow takes a token from the bucket for key, refilling limit tokens per window
func (l *LocalRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return false, nil
	}

	bucket := fmt.Sprintf("%s|%d|%s", key, limit, window)

	l.mu.Lock()
	limiter, ok := l.limiters[bucket]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		l.limiters[bucket] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow(), nil
}

// FallbackLimiter asks primary and falls back to secondary when primary errors
type FallbackLimiter struct {
	primary   Limiter
	secondary Limiter
	logger    *zap.Logger
}

// NewFallbackLimiter creates a limiter that survives primary outages
func NewFallbackLimiter(primary, secondary Limiter, logger *zap.Logger) *FallbackLimiter {
	return &FallbackLimiter{primary: primary, secondary: secondary, logger: logger}
}

func (f *FallbackLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	allowed, err := f.primary.Allow(ctx, key, limit, window)
	if err == nil {
		return allowed, nil
	}

	f.logger.Warn("rate limiter unavailable, using local limiter", zap.String("key", key), zap.Error(err))
	return f.secondary.Allow(ctx, key, limit, window)
}
