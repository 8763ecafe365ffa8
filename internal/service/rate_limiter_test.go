package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type erroringLimiter struct{}

func (erroringLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func TestLocalRateLimiter(t *testing.T) {
	ctx := context.Background()
	limiter := NewLocalRateLimiter()

	for i := 0; i < 3; i++ {
		allowed, err := limiter.Allow(ctx, "1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i)
	}

	allowed, err := limiter.Allow(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = limiter.Allow(ctx, "5.6.7.8", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestFallbackLimiter_UsesSecondaryOnError(t *testing.T) {
	ctx := context.Background()
	limiter := NewFallbackLimiter(erroringLimiter{}, NewLocalRateLimiter(), zap.NewNop())

	allowed, err := limiter.Allow(ctx, "key", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "key", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
}
