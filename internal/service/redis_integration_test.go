package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/pkg/database"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// RedisSuite exercises the Redis backed components against a real server
type RedisSuite struct {
	suite.Suite
	container testcontainers.Container
	redis     *database.Redis
}

func TestRedisSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis integration tests in short mode")
	}
	suite.Run(t, new(RedisSuite))
}

func (s *RedisSuite) SetupSuite() {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		s.T().Skipf("Redis container unavailable: %v", err)
	}
	s.container = container

	host, err := container.Host(ctx)
	s.Require().NoError(err)

	port, err := container.MappedPort(ctx, "6379/tcp")
	s.Require().NoError(err)

	redis, err := database.NewRedis(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	s.Require().NoError(err)
	s.redis = redis
}

func (s *RedisSuite) TearDownSuite() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *RedisSuite) SetupTest() {
	s.Require().NoError(s.redis.Client.FlushDB(context.Background()).Err())
}

func (s *RedisSuite) TestRedisLocker() {
	ctx := context.Background()
	locker := NewRedisLocker(s.redis, 5*time.Second, 100*time.Millisecond, zap.NewNop())

	unlock, err := locker.Lock(ctx, "identity:email:a@example.com")
	s.Require().NoError(err)

	_, err = locker.Lock(ctx, "identity:email:a@example.com")
	s.Error(err)

	unlock()

	unlock, err = locker.Lock(ctx, "identity:email:a@example.com")
	s.Require().NoError(err)
	unlock()
}

func (s *RedisSuite) TestRedisLockerReleaseKeepsForeignLock() {
	ctx := context.Background()
	locker := NewRedisLocker(s.redis, 5*time.Second, 100*time.Millisecond, zap.NewNop())

	unlock, err := locker.Lock(ctx, "key")
	s.Require().NoError(err)

	s.Require().NoError(s.redis.Client.Set(ctx, "lock:key", "someone-else", time.Minute).Err())
	unlock()

	value, err := s.redis.Client.Get(ctx, "lock:key").Result()
	s.Require().NoError(err)
	s.Equal("someone-else", value)
}

func (s *RedisSuite) TestRedisRateLimiter() {
	ctx := context.Background()
	limiter := NewRedisRateLimiter(s.redis)

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "1.2.3.4", 2, time.Minute)
		s.Require().NoError(err)
		s.True(allowed)
	}

	allowed, err := limiter.Allow(ctx, "1.2.3.4", 2, time.Minute)
	s.Require().NoError(err)
	s.False(allowed)
}

func (s *RedisSuite) TestRedisRevocationStore() {
	ctx := context.Background()
	store := NewRedisRevocationStore(s.redis)

	revoked, err := store.IsRevoked(ctx, "sid-1")
	s.Require().NoError(err)
	s.False(revoked)

	s.Require().NoError(store.Revoke(ctx, "sid-1", time.Minute))

	revoked, err = store.IsRevoked(ctx, "sid-1")
	s.Require().NoError(err)
	s.True(revoked)
}

func (s *RedisSuite) TestRedisNotifier() {
	ctx := context.Background()

	sub := s.redis.Client.Subscribe(ctx, "identity.events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	s.Require().NoError(err)

	notifier := NewRedisNotifier(s.redis, "identity.events")
	s.Require().NoError(notifier.Notify(ctx, Notification{
		Kind:     NotificationInfo,
		UserID:   "user-1",
		Provider: domain.ProviderFacebook,
		Text:     "Facebook account has been linked.",
	}))

	select {
	case msg := <-sub.Channel():
		var got Notification
		s.Require().NoError(json.Unmarshal([]byte(msg.Payload), &got))
		s.Equal("user-1", got.UserID)
		s.Equal(domain.ProviderFacebook, got.Provider)
	case <-time.After(5 * time.Second):
		s.Fail("notification was not published")
	}
}
