package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prperemyshlev/identity-service/pkg/database"
)

// RevocationStore remembers revoked session IDs until the session would have expired
type RevocationStore interface {
	Revoke(ctx context.Context, sessionID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

// RedisRevocationStore keeps revoked session IDs in Redis
type RedisRevocationStore struct {
	redis *database.Redis
}

// NewRedisRevocationStore creates a new Redis revocation store
func NewRedisRevocationStore(redis *database.Redis) *RedisRevocationStore {
	return &RedisRevocationStore{redis: redis}
}

// Revoke marks the session as revoked for ttl
func (s *RedisRevocationStore) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	key := fmt.Sprintf("session:revoked:%s", sessionID)
	err := s.redis.Client.Set(ctx, key, "1", ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// IsRevoked checks if the session has been revoked
func (s *RedisRevocationStore) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	key := fmt.Sprintf("session:revoked:%s", sessionID)
	exists, err := s.redis.Client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check session revocation: %w", err)
	}
	return exists > 0, nil
}

// LocalRevocationStore keeps revoked session IDs in process memory
type LocalRevocationStore struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewLocalRevocationStore creates a new in-process revocation store
func NewLocalRevocationStore() *LocalRevocationStore {
	return &LocalRevocationStore{revoked: make(map[string]time.Time)}
}

func (s *LocalRevocationStore) Revoke(_ context.Context, sessionID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, until := range s.revoked {
		if now.After(until) {
			delete(s.revoked, id)
		}
	}

	s.revoked[sessionID] = now.Add(ttl)
	return nil
}

func (s *LocalRevocationStore) IsRevoked(_ context.Context, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.revoked[sessionID]
	return ok && time.Now().Before(until), nil
}
