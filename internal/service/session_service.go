package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/utils"
)

var (
	// ErrInvalidSession is returned for malformed, forged or expired session tokens
	ErrInvalidSession = errors.New("invalid session")

	// ErrSessionRevoked is returned for sessions that were logged out
	ErrSessionRevoked = errors.New("session revoked")
)

// sessionService implements SessionService interface
type sessionService struct {
	jwtManager  *utils.JWTManager
	revocations RevocationStore
}

// NewSessionService creates a new session service
func NewSessionService(jwtManager *utils.JWTManager, revocations RevocationStore) SessionService {
	return &sessionService{
		jwtManager:  jwtManager,
		revocations: revocations,
	}
}

// Issue starts a new session for the user
func (s *sessionService) Issue(_ context.Context, userID string) (*domain.Session, error) {
	token, claims, err := s.jwtManager.GenerateSessionToken(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue session: %w", err)
	}

	return &domain.Session{
		Token:     token,
		SessionID: claims.SessionID,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Validate validates a session token
func (s *sessionService) Validate(ctx context.Context, token string) (*domain.SessionClaims, error) {
	claims, err := s.jwtManager.ValidateSessionToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to check session revocation: %w", err)
	}
	if revoked {
		return nil, ErrSessionRevoked
	}

	return claims, nil
}

// Revoke ends the session before its natural expiry
func (s *sessionService) Revoke(ctx context.Context, claims *domain.SessionClaims) error {
	ttl := claims.TTL()
	if ttl <= 0 {
		return nil
	}

	if err := s.revocations.Revoke(ctx, claims.SessionID, ttl); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}

	return nil
}
