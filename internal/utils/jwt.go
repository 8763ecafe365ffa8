package utils

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prperemyshlev/identity-service/internal/domain"
)

const sessionIssuer = "identity-service"

var ErrInvalidSessionToken = errors.New("invalid session token")

type sessionTokenClaims struct {
	SessionID string `json:"sid"`
	UserID    string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTManager signs and verifies session tokens
type JWTManager struct {
	secret        []byte
	sessionExpiry time.Duration
	parser        *jwt.Parser
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secret string, sessionExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:        []byte(secret),
		sessionExpiry: sessionExpiry,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(sessionIssuer),
			jwt.WithExpirationRequired(),
			jwt.WithIssuedAt(),
		),
	}
}

// GenerateSessionToken signs a fresh session for userID under a new session id
func (j *JWTManager) GenerateSessionToken(userID string) (string, *domain.SessionClaims, error) {
	now := time.Now()
	claims := sessionTokenClaims{
		SessionID: uuid.New().String(),
		UserID:    userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.sessionExpiry)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return signed, claims.session(), nil
}

// ValidateSessionToken checks signature, issuer and expiry and returns the claims
func (j *JWTManager) ValidateSessionToken(tokenString string) (*domain.SessionClaims, error) {
	var claims sessionTokenClaims

	_, err := j.parser.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSessionToken, err)
	}

	if claims.SessionID == "" || claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing sid or user_id", ErrInvalidSessionToken)
	}

	return claims.session(), nil
}

// SessionExpiry returns the lifetime of newly issued sessions
func (j *JWTManager) SessionExpiry() time.Duration {
	return j.sessionExpiry
}

func (c sessionTokenClaims) session() *domain.SessionClaims {
	s := &domain.SessionClaims{SessionID: c.SessionID, UserID: c.UserID}
	if c.ExpiresAt != nil {
		s.Exp = c.ExpiresAt.Unix()
	}
	if c.IssuedAt != nil {
		s.Iat = c.IssuedAt.Unix()
	}
	return s
}
