package service

import (
	"context"
	"time"

	"github.com/prperemyshlev/identity-service/internal/domain"
)

// Outcome describes how a successful OAuth callback was resolved
type Outcome string

const (
	OutcomeSignedIn      Outcome = "signed_in"
	OutcomeCreated       Outcome = "created"
	OutcomeLinked        Outcome = "linked"
	OutcomeAlreadyLinked Outcome = "already_linked"
)

// Resolution is the result of HandleOAuthCallback
type Resolution struct {
	User    *domain.User
	Outcome Outcome
	// Message is set when the caller should show an info message
	Message string
}

// IdentityResolver decides which user an authentication event authenticates as.
// All failures are *AuthError values.
type IdentityResolver interface {
	AuthenticateLocal(ctx context.Context, email, password string) (*domain.User, error)
	Register(ctx context.Context, email, password string) (*domain.User, error)
	// HandleOAuthCallback runs the linking flow when sessionUserID is set and
	// the sign-in-or-register flow otherwise.
	HandleOAuthCallback(ctx context.Context, identity *domain.ExternalIdentity, sessionUserID string) (*Resolution, error)
	UnlinkProvider(ctx context.Context, userID string, provider domain.Provider) (*domain.User, error)
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpdateProfile(ctx context.Context, userID string, update ProfileUpdate) (*domain.User, error)
	// ChangePassword sets or replaces the local password, which also lets an
	// OAuth-only account unlink its last provider
	ChangePassword(ctx context.Context, userID, password string) (*domain.User, error)
	DeleteAccount(ctx context.Context, userID string) error
}

// ProfileUpdate carries the user editable account fields
type ProfileUpdate struct {
	Email    string
	Name     string
	Gender   string
	Location string
}

// SessionService issues and validates session tokens
type SessionService interface {
	Issue(ctx context.Context, userID string) (*domain.Session, error)
	Validate(ctx context.Context, token string) (*domain.SessionClaims, error)
	Revoke(ctx context.Context, claims *domain.SessionClaims) error
}

// Notifier delivers account events. Delivery failures never fail the flow.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// KeyLocker provides mutual exclusion across lookup-then-write sequences.
// The returned function releases every acquired key.
type KeyLocker interface {
	Lock(ctx context.Context, keys ...string) (func(), error)
}

// Limiter decides whether another request for key fits in the window
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
