package repository

import (
	"context"

	"github.com/prperemyshlev/identity-service/internal/domain"
)

// UserRepository defines methods for user operations.
// Returned users carry their provider links and tokens.
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByProvider(ctx context.Context, provider domain.Provider, providerUserID string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	// Delete removes the user together with its links and tokens
	Delete(ctx context.Context, id string) error
}
