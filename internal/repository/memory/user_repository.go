// Package memory provides an in-process UserRepository.
// It enforces the same uniqueness rules as the PostgreSQL schema and is used
// by tests and by local runs without a database.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/repository"
)

type providerKey struct {
	provider       domain.Provider
	providerUserID string
}

// UserRepository is a mutex guarded map of users. Callers never share
// memory with the store: every read and write goes through a deep copy.
type UserRepository struct {
	mu         sync.RWMutex
	users      map[string]*domain.User
	byEmail    map[string]string
	byProvider map[providerKey]string
}

var _ repository.UserRepository = (*UserRepository)(nil)

// NewUserRepository creates an empty in-memory user repository
func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:      make(map[string]*domain.User),
		byEmail:    make(map[string]string),
		byProvider: make(map[providerKey]string),
	}
}

// Create stores a new user, assigning an ID when the user has none
func (r *UserRepository) Create(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored := user.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if _, exists := r.users[stored.ID]; exists {
		return fmt.Errorf("user with id %s already exists: %w", stored.ID, repository.ErrDuplicateKey)
	}

	now := time.Now()
	stored.Email = domain.NormalizeEmail(stored.Email)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	assignTokenIDs(stored)

	if err := r.checkUnique(stored); err != nil {
		return err
	}

	r.index(stored)
	*user = *stored.Clone()

	return nil
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	email = domain.NormalizeEmail(email)
	id, ok := r.byEmail[email]
	if !ok {
		return nil, fmt.Errorf("user with email %s not found: %w", email, repository.ErrNotFound)
	}

	return r.users[id].Clone(), nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user with id %s not found: %w", id, repository.ErrNotFound)
	}

	return user.Clone(), nil
}

// GetByProvider retrieves the user linked to a provider account
func (r *UserRepository) GetByProvider(ctx context.Context, provider domain.Provider, providerUserID string) (*domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byProvider[providerKey{provider, providerUserID}]
	if !ok {
		return nil, fmt.Errorf("user linked to %s account not found: %w", provider, repository.ErrNotFound)
	}

	return r.users[id].Clone(), nil
}

// Update replaces a stored user
func (r *UserRepository) Update(ctx context.Context, user *domain.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	previous, ok := r.users[user.ID]
	if !ok {
		return fmt.Errorf("user with id %s not found: %w", user.ID, repository.ErrNotFound)
	}

	stored := user.Clone()
	stored.Email = domain.NormalizeEmail(stored.Email)
	stored.CreatedAt = previous.CreatedAt
	stored.UpdatedAt = time.Now()
	assignTokenIDs(stored)

	if err := r.checkUnique(stored); err != nil {
		return err
	}

	r.unindex(previous)
	r.index(stored)
	*user = *stored.Clone()

	return nil
}

// Delete removes a stored user and frees its email and provider links
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return fmt.Errorf("user with id %s not found: %w", id, repository.ErrNotFound)
	}

	r.unindex(user)
	return nil
}

// Len returns the number of stored users
func (r *UserRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// checkUnique must be called with the write lock held
func (r *UserRepository) checkUnique(user *domain.User) error {
	if owner, ok := r.byEmail[user.Email]; ok && owner != user.ID {
		return fmt.Errorf("user with email %s already exists: %w", user.Email, repository.ErrDuplicateEmail)
	}

	for _, link := range user.Links {
		owner, ok := r.byProvider[providerKey{link.Provider, link.ProviderUserID}]
		if ok && owner != user.ID {
			return fmt.Errorf("%s account %s is linked to another user: %w", link.Provider, link.ProviderUserID, repository.ErrDuplicateOAuthProvider)
		}
	}

	return nil
}

func (r *UserRepository) index(user *domain.User) {
	r.users[user.ID] = user
	r.byEmail[user.Email] = user.ID
	for _, link := range user.Links {
		r.byProvider[providerKey{link.Provider, link.ProviderUserID}] = user.ID
	}
}

func (r *UserRepository) unindex(user *domain.User) {
	delete(r.users, user.ID)
	delete(r.byEmail, user.Email)
	for _, link := range user.Links {
		delete(r.byProvider, providerKey{link.Provider, link.ProviderUserID})
	}
}

func assignTokenIDs(user *domain.User) {
	for i := range user.Tokens {
		if user.Tokens[i].ID == "" {
			user.Tokens[i].ID = uuid.New().String()
		}
	}
}
