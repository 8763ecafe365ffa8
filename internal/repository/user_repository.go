package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/pkg/database"
)

const (
	uniqueViolationCode = "23505"

	usersEmailConstraint   = "users_email_key"
	providerUserConstraint = "oauth_providers_provider_user_key"
	userProviderConstraint = "oauth_providers_user_provider_key"

	userColumns = `u.id, u.email, u.password_hash, u.profile_name, u.profile_gender, u.profile_picture, u.profile_location, u.created_at, u.updated_at`
)

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// userRepository implements UserRepository interface
type userRepository struct {
	db *database.Postgres
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.Postgres) UserRepository {
	return &userRepository{db: db}
}

// Create creates a new user together with its provider links and tokens
func (r *userRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, email, password_hash, profile_name, profile_gender, profile_picture, profile_location, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	id := user.ID
	if id == "" {
		id = uuid.New().String()
	}

	now := time.Now()
	createdAt := user.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	email := domain.NormalizeEmail(user.Email)
	tokens := append([]domain.OAuthToken(nil), user.Tokens...)

	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query,
			id,
			email,
			nullString(user.PasswordHash),
			user.Profile.Name,
			user.Profile.Gender,
			user.Profile.Picture,
			user.Profile.Location,
			createdAt,
			now,
		)
		if err != nil {
			if dupErr := uniqueViolation(err); dupErr != nil {
				return fmt.Errorf("user with email %s already exists: %w", email, dupErr)
			}
			return fmt.Errorf("failed to create user: %w", err)
		}

		for _, link := range user.Links {
			if err := upsertProviderLink(ctx, tx, id, link); err != nil {
				return err
			}
		}

		return insertNewTokens(ctx, tx, id, tokens)
	})
	if err != nil {
		return err
	}

	user.ID = id
	user.Email = email
	user.CreatedAt = createdAt
	user.UpdatedAt = now
	user.Tokens = tokens

	return nil
}

// GetByEmail retrieves a user by email
func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users u WHERE u.email = $1`

	email = domain.NormalizeEmail(email)
	user, err := scanUser(r.db.DB.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with email %s not found: %w", email, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return r.withRelations(ctx, user)
}

// GetByID retrieves a user by ID
func (r *userRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("user with id %s not found: %w", id, ErrNotFound)
	}

	query := `SELECT ` + userColumns + ` FROM users u WHERE u.id = $1`

	user, err := scanUser(r.db.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user with id %s not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	return r.withRelations(ctx, user)
}

// GetByProvider retrieves the user linked to a provider account
func (r *userRepository) GetByProvider(ctx context.Context, provider domain.Provider, providerUserID string) (*domain.User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users u
		JOIN oauth_providers op ON op.user_id = u.id
		WHERE op.provider = $1 AND op.provider_user_id = $2
	`

	user, err := scanUser(r.db.DB.QueryRowContext(ctx, query, string(provider), providerUserID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user linked to %s account not found: %w", provider, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by provider: %w", err)
	}

	return r.withRelations(ctx, user)
}

// Update updates an existing user, synchronizing provider links and tokens.
// The last writer wins on plain columns.
func (r *userRepository) Update(ctx context.Context, user *domain.User) error {
	query := `
		UPDATE users
		SET email = $2, password_hash = $3, profile_name = $4, profile_gender = $5,
		    profile_picture = $6, profile_location = $7, updated_at = $8
		WHERE id = $1
	`

	now := time.Now()
	email := domain.NormalizeEmail(user.Email)
	tokens := append([]domain.OAuthToken(nil), user.Tokens...)

	err := r.db.InTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, query,
			user.ID,
			email,
			nullString(user.PasswordHash),
			user.Profile.Name,
			user.Profile.Gender,
			user.Profile.Picture,
			user.Profile.Location,
			now,
		)
		if err != nil {
			if dupErr := uniqueViolation(err); dupErr != nil {
				return fmt.Errorf("user with email %s already exists: %w", email, dupErr)
			}
			return fmt.Errorf("failed to update user: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if rowsAffected == 0 {
			return fmt.Errorf("user with id %s not found: %w", user.ID, ErrNotFound)
		}

		if err := syncProviderLinks(ctx, tx, user.ID, user.Links); err != nil {
			return err
		}

		return syncTokens(ctx, tx, user.ID, tokens)
	})
	if err != nil {
		return err
	}

	user.Email = email
	user.UpdatedAt = now
	user.Tokens = tokens

	return nil
}

// Delete removes a user; links and tokens go with it through ON DELETE CASCADE
func (r *userRepository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("user with id %s not found: %w", id, ErrNotFound)
	}

	result, err := r.db.DB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("user with id %s not found: %w", id, ErrNotFound)
	}

	return nil
}

func (r *userRepository) withRelations(ctx context.Context, user *domain.User) (*domain.User, error) {
	links, err := getProviderLinksByUserID(ctx, r.db.DB, user.ID)
	if err != nil {
		return nil, err
	}
	user.Links = links

	tokens, err := getTokensByUserID(ctx, r.db.DB, user.ID)
	if err != nil {
		return nil, err
	}
	user.Tokens = tokens

	return user, nil
}

func scanUser(row *sql.Row) (*domain.User, error) {
	user := &domain.User{}
	var passwordHash sql.NullString

	err := row.Scan(
		&user.ID,
		&user.Email,
		&passwordHash,
		&user.Profile.Name,
		&user.Profile.Gender,
		&user.Profile.Picture,
		&user.Profile.Location,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if passwordHash.Valid {
		user.PasswordHash = passwordHash.String
	}

	return user, nil
}

// uniqueViolation maps a PostgreSQL unique_violation to a repository error, or returns nil
func uniqueViolation(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolationCode {
		return nil
	}

	switch pqErr.Constraint {
	case usersEmailConstraint:
		return ErrDuplicateEmail
	case providerUserConstraint:
		return ErrDuplicateOAuthProvider
	default:
		return fmt.Errorf("constraint %s: %w", pqErr.Constraint, ErrDuplicateKey)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
