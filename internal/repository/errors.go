package repository

import (
	"errors"
	"fmt"
)

// Common repository errors
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey is returned when a write violates a uniqueness constraint
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrDuplicateEmail is returned when trying to store a user with an existing email
	ErrDuplicateEmail = fmt.Errorf("user with this email already exists: %w", ErrDuplicateKey)

	// ErrDuplicateOAuthProvider is returned when a provider account is already linked to a user
	ErrDuplicateOAuthProvider = fmt.Errorf("oauth provider connection already exists: %w", ErrDuplicateKey)
)
