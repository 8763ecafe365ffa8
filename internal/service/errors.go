package service

import (
	"errors"
	"fmt"

	"github.com/prperemyshlev/identity-service/internal/repository"
)

// ErrorKind classifies a failed authentication attempt
type ErrorKind string

const (
	KindNotFound               ErrorKind = "not_found"
	KindInvalidCredential      ErrorKind = "invalid_credential"
	KindProviderAlreadyLinked  ErrorKind = "provider_already_linked"
	KindEmailAlreadyRegistered ErrorKind = "email_already_registered"
	KindInternalConsistency    ErrorKind = "internal_consistency"
	KindDuplicateKey           ErrorKind = "duplicate_key"
	KindStoreUnavailable       ErrorKind = "store_unavailable"
	KindEmailRequired          ErrorKind = "email_required"
	KindLastLoginMethod        ErrorKind = "last_login_method"
	KindInvalidInput           ErrorKind = "invalid_input"
)

// User facing messages
const (
	msgEmailNotFound          = "Email %s not found."
	msgInvalidCredential      = "Invalid email or password."
	msgProviderAlreadyLinked  = "There is already a %s account that belongs to you. Sign in with that account or delete it, then link it with your current account."
	msgEmailAlreadyRegistered = "There is already an account using this email address. Sign in to that account and link it with %s manually from Account Settings."
	msgAccountExists          = "Account with that email address already exists."
	msgAccountLinked          = "%s account has been linked."
	msgAccountUnlinked        = "%s account has been unlinked."
	msgSessionUserGone        = "Your account could not be found. Please sign in again."
	msgUserNotFound           = "User not found."
	msgStoreUnavailable       = "The service is temporarily unavailable. Please try again."
	msgConcurrentUpdate       = "Your account was changed by another request. Please try again."
	msgEmailRequired          = "%s did not share an email address. Sign up with email and password, then link %s from Account Settings."
	msgLastLoginMethod        = "Set a password before unlinking %s, it is the only way to sign in to your account."
	msgInvalidEmail           = "Please enter a valid email address."
	msgInvalidPassword        = "Password must be at least 8 characters long and contain uppercase, lowercase, and number."
	msgInvalidIdentity        = "%s did not return a usable profile."
	msgEmailInUse             = "The email address you have entered is already associated with an account."
	msgAccountDeleted         = "Your account has been deleted."
)

// AuthError is the typed failure returned by IdentityResolver.
// Message is safe to show to the end user; Err holds the cause.
type AuthError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func newAuthError(kind ErrorKind, message string, err error) *AuthError {
	return &AuthError{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of an AuthError in err's chain, or "" if there is none
func KindOf(err error) ErrorKind {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return ""
}

// UserMessage returns the message to show for err
func UserMessage(err error) string {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Message
	}
	return msgStoreUnavailable
}

// IsLostRace reports whether err was caused by a uniqueness violation in the
// store. The whole flow may be re-attempted once; the re-attempt observes the
// record that won.
func IsLostRace(err error) bool {
	return errors.Is(err, repository.ErrDuplicateKey)
}
