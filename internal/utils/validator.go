package utils

import (
	"regexp"
	"unicode"
)

const (
	maxEmailLength    = 254
	minPasswordLength = 8
	maxPasswordBytes  = 72
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidateEmail reports whether email is a plausible address of at most 254 characters
func ValidateEmail(email string) bool {
	return len(email) <= maxEmailLength && emailRegex.MatchString(email)
}

// ValidatePassword requires at least 8 characters with an upper and a lower
// case letter and a digit, and no more than bcrypt's 72 byte limit
func ValidatePassword(password string) bool {
	if len(password) > maxPasswordBytes {
		return false
	}

	var length int
	var hasUpper, hasLower, hasNumber bool

	for _, r := range password {
		length++
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasNumber = true
		}
	}

	return length >= minPasswordLength && hasUpper && hasLower && hasNumber
}
