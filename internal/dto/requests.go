package dto

import (
	"time"

	"github.com/prperemyshlev/identity-service/internal/domain"
)

// SignupRequest represents a local sign-up request
type SignupRequest struct {
	Email           string `form:"email" json:"email" binding:"required"`
	Password        string `form:"password" json:"password" binding:"required"`
	ConfirmPassword string `form:"confirmPassword" json:"confirm_password"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `form:"email" json:"email" binding:"required"`
	Password string `form:"password" json:"password" binding:"required"`
}

// ProfileRequest updates the account email and profile fields
type ProfileRequest struct {
	Email    string `form:"email" json:"email" binding:"required"`
	Name     string `form:"name" json:"name"`
	Gender   string `form:"gender" json:"gender"`
	Location string `form:"location" json:"location"`
}

// PasswordRequest sets a new local password
type PasswordRequest struct {
	Password        string `form:"password" json:"password" binding:"required"`
	ConfirmPassword string `form:"confirmPassword" json:"confirm_password" binding:"required"`
}

// UserResponse represents a user response
type UserResponse struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	Profile   domain.Profile `json:"profile"`
	Links     []LinkResponse `json:"links"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at"`
}

// LinkResponse describes one linked provider account
type LinkResponse struct {
	Provider       string `json:"provider"`
	ProviderUserID string `json:"provider_user_id"`
	LinkedAt       string `json:"linked_at"`
}

// NewUserResponse builds the public view of a user
func NewUserResponse(user *domain.User) UserResponse {
	links := make([]LinkResponse, 0, len(user.Links))
	for _, l := range user.Links {
		links = append(links, LinkResponse{
			Provider:       string(l.Provider),
			ProviderUserID: l.ProviderUserID,
			LinkedAt:       l.CreatedAt.Format(time.RFC3339),
		})
	}

	return UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Profile:   user.Profile,
		Links:     links,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.Format(time.RFC3339),
	}
}

// FlashMessage is a one-shot message shown on the next page
type FlashMessage struct {
	Kind string `json:"kind"`
	Msg  string `json:"msg"`
}

// FlashResponse carries the pending flash messages
type FlashResponse struct {
	Messages []FlashMessage `json:"messages"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// AccountResponse is the account page payload
type AccountResponse struct {
	User     UserResponse   `json:"user"`
	Messages []FlashMessage `json:"messages"`
}

// HomeResponse is the landing page payload; User is nil for visitors
type HomeResponse struct {
	User     *UserResponse  `json:"user"`
	Messages []FlashMessage `json:"messages"`
}
