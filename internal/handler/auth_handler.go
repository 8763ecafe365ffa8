package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/dto"
	"github.com/prperemyshlev/identity-service/internal/service"
	"go.uber.org/zap"
)

const (
	msgMissingCredentials = "Please enter your email address and password."
	msgPasswordsMismatch  = "Passwords do not match."
	msgLoggedIn           = "Success! You are logged in."
	msgUnknownProvider    = "That sign-in provider is not supported."
)

// AuthHandler handles local sign-in, sign-up and account pages
type AuthHandler struct {
	resolver service.IdentityResolver
	sessions service.SessionService
	cookies  CookieConfig
	logger   *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(resolver service.IdentityResolver, sessions service.SessionService, cookies CookieConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		resolver: resolver,
		sessions: sessions,
		cookies:  cookies,
		logger:   logger,
	}
}

// LoginPage returns the pending flash messages, or sends signed in users home
func (h *AuthHandler) LoginPage(c *gin.Context) {
	if sessionUserID(c) != "" {
		c.Redirect(http.StatusFound, "/")
		return
	}

	c.JSON(http.StatusOK, dto.FlashResponse{Messages: h.cookies.consumeFlashes(c)})
}

// Login handles POST /login
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBind(&req); err != nil {
		h.cookies.addFlash(c, FlashErrors, msgMissingCredentials)
		c.Redirect(http.StatusFound, "/login")
		return
	}

	user, err := h.resolver.AuthenticateLocal(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.cookies.addFlash(c, FlashErrors, service.UserMessage(err))
		c.Redirect(http.StatusFound, "/login")
		return
	}

	if !h.startSession(c, user.ID) {
		c.Redirect(http.StatusFound, "/login")
		return
	}

	h.cookies.addFlash(c, FlashSuccess, msgLoggedIn)
	c.Redirect(http.StatusFound, h.cookies.popReturnTo(c))
}

// Signup handles POST /signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req dto.SignupRequest
	if err := c.ShouldBind(&req); err != nil {
		h.cookies.addFlash(c, FlashErrors, msgMissingCredentials)
		c.Redirect(http.StatusFound, "/signup")
		return
	}

	if req.ConfirmPassword != "" && req.ConfirmPassword != req.Password {
		h.cookies.addFlash(c, FlashErrors, msgPasswordsMismatch)
		c.Redirect(http.StatusFound, "/signup")
		return
	}

	user, err := h.resolver.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.cookies.addFlash(c, FlashErrors, service.UserMessage(err))
		c.Redirect(http.StatusFound, "/signup")
		return
	}

	if !h.startSession(c, user.ID) {
		c.Redirect(http.StatusFound, "/login")
		return
	}

	c.Redirect(http.StatusFound, "/")
}

// Logout revokes the current session
func (h *AuthHandler) Logout(c *gin.Context) {
	if claims := sessionClaims(c); claims != nil {
		if err := h.sessions.Revoke(c.Request.Context(), claims); err != nil {
			h.logger.Error("Failed to revoke session", zap.String("user_id", claims.UserID), zap.Error(err))
		}
	}

	h.cookies.clearSession(c)
	c.Redirect(http.StatusFound, "/")
}

// CurrentUser returns the signed in user, or null
func (h *AuthHandler) CurrentUser(c *gin.Context) {
	userID := sessionUserID(c)
	if userID == "" {
		c.JSON(http.StatusOK, nil)
		return
	}

	user, err := h.resolver.GetUser(c.Request.Context(), userID)
	if err != nil {
		if service.KindOf(err) != service.KindNotFound {
			h.logger.Error("Failed to load current user", zap.String("user_id", userID), zap.Error(err))
		}
		c.JSON(http.StatusOK, nil)
		return
	}

	c.JSON(http.StatusOK, dto.NewUserResponse(user))
}

// startSession issues a session cookie, flashing an error when it cannot
func (h *AuthHandler) startSession(c *gin.Context, userID string) bool {
	return issueSession(c, h.sessions, h.cookies, h.logger, userID)
}

func issueSession(c *gin.Context, sessions service.SessionService, cookies CookieConfig, logger *zap.Logger, userID string) bool {
	session, err := sessions.Issue(c.Request.Context(), userID)
	if err != nil {
		logger.Error("Failed to issue session", zap.String("user_id", userID), zap.Error(err))
		cookies.addFlash(c, FlashErrors, service.UserMessage(err))
		return false
	}

	cookies.setSession(c, session)
	return true
}
