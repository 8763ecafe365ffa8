package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/dto"
	"github.com/prperemyshlev/identity-service/internal/service"
	"go.uber.org/zap"
)

const (
	msgEnterEmail       = "Please enter a valid email address."
	msgEnterNewPassword = "Please enter a new password and confirm it."
	msgProfileUpdated   = "Profile information has been updated."
	msgPasswordChanged  = "Password has been changed."
	msgAccountDeleted   = "Your account has been deleted."
)

// Home is the landing page: the signed in user, if any, and pending flash messages
func (h *AuthHandler) Home(c *gin.Context) {
	resp := dto.HomeResponse{}

	if userID := sessionUserID(c); userID != "" {
		user, err := h.resolver.GetUser(c.Request.Context(), userID)
		switch {
		case err == nil:
			view := dto.NewUserResponse(user)
			resp.User = &view
		case service.KindOf(err) == service.KindNotFound:
			h.cookies.clearSession(c)
		default:
			h.logger.Error("Failed to load current user", zap.String("user_id", userID), zap.Error(err))
		}
	}

	resp.Messages = h.cookies.consumeFlashes(c)
	c.JSON(http.StatusOK, resp)
}

// Account returns the signed in user with pending flash messages
func (h *AuthHandler) Account(c *gin.Context) {
	user, err := h.resolver.GetUser(c.Request.Context(), sessionUserID(c))
	if err != nil {
		h.cookies.clearSession(c)
		h.cookies.addFlash(c, FlashErrors, service.UserMessage(err))
		c.Redirect(http.StatusFound, "/login")
		return
	}

	c.JSON(http.StatusOK, dto.AccountResponse{
		User:     dto.NewUserResponse(user),
		Messages: h.cookies.consumeFlashes(c),
	})
}

// Unlink removes a provider link from the signed in user
func (h *AuthHandler) Unlink(c *gin.Context) {
	provider, err := domain.ParseProvider(c.Param("provider"))
	if err != nil {
		h.cookies.addFlash(c, FlashErrors, msgUnknownProvider)
		c.Redirect(http.StatusFound, "/account")
		return
	}

	if _, err := h.resolver.UnlinkProvider(c.Request.Context(), sessionUserID(c), provider); err != nil {
		h.cookies.addFlash(c, FlashErrors, service.UserMessage(err))
		c.Redirect(http.StatusFound, "/account")
		return
	}

	h.cookies.addFlash(c, FlashInfo, service.UnlinkedMessage(provider))
	c.Redirect(http.StatusFound, "/account")
}

// UpdateProfile handles POST /account/profile
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req dto.ProfileRequest
	if err := c.ShouldBind(&req); err != nil {
		h.cookies.addFlash(c, FlashErrors, msgEnterEmail)
		c.Redirect(http.StatusFound, "/account")
		return
	}

	_, err := h.resolver.UpdateProfile(c.Request.Context(), sessionUserID(c), service.ProfileUpdate{
		Email:    req.Email,
		Name:     req.Name,
		Gender:   req.Gender,
		Location: req.Location,
	})
	if err != nil {
		h.cookies.addFlash(c, FlashErrors, service.UserMessage(err))
		c.Redirect(http.StatusFound, "/account")
		return
	}

	h.cookies.addFlash(c, FlashSuccess, msgProfileUpdated)
	c.Redirect(http.StatusFound, "/account")
}

// UpdatePassword handles POST /account/password
func (h *AuthHandler) UpdatePassword(c *gin.Context) {
	var req dto.PasswordRequest
	if err := c.ShouldBind(&req); err != nil {
		h.cookies.addFlash(c, FlashErrors, msgEnterNewPassword)
		c.Redirect(http.StatusFound, "/account")
		return
	}

	if req.Password != req.ConfirmPassword {
		h.cookies.addFlash(c, FlashErrors, msgPasswordsMismatch)
		c.Redirect(http.StatusFound, "/account")
		return
	}

	if _, err := h.resolver.ChangePassword(c.Request.Context(), sessionUserID(c), req.Password); err != nil {
		h.cookies.addFlash(c, FlashErrors, service.UserMessage(err))
		c.Redirect(http.StatusFound, "/account")
		return
	}

	h.cookies.addFlash(c, FlashSuccess, msgPasswordChanged)
	c.Redirect(http.StatusFound, "/account")
}

// DeleteAccount handles POST /account/delete and signs the user out
func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	if err := h.resolver.DeleteAccount(c.Request.Context(), sessionUserID(c)); err != nil {
		h.cookies.addFlash(c, FlashErrors, service.UserMessage(err))
		c.Redirect(http.StatusFound, "/account")
		return
	}

	if claims := sessionClaims(c); claims != nil {
		if err := h.sessions.Revoke(c.Request.Context(), claims); err != nil {
			h.logger.Error("Failed to revoke session", zap.String("user_id", claims.UserID), zap.Error(err))
		}
	}

	h.cookies.clearSession(c)
	h.cookies.addFlash(c, FlashInfo, msgAccountDeleted)
	c.Redirect(http.StatusFound, "/")
}
