package handler

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/oauth"
	"github.com/prperemyshlev/identity-service/internal/service"
	"go.uber.org/zap"
)

const (
	msgStateMismatch  = "Your sign-in request expired. Please try again."
	msgProviderDenied = "%s sign-in was cancelled."
	msgExchangeFailed = "Could not complete sign-in with %s. Please try again."
)

// OAuthHandler drives the provider redirect and callback
type OAuthHandler struct {
	resolver  service.IdentityResolver
	sessions  service.SessionService
	providers *oauth.Registry
	cookies   CookieConfig
	logger    *zap.Logger
}

// NewOAuthHandler creates a new OAuth handler
func NewOAuthHandler(
	resolver service.IdentityResolver,
	sessions service.SessionService,
	providers *oauth.Registry,
	cookies CookieConfig,
	logger *zap.Logger,
) *OAuthHandler {
	return &OAuthHandler{
		resolver:  resolver,
		sessions:  sessions,
		providers: providers,
		cookies:   cookies,
		logger:    logger,
	}
}

// Begin redirects the browser to the provider's consent page
func (h *OAuthHandler) Begin(c *gin.Context) {
	provider, err := h.providers.Get(c.Param("provider"))
	if err != nil {
		h.cookies.addFlash(c, FlashErrors, msgUnknownProvider)
		c.Redirect(http.StatusFound, "/login")
		return
	}

	state := uuid.NewString()
	h.cookies.set(c, stateCookieName, state, int(stateMaxAge.Seconds()), "/auth")

	c.Redirect(http.StatusFound, provider.AuthCodeURL(state))
}

// Callback completes the code flow and signs the user in, or links the provider
// to the signed in user
func (h *OAuthHandler) Callback(c *gin.Context) {
	provider, err := h.providers.Get(c.Param("provider"))
	if err != nil {
		h.cookies.addFlash(c, FlashErrors, msgUnknownProvider)
		c.Redirect(http.StatusFound, "/login")
		return
	}
	name := provider.Name().DisplayName()

	expected, _ := c.Cookie(stateCookieName)
	h.cookies.set(c, stateCookieName, "", -1, "/auth")

	if reason := c.Query("error"); reason != "" {
		h.logger.Info("Provider denied authorization",
			zap.String("provider", string(provider.Name())),
			zap.String("reason", reason),
		)
		h.failCallback(c, fmt.Sprintf(msgProviderDenied, name))
		return
	}

	state := c.Query("state")
	if expected == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(state)) != 1 {
		h.failCallback(c, msgStateMismatch)
		return
	}

	identity, err := provider.Exchange(c.Request.Context(), c.Query("code"))
	if err != nil {
		h.logger.Warn("OAuth code exchange failed",
			zap.String("provider", string(provider.Name())),
			zap.Error(err),
		)
		h.failCallback(c, fmt.Sprintf(msgExchangeFailed, name))
		return
	}

	sessionUser := sessionUserID(c)

	resolution, err := h.resolve(c.Request.Context(), identity, sessionUser)
	if err != nil {
		h.failCallback(c, service.UserMessage(err))
		return
	}

	if resolution.Message != "" {
		h.cookies.addFlash(c, FlashInfo, resolution.Message)
	}

	if sessionUser == "" {
		if !issueSession(c, h.sessions, h.cookies, h.logger, resolution.User.ID) {
			c.Redirect(http.StatusFound, "/login")
			return
		}
	}

	c.Redirect(http.StatusFound, h.cookies.popReturnTo(c))
}

// resolve runs the resolver, re-attempting once when a concurrent request won
// a uniqueness race. The second attempt observes the winner's committed record.
func (h *OAuthHandler) resolve(ctx context.Context, identity *domain.ExternalIdentity, sessionUserID string) (*service.Resolution, error) {
	resolution, err := h.resolver.HandleOAuthCallback(ctx, identity, sessionUserID)
	if err == nil || !retryable(err, sessionUserID) {
		return resolution, err
	}

	h.logger.Info("Retrying OAuth resolution after concurrent write",
		zap.String("provider", string(identity.Provider)),
		zap.String("kind", string(service.KindOf(err))),
	)

	return h.resolver.HandleOAuthCallback(ctx, identity, sessionUserID)
}

// retryable reports whether a second attempt can end differently. A provider
// account that another user won while linking stays theirs.
func retryable(err error, sessionUserID string) bool {
	if !service.IsLostRace(err) {
		return false
	}
	return sessionUserID == "" || service.KindOf(err) != service.KindProviderAlreadyLinked
}

// failCallback flashes msg where the user will see it: the account page while
// linking, the login page otherwise
func (h *OAuthHandler) failCallback(c *gin.Context, msg string) {
	h.cookies.addFlash(c, FlashErrors, msg)

	if sessionUserID(c) != "" {
		c.Redirect(http.StatusFound, "/account")
		return
	}
	c.Redirect(http.StatusFound, "/login")
}
