package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/oauth"
	"github.com/prperemyshlev/identity-service/internal/repository"
	"github.com/prperemyshlev/identity-service/internal/service"
	"github.com/prperemyshlev/identity-service/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedResolver answers HandleOAuthCallback from a list of results
type scriptedResolver struct {
	service.IdentityResolver
	results      []error
	calls        int
	sessionUsers []string
}

func (r *scriptedResolver) HandleOAuthCallback(_ context.Context, identity *domain.ExternalIdentity, sessionUserID string) (*service.Resolution, error) {
	err := r.results[r.calls]
	r.calls++
	r.sessionUsers = append(r.sessionUsers, sessionUserID)
	if err != nil {
		return nil, err
	}
	return &service.Resolution{
		User:    &domain.User{ID: "user-" + identity.ProviderUserID},
		Outcome: service.OutcomeSignedIn,
	}, nil
}

func callbackWith(t *testing.T, resolver service.IdentityResolver) (*httptest.ResponseRecorder, *browser) {
	t.Helper()
	return callbackAs(t, resolver, "")
}

// callbackAs completes a Google callback, signed in as userID when it is set
func callbackAs(t *testing.T, resolver service.IdentityResolver, userID string) (*httptest.ResponseRecorder, *browser) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions := service.NewSessionService(
		utils.NewJWTManager(strings.Repeat("k", 32), time.Hour),
		service.NewLocalRevocationStore(),
	)
	provider := &fakeProvider{
		name:     domain.ProviderGoogle,
		identity: domain.ExternalIdentity{Provider: domain.ProviderGoogle, ProviderUserID: "g-1", Email: "g@example.com"},
	}

	router := newTestRouter(resolver, sessions, oauth.NewRegistry(provider), CookieConfig{SessionName: "sid"}, zap.NewNop())
	b := &browser{t: t, router: router, cookies: map[string]string{}}

	if userID != "" {
		session, err := sessions.Issue(context.Background(), userID)
		require.NoError(t, err)
		b.cookies["sid"] = session.Token
	}

	b.do(http.MethodGet, "/auth/google", nil)
	rec := b.do(http.MethodGet, "/auth/google/callback?code=c&state="+b.cookies[stateCookieName], nil)
	return rec, b
}

func TestOAuthCallback_RetriesOnceAfterLostRace(t *testing.T) {
	lost := &service.AuthError{
		Kind:    service.KindProviderAlreadyLinked,
		Message: "lost",
		Err:     repository.ErrDuplicateOAuthProvider,
	}
	resolver := &scriptedResolver{results: []error{lost, nil}}

	rec, b := callbackWith(t, resolver)

	assert.Equal(t, 2, resolver.calls)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Contains(t, b.cookies, "sid")
}

func TestOAuthCallback_GivesUpAfterSecondLostRace(t *testing.T) {
	lost := &service.AuthError{
		Kind:    service.KindEmailAlreadyRegistered,
		Message: "Someone else got there first.",
		Err:     repository.ErrDuplicateEmail,
	}
	resolver := &scriptedResolver{results: []error{lost, lost}}

	rec, b := callbackWith(t, resolver)

	assert.Equal(t, 2, resolver.calls)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	assert.NotContains(t, b.cookies, "sid")
	require.Len(t, b.flashes(), 1)
	assert.Equal(t, "Someone else got there first.", b.flashes()[0].Msg)
}

func TestOAuthCallback_DoesNotRetryOtherFailures(t *testing.T) {
	unavailable := &service.AuthError{
		Kind:    service.KindStoreUnavailable,
		Message: "The service is temporarily unavailable. Please try again.",
		Err:     context.DeadlineExceeded,
	}
	resolver := &scriptedResolver{results: []error{unavailable}}

	rec, b := callbackWith(t, resolver)

	assert.Equal(t, 1, resolver.calls)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	require.Len(t, b.flashes(), 1)
	assert.Equal(t, unavailable.Message, b.flashes()[0].Msg)
}

func TestOAuthCallback_LinkConflictIsNotRetried(t *testing.T) {
	conflict := &service.AuthError{
		Kind:    service.KindProviderAlreadyLinked,
		Message: "There is already a Google account that belongs to you.",
		Err:     repository.ErrDuplicateOAuthProvider,
	}
	resolver := &scriptedResolver{results: []error{conflict, nil}}

	rec, b := callbackAs(t, resolver, "user-1")

	assert.Equal(t, 1, resolver.calls)
	assert.Equal(t, []string{"user-1"}, resolver.sessionUsers)
	assert.Equal(t, "/account", rec.Header().Get("Location"))
	require.Len(t, b.flashes(), 1)
	assert.Equal(t, conflict.Message, b.flashes()[0].Msg)
}

func TestOAuthCallback_LinkRetriesOtherLostRaces(t *testing.T) {
	lost := &service.AuthError{
		Kind:    service.KindDuplicateKey,
		Message: "Your account was changed by another request. Please try again.",
		Err:     repository.ErrDuplicateKey,
	}
	resolver := &scriptedResolver{results: []error{lost, nil}}

	rec, _ := callbackAs(t, resolver, "user-1")

	assert.Equal(t, 2, resolver.calls)
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestRetryable(t *testing.T) {
	providerLost := &service.AuthError{Kind: service.KindProviderAlreadyLinked, Err: repository.ErrDuplicateOAuthProvider}
	emailLost := &service.AuthError{Kind: service.KindEmailAlreadyRegistered, Err: repository.ErrDuplicateEmail}
	conflict := &service.AuthError{Kind: service.KindProviderAlreadyLinked}

	assert.True(t, retryable(providerLost, ""))
	assert.False(t, retryable(providerLost, "user-1"))
	assert.True(t, retryable(emailLost, "user-1"))
	assert.False(t, retryable(conflict, ""))
	assert.False(t, retryable(errors.New("boom"), ""))
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(limiter service.Limiter) *gin.Engine {
		router := gin.New()
		router.POST("/login", RateLimitMiddleware(limiter, 2, time.Minute, IPBasedKey, zap.NewNop()), func(c *gin.Context) {
			c.Status(http.StatusNoContent)
		})
		return router
	}

	post := func(router *gin.Engine, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.Header.Set("X-Forwarded-For", ip+", 10.0.0.1")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	t.Run("limits per client", func(t *testing.T) {
		router := newRouter(service.NewLocalRateLimiter())

		assert.Equal(t, http.StatusNoContent, post(router, "1.1.1.1").Code)
		assert.Equal(t, http.StatusNoContent, post(router, "1.1.1.1").Code)

		rec := post(router, "1.1.1.1")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))

		assert.Equal(t, http.StatusNoContent, post(router, "2.2.2.2").Code)
	})

	t.Run("fails open", func(t *testing.T) {
		router := newRouter(brokenLimiter{})

		for i := 0; i < 5; i++ {
			assert.Equal(t, http.StatusNoContent, post(router, "1.1.1.1").Code)
		}
	})
}
