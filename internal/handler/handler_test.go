package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/domain"
	"github.com/prperemyshlev/identity-service/internal/dto"
	"github.com/prperemyshlev/identity-service/internal/oauth"
	"github.com/prperemyshlev/identity-service/internal/repository/memory"
	"github.com/prperemyshlev/identity-service/internal/service"
	"github.com/prperemyshlev/identity-service/internal/utils"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const testPassword = "Passw0rd1"

type fakeProvider struct {
	name     domain.Provider
	identity domain.ExternalIdentity
	err      error
}

func (p *fakeProvider) Name() domain.Provider {
	return p.name
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://provider.test/authorize?state=" + state
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (*domain.ExternalIdentity, error) {
	if p.err != nil {
		return nil, p.err
	}
	identity := p.identity
	identity.AccessToken = "token-" + code
	return &identity, nil
}

// browser replays cookies between requests the way a user agent would
type browser struct {
	t       *testing.T
	router  http.Handler
	cookies map[string]string
}

func (b *browser) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	b.t.Helper()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for name, value := range b.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	rec := httptest.NewRecorder()
	b.router.ServeHTTP(rec, req)

	for _, ck := range rec.Result().Cookies() {
		if ck.MaxAge < 0 || ck.Value == "" {
			delete(b.cookies, ck.Name)
			continue
		}
		b.cookies[ck.Name] = ck.Value
	}

	return rec
}

func (b *browser) flashes() []dto.FlashMessage {
	b.t.Helper()

	value, ok := b.cookies[flashCookieName]
	if !ok {
		return nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(value)
	require.NoError(b.t, err)

	var messages []dto.FlashMessage
	require.NoError(b.t, json.Unmarshal(raw, &messages))
	return messages
}

func (b *browser) currentUser() *dto.UserResponse {
	b.t.Helper()

	rec := b.do(http.MethodGet, "/api/current_user", nil)
	require.Equal(b.t, http.StatusOK, rec.Code)

	if strings.TrimSpace(rec.Body.String()) == "null" {
		return nil
	}

	var user dto.UserResponse
	require.NoError(b.t, json.Unmarshal(rec.Body.Bytes(), &user))
	return &user
}

type HandlerSuite struct {
	suite.Suite
	users    *memory.UserRepository
	facebook *fakeProvider
	router   *gin.Engine
	cookies  CookieConfig
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	s.users = memory.NewUserRepository()
	resolver := service.NewIdentityResolver(
		s.users,
		service.NewLocalLocker(time.Second),
		service.NewLogNotifier(logger),
		nil,
		logger,
		service.ResolverConfig{BCryptCost: bcrypt.MinCost},
	)
	sessions := service.NewSessionService(
		utils.NewJWTManager(strings.Repeat("k", 32), time.Hour),
		service.NewLocalRevocationStore(),
	)

	s.facebook = &fakeProvider{
		name: domain.ProviderFacebook,
		identity: domain.ExternalIdentity{
			Provider:       domain.ProviderFacebook,
			ProviderUserID: "fb-1",
			Email:          "fb-user@example.com",
			Profile:        domain.Profile{Name: "Fay Book"},
		},
	}

	s.cookies = CookieConfig{SessionName: "sid"}
	s.router = newTestRouter(resolver, sessions, oauth.NewRegistry(s.facebook), s.cookies, logger)
}

func newTestRouter(resolver service.IdentityResolver, sessions service.SessionService, providers *oauth.Registry, cookies CookieConfig, logger *zap.Logger) *gin.Engine {
	authHandler := NewAuthHandler(resolver, sessions, cookies, logger)
	oauthHandler := NewOAuthHandler(resolver, sessions, providers, cookies, logger)

	router := gin.New()
	router.Use(SessionMiddleware(sessions, cookies, logger))
	RegisterRoutes(router, Routes{Auth: authHandler, OAuth: oauthHandler, Cookies: cookies})

	return router
}

func (s *HandlerSuite) newBrowser() *browser {
	return &browser{t: s.T(), router: s.router, cookies: map[string]string{}}
}

func (s *HandlerSuite) signup(b *browser, email string) {
	rec := b.do(http.MethodPost, "/signup", url.Values{
		"email":           {email},
		"password":        {testPassword},
		"confirmPassword": {testPassword},
	})
	s.Require().Equal(http.StatusFound, rec.Code)
	s.Require().Equal("/", rec.Header().Get("Location"))
	s.Require().Contains(b.cookies, "sid")
}

// oauthRoundTrip performs the redirect and the callback for the fake provider
func (s *HandlerSuite) oauthRoundTrip(b *browser) *httptest.ResponseRecorder {
	rec := b.do(http.MethodGet, "/auth/facebook", nil)
	s.Require().Equal(http.StatusFound, rec.Code)

	state := b.cookies[stateCookieName]
	s.Require().NotEmpty(state)
	s.Require().Equal("https://provider.test/authorize?state="+state, rec.Header().Get("Location"))

	return b.do(http.MethodGet, "/auth/facebook/callback?code=abc&state="+url.QueryEscape(state), nil)
}

func (s *HandlerSuite) TestSignupLoginLogout() {
	b := s.newBrowser()
	s.signup(b, "Jane@Example.com")

	user := b.currentUser()
	s.Require().NotNil(user)
	s.Equal("jane@example.com", user.Email)

	token := b.cookies["sid"]
	rec := b.do(http.MethodGet, "/logout", nil)
	s.Equal(http.StatusFound, rec.Code)
	s.NotContains(b.cookies, "sid")
	s.Nil(b.currentUser())

	// the revoked token no longer authenticates
	b.cookies["sid"] = token
	s.Nil(b.currentUser())

	rec = b.do(http.MethodPost, "/login", url.Values{"email": {"jane@example.com"}, "password": {testPassword}})
	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/", rec.Header().Get("Location"))
	s.Contains(b.flashes(), dto.FlashMessage{Kind: FlashSuccess, Msg: msgLoggedIn})
	s.NotNil(b.currentUser())
}

func (s *HandlerSuite) TestLoginFailuresFlash() {
	b := s.newBrowser()
	s.signup(b, "jane@example.com")
	b.do(http.MethodGet, "/logout", nil)

	rec := b.do(http.MethodPost, "/login", url.Values{"email": {"jane@example.com"}, "password": {"wrong"}})
	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/login", rec.Header().Get("Location"))
	s.Equal([]dto.FlashMessage{{Kind: FlashErrors, Msg: "Invalid email or password."}}, b.flashes())

	rec = b.do(http.MethodGet, "/login", nil)
	s.Equal(http.StatusOK, rec.Code)
	var page dto.FlashResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &page))
	s.Len(page.Messages, 1)
	s.Empty(b.flashes(), "flash messages are consumed on read")

	b.do(http.MethodPost, "/login", url.Values{"email": {"nobody@example.com"}, "password": {"x"}})
	s.Equal([]dto.FlashMessage{{Kind: FlashErrors, Msg: "Email nobody@example.com not found."}}, b.flashes())

	b.do(http.MethodGet, "/login", nil)
	b.do(http.MethodPost, "/login", url.Values{"email": {"jane@example.com"}})
	s.Equal([]dto.FlashMessage{{Kind: FlashErrors, Msg: msgMissingCredentials}}, b.flashes())
	s.Nil(b.currentUser())
}

func (s *HandlerSuite) TestSignupRejections() {
	b := s.newBrowser()

	rec := b.do(http.MethodPost, "/signup", url.Values{
		"email":           {"jane@example.com"},
		"password":        {testPassword},
		"confirmPassword": {"different"},
	})
	s.Equal("/signup", rec.Header().Get("Location"))
	s.Equal([]dto.FlashMessage{{Kind: FlashErrors, Msg: msgPasswordsMismatch}}, b.flashes())
	s.Equal(0, s.users.Len())

	s.signup(b, "jane@example.com")
	b.do(http.MethodGet, "/logout", nil)
	b.do(http.MethodGet, "/login", nil)

	rec = b.do(http.MethodPost, "/signup", url.Values{"email": {"JANE@example.com"}, "password": {testPassword}})
	s.Equal("/signup", rec.Header().Get("Location"))
	s.Equal([]dto.FlashMessage{{Kind: FlashErrors, Msg: "Account with that email address already exists."}}, b.flashes())
	s.Equal(1, s.users.Len())
}

func (s *HandlerSuite) TestRequireAuthRemembersReturnTo() {
	b := s.newBrowser()

	rec := b.do(http.MethodGet, "/account", nil)
	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/login", rec.Header().Get("Location"))
	s.Contains(b.cookies, returnToCookieName)

	s.signup(b, "jane@example.com")
	b.do(http.MethodGet, "/logout", nil)

	b.do(http.MethodGet, "/account", nil)
	rec = b.do(http.MethodPost, "/login", url.Values{"email": {"jane@example.com"}, "password": {testPassword}})
	s.Equal("/account", rec.Header().Get("Location"))
	s.NotContains(b.cookies, returnToCookieName)

	rec = b.do(http.MethodGet, "/account", nil)
	s.Equal(http.StatusOK, rec.Code)
	var account dto.AccountResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &account))
	s.Equal("jane@example.com", account.User.Email)
}

func (s *HandlerSuite) TestOAuthSignUpCreatesUserAndSession() {
	b := s.newBrowser()

	rec := s.oauthRoundTrip(b)
	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/", rec.Header().Get("Location"))
	s.NotContains(b.cookies, stateCookieName)

	user := b.currentUser()
	s.Require().NotNil(user)
	s.Equal("fb-user@example.com", user.Email)
	s.Equal("Fay Book", user.Profile.Name)
	s.Require().Len(user.Links, 1)
	s.Equal("facebook", user.Links[0].Provider)
	s.Equal("fb-1", user.Links[0].ProviderUserID)

	// a second sign-in resolves to the same user
	b.do(http.MethodGet, "/logout", nil)
	s.oauthRoundTrip(b)
	again := b.currentUser()
	s.Require().NotNil(again)
	s.Equal(user.ID, again.ID)
	s.Equal(1, s.users.Len())
}

func (s *HandlerSuite) TestOAuthLinksToSignedInUser() {
	b := s.newBrowser()
	s.signup(b, "jane@example.com")
	sid := b.cookies["sid"]

	rec := s.oauthRoundTrip(b)
	s.Equal("/", rec.Header().Get("Location"))
	s.Equal([]dto.FlashMessage{{Kind: FlashInfo, Msg: "Facebook account has been linked."}}, b.flashes())
	s.Equal(sid, b.cookies["sid"], "linking keeps the existing session")

	user := b.currentUser()
	s.Require().NotNil(user)
	s.Equal("jane@example.com", user.Email)
	s.Require().Len(user.Links, 1)
	s.Equal(1, s.users.Len())

	rec = b.do(http.MethodGet, "/account/unlink/facebook", nil)
	s.Equal("/account", rec.Header().Get("Location"))
	s.Contains(b.flashes(), dto.FlashMessage{Kind: FlashInfo, Msg: "Facebook account has been unlinked."})
	s.Empty(b.currentUser().Links)
}

func (s *HandlerSuite) TestOAuthEmailConflictRedirectsToLogin() {
	b := s.newBrowser()
	s.facebook.identity.Email = "jane@example.com"
	s.signup(b, "jane@example.com")
	b.do(http.MethodGet, "/logout", nil)

	rec := s.oauthRoundTrip(b)
	s.Equal("/login", rec.Header().Get("Location"))
	s.NotContains(b.cookies, "sid")

	flashes := b.flashes()
	s.Require().Len(flashes, 1)
	s.Equal(FlashErrors, flashes[0].Kind)
	s.Contains(flashes[0].Msg, "There is already an account using this email address.")
	s.Equal(1, s.users.Len())
}

func (s *HandlerSuite) TestOAuthCallbackRejections() {
	b := s.newBrowser()

	rec := b.do(http.MethodGet, "/auth/twitter", nil)
	s.Equal("/login", rec.Header().Get("Location"))
	s.Equal([]dto.FlashMessage{{Kind: FlashErrors, Msg: msgUnknownProvider}}, b.flashes())
	b.do(http.MethodGet, "/login", nil)

	b.do(http.MethodGet, "/auth/facebook", nil)
	rec = b.do(http.MethodGet, "/auth/facebook/callback?code=abc&state=forged", nil)
	s.Equal("/login", rec.Header().Get("Location"))
	s.Equal([]dto.FlashMessage{{Kind: FlashErrors, Msg: msgStateMismatch}}, b.flashes())
	b.do(http.MethodGet, "/login", nil)

	rec = b.do(http.MethodGet, "/auth/facebook/callback?error=access_denied", nil)
	s.Equal("/login", rec.Header().Get("Location"))
	s.Equal([]dto.FlashMessage{{Kind: FlashErrors, Msg: "Facebook sign-in was cancelled."}}, b.flashes())
	b.do(http.MethodGet, "/login", nil)

	s.facebook.err = io.ErrUnexpectedEOF
	rec = s.oauthRoundTrip(b)
	s.Equal("/login", rec.Header().Get("Location"))
	s.Equal([]dto.FlashMessage{{Kind: FlashErrors, Msg: "Could not complete sign-in with Facebook. Please try again."}}, b.flashes())

	s.Equal(0, s.users.Len())
	s.Nil(b.currentUser())
}

func (s *HandlerSuite) TestUnlinkUnknownProvider() {
	b := s.newBrowser()
	s.signup(b, "jane@example.com")

	rec := b.do(http.MethodGet, "/account/unlink/myspace", nil)
	s.Equal("/account", rec.Header().Get("Location"))
	s.Equal([]dto.FlashMessage{{Kind: FlashErrors, Msg: msgUnknownProvider}}, b.flashes())
}

func (s *HandlerSuite) home(b *browser) dto.HomeResponse {
	rec := b.do(http.MethodGet, "/", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var page dto.HomeResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &page))
	return page
}

func (s *HandlerSuite) account(b *browser) dto.AccountResponse {
	rec := b.do(http.MethodGet, "/account", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var page dto.AccountResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &page))
	return page
}

func (s *HandlerSuite) TestLoginRedirectLandsOnHome() {
	b := s.newBrowser()
	page := s.home(b)
	s.Nil(page.User)
	s.Empty(page.Messages)

	s.signup(b, "jane@example.com")
	b.do(http.MethodGet, "/logout", nil)

	rec := b.do(http.MethodPost, "/login", url.Values{"email": {"jane@example.com"}, "password": {testPassword}})
	s.Require().Equal("/", rec.Header().Get("Location"))

	page = s.home(b)
	s.Require().NotNil(page.User)
	s.Equal("jane@example.com", page.User.Email)
	s.Equal([]dto.FlashMessage{{Kind: FlashSuccess, Msg: msgLoggedIn}}, page.Messages)
	s.Empty(b.flashes())

	rec = b.do(http.MethodGet, "/login", nil)
	s.Equal("/", rec.Header().Get("Location"))
}

func (s *HandlerSuite) TestLinkMessageShownOnHome() {
	b := s.newBrowser()
	s.signup(b, "jane@example.com")

	rec := s.oauthRoundTrip(b)
	s.Require().Equal("/", rec.Header().Get("Location"))

	page := s.home(b)
	s.Equal([]dto.FlashMessage{{Kind: FlashInfo, Msg: "Facebook account has been linked."}}, page.Messages)
}

func (s *HandlerSuite) TestLinkConflictRedirectsToAccount() {
	owner := s.newBrowser()
	s.oauthRoundTrip(owner)
	s.Require().NotNil(owner.currentUser())

	b := s.newBrowser()
	s.signup(b, "jane@example.com")

	rec := s.oauthRoundTrip(b)
	s.Equal("/account", rec.Header().Get("Location"))

	page := s.account(b)
	s.Equal("jane@example.com", page.User.Email)
	s.Empty(page.User.Links)
	s.Require().Len(page.Messages, 1)
	s.Equal(FlashErrors, page.Messages[0].Kind)
	s.Contains(page.Messages[0].Msg, "There is already a Facebook account that belongs to you.")
	s.Equal(2, s.users.Len())
}

func (s *HandlerSuite) TestUpdateProfile() {
	b := s.newBrowser()
	s.signup(b, "jane@example.com")

	rec := b.do(http.MethodPost, "/account/profile", url.Values{
		"email":    {"Jane.Doe@Example.com"},
		"name":     {"Jane Doe"},
		"location": {"Lisbon"},
	})
	s.Equal("/account", rec.Header().Get("Location"))

	page := s.account(b)
	s.Equal("jane.doe@example.com", page.User.Email)
	s.Equal("Jane Doe", page.User.Profile.Name)
	s.Equal("Lisbon", page.User.Profile.Location)
	s.Equal([]dto.FlashMessage{{Kind: FlashSuccess, Msg: msgProfileUpdated}}, page.Messages)

	other := s.newBrowser()
	s.signup(other, "other@example.com")
	other.do(http.MethodPost, "/account/profile", url.Values{"email": {"jane.doe@example.com"}})
	s.Equal([]dto.FlashMessage{{Kind: FlashErrors, Msg: "The email address you have entered is already associated with an account."}}, other.flashes())
	s.Equal("other@example.com", other.currentUser().Email)

	other.do(http.MethodGet, "/account", nil)
	other.do(http.MethodPost, "/account/profile", url.Values{"name": {"No Email"}})
	s.Equal([]dto.FlashMessage{{Kind: FlashErrors, Msg: msgEnterEmail}}, other.flashes())
}

func (s *HandlerSuite) TestPasswordLetsOAuthUserUnlink() {
	b := s.newBrowser()
	s.oauthRoundTrip(b)

	rec := b.do(http.MethodGet, "/account/unlink/facebook", nil)
	s.Equal("/account", rec.Header().Get("Location"))
	s.Equal(FlashErrors, b.flashes()[0].Kind)
	b.do(http.MethodGet, "/account", nil)

	rec = b.do(http.MethodPost, "/account/password", url.Values{"password": {testPassword}, "confirmPassword": {"Mismatch1"}})
	s.Equal("/account", rec.Header().Get("Location"))
	s.Equal([]dto.FlashMessage{{Kind: FlashErrors, Msg: msgPasswordsMismatch}}, b.flashes())
	b.do(http.MethodGet, "/account", nil)

	b.do(http.MethodPost, "/account/password", url.Values{"password": {testPassword}, "confirmPassword": {testPassword}})
	s.Equal([]dto.FlashMessage{{Kind: FlashSuccess, Msg: msgPasswordChanged}}, b.flashes())
	b.do(http.MethodGet, "/account", nil)

	b.do(http.MethodGet, "/account/unlink/facebook", nil)
	s.Contains(b.flashes(), dto.FlashMessage{Kind: FlashInfo, Msg: "Facebook account has been unlinked."})
	s.Empty(b.currentUser().Links)

	b.do(http.MethodGet, "/logout", nil)
	rec = b.do(http.MethodPost, "/login", url.Values{"email": {"fb-user@example.com"}, "password": {testPassword}})
	s.Equal("/", rec.Header().Get("Location"))
	s.NotNil(b.currentUser())
}

func (s *HandlerSuite) TestDeleteAccount() {
	b := s.newBrowser()
	s.signup(b, "jane@example.com")
	token := b.cookies["sid"]

	rec := b.do(http.MethodPost, "/account/delete", nil)
	s.Equal("/", rec.Header().Get("Location"))
	s.NotContains(b.cookies, "sid")
	s.Equal(0, s.users.Len())

	page := s.home(b)
	s.Nil(page.User)
	s.Equal([]dto.FlashMessage{{Kind: FlashInfo, Msg: msgAccountDeleted}}, page.Messages)

	// the old session is revoked
	b.cookies["sid"] = token
	rec = b.do(http.MethodPost, "/account/delete", nil)
	s.Equal("/login", rec.Header().Get("Location"))

	// the email can register again
	s.signup(s.newBrowser(), "jane@example.com")
}

func (s *HandlerSuite) TestAccountRoutesRequireSession() {
	b := s.newBrowser()

	for _, target := range []string{"/account/profile", "/account/password", "/account/delete"} {
		rec := b.do(http.MethodPost, target, url.Values{})
		s.Equal(http.StatusFound, rec.Code, target)
		s.Equal("/login", rec.Header().Get("Location"), target)
	}
	s.NotContains(b.cookies, returnToCookieName, "only GET requests are remembered")
}
