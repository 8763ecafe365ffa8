package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prperemyshlev/identity-service/internal/domain"
	"golang.org/x/oauth2"
)

var (
	ErrUnknownProvider = errors.New("unknown oauth provider")
	ErrMissingSubject  = errors.New("provider returned no user id")
)

// Provider performs the authorization code flow against one identity issuer.
// Implementations return identity facts only; linking and account creation
// are left to the identity resolver.
type Provider interface {
	Name() domain.Provider

	// AuthCodeURL returns the URL the browser is redirected to. state is
	// echoed back on the callback.
	AuthCodeURL(state string) string

	// Exchange trades an authorization code for the caller's normalized identity.
	Exchange(ctx context.Context, code string) (*domain.ExternalIdentity, error)
}

// ClientConfig holds the credentials of a registered OAuth application
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Option overrides provider defaults
type Option func(*options)

type options struct {
	endpoint   *oauth2.Endpoint
	profileURL string
}

// WithEndpoint replaces the provider's authorization and token endpoints
func WithEndpoint(endpoint oauth2.Endpoint) Option {
	return func(o *options) {
		o.endpoint = &endpoint
	}
}

// WithProfileURL replaces the URL the user profile is fetched from
func WithProfileURL(url string) Option {
	return func(o *options) {
		o.profileURL = url
	}
}

func buildOptions(defaultEndpoint oauth2.Endpoint, defaultProfileURL string, opts []Option) (oauth2.Endpoint, string) {
	o := options{profileURL: defaultProfileURL}
	for _, opt := range opts {
		opt(&o)
	}

	endpoint := defaultEndpoint
	if o.endpoint != nil {
		endpoint = *o.endpoint
	}

	return endpoint, o.profileURL
}

// exchangeAndFetch runs the code exchange and decodes the profile document into out
func exchangeAndFetch(ctx context.Context, cfg *oauth2.Config, profileURL, code string, out any) (*oauth2.Token, error) {
	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build profile request: %w", err)
	}

	resp, err := cfg.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("profile endpoint returned status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	return token, nil
}
