package oauth

import (
	"context"
	"fmt"

	"github.com/prperemyshlev/identity-service/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const googleProfileURL = "https://openidconnect.googleapis.com/v1/userinfo"

// googleProfile is the OpenID Connect userinfo document
type googleProfile struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Gender  string `json:"gender"`
}

// GoogleProvider signs users in with Google
type GoogleProvider struct {
	config     *oauth2.Config
	profileURL string
}

// NewGoogleProvider creates a Google provider for the given application
func NewGoogleProvider(cfg ClientConfig, opts ...Option) *GoogleProvider {
	endpoint, profileURL := buildOptions(endpoints.Google, googleProfileURL, opts)

	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"openid", "profile", "email"},
			Endpoint:     endpoint,
		},
		profileURL: profileURL,
	}
}

func (p *GoogleProvider) Name() domain.Provider {
	return domain.ProviderGoogle
}

func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*domain.ExternalIdentity, error) {
	var profile googleProfile
	token, err := exchangeAndFetch(ctx, p.config, p.profileURL, code, &profile)
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}

	if profile.Subject == "" {
		return nil, fmt.Errorf("google: %w", ErrMissingSubject)
	}

	return &domain.ExternalIdentity{
		Provider:       domain.ProviderGoogle,
		ProviderUserID: profile.Subject,
		Email:          profile.Email,
		AccessToken:    token.AccessToken,
		Profile: domain.Profile{
			Name:    profile.Name,
			Gender:  profile.Gender,
			Picture: profile.Picture,
		},
	}, nil
}
