package oauth

import (
	"context"
	"fmt"
	"strings"

	"github.com/prperemyshlev/identity-service/internal/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

const (
	facebookProfileURL = "https://graph.facebook.com/v19.0/me?fields=id,first_name,last_name,email,gender,location"
	facebookPictureURL = "https://graph.facebook.com/%s/picture?type=large"
)

// facebookProfile is the subset of the Graph API /me document we read
type facebookProfile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Gender    string `json:"gender"`
	Location  *struct {
		Name string `json:"name"`
	} `json:"location"`
}

// FacebookProvider signs users in with Facebook Login
type FacebookProvider struct {
	config     *oauth2.Config
	profileURL string
}

// NewFacebookProvider creates a Facebook provider for the given application
func NewFacebookProvider(cfg ClientConfig, opts ...Option) *FacebookProvider {
	endpoint, profileURL := buildOptions(endpoints.Facebook, facebookProfileURL, opts)

	return &FacebookProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.CallbackURL,
			Scopes:       []string{"email", "public_profile"},
			Endpoint:     endpoint,
		},
		profileURL: profileURL,
	}
}

func (p *FacebookProvider) Name() domain.Provider {
	return domain.ProviderFacebook
}

func (p *FacebookProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *FacebookProvider) Exchange(ctx context.Context, code string) (*domain.ExternalIdentity, error) {
	var profile facebookProfile
	token, err := exchangeAndFetch(ctx, p.config, p.profileURL, code, &profile)
	if err != nil {
		return nil, fmt.Errorf("facebook: %w", err)
	}

	if profile.ID == "" {
		return nil, fmt.Errorf("facebook: %w", ErrMissingSubject)
	}

	return profile.identity(token.AccessToken), nil
}

func (fp facebookProfile) identity(accessToken string) *domain.ExternalIdentity {
	var location string
	if fp.Location != nil {
		location = fp.Location.Name
	}

	return &domain.ExternalIdentity{
		Provider:       domain.ProviderFacebook,
		ProviderUserID: fp.ID,
		Email:          fp.Email,
		AccessToken:    accessToken,
		Profile: domain.Profile{
			Name:     strings.TrimSpace(fp.FirstName + " " + fp.LastName),
			Gender:   fp.Gender,
			Picture:  fmt.Sprintf(facebookPictureURL, fp.ID),
			Location: location,
		},
	}
}
