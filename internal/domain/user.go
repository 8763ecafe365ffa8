package domain

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies a third-party identity issuer
type Provider string

const (
	ProviderFacebook Provider = "facebook"
	ProviderGoogle   Provider = "google"
)

// SupportedProviders lists every provider the service knows how to link
var SupportedProviders = []Provider{ProviderFacebook, ProviderGoogle}

// ParseProvider converts a route or config value into a Provider
func ParseProvider(name string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(name)))
	for _, supported := range SupportedProviders {
		if p == supported {
			return p, nil
		}
	}
	return "", fmt.Errorf("unsupported provider: %q", name)
}

// DisplayName returns the human readable provider name used in messages
func (p Provider) DisplayName() string {
	switch p {
	case ProviderFacebook:
		return "Facebook"
	case ProviderGoogle:
		return "Google"
	default:
		return string(p)
	}
}

// User represents a user in the system
type User struct {
	ID           string         `json:"id" db:"id"`
	Email        string         `json:"email" db:"email"`
	PasswordHash string         `json:"-" db:"password_hash"`
	Profile      Profile        `json:"profile"`
	Links        []ProviderLink `json:"links"`
	Tokens       []OAuthToken   `json:"-"`
	CreatedAt    time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at" db:"updated_at"`
}

// Profile holds best-effort display attributes
type Profile struct {
	Name     string `json:"name" db:"profile_name"`
	Gender   string `json:"gender" db:"profile_gender"`
	Picture  string `json:"picture" db:"profile_picture"`
	Location string `json:"location" db:"profile_location"`
}

// ProviderLink associates a user with a (provider, provider user id) pair
type ProviderLink struct {
	Provider       Provider  `json:"provider" db:"provider"`
	ProviderUserID string    `json:"provider_user_id" db:"provider_user_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// OAuthToken is an access token retained from a successful provider sign-in.
// ID is empty until the token has been persisted.
type OAuthToken struct {
	ID          string    `json:"-" db:"id"`
	Kind        Provider  `json:"kind" db:"kind"`
	AccessToken string    `json:"-" db:"access_token"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ExternalIdentity is the normalized result of a provider callback
type ExternalIdentity struct {
	Provider       Provider
	ProviderUserID string
	Email          string
	Profile        Profile
	AccessToken    string
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasPassword reports whether the user registered with local credentials
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Link returns the user's link for the given provider, if any
func (u *User) Link(provider Provider) (ProviderLink, bool) {
	for _, l := range u.Links {
		if l.Provider == provider {
			return l, true
		}
	}
	return ProviderLink{}, false
}

// IsLinkedTo reports whether the user holds exactly this provider pair
func (u *User) IsLinkedTo(provider Provider, providerUserID string) bool {
	l, ok := u.Link(provider)
	return ok && l.ProviderUserID == providerUserID
}

// SetLink sets the user's link for a provider, replacing any previous one
func (u *User) SetLink(provider Provider, providerUserID string) {
	for i := range u.Links {
		if u.Links[i].Provider == provider {
			u.Links[i].ProviderUserID = providerUserID
			return
		}
	}
	u.Links = append(u.Links, ProviderLink{
		Provider:       provider,
		ProviderUserID: providerUserID,
		CreatedAt:      time.Now(),
	})
}

// RemoveLink drops the provider link and every token issued by that provider
func (u *User) RemoveLink(provider Provider) bool {
	removed := false
	links := u.Links[:0]
	for _, l := range u.Links {
		if l.Provider == provider {
			removed = true
			continue
		}
		links = append(links, l)
	}
	u.Links = links

	tokens := u.Tokens[:0]
	for _, t := range u.Tokens {
		if t.Kind != provider {
			tokens = append(tokens, t)
		}
	}
	u.Tokens = tokens

	return removed
}

// AppendToken records an access token; the list is append-only
func (u *User) AppendToken(provider Provider, accessToken string) {
	u.Tokens = append(u.Tokens, OAuthToken{
		Kind:        provider,
		AccessToken: accessToken,
		CreatedAt:   time.Now(),
	})
}

// HasToken reports whether the user holds a token issued by the provider
func (u *User) HasToken(provider Provider) bool {
	for _, t := range u.Tokens {
		if t.Kind == provider {
			return true
		}
	}
	return false
}

// FillMissing copies name, gender and picture from attrs where p is empty.
// Location is only set on account creation.
func (p *Profile) FillMissing(attrs Profile) {
	if p.Name == "" {
		p.Name = attrs.Name
	}
	if p.Gender == "" {
		p.Gender = attrs.Gender
	}
	if p.Picture == "" {
		p.Picture = attrs.Picture
	}
}

// Clone returns a deep copy of the user
func (u *User) Clone() *User {
	c := *u
	c.Links = append([]ProviderLink(nil), u.Links...)
	c.Tokens = append([]OAuthToken(nil), u.Tokens...)
	return &c
}
