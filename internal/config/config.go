package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Server   ServerConfig   `env:",prefix=SERVER_"`
	Postgres PostgresConfig `env:",prefix=POSTGRES_"`
	Redis    RedisConfig    `env:",prefix=REDIS_"`
	Session  SessionConfig  `env:",prefix=SESSION_"`
	Identity IdentityConfig `env:",prefix=IDENTITY_"`
	OAuth    OAuthConfig    `env:",prefix=OAUTH_"`
	Security SecurityConfig `env:",prefix="`
	CORS     CORSConfig     `env:",prefix=CORS_"`
	Env      string         `env:"ENV,default=development"`
}

type ServerConfig struct {
	Port         string   `env:"PORT,default=8080"`
	Host         string   `env:"HOST,default=0.0.0.0"`
	ReadTimeout  Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout Duration `env:"WRITE_TIMEOUT,default=15s"`

	// Proxies allowed to set X-Forwarded-For; empty means use the peer address
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

type PostgresConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=5432"`
	User     string `env:"USER,default=identity_service"`
	Password string `env:"PASSWORD,default=identity_service_password"`
	DBName   string `env:"DB,default=identity_service_db"`
	SSLMode  string `env:"SSLMODE,default=disable"`
}

type RedisConfig struct {
	Host     string `env:"HOST,default=localhost"`
	Port     string `env:"PORT,default=6379"`
	Password string `env:"PASSWORD,default="`
	DB       int    `env:"DB,default=0"`
}

type SessionConfig struct {
	Secret       string   `env:"SECRET,required"`
	Expiry       Duration `env:"EXPIRY,default=14d"`
	CookieName   string   `env:"COOKIE_NAME,default=sid"`
	SecureCookie bool     `env:"SECURE_COOKIE,default=false"`
}

// IdentityConfig tunes the identity resolver's store access
type IdentityConfig struct {
	StoreTimeout  Duration `env:"STORE_TIMEOUT,default=3s"`
	LockTTL       Duration `env:"LOCK_TTL,default=10s"`
	LockWait      Duration `env:"LOCK_WAIT,default=2s"`
	EventsChannel string   `env:"EVENTS_CHANNEL,default=identity.events"`
}

type OAuthConfig struct {
	Facebook OAuthClientConfig `env:",prefix=FACEBOOK_"`
	Google   OAuthClientConfig `env:",prefix=GOOGLE_"`
}

// OAuthClientConfig holds the credentials of one OAuth application
type OAuthClientConfig struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	CallbackURL  string `env:"CALLBACK_URL"`
}

type SecurityConfig struct {
	BCryptCost        int      `env:"BCRYPT_COST,default=12"`
	RateLimitRequests int      `env:"RATE_LIMIT_REQUESTS,default=10"`
	RateLimitWindow   Duration `env:"RATE_LIMIT_WINDOW,default=1m"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"ALLOWED_ORIGINS,default=http://localhost:3000"`
	AllowedMethods []string `env:"ALLOWED_METHODS,default=GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders []string `env:"ALLOWED_HEADERS,default=Content-Type,Authorization"`
}

// DSN returns PostgreSQL connection string
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// Address returns Redis connection address
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// Enabled reports whether the OAuth application is configured
func (o OAuthClientConfig) Enabled() bool {
	return o.ClientID != ""
}

// Load loads configuration from environment variables
func Load(ctx context.Context) (*Config, error) {
	var config Config

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if len(config.Session.Secret) < 32 {
		return nil, fmt.Errorf("SESSION_SECRET must be at least 32 characters long")
	}

	for name, client := range map[string]OAuthClientConfig{
		"FACEBOOK": config.OAuth.Facebook,
		"GOOGLE":   config.OAuth.Google,
	} {
		if client.Enabled() && (client.ClientSecret == "" || client.CallbackURL == "") {
			return nil, fmt.Errorf("OAUTH_%s_CLIENT_SECRET and OAUTH_%s_CALLBACK_URL are required when OAUTH_%s_CLIENT_ID is set", name, name, name)
		}
	}

	return &config, nil
}

// LoadWithDefaults loads configuration with default context
func LoadWithDefaults() (*Config, error) {
	return Load(context.Background())
}
