package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/identity-service/internal/config"
	"github.com/prperemyshlev/identity-service/internal/handler"
	"github.com/prperemyshlev/identity-service/internal/oauth"
	"github.com/prperemyshlev/identity-service/internal/repository"
	"github.com/prperemyshlev/identity-service/internal/service"
	"github.com/prperemyshlev/identity-service/internal/utils"
	"github.com/prperemyshlev/identity-service/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	infra  Infrastructure
	config *config.Config
	router *gin.Engine
	server *http.Server
}

func NewApp(infra Infrastructure, cfg *config.Config) (*App, error) {
	repos := repository.NewRepositories(infra.Postgres())
	logger := infra.Logger()

	metrics, err := service.NewResolverMetrics(infra.MeterProvider().Meter(observability.ServiceName))
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver metrics: %w", err)
	}

	locker := service.NewRedisLocker(infra.Redis(), cfg.Identity.LockTTL.Duration, cfg.Identity.LockWait.Duration, logger)
	notifier := service.MultiNotifier{
		service.NewLogNotifier(logger),
		service.NewRedisNotifier(infra.Redis(), cfg.Identity.EventsChannel),
	}

	resolver := service.NewIdentityResolver(repos.User, locker, notifier, metrics, logger, service.ResolverConfig{
		BCryptCost:   cfg.Security.BCryptCost,
		StoreTimeout: cfg.Identity.StoreTimeout.Duration,
	})

	jwtManager := utils.NewJWTManager(cfg.Session.Secret, cfg.Session.Expiry.Duration)
	sessions := service.NewSessionService(jwtManager, service.NewRedisRevocationStore(infra.Redis()))

	rateLimiter := service.NewFallbackLimiter(
		service.NewRedisRateLimiter(infra.Redis()),
		service.NewLocalRateLimiter(),
		logger,
	)

	providers := newProviderRegistry(cfg.OAuth)
	logger.Info("OAuth providers configured", zap.Any("providers", providers.Names()))

	cookies := handler.CookieConfig{
		SessionName: cfg.Session.CookieName,
		Secure:      cfg.Session.SecureCookie,
	}

	authHandler := handler.NewAuthHandler(resolver, sessions, cookies, logger)
	oauthHandler := handler.NewOAuthHandler(resolver, sessions, providers, cookies, logger)
	healthChecker := NewHealthChecker(infra)

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(observability.ServiceName))
	router.Use(handler.LoggerMiddleware(logger))
	router.Use(handler.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders))
	router.Use(handler.SessionMiddleware(sessions, cookies, logger))

	limit := handler.RateLimitMiddleware(rateLimiter, cfg.Security.RateLimitRequests, cfg.Security.RateLimitWindow.Duration, handler.IPBasedKey, logger)

	setupRoutes(router, routes{
		Routes: handler.Routes{
			Auth:    authHandler,
			OAuth:   oauthHandler,
			Cookies: cookies,
			Limit:   limit,
		},
		health:  healthChecker,
		metrics: infra.MetricsHandler(),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
	}

	return &App{
		infra:  infra,
		config: cfg,
		router: router,
		server: srv,
	}, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

// newProviderRegistry registers every OAuth application that has a client id
func newProviderRegistry(cfg config.OAuthConfig) *oauth.Registry {
	var providers []oauth.Provider

	if cfg.Facebook.Enabled() {
		providers = append(providers, oauth.NewFacebookProvider(clientConfig(cfg.Facebook)))
	}
	if cfg.Google.Enabled() {
		providers = append(providers, oauth.NewGoogleProvider(clientConfig(cfg.Google)))
	}

	return oauth.NewRegistry(providers...)
}

func clientConfig(c config.OAuthClientConfig) oauth.ClientConfig {
	return oauth.ClientConfig{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		CallbackURL:  c.CallbackURL,
	}
}

type routes struct {
	handler.Routes
	health  *HealthChecker
	metrics http.Handler
}

func setupRoutes(router *gin.Engine, r routes) {
	router.GET("/metrics", observability.PrometheusHandler(r.metrics))
	router.GET("/health", r.health.Handler)

	handler.RegisterRoutes(router, r.Routes)
}

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts down
func (a *App) Run(ctx context.Context) error {
	logger := a.infra.Logger()
	listenErr := make(chan error, 1)

	go func() {
		logger.Info("Application starting",
			zap.String("host", a.config.Server.Host),
			zap.String("port", a.config.Server.Port),
		)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
	}()

	var serverErr error
	select {
	case serverErr = <-listenErr:
		logger.Error("Server error", zap.Error(serverErr))
	case <-ctx.Done():
		logger.Info("Application stopped by context")
	}

	return errors.Join(serverErr, a.Shutdown())
}

// Shutdown drains in-flight requests before releasing the infrastructure
// they depend on
func (a *App) Shutdown() error {
	logger := a.infra.Logger()
	logger.Info("Application shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
		errs = append(errs, err)
	}
	if err := a.infra.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	logger.Info("Application exited successfully")
	return nil
}
