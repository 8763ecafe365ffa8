package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prperemyshlev/identity-service/internal/config"
	"github.com/prperemyshlev/identity-service/migrations"
	"github.com/prperemyshlev/identity-service/pkg/database"
	"github.com/prperemyshlev/identity-service/pkg/observability"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// Infrastructure is everything NewApp needs from the outside world
type Infrastructure interface {
	Postgres() *database.Postgres
	Redis() *database.Redis
	Logger() *zap.Logger
	MetricsHandler() http.Handler
	MeterProvider() *metric.MeterProvider

	Shutdown(ctx context.Context) error
}

type closer struct {
	name  string
	close func(ctx context.Context) error
}

type infrastructure struct {
	postgres  *database.Postgres
	redis     *database.Redis
	logger    *zap.Logger
	telemetry *observability.Telemetry

	// released in reverse order of acquisition
	closers []closer
}

var _ Infrastructure = &infrastructure{}

// NewInfrastructure connects to every backing service and migrates the schema.
// Anything acquired before a failure is released before returning.
func NewInfrastructure(ctx context.Context, cfg config.Config) (_ *infrastructure, err error) {
	logger, err := observability.InitLogger(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	i := &infrastructure{logger: logger}
	defer func() {
		if err != nil {
			_ = i.release(ctx)
		}
	}()

	i.postgres, err = database.NewPostgres(cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	i.onShutdown("postgres", func(context.Context) error { return i.postgres.Close() })

	if err = i.postgres.ApplyMigrations(migrations.FS); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	logger.Info("Database schema is up to date")

	i.redis, err = database.NewRedis(ctx, cfg.Redis.Address(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	i.onShutdown("redis", func(context.Context) error { return i.redis.Close() })

	i.telemetry, err = observability.InitTelemetry(observability.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	i.onShutdown("telemetry", func(ctx context.Context) error { return i.telemetry.Shutdown(ctx, logger) })

	return i, nil
}

func (i *infrastructure) onShutdown(name string, fn func(ctx context.Context) error) {
	i.closers = append(i.closers, closer{name: name, close: fn})
}

func (i *infrastructure) release(ctx context.Context) error {
	var errs []error
	for n := len(i.closers) - 1; n >= 0; n-- {
		c := i.closers[n]
		if err := c.close(ctx); err != nil {
			i.logger.Error("failed to release resource", zap.String("resource", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	i.closers = nil

	return errors.Join(errs...)
}

func (i *infrastructure) Postgres() *database.Postgres { return i.postgres }

func (i *infrastructure) Redis() *database.Redis { return i.redis }

func (i *infrastructure) Logger() *zap.Logger { return i.logger }

func (i *infrastructure) MetricsHandler() http.Handler { return i.telemetry.MetricsHandler }

func (i *infrastructure) MeterProvider() *metric.MeterProvider { return i.telemetry.MeterProvider }

// Shutdown releases connections and flushes telemetry, then syncs the logger
func (i *infrastructure) Shutdown(ctx context.Context) error {
	err := i.release(ctx)

	// Sync on stderr/stdout reports EINVAL on some platforms
	_ = i.logger.Sync()

	return err
}
