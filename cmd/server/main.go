package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prperemyshlev/identity-service/internal/app"
	"github.com/prperemyshlev/identity-service/internal/config"
	"go.uber.org/zap"
)

const startupTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "identity-service: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	infra, err := app.NewInfrastructure(startCtx, *cfg)
	cancel()
	if err != nil {
		return fmt.Errorf("initialize infrastructure: %w", err)
	}

	application, err := app.NewApp(infra, cfg)
	if err != nil {
		_ = infra.Shutdown(context.Background())
		return fmt.Errorf("initialize application: %w", err)
	}

	go func() {
		<-ctx.Done()
		infra.Logger().Info("Received shutdown signal")
	}()

	if err := application.Run(ctx); err != nil {
		infra.Logger().Error("Application failed", zap.Error(err))
		return err
	}

	return nil
}
