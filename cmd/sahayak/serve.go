package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirpekel/sahayak/pkg/auth"
	"github.com/kadirpekel/sahayak/pkg/config"
	"github.com/kadirpekel/sahayak/pkg/observability"
	"github.com/kadirpekel/sahayak/pkg/ratelimit"
	"github.com/kadirpekel/sahayak/pkg/server"
)

// ServeCmd starts the HTTP API.
type ServeCmd struct {
	Address string `short:"a" help:"Listen address, overrides server.address."`
	Watch   bool   `help:"Reload logging settings when the config source changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := openConfig(ctx, cli, config.WithOnChange(func(updated *config.Config) {
		if _, err := applyConfigLogging(cli, updated.Logging); err != nil {
			slog.Error("Failed to apply reloaded logging config", "error", err)
		}
	}))
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	logCleanup, err := applyConfigLogging(cli, cfg.Logging)
	if err != nil {
		return err
	}
	if logCleanup != nil {
		defer logCleanup()
	}

	if c.Address != "" {
		cfg.Server.Address = c.Address
	}

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Observability shutdown error", "error", err)
		}
	}()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var opts []server.Option
	validator, err := auth.NewValidatorFromConfig(ctx, cfg.Server.Auth)
	if err != nil {
		return fmt.Errorf("failed to create token validator: %w", err)
	}
	if validator != nil {
		defer validator.Close()
		opts = append(opts, server.WithAuthValidator(validator))
		slog.Info("Bearer authentication enabled", "issuer", cfg.Server.Auth.Issuer)
	}
	limiter, err := ratelimit.NewFromConfig(ctx, cfg.Server.RateLimit)
	if err != nil {
		return fmt.Errorf("failed to create rate limiter: %w", err)
	}
	if limiter != nil {
		defer limiter.Close()
		opts = append(opts, server.WithRateLimiter(limiter))
	}
	if h := obs.Handler(); h != nil {
		opts = append(opts, server.WithMetricsHandler(h))
	}

	srv := server.New(cfg.Server, a.engine, opts...)

	fmt.Printf("\nMSME-Sahayak API ready\n")
	fmt.Printf("   Sessions:  http://%s/v1/sessions\n", cfg.Server.Address)
	fmt.Printf("   Health:    http://%s/health\n", cfg.Server.Address)
	if cfg.Observability.Metrics.Enabled {
		fmt.Printf("   Metrics:   http://%s/metrics\n", cfg.Server.Address)
	}
	fmt.Printf("   Tools:     %v\n\n", a.registry.Names())

	return srv.Start(ctx)
}
