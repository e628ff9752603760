package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"invenda/backend/internal/cache"
	"invenda/backend/internal/config"
	"invenda/backend/internal/httpapi"
	"invenda/backend/internal/service"
	"invenda/backend/internal/store"
	"invenda/backend/internal/store/memory"
	pgstore "invenda/backend/internal/store/postgres"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.WithError(err).Fatal("invenda stopped")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "invenda",
		Usage: "inventory and installment sales backend",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serveAction,
			},
			{
				Name:  "migrate",
				Usage: "apply or roll back database migrations",
				Subcommands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "apply all pending migrations",
						Action: migrateAction(pgstore.MigrateUp),
					},
					{
						Name:   "down",
						Usage:  "roll back the latest migration",
						Action: migrateAction(pgstore.MigrateDown),
					},
				},
			},
		},
		DefaultCommand: "serve",
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if err := configureLogging(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func configureLogging(cfg config.Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)
	if strings.EqualFold(cfg.LogFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func migrateAction(step func(string) error) cli.ActionFunc {
	return func(_ *cli.Context) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for migrations")
		}
		return step(cfg.DatabaseURL)
	}
}

func serveAction(_ *cli.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		if cfg.RunMigrations {
			if err := pgstore.MigrateUp(cfg.DatabaseURL); err != nil {
				return fmt.Errorf("run migrations: %w", err)
			}
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.WithField("repository", "postgres").Info("repository ready")
	} else {
		repo = memory.NewSeeded()
		log.WithField("repository", "memory").Info("repository ready")
	}

	usageCache := cache.UsageCache(cache.NoopUsageCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisUsageCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unavailable, using noop usage cache")
		} else {
			usageCache = redisCache
			closers = append(closers, redisCache.Close)
			log.WithField("cache", "redis").Info("usage cache ready")
		}
	} else {
		log.WithField("cache", "noop").Info("usage cache ready")
	}

	svc := service.New(repo, service.Options{
		FreeProductLimit:     cfg.FreeProductLimit,
		FreeMonthlySaleLimit: cfg.FreeMonthlySaleLimit,
		UsageCache:           usageCache,
		UsageCacheTTL:        cfg.UsageCacheTTL(),
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Address()).Info("invenda backend listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.WithField("signal", s.String()).Info("shutting down")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Warn("close error")
		}
	}

	log.Info("server stopped")
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if strings.Contains(strings.ToLower(cfg.AuthSecret), "change-me") {
		return fmt.Errorf("AUTH_SECRET still holds a placeholder value")
	}
	return nil
}
