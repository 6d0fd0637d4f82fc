package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/peerchat/directory"
)

type serverConfig struct {
	addr        string
	store       string
	redisURL    string
	databaseURL string
	apiKey      string
	logLevel    string
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func newRootCmd() *cobra.Command {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := serverConfig{}
	cmd := &cobra.Command{
		Use:           "directoryd",
		Short:         "Directory and relay service for peerchat nodes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(cfg.logLevel)
			if err != nil {
				return err
			}
			logrus.SetLevel(level)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.addr, "addr", ":"+getEnv("PORT", "8080"), "listen address")
	f.StringVar(&cfg.store, "store", getEnv("DIRECTORY_STORE", "memory"), "backing store: memory, redis or postgres")
	f.StringVar(&cfg.redisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis URL for --store=redis")
	f.StringVar(&cfg.databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL URL for --store=postgres")
	f.StringVar(&cfg.apiKey, "api-key", os.Getenv("DIRECTORY_API_KEY"), "bearer token required from clients (empty disables)")
	f.StringVar(&cfg.logLevel, "log-level", getEnv("LOG_LEVEL", "info"), "log level")
	return cmd
}

// openStore returns the configured directory and a function releasing it.
func openStore(ctx context.Context, cfg serverConfig) (directory.Directory, func(), error) {
	switch cfg.store {
	case "memory":
		return directory.NewMemoryDirectory(), func() {}, nil
	case "redis":
		if cfg.redisURL == "" {
			return nil, nil, errors.New("--redis-url is required for the redis store")
		}
		d, err := directory.NewRedisDirectory(ctx, cfg.redisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return d, func() { d.Close() }, nil
	case "postgres":
		if cfg.databaseURL == "" {
			return nil, nil, errors.New("--database-url is required for the postgres store")
		}
		d, err := directory.NewPostgresDirectory(ctx, cfg.databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres connection failed: %w", err)
		}
		return d, d.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.store)
	}
}

func serve(ctx context.Context, cfg serverConfig) error {
	dir, release, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	srv := &http.Server{
		Addr:         cfg.addr,
		Handler:      directory.NewServer(dir, directory.ServerOptions{APIKey: cfg.apiKey}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"function": "serve",
			"addr":     cfg.addr,
			"store":    cfg.store,
			"auth":     cfg.apiKey != "",
		}).Info("Starting directory server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logrus.WithField("function", "serve").Info("Shutting down directory server")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}
