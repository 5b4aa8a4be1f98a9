// Package main is the entry point for the reelrate server.
// reelrate is a movie catalog where registered users publish movies, rate
// each other's movies and receive live change events over websocket.
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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/reelrate/reelrate/internal/auth"
	"github.com/reelrate/reelrate/internal/config"
	"github.com/reelrate/reelrate/internal/handler"
	"github.com/reelrate/reelrate/internal/lock"
	"github.com/reelrate/reelrate/internal/logging"
	"github.com/reelrate/reelrate/internal/metrics"
	"github.com/reelrate/reelrate/internal/notify"
	"github.com/reelrate/reelrate/internal/repository/factory"
	"github.com/reelrate/reelrate/internal/service"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var configPath string

	cmd := &cobra.Command{
		Use:           "reelrate-server",
		Short:         "Run the reelrate movie catalog server",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "reelrate-server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("git_commit", GitCommit).
		Str("environment", cfg.Server.Environment).
		Msg("Starting reelrate server")

	if err := cfg.RequireSecret(); err != nil {
		return err
	}

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// Metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	// Database
	store, err := factory.Open(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := store.Database.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to close database")
		}
	}()

	// Redis
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr(), err)
		}
		logger.Info().Str("addr", cfg.Redis.Addr()).Msg("connected to redis")
	}

	// Locker
	var locker lock.Locker
	switch cfg.Lock.Backend {
	case "redis":
		locker = lock.NewRedisLocker(redisClient)
	case "none":
		locker = lock.NewNoOpLocker()
	default:
		memLocker := lock.NewMemoryLocker()
		defer memLocker.Close()
		locker = memLocker
	}

	// Notifier
	hub := notify.NewHub(cfg.Notify.BufferSize, m, logger)
	defer hub.Close()

	var notifier notify.Notifier = hub
	relayDone := make(chan struct{})
	if cfg.Notify.Relay == "redis" {
		relay := notify.NewRedisRelay(redisClient, cfg.Notify.Channel, hub, m, logger)
		notifier = relay
		go func() {
			defer close(relayDone)
			if err := relay.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("event relay stopped")
			}
		}()
	} else {
		close(relayDone)
	}

	// Services
	tokens, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		if !errors.Is(err, auth.ErrMissingSecret) {
			return err
		}
		logger.Warn().Msg("auth.jwt_secret is not set: login is disabled and every token is rejected")
		tokens = nil
	}

	authService := service.NewAuthService(store.Repos.Users, tokens, cfg.Auth.BcryptCost, logger)
	movieService := service.NewMovieService(
		store.Repos.Movies,
		locker,
		lock.Options{
			TTL:        cfg.Lock.TTL,
			Retries:    cfg.Lock.Retries,
			RetryDelay: cfg.Lock.RetryDelay,
		},
		notifier,
		m,
		logger,
	)

	router := handler.NewRouter(handler.RouterConfig{
		AuthService:   authService,
		MovieService:  movieService,
		Authenticator: authService,
		Notifications: notify.NewHandler(hub, cfg.Server.ClientURL, m, logger),
		Database:      store.Database,
		Metrics:       m,
		ClientURL:     cfg.Server.ClientURL,
		MaxBodySize:   cfg.Server.MaxBodySize,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var metricsServer *http.Server
	if m != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, m.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info().Str("addr", metricsServer.Addr).Str("path", cfg.Metrics.Path).Msg("metrics server listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("Shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Close the hub first so websocket clients receive a going-away frame
	// instead of waiting on a hijacked connection.
	hub.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("metrics server shutdown incomplete")
		}
	}

	cancelRun()
	select {
	case <-relayDone:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("event relay did not stop before shutdown timeout")
	}

	logger.Info().Msg("server stopped")
	return nil
}
