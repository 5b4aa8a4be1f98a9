// Package handler provides the HTTP API for reelrate.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/reelrate/reelrate/internal/auth"
	"github.com/reelrate/reelrate/internal/metrics"
)

// DatabaseChecker reports store reachability for the health endpoint.
type DatabaseChecker interface {
	Ping(ctx context.Context) error
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	AuthService   AuthService
	MovieService  MovieService
	Authenticator auth.Authenticator

	// Notifications serves the websocket push channel at /ws (optional).
	Notifications http.Handler

	// Database is pinged by /health (optional).
	Database DatabaseChecker

	Metrics     *metrics.Metrics
	ClientURL   string
	MaxBodySize int64
	Logger      zerolog.Logger
}

// NewRouter builds the HTTP handler. The API is mounted both at the root
// and under /api.
func NewRouter(config RouterConfig) http.Handler {
	logger := config.Logger.With().Str("component", "router").Logger()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger))
	r.Use(recoverer(logger))
	if config.Metrics != nil {
		r.Use(config.Metrics.Middleware)
	}
	r.Use(cors.Handler(corsOptions(config.ClientURL)))

	if config.Notifications != nil {
		r.Method(http.MethodGet, "/ws", config.Notifications)
	}
	health := &healthHandler{db: config.Database, logger: logger}
	r.Get("/health", health.ServeHTTP)

	requireAuth := auth.Middleware(config.Authenticator, auth.Config{
		OnFailure: config.Metrics.RecordAuthFailure,
	})
	authHandler := NewAuthHandler(config.AuthService, config.Logger)
	movieHandler := NewMovieHandler(config.MovieService, config.Logger)

	api := func(r chi.Router) {
		r.Use(maxBody(config.MaxBodySize))
		authHandler.RegisterRoutes(r)
		movieHandler.RegisterRoutes(r, requireAuth)
	}
	r.Group(api)
	r.Route("/api", api)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, APIError{Code: "NotFound", Message: "Route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, APIError{Code: "MethodNotAllowed", Message: "Method not allowed"})
	})

	return r
}

func corsOptions(clientURL string) cors.Options {
	origins := []string{"*"}
	credentials := false
	if clientURL != "" && clientURL != "*" {
		origins = []string{clientURL}
		credentials = true
	}
	return cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: credentials,
		MaxAge:           300,
	}
}

// =============================================================================
// Health
// =============================================================================

type healthHandler struct {
	db     DatabaseChecker
	logger zerolog.Logger
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("health check: database unreachable")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
