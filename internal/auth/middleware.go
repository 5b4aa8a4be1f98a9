package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/reelrate/reelrate/internal/domain"
)

const (
	// AuthorizationHeader is the header carrying the bearer token.
	AuthorizationHeader = "Authorization"

	bearerScheme = "Bearer"
)

// Authenticator resolves a bearer token to a live user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// AuthContext contains authentication information attached to a request.
// This is set by the auth middleware after successful authentication.
type AuthContext struct {
	// UserID is the authenticated user's ID.
	UserID uuid.UUID

	// Username is the authenticated user's username.
	Username string
}

type authContextKey struct{}

// AuthContextKey is the key used to store AuthContext in request context.
var AuthContextKey = authContextKey{}

// Config contains configuration for the auth middleware.
type Config struct {
	// OnFailure is called with a short reason label for every rejected request (optional).
	OnFailure func(reason string)
}

// ExtractBearerToken returns the token from an "Authorization: Bearer <token>" header value.
func ExtractBearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, bearerScheme) {
		return "", ErrMalformedHeader
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMalformedHeader
	}
	return token, nil
}

// Middleware creates a bearer authentication middleware. Requests that pass
// carry an AuthContext; all others receive 401.
func Middleware(authn Authenticator, config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := ExtractBearerToken(r.Header.Get(AuthorizationHeader))
			if err != nil {
				reject(w, r, config, err)
				return
			}

			user, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				if !errors.Is(err, domain.ErrUnauthorized) {
					log.Error().Err(err).Str("path", r.URL.Path).Msg("authentication lookup failed")
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"code":"Unexpected","message":"Something went wrong!"}`))
					return
				}
				reject(w, r, config, err)
				return
			}

			authCtx := &AuthContext{UserID: user.ID, Username: user.Username}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), authCtx)))
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, config Config, err error) {
	reason := failureReason(err)
	log.Debug().Err(err).Str("path", r.URL.Path).Str("reason", reason).Msg("bearer authentication failed")
	if config.OnFailure != nil {
		config.OnFailure(reason)
	}
	writeAuthError(w)
}

// WithAuthContext returns a copy of ctx carrying authCtx.
func WithAuthContext(ctx context.Context, authCtx *AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, authCtx)
}

// GetAuthContext retrieves the AuthContext from a request context.
func GetAuthContext(ctx context.Context) *AuthContext {
	if authCtx, ok := ctx.Value(AuthContextKey).(*AuthContext); ok {
		return authCtx
	}
	return nil
}

// RequireAuth is a helper to get auth context or return error.
func RequireAuth(ctx context.Context) (*AuthContext, error) {
	authCtx := GetAuthContext(ctx)
	if authCtx == nil {
		return nil, domain.ErrUnauthorized
	}
	return authCtx, nil
}
