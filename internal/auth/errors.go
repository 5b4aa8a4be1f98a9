package auth

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Authentication errors.
var (
	// ErrMissingSecret indicates no signing secret is configured.
	ErrMissingSecret = errors.New("token signing secret is not configured")

	// ErrMissingToken indicates the request has no bearer token.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrMalformedHeader indicates the Authorization header is not "Bearer <token>".
	ErrMalformedHeader = errors.New("authorization header format must be Bearer {token}")

	// ErrInvalidToken indicates a bad signature, algorithm or claim set.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired indicates the token is past its expiry.
	ErrTokenExpired = errors.New("token has expired")
)

// AuthError is the JSON body written for a rejected request.
type AuthError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *AuthError) Error() string {
	return e.Code + ": " + e.Message
}

// NewAuthError returns the single 401 body used for every authentication
// failure, so callers cannot tell which check failed.
func NewAuthError() *AuthError {
	return &AuthError{
		Code:       "Unauthorized",
		Message:    "Unauthorized access!",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// failureReason returns a low-cardinality label for metrics and logs.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingToken):
		return "missing"
	case errors.Is(err, ErrMalformedHeader):
		return "malformed"
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrInvalidToken):
		return "invalid"
	default:
		return "rejected"
	}
}

// writeAuthError writes a JSON 401 response.
func writeAuthError(w http.ResponseWriter) {
	authErr := NewAuthError()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="reelrate"`)
	w.WriteHeader(authErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(authErr)
}
