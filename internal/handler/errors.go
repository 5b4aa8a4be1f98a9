package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/reelrate/reelrate/internal/domain"
	"github.com/reelrate/reelrate/internal/service"
)

// APIError is the JSON error body returned by every endpoint.
type APIError struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	HTTPStatusCode int    `json:"-"`
}

// Error implements the error interface.
func (e APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Common API errors.
var (
	ErrUnauthorized = APIError{
		Code:           "Unauthorized",
		Message:        "Unauthorized access!",
		HTTPStatusCode: http.StatusUnauthorized,
	}
	ErrInvalidCredentials = APIError{
		Code:           "Unauthorized",
		Message:        "Invalid email or password",
		HTTPStatusCode: http.StatusUnauthorized,
	}
	ErrForbidden = APIError{
		Code:           "Forbidden",
		Message:        "Not authorized to modify this movie",
		HTTPStatusCode: http.StatusForbidden,
	}
	ErrMovieNotFound = APIError{
		Code:           "NotFound",
		Message:        "Movie not found",
		HTTPStatusCode: http.StatusNotFound,
	}
	ErrUserExists = APIError{
		Code:           "Conflict",
		Message:        "User already exists",
		HTTPStatusCode: http.StatusBadRequest,
	}
	ErrAlreadyRated = APIError{
		Code:           "AlreadyRated",
		Message:        "You have already rated this movie",
		HTTPStatusCode: http.StatusBadRequest,
	}
	ErrMovieBusy = APIError{
		Code:           "Busy",
		Message:        "Movie is being modified, try again",
		HTTPStatusCode: http.StatusConflict,
	}
	ErrMalformedBody = APIError{
		Code:           "InvalidValue",
		Message:        "Request body is not valid JSON",
		HTTPStatusCode: http.StatusBadRequest,
	}
	ErrBodyTooLarge = APIError{
		Code:           "InvalidValue",
		Message:        "Request body is too large",
		HTTPStatusCode: http.StatusRequestEntityTooLarge,
	}
	ErrMisconfigured = APIError{
		Code:           "ServerMisconfigured",
		Message:        "JWT secret is not configured",
		HTTPStatusCode: http.StatusInternalServerError,
	}
	ErrUnexpected = APIError{
		Code:           "Unexpected",
		Message:        "Something went wrong!",
		HTTPStatusCode: http.StatusInternalServerError,
	}
)

// NewAPIError maps a domain or service error to its API representation.
// Anything unrecognised becomes ErrUnexpected so store text never leaks.
func NewAPIError(err error) APIError {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return APIError{
			Code:           "InvalidValue",
			Message:        validationErr.Error(),
			HTTPStatusCode: http.StatusBadRequest,
		}
	case errors.Is(err, domain.ErrUnauthorized):
		return ErrUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return ErrForbidden
	case errors.Is(err, domain.ErrMovieNotFound):
		return ErrMovieNotFound
	case errors.Is(err, domain.ErrUserAlreadyExists):
		return ErrUserExists
	case errors.Is(err, domain.ErrAlreadyRated):
		return ErrAlreadyRated
	case errors.Is(err, domain.ErrInvalidValue):
		return APIError{
			Code:           "InvalidValue",
			Message:        "Invalid value",
			HTTPStatusCode: http.StatusBadRequest,
		}
	case errors.Is(err, service.ErrMovieBusy):
		return ErrMovieBusy
	case errors.Is(err, service.ErrServerMisconfigured):
		return ErrMisconfigured
	default:
		return ErrUnexpected
	}
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err and writes it. Server-side failures are logged with
// the original error.
func writeError(w http.ResponseWriter, logger zerolog.Logger, r *http.Request, err error) {
	apiErr := NewAPIError(err)
	if apiErr.HTTPStatusCode >= http.StatusInternalServerError {
		logger.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeJSON(w, apiErr.HTTPStatusCode, apiErr)
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return ErrBodyTooLarge
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return domain.NewValidationError(typeErr.Field, "must be "+jsonKind(typeErr.Type))
		}
		return ErrMalformedBody
	}
	return nil
}

// jsonKind names the JSON shape expected for a Go type.
func jsonKind(t reflect.Type) string {
	if t == nil {
		return "of a different type"
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "a whole number"
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Bool:
		return "a boolean"
	default:
		return "of a different type"
	}
}
