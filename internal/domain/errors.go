// Package domain contains the core business entities for reelrate.
package domain

import (
	"errors"
	"fmt"
)

// Domain errors - these represent business rule violations.
// They are distinct from infrastructure errors (database, network, etc.).

var (
	// ===========================================
	// User Errors
	// ===========================================

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists indicates a user with the same username/email exists.
	ErrUserAlreadyExists = errors.New("user already exists")

	// ===========================================
	// Authentication/Authorization Errors
	// ===========================================

	// ErrUnauthorized indicates a missing, invalid or expired credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates the caller is authenticated but may not mutate the resource.
	ErrForbidden = errors.New("forbidden")

	// ===========================================
	// Movie Errors
	// ===========================================

	// ErrMovieNotFound indicates the requested movie does not exist.
	ErrMovieNotFound = errors.New("movie not found")

	// ErrAlreadyRated indicates the user has already rated the movie.
	ErrAlreadyRated = errors.New("you have already rated this movie")

	// ===========================================
	// Validation Errors
	// ===========================================

	// ErrInvalidValue indicates malformed input.
	ErrInvalidValue = errors.New("invalid value")
)

// ValidationError describes which field failed validation and why.
// It unwraps to ErrInvalidValue.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Unwrap returns ErrInvalidValue for errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidValue
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// DomainError ties a sentinel to the resource it concerns, such as the id
// of a movie that was not found. It unwraps to Err.
type DomainError struct {
	Err      error
	Detail   string
	Resource string
}

func (e *DomainError) Error() string {
	msg := e.Err.Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Resource != "" {
		msg += " (" + e.Resource + ")"
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError wraps err with an optional detail and resource id.
func NewDomainError(err error, detail, resource string) *DomainError {
	return &DomainError{Err: err, Detail: detail, Resource: resource}
}
