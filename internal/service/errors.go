// Package service provides business logic services for reelrate.
package service

import "errors"

// Common service errors.
var (
	// ErrServerMisconfigured indicates a required server setting, such as
	// the token signing secret, is missing.
	ErrServerMisconfigured = errors.New("server misconfigured")

	// ErrMovieBusy indicates the per-movie lock could not be acquired in time.
	ErrMovieBusy = errors.New("movie is being modified, try again")

	// ErrInternalError wraps unexpected infrastructure failures.
	ErrInternalError = errors.New("internal server error")
)
