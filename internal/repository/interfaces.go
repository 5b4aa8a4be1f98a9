// Package repository defines data access interfaces for reelrate.
// These interfaces abstract database operations, allowing for different
// implementations (PostgreSQL, SQLite, in-memory for testing) while keeping
// the service layer clean.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/reelrate/reelrate/internal/domain"
)

// =============================================================================
// User Repository
// =============================================================================

// UserRepository defines the interface for user data access.
type UserRepository interface {
	// Create creates a new user.
	// Returns domain.ErrUserAlreadyExists when the username or email is taken.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetByEmail retrieves a user by email.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// ExistsByUsernameOrEmail checks if a user holds either identifier.
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
}

// =============================================================================
// Movie Repository
// =============================================================================

// MovieRepository defines the interface for movie and rating data access.
// Movies are always returned with their ratings and the owner's username.
type MovieRepository interface {
	// Create creates a new movie.
	Create(ctx context.Context, movie *domain.Movie) error

	// GetByID retrieves a movie by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Movie, error)

	// Update persists the editable fields of an existing movie.
	Update(ctx context.Context, movie *domain.Movie) error

	// Delete deletes a movie and its ratings.
	Delete(ctx context.Context, id uuid.UUID) error

	// List returns a page of movies, newest first.
	List(ctx context.Context, opts ListMoviesOptions) (*ListResult[domain.Movie], error)

	// AddRating stores rating for movieID and recalculates the movie's
	// average from every stored rating in the same transaction. It returns
	// the movie as committed.
	// Returns domain.ErrAlreadyRated if the user already rated the movie.
	AddRating(ctx context.Context, movieID uuid.UUID, rating *domain.Rating) (*domain.Movie, error)
}

// ListMoviesOptions contains options for listing movies.
type ListMoviesOptions struct {
	// Name filters movies whose name contains this text, case-insensitively.
	Name string

	ListOptions
}

// =============================================================================
// Common Types
// =============================================================================

// ListOptions contains common pagination options.
type ListOptions struct {
	// Offset is the number of records to skip.
	Offset int

	// Limit is the maximum number of records to return.
	Limit int
}

// ListResult is a generic paginated list result.
type ListResult[T any] struct {
	// Items is the list of items.
	Items []*T

	// Total is the total number of items (without pagination).
	Total int64

	// Offset is the current offset.
	Offset int

	// Limit is the current limit.
	Limit int
}

// =============================================================================
// Health
// =============================================================================

// DatabaseHealth is an interface for database health checks.
// This interface satisfies handler.DatabaseChecker for health endpoints.
type DatabaseHealth interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}
