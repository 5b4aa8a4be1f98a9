package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reelrate/reelrate/internal/domain"
	"github.com/reelrate/reelrate/internal/lock"
	"github.com/reelrate/reelrate/internal/metrics"
	"github.com/reelrate/reelrate/internal/notify"
	"github.com/reelrate/reelrate/internal/repository"
)

// Pagination defaults for List.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// MovieService handles catalog reads, owner-only mutations and ratings.
type MovieService struct {
	movieRepo repository.MovieRepository
	locker    lock.Locker
	lockOpts  lock.Options
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewMovieService creates a new MovieService.
func NewMovieService(
	movieRepo repository.MovieRepository,
	locker lock.Locker,
	lockOpts lock.Options,
	notifier notify.Notifier,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *MovieService {
	return &MovieService{
		movieRepo: movieRepo,
		locker:    locker,
		lockOpts:  lockOpts,
		notifier:  notifier,
		metrics:   m,
		logger:    logger.With().Str("service", "movie").Logger(),
	}
}

// =============================================================================
// Input/Output Structs
// =============================================================================

// ListMoviesInput contains the query for listing movies.
type ListMoviesInput struct {
	Search string
	Page   int
	Limit  int
}

// ListMoviesOutput contains a page of movies.
type ListMoviesOutput struct {
	Movies     []*domain.Movie
	Total      int64
	Page       int
	Limit      int
	TotalPages int
}

// CreateMovieInput contains the data needed to create a movie.
type CreateMovieInput struct {
	OwnerID uuid.UUID
	Fields  domain.MovieFields
}

// UpdateMovieInput contains the data needed to replace a movie's fields.
type UpdateMovieInput struct {
	ID          uuid.UUID
	RequesterID uuid.UUID
	Fields      domain.MovieFields
}

// DeleteMovieInput contains the data needed to delete a movie.
type DeleteMovieInput struct {
	ID          uuid.UUID
	RequesterID uuid.UUID
}

// RateMovieInput contains the data needed to rate a movie.
type RateMovieInput struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	Value   int
	Comment string
}

// =============================================================================
// Reads
// =============================================================================

// List returns a page of movies, newest first.
func (s *MovieService) List(ctx context.Context, input ListMoviesInput) (*ListMoviesOutput, error) {
	page := input.Page
	if page < 1 {
		page = DefaultPage
	}
	limit := input.Limit
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	result, err := s.movieRepo.List(ctx, repository.ListMoviesOptions{
		Name: input.Search,
		ListOptions: repository.ListOptions{
			Offset: (page - 1) * limit,
			Limit:  limit,
		},
	})
	if err != nil {
		s.logger.Error().Err(err).Str("search", input.Search).Msg("failed to list movies")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	movies := result.Items
	if movies == nil {
		movies = []*domain.Movie{}
	}

	return &ListMoviesOutput{
		Movies:     movies,
		Total:      result.Total,
		Page:       page,
		Limit:      limit,
		TotalPages: int((result.Total + int64(limit) - 1) / int64(limit)),
	}, nil
}

// Get returns a single movie.
func (s *MovieService) Get(ctx context.Context, id uuid.UUID) (*domain.Movie, error) {
	movie, err := s.movieRepo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeError(err, id, "failed to get movie")
	}
	return movie, nil
}

// =============================================================================
// Mutations
// =============================================================================

// Create validates and stores a new movie owned by input.OwnerID.
func (s *MovieService) Create(ctx context.Context, input CreateMovieInput) (*domain.Movie, error) {
	fields := input.Fields.Normalize()
	if err := domain.ValidateMovieFields(fields); err != nil {
		return nil, err
	}

	movie := domain.NewMovie(input.OwnerID, fields)
	if err := s.movieRepo.Create(ctx, movie); err != nil {
		s.logger.Error().Err(err).Str("owner_id", input.OwnerID.String()).Msg("failed to create movie")
		return nil, fmt.Errorf("%w: %v", ErrInternalError, err)
	}

	// Re-read so the broadcast and the response carry the owner's username.
	stored, err := s.movieRepo.GetByID(ctx, movie.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("movie_id", movie.ID.String()).Msg("failed to reload created movie")
		stored = movie
	}

	s.logger.Info().
		Str("movie_id", stored.ID.String()).
		Str("owner_id", stored.OwnerID.String()).
		Msg("movie created")

	s.notifier.Broadcast(ctx, notify.KindMovieCreated, stored)
	return stored, nil
}

// Update replaces the editable fields of a movie. Only the owner may update.
func (s *MovieService) Update(ctx context.Context, input UpdateMovieInput) (*domain.Movie, error) {
	fields := input.Fields.Normalize()

	var updated *domain.Movie
	err := s.withMovieLock(ctx, input.ID, func(ctx context.Context) error {
		movie, err := s.movieRepo.GetByID(ctx, input.ID)
		if err != nil {
			return s.storeError(err, input.ID, "failed to load movie for update")
		}
		if err := Authorize(movie, input.RequesterID); err != nil {
			return err
		}
		if err := domain.ValidateMovieFields(fields); err != nil {
			return err
		}

		movie.Apply(fields)
		if err := s.movieRepo.Update(ctx, movie); err != nil {
			return s.storeError(err, input.ID, "failed to update movie")
		}
		s.notifier.Broadcast(ctx, notify.KindMovieUpdated, movie)
		updated = movie
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("movie_id", updated.ID.String()).Msg("movie updated")
	return updated, nil
}

// Delete removes a movie and its ratings. Only the owner may delete.
func (s *MovieService) Delete(ctx context.Context, input DeleteMovieInput) error {
	err := s.withMovieLock(ctx, input.ID, func(ctx context.Context) error {
		movie, err := s.movieRepo.GetByID(ctx, input.ID)
		if err != nil {
			return s.storeError(err, input.ID, "failed to load movie for delete")
		}
		if err := Authorize(movie, input.RequesterID); err != nil {
			return err
		}
		if err := s.movieRepo.Delete(ctx, input.ID); err != nil {
			return s.storeError(err, input.ID, "failed to delete movie")
		}
		s.notifier.Broadcast(ctx, notify.KindMovieDeleted, input.ID.String())
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("movie_id", input.ID.String()).Msg("movie deleted")
	return nil
}

// Rate records one rating per user and returns the movie with its
// recalculated average.
func (s *MovieService) Rate(ctx context.Context, input RateMovieInput) (*domain.Movie, error) {
	var rated *domain.Movie
	err := s.withMovieLock(ctx, input.ID, func(ctx context.Context) error {
		movie, err := s.movieRepo.GetByID(ctx, input.ID)
		if err != nil {
			return s.storeError(err, input.ID, "failed to load movie for rating")
		}

		rating := domain.NewRating(input.UserID, input.Value, input.Comment)
		if err := movie.AddRating(rating); err != nil {
			return err
		}

		committed, err := s.movieRepo.AddRating(ctx, input.ID, &rating)
		if err != nil {
			if errors.Is(err, domain.ErrAlreadyRated) {
				return domain.ErrAlreadyRated
			}
			return s.storeError(err, input.ID, "failed to store rating")
		}
		s.notifier.Broadcast(ctx, notify.KindMovieRated, committed)
		rated = committed
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordRating()
	s.logger.Info().
		Str("movie_id", rated.ID.String()).
		Str("user_id", input.UserID.String()).
		Int("rating", input.Value).
		Float64("average", rated.AverageRating).
		Msg("movie rated")
	return rated, nil
}

// =============================================================================
// Helpers
// =============================================================================

// withMovieLock runs fn while holding the movie's mutation lock. Mutations
// broadcast from inside fn so events leave in commit order.
func (s *MovieService) withMovieLock(ctx context.Context, id uuid.UUID, fn func(ctx context.Context) error) error {
	err := lock.WithLock(ctx, s.locker, lock.Keys.Movie(id), s.lockOpts, fn)
	if err == nil {
		return nil
	}
	if errors.Is(err, lock.ErrNotAcquired) {
		s.logger.Warn().Str("movie_id", id.String()).Msg("movie lock busy")
		return ErrMovieBusy
	}
	if isClassified(err) {
		return err
	}
	s.logger.Error().Err(err).Str("movie_id", id.String()).Msg("movie lock failed")
	return fmt.Errorf("%w: %v", ErrInternalError, err)
}

// storeError tags not-found errors with the movie id and wraps everything else.
func (s *MovieService) storeError(err error, id uuid.UUID, msg string) error {
	if errors.Is(err, domain.ErrMovieNotFound) {
		return domain.NewDomainError(domain.ErrMovieNotFound, "", id.String())
	}
	s.logger.Error().Err(err).Str("movie_id", id.String()).Msg(msg)
	return fmt.Errorf("%w: %v", ErrInternalError, err)
}

// isClassified reports whether err already carries a domain or service error.
func isClassified(err error) bool {
	for _, target := range []error{
		domain.ErrMovieNotFound,
		domain.ErrForbidden,
		domain.ErrInvalidValue,
		domain.ErrAlreadyRated,
		ErrInternalError,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
