package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/reelrate/reelrate/internal/domain"
	"github.com/reelrate/reelrate/internal/repository"
)

// movieRepository implements repository.MovieRepository for PostgreSQL.
type movieRepository struct {
	db *DB
}

// NewMovieRepository creates a new PostgreSQL movie repository.
func NewMovieRepository(db *DB) repository.MovieRepository {
	return &movieRepository{db: db}
}

// Create creates a new movie.
func (r *movieRepository) Create(ctx context.Context, movie *domain.Movie) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO movies (id, name, release_date, duration, actors, owner_id, average_rating, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		movie.ID,
		movie.Name,
		movie.ReleaseDate,
		movie.Duration,
		nonNilActors(movie.Actors),
		movie.OwnerID,
		movie.AverageRating,
		movie.CreatedAt,
		movie.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create movie: %w", err)
	}
	return nil
}

const selectMovie = `
	SELECT m.id, m.name, m.release_date, m.duration, m.actors, m.owner_id,
	       COALESCE(u.username, ''), m.average_rating, m.created_at, m.updated_at
	FROM movies m
	LEFT JOIN users u ON u.id = m.owner_id
`

// GetByID retrieves a movie by ID.
func (r *movieRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Movie, error) {
	return getMovie(ctx, r.db.Pool, id)
}

func getMovie(ctx context.Context, q Querier, id uuid.UUID) (*domain.Movie, error) {
	movie, err := scanMovie(q.QueryRow(ctx, selectMovie+` WHERE m.id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, domain.ErrMovieNotFound
		}
		return nil, fmt.Errorf("failed to get movie: %w", err)
	}

	ratings, err := loadRatings(ctx, q, []uuid.UUID{movie.ID})
	if err != nil {
		return nil, err
	}
	movie.Ratings = ratings[movie.ID]
	return movie, nil
}

// Update persists the editable fields of an existing movie.
func (r *movieRepository) Update(ctx context.Context, movie *domain.Movie) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE movies
		SET name = $1, release_date = $2, duration = $3, actors = $4, updated_at = $5
		WHERE id = $6
	`,
		movie.Name,
		movie.ReleaseDate,
		movie.Duration,
		nonNilActors(movie.Actors),
		movie.UpdatedAt,
		movie.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update movie: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMovieNotFound
	}
	return nil
}

// Delete deletes a movie and its ratings.
func (r *movieRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM movies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete movie: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMovieNotFound
	}
	return nil
}

// List returns a page of movies, newest first.
func (r *movieRepository) List(ctx context.Context, opts repository.ListMoviesOptions) (*repository.ListResult[domain.Movie], error) {
	where := ""
	args := []any{}
	if opts.Name != "" {
		where = ` WHERE m.name ILIKE $1 ESCAPE '\'`
		args = append(args, "%"+repository.EscapeLike(opts.Name)+"%")
	}

	var total int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM movies m`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count movies: %w", err)
	}

	n := len(args)
	query := selectMovie + where + fmt.Sprintf(` ORDER BY m.created_at DESC, m.id DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	rows, err := r.db.Pool.Query(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list movies: %w", err)
	}

	movies := make([]*domain.Movie, 0, opts.Limit)
	ids := make([]uuid.UUID, 0, opts.Limit)
	for rows.Next() {
		movie, err := scanMovie(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan movie: %w", err)
		}
		movies = append(movies, movie)
		ids = append(ids, movie.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate movies: %w", err)
	}

	ratings, err := loadRatings(ctx, r.db.Pool, ids)
	if err != nil {
		return nil, err
	}
	for _, m := range movies {
		m.Ratings = ratings[m.ID]
	}

	return &repository.ListResult[domain.Movie]{
		Items:  movies,
		Total:  total,
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}, nil
}

// AddRating stores rating and recalculates the average in one transaction.
// The movie row is locked first so concurrent raters see each other's rows
// when the average is recomputed.
func (r *movieRepository) AddRating(ctx context.Context, movieID uuid.UUID, rating *domain.Rating) (*domain.Movie, error) {
	var movie *domain.Movie

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		var locked uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM movies WHERE id = $1 FOR UPDATE`, movieID).Scan(&locked)
		if err != nil {
			if isNoRows(err) {
				return domain.ErrMovieNotFound
			}
			return fmt.Errorf("failed to lock movie: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO ratings (id, movie_id, user_id, value, comment, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, rating.ID, movieID, rating.UserID, rating.Value, rating.Comment, rating.CreatedAt)
		if err != nil {
			switch {
			case isUniqueViolation(err):
				return domain.ErrAlreadyRated
			case isForeignKeyViolation(err):
				return domain.ErrMovieNotFound
			}
			return fmt.Errorf("failed to insert rating: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE movies
			SET average_rating = (SELECT AVG(value)::float8 FROM ratings WHERE movie_id = $1),
			    updated_at = $2
			WHERE id = $1
		`, movieID, rating.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to update average rating: %w", err)
		}

		movie, err = getMovie(ctx, tx, movieID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return movie, nil
}

const selectRatings = `
	SELECT id, movie_id, user_id, value, comment, created_at
	FROM ratings
	WHERE movie_id = ANY($1)
	ORDER BY created_at, id
`

// loadRatings returns the ratings of each movie in insertion order.
func loadRatings(ctx context.Context, q Querier, movieIDs []uuid.UUID) (map[uuid.UUID][]domain.Rating, error) {
	out := make(map[uuid.UUID][]domain.Rating, len(movieIDs))
	if len(movieIDs) == 0 {
		return out, nil
	}

	for _, id := range movieIDs {
		out[id] = []domain.Rating{}
	}

	rows, err := q.Query(ctx, selectRatings, movieIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load ratings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rating domain.Rating
		var movieID uuid.UUID
		if err := rows.Scan(&rating.ID, &movieID, &rating.UserID, &rating.Value, &rating.Comment, &rating.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		out[movieID] = append(out[movieID], rating)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ratings: %w", err)
	}
	return out, nil
}

func scanMovie(row pgx.Row) (*domain.Movie, error) {
	movie := &domain.Movie{Ratings: []domain.Rating{}}
	err := row.Scan(
		&movie.ID,
		&movie.Name,
		&movie.ReleaseDate,
		&movie.Duration,
		&movie.Actors,
		&movie.OwnerID,
		&movie.OwnerUsername,
		&movie.AverageRating,
		&movie.CreatedAt,
		&movie.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	movie.Actors = nonNilActors(movie.Actors)
	movie.ReleaseDate = movie.ReleaseDate.UTC()
	movie.CreatedAt = movie.CreatedAt.UTC()
	movie.UpdatedAt = movie.UpdatedAt.UTC()
	return movie, nil
}

func nonNilActors(actors []string) []string {
	if actors == nil {
		return []string{}
	}
	return actors
}

// Ensure movieRepository implements repository.MovieRepository
var _ repository.MovieRepository = (*movieRepository)(nil)
