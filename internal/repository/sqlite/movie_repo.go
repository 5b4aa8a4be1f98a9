package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/reelrate/reelrate/internal/domain"
	"github.com/reelrate/reelrate/internal/repository"
)

// movieRepository implements repository.MovieRepository for SQLite.
type movieRepository struct {
	db *DB
}

// NewMovieRepository creates a new SQLite movie repository.
func NewMovieRepository(db *DB) repository.MovieRepository {
	return &movieRepository{db: db}
}

// queryer is satisfied by *DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Create creates a new movie.
func (r *movieRepository) Create(ctx context.Context, movie *domain.Movie) error {
	actors, err := encodeActors(movie.Actors)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO movies (id, name, release_date, duration, actors, owner_id, average_rating, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		movie.ID.String(),
		movie.Name,
		formatTime(movie.ReleaseDate),
		movie.Duration,
		actors,
		movie.OwnerID.String(),
		movie.AverageRating,
		formatTime(movie.CreatedAt),
		formatTime(movie.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create movie: %w", err)
	}
	return nil
}

// GetByID retrieves a movie by ID.
func (r *movieRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Movie, error) {
	return getMovie(ctx, r.db, id)
}

const selectMovie = `
	SELECT m.id, m.name, m.release_date, m.duration, m.actors, m.owner_id,
	       COALESCE(u.username, ''), m.average_rating, m.created_at, m.updated_at
	FROM movies m
	LEFT JOIN users u ON u.id = m.owner_id
`

func getMovie(ctx context.Context, q queryer, id uuid.UUID) (*domain.Movie, error) {
	movie, err := scanMovie(q.QueryRowContext(ctx, selectMovie+` WHERE m.id = ?`, id.String()))
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
	actors, err := encodeActors(movie.Actors)
	if err != nil {
		return err
	}

	query := `
		UPDATE movies
		SET name = ?, release_date = ?, duration = ?, actors = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		movie.Name,
		formatTime(movie.ReleaseDate),
		movie.Duration,
		actors,
		formatTime(movie.UpdatedAt),
		movie.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to update movie: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrMovieNotFound
	}
	return nil
}

// Delete deletes a movie and its ratings.
func (r *movieRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM movies WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete movie: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrMovieNotFound
	}
	return nil
}

// List returns a page of movies, newest first.
func (r *movieRepository) List(ctx context.Context, opts repository.ListMoviesOptions) (*repository.ListResult[domain.Movie], error) {
	where := ""
	var args []interface{}
	if opts.Name != "" {
		// LIKE is case-insensitive for ASCII in SQLite.
		where = ` WHERE m.name LIKE ? ESCAPE '\'`
		args = append(args, "%"+repository.EscapeLike(opts.Name)+"%")
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM movies m`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count movies: %w", err)
	}

	query := selectMovie + where + ` ORDER BY m.created_at DESC, m.id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list movies: %w", err)
	}
	defer rows.Close()

	movies := make([]*domain.Movie, 0, opts.Limit)
	ids := make([]uuid.UUID, 0, opts.Limit)
	for rows.Next() {
		movie, err := scanMovie(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movie: %w", err)
		}
		movies = append(movies, movie)
		ids = append(ids, movie.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate movies: %w", err)
	}
	rows.Close()

	ratings, err := loadRatings(ctx, r.db, ids)
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
func (r *movieRepository) AddRating(ctx context.Context, movieID uuid.UUID, rating *domain.Rating) (*domain.Movie, error) {
	var movie *domain.Movie

	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ratings (id, movie_id, user_id, value, comment, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			rating.ID.String(),
			movieID.String(),
			rating.UserID.String(),
			rating.Value,
			rating.Comment,
			formatTime(rating.CreatedAt),
		)
		if err != nil {
			switch {
			case isUniqueViolation(err):
				return domain.ErrAlreadyRated
			case isForeignKeyViolation(err):
				return domain.ErrMovieNotFound
			}
			return fmt.Errorf("failed to insert rating: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE movies
			SET average_rating = (SELECT AVG(value) FROM ratings WHERE movie_id = ?),
			    updated_at = ?
			WHERE id = ?
		`, movieID.String(), formatTime(rating.CreatedAt), movieID.String())
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

// loadRatings returns the ratings of each movie in insertion order.
func loadRatings(ctx context.Context, q queryer, movieIDs []uuid.UUID) (map[uuid.UUID][]domain.Rating, error) {
	out := make(map[uuid.UUID][]domain.Rating, len(movieIDs))
	if len(movieIDs) == 0 {
		return out, nil
	}

	args := make([]interface{}, len(movieIDs))
	for i, id := range movieIDs {
		args[i] = id.String()
		out[id] = []domain.Rating{}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(movieIDs)), ",")

	rows, err := q.QueryContext(ctx, `
		SELECT id, movie_id, user_id, value, comment, created_at
		FROM ratings
		WHERE movie_id IN (`+placeholders+`)
		ORDER BY created_at, rowid
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load ratings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rating domain.Rating
		var movieID uuid.UUID
		var createdAt string
		if err := rows.Scan(&rating.ID, &movieID, &rating.UserID, &rating.Value, &rating.Comment, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		if rating.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse rating created_at: %w", err)
		}
		out[movieID] = append(out[movieID], rating)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ratings: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMovie(row rowScanner) (*domain.Movie, error) {
	movie := &domain.Movie{}
	var releaseDate, actors, createdAt, updatedAt string

	err := row.Scan(
		&movie.ID,
		&movie.Name,
		&releaseDate,
		&movie.Duration,
		&actors,
		&movie.OwnerID,
		&movie.OwnerUsername,
		&movie.AverageRating,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(actors), &movie.Actors); err != nil {
		return nil, fmt.Errorf("failed to decode actors: %w", err)
	}
	if movie.Actors == nil {
		movie.Actors = []string{}
	}
	if movie.ReleaseDate, err = parseTime(releaseDate); err != nil {
		return nil, fmt.Errorf("failed to parse release_date: %w", err)
	}
	if movie.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	if movie.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	movie.Ratings = []domain.Rating{}
	return movie, nil
}

// encodeActors stores the actor list as a JSON array. SQLite has no array type.
func encodeActors(actors []string) (string, error) {
	if actors == nil {
		actors = []string{}
	}
	b, err := json.Marshal(actors)
	if err != nil {
		return "", fmt.Errorf("failed to encode actors: %w", err)
	}
	return string(b), nil
}

// Ensure movieRepository implements repository.MovieRepository
var _ repository.MovieRepository = (*movieRepository)(nil)
