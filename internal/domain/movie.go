package domain

import (
	"time"

	"github.com/google/uuid"
)

// Rating bounds (inclusive).
const (
	MinRatingValue = 1
	MaxRatingValue = 5
)

// Movie is a rateable catalog item.
type Movie struct {
	// ID is the unique identifier for the movie.
	ID uuid.UUID `json:"id"`

	// Name is the display title, stored trimmed.
	Name string `json:"name"`

	// ReleaseDate is the date the movie was released.
	ReleaseDate time.Time `json:"releaseDate"`

	// Duration is the running time in minutes. Always >= 1.
	Duration int `json:"duration"`

	// Actors lists participant names in billing order.
	Actors []string `json:"actors"`

	// OwnerID is the user that created the movie. Immutable after creation.
	OwnerID uuid.UUID `json:"owner"`

	// OwnerUsername is resolved from the users table on reads.
	OwnerUsername string `json:"ownerUsername,omitempty"`

	// Ratings holds every rating in insertion order.
	Ratings []Rating `json:"ratings"`

	// AverageRating is the mean of Ratings[].Value, or 0 when empty.
	AverageRating float64 `json:"averageRating"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MovieFields are the user-editable fields of a movie.
type MovieFields struct {
	Name        string
	ReleaseDate time.Time
	Duration    int
	Actors      []string
}

// Rating is a single user's rating of a movie.
type Rating struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user"`
	Value     int       `json:"rating"`
	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewMovie creates a movie owned by ownerID. Fields are expected to be validated.
func NewMovie(ownerID uuid.UUID, fields MovieFields) *Movie {
	now := time.Now().UTC()
	m := &Movie{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Ratings:   []Rating{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.Apply(fields)
	return m
}

// NewRating creates a rating by userID.
func NewRating(userID uuid.UUID, value int, comment string) Rating {
	return Rating{
		ID:        uuid.New(),
		UserID:    userID,
		Value:     value,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
	}
}

// Apply overwrites the editable fields. OwnerID, ratings and timestamps other
// than UpdatedAt are left untouched.
func (m *Movie) Apply(fields MovieFields) {
	m.Name = fields.Name
	m.ReleaseDate = fields.ReleaseDate.UTC()
	m.Duration = fields.Duration
	actors := make([]string, len(fields.Actors))
	copy(actors, fields.Actors)
	m.Actors = actors
	m.UpdatedAt = time.Now().UTC()
}

// HasRated reports whether userID already has a rating on this movie.
func (m *Movie) HasRated(userID uuid.UUID) bool {
	for _, r := range m.Ratings {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// AddRating appends r and recomputes the average.
// It fails with ErrAlreadyRated before validating the value, so a repeat
// rater always learns about the duplicate first.
func (m *Movie) AddRating(r Rating) error {
	if m.HasRated(r.UserID) {
		return ErrAlreadyRated
	}
	if err := ValidateRating(r.Value, r.Comment); err != nil {
		return err
	}
	m.Ratings = append(m.Ratings, r)
	m.AverageRating = RecomputeAverage(m.Ratings)
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// RecomputeAverage returns the arithmetic mean of the rating values, or 0
// for an empty set.
func RecomputeAverage(ratings []Rating) float64 {
	if len(ratings) == 0 {
		return 0
	}
	sum := 0
	for _, r := range ratings {
		sum += r.Value
	}
	return float64(sum) / float64(len(ratings))
}
