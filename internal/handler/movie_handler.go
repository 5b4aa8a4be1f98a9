package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reelrate/reelrate/internal/auth"
	"github.com/reelrate/reelrate/internal/domain"
	"github.com/reelrate/reelrate/internal/service"
)

// MovieService is the subset of service.MovieService used by MovieHandler.
type MovieService interface {
	List(ctx context.Context, input service.ListMoviesInput) (*service.ListMoviesOutput, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Movie, error)
	Create(ctx context.Context, input service.CreateMovieInput) (*domain.Movie, error)
	Update(ctx context.Context, input service.UpdateMovieInput) (*domain.Movie, error)
	Delete(ctx context.Context, input service.DeleteMovieInput) error
	Rate(ctx context.Context, input service.RateMovieInput) (*domain.Movie, error)
}

// MovieHandler serves the movie catalog.
type MovieHandler struct {
	movieService MovieService
	logger       zerolog.Logger
}

// NewMovieHandler creates a new MovieHandler.
func NewMovieHandler(movieService MovieService, logger zerolog.Logger) *MovieHandler {
	return &MovieHandler{
		movieService: movieService,
		logger:       logger.With().Str("handler", "movie").Logger(),
	}
}

// RegisterRoutes registers movie routes. Reads are public; mutations pass
// through requireAuth.
func (h *MovieHandler) RegisterRoutes(r chi.Router, requireAuth func(http.Handler) http.Handler) {
	r.Route("/movies", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/", h.handleCreate)
			r.Put("/{id}", h.handleUpdate)
			r.Delete("/{id}", h.handleDelete)
			r.Post("/{id}/rate", h.handleRate)
		})
	})
}

// =============================================================================
// Request/Response Structs
// =============================================================================

type movieRequest struct {
	Name        string   `json:"name"`
	ReleaseDate string   `json:"releaseDate"`
	Duration    int      `json:"duration"`
	Actors      []string `json:"actors"`
}

type rateRequest struct {
	Rating  float64 `json:"rating"`
	Comment string  `json:"comment"`
}

// value returns the rating as a whole number. Range checks stay with the
// service so a repeat rating is still reported as a duplicate.
func (req rateRequest) value() (int, error) {
	v := req.Rating
	if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
		return 0, domain.NewValidationError("rating", "must be a whole number between 1 and 5")
	}
	return int(v), nil
}

type listMoviesResponse struct {
	Data       []*domain.Movie `json:"data"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	Limit      int             `json:"limit"`
	TotalPages int             `json:"totalPages"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// fields converts the request into domain fields.
func (req movieRequest) fields() (domain.MovieFields, error) {
	releaseDate, err := parseReleaseDate(req.ReleaseDate)
	if err != nil {
		return domain.MovieFields{}, err
	}
	actors := req.Actors
	if actors == nil {
		actors = []string{}
	}
	return domain.MovieFields{
		Name:        req.Name,
		ReleaseDate: releaseDate,
		Duration:    req.Duration,
		Actors:      actors,
	}, nil
}

// parseReleaseDate accepts RFC3339 timestamps or plain YYYY-MM-DD dates.
// An empty value yields the zero time, which validation reports as missing.
func parseReleaseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	return time.Time{}, domain.NewValidationError("releaseDate", "must be an RFC3339 timestamp or YYYY-MM-DD date")
}

// movieID parses the {id} path parameter. A value that is not a uuid can
// never name a movie, so it is reported as not found.
func movieID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, domain.ErrMovieNotFound
	}
	return id, nil
}

// queryInt returns the integer query parameter, or 0 when absent or malformed.
func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

// =============================================================================
// Handlers
// =============================================================================

func (h *MovieHandler) handleList(w http.ResponseWriter, r *http.Request) {
	out, err := h.movieService.List(r.Context(), service.ListMoviesInput{
		Search: r.URL.Query().Get("search"),
		Page:   queryInt(r, "page"),
		Limit:  queryInt(r, "limit"),
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	writeJSON(w, http.StatusOK, listMoviesResponse{
		Data:       out.Movies,
		Total:      out.Total,
		Page:       out.Page,
		Limit:      out.Limit,
		TotalPages: out.TotalPages,
	})
}

func (h *MovieHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := movieID(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	movie, err := h.movieService.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, movie)
}

func (h *MovieHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	authCtx, err := auth.RequireAuth(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	var req movieRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	fields, err := req.fields()
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	movie, err := h.movieService.Create(r.Context(), service.CreateMovieInput{
		OwnerID: authCtx.UserID,
		Fields:  fields,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, movie)
}

func (h *MovieHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	authCtx, err := auth.RequireAuth(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	id, err := movieID(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	var req movieRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	fields, err := req.fields()
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	movie, err := h.movieService.Update(r.Context(), service.UpdateMovieInput{
		ID:          id,
		RequesterID: authCtx.UserID,
		Fields:      fields,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, movie)
}

func (h *MovieHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	authCtx, err := auth.RequireAuth(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	id, err := movieID(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	if err := h.movieService.Delete(r.Context(), service.DeleteMovieInput{ID: id, RequesterID: authCtx.UserID}); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Movie deleted successfully"})
}

func (h *MovieHandler) handleRate(w http.ResponseWriter, r *http.Request) {
	authCtx, err := auth.RequireAuth(r.Context())
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	id, err := movieID(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	var req rateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	value, err := req.value()
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	movie, err := h.movieService.Rate(r.Context(), service.RateMovieInput{
		ID:      id,
		UserID:  authCtx.UserID,
		Value:   value,
		Comment: req.Comment,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, movie)
}
