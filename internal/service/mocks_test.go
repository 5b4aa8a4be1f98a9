package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/reelrate/reelrate/internal/domain"
	"github.com/reelrate/reelrate/internal/notify"
	"github.com/reelrate/reelrate/internal/repository"
)

// MockUserRepository is a mock implementation of repository.UserRepository.
type MockUserRepository struct {
	mu        sync.Mutex
	users     map[uuid.UUID]*domain.User
	createErr error
	getErr    error
}

func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{users: make(map[uuid.UUID]*domain.User)}
}

func (m *MockUserRepository) Create(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	for _, u := range m.users {
		if u.Username == user.Username || u.Email == user.Email {
			return domain.ErrUserAlreadyExists
		}
	}
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *MockUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	for _, u := range m.users {
		if u.Email == email {
			out := *u
			return &out, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (m *MockUserRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return false, m.getErr
	}
	for _, u := range m.users {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockUserRepository) remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
}

// MockMovieRepository is a mock implementation of repository.MovieRepository.
// Reads return copies so callers cannot mutate stored state.
type MockMovieRepository struct {
	mu        sync.Mutex
	movies    map[uuid.UUID]*domain.Movie
	createErr error
	listErr   error
}

func NewMockMovieRepository() *MockMovieRepository {
	return &MockMovieRepository{movies: make(map[uuid.UUID]*domain.Movie)}
}

func cloneMovie(m *domain.Movie) *domain.Movie {
	out := *m
	out.Actors = append([]string(nil), m.Actors...)
	out.Ratings = append([]domain.Rating{}, m.Ratings...)
	return &out
}

func (m *MockMovieRepository) Create(ctx context.Context, movie *domain.Movie) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.movies[movie.ID] = cloneMovie(movie)
	return nil
}

func (m *MockMovieRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Movie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	movie, ok := m.movies[id]
	if !ok {
		return nil, domain.ErrMovieNotFound
	}
	return cloneMovie(movie), nil
}

func (m *MockMovieRepository) Update(ctx context.Context, movie *domain.Movie) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.movies[movie.ID]
	if !ok {
		return domain.ErrMovieNotFound
	}
	stored.Name = movie.Name
	stored.ReleaseDate = movie.ReleaseDate
	stored.Duration = movie.Duration
	stored.Actors = append([]string(nil), movie.Actors...)
	stored.UpdatedAt = movie.UpdatedAt
	return nil
}

func (m *MockMovieRepository) Delete(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.movies[id]; !ok {
		return domain.ErrMovieNotFound
	}
	delete(m.movies, id)
	return nil
}

func (m *MockMovieRepository) List(ctx context.Context, opts repository.ListMoviesOptions) (*repository.ListResult[domain.Movie], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}

	var matched []*domain.Movie
	needle := strings.ToLower(opts.Name)
	for _, movie := range m.movies {
		if strings.Contains(strings.ToLower(movie.Name), needle) {
			matched = append(matched, cloneMovie(movie))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() > matched[j].ID.String()
	})

	result := &repository.ListResult[domain.Movie]{
		Total:  int64(len(matched)),
		Offset: opts.Offset,
		Limit:  opts.Limit,
	}
	if opts.Offset < len(matched) {
		end := min(opts.Offset+opts.Limit, len(matched))
		result.Items = matched[opts.Offset:end]
	}
	return result, nil
}

func (m *MockMovieRepository) AddRating(ctx context.Context, movieID uuid.UUID, rating *domain.Rating) (*domain.Movie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.movies[movieID]
	if !ok {
		return nil, domain.ErrMovieNotFound
	}
	if stored.HasRated(rating.UserID) {
		return nil, domain.ErrAlreadyRated
	}
	stored.Ratings = append(stored.Ratings, *rating)
	stored.AverageRating = domain.RecomputeAverage(stored.Ratings)
	return cloneMovie(stored), nil
}

func (m *MockMovieRepository) put(movie *domain.Movie) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movies[movie.ID] = cloneMovie(movie)
}

// recordingNotifier captures every broadcast in order.
type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	Kind    notify.Kind
	Payload any
}

func (n *recordingNotifier) Broadcast(ctx context.Context, kind notify.Kind, payload any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{Kind: kind, Payload: payload})
}

func (n *recordingNotifier) recorded() []recordedEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recordedEvent(nil), n.events...)
}

// gatedNotifier holds the first broadcast until release is closed.
type gatedNotifier struct {
	recordingNotifier
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedNotifier() *gatedNotifier {
	return &gatedNotifier{entered: make(chan struct{}), release: make(chan struct{})}
}

func (n *gatedNotifier) Broadcast(ctx context.Context, kind notify.Kind, payload any) {
	first := false
	n.once.Do(func() { first = true })
	if first {
		close(n.entered)
		<-n.release
	}
	n.recordingNotifier.Broadcast(ctx, kind, payload)
}

// Ensure mocks implement the interfaces.
var (
	_ repository.UserRepository  = (*MockUserRepository)(nil)
	_ repository.MovieRepository = (*MockMovieRepository)(nil)
	_ notify.Notifier            = (*recordingNotifier)(nil)
	_ notify.Notifier            = (*gatedNotifier)(nil)
)
