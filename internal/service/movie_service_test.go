package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelrate/reelrate/internal/domain"
	"github.com/reelrate/reelrate/internal/lock"
	"github.com/reelrate/reelrate/internal/metrics"
	"github.com/reelrate/reelrate/internal/notify"
)

var testLockOptions = lock.Options{TTL: 5 * time.Second, Retries: 50, RetryDelay: 5 * time.Millisecond}

type movieFixture struct {
	svc      *MovieService
	repo     *MockMovieRepository
	locker   *lock.MemoryLocker
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func newMovieFixture(t *testing.T) *movieFixture {
	t.Helper()
	locker := lock.NewMemoryLocker()
	t.Cleanup(func() { _ = locker.Close() })

	f := &movieFixture{
		repo:     NewMockMovieRepository(),
		locker:   locker,
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
	}
	f.svc = NewMovieService(f.repo, locker, testLockOptions, f.notifier, f.metrics, zerolog.Nop())
	return f
}

func sampleFields(name string) domain.MovieFields {
	return domain.MovieFields{
		Name:        name,
		ReleaseDate: time.Date(2014, 11, 7, 0, 0, 0, 0, time.UTC),
		Duration:    169,
		Actors:      []string{"Matthew McConaughey", "Anne Hathaway"},
	}
}

func TestMovieService_Create(t *testing.T) {
	f := newMovieFixture(t)
	owner := uuid.New()

	movie, err := f.svc.Create(context.Background(), CreateMovieInput{
		OwnerID: owner,
		Fields:  sampleFields("  Interstellar  "),
	})
	require.NoError(t, err)
	assert.Equal(t, "Interstellar", movie.Name)
	assert.Equal(t, owner, movie.OwnerID)
	assert.Empty(t, movie.Ratings)
	assert.Zero(t, movie.AverageRating)

	events := f.notifier.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, notify.KindMovieCreated, events[0].Kind)
	assert.Equal(t, movie.ID, events[0].Payload.(*domain.Movie).ID)
}

func TestMovieService_Create_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.MovieFields)
	}{
		{name: "blank name", mutate: func(f *domain.MovieFields) { f.Name = "   " }},
		{name: "no release date", mutate: func(f *domain.MovieFields) { f.ReleaseDate = time.Time{} }},
		{name: "zero duration", mutate: func(f *domain.MovieFields) { f.Duration = 0 }},
		{name: "empty actor", mutate: func(f *domain.MovieFields) { f.Actors = []string{"  "} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMovieFixture(t)
			fields := sampleFields("Interstellar")
			tt.mutate(&fields)

			_, err := f.svc.Create(context.Background(), CreateMovieInput{OwnerID: uuid.New(), Fields: fields})
			assert.ErrorIs(t, err, domain.ErrInvalidValue)
			assert.Empty(t, f.notifier.recorded())
		})
	}
}

func TestMovieService_Create_StoreFailure(t *testing.T) {
	f := newMovieFixture(t)
	f.repo.createErr = errors.New("read-only file system")

	_, err := f.svc.Create(context.Background(), CreateMovieInput{OwnerID: uuid.New(), Fields: sampleFields("Interstellar")})
	assert.ErrorIs(t, err, ErrInternalError)
	assert.Empty(t, f.notifier.recorded())
}

func TestMovieService_List_SearchAndPaging(t *testing.T) {
	f := newMovieFixture(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	owner := uuid.New()

	// 25 matching titles, created one minute apart, plus noise.
	for i := 1; i <= 25; i++ {
		m := domain.NewMovie(owner, sampleFields(fmt.Sprintf("Interstellar %02d", i)))
		m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		f.repo.put(m)
	}
	for i := 1; i <= 5; i++ {
		m := domain.NewMovie(owner, sampleFields(fmt.Sprintf("Arrival %02d", i)))
		m.CreatedAt = base.Add(time.Duration(100+i) * time.Minute)
		f.repo.put(m)
	}

	out, err := f.svc.List(context.Background(), ListMoviesInput{Search: "inter", Page: 2, Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, int64(25), out.Total)
	assert.Equal(t, 2, out.Page)
	assert.Equal(t, 10, out.Limit)
	assert.Equal(t, 3, out.TotalPages)
	require.Len(t, out.Movies, 10)

	// Newest first: page 2 holds the 11th..20th newest, i.e. 15 down to 6.
	for i, m := range out.Movies {
		assert.Equal(t, fmt.Sprintf("Interstellar %02d", 15-i), m.Name)
	}
}

func TestMovieService_List_Defaults(t *testing.T) {
	tests := []struct {
		name      string
		input     ListMoviesInput
		wantPage  int
		wantLimit int
	}{
		{name: "zero values", input: ListMoviesInput{}, wantPage: 1, wantLimit: 10},
		{name: "negative values", input: ListMoviesInput{Page: -3, Limit: -1}, wantPage: 1, wantLimit: 10},
		{name: "limit capped", input: ListMoviesInput{Page: 1, Limit: 1000}, wantPage: 1, wantLimit: MaxLimit},
		{name: "explicit", input: ListMoviesInput{Page: 3, Limit: 5}, wantPage: 3, wantLimit: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMovieFixture(t)
			out, err := f.svc.List(context.Background(), tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPage, out.Page)
			assert.Equal(t, tt.wantLimit, out.Limit)
			assert.Equal(t, 0, out.TotalPages)
			assert.NotNil(t, out.Movies)
			assert.Empty(t, out.Movies)
		})
	}
}

func TestMovieService_Get_NotFound(t *testing.T) {
	f := newMovieFixture(t)
	id := uuid.New()
	_, err := f.svc.Get(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrMovieNotFound)

	var derr *domain.DomainError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, id.String(), derr.Resource)
}

func TestMovieService_Update(t *testing.T) {
	owner := uuid.New()
	stranger := uuid.New()

	tests := []struct {
		name      string
		requester uuid.UUID
		missing   bool
		fields    domain.MovieFields
		wantErr   error
	}{
		{name: "owner", requester: owner, fields: sampleFields("Interstellar (Director's Cut)")},
		{name: "stranger", requester: stranger, fields: sampleFields("Hijacked"), wantErr: domain.ErrForbidden},
		{name: "missing movie", requester: owner, missing: true, fields: sampleFields("Ghost"), wantErr: domain.ErrMovieNotFound},
		{name: "invalid fields", requester: owner, fields: domain.MovieFields{Name: "x"}, wantErr: domain.ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMovieFixture(t)
			created, err := f.svc.Create(context.Background(), CreateMovieInput{OwnerID: owner, Fields: sampleFields("Interstellar")})
			require.NoError(t, err)

			id := created.ID
			if tt.missing {
				id = uuid.New()
			}

			updated, err := f.svc.Update(context.Background(), UpdateMovieInput{ID: id, RequesterID: tt.requester, Fields: tt.fields})
			events := f.notifier.recorded()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Len(t, events, 1)

				stored, getErr := f.svc.Get(context.Background(), created.ID)
				require.NoError(t, getErr)
				assert.Equal(t, "Interstellar", stored.Name)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.fields.Name, updated.Name)
			assert.Equal(t, owner, updated.OwnerID)
			require.Len(t, events, 2)
			assert.Equal(t, notify.KindMovieUpdated, events[1].Kind)
		})
	}
}

func TestMovieService_Delete(t *testing.T) {
	f := newMovieFixture(t)
	owner := uuid.New()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, CreateMovieInput{OwnerID: owner, Fields: sampleFields("Interstellar")})
	require.NoError(t, err)

	err = f.svc.Delete(ctx, DeleteMovieInput{ID: created.ID, RequesterID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	require.NoError(t, f.svc.Delete(ctx, DeleteMovieInput{ID: created.ID, RequesterID: owner}))

	events := f.notifier.recorded()
	require.Len(t, events, 2)
	assert.Equal(t, notify.KindMovieDeleted, events[1].Kind)
	assert.Equal(t, created.ID.String(), events[1].Payload)

	_, err = f.svc.Get(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrMovieNotFound)

	err = f.svc.Delete(ctx, DeleteMovieInput{ID: created.ID, RequesterID: owner})
	assert.ErrorIs(t, err, domain.ErrMovieNotFound)
}

func TestMovieService_Rate(t *testing.T) {
	f := newMovieFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, CreateMovieInput{OwnerID: uuid.New(), Fields: sampleFields("Interstellar")})
	require.NoError(t, err)

	alice, bob := uuid.New(), uuid.New()

	rated, err := f.svc.Rate(ctx, RateMovieInput{ID: created.ID, UserID: alice, Value: 5, Comment: "stunning"})
	require.NoError(t, err)
	assert.Len(t, rated.Ratings, 1)
	assert.InDelta(t, 5.0, rated.AverageRating, 1e-9)

	_, err = f.svc.Rate(ctx, RateMovieInput{ID: created.ID, UserID: alice, Value: 1, Comment: "changed my mind"})
	assert.ErrorIs(t, err, domain.ErrAlreadyRated)

	// A repeat rater learns about the duplicate before any validation.
	_, err = f.svc.Rate(ctx, RateMovieInput{ID: created.ID, UserID: alice, Value: 9})
	assert.ErrorIs(t, err, domain.ErrAlreadyRated)

	rated, err = f.svc.Rate(ctx, RateMovieInput{ID: created.ID, UserID: bob, Value: 2, Comment: "too long"})
	require.NoError(t, err)
	assert.Len(t, rated.Ratings, 2)
	assert.InDelta(t, 3.5, rated.AverageRating, 1e-9)

	events := f.notifier.recorded()
	require.Len(t, events, 3)
	assert.Equal(t, notify.KindMovieRated, events[1].Kind)
	assert.Equal(t, notify.KindMovieRated, events[2].Kind)
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.RatingsTotal))
}

func TestMovieService_Rate_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		value   int
		comment string
	}{
		{name: "below range", value: 0, comment: "meh"},
		{name: "above range", value: 6, comment: "wow"},
		{name: "blank comment", value: 3, comment: "  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMovieFixture(t)
			created, err := f.svc.Create(context.Background(), CreateMovieInput{OwnerID: uuid.New(), Fields: sampleFields("Interstellar")})
			require.NoError(t, err)

			_, err = f.svc.Rate(context.Background(), RateMovieInput{ID: created.ID, UserID: uuid.New(), Value: tt.value, Comment: tt.comment})
			assert.ErrorIs(t, err, domain.ErrInvalidValue)
		})
	}
}

func TestMovieService_Rate_ConcurrentRaters(t *testing.T) {
	f := newMovieFixture(t)
	ctx := context.Background()
	created, err := f.svc.Create(ctx, CreateMovieInput{OwnerID: uuid.New(), Fields: sampleFields("Interstellar")})
	require.NoError(t, err)

	const raters = 20
	var wg sync.WaitGroup
	errs := make(chan error, raters)
	sum := 0
	for i := 0; i < raters; i++ {
		value := i%5 + 1
		sum += value
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Rate(ctx, RateMovieInput{ID: created.ID, UserID: uuid.New(), Value: value, Comment: "ok"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	movie, err := f.svc.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Len(t, movie.Ratings, raters)
	assert.InDelta(t, float64(sum)/raters, movie.AverageRating, 1e-9)
}

func TestMovieService_LockBusy(t *testing.T) {
	f := newMovieFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	created, err := f.svc.Create(ctx, CreateMovieInput{OwnerID: owner, Fields: sampleFields("Interstellar")})
	require.NoError(t, err)

	f.svc.lockOpts = lock.Options{TTL: time.Second, Retries: 1, RetryDelay: time.Millisecond}
	token, err := f.locker.Acquire(ctx, lock.Keys.Movie(created.ID), time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	_, err = f.svc.Update(ctx, UpdateMovieInput{ID: created.ID, RequesterID: owner, Fields: sampleFields("Other")})
	assert.ErrorIs(t, err, ErrMovieBusy)

	err = f.svc.Delete(ctx, DeleteMovieInput{ID: created.ID, RequesterID: owner})
	assert.ErrorIs(t, err, ErrMovieBusy)

	_, err = f.svc.Rate(ctx, RateMovieInput{ID: created.ID, UserID: uuid.New(), Value: 4, Comment: "ok"})
	assert.ErrorIs(t, err, ErrMovieBusy)

	assert.Len(t, f.notifier.recorded(), 1)
}

func TestMovieService_EventsFollowCommitOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewMockMovieRepository()
	locker := lock.NewMemoryLocker()
	t.Cleanup(func() { _ = locker.Close() })
	gate := newGatedNotifier()
	svc := NewMovieService(repo, locker, testLockOptions, gate, nil, zerolog.Nop())

	movie := domain.NewMovie(uuid.New(), sampleFields("Interstellar"))
	repo.put(movie)

	first := make(chan error, 1)
	go func() {
		_, err := svc.Rate(ctx, RateMovieInput{ID: movie.ID, UserID: uuid.New(), Value: 5, Comment: "first"})
		first <- err
	}()
	<-gate.entered

	second := make(chan error, 1)
	go func() {
		_, err := svc.Rate(ctx, RateMovieInput{ID: movie.ID, UserID: uuid.New(), Value: 2, Comment: "second"})
		second <- err
	}()

	// The second rater must wait for the first broadcast to leave.
	time.Sleep(30 * time.Millisecond)
	close(gate.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	events := gate.recorded()
	require.Len(t, events, 2)
	var counts []int
	for _, e := range events {
		assert.Equal(t, notify.KindMovieRated, e.Kind)
		counts = append(counts, len(e.Payload.(*domain.Movie).Ratings))
	}
	assert.Equal(t, []int{1, 2}, counts)
}

func TestMovieService_AverageMatchesMean(t *testing.T) {
	tests := []struct {
		name   string
		values []int
		want   float64
	}{
		{name: "no ratings", values: nil, want: 0},
		{name: "single", values: []int{4}, want: 4},
		{name: "mixed", values: []int{1, 2, 3, 4, 5}, want: 3},
		{name: "uneven", values: []int{5, 5, 4}, want: 14.0 / 3.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newMovieFixture(t)
			ctx := context.Background()
			created, err := f.svc.Create(ctx, CreateMovieInput{OwnerID: uuid.New(), Fields: sampleFields("Interstellar")})
			require.NoError(t, err)

			for _, v := range tt.values {
				_, err := f.svc.Rate(ctx, RateMovieInput{ID: created.ID, UserID: uuid.New(), Value: v, Comment: "ok"})
				require.NoError(t, err)
			}

			movie, err := f.svc.Get(ctx, created.ID)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, movie.AverageRating, 1e-9)
		})
	}
}
