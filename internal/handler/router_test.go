package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/reelrate/reelrate/internal/auth"
	"github.com/reelrate/reelrate/internal/domain"
	"github.com/reelrate/reelrate/internal/lock"
	"github.com/reelrate/reelrate/internal/metrics"
	"github.com/reelrate/reelrate/internal/notify"
	"github.com/reelrate/reelrate/internal/repository/sqlite"
	"github.com/reelrate/reelrate/internal/service"
)

type testServer struct {
	srv *httptest.Server
	hub *notify.Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	db, err := sqlite.NewDB(ctx, sqlite.DefaultConfig(sqlite.MemoryPath), logger)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(ctx))

	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	m := metrics.New()
	locker := lock.NewMemoryLocker()
	hub := notify.NewHub(16, m, logger)

	authService := service.NewAuthService(sqlite.NewUserRepository(db), tokens, bcrypt.MinCost, logger)
	movieService := service.NewMovieService(
		sqlite.NewMovieRepository(db),
		locker,
		lock.Options{TTL: 5 * time.Second, Retries: 20, RetryDelay: 5 * time.Millisecond},
		hub, m, logger,
	)

	router := NewRouter(RouterConfig{
		AuthService:   authService,
		MovieService:  movieService,
		Authenticator: authService,
		Notifications: notify.NewHandler(hub, "", m, logger),
		Database:      db,
		Metrics:       m,
		MaxBodySize:   1 << 20,
		Logger:        logger,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
		_ = locker.Close()
		_ = db.Close()
	})
	return &testServer{srv: srv, hub: hub}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (ts *testServer) signup(t *testing.T, username string) string {
	t.Helper()
	resp, _ := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "secret1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    username + "@example.com",
		"password": "secret1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out loginResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func (ts *testServer) createMovie(t *testing.T, token, name string) domain.Movie {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/movies", token, map[string]any{
		"name":        name,
		"releaseDate": "2014-11-07",
		"duration":    169,
		"actors":      []string{"Matthew McConaughey"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var movie domain.Movie
	require.NoError(t, json.Unmarshal(body, &movie))
	return movie
}

func decodeAPIError(t *testing.T, body []byte) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(body, &apiErr))
	return apiErr
}

func TestRouter_Register(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var out registerResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "User registered successfully", out.Message)
	assert.Equal(t, "alice", out.User.Username)
	assert.NotContains(t, string(body), "secret1")

	resp, body = ts.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice2", "email": "alice@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Conflict", decodeAPIError(t, body).Code)

	resp, body = ts.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"username": "bo", "email": "bo@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "InvalidValue", decodeAPIError(t, body).Code)
}

func TestRouter_Login(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "alice")

	wrong, wrongBody := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "nope-nope",
	})
	unknown, unknownBody := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "ghost@example.com", "password": "secret1",
	})

	assert.Equal(t, http.StatusUnauthorized, wrong.StatusCode)
	assert.Equal(t, http.StatusUnauthorized, unknown.StatusCode)
	assert.Equal(t, wrongBody, unknownBody)
}

func TestRouter_MalformedBody(t *testing.T) {
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/auth/register", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_MutationsRequireAuth(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/movies"},
		{http.MethodPut, "/movies/0f8fad5b-d9cb-469f-a165-70867728950e"},
		{http.MethodDelete, "/api/movies/0f8fad5b-d9cb-469f-a165-70867728950e"},
		{http.MethodPost, "/movies/0f8fad5b-d9cb-469f-a165-70867728950e/rate"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			resp, body := ts.do(t, tt.method, tt.path, "", map[string]any{})
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "Unauthorized", decodeAPIError(t, body).Code)

			resp, _ = ts.do(t, tt.method, tt.path, "not-a-jwt", map[string]any{})
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestRouter_MovieLifecycle(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.signup(t, "alice")
	bob := ts.signup(t, "bobby")

	movie := ts.createMovie(t, alice, "Interstellar")
	assert.Equal(t, "alice", movie.OwnerUsername)
	path := "/movies/" + movie.ID.String()

	resp, body := ts.do(t, http.MethodGet, "/api"+path, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got domain.Movie
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, movie.ID, got.ID)

	update := map[string]any{
		"name":        "Interstellar (IMAX)",
		"releaseDate": "2014-11-07T00:00:00Z",
		"duration":    169,
		"actors":      []string{"Anne Hathaway"},
	}
	resp, _ = ts.do(t, http.MethodPut, path, bob, update)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPut, path, alice, update)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Interstellar (IMAX)", got.Name)

	resp, body = ts.do(t, http.MethodPost, path+"/rate", bob, map[string]any{"rating": 4, "comment": "great"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.InDelta(t, 4.0, got.AverageRating, 1e-9)

	resp, body = ts.do(t, http.MethodPost, path+"/rate", bob, map[string]any{"rating": 1, "comment": "again"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "AlreadyRated", decodeAPIError(t, body).Code)

	resp, body = ts.do(t, http.MethodPost, path+"/rate", alice, map[string]any{"rating": 2, "comment": "meh"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.InDelta(t, 3.0, got.AverageRating, 1e-9)

	resp, _ = ts.do(t, http.MethodDelete, path, bob, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = ts.do(t, http.MethodDelete, path, alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Movie deleted successfully")

	resp, _ = ts.do(t, http.MethodGet, path, "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_CreateValidation(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "alice")

	tests := []struct {
		name string
		body map[string]any
	}{
		{name: "missing name", body: map[string]any{"releaseDate": "2014-11-07", "duration": 100}},
		{name: "bad date", body: map[string]any{"name": "X", "releaseDate": "07/11/2014", "duration": 100}},
		{name: "zero duration", body: map[string]any{"name": "X", "releaseDate": "2014-11-07", "duration": 0}},
		{name: "duration as text", body: map[string]any{"name": "X", "releaseDate": "2014-11-07", "duration": "long"}},
		{name: "actors as text", body: map[string]any{"name": "X", "releaseDate": "2014-11-07", "duration": 100, "actors": "Anne"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, "/movies", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "InvalidValue", decodeAPIError(t, body).Code)
		})
	}
}

func TestRouter_RateValidation(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.signup(t, "alice")
	bob := ts.signup(t, "bobby")
	movie := ts.createMovie(t, alice, "Interstellar")
	path := "/movies/" + movie.ID.String() + "/rate"

	tests := []struct {
		name   string
		rating any
	}{
		{name: "fractional", rating: 4.5},
		{name: "text", rating: "five"},
		{name: "above range", rating: 6},
		{name: "below range", rating: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := ts.do(t, http.MethodPost, path, bob, map[string]any{"rating": tt.rating, "comment": "hmm"})
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			apiErr := decodeAPIError(t, body)
			assert.Equal(t, "InvalidValue", apiErr.Code)
			assert.Contains(t, apiErr.Message, "rating")
		})
	}

	resp, body := ts.do(t, http.MethodPost, path, bob, map[string]any{"rating": 4.0, "comment": "solid"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func TestRouter_MalformedIDIsNotFound(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "alice")

	resp, _ := ts.do(t, http.MethodGet, "/movies/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/movies/not-a-uuid/rate", token, map[string]any{"rating": 3, "comment": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_ListSearchAndPaging(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "alice")

	for i := 1; i <= 12; i++ {
		ts.createMovie(t, token, fmt.Sprintf("Inter %02d", i))
	}
	ts.createMovie(t, token, "Arrival")

	resp, body := ts.do(t, http.MethodGet, "/movies?search=INTER&page=2&limit=5", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out listMoviesResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, int64(12), out.Total)
	assert.Equal(t, 2, out.Page)
	assert.Equal(t, 5, out.Limit)
	assert.Equal(t, 3, out.TotalPages)
	require.Len(t, out.Data, 5)
	assert.Equal(t, "Inter 07", out.Data[0].Name)
	assert.Equal(t, "Inter 03", out.Data[4].Name)
	assert.Equal(t, "alice", out.Data[0].OwnerUsername)

	resp, body = ts.do(t, http.MethodGet, "/api/movies?page=abc", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, 1, out.Page)
	assert.Equal(t, 10, out.Limit)
	assert.Equal(t, int64(13), out.Total)
}

func TestRouter_WebsocketReceivesEvents(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "alice")

	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return ts.hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	movie := ts.createMovie(t, token, "Interstellar")
	r, _ := ts.do(t, http.MethodDelete, "/movies/"+movie.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, r.StatusCode)

	readFrame := func() notify.Frame {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		var f notify.Frame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	}

	created := readFrame()
	assert.Equal(t, "movieCreated", created.Event)

	deleted := readFrame()
	assert.Equal(t, "movieDeleted", deleted.Event)
	var id string
	require.NoError(t, json.Unmarshal(deleted.Data, &id))
	assert.Equal(t, movie.ID.String(), id)
}

type failingDB struct{}

func (failingDB) Ping(ctx context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		db         DatabaseChecker
		wantStatus int
		wantBody   string
	}{
		{name: "no database", db: nil, wantStatus: http.StatusOK, wantBody: "healthy"},
		{name: "database down", db: failingDB{}, wantStatus: http.StatusServiceUnavailable, wantBody: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &healthHandler{db: tt.db, logger: zerolog.Nop()}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestNewAPIError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{domain.ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
		{domain.ErrForbidden, http.StatusForbidden, "Forbidden"},
		{domain.ErrMovieNotFound, http.StatusNotFound, "NotFound"},
		{domain.ErrUserAlreadyExists, http.StatusBadRequest, "Conflict"},
		{domain.ErrAlreadyRated, http.StatusBadRequest, "AlreadyRated"},
		{domain.NewValidationError("name", "is required"), http.StatusBadRequest, "InvalidValue"},
		{service.ErrMovieBusy, http.StatusConflict, "Busy"},
		{service.ErrServerMisconfigured, http.StatusInternalServerError, "ServerMisconfigured"},
		{fmt.Errorf("%w: pq: relation missing", service.ErrInternalError), http.StatusInternalServerError, "Unexpected"},
		{errors.New("boom"), http.StatusInternalServerError, "Unexpected"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			apiErr := NewAPIError(tt.err)
			assert.Equal(t, tt.wantStatus, apiErr.HTTPStatusCode)
			assert.Equal(t, tt.wantCode, apiErr.Code)
			assert.NotContains(t, apiErr.Message, "pq:")
		})
	}

	assert.Equal(t, "name is required", NewAPIError(domain.NewValidationError("name", "is required")).Message)
}

func TestParseReleaseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "", want: time.Time{}},
		{in: "2014-11-07", want: time.Date(2014, 11, 7, 0, 0, 0, 0, time.UTC)},
		{in: "2014-11-07T10:30:00+02:00", want: time.Date(2014, 11, 7, 8, 30, 0, 0, time.UTC)},
		{in: "07/11/2014", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseReleaseDate(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidValue)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}
