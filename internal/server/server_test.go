package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/spotsync/internal/jobs"
	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/oauthstate"
	"github.com/desertthunder/spotsync/internal/shared"
	"github.com/desertthunder/spotsync/internal/tasks"
)

type stubURLs struct{}

func (stubURLs) AuthURL(state string) string {
	return "https://accounts.example.com/authorize?state=" + url.QueryEscape(state)
}

type stubAuthorizer struct {
	mu    sync.Mutex
	codes []string
	err   error
}

func (a *stubAuthorizer) Authorize(_ context.Context, code string, _ chan<- tasks.ProgressUpdate) (*models.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.codes = append(a.codes, code)
	if a.err != nil {
		return nil, a.err
	}
	u := models.NewUser("listener", "listener@example.com")
	u.SetID("user-1")
	return u, nil
}

type stubEnqueuer struct {
	mu    sync.Mutex
	users []string
	err   error
}

func (e *stubEnqueuer) EnqueueSyncAll(_ context.Context, userID string) ([]*models.Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.users = append(e.users, userID)
	if e.err != nil {
		return nil, e.err
	}
	out := make([]*models.Job, 0, len(models.ResourceTypes))
	for _, rt := range models.ResourceTypes {
		out = append(out, &models.Job{UserID: userID, Kind: models.JobSync, ResourceType: rt})
	}
	return out, nil
}

type fixture struct {
	states     *oauthstate.MemoryStore
	authorizer *stubAuthorizer
	enqueuer   *stubEnqueuer
	oauth      *OAuthHandler
	app        http.Handler
}

func newFixture() *fixture {
	f := &fixture{
		states:     oauthstate.NewMemoryStore(time.Minute),
		authorizer: &stubAuthorizer{},
		enqueuer:   &stubEnqueuer{},
	}
	logger := shared.NewLogger(io.Discard)
	f.oauth = NewOAuthHandler(f.states, stubURLs{}, f.authorizer, f.enqueuer, logger)
	f.app = NewApp(f.oauth, jobs.Handler(jobs.NewRegistry(jobs.NewMetrics(nil))), logger)
	return f
}

func (f *fixture) get(t *testing.T, target string) (*httptest.ResponseRecorder, Envelope) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var env Envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (f *fixture) issue(t *testing.T) string {
	t.Helper()
	state, err := f.states.Issue(context.Background())
	require.NoError(t, err)
	return state
}

func TestAuthorizeRoute(t *testing.T) {
	t.Run("returns a consent url carrying a fresh state", func(t *testing.T) {
		f := newFixture()
		rec := httptest.NewRecorder()
		f.app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/spotify", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body["state"])
		assert.Contains(t, body["auth_url"], url.QueryEscape(body["state"]))

		ok, err := f.states.ValidateAndConsume(context.Background(), body["state"])
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("AuthorizeURL issues distinct states", func(t *testing.T) {
		f := newFixture()
		_, s1, err := f.oauth.AuthorizeURL(context.Background())
		require.NoError(t, err)
		_, s2, err := f.oauth.AuthorizeURL(context.Background())
		require.NoError(t, err)
		assert.NotEqual(t, s1, s2)
	})

	t.Run("rejects other methods", func(t *testing.T) {
		f := newFixture()
		rec := httptest.NewRecorder()
		f.app.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/spotify", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestCallback(t *testing.T) {
	t.Run("completes authorization and schedules every resource", func(t *testing.T) {
		f := newFixture()
		state := f.issue(t)

		rec, env := f.get(t, "/callback?code=good-code&state="+url.QueryEscape(state))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", env.Status)
		assert.Equal(t, "Spotify authentication successful.", env.Message)
		assert.Equal(t, map[string]any{"user_id": "user-1"}, env.Data)

		assert.Equal(t, []string{"good-code"}, f.authorizer.codes)
		assert.Equal(t, []string{"user-1"}, f.enqueuer.users)

		select {
		case res := <-f.oauth.Result():
			require.NoError(t, res.Error())
			assert.Equal(t, "user-1", res.User.ID())
		default:
			t.Fatal("expected a result")
		}
	})

	t.Run("state cannot be replayed", func(t *testing.T) {
		f := newFixture()
		target := "/callback?code=good-code&state=" + url.QueryEscape(f.issue(t))

		rec, _ := f.get(t, target)
		require.Equal(t, http.StatusOK, rec.Code)

		rec, env := f.get(t, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Invalid or expired state parameter.", env.Message)
		assert.Len(t, f.authorizer.codes, 1)
	})

	t.Run("rejects bad requests before exchanging", func(t *testing.T) {
		tests := []struct {
			name    string
			query   func(f *fixture) string
			message string
		}{
			{
				name:    "missing code",
				query:   func(f *fixture) string { return "state=" + url.QueryEscape(f.issue(t)) },
				message: "Missing code parameter.",
			},
			{
				name:    "missing state",
				query:   func(*fixture) string { return "code=good-code" },
				message: "Invalid or expired state parameter.",
			},
			{
				name:    "unknown state",
				query:   func(*fixture) string { return "code=good-code&state=forged" },
				message: "Invalid or expired state parameter.",
			},
			{
				name:    "denied by user",
				query:   func(*fixture) string { return "error=access_denied" },
				message: "access_denied",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				f := newFixture()
				rec, env := f.get(t, "/callback?"+tt.query(f))

				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Equal(t, "error", env.Status)
				assert.Equal(t, tt.message, env.Message)
				assert.Empty(t, f.authorizer.codes)
				assert.Empty(t, f.enqueuer.users)
			})
		}
	})

	t.Run("upstream exchange failure is a bad gateway", func(t *testing.T) {
		f := newFixture()
		f.authorizer.err = shared.NewExternalAPIError(http.StatusBadRequest, "invalid_grant", nil)

		rec, env := f.get(t, "/callback?code=bad&state="+url.QueryEscape(f.issue(t)))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, "Spotify authentication failed.", env.Message)
		assert.Empty(t, f.enqueuer.users)

		res := <-f.oauth.Result()
		assert.ErrorIs(t, res.Error(), shared.ErrExternalAPI)
	})

	t.Run("storage failure is an internal error", func(t *testing.T) {
		f := newFixture()
		f.authorizer.err = fmt.Errorf("store credentials: %w", errors.New("disk full"))

		rec, _ := f.get(t, "/callback?code=good-code&state="+url.QueryEscape(f.issue(t)))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("enqueue failure does not fail the callback", func(t *testing.T) {
		f := newFixture()
		f.enqueuer.err = errors.New("queue down")

		rec, env := f.get(t, "/callback?code=good-code&state="+url.QueryEscape(f.issue(t)))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", env.Status)
		assert.Equal(t, []string{"user-1"}, f.enqueuer.users)
	})

	t.Run("only the first result is published", func(t *testing.T) {
		f := newFixture()
		f.get(t, "/callback?code=good-code&state="+url.QueryEscape(f.issue(t)))
		f.get(t, "/callback?code=good-code&state="+url.QueryEscape(f.issue(t)))

		var results []OAuthResult
		for res := range f.oauth.Result() {
			results = append(results, res)
		}
		assert.Len(t, results, 1)
		assert.Len(t, f.authorizer.codes, 2)
	})
}

func TestApp(t *testing.T) {
	t.Run("health check", func(t *testing.T) {
		f := newFixture()
		rec, env := f.get(t, "/healthz")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "healthy", env.Message)
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		f := newFixture()
		rec := httptest.NewRecorder()
		f.app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})

	t.Run("metrics are optional", func(t *testing.T) {
		f := newFixture()
		app := NewApp(f.oauth, nil, shared.NewLogger(io.Discard))
		rec := httptest.NewRecorder()
		app.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestRouter(t *testing.T) {
	t.Run("middleware runs in registration order", func(t *testing.T) {
		var order []string
		mark := func(name string) Middleware {
			return func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					order = append(order, name)
					next.ServeHTTP(w, r)
				})
			}
		}

		r := NewBasicRouter()
		r.Use(mark("first"), mark("second"))
		r.HandleFunc(http.MethodGet, "/ping", func(w http.ResponseWriter, _ *http.Request) {
			order = append(order, "handler")
			w.WriteHeader(http.StatusNoContent)
		})

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, []string{"first", "second", "handler"}, order)
	})

	t.Run("method mismatch", func(t *testing.T) {
		r := NewBasicRouter()
		r.HandleFunc(http.MethodGet, "/ping", func(w http.ResponseWriter, _ *http.Request) {})

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/ping", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("recoverer answers 500", func(t *testing.T) {
		r := NewBasicRouter()
		r.Use(Recoverer(shared.NewLogger(io.Discard)))
		r.HandleFunc(http.MethodGet, "/boom", func(http.ResponseWriter, *http.Request) { panic("boom") })

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)

		var env Envelope
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
		assert.Equal(t, "error", env.Status)
	})
}

func TestServe(t *testing.T) {
	t.Run("serves until canceled", func(t *testing.T) {
		f := newFixture()
		ctx, cancel := context.WithCancel(context.Background())
		ready := make(chan string, 1)
		done := make(chan error, 1)

		go func() { done <- Serve(ctx, "127.0.0.1:0", f.app, shared.NewLogger(io.Discard), ready) }()

		addr := <-ready
		resp, err := http.Get("http://" + addr + "/healthz")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(ShutdownTimeout + time.Second):
			t.Fatal("server did not stop")
		}
	})

	t.Run("listen failure", func(t *testing.T) {
		err := Serve(context.Background(), "256.0.0.1:-1", http.NotFoundHandler(), shared.NewLogger(io.Discard), nil)
		assert.Error(t, err)
	})
}
