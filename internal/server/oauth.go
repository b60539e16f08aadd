package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/oauthstate"
	"github.com/desertthunder/spotsync/internal/shared"
	"github.com/desertthunder/spotsync/internal/tasks"
)

// Authorizer completes the authorization code flow. It is satisfied by *tasks.SpotifyEngine.
type Authorizer interface {
	Authorize(ctx context.Context, code string, progress chan<- tasks.ProgressUpdate) (*models.User, error)
}

// URLProvider builds the consent page URL. It is satisfied by *services.SpotifyService.
type URLProvider interface {
	AuthURL(state string) string
}

// SyncEnqueuer schedules the first sync after authorization. It is satisfied by *jobs.Scheduler.
type SyncEnqueuer interface {
	EnqueueSyncAll(ctx context.Context, userID string) ([]*models.Job, error)
}

// OAuthResult contains the result of an OAuth authorization flow.
type OAuthResult struct {
	User *models.User
	err  error
}

func (o *OAuthResult) Error() error {
	return o.err
}

// OAuthHandler serves the authorization URL and the OAuth2 callback.
// Implements the Handler interface for registration with a Router.
//
// Every callback is validated against the state store, which consumes the state so it cannot be replayed.
// The first completed callback is also published on [OAuthHandler.Result] for interactive logins.
type OAuthHandler struct {
	states     oauthstate.Store
	urls       URLProvider
	authorizer Authorizer
	enqueuer   SyncEnqueuer
	logger     *log.Logger

	resultChan chan OAuthResult
	once       sync.Once
}

// NewOAuthHandler creates a new OAuth handler. enqueuer may be nil, in which case no sync is scheduled.
func NewOAuthHandler(states oauthstate.Store, urls URLProvider, authorizer Authorizer, enqueuer SyncEnqueuer, logger *log.Logger) *OAuthHandler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &OAuthHandler{
		states:     states,
		urls:       urls,
		authorizer: authorizer,
		enqueuer:   enqueuer,
		logger:     logger,
		resultChan: make(chan OAuthResult, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *OAuthHandler) Routes() []string {
	return []string{"/auth/spotify", "/callback"}
}

// ServeHTTP dispatches to the authorization URL or the callback handler.
func (h *OAuthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	switch r.URL.Path {
	case "/auth/spotify":
		h.authorize(w, r)
	case "/callback":
		h.callback(w, r)
	default:
		WriteError(w, http.StatusNotFound, "not found")
	}
}

// AuthorizeURL issues a fresh state and returns the consent page URL carrying it.
func (h *OAuthHandler) AuthorizeURL(ctx context.Context) (url, state string, err error) {
	state, err = h.states.Issue(ctx)
	if err != nil {
		return "", "", fmt.Errorf("issue oauth state: %w", err)
	}
	return h.urls.AuthURL(state), state, nil
}

func (h *OAuthHandler) authorize(w http.ResponseWriter, r *http.Request) {
	url, state, err := h.AuthorizeURL(r.Context())
	if err != nil {
		h.logger.Error("authorization url", "error", err)
		WriteError(w, http.StatusServiceUnavailable, "could not issue state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"auth_url": url, "state": state})
}

// callback validates the request, completes authorization and schedules the first sync.
//
// Failures are reported to the caller and never retried.
func (h *OAuthHandler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		err := fmt.Errorf("authorization denied: %s", errParam)
		h.Send(OAuthResult{err: err})
		WriteError(w, http.StatusBadRequest, errParam)
		return
	}

	code := q.Get("code")
	if code == "" {
		WriteError(w, http.StatusBadRequest, "Missing code parameter.")
		return
	}

	ok, err := h.states.ValidateAndConsume(r.Context(), q.Get("state"))
	if err != nil {
		h.logger.Error("state validation", "error", err)
		WriteError(w, http.StatusServiceUnavailable, "could not validate state")
		return
	}
	if !ok {
		h.logger.Warn("callback rejected", "error", shared.ErrInvalidState)
		WriteError(w, http.StatusBadRequest, "Invalid or expired state parameter.")
		return
	}

	user, err := h.authorizer.Authorize(r.Context(), code, nil)
	if err != nil {
		h.logger.Error("authorization failed", "error", err)
		h.Send(OAuthResult{err: err})
		WriteError(w, authStatus(err), "Spotify authentication failed.")
		return
	}

	if h.enqueuer != nil {
		if _, err := h.enqueuer.EnqueueSyncAll(r.Context(), user.ID()); err != nil {
			h.logger.Error("initial sync not scheduled", "user", user.ID(), "error", err)
		}
	}

	h.Send(OAuthResult{User: user})
	WriteOK(w, "Spotify authentication successful.", map[string]string{"user_id": user.ID()})
}

func authStatus(err error) int {
	switch {
	case errors.Is(err, shared.ErrExternalAPI):
		return http.StatusBadGateway
	case errors.Is(err, shared.ErrMissingArgument), errors.Is(err, shared.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Send publishes the OAuth result (only once).
func (h *OAuthHandler) Send(result OAuthResult) {
	h.once.Do(func() {
		h.resultChan <- result
		close(h.resultChan)
	})
}

// Result returns the result channel for receiving OAuth flow completion.
//
// Channel will receive exactly one result and then be closed.
func (h *OAuthHandler) Result() <-chan OAuthResult {
	return h.resultChan
}
