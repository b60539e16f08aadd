package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// FakeSpotify is an in-process stand-in for the Spotify accounts and Web API servers.
//
// Collections are generated from counts: track i has id "t<i>", playlist i "p<i>" and artist i "a<i>".
// Set Fail to make a path answer with a status code.
type FakeSpotify struct {
	Server *httptest.Server

	mu           sync.Mutex
	UserID       string
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
	OmitRefresh  bool
	ValidCode    string
	Tracks       int
	Playlists    int
	Artists      int
	Fail         map[string]int
	hits         map[string]int
}

// NewFakeSpotify starts a server that is closed when t finishes.
func NewFakeSpotify(t *testing.T) *FakeSpotify {
	t.Helper()

	f := &FakeSpotify{
		UserID:       "listener",
		Email:        "listener@example.com",
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresIn:    3600,
		ValidCode:    "good-code",
		Fail:         map[string]int{},
		hits:         map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/token", f.token)
	mux.HandleFunc("GET /v1/me", f.authed(f.profile))
	mux.HandleFunc("GET /v1/me/tracks", f.authed(f.tracks))
	mux.HandleFunc("GET /v1/me/playlists", f.authed(f.playlists))
	mux.HandleFunc("GET /v1/me/following", f.authed(f.following))

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// Credentials returns a client configuration pointing every endpoint at the fake server.
func (f *FakeSpotify) Credentials() map[string]string {
	return map[string]string{
		"client_id":     "client-id",
		"client_secret": "client-secret",
		"redirect_uri":  "http://127.0.0.1:3000/callback",
		"auth_url":      f.Server.URL + "/authorize",
		"token_url":     f.Server.URL + "/api/token",
		"api_base_url":  f.APIBase(),
	}
}

// APIBase is the Web API root.
func (f *FakeSpotify) APIBase() string { return f.Server.URL + "/v1" }

// Hits returns how many requests reached path.
func (f *FakeSpotify) Hits(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[path]
}

// Set mutates the fake under its lock.
func (f *FakeSpotify) Set(fn func(f *FakeSpotify)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *FakeSpotify) record(path string) (status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[path]++
	return f.Fail[path]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (f *FakeSpotify) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if status := f.record(r.URL.Path); status != 0 {
			writeJSON(w, status, map[string]any{"error": map[string]any{"status": status, "message": "injected failure"}})
			return
		}

		f.mu.Lock()
		want := "Bearer " + f.AccessToken
		f.mu.Unlock()

		if r.Header.Get("Authorization") != want {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"status": 401, "message": "Invalid access token"}})
			return
		}
		next(w, r)
	}
}

func (f *FakeSpotify) token(w http.ResponseWriter, r *http.Request) {
	if status := f.record(r.URL.Path); status != 0 {
		writeJSON(w, status, map[string]string{"error": "server_error"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != f.ValidCode {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid authorization code"})
			return
		}
	case "refresh_token":
		if r.PostForm.Get("refresh_token") != f.RefreshToken {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid refresh token"})
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	body := map[string]any{
		"access_token": f.AccessToken,
		"token_type":   "Bearer",
		"scope":        "user-library-read",
	}
	if f.ExpiresIn > 0 {
		body["expires_in"] = f.ExpiresIn
	}
	if !f.OmitRefresh {
		body["refresh_token"] = f.RefreshToken
	}
	writeJSON(w, http.StatusOK, body)
}

func (f *FakeSpotify) profile(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body := map[string]any{"id": f.UserID, "display_name": "Listener"}
	if f.Email != "" {
		body["email"] = f.Email
	}
	writeJSON(w, http.StatusOK, body)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return v
	}
	return fallback
}

func (f *FakeSpotify) tracks(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	total := f.Tracks
	f.mu.Unlock()

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	items := []map[string]any{}
	for i := offset; i < min(offset+limit, total); i++ {
		items = append(items, map[string]any{
			"added_at": "2024-01-02T03:04:05Z",
			"track": map[string]any{
				"id":            fmt.Sprintf("t%d", i),
				"name":          fmt.Sprintf("Track %d", i),
				"href":          fmt.Sprintf("%s/tracks/t%d", f.APIBase(), i),
				"external_urls": map[string]string{"spotify": fmt.Sprintf("https://open.spotify.com/track/t%d", i)},
				"album": map[string]any{
					"name":   "Album",
					"images": []map[string]any{{"url": fmt.Sprintf("https://i.scdn.co/image/t%d", i), "width": 640, "height": 640}},
				},
			},
		})
	}

	var next any
	if offset+limit < total {
		next = fmt.Sprintf("%s/me/tracks?offset=%d&limit=%d", f.APIBase(), offset+limit, limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total, "limit": limit, "offset": offset, "next": next})
}

func (f *FakeSpotify) playlists(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	total := f.Playlists
	f.mu.Unlock()

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	items := []map[string]any{}
	for i := offset; i < min(offset+limit, total); i++ {
		items = append(items, map[string]any{
			"id":     fmt.Sprintf("p%d", i),
			"name":   fmt.Sprintf("Playlist %d", i),
			"href":   fmt.Sprintf("%s/playlists/p%d", f.APIBase(), i),
			"images": []map[string]any{{"url": fmt.Sprintf("https://i.scdn.co/image/p%d", i), "width": nil, "height": nil}},
		})
	}

	var next any
	if offset+limit < total {
		next = fmt.Sprintf("%s/me/playlists?offset=%d&limit=%d", f.APIBase(), offset+limit, limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total, "limit": limit, "offset": offset, "next": next})
}

func (f *FakeSpotify) following(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("type") != "artist" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": map[string]any{"status": 400, "message": "type must be artist"}})
		return
	}

	f.mu.Lock()
	total := f.Artists
	f.mu.Unlock()

	limit := queryInt(r, "limit", 20)
	start := 0
	if after := r.URL.Query().Get("after"); after != "" {
		if n, err := strconv.Atoi(after[1:]); err == nil {
			start = n + 1
		}
	}

	items := []map[string]any{}
	for i := start; i < min(start+limit, total); i++ {
		items = append(items, map[string]any{
			"id":     fmt.Sprintf("a%d", i),
			"name":   fmt.Sprintf("Artist %d", i),
			"href":   fmt.Sprintf("%s/artists/a%d", f.APIBase(), i),
			"images": []map[string]any{},
		})
	}

	var next any
	if end := start + limit; end < total {
		next = fmt.Sprintf("%s/me/following?type=artist&after=a%d&limit=%d", f.APIBase(), end-1, limit)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"artists": map[string]any{"items": items, "total": total, "limit": limit, "next": next},
	})
}
