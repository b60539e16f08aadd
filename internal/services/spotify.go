// Spotify implementation of [OAuthProvider]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/shared"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

// Scopes requested on authorization. Read-only access to the library, playlists, follows and profile.
var Scopes = []string{
	"user-library-read",
	"playlist-read-private",
	"playlist-read-collaborative",
	"user-follow-read",
	"user-read-email",
	"user-read-private",
}

type followers struct {
	Total int `json:"total"`
}

// ExternalURLs holds the public web links for an object.
type ExternalURLs struct {
	Spotify string `json:"spotify"`
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID           string         `json:"id"`
	DisplayName  string         `json:"display_name"`
	Email        string         `json:"email"`
	Country      string         `json:"country"`
	Product      string         `json:"product"` // premium, free, etc.
	Followers    followers      `json:"followers"`
	Images       []SpotifyImage `json:"images"`
	ExternalURLs ExternalURLs   `json:"external_urls"`
}

// SpotifyImage represents an image resource. Width and height may be null.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height *int   `json:"height"`
	Width  *int   `json:"width"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Href         string         `json:"href"`
	Genres       []string       `json:"genres"`
	Images       []SpotifyImage `json:"images"`
	ExternalURLs ExternalURLs   `json:"external_urls"`
	URI          string         `json:"uri"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Artists     []SpotifyArtist `json:"artists"`
	ReleaseDate string          `json:"release_date"`
	Images      []SpotifyImage  `json:"images"`
	URI         string          `json:"uri"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Href         string          `json:"href"`
	Artists      []SpotifyArtist `json:"artists"`
	Album        SpotifyAlbum    `json:"album"`
	DurationMS   int             `json:"duration_ms"`
	PreviewURL   *string         `json:"preview_url"`
	ExternalURLs ExternalURLs    `json:"external_urls"`
	URI          string          `json:"uri"`
}

// SpotifySavedTrack represents a track saved in the user's library.
type SpotifySavedTrack struct {
	AddedAt string       `json:"added_at"`
	Track   SpotifyTrack `json:"track"`
}

// Owner is the owner of a playlist.
type Owner struct {
	ID           string       `json:"id"`
	DisplayName  string       `json:"display_name"`
	ExternalURLs ExternalURLs `json:"external_urls"`
}

// SpotifySimplePlaylist represents a simplified playlist object (used in lists).
type SpotifySimplePlaylist struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description"`
	Href         string         `json:"href"`
	Owner        Owner          `json:"owner"`
	Public       bool           `json:"public"`
	Images       []SpotifyImage `json:"images"`
	ExternalURLs ExternalURLs   `json:"external_urls"`
	URI          string         `json:"uri"`
}

// SpotifyService implements [OAuthProvider] using [oauth2] for the code and refresh exchanges.
type SpotifyService struct {
	config     *oauth2.Config
	api        *APIService
	httpClient *http.Client
	now        func() time.Time
}

// NewSpotifyService creates a new Spotify service with the given OAuth2 credentials.
//
// Recognized keys: client_id, client_secret (required), redirect_uri, auth_url, token_url, api_base_url.
func NewSpotifyService(credentials map[string]string, client *http.Client, timeout time.Duration) (*SpotifyService, error) {
	clientID := credentials["client_id"]
	if clientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", shared.ErrMissingCredentials)
	}

	clientSecret := credentials["client_secret"]
	if clientSecret == "" {
		return nil, fmt.Errorf("%w: missing client_secret", shared.ErrMissingCredentials)
	}

	redirectURI := credentials["redirect_uri"]
	if redirectURI == "" {
		redirectURI = "http://127.0.0.1:3000/callback"
	}

	authURL := valueOr(credentials["auth_url"], spotifyAuthURL)
	tokenURL := valueOr(credentials["token_url"], spotifyTokenURL)

	if client == nil {
		client = &http.Client{}
	}

	config := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}

	return &SpotifyService{
		config:     config,
		api:        NewAPIService(valueOr(credentials["api_base_url"], spotifyBaseURL), client, timeout),
		httpClient: client,
		now:        time.Now,
	}, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// API returns the authenticated reader sharing this service's HTTP client and timeout.
func (s *SpotifyService) API() *APIService { return s.api }

// AuthURL returns the consent page URL. The dialog is always shown so users can switch accounts.
func (s *SpotifyService) AuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.SetAuthURLParam("show_dialog", "true"))
}

// Exchange trades an authorization code for tokens.
func (s *SpotifyService) Exchange(ctx context.Context, code string) (models.TokenBundle, error) {
	ctx, cancel := context.WithTimeout(s.oauthContext(ctx), s.api.timeout)
	defer cancel()

	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		return models.TokenBundle{}, tokenError("authorization code exchange", err)
	}
	return s.bundle(token), nil
}

// Refresh trades a refresh token for a new access token.
func (s *SpotifyService) Refresh(ctx context.Context, refreshToken string) (models.TokenBundle, error) {
	if refreshToken == "" {
		return models.TokenBundle{}, fmt.Errorf("refresh: %w", shared.ErrCredentialExpiredOrMissing)
	}

	ctx, cancel := context.WithTimeout(s.oauthContext(ctx), s.api.timeout)
	defer cancel()

	source := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return models.TokenBundle{}, tokenError("refresh token exchange", err)
	}

	bundle := s.bundle(token)
	if token.RefreshToken == refreshToken {
		bundle.RefreshToken = ""
	}
	return bundle, nil
}

// Profile retrieves the profile of the user owning accessToken.
func (s *SpotifyService) Profile(ctx context.Context, accessToken string) (*SpotifyUser, error) {
	resp, err := s.api.Get(ctx, accessToken, "/me")
	if err != nil {
		return nil, err
	}

	var user SpotifyUser
	if err := resp.Decode(&user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, shared.NewExternalAPIError(resp.StatusCode, "profile has no id", nil)
	}
	return &user, nil
}

func (s *SpotifyService) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// bundle converts an [oauth2.Token]. A token without expiry gets [models.DefaultExpiresIn].
func (s *SpotifyService) bundle(token *oauth2.Token) models.TokenBundle {
	b := models.TokenBundle{AccessToken: token.AccessToken, RefreshToken: token.RefreshToken}
	if !token.Expiry.IsZero() {
		b.ExpiresIn = token.Expiry.Sub(s.now()).Round(time.Second)
	}
	return b
}

// tokenError wraps an exchange failure as a retryable [shared.ExternalAPIError], keeping the upstream status.
func tokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		msg := re.ErrorCode
		if re.ErrorDescription != "" {
			msg = fmt.Sprintf("%s: %s", re.ErrorCode, re.ErrorDescription)
		}
		if msg == "" {
			msg = op
		}
		return shared.NewExternalAPIError(status, msg, err)
	}
	return shared.NewExternalAPIError(0, op, err)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
