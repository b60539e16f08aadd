// package services defines clients for the external music API
//
// Spotify authorization (authorization code and refresh exchange) and authenticated reads
package services

import (
	"context"

	"github.com/desertthunder/spotsync/internal/models"
)

// OAuthProvider performs the authorization code flow and token refresh against the external authorization server.
type OAuthProvider interface {
	// AuthURL returns the consent page URL carrying state.
	AuthURL(state string) string

	// Exchange trades an authorization code for a token bundle.
	Exchange(ctx context.Context, code string) (models.TokenBundle, error)

	// Refresh trades a refresh token for a new token bundle.
	// The returned bundle may omit the refresh token.
	Refresh(ctx context.Context, refreshToken string) (models.TokenBundle, error)

	// Profile returns the profile of the user owning accessToken.
	Profile(ctx context.Context, accessToken string) (*SpotifyUser, error)
}

// Getter performs authenticated GET requests against the external API.
//
// target may be a path relative to the API base URL or an absolute URL such as a "next" link.
type Getter interface {
	Get(ctx context.Context, accessToken, target string) (*APIResponse, error)
}
