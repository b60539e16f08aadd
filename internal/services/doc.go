// Package services implements the Spotify Web API client used by the sync engine.
//
// # Authorization
//
// [SpotifyService] implements [OAuthProvider] on top of [oauth2.Config]: consent URLs carry the
// issued CSRF state and show_dialog=true, [SpotifyService.Exchange] trades an authorization code and
// [SpotifyService.Refresh] trades a refresh token. Responses are returned as [models.TokenBundle];
// a missing expires_in is left zero so the vault applies its default lifetime.
//
// # Reads
//
// [APIService] implements [Getter]: a bearer-authenticated GET bounded by a per-request timeout.
// Targets may be relative paths ("/me/tracks?limit=50") or absolute "next" links.
//
// # Error Handling
//
// Every external failure (transport error, timeout, non-2xx status, malformed JSON, token endpoint
// rejection) is a retryable [shared.ExternalAPIError] carrying the upstream status and message.
package services
