// Package tasks orchestrates Spotify syncs with real-time progress reporting.
//
// # Core Operations
//
// The [SyncEngine] interface defines three operations:
//
//  1. [SyncEngine.SyncResource] : One resource type for one user
//     - Resolves a valid access token from the credential vault
//     - Fetches every item through the paged fetcher
//     - Maps raw items to records (items without a URL are skipped)
//     - Reconciles the (user, platform, resource) partition
//
//  2. [SyncEngine.RefreshToken] : Exchange the stored refresh token
//     - Fails fatally when no refresh token is stored
//     - Keeps the stored refresh token when the response omits one
//
//  3. [SyncEngine.Authorize] : Complete the authorization code flow
//     - Exchanges the code and looks up the profile
//     - Finds or creates the local user keyed by the Spotify id
//     - Stores encrypted credentials with the Spotify id attached
//
// [SpotifyEngine.BulkSync] runs many syncs through a rate limited worker pool.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
//
// # Errors
//
// The engine never retries and never swallows errors. Each error is wrapped with context and keeps
// its classification so the job scheduler can decide between retry and failure.
package tasks
