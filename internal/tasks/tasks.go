package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotsync/internal/fetch"
	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/reconcile"
	"github.com/desertthunder/spotsync/internal/services"
	"github.com/desertthunder/spotsync/internal/shared"
)

// emailDomain is used for users whose profile does not expose an email address.
const emailDomain = "spotify.local"

// SyncResult summarizes one resource sync.
type SyncResult struct {
	Partition models.Partition
	Fetched   int // Raw items returned by the API
	Mapped    int // Records handed to reconciliation
	Skipped   int // Items without an external URL
	reconcile.Result
	Duration time.Duration
}

// SyncEngine defines the orchestrated operations run by the CLI, the HTTP callback and background jobs.
type SyncEngine interface {
	// SyncResource resolves a token, fetches every item of rt, maps it and reconciles the partition.
	SyncResource(ctx context.Context, userID string, rt models.ResourceType, progress chan<- ProgressUpdate) (*SyncResult, error)

	// RefreshToken exchanges the stored refresh token and stores the new bundle.
	RefreshToken(ctx context.Context, userID string, progress chan<- ProgressUpdate) error

	// Authorize completes the authorization code flow and returns the local user.
	Authorize(ctx context.Context, code string, progress chan<- ProgressUpdate) (*models.User, error)
}

// CredentialVault is the subset of *vault.Vault used by the engine.
type CredentialVault interface {
	GetValidAccessToken(ctx context.Context, userID string) (string, error)
	GetRefreshToken(ctx context.Context, userID string) (string, error)
	UpsertCredentials(ctx context.Context, userID string, bundle models.TokenBundle) error
}

// PageFetcher retrieves complete collections. It is satisfied by *fetch.Fetcher.
type PageFetcher interface {
	FetchAll(ctx context.Context, ep fetch.Endpoint, token string) ([]json.RawMessage, error)
}

// Reconciler converges a partition. It is satisfied by *reconcile.Engine.
type Reconciler interface {
	Reconcile(ctx context.Context, p models.Partition, records []*models.SyncedRecord) (reconcile.Result, error)
}

// UserStore resolves local users. It is satisfied by *repositories.UserRepository.
type UserStore interface {
	Get(ctx context.Context, id string) (*models.User, error)
	FindOrCreate(ctx context.Context, username, email string) (*models.User, error)
}

// SpotifyEngine implements SyncEngine for Spotify.
// Contains dependencies on the credential vault, the OAuth provider, the fetcher and the reconciler.
type SpotifyEngine struct {
	vault      CredentialVault
	provider   services.OAuthProvider
	fetcher    PageFetcher
	reconciler Reconciler
	users      UserStore
	logger     *log.Logger
}

// NewSpotifyEngine creates a new SpotifyEngine with the provided collaborators.
func NewSpotifyEngine(
	vault CredentialVault,
	provider services.OAuthProvider,
	fetcher PageFetcher,
	reconciler Reconciler,
	users UserStore,
	logger *log.Logger,
) *SpotifyEngine {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &SpotifyEngine{
		vault:      vault,
		provider:   provider,
		fetcher:    fetcher,
		reconciler: reconciler,
		users:      users,
		logger:     logger,
	}
}

// SyncResource runs token resolution, fetch, mapping and reconciliation for one partition.
//
// Errors are returned with context added and their classification intact.
func (e *SpotifyEngine) SyncResource(ctx context.Context, userID string, rt models.ResourceType, progress chan<- ProgressUpdate) (*SyncResult, error) {
	if e.vault == nil || e.fetcher == nil || e.reconciler == nil || e.users == nil {
		return nil, fmt.Errorf("%w: sync engine not initialized", shared.ErrServiceUnavailable)
	}

	ep, err := fetch.EndpointFor(rt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	start := time.Now()
	logger := shared.WithLogger(e.logger, "user", userID, "resource", rt)

	sendProgress(progress, resolveTokenUpdate(rt))
	token, err := e.vault.GetValidAccessToken(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", rt, err)
	}

	user, err := e.users.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", rt, err)
	}

	sendProgress(progress, fetchUpdate(rt))
	items, err := e.fetcher.FetchAll(ctx, ep, token)
	if err != nil {
		return nil, fmt.Errorf("sync %s: fetch: %w", rt, err)
	}

	sendProgress(progress, mapUpdate(rt, len(items)))
	owner := Owner{UserID: user.ID(), Username: user.Username()}
	records, skipped, err := MapAll(rt, items, owner)
	if err != nil {
		return nil, fmt.Errorf("sync %s: map: %w", rt, err)
	}
	if skipped > 0 {
		logger.Warn("skipped items without an external url", "skipped", skipped)
	}

	partition := models.Partition{UserID: userID, Platform: models.PlatformSpotify, ResourceType: rt}

	sendProgress(progress, reconcileUpdate(rt, len(records)))
	changes, err := e.reconciler.Reconcile(ctx, partition, records)
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", rt, err)
	}

	result := &SyncResult{
		Partition: partition,
		Fetched:   len(items),
		Mapped:    len(records),
		Skipped:   skipped,
		Result:    changes,
		Duration:  time.Since(start),
	}

	logger.Info("sync complete", "fetched", result.Fetched, "added", result.Added, "removed", result.Removed, "duration", result.Duration)
	sendProgress(progress, doneUpdate(result))
	return result, nil
}

// SyncAll syncs types for userID in order, or every resource type when none are given.
//
// A failure for one type does not stop the others. Each type gets an item carrying its result or error,
// and the returned error joins the failures.
func (e *SpotifyEngine) SyncAll(ctx context.Context, userID string, progress chan<- ProgressUpdate, types ...models.ResourceType) ([]BulkSyncItem, error) {
	if len(types) == 0 {
		types = models.ResourceTypes
	}

	items := make([]BulkSyncItem, 0, len(types))
	var errs []error
	for _, rt := range types {
		res, err := e.SyncResource(ctx, userID, rt, progress)
		if err != nil {
			errs = append(errs, err)
		}
		items = append(items, BulkSyncItem{Target: SyncTarget{UserID: userID, ResourceType: rt}, Result: res, Error: err})
	}
	return items, errors.Join(errs...)
}

// RefreshToken exchanges the stored refresh token for a new access token.
//
// A missing refresh token is fatal ([shared.ErrCredentialExpiredOrMissing]); a failed exchange is a
// retryable [shared.ExternalAPIError]. The stored refresh token is kept when the response omits one.
func (e *SpotifyEngine) RefreshToken(ctx context.Context, userID string, progress chan<- ProgressUpdate) error {
	if e.vault == nil || e.provider == nil {
		return fmt.Errorf("%w: sync engine not initialized", shared.ErrServiceUnavailable)
	}

	sendProgress(progress, refreshUpdate(userID))

	refresh, err := e.vault.GetRefreshToken(ctx, userID)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	bundle, err := e.provider.Refresh(ctx, refresh)
	if err != nil {
		return fmt.Errorf("refresh user %s: %w", userID, err)
	}

	if err := e.vault.UpsertCredentials(ctx, userID, bundle); err != nil {
		return fmt.Errorf("refresh user %s: %w", userID, err)
	}

	e.logger.Info("access token refreshed", "user", userID, "rotated", bundle.RefreshToken != "")
	return nil
}

// Authorize exchanges code, looks up the external profile, finds or creates the local user keyed by the
// external id and stores the credentials with the external user id attached.
func (e *SpotifyEngine) Authorize(ctx context.Context, code string, progress chan<- ProgressUpdate) (*models.User, error) {
	if e.vault == nil || e.provider == nil || e.users == nil {
		return nil, fmt.Errorf("%w: sync engine not initialized", shared.ErrServiceUnavailable)
	}
	if code == "" {
		return nil, fmt.Errorf("%w: authorization code", shared.ErrMissingArgument)
	}

	sendProgress(progress, authorizeUpdate(1, 3, "Exchanging authorization code..."))
	bundle, err := e.provider.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}

	sendProgress(progress, authorizeUpdate(2, 3, "Fetching Spotify profile..."))
	profile, err := e.provider.Profile(ctx, bundle.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	if profile.ID == "" {
		return nil, shared.NewExternalAPIError(0, "profile has no id", nil)
	}

	email := profile.Email
	if email == "" {
		email = fmt.Sprintf("%s@%s", profile.ID, emailDomain)
	}

	user, err := e.users.FindOrCreate(ctx, profile.ID, email)
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}

	sendProgress(progress, authorizeUpdate(3, 3, fmt.Sprintf("Storing credentials for %s...", profile.ID)))
	bundle.PlatformUserID = profile.ID
	if err := e.vault.UpsertCredentials(ctx, user.ID(), bundle); err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}

	e.logger.Info("user authorized", "user", user.ID(), "spotify_id", profile.ID, "refresh_token", bundle.RefreshToken != "")
	return user, nil
}
