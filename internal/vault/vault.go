// package vault owns token encryption and the credential read and write paths.
//
// The vault never refreshes tokens itself. Reads ([Vault.GetValidAccessToken]) and
// writes ([Vault.UpsertCredentials]) are separate so each can be exercised alone.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/shared"
)

// CredentialStore persists encrypted credentials. It is satisfied by *repositories.CredentialRepository.
type CredentialStore interface {
	Get(ctx context.Context, userID, platform string) (*models.Credential, error)
	Upsert(ctx context.Context, cred *models.Credential) error
	Delete(ctx context.Context, userID, platform string) error
	ListRefreshable(ctx context.Context, platform string) ([]*models.Credential, error)
}

// Vault decrypts and stores tokens for a single platform.
type Vault struct {
	sealer   *Sealer
	store    CredentialStore
	platform string
	logger   *log.Logger
	now      func() time.Time
}

// Option configures a [Vault].
type Option func(*Vault)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Vault) { v.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// New creates a [Vault] for Spotify credentials sealed with key.
func New(key []byte, store CredentialStore, opts ...Option) (*Vault, error) {
	sealer, err := NewSealer(key)
	if err != nil {
		return nil, err
	}

	v := &Vault{
		sealer:   sealer,
		store:    store,
		platform: models.PlatformSpotify,
		logger:   shared.NewLogger(nil),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Encrypt seals plaintext with the process-wide key.
func (v *Vault) Encrypt(plaintext string) (string, error) { return v.sealer.Encrypt(plaintext) }

// Decrypt opens ciphertext sealed with the process-wide key.
func (v *Vault) Decrypt(ciphertext string) (string, error) { return v.sealer.Decrypt(ciphertext) }

// Platform is the platform this vault stores credentials for.
func (v *Vault) Platform() string { return v.platform }

// GetValidAccessToken returns the decrypted access token for userID when a credential
// exists and expires strictly after now. A missing credential, a missing expiry or an
// elapsed expiry fail with [shared.ErrCredentialExpiredOrMissing].
func (v *Vault) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	cred, err := v.credential(ctx, userID)
	if err != nil {
		return "", err
	}

	if cred.ExpiresAt == nil || !cred.ExpiresAt.After(v.now()) {
		return "", fmt.Errorf("access token for user %s: %w", userID, shared.ErrCredentialExpiredOrMissing)
	}

	token, err := v.sealer.Decrypt(cred.EncryptedAccessToken)
	if err != nil {
		return "", fmt.Errorf("access token for user %s: %w", userID, err)
	}
	return token, nil
}

// GetRefreshToken returns the decrypted refresh token for userID.
// A credential without a refresh token fails with [shared.ErrCredentialExpiredOrMissing].
func (v *Vault) GetRefreshToken(ctx context.Context, userID string) (string, error) {
	cred, err := v.credential(ctx, userID)
	if err != nil {
		return "", err
	}

	if !cred.HasRefreshToken() {
		return "", fmt.Errorf("refresh token for user %s: %w", userID, shared.ErrCredentialExpiredOrMissing)
	}

	token, err := v.sealer.Decrypt(*cred.EncryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh token for user %s: %w", userID, err)
	}
	return token, nil
}

// UpsertCredentials encrypts bundle and stores it for userID.
//
// On first authorization the credential is created. Later calls replace the access token and expiry.
// The refresh token is replaced only when bundle carries one, so the stored token survives
// refresh responses that omit it.
func (v *Vault) UpsertCredentials(ctx context.Context, userID string, bundle models.TokenBundle) error {
	if bundle.AccessToken == "" {
		return fmt.Errorf("%w: access token is empty", shared.ErrInvalidInput)
	}

	access, err := v.sealer.Encrypt(bundle.AccessToken)
	if err != nil {
		return err
	}

	expiresAt := bundle.ExpiresAt(v.now()).UTC()
	cred := &models.Credential{
		UserID:               userID,
		Platform:             v.platform,
		EncryptedAccessToken: access,
		ExpiresAt:            &expiresAt,
	}

	if bundle.RefreshToken != "" {
		refresh, err := v.sealer.Encrypt(bundle.RefreshToken)
		if err != nil {
			return err
		}
		cred.EncryptedRefreshToken = &refresh
	}

	if bundle.PlatformUserID != "" {
		id := bundle.PlatformUserID
		cred.PlatformUserID = &id
	}

	if err := v.store.Upsert(ctx, cred); err != nil {
		return fmt.Errorf("store credentials for user %s: %w", userID, err)
	}

	v.logger.Debug("credentials stored", "user", userID, "expires_at", expiresAt, "refresh_token", cred.EncryptedRefreshToken != nil)
	return nil
}

// Disconnect deletes the credential for userID. Synced records are not touched.
func (v *Vault) Disconnect(ctx context.Context, userID string) error {
	if err := v.store.Delete(ctx, userID, v.platform); err != nil {
		return fmt.Errorf("disconnect user %s: %w", userID, err)
	}
	v.logger.Info("credentials removed", "user", userID)
	return nil
}

// RefreshableUsers returns the ids of users holding a non-empty refresh token.
func (v *Vault) RefreshableUsers(ctx context.Context) ([]string, error) {
	creds, err := v.store.ListRefreshable(ctx, v.platform)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(creds))
	for _, c := range creds {
		ids = append(ids, c.UserID)
	}
	return ids, nil
}

func (v *Vault) credential(ctx context.Context, userID string) (*models.Credential, error) {
	cred, err := v.store.Get(ctx, userID, v.platform)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, fmt.Errorf("user %s: %w", userID, shared.ErrCredentialExpiredOrMissing)
	}
	if err != nil {
		return nil, fmt.Errorf("load credential for user %s: %w", userID, err)
	}
	return cred, nil
}
