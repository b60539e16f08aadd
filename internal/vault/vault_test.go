package vault

import (
	"bytes"
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/repositories"
	"github.com/desertthunder/spotsync/internal/shared"
)

var testKey = bytes.Repeat([]byte{7}, 32)

func TestSealer(t *testing.T) {
	s, err := NewSealer(testKey)
	require.NoError(t, err)

	t.Run("round trip", func(t *testing.T) {
		sealed, err := s.Encrypt("BQD-access-token")
		require.NoError(t, err)
		assert.NotContains(t, sealed, "BQD-access-token")

		plain, err := s.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, "BQD-access-token", plain)
	})

	t.Run("fresh nonce per call", func(t *testing.T) {
		a, err := s.Encrypt("same")
		require.NoError(t, err)
		b, err := s.Encrypt("same")
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		sealed, err := s.Encrypt("secret")
		require.NoError(t, err)

		raw, err := base64.RawStdEncoding.DecodeString(sealed)
		require.NoError(t, err)
		raw[len(raw)-1] ^= 0xff

		_, err = s.Decrypt(base64.RawStdEncoding.EncodeToString(raw))
		assert.ErrorIs(t, err, shared.ErrCrypto)
		assert.False(t, shared.IsRetryable(err))
	})

	t.Run("foreign key", func(t *testing.T) {
		sealed, err := s.Encrypt("secret")
		require.NoError(t, err)

		other, err := NewSealer(bytes.Repeat([]byte{9}, 32))
		require.NoError(t, err)

		_, err = other.Decrypt(sealed)
		assert.ErrorIs(t, err, shared.ErrCrypto)
	})

	t.Run("garbage input", func(t *testing.T) {
		_, err := s.Decrypt("!!")
		assert.ErrorIs(t, err, shared.ErrCrypto)

		_, err = s.Decrypt("c2hvcnQ")
		assert.ErrorIs(t, err, shared.ErrCrypto)
	})

	t.Run("bad key size", func(t *testing.T) {
		_, err := NewSealer([]byte("short"))
		assert.ErrorIs(t, err, shared.ErrCrypto)
	})
}

type fixture struct {
	vault  *Vault
	store  *repositories.CredentialRepository
	userID string
	now    time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := shared.NewDatabase(shared.MemoryDatabase)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, shared.RunMigrations(db))

	user := models.NewUser("listener", "")
	require.NoError(t, repositories.NewUserRepository(db).Create(ctx, user))

	f := &fixture{
		store:  repositories.NewCredentialRepository(db),
		userID: user.ID(),
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	f.vault, err = New(testKey, f.store, WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)
	return f
}

func TestGetValidAccessToken(t *testing.T) {
	ctx := context.Background()

	t.Run("missing credential", func(t *testing.T) {
		f := setup(t)
		_, err := f.vault.GetValidAccessToken(ctx, f.userID)
		assert.ErrorIs(t, err, shared.ErrCredentialExpiredOrMissing)
	})

	t.Run("valid token", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.vault.UpsertCredentials(ctx, f.userID, models.TokenBundle{
			AccessToken: "access", RefreshToken: "refresh", ExpiresIn: time.Hour,
		}))

		token, err := f.vault.GetValidAccessToken(ctx, f.userID)
		require.NoError(t, err)
		assert.Equal(t, "access", token)
	})

	t.Run("expired token", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.vault.UpsertCredentials(ctx, f.userID, models.TokenBundle{AccessToken: "access", ExpiresIn: time.Minute}))

		f.now = f.now.Add(2 * time.Minute)
		_, err := f.vault.GetValidAccessToken(ctx, f.userID)
		assert.ErrorIs(t, err, shared.ErrCredentialExpiredOrMissing)
	})

	t.Run("expiry equal to now is expired", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.vault.UpsertCredentials(ctx, f.userID, models.TokenBundle{AccessToken: "access", ExpiresIn: time.Minute}))

		f.now = f.now.Add(time.Minute)
		_, err := f.vault.GetValidAccessToken(ctx, f.userID)
		assert.ErrorIs(t, err, shared.ErrCredentialExpiredOrMissing)
	})

	t.Run("absent expiry", func(t *testing.T) {
		f := setup(t)
		sealed, err := f.vault.Encrypt("access")
		require.NoError(t, err)
		require.NoError(t, f.store.Upsert(ctx, &models.Credential{UserID: f.userID, Platform: models.PlatformSpotify, EncryptedAccessToken: sealed}))

		_, err = f.vault.GetValidAccessToken(ctx, f.userID)
		assert.ErrorIs(t, err, shared.ErrCredentialExpiredOrMissing)
	})

	t.Run("default expiry applies", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.vault.UpsertCredentials(ctx, f.userID, models.TokenBundle{AccessToken: "access"}))

		cred, err := f.store.Get(ctx, f.userID, models.PlatformSpotify)
		require.NoError(t, err)
		require.NotNil(t, cred.ExpiresAt)
		assert.True(t, f.now.Add(models.DefaultExpiresIn).Equal(*cred.ExpiresAt))
	})

	t.Run("tampered stored token", func(t *testing.T) {
		f := setup(t)
		expires := f.now.Add(time.Hour)
		require.NoError(t, f.store.Upsert(ctx, &models.Credential{
			UserID: f.userID, Platform: models.PlatformSpotify, EncryptedAccessToken: "bm90IHNlYWxlZCB3aXRoIHRoaXMga2V5IGF0IGFsbA", ExpiresAt: &expires,
		}))

		_, err := f.vault.GetValidAccessToken(ctx, f.userID)
		assert.ErrorIs(t, err, shared.ErrCrypto)
	})
}

func TestUpsertCredentials(t *testing.T) {
	ctx := context.Background()

	t.Run("refresh token preserved when omitted", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.vault.UpsertCredentials(ctx, f.userID, models.TokenBundle{
			AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: time.Hour, PlatformUserID: "listener",
		}))
		require.NoError(t, f.vault.UpsertCredentials(ctx, f.userID, models.TokenBundle{AccessToken: "access-2", ExpiresIn: time.Hour}))

		access, err := f.vault.GetValidAccessToken(ctx, f.userID)
		require.NoError(t, err)
		assert.Equal(t, "access-2", access)

		refresh, err := f.vault.GetRefreshToken(ctx, f.userID)
		require.NoError(t, err)
		assert.Equal(t, "refresh-1", refresh)
	})

	t.Run("refresh token replaced when supplied", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.vault.UpsertCredentials(ctx, f.userID, models.TokenBundle{AccessToken: "a", RefreshToken: "r1"}))
		require.NoError(t, f.vault.UpsertCredentials(ctx, f.userID, models.TokenBundle{AccessToken: "b", RefreshToken: "r2"}))

		refresh, err := f.vault.GetRefreshToken(ctx, f.userID)
		require.NoError(t, err)
		assert.Equal(t, "r2", refresh)
	})

	t.Run("tokens stored encrypted", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.vault.UpsertCredentials(ctx, f.userID, models.TokenBundle{AccessToken: "plain-access", RefreshToken: "plain-refresh"}))

		cred, err := f.store.Get(ctx, f.userID, models.PlatformSpotify)
		require.NoError(t, err)
		assert.NotEqual(t, "plain-access", cred.EncryptedAccessToken)
		require.NotNil(t, cred.EncryptedRefreshToken)
		assert.NotEqual(t, "plain-refresh", *cred.EncryptedRefreshToken)
	})

	t.Run("empty access token rejected", func(t *testing.T) {
		f := setup(t)
		assert.ErrorIs(t, f.vault.UpsertCredentials(ctx, f.userID, models.TokenBundle{}), shared.ErrInvalidInput)
	})

	t.Run("no refresh token", func(t *testing.T) {
		f := setup(t)
		require.NoError(t, f.vault.UpsertCredentials(ctx, f.userID, models.TokenBundle{AccessToken: "a"}))

		_, err := f.vault.GetRefreshToken(ctx, f.userID)
		assert.ErrorIs(t, err, shared.ErrCredentialExpiredOrMissing)

		users, err := f.vault.RefreshableUsers(ctx)
		require.NoError(t, err)
		assert.Empty(t, users)
	})
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	require.NoError(t, f.vault.UpsertCredentials(ctx, f.userID, models.TokenBundle{AccessToken: "a", RefreshToken: "r"}))

	users, err := f.vault.RefreshableUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{f.userID}, users)

	require.NoError(t, f.vault.Disconnect(ctx, f.userID))

	_, err = f.vault.GetValidAccessToken(ctx, f.userID)
	assert.ErrorIs(t, err, shared.ErrCredentialExpiredOrMissing)
	assert.ErrorIs(t, f.vault.Disconnect(ctx, f.userID), shared.ErrNotFound)
}
