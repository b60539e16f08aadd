package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(shared.MemoryDatabase)
	require.NoError(t, err, "failed to create test database")
	t.Cleanup(func() { db.Close() })

	require.NoError(t, shared.RunMigrations(db), "failed to run migrations")
	return db
}

func createUser(t *testing.T, db *sql.DB, username string) *models.User {
	t.Helper()
	user := models.NewUser(username, username+"@example.com")
	require.NoError(t, NewUserRepository(db).Create(context.Background(), user))
	return user
}

func strPtr(s string) *string { return &s }

func TestUserRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create and Get", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewUserRepository(db)

		user := models.NewUser("listener", "listener@example.com")
		require.NoError(t, repo.Create(ctx, user))
		assert.NotEmpty(t, user.ID())

		got, err := repo.Get(ctx, user.ID())
		require.NoError(t, err)
		assert.Equal(t, "listener", got.Username())
		assert.Equal(t, "listener@example.com", got.Email())
	})

	t.Run("Validation", func(t *testing.T) {
		db := setupTestDB(t)
		assert.Error(t, NewUserRepository(db).Create(ctx, models.NewUser("", "x@example.com")))
	})

	t.Run("Duplicate username", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewUserRepository(db)

		require.NoError(t, repo.Create(ctx, models.NewUser("dup", "")))
		assert.Error(t, repo.Create(ctx, models.NewUser("dup", "")))
	})

	t.Run("Get NotFound", func(t *testing.T) {
		db := setupTestDB(t)
		_, err := NewUserRepository(db).Get(ctx, "missing")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("FindOrCreate", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewUserRepository(db)

		first, err := repo.FindOrCreate(ctx, "spotify-user", "spotify-user@spotify.local")
		require.NoError(t, err)
		second, err := repo.FindOrCreate(ctx, "spotify-user", "other@example.com")
		require.NoError(t, err)

		assert.Equal(t, first.ID(), second.ID())
		assert.Equal(t, "spotify-user@spotify.local", second.Email())

		users, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, users, 1)
	})
}

func TestCredentialRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Upsert creates then updates", func(t *testing.T) {
		db := setupTestDB(t)
		user := createUser(t, db, "alice")
		repo := NewCredentialRepository(db)

		expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
		require.NoError(t, repo.Upsert(ctx, &models.Credential{
			UserID:                user.ID(),
			Platform:              models.PlatformSpotify,
			EncryptedAccessToken:  "access-1",
			EncryptedRefreshToken: strPtr("refresh-1"),
			PlatformUserID:        strPtr("alice"),
			ExpiresAt:             &expires,
		}))

		require.NoError(t, repo.Upsert(ctx, &models.Credential{
			UserID:               user.ID(),
			Platform:             models.PlatformSpotify,
			EncryptedAccessToken: "access-2",
			ExpiresAt:            &expires,
		}))

		got, err := repo.Get(ctx, user.ID(), models.PlatformSpotify)
		require.NoError(t, err)
		assert.Equal(t, "access-2", got.EncryptedAccessToken)
		require.NotNil(t, got.EncryptedRefreshToken, "refresh token must survive an update without one")
		assert.Equal(t, "refresh-1", *got.EncryptedRefreshToken)
		require.NotNil(t, got.PlatformUserID)
		assert.Equal(t, "alice", *got.PlatformUserID)
		require.NotNil(t, got.ExpiresAt)
		assert.True(t, expires.Equal(*got.ExpiresAt))
	})

	t.Run("Get NotFound", func(t *testing.T) {
		db := setupTestDB(t)
		_, err := NewCredentialRepository(db).Get(ctx, "nobody", models.PlatformSpotify)
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		db := setupTestDB(t)
		user := createUser(t, db, "bob")
		repo := NewCredentialRepository(db)

		require.NoError(t, repo.Upsert(ctx, &models.Credential{UserID: user.ID(), Platform: models.PlatformSpotify, EncryptedAccessToken: "a"}))
		require.NoError(t, repo.Delete(ctx, user.ID(), models.PlatformSpotify))
		assert.ErrorIs(t, repo.Delete(ctx, user.ID(), models.PlatformSpotify), shared.ErrNotFound)
	})

	t.Run("ListRefreshable skips missing and empty refresh tokens", func(t *testing.T) {
		db := setupTestDB(t)
		repo := NewCredentialRepository(db)

		withToken := createUser(t, db, "with")
		emptyToken := createUser(t, db, "empty")
		noToken := createUser(t, db, "none")

		require.NoError(t, repo.Upsert(ctx, &models.Credential{UserID: withToken.ID(), Platform: models.PlatformSpotify, EncryptedAccessToken: "a", EncryptedRefreshToken: strPtr("r")}))
		require.NoError(t, repo.Upsert(ctx, &models.Credential{UserID: emptyToken.ID(), Platform: models.PlatformSpotify, EncryptedAccessToken: "a", EncryptedRefreshToken: strPtr("")}))
		require.NoError(t, repo.Upsert(ctx, &models.Credential{UserID: noToken.ID(), Platform: models.PlatformSpotify, EncryptedAccessToken: "a"}))

		creds, err := repo.ListRefreshable(ctx, models.PlatformSpotify)
		require.NoError(t, err)
		require.Len(t, creds, 1)
		assert.Equal(t, withToken.ID(), creds[0].UserID)
	})
}

func makeRecords(userID string, rt models.ResourceType, n int) []*models.SyncedRecord {
	records := make([]*models.SyncedRecord, 0, n)
	for i := range n {
		records = append(records, &models.SyncedRecord{
			UserID:       userID,
			Platform:     models.PlatformSpotify,
			ResourceType: rt,
			ExternalID:   fmt.Sprintf("%s_%d", rt, i),
			ExternalURL:  fmt.Sprintf("https://open.spotify.com/%s/%d", rt, i),
			Title:        strPtr(fmt.Sprintf("item %d", i)),
			Media:        models.Media{Images: []models.Image{{URL: "https://i.scdn.co/image/x", Width: 64, Height: 64}}},
		})
	}
	return records
}

func TestRecordRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("InsertIgnore skips duplicates", func(t *testing.T) {
		db := setupTestDB(t)
		user := createUser(t, db, "carol")
		repo := NewRecordRepository(db)

		n, err := repo.InsertIgnore(ctx, makeRecords(user.ID(), models.ResourceTracks, 3))
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		n, err = repo.InsertIgnore(ctx, makeRecords(user.ID(), models.ResourceTracks, 4))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		p := models.Partition{UserID: user.ID(), Platform: models.PlatformSpotify, ResourceType: models.ResourceTracks}
		count, err := repo.Count(ctx, p)
		require.NoError(t, err)
		assert.Equal(t, 4, count)
	})

	t.Run("InsertIgnore enforces the bound parameter limit", func(t *testing.T) {
		db := setupTestDB(t)
		user := createUser(t, db, "dave")
		repo := NewRecordRepository(db)

		assert.Equal(t, shared.MaxBatchSize, MaxInsertBatch)

		n, err := repo.InsertIgnore(ctx, makeRecords(user.ID(), models.ResourceTracks, MaxInsertBatch))
		require.NoError(t, err)
		assert.Equal(t, int64(MaxInsertBatch), n)

		_, err = repo.InsertIgnore(ctx, makeRecords(user.ID(), models.ResourcePlaylists, MaxInsertBatch+1))
		assert.ErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("List round trips optional fields and media", func(t *testing.T) {
		db := setupTestDB(t)
		user := createUser(t, db, "dave")
		repo := NewRecordRepository(db)

		when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		rec := makeRecords(user.ID(), models.ResourceTracks, 1)[0]
		rec.OccurredAt = &when

		_, err := repo.InsertIgnore(ctx, []*models.SyncedRecord{rec})
		require.NoError(t, err)

		bare := &models.SyncedRecord{
			UserID: user.ID(), Platform: models.PlatformSpotify, ResourceType: models.ResourceFollows,
			ExternalID: "artist_1", ExternalURL: "https://api.spotify.com/v1/artists/1",
		}
		_, err = repo.InsertIgnore(ctx, []*models.SyncedRecord{bare})
		require.NoError(t, err)

		got, err := repo.List(ctx, RecordFilter{UserID: user.ID()})
		require.NoError(t, err)
		require.Len(t, got, 2)

		follow, track := got[0], got[1]
		assert.Equal(t, models.ResourceFollows, follow.ResourceType)
		assert.Nil(t, follow.Title)
		assert.Nil(t, follow.OccurredAt)
		assert.Nil(t, follow.Media.Images)

		require.NotNil(t, track.OccurredAt)
		assert.True(t, when.Equal(*track.OccurredAt))
		require.NotNil(t, track.Title)
		assert.Equal(t, "item 0", *track.Title)
		assert.Equal(t, rec.Media, track.Media)
	})

	t.Run("Deletes are partition scoped", func(t *testing.T) {
		db := setupTestDB(t)
		user := createUser(t, db, "erin")
		repo := NewRecordRepository(db)

		_, err := repo.InsertIgnore(ctx, makeRecords(user.ID(), models.ResourceTracks, 3))
		require.NoError(t, err)
		_, err = repo.InsertIgnore(ctx, makeRecords(user.ID(), models.ResourcePlaylists, 2))
		require.NoError(t, err)

		tracks := models.Partition{UserID: user.ID(), Platform: models.PlatformSpotify, ResourceType: models.ResourceTracks}
		playlists := models.Partition{UserID: user.ID(), Platform: models.PlatformSpotify, ResourceType: models.ResourcePlaylists}

		n, err := repo.DeleteByURLs(ctx, tracks, []string{
			"https://open.spotify.com/tracks/0",
			"https://open.spotify.com/playlists/0",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = repo.DeletePartition(ctx, tracks)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		existing, err := repo.ExistingURLs(ctx, playlists)
		require.NoError(t, err)
		assert.Len(t, existing, 2)
	})

	t.Run("DeleteByURLs handles more urls than one statement allows", func(t *testing.T) {
		db := setupTestDB(t)
		user := createUser(t, db, "frank")
		repo := NewRecordRepository(db)

		records := makeRecords(user.ID(), models.ResourceTracks, maxDeleteArgs+10)
		_, err := repo.InsertIgnore(ctx, records)
		require.NoError(t, err)

		urls := make([]string, 0, len(records))
		for _, r := range records {
			urls = append(urls, r.ExternalURL)
		}

		p := models.Partition{UserID: user.ID(), Platform: models.PlatformSpotify, ResourceType: models.ResourceTracks}
		n, err := repo.DeleteByURLs(ctx, p, urls)
		require.NoError(t, err)
		assert.Equal(t, int64(len(records)), n)
	})

	t.Run("DeleteForUser purges every partition", func(t *testing.T) {
		db := setupTestDB(t)
		user := createUser(t, db, "gina")
		repo := NewRecordRepository(db)

		_, err := repo.InsertIgnore(ctx, makeRecords(user.ID(), models.ResourceTracks, 2))
		require.NoError(t, err)
		_, err = repo.InsertIgnore(ctx, makeRecords(user.ID(), models.ResourceFollows, 2))
		require.NoError(t, err)

		n, err := repo.DeleteForUser(ctx, user.ID(), models.PlatformSpotify)
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	user := createUser(t, db, "tx-user")
	p := models.Partition{UserID: user.ID(), Platform: models.PlatformSpotify, ResourceType: models.ResourceTracks}

	err := WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := NewRecordRepository(tx).InsertIgnore(ctx, makeRecords(user.ID(), models.ResourceTracks, 2)); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.EqualError(t, err, "boom")

	count, err := NewRecordRepository(db).Count(ctx, p)
	require.NoError(t, err)
	assert.Zero(t, count, "rolled back inserts must not persist")
}
