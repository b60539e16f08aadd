package shared

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() string {
	return base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", EncryptionKeySize)))
}

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		assert.Equal(t, "./spotsync.db", config.Database.Path)
		assert.Equal(t, 3000, config.Server.Port)
		assert.Equal(t, "your_spotify_client_id", config.Credentials.Spotify.ClientID)
		assert.Equal(t, 50, config.Sync.PageSize)
		assert.Equal(t, 10, config.Sync.FetchWorkers)
		assert.Equal(t, 500, config.Sync.BatchSize)
		assert.Equal(t, 60*time.Second, config.Redis.StateTTL)
		assert.Equal(t, 25*time.Minute, config.Jobs.RefreshInterval)
		assert.Equal(t, 30*time.Minute, config.Jobs.SyncInterval)
		assert.Equal(t, 3, config.Jobs.MaxAttempts)
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		require.NoError(t, CreateConfigFile(configPath))
		_, err := os.Stat(configPath)
		require.NoError(t, err)

		config, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Database.Path, config.Database.Path)

		assert.Error(t, CreateConfigFile(configPath), "creating config file again should fail")
	})

	t.Run("LoadConfig", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[server]
host = "0.0.0.0"
port = 8080

[credentials.spotify]
client_id = "test_client_id"
client_secret = "test_secret"

[jobs]
retry_delay = "5s"
`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		config, err := LoadConfig(configPath)
		require.NoError(t, err)

		assert.Equal(t, "/custom/path.db", config.Database.Path)
		assert.Equal(t, "0.0.0.0:8080", config.Server.Addr())
		assert.Equal(t, "test_client_id", config.Credentials.Spotify.ClientID)
		assert.Equal(t, 5*time.Second, config.Jobs.RetryDelay)
		assert.Equal(t, 50, config.Sync.PageSize, "unset keys keep defaults")
	})

	t.Run("Environment overrides file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, CreateConfigFile(configPath))

		t.Setenv("SPOTSYNC_SPOTIFY_CLIENT_ID", "from-env")
		t.Setenv("SPOTSYNC_SERVER_PORT", "9999")
		t.Setenv("SPOTSYNC_JOBS_SYNC_INTERVAL", "1h")

		config, err := LoadConfig(configPath)
		require.NoError(t, err)

		assert.Equal(t, "from-env", config.Credentials.Spotify.ClientID)
		assert.Equal(t, 9999, config.Server.Port)
		assert.Equal(t, time.Hour, config.Jobs.SyncInterval)
	})

	t.Run("ResolveConfig without file", func(t *testing.T) {
		t.Setenv("SPOTSYNC_DATABASE_PATH", ":memory:")

		config, err := ResolveConfig(filepath.Join(t.TempDir(), "missing.toml"))
		require.NoError(t, err)
		assert.Equal(t, ":memory:", config.Database.Path)
	})

	t.Run("SaveConfig round trips", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		config := DefaultConfig()
		config.Security.EncryptionKey = testKey()

		require.NoError(t, SaveConfig(configPath, config))

		loaded, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, config.Security.EncryptionKey, loaded.Security.EncryptionKey)
	})
}

func TestSecurityKey(t *testing.T) {
	tc := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "valid std encoding", key: testKey()},
		{name: "valid url encoding", key: base64.RawURLEncoding.EncodeToString([]byte(strings.Repeat("u", 32)))},
		{name: "empty", key: "", wantErr: true},
		{name: "not base64", key: "%%%not-base64%%%", wantErr: true},
		{name: "wrong length", key: base64.StdEncoding.EncodeToString([]byte("short")), wantErr: true},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			key, err := SecurityConfig{EncryptionKey: tt.key}.Key()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Len(t, key, EncryptionKeySize)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.Credentials.Spotify.ClientID = "client-id"
		c.Credentials.Spotify.ClientSecret = "client-secret"
		c.Security.EncryptionKey = testKey()
		return c
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing client credentials", func(t *testing.T) {
		c := valid()
		c.Credentials.Spotify.ClientSecret = ""
		assert.ErrorIs(t, c.Validate(), ErrMissingCredentials)
	})

	t.Run("example credentials are rejected", func(t *testing.T) {
		c := valid()
		c.Credentials.Spotify.ClientID = DefaultConfig().Credentials.Spotify.ClientID
		assert.ErrorIs(t, c.Validate(), ErrMissingCredentials)

		c = valid()
		c.Credentials.Spotify.ClientSecret = DefaultConfig().Credentials.Spotify.ClientSecret
		assert.ErrorIs(t, c.Validate(), ErrMissingCredentials)
	})

	t.Run("missing key fails fast", func(t *testing.T) {
		c := valid()
		c.Security.EncryptionKey = ""
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
	})

	t.Run("page size out of range", func(t *testing.T) {
		c := valid()
		c.Sync.PageSize = 51
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
	})

	t.Run("batch size bounds", func(t *testing.T) {
		c := valid()
		c.Sync.BatchSize = MaxBatchSize
		assert.NoError(t, c.Validate())

		c.Sync.BatchSize = MaxBatchSize + 1
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)

		c.Sync.BatchSize = 0
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
	})

	t.Run("no workers", func(t *testing.T) {
		c := valid()
		c.Jobs.Workers = 0
		assert.ErrorIs(t, c.Validate(), ErrInvalidConfig)
	})
}
