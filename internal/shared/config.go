package shared

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

//go:embed config.example.toml
var exampleConf []byte

// EncryptionKeySize is the required length, in bytes, of the decoded credential encryption key.
const EncryptionKeySize = 32

// Config represents the application configuration loaded from a TOML file.
//
// Every field can be overridden by a SPOTSYNC_* environment variable.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Security    SecurityConfig    `toml:"security"`
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	Sync        SyncConfig        `toml:"sync"`
	Jobs        JobsConfig        `toml:"jobs"`
	Server      ServerConfig      `toml:"server"`
	Log         LogConfig         `toml:"log"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
}

// SpotifyConfig contains Spotify API client credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id" env:"SPOTSYNC_SPOTIFY_CLIENT_ID"`
	ClientSecret string `toml:"client_secret" env:"SPOTSYNC_SPOTIFY_CLIENT_SECRET"`
	RedirectURI  string `toml:"redirect_uri" env:"SPOTSYNC_SPOTIFY_REDIRECT_URI"`
	AuthURL      string `toml:"auth_url" env:"SPOTSYNC_SPOTIFY_AUTH_URL"`
	TokenURL     string `toml:"token_url" env:"SPOTSYNC_SPOTIFY_TOKEN_URL"`
	APIBaseURL   string `toml:"api_base_url" env:"SPOTSYNC_SPOTIFY_API_BASE_URL"`
}

// Map returns the credentials in the form accepted by services.NewSpotifyService.
func (c SpotifyConfig) Map() map[string]string {
	return map[string]string{
		"client_id":     c.ClientID,
		"client_secret": c.ClientSecret,
		"redirect_uri":  c.RedirectURI,
		"auth_url":      c.AuthURL,
		"token_url":     c.TokenURL,
		"api_base_url":  c.APIBaseURL,
	}
}

// SecurityConfig holds the process-wide credential encryption key (base64, 32 bytes decoded).
type SecurityConfig struct {
	EncryptionKey string `toml:"encryption_key" env:"SPOTSYNC_ENCRYPTION_KEY"`
}

// Key decodes and validates the encryption key.
func (s SecurityConfig) Key() ([]byte, error) {
	if s.EncryptionKey == "" {
		return nil, fmt.Errorf("%w: security.encryption_key is not set", ErrInvalidConfig)
	}

	key, err := base64.StdEncoding.DecodeString(s.EncryptionKey)
	if err != nil {
		key, err = base64.RawURLEncoding.DecodeString(s.EncryptionKey)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: security.encryption_key is not valid base64: %v", ErrInvalidConfig, err)
	}
	if len(key) != EncryptionKeySize {
		return nil, fmt.Errorf("%w: security.encryption_key must decode to %d bytes, got %d", ErrInvalidConfig, EncryptionKeySize, len(key))
	}
	return key, nil
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path" env:"SPOTSYNC_DATABASE_PATH"`
	MaxOpenConns int    `toml:"max_open_conns" env:"SPOTSYNC_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns int    `toml:"max_idle_conns" env:"SPOTSYNC_DATABASE_MAX_IDLE_CONNS"`
}

// RedisConfig contains the OAuth state store connection settings.
//
// An empty Addr selects the in-process state store.
type RedisConfig struct {
	Addr     string        `toml:"addr" env:"SPOTSYNC_REDIS_ADDR"`
	Password string        `toml:"password" env:"SPOTSYNC_REDIS_PASSWORD"`
	DB       int           `toml:"db" env:"SPOTSYNC_REDIS_DB"`
	StateTTL time.Duration `toml:"state_ttl" env:"SPOTSYNC_REDIS_STATE_TTL"`
}

// SyncConfig contains fetch and reconciliation tuning.
type SyncConfig struct {
	PageSize          int           `toml:"page_size" env:"SPOTSYNC_SYNC_PAGE_SIZE"`
	FetchWorkers      int           `toml:"fetch_workers" env:"SPOTSYNC_SYNC_FETCH_WORKERS"`
	RequestsPerSecond float64       `toml:"requests_per_second" env:"SPOTSYNC_SYNC_REQUESTS_PER_SECOND"`
	BatchSize         int           `toml:"batch_size" env:"SPOTSYNC_SYNC_BATCH_SIZE"`
	RequestTimeout    time.Duration `toml:"request_timeout" env:"SPOTSYNC_SYNC_REQUEST_TIMEOUT"`
}

// JobsConfig contains background job scheduling settings.
type JobsConfig struct {
	Workers         int           `toml:"workers" env:"SPOTSYNC_JOBS_WORKERS"`
	MaxAttempts     int           `toml:"max_attempts" env:"SPOTSYNC_JOBS_MAX_ATTEMPTS"`
	RetryDelay      time.Duration `toml:"retry_delay" env:"SPOTSYNC_JOBS_RETRY_DELAY"`
	PollInterval    time.Duration `toml:"poll_interval" env:"SPOTSYNC_JOBS_POLL_INTERVAL"`
	RefreshInterval time.Duration `toml:"refresh_interval" env:"SPOTSYNC_JOBS_REFRESH_INTERVAL"`
	SyncInterval    time.Duration `toml:"sync_interval" env:"SPOTSYNC_JOBS_SYNC_INTERVAL"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host" env:"SPOTSYNC_SERVER_HOST"`
	Port int    `toml:"port" env:"SPOTSYNC_SERVER_PORT"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level" env:"SPOTSYNC_LOG_LEVEL"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep their default values and environment variables are applied last.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ResolveConfig loads the file at path when it exists and otherwise falls back to defaults plus environment.
func ResolveConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); err == nil {
		return LoadConfig(path)
	}

	config := DefaultConfig()
	if err := ApplyEnv(config); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overlays SPOTSYNC_* environment variables onto config.
func ApplyEnv(config *Config) error {
	if err := env.Parse(config); err != nil {
		return fmt.Errorf("%w: parse env: %v", ErrInvalidConfig, err)
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// MaxBatchSize is the largest sync.batch_size. One record binds 13 parameters and SQLite allows 32766 per statement.
const MaxBatchSize = 32766 / 13

// Placeholder client credentials shipped in config.example.toml.
const (
	placeholderClientID     = "your_spotify_client_id"
	placeholderClientSecret = "your_spotify_client_secret"
)

// Validate checks the settings needed to run syncs: client credentials, the encryption key and tuning ranges.
//
// The example file's placeholder credentials count as missing.
func (c *Config) Validate() error {
	spotify := c.Credentials.Spotify
	if spotify.ClientID == "" || spotify.ClientSecret == "" {
		return fmt.Errorf("%w: spotify client_id and client_secret must be set", ErrMissingCredentials)
	}
	if spotify.ClientID == placeholderClientID || spotify.ClientSecret == placeholderClientSecret {
		return fmt.Errorf("%w: replace the example spotify client_id and client_secret", ErrMissingCredentials)
	}

	if _, err := c.Security.Key(); err != nil {
		return err
	}

	switch {
	case c.Sync.PageSize < 1 || c.Sync.PageSize > 50:
		return fmt.Errorf("%w: sync.page_size must be between 1 and 50", ErrInvalidConfig)
	case c.Sync.FetchWorkers < 1:
		return fmt.Errorf("%w: sync.fetch_workers must be positive", ErrInvalidConfig)
	case c.Sync.BatchSize < 1 || c.Sync.BatchSize > MaxBatchSize:
		return fmt.Errorf("%w: sync.batch_size must be between 1 and %d", ErrInvalidConfig, MaxBatchSize)
	case c.Jobs.Workers < 1:
		return fmt.Errorf("%w: jobs.workers must be positive", ErrInvalidConfig)
	case c.Jobs.MaxAttempts < 1:
		return fmt.Errorf("%w: jobs.max_attempts must be positive", ErrInvalidConfig)
	}
	return nil
}

// SaveConfig writes config to path as TOML.
func SaveConfig(path string, config *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
