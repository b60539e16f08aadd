package oauthstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/desertthunder/spotsync/internal/shared"
)

const keyPrefix = "spotsync:oauth_state:"

// RedisStore keeps states in Redis with a key TTL, consuming them with GETDEL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient connects to the configured Redis server and verifies it with PING.
func NewRedisClient(ctx context.Context, cfg shared.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis %s: %v", shared.ErrServiceUnavailable, cfg.Addr, err)
	}
	return client, nil
}

// NewRedisStore wraps client. A non-positive ttl selects [DefaultTTL].
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Issue generates a state token and stores it with the configured TTL.
func (s *RedisStore) Issue(ctx context.Context) (string, error) {
	token, err := shared.GenerateState()
	if err != nil {
		return "", fmt.Errorf("issue state: %w", err)
	}

	if err := s.client.Set(ctx, keyPrefix+token, "1", s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store state: %w", err)
	}
	return token, nil
}

// ValidateAndConsume atomically fetches and deletes the state key.
// Expired keys are already gone, so absence covers both unknown and expired tokens.
func (s *RedisStore) ValidateAndConsume(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}

	err := s.client.GetDel(ctx, keyPrefix+token).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume state: %w", err)
	}
	return true, nil
}

// New selects a [RedisStore] when cfg.Addr is set and a [MemoryStore] otherwise.
// The returned close function releases the Redis connection, if any.
func New(ctx context.Context, cfg shared.RedisConfig) (Store, func() error, error) {
	if cfg.Addr == "" {
		return NewMemoryStore(cfg.StateTTL), func() error { return nil }, nil
	}

	client, err := NewRedisClient(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return NewRedisStore(client, cfg.StateTTL), client.Close, nil
}
