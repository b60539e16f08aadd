package oauthstate

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/desertthunder/spotsync/internal/shared"
)

// exerciseStore checks the single-use contract shared by every [Store].
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("single use", func(t *testing.T) {
		token, err := store.Issue(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, token)

		ok, err := store.ValidateAndConsume(ctx, token)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.ValidateAndConsume(ctx, token)
		require.NoError(t, err)
		assert.False(t, ok, "replayed state must be rejected")
	})

	t.Run("unknown and empty tokens", func(t *testing.T) {
		ok, err := store.ValidateAndConsume(ctx, "never-issued")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = store.ValidateAndConsume(ctx, "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("concurrent consumers", func(t *testing.T) {
		token, err := store.Issue(ctx)
		require.NoError(t, err)

		var (
			wg       sync.WaitGroup
			accepted atomic.Int32
		)
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if ok, err := store.ValidateAndConsume(ctx, token); err == nil && ok {
					accepted.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), accepted.Load())
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(time.Minute))

	t.Run("expired state", func(t *testing.T) {
		ctx := context.Background()
		now := time.Now()
		store := NewMemoryStore(time.Minute)
		store.now = func() time.Time { return now }

		token, err := store.Issue(ctx)
		require.NoError(t, err)

		now = now.Add(61 * time.Second)
		ok, err := store.ValidateAndConsume(ctx, token)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("issue sweeps expired entries", func(t *testing.T) {
		ctx := context.Background()
		now := time.Now()
		store := NewMemoryStore(time.Second)
		store.now = func() time.Time { return now }

		_, err := store.Issue(ctx)
		require.NoError(t, err)

		now = now.Add(time.Hour)
		_, err = store.Issue(ctx)
		require.NoError(t, err)
		assert.Len(t, store.states, 1)
	})

	t.Run("default ttl", func(t *testing.T) {
		assert.Equal(t, DefaultTTL, NewMemoryStore(0).ttl)
	})
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("SPOTSYNC_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SPOTSYNC_TEST_REDIS_ADDR not set")
	}

	ctx := context.Background()
	client, err := NewRedisClient(ctx, shared.RedisConfig{Addr: addr})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	exerciseStore(t, NewRedisStore(client, time.Minute))

	t.Run("expired state", func(t *testing.T) {
		store := NewRedisStore(client, time.Second)
		token, err := store.Issue(ctx)
		require.NoError(t, err)

		time.Sleep(1500 * time.Millisecond)
		ok, err := store.ValidateAndConsume(ctx, token)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestNew(t *testing.T) {
	store, closeFn, err := New(context.Background(), shared.RedisConfig{})
	require.NoError(t, err)
	defer closeFn()

	assert.IsType(t, &MemoryStore{}, store)
}
