package fetch

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/services"
	"github.com/desertthunder/spotsync/internal/shared"
	tu "github.com/desertthunder/spotsync/internal/testing"
)

func newFetcher(t *testing.T, fake *tu.FakeSpotify, opts ...Option) *Fetcher {
	t.Helper()
	api := services.NewAPIService(fake.APIBase(), nil, 5*time.Second)
	return New(api, opts...)
}

func ids(items [][]byte, path string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		out[gjson.GetBytes(item, path).String()] = true
	}
	return out
}

func raw(t *testing.T, ep Endpoint, f *Fetcher) [][]byte {
	t.Helper()
	items, err := f.FetchAll(context.Background(), ep, "access-token")
	require.NoError(t, err)

	out := make([][]byte, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func TestFetchAllOffset(t *testing.T) {
	ep := Endpoints[models.ResourceTracks]

	t.Run("Single page when total equals page size", func(t *testing.T) {
		fake := tu.NewFakeSpotify(t)
		fake.Tracks = 50

		items := raw(t, ep, newFetcher(t, fake))
		assert.Len(t, items, 50)
		assert.Equal(t, 1, fake.Hits("/v1/me/tracks"))
	})

	t.Run("Multiple pages cover every item once", func(t *testing.T) {
		fake := tu.NewFakeSpotify(t)
		fake.Tracks = 120

		items := raw(t, ep, newFetcher(t, fake))
		assert.Len(t, items, 120)
		assert.Equal(t, 3, fake.Hits("/v1/me/tracks"))

		seen := ids(items, "track.id")
		assert.Len(t, seen, 120)
		assert.True(t, seen["t0"])
		assert.True(t, seen["t119"])
	})

	t.Run("First page comes first", func(t *testing.T) {
		fake := tu.NewFakeSpotify(t)
		fake.Tracks = 30

		items := raw(t, ep, newFetcher(t, fake, WithPageSize(10), WithWorkers(3)))
		require.Len(t, items, 30)
		for i := range 10 {
			assert.Equal(t, "t"+string(rune('0'+i)), gjson.GetBytes(items[i], "track.id").String())
		}
	})

	t.Run("Empty collection", func(t *testing.T) {
		fake := tu.NewFakeSpotify(t)

		items := raw(t, ep, newFetcher(t, fake))
		assert.Empty(t, items)
		assert.Equal(t, 1, fake.Hits("/v1/me/tracks"))
	})

	t.Run("Failed page aborts the fetch", func(t *testing.T) {
		fake := tu.NewFakeSpotify(t)
		fake.Tracks = 200
		fake.Fail["/v1/me/tracks"] = http.StatusBadGateway

		items, err := newFetcher(t, fake).FetchAll(context.Background(), ep, "access-token")
		assert.Nil(t, items)
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrExternalAPI)
		assert.True(t, shared.IsRetryable(err))
	})

	t.Run("Unauthorized token is an external API error", func(t *testing.T) {
		fake := tu.NewFakeSpotify(t)
		fake.Tracks = 5

		_, err := newFetcher(t, fake).FetchAll(context.Background(), ep, "wrong")
		var apiErr *shared.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	})
}

func TestFetchAllCursor(t *testing.T) {
	t.Run("Playlists follow next links", func(t *testing.T) {
		fake := tu.NewFakeSpotify(t)
		fake.Playlists = 23

		items := raw(t, Endpoints[models.ResourcePlaylists], newFetcher(t, fake, WithPageSize(10)))
		assert.Len(t, items, 23)
		assert.Equal(t, 3, fake.Hits("/v1/me/playlists"))
		assert.Len(t, ids(items, "id"), 23)
	})

	t.Run("Follows use the nested envelope", func(t *testing.T) {
		fake := tu.NewFakeSpotify(t)
		fake.Artists = 12

		items := raw(t, Endpoints[models.ResourceFollows], newFetcher(t, fake, WithPageSize(5)))
		assert.Len(t, items, 12)
		assert.Equal(t, 3, fake.Hits("/v1/me/following"))
		assert.True(t, ids(items, "id")["a11"])
	})

	t.Run("Repeated next link is rejected", func(t *testing.T) {
		api := getterFunc(func(_ context.Context, _, target string) (*services.APIResponse, error) {
			return &services.APIResponse{StatusCode: 200, Body: []byte(`{"items":[{"id":"x"}],"next":"/me/playlists?limit=50"}`)}, nil
		})

		_, err := New(api).FetchAll(context.Background(), Endpoints[models.ResourcePlaylists], "tok")
		require.Error(t, err)
		assert.ErrorIs(t, err, shared.ErrExternalAPI)
	})
}

type getterFunc func(ctx context.Context, token, target string) (*services.APIResponse, error)

func (g getterFunc) Get(ctx context.Context, token, target string) (*services.APIResponse, error) {
	return g(ctx, token, target)
}

func TestFetchAllMalformed(t *testing.T) {
	tests := []struct {
		name string
		ep   Endpoint
		body string
	}{
		{"Invalid JSON", Endpoints[models.ResourceTracks], `{"items": [`},
		{"Missing total", Endpoints[models.ResourceTracks], `{"items": []}`},
		{"Missing items", Endpoints[models.ResourcePlaylists], `{"next": null}`},
		{"Items not an array", Endpoints[models.ResourceFollows], `{"artists": {"items": {}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := getterFunc(func(context.Context, string, string) (*services.APIResponse, error) {
				return &services.APIResponse{StatusCode: 200, Body: []byte(tt.body)}, nil
			})

			items, err := New(api).FetchAll(context.Background(), tt.ep, "tok")
			assert.Nil(t, items)
			assert.ErrorIs(t, err, shared.ErrExternalAPI)
		})
	}
}

func TestFetcherOptions(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		f := New(nil)
		assert.Equal(t, DefaultPageSize, f.pageSize)
		assert.Equal(t, DefaultWorkers, f.workers)
	})

	t.Run("Out of range values are ignored", func(t *testing.T) {
		f := New(nil, WithPageSize(500), WithWorkers(0), WithRateLimit(0))
		assert.Equal(t, DefaultPageSize, f.pageSize)
		assert.Equal(t, DefaultWorkers, f.workers)
	})

	t.Run("Concurrency is bounded by workers", func(t *testing.T) {
		var inflight, peak atomic.Int32
		api := getterFunc(func(context.Context, string, string) (*services.APIResponse, error) {
			n := inflight.Add(1)
			defer inflight.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			return &services.APIResponse{StatusCode: 200, Body: []byte(`{"items":[{}],"total":40}`)}, nil
		})

		items, err := New(api, WithPageSize(1), WithWorkers(4)).FetchAll(context.Background(), Endpoints[models.ResourceTracks], "tok")
		require.NoError(t, err)
		assert.Len(t, items, 40)
		assert.LessOrEqual(t, peak.Load(), int32(4))
	})

	t.Run("Canceled context stops the limiter", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		api := getterFunc(func(context.Context, string, string) (*services.APIResponse, error) {
			t.Fatal("request issued after cancel")
			return nil, nil
		})

		_, err := New(api, WithRateLimit(1)).FetchAll(ctx, Endpoints[models.ResourceTracks], "tok")
		assert.Error(t, err)
	})
}

func TestPageURL(t *testing.T) {
	got, err := pageURL("/me/following?type=artist", 50, -1)
	require.NoError(t, err)
	assert.Equal(t, "/me/following?limit=50&type=artist", got)

	got, err = pageURL("/me/tracks", 20, 40)
	require.NoError(t, err)
	assert.Equal(t, "/me/tracks?limit=20&offset=40", got)

	_, err = EndpointFor("albums")
	assert.Error(t, err)
}
