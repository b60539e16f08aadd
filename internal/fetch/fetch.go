// package fetch retrieves complete collections from the paginated external API.
//
// [Fetcher.FetchAll] is all-or-nothing: any failed page aborts the fetch and no partial result is returned.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/desertthunder/spotsync/internal/services"
	"github.com/desertthunder/spotsync/internal/shared"
)

const (
	// DefaultPageSize is the largest page the listing endpoints accept.
	DefaultPageSize = 50
	// DefaultWorkers bounds concurrent page requests in the offset strategy.
	DefaultWorkers = 10
	// maxCursorPages stops a server that keeps returning next links forever.
	maxCursorPages = 10000
)

// Fetcher pages through listing endpoints with a shared rate limiter.
type Fetcher struct {
	api      services.Getter
	pageSize int
	workers  int
	limiter  *rate.Limiter
	logger   *log.Logger
}

// Option configures a [Fetcher].
type Option func(*Fetcher)

// WithPageSize sets the page size. Values outside 1..50 are ignored.
func WithPageSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 && n <= DefaultPageSize {
			f.pageSize = n
		}
	}
}

// WithWorkers sets the number of concurrent page requests.
func WithWorkers(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.workers = n
		}
	}
}

// WithRateLimit caps requests per second across all pages and fetches. Zero disables the cap.
func WithRateLimit(rps float64) Option {
	return func(f *Fetcher) {
		if rps > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a [Fetcher] over api.
func New(api services.Getter, opts ...Option) *Fetcher {
	f := &Fetcher{
		api:      api,
		pageSize: DefaultPageSize,
		workers:  DefaultWorkers,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		logger:   shared.NewLogger(nil),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll returns every raw item of ep.
//
// Item order is not meaningful: with the offset strategy the first page comes first and the
// rest follow in completion order.
func (f *Fetcher) FetchAll(ctx context.Context, ep Endpoint, token string) ([]json.RawMessage, error) {
	switch ep.Strategy {
	case Offset:
		return f.fetchOffset(ctx, ep, token)
	case Cursor:
		return f.fetchCursor(ctx, ep, token)
	default:
		return nil, fmt.Errorf("%w: unknown pagination strategy %d", shared.ErrInvalidInput, ep.Strategy)
	}
}

func (f *Fetcher) fetchOffset(ctx context.Context, ep Endpoint, token string) ([]json.RawMessage, error) {
	first, err := f.page(ctx, ep.Path, 0, token)
	if err != nil {
		return nil, err
	}

	totalResult := gjson.GetBytes(first, ep.TotalPath)
	if totalResult.Type != gjson.Number {
		return nil, shared.NewExternalAPIError(0, fmt.Sprintf("response for %s has no numeric %q", ep.Path, ep.TotalPath), nil)
	}
	total := int(totalResult.Int())

	items, err := extractItems(first, ep)
	if err != nil {
		return nil, err
	}
	if total <= f.pageSize {
		return items, nil
	}

	var offsets []int
	for offset := f.pageSize; offset < total; offset += f.pageSize {
		offsets = append(offsets, offset)
	}

	f.logger.Debug("fetching remaining pages", "path", ep.Path, "total", total, "pages", len(offsets)+1, "workers", f.workers)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for _, offset := range offsets {
		g.Go(func() error {
			body, err := f.page(gctx, ep.Path, offset, token)
			if err != nil {
				return err
			}

			pageItems, err := extractItems(body, ep)
			if err != nil {
				return err
			}

			mu.Lock()
			items = append(items, pageItems...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (f *Fetcher) fetchCursor(ctx context.Context, ep Endpoint, token string) ([]json.RawMessage, error) {
	target, err := pageURL(ep.Path, f.pageSize, -1)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	seen := make(map[string]struct{})

	for pages := 0; target != ""; pages++ {
		if pages >= maxCursorPages {
			return nil, shared.NewExternalAPIError(0, fmt.Sprintf("%s exceeded %d pages", ep.Path, maxCursorPages), nil)
		}
		if _, dup := seen[target]; dup {
			return nil, shared.NewExternalAPIError(0, fmt.Sprintf("%s returned a next link already visited", ep.Path), nil)
		}
		seen[target] = struct{}{}

		body, err := f.get(ctx, target, token)
		if err != nil {
			return nil, err
		}

		pageItems, err := extractItems(body, ep)
		if err != nil {
			return nil, err
		}
		items = append(items, pageItems...)

		target = gjson.GetBytes(body, ep.NextPath).String()
	}
	return items, nil
}

func (f *Fetcher) page(ctx context.Context, path string, offset int, token string) ([]byte, error) {
	target, err := pageURL(path, f.pageSize, offset)
	if err != nil {
		return nil, err
	}
	return f.get(ctx, target, token)
}

// get waits for the limiter and performs one request, returning the raw body.
func (f *Fetcher) get(ctx context.Context, target, token string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, shared.NewExternalAPIError(0, "rate limiter wait aborted", err)
	}

	resp, err := f.api.Get(ctx, token, target)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}

	if !gjson.ValidBytes(resp.Body) {
		return nil, shared.NewExternalAPIError(resp.StatusCode, fmt.Sprintf("malformed JSON from %s", target), nil)
	}
	return resp.Body, nil
}

// extractItems copies each element of the items array out of body.
func extractItems(body []byte, ep Endpoint) ([]json.RawMessage, error) {
	result := gjson.GetBytes(body, ep.ItemsPath)
	if !result.IsArray() {
		return nil, shared.NewExternalAPIError(0, fmt.Sprintf("response for %s has no %q array", ep.Path, ep.ItemsPath), nil)
	}

	arr := result.Array()
	items := make([]json.RawMessage, 0, len(arr))
	for _, item := range arr {
		items = append(items, json.RawMessage(item.Raw))
	}
	return items, nil
}
