package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/shared"
)

// SyncTarget names one partition to sync.
type SyncTarget struct {
	UserID       string
	ResourceType models.ResourceType
}

func (t SyncTarget) String() string { return fmt.Sprintf("%s/%s", t.UserID, t.ResourceType) }

// TargetsFor expands users into one target per resource type.
func TargetsFor(userIDs []string, types ...models.ResourceType) []SyncTarget {
	if len(types) == 0 {
		types = models.ResourceTypes
	}
	targets := make([]SyncTarget, 0, len(userIDs)*len(types))
	for _, id := range userIDs {
		for _, rt := range types {
			targets = append(targets, SyncTarget{UserID: id, ResourceType: rt})
		}
	}
	return targets
}

// BulkSyncOpts contains configuration for bulk syncs.
type BulkSyncOpts struct {
	NumWorkers int     // Concurrent syncs (default: 3, max: 10)
	RateLimit  float64 // Syncs started per second (default: 5)
}

// BulkSyncItem is the outcome of one target.
type BulkSyncItem struct {
	Target SyncTarget
	Result *SyncResult
	Error  error
}

// BulkSyncResult aggregates a bulk sync.
type BulkSyncResult struct {
	Total     int
	Succeeded int
	Failed    int
	Items     []BulkSyncItem
	Duration  time.Duration
}

// BulkSync syncs many partitions concurrently with rate limiting and progress tracking.
//
// This method implements a worker pool pattern. Individual failures are recorded in the result and do not stop the run.
// Only cancellation of ctx ends it early; unstarted targets are then reported as failed with the context error.
func (e *SpotifyEngine) BulkSync(ctx context.Context, prog chan<- ProgressUpdate, targets []SyncTarget, opts BulkSyncOpts) (*BulkSyncResult, error) {
	if e.vault == nil || e.fetcher == nil || e.reconciler == nil {
		return nil, fmt.Errorf("%w: sync engine not initialized", shared.ErrServiceUnavailable)
	}

	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 3
	}
	if opts.NumWorkers > 10 {
		opts.NumWorkers = 10
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}

	start := time.Now()
	result := &BulkSyncResult{
		Total: len(targets),
		Items: make([]BulkSyncItem, 0, len(targets)),
	}

	limiter := rate.NewLimiter(rate.Limit(opts.RateLimit), 1)

	jobs := make(chan SyncTarget, len(targets))
	results := make(chan BulkSyncItem, len(targets))

	var wg sync.WaitGroup
	for i := 0; i < opts.NumWorkers; i++ {
		wg.Add(1)
		go e.syncWorker(ctx, &wg, jobs, results)
	}

	go func() {
		defer close(jobs)
		for i, target := range targets {
			if err := limiter.Wait(ctx); err != nil {
				for _, rest := range targets[i:] {
					results <- BulkSyncItem{Target: rest, Error: fmt.Errorf("not started: %w", err)}
				}
				return
			}
			jobs <- target
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		result.Items = append(result.Items, res)

		if res.Error == nil {
			result.Succeeded++
			sendProgress(prog, bulkCompletedUpdate(completed, len(targets), res))
		} else {
			result.Failed++
			sendProgress(prog, bulkFailedUpdate(completed, len(targets), res))
		}
	}

	result.Duration = time.Since(start)
	e.logger.Info("bulk sync finished", "total", result.Total, "succeeded", result.Succeeded, "failed", result.Failed, "duration", result.Duration)
	return result, nil
}

// syncWorker is a worker goroutine that syncs targets from the jobs channel.
func (e *SpotifyEngine) syncWorker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan SyncTarget, results chan<- BulkSyncItem) {
	defer wg.Done()

	for target := range jobs {
		res, err := e.SyncResource(ctx, target.UserID, target.ResourceType, nil)
		results <- BulkSyncItem{Target: target, Result: res, Error: err}
	}
}
