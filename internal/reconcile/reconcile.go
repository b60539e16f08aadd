// package reconcile converges the stored records of one partition to a freshly fetched set.
//
// A partition is the (user, platform, resource type) triple. The engine owns every record inside it
// and never touches records outside it. Records that are present on both sides are left as they are.
package reconcile

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/repositories"
	"github.com/desertthunder/spotsync/internal/shared"
)

// DefaultBatchSize is the number of rows written per insert statement.
const DefaultBatchSize = 500

// Result counts the mutations applied by one reconcile call.
type Result struct {
	Added   int64
	Removed int64
	// Unchanged records were present in both the stored and incoming sets.
	Unchanged int
}

// Changed reports whether anything was written.
func (r Result) Changed() bool { return r.Added > 0 || r.Removed > 0 }

// Engine applies minimal add/remove diffs inside a single transaction.
type Engine struct {
	db        *sql.DB
	batchSize int
	logger    *log.Logger
}

// Option configures an [Engine].
type Option func(*Engine)

// WithBatchSize sets the insert batch size. Non-positive values are ignored and
// values above [repositories.MaxInsertBatch] are clamped to it.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = min(n, repositories.MaxInsertBatch)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an [Engine] over db.
func New(db *sql.DB, opts ...Option) *Engine {
	e := &Engine{db: db, batchSize: DefaultBatchSize, logger: shared.NewLogger(nil)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile makes the stored records of p exactly match the external URLs of records.
//
// An empty records slice empties the partition. Records with a blank partition field are
// stamped with p; a record that names a different partition or has no external URL is rejected
// before anything is written. The whole call is one transaction and is safe to repeat.
func (e *Engine) Reconcile(ctx context.Context, p models.Partition, records []*models.SyncedRecord) (Result, error) {
	incoming, err := index(p, records)
	if err != nil {
		return Result{}, err
	}

	var result Result
	err = repositories.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		repo := repositories.NewRecordRepository(tx)

		if len(incoming) == 0 {
			n, err := repo.DeletePartition(ctx, p)
			if err != nil {
				return err
			}
			result.Removed = n
			return nil
		}

		existing, err := repo.ExistingURLs(ctx, p)
		if err != nil {
			return err
		}

		toAdd, toRemove := diff(incoming, existing)
		result.Unchanged = len(incoming) - len(toAdd)

		for start := 0; start < len(toAdd); start += e.batchSize {
			end := min(start+e.batchSize, len(toAdd))
			n, err := repo.InsertIgnore(ctx, toAdd[start:end])
			if err != nil {
				return err
			}
			result.Added += n
		}

		if len(toRemove) > 0 {
			n, err := repo.DeleteByURLs(ctx, p, toRemove)
			if err != nil {
				return err
			}
			result.Removed = n
		}
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("reconcile %s: %w", p, err)
	}

	e.logger.Debug("reconciled partition", "partition", p.String(), "added", result.Added, "removed", result.Removed, "unchanged", result.Unchanged)
	return result, nil
}

// index keys records by external URL. The first record for a URL wins.
func index(p models.Partition, records []*models.SyncedRecord) (map[string]*models.SyncedRecord, error) {
	incoming := make(map[string]*models.SyncedRecord, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if rec.ExternalURL == "" {
			return nil, fmt.Errorf("%w: record %q has no external url", shared.ErrInvalidInput, rec.ExternalID)
		}

		if rec.UserID == "" {
			rec.UserID = p.UserID
		}
		if rec.Platform == "" {
			rec.Platform = p.Platform
		}
		if rec.ResourceType == "" {
			rec.ResourceType = p.ResourceType
		}
		if rec.UserID != p.UserID || rec.Platform != p.Platform || rec.ResourceType != p.ResourceType {
			return nil, fmt.Errorf("%w: record %s does not belong to partition %s", shared.ErrInvalidInput, rec.ExternalURL, p)
		}

		if _, dup := incoming[rec.ExternalURL]; !dup {
			incoming[rec.ExternalURL] = rec
		}
	}
	return incoming, nil
}

// diff returns the incoming records missing from existing and the existing URLs missing from incoming.
func diff(incoming map[string]*models.SyncedRecord, existing map[string]struct{}) ([]*models.SyncedRecord, []string) {
	var toAdd []*models.SyncedRecord
	for url, rec := range incoming {
		if _, ok := existing[url]; !ok {
			toAdd = append(toAdd, rec)
		}
	}

	var toRemove []string
	for url := range existing {
		if _, ok := incoming[url]; !ok {
			toRemove = append(toRemove, url)
		}
	}
	return toAdd, toRemove
}
