package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/shared"
)

// maxDeleteArgs keeps a single DELETE well under SQLite's bound parameter limit.
const maxDeleteArgs = 900

// maxBoundArgs is SQLite's default SQLITE_MAX_VARIABLE_NUMBER.
const maxBoundArgs = 32766

// recordArgs is the number of parameters bound per inserted row.
const recordArgs = 13

// MaxInsertBatch is the largest slice [RecordRepository.InsertIgnore] accepts.
const MaxInsertBatch = maxBoundArgs / recordArgs

// RecordRepository persists [models.SyncedRecord] rows, always scoped to a [models.Partition].
type RecordRepository struct {
	db DBTX
}

// NewRecordRepository creates a new [RecordRepository] with the given database connection or transaction
func NewRecordRepository(db DBTX) *RecordRepository {
	return &RecordRepository{db: db}
}

const recordColumns = `id, user_id, platform, resource_type, external_id, external_url,
	external_owner_username, external_owner_url, occurred_at, title, body_text, media, created_at`

// ExistingURLs returns the set of external URLs currently stored in p.
func (r *RecordRepository) ExistingURLs(ctx context.Context, p models.Partition) (map[string]struct{}, error) {
	query := `SELECT external_url FROM synced_records WHERE user_id = ? AND platform = ? AND resource_type = ?`

	rows, err := r.db.QueryContext(ctx, query, p.UserID, p.Platform, string(p.ResourceType))
	if err != nil {
		return nil, fmt.Errorf("failed to query existing records: %w", err)
	}
	defer rows.Close()

	urls := make(map[string]struct{})
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("failed to scan external url: %w", err)
		}
		urls[url] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return urls, nil
}

// InsertIgnore inserts records in a single statement, silently skipping rows that
// collide with an existing (user_id, platform, external_url). It returns the number of rows inserted.
func (r *RecordRepository) InsertIgnore(ctx context.Context, records []*models.SyncedRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if len(records) > MaxInsertBatch {
		return 0, fmt.Errorf("%w: %d records exceed the insert batch limit of %d", shared.ErrInvalidInput, len(records), MaxInsertBatch)
	}

	now := time.Now().UTC()
	values := make([]string, 0, len(records))
	args := make([]any, 0, len(records)*recordArgs)

	for _, rec := range records {
		if rec.ID == "" {
			rec.ID = shared.GenerateID()
		}
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}

		media, err := json.Marshal(rec.Media)
		if err != nil {
			return 0, fmt.Errorf("failed to encode media for %s: %w", rec.ExternalURL, err)
		}

		values = append(values, "("+placeholders(recordArgs)+")")
		args = append(args,
			rec.ID,
			rec.UserID,
			rec.Platform,
			string(rec.ResourceType),
			rec.ExternalID,
			rec.ExternalURL,
			rec.ExternalOwnerUsername,
			rec.ExternalOwnerURL,
			nullTime(rec.OccurredAt),
			nullString(rec.Title),
			nullString(rec.BodyText),
			string(media),
			rec.CreatedAt,
		)
	}

	query := `INSERT OR IGNORE INTO synced_records (` + recordColumns + `) VALUES ` + strings.Join(values, ", ")
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert records: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// DeleteByURLs removes the records in p whose external URL is in urls.
func (r *RecordRepository) DeleteByURLs(ctx context.Context, p models.Partition, urls []string) (int64, error) {
	var total int64
	for start := 0; start < len(urls); start += maxDeleteArgs {
		end := min(start+maxDeleteArgs, len(urls))
		chunk := urls[start:end]

		args := make([]any, 0, len(chunk)+3)
		args = append(args, p.UserID, p.Platform, string(p.ResourceType))
		for _, u := range chunk {
			args = append(args, u)
		}

		query := `DELETE FROM synced_records
			WHERE user_id = ? AND platform = ? AND resource_type = ?
			AND external_url IN (` + placeholders(len(chunk)) + `)`

		result, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("failed to delete records: %w", err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("failed to get affected rows: %w", err)
		}
		total += n
	}
	return total, nil
}

// DeletePartition removes every record in p and nothing outside it.
func (r *RecordRepository) DeletePartition(ctx context.Context, p models.Partition) (int64, error) {
	query := `DELETE FROM synced_records WHERE user_id = ? AND platform = ? AND resource_type = ?`

	result, err := r.db.ExecContext(ctx, query, p.UserID, p.Platform, string(p.ResourceType))
	if err != nil {
		return 0, fmt.Errorf("failed to delete partition %s: %w", p, err)
	}
	return result.RowsAffected()
}

// DeleteForUser removes every record the user holds on platform, across all resource types.
func (r *RecordRepository) DeleteForUser(ctx context.Context, userID, platform string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM synced_records WHERE user_id = ? AND platform = ?`, userID, platform)
	if err != nil {
		return 0, fmt.Errorf("failed to purge records: %w", err)
	}
	return result.RowsAffected()
}

// RecordFilter narrows [RecordRepository.List]. Zero values match everything.
type RecordFilter struct {
	UserID       string
	Platform     string
	ResourceType models.ResourceType
	Limit        int
}

// List retrieves records matching filter ordered by resource type then external URL.
func (r *RecordRepository) List(ctx context.Context, filter RecordFilter) ([]*models.SyncedRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM synced_records WHERE 1 = 1`
	args := []any{}

	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Platform != "" {
		query += " AND platform = ?"
		args = append(args, filter.Platform)
	}
	if filter.ResourceType != "" {
		query += " AND resource_type = ?"
		args = append(args, string(filter.ResourceType))
	}

	query += " ORDER BY resource_type ASC, external_url ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []*models.SyncedRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

// Count returns the number of records stored in p.
func (r *RecordRepository) Count(ctx context.Context, p models.Partition) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM synced_records WHERE user_id = ? AND platform = ? AND resource_type = ?`
	if err := r.db.QueryRowContext(ctx, query, p.UserID, p.Platform, string(p.ResourceType)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

func scanRecord(s scanner) (*models.SyncedRecord, error) {
	var (
		rec          models.SyncedRecord
		resourceType string
		occurredAt   sql.NullTime
		title        sql.NullString
		bodyText     sql.NullString
		media        string
	)

	err := s.Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Platform,
		&resourceType,
		&rec.ExternalID,
		&rec.ExternalURL,
		&rec.ExternalOwnerUsername,
		&rec.ExternalOwnerURL,
		&occurredAt,
		&title,
		&bodyText,
		&media,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ResourceType = models.ResourceType(resourceType)
	rec.OccurredAt = fromNullTime(occurredAt)
	rec.Title = fromNullString(title)
	rec.BodyText = fromNullString(bodyText)
	if media != "" {
		if err := json.Unmarshal([]byte(media), &rec.Media); err != nil {
			return nil, fmt.Errorf("failed to decode media: %w", err)
		}
	}
	return &rec, nil
}
