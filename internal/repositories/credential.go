package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/spotsync/internal/models"
	"github.com/desertthunder/spotsync/internal/shared"
)

// CredentialRepository persists encrypted [models.Credential] rows, unique per (user, platform).
type CredentialRepository struct {
	db DBTX
}

// NewCredentialRepository creates a new [CredentialRepository] with the given database connection
func NewCredentialRepository(db DBTX) *CredentialRepository {
	return &CredentialRepository{db: db}
}

const credentialColumns = `id, user_id, platform, encrypted_access_token, encrypted_refresh_token,
	platform_user_id, expires_at, created_at, updated_at`

// Get retrieves the credential for (userID, platform).
// Returns an error wrapping [shared.ErrNotFound] when none exists.
func (r *CredentialRepository) Get(ctx context.Context, userID, platform string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE user_id = ? AND platform = ?`

	cred, err := scanCredential(r.db.QueryRowContext(ctx, query, userID, platform))
	if err != nil {
		return nil, notFound(err, "credential", userID+"/"+platform)
	}
	return cred, nil
}

// Upsert inserts cred or, when (user_id, platform) already exists, replaces its token columns.
//
// A nil EncryptedRefreshToken or PlatformUserID keeps the stored value.
func (r *CredentialRepository) Upsert(ctx context.Context, cred *models.Credential) error {
	now := time.Now().UTC()
	if cred.ID == "" {
		cred.ID = shared.GenerateID()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	query := `
		INSERT INTO credentials (` + credentialColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, platform) DO UPDATE SET
			encrypted_access_token = excluded.encrypted_access_token,
			encrypted_refresh_token = COALESCE(excluded.encrypted_refresh_token, credentials.encrypted_refresh_token),
			platform_user_id = COALESCE(excluded.platform_user_id, credentials.platform_user_id),
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, query,
		cred.ID,
		cred.UserID,
		cred.Platform,
		cred.EncryptedAccessToken,
		nullString(cred.EncryptedRefreshToken),
		nullString(cred.PlatformUserID),
		nullTime(cred.ExpiresAt),
		cred.CreatedAt,
		cred.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}
	return nil
}

// Delete removes the credential for (userID, platform). Synced records are left intact.
func (r *CredentialRepository) Delete(ctx context.Context, userID, platform string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = ? AND platform = ?`, userID, platform)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("credential %s/%s: %w", userID, platform, shared.ErrNotFound)
	}
	return nil
}

// ListRefreshable returns credentials for platform whose refresh token is present and non-empty.
func (r *CredentialRepository) ListRefreshable(ctx context.Context, platform string) ([]*models.Credential, error) {
	query := `
		SELECT ` + credentialColumns + ` FROM credentials
		WHERE platform = ? AND encrypted_refresh_token IS NOT NULL AND encrypted_refresh_token != ''
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, platform)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	var creds []*models.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return creds, nil
}

func scanCredential(s scanner) (*models.Credential, error) {
	var (
		cred           models.Credential
		refreshToken   sql.NullString
		platformUserID sql.NullString
		expiresAt      sql.NullTime
	)

	err := s.Scan(
		&cred.ID,
		&cred.UserID,
		&cred.Platform,
		&cred.EncryptedAccessToken,
		&refreshToken,
		&platformUserID,
		&expiresAt,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cred.EncryptedRefreshToken = fromNullString(refreshToken)
	cred.PlatformUserID = fromNullString(platformUserID)
	cred.ExpiresAt = fromNullTime(expiresAt)
	return &cred, nil
}
