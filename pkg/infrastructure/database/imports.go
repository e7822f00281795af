package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	shared "github.com/runbeat/server/pkg"
	"github.com/runbeat/server/pkg/models"
)

const importColumns = `id, user_id, run_record_id, source,
	COALESCE(external_id, ''), COALESCE(original_filename, ''),
	COALESCE(file_path, ''), raw_metadata, status,
	COALESCE(error_message, ''), import_summary, course_match,
	created_at, updated_at`

func scanImport(row pgx.Row) (*models.ExternalImport, error) {
	var (
		imp            models.ExternalImport
		summary, match []byte
	)
	err := row.Scan(
		&imp.ID, &imp.UserID, &imp.RunRecordID, &imp.Source,
		&imp.ExternalID, &imp.OriginalFilename, &imp.FilePath,
		&imp.RawMetadata, &imp.Status, &imp.ErrorMessage,
		&summary, &match, &imp.CreatedAt, &imp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := decodeJSON(summary, &imp.ImportSummary); err != nil {
		return nil, fmt.Errorf("decoding import summary: %w", err)
	}
	if err := decodeJSON(match, &imp.CourseMatch); err != nil {
		return nil, fmt.Errorf("decoding course match: %w", err)
	}
	return &imp, nil
}

func (s *Store) CreateImport(ctx context.Context, imp *models.ExternalImport) error {
	if imp.ID == uuid.Nil {
		imp.ID = uuid.New()
	}
	if imp.Status == "" {
		imp.Status = shared.ImportPending
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO external_imports (id, user_id, source, external_id,
			original_filename, file_path, raw_metadata, status)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)
		RETURNING created_at, updated_at`,
		imp.ID, imp.UserID, imp.Source, imp.ExternalID,
		imp.OriginalFilename, imp.FilePath, imp.RawMetadata, imp.Status,
	).Scan(&imp.CreatedAt, &imp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting import: %w", err)
	}
	return nil
}

// GetImport returns nil when no such import exists. Used by the worker,
// which must see any user's rows.
func (s *Store) GetImport(ctx context.Context, id uuid.UUID) (*models.ExternalImport, error) {
	imp, err := scanImport(s.pool.QueryRow(ctx,
		`SELECT `+importColumns+` FROM external_imports WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("selecting import: %w", err)
	}
	return imp, nil
}

func (s *Store) GetImportForUser(ctx context.Context, id, userID uuid.UUID) (*models.ExternalImport, error) {
	imp, err := scanImport(s.pool.QueryRow(ctx,
		`SELECT `+importColumns+` FROM external_imports WHERE id = $1 AND user_id = $2`,
		id, userID))
	if err != nil {
		return nil, fmt.Errorf("selecting import: %w", err)
	}
	return imp, nil
}

func (s *Store) ListImports(ctx context.Context, userID uuid.UUID, page, perPage int) ([]models.ExternalImport, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM external_imports WHERE user_id = $1`, userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting imports: %w", err)
	}

	limit, offset := pageBounds(page, perPage)
	rows, err := s.pool.Query(ctx, `
		SELECT `+importColumns+`
		FROM external_imports
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("selecting imports: %w", err)
	}
	defer rows.Close()

	var imports []models.ExternalImport
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning import: %w", err)
		}
		imports = append(imports, *imp)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("reading imports: %w", err)
	}
	return imports, total, nil
}

func (s *Store) UpdateImportStatus(ctx context.Context, id uuid.UUID, status, errorMessage string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE external_imports
		SET status = $2, error_message = NULLIF($3, ''), updated_at = NOW()
		WHERE id = $1`,
		id, status, errorMessage)
	if err != nil {
		return fmt.Errorf("updating import status: %w", err)
	}
	return nil
}

// CompleteImport stores the terminal state in one write: status, the
// created record, and the summary/match payloads.
func (s *Store) CompleteImport(ctx context.Context, imp *models.ExternalImport) error {
	summary, err := jsonObject(imp.ImportSummary)
	if err != nil {
		return fmt.Errorf("encoding import summary: %w", err)
	}
	match, err := jsonObject(imp.CourseMatch)
	if err != nil {
		return fmt.Errorf("encoding course match: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE external_imports
		SET status = $2, run_record_id = $3, import_summary = $4,
		    course_match = $5, error_message = NULL, updated_at = NOW()
		WHERE id = $1`,
		imp.ID, imp.Status, imp.RunRecordID, summary, match)
	if err != nil {
		return fmt.Errorf("completing import: %w", err)
	}
	return nil
}

func (s *Store) DeleteImport(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM external_imports WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting import: %w", err)
	}
	return nil
}

// ImportExists reports whether the user already imported this external
// activity, the dedupe check before a new row is created.
func (s *Store) ImportExists(ctx context.Context, userID uuid.UUID, source, externalID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM external_imports
			WHERE user_id = $1 AND source = $2 AND external_id = $3
		)`,
		userID, source, externalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking import existence: %w", err)
	}
	return exists, nil
}

const stravaColumns = `id, user_id, strava_athlete_id,
	COALESCE(athlete_name, ''), COALESCE(athlete_profile_url, ''),
	access_token, refresh_token, token_expires_at, auto_sync,
	last_sync_at, created_at, updated_at`

// UpsertStravaConnection replaces the user's connection, one per user.
func (s *Store) UpsertStravaConnection(ctx context.Context, conn *models.StravaConnection) error {
	if conn.ID == uuid.Nil {
		conn.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO strava_connections (id, user_id, strava_athlete_id,
			athlete_name, athlete_profile_url, access_token, refresh_token,
			token_expires_at, auto_sync)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			strava_athlete_id = EXCLUDED.strava_athlete_id,
			athlete_name = EXCLUDED.athlete_name,
			athlete_profile_url = EXCLUDED.athlete_profile_url,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			auto_sync = EXCLUDED.auto_sync,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		conn.ID, conn.UserID, conn.StravaAthleteID,
		conn.AthleteName, conn.AthleteProfileURL, conn.AccessToken,
		conn.RefreshToken, conn.TokenExpiresAt, conn.AutoSync,
	).Scan(&conn.ID, &conn.CreatedAt, &conn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting strava connection: %w", err)
	}
	return nil
}

// GetStravaConnection returns nil when the user never connected.
func (s *Store) GetStravaConnection(ctx context.Context, userID uuid.UUID) (*models.StravaConnection, error) {
	var conn models.StravaConnection
	err := s.pool.QueryRow(ctx,
		`SELECT `+stravaColumns+` FROM strava_connections WHERE user_id = $1`,
		userID,
	).Scan(
		&conn.ID, &conn.UserID, &conn.StravaAthleteID,
		&conn.AthleteName, &conn.AthleteProfileURL,
		&conn.AccessToken, &conn.RefreshToken, &conn.TokenExpiresAt,
		&conn.AutoSync, &conn.LastSyncAt, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting strava connection: %w", err)
	}
	return &conn, nil
}

func (s *Store) DeleteStravaConnection(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM strava_connections WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("deleting strava connection: %w", err)
	}
	return nil
}

func (s *Store) UpdateStravaSyncTime(ctx context.Context, userID uuid.UUID, syncedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE strava_connections
		SET last_sync_at = $2, updated_at = NOW()
		WHERE user_id = $1`,
		userID, syncedAt)
	if err != nil {
		return fmt.Errorf("updating strava sync time: %w", err)
	}
	return nil
}

func (s *Store) UpdateStravaTokens(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE strava_connections
		SET access_token = $2, refresh_token = $3, token_expires_at = $4,
		    updated_at = NOW()
		WHERE user_id = $1`,
		userID, accessToken, refreshToken, expiresAt)
	if err != nil {
		return fmt.Errorf("updating strava tokens: %w", err)
	}
	return nil
}
