package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/runbeat/server/pkg/models"
)

const userColumns = `id, COALESCE(email, ''), COALESCE(nickname, ''),
	COALESCE(profile_image_url, ''), total_distance_meters,
	total_duration_seconds, total_runs, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Email, &u.Nickname, &u.ProfileImageURL,
		&u.TotalDistanceMeters, &u.TotalDurationSecs, &u.TotalRuns,
		&u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (id, email, nickname, profile_image_url)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''))
		RETURNING is_active, created_at, updated_at`,
		user.ID, user.Email, user.Nickname, user.ProfileImageURL,
	).Scan(&user.IsActive, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

// GetUser returns nil when no such user exists.
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("selecting user: %w", err)
	}
	return user, nil
}

// NicknameTaken reports whether a different user already holds the
// nickname.
func (s *Store) NicknameTaken(ctx context.Context, nickname string, excludeUserID uuid.UUID) (bool, error) {
	var taken bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE nickname = $1 AND id <> $2)`,
		nickname, excludeUserID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("checking nickname: %w", err)
	}
	return taken, nil
}

// UpdateUserProfile overwrites the fields that are non-nil and returns
// the updated row, nil when the user is gone.
func (s *Store) UpdateUserProfile(ctx context.Context, userID uuid.UUID, nickname, profileImageURL *string) (*models.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `
		UPDATE users
		SET nickname = COALESCE($2, nickname),
		    profile_image_url = COALESCE($3, profile_image_url),
		    updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns,
		userID, nickname, profileImageURL))
	if err != nil {
		return nil, fmt.Errorf("updating user profile: %w", err)
	}
	return user, nil
}

// AddUserTotals bumps the cumulative distance/duration/run counters.
func (s *Store) AddUserTotals(ctx context.Context, userID uuid.UUID, distanceMeters float64, durationSeconds, runs int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET total_distance_meters = total_distance_meters + $2,
		    total_duration_seconds = total_duration_seconds + $3,
		    total_runs = total_runs + $4,
		    updated_at = NOW()
		WHERE id = $1`,
		userID, distanceMeters, durationSeconds, runs)
	if err != nil {
		return fmt.Errorf("updating user totals: %w", err)
	}
	return nil
}

// GetSocialAccount returns nil when the (provider, provider_id) pair is
// unknown.
func (s *Store) GetSocialAccount(ctx context.Context, provider, providerID string) (*models.SocialAccount, error) {
	var acc models.SocialAccount
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, provider, provider_id, COALESCE(provider_email, ''), created_at
		FROM social_accounts
		WHERE provider = $1 AND provider_id = $2`,
		provider, providerID,
	).Scan(&acc.ID, &acc.UserID, &acc.Provider, &acc.ProviderID, &acc.Email, &acc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting social account: %w", err)
	}
	return &acc, nil
}

func (s *Store) CreateSocialAccount(ctx context.Context, acc *models.SocialAccount) error {
	if acc.ID == uuid.Nil {
		acc.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO social_accounts (id, user_id, provider, provider_id, provider_email)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		RETURNING created_at`,
		acc.ID, acc.UserID, acc.Provider, acc.ProviderID, acc.Email,
	).Scan(&acc.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting social account: %w", err)
	}
	return nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
		RETURNING is_revoked, created_at`,
		token.ID, token.UserID, token.TokenHash, token.ExpiresAt,
	).Scan(&token.IsRevoked, &token.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting refresh token: %w", err)
	}
	return nil
}

// GetRefreshTokenByHash returns nil when no row carries the hash,
// revoked rows included so callers can detect reuse.
func (s *Store) GetRefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	var t models.RefreshToken
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, is_revoked, created_at
		FROM refresh_tokens
		WHERE token_hash = $1`,
		hash,
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.IsRevoked, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting refresh token: %w", err)
	}
	return &t, nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE refresh_tokens SET is_revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens invalidates every live token the user holds.
func (s *Store) RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE refresh_tokens SET is_revoked = TRUE WHERE user_id = $1 AND NOT is_revoked`, userID)
	if err != nil {
		return fmt.Errorf("revoking user refresh tokens: %w", err)
	}
	return nil
}

// DeleteExpiredRefreshTokens prunes rows past their expiry. Run
// opportunistically; correctness never depends on it.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired refresh tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
