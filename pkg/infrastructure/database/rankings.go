package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/runbeat/server/pkg/domain/ranking"
	"github.com/runbeat/server/pkg/models"
)

const rankingColumns = `id, course_id, user_id, run_record_id,
	best_duration_seconds, best_pace_seconds_per_km, run_count,
	COALESCE(rank, 0), achieved_at, created_at, updated_at`

func scanRanking(row pgx.Row) (*models.Ranking, error) {
	var r models.Ranking
	err := row.Scan(
		&r.ID, &r.CourseID, &r.UserID, &r.RunRecordID,
		&r.BestDurationSeconds, &r.BestPaceSecondsPerKm, &r.RunCount,
		&r.Rank, &r.AchievedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// GetRanking returns nil when the user has no entry on the course.
func (s *Store) GetRanking(ctx context.Context, courseID, userID uuid.UUID) (*models.Ranking, error) {
	r, err := scanRanking(s.pool.QueryRow(ctx,
		`SELECT `+rankingColumns+` FROM rankings WHERE course_id = $1 AND user_id = $2`,
		courseID, userID))
	if err != nil {
		return nil, fmt.Errorf("selecting ranking: %w", err)
	}
	return r, nil
}

func (s *Store) CreateRanking(ctx context.Context, r *models.Ranking) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO rankings (id, course_id, user_id, run_record_id,
			best_duration_seconds, best_pace_seconds_per_km, run_count, achieved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		r.ID, r.CourseID, r.UserID, r.RunRecordID,
		r.BestDurationSeconds, r.BestPaceSecondsPerKm, r.RunCount, r.AchievedAt,
	).Scan(&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting ranking: %w", err)
	}
	return nil
}

func (s *Store) UpdateRanking(ctx context.Context, r *models.Ranking) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rankings
		SET run_record_id = $2,
		    best_duration_seconds = $3,
		    best_pace_seconds_per_km = $4,
		    run_count = $5,
		    achieved_at = $6,
		    updated_at = NOW()
		WHERE id = $1`,
		r.ID, r.RunRecordID, r.BestDurationSeconds, r.BestPaceSecondsPerKm,
		r.RunCount, r.AchievedAt)
	if err != nil {
		return fmt.Errorf("updating ranking: %w", err)
	}
	return nil
}

// RecalculateRanks rewrites the cached rank column for a course in one
// statement, 1-based by best duration, ties broken by insertion order.
func (s *Store) RecalculateRanks(ctx context.Context, courseID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE rankings r
		SET rank = sub.new_rank, updated_at = NOW()
		FROM (
			SELECT id, ROW_NUMBER() OVER (
				ORDER BY best_duration_seconds ASC, created_at ASC, id ASC
			) AS new_rank
			FROM rankings
			WHERE course_id = $1
		) sub
		WHERE r.id = sub.id AND r.rank IS DISTINCT FROM sub.new_rank`,
		courseID)
	if err != nil {
		return fmt.Errorf("recalculating ranks: %w", err)
	}
	return nil
}

func (s *Store) CountCourseRankings(ctx context.Context, courseID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rankings WHERE course_id = $1`, courseID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting rankings: %w", err)
	}
	return count, nil
}

// CountFasterEntries counts entries strictly faster than the given
// duration, the fallback rank source before ranks are cached.
func (s *Store) CountFasterEntries(ctx context.Context, courseID uuid.UUID, durationSeconds int) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM rankings
		WHERE course_id = $1 AND best_duration_seconds < $2`,
		courseID, durationSeconds,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting faster entries: %w", err)
	}
	return count, nil
}

// ListCourseRankings returns one leaderboard page joined with runner
// profiles, fastest first.
func (s *Store) ListCourseRankings(ctx context.Context, courseID uuid.UUID, limit, offset int) ([]ranking.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.course_id, r.user_id, r.run_record_id,
			r.best_duration_seconds, r.best_pace_seconds_per_km, r.run_count,
			COALESCE(r.rank, 0), r.achieved_at, r.created_at, r.updated_at,
			COALESCE(u.nickname, ''), COALESCE(u.profile_image_url, '')
		FROM rankings r
		JOIN users u ON u.id = r.user_id
		WHERE r.course_id = $1
		ORDER BY r.best_duration_seconds ASC, r.created_at ASC, r.id ASC
		LIMIT $2 OFFSET $3`,
		courseID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("selecting rankings: %w", err)
	}
	defer rows.Close()

	var entries []ranking.Entry
	for rows.Next() {
		var e ranking.Entry
		err := rows.Scan(
			&e.ID, &e.CourseID, &e.UserID, &e.RunRecordID,
			&e.BestDurationSeconds, &e.BestPaceSecondsPerKm, &e.RunCount,
			&e.Rank, &e.AchievedAt, &e.CreatedAt, &e.UpdatedAt,
			&e.Nickname, &e.ProfileImageURL,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning ranking: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rankings: %w", err)
	}
	return entries, nil
}

// CountTopRankings counts the user's entries ranked at or above maxRank.
func (s *Store) CountTopRankings(ctx context.Context, userID uuid.UUID, maxRank int) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM rankings
		WHERE user_id = $1 AND rank IS NOT NULL AND rank <= $2`,
		userID, maxRank,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting top rankings: %w", err)
	}
	return count, nil
}
