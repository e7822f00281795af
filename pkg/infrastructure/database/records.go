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

// recordScalarColumns are the cheap columns every record query selects.
// Detail lookups add the geometry and JSON payloads on top.
const recordScalarColumns = `id, user_id, session_id, course_id, distance_meters,
	duration_seconds, total_elapsed_seconds, avg_pace_seconds_per_km,
	best_pace_seconds_per_km, avg_speed_ms, max_speed_ms, calories,
	avg_heart_rate, max_heart_rate, elevation_gain_meters, elevation_loss_meters,
	course_completed, route_match_percent, max_deviation_meters,
	is_flagged, COALESCE(flag_reason, ''), flag_confidence, source,
	external_import_id, started_at, finished_at, created_at, updated_at`

func scanRecordScalars(rows pgx.Rows) (models.RunRecord, error) {
	var rec models.RunRecord
	err := rows.Scan(
		&rec.ID, &rec.UserID, &rec.SessionID, &rec.CourseID, &rec.DistanceMeters,
		&rec.DurationSeconds, &rec.TotalElapsedSeconds, &rec.AvgPaceSecondsPerKm,
		&rec.BestPaceSecondsPerKm, &rec.AvgSpeedMS, &rec.MaxSpeedMS, &rec.Calories,
		&rec.AvgHeartRate, &rec.MaxHeartRate, &rec.ElevationGainMeters, &rec.ElevationLossMeters,
		&rec.CourseCompleted, &rec.RouteMatchPercent, &rec.MaxDeviationMeters,
		&rec.IsFlagged, &rec.FlagReason, &rec.FlagConfidence, &rec.Source,
		&rec.ExternalImportID, &rec.StartedAt, &rec.FinishedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	return rec, err
}

func (s *Store) CreateRunRecord(ctx context.Context, rec *models.RunRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	route, err := lineGeoJSON(rec.RouteCoordinates)
	if err != nil {
		return err
	}
	profile, err := jsonArray(rec.ElevationProfile)
	if err != nil {
		return err
	}
	splits, err := jsonArray(rec.Splits)
	if err != nil {
		return err
	}
	pauses, err := jsonArray(rec.PauseIntervals)
	if err != nil {
		return err
	}
	filterConfig, err := jsonObject(rec.FilterConfig)
	if err != nil {
		return err
	}
	deviceInfo, err := jsonObject(rec.DeviceInfo)
	if err != nil {
		return err
	}

	source := rec.Source
	if source == "" {
		source = shared.SourceApp
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO run_records (
			id, user_id, session_id, course_id, distance_meters, duration_seconds,
			total_elapsed_seconds, avg_pace_seconds_per_km, best_pace_seconds_per_km,
			avg_speed_ms, max_speed_ms, calories, avg_heart_rate, max_heart_rate,
			elevation_gain_meters, elevation_loss_meters, elevation_profile, splits,
			pause_intervals, filter_config, device_info, course_completed,
			route_match_percent, max_deviation_meters, is_flagged, flag_reason,
			flag_confidence, source, external_import_id, route_geometry,
			started_at, finished_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, NULLIF($26, ''), $27, $28,
			$29, ST_GeomFromGeoJSON($30::text)::geography, $31, $32
		)
		RETURNING created_at, updated_at`,
		rec.ID, rec.UserID, rec.SessionID, rec.CourseID, rec.DistanceMeters, rec.DurationSeconds,
		rec.TotalElapsedSeconds, rec.AvgPaceSecondsPerKm, rec.BestPaceSecondsPerKm,
		rec.AvgSpeedMS, rec.MaxSpeedMS, rec.Calories, rec.AvgHeartRate, rec.MaxHeartRate,
		rec.ElevationGainMeters, rec.ElevationLossMeters, profile, splits,
		pauses, filterConfig, deviceInfo, rec.CourseCompleted,
		rec.RouteMatchPercent, rec.MaxDeviationMeters, rec.IsFlagged, rec.FlagReason,
		rec.FlagConfidence, source, rec.ExternalImportID, route,
		rec.StartedAt, rec.FinishedAt,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting run record: %w", err)
	}
	rec.Source = source
	return nil
}

func (s *Store) getRecord(ctx context.Context, where string, args ...any) (*models.RunRecord, error) {
	var (
		rec    models.RunRecord
		route  []byte
		detail [5][]byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, session_id, course_id, distance_meters, duration_seconds,
			total_elapsed_seconds, avg_pace_seconds_per_km, best_pace_seconds_per_km,
			avg_speed_ms, max_speed_ms, calories, avg_heart_rate, max_heart_rate,
			elevation_gain_meters, elevation_loss_meters, course_completed,
			route_match_percent, max_deviation_meters, is_flagged,
			COALESCE(flag_reason, ''), flag_confidence, source, external_import_id,
			started_at, finished_at, created_at, updated_at,
			ST_AsGeoJSON(route_geometry), elevation_profile, splits, pause_intervals,
			filter_config, device_info
		FROM run_records
		WHERE `+where,
		args...,
	).Scan(
		&rec.ID, &rec.UserID, &rec.SessionID, &rec.CourseID, &rec.DistanceMeters, &rec.DurationSeconds,
		&rec.TotalElapsedSeconds, &rec.AvgPaceSecondsPerKm, &rec.BestPaceSecondsPerKm,
		&rec.AvgSpeedMS, &rec.MaxSpeedMS, &rec.Calories, &rec.AvgHeartRate, &rec.MaxHeartRate,
		&rec.ElevationGainMeters, &rec.ElevationLossMeters, &rec.CourseCompleted,
		&rec.RouteMatchPercent, &rec.MaxDeviationMeters, &rec.IsFlagged,
		&rec.FlagReason, &rec.FlagConfidence, &rec.Source, &rec.ExternalImportID,
		&rec.StartedAt, &rec.FinishedAt, &rec.CreatedAt, &rec.UpdatedAt,
		&route, &detail[0], &detail[1], &detail[2], &detail[3], &detail[4],
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting run record: %w", err)
	}

	if rec.RouteCoordinates, err = decodeLineGeoJSON(route); err != nil {
		return nil, err
	}
	for i, dst := range []any{
		&rec.ElevationProfile, &rec.Splits, &rec.PauseIntervals,
		&rec.FilterConfig, &rec.DeviceInfo,
	} {
		if err := decodeJSON(detail[i], dst); err != nil {
			return nil, fmt.Errorf("decoding record payload: %w", err)
		}
	}
	return &rec, nil
}

// GetRunRecord loads one record with full payloads. Background tasks use
// it; there is no ownership scope.
func (s *Store) GetRunRecord(ctx context.Context, id uuid.UUID) (*models.RunRecord, error) {
	return s.getRecord(ctx, "id = $1", id)
}

// GetRunRecordForUser returns nil when the record is absent or owned by
// another user.
func (s *Store) GetRunRecordForUser(ctx context.Context, recordID, userID uuid.UUID) (*models.RunRecord, error) {
	return s.getRecord(ctx, "id = $1 AND user_id = $2", recordID, userID)
}

// ListRunRecords pages through a user's records newest-finished first.
// Rows carry scalar summary columns only; detail lookups load the route
// and split payloads.
func (s *Store) ListRunRecords(ctx context.Context, userID uuid.UUID, page, perPage int) ([]models.RunRecord, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM run_records WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting run records: %w", err)
	}

	limit, offset := pageBounds(page, perPage)
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordScalarColumns+`
		FROM run_records
		WHERE user_id = $1
		ORDER BY finished_at DESC
		LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("selecting run records: %w", err)
	}
	defer rows.Close()

	var records []models.RunRecord
	for rows.Next() {
		rec, err := scanRecordScalars(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning run record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating run records: %w", err)
	}
	return records, total, nil
}

func (s *Store) DeleteRunRecord(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM run_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting run record: %w", err)
	}
	return nil
}

// BestCourseRun is the user's fastest completed attempt on a course, nil
// when they have none.
func (s *Store) BestCourseRun(ctx context.Context, courseID, userID uuid.UUID) (*models.RunRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordScalarColumns+`
		FROM run_records
		WHERE course_id = $1 AND user_id = $2 AND course_completed AND NOT is_flagged
		ORDER BY duration_seconds ASC
		LIMIT 1`,
		courseID, userID)
	if err != nil {
		return nil, fmt.Errorf("selecting best course run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanRecordScalars(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning best course run: %w", err)
	}
	return &rec, nil
}

// ListCompletedCourseRecords returns every completed, unflagged attempt
// on a course; the stats recompute aggregates over them.
func (s *Store) ListCompletedCourseRecords(ctx context.Context, courseID uuid.UUID) ([]models.RunRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordScalarColumns+`
		FROM run_records
		WHERE course_id = $1 AND course_completed AND NOT is_flagged`,
		courseID)
	if err != nil {
		return nil, fmt.Errorf("selecting completed course records: %w", err)
	}
	defer rows.Close()

	var records []models.RunRecord
	for rows.Next() {
		rec, err := scanRecordScalars(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning course record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating course records: %w", err)
	}
	return records, nil
}

// CountCourseAttempts counts every record bound to the course, flagged
// and incomplete ones included.
func (s *Store) CountCourseAttempts(ctx context.Context, courseID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM run_records WHERE course_id = $1`, courseID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting course attempts: %w", err)
	}
	return n, nil
}

// ListUserRecords returns a user's records newest-finished first,
// optionally bounded to finished_at >= since. Scalar columns only.
func (s *Store) ListUserRecords(ctx context.Context, userID uuid.UUID, since *time.Time) ([]models.RunRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordScalarColumns+`
		FROM run_records
		WHERE user_id = $1 AND ($2::timestamptz IS NULL OR finished_at >= $2)
		ORDER BY finished_at DESC`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("selecting user records: %w", err)
	}
	defer rows.Close()

	var records []models.RunRecord
	for rows.Next() {
		rec, err := scanRecordScalars(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user records: %w", err)
	}
	return records, nil
}

// CountCompletedCourses counts distinct courses the user has finished.
func (s *Store) CountCompletedCourses(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(DISTINCT course_id) FROM run_records
		WHERE user_id = $1 AND course_completed AND NOT is_flagged`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting completed courses: %w", err)
	}
	return n, nil
}

// CountUserCourseRuns counts the user's course-bound attempts.
func (s *Store) CountUserCourseRuns(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM run_records WHERE user_id = $1 AND course_id IS NOT NULL`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting course runs: %w", err)
	}
	return n, nil
}
