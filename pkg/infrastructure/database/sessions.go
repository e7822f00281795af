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

func (s *Store) CreateSession(ctx context.Context, session *models.RunSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	deviceInfo, err := jsonObject(session.DeviceInfo)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO run_sessions (id, user_id, course_id, status, started_at, finished_at, device_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		session.ID, session.UserID, session.CourseID, session.Status,
		session.StartedAt, session.FinishedAt, deviceInfo,
	).Scan(&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting run session: %w", err)
	}
	return nil
}

// GetSessionForUser returns nil when the session does not exist or
// belongs to another user.
func (s *Store) GetSessionForUser(ctx context.Context, sessionID, userID uuid.UUID) (*models.RunSession, error) {
	var (
		session    models.RunSession
		deviceInfo []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, course_id, status, started_at, finished_at, device_info, created_at, updated_at
		FROM run_sessions
		WHERE id = $1 AND user_id = $2`,
		sessionID, userID,
	).Scan(
		&session.ID, &session.UserID, &session.CourseID, &session.Status,
		&session.StartedAt, &session.FinishedAt, &deviceInfo,
		&session.CreatedAt, &session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting run session: %w", err)
	}
	if err := decodeJSON(deviceInfo, &session.DeviceInfo); err != nil {
		return nil, fmt.Errorf("decoding session device info: %w", err)
	}
	return &session, nil
}

func (s *Store) UpdateSessionStatus(ctx context.Context, sessionID uuid.UUID, status string, finishedAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE run_sessions
		SET status = $2, finished_at = COALESCE($3, finished_at), updated_at = NOW()
		WHERE id = $1`,
		sessionID, status, finishedAt)
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	return nil
}

func (s *Store) CreateChunk(ctx context.Context, chunk *models.RunChunk) error {
	if chunk.ID == uuid.Nil {
		chunk.ID = uuid.New()
	}
	rawPoints, err := jsonArray(chunk.RawPoints)
	if err != nil {
		return err
	}
	filteredPoints, err := jsonArray(chunk.FilteredPoints)
	if err != nil {
		return err
	}
	summary, err := jsonObject(chunk.ChunkSummary)
	if err != nil {
		return err
	}
	cumulative, err := jsonObject(chunk.Cumulative)
	if err != nil {
		return err
	}
	splits, err := jsonArray(chunk.CompletedSplits)
	if err != nil {
		return err
	}
	pauses, err := jsonArray(chunk.PauseIntervals)
	if err != nil {
		return err
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO run_chunks (id, session_id, sequence, chunk_type, raw_gps_points,
			filtered_points, chunk_summary, cumulative, completed_splits, pause_intervals)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		chunk.ID, chunk.SessionID, chunk.Sequence, chunk.ChunkType, rawPoints,
		filteredPoints, summary, cumulative, splits, pauses,
	).Scan(&chunk.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting run chunk: %w", err)
	}
	return nil
}

func (s *Store) ChunkExists(ctx context.Context, sessionID uuid.UUID, sequence int) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM run_chunks WHERE session_id = $1 AND sequence = $2)`,
		sessionID, sequence,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking chunk existence: %w", err)
	}
	return exists, nil
}

// ListChunks returns the session's chunks in ascending sequence order
// with all payloads decoded.
func (s *Store) ListChunks(ctx context.Context, sessionID uuid.UUID) ([]models.RunChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, sequence, chunk_type, raw_gps_points, filtered_points,
			chunk_summary, cumulative, completed_splits, pause_intervals, created_at
		FROM run_chunks
		WHERE session_id = $1
		ORDER BY sequence ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("selecting run chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.RunChunk
	for rows.Next() {
		var (
			chunk                                          models.RunChunk
			rawPoints, filteredPoints, summary, cumulative []byte
			splits, pauses                                 []byte
		)
		if err := rows.Scan(
			&chunk.ID, &chunk.SessionID, &chunk.Sequence, &chunk.ChunkType,
			&rawPoints, &filteredPoints, &summary, &cumulative, &splits, &pauses,
			&chunk.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning run chunk: %w", err)
		}
		for _, col := range []struct {
			raw []byte
			dst any
		}{
			{rawPoints, &chunk.RawPoints},
			{filteredPoints, &chunk.FilteredPoints},
			{summary, &chunk.ChunkSummary},
			{cumulative, &chunk.Cumulative},
			{splits, &chunk.CompletedSplits},
			{pauses, &chunk.PauseIntervals},
		} {
			if err := decodeJSON(col.raw, col.dst); err != nil {
				return nil, fmt.Errorf("decoding chunk payload: %w", err)
			}
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run chunks: %w", err)
	}
	return chunks, nil
}

func (s *Store) ListChunkSequences(ctx context.Context, sessionID uuid.UUID) ([]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sequence FROM run_chunks WHERE session_id = $1 ORDER BY sequence ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("selecting chunk sequences: %w", err)
	}
	defer rows.Close()

	var sequences []int
	for rows.Next() {
		var seq int
		if err := rows.Scan(&seq); err != nil {
			return nil, fmt.Errorf("scanning chunk sequence: %w", err)
		}
		sequences = append(sequences, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunk sequences: %w", err)
	}
	return sequences, nil
}
