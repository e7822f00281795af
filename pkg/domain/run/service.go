// Package run implements the live session lifecycle: session creation,
// durable chunk ingest, finalization from a client summary, and crash
// recovery from the server-held chunks alone.
package run

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	shared "github.com/runbeat/server/pkg"
	"github.com/runbeat/server/pkg/apperror"
	"github.com/runbeat/server/pkg/domain/anomaly"
	"github.com/runbeat/server/pkg/models"
)

// Store is the persistence surface the run service needs. Lookups scoped
// to a user return nil (not an error) when the row is absent or owned by
// someone else, so ownership violations surface as not-found.
type Store interface {
	CreateSession(ctx context.Context, session *models.RunSession) error
	GetSessionForUser(ctx context.Context, sessionID, userID uuid.UUID) (*models.RunSession, error)
	UpdateSessionStatus(ctx context.Context, sessionID uuid.UUID, status string, finishedAt *time.Time) error

	CreateChunk(ctx context.Context, chunk *models.RunChunk) error
	ChunkExists(ctx context.Context, sessionID uuid.UUID, sequence int) (bool, error)
	// ListChunks returns all chunks for a session in ascending sequence order.
	ListChunks(ctx context.Context, sessionID uuid.UUID) ([]models.RunChunk, error)
	ListChunkSequences(ctx context.Context, sessionID uuid.UUID) ([]int, error)

	CreateRunRecord(ctx context.Context, rec *models.RunRecord) error
	GetRunRecordForUser(ctx context.Context, recordID, userID uuid.UUID) (*models.RunRecord, error)
	ListRunRecords(ctx context.Context, userID uuid.UUID, page, perPage int) ([]models.RunRecord, int, error)

	GetCourse(ctx context.Context, courseID uuid.UUID) (*models.Course, error)
	CourseTitles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// Service owns the RunSession state machine. Sessions only move forward:
// active to completed or recovered, never back.
type Service struct {
	store  Store
	queue  shared.TaskQueue
	logger *slog.Logger
}

func NewService(store Store, queue shared.TaskQueue, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		queue:  queue,
		logger: logger.With("component", "run"),
	}
}

type CreateSessionRequest struct {
	StartedAt  time.Time         `json:"started_at"`
	CourseID   *uuid.UUID        `json:"course_id"`
	DeviceInfo map[string]string `json:"device_info"`
}

// CreateSession opens a live session. A bound course must exist; nothing
// else about it is checked until completion.
func (s *Service) CreateSession(ctx context.Context, userID uuid.UUID, req CreateSessionRequest) (*models.RunSession, error) {
	if req.StartedAt.IsZero() {
		return nil, apperror.Validation("started_at is required")
	}

	if req.CourseID != nil {
		course, err := s.store.GetCourse(ctx, *req.CourseID)
		if err != nil {
			return nil, fmt.Errorf("looking up course: %w", err)
		}
		if course == nil {
			return nil, apperror.NotFound("Course not found")
		}
	}

	session := &models.RunSession{
		ID:         uuid.New(),
		UserID:     userID,
		CourseID:   req.CourseID,
		Status:     shared.SessionActive,
		StartedAt:  req.StartedAt,
		DeviceInfo: req.DeviceInfo,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Info("session started", "session_id", session.ID, "user_id", userID, "course_bound", req.CourseID != nil)
	return session, nil
}

type ChunkRequest struct {
	Sequence        int                    `json:"sequence"`
	ChunkType       string                 `json:"chunk_type"`
	RawPoints       []models.TrackPoint    `json:"raw_gps_points"`
	FilteredPoints  []models.TrackPoint    `json:"filtered_points"`
	ChunkSummary    map[string]float64     `json:"chunk_summary"`
	Cumulative      models.ChunkCumulative `json:"cumulative"`
	CompletedSplits []models.Split         `json:"completed_splits"`
	PauseIntervals  []models.PauseInterval `json:"pause_intervals"`
}

func (r ChunkRequest) validate() error {
	if r.Sequence < 0 {
		return apperror.Validation("sequence must be non-negative")
	}
	if r.ChunkType != shared.ChunkIntermediate && r.ChunkType != shared.ChunkFinal {
		return apperror.Validation("chunk_type must be 'intermediate' or 'final'")
	}
	if len(r.RawPoints) == 0 {
		return apperror.Validation("raw_gps_points must not be empty")
	}
	return nil
}

// UploadChunk persists one chunk of a live session. Out-of-order arrival
// is fine; a repeated sequence is a conflict so the client knows the
// chunk is already safe.
func (s *Service) UploadChunk(ctx context.Context, userID, sessionID uuid.UUID, req ChunkRequest) (*models.RunChunk, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	if _, err := s.ownedSession(ctx, userID, sessionID, shared.SessionActive); err != nil {
		return nil, err
	}

	exists, err := s.store.ChunkExists(ctx, sessionID, req.Sequence)
	if err != nil {
		return nil, fmt.Errorf("checking chunk %d: %w", req.Sequence, err)
	}
	if exists {
		return nil, apperror.Conflict(apperror.CodeDuplicateChunk,
			fmt.Sprintf("Chunk with sequence %d already exists", req.Sequence))
	}

	chunk := s.buildChunk(sessionID, req)
	if err := s.store.CreateChunk(ctx, chunk); err != nil {
		return nil, fmt.Errorf("storing chunk %d: %w", req.Sequence, err)
	}

	s.logger.Debug("chunk stored", "session_id", sessionID, "sequence", req.Sequence, "points", len(req.RawPoints))
	return chunk, nil
}

// BatchUploadChunks backfills chunks a client failed to deliver live. It
// stays available after completion and recovery so crashed clients can
// finish the upload. Duplicates count as accepted: the data is already
// durable, which is all the client needs to know.
func (s *Service) BatchUploadChunks(ctx context.Context, userID, sessionID uuid.UUID, chunks []ChunkRequest) (received, failed []int, err error) {
	_, err = s.ownedSession(ctx, userID, sessionID,
		shared.SessionActive, shared.SessionCompleted, shared.SessionRecovered)
	if err != nil {
		return nil, nil, err
	}

	received = []int{}
	failed = []int{}
	for _, req := range chunks {
		if err := req.validate(); err != nil {
			failed = append(failed, req.Sequence)
			continue
		}

		exists, err := s.store.ChunkExists(ctx, sessionID, req.Sequence)
		if err != nil {
			s.logger.Warn("batch chunk lookup failed", "session_id", sessionID, "sequence", req.Sequence, "error", err)
			failed = append(failed, req.Sequence)
			continue
		}
		if exists {
			received = append(received, req.Sequence)
			continue
		}

		if err := s.store.CreateChunk(ctx, s.buildChunk(sessionID, req)); err != nil {
			s.logger.Warn("batch chunk insert failed", "session_id", sessionID, "sequence", req.Sequence, "error", err)
			failed = append(failed, req.Sequence)
			continue
		}
		received = append(received, req.Sequence)
	}

	s.logger.Info("batch upload finished", "session_id", sessionID, "received", len(received), "failed", len(failed))
	return received, failed, nil
}

type CourseCompletionInfo struct {
	IsCompleted        bool    `json:"is_completed"`
	RouteMatchPercent  float64 `json:"route_match_percent"`
	MaxDeviationMeters float64 `json:"max_deviation_meters"`
	DeviationPoints    int     `json:"deviation_points"`
}

type RouteGeometry struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

// CompleteRequest is the client's finalized summary. Live clients run the
// same derivation we do, so their numbers are taken as authoritative.
type CompleteRequest struct {
	DistanceMeters       float64                `json:"distance_meters"`
	DurationSeconds      int                    `json:"duration_seconds"`
	TotalElapsedSeconds  int                    `json:"total_elapsed_seconds"`
	AvgPaceSecondsPerKm  int                    `json:"avg_pace_seconds_per_km"`
	BestPaceSecondsPerKm int                    `json:"best_pace_seconds_per_km"`
	AvgSpeedMS           float64                `json:"avg_speed_ms"`
	MaxSpeedMS           float64                `json:"max_speed_ms"`
	Calories             *int                   `json:"calories"`
	FinishedAt           time.Time              `json:"finished_at"`
	RouteGeometry        RouteGeometry          `json:"route_geometry"`
	ElevationGainMeters  float64                `json:"elevation_gain_meters"`
	ElevationLossMeters  float64                `json:"elevation_loss_meters"`
	ElevationProfile     []float64              `json:"elevation_profile"`
	Splits               []models.Split         `json:"splits"`
	PauseIntervals       []models.PauseInterval `json:"pause_intervals"`
	CourseCompletion     *CourseCompletionInfo  `json:"course_completion"`
	FilterConfig         map[string]any         `json:"filter_config"`
	TotalChunks          int                    `json:"total_chunks"`
}

type UserStatsUpdate struct {
	TotalDistanceMeters float64 `json:"total_distance_meters"`
	TotalRuns           int     `json:"total_runs"`
}

type CompleteResult struct {
	Record          *models.RunRecord
	UserStats       UserStatsUpdate
	MissingChunkSeq []int
}

// CompleteSession finalizes an active session into a RunRecord. The
// returned missing sequences are the gap between the client's chunk count
// and what actually reached the server; the client backfills them through
// the batch endpoint afterwards.
func (s *Service) CompleteSession(ctx context.Context, userID, sessionID uuid.UUID, req CompleteRequest) (*CompleteResult, error) {
	if req.FinishedAt.IsZero() {
		return nil, apperror.Validation("finished_at is required")
	}
	if req.DistanceMeters < 0 || req.DurationSeconds < 0 {
		return nil, apperror.Validation("distance_meters and duration_seconds must be non-negative")
	}

	session, err := s.ownedSession(ctx, userID, sessionID, shared.SessionActive)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user == nil {
		return nil, apperror.NotFound("User not found")
	}

	rec := &models.RunRecord{
		ID:                   uuid.New(),
		UserID:               userID,
		SessionID:            &session.ID,
		CourseID:             session.CourseID,
		StartedAt:            session.StartedAt,
		FinishedAt:           req.FinishedAt,
		DistanceMeters:       req.DistanceMeters,
		DurationSeconds:      req.DurationSeconds,
		TotalElapsedSeconds:  req.TotalElapsedSeconds,
		AvgPaceSecondsPerKm:  req.AvgPaceSecondsPerKm,
		BestPaceSecondsPerKm: req.BestPaceSecondsPerKm,
		AvgSpeedMS:           req.AvgSpeedMS,
		MaxSpeedMS:           req.MaxSpeedMS,
		Calories:             req.Calories,
		ElevationGainMeters:  req.ElevationGainMeters,
		ElevationLossMeters:  req.ElevationLossMeters,
		RouteCoordinates:     req.RouteGeometry.Coordinates,
		ElevationProfile:     req.ElevationProfile,
		Splits:               req.Splits,
		PauseIntervals:       req.PauseIntervals,
		Source:               shared.SourceApp,
		DeviceInfo:           session.DeviceInfo,
		FilterConfig:         req.FilterConfig,
	}
	if rec.TotalElapsedSeconds <= 0 {
		rec.TotalElapsedSeconds = req.DurationSeconds
	}

	// Completion data is only meaningful against the session's bound
	// course; a free run ignores whatever the client claims to have matched.
	if session.CourseID != nil && req.CourseCompletion != nil {
		cc := *req.CourseCompletion
		rec.CourseCompleted = &cc.IsCompleted
		rec.RouteMatchPercent = &cc.RouteMatchPercent
		rec.MaxDeviationMeters = &cc.MaxDeviationMeters
	}

	flag := anomaly.Check(anomaly.Summary{
		DistanceMeters:       rec.DistanceMeters,
		DurationSeconds:      rec.DurationSeconds,
		AvgSpeedMS:           rec.AvgSpeedMS,
		MaxSpeedMS:           rec.MaxSpeedMS,
		BestPaceSecondsPerKm: rec.BestPaceSecondsPerKm,
		Splits:               rec.Splits,
	})
	rec.IsFlagged = flag.IsFlagged
	rec.FlagReason = flag.Reason
	rec.FlagConfidence = flag.Confidence

	if err := s.store.CreateRunRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating run record: %w", err)
	}
	if err := s.store.UpdateSessionStatus(ctx, sessionID, shared.SessionCompleted, &req.FinishedAt); err != nil {
		return nil, fmt.Errorf("completing session: %w", err)
	}

	missing, err := s.missingSequences(ctx, sessionID, req.TotalChunks)
	if err != nil {
		return nil, err
	}

	s.enqueueStats(ctx, rec)
	if rec.CourseID != nil && rec.CourseCompleted != nil && *rec.CourseCompleted && !rec.IsFlagged {
		s.enqueueRanking(ctx, rec)
	}

	s.logger.Info("session completed",
		"session_id", sessionID,
		"run_record_id", rec.ID,
		"distance_m", rec.DistanceMeters,
		"missing_chunks", len(missing),
		"flagged", rec.IsFlagged)

	return &CompleteResult{
		Record: rec,
		UserStats: UserStatsUpdate{
			TotalDistanceMeters: user.TotalDistanceMeters + rec.DistanceMeters,
			TotalRuns:           user.TotalRuns + 1,
		},
		MissingChunkSeq: missing,
	}, nil
}

type RecoverRequest struct {
	FinishedAt  time.Time `json:"finished_at"`
	TotalChunks int       `json:"total_chunks"`
	// UploadedChunkSequences is what the client believes it sent. The
	// server-held chunks are the source of truth, so it is not consulted.
	UploadedChunkSequences []int `json:"uploaded_chunk_sequences"`
}

type RecoverResult struct {
	Record          *models.RunRecord
	MissingChunkSeq []int
}

// RecoverSession rebuilds a summary for a session whose client died
// before calling complete. Everything comes from the persisted chunks:
// the last chunk's cumulative totals are authoritative, the polyline is
// the concatenation of each chunk's filtered (or raw) points in sequence
// order. A recovered session may be recovered again if more chunks arrive
// via batch backfill.
func (s *Service) RecoverSession(ctx context.Context, userID, sessionID uuid.UUID, req RecoverRequest) (*RecoverResult, error) {
	if req.FinishedAt.IsZero() {
		return nil, apperror.Validation("finished_at is required")
	}

	session, err := s.store.GetSessionForUser(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if session == nil {
		return nil, apperror.NotFound("Session not found")
	}
	if session.Status == shared.SessionCompleted {
		return nil, apperror.Conflict(apperror.CodeAlreadyCompleted, "Session already completed")
	}

	chunks, err := s.store.ListChunks(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}
	if len(chunks) == 0 {
		return nil, apperror.NoChunks("No chunks found for this session, cannot recover")
	}

	last := chunks[len(chunks)-1]

	var points []models.TrackPoint
	var splits []models.Split
	var pauses []models.PauseInterval
	for _, chunk := range chunks {
		pts := chunk.FilteredPoints
		if len(pts) == 0 {
			pts = chunk.RawPoints
		}
		points = append(points, pts...)
		splits = append(splits, chunk.CompletedSplits...)
		pauses = append(pauses, chunk.PauseIntervals...)
	}

	rec := &models.RunRecord{
		ID:                  uuid.New(),
		UserID:              userID,
		SessionID:           &session.ID,
		CourseID:            session.CourseID,
		StartedAt:           session.StartedAt,
		FinishedAt:          req.FinishedAt,
		DistanceMeters:      last.Cumulative.DistanceMeters,
		DurationSeconds:     last.Cumulative.DurationSeconds,
		TotalElapsedSeconds: last.Cumulative.DurationSeconds,
		AvgPaceSecondsPerKm: last.Cumulative.AvgPaceSecondsPerKm,
		ElevationGainMeters: last.Cumulative.ElevationGainMeters,
		ElevationLossMeters: last.Cumulative.ElevationLossMeters,
		Splits:              splits,
		PauseIntervals:      pauses,
		Source:              shared.SourceApp,
		DeviceInfo:          session.DeviceInfo,
	}
	if len(points) >= 2 {
		coords := make([][]float64, len(points))
		for i, p := range points {
			coords[i] = []float64{p.Longitude, p.Latitude, p.Altitude}
		}
		rec.RouteCoordinates = coords
	}

	flag := anomaly.Check(anomaly.Summary{
		DistanceMeters:  rec.DistanceMeters,
		DurationSeconds: rec.DurationSeconds,
		Splits:          rec.Splits,
	})
	rec.IsFlagged = flag.IsFlagged
	rec.FlagReason = flag.Reason
	rec.FlagConfidence = flag.Confidence

	if err := s.store.CreateRunRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating run record: %w", err)
	}
	if err := s.store.UpdateSessionStatus(ctx, sessionID, shared.SessionRecovered, &req.FinishedAt); err != nil {
		return nil, fmt.Errorf("recovering session: %w", err)
	}

	missing, err := s.missingSequences(ctx, sessionID, req.TotalChunks)
	if err != nil {
		return nil, err
	}

	s.enqueueStats(ctx, rec)

	s.logger.Info("session recovered",
		"session_id", sessionID,
		"run_record_id", rec.ID,
		"chunks", len(chunks),
		"distance_m", rec.DistanceMeters,
		"missing_chunks", len(missing))

	return &RecoverResult{Record: rec, MissingChunkSeq: missing}, nil
}

// GetRunRecord fetches one record, scoped to its owner.
func (s *Service) GetRunRecord(ctx context.Context, userID, recordID uuid.UUID) (*models.RunRecord, error) {
	rec, err := s.store.GetRunRecordForUser(ctx, recordID, userID)
	if err != nil {
		return nil, fmt.Errorf("loading run record: %w", err)
	}
	if rec == nil {
		return nil, apperror.NotFound("Run record not found")
	}
	return rec, nil
}

// ListRunRecords pages through a user's history, newest first.
func (s *Service) ListRunRecords(ctx context.Context, userID uuid.UUID, page, perPage int) ([]models.RunRecord, int, error) {
	if page < 0 {
		page = 0
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return s.store.ListRunRecords(ctx, userID, page, perPage)
}

// HistoryCourse names the course a history row was run on.
type HistoryCourse struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
}

// HistoryItem is one row of the run history screen.
type HistoryItem struct {
	ID                  uuid.UUID      `json:"id"`
	DistanceMeters      float64        `json:"distance_meters"`
	DurationSeconds     int            `json:"duration_seconds"`
	AvgPaceSecondsPerKm int            `json:"avg_pace_seconds_per_km"`
	ElevationGainMeters float64        `json:"elevation_gain_meters"`
	StartedAt           time.Time      `json:"started_at"`
	FinishedAt          time.Time      `json:"finished_at"`
	Course              *HistoryCourse `json:"course"`
}

// RunHistory lists a page of records decorated with course titles.
func (s *Service) RunHistory(ctx context.Context, userID uuid.UUID, page, perPage int) ([]HistoryItem, int, error) {
	records, total, err := s.ListRunRecords(ctx, userID, page, perPage)
	if err != nil {
		return nil, 0, err
	}

	var courseIDs []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, rec := range records {
		if rec.CourseID != nil && !seen[*rec.CourseID] {
			seen[*rec.CourseID] = true
			courseIDs = append(courseIDs, *rec.CourseID)
		}
	}
	titles := map[uuid.UUID]string{}
	if len(courseIDs) > 0 {
		if titles, err = s.store.CourseTitles(ctx, courseIDs); err != nil {
			return nil, 0, fmt.Errorf("loading course titles: %w", err)
		}
	}

	items := make([]HistoryItem, 0, len(records))
	for _, rec := range records {
		item := HistoryItem{
			ID:                  rec.ID,
			DistanceMeters:      rec.DistanceMeters,
			DurationSeconds:     rec.DurationSeconds,
			AvgPaceSecondsPerKm: rec.AvgPaceSecondsPerKm,
			ElevationGainMeters: rec.ElevationGainMeters,
			StartedAt:           rec.StartedAt,
			FinishedAt:          rec.FinishedAt,
		}
		if rec.CourseID != nil {
			item.Course = &HistoryCourse{ID: *rec.CourseID, Title: titles[*rec.CourseID]}
		}
		items = append(items, item)
	}
	return items, total, nil
}

// GetCourse resolves the course linked to a run for detail responses.
func (s *Service) GetCourse(ctx context.Context, courseID uuid.UUID) (*models.Course, error) {
	return s.store.GetCourse(ctx, courseID)
}

func (s *Service) ownedSession(ctx context.Context, userID, sessionID uuid.UUID, allowed ...string) (*models.RunSession, error) {
	session, err := s.store.GetSessionForUser(ctx, sessionID, userID)
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if session == nil {
		return nil, apperror.NotFound("Session not found")
	}

	for _, status := range allowed {
		if session.Status == status {
			return session, nil
		}
	}
	return nil, apperror.InvalidSessionState(
		fmt.Sprintf("Session is in '%s' state, expected one of %s", session.Status, strings.Join(allowed, ", ")))
}

func (s *Service) buildChunk(sessionID uuid.UUID, req ChunkRequest) *models.RunChunk {
	return &models.RunChunk{
		ID:              uuid.New(),
		SessionID:       sessionID,
		Sequence:        req.Sequence,
		ChunkType:       req.ChunkType,
		RawPoints:       req.RawPoints,
		FilteredPoints:  req.FilteredPoints,
		ChunkSummary:    req.ChunkSummary,
		Cumulative:      req.Cumulative,
		CompletedSplits: req.CompletedSplits,
		PauseIntervals:  req.PauseIntervals,
		CreatedAt:       time.Now().UTC(),
	}
}

// missingSequences diffs the client's chunk count against what the server
// holds. total comes from the client; zero means it never counted, so
// nothing can be reported missing.
func (s *Service) missingSequences(ctx context.Context, sessionID uuid.UUID, total int) ([]int, error) {
	missing := []int{}
	if total <= 0 {
		return missing, nil
	}

	sequences, err := s.store.ListChunkSequences(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing chunk sequences: %w", err)
	}
	have := make(map[int]bool, len(sequences))
	for _, seq := range sequences {
		have[seq] = true
	}
	for seq := 0; seq < total; seq++ {
		if !have[seq] {
			missing = append(missing, seq)
		}
	}
	return missing, nil
}

type updateStatsTask struct {
	UserID          uuid.UUID  `json:"user_id"`
	RunRecordID     uuid.UUID  `json:"run_record_id"`
	CourseID        *uuid.UUID `json:"course_id,omitempty"`
	DistanceMeters  float64    `json:"distance_meters"`
	DurationSeconds int        `json:"duration_seconds"`
}

func (s *Service) enqueueStats(ctx context.Context, rec *models.RunRecord) {
	payload, err := json.Marshal(updateStatsTask{
		UserID:          rec.UserID,
		RunRecordID:     rec.ID,
		CourseID:        rec.CourseID,
		DistanceMeters:  rec.DistanceMeters,
		DurationSeconds: rec.DurationSeconds,
	})
	if err != nil {
		s.logger.Error("encoding stats task", "error", err)
		return
	}
	if err := s.queue.Enqueue(ctx, shared.Task{Name: shared.TaskUpdateStats, Payload: payload}); err != nil {
		s.logger.Error("queueing stats update", "run_record_id", rec.ID, "error", err)
	}
}

type updateRankingTask struct {
	CourseID    uuid.UUID `json:"course_id"`
	UserID      uuid.UUID `json:"user_id"`
	RunRecordID uuid.UUID `json:"run_record_id"`
}

func (s *Service) enqueueRanking(ctx context.Context, rec *models.RunRecord) {
	payload, err := json.Marshal(updateRankingTask{
		CourseID:    *rec.CourseID,
		UserID:      rec.UserID,
		RunRecordID: rec.ID,
	})
	if err != nil {
		s.logger.Error("encoding ranking task", "error", err)
		return
	}
	if err := s.queue.Enqueue(ctx, shared.Task{Name: shared.TaskUpdateRanking, Payload: payload}); err != nil {
		s.logger.Error("queueing ranking update", "run_record_id", rec.ID, "error", err)
	}
}
