package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/runbeat/server/pkg/domain/run"
	"github.com/runbeat/server/pkg/models"
)

// MountRunRoutes registers the live session lifecycle and run record
// endpoints.
func MountRunRoutes(r chi.Router, srv *Server) {
	r.Post("/runs/sessions", srv.HandleCreateSession)
	r.Post("/runs/sessions/{sessionID}/chunks", srv.HandleUploadChunk)
	r.Post("/runs/sessions/{sessionID}/chunks/batch", srv.HandleBatchUploadChunks)
	r.Post("/runs/sessions/{sessionID}/complete", srv.HandleCompleteSession)
	r.Post("/runs/sessions/{sessionID}/recover", srv.HandleRecoverSession)
	r.Get("/runs/{runID}", srv.HandleGetRunRecord)
}

// HandleCreateSession opens a live session when the user starts running.
func (s *Server) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req run.CreateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := s.Runs.CreateSession(r.Context(), UserFromContext(r.Context()).ID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id": session.ID,
		"created_at": session.CreatedAt,
	})
}

// HandleUploadChunk ingests one GPS chunk for an active session.
func (s *Server) HandleUploadChunk(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}
	var req run.ChunkRequest
	if !decodeBody(w, r, &req) {
		return
	}

	chunk, err := s.Runs.UploadChunk(r.Context(), UserFromContext(r.Context()).ID, sessionID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"chunk_id":    chunk.ID,
		"sequence":    chunk.Sequence,
		"received_at": chunk.CreatedAt,
	})
}

type batchChunksRequest struct {
	Chunks []run.ChunkRequest `json:"chunks"`
}

// HandleBatchUploadChunks backfills chunks the live upload missed.
func (s *Server) HandleBatchUploadChunks(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}
	var req batchChunksRequest
	if !decodeBody(w, r, &req) {
		return
	}

	received, failed, err := s.Runs.BatchUploadChunks(r.Context(), UserFromContext(r.Context()).ID, sessionID, req.Chunks)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"received_sequences": intSlice(received),
		"failed_sequences":   intSlice(failed),
	})
}

// HandleCompleteSession finalizes a session from the client summary.
func (s *Server) HandleCompleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}
	var req run.CompleteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.Runs.CompleteSession(r.Context(), UserFromContext(r.Context()).ID, sessionID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"run_record_id":           res.Record.ID,
		"user_stats_update":       res.UserStats,
		"missing_chunk_sequences": intSlice(res.MissingChunkSeq),
	})
}

// HandleRecoverSession rebuilds a crashed session from server-held
// chunks.
func (s *Server) HandleRecoverSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := uuidParam(w, r, "sessionID")
	if !ok {
		return
	}
	var req run.RecoverRequest
	if !decodeBody(w, r, &req) {
		return
	}

	res, err := s.Runs.RecoverSession(r.Context(), UserFromContext(r.Context()).ID, sessionID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_record_id":              res.Record.ID,
		"recovered_distance_meters":  res.Record.DistanceMeters,
		"recovered_duration_seconds": res.Record.DurationSeconds,
		"missing_chunk_sequences":    intSlice(res.MissingChunkSeq),
	})
}

type runCourseInfo struct {
	ID             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	DistanceMeters float64   `json:"distance_meters"`
}

type runCourseCompletion struct {
	IsCompleted       bool    `json:"is_completed"`
	RouteMatchPercent float64 `json:"route_match_percent"`
}

type runRecordDetail struct {
	ID                   uuid.UUID            `json:"id"`
	UserID               uuid.UUID            `json:"user_id"`
	CourseID             *uuid.UUID           `json:"course_id"`
	DistanceMeters       float64              `json:"distance_meters"`
	DurationSeconds      int                  `json:"duration_seconds"`
	TotalElapsedSeconds  int                  `json:"total_elapsed_seconds"`
	AvgPaceSecondsPerKm  int                  `json:"avg_pace_seconds_per_km"`
	BestPaceSecondsPerKm int                  `json:"best_pace_seconds_per_km"`
	AvgSpeedMS           float64              `json:"avg_speed_ms"`
	MaxSpeedMS           float64              `json:"max_speed_ms"`
	Calories             *int                 `json:"calories"`
	ElevationGainMeters  float64              `json:"elevation_gain_meters"`
	ElevationLossMeters  float64              `json:"elevation_loss_meters"`
	RouteGeometry        *geoLineString       `json:"route_geometry"`
	ElevationProfile     []float64            `json:"elevation_profile"`
	Splits               []models.Split       `json:"splits"`
	StartedAt            time.Time            `json:"started_at"`
	FinishedAt           time.Time            `json:"finished_at"`
	Course               *runCourseInfo       `json:"course"`
	CourseCompletion     *runCourseCompletion `json:"course_completion"`
}

// HandleGetRunRecord returns one record with its route, splits, and
// course context.
func (s *Server) HandleGetRunRecord(w http.ResponseWriter, r *http.Request) {
	recordID, ok := uuidParam(w, r, "runID")
	if !ok {
		return
	}

	rec, err := s.Runs.GetRunRecord(r.Context(), UserFromContext(r.Context()).ID, recordID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	detail := runRecordDetail{
		ID:                   rec.ID,
		UserID:               rec.UserID,
		CourseID:             rec.CourseID,
		DistanceMeters:       rec.DistanceMeters,
		DurationSeconds:      rec.DurationSeconds,
		TotalElapsedSeconds:  rec.TotalElapsedSeconds,
		AvgPaceSecondsPerKm:  rec.AvgPaceSecondsPerKm,
		BestPaceSecondsPerKm: rec.BestPaceSecondsPerKm,
		AvgSpeedMS:           rec.AvgSpeedMS,
		MaxSpeedMS:           rec.MaxSpeedMS,
		Calories:             rec.Calories,
		ElevationGainMeters:  rec.ElevationGainMeters,
		ElevationLossMeters:  rec.ElevationLossMeters,
		RouteGeometry:        lineString(rec.RouteCoordinates),
		ElevationProfile:     rec.ElevationProfile,
		Splits:               rec.Splits,
		StartedAt:            rec.StartedAt,
		FinishedAt:           rec.FinishedAt,
	}
	if rec.CourseCompleted != nil {
		completion := runCourseCompletion{IsCompleted: *rec.CourseCompleted}
		if rec.RouteMatchPercent != nil {
			completion.RouteMatchPercent = *rec.RouteMatchPercent
		}
		detail.CourseCompletion = &completion
	}
	if rec.CourseID != nil {
		c, err := s.Runs.GetCourse(r.Context(), *rec.CourseID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if c != nil {
			detail.Course = &runCourseInfo{ID: c.ID, Title: c.Title, DistanceMeters: c.DistanceMeters}
		}
	}

	writeJSON(w, http.StatusOK, detail)
}

// intSlice keeps empty sequence lists as [] on the wire, not null.
func intSlice(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}
