package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	shared "github.com/runbeat/server/pkg"
	"github.com/runbeat/server/pkg/apperror"
	"github.com/runbeat/server/pkg/domain/anomaly"
	"github.com/runbeat/server/pkg/domain/course"
	"github.com/runbeat/server/pkg/domain/trace"
	"github.com/runbeat/server/pkg/infrastructure/metrics"
	"github.com/runbeat/server/pkg/infrastructure/strava"
	"github.com/runbeat/server/pkg/models"
)

const (
	// courseMatchRadiusMeters bounds the candidate search around the
	// first GPS point.
	courseMatchRadiusMeters = 500
	courseMatchCandidates   = 10

	// defaultSyncBatch is how many recent Strava activities a sync-all
	// pass inspects.
	defaultSyncBatch = 20
)

// Validation failures are stored verbatim on the import row, so these
// read as user-facing messages rather than Go error strings.
var (
	errTooShortDistance = errors.New("Activity too short (< 100m)")
	errTooShortDuration = errors.New("Activity too short (< 30s)")
	errNoGPSData        = errors.New("No GPS data in file")
)

// Store is the persistence surface the import pipeline needs. The
// Postgres store implements it.
type Store interface {
	strava.ConnectionStore

	CreateImport(ctx context.Context, imp *models.ExternalImport) error
	GetImport(ctx context.Context, id uuid.UUID) (*models.ExternalImport, error)
	GetImportForUser(ctx context.Context, id, userID uuid.UUID) (*models.ExternalImport, error)
	ListImports(ctx context.Context, userID uuid.UUID, page, perPage int) ([]models.ExternalImport, int, error)
	UpdateImportStatus(ctx context.Context, id uuid.UUID, status, errorMessage string) error
	CompleteImport(ctx context.Context, imp *models.ExternalImport) error
	DeleteImport(ctx context.Context, id uuid.UUID) error
	ImportExists(ctx context.Context, userID uuid.UUID, source, externalID string) (bool, error)

	CreateSession(ctx context.Context, session *models.RunSession) error
	CreateRunRecord(ctx context.Context, rec *models.RunRecord) error
	DeleteRunRecord(ctx context.Context, id uuid.UUID) error
	FindNearbyPublicCourses(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]models.Course, error)
	AddUserTotals(ctx context.Context, userID uuid.UUID, distanceMeters float64, durationSeconds, runs int) error

	UpsertStravaConnection(ctx context.Context, conn *models.StravaConnection) error
	DeleteStravaConnection(ctx context.Context, userID uuid.UUID) error
	UpdateStravaSyncTime(ctx context.Context, userID uuid.UUID, syncedAt time.Time) error
}

// StravaAPI is the slice of the Strava client the sync flows use.
type StravaAPI interface {
	ListActivities(ctx context.Context, after *time.Time, page, perPage int) ([]strava.ActivitySummary, error)
	GetActivity(ctx context.Context, activityID int64) (*strava.ActivitySummary, error)
	GetStreams(ctx context.Context, activityID int64) (*strava.StreamSet, error)
}

// Service runs the GPX/FIT/Strava import pipeline and owns the Strava
// connection lifecycle.
type Service struct {
	store        Store
	blob         shared.BlobStore
	queue        shared.TaskQueue
	bucket       string
	clientID     string
	clientSecret string
	logger       *slog.Logger
	printer      *message.Printer

	// stravaFor builds an authenticated client for one user. Swapped
	// out in tests.
	stravaFor func(userID uuid.UUID) StravaAPI
}

func NewService(store Store, blob shared.BlobStore, queue shared.TaskQueue, bucket, stravaClientID, stravaClientSecret string, logger *slog.Logger) *Service {
	s := &Service{
		store:        store,
		blob:         blob,
		queue:        queue,
		bucket:       bucket,
		clientID:     stravaClientID,
		clientSecret: stravaClientSecret,
		logger:       logger,
		printer:      message.NewPrinter(language.English),
	}
	s.stravaFor = func(userID uuid.UUID) StravaAPI {
		source := strava.NewDBTokenSource(store, userID, stravaClientID, stravaClientSecret, logger)
		return strava.NewClient(source, logger)
	}
	return s
}

// --- Upload surface ---

// CreateUpload stores an uploaded GPX or FIT file, records a pending
// import, and queues processing.
func (s *Service) CreateUpload(ctx context.Context, userID uuid.UUID, filename string, data []byte) (*models.ExternalImport, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	var source string
	switch ext {
	case ".gpx":
		source = shared.SourceGPXUpload
	case ".fit":
		source = shared.SourceFITUpload
	default:
		return nil, apperror.BadRequest("Invalid file type. Allowed: .gpx, .fit")
	}

	object := "imports/" + uuid.NewString() + ext
	if err := s.blob.Write(ctx, s.bucket, object, data); err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	imp := &models.ExternalImport{
		ID:               uuid.New(),
		UserID:           userID,
		Source:           source,
		OriginalFilename: filename,
		FilePath:         object,
		Status:           shared.ImportPending,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateImport(ctx, imp); err != nil {
		return nil, fmt.Errorf("creating import record: %w", err)
	}

	if err := s.enqueueProcess(ctx, imp.ID); err != nil {
		return nil, err
	}
	s.logger.Info("upload accepted", "import_id", imp.ID, "source", source, "filename", filename)
	return imp, nil
}

// GetImport returns one of the user's imports.
func (s *Service) GetImport(ctx context.Context, userID, importID uuid.UUID) (*models.ExternalImport, error) {
	imp, err := s.store.GetImportForUser(ctx, importID, userID)
	if err != nil {
		return nil, fmt.Errorf("loading import: %w", err)
	}
	if imp == nil {
		return nil, apperror.NotFound("Import not found")
	}
	return imp, nil
}

// ListImports returns one page of the user's imports, newest first,
// along with the total count.
func (s *Service) ListImports(ctx context.Context, userID uuid.UUID, page, perPage int) ([]models.ExternalImport, int, error) {
	if page < 0 {
		page = 0
	}
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}
	imports, total, err := s.store.ListImports(ctx, userID, page, perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("listing imports: %w", err)
	}
	return imports, total, nil
}

// DeleteImport removes an import together with its run record and the
// stored file.
func (s *Service) DeleteImport(ctx context.Context, userID, importID uuid.UUID) error {
	imp, err := s.GetImport(ctx, userID, importID)
	if err != nil {
		return err
	}

	if imp.RunRecordID != nil {
		if err := s.store.DeleteRunRecord(ctx, *imp.RunRecordID); err != nil {
			return fmt.Errorf("deleting imported run record: %w", err)
		}
	}
	if imp.FilePath != "" {
		if err := s.blob.Delete(ctx, s.bucket, imp.FilePath); err != nil {
			s.logger.Warn("could not delete stored upload", "import_id", importID, "error", err)
		}
	}
	if err := s.store.DeleteImport(ctx, importID); err != nil {
		return fmt.Errorf("deleting import: %w", err)
	}
	return nil
}

// --- Processing pipeline ---

type processImportTask struct {
	ImportID uuid.UUID `json:"import_id"`
}

func (s *Service) enqueueProcess(ctx context.Context, importID uuid.UUID) error {
	payload, err := json.Marshal(processImportTask{ImportID: importID})
	if err != nil {
		return fmt.Errorf("encoding import task: %w", err)
	}
	if err := s.queue.Enqueue(ctx, shared.Task{Name: shared.TaskProcessImport, Payload: payload}); err != nil {
		return fmt.Errorf("queueing import: %w", err)
	}
	return nil
}

// HandleProcessImport is the queue adapter for import processing.
func (s *Service) HandleProcessImport(ctx context.Context, payload []byte) error {
	var task processImportTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("decoding import task: %w", err)
	}
	return s.ProcessImport(ctx, task.ImportID)
}

// ProcessImport runs the full pipeline for one import. Parse or
// validation failures mark the import failed and are not returned as
// errors; only infrastructure failures propagate.
func (s *Service) ProcessImport(ctx context.Context, importID uuid.UUID) error {
	imp, err := s.store.GetImport(ctx, importID)
	if err != nil {
		return fmt.Errorf("loading import %s: %w", importID, err)
	}
	if imp == nil {
		s.logger.Warn("import not found", "import_id", importID)
		return nil
	}
	if imp.Status == shared.ImportCompleted || imp.Status == shared.ImportFailed {
		return nil
	}

	if err := s.store.UpdateImportStatus(ctx, importID, shared.ImportProcessing, ""); err != nil {
		return fmt.Errorf("marking import processing: %w", err)
	}

	if err := s.runPipeline(ctx, imp); err != nil {
		s.logger.Error("import failed", "import_id", importID, "source", imp.Source, "error", err)
		metrics.ImportsTotal.WithLabelValues(imp.Source, "failed").Inc()
		if markErr := s.store.UpdateImportStatus(ctx, importID, shared.ImportFailed, err.Error()); markErr != nil {
			return fmt.Errorf("marking import failed: %w", markErr)
		}
		return nil
	}

	metrics.ImportsTotal.WithLabelValues(imp.Source, "completed").Inc()
	return nil
}

func (s *Service) runPipeline(ctx context.Context, imp *models.ExternalImport) error {
	points, device, err := s.parse(ctx, imp)
	if err != nil {
		return err
	}

	derived := trace.Derive(points)
	if derived.DistanceMeters < 100 {
		return errTooShortDistance
	}
	if derived.DurationSeconds < 30 {
		return errTooShortDuration
	}
	if len(derived.RouteCoordinates) == 0 {
		return errNoGPSData
	}

	startedAt, finishedAt := activityWindow(points, imp.CreatedAt)

	session := &models.RunSession{
		ID:        uuid.New(),
		UserID:    imp.UserID,
		Status:    shared.SessionImported,
		StartedAt: startedAt,
		DeviceInfo: map[string]string{
			"source": imp.Source,
			"device": device,
		},
	}
	session.FinishedAt = &finishedAt
	if err := s.store.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("creating imported session: %w", err)
	}

	rec := &models.RunRecord{
		ID:                   uuid.New(),
		UserID:               imp.UserID,
		SessionID:            &session.ID,
		StartedAt:            startedAt,
		FinishedAt:           finishedAt,
		DistanceMeters:       derived.DistanceMeters,
		DurationSeconds:      derived.DurationSeconds,
		TotalElapsedSeconds:  derived.DurationSeconds,
		AvgPaceSecondsPerKm:  derived.AvgPaceSecondsPerKm,
		BestPaceSecondsPerKm: derived.BestPaceSecondsPerKm,
		AvgSpeedMS:           derived.AvgSpeedMS,
		MaxSpeedMS:           derived.MaxSpeedMS,
		ElevationGainMeters:  derived.ElevationGainMeters,
		ElevationLossMeters:  derived.ElevationLossMeters,
		RouteCoordinates:     derived.RouteCoordinates,
		ElevationProfile:     derived.ElevationProfile,
		Splits:               derived.Splits,
		PauseIntervals:       []models.PauseInterval{},
		Source:               imp.Source,
		ExternalImportID:     &imp.ID,
	}

	flag := anomaly.Check(anomaly.Summary{
		DistanceMeters:       derived.DistanceMeters,
		DurationSeconds:      derived.DurationSeconds,
		AvgSpeedMS:           derived.AvgSpeedMS,
		MaxSpeedMS:           derived.MaxSpeedMS,
		BestPaceSecondsPerKm: derived.BestPaceSecondsPerKm,
		Splits:               derived.Splits,
	})
	rec.IsFlagged = flag.IsFlagged
	rec.FlagReason = flag.Reason
	rec.FlagConfidence = flag.Confidence

	match := s.matchCourses(ctx, rec, points, derived.RouteCoordinates)

	if err := s.store.CreateRunRecord(ctx, rec); err != nil {
		return fmt.Errorf("creating run record: %w", err)
	}

	if err := s.store.AddUserTotals(ctx, imp.UserID, derived.DistanceMeters, derived.DurationSeconds, 1); err != nil {
		return fmt.Errorf("updating user totals: %w", err)
	}

	imp.RunRecordID = &rec.ID
	imp.Status = shared.ImportCompleted
	imp.ImportSummary = s.buildSummary(derived, device)
	imp.CourseMatch = match
	if err := s.store.CompleteImport(ctx, imp); err != nil {
		return fmt.Errorf("completing import: %w", err)
	}

	s.logger.Info("import completed",
		"import_id", imp.ID,
		"run_record_id", rec.ID,
		"distance_m", derived.DistanceMeters,
		"duration_s", derived.DurationSeconds)

	if match != nil && !rec.IsFlagged {
		s.enqueueRanking(ctx, rec)
	}
	return nil
}

func (s *Service) parse(ctx context.Context, imp *models.ExternalImport) ([]models.TrackPoint, string, error) {
	switch imp.Source {
	case shared.SourceGPXUpload, shared.SourceFITUpload:
		if imp.FilePath == "" {
			return nil, "", errors.New("import has no stored file")
		}
		data, err := s.blob.Read(ctx, s.bucket, imp.FilePath)
		if err != nil {
			return nil, "", fmt.Errorf("reading stored upload: %w", err)
		}
		if imp.Source == shared.SourceGPXUpload {
			return ParseGPX(data)
		}
		return ParseFIT(data)

	case shared.SourceStrava:
		if len(imp.RawMetadata) == 0 {
			return nil, "", errors.New("strava import has no raw metadata")
		}
		var payload strava.SyncPayload
		if err := json.Unmarshal(imp.RawMetadata, &payload); err != nil {
			return nil, "", fmt.Errorf("decoding strava payload: %w", err)
		}
		return payload.TrackPoints(), payload.Device(), nil

	default:
		return nil, "", fmt.Errorf("unsupported import source %q", imp.Source)
	}
}

// matchCourses looks for a public course starting near the trace and,
// when the best candidate counts as completed, stamps the run record
// and returns the match payload for the import row.
func (s *Service) matchCourses(ctx context.Context, rec *models.RunRecord, points []models.TrackPoint, route [][]float64) map[string]any {
	if len(route) < 2 {
		return nil
	}
	startLng, startLat := route[0][0], route[0][1]

	candidates, err := s.store.FindNearbyPublicCourses(ctx, startLat, startLng, courseMatchRadiusMeters, courseMatchCandidates)
	if err != nil {
		s.logger.Warn("course candidate lookup failed", "error", err)
		return nil
	}
	if len(candidates) == 0 {
		return nil
	}

	runnerPoints := course.PointsFromTrack(points)

	var bestCourse *models.Course
	var bestResult course.MatchResult
	for i := range candidates {
		coursePoints := course.PointsFromCoordinates(candidates[i].RouteCoordinates)
		if len(coursePoints) < 2 {
			continue
		}
		result := course.MatchRoute(coursePoints, runnerPoints)
		if result.MatchPercent > bestResult.MatchPercent {
			bestResult = result
			bestCourse = &candidates[i]
		}
	}

	if bestCourse == nil || !bestResult.IsCompleted {
		return nil
	}

	completed := true
	rec.CourseID = &bestCourse.ID
	rec.CourseCompleted = &completed
	rec.RouteMatchPercent = &bestResult.MatchPercent
	rec.MaxDeviationMeters = &bestResult.MaxDeviationMeters

	return map[string]any{
		"course_id":     bestCourse.ID.String(),
		"course_title":  bestCourse.Title,
		"match_percent": bestResult.MatchPercent,
		"is_completed":  true,
	}
}

func (s *Service) buildSummary(derived trace.Derived, device string) map[string]any {
	summary := map[string]any{
		"distance_meters":         derived.DistanceMeters,
		"duration_seconds":        derived.DurationSeconds,
		"avg_pace_seconds_per_km": derived.AvgPaceSecondsPerKm,
		"elevation_gain_meters":   derived.ElevationGainMeters,
		"elevation_loss_meters":   derived.ElevationLossMeters,
		"point_count":             derived.PointCount,
		"source_device":           device,
	}
	if device != "" {
		summary["message"] = s.printer.Sprintf("Imported %.2f km run from %s", derived.DistanceMeters/1000, device)
	} else {
		summary["message"] = s.printer.Sprintf("Imported %.2f km run", derived.DistanceMeters/1000)
	}
	return summary
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

// activityWindow resolves start and finish instants, falling back to
// the import creation time when the trace has no usable timestamps.
func activityWindow(points []models.TrackPoint, fallback time.Time) (time.Time, time.Time) {
	started, finished := fallback, fallback
	for i := range points {
		if !points[i].Timestamp.IsZero() {
			started = points[i].Timestamp
			break
		}
	}
	for i := len(points) - 1; i >= 0; i-- {
		if !points[i].Timestamp.IsZero() {
			finished = points[i].Timestamp
			break
		}
	}
	return started, finished
}

// --- Strava connection lifecycle ---

// ConnectStrava exchanges the OAuth code, stores the connection, and
// kicks off a background sync of recent activities.
func (s *Service) ConnectStrava(ctx context.Context, userID uuid.UUID, code string) (*models.StravaConnection, error) {
	token, athlete, err := strava.ExchangeCode(ctx, strava.OAuthConfig(s.clientID, s.clientSecret), code)
	if err != nil {
		s.logger.Warn("strava code exchange failed", "user_id", userID, "error", err)
		return nil, apperror.BadRequest("Strava authorization failed")
	}

	conn := &models.StravaConnection{
		UserID:            userID,
		StravaAthleteID:   strconv.FormatInt(athlete.ID, 10),
		AthleteName:       athlete.FullName(),
		AthleteProfileURL: athlete.Profile,
		AccessToken:       token.AccessToken,
		RefreshToken:      token.RefreshToken,
		TokenExpiresAt:    token.Expiry,
	}
	if err := s.store.UpsertStravaConnection(ctx, conn); err != nil {
		return nil, fmt.Errorf("storing strava connection: %w", err)
	}

	payload, err := json.Marshal(syncStravaTask{UserID: userID})
	if err == nil {
		if err := s.queue.Enqueue(ctx, shared.Task{Name: shared.TaskSyncStrava, Payload: payload}); err != nil {
			s.logger.Warn("queueing initial strava sync failed", "user_id", userID, "error", err)
		}
	}

	s.logger.Info("strava connected", "user_id", userID, "athlete_id", conn.StravaAthleteID)
	return conn, nil
}

// StravaStatus returns the user's connection, or nil when Strava is not
// connected.
func (s *Service) StravaStatus(ctx context.Context, userID uuid.UUID) (*models.StravaConnection, error) {
	conn, err := s.store.GetStravaConnection(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading strava connection: %w", err)
	}
	return conn, nil
}

// DisconnectStrava drops the stored connection and its tokens.
func (s *Service) DisconnectStrava(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.DeleteStravaConnection(ctx, userID); err != nil {
		return fmt.Errorf("deleting strava connection: %w", err)
	}
	return nil
}

// ListStravaActivities proxies the athlete's recent runs from Strava.
func (s *Service) ListStravaActivities(ctx context.Context, userID uuid.UUID, perPage int, after *time.Time) ([]strava.ActivitySummary, error) {
	conn, err := s.store.GetStravaConnection(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading strava connection: %w", err)
	}
	if conn == nil {
		return nil, apperror.BadRequest("Strava not connected")
	}
	if perPage <= 0 || perPage > 100 {
		perPage = 30
	}

	activities, err := s.stravaFor(userID).ListActivities(ctx, after, 1, perPage)
	if err != nil {
		return nil, fmt.Errorf("listing strava activities: %w", err)
	}

	runs := activities[:0]
	for _, a := range activities {
		if a.IsRun() {
			runs = append(runs, a)
		}
	}
	return runs, nil
}

// SyncStravaActivity imports a single Strava activity through the
// standard pipeline.
func (s *Service) SyncStravaActivity(ctx context.Context, userID uuid.UUID, activityID int64) (*models.ExternalImport, error) {
	conn, err := s.store.GetStravaConnection(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading strava connection: %w", err)
	}
	if conn == nil {
		return nil, apperror.BadRequest("Strava not connected")
	}

	externalID := strconv.FormatInt(activityID, 10)
	exists, err := s.store.ImportExists(ctx, userID, shared.SourceStrava, externalID)
	if err != nil {
		return nil, fmt.Errorf("checking for duplicate import: %w", err)
	}
	if exists {
		return nil, apperror.Conflict(apperror.CodeAlreadyImported, "This Strava activity has already been imported")
	}

	client := s.stravaFor(userID)
	imp, err := s.stageStravaImport(ctx, client, userID, activityID)
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateStravaSyncTime(ctx, userID, time.Now().UTC()); err != nil {
		s.logger.Warn("updating last sync time failed", "user_id", userID, "error", err)
	}
	if err := s.enqueueProcess(ctx, imp.ID); err != nil {
		return nil, err
	}
	return imp, nil
}

// stageStravaImport fetches an activity with its streams and records a
// pending strava-source import carrying the serialized payload.
func (s *Service) stageStravaImport(ctx context.Context, client StravaAPI, userID uuid.UUID, activityID int64) (*models.ExternalImport, error) {
	activity, err := client.GetActivity(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("fetching strava activity %d: %w", activityID, err)
	}
	streams, err := client.GetStreams(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("fetching strava streams %d: %w", activityID, err)
	}

	raw, err := json.Marshal(strava.SyncPayload{Activity: *activity, Streams: *streams})
	if err != nil {
		return nil, fmt.Errorf("encoding strava payload: %w", err)
	}

	imp := &models.ExternalImport{
		ID:          uuid.New(),
		UserID:      userID,
		Source:      shared.SourceStrava,
		ExternalID:  strconv.FormatInt(activityID, 10),
		RawMetadata: raw,
		Status:      shared.ImportPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateImport(ctx, imp); err != nil {
		return nil, fmt.Errorf("creating strava import record: %w", err)
	}
	return imp, nil
}

type syncStravaTask struct {
	UserID uuid.UUID `json:"user_id"`
}

// HandleSyncStrava is the queue adapter for the sync-all task.
func (s *Service) HandleSyncStrava(ctx context.Context, payload []byte) error {
	var task syncStravaTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("decoding strava sync task: %w", err)
	}
	return s.SyncRecentActivities(ctx, task.UserID, defaultSyncBatch)
}

// SyncRecentActivities imports the user's recent Strava runs that have
// not been imported yet. Per-activity failures are logged and skipped
// so one bad activity cannot stall the rest.
func (s *Service) SyncRecentActivities(ctx context.Context, userID uuid.UUID, maxActivities int) error {
	conn, err := s.store.GetStravaConnection(ctx, userID)
	if err != nil {
		return fmt.Errorf("loading strava connection: %w", err)
	}
	if conn == nil {
		s.logger.Warn("no strava connection for sync", "user_id", userID)
		return nil
	}

	client := s.stravaFor(userID)
	activities, err := client.ListActivities(ctx, nil, 1, maxActivities)
	if err != nil {
		return fmt.Errorf("listing strava activities: %w", err)
	}

	synced, skipped := 0, 0
	for _, activity := range activities {
		if !activity.IsRun() {
			continue
		}
		externalID := strconv.FormatInt(activity.ID, 10)

		exists, err := s.store.ImportExists(ctx, userID, shared.SourceStrava, externalID)
		if err != nil {
			s.logger.Error("duplicate check failed", "activity_id", externalID, "error", err)
			continue
		}
		if exists {
			skipped++
			continue
		}

		imp, err := s.stageStravaImport(ctx, client, userID, activity.ID)
		if err != nil {
			s.logger.Error("staging strava activity failed", "activity_id", externalID, "error", err)
			continue
		}
		if err := s.ProcessImport(ctx, imp.ID); err != nil {
			s.logger.Error("processing strava activity failed", "activity_id", externalID, "error", err)
			continue
		}
		synced++
	}

	if err := s.store.UpdateStravaSyncTime(ctx, userID, time.Now().UTC()); err != nil {
		s.logger.Warn("updating last sync time failed", "user_id", userID, "error", err)
	}

	s.logger.Info("strava sync complete", "user_id", userID, "synced", synced, "skipped", skipped)
	return nil
}
