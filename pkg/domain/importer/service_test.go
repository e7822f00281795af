package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/runbeat/server/pkg"
	"github.com/runbeat/server/pkg/apperror"
	"github.com/runbeat/server/pkg/infrastructure/strava"
	"github.com/runbeat/server/pkg/models"
	"github.com/runbeat/server/pkg/testing/mocks"
)

type fakeStore struct {
	imports  map[uuid.UUID]*models.ExternalImport
	sessions []*models.RunSession
	records  []*models.RunRecord
	courses  []models.Course
	conn     *models.StravaConnection

	totalDistance float64
	totalDuration int
	totalRuns     int
	syncTime      *time.Time

	deletedRecords []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{imports: make(map[uuid.UUID]*models.ExternalImport)}
}

func (f *fakeStore) CreateImport(_ context.Context, imp *models.ExternalImport) error {
	f.imports[imp.ID] = imp
	return nil
}

func (f *fakeStore) GetImport(_ context.Context, id uuid.UUID) (*models.ExternalImport, error) {
	return f.imports[id], nil
}

func (f *fakeStore) GetImportForUser(_ context.Context, id, userID uuid.UUID) (*models.ExternalImport, error) {
	imp := f.imports[id]
	if imp == nil || imp.UserID != userID {
		return nil, nil
	}
	return imp, nil
}

func (f *fakeStore) ListImports(_ context.Context, userID uuid.UUID, page, perPage int) ([]models.ExternalImport, int, error) {
	var all []models.ExternalImport
	for _, imp := range f.imports {
		if imp.UserID == userID {
			all = append(all, *imp)
		}
	}
	return all, len(all), nil
}

func (f *fakeStore) UpdateImportStatus(_ context.Context, id uuid.UUID, status, errorMessage string) error {
	imp, ok := f.imports[id]
	if !ok {
		return fmt.Errorf("import %s not found", id)
	}
	imp.Status = status
	imp.ErrorMessage = errorMessage
	return nil
}

func (f *fakeStore) CompleteImport(_ context.Context, imp *models.ExternalImport) error {
	f.imports[imp.ID] = imp
	return nil
}

func (f *fakeStore) DeleteImport(_ context.Context, id uuid.UUID) error {
	delete(f.imports, id)
	return nil
}

func (f *fakeStore) ImportExists(_ context.Context, userID uuid.UUID, source, externalID string) (bool, error) {
	for _, imp := range f.imports {
		if imp.UserID == userID && imp.Source == source && imp.ExternalID == externalID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateSession(_ context.Context, session *models.RunSession) error {
	f.sessions = append(f.sessions, session)
	return nil
}

func (f *fakeStore) CreateRunRecord(_ context.Context, rec *models.RunRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) DeleteRunRecord(_ context.Context, id uuid.UUID) error {
	f.deletedRecords = append(f.deletedRecords, id)
	return nil
}

func (f *fakeStore) FindNearbyPublicCourses(_ context.Context, lat, lng, radiusMeters float64, limit int) ([]models.Course, error) {
	return f.courses, nil
}

func (f *fakeStore) AddUserTotals(_ context.Context, userID uuid.UUID, distanceMeters float64, durationSeconds, runs int) error {
	f.totalDistance += distanceMeters
	f.totalDuration += durationSeconds
	f.totalRuns += runs
	return nil
}

func (f *fakeStore) GetStravaConnection(_ context.Context, userID uuid.UUID) (*models.StravaConnection, error) {
	return f.conn, nil
}

func (f *fakeStore) UpdateStravaTokens(_ context.Context, userID uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error {
	return nil
}

func (f *fakeStore) UpsertStravaConnection(_ context.Context, conn *models.StravaConnection) error {
	f.conn = conn
	return nil
}

func (f *fakeStore) DeleteStravaConnection(_ context.Context, userID uuid.UUID) error {
	f.conn = nil
	return nil
}

func (f *fakeStore) UpdateStravaSyncTime(_ context.Context, userID uuid.UUID, syncedAt time.Time) error {
	f.syncTime = &syncedAt
	return nil
}

type fakeStravaAPI struct {
	activities []strava.ActivitySummary
	streams    map[int64]*strava.StreamSet
}

func (f *fakeStravaAPI) ListActivities(_ context.Context, after *time.Time, page, perPage int) ([]strava.ActivitySummary, error) {
	return f.activities, nil
}

func (f *fakeStravaAPI) GetActivity(_ context.Context, activityID int64) (*strava.ActivitySummary, error) {
	for i := range f.activities {
		if f.activities[i].ID == activityID {
			return &f.activities[i], nil
		}
	}
	return nil, fmt.Errorf("activity %d not found", activityID)
}

func (f *fakeStravaAPI) GetStreams(_ context.Context, activityID int64) (*strava.StreamSet, error) {
	s, ok := f.streams[activityID]
	if !ok {
		return nil, fmt.Errorf("streams for %d not found", activityID)
	}
	return s, nil
}

func newTestService(store *fakeStore) (*Service, *mocks.MockBlobStore, *mocks.MockTaskQueue) {
	blob := &mocks.MockBlobStore{}
	queue := &mocks.MockTaskQueue{}
	svc := NewService(store, blob, queue, "runbeat-data", "client-id", "client-secret", slog.New(slog.DiscardHandler))
	return svc, blob, queue
}

// buildGPX renders a minimal file whose points step north by latDelta
// degrees every stepSeconds.
func buildGPX(creator string, count int, latDelta float64, stepSeconds int) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><gpx version="1.1" creator="` + creator + `"><trk><trkseg>`)
	start := time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC)
	for i := 0; i < count; i++ {
		fmt.Fprintf(&b, `<trkpt lat="%.7f" lon="127.0000000"><ele>%d</ele><time>%s</time></trkpt>`,
			37.5+float64(i)*latDelta,
			40+i,
			start.Add(time.Duration(i*stepSeconds)*time.Second).Format(time.RFC3339))
	}
	b.WriteString(`</trkseg></trk></gpx>`)
	return []byte(b.String())
}

func TestCreateUploadRejectsUnknownExtension(t *testing.T) {
	svc, _, queue := newTestService(newFakeStore())

	_, err := svc.CreateUpload(context.Background(), uuid.New(), "run.tcx", []byte("x"))
	require.Error(t, err)

	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
	assert.Equal(t, 400, appErr.Status)
	assert.Empty(t, queue.Tasks())
}

func TestCreateUploadStoresFileAndQueuesProcessing(t *testing.T) {
	store := newFakeStore()
	svc, blob, queue := newTestService(store)
	userID := uuid.New()

	imp, err := svc.CreateUpload(context.Background(), userID, "morning.gpx", []byte("<gpx/>"))
	require.NoError(t, err)

	assert.Equal(t, shared.SourceGPXUpload, imp.Source)
	assert.Equal(t, shared.ImportPending, imp.Status)
	assert.Equal(t, "morning.gpx", imp.OriginalFilename)
	assert.True(t, strings.HasPrefix(imp.FilePath, "imports/"))
	assert.True(t, strings.HasSuffix(imp.FilePath, ".gpx"))

	stored, err := blob.Read(context.Background(), "runbeat-data", imp.FilePath)
	require.NoError(t, err)
	assert.Equal(t, []byte("<gpx/>"), stored)

	tasks := queue.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, shared.TaskProcessImport, tasks[0].Name)

	var task struct {
		ImportID uuid.UUID `json:"import_id"`
	}
	require.NoError(t, json.Unmarshal(tasks[0].Payload, &task))
	assert.Equal(t, imp.ID, task.ImportID)
}

func seedUpload(t *testing.T, store *fakeStore, blob *mocks.MockBlobStore, userID uuid.UUID, data []byte) *models.ExternalImport {
	t.Helper()
	imp := &models.ExternalImport{
		ID:               uuid.New(),
		UserID:           userID,
		Source:           shared.SourceGPXUpload,
		OriginalFilename: "run.gpx",
		FilePath:         "imports/" + uuid.NewString() + ".gpx",
		Status:           shared.ImportPending,
		CreatedAt:        time.Now().UTC(),
	}
	store.imports[imp.ID] = imp
	require.NoError(t, blob.Write(context.Background(), "runbeat-data", imp.FilePath, data))
	return imp
}

func TestProcessImportGPXPipeline(t *testing.T) {
	store := newFakeStore()
	svc, blob, queue := newTestService(store)
	userID := uuid.New()

	// 12 points ~100 m apart at a 5:00/km jog: ~1.1 km in 330 s.
	imp := seedUpload(t, store, blob, userID, buildGPX("Garmin Forerunner 245", 12, 0.0009, 30))

	require.NoError(t, svc.ProcessImport(context.Background(), imp.ID))

	got := store.imports[imp.ID]
	require.Equal(t, shared.ImportCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
	require.NotNil(t, got.RunRecordID)

	require.Len(t, store.sessions, 1)
	session := store.sessions[0]
	assert.Equal(t, shared.SessionImported, session.Status)
	assert.Equal(t, shared.SourceGPXUpload, session.DeviceInfo["source"])
	assert.Equal(t, "Garmin Forerunner 245", session.DeviceInfo["device"])

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, *got.RunRecordID, rec.ID)
	assert.Equal(t, shared.SourceGPXUpload, rec.Source)
	require.NotNil(t, rec.ExternalImportID)
	assert.Equal(t, imp.ID, *rec.ExternalImportID)
	assert.InDelta(t, 1101, rec.DistanceMeters, 2)
	assert.Equal(t, 330, rec.DurationSeconds)
	assert.False(t, rec.IsFlagged)
	assert.Nil(t, rec.CourseID)

	summary := got.ImportSummary
	require.NotNil(t, summary)
	assert.Equal(t, 12, summary["point_count"])
	assert.Equal(t, "Garmin Forerunner 245", summary["source_device"])
	assert.Contains(t, summary["message"], "Garmin Forerunner 245")

	assert.InDelta(t, 1101, store.totalDistance, 2)
	assert.Equal(t, 330, store.totalDuration)
	assert.Equal(t, 1, store.totalRuns)

	// No course candidates, so no ranking work was queued.
	assert.Empty(t, queue.TaskNames())
}

func TestProcessImportTooShort(t *testing.T) {
	store := newFakeStore()
	svc, blob, _ := newTestService(store)
	userID := uuid.New()

	// Two points 10 m apart: below the distance floor.
	imp := seedUpload(t, store, blob, userID, buildGPX("watch", 2, 0.00009, 10))

	require.NoError(t, svc.ProcessImport(context.Background(), imp.ID))

	got := store.imports[imp.ID]
	assert.Equal(t, shared.ImportFailed, got.Status)
	assert.Equal(t, "Activity too short (< 100m)", got.ErrorMessage)
	assert.Empty(t, store.records)
	assert.Zero(t, store.totalRuns)
}

func TestProcessImportTooBrief(t *testing.T) {
	store := newFakeStore()
	svc, blob, _ := newTestService(store)

	// 150 m in 20 s: distance passes, duration fails.
	imp := seedUpload(t, store, blob, uuid.New(), buildGPX("watch", 3, 0.0007, 10))

	require.NoError(t, svc.ProcessImport(context.Background(), imp.ID))

	assert.Equal(t, shared.ImportFailed, store.imports[imp.ID].Status)
	assert.Equal(t, "Activity too short (< 30s)", store.imports[imp.ID].ErrorMessage)
}

func TestProcessImportCourseMatch(t *testing.T) {
	store := newFakeStore()
	svc, blob, queue := newTestService(store)
	userID := uuid.New()

	// Course along the same line the trace follows.
	courseID := uuid.New()
	coords := make([][]float64, 12)
	for i := range coords {
		coords[i] = []float64{127.0, 37.5 + float64(i)*0.0009, 0}
	}
	store.courses = []models.Course{{
		ID:               courseID,
		Title:            "River Loop",
		RouteCoordinates: coords,
		IsPublic:         true,
	}}

	imp := seedUpload(t, store, blob, userID, buildGPX("watch", 12, 0.0009, 30))
	require.NoError(t, svc.ProcessImport(context.Background(), imp.ID))

	got := store.imports[imp.ID]
	require.Equal(t, shared.ImportCompleted, got.Status)
	require.NotNil(t, got.CourseMatch)
	assert.Equal(t, courseID.String(), got.CourseMatch["course_id"])
	assert.Equal(t, "River Loop", got.CourseMatch["course_title"])
	assert.Equal(t, true, got.CourseMatch["is_completed"])

	rec := store.records[0]
	require.NotNil(t, rec.CourseID)
	assert.Equal(t, courseID, *rec.CourseID)
	require.NotNil(t, rec.CourseCompleted)
	assert.True(t, *rec.CourseCompleted)
	require.NotNil(t, rec.RouteMatchPercent)
	assert.Equal(t, 100.0, *rec.RouteMatchPercent)

	require.Contains(t, queue.TaskNames(), shared.TaskUpdateRanking)
	var task struct {
		CourseID    uuid.UUID `json:"course_id"`
		UserID      uuid.UUID `json:"user_id"`
		RunRecordID uuid.UUID `json:"run_record_id"`
	}
	tasks := queue.Tasks()
	require.NoError(t, json.Unmarshal(tasks[len(tasks)-1].Payload, &task))
	assert.Equal(t, courseID, task.CourseID)
	assert.Equal(t, userID, task.UserID)
	assert.Equal(t, rec.ID, task.RunRecordID)
}

func TestProcessImportStravaPayload(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)
	userID := uuid.New()

	start := time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC)
	payload := strava.SyncPayload{
		Activity: strava.ActivitySummary{ID: 777, SportType: "Run", StartDate: start},
	}
	for i := 0; i < 12; i++ {
		payload.Streams.Latlng = append(payload.Streams.Latlng, []float64{37.5 + float64(i)*0.0009, 127.0})
		payload.Streams.Altitude = append(payload.Streams.Altitude, 40)
		payload.Streams.Time = append(payload.Streams.Time, i*30)
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	imp := &models.ExternalImport{
		ID:          uuid.New(),
		UserID:      userID,
		Source:      shared.SourceStrava,
		ExternalID:  "777",
		RawMetadata: raw,
		Status:      shared.ImportPending,
		CreatedAt:   time.Now().UTC(),
	}
	store.imports[imp.ID] = imp

	require.NoError(t, svc.ProcessImport(context.Background(), imp.ID))

	got := store.imports[imp.ID]
	require.Equal(t, shared.ImportCompleted, got.Status)
	assert.Equal(t, "Strava/Run", got.ImportSummary["source_device"])

	require.Len(t, store.records, 1)
	assert.Equal(t, shared.SourceStrava, store.records[0].Source)
	assert.WithinDuration(t, start, store.records[0].StartedAt, 0)
}

func TestProcessImportAlreadyFinished(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)

	imp := &models.ExternalImport{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Source: shared.SourceGPXUpload,
		Status: shared.ImportCompleted,
	}
	store.imports[imp.ID] = imp

	require.NoError(t, svc.ProcessImport(context.Background(), imp.ID))
	assert.Empty(t, store.records)
	assert.Equal(t, shared.ImportCompleted, imp.Status)
}

func TestProcessImportUnknownID(t *testing.T) {
	svc, _, _ := newTestService(newFakeStore())
	assert.NoError(t, svc.ProcessImport(context.Background(), uuid.New()))
}

func TestGetImportOwnership(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)

	owner := uuid.New()
	imp := &models.ExternalImport{ID: uuid.New(), UserID: owner, Source: shared.SourceGPXUpload}
	store.imports[imp.ID] = imp

	got, err := svc.GetImport(context.Background(), owner, imp.ID)
	require.NoError(t, err)
	assert.Equal(t, imp.ID, got.ID)

	_, err = svc.GetImport(context.Background(), uuid.New(), imp.ID)
	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeNotFound, appErr.Code)
}

func TestDeleteImportCleansUp(t *testing.T) {
	store := newFakeStore()
	svc, blob, _ := newTestService(store)
	userID := uuid.New()

	recID := uuid.New()
	imp := &models.ExternalImport{
		ID:          uuid.New(),
		UserID:      userID,
		Source:      shared.SourceGPXUpload,
		FilePath:    "imports/x.gpx",
		RunRecordID: &recID,
		Status:      shared.ImportCompleted,
	}
	store.imports[imp.ID] = imp
	require.NoError(t, blob.Write(context.Background(), "runbeat-data", "imports/x.gpx", []byte("data")))

	require.NoError(t, svc.DeleteImport(context.Background(), userID, imp.ID))

	assert.NotContains(t, store.imports, imp.ID)
	assert.Equal(t, []uuid.UUID{recID}, store.deletedRecords)
	_, err := blob.Read(context.Background(), "runbeat-data", "imports/x.gpx")
	assert.Error(t, err)
}

func TestSyncStravaActivityRequiresConnection(t *testing.T) {
	svc, _, _ := newTestService(newFakeStore())

	_, err := svc.SyncStravaActivity(context.Background(), uuid.New(), 123)
	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, 400, appErr.Status)
	assert.Contains(t, appErr.Message, "not connected")
}

func TestSyncStravaActivityRejectsDuplicates(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)
	userID := uuid.New()

	store.conn = &models.StravaConnection{UserID: userID, AccessToken: "a", RefreshToken: "r"}
	existing := &models.ExternalImport{
		ID:         uuid.New(),
		UserID:     userID,
		Source:     shared.SourceStrava,
		ExternalID: "555",
	}
	store.imports[existing.ID] = existing

	_, err := svc.SyncStravaActivity(context.Background(), userID, 555)
	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, 409, appErr.Status)
	assert.Equal(t, apperror.CodeAlreadyImported, appErr.Code)
}

func TestSyncRecentActivities(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)
	userID := uuid.New()

	store.conn = &models.StravaConnection{UserID: userID, AccessToken: "a", RefreshToken: "r"}

	// Run 901 has already been imported; the ride is filtered; 903 syncs.
	dup := &models.ExternalImport{
		ID:         uuid.New(),
		UserID:     userID,
		Source:     shared.SourceStrava,
		ExternalID: "901",
		Status:     shared.ImportCompleted,
	}
	store.imports[dup.ID] = dup

	start := time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC)
	streams := &strava.StreamSet{}
	for i := 0; i < 12; i++ {
		streams.Latlng = append(streams.Latlng, []float64{37.5 + float64(i)*0.0009, 127.0})
		streams.Time = append(streams.Time, i*30)
	}
	api := &fakeStravaAPI{
		activities: []strava.ActivitySummary{
			{ID: 901, SportType: "Run", StartDate: start},
			{ID: 902, SportType: "Ride", StartDate: start},
			{ID: 903, SportType: "Run", StartDate: start},
		},
		streams: map[int64]*strava.StreamSet{903: streams},
	}
	svc.stravaFor = func(uuid.UUID) StravaAPI { return api }

	require.NoError(t, svc.SyncRecentActivities(context.Background(), userID, 20))

	var synced *models.ExternalImport
	for _, imp := range store.imports {
		if imp.ExternalID == "903" {
			synced = imp
		}
	}
	require.NotNil(t, synced)
	assert.Equal(t, shared.ImportCompleted, synced.Status)
	require.Len(t, store.records, 1)
	assert.Equal(t, shared.SourceStrava, store.records[0].Source)
	require.NotNil(t, store.syncTime)
}

func TestListStravaActivitiesFiltersToRuns(t *testing.T) {
	store := newFakeStore()
	svc, _, _ := newTestService(store)
	userID := uuid.New()

	store.conn = &models.StravaConnection{UserID: userID, AccessToken: "a", RefreshToken: "r"}
	svc.stravaFor = func(uuid.UUID) StravaAPI {
		return &fakeStravaAPI{activities: []strava.ActivitySummary{
			{ID: 1, SportType: "Run"},
			{ID: 2, SportType: "Ride"},
			{ID: 3, SportType: "TrailRun"},
			{ID: 4, SportType: "Swim"},
			{ID: 5, SportType: "VirtualRun"},
		}}
	}

	runs, err := svc.ListStravaActivities(context.Background(), userID, 30, nil)
	require.NoError(t, err)

	ids := make([]int64, len(runs))
	for i, r := range runs {
		ids[i] = r.ID
	}
	assert.Equal(t, []int64{1, 3, 5}, ids)
}
