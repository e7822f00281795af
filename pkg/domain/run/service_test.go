package run

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	shared "github.com/runbeat/server/pkg"
	"github.com/runbeat/server/pkg/apperror"
	"github.com/runbeat/server/pkg/models"
	"github.com/runbeat/server/pkg/testing/mocks"
)

type fakeStore struct {
	sessions map[uuid.UUID]*models.RunSession
	chunks   []*models.RunChunk
	records  []*models.RunRecord
	courses  map[uuid.UUID]*models.Course
	users    map[uuid.UUID]*models.User
	titles   map[uuid.UUID]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[uuid.UUID]*models.RunSession),
		courses:  make(map[uuid.UUID]*models.Course),
		users:    make(map[uuid.UUID]*models.User),
		titles:   make(map[uuid.UUID]string),
	}
}

func (f *fakeStore) CreateSession(_ context.Context, session *models.RunSession) error {
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeStore) GetSessionForUser(_ context.Context, sessionID, userID uuid.UUID) (*models.RunSession, error) {
	s := f.sessions[sessionID]
	if s == nil || s.UserID != userID {
		return nil, nil
	}
	return s, nil
}

func (f *fakeStore) UpdateSessionStatus(_ context.Context, sessionID uuid.UUID, status string, finishedAt *time.Time) error {
	s := f.sessions[sessionID]
	s.Status = status
	s.FinishedAt = finishedAt
	return nil
}

func (f *fakeStore) CreateChunk(_ context.Context, chunk *models.RunChunk) error {
	f.chunks = append(f.chunks, chunk)
	return nil
}

func (f *fakeStore) ChunkExists(_ context.Context, sessionID uuid.UUID, sequence int) (bool, error) {
	for _, c := range f.chunks {
		if c.SessionID == sessionID && c.Sequence == sequence {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) ListChunks(_ context.Context, sessionID uuid.UUID) ([]models.RunChunk, error) {
	var out []models.RunChunk
	for _, c := range f.chunks {
		if c.SessionID == sessionID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (f *fakeStore) ListChunkSequences(_ context.Context, sessionID uuid.UUID) ([]int, error) {
	var seqs []int
	for _, c := range f.chunks {
		if c.SessionID == sessionID {
			seqs = append(seqs, c.Sequence)
		}
	}
	sort.Ints(seqs)
	return seqs, nil
}

func (f *fakeStore) CreateRunRecord(_ context.Context, rec *models.RunRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) GetRunRecordForUser(_ context.Context, recordID, userID uuid.UUID) (*models.RunRecord, error) {
	for _, r := range f.records {
		if r.ID == recordID && r.UserID == userID {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListRunRecords(_ context.Context, userID uuid.UUID, page, perPage int) ([]models.RunRecord, int, error) {
	var all []models.RunRecord
	for _, r := range f.records {
		if r.UserID == userID {
			all = append(all, *r)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].FinishedAt.After(all[j].FinishedAt) })
	return all, len(all), nil
}

func (f *fakeStore) GetCourse(_ context.Context, courseID uuid.UUID) (*models.Course, error) {
	return f.courses[courseID], nil
}

func (f *fakeStore) CourseTitles(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	out := make(map[uuid.UUID]string, len(ids))
	for _, id := range ids {
		if title, ok := f.titles[id]; ok {
			out[id] = title
		}
	}
	return out, nil
}

func (f *fakeStore) GetUser(_ context.Context, userID uuid.UUID) (*models.User, error) {
	return f.users[userID], nil
}

func newTestService(store *fakeStore) (*Service, *mocks.MockTaskQueue) {
	queue := &mocks.MockTaskQueue{}
	return NewService(store, queue, slog.New(slog.DiscardHandler)), queue
}

func seedUser(store *fakeStore) *models.User {
	user := &models.User{ID: uuid.New(), TotalDistanceMeters: 10000, TotalRuns: 3}
	store.users[user.ID] = user
	return user
}

func seedSession(store *fakeStore, userID uuid.UUID, courseID *uuid.UUID) *models.RunSession {
	session := &models.RunSession{
		ID:        uuid.New(),
		UserID:    userID,
		CourseID:  courseID,
		Status:    shared.SessionActive,
		StartedAt: time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC),
	}
	store.sessions[session.ID] = session
	return session
}

func chunkReq(seq int) ChunkRequest {
	return ChunkRequest{
		Sequence:  seq,
		ChunkType: shared.ChunkIntermediate,
		RawPoints: []models.TrackPoint{
			{Latitude: 37.5, Longitude: 127.0, Timestamp: time.Now()},
			{Latitude: 37.501, Longitude: 127.0, Timestamp: time.Now().Add(30 * time.Second)},
		},
		Cumulative: models.ChunkCumulative{
			DistanceMeters:      float64(seq+1) * 500,
			DurationSeconds:     (seq + 1) * 150,
			AvgPaceSecondsPerKm: 300,
			ElevationGainMeters: float64(seq + 1),
		},
	}
}

func TestCreateSessionRequiresStartedAt(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)

	_, err := svc.CreateSession(context.Background(), uuid.New(), CreateSessionRequest{})
	require.Error(t, err)

	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
}

func TestCreateSessionRejectsUnknownCourse(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	bogus := uuid.New()

	_, err := svc.CreateSession(context.Background(), uuid.New(), CreateSessionRequest{
		StartedAt: time.Now(),
		CourseID:  &bogus,
	})
	require.Error(t, err)

	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeNotFound, appErr.Code)
}

func TestCreateSessionBindsCourse(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	courseID := uuid.New()
	store.courses[courseID] = &models.Course{ID: courseID, Title: "River loop"}
	userID := uuid.New()

	session, err := svc.CreateSession(context.Background(), userID, CreateSessionRequest{
		StartedAt:  time.Now(),
		CourseID:   &courseID,
		DeviceInfo: map[string]string{"model": "Pixel 9"},
	})
	require.NoError(t, err)

	assert.Equal(t, shared.SessionActive, session.Status)
	assert.Equal(t, userID, session.UserID)
	require.NotNil(t, session.CourseID)
	assert.Equal(t, courseID, *session.CourseID)
	assert.Equal(t, "Pixel 9", session.DeviceInfo["model"])
}

func TestUploadChunkValidation(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	user := seedUser(store)
	session := seedSession(store, user.ID, nil)

	tests := []struct {
		name string
		req  ChunkRequest
	}{
		{"negative sequence", ChunkRequest{Sequence: -1, ChunkType: shared.ChunkIntermediate, RawPoints: chunkReq(0).RawPoints}},
		{"bad chunk type", ChunkRequest{Sequence: 0, ChunkType: "partial", RawPoints: chunkReq(0).RawPoints}},
		{"no points", ChunkRequest{Sequence: 0, ChunkType: shared.ChunkFinal}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.UploadChunk(context.Background(), user.ID, session.ID, tt.req)
			require.Error(t, err)
			appErr, ok := apperror.From(err)
			require.True(t, ok)
			assert.Equal(t, apperror.CodeValidation, appErr.Code)
		})
	}
}

func TestUploadChunkRejectsDuplicateSequence(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	user := seedUser(store)
	session := seedSession(store, user.ID, nil)

	_, err := svc.UploadChunk(context.Background(), user.ID, session.ID, chunkReq(0))
	require.NoError(t, err)

	_, err = svc.UploadChunk(context.Background(), user.ID, session.ID, chunkReq(0))
	require.Error(t, err)

	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeDuplicateChunk, appErr.Code)
	assert.Equal(t, 409, appErr.Status)
}

func TestUploadChunkRequiresActiveSession(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	user := seedUser(store)
	session := seedSession(store, user.ID, nil)
	session.Status = shared.SessionCompleted

	_, err := svc.UploadChunk(context.Background(), user.ID, session.ID, chunkReq(0))
	require.Error(t, err)

	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInvalidSessionState, appErr.Code)
}

func TestUploadChunkUnknownSession(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)

	_, err := svc.UploadChunk(context.Background(), uuid.New(), uuid.New(), chunkReq(0))
	require.Error(t, err)

	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeNotFound, appErr.Code)
}

func TestBatchUploadMixedOutcome(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	user := seedUser(store)
	session := seedSession(store, user.ID, nil)

	_, err := svc.UploadChunk(context.Background(), user.ID, session.ID, chunkReq(1))
	require.NoError(t, err)

	received, failed, err := svc.BatchUploadChunks(context.Background(), user.ID, session.ID, []ChunkRequest{
		chunkReq(0),                    // new
		chunkReq(1),                    // duplicate, counts as received
		{Sequence: 2, ChunkType: "??"}, // invalid
	})
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1}, received)
	assert.Equal(t, []int{2}, failed)
	// The duplicate must not produce a second row.
	seqs, _ := store.ListChunkSequences(context.Background(), session.ID)
	assert.Equal(t, []int{0, 1}, seqs)
}

func TestBatchUploadAllowedAfterRecovery(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	user := seedUser(store)
	session := seedSession(store, user.ID, nil)
	session.Status = shared.SessionRecovered

	received, failed, err := svc.BatchUploadChunks(context.Background(), user.ID, session.ID, []ChunkRequest{chunkReq(0)})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, received)
	assert.Empty(t, failed)
}

func completeReq(finished time.Time) CompleteRequest {
	return CompleteRequest{
		DistanceMeters:       5000,
		DurationSeconds:      1500,
		TotalElapsedSeconds:  1560,
		AvgPaceSecondsPerKm:  300,
		BestPaceSecondsPerKm: 280,
		AvgSpeedMS:           3.33,
		MaxSpeedMS:           4.5,
		FinishedAt:           finished,
		RouteGeometry: RouteGeometry{
			Type:        "LineString",
			Coordinates: [][]float64{{127.0, 37.5, 20}, {127.001, 37.501, 21}},
		},
		ElevationGainMeters: 42,
		ElevationLossMeters: 40,
		Splits: []models.Split{
			{SplitNumber: 1, DistanceMeters: 1000, DurationSeconds: 300, PaceSecondsPerKm: 300},
		},
		TotalChunks: 2,
	}
}

func TestCompleteSessionCreatesRecordAndStats(t *testing.T) {
	store := newFakeStore()
	svc, queue := newTestService(store)
	user := seedUser(store)
	session := seedSession(store, user.ID, nil)

	for seq := 0; seq < 2; seq++ {
		_, err := svc.UploadChunk(context.Background(), user.ID, session.ID, chunkReq(seq))
		require.NoError(t, err)
	}

	res, err := svc.CompleteSession(context.Background(), user.ID, session.ID, completeReq(session.StartedAt.Add(26*time.Minute)))
	require.NoError(t, err)

	rec := res.Record
	assert.Equal(t, shared.SourceApp, rec.Source)
	assert.Equal(t, 5000.0, rec.DistanceMeters)
	assert.Equal(t, session.StartedAt, rec.StartedAt)
	assert.False(t, rec.IsFlagged)
	assert.Nil(t, rec.CourseCompleted)
	assert.Len(t, rec.RouteCoordinates, 2)

	assert.Equal(t, shared.SessionCompleted, store.sessions[session.ID].Status)
	assert.Empty(t, res.MissingChunkSeq)
	assert.Equal(t, 15000.0, res.UserStats.TotalDistanceMeters)
	assert.Equal(t, 4, res.UserStats.TotalRuns)

	// Free run: stats recompute only, no ranking task.
	assert.Equal(t, []string{shared.TaskUpdateStats}, queue.TaskNames())
}

func TestCompleteSessionReportsMissingChunks(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	user := seedUser(store)
	session := seedSession(store, user.ID, nil)

	for _, seq := range []int{0, 1, 2} {
		_, err := svc.UploadChunk(context.Background(), user.ID, session.ID, chunkReq(seq))
		require.NoError(t, err)
	}

	req := completeReq(session.StartedAt.Add(26 * time.Minute))
	req.TotalChunks = 5
	res, err := svc.CompleteSession(context.Background(), user.ID, session.ID, req)
	require.NoError(t, err)

	assert.Equal(t, []int{3, 4}, res.MissingChunkSeq)
}

func TestCompleteSessionCourseMatchQueuesRanking(t *testing.T) {
	store := newFakeStore()
	svc, queue := newTestService(store)
	user := seedUser(store)
	courseID := uuid.New()
	store.courses[courseID] = &models.Course{ID: courseID}
	session := seedSession(store, user.ID, &courseID)

	req := completeReq(session.StartedAt.Add(26 * time.Minute))
	req.CourseCompletion = &CourseCompletionInfo{IsCompleted: true, RouteMatchPercent: 93.5}
	res, err := svc.CompleteSession(context.Background(), user.ID, session.ID, req)
	require.NoError(t, err)

	rec := res.Record
	require.NotNil(t, rec.CourseCompleted)
	assert.True(t, *rec.CourseCompleted)
	require.NotNil(t, rec.RouteMatchPercent)
	assert.Equal(t, 93.5, *rec.RouteMatchPercent)

	names := queue.TaskNames()
	assert.Contains(t, names, shared.TaskUpdateRanking)
	assert.Contains(t, names, shared.TaskUpdateStats)

	var task struct {
		CourseID    uuid.UUID `json:"course_id"`
		UserID      uuid.UUID `json:"user_id"`
		RunRecordID uuid.UUID `json:"run_record_id"`
	}
	for _, enqueued := range queue.Tasks() {
		if enqueued.Name == shared.TaskUpdateRanking {
			require.NoError(t, json.Unmarshal(enqueued.Payload, &task))
		}
	}
	assert.Equal(t, courseID, task.CourseID)
	assert.Equal(t, rec.ID, task.RunRecordID)
}

func TestCompleteSessionIgnoresCompletionWithoutCourse(t *testing.T) {
	store := newFakeStore()
	svc, queue := newTestService(store)
	user := seedUser(store)
	session := seedSession(store, user.ID, nil)

	req := completeReq(session.StartedAt.Add(26 * time.Minute))
	req.CourseCompletion = &CourseCompletionInfo{IsCompleted: true, RouteMatchPercent: 99}
	res, err := svc.CompleteSession(context.Background(), user.ID, session.ID, req)
	require.NoError(t, err)

	assert.Nil(t, res.Record.CourseCompleted)
	assert.NotContains(t, queue.TaskNames(), shared.TaskUpdateRanking)
}

func TestCompleteSessionFlaggedRunSkipsRanking(t *testing.T) {
	store := newFakeStore()
	svc, queue := newTestService(store)
	user := seedUser(store)
	courseID := uuid.New()
	store.courses[courseID] = &models.Course{ID: courseID}
	session := seedSession(store, user.ID, &courseID)

	// 5 km in 10 minutes is 8.33 m/s, far past the 5km+ bracket.
	req := completeReq(session.StartedAt.Add(10 * time.Minute))
	req.DurationSeconds = 600
	req.CourseCompletion = &CourseCompletionInfo{IsCompleted: true, RouteMatchPercent: 97}
	res, err := svc.CompleteSession(context.Background(), user.ID, session.ID, req)
	require.NoError(t, err)

	assert.True(t, res.Record.IsFlagged)
	assert.NotEmpty(t, res.Record.FlagReason)
	assert.NotContains(t, queue.TaskNames(), shared.TaskUpdateRanking)
	assert.Contains(t, queue.TaskNames(), shared.TaskUpdateStats)
}

func TestCompleteSessionOnlyOnce(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	user := seedUser(store)
	session := seedSession(store, user.ID, nil)

	_, err := svc.CompleteSession(context.Background(), user.ID, session.ID, completeReq(session.StartedAt.Add(26*time.Minute)))
	require.NoError(t, err)

	_, err = svc.CompleteSession(context.Background(), user.ID, session.ID, completeReq(session.StartedAt.Add(26*time.Minute)))
	require.Error(t, err)

	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInvalidSessionState, appErr.Code)
}

func TestRecoverSessionRebuildsFromChunks(t *testing.T) {
	store := newFakeStore()
	svc, queue := newTestService(store)
	user := seedUser(store)
	session := seedSession(store, user.ID, nil)

	for _, seq := range []int{0, 1, 2} {
		_, err := svc.UploadChunk(context.Background(), user.ID, session.ID, chunkReq(seq))
		require.NoError(t, err)
	}

	res, err := svc.RecoverSession(context.Background(), user.ID, session.ID, RecoverRequest{
		FinishedAt:  session.StartedAt.Add(8 * time.Minute),
		TotalChunks: 5,
	})
	require.NoError(t, err)

	rec := res.Record
	// Totals come from the last chunk's cumulative block.
	assert.Equal(t, 1500.0, rec.DistanceMeters)
	assert.Equal(t, 450, rec.DurationSeconds)
	assert.Equal(t, 300, rec.AvgPaceSecondsPerKm)
	// Two points per chunk, three chunks.
	assert.Len(t, rec.RouteCoordinates, 6)
	assert.Equal(t, []int{3, 4}, res.MissingChunkSeq)

	assert.Equal(t, shared.SessionRecovered, store.sessions[session.ID].Status)
	assert.Equal(t, []string{shared.TaskUpdateStats}, queue.TaskNames())
}

func TestRecoverSessionWithoutChunks(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	user := seedUser(store)
	session := seedSession(store, user.ID, nil)

	_, err := svc.RecoverSession(context.Background(), user.ID, session.ID, RecoverRequest{FinishedAt: time.Now()})
	require.Error(t, err)

	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeNoChunks, appErr.Code)
}

func TestRecoverSessionRejectsCompleted(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	user := seedUser(store)
	session := seedSession(store, user.ID, nil)
	session.Status = shared.SessionCompleted

	_, err := svc.RecoverSession(context.Background(), user.ID, session.ID, RecoverRequest{FinishedAt: time.Now()})
	require.Error(t, err)

	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeAlreadyCompleted, appErr.Code)
}

func TestGetRunRecordScopedToOwner(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	owner := uuid.New()
	rec := &models.RunRecord{ID: uuid.New(), UserID: owner}
	store.records = append(store.records, rec)

	got, err := svc.GetRunRecord(context.Background(), owner, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	_, err = svc.GetRunRecord(context.Background(), uuid.New(), rec.ID)
	require.Error(t, err)
	appErr, ok := apperror.From(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeNotFound, appErr.Code)
}

func TestRunHistoryDecoratesCourseTitles(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	userID := uuid.New()
	courseID := uuid.New()
	store.titles[courseID] = "Han river 5k"

	store.records = append(store.records,
		&models.RunRecord{ID: uuid.New(), UserID: userID, CourseID: &courseID, DistanceMeters: 5000, FinishedAt: time.Now()},
		&models.RunRecord{ID: uuid.New(), UserID: userID, DistanceMeters: 3000, FinishedAt: time.Now().Add(-time.Hour)},
	)

	items, total, err := svc.RunHistory(context.Background(), userID, 0, 20)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, items, 2)

	require.NotNil(t, items[0].Course)
	assert.Equal(t, "Han river 5k", items[0].Course.Title)
	assert.Nil(t, items[1].Course)
}
