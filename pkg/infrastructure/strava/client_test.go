package strava

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runbeat/server/pkg/models"
)

type fakeSource struct {
	token         string
	refreshCalls  int
	refreshedWith string
}

func (f *fakeSource) Token(context.Context) (*Token, error) {
	return &Token{AccessToken: f.token}, nil
}

func (f *fakeSource) ForceRefresh(context.Context) (*Token, error) {
	f.refreshCalls++
	f.token = f.refreshedWith
	return &Token{AccessToken: f.token}, nil
}

func TestTransportInjectsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &http.Client{Transport: &Transport{Source: &fakeSource{token: "abc123"}}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer abc123", gotAuth)
}

func TestTransportRetriesOnceAfter401(t *testing.T) {
	var mu sync.Mutex
	var auths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		auths = append(auths, r.Header.Get("Authorization"))
		n := len(auths)
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	source := &fakeSource{token: "stale", refreshedWith: "fresh"}
	client := &http.Client{Transport: &Transport{Source: source}}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, source.refreshCalls)
	require.Len(t, auths, 2)
	assert.Equal(t, "Bearer stale", auths[0])
	assert.Equal(t, "Bearer fresh", auths[1])
}

func TestTransportDoesNotMutateOriginalRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	client := &http.Client{Transport: &Transport{Source: &fakeSource{token: "abc"}}}
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, req.Header.Get("Authorization"))
}

func TestClientListActivities(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/athlete/activities", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "50", r.URL.Query().Get("per_page"))
		assert.Equal(t, "1700000000", r.URL.Query().Get("after"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[
			{"id": 101, "name": "Morning Run", "sport_type": "Run", "distance": 5012.3, "moving_time": 1500, "start_date": "2023-11-15T06:30:00Z"},
			{"id": 102, "name": "Evening Ride", "sport_type": "Ride", "distance": 20000, "moving_time": 3600, "start_date": "2023-11-15T18:00:00Z"}
		]`)
	}))
	defer srv.Close()

	client := NewClient(&fakeSource{token: "tok"}, slog.New(slog.DiscardHandler))
	client.baseURL = srv.URL

	after := time.Unix(1700000000, 0)
	activities, err := client.ListActivities(context.Background(), &after, 2, 50)
	require.NoError(t, err)
	require.Len(t, activities, 2)

	assert.Equal(t, int64(101), activities[0].ID)
	assert.Equal(t, "Morning Run", activities[0].Name)
	assert.True(t, activities[0].IsRun())
	assert.False(t, activities[1].IsRun())
}

func TestClientGetStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/activities/101/streams", r.URL.Path)
		assert.Equal(t, "latlng,altitude,time,heartrate,distance", r.URL.Query().Get("keys"))
		assert.Equal(t, "true", r.URL.Query().Get("key_by_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"latlng":    {"data": [[37.5, 127.0], [37.5001, 127.0]]},
			"altitude":  {"data": [42.0, 42.5]},
			"time":      {"data": [0, 10]},
			"heartrate": {"data": [120, 125]}
		}`)
	}))
	defer srv.Close()

	client := NewClient(&fakeSource{token: "tok"}, slog.New(slog.DiscardHandler))
	client.baseURL = srv.URL

	streams, err := client.GetStreams(context.Background(), 101)
	require.NoError(t, err)

	require.Len(t, streams.Latlng, 2)
	assert.Equal(t, 37.5, streams.Latlng[0][0])
	assert.Equal(t, []float64{42.0, 42.5}, streams.Altitude)
	assert.Equal(t, []int{0, 10}, streams.Time)
	assert.Equal(t, []int{120, 125}, streams.Heartrate)
	assert.Empty(t, streams.Distance)
}

func TestClientSurfacesAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"message":"Rate Limit Exceeded"}`)
	}))
	defer srv.Close()

	client := NewClient(&fakeSource{token: "tok"}, slog.New(slog.DiscardHandler))
	client.baseURL = srv.URL

	_, err := client.ListActivities(context.Background(), nil, 1, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Rate Limit Exceeded")
}

func TestSyncPayloadTrackPoints(t *testing.T) {
	start := time.Date(2023, 11, 15, 6, 30, 0, 0, time.UTC)
	payload := &SyncPayload{
		Activity: ActivitySummary{StartDate: start, SportType: "TrailRun"},
		Streams: StreamSet{
			Latlng:    [][]float64{{37.5, 127.0}, {37.5}, {37.5002, 127.0001}},
			Altitude:  []float64{40, 41, 42},
			Time:      []int{0, 10, 20},
			Heartrate: []int{130, 131, 132},
		},
	}

	points := payload.TrackPoints()
	require.Len(t, points, 2)

	assert.Equal(t, models.TrackPoint{
		Latitude:  37.5,
		Longitude: 127.0,
		Altitude:  40,
		Timestamp: start,
		HeartRate: 130,
	}, points[0])
	assert.Equal(t, start.Add(20*time.Second), points[1].Timestamp)
	assert.Equal(t, 42.0, points[1].Altitude)
	assert.Equal(t, "Strava/TrailRun", payload.Device())
}

type fakeConnStore struct {
	conn *models.StravaConnection

	savedAccess  string
	savedRefresh string
	savedExpiry  time.Time
	updates      int
}

func (f *fakeConnStore) GetStravaConnection(_ context.Context, _ uuid.UUID) (*models.StravaConnection, error) {
	return f.conn, nil
}

func (f *fakeConnStore) UpdateStravaTokens(_ context.Context, _ uuid.UUID, access, refresh string, expiresAt time.Time) error {
	f.updates++
	f.savedAccess = access
	f.savedRefresh = refresh
	f.savedExpiry = expiresAt
	f.conn.AccessToken = access
	f.conn.RefreshToken = refresh
	f.conn.TokenExpiresAt = expiresAt
	return nil
}

func TestDBTokenSourceReturnsLiveToken(t *testing.T) {
	store := &fakeConnStore{conn: &models.StravaConnection{
		AccessToken:    "live",
		RefreshToken:   "refresh",
		TokenExpiresAt: time.Now().Add(1 * time.Hour),
	}}

	source := NewDBTokenSource(store, uuid.New(), "id", "secret", slog.New(slog.DiscardHandler))
	token, err := source.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "live", token.AccessToken)
	assert.Zero(t, store.updates)
}

func TestDBTokenSourceRefreshesNearExpiry(t *testing.T) {
	var gotGrant, gotRefresh string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotGrant = r.FormValue("grant_type")
		gotRefresh = r.FormValue("refresh_token")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"new-access","refresh_token":"new-refresh","expires_at":9999999999}`)
	}))
	defer srv.Close()

	store := &fakeConnStore{conn: &models.StravaConnection{
		AccessToken:    "stale",
		RefreshToken:   "old-refresh",
		TokenExpiresAt: time.Now().Add(30 * time.Second),
	}}

	source := NewDBTokenSource(store, uuid.New(), "id", "secret", slog.New(slog.DiscardHandler))
	source.endpoint = srv.URL

	token, err := source.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", gotGrant)
	assert.Equal(t, "old-refresh", gotRefresh)
	assert.Equal(t, "new-access", token.AccessToken)
	assert.Equal(t, "new-refresh", token.RefreshToken)
	assert.Equal(t, 1, store.updates)
	assert.Equal(t, time.Unix(9999999999, 0), store.savedExpiry)
}

func TestDBTokenSourceKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"new-access","expires_in":21600}`)
	}))
	defer srv.Close()

	store := &fakeConnStore{conn: &models.StravaConnection{
		AccessToken:    "stale",
		RefreshToken:   "keep-me",
		TokenExpiresAt: time.Now().Add(-1 * time.Minute),
	}}

	source := NewDBTokenSource(store, uuid.New(), "id", "secret", slog.New(slog.DiscardHandler))
	source.endpoint = srv.URL

	token, err := source.ForceRefresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "keep-me", token.RefreshToken)
	assert.Equal(t, "keep-me", store.savedRefresh)
	assert.WithinDuration(t, time.Now().Add(21600*time.Second), store.savedExpiry, 5*time.Second)
}

func TestDBTokenSourceWithoutConnection(t *testing.T) {
	source := NewDBTokenSource(&fakeConnStore{}, uuid.New(), "id", "secret", slog.New(slog.DiscardHandler))

	_, err := source.Token(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no strava connection")
}
