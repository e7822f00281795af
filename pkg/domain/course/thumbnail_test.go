package course

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runbeat/server/pkg/models"
	"github.com/runbeat/server/pkg/testing/mocks"
)

func seedCourse(store *fakeStore) *models.Course {
	c := &models.Course{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Title:  "Riverside 5k",
		RouteCoordinates: [][]float64{
			{127.024, 37.504, 20},
			{127.026, 37.506, 22},
			{127.028, 37.508, 25},
		},
	}
	store.courses[c.ID] = c
	return c
}

func thumbnailPayload(t *testing.T, courseID uuid.UUID) []byte {
	t.Helper()
	payload, err := json.Marshal(thumbnailTask{CourseID: courseID})
	require.NoError(t, err)
	return payload
}

func TestGenerateThumbnail(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	c := seedCourse(store)

	var gotPath, gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte("png-image-bytes"))
	}))
	defer ts.Close()
	svc.mapboxToken = "pk.test-token"
	svc.staticMapURL = ts.URL

	require.NoError(t, svc.HandleGenerateThumbnail(context.Background(), thumbnailPayload(t, c.ID)))

	// The static map request carries the route overlay and the token.
	assert.Contains(t, gotPath, "geojson")
	assert.Contains(t, gotPath, "600x400@2x")
	assert.Contains(t, gotQuery, "access_token=pk.test-token")
	assert.Contains(t, gotQuery, "padding=40")

	object := "thumbnails/" + c.ID.String() + ".png"
	data, err := svc.blob.(*mocks.MockBlobStore).Read(context.Background(), "test-bucket", object)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-image-bytes"), data)

	assert.Equal(t, "/uploads/"+object, store.thumbURL)
	assert.Equal(t, "/uploads/"+object, c.ThumbnailURL)
}

func TestGenerateThumbnailCDNURL(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	c := seedCourse(store)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("png"))
	}))
	defer ts.Close()
	svc.mapboxToken = "pk.test-token"
	svc.staticMapURL = ts.URL
	svc.cdnBaseURL = "https://cdn.example.com/"

	require.NoError(t, svc.HandleGenerateThumbnail(context.Background(), thumbnailPayload(t, c.ID)))
	assert.Equal(t, "https://cdn.example.com/thumbnails/"+c.ID.String()+".png", c.ThumbnailURL)
}

func TestGenerateThumbnailSkipsWithoutToken(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	c := seedCourse(store)

	require.NoError(t, svc.HandleGenerateThumbnail(context.Background(), thumbnailPayload(t, c.ID)))
	assert.Empty(t, c.ThumbnailURL)
	assert.Empty(t, store.thumbURL)
}

func TestGenerateThumbnailSkipsMissingCourse(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	svc.mapboxToken = "pk.test-token"

	require.NoError(t, svc.HandleGenerateThumbnail(context.Background(), thumbnailPayload(t, uuid.New())))
	assert.Empty(t, store.thumbURL)
}

func TestGenerateThumbnailSwallowsRenderFailure(t *testing.T) {
	store := newFakeStore()
	svc, _ := newTestService(store)
	c := seedCourse(store)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer ts.Close()
	svc.mapboxToken = "pk.test-token"
	svc.staticMapURL = ts.URL

	// A failed render is not retried and leaves the course without a
	// thumbnail.
	require.NoError(t, svc.HandleGenerateThumbnail(context.Background(), thumbnailPayload(t, c.ID)))
	assert.Empty(t, c.ThumbnailURL)
}

func TestRouteOverlay(t *testing.T) {
	overlay := routeOverlay([][]float64{{127.0, 37.5, 10}, {127.1, 37.6, 12}})

	assert.Equal(t,
		`geojson({"type":"Feature","geometry":{"type":"LineString","coordinates":`+
			`[[127,37.5],[127.1,37.6]]},"properties":{"stroke":"#FF7A33",`+
			`"stroke-width":4,"stroke-opacity":0.9}})`,
		overlay)
}

func TestRouteOverlayThinsLongRoutes(t *testing.T) {
	coords := make([][]float64, 250)
	for i := range coords {
		coords[i] = []float64{float64(i), 37.5, 0}
	}

	overlay := routeOverlay(coords)

	// 100 sampled points plus the final one, plus the array opener.
	assert.Equal(t, 102, strings.Count(overlay, "["))
	assert.True(t, strings.Contains(overlay, `[[0,37.5],[2,37.5]`), overlay[:80])
	assert.Contains(t, overlay, "[249,37.5]")
}
