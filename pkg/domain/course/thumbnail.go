package course

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	shared "github.com/runbeat/server/pkg"
)

const (
	mapboxStaticURL = "https://api.mapbox.com/styles/v1/mapbox/outdoors-v12/static"
	thumbnailWidth  = 600
	thumbnailHeight = 400
)

type thumbnailTask struct {
	CourseID uuid.UUID `json:"course_id"`
}

func (s *Service) enqueueThumbnail(ctx context.Context, courseID uuid.UUID) {
	payload, err := json.Marshal(thumbnailTask{CourseID: courseID})
	if err != nil {
		s.logger.Error("encoding thumbnail task", "error", err)
		return
	}
	if err := s.queue.Enqueue(ctx, shared.Task{Name: shared.TaskCourseThumbnail, Payload: payload}); err != nil {
		s.logger.Error("queueing thumbnail render", "course_id", courseID, "error", err)
	}
}

// HandleGenerateThumbnail is the queue adapter for thumbnail rendering.
func (s *Service) HandleGenerateThumbnail(ctx context.Context, payload []byte) error {
	var task thumbnailTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("decoding thumbnail task: %w", err)
	}
	return s.generateThumbnail(ctx, task.CourseID)
}

// generateThumbnail renders the course route through the Mapbox Static
// Images API and stores the result. A course with no token configured,
// no geometry, or a failed render simply keeps no thumbnail; only
// storage failures propagate.
func (s *Service) generateThumbnail(ctx context.Context, courseID uuid.UUID) error {
	if s.mapboxToken == "" {
		s.logger.Debug("mapbox token not configured, skipping thumbnail", "course_id", courseID)
		return nil
	}

	c, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return fmt.Errorf("loading course: %w", err)
	}
	if c == nil {
		s.logger.Warn("course gone before thumbnail render", "course_id", courseID)
		return nil
	}
	if len(c.RouteCoordinates) < 2 {
		s.logger.Warn("course has no route to render", "course_id", courseID)
		return nil
	}

	img, err := s.fetchStaticMap(ctx, c.RouteCoordinates)
	if err != nil {
		s.logger.Error("rendering course thumbnail", "course_id", courseID, "error", err)
		return nil
	}

	object := "thumbnails/" + courseID.String() + ".png"
	if err := s.blob.Write(ctx, s.bucket, object, img); err != nil {
		return fmt.Errorf("storing thumbnail: %w", err)
	}
	thumbURL := s.publicURL(object)
	if err := s.store.SetCourseThumbnail(ctx, courseID, thumbURL); err != nil {
		return fmt.Errorf("saving thumbnail url: %w", err)
	}

	s.logger.Info("course thumbnail rendered", "course_id", courseID, "url", thumbURL)
	return nil
}

func (s *Service) fetchStaticMap(ctx context.Context, coords [][]float64) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/%s/auto/%dx%d@2x?access_token=%s&padding=40",
		s.staticMapURL, url.PathEscape(routeOverlay(coords)),
		thumbnailWidth, thumbnailHeight, url.QueryEscape(s.mapboxToken))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building static map request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching static map: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("static map API returned %d: %s", resp.StatusCode, body)
	}
	return io.ReadAll(resp.Body)
}

// routeOverlay builds the geojson() overlay segment for the static map.
// Static image URLs cap out around 8 KB, so long routes are thinned to
// 100 evenly sampled points plus the final one.
func routeOverlay(coords [][]float64) string {
	if len(coords) > 100 {
		step := float64(len(coords)) / 100
		sampled := make([][]float64, 0, 101)
		for i := 0; i < 100; i++ {
			sampled = append(sampled, coords[int(float64(i)*step)])
		}
		sampled = append(sampled, coords[len(coords)-1])
		coords = sampled
	}

	var b strings.Builder
	for i, c := range coords {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('[')
		b.WriteString(strconv.FormatFloat(c[0], 'f', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(c[1], 'f', -1, 64))
		b.WriteByte(']')
	}
	return `geojson({"type":"Feature","geometry":{"type":"LineString","coordinates":[` +
		b.String() + `]},"properties":{"stroke":"#FF7A33","stroke-width":4,"stroke-opacity":0.9}})`
}

// publicURL maps a stored object to the URL clients fetch it from, the
// CDN when one sits in front of the bucket, the local uploads path
// otherwise.
func (s *Service) publicURL(object string) string {
	if base := strings.TrimSuffix(s.cdnBaseURL, "/"); base != "" {
		return base + "/" + object
	}
	return "/uploads/" + object
}
