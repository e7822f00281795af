package course

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	shared "github.com/runbeat/server/pkg"
	"github.com/runbeat/server/pkg/apperror"
	"github.com/runbeat/server/pkg/models"
)

// Store is the persistence surface for course management. Lookups return
// nil when the row is absent.
type Store interface {
	GetRunRecordForUser(ctx context.Context, recordID, userID uuid.UUID) (*models.RunRecord, error)
	CreateCourse(ctx context.Context, c *models.Course) error
	GetCourse(ctx context.Context, id uuid.UUID) (*models.Course, error)
	GetCourseWithStats(ctx context.Context, id uuid.UUID) (*models.Course, error)
	SetCourseThumbnail(ctx context.Context, courseID uuid.UUID, url string) error
	ListCourses(ctx context.Context, f ListFilter) ([]ListItem, int, error)
	NearbyCourses(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]Nearby, error)
	CoursesInBounds(ctx context.Context, b Bounds, limit int) ([]Marker, error)
	ListUserCourses(ctx context.Context, userID uuid.UUID) ([]MyCourse, error)
}

// ListFilter narrows and orders the public course list.
type ListFilter struct {
	Search            string
	MinDistanceMeters *float64
	MaxDistanceMeters *float64
	NearLat           *float64
	NearLng           *float64
	NearRadiusMeters  float64
	OrderBy           string // created_at, distance_meters, total_runs, distance_from_user
	Order             string // asc or desc
	Page              int
	PerPage           int
}

// Creator is the course owner as shown on list rows.
type Creator struct {
	ID              uuid.UUID `json:"id"`
	Nickname        string    `json:"nickname"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`
}

type ListItemStats struct {
	TotalRuns           int `json:"total_runs"`
	UniqueRunners       int `json:"unique_runners"`
	AvgPaceSecondsPerKm int `json:"avg_pace_seconds_per_km"`
}

// ListItem is one row of the course list, enriched with creator and
// aggregate stats.
type ListItem struct {
	ID                     uuid.UUID     `json:"id"`
	Title                  string        `json:"title"`
	DistanceMeters         float64       `json:"distance_meters"`
	ElevationGainMeters    float64       `json:"elevation_gain_meters"`
	Difficulty             string        `json:"difficulty"`
	ThumbnailURL           string        `json:"thumbnail_url,omitempty"`
	Creator                Creator       `json:"creator"`
	Stats                  ListItemStats `json:"stats"`
	CreatedAt              time.Time     `json:"created_at"`
	DistanceFromUserMeters *float64      `json:"distance_from_user_meters,omitempty"`
}

// Nearby is a home-screen suggestion row.
type Nearby struct {
	ID                     uuid.UUID `json:"id"`
	Title                  string    `json:"title"`
	DistanceMeters         float64   `json:"distance_meters"`
	TotalRuns              int       `json:"total_runs"`
	AvgPaceSecondsPerKm    int       `json:"avg_pace_seconds_per_km"`
	CreatorNickname        string    `json:"creator_nickname"`
	DistanceFromUserMeters float64   `json:"distance_from_user_meters"`
}

// MyCourse is one of the caller's own courses, private ones included.
type MyCourse struct {
	ID             uuid.UUID     `json:"id"`
	Title          string        `json:"title"`
	DistanceMeters float64       `json:"distance_meters"`
	IsPublic       bool          `json:"is_public"`
	CreatedAt      time.Time     `json:"created_at"`
	Stats          ListItemStats `json:"stats"`
}

// Marker is a map pin inside a viewport.
type Marker struct {
	ID             uuid.UUID `json:"id"`
	Title          string    `json:"title"`
	StartLat       float64   `json:"start_lat"`
	StartLng       float64   `json:"start_lng"`
	DistanceMeters float64   `json:"distance_meters"`
	TotalRuns      int       `json:"total_runs"`
}

// Bounds is a map viewport, south-west to north-east.
type Bounds struct {
	SWLat float64
	SWLng float64
	NELat float64
	NELng float64
}

func (b Bounds) validate() error {
	for _, lat := range []float64{b.SWLat, b.NELat} {
		if lat < -90 || lat > 90 {
			return apperror.Validation("latitude must be between -90 and 90")
		}
	}
	for _, lng := range []float64{b.SWLng, b.NELng} {
		if lng < -180 || lng > 180 {
			return apperror.Validation("longitude must be between -180 and 180")
		}
	}
	return nil
}

// Service manages the community course catalog. Courses are traced from
// a finished run, never drawn freehand, so the geometry always comes
// from a record the creator owns.
type Service struct {
	store       Store
	blob        shared.BlobStore
	queue       shared.TaskQueue
	bucket      string
	mapboxToken string
	cdnBaseURL  string
	logger      *slog.Logger

	// staticMapURL is the Mapbox Static Images endpoint. Swapped out
	// in tests.
	staticMapURL string
	httpClient   *http.Client
}

func NewService(store Store, blob shared.BlobStore, queue shared.TaskQueue, bucket, mapboxToken, cdnBaseURL string, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		blob:         blob,
		queue:        queue,
		bucket:       bucket,
		mapboxToken:  mapboxToken,
		cdnBaseURL:   cdnBaseURL,
		logger:       logger.With("component", "course"),
		staticMapURL: mapboxStaticURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

type CreateRequest struct {
	RunRecordID uuid.UUID `json:"run_record_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	IsPublic    *bool     `json:"is_public"`
}

// Create publishes a course from one of the caller's run records. The
// route, distance, and climb are taken from the record; difficulty is
// scored immediately with the completion term unknown.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, req CreateRequest) (*models.Course, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperror.Validation("title is required")
	}
	if len(title) > 100 {
		return nil, apperror.Validation("title must be 100 characters or fewer")
	}
	if req.RunRecordID == uuid.Nil {
		return nil, apperror.Validation("run_record_id is required")
	}

	rec, err := s.store.GetRunRecordForUser(ctx, req.RunRecordID, userID)
	if err != nil {
		return nil, fmt.Errorf("looking up run record: %w", err)
	}
	if rec == nil {
		return nil, apperror.NotFound("Run record not found")
	}
	if len(rec.RouteCoordinates) < 2 {
		return nil, apperror.Validation("run record has no route to trace")
	}

	isPublic := true
	if req.IsPublic != nil {
		isPublic = *req.IsPublic
	}

	_, level := Grade(rec.DistanceMeters, rec.ElevationGainMeters, nil)

	c := &models.Course{
		ID:                  uuid.New(),
		UserID:              userID,
		RunRecordID:         &rec.ID,
		Title:               title,
		Description:         strings.TrimSpace(req.Description),
		DistanceMeters:      rec.DistanceMeters,
		ElevationGainMeters: rec.ElevationGainMeters,
		RouteCoordinates:    rec.RouteCoordinates,
		StartLng:            rec.RouteCoordinates[0][0],
		StartLat:            rec.RouteCoordinates[0][1],
		Difficulty:          level,
		IsPublic:            isPublic,
	}
	if err := s.store.CreateCourse(ctx, c); err != nil {
		return nil, fmt.Errorf("creating course: %w", err)
	}
	s.enqueueThumbnail(ctx, c.ID)

	s.logger.Info("course created",
		"course_id", c.ID, "user_id", userID,
		"distance_m", c.DistanceMeters, "difficulty", c.Difficulty)
	return c, nil
}

// Get loads a course with its stats block.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	c, err := s.store.GetCourseWithStats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading course: %w", err)
	}
	if c == nil {
		return nil, apperror.NotFound("Course not found")
	}
	return c, nil
}

var listOrderings = map[string]bool{
	"created_at":         true,
	"distance_meters":    true,
	"total_runs":         true,
	"distance_from_user": true,
}

// List returns a filtered page of public courses plus the unpaged total.
func (s *Service) List(ctx context.Context, f ListFilter) ([]ListItem, int, error) {
	if !listOrderings[f.OrderBy] {
		f.OrderBy = "created_at"
	}
	hasNear := f.NearLat != nil && f.NearLng != nil
	if hasNear {
		if *f.NearLat < -90 || *f.NearLat > 90 || *f.NearLng < -180 || *f.NearLng > 180 {
			return nil, 0, apperror.Validation("near coordinates out of range")
		}
	}
	if f.OrderBy == "distance_from_user" && !hasNear {
		f.OrderBy = "created_at"
	}
	if f.Order != "asc" {
		f.Order = "desc"
	}
	f.NearRadiusMeters = clamp(f.NearRadiusMeters, 100, 100000, 10000)

	items, total, err := s.store.ListCourses(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("listing courses: %w", err)
	}
	return items, total, nil
}

// Nearby suggests the closest public courses to a point.
func (s *Service) Nearby(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]Nearby, error) {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return nil, apperror.Validation("coordinates out of range")
	}
	radiusMeters = clamp(radiusMeters, 100, 50000, 5000)
	if limit < 1 || limit > 50 {
		limit = 5
	}

	nearby, err := s.store.NearbyCourses(ctx, lat, lng, radiusMeters, limit)
	if err != nil {
		return nil, fmt.Errorf("finding nearby courses: %w", err)
	}
	return nearby, nil
}

// InBounds lists course markers inside a map viewport.
func (s *Service) InBounds(ctx context.Context, b Bounds, limit int) ([]Marker, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	markers, err := s.store.CoursesInBounds(ctx, b, limit)
	if err != nil {
		return nil, fmt.Errorf("finding courses in bounds: %w", err)
	}
	return markers, nil
}

// MyCourses lists everything the user created, newest first.
func (s *Service) MyCourses(ctx context.Context, userID uuid.UUID) ([]MyCourse, error) {
	items, err := s.store.ListUserCourses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user courses: %w", err)
	}
	return items, nil
}

func clamp(v, min, max, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
