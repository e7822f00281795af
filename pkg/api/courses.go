package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/runbeat/server/pkg/apperror"
	"github.com/runbeat/server/pkg/domain/course"
)

// MountCourseRoutes registers the course endpoints. Reads are public so
// the app can browse before login; publishing a course is not.
func MountCourseRoutes(r chi.Router, srv *Server) {
	r.Get("/courses", srv.HandleListCourses)
	r.With(srv.requireAuth).Post("/courses", srv.HandleCreateCourse)
	r.Get("/courses/nearby", srv.HandleNearbyCourses)
	r.Get("/courses/bounds", srv.HandleCoursesInBounds)
	r.Get("/courses/{courseID}", srv.HandleGetCourse)
	r.Get("/courses/{courseID}/stats", srv.HandleCourseStats)
}

// HandleListCourses serves the filtered, paginated course catalog.
func (s *Server) HandleListCourses(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)
	f := course.ListFilter{
		Search:  r.URL.Query().Get("search"),
		OrderBy: r.URL.Query().Get("order_by"),
		Order:   r.URL.Query().Get("order"),
		Page:    page,
		PerPage: perPage,
	}
	if v, ok := floatQuery(r, "min_distance"); ok {
		f.MinDistanceMeters = &v
	}
	if v, ok := floatQuery(r, "max_distance"); ok {
		f.MaxDistanceMeters = &v
	}
	if v, ok := floatQuery(r, "near_lat"); ok {
		f.NearLat = &v
	}
	if v, ok := floatQuery(r, "near_lng"); ok {
		f.NearLng = &v
	}
	if v, ok := floatQuery(r, "near_radius"); ok {
		f.NearRadiusMeters = v
	}

	items, total, err := s.Courses.List(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope(items, page, perPage, total))
}

// HandleCreateCourse publishes a course traced from one of the caller's
// run records.
func (s *Server) HandleCreateCourse(w http.ResponseWriter, r *http.Request) {
	var req course.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	c, err := s.Courses.Create(r.Context(), UserFromContext(r.Context()).ID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":              c.ID,
		"title":           c.Title,
		"distance_meters": c.DistanceMeters,
		"difficulty":      c.Difficulty,
		"created_at":      c.CreatedAt,
	})
}

// HandleNearbyCourses suggests courses around a point for the home
// screen.
func (s *Server) HandleNearbyCourses(w http.ResponseWriter, r *http.Request) {
	lat, latOK := floatQuery(r, "lat")
	lng, lngOK := floatQuery(r, "lng")
	if !latOK || !lngOK {
		errorJSON(w, "lat and lng are required", apperror.CodeValidation, http.StatusUnprocessableEntity)
		return
	}
	radius, _ := floatQuery(r, "radius")
	limit := intQuery(r, "limit", 0)

	nearby, err := s.Courses.Nearby(r.Context(), lat, lng, radius, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nearby)
}

// HandleCoursesInBounds returns map markers inside a viewport.
func (s *Server) HandleCoursesInBounds(w http.ResponseWriter, r *http.Request) {
	swLat, a := floatQuery(r, "sw_lat")
	swLng, b := floatQuery(r, "sw_lng")
	neLat, c := floatQuery(r, "ne_lat")
	neLng, d := floatQuery(r, "ne_lng")
	if !a || !b || !c || !d {
		errorJSON(w, "sw_lat, sw_lng, ne_lat and ne_lng are required", apperror.CodeValidation, http.StatusUnprocessableEntity)
		return
	}

	markers, err := s.Courses.InBounds(r.Context(),
		course.Bounds{SWLat: swLat, SWLng: swLng, NELat: neLat, NELng: neLng},
		intQuery(r, "limit", 0))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, markers)
}

type courseDetail struct {
	ID                  uuid.UUID      `json:"id"`
	Title               string         `json:"title"`
	Description         string         `json:"description"`
	DistanceMeters      float64        `json:"distance_meters"`
	ElevationGainMeters float64        `json:"elevation_gain_meters"`
	Difficulty          string         `json:"difficulty"`
	StartLat            float64        `json:"start_lat"`
	StartLng            float64        `json:"start_lng"`
	RouteGeometry       *geoLineString `json:"route_geometry"`
	IsPublic            bool           `json:"is_public"`
	ThumbnailURL        string         `json:"thumbnail_url,omitempty"`
	Creator             course.Creator `json:"creator"`
	CreatedAt           time.Time      `json:"created_at"`
}

// HandleGetCourse serves the full course detail with route geometry.
func (s *Server) HandleGetCourse(w http.ResponseWriter, r *http.Request) {
	courseID, ok := uuidParam(w, r, "courseID")
	if !ok {
		return
	}

	c, err := s.Courses.Get(r.Context(), courseID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	detail := courseDetail{
		ID:                  c.ID,
		Title:               c.Title,
		Description:         c.Description,
		DistanceMeters:      c.DistanceMeters,
		ElevationGainMeters: c.ElevationGainMeters,
		Difficulty:          c.Difficulty,
		StartLat:            c.StartLat,
		StartLng:            c.StartLng,
		RouteGeometry:       lineString(c.RouteCoordinates),
		IsPublic:            c.IsPublic,
		ThumbnailURL:        c.ThumbnailURL,
		Creator:             course.Creator{ID: c.UserID},
		CreatedAt:           c.CreatedAt,
	}
	if u, err := s.Users.GetUser(r.Context(), c.UserID); err != nil {
		s.writeError(w, err)
		return
	} else if u != nil {
		detail.Creator = course.Creator{ID: u.ID, Nickname: u.Nickname, ProfileImageURL: u.ProfileImageURL}
	}

	writeJSON(w, http.StatusOK, detail)
}

type courseStatsResponse struct {
	CourseID             uuid.UUID      `json:"course_id"`
	TotalRuns            int            `json:"total_runs"`
	UniqueRunners        int            `json:"unique_runners"`
	AvgDurationSeconds   int            `json:"avg_duration_seconds"`
	AvgPaceSecondsPerKm  int            `json:"avg_pace_seconds_per_km"`
	BestDurationSeconds  int            `json:"best_duration_seconds"`
	BestPaceSecondsPerKm int            `json:"best_pace_seconds_per_km"`
	CompletionRate       float64        `json:"completion_rate"`
	RunsByHour           map[string]int `json:"runs_by_hour"`
	UpdatedAt            *time.Time     `json:"updated_at"`
}

// HandleCourseStats serves the aggregate block maintained by the stats
// task. Courses nobody has run yet get zeroes.
func (s *Server) HandleCourseStats(w http.ResponseWriter, r *http.Request) {
	courseID, ok := uuidParam(w, r, "courseID")
	if !ok {
		return
	}

	c, err := s.Courses.Get(r.Context(), courseID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := courseStatsResponse{CourseID: c.ID, RunsByHour: map[string]int{}}
	if st := c.Stats; st != nil {
		resp.TotalRuns = st.TotalRuns
		resp.UniqueRunners = st.UniqueRunners
		resp.AvgDurationSeconds = st.AvgDurationSeconds
		resp.AvgPaceSecondsPerKm = st.AvgPaceSecondsPerKm
		resp.BestDurationSeconds = st.BestDurationSeconds
		resp.BestPaceSecondsPerKm = st.BestPaceSecondsPerKm
		resp.CompletionRate = st.CompletionRate
		if st.RunsByHour != nil {
			resp.RunsByHour = st.RunsByHour
		}
		resp.UpdatedAt = &st.UpdatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}
