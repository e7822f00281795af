package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/runbeat/server/pkg/apperror"
	"github.com/runbeat/server/pkg/auth"
	"github.com/runbeat/server/pkg/models"
)

// MountUserRoutes registers the caller-scoped profile, stats, and
// history endpoints.
func MountUserRoutes(r chi.Router, srv *Server) {
	r.Get("/users/me", srv.HandleMe)
	r.Post("/users/me/profile", srv.HandleCreateProfile)
	r.Patch("/users/me/profile", srv.HandleUpdateProfile)
	r.Get("/users/me/stats", srv.HandleMyStats)
	r.Get("/users/me/stats/weekly", srv.HandleMyWeeklyStats)
	r.Get("/users/me/runs", srv.HandleMyRuns)
	r.Get("/users/me/courses", srv.HandleMyCourses)
}

// HandleMe serves the caller's account summary.
func (s *Server) HandleMe(w http.ResponseWriter, r *http.Request) {
	u := UserFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                    u.ID,
		"email":                 u.Email,
		"nickname":              u.Nickname,
		"profile_image_url":     u.ProfileImageURL,
		"total_distance_meters": u.TotalDistanceMeters,
		"total_runs":            u.TotalRuns,
		"created_at":            u.CreatedAt,
	})
}

func profileResponse(u *models.User) map[string]any {
	return map[string]any{
		"id":                u.ID,
		"nickname":          u.Nickname,
		"profile_image_url": u.ProfileImageURL,
	}
}

// HandleCreateProfile is the first-run profile setup. Nickname is
// mandatory here; social login only gives us an email.
func (s *Server) HandleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req auth.ProfileUpdate
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Nickname == nil || strings.TrimSpace(*req.Nickname) == "" {
		errorJSON(w, "nickname is required", apperror.CodeValidation, http.StatusUnprocessableEntity)
		return
	}

	u, err := s.Auth.UpdateProfile(r.Context(), UserFromContext(r.Context()).ID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, profileResponse(u))
}

// HandleUpdateProfile applies a partial profile edit.
func (s *Server) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req auth.ProfileUpdate
	if !decodeBody(w, r, &req) {
		return
	}

	u, err := s.Auth.UpdateProfile(r.Context(), UserFromContext(r.Context()).ID, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profileResponse(u))
}

// HandleMyStats serves aggregate stats for a period (week, month, year,
// or all).
func (s *Server) HandleMyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Rankings.UserStats(r.Context(), UserFromContext(r.Context()).ID, r.URL.Query().Get("period"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleMyWeeklyStats serves the home-screen week summary.
func (s *Server) HandleMyWeeklyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Rankings.UserWeeklyStats(r.Context(), UserFromContext(r.Context()).ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleMyRuns serves the caller's run history, newest finish first.
func (s *Server) HandleMyRuns(w http.ResponseWriter, r *http.Request) {
	page, perPage := pageParams(r)

	items, total, err := s.Runs.RunHistory(r.Context(), UserFromContext(r.Context()).ID, page, perPage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope(items, page, perPage, total))
}

// HandleMyCourses lists the caller's own courses, private ones
// included.
func (s *Server) HandleMyCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := s.Courses.MyCourses(r.Context(), UserFromContext(r.Context()).ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}
