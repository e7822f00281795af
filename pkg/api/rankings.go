package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRankingRoutes registers the per-course leaderboard endpoints.
func MountRankingRoutes(r chi.Router, srv *Server) {
	r.Get("/courses/{courseID}/rankings", srv.HandleCourseLeaderboard)
	r.Get("/courses/{courseID}/rankings/me", srv.HandleMyRanking)
	r.Get("/courses/{courseID}/rankings/me/best", srv.HandleMyBestRun)
}

// HandleCourseLeaderboard serves one page of standings plus the
// caller's own entry.
func (s *Server) HandleCourseLeaderboard(w http.ResponseWriter, r *http.Request) {
	courseID, ok := uuidParam(w, r, "courseID")
	if !ok {
		return
	}
	page, perPage := pageParams(r)

	board, err := s.Rankings.CourseLeaderboard(r.Context(), courseID, UserFromContext(r.Context()).ID, page, perPage)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

// HandleMyRanking serves the caller's standing with percentile.
func (s *Server) HandleMyRanking(w http.ResponseWriter, r *http.Request) {
	courseID, ok := uuidParam(w, r, "courseID")
	if !ok {
		return
	}

	mine, err := s.Rankings.UserCourseRanking(r.Context(), courseID, UserFromContext(r.Context()).ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mine)
}

// HandleMyBestRun serves the run behind the caller's leaderboard entry.
// Body is a bare null when the caller has no completed run here.
func (s *Server) HandleMyBestRun(w http.ResponseWriter, r *http.Request) {
	courseID, ok := uuidParam(w, r, "courseID")
	if !ok {
		return
	}

	best, err := s.Rankings.UserCourseBest(r.Context(), courseID, UserFromContext(r.Context()).ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, best)
}
