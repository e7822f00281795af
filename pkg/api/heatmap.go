package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/runbeat/server/pkg/apperror"
)

// MountHeatmapRoutes registers the public activity heatmap endpoint.
func MountHeatmapRoutes(r chi.Router, srv *Server) {
	r.Get("/heatmap", srv.HandleHeatmap)
}

// HandleHeatmap serves run density cells for a map viewport.
func (s *Server) HandleHeatmap(w http.ResponseWriter, r *http.Request) {
	swLat, a := floatQuery(r, "sw_lat")
	swLng, b := floatQuery(r, "sw_lng")
	neLat, c := floatQuery(r, "ne_lat")
	neLng, d := floatQuery(r, "ne_lng")
	if !a || !b || !c || !d {
		errorJSON(w, "sw_lat, sw_lng, ne_lat and ne_lng are required", apperror.CodeValidation, http.StatusUnprocessableEntity)
		return
	}
	if swLat < -90 || swLat > 90 || neLat < -90 || neLat > 90 ||
		swLng < -180 || swLng > 180 || neLng < -180 || neLng > 180 {
		errorJSON(w, "coordinates out of range", apperror.CodeValidation, http.StatusUnprocessableEntity)
		return
	}
	limit := intQuery(r, "limit", 5000)
	if limit < 1 || limit > 10000 {
		limit = 5000
	}

	cells, err := s.Heat.Heatmap(r.Context(), swLat, swLng, neLat, neLng, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cells)
}
