package api

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/runbeat/server/pkg/apperror"
	"github.com/runbeat/server/pkg/models"
)

// MountStravaRoutes registers the Strava account link and sync
// endpoints.
func MountStravaRoutes(r chi.Router, srv *Server) {
	r.Get("/strava/auth-url", srv.HandleStravaAuthURL)
	r.Post("/strava/connect", srv.HandleStravaConnect)
	r.Get("/strava/status", srv.HandleStravaStatus)
	r.Get("/strava/activities", srv.HandleStravaActivities)
	r.Post("/strava/sync", srv.HandleStravaSync)
	r.Delete("/strava/disconnect", srv.HandleStravaDisconnect)
}

// HandleStravaAuthURL hands the client a ready-made OAuth authorize URL
// with a fresh state token. The client checks state on callback.
func (s *Server) HandleStravaAuthURL(w http.ResponseWriter, r *http.Request) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		s.writeError(w, err)
		return
	}
	state := base64.RawURLEncoding.EncodeToString(buf)

	q := url.Values{
		"client_id":     {s.Config.StravaClientID},
		"redirect_uri":  {s.Config.StravaRedirectURI},
		"response_type": {"code"},
		"scope":         {"activity:read_all"},
		"state":         {state},
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"auth_url": "https://www.strava.com/oauth/authorize?" + q.Encode(),
		"state":    state,
	})
}

type stravaConnectRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type stravaStatusResponse struct {
	Connected         bool       `json:"connected"`
	AthleteName       string     `json:"athlete_name,omitempty"`
	AthleteProfileURL string     `json:"athlete_profile_url,omitempty"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	AutoSync          bool       `json:"auto_sync"`
}

func toStravaStatus(conn *models.StravaConnection) stravaStatusResponse {
	if conn == nil {
		return stravaStatusResponse{Connected: false}
	}
	return stravaStatusResponse{
		Connected:         true,
		AthleteName:       conn.AthleteName,
		AthleteProfileURL: conn.AthleteProfileURL,
		LastSyncAt:        conn.LastSyncAt,
		AutoSync:          conn.AutoSync,
	}
}

// HandleStravaConnect exchanges the OAuth code and stores the athlete's
// tokens.
func (s *Server) HandleStravaConnect(w http.ResponseWriter, r *http.Request) {
	var req stravaConnectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Code == "" {
		errorJSON(w, "code is required", apperror.CodeValidation, http.StatusUnprocessableEntity)
		return
	}

	conn, err := s.Imports.ConnectStrava(r.Context(), UserFromContext(r.Context()).ID, req.Code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStravaStatus(conn))
}

// HandleStravaStatus reports whether the caller has a linked Strava
// account.
func (s *Server) HandleStravaStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := s.Imports.StravaStatus(r.Context(), UserFromContext(r.Context()).ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStravaStatus(conn))
}

// HandleStravaActivities proxies the athlete's recent runs so the app
// can offer them for import.
func (s *Server) HandleStravaActivities(w http.ResponseWriter, r *http.Request) {
	perPage := intQuery(r, "per_page", 30)
	if perPage < 1 || perPage > 100 {
		perPage = 30
	}
	var after *time.Time
	if ts := intQuery(r, "after_ts", 0); ts > 0 {
		t := time.Unix(int64(ts), 0).UTC()
		after = &t
	}

	activities, err := s.Imports.ListStravaActivities(r.Context(), UserFromContext(r.Context()).ID, perPage, after)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activities)
}

type stravaSyncRequest struct {
	StravaActivityID int64 `json:"strava_activity_id"`
}

// HandleStravaSync queues one Strava activity for import.
func (s *Server) HandleStravaSync(w http.ResponseWriter, r *http.Request) {
	var req stravaSyncRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.StravaActivityID == 0 {
		errorJSON(w, "strava_activity_id is required", apperror.CodeValidation, http.StatusUnprocessableEntity)
		return
	}

	imp, err := s.Imports.SyncStravaActivity(r.Context(), UserFromContext(r.Context()).ID, req.StravaActivityID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"import_id": imp.ID,
		"status":    imp.Status,
		"message":   "Strava activity queued for import.",
	})
}

// HandleStravaDisconnect unlinks the account and drops stored tokens.
func (s *Server) HandleStravaDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.Imports.DisconnectStrava(r.Context(), UserFromContext(r.Context()).ID); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
