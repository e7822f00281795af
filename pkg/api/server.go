// Package api exposes the HTTP surface: chi routes, auth middleware,
// and the mapping from service errors onto the {"code","message"} wire
// format.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	shared "github.com/runbeat/server/pkg"
	"github.com/runbeat/server/pkg/apperror"
	"github.com/runbeat/server/pkg/auth"
	"github.com/runbeat/server/pkg/bootstrap"
	"github.com/runbeat/server/pkg/domain/course"
	"github.com/runbeat/server/pkg/domain/importer"
	"github.com/runbeat/server/pkg/domain/ranking"
	"github.com/runbeat/server/pkg/domain/run"
	"github.com/runbeat/server/pkg/infrastructure/database"
	"github.com/runbeat/server/pkg/infrastructure/metrics"
	"github.com/runbeat/server/pkg/infrastructure/sentry"
	"github.com/runbeat/server/pkg/models"
)

// HeatmapStore aggregates route points into viewport density cells.
// Implemented by the database store.
type HeatmapStore interface {
	Heatmap(ctx context.Context, swLat, swLng, neLat, neLng float64, limit int) ([]database.HeatCell, error)
}

// UserStore resolves user rows for response decoration. Implemented by
// the database store.
type UserStore interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Server carries the services the handlers dispatch to.
type Server struct {
	Auth     *auth.Service
	Runs     *run.Service
	Courses  *course.Service
	Rankings *ranking.Service
	Imports  *importer.Service
	Heat     HeatmapStore
	Users    UserStore
	Blob     shared.BlobStore
	Config   *bootstrap.Config
	Logger   *slog.Logger
}

// NewRouter builds the full route tree. Course reads and the heatmap
// are public; everything else under /api/v1 requires a bearer token.
func NewRouter(srv *Server) *chi.Mux {
	r := chi.NewRouter()
	r.Use(srv.recoverPanic)
	r.Use(corsMiddleware(srv.Config.CORSOrigins))
	r.Use(srv.instrument)

	r.Get("/healthz", srv.HandleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		MountAuthRoutes(r, srv)
		MountCourseRoutes(r, srv)
		MountHeatmapRoutes(r, srv)

		r.Group(func(r chi.Router) {
			r.Use(srv.requireAuth)
			MountRunRoutes(r, srv)
			MountImportRoutes(r, srv)
			MountRankingRoutes(r, srv)
			MountUserRoutes(r, srv)
			MountUploadRoutes(r, srv)
			MountStravaRoutes(r, srv)
		})
	})

	return r
}

// HandleHealth answers load balancer probes.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": shared.ServiceName,
		"env":     s.Config.Environment,
	})
}

// --- Request context ---

type ctxKey int

const userKey ctxKey = iota

// UserFromContext returns the authenticated user placed by requireAuth,
// nil on public routes.
func UserFromContext(ctx context.Context) *models.User {
	user, _ := ctx.Value(userKey).(*models.User)
	return user
}

func withUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// --- Middleware ---

// requireAuth resolves the bearer token to a full user row and stashes
// it in the request context. All failures are AUTH_EXPIRED 401.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			errorJSON(w, "Not authenticated", apperror.CodeAuthExpired, http.StatusUnauthorized)
			return
		}
		user, err := s.Auth.Authenticate(r.Context(), token)
		if err != nil {
			s.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

// instrument records request latency per route and logs one line per
// request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).
			Observe(elapsed.Seconds())
		s.Logger.Info("request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration_ms", elapsed.Milliseconds())
	})
}

// recoverPanic reports the panic to Sentry and converts it into a 500
// instead of killing the connection.
func (s *Server) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}
				s.Logger.Error("panic recovered", "method", r.Method, "path", r.URL.Path, "error", err)
				sentry.CaptureException(err, map[string]interface{}{"path": r.URL.Path}, s.Logger)
				errorJSON(w, "An unexpected error occurred", apperror.CodeInternal, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case origin == "":
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// errorJSON writes the {"code","message"} error body every endpoint
// uses.
func errorJSON(w http.ResponseWriter, message, code string, status int) {
	writeJSON(w, status, map[string]string{"code": code, "message": message})
}

// writeError maps a service error onto the wire format. Anything that
// is not an *apperror.Error is an internal error: logged, reported,
// and hidden behind a generic 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if appErr, ok := apperror.From(err); ok {
		errorJSON(w, appErr.Message, appErr.Code, appErr.Status)
		return
	}
	s.Logger.Error("unhandled service error", "error", err)
	sentry.CaptureException(err, nil, s.Logger)
	errorJSON(w, "An unexpected error occurred", apperror.CodeInternal, http.StatusInternalServerError)
}

// --- Param helpers ---

// listEnvelope is the shared pagination wrapper.
type listEnvelope struct {
	Data       any  `json:"data"`
	TotalCount int  `json:"total_count"`
	HasNext    bool `json:"has_next"`
}

func envelope(data any, page, perPage, total int) listEnvelope {
	return listEnvelope{
		Data:       data,
		TotalCount: total,
		HasNext:    (page+1)*perPage < total,
	}
}

// geoLineString is the GeoJSON geometry served for stored routes.
type geoLineString struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

func lineString(coords [][]float64) *geoLineString {
	if len(coords) == 0 {
		return nil
	}
	return &geoLineString{Type: "LineString", Coordinates: coords}
}

// pageParams reads 0-based page / per_page. A limit parameter, when
// present, overrides per_page; older clients still send it.
func pageParams(r *http.Request) (page, perPage int) {
	page = intQuery(r, "page", 0)
	if page < 0 {
		page = 0
	}
	perPage = intQuery(r, "per_page", 20)
	if v := intQuery(r, "limit", 0); v > 0 {
		perPage = v
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	return page, perPage
}

func intQuery(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func floatQuery(r *http.Request, key string) (float64, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// uuidParam parses a UUID path segment, answering 422 on garbage the
// way the rest of the validation layer does.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		errorJSON(w, "Invalid "+name, apperror.CodeValidation, http.StatusUnprocessableEntity)
		return uuid.Nil, false
	}
	return id, true
}

// decodeBody parses a JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		errorJSON(w, "Invalid request body", apperror.CodeValidation, http.StatusBadRequest)
		return false
	}
	return true
}
