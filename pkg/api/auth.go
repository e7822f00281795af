package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/runbeat/server/pkg/apperror"
)

// MountAuthRoutes registers the public login and refresh endpoints.
func MountAuthRoutes(r chi.Router, srv *Server) {
	r.Post("/auth/login", srv.HandleLogin)
	r.Post("/auth/refresh", srv.HandleRefresh)
}

type loginRequest struct {
	Provider string `json:"provider"`
	Token    string `json:"token"`
	// Nonce is only meaningful for Apple Sign In.
	Nonce string `json:"nonce"`
}

// HandleLogin verifies a social provider credential, finds or creates
// the user, and issues a token pair.
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Provider == "" || req.Token == "" {
		errorJSON(w, "provider and token are required", apperror.CodeValidation, http.StatusUnprocessableEntity)
		return
	}

	pair, err := s.Auth.Login(r.Context(), req.Provider, req.Token, req.Nonce)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh rotates a refresh token into a fresh pair.
func (s *Server) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		errorJSON(w, "refresh_token is required", apperror.CodeValidation, http.StatusUnprocessableEntity)
		return
	}

	pair, err := s.Auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}
