package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runbeat/server/pkg/infrastructure/httputil"
	"github.com/runbeat/server/pkg/models"
)

const tokenURL = "https://www.strava.com/oauth/token"

// Token is an access token with its paired refresh token.
type Token struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// TokenSource yields a valid access token for one athlete, refreshing
// it against Strava when it is about to lapse. Implementations must be
// safe for concurrent use.
type TokenSource interface {
	Token(ctx context.Context) (*Token, error)
	// ForceRefresh refreshes regardless of expiry, for when the API
	// rejects a token the expiry said was still good.
	ForceRefresh(ctx context.Context) (*Token, error)
}

// ConnectionStore persists per-user Strava credentials.
type ConnectionStore interface {
	GetStravaConnection(ctx context.Context, userID uuid.UUID) (*models.StravaConnection, error)
	UpdateStravaTokens(ctx context.Context, userID uuid.UUID, accessToken, refreshToken string, expiresAt time.Time) error
}

// DBTokenSource loads tokens from the connection store and writes
// refreshed ones back so the next sync starts from a live credential.
type DBTokenSource struct {
	store        ConnectionStore
	userID       uuid.UUID
	clientID     string
	clientSecret string
	endpoint     string
	logger       *slog.Logger

	mu sync.Mutex
}

func NewDBTokenSource(store ConnectionStore, userID uuid.UUID, clientID, clientSecret string, logger *slog.Logger) *DBTokenSource {
	return &DBTokenSource{
		store:        store,
		userID:       userID,
		clientID:     clientID,
		clientSecret: clientSecret,
		endpoint:     tokenURL,
		logger:       logger,
	}
}

func (s *DBTokenSource) Token(ctx context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.store.GetStravaConnection(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("loading strava connection: %w", err)
	}
	if conn == nil {
		return nil, fmt.Errorf("user %s has no strava connection", s.userID)
	}
	if conn.AccessToken == "" || conn.RefreshToken == "" {
		return nil, fmt.Errorf("strava connection for user %s has no tokens", s.userID)
	}

	// Refresh ahead of expiry so a token never dies mid-sync.
	if time.Now().Add(5 * time.Minute).After(conn.TokenExpiresAt) {
		s.logger.Debug("access token near expiry, refreshing", "user_id", s.userID)
		return s.refreshToken(ctx, conn.RefreshToken)
	}

	return &Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		Expiry:       conn.TokenExpiresAt,
	}, nil
}

func (s *DBTokenSource) ForceRefresh(ctx context.Context) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.store.GetStravaConnection(ctx, s.userID)
	if err != nil {
		return nil, fmt.Errorf("loading strava connection: %w", err)
	}
	if conn == nil || conn.RefreshToken == "" {
		return nil, fmt.Errorf("user %s has no refresh token to force-refresh with", s.userID)
	}
	return s.refreshToken(ctx, conn.RefreshToken)
}

// refreshToken exchanges the refresh token and persists the result.
// Callers must hold s.mu.
func (s *DBTokenSource) refreshToken(ctx context.Context, refreshToken string) (*Token, error) {
	form := url.Values{
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refreshing strava token: %w", err)
	}
	defer resp.Body.Close()

	if err := httputil.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("strava token refresh rejected: %w", err)
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
		ExpiresAt    int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding refresh response: %w", err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("strava token refresh returned empty access token")
	}

	expiry := time.Unix(payload.ExpiresAt, 0)
	if payload.ExpiresAt == 0 {
		expiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	// Strava usually rotates the refresh token; keep the old one if a
	// response ever omits it.
	if payload.RefreshToken == "" {
		payload.RefreshToken = refreshToken
	}

	if err := s.store.UpdateStravaTokens(ctx, s.userID, payload.AccessToken, payload.RefreshToken, expiry); err != nil {
		return nil, fmt.Errorf("persisting refreshed token: %w", err)
	}
	s.logger.Info("refreshed strava access token", "user_id", s.userID, "expires_at", expiry)

	return &Token{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		Expiry:       expiry,
	}, nil
}

// StaticTokenSource wraps a fixed token, for calls made right after an
// OAuth exchange before anything is persisted.
type StaticTokenSource struct {
	T Token
}

func (s *StaticTokenSource) Token(context.Context) (*Token, error)        { return &s.T, nil }
func (s *StaticTokenSource) ForceRefresh(context.Context) (*Token, error) { return &s.T, nil }
