package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/runbeat/server/pkg/apperror"
	"github.com/runbeat/server/pkg/models"
)

type Store interface {
	GetSocialAccount(ctx context.Context, provider, providerID string) (*models.SocialAccount, error)
	CreateSocialAccount(ctx context.Context, acc *models.SocialAccount) error
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	NicknameTaken(ctx context.Context, nickname string, excludeUserID uuid.UUID) (bool, error)
	UpdateUserProfile(ctx context.Context, userID uuid.UUID, nickname, profileImageURL *string) (*models.User, error)

	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	// GetRefreshTokenByHash returns revoked and expired rows too; the
	// service decides what each case means.
	GetRefreshTokenByHash(ctx context.Context, hash string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id uuid.UUID) error
	RevokeUserRefreshTokens(ctx context.Context, userID uuid.UUID) error
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

type Service struct {
	store      Store
	verifier   IdentityVerifier
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	logger     *slog.Logger
}

func NewService(store Store, verifier IdentityVerifier, secret string, accessTTL, refreshTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		store:      store,
		verifier:   verifier,
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		logger:     logger.With("component", "auth"),
	}
}

// LoginUser is the user block of a login response.
type LoginUser struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Nickname  string    `json:"nickname"`
	IsNewUser bool      `json:"is_new_user"`
}

// TokenPair is an issued access/refresh pair. User is set on login,
// absent on refresh.
type TokenPair struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type"`
	ExpiresIn    int        `json:"expires_in"`
	User         *LoginUser `json:"user,omitempty"`
}

// Login verifies the provider credential, finds or creates the user,
// and issues a token pair. New users start with nothing but the email
// the provider asserted.
func (s *Service) Login(ctx context.Context, provider, token, nonce string) (*TokenPair, error) {
	identity, err := s.verifier.Verify(ctx, provider, token, nonce)
	if err != nil {
		return nil, err
	}

	user, isNew, err := s.findOrCreateUser(ctx, provider, identity)
	if err != nil {
		return nil, err
	}

	pair, err := s.issuePair(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	pair.User = &LoginUser{
		ID:        user.ID,
		Email:     user.Email,
		Nickname:  user.Nickname,
		IsNewUser: isNew,
	}

	// Piggyback expired-token cleanup on the login path.
	if pruned, err := s.store.DeleteExpiredRefreshTokens(ctx, time.Now().UTC()); err != nil {
		s.logger.Warn("refresh token cleanup failed", "error", err)
	} else if pruned > 0 {
		s.logger.Debug("pruned expired refresh tokens", "count", pruned)
	}

	s.logger.Info("user logged in", "user_id", user.ID, "provider", provider, "new_user", isNew)
	return pair, nil
}

func (s *Service) findOrCreateUser(ctx context.Context, provider string, identity *Identity) (*models.User, bool, error) {
	acc, err := s.store.GetSocialAccount(ctx, provider, identity.ProviderID)
	if err != nil {
		return nil, false, fmt.Errorf("loading social account: %w", err)
	}
	if acc != nil {
		user, err := s.store.GetUser(ctx, acc.UserID)
		if err != nil {
			return nil, false, fmt.Errorf("loading user: %w", err)
		}
		if user == nil {
			return nil, false, fmt.Errorf("social account %s points at missing user %s", acc.ID, acc.UserID)
		}
		return user, false, nil
	}

	user := &models.User{Email: identity.Email}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, false, fmt.Errorf("creating user: %w", err)
	}
	if err := s.store.CreateSocialAccount(ctx, &models.SocialAccount{
		UserID:     user.ID,
		Provider:   provider,
		ProviderID: identity.ProviderID,
		Email:      identity.Email,
	}); err != nil {
		return nil, false, fmt.Errorf("creating social account: %w", err)
	}
	return user, true, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair issued. Presenting an already-revoked token is treated as
// theft and kills every session the user has.
func (s *Service) Refresh(ctx context.Context, rawToken string) (*TokenPair, error) {
	row, err := s.store.GetRefreshTokenByHash(ctx, HashToken(rawToken))
	if err != nil {
		return nil, fmt.Errorf("loading refresh token: %w", err)
	}
	if row == nil {
		return nil, apperror.Unauthorized("Invalid refresh token")
	}
	if row.IsRevoked {
		if err := s.store.RevokeUserRefreshTokens(ctx, row.UserID); err != nil {
			return nil, fmt.Errorf("revoking user tokens: %w", err)
		}
		s.logger.Warn("refresh token reuse detected", "user_id", row.UserID)
		return nil, apperror.Unauthorized("Refresh token reuse detected, all tokens revoked")
	}
	if row.ExpiresAt.Before(time.Now().UTC()) {
		return nil, apperror.Unauthorized("Refresh token expired")
	}

	if err := s.store.RevokeRefreshToken(ctx, row.ID); err != nil {
		return nil, fmt.Errorf("revoking refresh token: %w", err)
	}

	user, err := s.store.GetUser(ctx, row.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user == nil {
		return nil, apperror.Unauthorized("User not found")
	}
	return s.issuePair(ctx, user.ID)
}

func (s *Service) issuePair(ctx context.Context, userID uuid.UUID) (*TokenPair, error) {
	access, err := IssueAccessToken(s.secret, userID, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, hash, err := NewRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateRefreshToken(ctx, &models.RefreshToken{
		UserID:    userID,
		TokenHash: hash,
		ExpiresAt: time.Now().UTC().Add(s.refreshTTL),
	}); err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(s.accessTTL.Seconds()),
	}, nil
}

// Authenticate resolves a bearer token to its user. Every failure mode
// maps to AUTH_EXPIRED so clients know to re-login.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	userID, err := VerifyAccessToken(s.secret, token)
	if err != nil {
		return nil, apperror.Unauthorized("Invalid or expired token")
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	if user == nil {
		return nil, apperror.Unauthorized("User not found")
	}
	return user, nil
}

// ProfileUpdate carries the profile fields a user may change. Nil means
// leave the field alone.
type ProfileUpdate struct {
	Nickname        *string `json:"nickname"`
	ProfileImageURL *string `json:"profile_image_url"`
}

// UpdateProfile applies a partial profile change. Nicknames are unique
// across users; login leaves them empty, so the first call here is what
// finishes onboarding.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, upd ProfileUpdate) (*models.User, error) {
	if upd.Nickname != nil {
		nickname := strings.TrimSpace(*upd.Nickname)
		if n := utf8.RuneCountInString(nickname); n < 2 || n > 12 {
			return nil, apperror.Validation("nickname must be 2 to 12 characters")
		}
		taken, err := s.store.NicknameTaken(ctx, nickname, userID)
		if err != nil {
			return nil, fmt.Errorf("checking nickname: %w", err)
		}
		if taken {
			return nil, apperror.Conflict(apperror.CodeDuplicateNickname, "Nickname already taken")
		}
		upd.Nickname = &nickname
	}

	user, err := s.store.UpdateUserProfile(ctx, userID, upd.Nickname, upd.ProfileImageURL)
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	if user == nil {
		return nil, apperror.Unauthorized("User not found")
	}
	return user, nil
}
