package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	shared "github.com/runbeat/server/pkg"
	"github.com/runbeat/server/pkg/apperror"
)

const (
	appleKeysURL = "https://appleid.apple.com/auth/keys"
	appleIssuer  = "https://appleid.apple.com"
)

// Identity is what a social provider asserts about the person logging
// in. Only ProviderID is guaranteed; everything else depends on the
// provider and the user's consent.
type Identity struct {
	ProviderID      string
	Email           string
	Nickname        string
	ProfileImageURL string
}

// IdentityVerifier checks a provider credential and returns the
// asserted identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, provider, token, nonce string) (*Identity, error)
}

// Providers verifies credentials against each supported provider.
// Apple hands us a signed id_token checked against Apple's JWKS; the
// others take an access token we present to their userinfo endpoint.
type Providers struct {
	googleClientID string
	appleBundleID  string
	httpClient     *http.Client
	logger         *slog.Logger

	// Endpoint overrides for tests.
	googleTokenInfoURL string
	kakaoUserInfoURL   string
	naverUserInfoURL   string

	mu        sync.Mutex
	appleJWKS keyfunc.Keyfunc
}

func NewProviders(googleClientID, appleBundleID string, logger *slog.Logger) *Providers {
	return &Providers{
		googleClientID:     googleClientID,
		appleBundleID:      appleBundleID,
		httpClient:         &http.Client{Timeout: 10 * time.Second},
		logger:             logger.With("component", "auth"),
		googleTokenInfoURL: "https://oauth2.googleapis.com/tokeninfo",
		kakaoUserInfoURL:   "https://kapi.kakao.com/v2/user/me",
		naverUserInfoURL:   "https://openapi.naver.com/v1/nid/me",
	}
}

func (p *Providers) Verify(ctx context.Context, provider, token, nonce string) (*Identity, error) {
	switch provider {
	case shared.ProviderApple:
		return p.verifyApple(token, nonce)
	case shared.ProviderGoogle:
		return p.verifyGoogle(ctx, token)
	case shared.ProviderKakao:
		return p.verifyKakao(ctx, token)
	case shared.ProviderNaver:
		return p.verifyNaver(ctx, token)
	default:
		return nil, apperror.New("INVALID_PROVIDER",
			fmt.Sprintf("Unknown provider: %s", provider), http.StatusUnauthorized)
	}
}

type appleClaims struct {
	Email string `json:"email"`
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

func (p *Providers) verifyApple(idToken, nonce string) (*Identity, error) {
	jwks, err := p.appleKeyfunc()
	if err != nil {
		p.logger.Error("apple jwks fetch failed", "error", err)
		return nil, apperror.New("APPLE_AUTH_FAILED",
			"Failed to fetch Apple public keys", http.StatusUnauthorized)
	}

	var claims appleClaims
	_, err = jwt.ParseWithClaims(idToken, &claims, jwks.Keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(appleIssuer),
		jwt.WithAudience(p.appleBundleID),
	)
	if err != nil {
		return nil, apperror.New("APPLE_AUTH_FAILED",
			"Apple token verification failed: "+err.Error(), http.StatusUnauthorized)
	}
	if nonce != "" && claims.Nonce != nonce {
		return nil, apperror.New("APPLE_AUTH_FAILED", "Nonce mismatch", http.StatusUnauthorized)
	}
	return &Identity{ProviderID: claims.Subject, Email: claims.Email}, nil
}

// appleKeyfunc builds the JWKS-backed keyfunc on first use. The keyset
// refreshes itself in the background for the process lifetime.
func (p *Providers) appleKeyfunc() (keyfunc.Keyfunc, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.appleJWKS != nil {
		return p.appleJWKS, nil
	}
	k, err := keyfunc.NewDefaultCtx(context.Background(), []string{appleKeysURL})
	if err != nil {
		return nil, err
	}
	p.appleJWKS = k
	return k, nil
}

func (p *Providers) verifyGoogle(ctx context.Context, idToken string) (*Identity, error) {
	var data struct {
		Aud     string `json:"aud"`
		Sub     string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	endpoint := p.googleTokenInfoURL + "?id_token=" + url.QueryEscape(idToken)
	if err := p.getJSON(ctx, endpoint, "", &data); err != nil {
		p.logger.Warn("google tokeninfo call failed", "error", err)
		return nil, apperror.New("GOOGLE_AUTH_FAILED",
			"Google token verification failed", http.StatusUnauthorized)
	}
	if data.Aud != p.googleClientID {
		return nil, apperror.New("GOOGLE_AUTH_FAILED",
			"Google token audience mismatch", http.StatusUnauthorized)
	}
	return &Identity{
		ProviderID:      data.Sub,
		Email:           data.Email,
		Nickname:        data.Name,
		ProfileImageURL: data.Picture,
	}, nil
}

func (p *Providers) verifyKakao(ctx context.Context, accessToken string) (*Identity, error) {
	var data struct {
		ID           int64 `json:"id"`
		KakaoAccount struct {
			Email   string `json:"email"`
			Profile struct {
				Nickname        string `json:"nickname"`
				ProfileImageURL string `json:"profile_image_url"`
			} `json:"profile"`
		} `json:"kakao_account"`
	}
	if err := p.getJSON(ctx, p.kakaoUserInfoURL, accessToken, &data); err != nil {
		p.logger.Warn("kakao userinfo call failed", "error", err)
		return nil, apperror.New("KAKAO_AUTH_FAILED",
			"Kakao token verification failed", http.StatusUnauthorized)
	}
	if data.ID == 0 {
		return nil, apperror.New("KAKAO_AUTH_FAILED",
			"Kakao response carried no user id", http.StatusUnauthorized)
	}
	return &Identity{
		ProviderID:      strconv.FormatInt(data.ID, 10),
		Email:           data.KakaoAccount.Email,
		Nickname:        data.KakaoAccount.Profile.Nickname,
		ProfileImageURL: data.KakaoAccount.Profile.ProfileImageURL,
	}, nil
}

func (p *Providers) verifyNaver(ctx context.Context, accessToken string) (*Identity, error) {
	var data struct {
		ResultCode string `json:"resultcode"`
		Response   struct {
			ID           string `json:"id"`
			Email        string `json:"email"`
			Nickname     string `json:"nickname"`
			ProfileImage string `json:"profile_image"`
		} `json:"response"`
	}
	if err := p.getJSON(ctx, p.naverUserInfoURL, accessToken, &data); err != nil {
		p.logger.Warn("naver userinfo call failed", "error", err)
		return nil, apperror.New("NAVER_AUTH_FAILED",
			"Naver token verification failed", http.StatusUnauthorized)
	}
	if data.ResultCode != "00" || data.Response.ID == "" {
		return nil, apperror.New("NAVER_AUTH_FAILED",
			"Naver token verification failed", http.StatusUnauthorized)
	}
	return &Identity{
		ProviderID:      data.Response.ID,
		Email:           data.Response.Email,
		Nickname:        data.Response.Nickname,
		ProfileImageURL: data.Response.ProfileImage,
	}, nil
}

func (p *Providers) getJSON(ctx context.Context, endpoint, bearer string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding provider response: %w", err)
	}
	return nil
}
