package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/runbeat/server/pkg/infrastructure/httputil"
	"github.com/runbeat/server/pkg/models"
)

const apiBase = "https://www.strava.com/api/v3"

// OAuthConfig builds the oauth2 config for Strava's authorization-code
// flow.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{"read,activity:read_all"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://www.strava.com/oauth/authorize",
			TokenURL: tokenURL,
		},
	}
}

// Athlete is the subset of the Strava athlete object we keep from the
// OAuth exchange.
type Athlete struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Profile   string `json:"profile"`
}

// FullName joins first and last name, either of which may be empty.
func (a *Athlete) FullName() string {
	return strings.TrimSpace(a.Firstname + " " + a.Lastname)
}

// ExchangeCode trades an authorization code for tokens. Strava piggybacks
// the athlete object on the token response, so both come back together.
func ExchangeCode(ctx context.Context, cfg *oauth2.Config, code string) (*Token, *Athlete, error) {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	token := &Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
	}

	athlete := &Athlete{}
	if extra := tok.Extra("athlete"); extra != nil {
		raw, err := json.Marshal(extra)
		if err == nil {
			_ = json.Unmarshal(raw, athlete)
		}
	}
	if athlete.ID == 0 {
		return nil, nil, fmt.Errorf("token exchange response carried no athlete id")
	}
	return token, athlete, nil
}

// ActivitySummary is one entry from the athlete activity list.
type ActivitySummary struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	SportType          string    `json:"sport_type"`
	Distance           float64   `json:"distance"`
	MovingTime         int       `json:"moving_time"`
	ElapsedTime        int       `json:"elapsed_time"`
	TotalElevationGain float64   `json:"total_elevation_gain"`
	StartDate          time.Time `json:"start_date"`
	AverageSpeed       float64   `json:"average_speed"`
	MaxSpeed           float64   `json:"max_speed"`
	AverageHeartrate   float64   `json:"average_heartrate"`
	MaxHeartrate       float64   `json:"max_heartrate"`
	Calories           float64   `json:"calories"`
}

// IsRun reports whether the activity is a run variant worth importing.
func (a ActivitySummary) IsRun() bool {
	switch a.SportType {
	case "Run", "TrailRun", "VirtualRun":
		return true
	}
	return false
}

// StreamSet holds the per-point streams of one activity, aligned by
// index. Individual streams may be absent.
type StreamSet struct {
	Latlng    [][]float64 `json:"latlng,omitempty"`
	Altitude  []float64   `json:"altitude,omitempty"`
	Time      []int       `json:"time,omitempty"`
	Heartrate []int       `json:"heartrate,omitempty"`
	Distance  []float64   `json:"distance,omitempty"`
}

// SyncPayload is what the sync task stores per activity so the import
// worker can rebuild the run without calling Strava again.
type SyncPayload struct {
	Activity ActivitySummary `json:"activity"`
	Streams  StreamSet       `json:"streams"`
}

// TrackPoints converts the streams into track points anchored at the
// activity start time. Points without a latlng pair are dropped.
func (p *SyncPayload) TrackPoints() []models.TrackPoint {
	points := make([]models.TrackPoint, 0, len(p.Streams.Latlng))
	for i, ll := range p.Streams.Latlng {
		if len(ll) < 2 {
			continue
		}
		pt := models.TrackPoint{Latitude: ll[0], Longitude: ll[1]}
		if i < len(p.Streams.Altitude) {
			pt.Altitude = p.Streams.Altitude[i]
		}
		if i < len(p.Streams.Time) {
			pt.Timestamp = p.Activity.StartDate.Add(time.Duration(p.Streams.Time[i]) * time.Second)
		}
		if i < len(p.Streams.Heartrate) {
			pt.HeartRate = p.Streams.Heartrate[i]
		}
		points = append(points, pt)
	}
	return points
}

// Device names the source device recorded on imported runs.
func (p *SyncPayload) Device() string {
	return "Strava/" + p.Activity.SportType
}

// Client calls the Strava REST API with automatic token handling.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

func NewClient(source TokenSource, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &Transport{Source: source},
			Timeout:   15 * time.Second,
		},
		baseURL: apiBase,
		logger:  logger,
	}
}

// ListActivities fetches one page of the athlete's activities, newest
// first. A non-nil after restricts results to activities started after
// that instant.
func (c *Client) ListActivities(ctx context.Context, after *time.Time, page, perPage int) ([]ActivitySummary, error) {
	q := url.Values{
		"page":     {strconv.Itoa(page)},
		"per_page": {strconv.Itoa(perPage)},
	}
	if after != nil {
		q.Set("after", strconv.FormatInt(after.Unix(), 10))
	}

	var activities []ActivitySummary
	if err := c.getJSON(ctx, "/athlete/activities?"+q.Encode(), &activities); err != nil {
		return nil, err
	}
	c.logger.Debug("listed strava activities", "page", page, "count", len(activities))
	return activities, nil
}

// GetActivity fetches the detail view of one activity.
func (c *Client) GetActivity(ctx context.Context, activityID int64) (*ActivitySummary, error) {
	var activity ActivitySummary
	if err := c.getJSON(ctx, fmt.Sprintf("/activities/%d", activityID), &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// GetStreams fetches the GPS, altitude, time, heart rate and distance
// streams for one activity, keyed by stream type.
func (c *Client) GetStreams(ctx context.Context, activityID int64) (*StreamSet, error) {
	path := fmt.Sprintf("/activities/%d/streams?keys=latlng,altitude,time,heartrate,distance&key_by_type=true", activityID)

	var raw struct {
		Latlng struct {
			Data [][]float64 `json:"data"`
		} `json:"latlng"`
		Altitude struct {
			Data []float64 `json:"data"`
		} `json:"altitude"`
		Time struct {
			Data []int `json:"data"`
		} `json:"time"`
		Heartrate struct {
			Data []int `json:"data"`
		} `json:"heartrate"`
		Distance struct {
			Data []float64 `json:"data"`
		} `json:"distance"`
	}
	if err := c.getJSON(ctx, path, &raw); err != nil {
		return nil, err
	}

	return &StreamSet{
		Latlng:    raw.Latlng.Data,
		Altitude:  raw.Altitude.Data,
		Time:      raw.Time.Data,
		Heartrate: raw.Heartrate.Data,
		Distance:  raw.Distance.Data,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling strava %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := httputil.CheckResponse(resp); err != nil {
		return fmt.Errorf("strava %s failed: %w", path, err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding strava %s response: %w", path, err)
	}
	return nil
}
