// Package models holds the persistent entities and the JSON value types
// embedded in them. Geometry columns live in PostGIS; the structs carry the
// coordinate payloads the API exchanges.
package models

import (
	"time"

	"github.com/google/uuid"
)

// TrackPoint is one GPS fix. Altitude exactly 0 means the device reported
// no altitude. A zero Timestamp means the point carries no time.
type TrackPoint struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Speed     float64   `json:"speed,omitempty"`
	HeartRate int       `json:"heart_rate,omitempty"`
}

// Split is one completed kilometer.
type Split struct {
	SplitNumber      int     `json:"split_number"`
	DistanceMeters   float64 `json:"distance_meters"`
	DurationSeconds  int     `json:"duration_seconds"`
	PaceSecondsPerKm int     `json:"pace_seconds_per_km"`
	ElevationChange  float64 `json:"elevation_change"`
}

type PauseInterval struct {
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int       `json:"duration_seconds"`
}

// ChunkCumulative is the client-maintained running total carried on every
// chunk. The last chunk's cumulative is authoritative during recovery.
type ChunkCumulative struct {
	DistanceMeters      float64 `json:"distance_meters"`
	DurationSeconds     int     `json:"duration_seconds"`
	AvgPaceSecondsPerKm int     `json:"avg_pace_seconds_per_km"`
	ElevationGainMeters float64 `json:"elevation_gain_meters"`
	ElevationLossMeters float64 `json:"elevation_loss_meters"`
}

type User struct {
	ID                  uuid.UUID
	Email               string
	Nickname            string
	ProfileImageURL     string
	TotalDistanceMeters float64
	TotalRuns           int
	TotalDurationSecs   int
	IsActive            bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

type SocialAccount struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	Provider   string
	ProviderID string
	Email      string
	CreatedAt  time.Time
}

type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	IsRevoked bool
	CreatedAt time.Time
}

type Course struct {
	ID     uuid.UUID
	UserID uuid.UUID
	// RunRecordID points at the run the course was traced from.
	RunRecordID         *uuid.UUID
	Title               string
	Description         string
	DistanceMeters      float64
	ElevationGainMeters float64
	// RouteCoordinates mirrors the geography(LineString) column as
	// [lng, lat, alt] triples for clients.
	RouteCoordinates [][]float64
	StartLat         float64
	StartLng         float64
	Difficulty       string
	IsPublic         bool
	// ThumbnailURL is filled in by the background map-render task,
	// empty until then.
	ThumbnailURL string
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Stats *CourseStats
}

type CourseStats struct {
	CourseID             uuid.UUID
	TotalRuns            int
	UniqueRunners        int
	AvgDurationSeconds   int
	BestDurationSeconds  int
	AvgPaceSecondsPerKm  int
	BestPaceSecondsPerKm int
	CompletionRate       float64
	RunsByHour           map[string]int
	UpdatedAt            time.Time
}

type RunSession struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	CourseID   *uuid.UUID
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
	DeviceInfo map[string]string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type RunChunk struct {
	ID              uuid.UUID
	SessionID       uuid.UUID
	Sequence        int
	ChunkType       string
	RawPoints       []TrackPoint
	FilteredPoints  []TrackPoint
	ChunkSummary    map[string]float64
	Cumulative      ChunkCumulative
	CompletedSplits []Split
	PauseIntervals  []PauseInterval
	CreatedAt       time.Time
}

type RunRecord struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	SessionID            *uuid.UUID
	CourseID             *uuid.UUID
	StartedAt            time.Time
	FinishedAt           time.Time
	DistanceMeters       float64
	DurationSeconds      int
	TotalElapsedSeconds  int
	AvgPaceSecondsPerKm  int
	BestPaceSecondsPerKm int
	AvgSpeedMS           float64
	MaxSpeedMS           float64
	Calories             *int
	AvgHeartRate         *int
	MaxHeartRate         *int
	ElevationGainMeters  float64
	ElevationLossMeters  float64
	RouteCoordinates     [][]float64 // [lng, lat, alt]
	ElevationProfile     []float64
	Splits               []Split
	PauseIntervals       []PauseInterval
	CourseCompleted      *bool
	RouteMatchPercent    *float64
	MaxDeviationMeters   *float64
	IsFlagged            bool
	FlagReason           string
	FlagConfidence       float64
	Source               string
	ExternalImportID     *uuid.UUID
	DeviceInfo           map[string]string
	FilterConfig         map[string]any
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type Ranking struct {
	ID                   uuid.UUID
	CourseID             uuid.UUID
	UserID               uuid.UUID
	RunRecordID          *uuid.UUID
	BestDurationSeconds  int
	BestPaceSecondsPerKm int
	RunCount             int
	Rank                 int
	AchievedAt           time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type ExternalImport struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Source           string
	ExternalID       string
	Status           string
	FilePath         string
	OriginalFilename string
	RawMetadata      []byte
	ErrorMessage     string
	RunRecordID      *uuid.UUID
	ImportSummary    map[string]any
	CourseMatch      map[string]any
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type StravaConnection struct {
	ID                uuid.UUID
	UserID            uuid.UUID
	StravaAthleteID   string
	AthleteName       string
	AthleteProfileURL string
	AccessToken       string
	RefreshToken      string
	TokenExpiresAt    time.Time
	AutoSync          bool
	LastSyncAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
