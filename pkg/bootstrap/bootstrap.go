package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"

	shared "github.com/runbeat/server/pkg"
	infrastorage "github.com/runbeat/server/pkg/infrastructure/storage"
)

// Config holds standard configuration for the whole process
type Config struct {
	DatabaseURL string
	Port        int
	Environment string

	JWTSecretKey             string
	AccessTokenExpireMinutes int
	RefreshTokenExpireDays   int

	GoogleClientID string
	AppleBundleID  string

	StravaClientID     string
	StravaClientSecret string
	StravaRedirectURI  string

	MaxUploadSizeMB int
	UploadDir       string
	StorageBucket   string
	CDNBaseURL      string

	MapboxAccessToken string
	CORSOrigins       []string
	SentryDSN         string
	ImportWorkers     int
}

// Service holds initialized dependencies
type Service struct {
	Pool   *pgxpool.Pool
	Blob   shared.BlobStore
	Config *Config
}

// LoadConfig reads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Port:        envInt("PORT", 8000),
		Environment: envStr("ENVIRONMENT", "development"),

		JWTSecretKey:             os.Getenv("JWT_SECRET_KEY"),
		AccessTokenExpireMinutes: envInt("ACCESS_TOKEN_EXPIRE_MINUTES", 30),
		RefreshTokenExpireDays:   envInt("REFRESH_TOKEN_EXPIRE_DAYS", 30),

		GoogleClientID: os.Getenv("GOOGLE_CLIENT_ID"),
		AppleBundleID:  os.Getenv("APPLE_BUNDLE_ID"),

		StravaClientID:     os.Getenv("STRAVA_CLIENT_ID"),
		StravaClientSecret: os.Getenv("STRAVA_CLIENT_SECRET"),
		StravaRedirectURI:  os.Getenv("STRAVA_REDIRECT_URI"),

		MaxUploadSizeMB: envInt("MAX_UPLOAD_SIZE_MB", 5),
		UploadDir:       envStr("UPLOAD_DIR", "./uploads"),
		StorageBucket:   os.Getenv("STORAGE_BUCKET"),
		CDNBaseURL:      os.Getenv("CDN_BASE_URL"),

		MapboxAccessToken: os.Getenv("MAPBOX_ACCESS_TOKEN"),
		CORSOrigins:       envList("CORS_ORIGINS", "*"),
		SentryDSN:         os.Getenv("SENTRY_DSN"),
		ImportWorkers:     envInt("IMPORT_WORKERS", 2),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envList(key, fallback string) []string {
	raw := envStr(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// GetSlogHandlerOptions returns standard handler options for structured logs
func GetSlogHandlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Map standard keys to Cloud Logging keys
			if a.Key == slog.MessageKey {
				return slog.Attr{Key: "message", Value: a.Value}
			}
			if a.Key == slog.LevelKey {
				return slog.Attr{Key: "severity", Value: a.Value}
			}
			return a
		},
	}
}

// ComponentHandler wraps a slog.Handler to prepend [component] to the message
type ComponentHandler struct {
	slog.Handler
	component string
}

// WithGroup implements slog.Handler
func (h *ComponentHandler) WithGroup(name string) slog.Handler {
	return &ComponentHandler{
		Handler:   h.Handler.WithGroup(name),
		component: h.component,
	}
}

// WithAttrs implements slog.Handler
func (h *ComponentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newComp := h.component
	for _, a := range attrs {
		if a.Key == "component" {
			newComp = a.Value.String()
		}
	}
	return &ComponentHandler{
		Handler:   h.Handler.WithAttrs(attrs),
		component: newComp,
	}
}

// Handle implements slog.Handler
func (h *ComponentHandler) Handle(ctx context.Context, r slog.Record) error {
	comp := h.component

	// Check if component is overridden in the record attributes
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			comp = a.Value.String()
			return false // stop
		}
		return true
	})

	if comp != "" {
		newMsg := fmt.Sprintf("[%s] %s", comp, r.Message)
		newRecord := slog.NewRecord(r.Time, r.Level, newMsg, r.PC)

		// The component attr stays in the structured payload on purpose;
		// only the human-readable message gets the prefix.
		r.Attrs(func(a slog.Attr) bool {
			newRecord.AddAttrs(a)
			return true
		})
		r = newRecord
	}

	return h.Handler.Handle(ctx, r)
}

// InitLogger configures structured logging with Cloud Logging compatible keys
func InitLogger() {
	opts := GetSlogHandlerOptions(slog.LevelInfo)
	handler := slog.NewJSONHandler(os.Stdout, opts)
	logger := slog.New(&ComponentHandler{Handler: handler})
	slog.SetDefault(logger)
}

// NewLogger creates a configured logger instance
func NewLogger(serviceName string) *slog.Logger {
	logLevelStr := os.Getenv("LOG_LEVEL")
	var level slog.Level
	switch strings.ToLower(logLevelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := GetSlogHandlerOptions(level)
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(&ComponentHandler{Handler: handler}).With("service", serviceName)
}

// NewService initializes the shared dependencies: config, the pgx pool,
// and blob storage. The task queue lives with the caller, which owns
// handler registration and worker lifecycle.
func NewService(ctx context.Context) (*Service, error) {
	InitLogger()
	cfg := LoadConfig()

	slog.Info("Initializing service", "environment", cfg.Environment)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Database pool init failed", "error", err)
		return nil, fmt.Errorf("database init: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}

	var blob shared.BlobStore
	if cfg.StorageBucket != "" {
		gcsClient, err := storage.NewClient(ctx)
		if err != nil {
			pool.Close()
			slog.Error("Storage init failed", "error", err)
			return nil, fmt.Errorf("storage init: %w", err)
		}
		blob = &infrastorage.GCSStore{Client: gcsClient}
		slog.Info("Blob storage: GCS", "bucket", cfg.StorageBucket)
	} else {
		blob = infrastorage.NewLocalStore(cfg.UploadDir)
		slog.Info("Blob storage: local disk", "dir", cfg.UploadDir)
	}

	return &Service{
		Pool:   pool,
		Blob:   blob,
		Config: cfg,
	}, nil
}

// Close releases pooled resources.
func (s *Service) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}
