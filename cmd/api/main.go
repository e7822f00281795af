package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	shared "github.com/runbeat/server/pkg"
	"github.com/runbeat/server/pkg/api"
	"github.com/runbeat/server/pkg/auth"
	"github.com/runbeat/server/pkg/bootstrap"
	"github.com/runbeat/server/pkg/domain/course"
	"github.com/runbeat/server/pkg/domain/importer"
	"github.com/runbeat/server/pkg/domain/ranking"
	"github.com/runbeat/server/pkg/domain/run"
	"github.com/runbeat/server/pkg/infrastructure/database"
	"github.com/runbeat/server/pkg/infrastructure/queue"
	"github.com/runbeat/server/pkg/infrastructure/sentry"
)

func main() {
	if err := runServer(); err != nil {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

func runServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := bootstrap.NewService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	cfg := svc.Config

	logger := bootstrap.NewLogger(shared.ServiceName)

	if err := sentry.Init(sentry.Config{
		DSN:         cfg.SentryDSN,
		Environment: cfg.Environment,
		ServerName:  shared.ServiceName,
	}, logger); err != nil {
		logger.Warn("Sentry init failed", "error", err)
	}
	defer sentry.Flush(2 * time.Second)

	if err := database.Migrate(svc.Pool, logger); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	store := database.NewStore(svc.Pool, logger)

	q := queue.NewMemory(logger)

	authSvc := auth.NewService(store,
		auth.NewProviders(cfg.GoogleClientID, cfg.AppleBundleID, logger),
		cfg.JWTSecretKey,
		time.Duration(cfg.AccessTokenExpireMinutes)*time.Minute,
		time.Duration(cfg.RefreshTokenExpireDays)*24*time.Hour,
		logger)
	runSvc := run.NewService(store, q, logger)
	courseSvc := course.NewService(store, svc.Blob, q, cfg.StorageBucket,
		cfg.MapboxAccessToken, cfg.CDNBaseURL, logger)
	rankingSvc := ranking.NewService(store, logger)
	importSvc := importer.NewService(store, svc.Blob, q, cfg.StorageBucket,
		cfg.StravaClientID, cfg.StravaClientSecret, logger)

	q.Register(shared.TaskProcessImport, importSvc.HandleProcessImport)
	q.Register(shared.TaskSyncStrava, importSvc.HandleSyncStrava)
	q.Register(shared.TaskUpdateRanking, rankingSvc.HandleUpdateRanking)
	q.Register(shared.TaskUpdateStats, rankingSvc.HandleUpdateStats)
	q.Register(shared.TaskCourseThumbnail, courseSvc.HandleGenerateThumbnail)
	q.Start(ctx, cfg.ImportWorkers)

	router := api.NewRouter(&api.Server{
		Auth:     authSvc,
		Runs:     runSvc,
		Courses:  courseSvc,
		Rankings: rankingSvc,
		Imports:  importSvc,
		Heat:     store,
		Users:    store,
		Blob:     svc.Blob,
		Config:   cfg,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr, "environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}

	// Let in-flight background tasks finish before the pool closes.
	_ = q.Close()
	q.Wait()

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	logger.Info("Server stopped")
	return nil
}
