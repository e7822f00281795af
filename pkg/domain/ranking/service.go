// Package ranking maintains per-course leaderboards with personal-best
// semantics, recomputes course statistics, and serves user statistics.
// The write paths run as queue tasks after a run commits; they are
// idempotent and recompute derived state from scratch.
package ranking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/runbeat/server/pkg/apperror"
	"github.com/runbeat/server/pkg/domain/course"
	"github.com/runbeat/server/pkg/models"
)

// Store is the persistence surface for rankings and statistics. Lookups
// return nil when the row is absent.
type Store interface {
	GetRunRecord(ctx context.Context, id uuid.UUID) (*models.RunRecord, error)
	GetCourse(ctx context.Context, courseID uuid.UUID) (*models.Course, error)

	GetRanking(ctx context.Context, courseID, userID uuid.UUID) (*models.Ranking, error)
	CreateRanking(ctx context.Context, r *models.Ranking) error
	UpdateRanking(ctx context.Context, r *models.Ranking) error
	// RecalculateRanks rewrites the cached rank column, 1-based by best
	// duration ascending, ties in insertion order.
	RecalculateRanks(ctx context.Context, courseID uuid.UUID) error
	CountCourseRankings(ctx context.Context, courseID uuid.UUID) (int, error)
	CountFasterEntries(ctx context.Context, courseID uuid.UUID, durationSeconds int) (int, error)
	ListCourseRankings(ctx context.Context, courseID uuid.UUID, limit, offset int) ([]Entry, error)
	BestCourseRun(ctx context.Context, courseID, userID uuid.UUID) (*models.RunRecord, error)

	ListCompletedCourseRecords(ctx context.Context, courseID uuid.UUID) ([]models.RunRecord, error)
	CountCourseAttempts(ctx context.Context, courseID uuid.UUID) (int, error)
	UpsertCourseStats(ctx context.Context, stats *models.CourseStats) error
	UpdateCourseDifficulty(ctx context.Context, courseID uuid.UUID, difficulty string) error

	AddUserTotals(ctx context.Context, userID uuid.UUID, distanceMeters float64, durationSeconds, runs int) error

	ListUserRecords(ctx context.Context, userID uuid.UUID, since *time.Time) ([]models.RunRecord, error)
	CountUserCourses(ctx context.Context, userID uuid.UUID) (int, error)
	CountCompletedCourses(ctx context.Context, userID uuid.UUID) (int, error)
	CountUserCourseRuns(ctx context.Context, userID uuid.UUID) (int, error)
	CountTopRankings(ctx context.Context, userID uuid.UUID, maxRank int) (int, error)
}

// Entry is one leaderboard row joined with its runner.
type Entry struct {
	models.Ranking
	Nickname        string
	ProfileImageURL string
}

type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.With("component", "ranking"),
	}
}

type rankingTask struct {
	CourseID    uuid.UUID `json:"course_id"`
	UserID      uuid.UUID `json:"user_id"`
	RunRecordID uuid.UUID `json:"run_record_id"`
}

// HandleUpdateRanking consumes a ranking task: upsert the runner's entry
// from the finished record, then rewrite cached ranks for the course.
// Records that vanished, did not complete the course, or were flagged
// are skipped without error so the task never retries them.
func (s *Service) HandleUpdateRanking(ctx context.Context, payload []byte) error {
	var task rankingTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("decoding ranking task: %w", err)
	}

	rec, err := s.store.GetRunRecord(ctx, task.RunRecordID)
	if err != nil {
		return fmt.Errorf("loading run record: %w", err)
	}
	if rec == nil {
		s.logger.Warn("run record gone, skipping ranking", "run_record_id", task.RunRecordID)
		return nil
	}
	if rec.CourseCompleted == nil || !*rec.CourseCompleted {
		s.logger.Info("run did not complete the course, skipping ranking", "run_record_id", rec.ID)
		return nil
	}
	if rec.IsFlagged {
		s.logger.Info("run is flagged, skipping ranking", "run_record_id", rec.ID)
		return nil
	}

	pace := rec.AvgPaceSecondsPerKm
	if pace == 0 && rec.DistanceMeters > 0 {
		pace = int(float64(rec.DurationSeconds) / (rec.DistanceMeters / 1000))
	}

	if err := s.upsertRanking(ctx, task.CourseID, task.UserID, rec.ID, rec.DurationSeconds, pace, rec.FinishedAt); err != nil {
		return err
	}
	if err := s.store.RecalculateRanks(ctx, task.CourseID); err != nil {
		return fmt.Errorf("recalculating ranks: %w", err)
	}

	s.logger.Info("ranking updated", "course_id", task.CourseID, "user_id", task.UserID)
	return nil
}

// upsertRanking creates the entry on a first attempt, otherwise bumps
// run_count and improves the bests only when strictly faster.
func (s *Service) upsertRanking(ctx context.Context, courseID, userID, recordID uuid.UUID, durationSeconds, pace int, achievedAt time.Time) error {
	existing, err := s.store.GetRanking(ctx, courseID, userID)
	if err != nil {
		return fmt.Errorf("loading ranking: %w", err)
	}

	if existing == nil {
		entry := &models.Ranking{
			ID:                   uuid.New(),
			CourseID:             courseID,
			UserID:               userID,
			RunRecordID:          &recordID,
			BestDurationSeconds:  durationSeconds,
			BestPaceSecondsPerKm: pace,
			RunCount:             1,
			AchievedAt:           achievedAt,
		}
		if err := s.store.CreateRanking(ctx, entry); err != nil {
			return fmt.Errorf("creating ranking: %w", err)
		}
		return nil
	}

	existing.RunCount++
	if durationSeconds < existing.BestDurationSeconds {
		existing.BestDurationSeconds = durationSeconds
		existing.BestPaceSecondsPerKm = pace
		existing.AchievedAt = achievedAt
		existing.RunRecordID = &recordID
	}
	if err := s.store.UpdateRanking(ctx, existing); err != nil {
		return fmt.Errorf("updating ranking: %w", err)
	}
	return nil
}

type statsTask struct {
	UserID          uuid.UUID  `json:"user_id"`
	RunRecordID     uuid.UUID  `json:"run_record_id"`
	CourseID        *uuid.UUID `json:"course_id,omitempty"`
	DistanceMeters  float64    `json:"distance_meters"`
	DurationSeconds int        `json:"duration_seconds"`
}

// HandleUpdateStats consumes a stats task: bump the runner's cumulative
// totals, and when the run was course-bound recompute that course's
// stats block and re-grade its difficulty.
func (s *Service) HandleUpdateStats(ctx context.Context, payload []byte) error {
	var task statsTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return fmt.Errorf("decoding stats task: %w", err)
	}

	if err := s.store.AddUserTotals(ctx, task.UserID, task.DistanceMeters, task.DurationSeconds, 1); err != nil {
		return fmt.Errorf("updating user totals: %w", err)
	}

	if task.CourseID != nil {
		if err := s.RecomputeCourseStats(ctx, *task.CourseID); err != nil {
			return err
		}
	}

	s.logger.Info("stats updated", "user_id", task.UserID, "run_record_id", task.RunRecordID)
	return nil
}

// RecomputeCourseStats rebuilds a course's stats block from its
// completed, unflagged records. The completion rate counts those
// completions against every attempt on the course, and a changed rate
// re-grades the difficulty bucket.
func (s *Service) RecomputeCourseStats(ctx context.Context, courseID uuid.UUID) error {
	c, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return fmt.Errorf("loading course: %w", err)
	}
	if c == nil {
		s.logger.Warn("course gone, skipping stats", "course_id", courseID)
		return nil
	}

	records, err := s.store.ListCompletedCourseRecords(ctx, courseID)
	if err != nil {
		return fmt.Errorf("loading course records: %w", err)
	}
	attempts, err := s.store.CountCourseAttempts(ctx, courseID)
	if err != nil {
		return fmt.Errorf("counting attempts: %w", err)
	}

	stats := buildCourseStats(courseID, c.DistanceMeters, records, attempts)
	if err := s.store.UpsertCourseStats(ctx, stats); err != nil {
		return fmt.Errorf("storing course stats: %w", err)
	}

	rate := stats.CompletionRate
	_, level := course.Grade(c.DistanceMeters, c.ElevationGainMeters, &rate)
	if level != c.Difficulty {
		if err := s.store.UpdateCourseDifficulty(ctx, courseID, level); err != nil {
			return fmt.Errorf("updating difficulty: %w", err)
		}
		s.logger.Info("course difficulty re-graded",
			"course_id", courseID, "from", c.Difficulty, "to", level)
	}
	return nil
}

// buildCourseStats aggregates completed records into a stats block.
// Paces derive from the course's reference distance, not each run's own.
func buildCourseStats(courseID uuid.UUID, courseDistance float64, records []models.RunRecord, attempts int) *models.CourseStats {
	stats := &models.CourseStats{
		CourseID:   courseID,
		RunsByHour: map[string]int{},
	}

	runners := map[uuid.UUID]struct{}{}
	totalDuration := 0
	for _, rec := range records {
		runners[rec.UserID] = struct{}{}
		totalDuration += rec.DurationSeconds
		if stats.BestDurationSeconds == 0 || rec.DurationSeconds < stats.BestDurationSeconds {
			stats.BestDurationSeconds = rec.DurationSeconds
		}
		hour := fmt.Sprintf("%02d", rec.StartedAt.UTC().Hour())
		stats.RunsByHour[hour]++
	}

	stats.TotalRuns = len(records)
	stats.UniqueRunners = len(runners)
	if stats.TotalRuns > 0 {
		stats.AvgDurationSeconds = totalDuration / stats.TotalRuns
	}
	if courseDistance > 0 {
		km := courseDistance / 1000
		if stats.AvgDurationSeconds > 0 {
			stats.AvgPaceSecondsPerKm = int(float64(stats.AvgDurationSeconds) / km)
		}
		if stats.BestDurationSeconds > 0 {
			stats.BestPaceSecondsPerKm = int(float64(stats.BestDurationSeconds) / km)
		}
	}
	if attempts > 0 {
		stats.CompletionRate = float64(stats.TotalRuns) / float64(attempts)
	}
	return stats
}

// LeaderboardEntry is one serialized leaderboard row.
type LeaderboardEntry struct {
	Rank                 int       `json:"rank"`
	User                 RunnerRef `json:"user"`
	BestDurationSeconds  int       `json:"best_duration_seconds"`
	BestPaceSecondsPerKm int       `json:"best_pace_seconds_per_km"`
	RunCount             int       `json:"run_count"`
	AchievedAt           time.Time `json:"achieved_at"`
}

type RunnerRef struct {
	ID              uuid.UUID `json:"id"`
	Nickname        string    `json:"nickname"`
	ProfileImageURL string    `json:"profile_image_url,omitempty"`
}

// MyRanking is the caller's own standing on a course. Nil rank means no
// entry yet.
type MyRanking struct {
	Rank                 *int     `json:"rank"`
	BestDurationSeconds  *int     `json:"best_duration_seconds"`
	BestPaceSecondsPerKm *int     `json:"best_pace_seconds_per_km,omitempty"`
	TotalRunners         int      `json:"total_runners"`
	Percentile           *float64 `json:"percentile,omitempty"`
}

// Leaderboard is one page of a course's standings.
type Leaderboard struct {
	Data         []LeaderboardEntry `json:"data"`
	MyRanking    *MyRanking         `json:"my_ranking"`
	TotalRunners int                `json:"total_runners"`
}

// CourseLeaderboard serves one page of standings plus the caller's own
// entry. The cached rank column is preferred; rows not yet re-ranked
// fall back to their page position.
func (s *Service) CourseLeaderboard(ctx context.Context, courseID, userID uuid.UUID, page, perPage int) (*Leaderboard, error) {
	c, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("loading course: %w", err)
	}
	if c == nil {
		return nil, apperror.NotFound("Course not found")
	}

	total, err := s.store.CountCourseRankings(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("counting rankings: %w", err)
	}

	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	if page < 0 {
		page = 0
	}
	entries, err := s.store.ListCourseRankings(ctx, courseID, perPage, page*perPage)
	if err != nil {
		return nil, fmt.Errorf("listing rankings: %w", err)
	}

	board := &Leaderboard{
		Data:         make([]LeaderboardEntry, 0, len(entries)),
		TotalRunners: total,
	}
	for i, e := range entries {
		rank := e.Rank
		if rank == 0 {
			rank = page*perPage + i + 1
		}
		board.Data = append(board.Data, LeaderboardEntry{
			Rank: rank,
			User: RunnerRef{
				ID:              e.UserID,
				Nickname:        e.Nickname,
				ProfileImageURL: e.ProfileImageURL,
			},
			BestDurationSeconds:  e.BestDurationSeconds,
			BestPaceSecondsPerKm: e.BestPaceSecondsPerKm,
			RunCount:             e.RunCount,
			AchievedAt:           e.AchievedAt,
		})
	}

	mine, err := s.myRanking(ctx, courseID, userID, total)
	if err != nil {
		return nil, err
	}
	if mine.Rank != nil {
		board.MyRanking = &MyRanking{
			Rank:                 mine.Rank,
			BestDurationSeconds:  mine.BestDurationSeconds,
			BestPaceSecondsPerKm: mine.BestPaceSecondsPerKm,
		}
	}
	return board, nil
}

// UserCourseRanking serves the caller's standing with percentile.
func (s *Service) UserCourseRanking(ctx context.Context, courseID, userID uuid.UUID) (*MyRanking, error) {
	c, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("loading course: %w", err)
	}
	if c == nil {
		return nil, apperror.NotFound("Course not found")
	}

	total, err := s.store.CountCourseRankings(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("counting rankings: %w", err)
	}
	mine, err := s.myRanking(ctx, courseID, userID, total)
	if err != nil {
		return nil, err
	}
	if mine.Rank != nil && total > 0 {
		p := float64(*mine.Rank) / float64(total) * 100
		p = float64(int(p*10+0.5)) / 10
		mine.Percentile = &p
	}
	return mine, nil
}

func (s *Service) myRanking(ctx context.Context, courseID, userID uuid.UUID, total int) (*MyRanking, error) {
	mine := &MyRanking{TotalRunners: total}

	entry, err := s.store.GetRanking(ctx, courseID, userID)
	if err != nil {
		return nil, fmt.Errorf("loading own ranking: %w", err)
	}
	if entry == nil {
		return mine, nil
	}

	rank := entry.Rank
	if rank == 0 {
		faster, err := s.store.CountFasterEntries(ctx, courseID, entry.BestDurationSeconds)
		if err != nil {
			return nil, fmt.Errorf("computing rank: %w", err)
		}
		rank = faster + 1
	}
	mine.Rank = &rank
	mine.BestDurationSeconds = &entry.BestDurationSeconds
	mine.BestPaceSecondsPerKm = &entry.BestPaceSecondsPerKm
	return mine, nil
}

// PersonalBest is the caller's fastest completed attempt on a course,
// nil when they have none.
type PersonalBest struct {
	ID                  uuid.UUID `json:"id"`
	DurationSeconds     int       `json:"duration_seconds"`
	AvgPaceSecondsPerKm int       `json:"avg_pace_seconds_per_km"`
	FinishedAt          time.Time `json:"finished_at"`
}

func (s *Service) UserCourseBest(ctx context.Context, courseID, userID uuid.UUID) (*PersonalBest, error) {
	c, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("loading course: %w", err)
	}
	if c == nil {
		return nil, apperror.NotFound("Course not found")
	}
	rec, err := s.store.BestCourseRun(ctx, courseID, userID)
	if err != nil {
		return nil, fmt.Errorf("loading personal best: %w", err)
	}
	if rec == nil {
		return nil, nil
	}
	return &PersonalBest{
		ID:                  rec.ID,
		DurationSeconds:     rec.DurationSeconds,
		AvgPaceSecondsPerKm: rec.AvgPaceSecondsPerKm,
		FinishedAt:          rec.FinishedAt,
	}, nil
}
