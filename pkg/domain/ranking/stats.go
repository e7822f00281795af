package ranking

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/runbeat/server/pkg/models"
)

// UserStats is the aggregate view over a user's runs for a period.
// Streaks and the monthly trend always span the full history.
type UserStats struct {
	TotalDistanceMeters      int               `json:"total_distance_meters"`
	TotalDurationSeconds     int               `json:"total_duration_seconds"`
	TotalRuns                int               `json:"total_runs"`
	AvgPaceSecondsPerKm      *int              `json:"avg_pace_seconds_per_km"`
	AvgDistancePerRunMeters  int               `json:"avg_distance_per_run_meters"`
	BestPaceSecondsPerKm     *int              `json:"best_pace_seconds_per_km"`
	LongestRunMeters         int               `json:"longest_run_meters"`
	TotalElevationGainMeters int               `json:"total_elevation_gain_meters"`
	EstimatedCalories        int               `json:"estimated_calories"`
	CurrentStreakDays        int               `json:"current_streak_days"`
	BestStreakDays           int               `json:"best_streak_days"`
	CoursesCreated           int               `json:"courses_created"`
	CoursesCompleted         int               `json:"courses_completed"`
	TotalCourseRuns          int               `json:"total_course_runs"`
	RankingTop10Count        int               `json:"ranking_top10_count"`
	MonthlyDistance          []MonthlyDistance `json:"monthly_distance"`
}

type MonthlyDistance struct {
	Month          string `json:"month"`
	DistanceMeters int    `json:"distance_meters"`
	RunCount       int    `json:"run_count"`
}

// WeeklyStats is the home-screen summary. Weeks start Monday 00:00 UTC.
type WeeklyStats struct {
	TotalDistanceMeters       int     `json:"total_distance_meters"`
	TotalDurationSeconds      int     `json:"total_duration_seconds"`
	RunCount                  int     `json:"run_count"`
	AvgPaceSecondsPerKm       *int    `json:"avg_pace_seconds_per_km"`
	ComparedToLastWeekPercent float64 `json:"compared_to_last_week_percent"`
}

// UserStats aggregates a user's runs. Period is one of week, month,
// year, or all; anything else means all.
func (s *Service) UserStats(ctx context.Context, userID uuid.UUID, period string) (*UserStats, error) {
	now := time.Now().UTC()

	all, err := s.store.ListUserRecords(ctx, userID, nil)
	if err != nil {
		return nil, fmt.Errorf("loading run records: %w", err)
	}

	scoped := all
	if since := periodStart(period, now); since != nil {
		scoped = filterSince(all, *since)
	}

	stats := aggregateRecords(scoped)
	stats.CurrentStreakDays, stats.BestStreakDays = computeStreaks(all, now)
	stats.MonthlyDistance = monthlyDistance(all, now, 6)

	if stats.CoursesCreated, err = s.store.CountUserCourses(ctx, userID); err != nil {
		return nil, fmt.Errorf("counting courses: %w", err)
	}
	if stats.CoursesCompleted, err = s.store.CountCompletedCourses(ctx, userID); err != nil {
		return nil, fmt.Errorf("counting completed courses: %w", err)
	}
	if stats.TotalCourseRuns, err = s.store.CountUserCourseRuns(ctx, userID); err != nil {
		return nil, fmt.Errorf("counting course runs: %w", err)
	}
	if stats.RankingTop10Count, err = s.store.CountTopRankings(ctx, userID, 10); err != nil {
		return nil, fmt.Errorf("counting top rankings: %w", err)
	}
	return stats, nil
}

// UserWeeklyStats compares the running Monday-to-Monday week with the
// previous one.
func (s *Service) UserWeeklyStats(ctx context.Context, userID uuid.UUID) (*WeeklyStats, error) {
	now := time.Now().UTC()
	thisStart, lastStart := weekWindows(now)

	records, err := s.store.ListUserRecords(ctx, userID, &lastStart)
	if err != nil {
		return nil, fmt.Errorf("loading run records: %w", err)
	}

	var thisDist, lastDist float64
	var thisDur, thisRuns int
	for _, rec := range records {
		switch {
		case !rec.FinishedAt.Before(thisStart):
			thisDist += rec.DistanceMeters
			thisDur += rec.DurationSeconds
			thisRuns++
		case !rec.FinishedAt.Before(lastStart):
			lastDist += rec.DistanceMeters
		}
	}

	out := &WeeklyStats{
		TotalDistanceMeters:  int(thisDist),
		TotalDurationSeconds: thisDur,
		RunCount:             thisRuns,
	}
	if thisDist > 0 {
		pace := int(float64(thisDur) / (thisDist / 1000))
		out.AvgPaceSecondsPerKm = &pace
	}
	if lastDist > 0 {
		out.ComparedToLastWeekPercent = math.Round((thisDist-lastDist)/lastDist*1000) / 10
	}
	return out, nil
}

func periodStart(period string, now time.Time) *time.Time {
	var days int
	switch period {
	case "week":
		days = 7
	case "month":
		days = 30
	case "year":
		days = 365
	default:
		return nil
	}
	since := now.AddDate(0, 0, -days)
	return &since
}

func filterSince(records []models.RunRecord, since time.Time) []models.RunRecord {
	out := make([]models.RunRecord, 0, len(records))
	for _, rec := range records {
		if !rec.FinishedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out
}

func aggregateRecords(records []models.RunRecord) *UserStats {
	stats := &UserStats{
		TotalRuns:       len(records),
		MonthlyDistance: []MonthlyDistance{},
	}

	var distance, elevation, longest float64
	for _, rec := range records {
		distance += rec.DistanceMeters
		elevation += rec.ElevationGainMeters
		stats.TotalDurationSeconds += rec.DurationSeconds
		if rec.DistanceMeters > longest {
			longest = rec.DistanceMeters
		}
		if rec.AvgPaceSecondsPerKm > 0 {
			if stats.BestPaceSecondsPerKm == nil || rec.AvgPaceSecondsPerKm < *stats.BestPaceSecondsPerKm {
				pace := rec.AvgPaceSecondsPerKm
				stats.BestPaceSecondsPerKm = &pace
			}
		}
		if rec.Calories != nil {
			stats.EstimatedCalories += *rec.Calories
		}
	}

	stats.TotalDistanceMeters = int(distance)
	stats.TotalElevationGainMeters = int(elevation)
	stats.LongestRunMeters = int(longest)
	if distance > 0 {
		pace := int(float64(stats.TotalDurationSeconds) / (distance / 1000))
		stats.AvgPaceSecondsPerKm = &pace
	}
	if stats.TotalRuns > 0 {
		stats.AvgDistancePerRunMeters = int(distance) / stats.TotalRuns
	}
	return stats
}

// computeStreaks walks distinct run days newest-first. The current
// streak counts only while the latest run is at most a day old.
func computeStreaks(records []models.RunRecord, now time.Time) (current, best int) {
	days := map[time.Time]struct{}{}
	for _, rec := range records {
		t := rec.FinishedAt.UTC()
		days[time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)] = struct{}{}
	}
	if len(days) == 0 {
		return 0, 0
	}

	dates := make([]time.Time, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].After(dates[j]) })

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	latestChain := true
	streak := 1
	if int(today.Sub(dates[0]).Hours()/24) <= 1 {
		current = 1
	}
	for i := 1; i < len(dates); i++ {
		if int(dates[i-1].Sub(dates[i]).Hours()/24) == 1 {
			streak++
			if latestChain && current > 0 {
				current = streak
			}
		} else {
			latestChain = false
			if streak > best {
				best = streak
			}
			streak = 1
		}
	}
	if streak > best {
		best = streak
	}
	return current, best
}

func monthlyDistance(records []models.RunRecord, now time.Time, months int) []MonthlyDistance {
	start := now.AddDate(0, 0, -months*30)

	type bucket struct {
		distance float64
		runs     int
	}
	byMonth := map[string]*bucket{}
	for _, rec := range records {
		if rec.FinishedAt.Before(start) {
			continue
		}
		key := rec.FinishedAt.UTC().Format("2006-01")
		b := byMonth[key]
		if b == nil {
			b = &bucket{}
			byMonth[key] = b
		}
		b.distance += rec.DistanceMeters
		b.runs++
	}

	keys := make([]string, 0, len(byMonth))
	for k := range byMonth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]MonthlyDistance, 0, len(keys))
	for _, k := range keys {
		out = append(out, MonthlyDistance{
			Month:          k,
			DistanceMeters: int(byMonth[k].distance),
			RunCount:       byMonth[k].runs,
		})
	}
	return out
}

// weekWindows returns the starts of the current and previous
// Monday-to-Monday weeks.
func weekWindows(now time.Time) (thisStart, lastStart time.Time) {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(now.Weekday()) + 6) % 7
	thisStart = day.AddDate(0, 0, -offset)
	return thisStart, thisStart.AddDate(0, 0, -7)
}
