package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/runbeat/server/pkg/domain/course"
	"github.com/runbeat/server/pkg/models"
)

const courseColumns = `id, user_id, run_record_id, title, description, distance_meters,
	elevation_gain_meters, COALESCE(difficulty, ''), is_public, COALESCE(thumbnail_url, ''),
	ST_AsGeoJSON(route_geometry),
	COALESCE(ST_Y(start_point::geometry), 0), COALESCE(ST_X(start_point::geometry), 0),
	created_at, updated_at`

func scanCourse(row pgx.Row) (*models.Course, error) {
	var (
		c     models.Course
		route []byte
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.RunRecordID, &c.Title, &c.Description, &c.DistanceMeters,
		&c.ElevationGainMeters, &c.Difficulty, &c.IsPublic, &c.ThumbnailURL,
		&route, &c.StartLat, &c.StartLng,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if c.RouteCoordinates, err = decodeLineGeoJSON(route); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCourse inserts the course and seeds its stats row in one
// transaction.
func (s *Store) CreateCourse(ctx context.Context, c *models.Course) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	route, err := lineGeoJSON(c.RouteCoordinates)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO courses (id, user_id, run_record_id, title, description,
				distance_meters, elevation_gain_meters, difficulty, is_public,
				route_geometry, start_point)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9,
				ST_GeomFromGeoJSON($10::text)::geography,
				ST_SetSRID(ST_MakePoint($11, $12), 4326)::geography)
			RETURNING created_at, updated_at`,
			c.ID, c.UserID, c.RunRecordID, c.Title, c.Description,
			c.DistanceMeters, c.ElevationGainMeters, c.Difficulty, c.IsPublic,
			route, c.StartLng, c.StartLat,
		).Scan(&c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("inserting course: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO course_stats (course_id) VALUES ($1)`, c.ID); err != nil {
			return fmt.Errorf("seeding course stats: %w", err)
		}
		return nil
	})
	return err
}

// GetCourse returns nil when the course does not exist.
func (s *Store) GetCourse(ctx context.Context, courseID uuid.UUID) (*models.Course, error) {
	c, err := scanCourse(s.pool.QueryRow(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE id = $1`, courseID))
	if err != nil {
		return nil, fmt.Errorf("selecting course: %w", err)
	}
	return c, nil
}

// GetCourseWithStats loads a course plus its aggregate stats block.
func (s *Store) GetCourseWithStats(ctx context.Context, courseID uuid.UUID) (*models.Course, error) {
	var (
		c          models.Course
		route      []byte
		runsByHour []byte
	)
	stats := models.CourseStats{}
	err := s.pool.QueryRow(ctx, `
		SELECT c.id, c.user_id, c.run_record_id, c.title, c.description, c.distance_meters,
			c.elevation_gain_meters, COALESCE(c.difficulty, ''), c.is_public,
			COALESCE(c.thumbnail_url, ''),
			ST_AsGeoJSON(c.route_geometry),
			COALESCE(ST_Y(c.start_point::geometry), 0), COALESCE(ST_X(c.start_point::geometry), 0),
			c.created_at, c.updated_at,
			COALESCE(st.total_runs, 0), COALESCE(st.unique_runners, 0),
			COALESCE(st.avg_duration_seconds, 0), COALESCE(st.avg_pace_seconds_per_km, 0),
			COALESCE(st.best_duration_seconds, 0), COALESCE(st.best_pace_seconds_per_km, 0),
			COALESCE(st.completion_rate, 0), COALESCE(st.runs_by_hour, '{}'),
			COALESCE(st.updated_at, c.updated_at)
		FROM courses c
		LEFT JOIN course_stats st ON st.course_id = c.id
		WHERE c.id = $1`,
		courseID,
	).Scan(
		&c.ID, &c.UserID, &c.RunRecordID, &c.Title, &c.Description, &c.DistanceMeters,
		&c.ElevationGainMeters, &c.Difficulty, &c.IsPublic, &c.ThumbnailURL,
		&route, &c.StartLat, &c.StartLng,
		&c.CreatedAt, &c.UpdatedAt,
		&stats.TotalRuns, &stats.UniqueRunners,
		&stats.AvgDurationSeconds, &stats.AvgPaceSecondsPerKm,
		&stats.BestDurationSeconds, &stats.BestPaceSecondsPerKm,
		&stats.CompletionRate, &runsByHour, &stats.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("selecting course with stats: %w", err)
	}

	if c.RouteCoordinates, err = decodeLineGeoJSON(route); err != nil {
		return nil, err
	}
	if err := decodeJSON(runsByHour, &stats.RunsByHour); err != nil {
		return nil, fmt.Errorf("decoding runs_by_hour: %w", err)
	}
	stats.CourseID = c.ID
	c.Stats = &stats
	return &c, nil
}

// ListCourses filters, orders, and pages the public catalog, returning
// enriched rows plus the unpaged total.
func (s *Store) ListCourses(ctx context.Context, f course.ListFilter) ([]course.ListItem, int, error) {
	where := "c.is_public"
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Search != "" {
		where += " AND c.title ILIKE " + arg("%"+f.Search+"%")
	}
	if f.MinDistanceMeters != nil {
		where += " AND c.distance_meters >= " + arg(*f.MinDistanceMeters)
	}
	if f.MaxDistanceMeters != nil {
		where += " AND c.distance_meters <= " + arg(*f.MaxDistanceMeters)
	}

	distanceExpr := "NULL::float8"
	if f.NearLat != nil && f.NearLng != nil {
		point := fmt.Sprintf("ST_SetSRID(ST_MakePoint(%s, %s), 4326)::geography",
			arg(*f.NearLng), arg(*f.NearLat))
		where += fmt.Sprintf(" AND ST_DWithin(c.start_point, %s, %s)", point, arg(f.NearRadiusMeters))
		distanceExpr = fmt.Sprintf("ST_Distance(c.start_point, %s)", point)
	}

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM courses c WHERE `+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting courses: %w", err)
	}

	orderExpr := "c.created_at"
	switch f.OrderBy {
	case "distance_meters":
		orderExpr = "c.distance_meters"
	case "total_runs":
		orderExpr = "COALESCE(st.total_runs, 0)"
	case "distance_from_user":
		orderExpr = "distance_from_user"
	}
	direction := "DESC"
	if f.Order == "asc" {
		direction = "ASC"
	}

	limit, offset := pageBounds(f.Page, f.PerPage)
	query := fmt.Sprintf(`
		SELECT c.id, c.title, c.distance_meters, c.elevation_gain_meters,
			COALESCE(c.difficulty, ''), COALESCE(c.thumbnail_url, ''), c.created_at,
			u.id, COALESCE(u.nickname, ''), COALESCE(u.profile_image_url, ''),
			COALESCE(st.total_runs, 0), COALESCE(st.unique_runners, 0),
			COALESCE(st.avg_pace_seconds_per_km, 0),
			%s AS distance_from_user
		FROM courses c
		JOIN users u ON u.id = c.user_id
		LEFT JOIN course_stats st ON st.course_id = c.id
		WHERE %s
		ORDER BY %s %s
		LIMIT %s OFFSET %s`,
		distanceExpr, where, orderExpr, direction, arg(limit), arg(offset))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("selecting courses: %w", err)
	}
	defer rows.Close()

	var items []course.ListItem
	for rows.Next() {
		var item course.ListItem
		if err := rows.Scan(
			&item.ID, &item.Title, &item.DistanceMeters, &item.ElevationGainMeters,
			&item.Difficulty, &item.ThumbnailURL, &item.CreatedAt,
			&item.Creator.ID, &item.Creator.Nickname, &item.Creator.ProfileImageURL,
			&item.Stats.TotalRuns, &item.Stats.UniqueRunners,
			&item.Stats.AvgPaceSecondsPerKm,
			&item.DistanceFromUserMeters,
		); err != nil {
			return nil, 0, fmt.Errorf("scanning course row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating courses: %w", err)
	}
	return items, total, nil
}

// NearbyCourses returns the closest public courses to a point, closest
// first.
func (s *Store) NearbyCourses(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]course.Nearby, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.title, c.distance_meters,
			COALESCE(st.total_runs, 0), COALESCE(st.avg_pace_seconds_per_km, 0),
			COALESCE(u.nickname, ''),
			ST_Distance(c.start_point, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) AS distance_from_user
		FROM courses c
		JOIN users u ON u.id = c.user_id
		LEFT JOIN course_stats st ON st.course_id = c.id
		WHERE c.is_public AND c.start_point IS NOT NULL
			AND ST_DWithin(c.start_point, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY distance_from_user ASC
		LIMIT $4`,
		lng, lat, radiusMeters, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting nearby courses: %w", err)
	}
	defer rows.Close()

	var nearby []course.Nearby
	for rows.Next() {
		var n course.Nearby
		if err := rows.Scan(
			&n.ID, &n.Title, &n.DistanceMeters,
			&n.TotalRuns, &n.AvgPaceSecondsPerKm,
			&n.CreatorNickname, &n.DistanceFromUserMeters,
		); err != nil {
			return nil, fmt.Errorf("scanning nearby course: %w", err)
		}
		nearby = append(nearby, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nearby courses: %w", err)
	}
	return nearby, nil
}

// FindNearbyPublicCourses returns full course rows, geometry included,
// whose start lies within radiusMeters of the point. The import pipeline
// matches the run trace against each one.
func (s *Store) FindNearbyPublicCourses(ctx context.Context, lat, lng, radiusMeters float64, limit int) ([]models.Course, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+courseColumns+`
		FROM courses
		WHERE is_public AND start_point IS NOT NULL
			AND ST_DWithin(start_point, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3)
		ORDER BY ST_Distance(start_point, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography) ASC
		LIMIT $4`,
		lng, lat, radiusMeters, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting candidate courses: %w", err)
	}
	defer rows.Close()

	var courses []models.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning candidate course: %w", err)
		}
		courses = append(courses, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candidate courses: %w", err)
	}
	return courses, nil
}

// CoursesInBounds lists public course markers inside a viewport.
func (s *Store) CoursesInBounds(ctx context.Context, b course.Bounds, limit int) ([]course.Marker, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.title,
			ST_Y(c.start_point::geometry), ST_X(c.start_point::geometry),
			c.distance_meters, COALESCE(st.total_runs, 0)
		FROM courses c
		LEFT JOIN course_stats st ON st.course_id = c.id
		WHERE c.is_public AND c.start_point IS NOT NULL
			AND ST_Intersects(c.start_point, ST_MakeEnvelope($1, $2, $3, $4, 4326)::geography)
		LIMIT $5`,
		b.SWLng, b.SWLat, b.NELng, b.NELat, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting courses in bounds: %w", err)
	}
	defer rows.Close()

	var markers []course.Marker
	for rows.Next() {
		var m course.Marker
		if err := rows.Scan(
			&m.ID, &m.Title, &m.StartLat, &m.StartLng,
			&m.DistanceMeters, &m.TotalRuns,
		); err != nil {
			return nil, fmt.Errorf("scanning course marker: %w", err)
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating course markers: %w", err)
	}
	return markers, nil
}

// UpsertCourseStats writes a freshly recomputed stats block.
func (s *Store) UpsertCourseStats(ctx context.Context, stats *models.CourseStats) error {
	runsByHour, err := jsonObject(stats.RunsByHour)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO course_stats (course_id, total_runs, unique_runners,
			avg_duration_seconds, avg_pace_seconds_per_km,
			best_duration_seconds, best_pace_seconds_per_km,
			completion_rate, runs_by_hour, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (course_id) DO UPDATE SET
			total_runs = EXCLUDED.total_runs,
			unique_runners = EXCLUDED.unique_runners,
			avg_duration_seconds = EXCLUDED.avg_duration_seconds,
			avg_pace_seconds_per_km = EXCLUDED.avg_pace_seconds_per_km,
			best_duration_seconds = EXCLUDED.best_duration_seconds,
			best_pace_seconds_per_km = EXCLUDED.best_pace_seconds_per_km,
			completion_rate = EXCLUDED.completion_rate,
			runs_by_hour = EXCLUDED.runs_by_hour,
			updated_at = NOW()`,
		stats.CourseID, stats.TotalRuns, stats.UniqueRunners,
		stats.AvgDurationSeconds, stats.AvgPaceSecondsPerKm,
		stats.BestDurationSeconds, stats.BestPaceSecondsPerKm,
		stats.CompletionRate, runsByHour)
	if err != nil {
		return fmt.Errorf("upserting course stats: %w", err)
	}
	return nil
}

// SetCourseThumbnail stores the rendered static-map URL.
func (s *Store) SetCourseThumbnail(ctx context.Context, courseID uuid.UUID, url string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE courses SET thumbnail_url = $2, updated_at = NOW() WHERE id = $1`,
		courseID, url)
	if err != nil {
		return fmt.Errorf("updating course thumbnail: %w", err)
	}
	return nil
}

// UpdateCourseDifficulty stores a re-scored difficulty bucket.
func (s *Store) UpdateCourseDifficulty(ctx context.Context, courseID uuid.UUID, difficulty string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE courses SET difficulty = $2, updated_at = NOW() WHERE id = $1`,
		courseID, difficulty)
	if err != nil {
		return fmt.Errorf("updating course difficulty: %w", err)
	}
	return nil
}

// CountUserCourses counts courses the user has published.
func (s *Store) CountUserCourses(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM courses WHERE user_id = $1`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting user courses: %w", err)
	}
	return n, nil
}

// CourseTitles resolves titles for a batch of course ids. Missing ids
// are simply absent from the map.
func (s *Store) CourseTitles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title FROM courses WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("selecting course titles: %w", err)
	}
	defer rows.Close()

	titles := make(map[uuid.UUID]string, len(ids))
	for rows.Next() {
		var (
			id    uuid.UUID
			title string
		)
		if err := rows.Scan(&id, &title); err != nil {
			return nil, fmt.Errorf("scanning course title: %w", err)
		}
		titles[id] = title
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating course titles: %w", err)
	}
	return titles, nil
}

// ListUserCourses returns every course the user created, private ones
// included, newest first.
func (s *Store) ListUserCourses(ctx context.Context, userID uuid.UUID) ([]course.MyCourse, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.title, c.distance_meters, c.is_public, c.created_at,
			COALESCE(st.total_runs, 0), COALESCE(st.unique_runners, 0),
			COALESCE(st.avg_pace_seconds_per_km, 0)
		FROM courses c
		LEFT JOIN course_stats st ON st.course_id = c.id
		WHERE c.user_id = $1
		ORDER BY c.created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("selecting user courses: %w", err)
	}
	defer rows.Close()

	var items []course.MyCourse
	for rows.Next() {
		var m course.MyCourse
		if err := rows.Scan(
			&m.ID, &m.Title, &m.DistanceMeters, &m.IsPublic, &m.CreatedAt,
			&m.Stats.TotalRuns, &m.Stats.UniqueRunners, &m.Stats.AvgPaceSecondsPerKm,
		); err != nil {
			return nil, fmt.Errorf("scanning user course: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating user courses: %w", err)
	}
	return items, nil
}
