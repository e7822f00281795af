package database

import (
	"context"
	"fmt"
)

// heatmapGridDeg is the aggregation cell size in degrees, roughly 50 m
// at mid-latitudes.
const heatmapGridDeg = 0.00045

// heatmapRecordCap bounds how many routes feed one viewport query.
const heatmapRecordCap = 500

// HeatCell is one aggregated heatmap point. Weight counts distinct runs
// touching the cell.
type HeatCell struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Weight int     `json:"weight"`
}

// Heatmap aggregates run density inside a viewport: routes intersecting
// the box are dumped to points, snapped to a grid, and counted by
// distinct run per cell. Heaviest cells first.
func (s *Store) Heatmap(ctx context.Context, swLat, swLng, neLat, neLng float64, limit int) ([]HeatCell, error) {
	rows, err := s.pool.Query(ctx, `
		WITH viewport_records AS (
			SELECT id, route_geometry
			FROM run_records
			WHERE route_geometry IS NOT NULL
			  AND ST_Intersects(
			      route_geometry,
			      ST_MakeEnvelope($2, $1, $4, $3, 4326)::geography
			  )
			LIMIT `+fmt.Sprint(heatmapRecordCap)+`
		),
		dumped_points AS (
			SELECT
				vr.id AS record_id,
				ST_Y((dp.geom)::geometry) AS pt_lat,
				ST_X((dp.geom)::geometry) AS pt_lng
			FROM viewport_records vr,
			     LATERAL ST_DumpPoints(vr.route_geometry::geometry) AS dp
		),
		filtered_points AS (
			SELECT record_id, pt_lat, pt_lng
			FROM dumped_points
			WHERE pt_lat BETWEEN $1 AND $3
			  AND pt_lng BETWEEN $2 AND $4
		),
		grid_cells AS (
			SELECT
				floor(pt_lat / $5) * $5 + $5 / 2.0 AS cell_lat,
				floor(pt_lng / $5) * $5 + $5 / 2.0 AS cell_lng,
				COUNT(DISTINCT record_id) AS weight
			FROM filtered_points
			GROUP BY
				floor(pt_lat / $5),
				floor(pt_lng / $5)
		)
		SELECT
			round(cell_lat::numeric, 6) AS lat,
			round(cell_lng::numeric, 6) AS lng,
			weight
		FROM grid_cells
		ORDER BY weight DESC
		LIMIT $6`,
		swLat, swLng, neLat, neLng, heatmapGridDeg, limit)
	if err != nil {
		return nil, fmt.Errorf("selecting heatmap cells: %w", err)
	}
	defer rows.Close()

	cells := []HeatCell{}
	for rows.Next() {
		var c HeatCell
		if err := rows.Scan(&c.Lat, &c.Lng, &c.Weight); err != nil {
			return nil, fmt.Errorf("scanning heatmap cell: %w", err)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading heatmap cells: %w", err)
	}
	return cells, nil
}
