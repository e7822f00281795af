// Package database is the Postgres persistence layer. One Store serves
// every domain service; methods are grouped by entity across the files in
// this package. Route geometry lives in PostGIS geography columns and
// crosses the boundary as GeoJSON, value payloads (points, splits,
// pauses) as JSONB.
package database

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps the pgx connection pool. Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With("component", "database"),
	}
}

// pageBounds converts 0-based page / per-page into LIMIT and OFFSET,
// clamping per-page to 1..100 with a default of 20.
func pageBounds(page, perPage int) (limit, offset int) {
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	if page < 0 {
		page = 0
	}
	return perPage, page * perPage
}

// jsonArray marshals v for a JSONB parameter, mapping a nil slice to []
// rather than the JSON null literal.
func jsonArray(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding jsonb array: %w", err)
	}
	if string(b) == "null" {
		return []byte("[]"), nil
	}
	return b, nil
}

// jsonObject marshals v for a JSONB parameter, mapping a nil map to {}.
func jsonObject(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding jsonb object: %w", err)
	}
	if string(b) == "null" {
		return []byte("{}"), nil
	}
	return b, nil
}

// decodeJSON unmarshals a JSONB column into dst, leaving dst untouched
// for NULL columns.
func decodeJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

type geoLineString struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

// lineGeoJSON renders [lng, lat, alt] coordinates as a GeoJSON
// LineString for ST_GeomFromGeoJSON. Returns nil (SQL NULL) for fewer
// than two coordinates, which PostGIS would reject as a LineString. The
// value goes over the wire as text; call sites cast with ::text so the
// overloaded PostGIS function resolves.
func lineGeoJSON(coords [][]float64) (*string, error) {
	if len(coords) < 2 {
		return nil, nil
	}
	b, err := json.Marshal(geoLineString{Type: "LineString", Coordinates: coords})
	if err != nil {
		return nil, fmt.Errorf("encoding linestring: %w", err)
	}
	s := string(b)
	return &s, nil
}

// decodeLineGeoJSON parses ST_AsGeoJSON output back into coordinate
// triples. NULL geometry yields nil.
func decodeLineGeoJSON(raw []byte) ([][]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var line geoLineString
	if err := json.Unmarshal(raw, &line); err != nil {
		return nil, fmt.Errorf("decoding linestring: %w", err)
	}
	return line.Coordinates, nil
}
