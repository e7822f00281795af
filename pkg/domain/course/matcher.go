// Package course holds the route-matching engine and difficulty scoring.
// Both operate on plain coordinates and leave persistence to callers.
package course

import (
	"math"

	"github.com/runbeat/server/pkg/domain/trace"
	"github.com/runbeat/server/pkg/models"
)

const (
	// GPS drift is larger in curves, so curved segments get a wider
	// corridor than straight ones.
	straightThresholdMeters = 50.0
	curvedThresholdMeters   = 60.0

	curvatureThreshold = 0.001

	completionRatio = 0.80
)

type Point struct {
	Lat float64
	Lng float64
}

type MatchResult struct {
	MatchPercent       float64
	IsCompleted        bool
	MaxDeviationMeters float64
	DeviationPoints    int
}

// PointsFromCoordinates converts stored [lng, lat, alt] triples.
func PointsFromCoordinates(coords [][]float64) []Point {
	pts := make([]Point, 0, len(coords))
	for _, c := range coords {
		if len(c) < 2 {
			continue
		}
		pts = append(pts, Point{Lat: c[1], Lng: c[0]})
	}
	return pts
}

func PointsFromTrack(points []models.TrackPoint) []Point {
	pts := make([]Point, len(points))
	for i, p := range points {
		pts[i] = Point{Lat: p.Latitude, Lng: p.Longitude}
	}
	return pts
}

// MatchRoute evaluates a runner trace against a course polyline. Each runner
// point is matched when its nearest course segment lies within that
// segment's threshold; completion requires 80% of points matched.
func MatchRoute(coursePts, runnerPts []Point) MatchResult {
	if len(coursePts) < 2 || len(runnerPts) == 0 {
		return MatchResult{}
	}

	curved := classifySegments(coursePts)

	matched := 0
	maxDeviation := 0.0
	for _, rp := range runnerPts {
		minDist := math.MaxFloat64
		threshold := straightThresholdMeters
		for i := 0; i+1 < len(coursePts); i++ {
			d := pointToSegmentMeters(rp, coursePts[i], coursePts[i+1])
			if d < minDist {
				minDist = d
				if curved[i] {
					threshold = curvedThresholdMeters
				} else {
					threshold = straightThresholdMeters
				}
			}
		}

		if minDist > maxDeviation {
			maxDeviation = minDist
		}
		if minDist <= threshold {
			matched++
		}
	}

	total := len(runnerPts)
	return MatchResult{
		MatchPercent:       round1(float64(matched) / float64(total) * 100),
		IsCompleted:        float64(matched)/float64(total) >= completionRatio,
		MaxDeviationMeters: round1(maxDeviation),
		DeviationPoints:    total - matched,
	}
}

// classifySegments marks segments adjacent to high-curvature vertices.
// Fewer than three vertices means every segment is straight.
func classifySegments(pts []Point) []bool {
	curved := make([]bool, len(pts)-1)
	for i := 1; i+1 < len(pts); i++ {
		if mengerCurvature(pts[i-1], pts[i], pts[i+1]) > curvatureThreshold {
			curved[i-1] = true
			curved[i] = true
		}
	}
	return curved
}

// mengerCurvature is 2*area/(a*b*c) over the triangle of three consecutive
// vertices, with side lengths in meters. Degenerate triangles score 0.
func mengerCurvature(a, b, c Point) float64 {
	ab := trace.Haversine(a.Lat, a.Lng, b.Lat, b.Lng)
	bc := trace.Haversine(b.Lat, b.Lng, c.Lat, c.Lng)
	ca := trace.Haversine(c.Lat, c.Lng, a.Lat, a.Lng)

	if ab < 1e-6 || bc < 1e-6 || ca < 1e-6 {
		return 0
	}
	product := ab * bc * ca
	if product < 1e-10 {
		return 0
	}

	s := (ab + bc + ca) / 2
	radicand := s * (s - ab) * (s - bc) * (s - ca)
	if radicand <= 0 {
		return 0
	}

	return 2 * math.Sqrt(radicand) / product
}

// pointToSegmentMeters projects p onto segment ab in degree space, then
// measures the offset with haversine. Good enough at segment scale.
func pointToSegmentMeters(p, a, b Point) float64 {
	dx := b.Lng - a.Lng
	dy := b.Lat - a.Lat
	ab2 := dx*dx + dy*dy
	if ab2 < 1e-10 {
		return trace.Haversine(p.Lat, p.Lng, a.Lat, a.Lng)
	}

	t := ((p.Lng-a.Lng)*dx + (p.Lat-a.Lat)*dy) / ab2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	projLat := a.Lat + t*dy
	projLng := a.Lng + t*dx
	return trace.Haversine(p.Lat, p.Lng, projLat, projLng)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
