package course

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// degPerMeterLat is the latitude degrees covering one meter.
const degPerMeterLat = 1.0 / 111194.93

// straightCourse builds an east-bound line at lat 0 with the given length
// and vertex spacing, both in meters.
func straightCourse(lengthM, spacingM float64) []Point {
	pts := []Point{}
	for d := 0.0; d <= lengthM; d += spacingM {
		pts = append(pts, Point{Lat: 0, Lng: d * degPerMeterLat})
	}
	return pts
}

func offsetTrace(course []Point, offsetM float64) []Point {
	out := make([]Point, len(course))
	for i, p := range course {
		out[i] = Point{Lat: p.Lat + offsetM*degPerMeterLat, Lng: p.Lng}
	}
	return out
}

func TestMatchRouteWithinStraightThreshold(t *testing.T) {
	courseLine := straightCourse(1000, 10)
	runner := offsetTrace(courseLine, 40)

	res := MatchRoute(courseLine, runner)

	assert.Equal(t, 100.0, res.MatchPercent)
	assert.True(t, res.IsCompleted)
	assert.Equal(t, 0, res.DeviationPoints)
	assert.InDelta(t, 40.0, res.MaxDeviationMeters, 0.2)
}

func TestMatchRouteBeyondThreshold(t *testing.T) {
	courseLine := straightCourse(1000, 10)
	runner := offsetTrace(courseLine, 80)

	res := MatchRoute(courseLine, runner)

	assert.Equal(t, 0.0, res.MatchPercent)
	assert.False(t, res.IsCompleted)
	assert.Equal(t, len(runner), res.DeviationPoints)
	assert.InDelta(t, 80.0, res.MaxDeviationMeters, 0.2)
}

func TestMatchRouteCompletionBoundary(t *testing.T) {
	courseLine := straightCourse(1000, 10)

	// 4 of 5 points on the line, one 200 m off.
	runner := []Point{
		{Lat: 0, Lng: 100 * degPerMeterLat},
		{Lat: 0, Lng: 300 * degPerMeterLat},
		{Lat: 0, Lng: 500 * degPerMeterLat},
		{Lat: 0, Lng: 700 * degPerMeterLat},
		{Lat: 200 * degPerMeterLat, Lng: 900 * degPerMeterLat},
	}

	res := MatchRoute(courseLine, runner)

	assert.Equal(t, 80.0, res.MatchPercent)
	assert.True(t, res.IsCompleted)
	assert.Equal(t, 1, res.DeviationPoints)
	assert.InDelta(t, 200.0, res.MaxDeviationMeters, 0.5)

	// Drop one on-line point: 3 of 4 matched is below the 80% bar.
	res = MatchRoute(courseLine, runner[1:])
	assert.Equal(t, 75.0, res.MatchPercent)
	assert.False(t, res.IsCompleted)
}

func TestMatchRouteCurvedTolerance(t *testing.T) {
	// Right-angle corner: north 100 m, then east 100 m. The corner vertex
	// marks both segments curved, widening the corridor to 60 m.
	corner := []Point{
		{Lat: 0, Lng: 0},
		{Lat: 100 * degPerMeterLat, Lng: 0},
		{Lat: 100 * degPerMeterLat, Lng: 100 * degPerMeterLat},
	}
	probe := []Point{{Lat: 20 * degPerMeterLat, Lng: 55 * degPerMeterLat}}

	res := MatchRoute(corner, probe)
	assert.Equal(t, 100.0, res.MatchPercent)

	// The same 55 m offset against a straight-only course misses.
	straight := []Point{
		{Lat: 0, Lng: 0},
		{Lat: 100 * degPerMeterLat, Lng: 0},
		{Lat: 200 * degPerMeterLat, Lng: 0},
	}
	res = MatchRoute(straight, probe)
	assert.Equal(t, 0.0, res.MatchPercent)
}

func TestMatchRouteDegenerateInputs(t *testing.T) {
	tests := []struct {
		name   string
		course []Point
		runner []Point
	}{
		{"no runner points", straightCourse(1000, 10), nil},
		{"single course vertex", []Point{{Lat: 0, Lng: 0}}, offsetTrace(straightCourse(100, 10), 5)},
		{"both empty", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := MatchRoute(tt.course, tt.runner)
			if res.IsCompleted {
				t.Error("degenerate input must not complete")
			}
			if res.MatchPercent != 0 {
				t.Errorf("match percent = %f, want 0", res.MatchPercent)
			}
		})
	}
}

func TestMengerCurvatureGuards(t *testing.T) {
	// Collinear points carry no curvature.
	a := Point{Lat: 0, Lng: 0}
	b := Point{Lat: 0, Lng: 100 * degPerMeterLat}
	c := Point{Lat: 0, Lng: 200 * degPerMeterLat}
	assert.Equal(t, 0.0, mengerCurvature(a, b, c))

	// Duplicate vertices collapse a side below the length guard.
	assert.Equal(t, 0.0, mengerCurvature(a, a, c))
}

func TestPointsFromCoordinates(t *testing.T) {
	pts := PointsFromCoordinates([][]float64{
		{127.001, 37.5, 42.0},
		{127.002, 37.501},
		{127.003}, // malformed, skipped
	})

	assert.Len(t, pts, 2)
	assert.Equal(t, Point{Lat: 37.5, Lng: 127.001}, pts[0])
	assert.Equal(t, Point{Lat: 37.501, Lng: 127.002}, pts[1])
}
