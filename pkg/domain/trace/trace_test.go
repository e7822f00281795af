package trace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runbeat/server/pkg/models"
)

func TestHaversine(t *testing.T) {
	// One degree of longitude on the equator.
	d := Haversine(0, 0, 0, 1)
	assert.InDelta(t, 111194.93, d, 0.1)

	assert.Equal(t, 0.0, Haversine(37.5, 127.0, 37.5, 127.0))
}

func TestDeriveSplitBoundary(t *testing.T) {
	base := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)

	// 21 segments northward: 20 of ~100.08 m and a final ~90 m, 10 s apart.
	points := make([]models.TrackPoint, 0, 22)
	for i := 0; i <= 20; i++ {
		points = append(points, models.TrackPoint{
			Latitude:  float64(i) * 0.0009,
			Longitude: 127.0,
			Timestamp: base.Add(time.Duration(i*10) * time.Second),
		})
	}
	points = append(points, models.TrackPoint{
		Latitude:  20*0.0009 + 0.00081,
		Longitude: 127.0,
		Timestamp: base.Add(210 * time.Second),
	})

	d := Derive(points)

	assert.InDelta(t, 2091.6, d.DistanceMeters, 0.5)
	assert.Equal(t, 210, d.DurationSeconds)
	assert.Equal(t, 100, d.AvgPaceSecondsPerKm)
	assert.Equal(t, 100, d.BestPaceSecondsPerKm)

	require.Len(t, d.Splits, 2)
	for i, s := range d.Splits {
		if s.SplitNumber != i+1 {
			t.Errorf("split %d: number = %d, want %d", i, s.SplitNumber, i+1)
		}
		if s.DurationSeconds != 100 {
			t.Errorf("split %d: duration = %d, want 100", i, s.DurationSeconds)
		}
		if s.PaceSecondsPerKm != 100 {
			t.Errorf("split %d: pace = %d, want 100", i, s.PaceSecondsPerKm)
		}
		if s.DistanceMeters < 1000 {
			t.Errorf("split %d: distance = %f, want >= 1000", i, s.DistanceMeters)
		}
	}
}

func TestElevationGainLoss(t *testing.T) {
	tests := []struct {
		name      string
		altitudes []float64
		wantGain  float64
		wantLoss  float64
	}{
		{
			name:      "hysteresis filters jitter",
			altitudes: []float64{100, 100.5, 101, 100.7, 103, 102, 105, 104, 107, 100},
			wantGain:  7,
			wantLoss:  7,
		},
		{
			name:      "sub-threshold only",
			altitudes: []float64{50, 51, 50.5, 51.5, 50.8},
			wantGain:  0,
			wantLoss:  0,
		},
		{
			name:      "zero altitude skipped",
			altitudes: []float64{100, 0, 0, 110},
			wantGain:  10,
			wantLoss:  0,
		},
		{
			name:      "all missing",
			altitudes: []float64{0, 0, 0},
			wantGain:  0,
			wantLoss:  0,
		},
		{
			name:      "steady descent",
			altitudes: []float64{200, 195, 190, 185},
			wantGain:  0,
			wantLoss:  15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			points := make([]models.TrackPoint, len(tt.altitudes))
			for i, alt := range tt.altitudes {
				points[i] = models.TrackPoint{Latitude: 37.5, Longitude: 127.0, Altitude: alt}
			}

			gain, loss := elevationGainLoss(points)
			if gain != tt.wantGain {
				t.Errorf("gain = %f, want %f", gain, tt.wantGain)
			}
			if loss != tt.wantLoss {
				t.Errorf("loss = %f, want %f", loss, tt.wantLoss)
			}
		})
	}
}

func TestDeriveDegenerateInput(t *testing.T) {
	d := Derive(nil)
	assert.Equal(t, Derived{}, d)

	d = Derive([]models.TrackPoint{{Latitude: 37.5, Longitude: 127.0}})
	assert.Equal(t, 0.0, d.DistanceMeters)
	assert.Equal(t, 0, d.DurationSeconds)
	assert.Empty(t, d.Splits)
	assert.Empty(t, d.RouteCoordinates)
}

func TestDeriveMaxSpeedFromPoints(t *testing.T) {
	base := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	points := []models.TrackPoint{
		{Latitude: 0, Longitude: 0, Timestamp: base, Speed: 2.5},
		{Latitude: 0.001, Longitude: 0, Timestamp: base.Add(30 * time.Second), Speed: 4.1},
		{Latitude: 0.002, Longitude: 0, Timestamp: base.Add(60 * time.Second), Speed: 3.2},
	}

	d := Derive(points)
	assert.Equal(t, 4.1, d.MaxSpeedMS)
	assert.Equal(t, 60, d.DurationSeconds)
}

func TestDeriveRouteAndProfile(t *testing.T) {
	base := time.Date(2025, 3, 1, 6, 0, 0, 0, time.UTC)
	points := []models.TrackPoint{
		{Latitude: 37.5, Longitude: 127.0, Altitude: 42, Timestamp: base},
		{Latitude: 37.501, Longitude: 127.001, Altitude: 0, Timestamp: base.Add(10 * time.Second)},
		{Latitude: 37.502, Longitude: 127.002, Altitude: 44.5, Timestamp: base.Add(20 * time.Second)},
	}

	d := Derive(points)

	require.Len(t, d.RouteCoordinates, 3)
	assert.Equal(t, []float64{127.0, 37.5, 42}, d.RouteCoordinates[0])

	// The zero altitude is a missing sentinel and stays out of the profile.
	assert.Equal(t, []float64{42, 44.5}, d.ElevationProfile)
}
