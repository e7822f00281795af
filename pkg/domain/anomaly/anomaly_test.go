package anomaly

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/runbeat/server/pkg/models"
)

func TestCheckFlagsImpossibleAverage(t *testing.T) {
	// 10 km in 25 minutes is 6.67 m/s, over the 10km+ limit of 6.3.
	res := Check(Summary{
		DistanceMeters:  10000,
		DurationSeconds: 1500,
	})

	assert.True(t, res.IsFlagged)
	assert.Contains(t, res.Reason, "10km+")
	assert.InDelta(t, 0.4, res.Confidence, 1e-9)
}

func TestCheckBrackets(t *testing.T) {
	// Average speeds per row: 10.0, 8.0, 4.17, 6.39, 5.66, and 6.03 m/s
	// against bracket limits 10.5, 7.5, 6.8, 6.0, 5.8, and 5.8.
	tests := []struct {
		name      string
		distanceM float64
		durationS int
		flagged   bool
	}{
		{"sprint under short limit", 800, 80, false},
		{"1k over limit", 2000, 250, true},
		{"5k at credible pace", 5000, 1200, false},
		{"half marathon over limit", 21100, 3300, true},
		{"marathon world class", 42195, 7460, false},
		{"marathon impossible", 42195, 7000, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(Summary{DistanceMeters: tt.distanceM, DurationSeconds: tt.durationS})
			if res.IsFlagged != tt.flagged {
				t.Errorf("IsFlagged = %v, want %v (reason %q)", res.IsFlagged, tt.flagged, res.Reason)
			}
		})
	}
}

func TestCheckUsesReportedAverageWhenHigher(t *testing.T) {
	// Raw totals look fine but the client-reported average does not.
	res := Check(Summary{
		DistanceMeters:  5000,
		DurationSeconds: 1500,
		AvgSpeedMS:      7.2,
	})

	assert.True(t, res.IsFlagged)
	assert.Contains(t, res.Reason, "average speed 7.20")
}

func TestCheckMaxSpeedAndPaces(t *testing.T) {
	res := Check(Summary{
		DistanceMeters:       3000,
		DurationSeconds:      1200,
		MaxSpeedMS:           14.0,
		BestPaceSecondsPerKm: 110,
		Splits: []models.Split{
			{SplitNumber: 1, PaceSecondsPerKm: 115},
			{SplitNumber: 2, PaceSecondsPerKm: 118},
		},
	})

	assert.True(t, res.IsFlagged)
	assert.Contains(t, res.Reason, "max speed")
	assert.Contains(t, res.Reason, "best pace")
	// Only the first offending split is reported.
	assert.Contains(t, res.Reason, "split 1")
	assert.NotContains(t, res.Reason, "split 2")
}

func TestCheckReasonCapAndConfidence(t *testing.T) {
	// Four triggers: average, max speed, best pace, split pace.
	res := Check(Summary{
		DistanceMeters:       10000,
		DurationSeconds:      1400,
		MaxSpeedMS:           13.0,
		BestPaceSecondsPerKm: 100,
		Splits:               []models.Split{{SplitNumber: 3, PaceSecondsPerKm: 105}},
	})

	assert.True(t, res.IsFlagged)
	assert.Equal(t, 3, strings.Count(res.Reason, " / ")+1)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestCheckNeverFlagsDegenerateRuns(t *testing.T) {
	assert.False(t, Check(Summary{DistanceMeters: 0, DurationSeconds: 600, MaxSpeedMS: 99}).IsFlagged)
	assert.False(t, Check(Summary{DistanceMeters: 5000, DurationSeconds: 0, MaxSpeedMS: 99}).IsFlagged)
}

func TestCheckCleanRun(t *testing.T) {
	res := Check(Summary{
		DistanceMeters:       8000,
		DurationSeconds:      2400, // 3.33 m/s
		MaxSpeedMS:           5.1,
		BestPaceSecondsPerKm: 280,
		Splits:               []models.Split{{SplitNumber: 1, PaceSecondsPerKm: 290}},
	})

	assert.False(t, res.IsFlagged)
	assert.Empty(t, res.Reason)
	assert.Equal(t, 0.0, res.Confidence)
}
