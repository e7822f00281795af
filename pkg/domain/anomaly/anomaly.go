// Package anomaly flags runs whose speeds are not humanly plausible.
package anomaly

import (
	"fmt"
	"math"
	"strings"

	"github.com/runbeat/server/pkg/models"
)

const (
	// Nothing on foot sustains bursts past this.
	maxInstantaneousMS = 12.5

	// Splits under 2:00/km are beyond world-record pace.
	minSplitPaceSecondsPerKm = 120

	maxReportedReasons  = 3
	confidencePerReason = 0.4
)

// speedBrackets map run distance to the fastest credible average speed.
// Longer runs get stricter limits; the bracket with the largest
// min-distance at or under the run distance applies.
var speedBrackets = []struct {
	minDistanceMeters float64
	limitMS           float64
	label             string
}{
	{0, 10.5, "any distance"},
	{1000, 7.5, "1km+"},
	{5000, 6.8, "5km+"},
	{10000, 6.3, "10km+"},
	{21097, 6.0, "half marathon+"},
	{42195, 5.8, "marathon+"},
}

// Summary is the slice of a finalized run the detector looks at.
type Summary struct {
	DistanceMeters       float64
	DurationSeconds      int
	AvgSpeedMS           float64
	MaxSpeedMS           float64
	BestPaceSecondsPerKm int
	Splits               []models.Split
}

type Result struct {
	IsFlagged  bool
	Reason     string
	Confidence float64
}

// Check evaluates a run summary. Runs without positive distance and
// duration are never flagged.
func Check(s Summary) Result {
	if s.DurationSeconds <= 0 || s.DistanceMeters <= 0 {
		return Result{}
	}

	// Trust whichever average is higher: a client could understate its
	// reported average while the raw totals give it away.
	actualAvg := s.DistanceMeters / float64(s.DurationSeconds)
	if s.AvgSpeedMS > actualAvg {
		actualAvg = s.AvgSpeedMS
	}

	var reasons []string

	limit, label := bracketFor(s.DistanceMeters)
	if actualAvg > limit {
		reasons = append(reasons, fmt.Sprintf("average speed %.2f m/s exceeds the %s limit of %.1f m/s", actualAvg, label, limit))
	}

	if s.MaxSpeedMS > maxInstantaneousMS {
		reasons = append(reasons, fmt.Sprintf("max speed %.2f m/s exceeds %.1f m/s", s.MaxSpeedMS, maxInstantaneousMS))
	}

	if s.BestPaceSecondsPerKm > 0 && s.BestPaceSecondsPerKm < minSplitPaceSecondsPerKm {
		reasons = append(reasons, fmt.Sprintf("best pace %ds/km is under %ds/km", s.BestPaceSecondsPerKm, minSplitPaceSecondsPerKm))
	}

	for _, split := range s.Splits {
		if split.PaceSecondsPerKm > 0 && split.PaceSecondsPerKm < minSplitPaceSecondsPerKm {
			reasons = append(reasons, fmt.Sprintf("split %d pace %ds/km is under %ds/km", split.SplitNumber, split.PaceSecondsPerKm, minSplitPaceSecondsPerKm))
			break
		}
	}

	if len(reasons) == 0 {
		return Result{}
	}

	reported := reasons
	if len(reported) > maxReportedReasons {
		reported = reported[:maxReportedReasons]
	}

	return Result{
		IsFlagged:  true,
		Reason:     strings.Join(reported, " / "),
		Confidence: math.Min(1.0, float64(len(reasons))*confidencePerReason),
	}
}

func bracketFor(distanceMeters float64) (limit float64, label string) {
	for i := len(speedBrackets) - 1; i >= 0; i-- {
		if speedBrackets[i].minDistanceMeters <= distanceMeters {
			return speedBrackets[i].limitMS, speedBrackets[i].label
		}
	}
	return speedBrackets[0].limitMS, speedBrackets[0].label
}
