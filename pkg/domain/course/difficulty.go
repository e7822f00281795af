package course

import (
	"math"

	shared "github.com/runbeat/server/pkg"
)

// DifficultyScore combines distance, climb, gradient, and how often runners
// actually finish the course into a 0-100 score. Pass nil completionRate
// when the course has no attempts yet.
func DifficultyScore(distanceMeters, elevationGainMeters float64, completionRate *float64) float64 {
	distScore := math.Min(distanceMeters/10000, 1) * 100
	elevScore := math.Min(elevationGainMeters/300, 1) * 100

	gradScore := 0.0
	if distanceMeters > 0 {
		gradient := elevationGainMeters / distanceMeters * 1000
		gradScore = math.Min(gradient/60, 1) * 100
	}

	completionScore := 50.0
	if completionRate != nil {
		completionScore = (1 - *completionRate) * 100
	}

	return 0.30*distScore + 0.30*elevScore + 0.20*gradScore + 0.20*completionScore
}

// DifficultyLevel buckets a score into easy / medium / hard.
func DifficultyLevel(score float64) string {
	switch {
	case score < 33:
		return shared.DifficultyEasy
	case score < 66:
		return shared.DifficultyMedium
	default:
		return shared.DifficultyHard
	}
}

// Grade scores and buckets in one call.
func Grade(distanceMeters, elevationGainMeters float64, completionRate *float64) (float64, string) {
	score := DifficultyScore(distanceMeters, elevationGainMeters, completionRate)
	return score, DifficultyLevel(score)
}
