// Package trace derives activity summaries from ordered GPS point streams.
// All functions are pure; callers own persistence.
package trace

import (
	"math"
	"time"

	"github.com/runbeat/server/pkg/models"
)

const (
	earthRadiusMeters = 6371000.0

	// Altitude deltas below this are GPS jitter, not climbing.
	elevationThresholdMeters = 2.0

	splitDistanceMeters = 1000.0
)

// Derived is the summary computed from a point stream.
type Derived struct {
	StartedAt            time.Time
	FinishedAt           time.Time
	DistanceMeters       float64
	DurationSeconds      int
	AvgPaceSecondsPerKm  int
	BestPaceSecondsPerKm int
	AvgSpeedMS           float64
	MaxSpeedMS           float64
	ElevationGainMeters  float64
	ElevationLossMeters  float64
	Splits               []models.Split
	RouteCoordinates     [][]float64
	ElevationProfile     []float64
	PointCount           int
}

// Haversine returns the great-circle distance in meters between two
// coordinates.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}

// Derive computes the full activity summary for an ordered point stream.
// Deterministic and idempotent; fewer than two points yields a zero summary.
func Derive(points []models.TrackPoint) Derived {
	d := Derived{PointCount: len(points)}
	if len(points) < 2 {
		return d
	}

	d.StartedAt = points[0].Timestamp
	d.FinishedAt = points[len(points)-1].Timestamp
	if !d.StartedAt.IsZero() && !d.FinishedAt.IsZero() && d.FinishedAt.After(d.StartedAt) {
		d.DurationSeconds = int(d.FinishedAt.Sub(d.StartedAt).Seconds())
	}

	splitStartDist := 0.0
	splitStartTime := points[0].Timestamp
	splitStartAlt := points[0].Altitude

	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		d.DistanceMeters += Haversine(prev.Latitude, prev.Longitude, cur.Latitude, cur.Longitude)

		if d.DistanceMeters-splitStartDist >= splitDistanceMeters {
			if !cur.Timestamp.IsZero() && !splitStartTime.IsZero() {
				splitDur := int(cur.Timestamp.Sub(splitStartTime).Seconds())
				d.Splits = append(d.Splits, models.Split{
					SplitNumber:      len(d.Splits) + 1,
					DistanceMeters:   d.DistanceMeters - splitStartDist,
					DurationSeconds:  splitDur,
					PaceSecondsPerKm: splitDur,
					ElevationChange:  round1(cur.Altitude - splitStartAlt),
				})
			}
			splitStartDist = d.DistanceMeters
			splitStartTime = cur.Timestamp
			splitStartAlt = cur.Altitude
		}
	}

	if d.DistanceMeters > 0 && d.DurationSeconds > 0 {
		d.AvgPaceSecondsPerKm = int(float64(d.DurationSeconds) / (d.DistanceMeters / 1000))
		d.AvgSpeedMS = round2(d.DistanceMeters / float64(d.DurationSeconds))
	}

	for _, s := range d.Splits {
		if d.BestPaceSecondsPerKm == 0 || s.PaceSecondsPerKm < d.BestPaceSecondsPerKm {
			d.BestPaceSecondsPerKm = s.PaceSecondsPerKm
		}
	}

	for _, p := range points {
		if p.Speed > d.MaxSpeedMS {
			d.MaxSpeedMS = p.Speed
		}
		d.RouteCoordinates = append(d.RouteCoordinates, []float64{p.Longitude, p.Latitude, p.Altitude})
		if p.Altitude != 0 {
			d.ElevationProfile = append(d.ElevationProfile, p.Altitude)
		}
	}

	d.ElevationGainMeters, d.ElevationLossMeters = elevationGainLoss(points)

	return d
}

// elevationGainLoss accumulates climb and descent with hysteresis. The
// reference altitude only moves when a delta clears the 2 m threshold, so
// sub-threshold jitter never accumulates. Altitude exactly 0 means the
// device reported none and the point is skipped.
func elevationGainLoss(points []models.TrackPoint) (gain, loss float64) {
	ref := 0.0
	haveRef := false

	for _, p := range points {
		if p.Altitude == 0 {
			continue
		}
		if !haveRef {
			ref = p.Altitude
			haveRef = true
			continue
		}

		diff := p.Altitude - ref
		if diff >= elevationThresholdMeters {
			gain += diff
			ref = p.Altitude
		} else if diff <= -elevationThresholdMeters {
			loss += -diff
			ref = p.Altitude
		}
	}

	return math.Trunc(gain), math.Trunc(loss)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
