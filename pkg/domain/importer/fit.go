package importer

import (
	"bytes"
	"fmt"

	"github.com/muktihari/fit/decoder"
	"github.com/muktihari/fit/profile/mesgdef"
	"github.com/muktihari/fit/profile/typedef"
	"github.com/muktihari/fit/proto"

	"github.com/runbeat/server/pkg/models"
)

// ParseFIT decodes the record messages of a FIT file into track points.
// Records without a position fix are dropped; laps and sessions are ignored
// because the summary is always rederived from the points.
func ParseFIT(data []byte) ([]models.TrackPoint, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("empty FIT data")
	}

	fitDec := decoder.New(bytes.NewReader(data))

	var points []models.TrackPoint
	device := ""

	for fitDec.Next() {
		fitData, err := fitDec.Decode()
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode FIT file: %w", err)
		}

		for _, msg := range fitData.Messages {
			switch msg.Num {
			case typedef.MesgNumFileId:
				fileId := mesgdef.NewFileId(&msg)
				if device == "" && fileId.Manufacturer != typedef.ManufacturerInvalid {
					device = fileId.Manufacturer.String()
				}

			case typedef.MesgNumRecord:
				if p, ok := parseRecord(&msg); ok {
					points = append(points, p)
				}
			}
		}
	}

	return points, device, nil
}

// parseRecord extracts one track point from a FIT record message
func parseRecord(msg *proto.Message) (models.TrackPoint, bool) {
	rec := mesgdef.NewRecord(msg)

	if rec.Timestamp.IsZero() {
		return models.TrackPoint{}, false
	}

	// Position (FIT uses semicircles, convert to decimal degrees)
	if rec.PositionLat == 0x7FFFFFFF || rec.PositionLong == 0x7FFFFFFF {
		return models.TrackPoint{}, false
	}
	const semicircleConst = 11930464.7111 // 2^31 / 180
	p := models.TrackPoint{
		Latitude:  float64(rec.PositionLat) / semicircleConst,
		Longitude: float64(rec.PositionLong) / semicircleConst,
		Timestamp: rec.Timestamp.UTC(),
	}
	if p.Latitude < -90 || p.Latitude > 90 || p.Longitude < -180 || p.Longitude > 180 {
		return models.TrackPoint{}, false
	}

	// Heart rate
	if rec.HeartRate != 0xFF { // 0xFF is invalid
		p.HeartRate = int(rec.HeartRate)
	}

	// Speed (FIT uses mm/s, we want m/s); prefer the enhanced field
	if rec.EnhancedSpeed != 0xFFFFFFFF {
		p.Speed = float64(rec.EnhancedSpeed) / 1000
	} else if rec.Speed != 0xFFFF {
		p.Speed = float64(rec.Speed) / 1000
	}

	// Altitude (FIT uses 5 * (altitude + 500) scale); prefer enhanced
	if rec.EnhancedAltitude != 0xFFFFFFFF {
		p.Altitude = (float64(rec.EnhancedAltitude) / 5) - 500
	} else if rec.Altitude != 0xFFFF {
		p.Altitude = (float64(rec.Altitude) / 5) - 500
	}

	return p, true
}
