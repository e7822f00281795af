package importer

import (
	"encoding/xml"
	"fmt"
	"time"

	"github.com/runbeat/server/pkg/models"
)

type gpxFile struct {
	XMLName xml.Name   `xml:"gpx"`
	Creator string     `xml:"creator,attr"`
	Tracks  []gpxTrack `xml:"trk"`
}

type gpxTrack struct {
	Name     string       `xml:"name"`
	Segments []gpxSegment `xml:"trkseg"`
}

type gpxSegment struct {
	Points []gpxPoint `xml:"trkpt"`
}

type gpxPoint struct {
	Lat  float64 `xml:"lat,attr"`
	Lon  float64 `xml:"lon,attr"`
	Ele  float64 `xml:"ele"`
	Time string  `xml:"time"`
}

// ParseGPX extracts all track points across trk/trkseg elements, in file
// order. The second return is the recording device (the gpx creator attr).
func ParseGPX(data []byte) ([]models.TrackPoint, string, error) {
	var doc gpxFile
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, "", fmt.Errorf("failed to parse GPX file: %w", err)
	}

	var points []models.TrackPoint
	for _, trk := range doc.Tracks {
		for _, seg := range trk.Segments {
			for _, pt := range seg.Points {
				p := models.TrackPoint{
					Latitude:  pt.Lat,
					Longitude: pt.Lon,
					Altitude:  pt.Ele,
				}
				if pt.Time != "" {
					if ts, err := time.Parse(time.RFC3339, pt.Time); err == nil {
						p.Timestamp = ts.UTC()
					}
				}
				points = append(points, p)
			}
		}
	}

	return points, doc.Creator, nil
}
