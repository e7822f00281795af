package importer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGPX = `<?xml version="1.0" encoding="UTF-8"?>
<gpx version="1.1" creator="Garmin Forerunner 245" xmlns="http://www.topografix.com/GPX/1/1">
  <trk>
    <name>Morning Run</name>
    <trkseg>
      <trkpt lat="37.5665" lon="126.9780">
        <ele>42.5</ele>
        <time>2024-03-10T06:30:00Z</time>
      </trkpt>
      <trkpt lat="37.5666" lon="126.9781">
        <ele>43.0</ele>
        <time>2024-03-10T06:30:10Z</time>
      </trkpt>
    </trkseg>
    <trkseg>
      <trkpt lat="37.5667" lon="126.9782">
        <ele>43.5</ele>
        <time>2024-03-10T06:30:20Z</time>
      </trkpt>
    </trkseg>
  </trk>
</gpx>`

func TestParseGPX(t *testing.T) {
	points, device, err := ParseGPX([]byte(sampleGPX))
	require.NoError(t, err)

	assert.Equal(t, "Garmin Forerunner 245", device)
	require.Len(t, points, 3)

	assert.Equal(t, 37.5665, points[0].Latitude)
	assert.Equal(t, 126.9780, points[0].Longitude)
	assert.Equal(t, 42.5, points[0].Altitude)
	assert.Equal(t, time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC), points[0].Timestamp)

	// Segments are flattened in file order.
	assert.Equal(t, 37.5667, points[2].Latitude)
	assert.Equal(t, time.Date(2024, 3, 10, 6, 30, 20, 0, time.UTC), points[2].Timestamp)
}

func TestParseGPXWithoutOptionalFields(t *testing.T) {
	gpx := `<?xml version="1.0"?>
<gpx version="1.1" creator="">
  <trk><trkseg>
    <trkpt lat="37.5" lon="127.0"></trkpt>
    <trkpt lat="37.6" lon="127.1"><time>not-a-timestamp</time></trkpt>
  </trkseg></trk>
</gpx>`

	points, device, err := ParseGPX([]byte(gpx))
	require.NoError(t, err)

	assert.Empty(t, device)
	require.Len(t, points, 2)
	assert.Zero(t, points[0].Altitude)
	assert.True(t, points[0].Timestamp.IsZero())
	// Unparseable timestamps are tolerated, not fatal.
	assert.True(t, points[1].Timestamp.IsZero())
}

func TestParseGPXMalformed(t *testing.T) {
	_, _, err := ParseGPX([]byte("<gpx><trk>"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse GPX")
}

func TestParseGPXNoTracks(t *testing.T) {
	points, _, err := ParseGPX([]byte(`<?xml version="1.0"?><gpx version="1.1" creator="x"></gpx>`))
	require.NoError(t, err)
	assert.Empty(t, points)
}
