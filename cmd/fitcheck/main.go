package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/runbeat/server/pkg/domain/importer"
	"github.com/runbeat/server/pkg/domain/trace"
	"github.com/runbeat/server/pkg/models"
)

// fitcheck parses a GPX or FIT file with the same code path the import
// pipeline uses and prints the summary it would persist. Handy for
// checking a file a user reported as broken without touching a database.
func main() {
	inputPath := flag.String("input", "", "Path to GPX or FIT file")
	dumpPoints := flag.Bool("points", false, "Print every parsed track point")
	flag.Parse()

	if *inputPath == "" {
		fmt.Println("Please provide input file with -input")
		os.Exit(1)
	}

	data, err := os.ReadFile(*inputPath)
	if err != nil {
		fmt.Printf("Failed to read file: %v\n", err)
		os.Exit(1)
	}

	var points []models.TrackPoint
	var device string
	switch ext := strings.ToLower(filepath.Ext(*inputPath)); ext {
	case ".gpx":
		points, device, err = importer.ParseGPX(data)
	case ".fit":
		points, device, err = importer.ParseFIT(data)
	default:
		fmt.Printf("Unsupported extension %q (want .gpx or .fit)\n", ext)
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Failed to parse file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Parsed %d points (device: %s)\n", len(points), orNone(device))

	if *dumpPoints {
		pw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(pw, "#\tTime\tLat\tLng\tAlt\tSpeed\tHR")
		for i, p := range points {
			fmt.Fprintf(pw, "%d\t%s\t%.6f\t%.6f\t%.1f\t%.2f\t%d\n",
				i+1, p.Timestamp.Format("15:04:05"), p.Latitude, p.Longitude,
				p.Altitude, p.Speed, p.HeartRate)
		}
		pw.Flush()
	}

	d := trace.Derive(points)

	fmt.Println("\n=== SUMMARY ===")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "Started\t%s\n", d.StartedAt.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Finished\t%s\n", d.FinishedAt.UTC().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Distance\t%.2f km\n", d.DistanceMeters/1000)
	fmt.Fprintf(w, "Duration\t%s\n", fmtDuration(d.DurationSeconds))
	fmt.Fprintf(w, "Avg pace\t%s /km\n", fmtPace(d.AvgPaceSecondsPerKm))
	fmt.Fprintf(w, "Best pace\t%s /km\n", fmtPace(d.BestPaceSecondsPerKm))
	fmt.Fprintf(w, "Avg speed\t%.2f m/s\n", d.AvgSpeedMS)
	fmt.Fprintf(w, "Max speed\t%.2f m/s\n", d.MaxSpeedMS)
	fmt.Fprintf(w, "Elevation\t+%.1f m / -%.1f m\n", d.ElevationGainMeters, d.ElevationLossMeters)
	w.Flush()

	fmt.Printf("\n=== SPLITS: %d ===\n", len(d.Splits))
	if len(d.Splits) > 0 {
		sw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(sw, "#\tDistance\tDuration\tPace\tElev")
		for _, s := range d.Splits {
			fmt.Fprintf(sw, "%d\t%.0f m\t%s\t%s /km\t%+.1f m\n",
				s.SplitNumber, s.DistanceMeters, fmtDuration(s.DurationSeconds),
				fmtPace(s.PaceSecondsPerKm), s.ElevationChange)
		}
		sw.Flush()
	}
}

func orNone(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func fmtDuration(seconds int) string {
	return fmt.Sprintf("%dm%02ds", seconds/60, seconds%60)
}

func fmtPace(secondsPerKm int) string {
	if secondsPerKm == 0 {
		return "-"
	}
	return fmt.Sprintf("%d:%02d", secondsPerKm/60, secondsPerKm%60)
}
