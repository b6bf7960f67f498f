package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/star/aprstrack/internal/archive"
	"github.com/star/aprstrack/internal/config"
	"github.com/star/aprstrack/internal/pointing"
	"github.com/star/aprstrack/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	csvPath := flag.String("csv", "", "history CSV to inspect (default: newest archive snapshot)")
	window := flag.Duration("window", time.Hour, "recency window")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		fmt.Println("ERROR loading config:", err)
		os.Exit(1)
	}

	records, err := load(*csvPath, cfg, logger)
	if err != nil {
		fmt.Println("ERROR reading history:", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d records\n", len(records))
	if len(records) == 0 {
		return
	}

	for _, src := range []telemetry.Source{telemetry.SourceLight, telemetry.SourceEagle} {
		sub := telemetry.FilterSource(records, src)
		if last, ok := telemetry.Latest(sub); ok {
			fmt.Printf("  %s: %d records, last at %v\n", src, len(sub), last.Timestamp.Format(time.RFC3339))
		}
	}

	now := time.Now().UTC()
	wall := telemetry.RecentSince(records, *window, now)
	latest := telemetry.RecentToLatest(records, *window)
	fmt.Printf("Window %v: %d records relative to now, %d relative to latest\n", *window, len(wall), len(latest))
	if len(wall) == 0 {
		fmt.Println("  no recent records, a dashboard would fall back to full history")
	}

	target, ok := telemetry.LatestWithAltitude(records)
	if !ok {
		fmt.Println("No record with altitude, nothing to point at")
		return
	}
	obs := pointing.Geodetic{LatDeg: cfg.Observer.Latitude, LonDeg: cfg.Observer.Longitude, AltM: cfg.Observer.Elevation}
	res, err := pointing.LookAngles(obs, pointing.Geodetic{LatDeg: target.Latitude, LonDeg: target.Longitude, AltM: target.Altitude.Value})
	switch {
	case errors.Is(err, pointing.ErrUndefinedGeometry):
		fmt.Println("Pointing undefined: target coincides with observer")
	case err != nil:
		fmt.Println("ERROR computing pointing:", err)
	default:
		fmt.Printf("Pointing at %s (%v): az=%.2f° el=%.2f° range=%.0fm\n",
			target.Source, target.Timestamp.Format(time.RFC3339), res.AzimuthDeg, res.ElevationDeg, res.RangeM)
	}
}

func load(path string, cfg config.Config, logger *slog.Logger) ([]telemetry.Record, error) {
	if path == "" {
		records, ts, err := archive.New(cfg.History.ArchiveDir, cfg.History.ArchiveFiles, logger).LoadLatest()
		if err != nil {
			return nil, err
		}
		fmt.Printf("Snapshot from %v\n", ts.Format(time.RFC3339))
		return records, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := archive.ReadCSV(f, logger)
	if err != nil {
		return nil, err
	}
	// Snapshots written by hand may repeat rows.
	return telemetry.MergeHistory(nil, records), nil
}
