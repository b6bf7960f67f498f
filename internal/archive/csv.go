package archive

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/star/aprstrack/internal/telemetry"
)

// Header is the column layout of a history file.
var Header = []string{
	"time", "latitude", "longitude", "altitude",
	"speed", "course", "temperature", "pressure", "voltage", "type",
}

// WriteCSV writes records with a header row. Unknown optional values are empty cells.
func WriteCSV(w io.Writer, records []telemetry.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, r := range records {
		if err := cw.Write(encodeRow(r)); err != nil {
			return fmt.Errorf("writing row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV reads a history file. Rows that fail to decode are skipped with a warning.
func ReadCSV(r io.Reader, logger *slog.Logger) ([]telemetry.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) != len(Header) {
		return nil, fmt.Errorf("header has %d columns, want %d", len(header), len(Header))
	}
	for i, name := range header {
		if strings.TrimSpace(name) != Header[i] {
			return nil, fmt.Errorf("header column %d is %q, want %q", i+1, name, Header[i])
		}
	}

	var records []telemetry.Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return records, fmt.Errorf("reading line %d: %w", line, err)
		}
		rec, err := decodeRow(row)
		if err != nil {
			logger.Warn("skipping malformed history row", "component", "archive", "line", line, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func encodeRow(r telemetry.Record) []string {
	return []string{
		strconv.FormatInt(r.Timestamp.Unix(), 10),
		ftoa(r.Latitude),
		ftoa(r.Longitude),
		optional(r.Altitude),
		ftoa(r.Speed),
		ftoa(r.Course),
		ftoa(r.Temperature),
		ftoa(r.Pressure),
		optional(r.Voltage),
		string(r.Source),
	}
}

func decodeRow(row []string) (telemetry.Record, error) {
	if len(row) != len(Header) {
		return telemetry.Record{}, fmt.Errorf("row has %d columns, want %d", len(row), len(Header))
	}

	unix, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return telemetry.Record{}, fmt.Errorf("time: %w", err)
	}
	rec := telemetry.Record{
		Timestamp: time.Unix(unix, 0).UTC(),
		Source:    telemetry.Source(row[9]),
	}
	if rec.Source != telemetry.SourceLight && rec.Source != telemetry.SourceEagle {
		return telemetry.Record{}, fmt.Errorf("unknown type %q", row[9])
	}

	fields := []struct {
		dst *float64
		col int
	}{
		{&rec.Latitude, 1},
		{&rec.Longitude, 2},
		{&rec.Speed, 4},
		{&rec.Course, 5},
		{&rec.Temperature, 6},
		{&rec.Pressure, 7},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(row[f.col], 64)
		if err != nil {
			return telemetry.Record{}, fmt.Errorf("%s: %w", Header[f.col], err)
		}
		*f.dst = v
	}

	if rec.Altitude, err = parseOptional(row[3]); err != nil {
		return telemetry.Record{}, fmt.Errorf("altitude: %w", err)
	}
	if rec.Voltage, err = parseOptional(row[8]); err != nil {
		return telemetry.Record{}, fmt.Errorf("voltage: %w", err)
	}
	return rec, nil
}

// ftoa uses the shortest representation that round-trips exactly, so a
// reloaded record still dedups against its in-memory copy.
func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func optional(o telemetry.OptionalFloat) string {
	if !o.Valid {
		return ""
	}
	return ftoa(o.Value)
}

func parseOptional(s string) (telemetry.OptionalFloat, error) {
	if s == "" {
		return telemetry.OptionalFloat{}, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return telemetry.OptionalFloat{}, err
	}
	return telemetry.Known(v), nil
}
