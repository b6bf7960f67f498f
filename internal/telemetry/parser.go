package telemetry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Minimum comment token counts. Index 0 is a free-form tag and is ignored.
const (
	lightMinTokens = 4 // tag, temperature, pressure, voltage
	eagleMinTokens = 3 // tag, temperature, pressure
)

// Parse converts a payload using the given dialect.
func Parse(d Dialect, p Payload) (Record, error) {
	switch d {
	case DialectLight:
		return ParseLight(p)
	case DialectEagle:
		return ParseEagle(p)
	default:
		return Record{}, fmt.Errorf("unknown dialect %q", d)
	}
}

// ParseLight parses a Light APRS payload. Its comment is whitespace-delimited:
//
//	<tag> <temp>C <pressure>hPa <voltage>V
//
// Altitude is mandatory for this device.
func ParseLight(p Payload) (Record, error) {
	e, rec, err := parsePosition(p, SourceLight)
	if err != nil {
		return Record{}, err
	}
	if e.Altitude == nil {
		return Record{}, fmt.Errorf("%w: light payload has no altitude", ErrMalformedPayload)
	}
	alt, err := parseField("altitude", *e.Altitude)
	if err != nil {
		return Record{}, err
	}
	rec.Altitude = Known(alt)

	tokens := strings.Fields(e.Comment)
	if len(tokens) < lightMinTokens {
		return Record{}, fmt.Errorf("%w: light comment has %d tokens, want at least %d", ErrMalformedPayload, len(tokens), lightMinTokens)
	}
	if rec.Temperature, err = parseUnit("temperature", tokens[1], "C"); err != nil {
		return Record{}, err
	}
	if rec.Pressure, err = parseUnit("pressure", tokens[2], "hPa"); err != nil {
		return Record{}, err
	}
	volts, err := parseUnit("voltage", tokens[3], "V")
	if err != nil {
		return Record{}, err
	}
	rec.Voltage = Known(volts)

	return rec, nil
}

// ParseEagle parses an Eagle Flight payload. Its comment is comma-delimited:
//
//	<tag>,<temp>C,<pressure>mb
//
// Altitude may be missing and voltage is never reported. Pressure in mb is
// stored as hPa (the units are numerically identical).
func ParseEagle(p Payload) (Record, error) {
	e, rec, err := parsePosition(p, SourceEagle)
	if err != nil {
		return Record{}, err
	}
	if e.Altitude != nil {
		alt, err := parseField("altitude", *e.Altitude)
		if err != nil {
			return Record{}, err
		}
		rec.Altitude = Known(alt)
	}

	tokens := strings.Split(e.Comment, ",")
	if len(tokens) < eagleMinTokens {
		return Record{}, fmt.Errorf("%w: eagle comment has %d tokens, want at least %d", ErrMalformedPayload, len(tokens), eagleMinTokens)
	}
	if rec.Temperature, err = parseUnit("temperature", strings.TrimSpace(tokens[1]), "C"); err != nil {
		return Record{}, err
	}
	if rec.Pressure, err = parseUnit("pressure", strings.TrimSpace(tokens[2]), "mb"); err != nil {
		return Record{}, err
	}

	return rec, nil
}

// parsePosition extracts the fields shared by both dialects from entries[0].
func parsePosition(p Payload, src Source) (Entry, Record, error) {
	if len(p.Entries) == 0 {
		return Entry{}, Record{}, fmt.Errorf("%w: no entries", ErrMalformedPayload)
	}
	e := p.Entries[0]

	unix, err := strconv.ParseInt(strings.TrimSpace(string(e.Time)), 10, 64)
	if err != nil {
		return Entry{}, Record{}, fmt.Errorf("%w: time %q: %v", ErrMalformedPayload, string(e.Time), err)
	}

	rec := Record{
		Timestamp: time.Unix(unix, 0).UTC(),
		Source:    src,
	}
	if rec.Latitude, err = parseField("lat", e.Lat); err != nil {
		return Entry{}, Record{}, err
	}
	if rec.Longitude, err = parseField("lng", e.Lng); err != nil {
		return Entry{}, Record{}, err
	}
	if rec.Speed, err = parseField("speed", e.Speed); err != nil {
		return Entry{}, Record{}, err
	}
	if rec.Course, err = parseField("course", e.Course); err != nil {
		return Entry{}, Record{}, err
	}
	return e, rec, nil
}

func parseField(name string, f Field) (float64, error) {
	return parseNumber(name, strings.TrimSpace(string(f)))
}

// parseUnit strips unit from the end of token and parses the remainder.
func parseUnit(name, token, unit string) (float64, error) {
	return parseNumber(name, strings.TrimSuffix(token, unit))
}

func parseNumber(name, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q is not a number", ErrMalformedPayload, name, s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s %q is not finite", ErrMalformedPayload, name, s)
	}
	return v, nil
}
