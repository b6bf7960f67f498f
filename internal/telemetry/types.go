package telemetry

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// ErrMalformedPayload is returned when a tracker payload cannot be turned into a Record.
// The record is dropped; no defaults are substituted.
var ErrMalformedPayload = errors.New("malformed payload")

// Source identifies the tracked device (and therefore the payload dialect) a record came from.
type Source string

const (
	SourceLight Source = "light_aprs"
	SourceEagle Source = "eagle_flight"
)

// Dialect selects the comment format used when parsing a payload.
type Dialect string

const (
	DialectLight Dialect = "light"
	DialectEagle Dialect = "eagle"
)

// OptionalFloat is a float64 that may be explicitly unknown.
// The zero value is unknown, which is distinct from a known 0.
type OptionalFloat struct {
	Value float64
	Valid bool
}

// Known returns a valid OptionalFloat holding v.
func Known(v float64) OptionalFloat {
	return OptionalFloat{Value: v, Valid: true}
}

// MarshalJSON encodes unknown values as null.
func (o OptionalFloat) MarshalJSON() ([]byte, error) {
	if !o.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// UnmarshalJSON accepts null or a number.
func (o *OptionalFloat) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = OptionalFloat{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Known(v)
	return nil
}

// Record is one observation of a tracked device.
// Records are comparable with == so full-row dedup can use them as map keys.
type Record struct {
	Timestamp   time.Time     `json:"time"`
	Latitude    float64       `json:"latitude"`
	Longitude   float64       `json:"longitude"`
	Altitude    OptionalFloat `json:"altitude"`    // meters
	Speed       float64       `json:"speed"`       // km/h as reported by the tracker
	Course      float64       `json:"course"`      // degrees from true north
	Temperature float64       `json:"temperature"` // °C
	Pressure    float64       `json:"pressure"`    // hPa
	Voltage     OptionalFloat `json:"voltage"`     // volts
	Source      Source        `json:"type"`
}

// Payload is the aprs.fi "loc" response envelope.
type Payload struct {
	Command     string  `json:"command"`
	Result      string  `json:"result"`
	Description string  `json:"description,omitempty"`
	Found       int     `json:"found"`
	What        string  `json:"what"`
	Entries     []Entry `json:"entries"`
}

// Entry is a single station position report. aprs.fi sends every value as a
// string; numbers are accepted too.
type Entry struct {
	Name     string `json:"name"`
	Time     Field  `json:"time"`
	Lat      Field  `json:"lat"`
	Lng      Field  `json:"lng"`
	Altitude *Field `json:"altitude,omitempty"`
	Speed    Field  `json:"speed"`
	Course   Field  `json:"course"`
	Comment  string `json:"comment"`
}

// Field holds the raw text of a payload value that may arrive as a JSON string or number.
type Field string

// UnmarshalJSON stores strings unquoted and null as empty. Any other JSON
// value (numbers, but also booleans or objects) is kept as its raw text, so
// a value of the wrong type is rejected by the parser as a malformed field
// rather than failing the whole payload decode.
func (f *Field) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = Field(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = Field(b)
	return nil
}

// Float parses the field as a float64.
func (f Field) Float() (float64, error) {
	return strconv.ParseFloat(string(f), 64)
}
