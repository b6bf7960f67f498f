package pointing

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrUndefinedGeometry is returned when observer and target coincide,
	// leaving azimuth and elevation undefined.
	ErrUndefinedGeometry = errors.New("observer and target coincide")

	// ErrNoTarget is returned by Calculate before any target has been set.
	ErrNoTarget = errors.New("no target set")
)

// minRangeM is the slant range below which observer and target are treated as coincident.
const minRangeM = 1e-3

// Result holds the pointing solution from the observer to the target.
type Result struct {
	AzimuthDeg   float64 `json:"azimuth"`   // 0 = north, clockwise, [0, 360)
	ElevationDeg float64 `json:"elevation"` // 0 = horizon, 90 = zenith
	RangeM       float64 `json:"distance"`  // straight-line slant range
}

// Session owns a fixed ground observer and the current target.
// A Session is not safe for concurrent use; the poll loop owns it.
type Session struct {
	observer Geodetic
	obsECEF  ECEF
	target   *Geodetic
}

// NewSession creates a Session for a ground observer. The observer is fixed
// for the life of the session.
func NewSession(observer Geodetic) (*Session, error) {
	if err := validate(observer); err != nil {
		return nil, fmt.Errorf("observer: %w", err)
	}
	return &Session{
		observer: observer,
		obsECEF:  observer.ToECEF(),
	}, nil
}

// Observer returns the session's observer position.
func (s *Session) Observer() Geodetic {
	return s.observer
}

// SetTarget records the target's current position. Altitude uses the same
// reference as the observer's elevation.
func (s *Session) SetTarget(latDeg, lonDeg, altM float64) error {
	t := Geodetic{LatDeg: latDeg, LonDeg: lonDeg, AltM: altM}
	if err := validate(t); err != nil {
		return fmt.Errorf("target: %w", err)
	}
	s.target = &t
	return nil
}

// Target returns the current target, if any.
func (s *Session) Target() (Geodetic, bool) {
	if s.target == nil {
		return Geodetic{}, false
	}
	return *s.target, true
}

// Calculate computes azimuth, elevation and slant range from the observer to
// the target on the WGS-84 ellipsoid. Earth curvature is exact: both ends are
// converted to ECEF and the difference is rotated into the observer's ENU frame.
//
// When the target is directly above or below the observer the azimuth is
// reported as 0. When the two coincide, ErrUndefinedGeometry is returned with
// a zero Result.
func (s *Session) Calculate() (Result, error) {
	if s.target == nil {
		return Result{}, ErrNoTarget
	}
	return LookAngles(s.observer, *s.target)
}

// LookAngles computes the pointing solution between two geodetic positions.
func LookAngles(observer, target Geodetic) (Result, error) {
	d := target.ToECEF().Sub(observer.ToECEF())
	enu := ToENU(observer, d)

	horiz := math.Hypot(enu.East, enu.North)
	rng := math.Hypot(horiz, enu.Up)
	if rng < minRangeM {
		return Result{}, ErrUndefinedGeometry
	}

	// atan2 form of asin(up/range); stays accurate near the zenith.
	el := math.Atan2(enu.Up, horiz) / deg

	var az float64
	if horiz >= minRangeM {
		az = math.Atan2(enu.East, enu.North) / deg
		if az < 0 {
			az += 360
		}
		if az >= 360 {
			az -= 360
		}
	}

	return Result{
		AzimuthDeg:   az,
		ElevationDeg: el,
		RangeM:       rng,
	}, nil
}

func validate(g Geodetic) error {
	switch {
	case math.IsNaN(g.LatDeg) || math.IsNaN(g.LonDeg) || math.IsNaN(g.AltM),
		math.IsInf(g.LatDeg, 0) || math.IsInf(g.LonDeg, 0) || math.IsInf(g.AltM, 0):
		return fmt.Errorf("non-finite position %+v", g)
	case g.LatDeg < -90 || g.LatDeg > 90:
		return fmt.Errorf("latitude %v out of range [-90, 90]", g.LatDeg)
	case g.LonDeg < -180 || g.LonDeg > 180:
		return fmt.Errorf("longitude %v out of range [-180, 180]", g.LonDeg)
	}
	return nil
}
