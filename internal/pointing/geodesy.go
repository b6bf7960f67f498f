package pointing

import "math"

// WGS-84 ellipsoid parameters.
const (
	wgs84A  = 6378137.0             // semi-major axis (meters)
	wgs84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = wgs84F * (2 - wgs84F) // first eccentricity squared
)

const deg = math.Pi / 180.0

// Geodetic is a WGS-84 position: latitude/longitude in degrees, altitude in
// meters above the ellipsoid.
type Geodetic struct {
	LatDeg float64 `json:"latitude"`
	LonDeg float64 `json:"longitude"`
	AltM   float64 `json:"altitude"`
}

// ECEF is an Earth-centered, Earth-fixed position in meters.
type ECEF struct {
	X, Y, Z float64
}

// ENU is a vector in an observer's local East-North-Up frame, in meters.
type ENU struct {
	East, North, Up float64
}

// ToECEF converts a geodetic position to ECEF.
func (g Geodetic) ToECEF() ECEF {
	lat := g.LatDeg * deg
	lon := g.LonDeg * deg

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Radius of curvature in the prime vertical.
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return ECEF{
		X: (n + g.AltM) * cosLat * math.Cos(lon),
		Y: (n + g.AltM) * cosLat * math.Sin(lon),
		Z: (n*(1-wgs84E2) + g.AltM) * sinLat,
	}
}

// ToENU rotates the ECEF offset d into the local frame at origin.
func ToENU(origin Geodetic, d ECEF) ENU {
	lat := origin.LatDeg * deg
	lon := origin.LonDeg * deg

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	sinLon := math.Sin(lon)
	cosLon := math.Cos(lon)

	return ENU{
		East:  -sinLon*d.X + cosLon*d.Y,
		North: -sinLat*cosLon*d.X - sinLat*sinLon*d.Y + cosLat*d.Z,
		Up:    cosLat*cosLon*d.X + cosLat*sinLon*d.Y + sinLat*d.Z,
	}
}

// Sub returns e - o.
func (e ECEF) Sub(o ECEF) ECEF {
	return ECEF{X: e.X - o.X, Y: e.Y - o.Y, Z: e.Z - o.Z}
}
