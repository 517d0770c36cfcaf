package geo

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// EarthRadiusKm is the mean Earth radius used by DistanceKm.
const EarthRadiusKm = 6371.0

// ErrInvalidCoordinates is returned by Point.Validate for out-of-range values.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Point is a WGS84 coordinate pair in degrees.
type Point struct {
	Lat float64
	Lon float64
}

// NewPoint validates and returns a Point.
func NewPoint(lat float64, lon float64) (Point, error) {
	point := Point{Lat: lat, Lon: lon}
	if err := point.Validate(); err != nil {
		return Point{}, err
	}
	return point, nil
}

// Validate checks latitude and longitude ranges.
func (point Point) Validate() error {
	if math.IsNaN(point.Lat) || point.Lat < -90 || point.Lat > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinates, point.Lat)
	}
	if math.IsNaN(point.Lon) || point.Lon < -180 || point.Lon > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinates, point.Lon)
	}
	return nil
}

// DistanceTo returns the great-circle distance to another point in kilometres.
func (point Point) DistanceTo(other Point) float64 {
	return DistanceKm(point.Lat, point.Lon, other.Lat, other.Lon)
}

// DistanceKm computes the Haversine distance between two coordinates.
// Inputs are expected to be validated by the caller.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	deltaPhi := toRadians(lat2 - lat1)
	deltaLambda := toRadians(lon2 - lon1)

	sinPhi := math.Sin(deltaPhi / 2)
	sinLambda := math.Sin(deltaLambda / 2)
	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	// rounding can push a slightly outside [0,1] for identical or antipodal points
	a = math.Min(1, math.Max(0, a))
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

// TravelDuration converts a distance into a travel time at a constant speed.
func TravelDuration(distanceKm float64, speedKmh float64) time.Duration {
	if distanceKm <= 0 || speedKmh <= 0 {
		return 0
	}
	hours := distanceKm / speedKmh
	return time.Duration(hours * float64(time.Hour)).Round(time.Second)
}

func toRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
