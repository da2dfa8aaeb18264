// Package geo holds the great-circle math shared by the nearby-capsule
// query on the server and the discovery queue on the client.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by Distance.
const EarthRadiusMeters = 6371000.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// Valid reports whether p lies inside the latitude/longitude ranges.
func (p Point) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// Box is a latitude/longitude rectangle. When MinLng > MaxLng the box
// crosses the antimeridian and covers MinLng..180 plus -180..MaxLng.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Wraps reports whether the box crosses the antimeridian.
func (b Box) Wraps() bool { return b.MinLng > b.MaxLng }

// Contains reports whether p lies inside the box.
func (b Box) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.Wraps() {
		return p.Lng >= b.MinLng || p.Lng <= b.MaxLng
	}
	return p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// BoundingBox returns a box that contains every point within radius
// meters of center. It over-approximates; callers still filter by Distance.
// A box reaching a pole spans every longitude.
func BoundingBox(center Point, radius float64) Box {
	dLat := degrees(radius / EarthRadiusMeters)
	box := Box{MinLat: center.Lat - dLat, MaxLat: center.Lat + dLat, MinLng: -180, MaxLng: 180}
	if box.MinLat <= -90 || box.MaxLat >= 90 {
		box.MinLat = math.Max(-90, box.MinLat)
		box.MaxLat = math.Min(90, box.MaxLat)
		return box
	}
	dLng := degrees(radius / (EarthRadiusMeters * math.Cos(radians(center.Lat))))
	if dLng >= 180 {
		return box
	}
	box.MinLng = wrapLng(center.Lng - dLng)
	box.MaxLng = wrapLng(center.Lng + dLng)
	return box
}

// LngScale is the east-west length of one degree of longitude relative to
// one degree of latitude at lat.
func LngScale(lat float64) float64 { return math.Cos(radians(lat)) }

// wrapLng folds a longitude into [-180, 180].
func wrapLng(lng float64) float64 {
	switch {
	case lng > 180:
		return lng - 360
	case lng < -180:
		return lng + 360
	}
	return lng
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
