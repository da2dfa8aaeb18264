package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistanceKnownPairs(t *testing.T) {
	seoul := Point{Lat: 37.5665, Lng: 126.9780}
	busan := Point{Lat: 35.1796, Lng: 129.0756}

	assert.InDelta(t, 0, Distance(seoul, seoul), 1e-6)
	assert.InDelta(t, 325000, Distance(seoul, busan), 2000)
	assert.InDelta(t, Distance(seoul, busan), Distance(busan, seoul), 1e-6)
}

func TestDistanceShortRange(t *testing.T) {
	a := Point{Lat: 37.5, Lng: 127.0}
	// 0.0002 degrees of latitude is about 22 meters.
	b := Point{Lat: 37.5002, Lng: 127.0}
	assert.InDelta(t, 22.2, Distance(a, b), 0.5)
}

func TestBoundingBoxContainsRadius(t *testing.T) {
	c := Point{Lat: 37.5, Lng: 127.0}
	box := BoundingBox(c, 30)
	north := Point{Lat: 37.50026, Lng: 127.0}

	assert.Less(t, Distance(c, north), 30.0)
	assert.True(t, north.Lat <= box.MaxLat)
	assert.True(t, box.MinLng < c.Lng && c.Lng < box.MaxLng)
}

func TestBoundingBoxAcrossAntimeridian(t *testing.T) {
	me := Point{Lat: 0, Lng: 179.9999}
	egg := Point{Lat: 0, Lng: -179.9999}
	require.Less(t, Distance(me, egg), 30.0)

	box := BoundingBox(me, 30)
	assert.True(t, box.Wraps())
	assert.True(t, box.Contains(egg))
	assert.True(t, box.Contains(me))
	assert.False(t, box.Contains(Point{Lat: 0, Lng: 0}))

	west := BoundingBox(egg, 30)
	assert.True(t, west.Wraps())
	assert.True(t, west.Contains(me))
}

func TestBoundingBoxNearPoleSpansAllLongitudes(t *testing.T) {
	box := BoundingBox(Point{Lat: 89.99999, Lng: 10}, 30)
	assert.False(t, box.Wraps())
	assert.Equal(t, 90.0, box.MaxLat)
	assert.True(t, box.Contains(Point{Lat: 89.99999, Lng: -170}))
}

func TestBoundingBoxContainsCircle(t *testing.T) {
	for _, c := range []Point{{37.5, 127}, {-33.9, 151.2}, {64.1, -21.9}, {0, -180}, {10, 180}} {
		box := BoundingBox(c, 1000)
		for bearing := 0.0; bearing < 360; bearing += 15 {
			p := offset(c, 999, bearing)
			assert.True(t, box.Contains(p), "center %+v bearing %v point %+v", c, bearing, p)
		}
	}
}

// offset moves p by dist meters along bearing degrees.
func offset(p Point, dist, bearing float64) Point {
	d := dist / EarthRadiusMeters
	b := radians(bearing)
	lat1, lng1 := radians(p.Lat), radians(p.Lng)
	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(b))
	lng2 := lng1 + math.Atan2(math.Sin(b)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	return Point{Lat: degrees(lat2), Lng: wrapLng(degrees(lng2))}
}

func TestPointValid(t *testing.T) {
	assert.True(t, Point{Lat: 0, Lng: 0}.Valid())
	assert.False(t, Point{Lat: 91, Lng: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lng: -181}.Valid())
}
