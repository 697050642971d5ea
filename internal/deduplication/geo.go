package deduplication

import "math"

const (
	earthRadiusMeters = 6371000.0
	// slightly under the true length of a degree so the box always encloses the circle
	metersPerDegree = 110000.0
)

// HaversineMeters returns the great-circle distance between two points in meters
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(a)))
}

// boundingBox is a lat/lng rectangle enclosing a circle. lngBounded is false
// near the poles or across the antimeridian, where only latitude is limited.
type boundingBox struct {
	minLat, maxLat float64
	minLng, maxLng float64
	lngBounded     bool
}

func boxAround(lat, lng, radiusMeters float64) boundingBox {
	dLat := radiusMeters / metersPerDegree
	box := boundingBox{minLat: lat - dLat, maxLat: lat + dLat}

	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 1e-6 {
		return box
	}
	dLng := radiusMeters / (metersPerDegree * cosLat)
	box.minLng, box.maxLng = lng-dLng, lng+dLng
	box.lngBounded = box.minLng >= -180 && box.maxLng <= 180
	return box
}
