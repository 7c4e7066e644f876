// Package geo provides the small amount of spherical geometry the sale
// listing queries need: great-circle distance and bounding boxes used to
// prefilter rows before exact distance checks.
package geo

import "math"

// EarthRadiusKm is the mean earth radius used for all distance math.
const EarthRadiusKm = 6371.0

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64
	Lng float64
}

// Haversine returns the great-circle distance between two points in
// kilometers. Good to well under 0.5% error, which is plenty for
// "sales near me" radii.
func Haversine(a, b Point) float64 {
	const degToRad = math.Pi / 180

	dLat := (b.Lat - a.Lat) * degToRad
	dLng := (b.Lng - a.Lng) * degToRad

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*degToRad)*math.Cos(b.Lat*degToRad)*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// BBox is a latitude/longitude axis-aligned bounding box.
type BBox struct {
	MinLat float64
	MinLng float64
	MaxLat float64
	MaxLng float64
}

// FromCenter returns the box that encloses a circle of radiusKm around the
// given point. Longitude span widens with latitude; near the poles it clamps
// to the full range rather than blowing up.
func FromCenter(p Point, radiusKm float64) BBox {
	if radiusKm < 0 {
		radiusKm = 0
	}
	latDelta := (radiusKm / EarthRadiusKm) * (180 / math.Pi)

	lngDelta := 180.0
	if cos := math.Cos(p.Lat * math.Pi / 180); cos > 1e-6 {
		lngDelta = latDelta / cos
	}

	b := BBox{
		MinLat: p.Lat - latDelta,
		MinLng: p.Lng - lngDelta,
		MaxLat: p.Lat + latDelta,
		MaxLng: p.Lng + lngDelta,
	}
	return b.clamp()
}

func (b BBox) clamp() BBox {
	b.MinLat = math.Max(b.MinLat, -90)
	b.MaxLat = math.Min(b.MaxLat, 90)
	b.MinLng = math.Max(b.MinLng, -180)
	b.MaxLng = math.Min(b.MaxLng, 180)
	return b
}

// Contains reports whether the point lies inside the box, edges included.
func (b BBox) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat &&
		p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// Valid reports whether the box has positive extent and in-range coordinates.
func (b BBox) Valid() bool {
	if b.MinLat > b.MaxLat || b.MinLng > b.MaxLng {
		return false
	}
	if b.MinLat < -90 || b.MaxLat > 90 || b.MinLng < -180 || b.MaxLng > 180 {
		return false
	}
	return true
}

// Expand grows the box by the given number of kilometers on every side.
// Viewport queries use a small pad so pins right on the edge do not pop
// in and out as the map moves.
func (b BBox) Expand(padKm float64) BBox {
	if padKm <= 0 {
		return b
	}
	latDelta := (padKm / EarthRadiusKm) * (180 / math.Pi)

	midLat := (b.MinLat + b.MaxLat) / 2
	lngDelta := 180.0
	if cos := math.Cos(midLat * math.Pi / 180); cos > 1e-6 {
		lngDelta = latDelta / cos
	}

	out := BBox{
		MinLat: b.MinLat - latDelta,
		MinLng: b.MinLng - lngDelta,
		MaxLat: b.MaxLat + latDelta,
		MaxLng: b.MaxLng + lngDelta,
	}
	return out.clamp()
}
