// Package geo holds the coordinate primitives shared by every controller and
// the geometry collaborator that turns geofences into routes and S2 cells.
package geo

import "math"

const earthRadiusM = 6371000.0

// Coord is a WGS84 point in degrees.
type Coord struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Distance returns the great-circle distance to other in meters.
func (c Coord) Distance(other Coord) float64 {
	return haversineMeters(c.Lat, c.Lon, other.Lat, other.Lon)
}

// IsZero reports whether c is the zero coordinate.
func (c Coord) IsZero() bool { return c.Lat == 0 && c.Lon == 0 }

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// BBox is an axis aligned lat/lon box.
type BBox struct {
	MinLat, MinLon float64
	MaxLat, MaxLon float64
}

// Contains reports whether c lies inside the box, edges included.
func (b BBox) Contains(c Coord) bool {
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat && c.Lon >= b.MinLon && c.Lon <= b.MaxLon
}

// Empty reports whether the box was never extended.
func (b BBox) Empty() bool { return b.MinLat > b.MaxLat || b.MinLon > b.MaxLon }

func emptyBBox() BBox {
	return BBox{MinLat: math.Inf(1), MinLon: math.Inf(1), MaxLat: math.Inf(-1), MaxLon: math.Inf(-1)}
}

func (b *BBox) extend(c Coord) {
	b.MinLat = math.Min(b.MinLat, c.Lat)
	b.MinLon = math.Min(b.MinLon, c.Lon)
	b.MaxLat = math.Max(b.MaxLat, c.Lat)
	b.MaxLon = math.Max(b.MaxLon, c.Lon)
}

// Polygon is a single ring. A closing vertex equal to the first one is allowed.
type Polygon []Coord

// BBox returns the bounding box of the ring.
func (p Polygon) BBox() BBox {
	b := emptyBBox()
	for _, c := range p {
		b.extend(c)
	}
	return b
}

func (p Polygon) ring() Polygon {
	if len(p) > 1 && p[0] == p[len(p)-1] {
		return p[:len(p)-1]
	}
	return p
}

// BoundsOf returns the box covering all polygons.
func BoundsOf(polygons []Polygon) BBox {
	b := emptyBBox()
	for _, p := range polygons {
		for _, c := range p {
			b.extend(c)
		}
	}
	return b
}

// Contains is an even-odd ray cast in the lat/lon plane.
func (p Polygon) Contains(c Coord) bool {
	ring := p.ring()
	if len(ring) < 3 {
		return false
	}
	inside := false
	j := len(ring) - 1
	for i := range ring {
		a, b := ring[i], ring[j]
		if (a.Lat > c.Lat) != (b.Lat > c.Lat) {
			x := (b.Lon-a.Lon)*(c.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lon
			if c.Lon < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// InAny reports whether c is inside at least one polygon.
func InAny(polygons []Polygon, c Coord) bool {
	for _, p := range polygons {
		if p.Contains(c) {
			return true
		}
	}
	return false
}

// Closest returns the index of the coordinate nearest to from, or -1.
func Closest(from Coord, coords []Coord) int {
	best := -1
	bestDist := math.Inf(1)
	for i, c := range coords {
		if d := from.Distance(c); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// offset moves c by the given meters north and east.
func offset(c Coord, northM, eastM float64) Coord {
	dLat := northM / earthRadiusM * 180 / math.Pi
	dLon := eastM / (earthRadiusM * math.Cos(c.Lat*math.Pi/180)) * 180 / math.Pi
	return Coord{Lat: c.Lat + dLat, Lon: c.Lon + dLon}
}
