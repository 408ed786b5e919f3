package geo

import (
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// BootstrapLevel is the S2 level scanners use to detect missing coverage.
const BootstrapLevel = 15

func (c Coord) point() s2.Point {
	return s2.PointFromLatLng(s2.LatLngFromDegrees(c.Lat, c.Lon))
}

func loopOf(p Polygon) *s2.Loop {
	ring := p.ring()
	pts := make([]s2.Point, 0, len(ring))
	for _, c := range ring {
		pts = append(pts, c.point())
	}
	loop := s2.LoopFromPoints(pts)
	loop.Normalize()
	return loop
}

func covering(region s2.Region, level int) []uint64 {
	rc := &s2.RegionCoverer{MinLevel: level, MaxLevel: level, MaxCells: 1 << 20}
	union := rc.Covering(region)
	out := make([]uint64, 0, len(union))
	for _, id := range union {
		out = append(out, uint64(id))
	}
	return out
}

// CellID returns the id of the cell containing c at level.
func CellID(c Coord, level int) uint64 {
	return uint64(s2.CellIDFromLatLng(s2.LatLngFromDegrees(c.Lat, c.Lon)).Parent(level))
}

// CellCenter returns the center of an S2 cell.
func CellCenter(id uint64) Coord {
	ll := s2.CellID(id).LatLng()
	return Coord{Lat: ll.Lat.Degrees(), Lon: ll.Lng.Degrees()}
}

// CellLevel returns the level of an S2 cell id.
func CellLevel(id uint64) int { return s2.CellID(id).Level() }

func capAround(center Coord, radiusM float64) s2.Cap {
	return s2.CapFromCenterAngle(center.point(), s1.Angle(radiusM/earthRadiusM))
}
