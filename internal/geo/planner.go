package geo

import "math"

// RouteOptions tunes GenerateRoute.
type RouteOptions struct {
	// RadiusM is the scan radius of a single visit; points are laid out on a
	// hex grid so that circles of this radius cover the area.
	RadiusM float64
	// MaxPoints stops generation early; zero means no limit.
	MaxPoints int
}

// Geometry is the collaborator the controllers consume for route building
// and area membership.
type Geometry interface {
	GenerateRoute(polygons []Polygon, opts RouteOptions) []Coord
	OptimizeRoute(coords []Coord) []Coord
	PointInPolygon(point Coord, polygon Polygon) bool
	CoveringCells(polygon Polygon, level int) []uint64
	CellsAround(center Coord, radiusM float64, level int) []uint64
}

// Planner is the default Geometry.
type Planner struct {
	// TwoOptIterations bounds the improvement passes of OptimizeRoute.
	TwoOptIterations int
}

// NewPlanner returns a Planner with default tuning.
func NewPlanner() *Planner { return &Planner{TwoOptIterations: 8} }

var _ Geometry = (*Planner)(nil)

// GenerateRoute lays a hex grid over the polygons and keeps the points
// falling inside any of them.
func (p *Planner) GenerateRoute(polygons []Polygon, opts RouteOptions) []Coord {
	radius := opts.RadiusM
	if radius <= 0 {
		radius = 70
	}
	bounds := BoundsOf(polygons)
	if bounds.Empty() {
		return nil
	}
	rowStep := 1.5 * radius
	colStep := math.Sqrt(3) * radius
	var out []Coord
	origin := Coord{Lat: bounds.MinLat, Lon: bounds.MinLon}
	for row := 0; ; row++ {
		rowStart := offset(origin, float64(row)*rowStep, 0)
		if rowStart.Lat > bounds.MaxLat {
			break
		}
		shift := 0.0
		if row%2 == 1 {
			shift = colStep / 2
		}
		for col := 0; ; col++ {
			c := offset(rowStart, 0, shift+float64(col)*colStep)
			if c.Lon > bounds.MaxLon {
				break
			}
			if InAny(polygons, c) {
				out = append(out, c)
				if opts.MaxPoints > 0 && len(out) >= opts.MaxPoints {
					return out
				}
			}
		}
	}
	return out
}

// OptimizeRoute reorders coords into a short closed tour.
func (p *Planner) OptimizeRoute(coords []Coord) []Coord {
	if len(coords) < 3 {
		return append([]Coord(nil), coords...)
	}
	order := nearestNeighbourOrder(coords)
	if len(coords) <= maxTwoOptNodes {
		order = improveOrder2Opt(coords, order, p.TwoOptIterations)
	}
	out := make([]Coord, len(order))
	for i, idx := range order {
		out[i] = coords[idx]
	}
	return out
}

// PointInPolygon reports whether point lies inside polygon.
func (p *Planner) PointInPolygon(point Coord, polygon Polygon) bool {
	return polygon.Contains(point)
}

// CoveringCells returns the S2 cells at level covering polygon.
func (p *Planner) CoveringCells(polygon Polygon, level int) []uint64 {
	if len(polygon.ring()) < 3 {
		return nil
	}
	return covering(loopOf(polygon), level)
}

// CellsAround returns the S2 cells at level intersecting the circle.
func (p *Planner) CellsAround(center Coord, radiusM float64, level int) []uint64 {
	return covering(capAround(center, radiusM), level)
}
