package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(center Coord, half float64) Polygon {
	return Polygon{
		{Lat: center.Lat - half, Lon: center.Lon - half},
		{Lat: center.Lat - half, Lon: center.Lon + half},
		{Lat: center.Lat + half, Lon: center.Lon + half},
		{Lat: center.Lat + half, Lon: center.Lon - half},
		{Lat: center.Lat - half, Lon: center.Lon - half},
	}
}

func TestDistance(t *testing.T) {
	// One degree of latitude is roughly 111.2 km.
	d := Coord{Lat: 0, Lon: 0}.Distance(Coord{Lat: 1, Lon: 0})
	assert.InDelta(t, 111_195, d, 50)
	assert.Zero(t, Coord{Lat: 10, Lon: 10}.Distance(Coord{Lat: 10, Lon: 10}))
}

func TestPolygonContains(t *testing.T) {
	p := box(Coord{Lat: 10, Lon: 10}, 1)
	cases := []struct {
		name string
		c    Coord
		want bool
	}{
		{"center", Coord{Lat: 10, Lon: 10}, true},
		{"near corner", Coord{Lat: 10.9, Lon: 10.9}, true},
		{"north", Coord{Lat: 11.5, Lon: 10}, false},
		{"west", Coord{Lat: 10, Lon: 8}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, p.Contains(tc.c))
		})
	}
	assert.False(t, Polygon{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}.Contains(Coord{Lat: 1, Lon: 1}))
}

func TestBoundsOfAndInAny(t *testing.T) {
	a := box(Coord{Lat: 0, Lon: 0}, 1)
	b := box(Coord{Lat: 5, Lon: 5}, 1)
	bounds := BoundsOf([]Polygon{a, b})
	assert.Equal(t, BBox{MinLat: -1, MinLon: -1, MaxLat: 6, MaxLon: 6}, bounds)
	assert.True(t, InAny([]Polygon{a, b}, Coord{Lat: 5, Lon: 5}))
	assert.False(t, InAny([]Polygon{a, b}, Coord{Lat: 3, Lon: 3}))
	assert.True(t, BoundsOf(nil).Empty())
}

func TestClosest(t *testing.T) {
	coords := []Coord{{Lat: 0, Lon: 0}, {Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}
	assert.Equal(t, 1, Closest(Coord{Lat: 1.2, Lon: 1.1}, coords))
	assert.Equal(t, -1, Closest(Coord{}, nil))
}

func TestGenerateRouteCoversArea(t *testing.T) {
	p := NewPlanner()
	area := box(Coord{Lat: 45, Lon: 7}, 0.01)
	route := p.GenerateRoute([]Polygon{area}, RouteOptions{RadiusM: 250})
	require.NotEmpty(t, route)
	for _, c := range route {
		assert.True(t, area.Contains(c))
	}
	// Every point of the area is within one radius of some route point.
	for _, at := range []Coord{{Lat: 45, Lon: 7}, {Lat: 45.008, Lon: 7.008}, {Lat: 44.995, Lon: 6.993}} {
		best := route[Closest(at, route)]
		assert.LessOrEqual(t, at.Distance(best), 250.0)
	}

	limited := p.GenerateRoute([]Polygon{area}, RouteOptions{RadiusM: 250, MaxPoints: 3})
	assert.Len(t, limited, 3)
	assert.Empty(t, p.GenerateRoute(nil, RouteOptions{}))
}

func TestOptimizeRouteKeepsPointsAndShortens(t *testing.T) {
	coords := []Coord{
		{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.03}, {Lat: 0, Lon: 0.01},
		{Lat: 0, Lon: 0.04}, {Lat: 0, Lon: 0.02},
	}
	out := NewPlanner().OptimizeRoute(coords)
	assert.ElementsMatch(t, coords, out)
	assert.Less(t, TourLength(out), TourLength(coords))

	short := []Coord{{Lat: 1, Lon: 1}, {Lat: 2, Lon: 2}}
	assert.Equal(t, short, NewPlanner().OptimizeRoute(short))
}

func TestCells(t *testing.T) {
	p := NewPlanner()
	c := Coord{Lat: 51.5, Lon: -0.12}
	id := CellID(c, BootstrapLevel)
	assert.Equal(t, BootstrapLevel, CellLevel(id))
	assert.Less(t, c.Distance(CellCenter(id)), 500.0)

	around := p.CellsAround(c, 500, BootstrapLevel)
	assert.Contains(t, around, id)
	for _, cell := range around {
		assert.Equal(t, BootstrapLevel, CellLevel(cell))
	}

	covering := p.CoveringCells(box(c, 0.01), BootstrapLevel)
	assert.Contains(t, covering, id)
	assert.Nil(t, p.CoveringCells(Polygon{c}, BootstrapLevel))
}
