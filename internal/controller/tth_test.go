package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanbrain/internal/geo"
	"scanbrain/internal/model"
)

func TestTTHFinderShrinksUntilDone(t *testing.T) {
	f := newFixture(t)
	center := geo.Coord{Lat: 52.52, Lon: 13.40}
	points := []model.Spawnpoint{
		{ID: 1, Lat: center.Lat, Lon: center.Lon},
		{ID: 2, Lat: center.Lat + 0.01, Lon: center.Lon},
		{ID: 3, Lat: center.Lat - 0.01, Lon: center.Lon, DespawnSec: intp(1800)},
		{ID: 4, Lat: center.Lat + 1, Lon: center.Lon},
	}
	f.store.UpsertSpawnpoints(points...)
	learn := func(at geo.Coord) {
		for _, p := range points {
			if p.Coord() == at {
				p.DespawnSec = intp(600)
				f.store.UpsertSpawnpoints(p)
			}
		}
	}

	tth := NewTTHFinder(model.InstanceConfig{
		Name: "tth",
		Kind: model.KindFindTTH,
		Area: []geo.Polygon{square(center, 0.05)},
	}, f.deps())
	ctx := context.Background()
	req := model.TaskRequest{UUID: "dev"}
	assert.Contains(t, tth.GetStatus(ctx), "Spawnpoints: 2")

	first := tth.GetTask(ctx, req)
	require.NotNil(t, first)
	assert.True(t, first.IsSpawnpoint)
	learn(first.Coord())

	// End of the first lap: only the second point is still unknown.
	second := tth.GetTask(ctx, req)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Coord(), second.Coord())
	assert.Contains(t, tth.GetStatus(ctx), "Spawnpoints: 1")
	assert.Zero(t, f.done.count())
	learn(second.Coord())

	require.NotNil(t, tth.GetTask(ctx, req))
	assert.Equal(t, 1, f.done.count())

	assert.Nil(t, tth.GetTask(ctx, req))
	assert.Equal(t, 1, f.done.count(), "completion fires once")
	assert.Equal(t, "Completed: all spawnpoints known", tth.GetStatus(ctx))
}

func TestTTHFinderEmptyArea(t *testing.T) {
	f := newFixture(t)
	tth := NewTTHFinder(model.InstanceConfig{Name: "tth", Kind: model.KindFindTTH}, f.deps())
	assert.Nil(t, tth.GetTask(context.Background(), model.TaskRequest{UUID: "dev"}))
	assert.Equal(t, 1, f.done.count())
}
