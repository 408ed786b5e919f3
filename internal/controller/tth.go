package controller

import (
	"context"
	"fmt"
	"sync/atomic"

	"scanbrain/internal/geo"
	"scanbrain/internal/model"
)

// TTHFinder visits spawnpoints whose despawn time is still unknown. Every
// lap starts over the spawnpoints that are still unknown, so the route
// shrinks until nothing is left.
type TTHFinder struct {
	base
	route     *routeState
	completed atomic.Bool
}

func NewTTHFinder(cfg model.InstanceConfig, deps Deps) *TTHFinder {
	t := &TTHFinder{base: newBase(cfg, deps)}
	t.route = newRouteState(model.RouteLeapfrog, t.rng, nil, t.now())
	t.Reload(context.Background())
	return t
}

func (t *TTHFinder) unknown(ctx context.Context) ([]geo.Coord, error) {
	if len(t.cfg.Area) == 0 {
		return nil, nil
	}
	sctx, cancel := t.storageCtx(ctx)
	defer cancel()
	points, err := t.deps.Store.SpawnpointsInBounds(sctx, t.areaBounds())
	if err != nil {
		return nil, err
	}
	var coords []geo.Coord
	for _, p := range points {
		if p.DespawnSec != nil {
			continue
		}
		c := p.Coord()
		for _, poly := range t.cfg.Area {
			if t.deps.Geo.PointInPolygon(c, poly) {
				coords = append(coords, c)
				break
			}
		}
	}
	return t.deps.Geo.OptimizeRoute(coords), nil
}

func (t *TTHFinder) Reload(ctx context.Context) {
	coords, err := t.unknown(ctx)
	if err != nil {
		t.storageErr("spawnpoints_in_bounds", err)
		return
	}
	t.route.reset(coords, t.now())
	t.completed.Store(false)
	t.log.Info("spawnpoints with unknown despawn loaded", "spawnpoints", len(coords))
}

func (t *TTHFinder) finish() {
	if t.completed.CompareAndSwap(false, true) {
		t.complete(t.now())
	}
}

func (t *TTHFinder) GetTask(ctx context.Context, req model.TaskRequest) *model.Task {
	st, ok := t.route.next(req.UUID, t.now())
	if !ok {
		t.finish()
		return t.empty("no spawnpoints with unknown despawn", "uuid", req.UUID)
	}
	if st.wrapped {
		coords, err := t.unknown(ctx)
		if err != nil {
			t.storageErr("spawnpoints_in_bounds", err)
		} else {
			t.route.replace(coords)
			t.log.Info("tth lap completed", "remaining", len(coords))
			if len(coords) == 0 {
				t.finish()
			}
		}
	}
	task := t.task(model.ActionScanPokemon, st.coord)
	task.IsSpawnpoint = true
	return task
}

func (t *TTHFinder) GetStatus(ctx context.Context) string {
	n := t.route.length()
	if n == 0 {
		if t.completed.Load() {
			return "Completed: all spawnpoints known"
		}
		return "No spawnpoints with unknown despawn"
	}
	return fmt.Sprintf("Spawnpoints: %d, %s", n, t.route.status())
}

func (t *TTHFinder) Stop() {}
