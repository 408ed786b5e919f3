package controller

import (
	"context"
	"fmt"
	"sync/atomic"

	"scanbrain/internal/geo"
	"scanbrain/internal/model"
)

// Bootstrap walks an optimised grid over the area to discover cells. The
// first full lap counts as completion; traversal then keeps going.
type Bootstrap struct {
	base
	route     *routeState
	completed atomic.Bool
}

func NewBootstrap(cfg model.InstanceConfig, deps Deps) *Bootstrap {
	b := &Bootstrap{base: newBase(cfg, deps)}
	b.route = newRouteState(model.RouteLeapfrog, b.rng, nil, b.now())
	b.Reload(context.Background())
	return b
}

func (b *Bootstrap) Reload(ctx context.Context) {
	grid := b.deps.Geo.GenerateRoute(b.cfg.Area, geo.RouteOptions{RadiusM: b.cfg.RadiusM})
	coords := b.deps.Geo.OptimizeRoute(grid)
	b.route.reset(coords, b.now())
	b.completed.Store(false)
	if len(coords) == 0 {
		b.log.Warn("no coordinates configured")
		return
	}
	b.log.Info("bootstrap route built", "points", len(coords))
}

func (b *Bootstrap) GetTask(ctx context.Context, req model.TaskRequest) *model.Task {
	st, ok := b.route.next(req.UUID, b.now())
	if !ok {
		return b.empty("no coordinates configured", "uuid", req.UUID)
	}
	if st.wrapped && b.completed.CompareAndSwap(false, true) {
		b.complete(b.now())
	}
	return b.task(model.ActionScanRaid, st.coord)
}

func (b *Bootstrap) GetStatus(ctx context.Context) string {
	n := b.route.length()
	if n == 0 {
		return "No coordinates configured"
	}
	laps := b.route.laps()
	if laps == 0 {
		i := b.route.position()
		return fmt.Sprintf("Bootstrapping: %d/%d (%.1f%%)", i, n, float64(i)*100/float64(n))
	}
	return fmt.Sprintf("%s, Laps: %d", b.route.status(), laps)
}

func (b *Bootstrap) Stop() {}
