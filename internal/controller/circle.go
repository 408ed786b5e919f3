package controller

import (
	"context"

	"scanbrain/internal/model"
)

// Circle sends devices around a fixed list of points, for pokemon or raid
// scanning.
type Circle struct {
	base
	action model.Action
	route  *routeState
}

func NewCircle(cfg model.InstanceConfig, deps Deps) *Circle {
	c := &Circle{base: newBase(cfg, deps), action: model.ActionScanPokemon}
	if cfg.Kind == model.KindCircleRaid {
		c.action = model.ActionScanRaid
	}
	c.route = newRouteState(cfg.RouteMode, c.rng, cfg.Points, c.now())
	if c.route.length() == 0 {
		c.log.Warn("no coordinates configured")
	}
	return c
}

func (c *Circle) GetTask(ctx context.Context, req model.TaskRequest) *model.Task {
	st, ok := c.route.next(req.UUID, c.now())
	if !ok {
		return c.empty("no coordinates configured", "uuid", req.UUID)
	}
	if st.wrapped {
		c.log.Debug("route lap completed", "uuid", req.UUID)
	}
	return c.task(c.action, st.coord)
}

func (c *Circle) GetStatus(ctx context.Context) string { return c.route.status() }

func (c *Circle) Reload(ctx context.Context) { c.route.reset(c.cfg.Points, c.now()) }

func (c *Circle) Stop() {}
