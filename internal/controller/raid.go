package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scanbrain/internal/geo"
	"scanbrain/internal/metrics"
	"scanbrain/internal/model"
)

const (
	DefaultRaidRadius   = 500.0
	PreHatchWindow      = 120 * time.Second
	EggIgnoreWindow     = 60 * time.Second
	RaidRefreshInterval = 30 * time.Second
)

// isNoBoss reports an egg about to hatch, or already hatched, whose boss
// is still unknown.
func isNoBoss(g model.Gym, now time.Time) bool {
	if g.RaidBattleTimestamp == nil {
		return false
	}
	if g.RaidPokemonID != nil && *g.RaidPokemonID != 0 {
		return false
	}
	unix := now.Unix()
	if g.RaidEndTimestamp != nil && unix >= *g.RaidEndTimestamp {
		return false
	}
	return *g.RaidBattleTimestamp-unix <= int64(PreHatchWindow/time.Second)
}

// isNoRaid reports a gym with no known raid, or whose last raid ended more
// than the egg ignore window ago.
func isNoRaid(g model.Gym, now time.Time) bool {
	if g.RaidEndTimestamp == nil {
		return true
	}
	return now.Unix() >= *g.RaidEndTimestamp+int64(EggIgnoreWindow/time.Second)
}

type raidPoint struct {
	coord        geo.Coord
	gymIDs       []string
	lastExamined time.Time
}

// SmartRaid refreshes the monitored points whose gyms most need it: bosses
// about to be revealed first, then gyms without a current raid.
type SmartRaid struct {
	base
	radius float64

	mu     sync.Mutex
	points []*raidPoint
	gyms   map[string]model.Gym

	statsMu sync.Mutex
	scans   []time.Time

	loop *ticking
}

func NewSmartRaid(cfg model.InstanceConfig, deps Deps) *SmartRaid {
	r := &SmartRaid{base: newBase(cfg, deps), radius: cfg.RadiusM, gyms: map[string]model.Gym{}, loop: newTicking()}
	if r.radius <= 0 {
		r.radius = DefaultRaidRadius
	}
	r.Reload(context.Background())
	r.loop.run(r.deps.Clock, RaidRefreshInterval, func() {
		r.guard("raid_refresh", func() { r.Refresh(context.Background()) })
	})
	return r
}

// Reload finds the gyms around every configured point.
func (r *SmartRaid) Reload(ctx context.Context) {
	points := make([]*raidPoint, 0, len(r.cfg.Points))
	gyms := map[string]model.Gym{}
	for _, c := range r.cfg.Points {
		cells := r.deps.Geo.CellsAround(c, r.radius, geo.BootstrapLevel)
		sctx, cancel := r.storageCtx(ctx)
		found, err := r.deps.Store.GymsByCellIDs(sctx, cells)
		cancel()
		if err != nil {
			r.storageErr("gyms_by_cell_ids", err)
			return
		}
		p := &raidPoint{coord: c}
		for _, g := range found {
			p.gymIDs = append(p.gymIDs, g.ID)
			gyms[g.ID] = g
		}
		points = append(points, p)
	}
	r.mu.Lock()
	r.points = points
	r.gyms = gyms
	r.mu.Unlock()
	if len(points) == 0 {
		r.log.Warn("no coordinates configured")
	}
	r.log.Info("raid points loaded", "points", len(points), "gyms", len(gyms))
}

// Refresh re-reads every watched gym so raid state seen by any device is
// used for scheduling.
func (r *SmartRaid) Refresh(ctx context.Context) {
	r.mu.Lock()
	ids := make([]string, 0, len(r.gyms))
	for id := range r.gyms {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	sctx, cancel := r.storageCtx(ctx)
	defer cancel()
	fresh, err := r.deps.Store.GymsByIDs(sctx, ids)
	if err != nil {
		r.storageErr("gyms_by_ids", err)
		return
	}
	r.mu.Lock()
	for _, g := range fresh {
		if _, ok := r.gyms[g.ID]; ok {
			r.gyms[g.ID] = g
		}
	}
	r.mu.Unlock()
	metrics.RaidRefreshes.WithLabelValues(r.cfg.Name).Inc()
}

func (r *SmartRaid) pick(now time.Time) (*raidPoint, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var noBoss, noRaid *raidPoint
	for _, p := range r.points {
		boss, raid := false, false
		for _, id := range p.gymIDs {
			g := r.gyms[id]
			boss = boss || isNoBoss(g, now)
			raid = raid || isNoRaid(g, now)
		}
		if boss && (noBoss == nil || p.lastExamined.Before(noBoss.lastExamined)) {
			noBoss = p
		}
		if raid && (noRaid == nil || p.lastExamined.Before(noRaid.lastExamined)) {
			noRaid = p
		}
	}
	switch {
	case noBoss != nil:
		noBoss.lastExamined = now
		return noBoss, "no_boss"
	case noRaid != nil:
		noRaid.lastExamined = now
		return noRaid, "no_raid"
	}
	return nil, ""
}

func (r *SmartRaid) GetTask(ctx context.Context, req model.TaskRequest) *model.Task {
	now := r.now()
	p, class := r.pick(now)
	if p == nil {
		metrics.EmptyPolls.WithLabelValues(r.cfg.Name).Inc()
		r.log.Debug("no raid point needs a refresh", "uuid", req.UUID)
		return nil
	}
	r.statsMu.Lock()
	r.scans = append(r.scans, now)
	r.statsMu.Unlock()
	r.log.Debug("raid task", "uuid", req.UUID, "class", class, "lat", p.coord.Lat, "lon", p.coord.Lon)
	return r.task(model.ActionScanRaid, p.coord)
}

func (r *SmartRaid) scansLastHour(now time.Time) int {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(r.scans) && r.scans[i].Before(cutoff) {
		i++
	}
	r.scans = r.scans[i:]
	return len(r.scans)
}

func (r *SmartRaid) GetStatus(ctx context.Context) string {
	r.mu.Lock()
	points, gyms := len(r.points), len(r.gyms)
	r.mu.Unlock()
	if points == 0 {
		return "No coordinates configured"
	}
	return fmt.Sprintf("Scans/h: %d (points: %d, gyms: %d)", r.scansLastHour(r.now()), points, gyms)
}

// Stop halts the refresh loop. Safe to call more than once.
func (r *SmartRaid) Stop() { r.loop.halt() }
