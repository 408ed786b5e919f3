package controller

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"scanbrain/internal/geo"
	"scanbrain/internal/model"
)

const (
	DefaultLevelingRadius = 500.0
	MinSpinSeparation     = 40.0
	recentVisits          = 5
	activeWindow          = time.Hour
)

// xpTable holds the total xp needed to reach each level, index 0 is level 1.
var xpTable = []int64{
	0, 1000, 3000, 6000, 10000, 15000, 21000, 28000, 36000, 45000,
	55000, 65000, 75000, 85000, 100000, 120000, 140000, 160000, 185000, 210000,
	260000, 335000, 435000, 560000, 710000, 900000, 1100000, 1350000, 1650000, 2000000,
	2500000, 3000000, 3750000, 4750000, 6000000, 7500000, 9500000, 12000000, 15000000, 20000000,
	26000000, 33500000, 42500000, 53500000, 66500000, 82000000, 100000000, 121000000, 146000000, 176000000,
}

// xpForLevel returns the total xp at which level is reached.
func xpForLevel(level int) int64 {
	switch {
	case level <= 1:
		return 0
	case level > len(xpTable):
		return xpTable[len(xpTable)-1]
	}
	return xpTable[level-1]
}

type xpSample struct {
	at time.Time
	xp int64
}

type levelingPlayer struct {
	level    int
	xp       int64
	samples  []xpSample
	lastSeen time.Time
	unspun   map[string]model.Pokestop
	visited  []string
}

func (p *levelingPlayer) recentlyVisited(id string) bool {
	for _, v := range p.visited {
		if v == id {
			return true
		}
	}
	return false
}

// Leveling sends each account to the nearest pokestop it has not spun yet
// around a fixed start point.
type Leveling struct {
	base
	radius float64

	mu      sync.Mutex
	players map[string]*levelingPlayer
}

var (
	_ FortReceiver   = (*Leveling)(nil)
	_ PlayerReceiver = (*Leveling)(nil)
)

func NewLeveling(cfg model.InstanceConfig, deps Deps) *Leveling {
	l := &Leveling{base: newBase(cfg, deps), radius: cfg.RadiusM, players: map[string]*levelingPlayer{}}
	if l.radius <= 0 {
		l.radius = DefaultLevelingRadius
	}
	if cfg.Start == nil {
		l.log.Warn("no start coordinate configured")
	}
	return l
}

func (l *Leveling) player(username string) *levelingPlayer {
	p, ok := l.players[username]
	if !ok {
		p = &levelingPlayer{unspun: map[string]model.Pokestop{}}
		l.players[username] = p
	}
	return p
}

// GotForts remembers the stops near the start point an account has seen.
func (l *Leveling) GotForts(username string, stops []model.Pokestop) {
	if username == "" || l.cfg.Start == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.player(username)
	p.lastSeen = l.now()
	for _, s := range stops {
		if !s.Enabled || s.Coord().Distance(*l.cfg.Start) > l.radius {
			continue
		}
		p.unspun[s.ID] = s
	}
}

// GotPlayer records a level and xp sample for an account.
func (l *Leveling) GotPlayer(username string, level int, xp int64) {
	if username == "" {
		return
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.player(username)
	p.level, p.xp, p.lastSeen = level, xp, now
	p.samples = append(p.samples, xpSample{at: now, xp: xp})
	cutoff := now.Add(-activeWindow)
	i := 0
	for i < len(p.samples)-1 && p.samples[i].at.Before(cutoff) {
		i++
	}
	p.samples = p.samples[i:]
}

// nextStop picks and claims the stop the account should spin next.
func (l *Leveling) nextStop(username string, from geo.Coord) (model.Pokestop, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := l.player(username)
	p.lastSeen = l.now()
	var best model.Pokestop
	bestD, found := 0.0, false
	for id, s := range p.unspun {
		if p.recentlyVisited(id) {
			continue
		}
		d := from.Distance(s.Coord())
		if d < MinSpinSeparation {
			continue
		}
		if !found || d < bestD || (d == bestD && id < best.ID) {
			best, bestD, found = s, d, true
		}
	}
	if !found {
		return model.Pokestop{}, false
	}
	delete(p.unspun, best.ID)
	p.visited = append(p.visited, best.ID)
	if len(p.visited) > recentVisits {
		p.visited = p.visited[len(p.visited)-recentVisits:]
	}
	return best, true
}

func (l *Leveling) GetTask(ctx context.Context, req model.TaskRequest) *model.Task {
	if l.cfg.Start == nil {
		return l.empty("no start coordinate configured", "uuid", req.UUID)
	}
	account := l.account(ctx, req)
	if account == nil {
		return l.empty("leveling requires an account", "uuid", req.UUID)
	}
	from, ok := l.deps.Cooldown.LastKnownLocation(ctx, account, req.UUID)
	if !ok {
		from = *l.cfg.Start
	}
	target := *l.cfg.Start
	if s, ok := l.nextStop(account.Username, from); ok {
		target = s.Coord()
	}
	sctx, cancel := l.storageCtx(ctx)
	defer cancel()
	delay, encounterTS, err := l.deps.Cooldown.ComputeCooldown(sctx, account, req.UUID, target)
	if err != nil {
		l.log.Error("cooldown failed", "uuid", req.UUID, "err", err)
		return nil
	}
	if err := l.deps.Cooldown.RecordEncounter(sctx, account, req.UUID, target, encounterTS); err != nil {
		l.log.Error("record encounter", "uuid", req.UUID, "err", err)
	}
	if err := l.deps.Cooldown.IncrementSpinCount(sctx, account.Username); err != nil {
		l.log.Error("increment spin count", "username", account.Username, "err", err)
	}
	t := l.task(model.ActionSpinPokestop, target)
	t.Delay = delay
	t.DeployEgg = l.cfg.DeployEgg
	return t
}

// Reload forgets the remembered stops; xp history is kept.
func (l *Leveling) Reload(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.players {
		p.unspun = map[string]model.Pokestop{}
		p.visited = nil
	}
}

func (l *Leveling) GetStatus(ctx context.Context) string {
	if l.cfg.Start == nil {
		return "No start coordinate configured"
	}
	now := l.now()
	target := xpForLevel(l.cfg.LevelTarget)
	l.mu.Lock()
	names := make([]string, 0, len(l.players))
	for name, p := range l.players {
		if now.Sub(p.lastSeen) <= activeWindow {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, playerStatus(name, l.players[name], target))
	}
	l.mu.Unlock()
	if len(lines) == 0 {
		return "No active accounts"
	}
	return strings.Join(lines, "\n")
}

func playerStatus(name string, p *levelingPlayer, targetXP int64) string {
	pct := 100.0
	if targetXP > 0 && p.xp < targetXP {
		pct = float64(p.xp) * 100 / float64(targetXP)
	}
	eta := "--:--"
	if p.xp >= targetXP {
		eta = "00:00"
	} else if n := len(p.samples); n >= 2 {
		first, last := p.samples[0], p.samples[n-1]
		elapsed := last.at.Sub(first.at).Seconds()
		if elapsed < 1 {
			elapsed = 1
		}
		if rate := float64(last.xp-first.xp) / elapsed; rate > 0 {
			secs := int64(float64(targetXP-p.xp) / rate)
			eta = fmt.Sprintf("%02d:%02d", secs/3600, (secs%3600)/60)
		}
	}
	return fmt.Sprintf("%s: Lvl %d (%.1f%%) ETA %s", name, p.level, pct, eta)
}

func (l *Leveling) Stop() {}
