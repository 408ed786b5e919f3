package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scanbrain/internal/clock"
	"scanbrain/internal/geo"
	"scanbrain/internal/metrics"
	"scanbrain/internal/model"
	"scanbrain/internal/store"
)

const (
	DefaultSpinLimit    = 5
	ModeSwitchProximity = 1000.0

	// maxClaimAttempts bounds how many stops one poll may discard because
	// their quest turned up between selection and dispatch.
	maxClaimAttempts = 20
)

type questEntry struct {
	stop model.Pokestop
	mode model.QuestMode
	// gen is the working-set generation the entry was built for.
	gen uint64
}

func (e questEntry) key() string { return e.stop.ID + ":" + string(e.mode) }

// AutoQuest walks every pokestop in the area that still misses today's
// quest, nearest first, and resets at local midnight.
type AutoQuest struct {
	base
	spinLimit int
	loc       *time.Location

	mu      sync.Mutex
	all     []model.Pokestop
	pending []questEntry
	total   int
	gen     uint64

	modeMu   sync.Mutex
	lastMode map[string]model.QuestMode

	spins    *spinCounter
	reserved *reservations
	done     *completionState
	boot     bootstrapQueue

	timerMu sync.Mutex
	timer   *clock.Timer
	stopped bool
	// resetMu is held while a midnight reset runs so Stop can wait for it.
	resetMu sync.Mutex
}

var (
	_ Controller      = (*AutoQuest)(nil)
	_ AccountReserver = (*AutoQuest)(nil)
)

func NewAutoQuest(cfg model.InstanceConfig, deps Deps) *AutoQuest {
	q := &AutoQuest{
		base:      newBase(cfg, deps),
		spinLimit: cfg.SpinLimit,
		lastMode:  map[string]model.QuestMode{},
		spins:     newSpinCounter(),
		reserved:  newReservations(),
	}
	if q.spinLimit <= 0 {
		q.spinLimit = DefaultSpinLimit
	}
	q.loc = loadLocation(cfg.Timezone, q.log)
	q.done = newCompletionState(q.now(), CompletionCheckInterval)
	q.Reload(context.Background())
	q.scheduleReset()
	return q
}

func loadLocation(name string, log *slog.Logger) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn("unknown timezone, using UTC", "timezone", name, "err", err)
		return time.UTC
	}
	return loc
}

func (q *AutoQuest) modes() []model.QuestMode {
	switch q.cfg.QuestMode {
	case model.QuestAlternative:
		return []model.QuestMode{model.QuestAlternative}
	case model.QuestBoth:
		return []model.QuestMode{model.QuestNormal, model.QuestAlternative}
	default:
		return []model.QuestMode{model.QuestNormal}
	}
}

func (q *AutoQuest) exhausted(e questEntry) bool {
	return int(q.spins.get(e.key())) >= q.spinLimit
}

// entriesFor lists the (stop, mode) pairs whose quest is still unknown.
func (q *AutoQuest) entriesFor(stops []model.Pokestop, skipExhausted bool) []questEntry {
	var out []questEntry
	for _, s := range stops {
		for _, mode := range q.modes() {
			if s.HasQuest(mode) {
				continue
			}
			e := questEntry{stop: s, mode: mode}
			if skipExhausted && q.exhausted(e) {
				continue
			}
			out = append(out, e)
		}
	}
	return out
}

func (q *AutoQuest) loadStops(ctx context.Context) ([]model.Pokestop, error) {
	seen := map[string]struct{}{}
	var out []model.Pokestop
	for _, poly := range q.cfg.Area {
		sctx, cancel := q.storageCtx(ctx)
		stops, err := q.deps.Store.PokestopsInBounds(sctx, poly.BBox())
		cancel()
		if err != nil {
			return nil, err
		}
		for _, s := range stops {
			if _, dup := seen[s.ID]; dup || !q.deps.Geo.PointInPolygon(s.Coord(), poly) {
				continue
			}
			seen[s.ID] = struct{}{}
			out = append(out, s)
		}
	}
	return out, nil
}

// Reload rebuilds the working set from storage. On a storage failure the
// previous working set stays in place.
func (q *AutoQuest) Reload(ctx context.Context) {
	stops, err := q.loadStops(ctx)
	if err != nil {
		q.storageErr("pokestops_in_bounds", err)
		return
	}
	q.spins.clear()
	entries := q.entriesFor(stops, false)
	q.mu.Lock()
	q.gen++
	for i := range entries {
		entries[i].gen = q.gen
	}
	q.all = stops
	q.pending = entries
	q.total = len(stops) * len(q.modes())
	q.mu.Unlock()
	q.done.reset(q.now())
	if len(q.cfg.Area) == 0 {
		q.log.Warn("no area configured")
	}
	if q.cfg.Bootstrap {
		q.fillBootstrap(ctx, false)
	}
	metrics.QueueDepth.WithLabelValues(q.cfg.Name).Set(float64(len(entries)))
	q.log.Info("quest working set loaded", "pokestops", len(stops), "pending", len(entries))
}

func (q *AutoQuest) fillBootstrap(ctx context.Context, refill bool) {
	seen := map[uint64]struct{}{}
	var missing []uint64
	for _, poly := range q.cfg.Area {
		sctx, cancel := q.storageCtx(ctx)
		known, err := q.deps.Store.CellIDsInBounds(sctx, poly.BBox())
		cancel()
		if err != nil {
			q.storageErr("cells_in_bounds", err)
			return
		}
		for _, id := range known {
			seen[id] = struct{}{}
		}
		for _, id := range q.deps.Geo.CoveringCells(poly, geo.BootstrapLevel) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			missing = append(missing, id)
		}
	}
	q.boot.fill(missing, refill)
	if len(missing) > 0 {
		q.log.Info("bootstrap cells queued", "cells", len(missing), "refill", refill)
	}
}

func (q *AutoQuest) bootstrapTask(ctx context.Context) *model.Task {
	if !q.cfg.Bootstrap {
		return nil
	}
	if q.boot.canRefill() {
		q.fillBootstrap(ctx, true)
	}
	at, ok := q.boot.pop(BootstrapScanRadius)
	if !ok {
		return nil
	}
	return q.task(model.ActionScanRaid, at)
}

// TakeReservation hands out the account fetched for uuid at its last
// account switch.
func (q *AutoQuest) TakeReservation(uuid string) (string, bool) { return q.reserved.take(uuid) }

func (q *AutoQuest) resolveAccount(ctx context.Context, req model.TaskRequest) *model.Account {
	if name, ok := q.reserved.take(req.UUID); ok && req.AccountName() == "" {
		req.Username = name
	}
	return q.account(ctx, req)
}

func (q *AutoQuest) deviceMode(uuid string) (model.QuestMode, bool) {
	q.modeMu.Lock()
	defer q.modeMu.Unlock()
	m, ok := q.lastMode[uuid]
	return m, ok
}

func (q *AutoQuest) forgetDeviceMode(uuid string) {
	q.modeMu.Lock()
	delete(q.lastMode, uuid)
	q.modeMu.Unlock()
}

func (q *AutoQuest) setDeviceMode(uuid string, mode model.QuestMode) {
	q.modeMu.Lock()
	q.lastMode[uuid] = mode
	q.modeMu.Unlock()
}

// claim removes and returns the entry the device should visit next.
func (q *AutoQuest) claim(uuid string, from geo.Coord, hasFrom bool) (questEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	best, bestD := -1, 0.0
	for i, e := range q.pending {
		if q.exhausted(e) {
			continue
		}
		d := 0.0
		if hasFrom {
			d = from.Distance(e.stop.Coord())
		}
		if best < 0 || d < bestD {
			best, bestD = i, d
		}
	}
	if best < 0 {
		return questEntry{}, false
	}
	if last, ok := q.deviceMode(uuid); ok && hasFrom && q.pending[best].mode != last {
		alt, altD := -1, 0.0
		for i, e := range q.pending {
			if e.mode != last || q.exhausted(e) {
				continue
			}
			d := from.Distance(e.stop.Coord())
			if d <= ModeSwitchProximity && (alt < 0 || d < altD) {
				alt, altD = i, d
			}
		}
		if alt >= 0 {
			best = alt
		}
	}
	e := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	return e, true
}

// requeue puts a claimed entry back. Entries claimed before a Reload are
// dropped, and an entry already pending is not added twice.
func (q *AutoQuest) requeue(e questEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e.gen != q.gen {
		return
	}
	for _, p := range q.pending {
		if p.key() == e.key() {
			return
		}
	}
	q.pending = append(q.pending, e)
}

func (q *AutoQuest) fresh(ctx context.Context, id string) (model.Pokestop, bool, error) {
	sctx, cancel := q.storageCtx(ctx)
	defer cancel()
	stops, err := q.deps.Store.PokestopsByIDs(sctx, []string{id})
	if err != nil || len(stops) == 0 {
		return model.Pokestop{}, false, err
	}
	return stops[0], true, nil
}

func (q *AutoQuest) GetTask(ctx context.Context, req model.TaskRequest) *model.Task {
	if req.IsStartup {
		// A restarted device has no game state left from its last mode.
		q.forgetDeviceMode(req.UUID)
	}
	if t := q.bootstrapTask(ctx); t != nil {
		return t
	}
	account := q.resolveAccount(ctx, req)
	if account == nil && q.cfg.RequireAccount {
		return q.empty("no account for device", "uuid", req.UUID)
	}
	from, hasFrom := q.deps.Cooldown.LastKnownLocation(ctx, account, req.UUID)

	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		e, ok := q.claim(req.UUID, from, hasFrom)
		if !ok {
			q.checkCompletion(ctx)
			return q.empty("no pending pokestops", "uuid", req.UUID)
		}
		stop, found, err := q.fresh(ctx, e.stop.ID)
		if err != nil {
			q.requeue(e)
			q.storageErr("pokestops_by_ids", err)
			return nil
		}
		if !found {
			// Counted as an attempt so a stop deleted from storage is
			// eventually skipped.
			q.spins.inc(e.key())
			q.requeue(e)
			q.log.Warn("pokestop vanished before dispatch", "pokestop", e.stop.ID)
			return nil
		}
		if stop.HasQuest(e.mode) {
			q.log.Debug("quest already found, skipping", "pokestop", stop.ID, "mode", e.mode)
			continue
		}
		e.stop = stop
		return q.dispatch(ctx, req, account, e)
	}
	return nil
}

func (q *AutoQuest) dispatch(ctx context.Context, req model.TaskRequest, account *model.Account, e questEntry) *model.Task {
	at := e.stop.Coord()
	sctx, cancel := q.storageCtx(ctx)
	defer cancel()
	delay, encounterTS, err := q.deps.Cooldown.ComputeCooldown(sctx, account, req.UUID, at)
	if err != nil {
		q.requeue(e)
		q.log.Error("cooldown failed", "uuid", req.UUID, "pokestop", e.stop.ID, "err", err)
		return nil
	}
	if q.cfg.LogoutDelay > 0 && delay >= q.cfg.LogoutDelay {
		q.requeue(e)
		t := q.task(model.ActionSwitchAccount, at)
		t.Username = q.reserveNext(sctx, req.UUID)
		q.log.Info("cooldown exceeds logout delay, switching account", "uuid", req.UUID, "delay", delay)
		return t
	}
	if err := q.deps.Cooldown.RecordEncounter(sctx, account, req.UUID, at, encounterTS); err != nil {
		q.log.Error("record encounter", "uuid", req.UUID, "err", err)
	}
	if account != nil {
		if err := q.deps.Cooldown.IncrementSpinCount(sctx, account.Username); err != nil {
			q.log.Error("increment spin count", "username", account.Username, "err", err)
		}
	}
	q.spins.inc(e.key())
	q.setDeviceMode(req.UUID, e.mode)

	t := q.task(model.ActionScanQuest, at)
	t.Delay = delay
	t.QuestType = e.mode
	q.mu.Lock()
	left := len(q.pending)
	q.mu.Unlock()
	metrics.QueueDepth.WithLabelValues(q.cfg.Name).Set(float64(left))
	q.log.Debug("quest task", "uuid", req.UUID, "pokestop", e.stop.ID, "mode", e.mode, "delay", delay)
	return t
}

// reserveNext pre-fetches the account uuid should log in with next.
func (q *AutoQuest) reserveNext(ctx context.Context, uuid string) string {
	a, err := q.deps.Store.NextAccount(ctx, q.cfg.MinLevel, q.cfg.MaxLevel)
	switch {
	case errors.Is(err, store.ErrNoAccount):
		q.log.Warn("no account to switch to", "uuid", uuid)
		return ""
	case err != nil:
		q.storageErr("next_account", err)
		return ""
	}
	q.reserved.put(uuid, a.Username)
	return a.Username
}

func (q *AutoQuest) hasLivePending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.pending {
		if !q.exhausted(e) {
			return true
		}
	}
	return false
}

// checkCompletion verifies against storage, at most once per throttle
// window, that every stop has its quest. Unfinished stops go back into the
// pending list; otherwise the completion is recorded once.
func (q *AutoQuest) checkCompletion(ctx context.Context) {
	if q.hasLivePending() {
		return
	}
	now := q.now()
	if !q.done.tryCheck(now) {
		return
	}
	q.mu.Lock()
	ids := make([]string, len(q.all))
	for i, s := range q.all {
		ids[i] = s.ID
	}
	q.mu.Unlock()

	sctx, cancel := q.storageCtx(ctx)
	stops, err := q.deps.Store.PokestopsByIDs(sctx, ids)
	cancel()
	if err != nil {
		q.storageErr("pokestops_by_ids", err)
		return
	}
	missing := q.entriesFor(stops, true)
	if len(missing) > 0 {
		q.mu.Lock()
		queued := make(map[string]struct{}, len(q.pending))
		for _, e := range q.pending {
			queued[e.key()] = struct{}{}
		}
		for _, e := range missing {
			if _, ok := queued[e.key()]; !ok {
				e.gen = q.gen
				q.pending = append(q.pending, e)
			}
		}
		q.mu.Unlock()
		q.log.Info("quests still missing after verification", "pokestops", len(missing))
		return
	}
	if q.done.markComplete(now) {
		q.complete(now)
	}
}

func (q *AutoQuest) GetStatus(ctx context.Context) string {
	q.checkCompletion(ctx)
	if n := q.boot.size(); n > 0 {
		return fmt.Sprintf("Bootstrapping: queued cells %d", n)
	}
	if at, ok := q.done.completed(); ok {
		return "Completed at " + at.In(q.loc).Format("15:04")
	}
	q.mu.Lock()
	total, left := q.total, len(q.pending)
	q.mu.Unlock()
	if total == 0 {
		return "No pokestops in area"
	}
	done := total - left
	return fmt.Sprintf("Done: %d/%d (%.1f%%)", done, total, float64(done)*100/float64(total))
}

func (q *AutoQuest) scheduleReset() {
	q.timerMu.Lock()
	defer q.timerMu.Unlock()
	if q.stopped {
		return
	}
	now := q.now().In(q.loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, q.loc)
	q.timer = q.deps.Clock.AfterFunc(midnight.Sub(now), q.onMidnight)
}

func (q *AutoQuest) onMidnight() {
	q.resetMu.Lock()
	q.timerMu.Lock()
	stopped := q.stopped
	q.timerMu.Unlock()
	if stopped {
		q.resetMu.Unlock()
		return
	}
	q.guard("midnight_reset", func() { q.MidnightReset(context.Background()) })
	q.resetMu.Unlock()
	q.scheduleReset()
}

// MidnightReset clears the quests of every stop in the area and starts a
// new cycle.
func (q *AutoQuest) MidnightReset(ctx context.Context) {
	q.mu.Lock()
	ids := make([]string, len(q.all))
	for i, s := range q.all {
		ids[i] = s.ID
	}
	q.mu.Unlock()
	sctx, cancel := q.storageCtx(ctx)
	err := q.deps.Store.ClearQuests(sctx, ids)
	cancel()
	if err != nil {
		q.storageErr("clear_quests", err)
	}
	q.Reload(ctx)
	q.log.Info("daily quest reset", "pokestops", len(ids))
}

// Stop cancels the midnight timer and waits for a reset already running.
// Safe to call more than once.
func (q *AutoQuest) Stop() {
	q.timerMu.Lock()
	q.stopped = true
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timerMu.Unlock()
	q.resetMu.Lock()
	defer q.resetMu.Unlock()
}
