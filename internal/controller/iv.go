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
	DefaultIVQueueLimit = 100
	IVMaxAge            = 600 * time.Second
	ivHistoryLimit      = 100
	ivCheckAfter        = 2 * time.Minute
	ivCheckInterval     = time.Second
)

type ivDispatch struct {
	pokemon model.Pokemon
	at      time.Time
}

// IVQueue encounters freshly seen pokemon of the wanted species so their
// IVs get recorded. Coordinates pushed through ScanNext jump the queue.
type IVQueue struct {
	base
	limit   int
	species map[int]struct{}

	mu    sync.Mutex
	queue []model.Pokemon

	nextMu   sync.Mutex
	scanNext []geo.Coord

	histMu  sync.Mutex
	history []ivDispatch

	statsMu sync.Mutex
	hits    []time.Time

	loop *ticking
}

var (
	_ PokemonReceiver = (*IVQueue)(nil)
	_ ScanNexter      = (*IVQueue)(nil)
)

func NewIVQueue(cfg model.InstanceConfig, deps Deps) *IVQueue {
	q := &IVQueue{base: newBase(cfg, deps), limit: cfg.IVQueueLimit, loop: newTicking()}
	if q.limit <= 0 {
		q.limit = DefaultIVQueueLimit
	}
	q.Reload(context.Background())
	q.loop.run(q.deps.Clock, ivCheckInterval, func() {
		q.guard("iv_history", func() { q.CheckHistory(context.Background()) })
	})
	return q
}

// Reload re-reads the species list and empties the queue.
func (q *IVQueue) Reload(ctx context.Context) {
	species := make(map[int]struct{}, len(q.cfg.IVList))
	for _, id := range q.cfg.IVList {
		species[id] = struct{}{}
	}
	q.mu.Lock()
	q.species = species
	q.queue = nil
	q.mu.Unlock()
	if len(q.cfg.Area) == 0 {
		q.log.Warn("no area configured")
	}
}

// GotPokemon queues p when it is a wanted species inside the area and its
// IVs are unknown.
func (q *IVQueue) GotPokemon(p model.Pokemon) {
	if p.HasIV() {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.species[p.PokemonID]; !ok {
		return
	}
	if !geo.InAny(q.cfg.Area, p.Coord()) {
		return
	}
	for _, queued := range q.queue {
		if queued.ID == p.ID {
			return
		}
	}
	q.queue = append(q.queue, p)
	if len(q.queue) > q.limit {
		q.queue = q.queue[len(q.queue)-q.limit:]
	}
	metrics.QueueDepth.WithLabelValues(q.cfg.Name).Set(float64(len(q.queue)))
}

func (q *IVQueue) ScanNext(coords []geo.Coord) {
	q.nextMu.Lock()
	q.scanNext = append(q.scanNext, coords...)
	q.nextMu.Unlock()
}

func (q *IVQueue) popScanNext() (geo.Coord, bool) {
	q.nextMu.Lock()
	defer q.nextMu.Unlock()
	if len(q.scanNext) == 0 {
		return geo.Coord{}, false
	}
	c := q.scanNext[0]
	q.scanNext = q.scanNext[1:]
	return c, true
}

// pop returns the oldest queued pokemon that is still fresh. Stale ones are
// dropped on the way.
func (q *IVQueue) pop(now time.Time) (model.Pokemon, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.queue) > 0 {
		p := q.queue[0]
		q.queue = q.queue[1:]
		if now.Unix()-p.FirstSeenTimestamp > int64(IVMaxAge/time.Second) {
			q.log.Debug("dropping stale pokemon", "encounter", p.ID)
			continue
		}
		metrics.QueueDepth.WithLabelValues(q.cfg.Name).Set(float64(len(q.queue)))
		return p, true
	}
	metrics.QueueDepth.WithLabelValues(q.cfg.Name).Set(0)
	return model.Pokemon{}, false
}

func (q *IVQueue) GetTask(ctx context.Context, req model.TaskRequest) *model.Task {
	if c, ok := q.popScanNext(); ok {
		return q.task(model.ActionScanPokemon, c)
	}
	now := q.now()
	p, ok := q.pop(now)
	if !ok {
		metrics.EmptyPolls.WithLabelValues(q.cfg.Name).Inc()
		return nil
	}
	q.histMu.Lock()
	q.history = append(q.history, ivDispatch{pokemon: p, at: now})
	if len(q.history) > ivHistoryLimit {
		q.history = q.history[len(q.history)-ivHistoryLimit:]
	}
	q.histMu.Unlock()

	t := q.task(model.ActionScanIV, p.Coord())
	t.EncounterID = p.ID
	t.LureEncounter = p.IsLureEncounter
	t.IsSpawnpoint = p.SpawnID != nil
	return t
}

// CheckHistory looks up dispatched encounters old enough to have been
// scanned and counts whether their IVs arrived.
func (q *IVQueue) CheckHistory(ctx context.Context) {
	now := q.now()
	q.histMu.Lock()
	var due []ivDispatch
	kept := q.history[:0]
	for _, d := range q.history {
		if now.Sub(d.at) >= ivCheckAfter {
			due = append(due, d)
		} else {
			kept = append(kept, d)
		}
	}
	q.history = kept
	q.histMu.Unlock()
	if len(due) == 0 {
		return
	}
	ids := make([]string, len(due))
	for i, d := range due {
		ids[i] = d.pokemon.ID
	}
	sctx, cancel := q.storageCtx(ctx)
	defer cancel()
	found, err := q.deps.Store.PokemonByIDs(sctx, ids)
	if err != nil {
		q.storageErr("pokemon_by_ids", err)
		return
	}
	byID := make(map[string]model.Pokemon, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}
	for _, d := range due {
		p, ok := byID[d.pokemon.ID]
		result := "missing"
		switch {
		case ok && p.HasIV():
			result = "success"
			q.statsMu.Lock()
			q.hits = append(q.hits, now)
			q.statsMu.Unlock()
		case ok:
			result = "no_iv"
		}
		metrics.IVChecks.WithLabelValues(q.cfg.Name, result).Inc()
		if result != "success" {
			q.log.Debug("iv scan not confirmed", "encounter", d.pokemon.ID, "result", result)
		}
	}
}

func (q *IVQueue) ivPerHour(now time.Time) int {
	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	cutoff := now.Add(-time.Hour)
	i := 0
	for i < len(q.hits) && q.hits[i].Before(cutoff) {
		i++
	}
	q.hits = q.hits[i:]
	return len(q.hits)
}

func (q *IVQueue) GetStatus(ctx context.Context) string {
	q.mu.Lock()
	n := len(q.queue)
	q.mu.Unlock()
	return fmt.Sprintf("Queue: %d, IV/h: %d", n, q.ivPerHour(q.now()))
}

// Stop halts the history check loop. Safe to call more than once.
func (q *IVQueue) Stop() { q.loop.halt() }
