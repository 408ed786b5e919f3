// Package cooldown computes how long an account must wait before it may
// act at a new location, given where and when it last acted.
package cooldown

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scanbrain/internal/clock"
	"scanbrain/internal/geo"
	"scanbrain/internal/model"
	"scanbrain/internal/store"
)

// Service is the collaborator controllers consult before dispatching.
type Service interface {
	ComputeCooldown(ctx context.Context, account *model.Account, uuid string, dest geo.Coord) (delay float64, encounterTS int64, err error)
	RecordEncounter(ctx context.Context, account *model.Account, uuid string, dest geo.Coord, encounterTS int64) error
	IncrementSpinCount(ctx context.Context, username string) error
	LastKnownLocation(ctx context.Context, account *model.Account, uuid string) (geo.Coord, bool)
}

type step struct {
	km      float64
	minutes float64
}

// table maps travel distance to required wait. Distances above the last
// step use its wait.
var table = []step{
	{1, 1}, {5, 2}, {10, 6}, {25, 11}, {30, 14}, {65, 22}, {81, 25},
	{100, 35}, {250, 45}, {500, 60}, {750, 80}, {1000, 100}, {1500, 120},
}

// Duration returns the cooldown for a jump of distanceM meters.
func Duration(distanceM float64) time.Duration {
	km := distanceM / 1000
	if km <= 0 {
		return 0
	}
	for _, s := range table {
		if km <= s.km {
			return time.Duration(s.minutes * float64(time.Minute))
		}
	}
	return time.Duration(table[len(table)-1].minutes * float64(time.Minute))
}

type sighting struct {
	at geo.Coord
	ts int64
}

// Tracker implements Service on top of the account rows in storage. Devices
// without an account fall back to the last location dispatched to them.
type Tracker struct {
	store  store.Store
	clock  clock.Clock
	logger *slog.Logger

	mu     sync.Mutex
	byUUID map[string]sighting
}

var _ Service = (*Tracker)(nil)

func New(s store.Store, clk clock.Clock, logger *slog.Logger) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: s, clock: clk, logger: logger.With("component", "cooldown"), byUUID: map[string]sighting{}}
}

func (t *Tracker) last(account *model.Account, uuid string) (sighting, bool) {
	if account != nil {
		if at, ok := account.LastEncounter(); ok && account.LastEncounterTime != nil {
			return sighting{at: at, ts: *account.LastEncounterTime}, true
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byUUID[uuid]
	return s, ok
}

func (t *Tracker) ComputeCooldown(ctx context.Context, account *model.Account, uuid string, dest geo.Coord) (float64, int64, error) {
	now := t.clock.Now().Unix()
	prev, ok := t.last(account, uuid)
	if !ok {
		return 0, now, nil
	}
	wait := Duration(prev.at.Distance(dest)).Seconds()
	elapsed := float64(now - prev.ts)
	delay := wait - elapsed
	if delay < 0 {
		delay = 0
	}
	return delay, now + int64(delay), nil
}

func (t *Tracker) RecordEncounter(ctx context.Context, account *model.Account, uuid string, dest geo.Coord, encounterTS int64) error {
	t.mu.Lock()
	t.byUUID[uuid] = sighting{at: dest, ts: encounterTS}
	t.mu.Unlock()
	if account == nil || account.Username == "" {
		return nil
	}
	lat, lon := dest.Lat, dest.Lon
	account.LastEncounterLat, account.LastEncounterLon, account.LastEncounterTime = &lat, &lon, &encounterTS
	if err := t.store.UpdateAccountEncounter(ctx, account.Username, dest, encounterTS); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

func (t *Tracker) IncrementSpinCount(ctx context.Context, username string) error {
	if username == "" {
		return nil
	}
	err := t.store.IncrementAccountSpins(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		t.logger.Warn("spin for unknown account", "username", username)
		return nil
	}
	return err
}

func (t *Tracker) LastKnownLocation(ctx context.Context, account *model.Account, uuid string) (geo.Coord, bool) {
	s, ok := t.last(account, uuid)
	return s.at, ok
}
