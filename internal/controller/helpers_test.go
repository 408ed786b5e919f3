package controller

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"scanbrain/internal/clock"
	"scanbrain/internal/events"
	"scanbrain/internal/geo"
	"scanbrain/internal/model"
	"scanbrain/internal/store"
)

var epoch = time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)

// stubCooldown returns a fixed delay and a fixed device location.
type stubCooldown struct {
	mu       sync.Mutex
	delay    float64
	err      error
	location *geo.Coord
	spins    map[string]int
}

func (s *stubCooldown) ComputeCooldown(ctx context.Context, account *model.Account, uuid string, dest geo.Coord) (float64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay, 0, s.err
}

func (s *stubCooldown) RecordEncounter(ctx context.Context, account *model.Account, uuid string, dest geo.Coord, ts int64) error {
	return nil
}

func (s *stubCooldown) IncrementSpinCount(ctx context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.spins == nil {
		s.spins = map[string]int{}
	}
	s.spins[username]++
	return nil
}

func (s *stubCooldown) LastKnownLocation(ctx context.Context, account *model.Account, uuid string) (geo.Coord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.location == nil {
		return geo.Coord{}, false
	}
	return *s.location, true
}

// completions collects completion events.
type completions struct {
	mu  sync.Mutex
	got []events.Completion
}

func (c *completions) add(e events.Completion) {
	c.mu.Lock()
	c.got = append(c.got, e)
	c.mu.Unlock()
}

func (c *completions) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.got)
}

type fixture struct {
	store *store.Memory
	clock *clock.FakeClock
	cool  *stubCooldown
	done  *completions
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		store: store.NewMemory(),
		clock: clock.Fake(epoch),
		cool:  &stubCooldown{},
		done:  &completions{},
	}
}

func (f *fixture) deps() Deps {
	return Deps{
		Store:      f.store,
		Geo:        geo.NewPlanner(),
		Cooldown:   f.cool,
		Clock:      f.clock,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Rand:       rand.New(rand.NewSource(1)),
		OnComplete: f.done.add,
	}
}

// square returns a closed polygon of side 2*half degrees around center.
func square(center geo.Coord, half float64) geo.Polygon {
	return geo.Polygon{
		{Lat: center.Lat - half, Lon: center.Lon - half},
		{Lat: center.Lat - half, Lon: center.Lon + half},
		{Lat: center.Lat + half, Lon: center.Lon + half},
		{Lat: center.Lat + half, Lon: center.Lon - half},
		{Lat: center.Lat - half, Lon: center.Lon - half},
	}
}

func intp(v int) *int       { return &v }
func int64p(v int64) *int64 { return &v }
