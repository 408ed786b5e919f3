package controller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"scanbrain/internal/model"
)

const (
	hammerDevices = 4
	hammerRounds  = 200
)

// hammer runs every fn hammerRounds times, each in its own goroutine, and
// waits for all of them.
func hammer(fns ...func(i int)) {
	var wg sync.WaitGroup
	for _, fn := range fns {
		wg.Add(1)
		go func(fn func(int)) {
			defer wg.Done()
			for i := 0; i < hammerRounds; i++ {
				fn(i)
			}
		}(fn)
	}
	wg.Wait()
}

func deviceLoops(get func(ctx context.Context, req model.TaskRequest) *model.Task) []func(int) {
	ctx := context.Background()
	out := make([]func(int), hammerDevices)
	for d := range out {
		uuid := fmt.Sprintf("dev-%d", d)
		out[d] = func(i int) {
			get(ctx, model.TaskRequest{UUID: uuid, IsStartup: i == 0})
		}
	}
	return out
}

func TestAutoQuestConcurrentAccess(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 20; i++ {
		f.store.UpsertPokestops(stopAt(fmt.Sprintf("s%02d", i), float64(i*100)))
	}
	cfg := questConfig()
	cfg.QuestMode = model.QuestBoth
	q := newQuest(t, f, cfg)
	ctx := context.Background()

	fns := deviceLoops(q.GetTask)
	fns = append(fns,
		func(i int) {
			if i%10 == 0 {
				q.Reload(ctx)
			}
		},
		func(i int) {
			if i%50 == 0 {
				q.MidnightReset(ctx)
			}
		},
		func(int) { assert.NotContains(t, q.GetStatus(ctx), "-") },
	)
	hammer(fns...)

	q.mu.Lock()
	defer q.mu.Unlock()
	seen := map[string]struct{}{}
	for _, e := range q.pending {
		_, dup := seen[e.key()]
		assert.False(t, dup, "duplicate pending entry %s", e.key())
		seen[e.key()] = struct{}{}
		assert.Equal(t, q.gen, e.gen, "pending entry from an old working set")
	}
	assert.LessOrEqual(t, len(q.pending), q.total)
}

func TestCircleConcurrentAccess(t *testing.T) {
	for _, mode := range []model.RouteMode{model.RouteSplit, model.RouteSmart} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t)
			c := NewCircle(model.InstanceConfig{
				Name:      "circle",
				Kind:      model.KindCirclePokemon,
				Points:    line(7),
				RouteMode: mode,
			}, f.deps())
			t.Cleanup(c.Stop)
			ctx := context.Background()

			fns := deviceLoops(c.GetTask)
			fns = append(fns,
				func(i int) {
					if i%20 == 0 {
						c.Reload(ctx)
					}
				},
				func(int) { c.GetStatus(ctx) },
				func(int) { f.clock.Advance(time.Second) },
			)
			hammer(fns...)

			r := c.route
			r.mu.Lock()
			defer r.mu.Unlock()
			n := len(r.coords)
			assert.GreaterOrEqual(t, r.cursor, 0)
			assert.Less(t, r.cursor, n)
			for uuid, d := range r.devices {
				assert.GreaterOrEqual(t, d.index, 0, uuid)
				assert.Less(t, d.index, n, uuid)
			}
		})
	}
}

func TestSmartRaidConcurrentAccess(t *testing.T) {
	f := newFixture(t)
	var gyms []model.Gym
	for i := 0; i < 5; i++ {
		gyms = append(gyms, model.Gym{ID: fmt.Sprintf("g%d", i), Lat: 51.5 + float64(i)*0.01, Lon: -0.12})
	}
	f.store.UpsertGyms(gyms...)
	r := newRaid(t, f, gyms[0].Coord(), gyms[2].Coord(), gyms[4].Coord())
	ctx := context.Background()

	fns := deviceLoops(r.GetTask)
	fns = append(fns,
		func(i int) {
			if i%20 == 0 {
				r.Reload(ctx)
			}
		},
		func(int) { r.GetStatus(ctx) },
		func(i int) {
			if i%5 == 0 {
				f.clock.Advance(RaidRefreshInterval)
			}
		},
		func(i int) {
			g := gyms[i%len(gyms)]
			g.RaidEndTimestamp = int64p(epoch.Unix() + int64(i))
			f.store.UpsertGyms(g)
		},
	)
	hammer(fns...)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.points {
		for _, id := range p.gymIDs {
			_, ok := r.gyms[id]
			assert.True(t, ok, "point gym %s not tracked", id)
		}
	}
}

func TestIVQueueConcurrentAccess(t *testing.T) {
	f := newFixture(t)
	const limit = 5
	q := newIV(t, f, limit)
	ctx := context.Background()

	fns := deviceLoops(q.GetTask)
	fns = append(fns,
		func(i int) { q.GotPokemon(mon(fmt.Sprintf("m%d", i%12), 1+3*(i%3), epoch)) },
		func(int) { q.CheckHistory(ctx) },
		func(i int) {
			if i%25 == 0 {
				q.Reload(ctx)
			}
		},
		func(int) { q.GetStatus(ctx) },
		func(int) { f.clock.Advance(10 * time.Second) },
	)
	hammer(fns...)

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.LessOrEqual(t, len(q.queue), limit)
	seen := map[string]struct{}{}
	for _, p := range q.queue {
		_, dup := seen[p.ID]
		assert.False(t, dup, "pokemon %s queued twice", p.ID)
		seen[p.ID] = struct{}{}
	}
}
