package controller

import (
	"fmt"
	"math"
	"sync"
	"time"

	"scanbrain/internal/geo"
	"scanbrain/internal/model"
)

// Spacing constants for the split and smart policies. They are empirically
// tuned and exported so deployments can calibrate them.
var (
	SplitSpacingProbability = 0.05
	SmartSpacingProbability = 0.15
	HoldBackRatio           = 0.5
	SmartJumpFactor         = 0.25
	DeviceTimeout           = 60 * time.Second
)

type deviceCursor struct {
	index         int
	jump          int
	firstSeen     time.Time
	lastSeen      time.Time
	prevCompleted time.Time
	lastCompleted time.Time
	laps          int
}

// roundTime is the duration of the device's most recent full lap.
func (d *deviceCursor) roundTime() (time.Duration, bool) {
	if d.lastCompleted.IsZero() {
		return 0, false
	}
	from := d.prevCompleted
	if from.IsZero() {
		from = d.firstSeen
	}
	return d.lastCompleted.Sub(from), true
}

// step is one advancement of a cursor.
type step struct {
	coord   geo.Coord
	index   int
	wrapped bool
}

// routeState walks an ordered coordinate list under one of the three
// advancement policies. Leapfrog keeps a single shared cursor; split and
// smart keep one cursor per device.
type routeState struct {
	mode model.RouteMode
	rng  *lockedRand

	mu      sync.Mutex
	coords  []geo.Coord
	cursor  int
	global  deviceCursor
	devices map[string]*deviceCursor
}

func newRouteState(mode model.RouteMode, rng *lockedRand, coords []geo.Coord, now time.Time) *routeState {
	if mode == "" {
		mode = model.RouteLeapfrog
	}
	r := &routeState{mode: mode, rng: rng}
	r.reset(coords, now)
	return r
}

// reset swaps in a new coordinate list and forgets every cursor.
func (r *routeState) reset(coords []geo.Coord, now time.Time) {
	cp := append([]geo.Coord(nil), coords...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coords = cp
	r.cursor = 0
	r.global = deviceCursor{firstSeen: now}
	r.devices = map[string]*deviceCursor{}
}

// replace swaps in a new coordinate list for the next lap, keeping lap
// bookkeeping.
func (r *routeState) replace(coords []geo.Coord) {
	cp := append([]geo.Coord(nil), coords...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coords = cp
	r.cursor = 0
	r.devices = map[string]*deviceCursor{}
}

// position returns the shared cursor.
func (r *routeState) position() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

func (r *routeState) length() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.coords)
}

// laps returns the number of completed laps of the shared cursor.
func (r *routeState) laps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.global.laps
}

// next returns the coordinate for uuid and advances its cursor. ok is false
// when the route is empty.
func (r *routeState) next(uuid string, now time.Time) (step, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.coords)
	if n == 0 {
		return step{}, false
	}
	if r.mode == model.RouteLeapfrog {
		return r.leapfrog(n, now), true
	}
	r.prune(uuid, now)
	d, ok := r.devices[uuid]
	if !ok {
		d = &deviceCursor{index: r.rng.Intn(n), jump: 1, firstSeen: now, lastSeen: now}
		r.devices[uuid] = d
		return step{coord: r.coords[d.index], index: d.index}, true
	}
	d.lastSeen = now
	d.index %= n

	var advance int
	if r.mode == model.RouteSmart {
		advance = r.smartAdvance(uuid, d, n)
	} else {
		advance = r.splitAdvance(uuid, d, n)
	}
	next := d.index + advance
	wrapped := false
	if next >= n {
		next %= n
		wrapped = true
		d.prevCompleted, d.lastCompleted = d.lastCompleted, now
		d.laps++
	}
	d.index = next
	return step{coord: r.coords[next], index: next, wrapped: wrapped}, true
}

func (r *routeState) leapfrog(n int, now time.Time) step {
	r.cursor %= n
	st := step{coord: r.coords[r.cursor], index: r.cursor}
	r.cursor++
	if r.cursor >= n {
		r.cursor = 0
		r.global.prevCompleted, r.global.lastCompleted = r.global.lastCompleted, now
		r.global.laps++
		st.wrapped = true
	}
	return st
}

// splitAdvance returns +1, or -1 when the device is crowding the one ahead.
// Index 0 always advances.
func (r *routeState) splitAdvance(uuid string, d *deviceCursor, n int) int {
	if d.index == 0 || r.rng.Float64() >= SplitSpacingProbability {
		return 1
	}
	gap, live := r.forwardGap(uuid, d, n)
	if live < 2 {
		return 1
	}
	ideal := float64(n) / float64(live)
	if float64(gap) < HoldBackRatio*ideal {
		return -1
	}
	return 1
}

// smartAdvance jumps further ahead the more room there is in front of the
// device. The jump is recomputed occasionally and cached in between.
func (r *routeState) smartAdvance(uuid string, d *deviceCursor, n int) int {
	if r.rng.Float64() < SmartSpacingProbability {
		gap, live := r.forwardGap(uuid, d, n)
		d.jump = smartJump(gap, live, n)
	}
	if d.jump < 1 {
		return 1
	}
	return d.jump
}

func smartJump(gap, live, n int) int {
	if live < 2 {
		return 1
	}
	ideal := float64(n) / float64(live)
	if float64(gap) <= ideal {
		return 1
	}
	jump := 1 + int(math.Round((float64(gap)-ideal)*SmartJumpFactor))
	limit := n / (4 * live)
	if limit < 1 {
		limit = 1
	}
	if jump > limit {
		jump = limit
	}
	return jump
}

// forwardGap returns the route distance to the nearest live device ahead
// and the number of live devices including this one.
func (r *routeState) forwardGap(uuid string, d *deviceCursor, n int) (int, int) {
	gap := n
	for id, other := range r.devices {
		if id == uuid {
			continue
		}
		g := ((other.index%n)-d.index+n) % n
		if g < gap {
			gap = g
		}
	}
	return gap, len(r.devices)
}

func (r *routeState) prune(uuid string, now time.Time) {
	for id, d := range r.devices {
		if id != uuid && now.Sub(d.lastSeen) > DeviceTimeout {
			delete(r.devices, id)
		}
	}
}

func (r *routeState) status() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.coords)
	if n == 0 {
		return "No coordinates configured"
	}
	if r.mode == model.RouteLeapfrog {
		if rt, ok := r.global.roundTime(); ok {
			return "Round Time: " + formatDuration(rt)
		}
		return fmt.Sprintf("Index: %d/%d", r.cursor, n)
	}
	var total time.Duration
	var completed, indexSum int
	for _, d := range r.devices {
		indexSum += d.index
		if rt, ok := d.roundTime(); ok {
			total += rt
			completed++
		}
	}
	if completed > 0 {
		return "Round Time: " + formatDuration(total/time.Duration(completed))
	}
	if len(r.devices) == 0 {
		return fmt.Sprintf("Index: 0/%d", n)
	}
	return fmt.Sprintf("Index: %d/%d", indexSum/len(r.devices), n)
}

func formatDuration(d time.Duration) string { return d.Round(time.Second).String() }
