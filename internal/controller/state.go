package controller

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"scanbrain/internal/geo"
)

const (
	spinCounterMax   = 255
	spinCounterFloor = 10
)

// spinCounter counts dispatch attempts per work item key. At the counter's
// maximum it drops back to a floor instead of wrapping.
type spinCounter struct {
	mu     sync.Mutex
	counts map[string]uint8
}

func newSpinCounter() *spinCounter { return &spinCounter{counts: map[string]uint8{}} }

func (s *spinCounter) inc(key string) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.counts[key]
	if v == spinCounterMax {
		v = spinCounterFloor
	} else {
		v++
	}
	s.counts[key] = v
	return v
}

func (s *spinCounter) get(key string) uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[key]
}

func (s *spinCounter) clear() {
	s.mu.Lock()
	s.counts = map[string]uint8{}
	s.mu.Unlock()
}

// reservations maps a device to an account fetched ahead of an account
// switch. Taking a reservation removes it.
type reservations struct {
	mu    sync.Mutex
	names map[string]string
}

func newReservations() *reservations { return &reservations{names: map[string]string{}} }

func (r *reservations) put(uuid, username string) {
	r.mu.Lock()
	r.names[uuid] = username
	r.mu.Unlock()
}

func (r *reservations) take(uuid string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[uuid]
	delete(r.names, uuid)
	return name, ok
}

// CompletionCheckInterval rate limits re-verification of a finished cycle
// against storage.
const CompletionCheckInterval = 10 * time.Minute

// completionState records when a cycle finished and throttles the
// expensive verification that decides it.
type completionState struct {
	mu          sync.Mutex
	every       time.Duration
	limiter     *rate.Limiter
	completedAt time.Time
	lastChecked time.Time
}

func newCompletionState(now time.Time, every time.Duration) *completionState {
	c := &completionState{every: every}
	c.reset(now)
	return c
}

// reset forgets the completion and starts a fresh throttle window at now.
func (c *completionState) reset(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.limiter = rate.NewLimiter(rate.Every(c.every), 1)
	c.limiter.AllowN(now, 1)
	c.completedAt = time.Time{}
	c.lastChecked = now
}

// tryCheck reports whether a verification may run at now.
func (c *completionState) tryCheck(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.completedAt.IsZero() || !c.limiter.AllowN(now, 1) {
		return false
	}
	c.lastChecked = now
	return true
}

// markComplete records the completion time once. It returns false if the
// cycle was already complete.
func (c *completionState) markComplete(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.completedAt.IsZero() {
		return false
	}
	c.completedAt = now
	return true
}

func (c *completionState) completed() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completedAt, !c.completedAt.IsZero()
}

// BootstrapScanRadius is the area one bootstrap visit is assumed to cover.
const BootstrapScanRadius = 500.0

// bootstrapQueue holds covering cells not yet known to storage.
type bootstrapQueue struct {
	mu       sync.Mutex
	cells    []uint64
	refilled bool
}

func (q *bootstrapQueue) fill(cells []uint64, refill bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cells = append([]uint64(nil), cells...)
	q.refilled = refill
}

func (q *bootstrapQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cells)
}

// canRefill reports whether the queue is empty and has not been refilled
// since the last fill from scratch.
func (q *bootstrapQueue) canRefill() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cells) == 0 && !q.refilled
}

// pop takes the next cell and drops every queued cell whose center lies
// within radiusM of it.
func (q *bootstrapQueue) pop(radiusM float64) (geo.Coord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.cells) == 0 {
		return geo.Coord{}, false
	}
	target := geo.CellCenter(q.cells[0])
	kept := q.cells[:0]
	for _, id := range q.cells[1:] {
		if geo.CellCenter(id).Distance(target) > radiusM {
			kept = append(kept, id)
		}
	}
	q.cells = kept
	return target, true
}
