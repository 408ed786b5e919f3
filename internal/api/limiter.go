package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// bucketIdle is how long a device may stay silent before its bucket is
// dropped. A dropped bucket comes back full, which an idle device would
// have refilled to anyway.
const bucketIdle = 10 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// pollLimiter keeps one token bucket per device uuid.
type pollLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

func newPollLimiter(perSecond float64, burst int) *pollLimiter {
	l := rate.Limit(perSecond)
	if perSecond <= 0 {
		l = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &pollLimiter{limit: l, burst: burst, buckets: map[string]*bucket{}}
}

func (p *pollLimiter) allow(uuid string, now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.lastPrune) >= bucketIdle {
		p.prune(now)
	}
	b, ok := p.buckets[uuid]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(p.limit, p.burst)}
		p.buckets[uuid] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// prune drops buckets idle for bucketIdle. Callers hold mu.
func (p *pollLimiter) prune(now time.Time) {
	for uuid, b := range p.buckets {
		if now.Sub(b.seen) >= bucketIdle {
			delete(p.buckets, uuid)
		}
	}
	p.lastPrune = now
}

func (p *pollLimiter) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buckets)
}
