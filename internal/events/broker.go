package events

import (
	"sync"
)

// MemoryBroker is the single-process Broker.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan Completion]struct{} // instance -> set of channels
}

var _ Broker = (*MemoryBroker)(nil)

func NewBroker() *MemoryBroker {
	return &MemoryBroker{subs: map[string]map[chan Completion]struct{}{}}
}

func (b *MemoryBroker) Subscribe(instance string) chan Completion {
	ch := make(chan Completion, 8)
	b.mu.Lock()
	if b.subs[instance] == nil {
		b.subs[instance] = map[chan Completion]struct{}{}
	}
	b.subs[instance][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *MemoryBroker) Unsubscribe(instance string, ch chan Completion) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[instance]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, instance)
	}
	close(ch)
}

// Publish never blocks; slow subscribers miss events.
func (b *MemoryBroker) Publish(evt Completion) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, key := range []string{evt.Instance, All} {
		for ch := range b.subs[key] {
			select {
			case ch <- evt:
			default:
			}
		}
	}
}
