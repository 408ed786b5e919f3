package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker over Redis Pub/Sub so several brain
// processes share one completion stream.
type RedisBroker struct {
	rdb    *redis.Client
	logger *slog.Logger

	mu   sync.Mutex
	subs map[chan Completion]*redis.PubSub
}

var _ Broker = (*RedisBroker)(nil)

func NewRedisBroker(url string, logger *slog.Logger) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBroker{
		rdb:    redis.NewClient(opt),
		logger: logger.With("component", "redis_broker"),
		subs:   map[chan Completion]*redis.PubSub{},
	}, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func (b *RedisBroker) Subscribe(instance string) chan Completion {
	ch := make(chan Completion, 16)
	ctx := context.Background()
	var ps *redis.PubSub
	if instance == All {
		ps = b.rdb.PSubscribe(ctx, channelName(All))
	} else {
		ps = b.rdb.Subscribe(ctx, channelName(instance))
	}
	// initial consume to ensure subscription
	if _, err := ps.Receive(ctx); err != nil {
		b.logger.Warn("redis subscribe", "instance", instance, "err", err)
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt Completion
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.logger.Warn("redis payload", "channel", msg.Channel, "err", err)
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

// Unsubscribe closes the underlying PubSub; the forwarding goroutine then
// closes ch.
func (b *RedisBroker) Unsubscribe(instance string, ch chan Completion) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(evt Completion) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		b.logger.Error("marshal completion", "err", err)
		return
	}
	if err := b.rdb.Publish(ctx, channelName(evt.Instance), data).Err(); err != nil {
		b.logger.Error("redis publish", "instance", evt.Instance, "err", err)
	}
}

func (b *RedisBroker) Close() error { return b.rdb.Close() }

func channelName(instance string) string { return "instance:" + instance }
