package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	publishQueue   = 256
	publishTimeout = 2 * time.Second
)

// Redis implements Broker over Redis Pub/Sub so every API instance sees
// every delivery. Publish only enqueues; one goroutine talks to Redis and
// drops events while the queue is full.
type Redis struct {
	rdb    *redis.Client
	prefix string
	log    *slog.Logger

	mu   sync.Mutex
	subs map[chan Event]*redis.PubSub

	out       chan outbound
	stop      chan struct{}
	done      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
}

type outbound struct {
	channel string
	data    []byte
}

func NewRedis(rdb *redis.Client, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}
	b := &Redis{
		rdb:    rdb,
		prefix: "webhooks:feed:",
		log:    log,
		subs:   map[chan Event]*redis.PubSub{},
		out:    make(chan outbound, publishQueue),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.publishLoop()
	return b
}

func (b *Redis) Subscribe(topic string) chan Event {
	ch := make(chan Event, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(topic))
	// wait for the subscription to be confirmed
	if _, err := ps.Receive(ctx); err != nil {
		b.log.Warn("feed subscribe", "topic", topic, "error", err)
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
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

// Unsubscribe closes the PubSub; the reader goroutine then closes ch.
func (b *Redis) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *Redis) Publish(topic string, evt Event) {
	if b.closed.Load() {
		return
	}
	data, err := json.Marshal(evt)
	if err != nil {
		b.log.Warn("feed encode", "topic", topic, "error", err)
		return
	}
	select {
	case b.out <- outbound{channel: b.chanName(topic), data: data}:
	default:
		b.log.Warn("feed queue full; event dropped", "topic", topic)
	}
}

func (b *Redis) publishLoop() {
	defer close(b.done)
	for {
		select {
		case <-b.stop:
			return
		case m := <-b.out:
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			if err := b.rdb.Publish(ctx, m.channel, m.data).Err(); err != nil {
				b.log.Warn("feed publish", "channel", m.channel, "error", err)
			}
			cancel()
		}
	}
}

// Close stops the publisher; queued events are dropped. It does not close
// the Redis client.
func (b *Redis) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.stop)
	})
	<-b.done
	return nil
}

func (b *Redis) chanName(topic string) string { return b.prefix + topic }
