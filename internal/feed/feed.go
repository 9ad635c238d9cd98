// Package feed fans delivery events out to live subscribers, one topic per
// tenant.
package feed

import "sync"

// Event is one message on a tenant's feed.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const TypeDeliveryAttempted = "delivery.attempted"

// Broker implementations must not block in Publish; it runs inside the
// delivery path.
type Broker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(topic string, evt Event)
}

// Memory is an in-process broker. Slow subscribers miss events rather than
// block publishers.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // topic -> set of channels
}

func NewMemory() *Memory {
	return &Memory{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Memory) Subscribe(topic string) chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Memory) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[topic]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, topic)
	}
	close(ch)
}

func (b *Memory) Publish(topic string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Subscribe(string) chan Event    { return make(chan Event) }
func (Nop) Unsubscribe(string, chan Event) {}
func (Nop) Publish(string, Event)          {}
