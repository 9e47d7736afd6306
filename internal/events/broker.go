// Package events fans job lifecycle events out to admin stream subscribers.
package events

import (
	"sync"
)

const (
	JobReceived = "job.received"
	JobSolved   = "job.solved"
	JobAcked    = "job.acked"
	JobRejected = "job.rejected"
)

// All subscribes to every topic.
const All = "*"

type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// EventBroker is satisfied by Broker and RedisBroker. Topics are job correlation ids.
type EventBroker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(topic string, evt Event)
}

// Broker is the in-process EventBroker. Slow subscribers drop events.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{} // topic -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan Event]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan Event {
	ch := make(chan Event, 8)
	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan Event) {
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

func (b *Broker) Publish(topic string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	deliver := func(m map[chan Event]struct{}) {
		for ch := range m {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	deliver(b.subs[topic])
	if topic != All {
		deliver(b.subs[All])
	}
}
