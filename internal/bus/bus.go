package bus

import (
	"strings"
	"sync"
)

// Bus fans events out to in-process subscribers. Delivery is best-effort: a
// subscriber that stops draining its channel loses events rather than
// stalling the publisher. Nothing state-bearing rides on the bus — durable
// state lives in the store and sync paths deliver synchronously; events
// only announce what already happened.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	namespace string
	ch        chan Event
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish delivers evt to every subscriber whose namespace is a prefix of
// evt.Kind. Publish never blocks.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(evt.Kind, sub.namespace) {
			select {
			case sub.ch <- evt:
			default:
				// Subscriber not draining; drop instead of stalling.
			}
		}
	}
}

// Subscribe registers interest in every event whose Kind starts with
// namespace ("push." matches push.queued and push.sent; "" matches all).
// The channel buffers at most bufSize undelivered events; the returned
// function removes the subscription.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{namespace: namespace, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
