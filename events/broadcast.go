package events

import (
	"log"
	"sync"
)

// Broadcaster fans events out to in-process subscribers.
// A subscriber whose buffer is full misses the event rather than stalling the engine.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	buffer      int
}

func NewBroadcaster(buffer int) *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int]chan Event),
		buffer:      buffer,
	}
}

// Subscribe returns a channel of future events and a cancel func that closes it.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

func (b *Broadcaster) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			log.Printf("WARNING: Subscriber %d is slow, dropped %s event %s", id, ev.Kind, ev.ID)
		}
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
