package signals

import (
	"slices"
	"sync"
)

// Broadcaster fans a signal out to every registered listener.
type Broadcaster struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func()
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		listeners: make(map[int]func()),
	}
}

func (b *Broadcaster) Subscribe(f func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.listeners[id] = f

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners, id)
	}
}

// Emit calls every listener registered at the time of the call, in
// registration order. Listeners may unsubscribe while being notified.
func (b *Broadcaster) Emit() {
	b.mu.Lock()
	ids := make([]int, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]func(), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, b.listeners[id])
	}
	b.mu.Unlock()

	for _, listener := range listeners {
		listener()
	}
}

func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
