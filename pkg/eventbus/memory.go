package eventbus

import (
	"context"
	"sync"
	"time"
)

// MemoryBus delivers events synchronously to subscribers in this process.
type MemoryBus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[uint64]Handler)}
}

func (b *MemoryBus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[uint64]Handler)
	}
	b.subs[topic][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[topic], id)
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
}

func (b *MemoryBus) Publish(_ context.Context, topic string, e Event) error {
	e.Topic = topic
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	// Copy handlers so a handler may unsubscribe without deadlocking.
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]map[uint64]Handler)
	return nil
}
