// Package eventbus fans typed events out to in-process subscribers.
package eventbus

import (
	"sync"

	"furitingoasis/soilstation/internal/logger"
)

type entry[T any] struct {
	id uint64
	fn func(T)
}

// Bus delivers each published event to every handler registered at the time
// of the publish, in registration order. Publishes are serialized, so a
// handler sees events in publish order and never two at once.
type Bus[T any] struct {
	name string
	log  *logger.Logger

	publishMu sync.Mutex

	mu       sync.Mutex
	nextID   uint64
	handlers []entry[T]
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe removes the handler. Safe to call more than once and from
// inside the handler itself.
func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

func New[T any](name string, log *logger.Logger) *Bus[T] {
	return &Bus[T]{name: name, log: log.Named(name)}
}

func (b *Bus[T]) Subscribe(fn func(T)) *Subscription {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, entry[T]{id: id, fn: fn})
	b.mu.Unlock()

	return &Subscription{cancel: func() { b.remove(id) }}
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h.id == id {
			b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Len reports the number of registered handlers.
func (b *Bus[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

// Publish runs every handler with ev and returns once all of them are done.
func (b *Bus[T]) Publish(ev T) {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	b.mu.Lock()
	snapshot := make([]entry[T], len(b.handlers))
	copy(snapshot, b.handlers)
	b.mu.Unlock()

	for _, h := range snapshot {
		b.call(h, ev)
	}
}

func (b *Bus[T]) call(h entry[T], ev T) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("handler panicked", "handler", h.id, "panic", r)
		}
	}()
	h.fn(ev)
}
