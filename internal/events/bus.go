// Package events carries job lifecycle signals between components of a
// session, and optionally out to other services.
package events

import (
	"fmt"
	"sync"

	"qc-dashboard/internal/shared/telemetry"
)

// Handler receives published events.
type Handler func(Event)

// Bus is an in-process publish/subscribe hub. Publish never blocks on
// subscribers and a panicking subscriber does not affect the others.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Handler
	wg     sync.WaitGroup
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

// Subscribe registers fn and returns a func that removes it.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers evt to every current subscriber on its own goroutine.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		b.wg.Add(1)
		go b.deliver(fn, evt)
	}
}

func (b *Bus) deliver(fn Handler, evt Event) {
	defer b.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("events.subscriber_panic", map[string]any{
				"event":      string(evt.Type),
				"job_id":     evt.JobID,
				"session_id": evt.SessionID,
				"panic":      fmt.Sprint(r),
			})
		}
	}()
	fn(evt)
}

// Wait blocks until every delivery started so far has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}
