package event

import (
	"reflect"
	"sync"
)

// Bus is a double-buffered event bus. Events emitted in tick N are readable
// in tick N+1. SwapBuffers() is called at tick start by EventDispatchSystem.
//
// Emit may be called from any goroutine (crowd admission runs off the tick
// goroutine); Subscribe, SwapBuffers and DispatchAll belong to the tick loop.
type Bus struct {
	mu       sync.Mutex // handler registration
	backMu   sync.Mutex // back buffer
	front    map[reflect.Type][]any
	back     map[reflect.Type][]any
	handlers map[reflect.Type][]any
	known    map[reflect.Type]bool
	order    []reflect.Type // first-emitted order, keeps dispatch deterministic
}

func NewBus() *Bus {
	return &Bus{
		front:    make(map[reflect.Type][]any),
		back:     make(map[reflect.Type][]any),
		handlers: make(map[reflect.Type][]any),
		known:    make(map[reflect.Type]bool),
	}
}

// Emit queues an event into the back buffer (will be readable next tick).
func Emit[T any](b *Bus, event T) {
	if b == nil {
		return
	}
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.backMu.Lock()
	if !b.known[t] {
		b.known[t] = true
		b.order = append(b.order, t)
	}
	b.back[t] = append(b.back[t], event)
	b.backMu.Unlock()
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := reflect.TypeOf((*T)(nil)).Elem()
	b.handlers[t] = append(b.handlers[t], fn)
}

// SwapBuffers rotates back→front and clears the new back buffer.
// Called once at tick start.
func (b *Bus) SwapBuffers() {
	b.backMu.Lock()
	defer b.backMu.Unlock()
	b.front, b.back = b.back, b.front
	for k := range b.back {
		b.back[k] = b.back[k][:0]
	}
}

// Pending returns how many events are waiting in the back buffer.
func (b *Bus) Pending() int {
	b.backMu.Lock()
	defer b.backMu.Unlock()
	n := 0
	for _, evs := range b.back {
		n += len(evs)
	}
	return n
}

// DispatchAll delivers all front-buffer events to their subscribed handlers.
func (b *Bus) DispatchAll() {
	b.backMu.Lock()
	order := append([]reflect.Type(nil), b.order...)
	b.backMu.Unlock()

	b.mu.Lock()
	handlers := make(map[reflect.Type][]any, len(b.handlers))
	for t, hs := range b.handlers {
		handlers[t] = hs
	}
	b.mu.Unlock()

	for _, t := range order {
		for _, ev := range b.front[t] {
			for _, h := range handlers[t] {
				// Safe: Subscribe and Emit use the same type key.
				callHandler(h, ev)
			}
		}
	}
}

func callHandler(handler any, event any) {
	reflect.ValueOf(handler).Call([]reflect.Value{reflect.ValueOf(event)})
}
