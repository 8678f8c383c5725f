// Package eventbus is a typed publish/subscribe bus for domain events.
// Publishing never blocks: a full buffer drops the event and fires the
// drop hooks.
package eventbus

import (
	"context"
	"sync"

	"github.com/vthunder/chapelotas/internal/logging"
)

// Event names an event type
type Event string

type envelope struct {
	event   Event
	payload any
}

// EventBus fans events out to subscribers on a single goroutine. A nil
// *EventBus accepts publishes and discards them.
type EventBus struct {
	ch chan envelope

	mu   sync.RWMutex
	subs map[Event][]func(any)

	onDrop []func(Event, any)
}

// New creates a bus with the given buffer size
func New(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &EventBus{
		ch:   make(chan envelope, buffer),
		subs: make(map[Event][]func(any)),
	}
}

// Start dispatches events until ctx is done.
func (bus *EventBus) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-bus.ch:
			bus.dispatch(env)
		}
	}
}

// OnDrop registers a hook that fires when an event is dropped.
func (bus *EventBus) OnDrop(fn func(Event, any)) {
	bus.mu.Lock()
	bus.onDrop = append(bus.onDrop, fn)
	bus.mu.Unlock()
}

func (bus *EventBus) subscribe(event Event, fn func(any)) {
	bus.mu.Lock()
	bus.subs[event] = append(bus.subs[event], fn)
	bus.mu.Unlock()
}

func (bus *EventBus) send(event Event, payload any) {
	if bus == nil {
		return
	}
	select {
	case bus.ch <- envelope{event: event, payload: payload}:
	default:
		bus.mu.RLock()
		hooks := append([]func(Event, any){}, bus.onDrop...)
		bus.mu.RUnlock()
		for _, fn := range hooks {
			fn(event, payload)
		}
		logging.Warn("eventbus", "dropped %s: buffer full", event)
	}
}

func (bus *EventBus) dispatch(env envelope) {
	bus.mu.RLock()
	subs := append([]func(any){}, bus.subs[env.event]...)
	bus.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Warn("eventbus", "subscriber of %s panicked: %v", env.event, r)
				}
			}()
			fn(env.payload)
		}()
	}
}
