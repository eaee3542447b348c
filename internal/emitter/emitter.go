// Package emitter fans events out to registered handlers. Handlers run
// synchronously on the caller's goroutine in registration order; a
// failing or panicking handler never takes down the pipeline or its
// sibling handlers.
package emitter

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/claudewatch/claudewatch/internal/event"
)

// Handler consumes one event. A non-nil error is reported as a
// synthesized error event but leaves the handler registered.
type Handler func(event.Event) error

type registration struct {
	id int
	fn Handler
}

type Emitter struct {
	mu       sync.Mutex
	nextID   int
	byType   map[event.Type][]registration
	wildcard []registration
}

func New() *Emitter {
	return &Emitter{byType: make(map[event.Type][]registration)}
}

// On registers a handler for one event type and returns a function that
// removes it.
func (e *Emitter) On(t event.Type, h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.byType[t] = append(e.byType[t], registration{id: id, fn: h})
	return func() { e.removeTyped(t, id) }
}

// OnAny registers a handler for every event type. Wildcard handlers run
// after type-specific ones.
func (e *Emitter) OnAny(h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.wildcard = append(e.wildcard, registration{id: id, fn: h})
	return func() { e.removeWildcard(id) }
}

func (e *Emitter) removeTyped(t event.Type, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	regs := e.byType[t]
	for i, r := range regs {
		if r.id == id {
			e.byType[t] = append(regs[:i:i], regs[i+1:]...)
			return
		}
	}
}

func (e *Emitter) removeWildcard(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, r := range e.wildcard {
		if r.id == id {
			e.wildcard = append(e.wildcard[:i:i], e.wildcard[i+1:]...)
			return
		}
	}
}

// HandlerCount returns how many handlers would see an event of type t.
func (e *Emitter) HandlerCount(t event.Type) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.byType[t]) + len(e.wildcard)
}

// Emit delivers ev to the matching handlers and returns how many ran.
// Handler errors and panics are converted into error events which are
// themselves dispatched; failures while handling an error event are only
// logged, so delivery cannot recurse.
func (e *Emitter) Emit(ev event.Event) int {
	e.mu.Lock()
	regs := make([]registration, 0, len(e.byType[ev.EventType()])+len(e.wildcard))
	regs = append(regs, e.byType[ev.EventType()]...)
	regs = append(regs, e.wildcard...)
	e.mu.Unlock()

	for _, r := range regs {
		if err := e.call(r.fn, ev); err != nil {
			e.reportHandlerError(ev, err)
		}
	}
	return len(regs)
}

func (e *Emitter) call(h Handler, ev event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ev)
}

func (e *Emitter) reportHandlerError(src event.Event, err error) {
	if src.EventType() == event.TypeError {
		log.Printf("[emitter] handler failed on error event: %v", err)
		return
	}
	e.Emit(event.ErrorEvent{
		Base: event.Base{
			Timestamp: time.Now().UTC(),
			SessionID: src.Session(),
			AgentID:   src.Agent(),
		},
		ErrorMessage: fmt.Sprintf("handler error on %s event: %v", src.EventType(), err),
		Source:       src,
	})
}
