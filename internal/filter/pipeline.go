package filter

import (
	"github.com/claudewatch/claudewatch/internal/emitter"
	"github.com/claudewatch/claudewatch/internal/event"
)

// Pipeline gates an emitter behind a base predicate: only events passing
// the predicate reach the registered handlers. Feed it from a watcher's
// wildcard subscription via Process.
type Pipeline struct {
	base    Predicate
	emitter *emitter.Emitter
}

// NewPipeline builds a pipeline over the given predicates, combined with
// And. No predicates means everything passes.
func NewPipeline(preds ...Predicate) *Pipeline {
	var base Predicate
	switch len(preds) {
	case 0:
		base = Always()
	case 1:
		base = preds[0]
	default:
		base = And(preds...)
	}
	return &Pipeline{base: base, emitter: emitter.New()}
}

// Matches reports whether ev passes the base predicate.
func (p *Pipeline) Matches(ev event.Event) bool {
	return p.base(ev)
}

// On registers a handler for one event type; the returned function
// removes it.
func (p *Pipeline) On(t event.Type, h emitter.Handler) func() {
	return p.emitter.On(t, h)
}

// OnAny registers a handler for all matching events.
func (p *Pipeline) OnAny(h emitter.Handler) func() {
	return p.emitter.OnAny(h)
}

// Process dispatches ev to handlers if it matches, returning the number
// of handlers called. Non-matching events return zero.
func (p *Pipeline) Process(ev event.Event) int {
	if !p.base(ev) {
		return 0
	}
	return p.emitter.Emit(ev)
}

// Handler adapts the pipeline for direct registration on an emitter or
// watcher wildcard subscription.
func (p *Pipeline) Handler() emitter.Handler {
	return func(ev event.Event) error {
		p.Process(ev)
		return nil
	}
}
