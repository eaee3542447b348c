package watcher

import (
	"sync"

	"github.com/claudewatch/claudewatch/internal/event"
)

// defaultStreamCapacity bounds a stream's channel when the config does
// not say otherwise.
const defaultStreamCapacity = 1024

// Stream is the channel facade over the watcher's event flow. The
// channel is bounded; when a consumer falls behind, the oldest buffered
// event is dropped to make room and the watcher counts the drop.
type Stream struct {
	mu     sync.Mutex
	ch     chan event.Event
	closed bool
}

func newStream(capacity int) *Stream {
	if capacity <= 0 {
		capacity = defaultStreamCapacity
	}
	return &Stream{ch: make(chan event.Event, capacity)}
}

// Events returns the receive side of the stream. The channel is closed
// when the watcher stops.
func (s *Stream) Events() <-chan event.Event {
	return s.ch
}

// send enqueues without blocking, dropping the oldest buffered event on
// overflow. Reports whether a drop happened.
func (s *Stream) send(ev event.Event) (dropped bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	for {
		select {
		case s.ch <- ev:
			return dropped
		default:
		}
		select {
		case <-s.ch:
			dropped = true
		default:
		}
	}
}

func (s *Stream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
