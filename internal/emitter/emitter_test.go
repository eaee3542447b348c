package emitter

import (
	"errors"
	"testing"
	"time"

	"github.com/claudewatch/claudewatch/internal/event"
)

func msgEvent(sessionID string) event.MessageEvent {
	return event.MessageEvent{
		Base: event.Base{Timestamp: time.Now(), SessionID: sessionID},
	}
}

func TestEmitDispatchOrder(t *testing.T) {
	e := New()
	var order []string

	e.On(event.TypeMessage, func(event.Event) error {
		order = append(order, "typed1")
		return nil
	})
	e.On(event.TypeMessage, func(event.Event) error {
		order = append(order, "typed2")
		return nil
	})
	e.OnAny(func(event.Event) error {
		order = append(order, "any")
		return nil
	})
	e.On(event.TypeError, func(event.Event) error {
		order = append(order, "error-only")
		return nil
	})

	n := e.Emit(msgEvent("s1"))
	if n != 3 {
		t.Errorf("Emit returned %d, want 3", n)
	}
	want := []string{"typed1", "typed2", "any"}
	if len(order) != len(want) {
		t.Fatalf("order = %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	e := New()
	calls := 0
	off := e.On(event.TypeMessage, func(event.Event) error {
		calls++
		return nil
	})

	e.Emit(msgEvent("s1"))
	off()
	e.Emit(msgEvent("s1"))

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if e.HandlerCount(event.TypeMessage) != 0 {
		t.Errorf("HandlerCount = %d", e.HandlerCount(event.TypeMessage))
	}
}

func TestHandlerErrorSynthesizesErrorEvent(t *testing.T) {
	e := New()
	var captured []event.ErrorEvent

	e.On(event.TypeError, func(ev event.Event) error {
		captured = append(captured, ev.(event.ErrorEvent))
		return nil
	})
	e.On(event.TypeMessage, func(event.Event) error {
		return errors.New("boom")
	})
	ran := false
	e.On(event.TypeMessage, func(event.Event) error {
		ran = true
		return nil
	})

	e.Emit(msgEvent("s1"))

	if !ran {
		t.Error("later handler skipped after sibling error")
	}
	if len(captured) != 1 {
		t.Fatalf("captured = %d error events, want 1", len(captured))
	}
	if captured[0].SessionID != "s1" {
		t.Errorf("session = %s", captured[0].SessionID)
	}
	src, ok := captured[0].Source.(event.MessageEvent)
	if !ok {
		t.Fatalf("source = %T, want the failing message event", captured[0].Source)
	}
	if src.SessionID != "s1" {
		t.Errorf("source session = %s", src.SessionID)
	}

	// Handler stays registered after erroring.
	e.Emit(msgEvent("s1"))
	if len(captured) != 2 {
		t.Errorf("second emit produced %d total error events, want 2", len(captured))
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	e := New()
	var captured []event.ErrorEvent
	e.On(event.TypeError, func(ev event.Event) error {
		captured = append(captured, ev.(event.ErrorEvent))
		return nil
	})
	e.On(event.TypeMessage, func(event.Event) error {
		panic("kaboom")
	})

	e.Emit(msgEvent("s1"))
	if len(captured) != 1 {
		t.Fatalf("captured = %d, want 1", len(captured))
	}
}

func TestErrorHandlerFailureDoesNotRecurse(t *testing.T) {
	e := New()
	calls := 0
	e.On(event.TypeError, func(event.Event) error {
		calls++
		return errors.New("error handler itself fails")
	})

	e.Emit(event.ErrorEvent{Base: event.Base{Timestamp: time.Now()}})

	// One call, no cascading synthesized events.
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
