package engine

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	a, cancelA := b.Subscribe(4)
	c, cancelC := b.Subscribe(4)
	defer cancelC()

	b.Emit(Event{Type: EventStatus, Payload: StatusStopped})
	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != EventStatus || e.Payload != StatusStopped || e.At.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatalf("event not delivered")
		}
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Fatalf("channel should be closed after cancel")
	}
	if b.Subscribers() != 1 {
		t.Fatalf("subscribers = %d", b.Subscribers())
	}
}

func TestBusDropsForSlowSubscriber(t *testing.T) {
	b := NewBus()
	var dropped atomic.Int32
	b.OnDrop(func(Event) { dropped.Add(1) })
	_, cancel := b.Subscribe(1)
	defer cancel()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			b.Emit(Event{Type: EventLog, Payload: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Emit blocked on a full subscriber")
	}
	if dropped.Load() != 4 {
		t.Fatalf("dropped = %d, want 4", dropped.Load())
	}
}

func TestStatusNameOr(t *testing.T) {
	if got := (Status{}).NameOr("-"); got != "-" {
		t.Fatalf("NameOr = %q", got)
	}
	n := "office"
	if got := (Status{Name: &n}).NameOr("-"); got != "office" {
		t.Fatalf("NameOr = %q", got)
	}
}

func TestEmitterFunc(t *testing.T) {
	var got Event
	var e Emitter = EmitterFunc(func(ev Event) { got = ev })
	e.Emit(Event{Type: EventLog, Payload: "p"})
	Discard.Emit(Event{})
	if got.Payload != "p" {
		t.Fatalf("EmitterFunc not invoked")
	}
}
