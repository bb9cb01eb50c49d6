package engine

import (
	"sync"
	"time"
)

type EventType string

const (
	// EventLog carries the user-facing text of a fatal core log line.
	EventLog EventType = "log"
	// EventStatus carries a lifecycle transition, currently only StatusStopped.
	EventStatus EventType = "status"
)

// StatusStopped is published once when the core exits on its own.
const StatusStopped = "stopped"

type Event struct {
	Type    EventType `json:"type"`
	Payload string    `json:"payload"`
	Port    string    `json:"port,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
	At      time.Time `json:"at"`
}

// Emitter receives events from an engine. Emit must not block.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

// DefaultBuffer is the per-subscriber queue length used when none is given.
const DefaultBuffer = 64

// Bus fans events out to subscribers over buffered channels. A subscriber
// whose queue is full misses the event instead of stalling the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	next    uint64
	dropped func(Event)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// OnDrop registers a callback invoked for every event a subscriber missed.
func (b *Bus) OnDrop(fn func(Event)) {
	b.mu.Lock()
	b.dropped = fn
	b.mu.Unlock()
}

// Subscribe returns the event channel and a cancel func that unsubscribes
// and closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Emit implements Emitter.
func (b *Bus) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			if b.dropped != nil {
				b.dropped(e)
			}
		}
	}
}

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
