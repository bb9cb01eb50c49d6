// Package history exports proxy core lifecycle events to analytics stores.
package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart EventType = "start"
	EventStop  EventType = "stop"
	EventExit  EventType = "exit"
	EventFatal EventType = "fatal"
)

// Record describes one run of the proxy core.
type Record struct {
	RunID      string    `json:"run_id"`
	Name       string    `json:"name"`
	ConfigPath string    `json:"config_path"`
	PID        int       `json:"pid"`
	Port       uint16    `json:"port"`
	StartedAt  time.Time `json:"started_at"`
	ExitErr    string    `json:"exit_error,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultSendTimeout bounds a single Send on one sink.
const DefaultSendTimeout = 5 * time.Second

// Recorder delivers events to sinks on a background goroutine so that the
// supervisor never waits on a database. Events are dropped when the queue
// is full.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
	queue   chan Event
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		sinks:   sinks,
		timeout: DefaultSendTimeout,
		queue:   make(chan Event, 256),
		logger:  logger,
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

// Record queues e. It never blocks.
func (r *Recorder) Record(e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		r.logger.Warn("history queue full, dropping event", "type", e.Type, "run_id", e.Record.RunID)
	}
}

func (r *Recorder) loop() {
	defer r.wg.Done()
	for e := range r.queue {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := s.Send(ctx, e); err != nil {
				r.logger.Warn("history sink send failed", "type", e.Type, "error", err)
			}
			cancel()
		}
	}
}

// Close flushes queued events and closes sinks implementing io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()

	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
