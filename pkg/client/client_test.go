package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/proxyvisr/internal/engine"
	"github.com/loykin/proxyvisr/internal/proxyconf"
	"github.com/loykin/proxyvisr/internal/server"
)

type stubEngine struct {
	mu   sync.Mutex
	name *string
	err  error
}

func (s *stubEngine) Start(_ context.Context, _ string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.name = &name
	return nil
}

func (s *stubEngine) Stop(context.Context) error {
	s.mu.Lock()
	s.name = nil
	s.mu.Unlock()
	return nil
}

func (s *stubEngine) Status(context.Context) engine.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return engine.Status{IsRunning: s.name != nil, ProxyStatus: s.name != nil, Name: s.name}
}

func newTestClient(t *testing.T, eng engine.Engine, bus *engine.Bus) *Client {
	t.Helper()
	gin.SetMode(gin.TestMode)
	srv := httptest.NewServer(server.NewRouter(eng, bus, "/api").Handler())
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api/", Timeout: 5 * time.Second})
}

func TestStartStatusStop(t *testing.T) {
	c := newTestClient(t, &stubEngine{}, nil)
	ctx := context.Background()
	if !c.IsReachable(ctx) {
		t.Fatalf("daemon should be reachable")
	}
	cfg := filepath.Join(t.TempDir(), "office.json")
	if err := c.Start(ctx, StartRequest{ConfigPath: cfg, ConfigName: "office"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st, err := c.Status(ctx)
	if err != nil || !st.IsRunning || st.Name == nil || *st.Name != "office" {
		t.Fatalf("Status = %+v, %v", st, err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	st, _ = c.Status(ctx)
	if st.IsRunning || st.Name != nil {
		t.Fatalf("Status after stop = %+v", st)
	}
}

func TestStartAPIError(t *testing.T) {
	eng := &stubEngine{err: fmt.Errorf("%w: inbounds[0].listen_port", proxyconf.ErrConfigFieldMissing)}
	c := newTestClient(t, eng, nil)
	err := c.Start(context.Background(), StartRequest{ConfigPath: filepath.Join(t.TempDir(), "a.json")})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != eng.err.Error() {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: time.Second})
	if c.IsReachable(context.Background()) {
		t.Fatalf("nothing listens on port 1")
	}
}

func TestEvents(t *testing.T) {
	bus := engine.NewBus()
	c := newTestClient(t, &stubEngine{}, bus)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		for bus.Subscribers() == 0 && ctx.Err() == nil {
			time.Sleep(10 * time.Millisecond)
		}
		bus.Emit(engine.Event{Type: engine.EventLog, Payload: "[FATAL] boom"})
		bus.Emit(engine.Event{Type: engine.EventStatus, Payload: engine.StatusStopped})
	}()

	var got []Event
	done := errors.New("done")
	err := c.Events(ctx, func(ev Event) error {
		got = append(got, ev)
		if len(got) == 2 {
			return done
		}
		return nil
	})
	if !errors.Is(err, done) {
		t.Fatalf("Events: %v", err)
	}
	if got[0].Type != "log" || got[0].Payload != "[FATAL] boom" || got[1].Type != "status" || got[1].Payload != "stopped" {
		t.Fatalf("events = %+v", got)
	}
}

func TestEventsCancelled(t *testing.T) {
	c := newTestClient(t, &stubEngine{}, engine.NewBus())
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := c.Events(ctx, func(Event) error { return nil }); err != nil {
		t.Fatalf("cancelled stream should return nil, got %v", err)
	}
}
