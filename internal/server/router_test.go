package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/proxyvisr/internal/engine"
	"github.com/loykin/proxyvisr/internal/proxyconf"
	"github.com/loykin/proxyvisr/internal/supervisor"
	"github.com/loykin/proxyvisr/internal/sysproxy"
	"github.com/loykin/proxyvisr/internal/vpn"
)

// fakeEngine records calls and fails Start with startErr.
type fakeEngine struct {
	mu       sync.Mutex
	startErr error
	running  bool
	name     string
	path     string
	stops    int
}

func (f *fakeEngine) Start(_ context.Context, configPath, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running, f.name, f.path = true, name, configPath
	return nil
}

func (f *fakeEngine) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running, f.name = false, ""
	f.stops++
	return nil
}

func (f *fakeEngine) Status(context.Context) engine.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := engine.Status{IsRunning: f.running, ProxyStatus: f.running}
	if f.running {
		name := f.name
		st.Name = &name
		st.Port = 1080
	}
	return st
}

func setupRouter(t *testing.T, base string, eng engine.Engine, bus *engine.Bus, opts ...RouterOption) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(eng, bus, base, opts...).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStartStatusStop(t *testing.T) {
	eng := &fakeEngine{}
	h := setupRouter(t, "/api", eng, nil)
	cfg := filepath.Join(t.TempDir(), "office.json")

	rec := doReq(t, h, http.MethodPost, "/api/start", StartRequest{ConfigPath: cfg, ConfigName: "office"})
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d %s", rec.Code, rec.Body.String())
	}
	if eng.path != cfg || eng.name != "office" {
		t.Fatalf("engine got path=%q name=%q", eng.path, eng.name)
	}

	rec = doReq(t, h, http.MethodGet, "/api/status", nil)
	var st engine.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !st.IsRunning || !st.ProxyStatus || st.NameOr("") != "office" || st.Port != 1080 {
		t.Fatalf("status = %+v", st)
	}

	rec = doReq(t, h, http.MethodPost, "/api/stop", nil)
	if rec.Code != http.StatusOK || eng.stops != 1 {
		t.Fatalf("stop: %d stops=%d", rec.Code, eng.stops)
	}
	rec = doReq(t, h, http.MethodGet, "/api/status", nil)
	if !strings.Contains(rec.Body.String(), `"name":null`) || !strings.Contains(rec.Body.String(), `"is_running":false`) {
		t.Fatalf("idle status body = %s", rec.Body.String())
	}
}

func TestStartValidation(t *testing.T) {
	h := setupRouter(t, "", &fakeEngine{}, nil)
	cases := map[string]any{
		"missing path":    StartRequest{ConfigName: "x"},
		"relative path":   StartRequest{ConfigPath: "configs/a.json"},
		"traversal":       StartRequest{ConfigPath: string(filepath.Separator) + filepath.Join("tmp", "..", "etc", "a.json")},
		"control in name": StartRequest{ConfigPath: filepath.Join(t.TempDir(), "a.json"), ConfigName: "a\nb"},
		"not json":        "plain string",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := doReq(t, h, http.MethodPost, "/start", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStartErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: no such file", proxyconf.ErrConfigRead), http.StatusBadRequest},
		{fmt.Errorf("%w: bad", proxyconf.ErrConfigParse), http.StatusBadRequest},
		{fmt.Errorf("%w: inbounds[0].listen_port", proxyconf.ErrConfigFieldMissing), http.StatusBadRequest},
		{fmt.Errorf("%w: denied", sysproxy.ErrProxySet), http.StatusBadGateway},
		{fmt.Errorf("%w: down", vpn.ErrHelper), http.StatusBadGateway},
		{fmt.Errorf("%w: %w", vpn.ErrHelper, vpn.ErrNeedPermission), http.StatusForbidden},
		{fmt.Errorf("%w: exec: not found", supervisor.ErrSpawn), http.StatusInternalServerError},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}
	cfg := filepath.Join(t.TempDir(), "a.json")
	for _, c := range cases {
		h := setupRouter(t, "", &fakeEngine{startErr: c.err}, nil)
		rec := doReq(t, h, http.MethodPost, "/start", StartRequest{ConfigPath: cfg})
		if rec.Code != c.code {
			t.Fatalf("%v: expected %d, got %d", c.err, c.code, rec.Code)
		}
		var er errorResp
		if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil || er.Error != c.err.Error() {
			t.Fatalf("error body = %s", rec.Body.String())
		}
	}
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "proxyvisr_core_running 1\n")
	})
	h := setupRouter(t, "/api", &fakeEngine{}, nil, WithMetrics(metrics))
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "proxyvisr_core_running") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
	h = setupRouter(t, "/api", &fakeEngine{}, nil)
	if rec := doReq(t, h, http.MethodGet, "/metrics", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics without handler: %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/api/events", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("events without bus: %d", rec.Code)
	}
}

func TestEventsStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := engine.NewBus()
	srv := httptest.NewServer(NewRouter(&fakeEngine{}, bus, "/api").Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content-type = %q", ct)
	}

	for bus.Subscribers() == 0 {
		select {
		case <-ctx.Done():
			t.Fatalf("subscriber never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}
	bus.Emit(engine.Event{Type: engine.EventLog, Payload: "[FATAL] boom", Port: "1080"})
	bus.Emit(engine.Event{Type: engine.EventStatus, Payload: engine.StatusStopped})

	sc := bufio.NewScanner(resp.Body)
	var names []string
	var got []engine.Event
	for sc.Scan() && len(got) < 2 {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			names = append(names, strings.TrimSpace(strings.TrimPrefix(line, "event:")))
		case strings.HasPrefix(line, "data:"):
			var ev engine.Event
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
				t.Fatalf("decode %q: %v", line, err)
			}
			got = append(got, ev)
		}
	}
	if len(got) != 2 || names[0] != "log" || names[1] != "status" {
		t.Fatalf("names=%v events=%+v", names, got)
	}
	if got[0].Port != "1080" || got[1].Payload != engine.StatusStopped {
		t.Fatalf("events = %+v", got)
	}

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for bus.Subscribers() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if bus.Subscribers() != 0 {
		t.Fatalf("subscription not released after disconnect")
	}
}
