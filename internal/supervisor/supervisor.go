// Package supervisor runs the desktop proxy core: one child process at a
// time, with the system proxy pointed at it while it runs.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/proxyvisr/internal/engine"
	"github.com/loykin/proxyvisr/internal/history"
	"github.com/loykin/proxyvisr/internal/metrics"
	"github.com/loykin/proxyvisr/internal/process"
	"github.com/loykin/proxyvisr/internal/proxyconf"
	"github.com/loykin/proxyvisr/internal/sysproxy"
)

// DefaultStopTimeout is the grace period between the terminate request and
// the kill.
const DefaultStopTimeout = 3 * time.Second

// DefaultProxyHost is where the system proxy points when none is configured.
const DefaultProxyHost = "127.0.0.1"

// Options wires a Supervisor. Spec and Proxy are required.
type Options struct {
	Spec    process.Spec
	Dialect proxyconf.Dialect
	// ProxyHost is the host the system proxy is pointed at.
	ProxyHost   string
	StopTimeout time.Duration
	// Env replaces the core's environment when non-empty.
	Env     []string
	Proxy   *sysproxy.Controller
	Events  engine.Emitter
	History *history.Recorder
	Logger  *slog.Logger
}

// slot is the running child and the name it was started under. Both fields
// change together under Supervisor.mu.
type slot struct {
	child *process.Child
	name  string
	port  uint16
}

// Supervisor implements engine.Engine for desktop platforms.
type Supervisor struct {
	spec        process.Spec
	dialect     proxyconf.Dialect
	host        string
	stopTimeout time.Duration
	env         []string
	proxy       *sysproxy.Controller
	events      engine.Emitter
	hist        *history.Recorder
	log         *slog.Logger

	// ops serialises Start and Stop and the exit cleanup of a watched child.
	ops sync.Mutex
	mu  sync.Mutex
	cur slot

	watchers sync.WaitGroup
}

var _ engine.Engine = (*Supervisor)(nil)

func New(opts Options) (*Supervisor, error) {
	if err := opts.Spec.Validate(); err != nil {
		return nil, err
	}
	if opts.Proxy == nil {
		return nil, errors.New("supervisor: system proxy controller is required")
	}
	if opts.Dialect == "" {
		opts.Dialect = proxyconf.DialectSingBox
	}
	if opts.ProxyHost == "" {
		opts.ProxyHost = DefaultProxyHost
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = DefaultStopTimeout
	}
	if opts.Events == nil {
		opts.Events = engine.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Spec.Name == "" {
		opts.Spec.Name = "core"
	}
	return &Supervisor{
		spec:        opts.Spec,
		dialect:     opts.Dialect,
		host:        opts.ProxyHost,
		stopTimeout: opts.StopTimeout,
		env:         append([]string(nil), opts.Env...),
		proxy:       opts.Proxy,
		events:      opts.Events,
		hist:        opts.History,
		log:         opts.Logger.With("component", "supervisor"),
	}, nil
}

// ReapOrphan terminates a core left behind by a previous proxyvisr run,
// found through the configured PID file.
func (s *Supervisor) ReapOrphan() {
	if s.spec.PIDFile == "" {
		return
	}
	pid, err := process.ReapOrphan(s.spec.PIDFile, s.stopTimeout)
	if errors.Is(err, process.ErrPIDReused) {
		s.log.Info("stale pid file ignored", "pid_file", s.spec.PIDFile, "error", err)
		return
	}
	if err != nil {
		s.log.Warn("reap orphaned core", "pid_file", s.spec.PIDFile, "error", err)
		return
	}
	if pid > 0 {
		s.log.Info("reaped orphaned core", "pid", pid)
	}
}

// Start extracts the local port from configPath, replaces any running core
// with a new one and points the system proxy at it. A config error leaves
// the running core untouched. A proxy error is returned with the new core
// still running.
func (s *Supervisor) Start(ctx context.Context, configPath, name string) error {
	s.ops.Lock()
	defer s.ops.Unlock()

	began := time.Now()
	cfg, err := proxyconf.Extract(configPath, s.dialect)
	if err != nil {
		metrics.IncStartFailure("config")
		return err
	}

	s.stopLocked(ctx)

	child, err := process.Start(s.spec, configPath, s.env)
	if err != nil {
		metrics.IncStartFailure("spawn")
		return fmt.Errorf("%w: %s: %w", ErrSpawn, s.spec.Binary, err)
	}

	cur := slot{child: child, name: name, port: cfg.LocalPort}
	s.mu.Lock()
	s.cur = cur
	s.mu.Unlock()

	metrics.IncStart(s.spec.Name)
	metrics.ObserveStartDuration(s.spec.Name, time.Since(began).Seconds())
	metrics.SetRunning(true)
	s.record(history.EventStart, cur, "")
	s.log.Info("core started", "name", name, "config", configPath, "pid", child.PID(), "run_id", child.RunID(), "port", cfg.LocalPort)

	perr := s.proxy.Enable(ctx, s.host, cfg.LocalPort)
	metrics.RecordProxyChange("enable", perr)
	s.watchers.Add(1)
	go s.watch(cur)
	if perr != nil {
		metrics.IncStartFailure("proxy")
		s.log.Error("enable system proxy", "port", cfg.LocalPort, "error", perr)
		return perr
	}
	return nil
}

// Stop disables the system proxy and terminates the core. Failures are
// logged; Stop itself always succeeds.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.ops.Lock()
	defer s.ops.Unlock()
	s.stopLocked(ctx)
	return nil
}

// stopLocked requires s.ops.
func (s *Supervisor) stopLocked(ctx context.Context) {
	err := s.proxy.Disable(ctx)
	metrics.RecordProxyChange("disable", err)
	if err != nil {
		s.log.Warn("disable system proxy", "error", err)
	}

	s.mu.Lock()
	prev := s.cur
	s.cur = slot{}
	s.mu.Unlock()

	if prev.child == nil {
		return
	}
	if err := prev.child.Terminate(s.stopTimeout); err != nil {
		s.log.Warn("terminate core", "pid", prev.child.PID(), "error", fmt.Errorf("%w: %w", ErrKill, err))
	}
	metrics.IncStop(s.spec.Name)
	metrics.SetRunning(false)
	s.record(history.EventStop, prev, "")
	s.log.Info("core stopped", "name", prev.name, "pid", prev.child.PID(), "run_id", prev.child.RunID())
}

// Status reports the supervisor's own state and the live OS proxy setting.
// An unreadable OS setting reads as disabled.
func (s *Supervisor) Status(ctx context.Context) engine.Status {
	s.mu.Lock()
	cur := s.cur
	s.mu.Unlock()

	st := engine.Status{IsRunning: cur.child != nil}
	if cur.child != nil {
		name := cur.name
		st.Name = &name
		st.PID = cur.child.PID()
		st.RunID = cur.child.RunID()
		st.Port = cur.port
		st.ConfigPath = cur.child.ConfigPath()
		st.StartedAt = cur.child.StartedAt()
	}
	ps, err := s.proxy.Read(ctx)
	if err != nil {
		s.log.Debug("read system proxy", "error", err)
		return st
	}
	st.ProxyStatus = ps.Enabled
	return st
}

// Target reports the running core for the resource sampler.
func (s *Supervisor) Target() metrics.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.child == nil {
		return metrics.Target{Name: s.spec.Name}
	}
	return metrics.Target{Name: s.spec.Name, PID: int32(s.cur.child.PID())}
}

// Close stops the core and waits for its output to be drained.
func (s *Supervisor) Close(ctx context.Context) error {
	_ = s.Stop(ctx)
	done := make(chan struct{})
	go func() {
		s.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// clearIf empties the slot only while it still holds child.
func (s *Supervisor) clearIf(child *process.Child) (slot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.child != child {
		return slot{}, false
	}
	prev := s.cur
	s.cur = slot{}
	return prev, true
}

func (s *Supervisor) record(t history.EventType, sl slot, msg string) {
	if s.hist == nil {
		return
	}
	rec := history.Record{
		RunID:      sl.child.RunID(),
		Name:       sl.name,
		ConfigPath: sl.child.ConfigPath(),
		PID:        sl.child.PID(),
		Port:       sl.port,
		StartedAt:  sl.child.StartedAt(),
		Message:    msg,
	}
	if t == history.EventExit || t == history.EventStop {
		rec.ExitErr = sl.child.Snapshot().ExitErr
	}
	s.hist.Record(history.Event{Type: t, OccurredAt: time.Now(), Record: rec})
}
