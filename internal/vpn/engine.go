package vpn

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/proxyvisr/internal/engine"
	"github.com/loykin/proxyvisr/internal/history"
	"github.com/loykin/proxyvisr/internal/metrics"
	"github.com/loykin/proxyvisr/internal/proxyconf"
)

// PingValue is sent by Status to probe the helper.
const PingValue = "proxyvisr"

type Options struct {
	Helper  Helper
	Dialect proxyconf.Dialect
	History *history.Recorder
	Logger  *slog.Logger
}

type active struct {
	name       string
	configPath string
	port       uint16
	runID      string
	startedAt  time.Time
}

// Engine implements engine.Engine on top of a VPN Helper. There is no
// child process and no system proxy; the VPN service routes traffic.
type Engine struct {
	helper  Helper
	dialect proxyconf.Dialect
	hist    *history.Recorder
	log     *slog.Logger

	ops sync.Mutex
	mu  sync.Mutex
	cur *active
}

var _ engine.Engine = (*Engine)(nil)

func New(opts Options) *Engine {
	if opts.Dialect == "" {
		opts.Dialect = proxyconf.DialectSingBox
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		helper:  opts.Helper,
		dialect: opts.Dialect,
		hist:    opts.History,
		log:     opts.Logger.With("component", "vpn"),
	}
}

// Start reads configPath, checks that it names a local port and hands the
// content to the helper. The previous tunnel is replaced.
func (e *Engine) Start(ctx context.Context, configPath, name string) error {
	e.ops.Lock()
	defer e.ops.Unlock()

	data, err := os.ReadFile(configPath)
	if err != nil {
		metrics.IncStartFailure("config")
		return fmt.Errorf("%w: %s: %w", proxyconf.ErrConfigRead, configPath, err)
	}
	cfg, err := proxyconf.ExtractBytes(data, e.dialect)
	if err != nil {
		metrics.IncStartFailure("config")
		return err
	}

	e.stopLocked(ctx)

	began := time.Now()
	if err := e.helper.StartVPN(ctx, string(data)); err != nil {
		metrics.IncStartFailure("helper")
		return err
	}
	a := &active{
		name:       name,
		configPath: configPath,
		port:       cfg.LocalPort,
		runID:      uuid.NewString(),
		startedAt:  time.Now(),
	}
	e.mu.Lock()
	e.cur = a
	e.mu.Unlock()

	metrics.IncStart("vpn")
	metrics.ObserveStartDuration("vpn", time.Since(began).Seconds())
	metrics.SetRunning(true)
	e.record(history.EventStart, a)
	e.log.Info("vpn started", "name", name, "config", configPath, "port", cfg.LocalPort)
	return nil
}

// Stop asks the helper to tear the tunnel down. Helper failures are logged.
func (e *Engine) Stop(ctx context.Context) error {
	e.ops.Lock()
	defer e.ops.Unlock()
	e.stopLocked(ctx)
	return nil
}

func (e *Engine) stopLocked(ctx context.Context) {
	e.mu.Lock()
	prev := e.cur
	e.cur = nil
	e.mu.Unlock()
	if prev == nil {
		return
	}
	if err := e.helper.StopVPN(ctx); err != nil {
		e.log.Warn("stop vpn", "name", prev.name, "error", err)
	}
	metrics.IncStop("vpn")
	metrics.SetRunning(false)
	e.record(history.EventStop, prev)
	e.log.Info("vpn stopped", "name", prev.name)
}

// Status reports the active tunnel. ProxyStatus is whether the helper
// answers a ping.
func (e *Engine) Status(ctx context.Context) engine.Status {
	e.mu.Lock()
	cur := e.cur
	e.mu.Unlock()

	var st engine.Status
	if cur != nil {
		name := cur.name
		st = engine.Status{
			IsRunning:  true,
			Name:       &name,
			RunID:      cur.runID,
			Port:       cur.port,
			ConfigPath: cur.configPath,
			StartedAt:  cur.startedAt,
		}
	}
	got, err := e.helper.Ping(ctx, PingValue)
	if err != nil {
		e.log.Debug("ping vpn helper", "error", err)
		return st
	}
	st.ProxyStatus = got != ""
	return st
}

func (e *Engine) record(t history.EventType, a *active) {
	if e.hist == nil {
		return
	}
	e.hist.Record(history.Event{
		Type:       t,
		OccurredAt: time.Now(),
		Record: history.Record{
			RunID:      a.runID,
			Name:       a.name,
			ConfigPath: a.configPath,
			Port:       a.port,
			StartedAt:  a.startedAt,
		},
	})
}
