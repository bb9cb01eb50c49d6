// Package proxyvisr supervises a local proxy core (sing-box, trojan-go) and
// keeps the operating system's proxy setting pointed at it.
package proxyvisr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/loykin/proxyvisr/internal/config"
	"github.com/loykin/proxyvisr/internal/engine"
	"github.com/loykin/proxyvisr/internal/history"
	hfactory "github.com/loykin/proxyvisr/internal/history/factory"
	"github.com/loykin/proxyvisr/internal/logclass"
	"github.com/loykin/proxyvisr/internal/metrics"
	"github.com/loykin/proxyvisr/internal/proxyconf"
	iapi "github.com/loykin/proxyvisr/internal/server"
	"github.com/loykin/proxyvisr/internal/supervisor"
	"github.com/loykin/proxyvisr/internal/sysproxy"
	"github.com/loykin/proxyvisr/internal/vpn"
)

// Re-export core types for external consumers.

type Config = config.Config

type Status = engine.Status

type Event = engine.Event

type LogEvent = logclass.Event

type HistorySink = history.Sink

type ProxyBackend = sysproxy.Backend

type VPNHelper = vpn.Helper

const (
	SeverityInfo  = logclass.Info
	SeverityFatal = logclass.Fatal

	EventLog      = engine.EventLog
	EventStatus   = engine.EventStatus
	StatusStopped = engine.StatusStopped
)

// Error sentinels callers can branch on with errors.Is.
var (
	ErrConfigRead         = proxyconf.ErrConfigRead
	ErrConfigParse        = proxyconf.ErrConfigParse
	ErrConfigFieldMissing = proxyconf.ErrConfigFieldMissing
	ErrSpawn              = supervisor.ErrSpawn
	ErrKill               = supervisor.ErrKill
	ErrProxyRead          = sysproxy.ErrProxyRead
	ErrProxySet           = sysproxy.ErrProxySet
	ErrProxyUnset         = sysproxy.ErrProxyUnset
	ErrNeedPermission     = vpn.ErrNeedPermission
)

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

func DefaultConfig() Config { return config.Default() }

// ExtractPort returns the local port configured in a sing-box or trojan-go
// config file.
func ExtractPort(path, dialect string) (uint16, error) {
	d, err := proxyconf.ParseDialect(dialect)
	if err != nil {
		return 0, err
	}
	ex, err := proxyconf.Extract(path, d)
	if err != nil {
		return 0, err
	}
	return ex.LocalPort, nil
}

// Classify inspects one line of core output.
func Classify(line string) LogEvent { return logclass.Classify(line) }

// Option customises New.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	backend    sysproxy.Backend
	helper     vpn.Helper
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	sinks      []history.Sink
}

// WithLogger overrides the logger built from the [log] section.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithProxyBackend replaces the OS proxy backend chosen by [system_proxy].
func WithProxyBackend(b ProxyBackend) Option { return func(o *options) { o.backend = b } }

// WithVPNHelper replaces the HTTP helper used in vpn mode.
func WithVPNHelper(h VPNHelper) Option { return func(o *options) { o.helper = h } }

// WithRegistry registers metrics with r instead of the default registry.
func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registerer, o.gatherer = r, r }
}

// WithHistorySinks adds sinks next to those from [history].
func WithHistorySinks(s ...HistorySink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s...) }
}

// App is one configured proxyvisr instance: an engine, its event bus and
// the optional metrics and history plumbing around it.
type App struct {
	cfg      Config
	log      *slog.Logger
	eng      engine.Engine
	sup      *supervisor.Supervisor
	bus      *engine.Bus
	hist     *history.Recorder
	sampler  *metrics.Sampler
	gatherer prometheus.Gatherer
}

// New assembles an App from cfg. Nothing is started until Start or Run.
func New(cfg *Config, opts ...Option) (*App, error) {
	if cfg == nil {
		d := config.Default()
		cfg = &d
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{registerer: prometheus.DefaultRegisterer, gatherer: prometheus.DefaultGatherer}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = cfg.Log.NewSlogger()
	}
	a := &App{cfg: *cfg, log: o.logger, bus: engine.NewBus(), gatherer: o.gatherer}

	if cfg.Metrics.Enabled {
		if err := metrics.Register(o.registerer); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		a.sampler = metrics.NewSampler(cfg.Metrics.Sampler)
		if err := a.sampler.RegisterMetrics(o.registerer); err != nil {
			return nil, fmt.Errorf("register sampler metrics: %w", err)
		}
	}
	a.bus.OnDrop(func(e engine.Event) { metrics.IncEventDropped(string(e.Type)) })

	sinks := o.sinks
	if cfg.History.Enabled {
		configured, err := hfactory.NewSinks(cfg.History.Sinks)
		if err != nil {
			return nil, fmt.Errorf("history sinks: %w", err)
		}
		sinks = append(sinks, configured...)
	}
	if len(sinks) > 0 {
		a.hist = history.NewRecorder(a.log, sinks...)
	}

	dialect, err := cfg.Core.ResolveDialect()
	if err != nil {
		return nil, err
	}
	switch cfg.Core.Mode {
	case config.ModeVPN:
		helper := o.helper
		if helper == nil {
			helper = vpn.NewHTTPHelper(vpn.HTTPHelperConfig{BaseURL: cfg.VPN.HelperURL, Timeout: cfg.VPN.Timeout, Logger: a.log})
		}
		a.eng = vpn.New(vpn.Options{Helper: helper, Dialect: dialect, History: a.hist, Logger: a.log})
	default:
		sup, err := a.newSupervisor(cfg, dialect, o.backend)
		if err != nil {
			return nil, err
		}
		a.sup, a.eng = sup, sup
	}
	return a, nil
}

func (a *App) newSupervisor(cfg *Config, dialect proxyconf.Dialect, backend sysproxy.Backend) (*supervisor.Supervisor, error) {
	if backend == nil {
		b, err := sysproxy.Open(cfg.SystemProxy.Backend, sysproxy.OpenOptions{NetworkService: cfg.SystemProxy.NetworkService})
		if err != nil {
			return nil, err
		}
		backend = b
	}
	spec, err := cfg.Core.ProcessSpec(cfg.Log.File)
	if err != nil {
		return nil, err
	}
	environ, err := cfg.Core.Environment()
	if err != nil {
		return nil, err
	}
	return supervisor.New(supervisor.Options{
		Spec:        spec,
		Dialect:     dialect,
		ProxyHost:   cfg.Core.ProxyHost,
		StopTimeout: cfg.Core.StopTimeout,
		Env:         environ.Merge(nil),
		Proxy:       sysproxy.New(backend, sysproxy.WithBypass(cfg.SystemProxy.Bypass)),
		Events:      a.bus,
		History:     a.hist,
		Logger:      a.log,
	})
}

// Start replaces the running proxy with configPath, reported as name.
func (a *App) Start(ctx context.Context, configPath, name string) error {
	return a.eng.Start(ctx, configPath, name)
}

// Stop always succeeds; cleanup failures are logged.
func (a *App) Stop(ctx context.Context) error { return a.eng.Stop(ctx) }

func (a *App) Status(ctx context.Context) Status { return a.eng.Status(ctx) }

// Subscribe returns a channel of "log" and "status" events and a cancel
// func. A subscriber that falls behind by more than buffer events misses
// the overflow.
func (a *App) Subscribe(buffer int) (<-chan Event, func()) { return a.bus.Subscribe(buffer) }

// Handler returns the HTTP API, with /metrics mounted when metrics are
// enabled and have no listener of their own.
func (a *App) Handler() http.Handler {
	var opts []iapi.RouterOption
	opts = append(opts, iapi.WithLogger(a.log))
	if a.cfg.Metrics.Enabled && a.cfg.Metrics.Listen == "" {
		opts = append(opts, iapi.WithMetrics(metrics.HandlerFor(a.gatherer)))
	}
	return iapi.NewRouter(a.eng, a.bus, a.cfg.Server.BasePath, opts...).Handler()
}

// Run serves the HTTP API (and the metrics listener when configured) until
// ctx is done, then stops the proxy and releases everything.
func (a *App) Run(ctx context.Context) error {
	if a.sup != nil {
		a.sup.ReapOrphan()
	}
	if a.sampler != nil && a.sup != nil {
		a.sampler.Start(ctx, a.sup.Target)
	}

	servers := []*http.Server{iapi.NewServer(a.cfg.Server.Listen, a.Handler())}
	if a.cfg.Metrics.Enabled && a.cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HandlerFor(a.gatherer))
		servers = append(servers, iapi.NewServer(a.cfg.Metrics.Listen, mux))
	}

	listeners := make([]net.Listener, 0, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return errors.Join(fmt.Errorf("listen %s: %w", srv.Addr, err), a.Close(context.Background()))
		}
		listeners = append(listeners, ln)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, srv := range servers {
		ln := listeners[i]
		// request contexts end with gctx so /events streams let Shutdown finish
		srv.BaseContext = func(net.Listener) context.Context { return gctx }
		a.log.Info("listening", "addr", ln.Addr().String())
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				_ = srv.Close()
			}
		}
		return nil
	})
	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return errors.Join(err, a.Close(closeCtx))
}

// Close stops the proxy, the sampler and flushes history.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.sup != nil {
		errs = append(errs, a.sup.Close(ctx))
	} else {
		errs = append(errs, a.eng.Stop(ctx))
	}
	if a.sampler != nil {
		a.sampler.Stop()
	}
	errs = append(errs, a.hist.Close())
	return errors.Join(errs...)
}
