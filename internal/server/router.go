package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/proxyvisr/internal/engine"
	"github.com/loykin/proxyvisr/internal/proxyconf"
	"github.com/loykin/proxyvisr/internal/supervisor"
	"github.com/loykin/proxyvisr/internal/sysproxy"
	"github.com/loykin/proxyvisr/internal/vpn"
)

// Router exposes an engine over HTTP.
// Endpoints:
//
//	POST {basePath}/start   body: {"config_path": "/abs/path.json", "config_name": "office"}
//	POST {basePath}/stop
//	GET  {basePath}/status
//	GET  {basePath}/events  server-sent "log" and "status" events
//	GET  /metrics           when a metrics handler is set
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	eng      engine.Engine
	bus      *engine.Bus
	basePath string
	metrics  http.Handler
	logger   *slog.Logger
}

type RouterOption func(*Router)

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) RouterOption {
	return func(r *Router) { r.metrics = h }
}

func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// NewRouter constructs a Router. bus may be nil, in which case /events is
// not served.
func NewRouter(eng engine.Engine, bus *engine.Bus, basePath string, opts ...RouterOption) *Router {
	r := &Router{eng: eng, bus: bus, basePath: sanitizeBase(basePath), logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/status", r.handleStatus)
	if r.bus != nil {
		group.GET("/events", r.handleEvents)
	}
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer returns an http.Server for h. WriteTimeout stays zero because
// /events streams for as long as the client listens.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

// StartRequest is the body of POST /start.
type StartRequest struct {
	ConfigPath string `json:"config_path"`
	ConfigName string `json:"config_name"`
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStart(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.ConfigPath == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "config_path required"})
		return
	}
	if !isSafeAbsPath(req.ConfigPath) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid config_path: must be absolute path without traversal"})
		return
	}
	if !isSafeLabel(req.ConfigName) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid config_name: must be at most 256 printable characters"})
		return
	}
	if err := r.eng.Start(c.Request.Context(), req.ConfigPath, req.ConfigName); err != nil {
		r.logger.Warn("start failed", "config", req.ConfigPath, "name", req.ConfigName, "error", err)
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.eng.Stop(c.Request.Context()); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.eng.Status(c.Request.Context()))
}

func (r *Router) handleEvents(c *gin.Context) {
	events, cancel := r.bus.Subscribe(engine.DefaultBuffer)
	defer cancel()
	ctx := c.Request.Context()
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-ctx.Done():
			return false
		}
	})
}

// statusFor maps engine errors to HTTP status codes: configuration problems
// are the caller's, OS proxy and helper failures are upstream ones.
func statusFor(err error) int {
	switch {
	case errors.Is(err, proxyconf.ErrConfigRead),
		errors.Is(err, proxyconf.ErrConfigParse),
		errors.Is(err, proxyconf.ErrConfigFieldMissing),
		errors.Is(err, proxyconf.ErrUnknownDialect):
		return http.StatusBadRequest
	case errors.Is(err, vpn.ErrNeedPermission):
		return http.StatusForbidden
	case errors.Is(err, sysproxy.ErrProxySet),
		errors.Is(err, sysproxy.ErrProxyRead),
		errors.Is(err, sysproxy.ErrProxyUnset),
		errors.Is(err, vpn.ErrHelper):
		return http.StatusBadGateway
	case errors.Is(err, supervisor.ErrSpawn):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
