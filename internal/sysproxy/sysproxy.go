// Package sysproxy reads and writes the operating system's global proxy
// setting.
package sysproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
)

var (
	ErrProxyRead   = errors.New("read system proxy")
	ErrProxySet    = errors.New("set system proxy")
	ErrProxyUnset  = errors.New("unset system proxy")
	ErrUnsupported = errors.New("system proxy not supported on this platform")
)

// Settings is the system-wide proxy configuration.
type Settings struct {
	Enabled bool     `json:"enabled"`
	Host    string   `json:"host"`
	Port    uint16   `json:"port"`
	Bypass  []string `json:"bypass"`
}

// Addr returns host:port.
func (s Settings) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(int(s.Port)))
}

// Backend talks to one OS proxy facility.
type Backend interface {
	Get(ctx context.Context) (Settings, error)
	Set(ctx context.Context, s Settings) error
}

// Controller applies proxyvisr's policy on top of a Backend.
type Controller struct {
	mu      sync.Mutex
	backend Backend
	bypass  []string
}

type Option func(*Controller)

// WithBypass sets the bypass list committed by Enable. The default is empty.
func WithBypass(hosts []string) Option {
	return func(c *Controller) { c.bypass = append([]string(nil), hosts...) }
}

func New(b Backend, opts ...Option) *Controller {
	c := &Controller{backend: b}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Read returns the live OS setting.
func (c *Controller) Read(ctx context.Context) (Settings, error) {
	s, err := c.backend.Get(ctx)
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrProxyRead, err)
	}
	return s, nil
}

// Enable points the system proxy at host:port.
func (c *Controller) Enable(ctx context.Context, host string, port uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Settings{Enabled: true, Host: host, Port: port, Bypass: append([]string{}, c.bypass...)}
	if err := c.backend.Set(ctx, s); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrProxySet, s.Addr(), err)
	}
	return nil
}

// Disable turns the system proxy off. Nothing is committed when it is
// already off.
func (c *Controller) Disable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, err := c.backend.Get(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w: %w", ErrProxyUnset, ErrProxyRead, err)
	}
	if !s.Enabled {
		return nil
	}
	s.Enabled = false
	if err := c.backend.Set(ctx, s); err != nil {
		return fmt.Errorf("%w: %w", ErrProxyUnset, err)
	}
	return nil
}
