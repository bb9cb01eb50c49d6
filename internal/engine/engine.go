// Package engine defines the capability shared by the desktop supervisor
// and the mobile VPN helper, and the events they publish.
package engine

import (
	"context"
	"time"
)

// Engine starts and stops a proxy for a named configuration.
type Engine interface {
	// Start replaces whatever is running with configPath.
	Start(ctx context.Context, configPath, name string) error
	// Stop never fails from the caller's point of view; cleanup problems
	// are logged by the implementation. The error is reserved for a
	// cancelled context.
	Stop(ctx context.Context) error
	Status(ctx context.Context) Status
}

// Status is returned by Engine.Status. IsRunning reflects the engine's own
// state while ProxyStatus is read live from the OS, so the two can differ.
type Status struct {
	IsRunning   bool      `json:"is_running"`
	ProxyStatus bool      `json:"proxy_status"`
	Name        *string   `json:"name"`
	PID         int       `json:"pid,omitempty"`
	RunID       string    `json:"run_id,omitempty"`
	Port        uint16    `json:"port,omitempty"`
	ConfigPath  string    `json:"config_path,omitempty"`
	StartedAt   time.Time `json:"started_at,omitzero"`
}

// NameOr returns the active configuration name or def.
func (s Status) NameOr(def string) string {
	if s.Name == nil {
		return def
	}
	return *s.Name
}
