package client

import "time"

// StartRequest is the body of POST /start.
type StartRequest struct {
	ConfigPath string `json:"config_path"`
	ConfigName string `json:"config_name"`
}

// Status mirrors GET /status.
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

// Event is one server-sent event from GET /events. Type is "log" or
// "status".
type Event struct {
	Type    string    `json:"type"`
	Payload string    `json:"payload"`
	Port    string    `json:"port,omitempty"`
	RunID   string    `json:"run_id,omitempty"`
	At      time.Time `json:"at"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
