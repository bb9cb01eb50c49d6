package process

import "time"

// Status is a point-in-time view of a Child.
type Status struct {
	Name       string    `json:"name"`
	RunID      string    `json:"run_id"`
	PID        int       `json:"pid"`
	ConfigPath string    `json:"config_path"`
	Running    bool      `json:"running"`
	StartedAt  time.Time `json:"started_at"`
	ExitedAt   time.Time `json:"exited_at"`
	ExitErr    string    `json:"exit_error,omitempty"`
}
