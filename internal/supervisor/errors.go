package supervisor

import "errors"

var (
	// ErrSpawn wraps failures to launch the proxy core.
	ErrSpawn = errors.New("spawn proxy core")
	// ErrKill wraps failures to terminate the proxy core. It is only logged.
	ErrKill = errors.New("kill proxy core")
)
