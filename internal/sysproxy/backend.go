package sysproxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendAuto         = "auto"
	BackendMemory       = "memory"
	BackendNone         = "none"
	BackendGSettings    = "gsettings"
	BackendNetworkSetup = "networksetup"
	BackendRegistry     = "registry"
)

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs the command with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output() // #nosec G204 -- fixed tool names
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(bytes.TrimSpace(ee.Stderr)) > 0 {
			return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, bytes.TrimSpace(ee.Stderr))
		}
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// OpenOptions carries backend specific knobs.
type OpenOptions struct {
	// NetworkService is the macOS service name, e.g. "Wi-Fi".
	NetworkService string
	Runner         Runner
}

// Open returns the backend registered under name.
func Open(name string, opts OpenOptions) (Backend, error) {
	run := opts.Runner
	if run == nil {
		run = ExecRunner
	}
	if name == "" || name == BackendAuto {
		name = defaultBackend(runtime.GOOS)
	}
	switch name {
	case BackendMemory, BackendNone:
		return NewMemory(), nil
	case BackendGSettings:
		return NewGSettings(run), nil
	case BackendNetworkSetup:
		return NewNetworkSetup(opts.NetworkService, run), nil
	case BackendRegistry:
		return newRegistry()
	case "unsupported":
		return unsupported{}, nil
	}
	return nil, fmt.Errorf("unknown system proxy backend %q", name)
}

func defaultBackend(goos string) string {
	switch goos {
	case "linux", "freebsd", "openbsd":
		return BackendGSettings
	case "darwin":
		return BackendNetworkSetup
	case "windows":
		return BackendRegistry
	default:
		return "unsupported"
	}
}

type unsupported struct{}

func (unsupported) Get(context.Context) (Settings, error) { return Settings{}, ErrUnsupported }
func (unsupported) Set(context.Context, Settings) error   { return ErrUnsupported }
