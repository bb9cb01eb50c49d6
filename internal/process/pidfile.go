package process

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PIDMeta is stored after the PID line of a pid file.
type PIDMeta struct {
	Name       string `json:"name"`
	ConfigPath string `json:"config_path"`
	RunID      string `json:"run_id"`
	// StartUnix is the core's start time, used to tell a reused PID apart.
	StartUnix int64 `json:"start_unix,omitempty"`
}

// ErrPIDReused reports a pid file whose PID now belongs to another process.
var ErrPIDReused = errors.New("pid file refers to a different process")

// startSlack absorbs rounding between start time readings.
const startSlack = 1

// WritePIDFile writes "<pid>\n<json meta>".
func WritePIDFile(path string, pid int, meta PIDMeta) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"+string(b)+"\n"), 0o600)
}

// ReadPIDFile reads a file written by WritePIDFile. Files holding only a
// PID are accepted and yield a zero PIDMeta.
func ReadPIDFile(path string) (int, PIDMeta, error) {
	var meta PIDMeta
	b, err := os.ReadFile(path) // #nosec G304 -- operator configured path
	if err != nil {
		return 0, meta, err
	}
	pidLine, rest, _ := strings.Cut(string(b), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(pidLine))
	if err != nil {
		return 0, meta, err
	}
	if rest = strings.TrimSpace(rest); rest != "" {
		_ = json.Unmarshal([]byte(rest), &meta)
	}
	return pid, meta, nil
}

// RemovePIDFile removes path if it still records pid.
func RemovePIDFile(path string, pid int) error {
	cur, _, err := ReadPIDFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if cur != pid {
		return nil
	}
	return os.Remove(path)
}

// ReapOrphan terminates a core left behind by a previous proxyvisr run.
// It returns the PID that was signalled, or 0 when nothing was running.
// A PID whose start time differs from the recorded one is left alone and
// ErrPIDReused is returned.
func ReapOrphan(path string, grace time.Duration) (int, error) {
	pid, meta, err := ReadPIDFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	defer func() { _ = os.Remove(path) }()
	if pid <= 0 || !processExists(pid) {
		return 0, nil
	}
	if meta.StartUnix > 0 {
		if cur := procStartUnix(pid); cur > 0 && abs64(cur-meta.StartUnix) > startSlack {
			return 0, fmt.Errorf("%w: pid %d started at %d, recorded %d", ErrPIDReused, pid, cur, meta.StartUnix)
		}
	}
	_ = terminateGroup(pid)
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processExists(pid) {
			return pid, nil
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err := killGroup(pid); err != nil && processExists(pid) {
		return pid, err
	}
	return pid, nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
