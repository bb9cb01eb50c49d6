//go:build !windows

package process

import "golang.org/x/sys/unix"

// terminateGroup sends SIGTERM to the process group led by pid.
func terminateGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGTERM)
}

func killGroup(pid int) error {
	return unix.Kill(-pid, unix.SIGKILL)
}

func processExists(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
