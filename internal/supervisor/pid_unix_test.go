//go:build !windows

package supervisor

import "syscall"

func pidAlive(pid int) bool {
	return pid > 0 && syscall.Kill(pid, 0) == nil
}
