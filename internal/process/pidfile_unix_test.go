//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func TestReapOrphan(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	p := filepath.Join(dir, "core.pid")
	if pid, err := ReapOrphan(p, time.Second); err != nil || pid != 0 {
		t.Fatalf("no pid file: %d %v", pid, err)
	}

	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	done := make(chan struct{})
	go func() { _ = cmd.Wait(); close(done) }()
	_ = WritePIDFile(p, cmd.Process.Pid, PIDMeta{Name: "orphan"})

	pid, err := ReapOrphan(p, 2*time.Second)
	if err != nil || pid != cmd.Process.Pid {
		t.Fatalf("ReapOrphan = %d, %v", pid, err)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("orphan still running")
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("pid file should be removed")
	}
}

func startGroupLeader(t *testing.T) (*exec.Cmd, <-chan struct{}) {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	done := make(chan struct{})
	go func() { _ = cmd.Wait(); close(done) }()
	t.Cleanup(func() {
		_ = killGroup(cmd.Process.Pid)
		<-done
	})
	return cmd, done
}

func TestProcStartUnix(t *testing.T) {
	requireUnix(t)
	got := procStartUnix(os.Getpid())
	now := time.Now().Unix()
	if got <= 0 || got > now+startSlack || now-got > 24*3600 {
		t.Fatalf("procStartUnix(self) = %d, now %d", got, now)
	}
	if procStartUnix(0) != 0 {
		t.Fatalf("pid 0 should be unknown")
	}
}

func TestReapOrphanSkipsReusedPID(t *testing.T) {
	requireUnix(t)
	p := filepath.Join(t.TempDir(), "core.pid")
	cmd, done := startGroupLeader(t)
	pid := cmd.Process.Pid
	start := procStartUnix(pid)
	if start <= 0 {
		t.Fatalf("start time of %d unknown", pid)
	}
	recorded := start - 3600
	_ = WritePIDFile(p, pid, PIDMeta{Name: "core", StartUnix: recorded})

	got, err := ReapOrphan(p, time.Second)
	if !errors.Is(err, ErrPIDReused) || got != 0 {
		t.Fatalf("ReapOrphan = %d, %v; want ErrPIDReused", got, err)
	}
	select {
	case <-done:
		t.Fatalf("unrelated process was killed")
	case <-time.After(200 * time.Millisecond):
	}
	if !processExists(pid) {
		t.Fatalf("unrelated process is gone")
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Fatalf("stale pid file should be removed")
	}
}

func TestReapOrphanMatchingStartTime(t *testing.T) {
	requireUnix(t)
	p := filepath.Join(t.TempDir(), "core.pid")
	cmd, done := startGroupLeader(t)
	pid := cmd.Process.Pid
	_ = WritePIDFile(p, pid, PIDMeta{Name: "core", StartUnix: procStartUnix(pid)})

	got, err := ReapOrphan(p, 2*time.Second)
	if err != nil || got != pid {
		t.Fatalf("ReapOrphan = %d, %v", got, err)
	}
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("orphan still running")
	}
}
