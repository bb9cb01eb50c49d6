package process

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// killWait is how long Terminate waits for the exit after SIGKILL.
const killWait = 500 * time.Millisecond

const maxLineBytes = 1 << 20

// Stream identifies which output a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// Line is one line of core output.
type Line struct {
	Stream Stream
	Text   string
}

// Child is a running proxy core. A single goroutine owns cmd.Wait; other
// callers observe the exit through Done.
type Child struct {
	spec       Spec
	configPath string
	runID      string
	cmd        *exec.Cmd
	pid        int
	startedAt  time.Time

	stdout *os.File
	stderr *os.File
	outLog io.WriteCloser
	errLog io.WriteCloser

	done      chan struct{}
	mu        sync.Mutex
	exitErr   error
	exitedAt  time.Time
	readers   sync.Once
	linesOnce sync.Once
	lines     chan Line
}

// Start launches the core for configPath. mergedEnv replaces the
// environment when non-empty.
func Start(spec Spec, configPath string, mergedEnv []string) (*Child, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	outLog, errLog, err := spec.Log.Writers(spec.Name)
	if err != nil {
		return nil, err
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		closeAll(outLog, errLog)
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outLog, errLog, outR, outW)
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd := spec.BuildCommand(configPath, mergedEnv)
	cmd.Stdout = outW
	cmd.Stderr = errW
	if err := cmd.Start(); err != nil {
		closeAll(outLog, errLog, outR, outW, errR, errW)
		return nil, err
	}
	// the child holds its own copies of the write ends
	closeAll(outW, errW)

	c := &Child{
		spec:       spec,
		configPath: configPath,
		runID:      uuid.NewString(),
		cmd:        cmd,
		pid:        cmd.Process.Pid,
		startedAt:  time.Now(),
		stdout:     outR,
		stderr:     errR,
		outLog:     outLog,
		errLog:     errLog,
		done:       make(chan struct{}),
	}
	if spec.PIDFile != "" {
		_ = WritePIDFile(spec.PIDFile, c.pid, PIDMeta{
			Name:       spec.Name,
			ConfigPath: configPath,
			RunID:      c.runID,
			StartUnix:  procStartUnix(c.pid),
		})
	}
	go c.wait()
	return c, nil
}

func (c *Child) wait() {
	err := c.cmd.Wait()
	c.mu.Lock()
	c.exitErr = err
	c.exitedAt = time.Now()
	c.mu.Unlock()
	close(c.done)
	if c.spec.PIDFile != "" {
		_ = RemovePIDFile(c.spec.PIDFile, c.pid)
	}
	time.AfterFunc(c.spec.drainTimeout(), c.closeReaders)
}

func (c *Child) closeReaders() {
	c.readers.Do(func() {
		_ = c.stdout.Close()
		_ = c.stderr.Close()
	})
}

// Lines streams stdout and stderr until both are closed. The channel must
// be drained, otherwise the core eventually blocks on a full pipe.
func (c *Child) Lines() <-chan Line {
	c.linesOnce.Do(func() {
		c.lines = make(chan Line, 64)
		go c.pump()
	})
	return c.lines
}

func (c *Child) pump() {
	var g errgroup.Group
	g.Go(func() error { return c.scan(c.stdout, Stdout, c.outLog) })
	g.Go(func() error { return c.scan(c.stderr, Stderr, c.errLog) })
	_ = g.Wait()
	c.closeReaders()
	closeAll(c.outLog, c.errLog)
	close(c.lines)
}

// scan emits one Line per output line. A line longer than maxLineBytes is
// still teed to the log file but not emitted; scanning resumes at the next
// line.
func (c *Child) scan(r io.Reader, s Stream, tee io.Writer) error {
	br := bufio.NewReaderSize(r, 64*1024)
	var pending []byte
	oversized := false
	for {
		chunk, err := br.ReadSlice('\n')
		if tee != nil && len(chunk) > 0 {
			_, _ = tee.Write(chunk)
		}
		switch {
		case oversized:
		case len(pending)+len(chunk) > maxLineBytes:
			oversized, pending = true, pending[:0]
		default:
			pending = append(pending, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if !oversized && (err == nil || len(pending) > 0) {
			c.lines <- Line{Stream: s, Text: trimEOL(pending)}
		}
		pending, oversized = pending[:0], false
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

func trimEOL(b []byte) string {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return string(bytes.TrimSuffix(b, []byte("\r")))
}

// Terminate asks the core's process group to exit and kills it after grace.
func (c *Child) Terminate(grace time.Duration) error {
	if c.Exited() {
		return nil
	}
	_ = terminateGroup(c.pid)
	select {
	case <-c.done:
		return nil
	case <-time.After(grace):
	}
	if err := killGroup(c.pid); err != nil && !c.Exited() {
		return fmt.Errorf("kill pid %d: %w", c.pid, err)
	}
	select {
	case <-c.done:
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("pid %d still running after kill", c.pid)
	}
}

// Done is closed once the core has exited and been reaped.
func (c *Child) Done() <-chan struct{} { return c.done }

// Wait blocks until exit and returns the exit error.
func (c *Child) Wait() error {
	<-c.done
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitErr
}

func (c *Child) Exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Alive also consults the OS so a core reaped elsewhere is not reported.
func (c *Child) Alive() bool {
	return !c.Exited() && processExists(c.pid)
}

func (c *Child) PID() int             { return c.pid }
func (c *Child) RunID() string        { return c.runID }
func (c *Child) Name() string         { return c.spec.Name }
func (c *Child) ConfigPath() string   { return c.configPath }
func (c *Child) StartedAt() time.Time { return c.startedAt }
func (c *Child) Args() []string       { return append([]string(nil), c.cmd.Args...) }

// Snapshot reports the child's current state.
func (c *Child) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Name:       c.spec.Name,
		RunID:      c.runID,
		PID:        c.pid,
		ConfigPath: c.configPath,
		StartedAt:  c.startedAt,
		Running:    c.exitedAt.IsZero(),
		ExitedAt:   c.exitedAt,
	}
	if c.exitErr != nil {
		st.ExitErr = c.exitErr.Error()
	}
	return st
}

func closeAll(cs ...io.Closer) {
	for _, c := range cs {
		if c != nil {
			_ = c.Close()
		}
	}
}
