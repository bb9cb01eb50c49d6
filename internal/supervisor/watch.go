package supervisor

import (
	"context"

	"github.com/loykin/proxyvisr/internal/engine"
	"github.com/loykin/proxyvisr/internal/history"
	"github.com/loykin/proxyvisr/internal/logclass"
	"github.com/loykin/proxyvisr/internal/metrics"
	"github.com/loykin/proxyvisr/internal/process"
)

// watch owns child's output until both streams close, then handles the
// exit. Only an exit nobody asked for clears the slot, turns the proxy off
// and publishes "stopped"; an explicit stop has already done that.
func (s *Supervisor) watch(sl slot) {
	defer s.watchers.Done()
	child := sl.child
	log := s.log.With("pid", child.PID(), "run_id", child.RunID())

	for ln := range child.Lines() {
		ev := logclass.Classify(ln.Text)
		if ev.Severity != logclass.Fatal {
			if ln.Stream == process.Stderr {
				log.Info("core", "line", ev.Message)
			} else {
				log.Debug("core", "line", ev.Message)
			}
			continue
		}
		log.Error("core fatal", "line", ev.Message, "port", ev.Port)
		metrics.IncFatalLine(s.spec.Name)
		if ev.PortConflict() {
			metrics.IncPortConflict(ev.Port)
		}
		msg := ev.UserMessage()
		s.record(history.EventFatal, sl, msg)
		s.events.Emit(engine.Event{Type: engine.EventLog, Payload: msg, Port: ev.Port, RunID: child.RunID()})
	}

	exitErr := child.Wait()
	metrics.IncExit(s.spec.Name)

	s.ops.Lock()
	defer s.ops.Unlock()
	prev, ok := s.clearIf(child)
	if !ok {
		return
	}
	log.Warn("core exited", "name", prev.name, "error", exitErr)
	ctx, cancel := context.WithTimeout(context.Background(), s.stopTimeout)
	err := s.proxy.Disable(ctx)
	cancel()
	metrics.RecordProxyChange("disable", err)
	if err != nil {
		log.Warn("disable system proxy", "error", err)
	}
	metrics.SetRunning(false)
	s.record(history.EventExit, prev, "")
	s.events.Emit(engine.Event{Type: engine.EventStatus, Payload: engine.StatusStopped, RunID: child.RunID()})
}
