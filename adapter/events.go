package adapter

import (
	"fmt"

	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"

	dapsrv "github.com/kestrel-dbg/kestrel/dap"
	"github.com/kestrel-dbg/kestrel/lldb"
)

// wpidToBpid merges watchpoint ids into the breakpoint id namespace.
func wpidToBpid(id int) int {
	// Avoid collision with regular breakpoints; let's hope 1M breakpoints
	// is "enough for everyone".
	return id + 1_000_000
}

func (s *Session) handleDebugEvent(c dapsrv.Context, event lldb.Event) {
	logrus.Debugf("debug event: %T", event)
	switch event := event.(type) {
	case lldb.ProcessEvent:
		s.handleProcessEvent(c, event)
	case lldb.TargetEvent:
		s.handleTargetEvent(c, event)
	case lldb.BreakpointEvent:
		s.handleBreakpointEvent(c, event)
	case lldb.ThreadEvent:
		s.handleThreadEvent(c, event)
	}
}

func (s *Session) handleProcessEvent(c dapsrv.Context, event lldb.ProcessEvent) {
	switch event.State {
	case lldb.StateRunning, lldb.StateStepping:
		s.notifyProcessRunning(c)
	case lldb.StateStopped:
		if !event.Restarted {
			s.notifyProcessStopped(c)
		}
	case lldb.StateCrashed, lldb.StateSuspended:
		s.notifyProcessStopped(c)
	case lldb.StateExited:
		exitCode := 0
		if s.process != nil {
			exitCode = s.process.ExitStatus()
		}
		s.consoleMessage(c, fmt.Sprintf("Process exited with code %d.", exitCode))
		s.sendEvent(c, &dap.ExitedEvent{
			Event: dap.Event{Event: "exited"},
			Body:  dap.ExitedEventBody{ExitCode: exitCode},
		})
		s.sendEvent(c, &dap.TerminatedEvent{
			Event: dap.Event{Event: "terminated"},
		})
	case lldb.StateDetached:
		s.consoleMessage(c, "Detached from debuggee.")
		s.sendEvent(c, &dap.TerminatedEvent{
			Event: dap.Event{Event: "terminated"},
		})
	}

	// Debuggee stdio arriving through the engine rather than the terminal.
	s.drainProcessOutput(c, event.Stdout, "stdout")
	s.drainProcessOutput(c, event.Stderr, "stderr")
}

func (s *Session) drainProcessOutput(c dapsrv.Context, read func([]byte) int, category string) {
	if read == nil {
		return
	}
	buf := make([]byte, 1024)
	for {
		n := read(buf)
		if n <= 0 {
			return
		}
		s.sendEvent(c, &dap.OutputEvent{
			Event: dap.Event{Event: "output"},
			Body: dap.OutputEventBody{
				Category: category,
				Output:   string(buf[:n]),
			},
		})
	}
}

func (s *Session) notifyProcessRunning(c dapsrv.Context) {
	var threadID uint64
	if threads := s.process.Threads(); len(threads) > 0 {
		threadID = threads[0].ThreadID()
	}
	s.sendEvent(c, &dap.ContinuedEvent{
		Event: dap.Event{Event: "continued"},
		Body: dap.ContinuedEventBody{
			ThreadId:            int(threadID),
			AllThreadsContinued: true,
		},
	})
}

func (s *Session) notifyProcessStopped(c dapsrv.Context) {
	stoppedThread := s.classifyStoppedThread()
	if stoppedThread == nil {
		return
	}

	var (
		reason        string
		description   string
		hitBreakpoint []int
	)
	switch stoppedThread.StopReason() {
	case lldb.StopReasonBreakpoint:
		reason = "breakpoint"
		hitBreakpoint = []int{int(stoppedThread.StopReasonDataAtIndex(0))}
	case lldb.StopReasonWatchpoint:
		reason = "data breakpoint"
		hitBreakpoint = []int{wpidToBpid(int(stoppedThread.StopReasonDataAtIndex(0)))}
	case lldb.StopReasonTrace, lldb.StopReasonPlanComplete:
		reason = "step"
	case lldb.StopReasonSignal, lldb.StopReasonException:
		reason = "exception"
		description = stoppedThread.StopDescription()
	default:
		reason = "unknown"
		description = stoppedThread.StopDescription()
	}

	if description != "" {
		s.consoleError(c, "Stop reason: "+description)
	}

	s.sendEvent(c, &dap.StoppedEvent{
		Event: dap.Event{Event: "stopped"},
		Body: dap.StoppedEventBody{
			AllThreadsStopped: true,
			ThreadId:          int(stoppedThread.ThreadID()),
			Reason:            reason,
			Description:       description,
			HitBreakpointIds:  hitBreakpoint,
		},
	})
}

// classifyStoppedThread picks the thread to report: the selected thread if
// it has a meaningful stop reason, otherwise the first thread that does.
func (s *Session) classifyStoppedThread() lldb.Thread {
	if s.process == nil {
		return nil
	}
	meaningful := func(r lldb.StopReason) bool {
		return r != lldb.StopReasonInvalid && r != lldb.StopReasonNone
	}

	stopped := s.process.SelectedThread()
	if stopped != nil && meaningful(stopped.StopReason()) {
		return stopped
	}
	for _, thread := range s.process.Threads() {
		if meaningful(thread.StopReason()) {
			s.process.SetSelectedThread(thread)
			return thread
		}
	}
	return stopped
}

func (s *Session) handleTargetEvent(c dapsrv.Context, event lldb.TargetEvent) {
	switch event.Kind {
	case lldb.TargetModulesLoaded:
		for _, module := range event.Modules {
			s.sendEvent(c, &dap.ModuleEvent{
				Event: dap.Event{Event: "module"},
				Body: dap.ModuleEventBody{
					Reason: "new",
					Module: s.makeModuleDetail(module),
				},
			})
		}
	case lldb.TargetSymbolsLoaded:
		for _, module := range event.Modules {
			s.sendEvent(c, &dap.ModuleEvent{
				Event: dap.Event{Event: "module"},
				Body: dap.ModuleEventBody{
					Reason: "changed",
					Module: s.makeModuleDetail(module),
				},
			})
		}
	case lldb.TargetModulesUnloaded:
		for _, module := range event.Modules {
			s.sendEvent(c, &dap.ModuleEvent{
				Event: dap.Event{Event: "module"},
				Body: dap.ModuleEventBody{
					Reason: "removed",
					Module: dap.Module{Id: s.moduleID(module)},
				},
			})
		}
	}
}

func (s *Session) handleThreadEvent(c dapsrv.Context, event lldb.ThreadEvent) {
	if event.SelectedFrameChanged {
		s.selectedFrameChanged = true
	}
}
