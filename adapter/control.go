package adapter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	dapsrv "github.com/kestrel-dbg/kestrel/dap"
	"github.com/kestrel-dbg/kestrel/lldb"
)

func (s *Session) onThreads(c dapsrv.Context, req *dap.ThreadsRequest, resp *dap.ThreadsResponse) error {
	resp.Body.Threads = []dap.Thread{}
	if s.process == nil {
		return nil
	}
	for _, thread := range s.process.Threads() {
		descr := fmt.Sprintf("%d: tid=%d", thread.IndexID(), thread.ThreadID())
		if name := thread.Name(); name != "" {
			descr += fmt.Sprintf(" %q", name)
		}
		resp.Body.Threads = append(resp.Body.Threads, dap.Thread{
			Id:   int(thread.ThreadID()),
			Name: descr,
		})
	}
	return nil
}

func (s *Session) onStackTrace(c dapsrv.Context, req *dap.StackTraceRequest, resp *dap.StackTraceResponse) error {
	thread, err := s.threadByID(uint64(req.Arguments.ThreadId))
	if err != nil {
		return err
	}

	startFrame := req.Arguments.StartFrame
	levels := req.Arguments.Levels
	if levels <= 0 {
		levels = thread.NumFrames()
	}

	resp.Body.StackFrames = []dap.StackFrame{}
	for i := startFrame; i < startFrame+levels; i++ {
		frame, ok := thread.FrameAtIndex(i)
		if !ok {
			break
		}

		key := fmt.Sprintf("[%d,%d]", thread.IndexID(), i)
		handle := s.varRefs.Create(0, key, container{kind: containerStackFrame, frame: frame})

		sf := dap.StackFrame{
			Id:                          handle,
			InstructionPointerReference: fmt.Sprintf("0x%X", frame.PC()),
		}
		if name := frame.FunctionName(); name != "" {
			sf.Name = name
		} else {
			sf.Name = fmt.Sprintf("%X", frame.PC())
		}
		if module, ok := frame.Module(); ok {
			sf.ModuleId = s.moduleID(module)
		}

		if !s.inDisassembly(frame) {
			if le, ok := frame.LineEntry(); ok {
				if local, ok := s.mapPathToLocal(le.Path); ok {
					sf.Line = le.Line
					sf.Column = le.Column
					sf.Source = &dap.Source{
						Name: filepath.Base(local),
						Path: local,
					}
				}
			}
		} else {
			if dasm, err := s.disasm.FromAddress(frame.PC()); err == nil {
				sf.Line = dasm.LineNumByAddress(frame.PC())
				sf.Source = &dap.Source{
					Name:            dasm.SourceName(),
					SourceReference: dasm.Handle(),
				}
			}
			sf.Column = 0
			sf.PresentationHint = "subtle"
		}
		resp.Body.StackFrames = append(resp.Body.StackFrames, sf)
	}
	resp.Body.TotalFrames = thread.NumFrames()
	return nil
}

// requireTarget and requireProcess guard requests arriving before launch or
// after the debuggee is gone.
func (s *Session) requireTarget() error {
	if s.target == nil {
		return dapsrv.BlameUserError(errors.New("No debug target."))
	}
	return nil
}

func (s *Session) requireProcess() error {
	if s.process == nil {
		return dapsrv.BlameUserError(errors.New("No debuggee process."))
	}
	return nil
}

func (s *Session) threadByID(tid uint64) (lldb.Thread, error) {
	if s.process == nil {
		return nil, dapsrv.BlameUserError(errors.New("No debuggee process."))
	}
	thread, ok := s.process.ThreadByID(tid)
	if !ok {
		logrus.Error("received invalid thread id")
		return nil, dapsrv.BlameUserError(errors.New("Invalid thread id."))
	}
	return thread, nil
}

func (s *Session) inDisassembly(frame lldb.Frame) bool {
	switch s.settings.showDisassembly {
	case showDisassemblyAlways:
		return true
	case showDisassemblyNever:
		return false
	default:
		le, ok := frame.LineEntry()
		if !ok {
			return true
		}
		_, mapped := s.mapPathToLocal(le.Path)
		return !mapped
	}
}

// mapPathToLocal maps a debug-info path to a local path: relative paths are
// anchored at the relative-path base, missing files are suppressed when
// configured, and results are cached.
func (s *Session) mapPathToLocal(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	if cached, ok := s.sourceMapCache[path]; ok {
		if cached == nil {
			return "", false
		}
		return *cached, true
	}

	mapped := path
	if !filepath.IsAbs(mapped) {
		mapped = filepath.Join(s.relativePathBase, mapped)
	}
	mapped = filepath.Clean(mapped)

	var result *string
	if st, err := os.Stat(mapped); err == nil && st.Mode().IsRegular() {
		result = &mapped
	} else if !s.settings.suppressMissingFiles {
		result = &mapped
	}
	s.sourceMapCache[path] = result
	if result == nil {
		return "", false
	}
	return *result, true
}

func (s *Session) onPause(c dapsrv.Context, req *dap.PauseRequest, resp *dap.PauseResponse) error {
	if err := s.requireProcess(); err != nil {
		return err
	}
	if err := s.process.Stop(); err != nil {
		if s.process.State().IsStopped() {
			// Did we lose a 'stopped' event?
			s.notifyProcessStopped(c)
			return nil
		}
		return dapsrv.BlameUserError(err)
	}
	return nil
}

func (s *Session) onContinue(c dapsrv.Context, req *dap.ContinueRequest, resp *dap.ContinueResponse) error {
	if err := s.requireProcess(); err != nil {
		return err
	}
	s.beforeResume()
	if err := s.process.Resume(); err != nil {
		if s.process.State().IsRunning() {
			// Did we lose a 'running' event?
			s.notifyProcessRunning(c)
			resp.Body.AllThreadsContinued = true
			return nil
		}
		return dapsrv.BlameUserError(err)
	}
	resp.Body.AllThreadsContinued = true
	return nil
}

func (s *Session) stepGranularity(granularity dap.SteppingGranularity, thread lldb.Thread) bool {
	switch granularity {
	case "instruction":
		return true
	case "line", "statement":
		return false
	default:
		if frame, ok := thread.FrameAtIndex(0); ok {
			return s.inDisassembly(frame)
		}
		return false
	}
}

func (s *Session) onNext(c dapsrv.Context, req *dap.NextRequest, resp *dap.NextResponse) error {
	thread, err := s.threadByID(uint64(req.Arguments.ThreadId))
	if err != nil {
		return err
	}
	s.beforeResume()
	return thread.StepOver(s.stepGranularity(req.Arguments.Granularity, thread))
}

func (s *Session) onStepIn(c dapsrv.Context, req *dap.StepInRequest, resp *dap.StepInResponse) error {
	thread, err := s.threadByID(uint64(req.Arguments.ThreadId))
	if err != nil {
		return err
	}
	s.beforeResume()
	return thread.StepInto(s.stepGranularity(req.Arguments.Granularity, thread))
}

func (s *Session) onStepInTargets(c dapsrv.Context, req *dap.StepInTargetsRequest, resp *dap.StepInTargetsResponse) error {
	// The engine cannot enumerate call targets ahead of stepping; an empty
	// list tells the client to fall back to a plain step-in.
	resp.Body.Targets = []dap.StepInTarget{}
	return nil
}

func (s *Session) onStepOut(c dapsrv.Context, req *dap.StepOutRequest, resp *dap.StepOutResponse) error {
	thread, err := s.threadByID(uint64(req.Arguments.ThreadId))
	if err != nil {
		return err
	}
	s.beforeResume()
	if err := thread.StepOut(); err != nil {
		return dapsrv.BlameUserError(err)
	}
	if s.process.State().IsStopped() {
		s.notifyProcessStopped(c)
	}
	return nil
}

// reverseExecutionSupported gates reverse stepping on the engine version;
// older engines mishandle the reverse-execution packets.
func (s *Session) reverseExecutionSupported() bool {
	fields := strings.Fields(s.debugger.Version())
	for _, f := range fields {
		if v, err := semver.NewVersion(f); err == nil {
			return v.Major() >= 14
		}
	}
	return false
}

func (s *Session) onStepBack(c dapsrv.Context, req *dap.StepBackRequest, resp *dap.StepBackResponse) error {
	if !s.reverseExecutionSupported() {
		return dapsrv.BlameUserError(errors.New("Reverse execution is not supported by this engine version."))
	}
	s.beforeResume()
	// Reverse line-step is not supported, switch to disassembly mode.
	s.settings.showDisassembly = showDisassemblyAlways
	return s.reverseExec(c, []string{
		fmt.Sprintf("process plugin packet send Hc%x", req.Arguments.ThreadId), // select thread
		"process plugin packet send bs",                                       // reverse-step
		"process plugin packet send bs",                                       // reverse-step so we can forward step
		"stepi",                                                               // forward-step to refresh cached debuggee state
	})
}

func (s *Session) onReverseContinue(c dapsrv.Context, req *dap.ReverseContinueRequest, resp *dap.ReverseContinueResponse) error {
	if !s.reverseExecutionSupported() {
		return dapsrv.BlameUserError(errors.New("Reverse execution is not supported by this engine version."))
	}
	s.beforeResume()
	return s.reverseExec(c, []string{
		fmt.Sprintf("process plugin packet send Hc%x", req.Arguments.ThreadId),
		"process plugin packet send bc",
		"process plugin packet send bs",
		"stepi",
	})
}

func (s *Session) reverseExec(c dapsrv.Context, commands []string) error {
	for _, command := range commands {
		result, err := s.debugger.ExecuteCommand(command, nil)
		if err != nil {
			message := result.Error
			if message == "" {
				message = err.Error()
			}
			s.consoleError(c, message)
			return errors.New(message)
		}
	}
	return nil
}

func (s *Session) onGotoTargets(c dapsrv.Context, req *dap.GotoTargetsRequest, resp *dap.GotoTargetsResponse) error {
	resp.Body.Targets = []dap.GotoTarget{{
		Id:    1,
		Label: fmt.Sprintf("line %d", req.Arguments.Line),
		Line:  req.Arguments.Line,
	}}
	args := req.Arguments
	s.lastGotoRequest = &args
	return nil
}

func (s *Session) onGoto(c dapsrv.Context, req *dap.GotoRequest, resp *dap.GotoResponse) error {
	if s.lastGotoRequest == nil {
		return errors.New("Unexpected goto message.")
	}
	goto_ := s.lastGotoRequest

	thread, err := s.threadByID(uint64(req.Arguments.ThreadId))
	if err != nil {
		return err
	}

	if ref := goto_.Source.SourceReference; ref != 0 {
		dasm, ok := s.disasm.FindByHandle(ref)
		if !ok {
			return errors.New("Invalid source reference.")
		}
		addr := dasm.AddressByLineNum(goto_.Line)
		frame, ok := thread.FrameAtIndex(0)
		if !ok {
			return errors.New("No frame.")
		}
		if !frame.SetPC(addr) {
			return dapsrv.BlameUserError(errors.New("Failed to set the instruction pointer."))
		}
		s.refreshClientDisplay(c, thread.ThreadID())
		return nil
	}

	if err := thread.JumpToLine(goto_.Source.Path, goto_.Line); err != nil {
		return dapsrv.BlameUserError(err)
	}
	s.lastGotoRequest = nil
	s.refreshClientDisplay(c, thread.ThreadID())
	return nil
}

func (s *Session) onRestartFrame(c dapsrv.Context, req *dap.RestartFrameRequest, resp *dap.RestartFrameResponse) error {
	cont, ok := s.varRefs.Get(req.Arguments.FrameId)
	if !ok || cont.kind != containerStackFrame {
		return errors.New("Invalid frameId")
	}
	frame := cont.frame
	thread := frame.Thread()
	if err := thread.ReturnFromFrame(frame); err != nil {
		return dapsrv.BlameUserError(err)
	}
	s.sendEvent(c, &dap.StoppedEvent{
		Event: dap.Event{Event: "stopped"},
		Body: dap.StoppedEventBody{
			ThreadId:          int(thread.ThreadID()),
			AllThreadsStopped: true,
			Reason:            "restart",
		},
	})
	return nil
}

func (s *Session) onSource(c dapsrv.Context, req *dap.SourceRequest, resp *dap.SourceResponse) error {
	if err := s.requireTarget(); err != nil {
		return err
	}
	ref := req.Arguments.SourceReference
	if ref == 0 && req.Arguments.Source != nil {
		ref = req.Arguments.Source.SourceReference
	}
	dasm, ok := s.disasm.FindByHandle(ref)
	if !ok {
		return dapsrv.BlameUserError(errors.Errorf("Invalid source reference: %d", ref))
	}
	resp.Body.Content = dasm.SourceText()
	resp.Body.MimeType = "text/x-lldb.disassembly"
	return nil
}

func (s *Session) onModules(c dapsrv.Context, req *dap.ModulesRequest, resp *dap.ModulesResponse) error {
	if err := s.requireTarget(); err != nil {
		return err
	}
	modules := s.target.Modules()
	start := req.Arguments.StartModule
	count := req.Arguments.ModuleCount
	if count <= 0 || start+count > len(modules) {
		count = len(modules) - start
	}

	resp.Body.Modules = []dap.Module{}
	for i := start; i < start+count && i >= 0; i++ {
		resp.Body.Modules = append(resp.Body.Modules, s.makeModuleDetail(modules[i]))
	}
	resp.Body.TotalModules = len(modules)
	return nil
}

func (s *Session) moduleID(module lldb.Module) string {
	if addr, ok := module.ObjectHeaderAddress(); ok {
		return fmt.Sprintf("%X", addr)
	}
	// Header address not always available, fall back to path.
	return module.Path()
}

func (s *Session) makeModuleDetail(module lldb.Module) dap.Module {
	msg := dap.Module{
		Id:   s.moduleID(module),
		Name: module.Name(),
		Path: module.Path(),
	}
	if addr, ok := module.ObjectHeaderAddress(); ok {
		msg.AddressRange = fmt.Sprintf("%X", addr)
	}
	if path, ok := module.SymbolFilePath(); ok {
		msg.SymbolStatus = "Symbols loaded."
		msg.SymbolFilePath = path
	} else {
		msg.SymbolStatus = "Symbols not found"
	}
	return msg
}

func (s *Session) onExceptionInfo(c dapsrv.Context, req *dap.ExceptionInfoRequest, resp *dap.ExceptionInfoResponse) error {
	thread, err := s.threadByID(uint64(req.Arguments.ThreadId))
	if err != nil {
		return err
	}
	resp.Body.ExceptionId = thread.StopReason().String()
	resp.Body.Description = thread.StopDescription()
	resp.Body.BreakMode = "always"
	return nil
}

func (s *Session) onSymbols(c dapsrv.Context, req *dapsrv.SymbolsRequest, resp *dapsrv.SymbolsResponse) error {
	if err := s.requireTarget(); err != nil {
		return err
	}
	filter := strings.ToLower(req.Arguments.Filter)
	maxResults := req.Arguments.MaxResults
	if maxResults <= 0 {
		maxResults = 100
	}

	resp.Body.Symbols = []dapsrv.SymbolInfo{}
outer:
	for _, module := range s.target.Modules() {
		for i := 0; i < module.NumSymbols(); i++ {
			sym := module.SymbolAtIndex(i)
			if sym.Type != lldb.SymbolTypeCode && sym.Type != lldb.SymbolTypeData {
				continue
			}
			if !strings.Contains(strings.ToLower(sym.Name), filter) {
				continue
			}

			info := dapsrv.SymbolInfo{
				Name: sym.Name,
				Type: sym.Type.String(),
			}
			if sym.StartAddress != nil {
				info.Address = fmt.Sprintf("0x%X", sym.StartAddress.LoadAddress())
				if le, ok := sym.StartAddress.LineEntry(); ok {
					if local, ok := s.mapPathToLocal(le.Path); ok {
						info.Location = &dapsrv.SymbolLoc{
							Source: dap.Source{
								Name: filepath.Base(local),
								Path: local,
							},
							Line: le.Line,
						}
					}
				}
			}
			resp.Body.Symbols = append(resp.Body.Symbols, info)

			if len(resp.Body.Symbols) >= maxResults {
				break outer
			}
		}
	}
	return nil
}

func (s *Session) onDisconnect(c dapsrv.Context, req *dap.DisconnectRequest, resp *dap.DisconnectResponse) error {
	if len(s.exitCommands) > 0 {
		if err := s.execCommands(c, "exitCommands", s.exitCommands); err != nil {
			return err
		}
	}

	// Let go of the debuggee terminal.
	if s.debuggeeTerminal != nil {
		s.debuggeeTerminal.Close()
		s.debuggeeTerminal = nil
	}

	if s.process != nil && s.process.State().IsAlive() {
		terminate := s.terminateOnDisconnect
		if req.Arguments != nil && req.Arguments.TerminateDebuggee {
			terminate = true
		}
		if terminate {
			if err := s.process.Kill(); err != nil {
				return err
			}
		} else {
			if err := s.process.Detach(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) onTerminate(c dapsrv.Context, req *dap.TerminateRequest, resp *dap.TerminateResponse) error {
	if s.process == nil {
		return dapsrv.BlameUserError(errors.New("No debuggee process."))
	}
	return s.process.Kill()
}

func (s *Session) onRestart(c dapsrv.Context, req *dap.RestartRequest, resp *dap.RestartResponse) error {
	return dapsrv.BlameUserError(errors.New("Restart is not supported; terminate and start a new session."))
}
