// Package adapter implements the debug session core: a single-threaded
// session loop multiplexing client requests, engine events and debuggee
// console output, the breakpoint catalog with its engine-thread callback
// bridge, the variables engine and the launch/attach orchestrator.
package adapter

import (
	"bytes"
	"context"
	"io"
	"reflect"

	"github.com/google/go-dap"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kestrel-dbg/kestrel/cancellation"
	dapsrv "github.com/kestrel-dbg/kestrel/dap"
	"github.com/kestrel-dbg/kestrel/expressions"
	"github.com/kestrel-dbg/kestrel/lldb"
	"github.com/kestrel-dbg/kestrel/script"
	"github.com/kestrel-dbg/kestrel/terminal"
)

// Options configures a session before the client connects.
type Options struct {
	// Settings are the initial adapter settings (e.g. from the settings
	// file); the client may override them per-launch and per-request.
	Settings dapsrv.AdapterSettings
	// Interpreter is the optional embedded scripting interpreter.
	Interpreter script.Interpreter
	// AgentPath is the executable spawned in client terminals to provide
	// the debuggee tty; empty disables runInTerminal provisioning.
	AgentPath string
}

// container is what a variables reference resolves to.
type container struct {
	kind  containerKind
	frame lldb.Frame
	value lldb.Value
}

type containerKind int

const (
	containerStackFrame containerKind = iota
	containerLocals
	containerStatics
	containerGlobals
	containerRegisters
	containerValue
)

// Session is the state machine behind one client connection. All fields are
// owned by the session loop goroutine; exclusivity is structural, there are
// no locks.
type Session struct {
	srv    *dapsrv.Server
	interp script.Interpreter

	debugger lldb.Debugger
	target   lldb.Target
	process  lldb.Process

	terminateOnDisconnect bool
	noDebug               bool

	breakpoints      breakpointCatalog
	varRefs          *handleTree[container]
	disasm           *addressSpace
	sourceMapCache   map[string]*string
	relativePathBase string

	clientCaps dap.InitializeRequestArguments
	settings   sessionSettings

	currentCancel *cancellation.Receiver

	configDone     chan struct{}
	configDoneSent bool
	finalizeDone   chan struct{}

	defaultExprKind  expressions.Kind
	breakpointMode   breakpointMode
	exitCommands     []string
	debuggeeTerminal *terminal.Terminal
	agentPath        string

	selectedFrameChanged bool
	lastGotoRequest      *dap.GotoTargetsArguments

	consoleWriter *io.PipeWriter

	tasks chan func(c dapsrv.Context)
	done  chan struct{}
}

// New creates a session around a fresh engine debugger.
func New(debugger lldb.Debugger, opts Options) *Session {
	lldb.Initialize()

	s := &Session{
		srv:             dapsrv.NewServer(),
		interp:          opts.Interpreter,
		debugger:        debugger,
		varRefs:         newHandleTree[container](),
		sourceMapCache:  make(map[string]*string),
		settings:        defaultSettings(),
		currentCancel:   cancellation.Dummy(),
		configDone:      make(chan struct{}),
		defaultExprKind: expressions.Simple,
		agentPath:       opts.AgentPath,
		tasks:           make(chan func(c dapsrv.Context)),
		done:            make(chan struct{}),
	}
	if s.interp == nil {
		s.defaultExprKind = expressions.Native
	}
	s.breakpoints.init()
	s.updateAdapterSettings(&opts.Settings)
	return s
}

// Run serves one connection until the client disconnects and the loop
// drains.
func (s *Session) Run(ctx context.Context, conn dapsrv.Conn) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.srv.Serve(ctx, conn)
	})

	select {
	case <-s.srv.Ready():
	case <-ctx.Done():
		return context.Cause(ctx)
	}

	// Engine console output becomes "console" output events.
	pr, pw := io.Pipe()
	s.consoleWriter = pw
	s.debugger.SetOutputWriter(pw)
	s.srv.Go(func(c dapsrv.Context) {
		pipeConsoleOutput(c, pr, "console")
	})

	// Interpreter-originated events are forwarded verbatim.
	if s.interp != nil {
		events := s.interp.Events()
		s.srv.Go(func(c dapsrv.Context) {
			for ev := range events {
				c.C() <- ev
			}
		})
	}

	started := s.srv.Go(func(c dapsrv.Context) {
		s.loop(c)
	})
	if !started {
		return errors.New("server not accepting tasks")
	}

	err := eg.Wait()
	if errors.Is(err, dapsrv.ErrServerStopped) {
		err = nil
	}
	return err
}

// loop is the session's single-threaded event loop.
func (s *Session) loop(c dapsrv.Context) {
	defer close(s.done)

	events := s.debugger.Events()
	for {
		select {
		case req, ok := <-s.srv.Requests():
			if !ok {
				s.shutdown(c)
				return
			}
			s.handleRequest(c, req)
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleDebugEvent(c, event)
		case fn := <-s.tasks:
			fn(c)
		}
	}
}

// post schedules fn on the session loop; false means the session is gone.
func (s *Session) post(fn func(c dapsrv.Context)) bool {
	select {
	case s.tasks <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the session loop and waits for its result. Must not be
// called from the loop itself.
func (s *Session) call(fn func(c dapsrv.Context) (dap.ResponseMessage, error)) (dap.ResponseMessage, error) {
	type result struct {
		resp dap.ResponseMessage
		err  error
	}
	ch := make(chan result, 1)
	if !s.post(func(c dapsrv.Context) {
		resp, err := fn(c)
		ch <- result{resp, err}
	}) {
		return nil, errors.New("session closed")
	}
	r := <-ch
	return r.resp, r.err
}

func (s *Session) shutdown(c dapsrv.Context) {
	var result *multierror.Error

	if s.debuggeeTerminal != nil {
		result = multierror.Append(result, s.debuggeeTerminal.Close())
		s.debuggeeTerminal = nil
	}
	s.breakpoints.clearCallbacks()
	if s.interp != nil {
		s.interp.Close()
	}
	if s.consoleWriter != nil {
		result = multierror.Append(result, s.consoleWriter.Close())
	}
	s.debugger.Dispose()

	if err := result.ErrorOrNil(); err != nil {
		logrus.WithError(err).Debug("session shutdown")
	}
	s.srv.Stop()
}

// deferredResponse smuggles a deferred computation out of a handler. The
// dispatcher spawns run as a server task and sends its result with the
// original request sequence number.
type deferredResponse struct {
	run func(c dapsrv.Context) (dap.ResponseMessage, error)
}

func (d *deferredResponse) Error() string { return "deferred response" }

func (s *Session) handleRequest(c dapsrv.Context, req *dapsrv.Request) {
	if req.Cancel.IsCancelled() {
		s.sendResponse(c, req.Msg, nil, dapsrv.BlameUserError(errors.New("cancelled")))
		req.Cancel.Release()
		return
	}

	if s.interp != nil {
		req.Cancel.AddCallback(s.interp.InterruptSender())
	}
	s.currentCancel = req.Cancel

	resp, err := s.dispatch(c, req.Msg)

	s.currentCancel = cancellation.Dummy()

	var deferred *deferredResponse
	if errors.As(err, &deferred) {
		msg := req.Msg
		c.Go(func(c dapsrv.Context) {
			defer req.Cancel.Release()
			resp, err := deferred.run(c)
			s.sendResponse(c, msg, resp, err)
		})
		return
	}
	req.Cancel.Release()
	s.sendResponse(c, req.Msg, resp, err)
}

// requiresDebuggee reports commands that cannot be served in noDebug mode.
func requiresDebuggee(cmd string) bool {
	switch cmd {
	case "initialize", "launch", "attach", "configurationDone", "disconnect",
		dapsrv.CommandAdapterSettings:
		return false
	}
	return true
}

func (s *Session) dispatch(c dapsrv.Context, m dap.RequestMessage) (dap.ResponseMessage, error) {
	if s.noDebug && requiresDebuggee(m.GetRequest().Command) {
		return nil, dapsrv.BlameUserError(errors.New("Not supported in noDebug mode."))
	}

	switch req := m.(type) {
	case *dap.InitializeRequest:
		return do(s, c, req, s.onInitialize)
	case *dap.LaunchRequest:
		return do(s, c, req, s.onLaunch)
	case *dap.AttachRequest:
		return do(s, c, req, s.onAttach)
	case *dap.RestartRequest:
		return do(s, c, req, s.onRestart)
	case *dap.ConfigurationDoneRequest:
		return do(s, c, req, s.onConfigurationDone)
	case *dap.DisconnectRequest:
		return do(s, c, req, s.onDisconnect)
	case *dap.TerminateRequest:
		return do(s, c, req, s.onTerminate)
	case *dap.SetBreakpointsRequest:
		return do(s, c, req, s.onSetBreakpoints)
	case *dap.SetFunctionBreakpointsRequest:
		return do(s, c, req, s.onSetFunctionBreakpoints)
	case *dap.SetInstructionBreakpointsRequest:
		return do(s, c, req, s.onSetInstructionBreakpoints)
	case *dap.SetExceptionBreakpointsRequest:
		return do(s, c, req, s.onSetExceptionBreakpoints)
	case *dap.DataBreakpointInfoRequest:
		return do(s, c, req, s.onDataBreakpointInfo)
	case *dap.SetDataBreakpointsRequest:
		return do(s, c, req, s.onSetDataBreakpoints)
	case *dap.ThreadsRequest:
		return do(s, c, req, s.onThreads)
	case *dap.StackTraceRequest:
		return do(s, c, req, s.onStackTrace)
	case *dap.ScopesRequest:
		return do(s, c, req, s.onScopes)
	case *dap.VariablesRequest:
		return do(s, c, req, s.onVariables)
	case *dap.SetVariableRequest:
		return do(s, c, req, s.onSetVariable)
	case *dap.EvaluateRequest:
		return do(s, c, req, s.onEvaluate)
	case *dap.CompletionsRequest:
		return do(s, c, req, s.onCompletions)
	case *dap.SourceRequest:
		return do(s, c, req, s.onSource)
	case *dap.ModulesRequest:
		return do(s, c, req, s.onModules)
	case *dap.PauseRequest:
		return do(s, c, req, s.onPause)
	case *dap.ContinueRequest:
		return do(s, c, req, s.onContinue)
	case *dap.NextRequest:
		return do(s, c, req, s.onNext)
	case *dap.StepInRequest:
		return do(s, c, req, s.onStepIn)
	case *dap.StepInTargetsRequest:
		return do(s, c, req, s.onStepInTargets)
	case *dap.StepOutRequest:
		return do(s, c, req, s.onStepOut)
	case *dap.StepBackRequest:
		return do(s, c, req, s.onStepBack)
	case *dap.ReverseContinueRequest:
		return do(s, c, req, s.onReverseContinue)
	case *dap.GotoRequest:
		return do(s, c, req, s.onGoto)
	case *dap.GotoTargetsRequest:
		return do(s, c, req, s.onGotoTargets)
	case *dap.RestartFrameRequest:
		return do(s, c, req, s.onRestartFrame)
	case *dap.DisassembleRequest:
		return do(s, c, req, s.onDisassemble)
	case *dap.ReadMemoryRequest:
		return do(s, c, req, s.onReadMemory)
	case *dap.WriteMemoryRequest:
		return do(s, c, req, s.onWriteMemory)
	case *dap.ExceptionInfoRequest:
		return do(s, c, req, s.onExceptionInfo)
	case *dapsrv.AdapterSettingsRequest:
		return do(s, c, req, s.onAdapterSettings)
	case *dapsrv.SymbolsRequest:
		return do(s, c, req, s.onSymbols)
	case *dapsrv.ExcludeCallerRequest:
		return do(s, c, req, s.onExcludeCaller)
	case *dapsrv.SetExcludedCallersRequest:
		return do(s, c, req, s.onSetExcludedCallers)
	default:
		logrus.Infof("received an unknown command: %s", m.GetRequest().Command)
		return nil, dapsrv.BlameUserError(errors.New("Not implemented."))
	}
}

// do allocates the typed response for a handler and runs it.
func do[Req dap.RequestMessage, Resp dap.ResponseMessage](
	s *Session, c dapsrv.Context, req Req,
	h func(c dapsrv.Context, req Req, resp Resp) error,
) (dap.ResponseMessage, error) {
	respT := reflect.TypeFor[Resp]()
	resp := reflect.New(respT.Elem()).Interface().(Resp)
	err := h(c, req, resp)
	return resp, err
}

func (s *Session) sendResponse(c dapsrv.Context, req dap.RequestMessage, resp dap.ResponseMessage, err error) {
	if err != nil {
		message, show := dapsrv.ClassifyError(err)
		if show {
			logrus.Error(message)
		} else {
			logrus.Debug(message)
		}
		eresp := &dap.ErrorResponse{}
		eresp.Message = message
		eresp.Body.Error = &dap.ErrorMessage{
			Format:   message,
			ShowUser: show,
		}
		resp = eresp
	} else if resp == nil {
		resp = &dap.Response{}
	}

	r := resp.GetResponse()
	r.RequestSeq = req.GetSeq()
	r.Command = req.GetRequest().Command
	r.Success = err == nil
	c.C() <- resp
}

func (s *Session) sendEvent(c dapsrv.Context, ev dap.EventMessage) {
	c.C() <- ev
}

func (s *Session) consoleMessage(c dapsrv.Context, output string) {
	s.consoleMessageImpl(c, "console", output)
}

func (s *Session) consoleError(c dapsrv.Context, output string) {
	s.consoleMessageImpl(c, "stderr", output)
}

func (s *Session) consoleMessageImpl(c dapsrv.Context, category, output string) {
	s.sendEvent(c, &dap.OutputEvent{
		Event: dap.Event{Event: "output"},
		Body: dap.OutputEventBody{
			Category: category,
			Output:   output + "\n",
		},
	})
}

func (s *Session) onInitialize(c dapsrv.Context, req *dap.InitializeRequest, resp *dap.InitializeResponse) error {
	s.clientCaps = req.Arguments
	resp.Body = s.makeCapabilities()
	return nil
}

func (s *Session) makeCapabilities() dap.Capabilities {
	return dap.Capabilities{
		SupportsConfigurationDoneRequest:   true,
		SupportsFunctionBreakpoints:        true,
		SupportsConditionalBreakpoints:     true,
		SupportsHitConditionalBreakpoints:  true,
		SupportsSetVariable:                true,
		SupportsGotoTargetsRequest:         true,
		SupportsDelayedStackTraceLoading:   true,
		SupportTerminateDebuggee:           true,
		SupportsLogPoints:                  true,
		SupportsDataBreakpoints:            true,
		SupportsCancelRequest:              true,
		SupportsDisassembleRequest:         true,
		SupportsSteppingGranularity:        true,
		SupportsInstructionBreakpoints:     true,
		SupportsReadMemoryRequest:          true,
		SupportsWriteMemoryRequest:         true,
		SupportsStepInTargetsRequest:       true,
		SupportsEvaluateForHovers:          s.settings.evaluateForHovers,
		SupportsCompletionsRequest:         s.settings.commandCompletions,
		SupportsExceptionInfoRequest:       true,
		SupportsExceptionFilterOptions:     true,
		SupportsClipboardContext:           true,
		SupportsModulesRequest:             true,
		SupportsTerminateRequest:           true,
		ExceptionBreakpointFilters:         exceptionFiltersFor(s.settings.sourceLanguages),
	}
}

func (s *Session) onAdapterSettings(c dapsrv.Context, req *dapsrv.AdapterSettingsRequest, resp *dap.Response) error {
	oldMode := s.settings.consoleMode
	caps, changed := s.updateAdapterSettings(&req.Arguments)
	if changed {
		s.sendEvent(c, &dap.CapabilitiesEvent{
			Event: dap.Event{Event: "capabilities"},
			Body:  dap.CapabilitiesEventBody{Capabilities: caps},
		})
	}
	if s.settings.consoleMode != oldMode {
		s.printConsoleMode(c)
	}
	if s.process != nil && s.process.State().IsStopped() {
		s.refreshClientDisplay(c, 0)
	}
	return nil
}

func (s *Session) printConsoleMode(c dapsrv.Context) {
	var message string
	switch s.settings.consoleMode {
	case consoleModeCommands:
		message = "Console is in 'commands' mode, prefix expressions with '?'."
	default:
		message = "Console is in 'evaluation' mode, prefix commands with '/cmd ' or '`'."
	}
	s.consoleMessage(c, message)
}

// refreshClientDisplay fakes a stop notification to make the client
// re-fetch threads, frames and variables.
func (s *Session) refreshClientDisplay(c dapsrv.Context, threadID uint64) {
	if threadID == 0 && s.process != nil {
		if t := s.process.SelectedThread(); t != nil {
			threadID = t.ThreadID()
		}
	}
	if s.clientCaps.SupportsInvalidatedEvent {
		s.sendEvent(c, &dap.InvalidatedEvent{
			Event: dap.Event{Event: "invalidated"},
			Body:  dap.InvalidatedEventBody{ThreadId: int(threadID)},
		})
	}
	s.sendEvent(c, &dap.StoppedEvent{
		Event: dap.Event{Event: "stopped"},
		Body: dap.StoppedEventBody{
			ThreadId:          int(threadID),
			AllThreadsStopped: true,
		},
	})
}

// beforeResume invalidates the entire variable handle space: engine objects
// referenced by handles may go stale the moment the debuggee runs.
func (s *Session) beforeResume() {
	s.varRefs.Reset()
	s.selectedFrameChanged = false
}

// execCommands runs a launch-configuration command sequence through the
// engine's interpreter, echoing output to the console.
func (s *Session) execCommands(c dapsrv.Context, scriptName string, commands []string) error {
	s.consoleMessage(c, "Executing script: "+scriptName)
	for _, command := range commands {
		result, err := s.debugger.ExecuteCommand(command, nil)
		logrus.Debugf("%s -> %v, %q", command, err, result.Output)
		if result.Output != "" {
			s.consoleMessage(c, result.Output)
		}
		if err != nil {
			if result.Error != "" {
				s.consoleError(c, result.Error)
				return dapsrv.BlameUserError(errors.New(result.Error))
			}
			return dapsrv.BlameUserError(err)
		}
	}
	return nil
}

// pipeConsoleOutput pumps a console stream into line-buffered output
// events.
func pipeConsoleOutput(c dapsrv.Context, r io.Reader, category string) {
	buf := make([]byte, 1024)
	var line []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			line = append(line, buf[:n]...)
			// Flush complete lines; keep the partial tail buffered.
			if idx := bytes.LastIndexByte(line, '\n'); idx >= 0 {
				c.C() <- &dap.OutputEvent{
					Event: dap.Event{Event: "output"},
					Body: dap.OutputEventBody{
						Category: category,
						Output:   string(line[:idx+1]),
					},
				}
				line = append(line[:0], line[idx+1:]...)
			}
		}
		if err != nil {
			if len(line) > 0 {
				c.C() <- &dap.OutputEvent{
					Event: dap.Event{Event: "output"},
					Body: dap.OutputEventBody{
						Category: category,
						Output:   string(line),
					},
				}
			}
			return
		}
	}
}
