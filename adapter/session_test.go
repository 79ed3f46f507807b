package adapter

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dapsrv "github.com/kestrel-dbg/kestrel/dap"
	"github.com/kestrel-dbg/kestrel/lldb"
	"github.com/kestrel-dbg/kestrel/lldb/lldbstub"
	"github.com/kestrel-dbg/kestrel/util/daptest"
)

type harness struct {
	session  *Session
	debugger *lldbstub.Debugger
	process  *lldbstub.Process
	thread   *lldbstub.Thread
	frame    *lldbstub.Frame
	client   *daptest.Client

	stopped   chan *dap.StoppedEvent
	continued chan *dap.ContinuedEvent
	output    chan *dap.OutputEvent
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	debugger := lldbstub.NewDebugger()
	target := debugger.Target()

	frame := lldbstub.NewFrame(0x401000, "main")
	frame.Line = &lldb.LineEntry{Path: "/p/a.c", Line: 10, Column: 1}
	thread := lldbstub.NewThread(1001, 1, "main-thread")
	thread.AddFrame(frame)
	process := lldbstub.NewProcess(4321)
	process.AddThread(thread)
	target.SetProcess(process)

	srvConn, client := daptest.Pipe(t)

	h := &harness{
		session:   New(debugger, Options{}),
		debugger:  debugger,
		process:   process,
		thread:    thread,
		frame:     frame,
		client:    client,
		stopped:   make(chan *dap.StoppedEvent, 16),
		continued: make(chan *dap.ContinuedEvent, 16),
		output:    make(chan *dap.OutputEvent, 64),
	}
	client.RegisterEvent("stopped", func(m dap.EventMessage) {
		h.stopped <- m.(*dap.StoppedEvent)
	})
	client.RegisterEvent("continued", func(m dap.EventMessage) {
		h.continued <- m.(*dap.ContinuedEvent)
	})
	client.RegisterEvent("output", func(m dap.EventMessage) {
		h.output <- m.(*dap.OutputEvent)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.session.Run(ctx, srvConn)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("session did not shut down")
		}
	})
	return h
}

func (h *harness) initialize(t *testing.T) *dap.InitializeResponse {
	t.Helper()
	resp := daptest.Await(t, daptest.DoRequest[*dap.InitializeResponse](t, h.client, &dap.InitializeRequest{
		Request: dap.Request{Command: "initialize"},
		Arguments: dap.InitializeRequestArguments{
			AdapterID:     "x",
			PathFormat:    "path",
			LinesStartAt1: true,
		},
	}))
	require.True(t, resp.Success)
	return resp
}

// launch drives the full two-phase start: launch → initialized →
// configure() → configurationDone → launch response.
func (h *harness) launch(t *testing.T, args string, configure func()) {
	t.Helper()

	initialized := make(chan struct{})
	h.client.RegisterEvent("initialized", func(dap.EventMessage) {
		close(initialized)
	})

	launchCh := daptest.DoRequest[*dap.LaunchResponse](t, h.client, &dap.LaunchRequest{
		Request:   dap.Request{Command: "launch"},
		Arguments: json.RawMessage(args),
	})

	select {
	case <-initialized:
	case <-time.After(5 * time.Second):
		t.Fatal("no initialized event")
	}
	if configure != nil {
		configure()
	}

	configDone := daptest.DoRequest[*dap.ConfigurationDoneResponse](t, h.client, &dap.ConfigurationDoneRequest{
		Request: dap.Request{Command: "configurationDone"},
	})

	launchResp := daptest.Await(t, launchCh)
	require.True(t, launchResp.Success, "launch failed: %s", launchResp.Message)
	require.True(t, daptest.Await(t, configDone).Success)
}

func (h *harness) awaitStopped(t *testing.T) *dap.StoppedEvent {
	t.Helper()
	select {
	case ev := <-h.stopped:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no stopped event")
		return nil
	}
}

func TestInitializeCapabilities(t *testing.T) {
	h := newHarness(t)
	resp := h.initialize(t)

	assert.True(t, resp.Body.SupportsConfigurationDoneRequest)
	assert.True(t, resp.Body.SupportsHitConditionalBreakpoints)
	assert.True(t, resp.Body.SupportsConditionalBreakpoints)
	assert.True(t, resp.Body.SupportsFunctionBreakpoints)
	assert.True(t, resp.Body.SupportsLogPoints)
	assert.True(t, resp.Body.SupportsCancelRequest)
	assert.True(t, resp.Body.SupportsDisassembleRequest)
	assert.True(t, resp.Body.SupportsReadMemoryRequest)
	assert.True(t, resp.Body.SupportsWriteMemoryRequest)
	assert.True(t, resp.Body.SupportsSteppingGranularity)
	assert.True(t, resp.Body.SupportsInstructionBreakpoints)
	assert.True(t, resp.Body.SupportsDataBreakpoints)
	assert.True(t, resp.Body.SupportsSetVariable)
	assert.True(t, resp.Body.SupportsDelayedStackTraceLoading)
	assert.True(t, resp.Body.SupportTerminateDebuggee)
	assert.True(t, resp.Body.SupportsExceptionInfoRequest)
	assert.True(t, resp.Body.SupportsExceptionFilterOptions)
	assert.True(t, resp.Body.SupportsClipboardContext)
	assert.True(t, resp.Body.SupportsModulesRequest)
	// Default source language is cpp, so only C++ filters are advertised.
	require.Len(t, resp.Body.ExceptionBreakpointFilters, 2)
	assert.Equal(t, "cpp_throw", resp.Body.ExceptionBreakpointFilters[0].Filter)
}

func TestLaunchStopOnEntry(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.debugger.Target().AddSourceLine("/p/a.c", 10, 0x401010)

	var bpResp *dap.SetBreakpointsResponse
	h.launch(t, `{"program":"/p/a.out","stopOnEntry":true,"console":"internalConsole"}`, func() {
		bpResp = daptest.Await(t, daptest.DoRequest[*dap.SetBreakpointsResponse](t, h.client, &dap.SetBreakpointsRequest{
			Request: dap.Request{Command: "setBreakpoints"},
			Arguments: dap.SetBreakpointsArguments{
				Source:      dap.Source{Path: "/p/a.c"},
				Breakpoints: []dap.SourceBreakpoint{{Line: 10}},
			},
		}))
	})

	require.True(t, bpResp.Success)
	require.Len(t, bpResp.Body.Breakpoints, 1)
	assert.True(t, bpResp.Body.Breakpoints[0].Verified)

	ev := h.awaitStopped(t)
	assert.True(t, ev.Body.AllThreadsStopped)

	require.NotNil(t, h.process.LaunchedWith)
	assert.True(t, h.process.LaunchedWith.StopAtEntry)
}

func TestLaunchEnvironmentComposition(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	t.Setenv("KESTREL_TEST_HOST_VAR", "from-host")
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("A=from-file\nB=from-file\n# comment\n"), 0o644))

	h.launch(t, `{"program":"/p/a.out","console":"internalConsole",`+
		`"envFile":`+strconv.Quote(envFile)+`,"env":{"B":"from-launch"}}`, nil)

	require.NotNil(t, h.process.LaunchedWith)
	env := map[string]string{}
	for _, kv := range h.process.LaunchedWith.Env {
		if k, v, ok := cutKV(kv); ok {
			env[k] = v
		}
	}
	assert.Equal(t, "from-host", env["KESTREL_TEST_HOST_VAR"], "host env inherited when the engine says so")
	assert.Equal(t, "from-file", env["A"])
	assert.Equal(t, "from-launch", env["B"], "explicit env wins over envFile")
}

func cutKV(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func TestLogPointEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.debugger.Target().AddSourceLine("/p/a.c", 10, 0x401010)
	h.frame.ExprResults["x"] = lldbstub.Scalar("x", "7")

	h.launch(t, `{"program":"/p/a.out","console":"internalConsole"}`, func() {
		daptest.Await(t, daptest.DoRequest[*dap.SetBreakpointsResponse](t, h.client, &dap.SetBreakpointsRequest{
			Request: dap.Request{Command: "setBreakpoints"},
			Arguments: dap.SetBreakpointsArguments{
				Source:      dap.Source{Path: "/p/a.c"},
				Breakpoints: []dap.SourceBreakpoint{{Line: 10, LogMessage: "x={x}"}},
			},
		}))
	})

	var bp *lldbstub.Breakpoint
	for _, b := range h.debugger.Target().Breakpoints() {
		bp = b
	}
	require.NotNil(t, bp)

	stoppedHere := h.process.HitBreakpoint(bp, h.thread)
	assert.False(t, stoppedHere, "log points never stop")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-h.output:
			if ev.Body.Output == "x=7\n" {
				return
			}
		case ev := <-h.stopped:
			t.Fatalf("unexpected stopped event: %+v", ev.Body)
		case <-deadline:
			t.Fatal("no log-point output event")
		}
	}
}

func TestHitConditionModuloEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.debugger.Target().AddSourceLine("/p/a.c", 10, 0x401010)

	h.launch(t, `{"program":"/p/a.out","console":"internalConsole"}`, func() {
		daptest.Await(t, daptest.DoRequest[*dap.SetBreakpointsResponse](t, h.client, &dap.SetBreakpointsRequest{
			Request: dap.Request{Command: "setBreakpoints"},
			Arguments: dap.SetBreakpointsArguments{
				Source:      dap.Source{Path: "/p/a.c"},
				Breakpoints: []dap.SourceBreakpoint{{Line: 10, HitCondition: "%3"}},
			},
		}))
	})

	var bp *lldbstub.Breakpoint
	for _, b := range h.debugger.Target().Breakpoints() {
		bp = b
	}
	require.NotNil(t, bp)

	stops := 0
	for i := 0; i < 9; i++ {
		if h.process.HitBreakpoint(bp, h.thread) {
			stops++
			h.awaitStopped(t)
		}
	}
	assert.Equal(t, 3, stops, "hits 3, 6 and 9 stop")
}

func TestStopClassificationPrefersMeaningfulThread(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.launch(t, `{"program":"/p/a.out","console":"internalConsole"}`, nil)

	// The selected thread has no stop reason; another thread hit a
	// breakpoint.
	other := lldbstub.NewThread(1002, 2, "worker")
	other.AddFrame(lldbstub.NewFrame(0x402000, "worker_fn"))
	other.StopReasonV = lldb.StopReasonBreakpoint
	other.StopReasonData = []uint64{77}
	h.process.AddThread(other)
	h.thread.StopReasonV = lldb.StopReasonNone

	h.debugger.PushEvent(lldb.ProcessEvent{State: lldb.StateStopped})

	ev := h.awaitStopped(t)
	assert.Equal(t, 1002, ev.Body.ThreadId)
	assert.Equal(t, "breakpoint", ev.Body.Reason)
	assert.Equal(t, []int{77}, ev.Body.HitBreakpointIds)
}

func TestWatchpointIDNamespace(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.launch(t, `{"program":"/p/a.out","console":"internalConsole"}`, nil)

	v := lldbstub.Scalar("counter", "0")
	v.LoadAddress0 = 0x601000
	h.frame.LocalVars = []*lldbstub.Value{v}

	stResp := daptest.Await(t, daptest.DoRequest[*dap.StackTraceResponse](t, h.client, &dap.StackTraceRequest{
		Request:   dap.Request{Command: "stackTrace"},
		Arguments: dap.StackTraceArguments{ThreadId: 1001},
	}))
	frameID := stResp.Body.StackFrames[0].Id

	scResp := daptest.Await(t, daptest.DoRequest[*dap.ScopesResponse](t, h.client, &dap.ScopesRequest{
		Request:   dap.Request{Command: "scopes"},
		Arguments: dap.ScopesArguments{FrameId: frameID},
	}))
	localsRef := scResp.Body.Scopes[0].VariablesReference

	infoResp := daptest.Await(t, daptest.DoRequest[*dap.DataBreakpointInfoResponse](t, h.client, &dap.DataBreakpointInfoRequest{
		Request:   dap.Request{Command: "dataBreakpointInfo"},
		Arguments: dap.DataBreakpointInfoArguments{VariablesReference: localsRef, Name: "counter"},
	}))
	dataID, ok := infoResp.Body.DataId.(string)
	require.True(t, ok, "dataId: %#v", infoResp.Body.DataId)
	require.NotEmpty(t, dataID)

	setResp := daptest.Await(t, daptest.DoRequest[*dap.SetDataBreakpointsResponse](t, h.client, &dap.SetDataBreakpointsRequest{
		Request: dap.Request{Command: "setDataBreakpoints"},
		Arguments: dap.SetDataBreakpointsArguments{
			Breakpoints: []dap.DataBreakpoint{{DataId: dataID, AccessType: "write"}},
		},
	}))
	require.Len(t, setResp.Body.Breakpoints, 1)
	require.True(t, setResp.Body.Breakpoints[0].Verified)
	wpBpID := setResp.Body.Breakpoints[0].Id
	assert.GreaterOrEqual(t, wpBpID, 1_000_000)

	// A watchpoint stop reports the same namespaced id.
	h.thread.StopReasonV = lldb.StopReasonWatchpoint
	h.thread.StopReasonData = []uint64{uint64(wpBpID - 1_000_000)}
	h.debugger.PushEvent(lldb.ProcessEvent{State: lldb.StateStopped})

	ev := h.awaitStopped(t)
	assert.Equal(t, "data breakpoint", ev.Body.Reason)
	assert.Equal(t, []int{wpBpID}, ev.Body.HitBreakpointIds)
}

func setupStoppedWithLocals(t *testing.T, h *harness) (frameID, localsRef int) {
	t.Helper()
	stResp := daptest.Await(t, daptest.DoRequest[*dap.StackTraceResponse](t, h.client, &dap.StackTraceRequest{
		Request:   dap.Request{Command: "stackTrace"},
		Arguments: dap.StackTraceArguments{ThreadId: 1001},
	}))
	require.True(t, stResp.Success)
	require.NotEmpty(t, stResp.Body.StackFrames)
	frameID = stResp.Body.StackFrames[0].Id

	scResp := daptest.Await(t, daptest.DoRequest[*dap.ScopesResponse](t, h.client, &dap.ScopesRequest{
		Request:   dap.Request{Command: "scopes"},
		Arguments: dap.ScopesArguments{FrameId: frameID},
	}))
	require.True(t, scResp.Success)
	localsRef = scResp.Body.Scopes[0].VariablesReference
	return frameID, localsRef
}

func TestContinueCancelsInflightVariables(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.launch(t, `{"program":"/p/a.out","console":"internalConsole"}`, nil)

	slow := &lldbstub.Value{
		NameV:      "slow",
		TypeV:      lldbstub.StructType("Slow"),
		ChildCount: 1_000_000,
		ChildGen: func(i int) *lldbstub.Value {
			time.Sleep(time.Millisecond)
			return lldbstub.Scalar("["+strconv.Itoa(i)+"]", "0")
		},
	}
	h.frame.LocalVars = []*lldbstub.Value{slow}
	_, localsRef := setupStoppedWithLocals(t, h)

	varsResp := daptest.Await(t, daptest.DoRequest[*dap.VariablesResponse](t, h.client, &dap.VariablesRequest{
		Request:   dap.Request{Command: "variables"},
		Arguments: dap.VariablesArguments{VariablesReference: localsRef},
	}))
	slowRef := varsResp.Body.Variables[0].VariablesReference
	require.Greater(t, slowRef, 0)

	// The child expansion takes ages; continue must cancel it.
	childCh := h.client.Send(&dap.VariablesRequest{
		Request:   dap.Request{Command: "variables"},
		Arguments: dap.VariablesArguments{VariablesReference: slowRef},
	})
	contCh := h.client.Send(&dap.ContinueRequest{
		Request:   dap.Request{Command: "continue"},
		Arguments: dap.ContinueArguments{ThreadId: 1001},
	})

	childResp := daptest.Await(t, childCh)
	assert.False(t, childResp.GetResponse().Success)
	assert.Contains(t, childResp.GetResponse().Message, "cancelled")

	contResp := daptest.Await(t, contCh)
	assert.True(t, contResp.GetResponse().Success)
}

func TestCancelSpecificRequest(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.launch(t, `{"program":"/p/a.out","console":"internalConsole"}`, nil)

	slow := &lldbstub.Value{
		NameV:      "slow",
		TypeV:      lldbstub.StructType("Slow"),
		ChildCount: 1_000_000,
		ChildGen: func(i int) *lldbstub.Value {
			time.Sleep(time.Millisecond)
			return lldbstub.Scalar("["+strconv.Itoa(i)+"]", "0")
		},
	}
	h.frame.LocalVars = []*lldbstub.Value{slow}
	_, localsRef := setupStoppedWithLocals(t, h)

	varsResp := daptest.Await(t, daptest.DoRequest[*dap.VariablesResponse](t, h.client, &dap.VariablesRequest{
		Request:   dap.Request{Command: "variables"},
		Arguments: dap.VariablesArguments{VariablesReference: localsRef},
	}))
	slowRef := varsResp.Body.Variables[0].VariablesReference

	slowReq := &dap.VariablesRequest{
		Request:   dap.Request{Command: "variables"},
		Arguments: dap.VariablesArguments{VariablesReference: slowRef},
	}
	childCh := h.client.Send(slowReq)

	cancelCh := h.client.Send(&dap.CancelRequest{
		Request:   dap.Request{Command: "cancel"},
		Arguments: &dap.CancelArguments{RequestId: slowReq.Seq},
	})

	childResp := daptest.Await(t, childCh)
	assert.False(t, childResp.GetResponse().Success)
	assert.Contains(t, childResp.GetResponse().Message, "cancelled")
	assert.True(t, daptest.Await(t, cancelCh).GetResponse().Success)
}

func TestHandlesInvalidatedByResume(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.launch(t, `{"program":"/p/a.out","console":"internalConsole"}`, nil)

	h.frame.LocalVars = []*lldbstub.Value{lldbstub.Scalar("x", "1")}
	_, localsRef := setupStoppedWithLocals(t, h)

	vars := daptest.Await(t, daptest.DoRequest[*dap.VariablesResponse](t, h.client, &dap.VariablesRequest{
		Request:   dap.Request{Command: "variables"},
		Arguments: dap.VariablesArguments{VariablesReference: localsRef},
	}))
	require.True(t, vars.Success)

	contResp := daptest.Await(t, h.client.Send(&dap.ContinueRequest{
		Request:   dap.Request{Command: "continue"},
		Arguments: dap.ContinueArguments{ThreadId: 1001},
	}))
	require.True(t, contResp.GetResponse().Success)

	stale := daptest.Await(t, h.client.Send(&dap.VariablesRequest{
		Request:   dap.Request{Command: "variables"},
		Arguments: dap.VariablesArguments{VariablesReference: localsRef},
	}))
	assert.False(t, stale.GetResponse().Success)
	assert.Contains(t, stale.GetResponse().Message, "Invalid variables reference")
}

func TestUnknownCommandNotImplemented(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	resp := daptest.Await(t, h.client.Send(&dapsrv.UnknownRequest{
		Request: dap.Request{Command: "frobnicate"},
	}))
	assert.False(t, resp.GetResponse().Success)
	assert.Contains(t, resp.GetResponse().Message, "Not implemented.")
}

func TestEngineConsoleOutputBecomesEvents(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)

	h.debugger.ConsoleWrite("engine says hi\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-h.output:
			if ev.Body.Category == "console" && ev.Body.Output == "engine says hi\n" {
				return
			}
		case <-deadline:
			t.Fatal("no console output event")
		}
	}
}

func TestDisconnectKillsLaunchedDebuggee(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.launch(t, `{"program":"/p/a.out","console":"internalConsole"}`, nil)
	h.process.SetState(lldb.StateStopped)

	resp := daptest.Await(t, daptest.DoRequest[*dap.DisconnectResponse](t, h.client, &dap.DisconnectRequest{
		Request: dap.Request{Command: "disconnect"},
	}))
	require.True(t, resp.Success)
	assert.True(t, h.process.Killed, "launched debuggees are killed on disconnect")
	assert.False(t, h.process.Detached)
}

func TestReadWriteMemory(t *testing.T) {
	h := newHarness(t)
	h.initialize(t)
	h.launch(t, `{"program":"/p/a.out","console":"internalConsole"}`, nil)

	h.process.Regions = []lldbstub.MemRegion{{Start: 0x600000, End: 0x601000, Readable: true, Writable: true}}
	h.process.Memory[0x600100] = []byte{1, 2, 3, 4}

	readResp := daptest.Await(t, daptest.DoRequest[*dap.ReadMemoryResponse](t, h.client, &dap.ReadMemoryRequest{
		Request:   dap.Request{Command: "readMemory"},
		Arguments: dap.ReadMemoryArguments{MemoryReference: "0x600100", Count: 4},
	}))
	require.True(t, readResp.Success)
	assert.Equal(t, "AQIDBA==", readResp.Body.Data)
	assert.Equal(t, 0, readResp.Body.UnreadableBytes)

	writeResp := daptest.Await(t, daptest.DoRequest[*dap.WriteMemoryResponse](t, h.client, &dap.WriteMemoryRequest{
		Request:   dap.Request{Command: "writeMemory"},
		Arguments: dap.WriteMemoryArguments{MemoryReference: "0x600200", Data: "BQY="},
	}))
	require.True(t, writeResp.Success)
	assert.Equal(t, 2, writeResp.Body.BytesWritten)
	assert.Equal(t, []byte{5, 6}, h.process.Memory[0x600200])
}
