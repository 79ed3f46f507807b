package adapter

import (
	"context"
	"testing"

	"github.com/google/go-dap"

	dapsrv "github.com/kestrel-dbg/kestrel/dap"
	"github.com/kestrel-dbg/kestrel/lldb/lldbstub"
)

// fakeContext satisfies dapsrv.Context for direct handler tests; emitted
// messages land in Sent.
type fakeContext struct {
	context.Context
	Sent chan dap.Message
}

func newFakeContext() *fakeContext {
	return &fakeContext{
		Context: context.Background(),
		Sent:    make(chan dap.Message, 256),
	}
}

func (c *fakeContext) C() chan<- dap.Message { return c.Sent }

func (c *fakeContext) Go(f func(c dapsrv.Context)) bool {
	go f(c)
	return true
}

func (c *fakeContext) Request(req dap.RequestMessage) dap.ResponseMessage {
	resp := &dap.Response{}
	resp.Success = true
	resp.RequestSeq = req.GetRequest().Seq
	resp.Command = req.GetRequest().Command
	return resp
}

// drainEvents collects the events currently buffered in the fake context.
func (c *fakeContext) drainEvents() []dap.Message {
	var out []dap.Message
	for {
		select {
		case m := <-c.Sent:
			out = append(out, m)
		default:
			return out
		}
	}
}

// newBenchSession builds a session wired to a stub engine with one stopped
// thread and one frame, without running the session loop. Handlers are
// invoked directly on the test goroutine.
func newBenchSession(t *testing.T) (*Session, *lldbstub.Debugger, *lldbstub.Process, *lldbstub.Thread, *lldbstub.Frame) {
	t.Helper()

	debugger := lldbstub.NewDebugger()
	target := debugger.Target()

	frame := lldbstub.NewFrame(0x401000, "main")
	thread := lldbstub.NewThread(1001, 1, "main-thread")
	thread.AddFrame(frame)
	process := lldbstub.NewProcess(4321)
	process.AddThread(thread)
	target.SetProcess(process)

	s := New(debugger, Options{})
	tgt, err := debugger.CreateTarget("/bin/app")
	if err != nil {
		t.Fatal(err)
	}
	s.initTarget(tgt)
	s.process = process
	t.Cleanup(func() { debugger.Dispose() })
	return s, debugger, process, thread, frame
}

