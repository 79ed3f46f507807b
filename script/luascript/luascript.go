// Package luascript implements the script.Interpreter contract on top of a
// Lua interpreter. The simple expression dialect resolves bare identifiers
// against the evaluation context's frame variables.
package luascript

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	lua "github.com/yuin/gopher-lua"

	"github.com/kestrel-dbg/kestrel/lldb"
	"github.com/kestrel-dbg/kestrel/script"
)

type compiled struct {
	src    string
	origin string
}

// Interpreter hosts one Lua state per session. Evaluations are serialized
// by the session loop; only the interrupt callback may arrive concurrently.
type Interpreter struct {
	mu      sync.Mutex
	timeout time.Duration
	events  chan dap.Message

	interruptMu sync.Mutex
	interrupt   context.CancelFunc
}

var _ script.Interpreter = (*Interpreter)(nil)

func New() *Interpreter {
	return &Interpreter{
		timeout: 5 * time.Second,
		events:  make(chan dap.Message, 16),
	}
}

func (i *Interpreter) Compile(src, origin string) (script.Code, error) {
	// Validate on a scratch state; evaluation states are per-call so they
	// can carry the frame environment.
	l := lua.NewState()
	defer l.Close()
	if _, err := l.LoadString("return " + src); err != nil {
		if _, err2 := l.LoadString(src); err2 != nil {
			return nil, errors.Wrapf(err2, "cannot compile %s", origin)
		}
	}
	return &compiled{src: src, origin: origin}, nil
}

func (i *Interpreter) Evaluate(code script.Code, simple bool, ctx script.EvalContext) (lldb.Value, error) {
	lv, err := i.eval(code, simple, ctx)
	if err != nil {
		return nil, err
	}
	return fromLua(lv), nil
}

func (i *Interpreter) EvaluateAsBool(code script.Code, simple bool, ctx script.EvalContext) (bool, error) {
	lv, err := i.eval(code, simple, ctx)
	if err != nil {
		return false, err
	}
	return lua.LVAsBool(lv), nil
}

func (i *Interpreter) eval(code script.Code, simple bool, ectx script.EvalContext) (lua.LValue, error) {
	cc, ok := code.(*compiled)
	if !ok {
		return nil, errors.New("foreign code object")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	l := lua.NewState()
	defer l.Close()

	ctx, cancel := context.WithTimeout(context.Background(), i.timeout)
	defer cancel()
	l.SetContext(ctx)

	i.interruptMu.Lock()
	i.interrupt = cancel
	i.interruptMu.Unlock()
	defer func() {
		i.interruptMu.Lock()
		i.interrupt = nil
		i.interruptMu.Unlock()
	}()

	l.SetGlobal("print", l.NewFunction(func(l *lua.LState) int {
		var out string
		for n := 1; n <= l.GetTop(); n++ {
			if n > 1 {
				out += "\t"
			}
			out += l.ToStringMeta(l.Get(n)).String()
		}
		i.post(&dap.OutputEvent{
			Event: dap.Event{Event: "output"},
			Body:  dap.OutputEventBody{Category: "console", Output: out + "\n"},
		})
		return 0
	}))

	if simple && ectx.Frame != nil {
		i.installVariableResolver(l, ectx.Frame)
	}

	fn, err := l.LoadString("return " + cc.src)
	if err != nil {
		fn, err = l.LoadString(cc.src)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot compile %s", cc.origin)
		}
	}

	l.Push(fn)
	if err := l.PCall(0, 1, nil); err != nil {
		return nil, errors.Wrapf(err, "evaluation of %s failed", cc.origin)
	}
	return l.Get(-1), nil
}

// installVariableResolver makes unresolved globals fall back to debuggee
// variables of the evaluation frame.
func (i *Interpreter) installVariableResolver(l *lua.LState, frame lldb.Frame) {
	mt := l.NewTable()
	l.SetField(mt, "__index", l.NewFunction(func(l *lua.LState) int {
		name := l.CheckString(2)
		v, ok := frame.FindVariable(name)
		if !ok {
			l.Push(lua.LNil)
			return 1
		}
		l.Push(toLua(v))
		return 1
	}))
	l.SetMetatable(l.G.Global, mt)
}

func toLua(v lldb.Value) lua.LValue {
	if s, ok := v.Value(); ok {
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return lua.LNumber(n)
		}
		switch s {
		case "true":
			return lua.LTrue
		case "false":
			return lua.LFalse
		}
		return lua.LString(s)
	}
	if s, ok := v.Summary(); ok {
		return lua.LString(s)
	}
	return lua.LNil
}

func (i *Interpreter) post(m dap.Message) {
	select {
	case i.events <- m:
	default:
		logrus.Debug("luascript: event channel full, dropping event")
	}
}

func (i *Interpreter) InterruptSender() func() {
	return func() {
		i.interruptMu.Lock()
		cancel := i.interrupt
		i.interruptMu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
}

func (i *Interpreter) Events() <-chan dap.Message {
	return i.events
}

func (i *Interpreter) UpdateSettings(evaluationTimeout time.Duration) {
	i.mu.Lock()
	i.timeout = evaluationTimeout
	i.mu.Unlock()
}

func (i *Interpreter) Close() {
	close(i.events)
}
