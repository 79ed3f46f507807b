package lldbstub

import (
	"github.com/pkg/errors"

	"github.com/kestrel-dbg/kestrel/lldb"
)

// Frame is a stub stack frame.
type Frame struct {
	thread *Thread

	PCV      uint64
	Function string
	Sym      string
	Line     *lldb.LineEntry
	Mod      *Module

	Valid bool

	// LocalVars/StaticVars/GlobalVars/RegisterVars back the variable
	// scopes; ExprResults backs EvaluateExpression.
	LocalVars    []*Value
	StaticVars   []*Value
	GlobalVars   []*Value
	RegisterVars []*Value
	ExprResults  map[string]*Value
}

var _ lldb.Frame = (*Frame)(nil)

func NewFrame(pc uint64, function string) *Frame {
	return &Frame{
		PCV:         pc,
		Function:    function,
		Sym:         function,
		Valid:       true,
		ExprResults: map[string]*Value{},
	}
}

func (f *Frame) IsValid() bool { return f.Valid }

func (f *Frame) Thread() lldb.Thread { return f.thread }

func (f *Frame) PC() uint64 { return f.PCV }

func (f *Frame) SetPC(addr uint64) bool {
	f.PCV = addr
	return true
}

func (f *Frame) FunctionName() string { return f.Function }

func (f *Frame) Symbol() (string, bool) { return f.Sym, f.Sym != "" }

func (f *Frame) LineEntry() (lldb.LineEntry, bool) {
	if f.Line == nil {
		return lldb.LineEntry{}, false
	}
	return *f.Line, true
}

func (f *Frame) Module() (lldb.Module, bool) {
	if f.Mod == nil {
		return nil, false
	}
	return f.Mod, true
}

func (f *Frame) Variables(opts lldb.VariableOptions) []lldb.Value {
	var out []lldb.Value
	if opts.Locals || opts.Arguments {
		for _, v := range f.LocalVars {
			out = append(out, v)
		}
	}
	if opts.Statics {
		for _, v := range f.StaticVars {
			out = append(out, v)
		}
		for _, v := range f.GlobalVars {
			out = append(out, v)
		}
	}
	return out
}

func (f *Frame) FindVariable(name string) (lldb.Value, bool) {
	for _, v := range f.LocalVars {
		if v.NameV == name {
			return v, true
		}
	}
	return nil, false
}

func (f *Frame) FindValue(name string, class lldb.ValueClass) (lldb.Value, bool) {
	pools := map[lldb.ValueClass][]*Value{
		lldb.ValueClassVariableGlobal: f.GlobalVars,
		lldb.ValueClassVariableStatic: f.StaticVars,
	}
	for _, v := range pools[class] {
		if v.NameV == name {
			return v, true
		}
	}
	return nil, false
}

func (f *Frame) Registers() []lldb.Value {
	out := make([]lldb.Value, len(f.RegisterVars))
	for i, v := range f.RegisterVars {
		out[i] = v
	}
	return out
}

func (f *Frame) EvaluateExpression(expr string) (lldb.Value, error) {
	if v, ok := f.ExprResults[expr]; ok {
		if v.Err != nil {
			return nil, v.Err
		}
		return v, nil
	}
	return nil, errors.Errorf("cannot evaluate %q", expr)
}
