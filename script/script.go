// Package script defines the contract the session consumes from the
// embedded scripting interpreter: compile to opaque code, evaluate in a
// debuggee context, evaluate as a boolean. Implementations host debug
// visualizers and non-native expression flavors.
package script

import (
	"time"

	"github.com/google/go-dap"

	"github.com/kestrel-dbg/kestrel/lldb"
)

// Code is an opaque compiled unit, produced by Compile and accepted back by
// the evaluate calls of the same interpreter.
type Code interface{}

// EvalContext is the debuggee context an evaluation runs against. Frame may
// be nil for global evaluations.
type EvalContext struct {
	Frame   lldb.Frame
	Target  lldb.Target
	Process lldb.Process
}

// Interpreter is the embedded scripting engine.
type Interpreter interface {
	// Compile parses src and returns opaque code. origin names the source
	// for diagnostics, e.g. "<breakpoint condition>".
	Compile(src, origin string) (Code, error)

	// Evaluate runs code in ctx and returns its result as an engine value.
	// simple selects the sugared expression dialect in which bare
	// identifiers resolve to debuggee variables.
	Evaluate(code Code, simple bool, ctx EvalContext) (lldb.Value, error)

	// EvaluateAsBool is Evaluate coerced to a stop/no-stop decision.
	EvaluateAsBool(code Code, simple bool, ctx EvalContext) (bool, error)

	// InterruptSender returns a callback that interrupts an in-flight
	// evaluation; the session wires it to request cancellation tokens.
	InterruptSender() func()

	// Events carries interpreter-originated protocol events (visualizer
	// output and the like).
	Events() <-chan dap.Message

	UpdateSettings(evaluationTimeout time.Duration)
	Close()
}
