// Package lldb defines the capability set the adapter consumes from the
// native debugging engine. The adapter never links against the engine
// directly; a concrete binding (cgo SBAPI wrapper, remote stub, or the test
// stub in lldbstub) implements these interfaces.
package lldb

import (
	"io"
	"sync"
)

// InvalidAddress is the engine's sentinel for "no address".
const InvalidAddress = ^uint64(0)

var initOnce sync.Once

// Initialize performs process-global engine initialization. It is idempotent;
// the engine is treated as a process-lifetime resource.
func Initialize() {
	initOnce.Do(func() {})
}

// Debugger is the root engine object owned by a session.
type Debugger interface {
	// Events is the engine event stream. The channel is closed when the
	// debugger is disposed.
	Events() <-chan Event

	CreateTarget(program string) (Target, error)
	// SelectedTarget returns the target selected by interpreter commands
	// (used by targetCreateCommands launches).
	SelectedTarget() Target

	// ExecuteCommand runs one interpreter command, optionally in the context
	// of a frame. Output is written to the writer installed with
	// SetOutputWriter unless captured via the returned result.
	ExecuteCommand(command string, frame Frame) (CommandResult, error)
	// CompleteCommand returns the common continuation and the completion
	// candidates for the interpreter command at the cursor position.
	CompleteCommand(text string, cursor int) (string, []string)

	GetVariable(name string) []string
	SetVariable(name, value string) error

	// SetOutputWriter redirects the engine's own console output.
	SetOutputWriter(w io.Writer)

	Version() string
	Dispose()
}

// CommandResult carries the interpreter's captured output.
type CommandResult struct {
	Output string
	Error  string
}

// Target owns breakpoints, modules and the debuggee process.
type Target interface {
	Process() Process
	Launch(info LaunchInfo) (Process, error)
	Attach(info AttachInfo) (Process, error)
	Executable() string
	AddressByteSize() int
	Platform() string

	FindBreakpointByID(id int) Breakpoint
	CreateBreakpointByLocation(path string, line, column int) Breakpoint
	CreateBreakpointByLoadAddress(addr uint64) Breakpoint
	CreateBreakpointByName(name string) Breakpoint
	CreateBreakpointByRegex(pattern string) Breakpoint
	CreateBreakpointForException(lang Language, catch, throw bool) Breakpoint
	DeleteBreakpoint(id int)

	WatchAddress(addr uint64, size int, read, write bool) (Watchpoint, error)
	DeleteAllWatchpoints()

	Modules() []Module

	ReadInstructions(addr uint64, count int) []Instruction
	// MaxInstructionBytes is the widest instruction encoding for the target
	// architecture, used to size backwards-disassembly windows.
	MaxInstructionBytes() int

	CreateValueFromAddress(name string, addr uint64, typ Type) Value
	EvaluateExpression(expr string) (Value, error)

	ResolveLoadAddress(addr uint64) Address
}

// LaunchInfo mirrors the subset of the engine's launch configuration that
// the adapter composes.
type LaunchInfo struct {
	Args        []string
	Env         []string
	Cwd         string
	StopAtEntry bool
	// Stdio holds open-file actions for fds 0..2; empty entries inherit.
	Stdio [3]string
}

// AttachInfo selects the attach strategy: by pid when Pid > 0, else by
// executable path.
type AttachInfo struct {
	Pid            uint64
	Path           string
	WaitForLaunch  bool
	IgnoreExisting bool
}

// Process is the running (or exited) debuggee.
type Process interface {
	ProcessID() uint64
	State() State
	Resume() error
	Stop() error
	Kill() error
	Detach() error
	ExitStatus() int

	Threads() []Thread
	ThreadByID(tid uint64) (Thread, bool)
	SelectedThread() Thread
	SetSelectedThread(t Thread)

	ReadMemory(addr uint64, buf []byte) (int, error)
	WriteMemory(addr uint64, data []byte) (int, error)
	MemoryRegionInfo(addr uint64) (MemoryRegion, error)
}

// MemoryRegion describes permissions and extent of a mapped range.
type MemoryRegion struct {
	Readable bool
	Writable bool
	End      uint64
}

// Thread is a stopped or running debuggee thread.
type Thread interface {
	ThreadID() uint64
	IndexID() int
	Name() string

	StopReason() StopReason
	// StopReasonDataAtIndex returns reason-specific payload; for Breakpoint
	// index 0 holds the breakpoint id, for Watchpoint the watchpoint id.
	StopReasonDataAtIndex(i int) uint64
	StopDescription() string
	StopReturnValue() (Value, bool)

	NumFrames() int
	FrameAtIndex(i int) (Frame, bool)
	SelectedFrame() Frame

	StepOver(instruction bool) error
	StepInto(instruction bool) error
	StepOut() error
	JumpToLine(path string, line int) error
	ReturnFromFrame(f Frame) error
}

// Frame is a single stack frame. Frames become dangling when the process
// resumes; the adapter must not retain them across resume boundaries.
type Frame interface {
	IsValid() bool
	Thread() Thread
	PC() uint64
	SetPC(addr uint64) bool
	FunctionName() string
	Symbol() (string, bool)
	LineEntry() (LineEntry, bool)
	Module() (Module, bool)

	Variables(opts VariableOptions) []Value
	FindVariable(name string) (Value, bool)
	FindValue(name string, class ValueClass) (Value, bool)
	Registers() []Value
	EvaluateExpression(expr string) (Value, error)
}

// VariableOptions filters Frame.Variables.
type VariableOptions struct {
	Arguments   bool
	Locals      bool
	Statics     bool
	InScopeOnly bool
}

// LineEntry is a source location resolved from debug info.
type LineEntry struct {
	Path   string
	Line   int
	Column int
}

// Address is a resolved load address with optional debug info.
type Address interface {
	LoadAddress() uint64
	LineEntry() (LineEntry, bool)
	Symbol() (string, bool)
}

// Value is an engine value: a variable, register, child member or
// expression result.
type Value interface {
	IsValid() bool
	Error() error
	Name() string
	TypeName() string
	DisplayTypeName() string
	Type() Type

	// Summary is the engine- or visualizer-provided summary, if any.
	Summary() (string, bool)
	// Value is the scalar value string, if any.
	Value() (string, bool)
	ValueAsUnsigned(def uint64) uint64

	NumChildren() int
	ChildAtIndex(i int) Value
	ChildMemberWithName(name string) (Value, bool)

	IsSynthetic() bool
	NonSyntheticValue() Value
	PreferSyntheticValue() bool
	Dereference() Value
	ByteSize() int
	LoadAddress() uint64
	Address() (uint64, bool)
	ExpressionPath() (string, bool)
	ValueClass() ValueClass

	Format() Format
	SetFormat(f Format)
	SetValue(expr string) error
}

// Type describes a value's type.
type Type interface {
	Name() string
	TypeClass() TypeClass
	BasicType() BasicType
	IsPointerType() bool
	PointeeType() Type
	ArrayElementType() Type
	ArrayType(size int) Type
}

// BreakpointCallback decides whether a breakpoint hit stops the process.
// It is invoked on an engine thread and must return synchronously.
type BreakpointCallback func(p Process, t Thread, loc BreakpointLocation) bool

// Breakpoint is an engine breakpoint of any kind.
type Breakpoint interface {
	ID() int
	IsValid() bool
	NumLocations() int
	NumResolvedLocations() int
	LocationAtIndex(i int) BreakpointLocation
	SetCondition(expr string)
	Condition() string
	SetCallback(cb BreakpointCallback)
	ClearCallback()
	AddName(name string)
}

// BreakpointLocation is one resolved location of a breakpoint.
type BreakpointLocation interface {
	Breakpoint() Breakpoint
	Address() Address
}

// Watchpoint is a hardware data breakpoint.
type Watchpoint interface {
	ID() int
}

// Module is a loaded object file.
type Module interface {
	Name() string
	Path() string
	// ObjectHeaderAddress reports the module's header load address; the
	// second result is false when unavailable.
	ObjectHeaderAddress() (uint64, bool)
	SymbolFilePath() (string, bool)
	NumSymbols() int
	SymbolAtIndex(i int) Symbol
}

// Symbol is a named code or data symbol within a module.
type Symbol struct {
	Name         string
	Type         SymbolType
	StartAddress Address
}

// Instruction is one disassembled machine instruction.
type Instruction struct {
	Address   uint64
	Mnemonic  string
	Operands  string
	Comment   string
	ByteSize  int
	Bytes     []byte
	Location  LineEntry
	HasSource bool
}
