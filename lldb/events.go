package lldb

// Event is an engine event delivered on the debugger's event stream.
type Event interface {
	isEvent()
}

// ProcessEvent reports a process state transition or pending stdio.
type ProcessEvent struct {
	State     State
	Restarted bool
	// Stdout/Stderr signal that debuggee output is available for reading
	// through the corresponding reader.
	Stdout func(buf []byte) int
	Stderr func(buf []byte) int
}

// TargetEvent reports module load/unload/symbol changes.
type TargetEvent struct {
	Kind    TargetEventKind
	Modules []Module
}

type TargetEventKind int

const (
	TargetModulesLoaded TargetEventKind = iota
	TargetModulesUnloaded
	TargetSymbolsLoaded
)

// BreakpointEvent reports a breakpoint lifecycle change originated by the
// engine (usually through interpreter commands).
type BreakpointEvent struct {
	Kind       BreakpointEventKind
	Breakpoint Breakpoint
}

type BreakpointEventKind int

const (
	BreakpointAdded BreakpointEventKind = iota
	BreakpointLocationsAdded
	BreakpointLocationsResolved
	BreakpointRemoved
)

// ThreadEvent reports thread-related changes; the adapter only consumes the
// selected-frame-changed notification.
type ThreadEvent struct {
	SelectedFrameChanged bool
}

func (ProcessEvent) isEvent()    {}
func (TargetEvent) isEvent()     {}
func (BreakpointEvent) isEvent() {}
func (ThreadEvent) isEvent()     {}
