// Package lldbstub is a scripted in-memory implementation of the lldb
// capability set, for exercising the adapter without a native engine.
// Tests assemble a fake debuggee out of stub threads, frames and values,
// then drive it by pushing events and simulating breakpoint hits.
package lldbstub

import (
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/kestrel-dbg/kestrel/lldb"
)

// Debugger is the stub engine root.
type Debugger struct {
	mu      sync.Mutex
	events  chan lldb.Event
	target  *Target
	output  io.Writer
	vars    map[string][]string
	version string

	// Commands maps interpreter commands to canned results; unknown
	// commands succeed silently.
	Commands map[string]lldb.CommandResult
	// Completions drives CompleteCommand.
	Completions map[string][]string

	executed []string
	disposed bool
}

func NewDebugger() *Debugger {
	d := &Debugger{
		events:      make(chan lldb.Event, 64),
		vars:        map[string][]string{"target.inherit-env": {"true"}},
		version:     "lldb version 17.0.6",
		Commands:    map[string]lldb.CommandResult{},
		Completions: map[string][]string{},
	}
	d.target = NewTarget()
	d.target.debugger = d
	return d
}

// Target returns the stub target every CreateTarget call hands out.
func (d *Debugger) Target() *Target { return d.target }

// PushEvent delivers an engine event to the session.
func (d *Debugger) PushEvent(ev lldb.Event) {
	d.events <- ev
}

// ExecutedCommands lists every interpreter command the adapter ran.
func (d *Debugger) ExecutedCommands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.executed...)
}

func (d *Debugger) SetVersionString(v string) { d.version = v }

func (d *Debugger) Events() <-chan lldb.Event { return d.events }

func (d *Debugger) CreateTarget(program string) (lldb.Target, error) {
	if program != "" && d.target.CreateTargetError != nil {
		return nil, d.target.CreateTargetError
	}
	d.target.executable = program
	return d.target, nil
}

func (d *Debugger) SelectedTarget() lldb.Target { return d.target }

func (d *Debugger) ExecuteCommand(command string, frame lldb.Frame) (lldb.CommandResult, error) {
	d.mu.Lock()
	d.executed = append(d.executed, command)
	result, ok := d.Commands[command]
	d.mu.Unlock()
	if !ok {
		return lldb.CommandResult{}, nil
	}
	if result.Error != "" {
		return result, errors.New(result.Error)
	}
	return result, nil
}

func (d *Debugger) CompleteCommand(text string, cursor int) (string, []string) {
	return "", d.Completions[text]
}

func (d *Debugger) GetVariable(name string) []string {
	return d.vars[name]
}

func (d *Debugger) SetVariable(name, value string) error {
	d.vars[name] = []string{value}
	return nil
}

func (d *Debugger) SetOutputWriter(w io.Writer) {
	d.output = w
}

// ConsoleWrite emits engine console output, as interpreter commands would.
func (d *Debugger) ConsoleWrite(s string) {
	if d.output != nil {
		io.WriteString(d.output, s)
	}
}

func (d *Debugger) Version() string { return d.version }

func (d *Debugger) Dispose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.disposed {
		d.disposed = true
		close(d.events)
	}
}

// Target is the stub target.
type Target struct {
	mu       sync.Mutex
	debugger *Debugger

	executable  string
	process     *Process
	breakpoints map[int]*Breakpoint
	watchpoints []*Watchpoint
	nextBpID    int
	nextWpID    int

	// SourceLines resolves path:line requests; keyed "path:line".
	SourceLines map[string]uint64
	// FunctionAddrs resolves function-name breakpoints.
	FunctionAddrs map[string]uint64
	// Instructions returned by ReadInstructions, keyed by start address.
	InstructionMem map[uint64][]lldb.Instruction
	// SymbolsByAddr resolves load addresses.
	SymbolsByAddr map[uint64]string

	ModuleList []*Module

	CreateTargetError error
	WatchError        error
}

func NewTarget() *Target {
	return &Target{
		breakpoints:    make(map[int]*Breakpoint),
		SourceLines:    make(map[string]uint64),
		FunctionAddrs:  make(map[string]uint64),
		InstructionMem: make(map[uint64][]lldb.Instruction),
		SymbolsByAddr:  make(map[uint64]string),
	}
}

var _ lldb.Target = (*Target)(nil)

// SetProcess installs the stub process Launch/Attach will return.
func (t *Target) SetProcess(p *Process) {
	p.target = t
	t.process = p
}

// AddSourceLine teaches the target to resolve a source location.
func (t *Target) AddSourceLine(path string, line int, addr uint64) {
	t.SourceLines[fmt.Sprintf("%s:%d", path, line)] = addr
}

// Breakpoints returns the live engine breakpoints by id.
func (t *Target) Breakpoints() map[int]*Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]*Breakpoint, len(t.breakpoints))
	for k, v := range t.breakpoints {
		out[k] = v
	}
	return out
}

func (t *Target) Process() lldb.Process {
	if t.process == nil {
		return nil
	}
	return t.process
}

func (t *Target) Launch(info lldb.LaunchInfo) (lldb.Process, error) {
	if t.process == nil {
		return nil, errors.New("no process configured")
	}
	t.process.LaunchedWith = &info
	if info.StopAtEntry {
		t.process.state = lldb.StateStopped
	} else {
		t.process.state = lldb.StateRunning
	}
	return t.process, nil
}

func (t *Target) Attach(info lldb.AttachInfo) (lldb.Process, error) {
	if t.process == nil {
		return nil, errors.New("no process configured")
	}
	t.process.AttachedWith = &info
	t.process.state = lldb.StateStopped
	return t.process, nil
}

func (t *Target) Executable() string   { return t.executable }
func (t *Target) AddressByteSize() int { return 8 }
func (t *Target) Platform() string     { return "host" }

func (t *Target) FindBreakpointByID(id int) lldb.Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	bp, ok := t.breakpoints[id]
	if !ok {
		return nil
	}
	return bp
}

func (t *Target) newBreakpoint(locations []uint64) *Breakpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextBpID++
	bp := &Breakpoint{id: t.nextBpID, target: t, locations: locations}
	t.breakpoints[bp.id] = bp
	return bp
}

func (t *Target) CreateBreakpointByLocation(path string, line, column int) lldb.Breakpoint {
	var locations []uint64
	if addr, ok := t.SourceLines[fmt.Sprintf("%s:%d", path, line)]; ok {
		locations = append(locations, addr)
	}
	bp := t.newBreakpoint(locations)
	bp.path, bp.line = path, line
	return bp
}

func (t *Target) CreateBreakpointByLoadAddress(addr uint64) lldb.Breakpoint {
	return t.newBreakpoint([]uint64{addr})
}

func (t *Target) CreateBreakpointByName(name string) lldb.Breakpoint {
	var locations []uint64
	if addr, ok := t.FunctionAddrs[name]; ok {
		locations = append(locations, addr)
	}
	bp := t.newBreakpoint(locations)
	bp.function = name
	return bp
}

func (t *Target) CreateBreakpointByRegex(pattern string) lldb.Breakpoint {
	bp := t.newBreakpoint(nil)
	bp.function = "/re " + pattern
	return bp
}

func (t *Target) CreateBreakpointForException(lang lldb.Language, catch, throw bool) lldb.Breakpoint {
	bp := t.newBreakpoint([]uint64{0x1000})
	bp.exception = true
	return bp
}

func (t *Target) DeleteBreakpoint(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.breakpoints, id)
}

func (t *Target) WatchAddress(addr uint64, size int, read, write bool) (lldb.Watchpoint, error) {
	if t.WatchError != nil {
		return nil, t.WatchError
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextWpID++
	wp := &Watchpoint{id: t.nextWpID, Addr: addr, Size: size, Read: read, Write: write}
	t.watchpoints = append(t.watchpoints, wp)
	return wp, nil
}

func (t *Target) DeleteAllWatchpoints() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watchpoints = nil
}

func (t *Target) Watchpoints() []*Watchpoint {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Watchpoint(nil), t.watchpoints...)
}

func (t *Target) Modules() []lldb.Module {
	out := make([]lldb.Module, len(t.ModuleList))
	for i, m := range t.ModuleList {
		out[i] = m
	}
	return out
}

func (t *Target) ReadInstructions(addr uint64, count int) []lldb.Instruction {
	instrs, ok := t.InstructionMem[addr]
	if !ok {
		return nil
	}
	if count < len(instrs) {
		instrs = instrs[:count]
	}
	return instrs
}

func (t *Target) MaxInstructionBytes() int { return 4 }

func (t *Target) CreateValueFromAddress(name string, addr uint64, typ lldb.Type) lldb.Value {
	return &Value{NameV: name, TypeV: typ, AddressV: addr, HasAddress: true}
}

func (t *Target) EvaluateExpression(expr string) (lldb.Value, error) {
	return &Value{NameV: expr, ValueV: "<global " + expr + ">", HasValue: true}, nil
}

func (t *Target) ResolveLoadAddress(addr uint64) lldb.Address {
	sym := t.SymbolsByAddr[addr]
	return &Address{Addr: addr, Sym: sym}
}

// Address is a stub resolved address.
type Address struct {
	Addr uint64
	Sym  string
	Line *lldb.LineEntry
}

func (a *Address) LoadAddress() uint64 { return a.Addr }

func (a *Address) LineEntry() (lldb.LineEntry, bool) {
	if a.Line == nil {
		return lldb.LineEntry{}, false
	}
	return *a.Line, true
}

func (a *Address) Symbol() (string, bool) { return a.Sym, a.Sym != "" }

// Watchpoint is a stub watchpoint.
type Watchpoint struct {
	id    int
	Addr  uint64
	Size  int
	Read  bool
	Write bool
}

func (w *Watchpoint) ID() int { return w.id }

// Module is a stub module.
type Module struct {
	NameV       string
	PathV       string
	HeaderAddr  uint64
	HasHeader   bool
	SymbolsPath string
	Symbols     []lldb.Symbol
}

func (m *Module) Name() string { return m.NameV }
func (m *Module) Path() string { return m.PathV }

func (m *Module) ObjectHeaderAddress() (uint64, bool) {
	return m.HeaderAddr, m.HasHeader
}

func (m *Module) SymbolFilePath() (string, bool) {
	return m.SymbolsPath, m.SymbolsPath != ""
}

func (m *Module) NumSymbols() int               { return len(m.Symbols) }
func (m *Module) SymbolAtIndex(i int) lldb.Symbol { return m.Symbols[i] }
