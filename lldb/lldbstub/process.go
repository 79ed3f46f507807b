package lldbstub

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/kestrel-dbg/kestrel/lldb"
)

// Process is the stub debuggee process.
type Process struct {
	mu     sync.Mutex
	target *Target

	Pid        uint64
	state      lldb.State
	exitStatus int

	ThreadList []*Thread
	selected   *Thread

	// Memory backs ReadMemory/WriteMemory; regions list what's mapped.
	Memory  map[uint64][]byte
	Regions []MemRegion

	// ResumeError/StopError force failures for recovery-path tests.
	ResumeError error
	StopError   error

	LaunchedWith *lldb.LaunchInfo
	AttachedWith *lldb.AttachInfo

	Killed   bool
	Detached bool
}

// MemRegion is one mapped range of stub memory.
type MemRegion struct {
	Start    uint64
	End      uint64
	Readable bool
	Writable bool
}

var _ lldb.Process = (*Process)(nil)

func NewProcess(pid uint64) *Process {
	return &Process{
		Pid:    pid,
		state:  lldb.StateStopped,
		Memory: make(map[uint64][]byte),
	}
}

// AddThread appends a stub thread; the first one becomes selected.
func (p *Process) AddThread(t *Thread) {
	t.process = p
	p.ThreadList = append(p.ThreadList, t)
	if p.selected == nil {
		p.selected = t
	}
}

// SetState forces the process state without emitting events.
func (p *Process) SetState(s lldb.State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Process) SetExitStatus(code int) { p.exitStatus = code }

func (p *Process) ProcessID() uint64 { return p.Pid }

func (p *Process) State() lldb.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Process) Resume() error {
	if p.ResumeError != nil {
		return p.ResumeError
	}
	p.SetState(lldb.StateRunning)
	if p.target != nil && p.target.debugger != nil {
		p.target.debugger.PushEvent(lldb.ProcessEvent{State: lldb.StateRunning})
	}
	return nil
}

func (p *Process) Stop() error {
	if p.StopError != nil {
		return p.StopError
	}
	p.SetState(lldb.StateStopped)
	if p.target != nil && p.target.debugger != nil {
		p.target.debugger.PushEvent(lldb.ProcessEvent{State: lldb.StateStopped})
	}
	return nil
}

func (p *Process) Kill() error {
	p.Killed = true
	p.SetState(lldb.StateExited)
	return nil
}

func (p *Process) Detach() error {
	p.Detached = true
	p.SetState(lldb.StateDetached)
	return nil
}

func (p *Process) ExitStatus() int { return p.exitStatus }

func (p *Process) Threads() []lldb.Thread {
	out := make([]lldb.Thread, len(p.ThreadList))
	for i, t := range p.ThreadList {
		out[i] = t
	}
	return out
}

func (p *Process) ThreadByID(tid uint64) (lldb.Thread, bool) {
	for _, t := range p.ThreadList {
		if t.Tid == tid {
			return t, true
		}
	}
	return nil, false
}

func (p *Process) SelectedThread() lldb.Thread {
	if p.selected == nil {
		return nil
	}
	return p.selected
}

func (p *Process) SetSelectedThread(t lldb.Thread) {
	for _, st := range p.ThreadList {
		if st.Tid == t.ThreadID() {
			p.selected = st
			return
		}
	}
}

func (p *Process) regionFor(addr uint64) (MemRegion, bool) {
	for _, r := range p.Regions {
		if addr >= r.Start && addr < r.End {
			return r, true
		}
	}
	return MemRegion{}, false
}

func (p *Process) ReadMemory(addr uint64, buf []byte) (int, error) {
	data, ok := p.Memory[addr]
	if !ok {
		return 0, errors.New("unmapped address")
	}
	n := copy(buf, data)
	return n, nil
}

func (p *Process) WriteMemory(addr uint64, data []byte) (int, error) {
	p.Memory[addr] = append([]byte(nil), data...)
	return len(data), nil
}

func (p *Process) MemoryRegionInfo(addr uint64) (lldb.MemoryRegion, error) {
	if r, ok := p.regionFor(addr); ok {
		return lldb.MemoryRegion{Readable: r.Readable, Writable: r.Writable, End: r.End}, nil
	}
	return lldb.MemoryRegion{}, nil
}

// HitBreakpoint simulates the engine hitting a breakpoint on thread: the
// callback is invoked on a fresh goroutine (engine-thread semantics) and,
// when it returns true, the process stops and the stop event is emitted.
// It reports the callback's verdict.
func (p *Process) HitBreakpoint(bp *Breakpoint, thread *Thread) bool {
	cb := bp.callback()

	stop := true
	if cb != nil {
		done := make(chan bool, 1)
		go func() {
			done <- cb(p, thread, &BreakpointLocation{bp: bp})
		}()
		stop = <-done
	}

	if stop {
		thread.StopReasonV = lldb.StopReasonBreakpoint
		thread.StopReasonData = []uint64{uint64(bp.id)}
		p.SetState(lldb.StateStopped)
		p.SetSelectedThread(thread)
		if p.target != nil && p.target.debugger != nil {
			p.target.debugger.PushEvent(lldb.ProcessEvent{State: lldb.StateStopped})
		}
	}
	return stop
}

// Thread is a stub thread.
type Thread struct {
	process *Process

	Tid   uint64
	Index int
	NameV string

	StopReasonV     lldb.StopReason
	StopReasonData  []uint64
	Description string
	ReturnValue     *Value

	Frames []*Frame

	Stepped []string
}

var _ lldb.Thread = (*Thread)(nil)

func NewThread(tid uint64, index int, name string) *Thread {
	return &Thread{Tid: tid, Index: index, NameV: name, StopReasonV: lldb.StopReasonNone}
}

// AddFrame appends a stub frame (index 0 is the newest).
func (t *Thread) AddFrame(f *Frame) {
	f.thread = t
	t.Frames = append(t.Frames, f)
}

func (t *Thread) ThreadID() uint64 { return t.Tid }
func (t *Thread) IndexID() int     { return t.Index }
func (t *Thread) Name() string     { return t.NameV }

func (t *Thread) StopReason() lldb.StopReason { return t.StopReasonV }

func (t *Thread) StopReasonDataAtIndex(i int) uint64 {
	if i < len(t.StopReasonData) {
		return t.StopReasonData[i]
	}
	return 0
}

func (t *Thread) StopDescription() string { return t.Description }

func (t *Thread) StopReturnValue() (lldb.Value, bool) {
	if t.ReturnValue == nil {
		return nil, false
	}
	return t.ReturnValue, true
}

func (t *Thread) NumFrames() int { return len(t.Frames) }

func (t *Thread) FrameAtIndex(i int) (lldb.Frame, bool) {
	if i < 0 || i >= len(t.Frames) {
		return nil, false
	}
	return t.Frames[i], true
}

func (t *Thread) SelectedFrame() lldb.Frame {
	if len(t.Frames) == 0 {
		return nil
	}
	return t.Frames[0]
}

func (t *Thread) StepOver(instruction bool) error {
	t.Stepped = append(t.Stepped, "over")
	return nil
}

func (t *Thread) StepInto(instruction bool) error {
	t.Stepped = append(t.Stepped, "into")
	return nil
}

func (t *Thread) StepOut() error {
	t.Stepped = append(t.Stepped, "out")
	return nil
}

func (t *Thread) JumpToLine(path string, line int) error {
	if t.process == nil || t.process.target == nil {
		return errors.New("no target")
	}
	if _, ok := t.process.target.SourceLines[sourceKey(path, line)]; !ok {
		return errors.Errorf("no location at %s:%d", path, line)
	}
	t.Stepped = append(t.Stepped, "jump")
	return nil
}

func (t *Thread) ReturnFromFrame(f lldb.Frame) error {
	t.Stepped = append(t.Stepped, "return")
	return nil
}

func sourceKey(path string, line int) string {
	return fmt.Sprintf("%s:%d", path, line)
}
