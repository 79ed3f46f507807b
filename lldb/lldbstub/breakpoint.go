package lldbstub

import (
	"sync"

	"github.com/kestrel-dbg/kestrel/lldb"
)

// Breakpoint is a stub breakpoint. Locations hold the resolved load
// addresses; an empty list means unresolved.
type Breakpoint struct {
	mu        sync.Mutex
	id        int
	target    *Target
	locations []uint64

	path      string
	line      int
	function  string
	exception bool

	condition string
	names     []string
	cb        lldb.BreakpointCallback
}

var _ lldb.Breakpoint = (*Breakpoint)(nil)

func (b *Breakpoint) ID() int       { return b.id }
func (b *Breakpoint) IsValid() bool { return true }

func (b *Breakpoint) NumLocations() int         { return len(b.locations) }
func (b *Breakpoint) NumResolvedLocations() int { return len(b.locations) }

func (b *Breakpoint) LocationAtIndex(i int) lldb.BreakpointLocation {
	return &BreakpointLocation{bp: b, index: i}
}

func (b *Breakpoint) SetCondition(expr string) {
	b.mu.Lock()
	b.condition = expr
	b.mu.Unlock()
}

func (b *Breakpoint) Condition() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.condition
}

func (b *Breakpoint) SetCallback(cb lldb.BreakpointCallback) {
	b.mu.Lock()
	b.cb = cb
	b.mu.Unlock()
}

func (b *Breakpoint) ClearCallback() {
	b.mu.Lock()
	b.cb = nil
	b.mu.Unlock()
}

func (b *Breakpoint) callback() lldb.BreakpointCallback {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cb
}

func (b *Breakpoint) AddName(name string) {
	b.mu.Lock()
	b.names = append(b.names, name)
	b.mu.Unlock()
}

// Names lists names added with AddName.
func (b *Breakpoint) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.names...)
}

// Location returns the first resolved address, 0 when unresolved.
func (b *Breakpoint) Location() uint64 {
	if len(b.locations) == 0 {
		return 0
	}
	return b.locations[0]
}

// BreakpointLocation is a stub resolved location.
type BreakpointLocation struct {
	bp    *Breakpoint
	index int
}

var _ lldb.BreakpointLocation = (*BreakpointLocation)(nil)

func (l *BreakpointLocation) Breakpoint() lldb.Breakpoint { return l.bp }

func (l *BreakpointLocation) Address() lldb.Address {
	var addr uint64
	if l.index < len(l.bp.locations) {
		addr = l.bp.locations[l.index]
	}
	a := &Address{Addr: addr}
	if l.bp.path != "" {
		a.Line = &lldb.LineEntry{Path: l.bp.path, Line: l.bp.line}
	}
	if l.bp.target != nil {
		if sym, ok := l.bp.target.SymbolsByAddr[addr]; ok {
			a.Sym = sym
		}
	}
	return a
}
