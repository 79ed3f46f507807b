package adapter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/kestrel-dbg/kestrel/lldb"
)

// disassemblyChunk is how many instructions a synthesized range covers,
// counted from the requested address.
const disassemblyChunk = 32

// AdapterData serializes enough of a disassembled range to re-materialize
// it in a later session, so clients can restore breakpoints set on
// disassembly "sources".
type AdapterData struct {
	Start         uint64   `json:"start"`
	End           uint64   `json:"end"`
	LineAddresses []uint64 `json:"lineAddresses"`
}

// LinesFromAdapterData returns the line-number → load-address table encoded
// in a previously emitted blob.
func LinesFromAdapterData(data AdapterData) []uint64 {
	return data.LineAddresses
}

// disassembledRange is a synthetic "source" materialized from an
// instruction range. Line numbers are 1-based.
type disassembledRange struct {
	handle    Handle
	start     uint64
	end       uint64
	name      string
	instrs    []lldb.Instruction
	lineAddrs []uint64
	text      string
}

func (r *disassembledRange) Handle() Handle     { return r.handle }
func (r *disassembledRange) SourceName() string { return r.name }
func (r *disassembledRange) SourceText() string { return r.text }

func (r *disassembledRange) AdapterData() AdapterData {
	return AdapterData{Start: r.start, End: r.end, LineAddresses: r.lineAddrs}
}

// AddressByLineNum maps a 1-based line to its instruction address; 0 when
// out of range.
func (r *disassembledRange) AddressByLineNum(line int) uint64 {
	if line < 1 || line > len(r.lineAddrs) {
		return 0
	}
	return r.lineAddrs[line-1]
}

// LineNumByAddress maps a load address to the 1-based line of its enclosing
// instruction.
func (r *disassembledRange) LineNumByAddress(addr uint64) int {
	for i, a := range r.lineAddrs {
		next := r.end
		if i+1 < len(r.lineAddrs) {
			next = r.lineAddrs[i+1]
		}
		if addr >= a && addr < next {
			return i + 1
		}
	}
	return 0
}

// addressSpace is the session's collection of disassembled ranges,
// addressable by handle and by contained load address.
type addressSpace struct {
	target   lldb.Target
	byHandle map[Handle]*disassembledRange
	ranges   []*disassembledRange
	next     Handle
}

func newAddressSpace(target lldb.Target) *addressSpace {
	return &addressSpace{
		target:   target,
		byHandle: make(map[Handle]*disassembledRange),
	}
}

func (a *addressSpace) FindByHandle(h Handle) (*disassembledRange, bool) {
	r, ok := a.byHandle[h]
	return r, ok
}

// FromAddress returns the range containing addr. When none exists yet it
// synthesizes one that starts at addr and covers up to disassemblyChunk
// instructions; the enclosing symbol only names the range, its bounds are
// not used.
func (a *addressSpace) FromAddress(addr uint64) (*disassembledRange, error) {
	for _, r := range a.ranges {
		if addr >= r.start && addr < r.end {
			return r, nil
		}
	}

	start := addr
	name := fmt.Sprintf("@%x", addr)
	resolved := a.target.ResolveLoadAddress(addr)
	if resolved != nil {
		if sym, ok := resolved.Symbol(); ok {
			name = sym
		}
	}

	instrs := a.target.ReadInstructions(start, disassemblyChunk)
	if len(instrs) == 0 {
		return nil, errors.Errorf("no instructions at %#x", addr)
	}
	return a.create(start, name, instrs), nil
}

// Restore re-materializes a range from a prior session's adapter data. The
// line table from the blob takes precedence so persisted breakpoints land
// on the original addresses even if disassembly now differs.
func (a *addressSpace) Restore(data AdapterData) (*disassembledRange, error) {
	if len(data.LineAddresses) == 0 || data.End <= data.Start {
		return nil, errors.New("malformed adapter data")
	}
	for _, r := range a.ranges {
		if r.start == data.Start && r.end == data.End {
			return r, nil
		}
	}

	instrs := a.target.ReadInstructions(data.Start, len(data.LineAddresses))
	r := a.create(data.Start, fmt.Sprintf("@%x", data.Start), instrs)
	r.end = data.End
	r.lineAddrs = data.LineAddresses
	return r, nil
}

func (a *addressSpace) create(start uint64, name string, instrs []lldb.Instruction) *disassembledRange {
	a.next++
	r := &disassembledRange{
		handle: a.next,
		start:  start,
		name:   name + ".disasm",
		instrs: instrs,
	}

	var b strings.Builder
	end := start
	for _, in := range instrs {
		r.lineAddrs = append(r.lineAddrs, in.Address)
		fmt.Fprintf(&b, "%#x: %s %s", in.Address, in.Mnemonic, in.Operands)
		if in.Comment != "" {
			fmt.Fprintf(&b, " ; %s", in.Comment)
		}
		b.WriteByte('\n')
		end = in.Address + uint64(in.ByteSize)
	}
	r.end = end
	r.text = b.String()

	a.byHandle[r.handle] = r
	a.ranges = append(a.ranges, r)
	return r
}

// decodeAdapterData accepts whatever shape the client echoed back in
// Source.AdapterData (go-dap decodes it as any).
func decodeAdapterData(v any) (AdapterData, error) {
	var data AdapterData
	raw, err := json.Marshal(v)
	if err != nil {
		return data, err
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, err
	}
	return data, nil
}
