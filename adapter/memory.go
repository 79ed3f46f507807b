package adapter

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-dap"
	"github.com/pkg/errors"

	dapsrv "github.com/kestrel-dbg/kestrel/dap"
	"github.com/kestrel-dbg/kestrel/lldb"
)

func (s *Session) onReadMemory(c dapsrv.Context, req *dap.ReadMemoryRequest, resp *dap.ReadMemoryResponse) error {
	if err := s.requireProcess(); err != nil {
		return err
	}
	memRef, err := parseAddress(req.Arguments.MemoryReference)
	if err != nil {
		return dapsrv.BlameUserError(err)
	}
	address := memRef + uint64(req.Arguments.Offset)
	count := req.Arguments.Count

	resp.Body.Address = fmt.Sprintf("0x%X", address)
	if region, err := s.process.MemoryRegionInfo(address); err == nil && region.Readable {
		toRead := count
		if avail := int(region.End - address); toRead > avail {
			toRead = avail
		}
		buffer := make([]byte, toRead)
		if n, err := s.process.ReadMemory(address, buffer); err == nil {
			resp.Body.UnreadableBytes = count - n
			resp.Body.Data = base64.StdEncoding.EncodeToString(buffer[:n])
			return nil
		}
	}
	resp.Body.UnreadableBytes = count
	return nil
}

func (s *Session) onWriteMemory(c dapsrv.Context, req *dap.WriteMemoryRequest, resp *dap.WriteMemoryResponse) error {
	if err := s.requireProcess(); err != nil {
		return err
	}
	memRef, err := parseAddress(req.Arguments.MemoryReference)
	if err != nil {
		return dapsrv.BlameUserError(err)
	}
	address := memRef + uint64(req.Arguments.Offset)
	data, err := base64.StdEncoding.DecodeString(req.Arguments.Data)
	if err != nil {
		return dapsrv.BlameUserError(err)
	}
	allowPartial := req.Arguments.AllowPartial

	if region, err := s.process.MemoryRegionInfo(address); err == nil && region.Writable {
		toWrite := len(data)
		if avail := int(region.End - address); toWrite > avail {
			toWrite = avail
		}
		if allowPartial || toWrite == len(data) {
			if n, err := s.process.WriteMemory(address, data[:toWrite]); err == nil {
				resp.Body.BytesWritten = n
				return nil
			}
		}
	}
	if !allowPartial {
		return dapsrv.BlameUserErrorf("Cannot write %d bytes at %08X", len(data), address)
	}
	resp.Body.BytesWritten = 0
	return nil
}

func invalidInstruction() dap.DisassembledInstruction {
	return dap.DisassembledInstruction{
		Address:     "0",
		Instruction: "<invalid>",
	}
}

func (s *Session) onDisassemble(c dapsrv.Context, req *dap.DisassembleRequest, resp *dap.DisassembleResponse) error {
	if err := s.requireTarget(); err != nil {
		return err
	}
	baseAddr, err := parseAddress(req.Arguments.MemoryReference)
	if err != nil {
		return dapsrv.BlameUserError(err)
	}
	baseAddr += uint64(req.Arguments.Offset)
	instructionOffset := req.Arguments.InstructionOffset
	if req.Arguments.InstructionCount < 0 {
		return errors.New("Invalid instruction count")
	}
	instructionCount := req.Arguments.InstructionCount

	var result []dap.DisassembledInstruction
	if instructionOffset >= 0 {
		instrs := s.target.ReadInstructions(baseAddr, instructionOffset+instructionCount)
		for i := instructionOffset; i < len(instrs); i++ {
			result = append(result, s.renderInstruction(instrs[i], req.Arguments.ResolveSymbols))
		}
	} else {
		// Negative offsets require disassembling backwards, which is
		// ambiguous on variable-length encodings. Slide the window start
		// back a byte at a time until the base address decodes on an
		// instruction boundary.
		bytesPerInstruction := s.target.MaxInstructionBytes()
		windowInstrs := -instructionOffset + instructionCount
		startAddr := baseAddr - uint64(-instructionOffset*bytesPerInstruction)
		expectedIndex := -instructionOffset

		for shuffle := 0; shuffle < bytesPerInstruction; shuffle++ {
			instrs := s.target.ReadInstructions(startAddr-uint64(shuffle), windowInstrs)
			index := -1
			for i, in := range instrs {
				if in.Address == baseAddr {
					index = i
					break
				}
			}
			if index < 0 {
				continue
			}
			for _, in := range instrs {
				result = append(result, s.renderInstruction(in, req.Arguments.ResolveSymbols))
			}
			// Align the requested address to exactly index -instructionOffset.
			if index < expectedIndex {
				pad := make([]dap.DisassembledInstruction, expectedIndex-index)
				for i := range pad {
					pad[i] = invalidInstruction()
				}
				result = append(pad, result...)
			} else if index > expectedIndex {
				result = result[index-expectedIndex:]
			}
			break
		}
	}

	// Exactly instructionCount entries.
	for len(result) < instructionCount {
		result = append(result, invalidInstruction())
	}
	result = result[:instructionCount]

	resp.Body.Instructions = result
	return nil
}

func (s *Session) renderInstruction(in lldb.Instruction, resolveSymbols bool) dap.DisassembledInstruction {
	di := dap.DisassembledInstruction{
		Address:     fmt.Sprintf("0x%X", in.Address),
		Instruction: strings.TrimSpace(in.Mnemonic + " " + in.Operands),
	}
	if len(in.Bytes) > 0 {
		parts := make([]string, len(in.Bytes))
		for i, b := range in.Bytes {
			parts[i] = fmt.Sprintf("%02X", b)
		}
		di.InstructionBytes = strings.Join(parts, " ")
	}
	if in.Comment != "" {
		di.Instruction += " ; " + in.Comment
	}
	if resolveSymbols {
		if resolved := s.target.ResolveLoadAddress(in.Address); resolved != nil {
			if sym, ok := resolved.Symbol(); ok {
				di.Symbol = sym
			}
		}
	}
	if in.HasSource {
		if local, ok := s.mapPathToLocal(in.Location.Path); ok {
			di.Location = &dap.Source{
				Name: local,
				Path: local,
			}
			di.Line = in.Location.Line
		}
	}
	return di
}

func (s *Session) onDataBreakpointInfo(c dapsrv.Context, req *dap.DataBreakpointInfoRequest, resp *dap.DataBreakpointInfoResponse) error {
	cont, ok := s.varRefs.Get(req.Arguments.VariablesReference)
	if !ok {
		return dapsrv.BlameUserError(errors.New("Invalid variables reference"))
	}

	var child lldb.Value
	switch cont.kind {
	case containerValue:
		child, _ = cont.value.ChildMemberWithName(req.Arguments.Name)
	case containerLocals:
		child, _ = cont.frame.FindVariable(req.Arguments.Name)
	case containerGlobals:
		child, _ = cont.frame.FindValue(req.Arguments.Name, lldb.ValueClassVariableGlobal)
	case containerStatics:
		child, _ = cont.frame.FindValue(req.Arguments.Name, lldb.ValueClassVariableStatic)
	}
	if child == nil {
		resp.Body.Description = "Variable not found."
		return nil
	}

	addr := child.LoadAddress()
	if addr == lldb.InvalidAddress {
		resp.Body.Description = "This variable doesn't have an address."
		return nil
	}
	size := child.ByteSize()
	if !s.isValidWatchpointSize(size) {
		resp.Body.Description = "Invalid watchpoint size."
		return nil
	}
	resp.Body.DataId = fmt.Sprintf("%d/%d", addr, size)
	resp.Body.AccessTypes = []dap.DataBreakpointAccessType{"read", "write", "readWrite"}
	resp.Body.Description = fmt.Sprintf("%d bytes at %X (%s)", size, addr, child.Name())
	return nil
}

func (s *Session) isValidWatchpointSize(size int) bool {
	switch s.target.AddressByteSize() {
	case 4:
		return size == 1 || size == 2 || size == 4
	case 8:
		return size == 1 || size == 2 || size == 4 || size == 8
	default:
		// No harm in setting an invalid watchpoint, other than user
		// confusion.
		return true
	}
}

func (s *Session) onSetDataBreakpoints(c dapsrv.Context, req *dap.SetDataBreakpointsRequest, resp *dap.SetDataBreakpointsResponse) error {
	if err := s.requireTarget(); err != nil {
		return err
	}
	s.target.DeleteAllWatchpoints()
	watchpoints := []dap.Breakpoint{}
	for _, wp := range req.Arguments.Breakpoints {
		parts := strings.SplitN(wp.DataId, "/", 2)
		if len(parts) != 2 {
			watchpoints = append(watchpoints, dap.Breakpoint{Verified: false, Message: "Invalid data id."})
			continue
		}
		addr, err1 := strconv.ParseUint(parts[0], 10, 64)
		size, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			watchpoints = append(watchpoints, dap.Breakpoint{Verified: false, Message: "Invalid data id."})
			continue
		}

		read, write := false, true
		switch wp.AccessType {
		case "read":
			read, write = true, false
		case "readWrite":
			read, write = true, true
		}
		when := "write"
		switch {
		case read && write:
			when = "read and write"
		case read:
			when = "read"
		}

		watchpoint, err := s.target.WatchAddress(addr, size, read, write)
		if err != nil {
			watchpoints = append(watchpoints, dap.Breakpoint{Verified: false, Message: err.Error()})
			continue
		}
		watchpoints = append(watchpoints, dap.Breakpoint{
			Id:       wpidToBpid(watchpoint.ID()),
			Verified: true,
			Message:  "Break on " + when,
		})
	}
	resp.Body.Breakpoints = watchpoints
	return nil
}
