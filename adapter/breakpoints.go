package adapter

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	dapsrv "github.com/kestrel-dbg/kestrel/dap"
	"github.com/kestrel-dbg/kestrel/expressions"
	"github.com/kestrel-dbg/kestrel/lldb"
	"github.com/kestrel-dbg/kestrel/script"
)

type breakpointKind int

const (
	breakpointSource breakpointKind = iota
	breakpointDisassembly
	breakpointInstruction
	breakpointFunction
	breakpointException
)

type breakpointInfo struct {
	id           int
	bp           lldb.Breakpoint
	kind         breakpointKind
	filterName   string // for exception breakpoints
	condition    string
	logMessage   string
	hitCondition *expressions.HitCondition
	hitCount     uint32
	exclusions   []string
}

// breakpointCatalog holds per-kind indexes into the breakpoint set. For
// every id present in any index, infos[id] exists with a matching kind.
type breakpointCatalog struct {
	infos       map[int]*breakpointInfo
	source      map[string]map[int]int // path → line → id
	assembly    map[Handle]map[int]int // range handle → line → id
	instruction map[uint64]int         // load address → id
	function    map[string]int         // name → id
}

func (b *breakpointCatalog) init() {
	b.infos = make(map[int]*breakpointInfo)
	b.source = make(map[string]map[int]int)
	b.assembly = make(map[Handle]map[int]int)
	b.instruction = make(map[uint64]int)
	b.function = make(map[string]int)
}

func (b *breakpointCatalog) clearCallbacks() {
	for _, info := range b.infos {
		info.bp.ClearCallback()
	}
}

const (
	filterCppThrow   = "cpp_throw"
	filterCppCatch   = "cpp_catch"
	filterRustPanic  = "rust_panic"
	filterSwiftThrow = "swift_throw"
)

func exceptionFilters() []dap.ExceptionBreakpointsFilter {
	return []dap.ExceptionBreakpointsFilter{
		{Filter: filterCppThrow, Label: "C++: on throw", Default: true, SupportsCondition: true},
		{Filter: filterCppCatch, Label: "C++: on catch", Default: false, SupportsCondition: true},
		{Filter: filterRustPanic, Label: "Rust: on panic", Default: true, SupportsCondition: true},
		{Filter: filterSwiftThrow, Label: "Swift: on throw", Default: false, SupportsCondition: true},
	}
}

// exceptionFiltersFor narrows the filter set to the configured source
// languages; filter names are "<language>_<event>".
func exceptionFiltersFor(sourceLangs []string) []dap.ExceptionBreakpointsFilter {
	var result []dap.ExceptionBreakpointsFilter
	for _, filter := range exceptionFilters() {
		lang := strings.SplitN(filter.Filter, "_", 2)[0]
		for _, l := range sourceLangs {
			if l == lang {
				result = append(result, filter)
				break
			}
		}
	}
	return result
}

func (s *Session) onSetBreakpoints(c dapsrv.Context, req *dap.SetBreakpointsRequest, resp *dap.SetBreakpointsResponse) error {
	if err := s.requireTarget(); err != nil {
		return err
	}
	src := req.Arguments.Source

	// Decide whether this is a real source file or a disassembled range: a
	// source_reference means a live range (we never generate references for
	// real sources); adapter_data means a range restored from a previous
	// session; otherwise it must have a valid path.
	var err error
	switch {
	case src.SourceReference != 0 && s.disasm != nil:
		dasm, ok := s.disasm.FindByHandle(src.SourceReference)
		if !ok {
			return dapsrv.BlameUserError(errors.Errorf("Invalid source reference: %d", src.SourceReference))
		}
		resp.Body.Breakpoints, err = s.setDasmBreakpoints(c, dasm, req.Arguments.Breakpoints)
	case src.AdapterData != nil:
		var data AdapterData
		data, err = decodeAdapterData(src.AdapterData)
		if err != nil {
			return err
		}
		resp.Body.Breakpoints, err = s.setRestoredDasmBreakpoints(c, data, req.Arguments.Breakpoints)
	case src.Path != "":
		resp.Body.Breakpoints, err = s.setSourceBreakpoints(c, src.Path, req.Arguments.Breakpoints)
	default:
		return errors.New("Unexpected source")
	}
	return err
}

func (s *Session) setSourceBreakpoints(c dapsrv.Context, filePath string, requested []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	filePathNorm := filepath.Clean(filePath)

	existing := s.breakpoints.source[filePathNorm]
	newBps := make(map[int]int)
	result := []dap.Breakpoint{}
	for _, req := range requested {
		// Find an existing breakpoint or create a new one.
		var bp lldb.Breakpoint
		if id, ok := existing[req.Line]; ok {
			bp = s.target.FindBreakpointByID(id)
		}
		if bp == nil {
			location := filePathNorm
			if s.breakpointMode == breakpointModeFile {
				location = filepath.Base(filePathNorm)
			}
			bp = s.target.CreateBreakpointByLocation(location, req.Line, req.Column)
		}

		info := s.makeBpInfo(c, bp, breakpointSource, req.Condition, req.LogMessage, req.HitCondition)
		s.initBpActions(c, info)
		breakpoint := s.makeBpResponse(info, false)
		// When path mode resolves nothing, probe by file name and report the
		// discovered location as a hint; never silently relocate.
		if bp.NumLocations() == 0 && s.breakpointMode == breakpointModePath {
			if path, line, ok := s.breakpointHint(filePathNorm, req.Line, req.Column); ok {
				message := fmt.Sprintf(
					"Breakpoint at %s:%d could not be resolved, but a valid location was found at %s:%d",
					filePathNorm, req.Line, path, line)
				s.consoleMessage(c, message)
				breakpoint.Message = message
			}
		}
		result = append(result, breakpoint)
		newBps[req.Line] = info.id
		s.breakpoints.infos[info.id] = info
	}

	for line, id := range existing {
		if _, ok := newBps[line]; !ok {
			s.target.DeleteBreakpoint(id)
			delete(s.breakpoints.infos, id)
		}
	}
	s.breakpoints.source[filePathNorm] = newBps
	return result, nil
}

// breakpointHint looks for a likely location for an unresolvable breakpoint
// in a file with the same name elsewhere, preferring the longest path
// suffix match.
func (s *Session) breakpointHint(filePath string, line, column int) (string, int, bool) {
	filename := filepath.Base(filePath)
	bp := s.target.CreateBreakpointByLocation(filename, line, column)
	defer s.target.DeleteBreakpoint(bp.ID())

	bestCount := 0
	bestPath := ""
	for i := 0; i < bp.NumLocations(); i++ {
		le, ok := bp.LocationAtIndex(i).Address().LineEntry()
		if !ok || le.Line != line {
			continue
		}
		count := commonSuffixComponents(le.Path, filePath)
		if count > bestCount {
			bestCount = count
			bestPath = le.Path
		}
	}
	if bestPath == "" {
		return "", 0, false
	}
	return bestPath, line, true
}

func commonSuffixComponents(a, b string) int {
	as := strings.Split(filepath.Clean(a), string(filepath.Separator))
	bs := strings.Split(filepath.Clean(b), string(filepath.Separator))
	count := 0
	for i, j := len(as)-1, len(bs)-1; i >= 0 && j >= 0; i, j = i-1, j-1 {
		if as[i] != bs[j] {
			break
		}
		count++
	}
	return count
}

func (s *Session) setDasmBreakpoints(c dapsrv.Context, dasm *disassembledRange, requested []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	existing := s.breakpoints.assembly[dasm.Handle()]
	newBps := make(map[int]int)
	result := []dap.Breakpoint{}
	for _, req := range requested {
		laddress := dasm.AddressByLineNum(req.Line)

		var bp lldb.Breakpoint
		if id, ok := existing[req.Line]; ok {
			bp = s.target.FindBreakpointByID(id)
		}
		if bp == nil {
			bp = s.target.CreateBreakpointByLoadAddress(laddress)
		}

		info := s.makeBpInfo(c, bp, breakpointDisassembly, req.Condition, req.LogMessage, req.HitCondition)
		s.initBpActions(c, info)
		result = append(result, s.makeBpResponse(info, false))
		newBps[req.Line] = info.id
		s.breakpoints.infos[info.id] = info
	}
	for line, id := range existing {
		if _, ok := newBps[line]; !ok {
			s.target.DeleteBreakpoint(id)
			delete(s.breakpoints.infos, id)
		}
	}
	s.breakpoints.assembly[dasm.Handle()] = newBps
	return result, nil
}

func (s *Session) setRestoredDasmBreakpoints(c dapsrv.Context, data AdapterData, requested []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	// Re-materialize the range so responses can reference it; breakpoints
	// are placed from the blob's line table either way.
	if _, err := s.disasm.Restore(data); err != nil {
		logrus.WithError(err).Debug("could not restore disassembled range")
	}
	lineAddresses := LinesFromAdapterData(data)
	result := []dap.Breakpoint{}
	for _, req := range requested {
		if req.Line < 1 || req.Line > len(lineAddresses) {
			result = append(result, dap.Breakpoint{})
			continue
		}
		address := lineAddresses[req.Line-1]
		bp := s.target.CreateBreakpointByLoadAddress(address)
		info := s.makeBpInfo(c, bp, breakpointDisassembly, req.Condition, req.LogMessage, req.HitCondition)
		s.initBpActions(c, info)
		result = append(result, s.makeBpResponse(info, false))
		s.breakpoints.infos[info.id] = info
	}
	return result, nil
}

func (s *Session) onSetInstructionBreakpoints(c dapsrv.Context, req *dap.SetInstructionBreakpointsRequest, resp *dap.SetInstructionBreakpointsResponse) error {
	if err := s.requireTarget(); err != nil {
		return err
	}
	newBps := make(map[uint64]int)
	result := []dap.Breakpoint{}
	for _, ib := range req.Arguments.Breakpoints {
		baseAddr, err := parseAddress(ib.InstructionReference)
		if err != nil {
			return dapsrv.BlameUserError(err)
		}
		address := baseAddr + uint64(ib.Offset)

		var bp lldb.Breakpoint
		if id, ok := s.breakpoints.instruction[address]; ok {
			bp = s.target.FindBreakpointByID(id)
		}
		if bp == nil {
			bp = s.target.CreateBreakpointByLoadAddress(address)
		}

		info := s.makeBpInfo(c, bp, breakpointInstruction, ib.Condition, "", ib.HitCondition)
		s.initBpActions(c, info)
		result = append(result, s.makeBpResponse(info, false))
		newBps[address] = info.id
		s.breakpoints.infos[info.id] = info
	}
	for addr, id := range s.breakpoints.instruction {
		if _, ok := newBps[addr]; !ok {
			s.target.DeleteBreakpoint(id)
			delete(s.breakpoints.infos, id)
		}
	}
	s.breakpoints.instruction = newBps
	resp.Body.Breakpoints = result
	return nil
}

func (s *Session) onSetFunctionBreakpoints(c dapsrv.Context, req *dap.SetFunctionBreakpointsRequest, resp *dap.SetFunctionBreakpointsResponse) error {
	if err := s.requireTarget(); err != nil {
		return err
	}
	newBps := make(map[string]int)
	result := []dap.Breakpoint{}
	for _, fb := range req.Arguments.Breakpoints {
		var bp lldb.Breakpoint
		if id, ok := s.breakpoints.function[fb.Name]; ok {
			bp = s.target.FindBreakpointByID(id)
		}
		if bp == nil {
			if strings.HasPrefix(fb.Name, "/re ") {
				bp = s.target.CreateBreakpointByRegex(fb.Name[4:])
			} else {
				bp = s.target.CreateBreakpointByName(fb.Name)
			}
		}

		info := s.makeBpInfo(c, bp, breakpointFunction, fb.Condition, "", fb.HitCondition)
		s.initBpActions(c, info)
		result = append(result, s.makeBpResponse(info, false))
		newBps[fb.Name] = info.id
		s.breakpoints.infos[info.id] = info
	}
	for name, id := range s.breakpoints.function {
		if _, ok := newBps[name]; !ok {
			s.target.DeleteBreakpoint(id)
			delete(s.breakpoints.infos, id)
		}
	}
	s.breakpoints.function = newBps
	resp.Body.Breakpoints = result
	return nil
}

func (s *Session) onSetExceptionBreakpoints(c dapsrv.Context, req *dap.SetExceptionBreakpointsRequest, resp *dap.SetExceptionBreakpointsResponse) error {
	if err := s.requireTarget(); err != nil {
		return err
	}
	for id, info := range s.breakpoints.infos {
		if info.kind == breakpointException {
			s.target.DeleteBreakpoint(id)
			delete(s.breakpoints.infos, id)
		}
	}

	for _, name := range req.Arguments.Filters {
		if bp, ok := s.createExceptionBreakpoint(name); ok {
			info := s.makeBpInfo(c, bp, breakpointException, "", "", "")
			info.filterName = name
			s.initBpActions(c, info)
			s.breakpoints.infos[info.id] = info
		}
	}
	for _, filter := range req.Arguments.FilterOptions {
		if bp, ok := s.createExceptionBreakpoint(filter.FilterId); ok {
			info := s.makeBpInfo(c, bp, breakpointException, filter.Condition, "", "")
			info.filterName = filter.FilterId
			s.initBpActions(c, info)
			s.breakpoints.infos[info.id] = info
		}
	}
	return nil
}

func (s *Session) createExceptionBreakpoint(name string) (lldb.Breakpoint, bool) {
	switch name {
	case filterCppThrow:
		bp := s.target.CreateBreakpointForException(lldb.LanguageCPlusPlus, false, true)
		bp.AddName("cpp_exception")
		return bp, true
	case filterCppCatch:
		bp := s.target.CreateBreakpointForException(lldb.LanguageCPlusPlus, true, false)
		bp.AddName("cpp_exception")
		return bp, true
	case filterRustPanic:
		bp := s.target.CreateBreakpointByName("rust_panic")
		bp.AddName("rust_panic")
		return bp, true
	case filterSwiftThrow:
		bp := s.target.CreateBreakpointForException(lldb.LanguageSwift, false, true)
		bp.AddName("swift_exception")
		return bp, true
	default:
		return nil, false
	}
}

func (s *Session) makeBpInfo(c dapsrv.Context, bp lldb.Breakpoint, kind breakpointKind, condition, logMessage, hitCondition string) *breakpointInfo {
	info := &breakpointInfo{
		id:         bp.ID(),
		bp:         bp,
		kind:       kind,
		condition:  strings.TrimSpace(condition),
		logMessage: strings.TrimSpace(logMessage),
	}
	if hc := strings.TrimSpace(hitCondition); hc != "" {
		parsed, err := expressions.ParseHitCondition(hc)
		if err != nil {
			s.consoleError(c, "Invalid hit condition: "+hc)
		} else {
			info.hitCondition = &parsed
		}
	}
	return info
}

// makeBpResponse generates the protocol Breakpoint from a breakpointInfo.
func (s *Session) makeBpResponse(info *breakpointInfo, includeSource bool) dap.Breakpoint {
	message := fmt.Sprintf("Resolved locations: %d", info.bp.NumResolvedLocations())

	if info.bp.NumLocations() == 0 {
		return dap.Breakpoint{Id: info.id, Verified: false, Message: message}
	}

	switch info.kind {
	case breakpointSource:
		address := info.bp.LocationAtIndex(0).Address()
		le, ok := address.LineEntry()
		if !ok {
			return dap.Breakpoint{Id: info.id, Verified: false, Message: message}
		}
		bp := dap.Breakpoint{
			Id:       info.id,
			Line:     le.Line,
			Verified: true,
			Message:  message,
		}
		if includeSource {
			bp.Source = &dap.Source{
				Name: filepath.Base(le.Path),
				Path: le.Path,
			}
		}
		return bp

	case breakpointDisassembly:
		laddress := info.bp.LocationAtIndex(0).Address().LoadAddress()
		dasm, err := s.disasm.FromAddress(laddress)
		if err != nil {
			return dap.Breakpoint{Id: info.id, Verified: false, Message: message}
		}
		adapterData, err := json.Marshal(dasm.AdapterData())
		if err != nil {
			return dap.Breakpoint{Id: info.id, Verified: false, Message: message}
		}
		return dap.Breakpoint{
			Id:       info.id,
			Verified: true,
			Line:     dasm.LineNumByAddress(laddress),
			Source: &dap.Source{
				Name:            dasm.SourceName(),
				Path:            dasm.SourceName(),
				SourceReference: dasm.Handle(),
				AdapterData:     adapterData,
			},
			Message: message,
		}

	case breakpointInstruction:
		laddress := info.bp.LocationAtIndex(0).Address().LoadAddress()
		return dap.Breakpoint{
			Id:                   info.id,
			Verified:             true,
			InstructionReference: fmt.Sprintf("0x%X", laddress),
			Message:              message,
		}

	default: // function, exception
		return dap.Breakpoint{
			Id:       info.id,
			Verified: info.bp.NumLocations() > 0,
			Message:  message,
		}
	}
}

// compiledCondition is an adapter-side breakpoint condition, pre-compiled
// when the breakpoint is configured.
type compiledCondition struct {
	code   script.Code
	simple bool
}

// initBpActions propagates breakpoint options into the engine breakpoint
// and installs the callback bridge.
func (s *Session) initBpActions(c dapsrv.Context, info *breakpointInfo) {
	var condition *compiledCondition
	if info.condition != "" {
		pp := expressions.Prepare(info.condition, s.defaultExprKind)
		switch pp.Kind {
		case expressions.Native:
			// The engine evaluates native conditions itself.
			info.bp.SetCondition(pp.Code)
		default:
			if s.interp != nil {
				code, err := s.interp.Compile(pp.Code, "<breakpoint condition>")
				if err != nil {
					s.consoleError(c, "Could not parse breakpoint condition:\n"+err.Error())
				} else {
					condition = &compiledCondition{code: code, simple: pp.Kind == expressions.Simple}
				}
			}
		}
	}

	bpID := info.id
	// The callback runs on an engine thread. It re-enters the session loop
	// with a message and blocks for the stop/no-stop verdict; the engine
	// demands a synchronous answer. When the session is gone, decline to
	// stop.
	info.bp.SetCallback(func(p lldb.Process, t lldb.Thread, loc lldb.BreakpointLocation) bool {
		logrus.Debugf("callback for breakpoint %d", bpID)
		decision := make(chan bool, 1)
		posted := s.post(func(c dapsrv.Context) {
			decision <- s.onBreakpointHit(c, t, loc, condition)
		})
		if !posted {
			return false
		}
		return <-decision
	})
}

func (s *Session) onBreakpointHit(c dapsrv.Context, thread lldb.Thread, loc lldb.BreakpointLocation, condition *compiledCondition) bool {
	info, ok := s.breakpoints.infos[loc.Breakpoint().ID()]
	if !ok {
		return true
	}

	if len(info.exclusions) > 0 {
		var symbolsOnStack []string
		for i := 0; i < thread.NumFrames(); i++ {
			if frame, ok := thread.FrameAtIndex(i); ok {
				if sym, ok := frame.Symbol(); ok {
					symbolsOnStack = append(symbolsOnStack, sym)
				}
			}
		}
		for _, exclusion := range info.exclusions {
			for _, sym := range symbolsOnStack {
				if sym == exclusion {
					return false
				}
			}
		}
	}

	if condition != nil {
		frame, _ := thread.FrameAtIndex(0)
		shouldStop, err := s.interp.EvaluateAsBool(condition.code, condition.simple, s.evalContext(frame))
		if err != nil {
			s.consoleError(c, "Could not evaluate breakpoint condition:\n"+err.Error())
			return true // Stop on evaluation errors, even if there's a log message.
		}
		if !shouldStop {
			return false
		}
	}

	// We maintain our own hit count for consistency between native and
	// script conditions: the engine doesn't count hits whose native
	// condition was false, but does count callback invocations even when
	// the callback returned false.
	info.hitCount++

	if info.hitCondition != nil && !info.hitCondition.ShouldStop(info.hitCount) {
		return false
	}

	// A log point prints and never stops.
	if info.logMessage != "" {
		frame, _ := thread.FrameAtIndex(0)
		s.consoleMessage(c, s.formatLogpointMessage(info.logMessage, frame))
		return false
	}

	return true
}

// formatLogpointMessage interpolates {expression} placeholders.
func (s *Session) formatLogpointMessage(logMessage string, frame lldb.Frame) string {
	return expressions.ReplaceLogpointExpressions(logMessage, func(expr string) (string, error) {
		pp, spec, err := expressions.PrepareWithFormat(expr, s.defaultExprKind)
		if err != nil {
			return "", err
		}
		val, err := s.evaluateExprInFrame(pp, frame)
		if err != nil {
			return "", err
		}
		val, err = s.applyFormatSpec(val, spec)
		if err != nil {
			return "", err
		}
		return s.varSummary(val, false), nil
	})
}

func (s *Session) handleBreakpointEvent(c dapsrv.Context, event lldb.BreakpointEvent) {
	bp := event.Breakpoint
	switch event.Kind {
	case lldb.BreakpointAdded:
		// Don't notify the client if we are already tracking this one, and
		// not for transient breakpoints either.
		if _, tracked := s.breakpoints.infos[bp.ID()]; tracked || !bp.IsValid() {
			return
		}
		info := s.makeBpInfo(c, bp, breakpointSource, "", "", "")
		s.sendEvent(c, &dap.BreakpointEvent{
			Event: dap.Event{Event: "breakpoint"},
			Body: dap.BreakpointEventBody{
				Reason:     "new",
				Breakpoint: s.makeBpResponse(info, true),
			},
		})
		s.breakpoints.infos[info.id] = info
	case lldb.BreakpointLocationsAdded, lldb.BreakpointLocationsResolved:
		if info, ok := s.breakpoints.infos[bp.ID()]; ok {
			s.sendEvent(c, &dap.BreakpointEvent{
				Event: dap.Event{Event: "breakpoint"},
				Body: dap.BreakpointEventBody{
					Reason:     "changed",
					Breakpoint: s.makeBpResponse(info, false),
				},
			})
		}
	case lldb.BreakpointRemoved:
		bp.ClearCallback()
		// Notify only if tracked; otherwise we'd make the client forget
		// breakpoints it merely disabled in the UI.
		if _, tracked := s.breakpoints.infos[bp.ID()]; tracked {
			s.sendEvent(c, &dap.BreakpointEvent{
				Event: dap.Event{Event: "breakpoint"},
				Body: dap.BreakpointEventBody{
					Reason:     "removed",
					Breakpoint: dap.Breakpoint{Id: bp.ID()},
				},
			})
			delete(s.breakpoints.infos, bp.ID())
		}
	}
}

func (s *Session) onExcludeCaller(c dapsrv.Context, req *dapsrv.ExcludeCallerRequest, resp *dapsrv.ExcludeCallerResponse) error {
	if err := s.requireProcess(); err != nil {
		return err
	}
	thread := s.process.SelectedThread()
	if thread == nil || thread.StopReason() != lldb.StopReasonBreakpoint {
		return dapsrv.BlameUserError(errors.New("Must be stopped on a breakpoint."))
	}
	bpID := int(thread.StopReasonDataAtIndex(0))

	symbol, ok := s.symbolFromFrame(uint64(req.Arguments.ThreadId), req.Arguments.FrameIndex)
	if !ok {
		return dapsrv.BlameUserError(errors.New("Could not locate symbol for this stack frame."))
	}
	info, ok := s.breakpoints.infos[bpID]
	if !ok {
		return dapsrv.BlameUserError(errors.New("Could not locate symbol for this stack frame."))
	}
	info.exclusions = append(info.exclusions, symbol)

	if info.kind == breakpointException {
		for _, filter := range exceptionFilters() {
			if filter.Filter == info.filterName {
				resp.Body.Breakpoint = dapsrv.BreakpointRef{Filter: filter.Filter, Label: filter.Label}
				break
			}
		}
	} else {
		resp.Body.Breakpoint = dapsrv.BreakpointRef{ID: bpID}
	}
	resp.Body.Symbol = symbol
	return nil
}

func (s *Session) symbolFromFrame(tid uint64, frameIndex int) (string, bool) {
	thread, ok := s.process.ThreadByID(tid)
	if !ok {
		return "", false
	}
	frame, ok := thread.FrameAtIndex(frameIndex)
	if !ok {
		return "", false
	}
	return frame.Symbol()
}

func (s *Session) onSetExcludedCallers(c dapsrv.Context, req *dapsrv.SetExcludedCallersRequest, resp *dap.Response) error {
	for _, info := range s.breakpoints.infos {
		info.exclusions = nil
	}
	for _, exclusion := range req.Arguments.Exclusions {
		switch {
		case exclusion.Breakpoint.ID != 0:
			if info, ok := s.breakpoints.infos[exclusion.Breakpoint.ID]; ok {
				info.exclusions = append(info.exclusions, exclusion.Symbol)
			}
		case exclusion.Breakpoint.Filter != "":
			for _, info := range s.breakpoints.infos {
				if info.kind == breakpointException && info.filterName == exclusion.Breakpoint.Filter {
					info.exclusions = append(info.exclusions, exclusion.Symbol)
				}
			}
		}
	}
	return nil
}

func parseAddress(s string) (uint64, error) {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "0x") || strings.HasPrefix(t, "0X") {
		v, err := strconv.ParseUint(t[2:], 16, 64)
		if err != nil {
			return 0, errors.Errorf("invalid address %q", s)
		}
		return v, nil
	}
	if v, err := strconv.ParseUint(t, 10, 64); err == nil {
		return v, nil
	}
	if v, err := strconv.ParseUint(t, 16, 64); err == nil {
		return v, nil
	}
	return 0, errors.Errorf("invalid address %q", s)
}
