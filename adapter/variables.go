package adapter

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	dapsrv "github.com/kestrel-dbg/kestrel/dap"
	"github.com/kestrel-dbg/kestrel/expressions"
	"github.com/kestrel-dbg/kestrel/lldb"
	"github.com/kestrel-dbg/kestrel/script"
)

func (s *Session) onScopes(c dapsrv.Context, req *dap.ScopesRequest, resp *dap.ScopesResponse) error {
	frameID := req.Arguments.FrameId
	cont, ok := s.varRefs.Get(frameID)
	if !ok || cont.kind != containerStackFrame {
		return dapsrv.BlameUserError(errors.Errorf("Invalid frame reference: %d", frameID))
	}
	frame := cont.frame

	scope := func(name, key string, kind containerKind) dap.Scope {
		handle := s.varRefs.Create(frameID, key, container{kind: kind, frame: frame})
		return dap.Scope{
			Name:               name,
			VariablesReference: handle,
			Expensive:          false,
		}
	}
	resp.Body.Scopes = []dap.Scope{
		scope("Local", "[locs]", containerLocals),
		scope("Static", "[stat]", containerStatics),
		scope("Global", "[glob]", containerGlobals),
		scope("Registers", "[regs]", containerRegisters),
	}
	return nil
}

func (s *Session) onVariables(c dapsrv.Context, req *dap.VariablesRequest, resp *dap.VariablesResponse) error {
	containerHandle := req.Arguments.VariablesReference
	cont, ok := s.varRefs.Get(containerHandle)
	if !ok {
		return dapsrv.BlameUserError(errors.Errorf("Invalid variables reference: %d", containerHandle))
	}

	var (
		variables []dap.Variable
		err       error
	)
	switch cont.kind {
	case containerLocals:
		vars := cont.frame.Variables(lldb.VariableOptions{
			Arguments:   true,
			Locals:      true,
			InScopeOnly: true,
		})
		variables, err = s.convertScopeValues(c, sliceValues(vars), "", containerHandle, true)
		if err != nil {
			return err
		}
		// Prepend last function return value, if any.
		if retVal, ok := cont.frame.Thread().StopReturnValue(); ok {
			variable := s.varToVariable(retVal, "", containerHandle)
			variable.Name = "[return value]"
			variables = append([]dap.Variable{variable}, variables...)
		}
	case containerStatics:
		vars := filterValues(cont.frame.Variables(lldb.VariableOptions{Statics: true, InScopeOnly: true}),
			lldb.ValueClassVariableStatic)
		variables, err = s.convertScopeValues(c, sliceValues(vars), "", containerHandle, false)
	case containerGlobals:
		vars := filterValues(cont.frame.Variables(lldb.VariableOptions{Statics: true, InScopeOnly: true}),
			lldb.ValueClassVariableGlobal)
		variables, err = s.convertScopeValues(c, sliceValues(vars), "", containerHandle, false)
	case containerRegisters:
		variables, err = s.convertScopeValues(c, sliceValues(cont.frame.Registers()), "", containerHandle, false)
	case containerValue:
		v := cont.value
		evalName := s.composeContainerEvalName(containerHandle)
		variables, err = s.convertScopeValues(c, childValues(v), evalName, containerHandle, false)
		if err != nil {
			return err
		}
		// If synthetic, add a [raw] view of the underlying value.
		if v.IsSynthetic() {
			raw := v.NonSyntheticValue()
			handle := s.varRefs.Create(containerHandle, "[raw]", container{kind: containerValue, value: raw})
			variables = append(variables, dap.Variable{
				Name:               "[raw]",
				Value:              v.TypeName(),
				VariablesReference: handle,
				PresentationHint:   &dap.VariablePresentationHint{Attributes: []string{"readOnly", "virtual"}},
			})
		}
	case containerStackFrame:
		variables = []dap.Variable{}
	}
	if err != nil {
		return err
	}
	resp.Body.Variables = variables
	return nil
}

// sliceValues adapts a materialized list to the lazy iterator used by
// convertScopeValues.
func sliceValues(vals []lldb.Value) func(i int) (lldb.Value, bool) {
	return func(i int) (lldb.Value, bool) {
		if i >= len(vals) {
			return nil, false
		}
		return vals[i], true
	}
}

// childValues iterates a value's children without materializing them; child
// lists can be enormous.
func childValues(v lldb.Value) func(i int) (lldb.Value, bool) {
	n := v.NumChildren()
	return func(i int) (lldb.Value, bool) {
		if i >= n {
			return nil, false
		}
		return v.ChildAtIndex(i), true
	}
}

func filterValues(vals []lldb.Value, class lldb.ValueClass) []lldb.Value {
	var out []lldb.Value
	for _, v := range vals {
		if v.ValueClass() == class {
			out = append(out, v)
		}
	}
	return out
}

// convertScopeValues renders an iterator of engine values under a wall-clock
// deadline. deduplicate collapses shadowed names (locals only).
func (s *Session) convertScopeValues(c dapsrv.Context, next func(i int) (lldb.Value, bool), containerEvalName string, containerHandle Handle, deduplicate bool) ([]dap.Variable, error) {
	variables := []dap.Variable{}
	index := map[string]int{}

	start := time.Now()
	for i := 0; ; i++ {
		v, ok := next(i)
		if !ok {
			break
		}
		// The deadline only cuts the list when items remain, so a complete
		// list never carries the timeout marker.
		if i > 0 && time.Since(start) > s.settings.evaluationTimeout {
			s.consoleError(c, "Child list expansion has timed out.")
			variables = append(variables, dap.Variable{
				Name:             "[timed out]",
				Type:             "Expansion of this list has timed out.",
				PresentationHint: &dap.VariablePresentationHint{Attributes: []string{"readOnly", "virtual"}},
			})
			break
		}
		variable := s.varToVariable(v, containerEvalName, containerHandle)

		if deduplicate {
			if idx, ok := index[variable.Name]; ok {
				variables[idx] = variable
			} else {
				index[variable.Name] = len(variables)
				variables = append(variables, variable)
			}
		} else {
			variables = append(variables, variable)
		}

		if s.currentCancel.IsCancelled() {
			return nil, dapsrv.BlameUserError(errors.New("cancelled"))
		}
	}
	return variables, nil
}

// varToVariable converts an engine value to a protocol Variable.
func (s *Session) varToVariable(v lldb.Value, containerEvalName string, containerHandle Handle) dap.Variable {
	name := v.Name()
	value := s.varSummary(v, containerHandle != 0)
	handle := s.varHandle(containerHandle, name, v)

	var evalName string
	if v.PreferSyntheticValue() {
		evalName = composeEvalName(containerEvalName, name)
	} else if path, ok := v.ExpressionPath(); ok {
		evalName = "/nat " + path
	}

	variable := dap.Variable{
		Name:               name,
		Value:              value,
		Type:               v.DisplayTypeName(),
		VariablesReference: handle,
		EvaluateName:       evalName,
		MemoryReference:    s.memRefForVar(v),
	}
	if !v.Type().BasicType().IsScalar() {
		variable.PresentationHint = &dap.VariablePresentationHint{Attributes: []string{"readOnly"}}
	}
	return variable
}

// varHandle issues a child handle for expandable values.
func (s *Session) varHandle(parent Handle, key string, v lldb.Value) Handle {
	if v.NumChildren() > 0 || v.IsSynthetic() {
		return s.varRefs.Create(parent, key, container{kind: containerValue, value: v})
	}
	return 0
}

func (s *Session) composeContainerEvalName(containerHandle Handle) string {
	evalName := ""
	h := containerHandle
	for h != 0 {
		parent, key, cont, ok := s.varRefs.GetFullInfo(h)
		if !ok {
			break
		}
		if cont.kind != containerValue || cont.value.ValueClass() == lldb.ValueClassRegisterSet {
			break
		}
		evalName = composeEvalName(key, evalName)
		h = parent
	}
	return evalName
}

func composeEvalName(prefix, suffix string) string {
	switch {
	case prefix == "":
		return suffix
	case suffix == "":
		return prefix
	case strings.HasPrefix(suffix, "["):
		return prefix + suffix
	default:
		return prefix + "." + suffix
	}
}

// varSummary produces the displayable string for an engine value.
func (s *Session) varSummary(v lldb.Value, isContainer bool) string {
	if err := v.Error(); err != nil {
		return fmt.Sprintf("<%s>", err)
	}

	if s.settings.derefPointers &&
		v.Format() == lldb.FormatDefault &&
		v.Type().TypeClass().Intersects(lldb.TypeClassPointer|lldb.TypeClassReference) {
		// Rather than showing the pointer's numeric value, which is rather
		// uninteresting, prefer the summary of the object it points to.
		if summary, pointee, done := s.tryDerefPointer(v); done {
			return summary
		} else if pointee != nil {
			v = pointee
		}
	}

	if summary, ok := v.Summary(); ok {
		return summary
	}
	if value, ok := v.Value(); ok {
		return value
	}
	if isContainer && s.settings.containerSummary {
		return s.containerSummary(v)
	}
	return "<not available>"
}

// tryDerefPointer returns either a final summary (done=true) or the pointee
// to summarize instead.
func (s *Session) tryDerefPointer(ptr lldb.Value) (summary string, pointee lldb.Value, done bool) {
	// If the pointer has an associated synthetic, or points to a basic type
	// such as char, use the summary of the pointer itself.
	pointeeType := ptr.Type().PointeeType()
	if ptr.IsSynthetic() || (pointeeType != nil && pointeeType.BasicType() != lldb.BasicTypeInvalid) {
		if str, ok := ptr.Summary(); ok {
			return str, nil, true
		}
	}

	if ptr.ValueAsUnsigned(0) == 0 {
		return "<null>", nil, true
	}

	deref := ptr.Dereference()
	if deref != nil && deref.IsValid() {
		if deref.ByteSize() > 0 {
			if pointeeType != nil && pointeeType.TypeClass().Intersects(lldb.TypeClassPointer|lldb.TypeClassReference) {
				// A pointee that is itself a pointer renders in curly braces,
				// otherwise it gets rather confusing.
				if value, ok := deref.Value(); ok {
					return "{" + value + "}", nil, true
				}
			}
			return "", deref, false
		}
		return "<invalid address>", nil, true
	}

	// Could be a void*. Read one byte to probe whether the address is valid.
	addr := ptr.ValueAsUnsigned(0)
	var probe [1]byte
	if s.process != nil {
		if n, err := s.process.ReadMemory(addr, probe[:]); err == nil && n == 1 {
			return "", nil, false
		}
	}
	return "<invalid address>", nil, true
}

// containerSummary synthesizes a "{a:1, b:2, …}" summary from the first
// children, bounded by length and by summaryTimeout.
func (s *Session) containerSummary(v lldb.Value) string {
	start := time.Now()
	var b strings.Builder
	b.WriteByte('{')
	sep := ""
	n := v.NumChildren()
	for i := 0; i < n; i++ {
		if b.Len() > maxSummaryLength || time.Since(start) > s.settings.summaryTimeout {
			b.WriteString(sep)
			b.WriteString("...")
			break
		}
		child := v.ChildAtIndex(i)
		if child == nil {
			continue
		}
		name := child.Name()
		value, ok := child.Summary()
		if !ok {
			value, ok = child.Value()
		}
		if name == "" || !ok {
			continue
		}
		if strings.HasPrefix(name, "[") {
			b.WriteString(sep)
			b.WriteString(value)
		} else {
			b.WriteString(sep)
			b.WriteString(name)
			b.WriteByte(':')
			b.WriteString(value)
		}
		sep = ", "
	}
	if b.Len() <= 1 {
		b.WriteString("...")
	}
	b.WriteByte('}')
	return b.String()
}

// memRefForVar derives a memory reference when the client wants them.
func (s *Session) memRefForVar(v lldb.Value) string {
	if !s.clientCaps.SupportsMemoryReferences {
		return ""
	}
	// Register values are assumed to hold addresses so users can dump
	// memory by referencing SP or PC directly; same for pointer values.
	if v.ValueClass() == lldb.ValueClassRegister || v.Type().IsPointerType() {
		return fmt.Sprintf("0x%X", v.ValueAsUnsigned(0))
	}
	if addr := v.LoadAddress(); addr != lldb.InvalidAddress {
		return fmt.Sprintf("0x%X", addr)
	}
	return ""
}

func (s *Session) onSetVariable(c dapsrv.Context, req *dap.SetVariableRequest, resp *dap.SetVariableResponse) error {
	containerHandle := req.Arguments.VariablesReference
	cont, ok := s.varRefs.Get(containerHandle)
	if !ok {
		return dapsrv.BlameUserError(errors.Errorf("Invalid variables reference: %d", containerHandle))
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
		return dapsrv.BlameUserError(errors.New("Could not set variable value."))
	}

	if err := child.SetValue(req.Arguments.Value); err != nil {
		return dapsrv.BlameUserError(err)
	}
	handle := s.varHandle(containerHandle, child.Name(), child)
	resp.Body.Value = s.varSummary(child, handle != 0)
	resp.Body.Type = child.TypeName()
	resp.Body.VariablesReference = handle
	return nil
}

func (s *Session) evalContext(frame lldb.Frame) script.EvalContext {
	return script.EvalContext{
		Frame:   frame,
		Target:  s.target,
		Process: s.process,
	}
}

func (s *Session) onEvaluate(c dapsrv.Context, req *dap.EvaluateRequest, resp *dap.EvaluateResponse) error {
	var frame lldb.Frame
	if req.Arguments.FrameId != 0 {
		cont, ok := s.varRefs.Get(req.Arguments.FrameId)
		if ok && cont.kind == containerStackFrame {
			frame = cont.frame
			// If the user ran `frame select` after the last stop, use the
			// thread's currently selected frame instead.
			if s.selectedFrameChanged {
				frame = cont.frame.Thread().SelectedFrame()
			}
		} else {
			logrus.Error("invalid frameId in evaluate request")
		}
	}

	expression := req.Arguments.Expression
	var evalErr error
	switch req.Arguments.Context {
	case "repl":
		switch s.settings.consoleMode {
		case consoleModeCommands:
			if strings.HasPrefix(expression, "?") {
				evalErr = s.evaluateExpression(c, expression[1:], frame, resp)
			} else {
				evalErr = s.executeCommand(c, expression, frame, resp, false)
			}
		default: // evaluate, split
			if strings.HasPrefix(expression, "`") {
				evalErr = s.executeCommand(c, expression[1:], frame, resp, false)
			} else if strings.HasPrefix(expression, "/cmd ") {
				evalErr = s.executeCommand(c, expression[5:], frame, resp, false)
			} else {
				evalErr = s.evaluateExpression(c, expression, frame, resp)
			}
		}
	case "hover":
		if !s.settings.evaluateForHovers {
			return dapsrv.BlameNobodyError(errors.New("Hovers are disabled."))
		}
		evalErr = s.evaluateExpression(c, expression, frame, resp)
	case "_command":
		// Protocol extension used by tests: always return command output.
		evalErr = s.executeCommand(c, expression, frame, resp, true)
	default: // watch, clipboard
		evalErr = s.evaluateExpression(c, expression, frame, resp)
	}
	if evalErr != nil {
		return evalErr
	}

	// Respond asynchronously even though the result is ready, so that any
	// console output produced by the evaluation is flushed first.
	captured := *resp
	return &deferredResponse{run: func(c dapsrv.Context) (dap.ResponseMessage, error) {
		out := captured
		return &out, nil
	}}
}

func (s *Session) executeCommand(c dapsrv.Context, command string, frame lldb.Frame, resp *dap.EvaluateResponse, returnOutput bool) error {
	if handled, err := s.replCommand(c, command, resp); handled {
		return err
	}

	result, err := s.debugger.ExecuteCommand(command, frame)
	logrus.Debugf("%s -> %v", command, err)
	if err != nil {
		message := strings.TrimRight(result.Error, "\n")
		if message == "" {
			message = err.Error()
		}
		return dapsrv.BlameUserError(errors.New(message))
	}
	if returnOutput {
		resp.Body.Result = strings.TrimRight(result.Output, "\n")
	} else if result.Output != "" {
		s.consoleMessage(c, strings.TrimRight(result.Output, "\n"))
	}
	return nil
}

func (s *Session) evaluateExpression(c dapsrv.Context, expression string, frame lldb.Frame, resp *dap.EvaluateResponse) error {
	pp, spec, err := expressions.PrepareWithFormat(expression, s.defaultExprKind)
	if err != nil {
		return dapsrv.BlameUserError(err)
	}

	val, err := s.evaluateExprInFrame(pp, frame)
	if err != nil {
		return err
	}
	val, err = s.applyFormatSpec(val, spec)
	if err != nil {
		return err
	}

	handle := s.varHandle(0, expression, val)
	resp.Body.Result = s.varSummary(val, handle != 0)
	resp.Body.Type = val.DisplayTypeName()
	resp.Body.VariablesReference = handle
	resp.Body.MemoryReference = s.memRefForVar(val)
	return nil
}

// evaluateExprInFrame evaluates a prepared expression in the context of
// frame, or globally when frame is nil.
func (s *Session) evaluateExprInFrame(pp expressions.PreparedExpression, frame lldb.Frame) (lldb.Value, error) {
	switch pp.Kind {
	case expressions.Native:
		var (
			val lldb.Value
			err error
		)
		if frame != nil {
			val, err = frame.EvaluateExpression(pp.Code)
		} else {
			if s.target == nil {
				return nil, dapsrv.BlameUserError(errors.New("No debug target."))
			}
			val, err = s.target.EvaluateExpression(pp.Code)
		}
		if err != nil {
			return nil, dapsrv.BlameUserError(err)
		}
		return val, nil
	default:
		if s.interp == nil {
			return nil, dapsrv.BlameUserError(errors.New("Script expressions are disabled."))
		}
		code, err := s.interp.Compile(pp.Code, "<input>")
		if err != nil {
			return nil, dapsrv.BlameUserError(err)
		}
		val, err := s.interp.Evaluate(code, pp.Kind == expressions.Simple, s.evalContext(frame))
		if err != nil {
			return nil, dapsrv.BlameUserError(err)
		}
		return val, nil
	}
}

// applyFormatSpec applies the trailing format decorator: array
// reinterpretation first, then the display format override.
func (s *Session) applyFormatSpec(val lldb.Value, spec expressions.FormatSpec) (lldb.Value, error) {
	if spec.ArrayLen != nil {
		size := *spec.ArrayLen
		varType := val.Type()
		typeClass := varType.TypeClass()
		switch {
		case typeClass.Intersects(lldb.TypeClassPointer | lldb.TypeClassReference):
			// For pointers and references reinterpret the pointee.
			arrayType := varType.PointeeType().ArrayType(size)
			pointee := val.Dereference()
			if pointee == nil || !pointee.IsValid() {
				return nil, dapsrv.BlameUserError(errors.New("No address"))
			}
			addr, ok := pointee.Address()
			if !ok {
				return nil, dapsrv.BlameUserError(errors.New("No address"))
			}
			val = s.target.CreateValueFromAddress("(as array)", addr, arrayType)
		case typeClass.Intersects(lldb.TypeClassArray):
			// For arrays reinterpret the element count.
			arrayType := varType.ArrayElementType().ArrayType(size)
			addr, ok := val.Address()
			if !ok {
				return nil, dapsrv.BlameUserError(errors.New("No address"))
			}
			val = s.target.CreateValueFromAddress("(as array)", addr, arrayType)
		default:
			// Other types reinterpret the value itself.
			arrayType := varType.ArrayType(size)
			addr, ok := val.Address()
			if !ok {
				return nil, dapsrv.BlameUserError(errors.New("No address"))
			}
			val = s.target.CreateValueFromAddress("(as array)", addr, arrayType)
		}
	}
	if spec.Format != nil {
		val.SetFormat(*spec.Format)
	} else {
		val.SetFormat(s.settings.globalFormat)
	}
	return val, nil
}

func (s *Session) onCompletions(c dapsrv.Context, req *dap.CompletionsRequest, resp *dap.CompletionsResponse) error {
	if !s.settings.commandCompletions {
		return dapsrv.BlameNobodyError(errors.New("Completions are disabled"))
	}

	text := req.Arguments.Text
	cursorColumn := req.Arguments.Column - 1
	switch s.settings.consoleMode {
	case consoleModeCommands:
		// Whole line is a command.
	default:
		if strings.HasPrefix(text, "`") {
			text = text[1:]
			cursorColumn--
		} else if strings.HasPrefix(text, "/cmd ") {
			text = text[5:]
			cursorColumn -= 5
		} else {
			// Expression completion is not supported.
			resp.Body.Targets = []dap.CompletionItem{}
			return nil
		}
	}

	// The engine misbehaves when the text starts with a non-alphabetic
	// character.
	if text == "" || !isAlpha(rune(text[0])) {
		resp.Body.Targets = []dap.CompletionItem{}
		return nil
	}
	if cursorColumn < 0 || cursorColumn > len(text) {
		cursorColumn = len(text)
	}

	common, completions := s.debugger.CompleteCommand(text, cursorColumn)

	// Completions usually include some prefix of the string being
	// completed without saying which; assume the last whitespace-separated
	// token before the cursor.
	fields := strings.Fields(text[:cursorColumn])
	prefix := ""
	if len(fields) > 0 {
		prefix = fields[len(fields)-1]
	}
	extendedPrefix := prefix + common

	targets := []dap.CompletionItem{}
	for _, completion := range completions {
		item := dap.CompletionItem{Label: completion}
		if strings.HasPrefix(completion, extendedPrefix) {
			item.Start = req.Arguments.Column - len(prefix)
			item.Length = len(prefix)
		}
		targets = append(targets, item)
	}
	resp.Body.Targets = targets
	return nil
}

func isAlpha(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
