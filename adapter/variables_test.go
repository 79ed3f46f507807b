package adapter

import (
	"strconv"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-dbg/kestrel/expressions"
	"github.com/kestrel-dbg/kestrel/lldb"
	"github.com/kestrel-dbg/kestrel/lldb/lldbstub"
)

func formatSpecWithArray(n int) expressions.FormatSpec {
	return expressions.FormatSpec{ArrayLen: &n}
}

func frameHandle(s *Session, frame *lldbstub.Frame) Handle {
	return s.varRefs.Create(0, "[1,0]", container{kind: containerStackFrame, frame: frame})
}

func TestScopes(t *testing.T) {
	s, _, _, _, frame := newBenchSession(t)
	c := newFakeContext()
	h := frameHandle(s, frame)

	req := &dap.ScopesRequest{Request: dap.Request{Command: "scopes"}}
	req.Arguments.FrameId = h
	resp := &dap.ScopesResponse{}
	require.NoError(t, s.onScopes(c, req, resp))
	require.Len(t, resp.Body.Scopes, 4)

	names := []string{}
	for _, scope := range resp.Body.Scopes {
		names = append(names, scope.Name)
		assert.False(t, scope.Expensive)
		assert.Greater(t, scope.VariablesReference, 0)
	}
	assert.Equal(t, []string{"Local", "Static", "Global", "Registers"}, names)

	// Unknown frame id is user-blamed.
	req.Arguments.FrameId = 99999
	err := s.onScopes(c, req, &dap.ScopesResponse{})
	assert.Error(t, err)
}

func localsHandle(t *testing.T, s *Session, c *fakeContext, frame *lldbstub.Frame) Handle {
	t.Helper()
	req := &dap.ScopesRequest{Request: dap.Request{Command: "scopes"}}
	req.Arguments.FrameId = frameHandle(s, frame)
	resp := &dap.ScopesResponse{}
	require.NoError(t, s.onScopes(c, req, resp))
	return resp.Body.Scopes[0].VariablesReference
}

func getVariables(t *testing.T, s *Session, c *fakeContext, ref Handle) []dap.Variable {
	t.Helper()
	req := &dap.VariablesRequest{Request: dap.Request{Command: "variables"}}
	req.Arguments.VariablesReference = ref
	resp := &dap.VariablesResponse{}
	require.NoError(t, s.onVariables(c, req, resp))
	return resp.Body.Variables
}

func TestVariablesLocalsDeduplicate(t *testing.T) {
	s, _, _, _, frame := newBenchSession(t)
	c := newFakeContext()
	frame.LocalVars = []*lldbstub.Value{
		lldbstub.Scalar("x", "1"),
		lldbstub.Scalar("y", "2"),
		lldbstub.Scalar("x", "3"), // shadowing declaration in a nested block
	}

	vars := getVariables(t, s, c, localsHandle(t, s, c, frame))
	require.Len(t, vars, 2)
	assert.Equal(t, "x", vars[0].Name)
	assert.Equal(t, "3", vars[0].Value)
	assert.Equal(t, "y", vars[1].Name)
}

func TestVariablesReturnValueFirst(t *testing.T) {
	s, _, _, thread, frame := newBenchSession(t)
	c := newFakeContext()
	frame.LocalVars = []*lldbstub.Value{lldbstub.Scalar("x", "1")}
	thread.ReturnValue = lldbstub.Scalar("ret", "99")

	vars := getVariables(t, s, c, localsHandle(t, s, c, frame))
	require.NotEmpty(t, vars)
	assert.Equal(t, "[return value]", vars[0].Name)
	assert.Equal(t, "99", vars[0].Value)
}

func TestVariablesExpansionTimeout(t *testing.T) {
	s, _, _, _, frame := newBenchSession(t)
	c := newFakeContext()
	s.settings.evaluationTimeout = 10 * time.Millisecond

	huge := &lldbstub.Value{
		NameV:      "huge",
		TypeV:      lldbstub.StructType("Huge"),
		ChildCount: 1_000_000,
		ChildGen: func(i int) *lldbstub.Value {
			time.Sleep(50 * time.Microsecond)
			return lldbstub.Scalar("["+strconv.Itoa(i)+"]", strconv.Itoa(i))
		},
	}
	frame.LocalVars = []*lldbstub.Value{huge}

	vars := getVariables(t, s, c, localsHandle(t, s, c, frame))
	require.Len(t, vars, 1)
	ref := vars[0].VariablesReference
	require.Greater(t, ref, 0)

	children := getVariables(t, s, c, ref)
	require.NotEmpty(t, children)
	last := children[len(children)-1]
	assert.Equal(t, "[timed out]", last.Name)
	require.NotNil(t, last.PresentationHint)
	assert.Equal(t, []string{"readOnly", "virtual"}, last.PresentationHint.Attributes)
	assert.Less(t, len(children), 1_000_000)
}

func TestSyntheticValueGetsRawView(t *testing.T) {
	s, _, _, _, frame := newBenchSession(t)
	c := newFakeContext()

	raw := lldbstub.Struct("__raw", "std::__vector_base")
	vec := lldbstub.Struct("v", "std::vector<int>",
		lldbstub.Scalar("[0]", "10"),
		lldbstub.Scalar("[1]", "20"),
	)
	vec.Synthetic = true
	vec.RawValue = raw
	frame.LocalVars = []*lldbstub.Value{vec}

	vars := getVariables(t, s, c, localsHandle(t, s, c, frame))
	require.Len(t, vars, 1)

	children := getVariables(t, s, c, vars[0].VariablesReference)
	require.Len(t, children, 3)
	last := children[2]
	assert.Equal(t, "[raw]", last.Name)
	require.NotNil(t, last.PresentationHint)
	assert.Equal(t, []string{"readOnly", "virtual"}, last.PresentationHint.Attributes)
}

func TestContainerSummarySynthesis(t *testing.T) {
	s, _, _, _, _ := newBenchSession(t)

	v := lldbstub.Struct("p", "Point",
		lldbstub.Scalar("x", "1"),
		lldbstub.Scalar("y", "2"),
	)
	assert.Equal(t, "{x:1, y:2}", s.varSummary(v, true))

	// Index-shaped names render without the name.
	arr := lldbstub.Struct("a", "Arr",
		lldbstub.Scalar("[0]", "7"),
		lldbstub.Scalar("[1]", "8"),
	)
	assert.Equal(t, "{7, 8}", s.varSummary(arr, true))

	// Length cap appends an ellipsis.
	big := lldbstub.Struct("b", "Big")
	for i := 0; i < 32; i++ {
		big.Children = append(big.Children, lldbstub.Scalar("f"+strconv.Itoa(i), "123456"))
	}
	summary := s.varSummary(big, true)
	assert.Contains(t, summary, "...")
}

func TestPointerDerefHeuristic(t *testing.T) {
	s, _, _, _, _ := newBenchSession(t)

	pointeeType := lldbstub.StructType("Node")
	ptrType := lldbstub.PointerType(pointeeType)

	// Null pointer.
	null := &lldbstub.Value{NameV: "p", TypeV: ptrType, Unsigned: 0}
	assert.Equal(t, "<null>", s.varSummary(null, false))

	// Valid pointee substitutes its summary.
	pointee := lldbstub.Struct("", "Node")
	pointee.SummaryV = "Node{id:5}"
	pointee.HasSummary = true
	pointee.ByteSizeV = 16
	ptr := &lldbstub.Value{NameV: "p", TypeV: ptrType, Unsigned: 0x1000, Deref: pointee}
	assert.Equal(t, "Node{id:5}", s.varSummary(ptr, false))

	// Pointer-to-pointer renders the pointee value in braces.
	pptrType := lldbstub.PointerType(ptrType)
	inner := &lldbstub.Value{NameV: "", TypeV: ptrType, ValueV: "0x2000", HasValue: true, ByteSizeV: 8}
	pptr := &lldbstub.Value{NameV: "pp", TypeV: pptrType, Unsigned: 0x3000, Deref: inner}
	assert.Equal(t, "{0x2000}", s.varSummary(pptr, false))

	// Unreadable pointee.
	bad := &lldbstub.Value{NameV: "p", TypeV: ptrType, Unsigned: 0xdead,
		Deref: &lldbstub.Value{TypeV: pointeeType, ByteSizeV: 0}}
	assert.Equal(t, "<invalid address>", s.varSummary(bad, false))

	// Disabled deref shows the pointer value itself.
	s.settings.derefPointers = false
	plain := &lldbstub.Value{NameV: "p", TypeV: ptrType, Unsigned: 0x1000, ValueV: "0x1000", HasValue: true}
	assert.Equal(t, "0x1000", s.varSummary(plain, false))
}

func TestSetVariable(t *testing.T) {
	s, _, _, _, frame := newBenchSession(t)
	c := newFakeContext()
	frame.LocalVars = []*lldbstub.Value{lldbstub.Scalar("x", "1")}
	locals := localsHandle(t, s, c, frame)

	req := &dap.SetVariableRequest{Request: dap.Request{Command: "setVariable"}}
	req.Arguments.VariablesReference = locals
	req.Arguments.Name = "x"
	req.Arguments.Value = "42"
	resp := &dap.SetVariableResponse{}
	require.NoError(t, s.onSetVariable(c, req, resp))
	assert.Equal(t, "42", resp.Body.Value)

	// Unknown names are user-blamed.
	req.Arguments.Name = "nope"
	err := s.onSetVariable(c, req, &dap.SetVariableResponse{})
	assert.Error(t, err)
}

func TestMemoryReferences(t *testing.T) {
	s, _, _, _, _ := newBenchSession(t)

	v := lldbstub.Scalar("x", "5")
	v.LoadAddress0 = 0x7fff0000
	assert.Empty(t, s.memRefForVar(v), "no memory references unless the client asked")

	s.clientCaps.SupportsMemoryReferences = true
	assert.Equal(t, "0x7FFF0000", s.memRefForVar(v))

	reg := &lldbstub.Value{NameV: "rsp", TypeV: lldbstub.ScalarType("u64", lldb.BasicTypeUnsignedLongLong),
		Unsigned: 0x7fffaaaa, Class: lldb.ValueClassRegister}
	assert.Equal(t, "0x7FFFAAAA", s.memRefForVar(reg))
}

func TestApplyFormatSpecArrayReinterpretation(t *testing.T) {
	s, _, _, _, frame := newBenchSession(t)
	_ = frame

	elemType := lldbstub.ScalarType("int", lldb.BasicTypeInt)
	ptrType := lldbstub.PointerType(elemType)
	pointee := &lldbstub.Value{TypeV: elemType, AddressV: 0x2000, HasAddress: true, ByteSizeV: 4}
	ptr := &lldbstub.Value{NameV: "p", TypeV: ptrType, Unsigned: 0x2000, Deref: pointee}

	n := 8
	out, err := s.applyFormatSpec(ptr, formatSpecWithArray(n))
	require.NoError(t, err)
	assert.Equal(t, "(as array)", out.Name())
	assert.Equal(t, "int[]", out.TypeName())
}

func TestEvaluateFormatOverride(t *testing.T) {
	s, _, _, _, frame := newBenchSession(t)
	c := newFakeContext()
	v := lldbstub.Scalar("x", "255")
	frame.ExprResults["x"] = v

	resp := &dap.EvaluateResponse{}
	require.NoError(t, s.evaluateExpression(c, "x,x", frame, resp))
	assert.Equal(t, lldb.FormatHex, v.Format())
}
