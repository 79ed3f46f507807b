package luascript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-dbg/kestrel/lldb/lldbstub"
	"github.com/kestrel-dbg/kestrel/script"
)

func TestCompileRejectsGarbage(t *testing.T) {
	i := New()
	defer i.Close()

	_, err := i.Compile("x ==", "<test>")
	assert.Error(t, err)

	code, err := i.Compile("1 + 2", "<test>")
	require.NoError(t, err)
	require.NotNil(t, code)
}

func TestEvaluateLiteral(t *testing.T) {
	i := New()
	defer i.Close()

	code, err := i.Compile("2 * 21", "<test>")
	require.NoError(t, err)

	v, err := i.Evaluate(code, false, script.EvalContext{})
	require.NoError(t, err)
	got, ok := v.Value()
	require.True(t, ok)
	assert.Equal(t, "42", got)
	assert.Equal(t, uint64(42), v.ValueAsUnsigned(0))
}

func TestEvaluateAsBoolResolvesFrameVariables(t *testing.T) {
	i := New()
	defer i.Close()

	frame := lldbstub.NewFrame(0x1000, "main")
	frame.LocalVars = []*lldbstub.Value{lldbstub.Scalar("x", "7")}
	ctx := script.EvalContext{Frame: frame}

	code, err := i.Compile("x > 5", "<breakpoint condition>")
	require.NoError(t, err)

	stop, err := i.EvaluateAsBool(code, true, ctx)
	require.NoError(t, err)
	assert.True(t, stop)

	code, err = i.Compile("x > 10", "<breakpoint condition>")
	require.NoError(t, err)
	stop, err = i.EvaluateAsBool(code, true, ctx)
	require.NoError(t, err)
	assert.False(t, stop)
}

func TestEvaluateUnknownVariableIsNil(t *testing.T) {
	i := New()
	defer i.Close()

	frame := lldbstub.NewFrame(0x1000, "main")
	code, err := i.Compile("missing == nil", "<test>")
	require.NoError(t, err)

	ok, err := i.EvaluateAsBool(code, true, script.EvalContext{Frame: frame})
	require.NoError(t, err)
	assert.True(t, ok)
}
