package expressions

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-dbg/kestrel/lldb"
)

func TestPrepare(t *testing.T) {
	assert.Equal(t, PreparedExpression{Kind: Native, Code: "a+b"}, Prepare("/nat a+b", Simple))
	assert.Equal(t, PreparedExpression{Kind: Simple, Code: "a+b"}, Prepare("/se a+b", Native))
	assert.Equal(t, PreparedExpression{Kind: Script, Code: "a+b"}, Prepare("/py a+b", Native))
	assert.Equal(t, PreparedExpression{Kind: Simple, Code: "a+b"}, Prepare("a+b", Simple))
}

func TestPrepareWithFormat(t *testing.T) {
	pp, spec, err := PrepareWithFormat("ptr,[16],x", Native)
	require.NoError(t, err)
	assert.Equal(t, "ptr", pp.Code)
	require.NotNil(t, spec.ArrayLen)
	assert.Equal(t, 16, *spec.ArrayLen)
	require.NotNil(t, spec.Format)
	assert.Equal(t, lldb.FormatHex, *spec.Format)

	pp, spec, err = PrepareWithFormat("value,b", Native)
	require.NoError(t, err)
	assert.Equal(t, "value", pp.Code)
	assert.Nil(t, spec.ArrayLen)
	assert.Equal(t, lldb.FormatBinary, *spec.Format)

	// A comma that is part of the expression is left alone.
	pp, spec, err = PrepareWithFormat("f(a, b)", Native)
	require.NoError(t, err)
	assert.Equal(t, "f(a, b)", pp.Code)
	assert.Nil(t, spec.Format)

	_, _, err = PrepareWithFormat(",x", Native)
	assert.Error(t, err)
}

func TestParseHitCondition(t *testing.T) {
	for _, tt := range []struct {
		in string
		op HitConditionOp
		n  uint32
	}{
		{"<5", HitLT, 5},
		{"<=5", HitLE, 5},
		{"==7", HitEQ, 7},
		{">=2", HitGE, 2},
		{"> 3", HitGT, 3},
		{"%3", HitMod, 3},
		{"4", HitEQ, 4},
		{"  9 ", HitEQ, 9},
	} {
		hc, err := ParseHitCondition(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.op, hc.Op, tt.in)
		assert.Equal(t, tt.n, hc.N, tt.in)
	}

	for _, in := range []string{"", "abc", "%0", "==", "-1"} {
		_, err := ParseHitCondition(in)
		assert.Error(t, err, in)
	}
}

func TestHitConditionDecisionSequence(t *testing.T) {
	decisions := func(hc HitCondition, hits int) []bool {
		out := make([]bool, hits)
		for h := 1; h <= hits; h++ {
			out[h-1] = hc.ShouldStop(uint32(h))
		}
		return out
	}

	hc, _ := ParseHitCondition("%3")
	assert.Equal(t, []bool{false, false, true, false, false, true, false, false, true}, decisions(hc, 9))

	hc, _ = ParseHitCondition(">=4")
	assert.Equal(t, []bool{false, false, false, true, true, true}, decisions(hc, 6))

	hc, _ = ParseHitCondition("2")
	assert.Equal(t, []bool{false, true, false, false}, decisions(hc, 4))
}

func TestReplaceLogpointExpressions(t *testing.T) {
	eval := func(expr string) (string, error) {
		if expr == "bad" {
			return "", fmt.Errorf("no such variable")
		}
		return "<" + expr + ">", nil
	}

	assert.Equal(t, "x=<x>, y=<y>", ReplaceLogpointExpressions("x={x}, y={y}", eval))
	assert.Equal(t, "plain text", ReplaceLogpointExpressions("plain text", eval))
	assert.Equal(t, "<a{b}c>", ReplaceLogpointExpressions("{a{b}c}", eval))
	assert.Equal(t, "{Error: no such variable}!", ReplaceLogpointExpressions("{bad}!", eval))
}
