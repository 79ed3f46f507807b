// Package expressions holds the pure helpers for the adapter's expression
// surface: classifying user expressions by evaluator, parsing trailing
// format specifiers, parsing breakpoint hit conditions and interpolating
// log-point messages.
package expressions

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/kestrel-dbg/kestrel/lldb"
)

// Kind selects the evaluator for a prepared expression.
type Kind int

const (
	// Native expressions go to the engine's own expression evaluator.
	Native Kind = iota
	// Simple expressions are resolved against frame variables by the
	// scripting interpreter, with Python/Lua-style operators.
	Simple
	// Script expressions run verbatim in the scripting interpreter.
	Script
)

func (k Kind) String() string {
	switch k {
	case Native:
		return "native"
	case Simple:
		return "simple"
	default:
		return "script"
	}
}

// PreparedExpression is an expression with its evaluator decided and the
// selector prefix stripped.
type PreparedExpression struct {
	Kind Kind
	Code string
}

// Prepare classifies an expression by its prefix. "/nat ", "/se " and
// "/py " force an evaluator; anything else uses the session default.
func Prepare(expr string, defaultKind Kind) PreparedExpression {
	switch {
	case strings.HasPrefix(expr, "/nat "):
		return PreparedExpression{Kind: Native, Code: expr[5:]}
	case strings.HasPrefix(expr, "/se "):
		return PreparedExpression{Kind: Simple, Code: expr[4:]}
	case strings.HasPrefix(expr, "/py "):
		return PreparedExpression{Kind: Script, Code: expr[4:]}
	default:
		return PreparedExpression{Kind: defaultKind, Code: expr}
	}
}

// FormatSpec is the trailing decorator of an expression: an optional display
// format override and an optional array reinterpretation count.
type FormatSpec struct {
	Format   *lldb.Format
	ArrayLen *int
}

var arraySpecRe = regexp.MustCompile(`^\[(\d+)\]$`)

// PrepareWithFormat splits "expr,x" / "expr,[8]" / "expr,[8],x" style
// suffixes off the expression, then classifies the remainder with Prepare.
func PrepareWithFormat(expr string, defaultKind Kind) (PreparedExpression, FormatSpec, error) {
	spec := FormatSpec{}
	rest := expr
	for {
		idx := strings.LastIndex(rest, ",")
		if idx < 0 {
			break
		}
		suffix := strings.TrimSpace(rest[idx+1:])
		if m := arraySpecRe.FindStringSubmatch(suffix); m != nil {
			if spec.ArrayLen != nil {
				return PreparedExpression{}, FormatSpec{}, errors.Errorf("duplicate array specifier in %q", expr)
			}
			n, err := strconv.Atoi(m[1])
			if err != nil || n <= 0 {
				return PreparedExpression{}, FormatSpec{}, errors.Errorf("invalid array length %q", suffix)
			}
			spec.ArrayLen = &n
			rest = rest[:idx]
			continue
		}
		if f, ok := parseFormatLetter(suffix); ok {
			if spec.Format != nil {
				return PreparedExpression{}, FormatSpec{}, errors.Errorf("duplicate format specifier in %q", expr)
			}
			spec.Format = &f
			rest = rest[:idx]
			continue
		}
		break
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return PreparedExpression{}, FormatSpec{}, errors.New("empty expression")
	}
	return Prepare(rest, defaultKind), spec, nil
}

func parseFormatLetter(s string) (lldb.Format, bool) {
	switch s {
	case "x", "X", "h", "H":
		return lldb.FormatHex, true
	case "d", "i":
		return lldb.FormatDecimal, true
	case "b":
		return lldb.FormatBinary, true
	default:
		return lldb.FormatDefault, false
	}
}

// HitConditionOp is the comparator of a hit condition.
type HitConditionOp int

const (
	HitLT HitConditionOp = iota
	HitLE
	HitEQ
	HitGE
	HitGT
	HitMod
)

// HitCondition gates breakpoint stops on the adapter-maintained hit count.
type HitCondition struct {
	Op HitConditionOp
	N  uint32
}

// ShouldStop evaluates the condition against the current hit count.
func (h HitCondition) ShouldStop(hitCount uint32) bool {
	switch h.Op {
	case HitLT:
		return hitCount < h.N
	case HitLE:
		return hitCount <= h.N
	case HitEQ:
		return hitCount == h.N
	case HitGE:
		return hitCount >= h.N
	case HitGT:
		return hitCount > h.N
	case HitMod:
		return hitCount%h.N == 0
	default:
		return true
	}
}

// ParseHitCondition parses "<N", "<=N", "==N", ">=N", ">N", "%N" or a bare
// "N" (synonym for "==N").
func ParseHitCondition(s string) (HitCondition, error) {
	s = strings.TrimSpace(s)
	op := HitEQ
	switch {
	case strings.HasPrefix(s, "<="):
		op, s = HitLE, s[2:]
	case strings.HasPrefix(s, ">="):
		op, s = HitGE, s[2:]
	case strings.HasPrefix(s, "=="):
		op, s = HitEQ, s[2:]
	case strings.HasPrefix(s, "<"):
		op, s = HitLT, s[1:]
	case strings.HasPrefix(s, ">"):
		op, s = HitGT, s[1:]
	case strings.HasPrefix(s, "%"):
		op, s = HitMod, s[1:]
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil || n == 0 {
		return HitCondition{}, errors.Errorf("invalid hit condition operand %q", s)
	}
	return HitCondition{Op: op, N: uint32(n)}, nil
}

// ReplaceLogpointExpressions finds {…} groups in a log message, handling
// nested braces, and substitutes each with eval's result. Evaluation errors
// are rendered inline as "{Error: …}".
func ReplaceLogpointExpressions(message string, eval func(expr string) (string, error)) string {
	var b strings.Builder
	start := 0
	nesting := 0
	for idx, ch := range message {
		switch {
		case ch == '{':
			if nesting == 0 {
				b.WriteString(message[start:idx])
				start = idx + 1
			}
			nesting++
		case ch == '}' && nesting > 0:
			nesting--
			if nesting == 0 {
				val, err := eval(message[start:idx])
				if err != nil {
					val = "{Error: " + err.Error() + "}"
				}
				b.WriteString(val)
				start = idx + 1
			}
		}
	}
	b.WriteString(message[start:])
	return b.String()
}
