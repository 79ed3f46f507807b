package luascript

import (
	"strconv"

	lua "github.com/yuin/gopher-lua"

	"github.com/kestrel-dbg/kestrel/lldb"
)

// literalValue adapts a Lua evaluation result to the engine value interface
// so script results flow through the same rendering paths as engine values.
type literalValue struct {
	value    string
	typeName string
	number   float64
	isNumber bool
	format   lldb.Format
}

func fromLua(lv lua.LValue) lldb.Value {
	v := &literalValue{}
	switch lv := lv.(type) {
	case lua.LNumber:
		v.number = float64(lv)
		v.isNumber = true
		v.value = lv.String()
		v.typeName = "number"
	case lua.LBool:
		v.value = lv.String()
		v.typeName = "bool"
	case lua.LString:
		v.value = string(lv)
		v.typeName = "string"
	case *lua.LNilType, nil:
		v.value = "nil"
		v.typeName = "nil"
	default:
		v.value = lv.String()
		v.typeName = lv.Type().String()
	}
	return v
}

func (v *literalValue) IsValid() bool           { return true }
func (v *literalValue) Error() error            { return nil }
func (v *literalValue) Name() string            { return "" }
func (v *literalValue) TypeName() string        { return v.typeName }
func (v *literalValue) DisplayTypeName() string { return v.typeName }
func (v *literalValue) Type() lldb.Type         { return literalType{name: v.typeName} }

func (v *literalValue) Summary() (string, bool) { return "", false }

func (v *literalValue) Value() (string, bool) {
	if v.isNumber && v.format == lldb.FormatHex {
		return "0x" + strconv.FormatUint(uint64(v.number), 16), true
	}
	return v.value, true
}

func (v *literalValue) ValueAsUnsigned(def uint64) uint64 {
	if v.isNumber {
		return uint64(v.number)
	}
	return def
}

func (v *literalValue) NumChildren() int                                { return 0 }
func (v *literalValue) ChildAtIndex(int) lldb.Value                     { return nil }
func (v *literalValue) ChildMemberWithName(string) (lldb.Value, bool)   { return nil, false }
func (v *literalValue) IsSynthetic() bool                               { return false }
func (v *literalValue) NonSyntheticValue() lldb.Value                   { return v }
func (v *literalValue) PreferSyntheticValue() bool                      { return false }
func (v *literalValue) Dereference() lldb.Value                         { return nil }
func (v *literalValue) ByteSize() int                                   { return len(v.value) }
func (v *literalValue) LoadAddress() uint64                             { return lldb.InvalidAddress }
func (v *literalValue) Address() (uint64, bool)                         { return 0, false }
func (v *literalValue) ExpressionPath() (string, bool)                  { return "", false }
func (v *literalValue) ValueClass() lldb.ValueClass                     { return lldb.ValueClassConstResult }
func (v *literalValue) Format() lldb.Format                             { return v.format }
func (v *literalValue) SetFormat(f lldb.Format)                         { v.format = f }
func (v *literalValue) SetValue(string) error                           { return errSetLiteral }

var errSetLiteral = errorString("cannot assign to an evaluation result")

type errorString string

func (e errorString) Error() string { return string(e) }

type literalType struct {
	name string
}

func (t literalType) Name() string                { return t.name }
func (t literalType) TypeClass() lldb.TypeClass   { return lldb.TypeClassBuiltin }
func (t literalType) BasicType() lldb.BasicType   { return lldb.BasicTypeOther }
func (t literalType) IsPointerType() bool         { return false }
func (t literalType) PointeeType() lldb.Type      { return nil }
func (t literalType) ArrayElementType() lldb.Type { return nil }
func (t literalType) ArrayType(int) lldb.Type     { return nil }
