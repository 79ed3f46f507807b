package lldbstub

import (
	"github.com/pkg/errors"

	"github.com/kestrel-dbg/kestrel/lldb"
)

// Type is a configurable stub type.
type Type struct {
	NameV    string
	Class    lldb.TypeClass
	Basic    lldb.BasicType
	Pointee  *Type
	Element  *Type
	ArrayLen int
}

var _ lldb.Type = (*Type)(nil)

func ScalarType(name string, basic lldb.BasicType) *Type {
	return &Type{NameV: name, Class: lldb.TypeClassBuiltin, Basic: basic}
}

func StructType(name string) *Type {
	return &Type{NameV: name, Class: lldb.TypeClassStruct, Basic: lldb.BasicTypeInvalid}
}

func PointerType(pointee *Type) *Type {
	return &Type{NameV: pointee.NameV + " *", Class: lldb.TypeClassPointer, Basic: lldb.BasicTypeInvalid, Pointee: pointee}
}

func (t *Type) Name() string              { return t.NameV }
func (t *Type) TypeClass() lldb.TypeClass { return t.Class }
func (t *Type) BasicType() lldb.BasicType { return t.Basic }

func (t *Type) IsPointerType() bool {
	return t.Class.Intersects(lldb.TypeClassPointer)
}

func (t *Type) PointeeType() lldb.Type {
	if t.Pointee == nil {
		return nil
	}
	return t.Pointee
}

func (t *Type) ArrayElementType() lldb.Type {
	if t.Element == nil {
		return nil
	}
	return t.Element
}

func (t *Type) ArrayType(size int) lldb.Type {
	elem := t
	return &Type{NameV: t.NameV + "[]", Class: lldb.TypeClassArray, Element: elem, ArrayLen: size}
}

// Value is a configurable stub value.
type Value struct {
	NameV    string
	TypeV    lldb.Type
	ValueV   string
	HasValue bool
	SummaryV string
	HasSummary bool
	Unsigned uint64

	Children []*Value
	// ChildGen, when set, generates children on demand; ChildCount is the
	// advertised count (used for huge synthetic child lists).
	ChildGen   func(i int) *Value
	ChildCount int

	Synthetic bool
	RawValue  *Value
	Deref     *Value
	Err       error

	AddressV    uint64
	HasAddress  bool
	LoadAddress0 uint64
	Class       lldb.ValueClass
	ByteSizeV   int
	ExprPath    string

	format   lldb.Format
	SetError error
}

var _ lldb.Value = (*Value)(nil)

// Scalar returns an int-valued stub.
func Scalar(name, value string) *Value {
	return &Value{
		NameV:        name,
		TypeV:        ScalarType("int", lldb.BasicTypeInt),
		ValueV:       value,
		HasValue:     true,
		ByteSizeV:    4,
		LoadAddress0: lldb.InvalidAddress,
	}
}

// Struct returns a struct-valued stub with the given children.
func Struct(name, typeName string, children ...*Value) *Value {
	return &Value{
		NameV:        name,
		TypeV:        StructType(typeName),
		Children:     children,
		ByteSizeV:    8,
		LoadAddress0: lldb.InvalidAddress,
	}
}

func (v *Value) IsValid() bool { return v.Err == nil }
func (v *Value) Error() error  { return v.Err }
func (v *Value) Name() string  { return v.NameV }

func (v *Value) TypeName() string {
	if v.TypeV == nil {
		return ""
	}
	return v.TypeV.Name()
}

func (v *Value) DisplayTypeName() string { return v.TypeName() }

func (v *Value) Type() lldb.Type {
	if v.TypeV == nil {
		return &Type{}
	}
	return v.TypeV
}

func (v *Value) Summary() (string, bool) { return v.SummaryV, v.HasSummary }

func (v *Value) Value() (string, bool) { return v.ValueV, v.HasValue }

func (v *Value) ValueAsUnsigned(def uint64) uint64 {
	if v.Unsigned != 0 {
		return v.Unsigned
	}
	return def
}

func (v *Value) NumChildren() int {
	if v.ChildGen != nil {
		return v.ChildCount
	}
	return len(v.Children)
}

func (v *Value) ChildAtIndex(i int) lldb.Value {
	if v.ChildGen != nil {
		return v.ChildGen(i)
	}
	if i < 0 || i >= len(v.Children) {
		return nil
	}
	return v.Children[i]
}

func (v *Value) ChildMemberWithName(name string) (lldb.Value, bool) {
	for _, child := range v.Children {
		if child.NameV == name {
			return child, true
		}
	}
	return nil, false
}

func (v *Value) IsSynthetic() bool { return v.Synthetic }

func (v *Value) NonSyntheticValue() lldb.Value {
	if v.RawValue != nil {
		return v.RawValue
	}
	return v
}

func (v *Value) PreferSyntheticValue() bool { return v.Synthetic }

func (v *Value) Dereference() lldb.Value {
	if v.Deref == nil {
		return nil
	}
	return v.Deref
}

func (v *Value) ByteSize() int { return v.ByteSizeV }

func (v *Value) LoadAddress() uint64 {
	if v.LoadAddress0 == 0 {
		return lldb.InvalidAddress
	}
	return v.LoadAddress0
}

func (v *Value) Address() (uint64, bool) { return v.AddressV, v.HasAddress }

func (v *Value) ExpressionPath() (string, bool) { return v.ExprPath, v.ExprPath != "" }

func (v *Value) ValueClass() lldb.ValueClass { return v.Class }

func (v *Value) Format() lldb.Format     { return v.format }
func (v *Value) SetFormat(f lldb.Format) { v.format = f }

func (v *Value) SetValue(expr string) error {
	if v.SetError != nil {
		return v.SetError
	}
	if v.TypeV != nil && !v.TypeV.BasicType().IsScalar() {
		return errors.New("not assignable")
	}
	v.ValueV = expr
	v.HasValue = true
	return nil
}
