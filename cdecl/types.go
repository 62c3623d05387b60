package cdecl

import (
	"fmt"
	"strings"
)

// Kind classifies a C type as far as binding generation cares.
type Kind int

const (
	KindUnsupported Kind = iota
	KindVoid
	KindBool
	KindInt
	KindFloat
	KindPointer
	KindArray
	KindRecord
	KindEnum
	KindTypedef
	KindFuncPtr
)

var kindNames = [...]string{
	KindUnsupported: "unsupported",
	KindVoid:        "void",
	KindBool:        "bool",
	KindInt:         "int",
	KindFloat:       "float",
	KindPointer:     "pointer",
	KindArray:       "array",
	KindRecord:      "record",
	KindEnum:        "enum",
	KindTypedef:     "typedef",
	KindFuncPtr:     "funcptr",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Type is a reference to a C type. Records, enums and typedefs are referenced
// by name and resolved through the Header.
type Type struct {
	Kind Kind
	// Name is the C spelling for scalars ("unsigned long", "int32_t") and the
	// declaration name for records, enums and typedefs.
	Name   string
	Size   int64
	Signed bool
	Const  bool
	Elem   *Type
	// Len is the element count of an array, -1 for an incomplete array.
	Len  int64
	Func *FuncType
}

// FuncType is the signature behind a function pointer.
type FuncType struct {
	Params []Type
	Result Type
}

func VoidType() Type { return Type{Kind: KindVoid, Name: "void"} }

func IntType(name string, size int64, signed bool) Type {
	return Type{Kind: KindInt, Name: name, Size: size, Signed: signed}
}

func FloatType(name string, size int64) Type {
	return Type{Kind: KindFloat, Name: name, Size: size, Signed: true}
}

func BoolType(name string) Type { return Type{Kind: KindBool, Name: name, Size: 1} }

func PointerTo(elem Type) Type { return Type{Kind: KindPointer, Elem: &elem, Size: 8} }

func ArrayOf(elem Type, n int64) Type { return Type{Kind: KindArray, Elem: &elem, Len: n} }

func RecordRef(name string) Type { return Type{Kind: KindRecord, Name: name} }

func EnumRef(name string) Type { return Type{Kind: KindEnum, Name: name} }

func TypedefRef(name string) Type { return Type{Kind: KindTypedef, Name: name} }

func FuncPtrOf(params []Type, result Type) Type {
	return Type{Kind: KindFuncPtr, Func: &FuncType{Params: params, Result: result}, Size: 8}
}

// IsScalar reports whether values of t convert with a plain C.T(x) cast.
func (t Type) IsScalar() bool {
	return t.Kind == KindBool || t.Kind == KindInt || t.Kind == KindFloat
}

// String renders t roughly as C would spell it. It is used in log output.
func (t Type) String() string {
	switch t.Kind {
	case KindPointer:
		return t.Elem.String() + " *"
	case KindArray:
		if t.Len < 0 {
			return t.Elem.String() + "[]"
		}
		return fmt.Sprintf("%s[%d]", t.Elem.String(), t.Len)
	case KindRecord:
		return "struct " + t.Name
	case KindEnum:
		return "enum " + t.Name
	case KindFuncPtr:
		params := make([]string, len(t.Func.Params))
		for i, p := range t.Func.Params {
			params[i] = p.String()
		}
		return fmt.Sprintf("%s (*)(%s)", t.Func.Result.String(), strings.Join(params, ", "))
	case KindUnsupported:
		return "<unsupported " + t.Name + ">"
	default:
		return t.Name
	}
}

// Walk calls fn for t and every type nested inside it.
func (t Type) Walk(fn func(Type)) {
	fn(t)
	if t.Elem != nil {
		t.Elem.Walk(fn)
	}
	if t.Func != nil {
		for _, p := range t.Func.Params {
			p.Walk(fn)
		}
		t.Func.Result.Walk(fn)
	}
}

// standardTypedefs are the typedefs from system headers that keep their own
// spelling instead of being replaced by the canonical type.
var standardTypedefs = map[string]Type{
	"int8_t":    IntType("int8_t", 1, true),
	"uint8_t":   IntType("uint8_t", 1, false),
	"int16_t":   IntType("int16_t", 2, true),
	"uint16_t":  IntType("uint16_t", 2, false),
	"int32_t":   IntType("int32_t", 4, true),
	"uint32_t":  IntType("uint32_t", 4, false),
	"int64_t":   IntType("int64_t", 8, true),
	"uint64_t":  IntType("uint64_t", 8, false),
	"size_t":    IntType("size_t", 8, false),
	"ssize_t":   IntType("ssize_t", 8, true),
	"ptrdiff_t": IntType("ptrdiff_t", 8, true),
	"intptr_t":  IntType("intptr_t", 8, true),
	"uintptr_t": IntType("uintptr_t", 8, false),
	"bool":      BoolType("bool"),
}

// StandardTypedef returns the scalar for a well-known system typedef.
func StandardTypedef(name string) (Type, bool) {
	t, ok := standardTypedefs[name]
	return t, ok
}
