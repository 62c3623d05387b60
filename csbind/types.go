package csbind

import (
	"errors"
	"fmt"
	"go/ast"
	"go/types"
	"strconv"
	"strings"
)

var ErrUnknownType = errors.New("unknown type")

// csBuiltins maps Go basic types to their C# spelling.
var csBuiltins = map[string]string{
	"int8":    "sbyte",
	"uint8":   "byte",
	"byte":    "byte",
	"int16":   "short",
	"uint16":  "ushort",
	"int32":   "int",
	"uint32":  "uint",
	"int64":   "long",
	"uint64":  "ulong",
	"int":     "nint",
	"uint":    "nuint",
	"uintptr": "nuint",
	"float32": "float",
	"float64": "double",
	"bool":    "bool",
}

// fixedElems are the element types C# allows in fixed size buffers.
var fixedElems = map[string]bool{
	"sbyte": true, "byte": true, "short": true, "ushort": true, "int": true,
	"uint": true, "long": true, "ulong": true, "float": true, "double": true,
	"bool": true, "char": true,
}

var csKeywords = map[string]bool{
	"abstract": true, "as": true, "base": true, "bool": true, "break": true,
	"byte": true, "case": true, "catch": true, "char": true, "checked": true,
	"class": true, "const": true, "continue": true, "decimal": true, "default": true,
	"delegate": true, "do": true, "double": true, "else": true, "enum": true,
	"event": true, "explicit": true, "extern": true, "false": true, "finally": true,
	"fixed": true, "float": true, "for": true, "foreach": true, "goto": true,
	"if": true, "implicit": true, "in": true, "int": true, "interface": true,
	"internal": true, "is": true, "lock": true, "long": true, "namespace": true,
	"new": true, "null": true, "object": true, "operator": true, "out": true,
	"override": true, "params": true, "private": true, "protected": true, "public": true,
	"readonly": true, "ref": true, "return": true, "sbyte": true, "sealed": true,
	"short": true, "sizeof": true, "stackalloc": true, "static": true, "string": true,
	"struct": true, "switch": true, "this": true, "throw": true, "true": true,
	"try": true, "typeof": true, "uint": true, "ulong": true, "unchecked": true,
	"unsafe": true, "ushort": true, "using": true, "virtual": true, "void": true,
	"volatile": true, "while": true,
}

// escape makes a C identifier usable in C#.
func escape(name string) string {
	if csKeywords[name] {
		return "@" + name
	}
	return name
}

func isUnsafePointer(expr ast.Expr) bool {
	sel, ok := expr.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && pkg.Name == "unsafe" && sel.Sel.Name == "Pointer"
}

// csType spells a parameter, result or scalar field type in C#.
func (m *Module) csType(expr ast.Expr) (string, error) {
	switch e := expr.(type) {
	case *ast.Ident:
		if cs, ok := csBuiltins[e.Name]; ok {
			return cs, nil
		}
		if r, ok := m.Records.Get(e.Name); ok {
			return escape(r.CName), nil
		}
		if en, ok := m.Enums.Get(e.Name); ok {
			return escape(en.CName), nil
		}
		if td, ok := m.Typedefs.Get(e.Name); ok {
			return m.csType(td.Type)
		}
		if cb, ok := m.Callbacks.Get(e.Name); ok {
			return m.delegate(cb.Sig)
		}
		return "", fmt.Errorf("%w: %s", ErrUnknownType, e.Name)
	case *ast.StarExpr:
		inner, err := m.csType(e.X)
		if err != nil {
			return "", err
		}
		return inner + "*", nil
	case *ast.SelectorExpr:
		if isUnsafePointer(e) {
			return "void*", nil
		}
	case *ast.ParenExpr:
		return m.csType(e.X)
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownType, types.ExprString(expr))
}

// delegate spells a callback signature as an unmanaged function pointer.
func (m *Module) delegate(ft *ast.FuncType) (string, error) {
	var parts []string
	for _, f := range ft.Params.List {
		t, err := m.csType(f.Type)
		if err != nil {
			return "", err
		}
		n := len(f.Names)
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			parts = append(parts, t)
		}
	}
	ret := "void"
	if ft.Results != nil && len(ft.Results.List) > 0 {
		t, err := m.csType(ft.Results.List[0].Type)
		if err != nil {
			return "", err
		}
		ret = t
	}
	parts = append(parts, ret)
	return "delegate* unmanaged[Cdecl]<" + strings.Join(parts, ", ") + ">", nil
}

// arrayOf flattens nested array types into their element and total length.
func arrayOf(expr ast.Expr) (ast.Expr, int64, bool) {
	at, ok := expr.(*ast.ArrayType)
	if !ok || at.Len == nil {
		return nil, 0, false
	}
	lit, ok := at.Len.(*ast.BasicLit)
	if !ok {
		return nil, 0, false
	}
	n, err := strconv.ParseInt(lit.Value, 0, 64)
	if err != nil {
		return nil, 0, false
	}
	if elem, inner, ok := arrayOf(at.Elt); ok {
		return elem, n * inner, true
	}
	return at.Elt, n, true
}

type abiKind int

const (
	// abiDirect types cross the export boundary unchanged.
	abiDirect abiKind = iota
	// abiScalar types cross as their basic underlying type.
	abiScalar
	// abiPointer types cross as unsafe.Pointer.
	abiPointer
	// abiValue types cross as their cgo C type.
	abiValue
)

type abiType struct {
	kind abiKind
	// spelling is the type the exported function declares.
	spelling string
}

// shimType decides how a Go type crosses the c-shared export boundary.
// Exported functions may only use basic Go types, unsafe.Pointer and C types.
func (m *Module) shimType(expr ast.Expr) (abiType, error) {
	switch e := expr.(type) {
	case *ast.Ident:
		if _, ok := csBuiltins[e.Name]; ok {
			return abiType{abiDirect, e.Name}, nil
		}
		if en, ok := m.Enums.Get(e.Name); ok {
			return abiType{abiScalar, en.Underlying}, nil
		}
		if _, ok := m.Callbacks.Get(e.Name); ok {
			return abiType{abiPointer, "unsafe.Pointer"}, nil
		}
		if r, ok := m.Records.Get(e.Name); ok {
			if r.Kind == OpaqueRecord || r.Cgo == "" {
				return abiType{}, fmt.Errorf("%w: record %s cannot be passed by value", ErrUnknownType, r.CName)
			}
			return abiType{abiValue, r.Cgo}, nil
		}
		if td, ok := m.Typedefs.Get(e.Name); ok {
			if _, ok := td.Type.(*ast.ArrayType); ok {
				return abiType{abiValue, "C." + td.CName}, nil
			}
			under, err := m.shimType(td.Type)
			if err != nil {
				return abiType{}, err
			}
			switch under.kind {
			case abiDirect:
				if under.spelling == "unsafe.Pointer" {
					return abiType{abiPointer, under.spelling}, nil
				}
				return abiType{abiScalar, under.spelling}, nil
			case abiValue:
				return abiType{abiValue, "C." + td.CName}, nil
			}
			return under, nil
		}
		return abiType{}, fmt.Errorf("%w: %s", ErrUnknownType, e.Name)
	case *ast.StarExpr:
		return abiType{abiPointer, "unsafe.Pointer"}, nil
	case *ast.SelectorExpr:
		if isUnsafePointer(e) {
			return abiType{abiDirect, "unsafe.Pointer"}, nil
		}
	case *ast.ArrayType:
		return abiType{}, fmt.Errorf("%w: array %s passed by value", ErrUnknownType, types.ExprString(e))
	}
	return abiType{}, fmt.Errorf("%w: %s", ErrUnknownType, types.ExprString(expr))
}

// toGo converts the exported parameter name to the wrapper's type.
func (a abiType) toGo(name string, goType ast.Expr) string {
	gt := types.ExprString(goType)
	switch a.kind {
	case abiScalar:
		return fmt.Sprintf("%s(%s)", gt, name)
	case abiPointer:
		if gt == "unsafe.Pointer" {
			return name
		}
		return fmt.Sprintf("(%s)(%s)", gt, name)
	case abiValue:
		return fmt.Sprintf("*(*%s)(unsafe.Pointer(&%s))", gt, name)
	}
	return name
}

// fromGo converts a wrapper result expression to the exported type.
func (a abiType) fromGo(expr string) string {
	switch a.kind {
	case abiScalar:
		return fmt.Sprintf("%s(%s)", a.spelling, expr)
	case abiPointer:
		return fmt.Sprintf("unsafe.Pointer(%s)", expr)
	}
	return expr
}
