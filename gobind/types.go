package gobind

import (
	"fmt"

	"dllbindgen/cdecl"
)

// cgoScalarNames maps C spellings that cgo renames.
var cgoScalarNames = map[string]string{
	"signed char":        "schar",
	"unsigned char":      "uchar",
	"unsigned short":     "ushort",
	"unsigned int":       "uint",
	"unsigned long":      "ulong",
	"long long":          "longlong",
	"unsigned long long": "ulonglong",
}

func goScalar(t cdecl.Type) (string, error) {
	switch t.Kind {
	case cdecl.KindBool:
		return "bool", nil
	case cdecl.KindFloat:
		if t.Size == 4 {
			return "float32", nil
		}
		return "float64", nil
	case cdecl.KindInt:
		switch t.Name {
		case "size_t":
			return "uint", nil
		case "ssize_t", "ptrdiff_t", "intptr_t":
			return "int", nil
		case "uintptr_t":
			return "uintptr", nil
		}
		prefix := "int"
		if !t.Signed {
			prefix = "uint"
		}
		switch t.Size {
		case 1, 2, 4, 8:
			return fmt.Sprintf("%s%d", prefix, t.Size*8), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

func cgoScalar(t cdecl.Type) string {
	if n, ok := cgoScalarNames[t.Name]; ok {
		return "C." + n
	}
	return "C." + t.Name
}

// goType spells t as a Go type of the generated package.
func (e *emitter) goType(t cdecl.Type) (string, error) {
	switch t.Kind {
	case cdecl.KindBool, cdecl.KindInt, cdecl.KindFloat:
		return goScalar(t)
	case cdecl.KindPointer:
		return e.goPointer(*t.Elem)
	case cdecl.KindFuncPtr:
		return "unsafe.Pointer", nil
	case cdecl.KindArray:
		elem, err := e.goType(*t.Elem)
		if err != nil {
			return "", err
		}
		n := t.Len
		if n < 0 {
			n = 0
		}
		return fmt.Sprintf("[%d]%s", n, elem), nil
	case cdecl.KindRecord:
		if name, ok := e.records[t.Name]; ok {
			return name, nil
		}
		return "", fmt.Errorf("%w: undeclared record %s", ErrUnsupportedType, t.Name)
	case cdecl.KindEnum:
		if name, ok := e.enums[t.Name]; ok {
			return name, nil
		}
		return "int32", nil
	case cdecl.KindTypedef:
		if name, ok := e.typedefs[t.Name]; ok {
			return name, nil
		}
		td, ok := e.h.Typedefs.Get(t.Name)
		if !ok || e.invalid[t.Name] {
			return "", fmt.Errorf("%w: typedef %s", ErrUnsupportedType, t.Name)
		}
		return e.goType(td.Underlying)
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

func (e *emitter) goPointer(elem cdecl.Type) (string, error) {
	resolved := e.h.ResolveTypedef(elem)
	switch resolved.Kind {
	case cdecl.KindVoid:
		return "unsafe.Pointer", nil
	case cdecl.KindRecord:
		if _, ok := e.records[resolved.Name]; !ok {
			// Pointers to records the header never declares stay untyped.
			return "unsafe.Pointer", nil
		}
	}
	inner, err := e.goType(elem)
	if err != nil {
		return "", err
	}
	return "*" + inner, nil
}

// cgoType spells t the way cgo names it inside the generated package.
func (e *emitter) cgoType(t cdecl.Type) (string, error) {
	switch t.Kind {
	case cdecl.KindBool, cdecl.KindInt, cdecl.KindFloat:
		return cgoScalar(t), nil
	case cdecl.KindPointer:
		resolved := e.h.ResolveTypedef(*t.Elem)
		if resolved.Kind == cdecl.KindVoid {
			return "unsafe.Pointer", nil
		}
		if resolved.Kind == cdecl.KindRecord {
			if r, ok := e.h.Records.Get(resolved.Name); !ok || r.Anonymous {
				return "unsafe.Pointer", nil
			}
		}
		inner, err := e.cgoType(*t.Elem)
		if err != nil {
			return "", err
		}
		return "*" + inner, nil
	case cdecl.KindFuncPtr:
		return "*[0]byte", nil
	case cdecl.KindArray:
		inner, err := e.cgoType(*t.Elem)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("[%d]%s", t.Len, inner), nil
	case cdecl.KindRecord:
		r, ok := e.h.Records.Get(t.Name)
		if !ok {
			return "", fmt.Errorf("%w: undeclared record %s", ErrUnsupportedType, t.Name)
		}
		if r.Anonymous {
			return "", fmt.Errorf("%w: anonymous record %s passed by value", ErrUnsupportedType, t.Name)
		}
		if !r.Tagged {
			return "C." + r.Name, nil
		}
		if r.Union {
			return "C.union_" + r.Name, nil
		}
		return "C.struct_" + r.Name, nil
	case cdecl.KindEnum:
		if en, ok := e.h.Enums.Get(t.Name); ok && !en.Tagged {
			return "C." + en.Name, nil
		}
		return "C.enum_" + t.Name, nil
	case cdecl.KindTypedef:
		return "C." + t.Name, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

type conv int

const (
	convNone conv = iota
	convScalar
	convPointer
	convValue
)

func (e *emitter) convClass(t cdecl.Type) conv {
	switch e.h.ResolveTypedef(t).Kind {
	case cdecl.KindVoid:
		return convNone
	case cdecl.KindBool, cdecl.KindInt, cdecl.KindFloat, cdecl.KindEnum:
		return convScalar
	case cdecl.KindPointer, cdecl.KindFuncPtr:
		return convPointer
	}
	return convValue
}

// toC converts the Go value name of Go type gt to its cgo counterpart.
func (e *emitter) toC(name string, t cdecl.Type, gt string) (string, error) {
	ct, err := e.cgoType(t)
	if err != nil {
		return "", err
	}
	switch e.convClass(t) {
	case convScalar:
		return fmt.Sprintf("%s(%s)", ct, name), nil
	case convPointer:
		switch {
		case ct == "unsafe.Pointer" && gt == "unsafe.Pointer":
			return name, nil
		case ct == "unsafe.Pointer":
			return fmt.Sprintf("unsafe.Pointer(%s)", name), nil
		case gt == "unsafe.Pointer":
			return fmt.Sprintf("(%s)(%s)", ct, name), nil
		}
		return fmt.Sprintf("(%s)(unsafe.Pointer(%s))", ct, name), nil
	case convValue:
		return fmt.Sprintf("*(*%s)(unsafe.Pointer(&%s))", ct, name), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}

// fromC converts the cgo expression expr back to Go type gt.
func (e *emitter) fromC(expr string, t cdecl.Type, gt string) (string, error) {
	ct, err := e.cgoType(t)
	if err != nil {
		return "", err
	}
	switch e.convClass(t) {
	case convScalar:
		return fmt.Sprintf("%s(%s)", gt, expr), nil
	case convPointer:
		switch {
		case ct == "unsafe.Pointer" && gt == "unsafe.Pointer":
			return expr, nil
		case ct == "unsafe.Pointer":
			return fmt.Sprintf("(%s)(%s)", gt, expr), nil
		case gt == "unsafe.Pointer":
			return fmt.Sprintf("unsafe.Pointer(%s)", expr), nil
		}
		return fmt.Sprintf("(%s)(unsafe.Pointer(%s))", gt, expr), nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedType, t)
}
