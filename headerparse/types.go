package headerparse

import (
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-clang/clang-v13/clang"

	"dllbindgen/cdecl"
)

// scalarNames maps clang's builtin kinds to the C spelling cgo understands.
var scalarNames = map[clang.TypeKind]string{
	clang.Type_Char_S:    "char",
	clang.Type_Char_U:    "char",
	clang.Type_SChar:     "signed char",
	clang.Type_UChar:     "unsigned char",
	clang.Type_Short:     "short",
	clang.Type_UShort:    "unsigned short",
	clang.Type_Int:       "int",
	clang.Type_UInt:      "unsigned int",
	clang.Type_Long:      "long",
	clang.Type_ULong:     "unsigned long",
	clang.Type_LongLong:  "long long",
	clang.Type_ULongLong: "unsigned long long",
}

func (w *walker) convertType(t clang.Type) cdecl.Type {
	isConst := t.IsConstQualifiedType()
	ct := w.convertUnqualified(t)
	ct.Const = isConst
	return ct
}

func (w *walker) convertUnqualified(t clang.Type) cdecl.Type {
	switch t.Kind() {
	case clang.Type_Elaborated:
		return w.convertUnqualified(t.NamedType())
	case clang.Type_Void:
		return cdecl.VoidType()
	case clang.Type_Bool:
		return cdecl.BoolType("bool")
	case clang.Type_Float:
		return cdecl.FloatType("float", 4)
	case clang.Type_Double:
		return cdecl.FloatType("double", 8)
	case clang.Type_Typedef:
		return w.convertTypedef(t)
	case clang.Type_Pointer:
		return w.convertPointer(t)
	case clang.Type_ConstantArray:
		return cdecl.ArrayOf(w.convertType(t.ArrayElementType()), t.ArraySize())
	case clang.Type_IncompleteArray:
		return cdecl.ArrayOf(w.convertType(t.ArrayElementType()), -1)
	case clang.Type_Record:
		return cdecl.RecordRef(w.recordName(t.Declaration(), t.SizeOf()))
	case clang.Type_Enum:
		decl := t.Declaration()
		if name, ok := w.anonNames[cursorKey(decl)]; ok {
			return cdecl.EnumRef(name)
		}
		if isAnonymous(decl) {
			// An anonymous enum used by value is just its integer type.
			return w.convertType(decl.EnumDeclIntegerType())
		}
		return cdecl.EnumRef(w.registerEnum(decl, decl.Spelling(), true))
	case clang.Type_FunctionProto, clang.Type_FunctionNoProto:
		return w.convertFunc(t)
	}

	if name, ok := scalarNames[t.Kind()]; ok {
		signed := !strings.HasPrefix(name, "unsigned")
		if name == "char" {
			signed = t.Kind() == clang.Type_Char_S
		}
		return cdecl.IntType(name, t.SizeOf(), signed)
	}

	log.Debug("Unsupported C type", "type", t.Spelling(), "kind", t.Kind().String())
	return cdecl.Type{Kind: cdecl.KindUnsupported, Name: t.Spelling()}
}

func (w *walker) convertTypedef(t clang.Type) cdecl.Type {
	decl := t.Declaration()
	name := decl.Spelling()
	if std, ok := cdecl.StandardTypedef(name); ok {
		return std
	}
	if decl.Location().IsInSystemHeader() {
		return w.convertUnqualified(t.CanonicalType())
	}
	return w.handleTypedef(decl)
}

func (w *walker) convertPointer(t clang.Type) cdecl.Type {
	pointee := t.PointeeType()
	canonical := pointee.CanonicalType()
	if canonical.Kind() == clang.Type_FunctionProto || canonical.Kind() == clang.Type_FunctionNoProto {
		// Keep typedef'd function types by name, spell the rest out.
		if pointee.Kind() == clang.Type_Typedef {
			return cdecl.PointerTo(w.convertTypedef(pointee))
		}
		return w.convertFunc(canonical)
	}
	return cdecl.PointerTo(w.convertType(pointee))
}

func (w *walker) convertFunc(t clang.Type) cdecl.Type {
	var params []cdecl.Type
	n := int(t.NumArgTypes())
	for i := 0; i < n; i++ {
		params = append(params, w.convertType(t.ArgType(uint32(i))))
	}
	return cdecl.FuncPtrOf(params, w.convertType(t.ResultType()))
}

// recordName returns the name a record type is referenced by, registering
// the record when it has not been seen yet.
func (w *walker) recordName(decl clang.Cursor, size int64) string {
	if name, ok := w.anonNames[cursorKey(decl)]; ok {
		return name
	}
	if !isAnonymous(decl) {
		name := decl.Spelling()
		if !w.h.Records.Has(name) {
			w.registerRecord(decl, name, true)
		}
		return name
	}
	// Nothing gives this record a name, so key it by its size.
	kind := "struct"
	if decl.Kind() == clang.Cursor_UnionDecl {
		kind = "union"
	}
	name := kind + "_" + cdecl.WordName(int(size)) + "_bytes"
	for i := 2; w.h.Records.Has(name); i++ {
		name = kind + "_" + cdecl.WordName(int(size)) + "_bytes_" + cdecl.WordName(i)
	}
	return w.anonymousRecord(decl, name)
}
