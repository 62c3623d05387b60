// Package headerparse reads C headers through libclang and produces the
// declaration model the binding emitters work from.
package headerparse

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-clang/clang-v13/clang"

	"dllbindgen/cdecl"
	orderedmap "dllbindgen/ordered_map"
)

var ErrHeaderNotFound = errors.New("header not found")

// Parser parses one header per call. It is not safe for concurrent use.
type Parser struct {
	// Args are extra clang command line arguments, e.g. -D or -I flags.
	Args []string
}

func New(args ...string) *Parser {
	return &Parser{Args: args}
}

// Parse parses the header at path. Any clang error or fatal diagnostic fails
// the parse.
func (p *Parser) Parse(path string) (*cdecl.Header, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrHeaderNotFound, path)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	log.Info("Parsing header", "path", path)

	idx := clang.NewIndex(0, 0)
	defer idx.Dispose()

	args := append([]string{"-x", "c", "-std=c11", "-I" + filepath.Dir(path)}, p.Args...)
	opts := uint32(clang.TranslationUnit_DetailedPreprocessingRecord | clang.TranslationUnit_SkipFunctionBodies)
	tu := idx.ParseTranslationUnit(path, args, nil, opts)
	if tu == (clang.TranslationUnit{}) {
		return nil, fmt.Errorf("failed to parse translation unit %s", path)
	}
	defer tu.Dispose()

	var problems []string
	for i := uint32(0); i < tu.NumDiagnostics(); i++ {
		d := tu.Diagnostic(i)
		switch d.Severity() {
		case clang.Diagnostic_Error, clang.Diagnostic_Fatal:
			problems = append(problems, d.Spelling())
		case clang.Diagnostic_Warning:
			log.Debug("clang warning", "msg", d.Spelling())
		}
		d.Dispose()
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%s: %s", path, strings.Join(problems, "; "))
	}

	w := newWalker(path)
	tu.TranslationUnitCursor().Visit(func(cursor, parent clang.Cursor) clang.ChildVisitResult {
		w.visitTopLevel(cursor)
		return clang.ChildVisit_Continue
	})
	w.finish()

	log.Info("Parsed header", "path", path,
		"functions", w.h.Functions.Len(),
		"records", w.h.Records.Len(),
		"enums", w.h.Enums.Len(),
		"typedefs", w.h.Typedefs.Len(),
		"constants", w.h.Constants.Len())
	return w.h, nil
}

// walker carries the state of one translation unit walk.
type walker struct {
	h *cdecl.Header
	// anonNames maps the USR of an anonymous record or enum to the name it
	// was given from its context.
	anonNames map[string]string
	// macros holds raw replacement texts in declaration order.
	macros    *orderedmap.OrderedMap[string, string]
	enumConst []*cdecl.Constant
	sources   map[string][]string
}

func newWalker(path string) *walker {
	return &walker{
		h:         cdecl.NewHeader(path),
		anonNames: make(map[string]string),
		macros:    orderedmap.NewOrderedMap[string, string](),
		sources:   make(map[string][]string),
	}
}

func (w *walker) visitTopLevel(cursor clang.Cursor) {
	loc := cursor.Location()
	if loc.IsInSystemHeader() {
		return
	}

	switch cursor.Kind() {
	case clang.Cursor_StructDecl, clang.Cursor_UnionDecl:
		// Anonymous records are named by the typedef or field that uses them.
		if isAnonymous(cursor) {
			return
		}
		w.registerRecord(cursor, cursor.Spelling(), true)
	case clang.Cursor_EnumDecl:
		if isAnonymous(cursor) {
			if !w.typedefOwnsEnum(cursor) {
				w.collectAnonymousEnum(cursor)
			}
			return
		}
		w.registerEnum(cursor, cursor.Spelling(), true)
	case clang.Cursor_TypedefDecl:
		w.handleTypedef(cursor)
	case clang.Cursor_FunctionDecl:
		w.handleFunction(cursor)
	case clang.Cursor_MacroDefinition:
		w.handleMacro(cursor)
	case clang.Cursor_InclusionDirective:
		log.Trace("Found include", "file", cursor.Spelling())
	default:
		log.Trace("Ignoring cursor", "kind", cursor.Kind().String(), "name", cursor.Spelling())
	}
}

func (w *walker) finish() {
	for _, c := range cdecl.BuildConstants(w.macros) {
		w.h.Constants.Set(c.Name, c)
	}
	for _, c := range w.enumConst {
		if !w.h.Constants.Has(c.Name) {
			w.h.Constants.Set(c.Name, c)
		}
	}
}

func isAnonymous(cursor clang.Cursor) bool {
	spelling := cursor.Spelling()
	return cursor.IsAnonymous() || spelling == "" ||
		strings.Contains(spelling, "(unnamed") || strings.Contains(spelling, "(anonymous")
}

func cursorKey(cursor clang.Cursor) string {
	if usr := cursor.USR(); usr != "" {
		return usr
	}
	f, line, col, _ := cursor.Location().FileLocation()
	return fmt.Sprintf("%s:%d:%d", f.Name(), line, col)
}

// registerRecord records the struct or union behind cursor under name and
// returns the name it was registered under.
func (w *walker) registerRecord(cursor clang.Cursor, name string, tagged bool) string {
	key := cursorKey(cursor)
	if !tagged {
		if existing, ok := w.anonNames[key]; ok {
			return existing
		}
		w.anonNames[key] = name
	}

	def := cursor.Definition()
	if existing, ok := w.h.Records.Get(name); ok {
		if !existing.Opaque || def.IsNull() {
			return name
		}
	}

	rec := &cdecl.Record{
		Name:   name,
		Tagged: tagged,
		Union:  cursor.Kind() == clang.Cursor_UnionDecl,
		Opaque: def.IsNull(),
	}
	w.h.Records.Set(name, rec)
	if rec.Opaque {
		log.Trace("Registered opaque record", "name", name)
		return name
	}

	rec.Size = def.Type().SizeOf()
	rec.Align = def.Type().AlignOf()

	anonMembers := 0
	def.Visit(func(child, parent clang.Cursor) clang.ChildVisitResult {
		switch child.Kind() {
		case clang.Cursor_FieldDecl:
			rec.Fields = append(rec.Fields, w.field(child, name))
		case clang.Cursor_StructDecl, clang.Cursor_UnionDecl:
			// C11 anonymous members have no field declaration of their own.
			if child.IsAnonymousRecordDecl() {
				anonMembers++
				member := "anon_" + cdecl.WordName(anonMembers)
				nested := w.anonymousRecord(child, name+"_"+member)
				rec.Fields = append(rec.Fields, cdecl.Field{Name: member, Type: cdecl.RecordRef(nested)})
			}
		}
		return clang.ChildVisit_Continue
	})

	log.Trace("Registered record", "name", name, "union", rec.Union, "fields", len(rec.Fields), "size", rec.Size)
	return name
}

// anonymousRecord registers a record C cannot spell under a made-up name.
func (w *walker) anonymousRecord(cursor clang.Cursor, name string) string {
	name = w.registerRecord(cursor, name, false)
	if rec, ok := w.h.Records.Get(name); ok {
		rec.Anonymous = true
	}
	return name
}

func (w *walker) field(cursor clang.Cursor, parent string) cdecl.Field {
	name := cursor.Spelling()
	ft := cursor.Type()
	f := cdecl.Field{Name: name, BitField: cursor.IsBitField()}

	// Anonymous record types, possibly behind an array, are named after the
	// field that holds them.
	elem, dims := ft, []int64{}
	for elem.Kind() == clang.Type_ConstantArray {
		dims = append(dims, elem.ArraySize())
		elem = elem.ArrayElementType()
	}
	if elem.Kind() == clang.Type_Elaborated {
		elem = elem.NamedType()
	}
	if elem.Kind() == clang.Type_Record && isAnonymous(elem.Declaration()) {
		nested := w.anonymousRecord(elem.Declaration(), parent+"_"+name)
		t := cdecl.RecordRef(nested)
		for i := len(dims) - 1; i >= 0; i-- {
			t = cdecl.ArrayOf(t, dims[i])
		}
		f.Type = t
		return f
	}

	f.Type = w.convertType(ft)
	return f
}

func (w *walker) registerEnum(cursor clang.Cursor, name string, tagged bool) string {
	if !tagged {
		w.anonNames[cursorKey(cursor)] = name
	}
	if w.h.Enums.Has(name) {
		return name
	}
	e := &cdecl.Enum{
		Name:       name,
		Tagged:     tagged,
		Underlying: w.convertType(cursor.EnumDeclIntegerType()),
	}
	cursor.Visit(func(child, parent clang.Cursor) clang.ChildVisitResult {
		if child.Kind() == clang.Cursor_EnumConstantDecl {
			e.Members = append(e.Members, cdecl.EnumMember{
				Name:  child.Spelling(),
				Value: child.EnumConstantDeclValue(),
			})
		}
		return clang.ChildVisit_Continue
	})
	w.h.Enums.Set(name, e)
	log.Trace("Registered enum", "name", name, "members", len(e.Members))
	return name
}

// typedefOwnsEnum reports whether an anonymous enum is the body of a typedef,
// in which case the typedef names it when visited.
func (w *walker) typedefOwnsEnum(cursor clang.Cursor) bool {
	_, ok := w.anonNames[cursorKey(cursor)]
	if ok {
		return true
	}
	// The enum body is visited before its typedef, so peek at the next
	// sibling through the semantic parent.
	owned := false
	key := cursorKey(cursor)
	cursor.SemanticParent().Visit(func(child, parent clang.Cursor) clang.ChildVisitResult {
		if child.Kind() != clang.Cursor_TypedefDecl {
			return clang.ChildVisit_Continue
		}
		u := child.TypedefDeclUnderlyingType()
		if u.Kind() == clang.Type_Elaborated {
			u = u.NamedType()
		}
		if u.Kind() == clang.Type_Enum && cursorKey(u.Declaration()) == key {
			owned = true
			return clang.ChildVisit_Break
		}
		return clang.ChildVisit_Continue
	})
	return owned
}

func (w *walker) collectAnonymousEnum(cursor clang.Cursor) {
	cursor.Visit(func(child, parent clang.Cursor) clang.ChildVisitResult {
		if child.Kind() == clang.Cursor_EnumConstantDecl {
			w.enumConst = append(w.enumConst, &cdecl.Constant{
				Name:  child.Spelling(),
				Kind:  cdecl.ConstInt,
				Value: fmt.Sprintf("%d", child.EnumConstantDeclValue()),
			})
		}
		return clang.ChildVisit_Continue
	})
}

// handleTypedef registers a typedef and returns the type references to it
// should use.
func (w *walker) handleTypedef(cursor clang.Cursor) cdecl.Type {
	name := cursor.Spelling()
	if std, ok := cdecl.StandardTypedef(name); ok {
		return std
	}
	if td, ok := w.h.Typedefs.Get(name); ok {
		return cdecl.TypedefRef(td.Name)
	}
	if w.h.Records.Has(name) {
		if r, _ := w.h.Records.Get(name); !r.Tagged {
			return cdecl.RecordRef(name)
		}
	}
	if e, ok := w.h.Enums.Get(name); ok && !e.Tagged {
		return cdecl.EnumRef(name)
	}

	underlying := cursor.TypedefDeclUnderlyingType()
	named := underlying
	if named.Kind() == clang.Type_Elaborated {
		named = named.NamedType()
	}

	switch named.Kind() {
	case clang.Type_Record:
		decl := named.Declaration()
		if isAnonymous(decl) {
			return cdecl.RecordRef(w.registerRecord(decl, name, false))
		}
	case clang.Type_Enum:
		decl := named.Declaration()
		if isAnonymous(decl) {
			return cdecl.EnumRef(w.registerEnum(decl, name, false))
		}
	}

	t := w.convertType(underlying)
	w.h.Typedefs.Set(name, &cdecl.Typedef{Name: name, Underlying: t})
	log.Trace("Registered typedef", "name", name, "type", t.String())
	return cdecl.TypedefRef(name)
}

func (w *walker) handleFunction(cursor clang.Cursor) {
	name := cursor.Spelling()
	if name == "" || w.h.Functions.Has(name) {
		return
	}
	if cursor.StorageClass() == clang.SC_Static || cursor.IsFunctionInlined() {
		log.Trace("Skipping function without external linkage", "name", name)
		return
	}

	fn := &cdecl.Function{
		Name:     name,
		Result:   w.convertType(cursor.ResultType()),
		Variadic: cursor.IsVariadic(),
	}
	n := int(cursor.NumArguments())
	for i := 0; i < n; i++ {
		arg := cursor.Argument(uint32(i))
		pname := arg.Spelling()
		if pname == "" {
			pname = fmt.Sprintf("arg%d", i)
		}
		t := w.convertType(arg.Type())
		if t.Kind == cdecl.KindArray {
			t = cdecl.PointerTo(*t.Elem)
		}
		fn.Params = append(fn.Params, cdecl.Param{Name: pname, Type: t})
	}
	w.h.Functions.Set(name, fn)
	log.Trace("Registered function", "name", name, "params", len(fn.Params), "variadic", fn.Variadic)
}

func (w *walker) handleMacro(cursor clang.Cursor) {
	name := cursor.Spelling()
	if cursor.IsMacroBuiltin() || cursor.IsMacroFunctionLike() {
		return
	}
	file, line, _, _ := cursor.Location().FileLocation()
	if file == (clang.File{}) || line == 0 {
		return
	}
	lines, err := w.source(file.Name())
	if err != nil {
		log.Debug("Cannot read macro source", "file", file.Name(), "err", err)
		return
	}
	if int(line) > len(lines) {
		return
	}
	value, ok := cdecl.ParseDefine(lines[line-1], name)
	if !ok {
		return
	}
	w.macros.Set(name, value)
	log.Trace("Found macro", "name", name, "value", value)
}

func (w *walker) source(name string) ([]string, error) {
	if lines, ok := w.sources[name]; ok {
		return lines, nil
	}
	content, err := os.ReadFile(name)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(string(content), "\n")
	w.sources[name] = lines
	return lines, nil
}
