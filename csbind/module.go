// Package csbind turns an intermediate cgo binding file into a c-shared
// export shim and the matching .NET DllImport declarations.
package csbind

import (
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"go/parser"
	"go/token"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"dllbindgen/gobind"
	orderedmap "dllbindgen/ordered_map"
)

var (
	// ErrInput marks an intermediate file that cannot be read or bound.
	ErrInput = errors.New("malformed intermediate")
	// ErrOutput marks a generated file that could not be written.
	ErrOutput = errors.New("cannot write output")
)

type RecordKind int

const (
	StructRecord RecordKind = iota
	OpaqueRecord
	UnionRecord
	BlobRecord
)

type Const struct {
	CName  string
	GoName string
	Value  constant.Value
}

type EnumMember struct {
	CName string
	Value constant.Value
}

type Enum struct {
	CName      string
	GoName     string
	Underlying string
	Members    []EnumMember
}

type Typedef struct {
	CName  string
	GoName string
	Type   ast.Expr
	// Alias is set for "type X = T" declarations.
	Alias bool
}

type Callback struct {
	CName  string
	GoName string
	Sig    *ast.FuncType
}

type Field struct {
	CName string
	Type  ast.Expr
}

type Record struct {
	Kind   RecordKind
	CName  string
	GoName string
	// Cgo is the cgo spelling of the record, empty when C cannot name it.
	Cgo    string
	Size   int64
	Align  int64
	Fields []Field
}

type Param struct {
	// Name is the Go parameter name, CName the C one.
	Name  string
	CName string
	Type  ast.Expr
}

type Func struct {
	CName  string
	GoName string
	Params []Param
	// Result is nil for void functions.
	Result ast.Expr
}

// Module is the bound content of one intermediate file. Every table is
// keyed by Go name and kept in file order.
type Module struct {
	Path    string
	Package string
	// Preamble holds the #cgo CFLAGS and #include lines of the cgo preamble.
	Preamble []string

	Consts    *orderedmap.OrderedMap[string, *Const]
	Enums     *orderedmap.OrderedMap[string, *Enum]
	Typedefs  *orderedmap.OrderedMap[string, *Typedef]
	Callbacks *orderedmap.OrderedMap[string, *Callback]
	Records   *orderedmap.OrderedMap[string, *Record]
	Funcs     *orderedmap.OrderedMap[string, *Func]
}

func newModule(path, pkg string) *Module {
	return &Module{
		Path:      path,
		Package:   pkg,
		Consts:    orderedmap.NewOrderedMap[string, *Const](),
		Enums:     orderedmap.NewOrderedMap[string, *Enum](),
		Typedefs:  orderedmap.NewOrderedMap[string, *Typedef](),
		Callbacks: orderedmap.NewOrderedMap[string, *Callback](),
		Records:   orderedmap.NewOrderedMap[string, *Record](),
		Funcs:     orderedmap.NewOrderedMap[string, *Func](),
	}
}

// Read parses the intermediate file at path.
func Read(path string) (*Module, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInput, err)
	}
	return Parse(path, src)
}

// Parse reads a module from source. Declarations without a binding
// directive are ignored.
func Parse(path string, src []byte) (*Module, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInput, err)
	}

	m := newModule(path, f.Name.Name)
	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			err = m.genDecl(d)
		case *ast.FuncDecl:
			err = m.funcDecl(d)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInput, path, err)
		}
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInput, path, err)
	}

	log.Debug("Read intermediate bindings", "path", path,
		"functions", m.Funcs.Len(),
		"records", m.Records.Len(),
		"enums", m.Enums.Len(),
		"constants", m.Consts.Len())
	return m, nil
}

type directive struct {
	kind string
	arg  string
}

// directives returns the binding directives of the first comment group that
// has any.
func directives(groups ...*ast.CommentGroup) []directive {
	for _, g := range groups {
		if g == nil {
			continue
		}
		var dirs []directive
		for _, c := range g.List {
			text, ok := strings.CutPrefix(c.Text, gobind.DirectivePrefix)
			if !ok {
				continue
			}
			kind, arg, _ := strings.Cut(text, " ")
			dirs = append(dirs, directive{kind: kind, arg: strings.TrimSpace(arg)})
		}
		if len(dirs) > 0 {
			return dirs
		}
	}
	return nil
}

func find(dirs []directive, kind string) (string, bool) {
	for _, d := range dirs {
		if d.kind == kind {
			return d.arg, true
		}
	}
	return "", false
}

func (m *Module) genDecl(d *ast.GenDecl) error {
	// A lone declaration carries its directives on the GenDecl.
	var outer *ast.CommentGroup
	if !d.Lparen.IsValid() {
		outer = d.Doc
	}
	for _, spec := range d.Specs {
		var err error
		switch s := spec.(type) {
		case *ast.ImportSpec:
			if s.Path.Value == `"C"` {
				m.Preamble = preamble(d.Doc, s.Doc)
			}
		case *ast.ValueSpec:
			if d.Tok == token.CONST {
				err = m.constSpec(s, directives(s.Doc, outer))
			}
		case *ast.TypeSpec:
			err = m.typeSpec(s, directives(s.Doc, outer))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func preamble(groups ...*ast.CommentGroup) []string {
	var lines []string
	for _, g := range groups {
		if g == nil {
			continue
		}
		for _, c := range g.List {
			text := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(c.Text, "//"), "/*"), "*/")
			for _, line := range strings.Split(text, "\n") {
				line = strings.TrimSpace(line)
				if strings.HasPrefix(line, "#cgo CFLAGS:") || strings.HasPrefix(line, "#include") {
					lines = append(lines, line)
				}
			}
		}
	}
	return lines
}

func (m *Module) constSpec(s *ast.ValueSpec, dirs []directive) error {
	if len(dirs) == 0 {
		return nil
	}
	if len(s.Names) != 1 || len(s.Values) != 1 {
		return fmt.Errorf("constant %s: expected a single value", s.Names[0].Name)
	}
	name := s.Names[0].Name
	value, err := m.eval(s.Values[0])
	if err != nil {
		return fmt.Errorf("constant %s: %w", name, err)
	}

	switch dirs[0].kind {
	case gobind.DirConst:
		m.Consts.Set(name, &Const{CName: dirs[0].arg, GoName: name, Value: value})
	case gobind.DirName:
		ident, ok := s.Type.(*ast.Ident)
		if !ok {
			return fmt.Errorf("enum member %s has no enum type", name)
		}
		en, ok := m.Enums.Get(ident.Name)
		if !ok {
			return fmt.Errorf("enum member %s refers to unknown enum %s", name, ident.Name)
		}
		en.Members = append(en.Members, EnumMember{CName: dirs[0].arg, Value: value})
	}
	return nil
}

func (m *Module) typeSpec(s *ast.TypeSpec, dirs []directive) error {
	if len(dirs) == 0 {
		return nil
	}
	name := s.Name.Name
	kind, arg := dirs[0].kind, dirs[0].arg
	switch kind {
	case gobind.DirEnum:
		ident, ok := s.Type.(*ast.Ident)
		if !ok {
			return fmt.Errorf("enum %s: underlying type is not a basic type", name)
		}
		m.Enums.Set(name, &Enum{CName: arg, GoName: name, Underlying: ident.Name})
	case gobind.DirTypedef:
		m.Typedefs.Set(name, &Typedef{CName: arg, GoName: name, Type: s.Type, Alias: s.Assign.IsValid()})
	case gobind.DirCallback:
		sig, ok := find(dirs, gobind.DirSignature)
		if !ok {
			return fmt.Errorf("callback %s has no signature", name)
		}
		expr, err := parser.ParseExpr(sig)
		if err != nil {
			return fmt.Errorf("callback %s: %w", name, err)
		}
		ft, ok := expr.(*ast.FuncType)
		if !ok {
			return fmt.Errorf("callback %s: signature is not a func type", name)
		}
		m.Callbacks.Set(name, &Callback{CName: arg, GoName: name, Sig: ft})
	case gobind.DirStruct, gobind.DirOpaque, gobind.DirUnion, gobind.DirBlob:
		return m.record(s, dirs)
	default:
		log.Debug("Ignoring unknown directive", "kind", kind, "type", name)
	}
	return nil
}

func (m *Module) record(s *ast.TypeSpec, dirs []directive) error {
	name := s.Name.Name
	st, ok := s.Type.(*ast.StructType)
	if !ok {
		return fmt.Errorf("record %s is not a struct", name)
	}
	r := &Record{GoName: name, CName: dirs[0].arg}
	r.Cgo, _ = find(dirs, gobind.DirCgo)

	switch dirs[0].kind {
	case gobind.DirOpaque:
		r.Kind = OpaqueRecord
	case gobind.DirUnion, gobind.DirBlob:
		r.Kind = UnionRecord
		if dirs[0].kind == gobind.DirBlob {
			r.Kind = BlobRecord
		}
		cname, size, _ := strings.Cut(dirs[0].arg, " ")
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil {
			return fmt.Errorf("record %s: bad size %q", name, size)
		}
		r.CName, r.Size = cname, n
		r.Align = alignOf(st)
	default:
		r.Kind = StructRecord
		for _, f := range st.Fields.List {
			cname := ""
			if f.Tag != nil {
				tag, err := strconv.Unquote(f.Tag.Value)
				if err == nil {
					cname = reflect.StructTag(tag).Get(gobind.FieldTag)
				}
			}
			for _, n := range f.Names {
				if n.Name == "_" {
					continue
				}
				fieldName := cname
				if fieldName == "" {
					fieldName = n.Name
				}
				r.Fields = append(r.Fields, Field{CName: fieldName, Type: f.Type})
			}
		}
	}
	m.Records.Set(name, r)
	return nil
}

// alignOf reads the alignment of a raw storage struct from its zero-length
// padding field.
func alignOf(st *ast.StructType) int64 {
	for _, f := range st.Fields.List {
		at, ok := f.Type.(*ast.ArrayType)
		if !ok || len(f.Names) != 1 || f.Names[0].Name != "_" {
			continue
		}
		if elem, ok := at.Elt.(*ast.Ident); ok {
			switch elem.Name {
			case "uint16":
				return 2
			case "uint32":
				return 4
			case "uint64":
				return 8
			}
		}
	}
	return 1
}

func (m *Module) funcDecl(d *ast.FuncDecl) error {
	dirs := directives(d.Doc)
	if len(dirs) == 0 {
		return nil
	}
	switch dirs[0].kind {
	case gobind.DirMember:
		return m.member(d, dirs[0].arg)
	case gobind.DirLink:
	default:
		return nil
	}

	fn := &Func{CName: dirs[0].arg, GoName: d.Name.Name}
	i := 0
	for _, field := range d.Type.Params.List {
		if len(field.Names) == 0 {
			fn.Params = append(fn.Params, Param{Name: fmt.Sprintf("arg%d", i), Type: field.Type})
			i++
			continue
		}
		for _, n := range field.Names {
			fn.Params = append(fn.Params, Param{Name: n.Name, Type: field.Type})
			i++
		}
	}
	for i := range fn.Params {
		fn.Params[i].CName = fn.Params[i].Name
	}
	if arg, ok := find(dirs, gobind.DirParams); ok {
		names := strings.Fields(arg)
		if len(names) != len(fn.Params) {
			return fmt.Errorf("function %s names %d parameters, has %d", fn.CName, len(names), len(fn.Params))
		}
		for i, name := range names {
			fn.Params[i].CName = name
		}
	}
	if res := d.Type.Results; res != nil && len(res.List) > 0 {
		if len(res.List) > 1 || len(res.List[0].Names) > 1 {
			return fmt.Errorf("function %s returns more than one value", fn.CName)
		}
		fn.Result = res.List[0].Type
	}
	m.Funcs.Set(fn.GoName, fn)
	return nil
}

// member records a union accessor as a union member.
func (m *Module) member(d *ast.FuncDecl, cname string) error {
	if d.Recv == nil || len(d.Recv.List) != 1 {
		return fmt.Errorf("member %s is not a method", cname)
	}
	recv, ok := d.Recv.List[0].Type.(*ast.StarExpr)
	if !ok {
		return fmt.Errorf("member %s has a value receiver", cname)
	}
	ident, ok := recv.X.(*ast.Ident)
	if !ok {
		return fmt.Errorf("member %s has an unnamed receiver", cname)
	}
	r, ok := m.Records.Get(ident.Name)
	if !ok || r.Kind != UnionRecord {
		return fmt.Errorf("member %s belongs to unknown union %s", cname, ident.Name)
	}
	res := d.Type.Results
	if res == nil || len(res.List) != 1 {
		return fmt.Errorf("member %s must return one pointer", cname)
	}
	ptr, ok := res.List[0].Type.(*ast.StarExpr)
	if !ok {
		return fmt.Errorf("member %s must return a pointer", cname)
	}
	r.Fields = append(r.Fields, Field{CName: cname, Type: ptr.X})
	return nil
}

// validate checks that every bound function only uses types both outputs
// can express.
func (m *Module) validate() error {
	for _, fn := range m.Funcs.Values() {
		types := make([]ast.Expr, 0, len(fn.Params)+1)
		for _, p := range fn.Params {
			types = append(types, p.Type)
		}
		if fn.Result != nil {
			types = append(types, fn.Result)
		}
		for _, t := range types {
			if _, err := m.csType(t); err != nil {
				return fmt.Errorf("function %s: %w", fn.CName, err)
			}
			if _, err := m.shimType(t); err != nil {
				return fmt.Errorf("function %s: %w", fn.CName, err)
			}
		}
	}
	return nil
}
