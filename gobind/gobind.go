// Package gobind emits a cgo binding package for a parsed C header. Every
// declaration carries a //bindgen: directive naming the C symbol behind it so
// later generators can map the Go declarations back to the C ABI.
package gobind

import (
	"errors"
	"fmt"
	"go/format"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"dllbindgen/cdecl"
)

// Directive prefixes understood by the interop generator.
const (
	DirectivePrefix = "//bindgen:"

	DirConst     = "const"
	DirName      = "name"
	DirEnum      = "enum"
	DirTypedef   = "typedef"
	DirCallback  = "callback"
	DirSignature = "signature"
	DirStruct    = "struct"
	DirOpaque    = "opaque"
	DirUnion     = "union"
	DirBlob      = "blob"
	DirMember    = "member"
	DirLink      = "link"
	// DirCgo follows a record directive with the record's cgo spelling.
	DirCgo = "cgo"
	// DirParams follows a link directive with the C parameter names when
	// they differ from the Go ones.
	DirParams = "params"

	// FieldTag is the struct tag key holding a field's C name.
	FieldTag = "c"
)

var ErrUnsupportedType = errors.New("unsupported type")

type Options struct {
	// Package is the Go package name of the generated file.
	Package string
	// Include is the header as the generated preamble includes it.
	Include string
	CFlags  []string
	LDFlags []string
}

// Stats counts what Generate emitted and what it had to leave out.
type Stats struct {
	Functions int
	Records   int
	Enums     int
	Typedefs  int
	Constants int
	Skipped   int
}

type emitter struct {
	h     *cdecl.Header
	opts  Options
	names *namer
	stats Stats

	records  map[string]string
	enums    map[string]string
	typedefs map[string]string
	funcs    map[string]string
	consts   map[string]string
	// invalid holds typedefs whose underlying type cannot be expressed.
	invalid map[string]bool
}

// Generate renders h as a gofmt'ed Go source file.
func Generate(h *cdecl.Header, opts Options) ([]byte, Stats, error) {
	if opts.Package == "" {
		return nil, Stats{}, errors.New("package name is required")
	}
	if opts.Include == "" {
		opts.Include = filepath.Base(h.Path)
	}
	e := &emitter{
		h:        h,
		opts:     opts,
		names:    newNamer(),
		records:  make(map[string]string),
		enums:    make(map[string]string),
		typedefs: make(map[string]string),
		funcs:    make(map[string]string),
		consts:   make(map[string]string),
		invalid:  make(map[string]bool),
	}
	e.assignNames()
	e.pruneTypedefs()

	var body strings.Builder
	e.writeConstants(&body)
	e.writeEnums(&body)
	e.writeTypedefs(&body)
	e.writeRecords(&body)
	e.writeFunctions(&body)

	var sb strings.Builder
	fmt.Fprintf(&sb, "// Code generated by dllbindgen from %s; DO NOT EDIT.\n\n", filepath.Base(h.Path))
	fmt.Fprintf(&sb, "package %s\n\n", opts.Package)
	sb.WriteString("/*\n")
	for _, f := range opts.CFlags {
		fmt.Fprintf(&sb, "#cgo CFLAGS: %s\n", f)
	}
	for _, f := range opts.LDFlags {
		fmt.Fprintf(&sb, "#cgo LDFLAGS: %s\n", f)
	}
	fmt.Fprintf(&sb, "#include %q\n", opts.Include)
	sb.WriteString("*/\nimport \"C\"\n\n")
	if strings.Contains(body.String(), "unsafe.") {
		sb.WriteString("import \"unsafe\"\n\n")
	}
	sb.WriteString(body.String())

	src, err := format.Source([]byte(sb.String()))
	if err != nil {
		return nil, e.stats, fmt.Errorf("format generated source: %w", err)
	}
	return src, e.stats, nil
}

// assignNames claims Go identifiers for every declaration up front so that
// references can be resolved in any order.
func (e *emitter) assignNames() {
	for _, r := range e.h.Records.Values() {
		e.records[r.Name] = e.names.claim(GoName(r.Name))
	}
	for _, en := range e.h.Enums.Values() {
		e.enums[en.Name] = e.names.claim(GoName(en.Name))
	}
	for _, td := range e.h.Typedefs.Values() {
		if e.ownsType(td) {
			e.typedefs[td.Name] = e.names.claim(GoName(td.Name))
		}
	}
	for _, fn := range e.h.Functions.Values() {
		e.funcs[fn.Name] = e.names.claim(GoName(fn.Name))
	}
	for _, c := range e.h.Constants.Values() {
		e.consts[c.Name] = e.names.claim(GoName(c.Name))
	}
}

// ownsType reports whether a typedef becomes a Go type of its own. Typedefs
// of records and enums are spelled as the record or enum itself.
func (e *emitter) ownsType(td *cdecl.Typedef) bool {
	switch e.h.ResolveTypedef(td.Underlying).Kind {
	case cdecl.KindRecord, cdecl.KindEnum, cdecl.KindTypedef, cdecl.KindUnsupported:
		return false
	}
	return true
}

// pruneTypedefs drops owned typedefs that cannot be spelled in Go, repeating
// until no typedef refers to a dropped one.
func (e *emitter) pruneTypedefs() {
	for changed := true; changed; {
		changed = false
		for _, td := range e.h.Typedefs.Values() {
			if _, ok := e.typedefs[td.Name]; !ok {
				continue
			}
			var err error
			if td.Underlying.Kind == cdecl.KindFuncPtr {
				_, err = e.signature(td.Underlying.Func)
			} else {
				_, err = e.goType(td.Underlying)
			}
			if err != nil {
				delete(e.typedefs, td.Name)
				e.invalid[td.Name] = true
				e.skip("typedef", td.Name, err)
				changed = true
			}
		}
	}
}

func directive(sb *strings.Builder, kind, arg string) {
	sb.WriteString(DirectivePrefix + kind + " " + arg + "\n")
}

func (e *emitter) skip(kind, name string, err error) {
	e.stats.Skipped++
	log.Warn("Skipping declaration", "kind", kind, "name", name, "err", err)
}

func (e *emitter) writeConstants(sb *strings.Builder) {
	for _, c := range e.h.Constants.Values() {
		value := c.Value
		if c.Kind == cdecl.ConstInt {
			var err error
			value, err = e.rewriteRefs(c.Value)
			if err != nil {
				e.skip("constant", c.Name, err)
				continue
			}
		}
		directive(sb, DirConst, c.Name)
		fmt.Fprintf(sb, "const %s = %s\n\n", e.consts[c.Name], value)
		e.stats.Constants++
	}
}

// rewriteRefs replaces C constant names in an integer expression with their
// Go names.
func (e *emitter) rewriteRefs(expr string) (string, error) {
	deps := cdecl.ConstantDependencies(expr)
	if len(deps) == 0 {
		return expr, nil
	}
	fields := strings.Fields(strings.NewReplacer("(", " ( ", ")", " ) ").Replace(expr))
	for i, f := range fields {
		if !isIdent(f) {
			continue
		}
		goName, ok := e.consts[f]
		if !ok {
			return "", fmt.Errorf("reference to unknown constant %s", f)
		}
		fields[i] = goName
	}
	return strings.Join(fields, " "), nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func (e *emitter) writeEnums(sb *strings.Builder) {
	for _, en := range e.h.Enums.Values() {
		goName := e.enums[en.Name]
		underlying, err := goScalar(en.Underlying)
		if err != nil {
			underlying = "int32"
		}
		directive(sb, DirEnum, en.Name)
		fmt.Fprintf(sb, "type %s %s\n\n", goName, underlying)
		if len(en.Members) > 0 {
			sb.WriteString("const (\n")
			for _, m := range en.Members {
				memberName := e.names.claim(GoName(m.Name))
				directive(sb, DirName, m.Name)
				fmt.Fprintf(sb, "%s %s = %d\n", memberName, goName, m.Value)
			}
			sb.WriteString(")\n\n")
		}
		e.stats.Enums++
	}
}

func (e *emitter) writeTypedefs(sb *strings.Builder) {
	for _, td := range e.h.Typedefs.Values() {
		goName, ok := e.typedefs[td.Name]
		if !ok {
			continue
		}
		t := td.Underlying
		switch t.Kind {
		case cdecl.KindFuncPtr:
			sig, err := e.signature(t.Func)
			if err != nil {
				e.skip("callback", td.Name, err)
				continue
			}
			directive(sb, DirCallback, td.Name)
			directive(sb, DirSignature, sig)
			fmt.Fprintf(sb, "type %s unsafe.Pointer\n\n", goName)
		case cdecl.KindPointer:
			gt, err := e.goType(t)
			if err != nil {
				e.skip("typedef", td.Name, err)
				continue
			}
			directive(sb, DirTypedef, td.Name)
			fmt.Fprintf(sb, "type %s = %s\n\n", goName, gt)
		default:
			gt, err := e.goType(t)
			if err != nil {
				e.skip("typedef", td.Name, err)
				continue
			}
			directive(sb, DirTypedef, td.Name)
			fmt.Fprintf(sb, "type %s %s\n\n", goName, gt)
		}
		e.stats.Typedefs++
	}
}

// signature renders a function pointer type as a Go func type, the form
// the interop generator parses back.
func (e *emitter) signature(ft *cdecl.FuncType) (string, error) {
	params := make([]string, len(ft.Params))
	for i, p := range ft.Params {
		gt, err := e.goType(p)
		if err != nil {
			return "", err
		}
		params[i] = gt
	}
	sig := "func(" + strings.Join(params, ", ") + ")"
	if ft.Result.Kind != cdecl.KindVoid {
		gt, err := e.goType(ft.Result)
		if err != nil {
			return "", err
		}
		sig += " " + gt
	}
	return sig, nil
}

func (e *emitter) writeRecords(sb *strings.Builder) {
	for _, r := range e.h.Records.Values() {
		goName := e.records[r.Name]
		switch {
		case r.Opaque:
			directive(sb, DirOpaque, r.Name)
			fmt.Fprintf(sb, "type %s struct {\n_ [0]byte\n}\n\n", goName)
		case r.Union:
			e.writeUnion(sb, r, goName)
		case r.HasBitFields():
			log.Debug("Record has bit-fields, emitting raw storage", "name", r.Name)
			e.writeBlob(sb, r, goName, DirBlob)
		default:
			var fields strings.Builder
			if err := e.writeFields(&fields, r); err != nil {
				log.Warn("Record has unsupported fields, emitting raw storage", "name", r.Name, "err", err)
				e.writeBlob(sb, r, goName, DirBlob)
				break
			}
			directive(sb, DirStruct, r.Name)
			e.cgoDirective(sb, r)
			fmt.Fprintf(sb, "type %s struct {\n%s}\n\n", goName, fields.String())
		}
		e.stats.Records++
	}
}

func (e *emitter) writeFields(sb *strings.Builder, r *cdecl.Record) error {
	fieldNames := newNamer()
	for _, f := range r.Fields {
		gt, err := e.goType(f.Type)
		if err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		fmt.Fprintf(sb, "%s %s `%s:%q`\n", fieldNames.claim(GoName(f.Name)), gt, FieldTag, f.Name)
	}
	return nil
}

// cgoDirective names the cgo type of a record that can be passed by value.
func (e *emitter) cgoDirective(sb *strings.Builder, r *cdecl.Record) {
	if ct, err := e.cgoType(cdecl.RecordRef(r.Name)); err == nil {
		directive(sb, DirCgo, ct)
	}
}

// alignPad returns a zero-length field that gives a byte-storage struct the
// alignment of the C type it stands for.
func alignPad(align int64) string {
	switch align {
	case 2:
		return "_ [0]uint16\n"
	case 4:
		return "_ [0]uint32\n"
	case 8, 16:
		return "_ [0]uint64\n"
	}
	return ""
}

func (e *emitter) writeBlob(sb *strings.Builder, r *cdecl.Record, goName, kind string) {
	directive(sb, kind, fmt.Sprintf("%s %d", r.Name, r.Size))
	e.cgoDirective(sb, r)
	fmt.Fprintf(sb, "type %s struct {\n%sRaw [%d]byte\n}\n\n", goName, alignPad(r.Align), r.Size)
}

// writeUnion emits a union as aligned raw storage with one pointer accessor
// per member.
func (e *emitter) writeUnion(sb *strings.Builder, r *cdecl.Record, goName string) {
	e.writeBlob(sb, r, goName, DirUnion)
	methods := newNamer()
	methods.claim("Raw")
	for _, f := range r.Fields {
		if f.Name == "" {
			continue
		}
		gt, err := e.goType(f.Type)
		if err != nil {
			e.skip("union member", r.Name+"."+f.Name, err)
			continue
		}
		directive(sb, DirMember, f.Name)
		fmt.Fprintf(sb, "func (u *%s) %s() *%s {\nreturn (*%s)(unsafe.Pointer(u))\n}\n\n",
			goName, methods.claim(GoName(f.Name)), gt, gt)
	}
}

func (e *emitter) writeFunctions(sb *strings.Builder) {
	for _, fn := range e.h.Functions.Values() {
		if fn.Variadic {
			e.skip("function", fn.Name, errors.New("cgo cannot call variadic functions"))
			continue
		}
		src, err := e.function(fn)
		if err != nil {
			e.skip("function", fn.Name, err)
			continue
		}
		sb.WriteString(src)
		e.stats.Functions++
	}
}

func (e *emitter) function(fn *cdecl.Function) (string, error) {
	var (
		params  []string
		args    []string
		cNames  []string
		renamed bool
	)
	paramNames := newNamer()
	for i, p := range fn.Params {
		name := paramNames.claim(ParamName(p.Name))
		cName := p.Name
		if cName == "" {
			cName = fmt.Sprintf("arg%d", i)
		}
		cNames = append(cNames, cName)
		renamed = renamed || cName != name
		gt, err := e.goType(p.Type)
		if err != nil {
			return "", fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		arg, err := e.toC(name, p.Type, gt)
		if err != nil {
			return "", fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		params = append(params, name+" "+gt)
		args = append(args, arg)
	}

	call := fmt.Sprintf("C.%s(%s)", fn.Name, strings.Join(args, ", "))
	var sb strings.Builder
	directive(&sb, DirLink, fn.Name)
	if renamed {
		directive(&sb, DirParams, strings.Join(cNames, " "))
	}
	sig := fmt.Sprintf("func %s(%s)", e.funcs[fn.Name], strings.Join(params, ", "))

	if fn.Result.Kind == cdecl.KindVoid {
		fmt.Fprintf(&sb, "%s {\n%s\n}\n\n", sig, call)
		return sb.String(), nil
	}
	gt, err := e.goType(fn.Result)
	if err != nil {
		return "", fmt.Errorf("result: %w", err)
	}
	switch e.convClass(fn.Result) {
	case convValue:
		fmt.Fprintf(&sb, "%s %s {\nr := %s\nreturn *(*%s)(unsafe.Pointer(&r))\n}\n\n", sig, gt, call, gt)
	default:
		ret, err := e.fromC(call, fn.Result, gt)
		if err != nil {
			return "", fmt.Errorf("result: %w", err)
		}
		fmt.Fprintf(&sb, "%s %s {\nreturn %s\n}\n\n", sig, gt, ret)
	}
	return sb.String(), nil
}
