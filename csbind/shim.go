package csbind

import (
	"fmt"
	"go/format"
	"path/filepath"
	"strings"
)

type shimWriter struct {
	m      *Module
	prefix string

	body        strings.Builder
	needsC      bool
	needsUnsafe bool
}

// renderShim emits the package main file that exports every bound function
// under prefix+C name. srcRel is the intermediate's directory relative to
// the shim's, used to rebase ${SRCDIR} include paths.
func renderShim(m *Module, prologue, prefix, srcRel string) ([]byte, error) {
	w := &shimWriter{m: m, prefix: prefix}
	for _, fn := range m.Funcs.Values() {
		if err := w.export(fn); err != nil {
			return nil, fmt.Errorf("function %s: %w", fn.CName, err)
		}
	}
	w.body.WriteString("func main() {}\n")

	var sb strings.Builder
	fmt.Fprintf(&sb, "// Code generated by dllbindgen from %s; DO NOT EDIT.\n\n", filepath.Base(m.Path))
	sb.WriteString("package main\n\n")
	if w.needsC && len(m.Preamble) > 0 {
		sb.WriteString("/*\n")
		for _, line := range m.Preamble {
			sb.WriteString(rebase(line, srcRel) + "\n")
		}
		sb.WriteString("*/\n")
	}
	sb.WriteString("import \"C\"\n\n")
	if prologue != "" {
		sb.WriteString(prologue + "\n\n")
	}
	if w.needsUnsafe {
		sb.WriteString("import \"unsafe\"\n\n")
	}
	sb.WriteString(w.body.String())

	src, err := format.Source([]byte(sb.String()))
	if err != nil {
		return nil, fmt.Errorf("format shim: %w", err)
	}
	return src, nil
}

// rebase points ${SRCDIR} in line at the intermediate's directory. The
// result is never cleaned: a leading ".." must stay behind ${SRCDIR}.
func rebase(line, srcRel string) string {
	srcRel = strings.TrimSuffix(srcRel, "/")
	if srcRel == "" || srcRel == "." {
		return line
	}
	return strings.ReplaceAll(line, "${SRCDIR}", "${SRCDIR}/"+srcRel)
}

func (w *shimWriter) note(a abiType) {
	switch a.kind {
	case abiValue:
		w.needsC = true
		w.needsUnsafe = true
	case abiPointer:
		w.needsUnsafe = true
	case abiDirect:
		if a.spelling == "unsafe.Pointer" {
			w.needsUnsafe = true
		}
	}
}

func (w *shimWriter) export(fn *Func) error {
	name := w.prefix + fn.CName
	params := make([]string, 0, len(fn.Params))
	args := make([]string, 0, len(fn.Params))
	for _, p := range fn.Params {
		a, err := w.m.shimType(p.Type)
		if err != nil {
			return err
		}
		w.note(a)
		params = append(params, p.Name+" "+a.spelling)
		args = append(args, a.toGo(p.Name, p.Type))
	}
	call := fmt.Sprintf("%s(%s)", fn.GoName, strings.Join(args, ", "))

	fmt.Fprintf(&w.body, "//export %s\nfunc %s(%s)", name, name, strings.Join(params, ", "))
	if fn.Result == nil {
		fmt.Fprintf(&w.body, " {\n%s\n}\n\n", call)
		return nil
	}
	a, err := w.m.shimType(fn.Result)
	if err != nil {
		return err
	}
	w.note(a)
	if a.kind == abiValue {
		fmt.Fprintf(&w.body, " %s {\nr := %s\nreturn *(*%s)(unsafe.Pointer(&r))\n}\n\n", a.spelling, call, a.spelling)
		return nil
	}
	fmt.Fprintf(&w.body, " %s {\nreturn %s\n}\n\n", a.spelling, a.fromGo(call))
	return nil
}
