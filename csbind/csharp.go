package csbind

import (
	"fmt"
	"go/constant"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

const (
	indent1 = "    "
	indent2 = indent1 + indent1
)

type csharpWriter struct {
	m       *Module
	b       *Builder
	sb      strings.Builder
	externs int
}

func renderCSharp(m *Module, b *Builder) ([]byte, int, error) {
	w := &csharpWriter{m: m, b: b}
	if err := w.render(); err != nil {
		return nil, 0, err
	}
	return []byte(w.sb.String()), w.externs, nil
}

func (w *csharpWriter) render() error {
	sb := &w.sb
	sb.WriteString("// <auto-generated>\n")
	fmt.Fprintf(sb, "// This code is generated by dllbindgen from %s.\n", filepath.Base(w.m.Path))
	sb.WriteString("// Do not change it directly.\n")
	sb.WriteString("// </auto-generated>\n")
	sb.WriteString("#pragma warning disable CS8500\n")
	sb.WriteString("#pragma warning disable CS8981\n")
	sb.WriteString("using System;\n")
	sb.WriteString("using System.Runtime.InteropServices;\n\n\n")

	fmt.Fprintf(sb, "namespace %s\n{\n", w.b.Namespace)
	fmt.Fprintf(sb, "%s%s static unsafe partial class %s\n%s{\n", indent1, w.b.accessibility(), w.b.className(), indent1)
	fmt.Fprintf(sb, "%sconst string __DllName = %s;\n", indent2, csQuote(w.b.DllName))

	if w.m.Consts.Len() > 0 {
		sb.WriteString("\n")
	}
	for _, c := range w.m.Consts.Values() {
		typ, lit, ok := csConst(c.Value)
		if !ok {
			log.Warn("Skipping constant without a C# representation", "name", c.CName, "value", c.Value)
			continue
		}
		fmt.Fprintf(sb, "%spublic const %s %s = %s;\n", indent2, typ, escape(c.CName), lit)
	}

	for _, fn := range w.m.Funcs.Values() {
		if err := w.extern(fn); err != nil {
			return fmt.Errorf("function %s: %w", fn.CName, err)
		}
	}
	fmt.Fprintf(sb, "\n%s}\n", indent1)

	for _, r := range w.m.Records.Values() {
		if err := w.record(r); err != nil {
			return fmt.Errorf("record %s: %w", r.CName, err)
		}
	}
	for _, en := range w.m.Enums.Values() {
		w.enum(en)
	}
	sb.WriteString("\n}\n")
	return nil
}

func (w *csharpWriter) extern(fn *Func) error {
	params := make([]string, 0, len(fn.Params))
	for _, p := range fn.Params {
		t, err := w.m.csType(p.Type)
		if err != nil {
			return err
		}
		param := t + " " + escape(p.CName)
		if t == "bool" {
			param = "[MarshalAs(UnmanagedType.U1)] " + param
		}
		params = append(params, param)
	}
	ret := "void"
	if fn.Result != nil {
		t, err := w.m.csType(fn.Result)
		if err != nil {
			return err
		}
		ret = t
	}

	sb := &w.sb
	sb.WriteString("\n")
	fmt.Fprintf(sb, "%s[DllImport(__DllName, EntryPoint = %s, CallingConvention = CallingConvention.Cdecl, ExactSpelling = true)]\n",
		indent2, csQuote(w.b.entryPrefix()+fn.CName))
	if ret == "bool" {
		fmt.Fprintf(sb, "%s[return: MarshalAs(UnmanagedType.U1)]\n", indent2)
	}
	fmt.Fprintf(sb, "%spublic static extern %s %s(%s);\n", indent2, ret, escape(fn.CName), strings.Join(params, ", "))
	w.externs++
	return nil
}

func (w *csharpWriter) record(r *Record) error {
	sb := &w.sb
	sb.WriteString("\n")
	switch r.Kind {
	case UnionRecord:
		fmt.Fprintf(sb, "%s[StructLayout(LayoutKind.Explicit, Size = %d)]\n", indent1, r.Size)
	default:
		fmt.Fprintf(sb, "%s[StructLayout(LayoutKind.Sequential)]\n", indent1)
	}
	fmt.Fprintf(sb, "%s%s unsafe partial struct %s\n%s{\n", indent1, w.b.accessibility(), escape(r.CName), indent1)

	switch r.Kind {
	case StructRecord:
		for _, f := range r.Fields {
			if err := w.field(f, false); err != nil {
				return err
			}
		}
	case UnionRecord:
		for _, f := range r.Fields {
			if err := w.field(f, true); err != nil {
				return err
			}
		}
	case BlobRecord:
		elem, n := blobStorage(r.Size, r.Align)
		if n > 0 {
			fmt.Fprintf(sb, "%spublic fixed %s raw[%d];\n", indent2, elem, n)
		}
	}
	fmt.Fprintf(sb, "%s}\n", indent1)
	return nil
}

// blobStorage picks a fixed buffer that covers size bytes with the given
// alignment.
func blobStorage(size, align int64) (string, int64) {
	elem, width := "byte", int64(1)
	switch align {
	case 2:
		elem, width = "ushort", 2
	case 4:
		elem, width = "uint", 4
	case 8, 16:
		elem, width = "ulong", 8
	}
	return elem, (size + width - 1) / width
}

func (w *csharpWriter) field(f Field, union bool) error {
	sb := &w.sb
	offset := func() {
		if union {
			fmt.Fprintf(sb, "%s[FieldOffset(0)]\n", indent2)
		}
	}
	name := escape(f.CName)

	if elem, n, ok := arrayOf(f.Type); ok {
		if n == 0 {
			// Flexible array members take no space.
			return nil
		}
		t, err := w.m.csType(elem)
		if err != nil {
			return err
		}
		if fixedElems[t] {
			offset()
			fmt.Fprintf(sb, "%spublic fixed %s %s[%d];\n", indent2, t, name, n)
			return nil
		}
		if union {
			log.Warn("Skipping union member array without a fixed buffer type", "member", f.CName, "type", t)
			return nil
		}
		for i := int64(0); i < n; i++ {
			fmt.Fprintf(sb, "%spublic %s %s_%d;\n", indent2, t, f.CName, i)
		}
		return nil
	}

	t, err := w.m.csType(f.Type)
	if err != nil {
		return err
	}
	offset()
	if t == "bool" {
		fmt.Fprintf(sb, "%s[MarshalAs(UnmanagedType.U1)]\n", indent2)
	}
	fmt.Fprintf(sb, "%spublic %s %s;\n", indent2, t, name)
	return nil
}

func (w *csharpWriter) enum(en *Enum) {
	underlying := csBuiltins[en.Underlying]
	switch underlying {
	case "sbyte", "byte", "short", "ushort", "int", "uint", "long", "ulong":
	default:
		underlying = "int"
	}
	sb := &w.sb
	sb.WriteString("\n")
	fmt.Fprintf(sb, "%s%s enum %s : %s\n%s{\n", indent1, w.b.accessibility(), escape(en.CName), underlying, indent1)
	for _, mem := range en.Members {
		fmt.Fprintf(sb, "%s%s = %s,\n", indent2, escape(mem.CName), mem.Value.ExactString())
	}
	fmt.Fprintf(sb, "%s}\n", indent1)
}

// csConst returns the C# type and literal of a constant value.
func csConst(v constant.Value) (string, string, bool) {
	switch v.Kind() {
	case constant.Int:
		if i, exact := constant.Int64Val(v); exact {
			switch {
			case i >= math.MinInt32 && i <= math.MaxInt32:
				return "int", strconv.FormatInt(i, 10), true
			case i >= 0 && i <= math.MaxUint32:
				return "uint", strconv.FormatInt(i, 10), true
			}
			return "long", strconv.FormatInt(i, 10), true
		}
		if u, exact := constant.Uint64Val(v); exact {
			return "ulong", strconv.FormatUint(u, 10), true
		}
	case constant.Float:
		f, _ := constant.Float64Val(v)
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return "", "", false
		}
		lit := strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(lit, ".e") {
			lit += ".0"
		}
		return "double", lit, true
	case constant.String:
		return "string", csQuote(constant.StringVal(v)), true
	}
	return "", "", false
}

// csQuote renders s as a regular C# string literal.
func csQuote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case '\t':
			sb.WriteString(`\t`)
		case 0:
			sb.WriteString(`\0`)
		default:
			switch {
			case r < 0x20 || r == 0x7f:
				fmt.Fprintf(&sb, `\u%04x`, r)
			case r > 0xffff:
				fmt.Fprintf(&sb, `\U%08x`, r)
			default:
				sb.WriteRune(r)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}
