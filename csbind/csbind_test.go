package csbind

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dllbindgen/cdecl"
	"dllbindgen/common"
	"dllbindgen/gobind"
	orderedmap "dllbindgen/ordered_map"
)

const prologue = `import . "whisper-bindings/whisper"`

func fooHeader() *cdecl.Header {
	h := cdecl.NewHeader("foo.h")
	h.Functions.Set("foo", &cdecl.Function{
		Name:   "foo",
		Params: []cdecl.Param{{Name: "x", Type: cdecl.IntType("int", 4, true)}},
		Result: cdecl.IntType("int", 4, true),
	})
	return h
}

func whisperHeader() *cdecl.Header {
	h := cdecl.NewHeader("include/whisper.h")
	h.Constants.Set("WHISPER_SAMPLE_RATE", &cdecl.Constant{Name: "WHISPER_SAMPLE_RATE", Kind: cdecl.ConstInt, Value: "16000"})
	h.Constants.Set("WHISPER_N_FFT", &cdecl.Constant{Name: "WHISPER_N_FFT", Kind: cdecl.ConstInt, Value: "400"})
	h.Constants.Set("WHISPER_HOP", &cdecl.Constant{Name: "WHISPER_HOP", Kind: cdecl.ConstInt, Value: "( WHISPER_N_FFT / 2 )"})
	h.Constants.Set("WHISPER_VERSION", &cdecl.Constant{Name: "WHISPER_VERSION", Kind: cdecl.ConstString, Value: `"1.7.1"`})

	h.Enums.Set("whisper_sampling_strategy", &cdecl.Enum{
		Name:       "whisper_sampling_strategy",
		Tagged:     true,
		Underlying: cdecl.IntType("unsigned int", 4, false),
		Members: []cdecl.EnumMember{
			{Name: "WHISPER_SAMPLING_GREEDY", Value: 0},
			{Name: "WHISPER_SAMPLING_BEAM_SEARCH", Value: 1},
		},
	})
	h.Typedefs.Set("whisper_token", &cdecl.Typedef{Name: "whisper_token", Underlying: cdecl.IntType("int32_t", 4, true)})
	h.Typedefs.Set("whisper_abort_callback", &cdecl.Typedef{
		Name:       "whisper_abort_callback",
		Underlying: cdecl.FuncPtrOf([]cdecl.Type{cdecl.PointerTo(cdecl.VoidType())}, cdecl.BoolType("bool")),
	})

	h.Records.Set("whisper_context", &cdecl.Record{Name: "whisper_context", Tagged: true, Opaque: true})
	h.Records.Set("whisper_token_data", &cdecl.Record{
		Name: "whisper_token_data", Tagged: true, Size: 8, Align: 4,
		Fields: []cdecl.Field{
			{Name: "id", Type: cdecl.TypedefRef("whisper_token")},
			{Name: "p", Type: cdecl.FloatType("float", 4)},
		},
	})
	h.Records.Set("whisper_value", &cdecl.Record{
		Name: "whisper_value", Tagged: true, Union: true, Size: 8, Align: 8,
		Fields: []cdecl.Field{
			{Name: "f", Type: cdecl.FloatType("double", 8)},
			{Name: "i", Type: cdecl.IntType("int64_t", 8, true)},
		},
	})
	h.Records.Set("whisper_flags", &cdecl.Record{
		Name: "whisper_flags", Tagged: true, Size: 4, Align: 4,
		Fields: []cdecl.Field{
			{Name: "a", Type: cdecl.IntType("unsigned int", 4, false), BitField: true},
		},
	})
	h.Records.Set("whisper_params", &cdecl.Record{
		Name: "whisper_params", Tagged: true, Size: 24, Align: 4,
		Fields: []cdecl.Field{
			{Name: "strategy", Type: cdecl.EnumRef("whisper_sampling_strategy")},
			{Name: "print_progress", Type: cdecl.BoolType("bool")},
			{Name: "language", Type: cdecl.ArrayOf(cdecl.IntType("char", 1, true), 8)},
			{Name: "tokens", Type: cdecl.ArrayOf(cdecl.RecordRef("whisper_token_data"), 2)},
		},
	})

	ctx := cdecl.PointerTo(cdecl.RecordRef("whisper_context"))
	h.Functions.Set("whisper_init_from_file", &cdecl.Function{
		Name:   "whisper_init_from_file",
		Params: []cdecl.Param{{Name: "path_model", Type: cdecl.PointerTo(cdecl.IntType("char", 1, true))}},
		Result: ctx,
	})
	h.Functions.Set("whisper_free", &cdecl.Function{
		Name:   "whisper_free",
		Params: []cdecl.Param{{Name: "ctx", Type: ctx}},
		Result: cdecl.VoidType(),
	})
	h.Functions.Set("whisper_full_get_token_data", &cdecl.Function{
		Name: "whisper_full_get_token_data",
		Params: []cdecl.Param{
			{Name: "ctx", Type: ctx},
			{Name: "i_segment", Type: cdecl.IntType("int", 4, true)},
		},
		Result: cdecl.RecordRef("whisper_token_data"),
	})
	h.Functions.Set("whisper_token_eot", &cdecl.Function{
		Name:   "whisper_token_eot",
		Params: []cdecl.Param{{Name: "ctx", Type: ctx}},
		Result: cdecl.TypedefRef("whisper_token"),
	})
	h.Functions.Set("whisper_set_abort", &cdecl.Function{
		Name: "whisper_set_abort",
		Params: []cdecl.Param{
			{Name: "ctx", Type: ctx},
			{Name: "cb", Type: cdecl.TypedefRef("whisper_abort_callback")},
			{Name: "user_data", Type: cdecl.PointerTo(cdecl.VoidType())},
		},
		Result: cdecl.VoidType(),
	})
	h.Functions.Set("whisper_set_type", &cdecl.Function{
		Name:   "whisper_set_type",
		Params: []cdecl.Param{{Name: "type", Type: cdecl.EnumRef("whisper_sampling_strategy")}},
		Result: cdecl.BoolType("bool"),
	})
	return h
}

// writeIntermediate runs the header step for h and stores the result the
// way the pipeline does, under dir/whisper/whisper.go.
func writeIntermediate(t *testing.T, dir string, h *cdecl.Header) string {
	t.Helper()
	src, _, err := gobind.Generate(h, gobind.Options{
		Package: "whisper",
		Include: "whisper.h",
		CFlags:  []string{"-I${SRCDIR}/include"},
		LDFlags: []string{"-lwhisper"},
	})
	if err != nil {
		t.Fatalf("gobind.Generate: %v", err)
	}
	path := filepath.Join(dir, "whisper", "whisper.go")
	if err := common.WriteFileAtomic(path, src); err != nil {
		t.Fatal(err)
	}
	return path
}

func newBuilder(input string) *Builder {
	return &Builder{
		InputFile:  input,
		FileHeader: prologue,
		DllName:    "whisper",
		Namespace:  "WhisperCppLib",
	}
}

func TestFooEndToEnd(t *testing.T) {
	dir := t.TempDir()
	input := writeIntermediate(t, dir, fooHeader())
	shimPath := filepath.Join(dir, "whisper_ffi.go")
	csPath := filepath.Join(dir, "src", "WhisperCppLib", "NativeMethods.g.cs")

	stats, err := newBuilder(input).GenerateToFile(shimPath, csPath)
	if err != nil {
		t.Fatalf("GenerateToFile: %v", err)
	}
	if stats.Externs != 1 {
		t.Errorf("externs = %d, want 1", stats.Externs)
	}

	cs, err := os.ReadFile(csPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"namespace WhisperCppLib\n{",
		"    internal static unsafe partial class NativeMethods\n    {",
		`const string __DllName = "whisper";`,
		"        [DllImport(__DllName, EntryPoint = \"bindgen_foo\", CallingConvention = CallingConvention.Cdecl, ExactSpelling = true)]\n" +
			"        public static extern int foo(int x);",
	} {
		if !strings.Contains(string(cs), want) {
			t.Errorf("C# output is missing %q:\n%s", want, cs)
		}
	}

	shim, err := os.ReadFile(shimPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"package main",
		"import \"C\"",
		prologue,
		"//export bindgen_foo\nfunc bindgen_foo(x int32) int32 {\n\treturn Foo(x)\n}",
		"func main() {}",
	} {
		if !strings.Contains(string(shim), want) {
			t.Errorf("shim is missing %q:\n%s", want, shim)
		}
	}
	if strings.Contains(string(shim), "unsafe") {
		t.Errorf("shim imports unsafe without using it:\n%s", shim)
	}
}

func TestGenerateWhisper(t *testing.T) {
	dir := t.TempDir()
	input := writeIntermediate(t, dir, whisperHeader())
	shimPath := filepath.Join(dir, "whisper_ffi.go")
	csPath := filepath.Join(dir, "NativeMethods.g.cs")

	stats, err := newBuilder(input).GenerateToFile(shimPath, csPath)
	if err != nil {
		t.Fatalf("GenerateToFile: %v", err)
	}
	if stats.Externs != 6 || stats.Records != 5 || stats.Enums != 1 || stats.Constants != 4 {
		t.Errorf("stats = %+v", stats)
	}

	shim, _ := os.ReadFile(shimPath)
	for _, want := range []string{
		"#cgo CFLAGS: -I${SRCDIR}/whisper/include",
		`#include "whisper.h"`,
		`import "unsafe"`,
		"func bindgen_whisper_init_from_file(path_model unsafe.Pointer) unsafe.Pointer {\n\treturn unsafe.Pointer(WhisperInitFromFile((*int8)(path_model)))\n}",
		"func bindgen_whisper_free(ctx unsafe.Pointer) {\n\tWhisperFree((*WhisperContext)(ctx))\n}",
		"func bindgen_whisper_full_get_token_data(ctx unsafe.Pointer, i_segment int32) C.struct_whisper_token_data {\n" +
			"\tr := WhisperFullGetTokenData((*WhisperContext)(ctx), i_segment)\n" +
			"\treturn *(*C.struct_whisper_token_data)(unsafe.Pointer(&r))\n}",
		"func bindgen_whisper_token_eot(ctx unsafe.Pointer) int32 {\n\treturn int32(WhisperTokenEot((*WhisperContext)(ctx)))\n}",
		"WhisperSetAbort((*WhisperContext)(ctx), (WhisperAbortCallback)(cb), user_data)",
		"func bindgen_whisper_set_type(type_ uint32) bool {\n\treturn WhisperSetType(WhisperSamplingStrategy(type_))\n}",
	} {
		if !strings.Contains(string(shim), want) {
			t.Errorf("shim is missing %q:\n%s", want, shim)
		}
	}

	cs, _ := os.ReadFile(csPath)
	for _, want := range []string{
		"public const int WHISPER_SAMPLE_RATE = 16000;",
		"public const int WHISPER_HOP = 200;",
		`public const string WHISPER_VERSION = "1.7.1";`,
		"public static extern whisper_context* whisper_init_from_file(sbyte* path_model);",
		"public static extern void whisper_free(whisper_context* ctx);",
		"public static extern whisper_token_data whisper_full_get_token_data(whisper_context* ctx, int i_segment);",
		"public static extern int whisper_token_eot(whisper_context* ctx);",
		"public static extern void whisper_set_abort(whisper_context* ctx, delegate* unmanaged[Cdecl]<void*, bool> cb, void* user_data);",
		"        [return: MarshalAs(UnmanagedType.U1)]\n        public static extern bool whisper_set_type(whisper_sampling_strategy type);",
		"    [StructLayout(LayoutKind.Sequential)]\n    internal unsafe partial struct whisper_context\n    {\n    }",
		"    internal unsafe partial struct whisper_token_data\n    {\n        public int id;\n        public float p;\n    }",
		"    [StructLayout(LayoutKind.Explicit, Size = 8)]\n    internal unsafe partial struct whisper_value\n    {\n" +
			"        [FieldOffset(0)]\n        public double f;\n        [FieldOffset(0)]\n        public long i;\n    }",
		"    internal unsafe partial struct whisper_flags\n    {\n        public fixed uint raw[1];\n    }",
		"        public whisper_sampling_strategy strategy;\n" +
			"        [MarshalAs(UnmanagedType.U1)]\n        public bool print_progress;\n" +
			"        public fixed sbyte language[8];\n" +
			"        public whisper_token_data tokens_0;\n        public whisper_token_data tokens_1;\n",
		"    internal enum whisper_sampling_strategy : uint\n    {\n        WHISPER_SAMPLING_GREEDY = 0,\n        WHISPER_SAMPLING_BEAM_SEARCH = 1,\n    }",
	} {
		if !strings.Contains(string(cs), want) {
			t.Errorf("C# output is missing %q:\n%s", want, cs)
		}
	}
}

func TestNamespaceAndDllOnlyChangeTheirDeclarations(t *testing.T) {
	dir := t.TempDir()
	input := writeIntermediate(t, dir, whisperHeader())

	base := newBuilder(input)
	shimA, csA, err := base.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	changed := newBuilder(input)
	changed.Namespace = "Other.Interop"
	changed.DllName = "libwhisper"
	shimB, csB, err := changed.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if !bytes.Equal(shimA, shimB) {
		t.Fatalf("shim changed with the namespace:\n%s\n---\n%s", shimA, shimB)
	}

	linesA := strings.Split(string(csA), "\n")
	linesB := strings.Split(string(csB), "\n")
	if len(linesA) != len(linesB) {
		t.Fatalf("line count changed: %d vs %d", len(linesA), len(linesB))
	}
	var diff []string
	for i := range linesA {
		if linesA[i] != linesB[i] {
			diff = append(diff, linesB[i])
		}
	}
	want := []string{"namespace Other.Interop", `        const string __DllName = "libwhisper";`}
	if len(diff) != len(want) || diff[0] != want[0] || diff[1] != want[1] {
		t.Fatalf("changed lines = %q, want %q", diff, want)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	input := writeIntermediate(t, dir, whisperHeader())

	shim, cs, err := newBuilder(input).Generate()
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		shim2, cs2, err := newBuilder(input).Generate()
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(shim, shim2) || !bytes.Equal(cs, cs2) {
			t.Fatalf("run %d produced different output", i)
		}
	}
}

func TestMalformedInputWritesNothing(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", "package whisper\nfunc ("},
		{"unknown type", "package whisper\n\n//bindgen:link foo\nfunc Foo(x Mystery) {}\n"},
		{"opaque by value", "package whisper\n\n//bindgen:opaque ctx\ntype Ctx struct {\n\t_ [0]byte\n}\n\n//bindgen:link use\nfunc Use(c Ctx) {}\n"},
		{"callback without signature", "package whisper\n\n//bindgen:callback cb\ntype Cb unsafe.Pointer\n"},
		{"bad constant", "package whisper\n\n//bindgen:const X\nconst X = Y + 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			input := filepath.Join(dir, "whisper.go")
			if err := os.WriteFile(input, []byte(tt.src), 0o644); err != nil {
				t.Fatal(err)
			}
			shimPath := filepath.Join(dir, "whisper_ffi.go")
			csPath := filepath.Join(dir, "NativeMethods.g.cs")

			_, err := newBuilder(input).GenerateToFile(shimPath, csPath)
			if !errors.Is(err, ErrInput) {
				t.Fatalf("err = %v, want ErrInput", err)
			}
			if common.IsExist(shimPath) || common.IsExist(csPath) {
				t.Fatal("outputs were written for a malformed input")
			}
		})
	}
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.go"))
	if !errors.Is(err, ErrInput) {
		t.Fatalf("err = %v, want ErrInput", err)
	}
}

func TestUnknownTypeIsReported(t *testing.T) {
	_, err := Parse("whisper.go", []byte("package whisper\n\n//bindgen:link foo\nfunc Foo(x Mystery) {}\n"))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("err = %v, want ErrUnknownType", err)
	}
}

func TestEscapeAndQuote(t *testing.T) {
	if got := escape("params"); got != "@params" {
		t.Errorf("escape(params) = %q", got)
	}
	if got := escape("ctx"); got != "ctx" {
		t.Errorf("escape(ctx) = %q", got)
	}
	if got := csQuote("a\"b\\c\n\x01"); got != `"a\"b\\c\n\u0001"` {
		t.Errorf("csQuote = %s", got)
	}
}

func TestConstantTypes(t *testing.T) {
	m, err := Parse("c.go", []byte(`package whisper

//bindgen:const SMALL
const Small = -5

//bindgen:const BIG
const Big = 1 << 40

//bindgen:const UNSIGNED
const Unsigned = 0xFFFFFFFF

//bindgen:const HUGE
const Huge = 0xFFFFFFFFFFFFFFFF

//bindgen:const RATIO
const Ratio = 0.5

//bindgen:const WHOLE
const Whole = 2.0
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := map[string][2]string{
		"Small":    {"int", "-5"},
		"Big":      {"long", "1099511627776"},
		"Unsigned": {"uint", "4294967295"},
		"Huge":     {"ulong", "18446744073709551615"},
		"Ratio":    {"double", "0.5"},
		"Whole":    {"double", "2.0"},
	}
	for _, c := range m.Consts.Values() {
		typ, lit, ok := csConst(c.Value)
		if !ok {
			t.Errorf("%s has no C# form", c.GoName)
			continue
		}
		if w := want[c.GoName]; typ != w[0] || lit != w[1] {
			t.Errorf("%s = %s %s, want %s %s", c.GoName, typ, lit, w[0], w[1])
		}
	}
}

func TestRebase(t *testing.T) {
	tests := []struct {
		line, srcRel, want string
	}{
		{"#cgo CFLAGS: -I${SRCDIR}/include", ".", "#cgo CFLAGS: -I${SRCDIR}/include"},
		{"#cgo CFLAGS: -I${SRCDIR}/include", "", "#cgo CFLAGS: -I${SRCDIR}/include"},
		{"#cgo CFLAGS: -I${SRCDIR}/include", "whisper", "#cgo CFLAGS: -I${SRCDIR}/whisper/include"},
		{"#cgo CFLAGS: -I${SRCDIR}/../include", "../whisper", "#cgo CFLAGS: -I${SRCDIR}/../whisper/../include"},
		{"#cgo CFLAGS: -I${SRCDIR}/../../external", "../gen/whisper", "#cgo CFLAGS: -I${SRCDIR}/../gen/whisper/../../external"},
		{"#cgo LDFLAGS: -lwhisper", "../whisper", "#cgo LDFLAGS: -lwhisper"},
	}
	for _, tt := range tests {
		if got := rebase(tt.line, tt.srcRel); got != tt.want {
			t.Errorf("rebase(%q, %q) = %q, want %q", tt.line, tt.srcRel, got, tt.want)
		}
	}
}

func TestMacroExpressionsKeepCValues(t *testing.T) {
	raw := orderedmap.NewOrderedMap[string, string]()
	raw.Set("WHISPER_SHIFTED", "1 << 2 + 1")
	raw.Set("WHISPER_MASKED", "6 + 2 & 3")
	raw.Set("WHISPER_MIXED", "WHISPER_SHIFTED | 1 << 1 + 1")

	h := fooHeader()
	for _, c := range cdecl.BuildConstants(raw) {
		h.Constants.Set(c.Name, c)
	}
	input := writeIntermediate(t, t.TempDir(), h)
	_, cs, err := newBuilder(input).Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	for _, want := range []string{
		"public const int WHISPER_SHIFTED = 8;",
		"public const int WHISPER_MASKED = 0;",
		"public const int WHISPER_MIXED = 12;",
	} {
		if !strings.Contains(string(cs), want) {
			t.Errorf("C# output is missing %q:\n%s", want, cs)
		}
	}
}

func TestParameterNamesKeepCSpelling(t *testing.T) {
	h := cdecl.NewHeader("params.h")
	h.Functions.Set("whisper_set", &cdecl.Function{
		Name: "whisper_set",
		Params: []cdecl.Param{
			{Name: "type", Type: cdecl.IntType("int", 4, true)},
			{Type: cdecl.IntType("int", 4, true)},
			{Name: "string", Type: cdecl.IntType("int", 4, true)},
			{Name: "range", Type: cdecl.IntType("int", 4, true)},
		},
		Result: cdecl.VoidType(),
	})
	input := writeIntermediate(t, t.TempDir(), h)
	shim, cs, err := newBuilder(input).Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if want := "public static extern void whisper_set(int type, int arg1, int @string, int range);"; !strings.Contains(string(cs), want) {
		t.Errorf("C# output is missing %q:\n%s", want, cs)
	}
	if want := "func bindgen_whisper_set(type_ int32, arg int32, string_ int32, range_ int32) {"; !strings.Contains(string(shim), want) {
		t.Errorf("shim is missing %q:\n%s", want, shim)
	}
}

func TestParamsDirectiveMustMatch(t *testing.T) {
	_, err := Parse("p.go", []byte(`package whisper

//bindgen:link whisper_set
//bindgen:params type other
func WhisperSet(type_ int32) {}
`))
	if !errors.Is(err, ErrInput) {
		t.Fatalf("err = %v, want ErrInput", err)
	}
}
