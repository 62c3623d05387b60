package gobind

import (
	"bytes"
	"strings"
	"testing"

	"dllbindgen/cdecl"
)

func fooHeader() *cdecl.Header {
	h := cdecl.NewHeader("testdata/foo.h")
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
		Name: "whisper_abort_callback",
		Underlying: cdecl.FuncPtrOf(
			[]cdecl.Type{cdecl.PointerTo(cdecl.VoidType())},
			cdecl.BoolType("bool"),
		),
	})
	h.Typedefs.Set("whisper_broken", &cdecl.Typedef{
		Name:       "whisper_broken",
		Underlying: cdecl.Type{Kind: cdecl.KindUnsupported, Name: "__int128"},
	})

	h.Records.Set("whisper_context", &cdecl.Record{Name: "whisper_context", Tagged: true, Opaque: true})
	h.Records.Set("whisper_token_data", &cdecl.Record{
		Name:   "whisper_token_data",
		Tagged: true,
		Size:   8,
		Align:  4,
		Fields: []cdecl.Field{
			{Name: "id", Type: cdecl.TypedefRef("whisper_token")},
			{Name: "p", Type: cdecl.FloatType("float", 4)},
		},
	})
	h.Records.Set("whisper_value", &cdecl.Record{
		Name:   "whisper_value",
		Tagged: true,
		Union:  true,
		Size:   8,
		Align:  8,
		Fields: []cdecl.Field{
			{Name: "f", Type: cdecl.FloatType("double", 8)},
			{Name: "i", Type: cdecl.IntType("int64_t", 8, true)},
		},
	})
	h.Records.Set("whisper_flags", &cdecl.Record{
		Name:   "whisper_flags",
		Tagged: true,
		Size:   4,
		Align:  4,
		Fields: []cdecl.Field{
			{Name: "a", Type: cdecl.IntType("unsigned int", 4, false), BitField: true},
			{Name: "b", Type: cdecl.IntType("unsigned int", 4, false), BitField: true},
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
		Name: "whisper_set_type",
		Params: []cdecl.Param{
			{Name: "type", Type: cdecl.EnumRef("whisper_sampling_strategy")},
		},
		Result: cdecl.BoolType("bool"),
	})
	h.Functions.Set("whisper_log", &cdecl.Function{
		Name:     "whisper_log",
		Params:   []cdecl.Param{{Name: "fmt", Type: cdecl.PointerTo(cdecl.IntType("char", 1, true))}},
		Result:   cdecl.VoidType(),
		Variadic: true,
	})
	h.Functions.Set("whisper_broken_fn", &cdecl.Function{
		Name:   "whisper_broken_fn",
		Params: []cdecl.Param{{Name: "v", Type: cdecl.TypedefRef("whisper_broken")}},
		Result: cdecl.VoidType(),
	})
	return h
}

func generate(t *testing.T, h *cdecl.Header) (string, Stats) {
	t.Helper()
	src, stats, err := Generate(h, Options{
		Package: "whisper",
		CFlags:  []string{"-I${SRCDIR}/include"},
		LDFlags: []string{"-lwhisper"},
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return string(src), stats
}

func TestGenerateFoo(t *testing.T) {
	src, stats := generate(t, fooHeader())

	for _, want := range []string{
		"// Code generated by dllbindgen from foo.h; DO NOT EDIT.",
		"package whisper",
		"#cgo CFLAGS: -I${SRCDIR}/include",
		"#cgo LDFLAGS: -lwhisper",
		`#include "foo.h"`,
		"//bindgen:link foo\nfunc Foo(x int32) int32 {\n\treturn int32(C.foo(C.int(x)))\n}",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("output is missing %q:\n%s", want, src)
		}
	}
	if strings.Contains(src, `import "unsafe"`) {
		t.Errorf("unsafe imported without being used:\n%s", src)
	}
	if stats.Functions != 1 || stats.Skipped != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGenerateWhisper(t *testing.T) {
	src, stats := generate(t, whisperHeader())

	for _, want := range []string{
		`import "unsafe"`,
		"//bindgen:const WHISPER_SAMPLE_RATE\nconst WhisperSampleRate = 16000",
		"const WhisperHop = (WhisperNFft / 2)",
		"const WhisperVersion = \"1.7.1\"",
		"//bindgen:enum whisper_sampling_strategy\ntype WhisperSamplingStrategy uint32",
		"//bindgen:name WHISPER_SAMPLING_BEAM_SEARCH",
		"//bindgen:typedef whisper_token\ntype WhisperToken int32",
		"//bindgen:callback whisper_abort_callback\n//bindgen:signature func(unsafe.Pointer) bool\ntype WhisperAbortCallback unsafe.Pointer",
		"//bindgen:opaque whisper_context\ntype WhisperContext struct {\n\t_ [0]byte\n}",
		"//bindgen:struct whisper_token_data\n//bindgen:cgo C.struct_whisper_token_data\ntype WhisperTokenData struct {",
		"`c:\"id\"`",
		"//bindgen:union whisper_value 8\n//bindgen:cgo C.union_whisper_value\ntype WhisperValue struct {",
		"//bindgen:member i\nfunc (u *WhisperValue) I() *int64 {\n\treturn (*int64)(unsafe.Pointer(u))\n}",
		"//bindgen:blob whisper_flags 4\n//bindgen:cgo C.struct_whisper_flags\ntype WhisperFlags struct {",
		"func WhisperInitFromFile(path_model *int8) *WhisperContext {\n\treturn (*WhisperContext)(unsafe.Pointer(C.whisper_init_from_file((*C.char)(unsafe.Pointer(path_model)))))\n}",
		"func WhisperFree(ctx *WhisperContext) {\n\tC.whisper_free((*C.struct_whisper_context)(unsafe.Pointer(ctx)))\n}",
		"r := C.whisper_full_get_token_data((*C.struct_whisper_context)(unsafe.Pointer(ctx)), C.int(i_segment))\n\treturn *(*WhisperTokenData)(unsafe.Pointer(&r))",
		"func WhisperTokenEot(ctx *WhisperContext) WhisperToken {\n\treturn WhisperToken(C.whisper_token_eot(",
		"(C.whisper_abort_callback)(unsafe.Pointer(cb)), user_data)",
		"//bindgen:link whisper_set_type\n//bindgen:params type\nfunc WhisperSetType(type_ WhisperSamplingStrategy) bool {\n\treturn bool(C.whisper_set_type(C.enum_whisper_sampling_strategy(type_)))\n}",
	} {
		if !strings.Contains(src, want) {
			t.Errorf("output is missing %q:\n%s", want, src)
		}
	}

	for _, unwanted := range []string{"whisper_log", "WhisperBroken"} {
		if strings.Contains(src, unwanted) {
			t.Errorf("output should not contain %q:\n%s", unwanted, src)
		}
	}

	// whisper_log is variadic and whisper_broken_fn takes an unsupported type.
	if stats.Skipped != 2 {
		t.Errorf("skipped = %d, want 2", stats.Skipped)
	}
	if stats.Functions != 6 {
		t.Errorf("functions = %d, want 6", stats.Functions)
	}
	if stats.Records != 4 || stats.Enums != 1 || stats.Typedefs != 2 || stats.Constants != 4 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	first, _ := generate(t, whisperHeader())
	for i := 0; i < 5; i++ {
		again, _ := generate(t, whisperHeader())
		if !bytes.Equal([]byte(first), []byte(again)) {
			t.Fatalf("run %d produced different output", i)
		}
	}
}

func TestGenerateRequiresPackage(t *testing.T) {
	if _, _, err := Generate(fooHeader(), Options{}); err == nil {
		t.Fatal("expected an error without a package name")
	}
}

func TestGenerateResolvesNameClashes(t *testing.T) {
	h := cdecl.NewHeader("clash.h")
	h.Constants.Set("FOO", &cdecl.Constant{Name: "FOO", Kind: cdecl.ConstInt, Value: "1"})
	h.Functions.Set("foo", &cdecl.Function{Name: "foo", Result: cdecl.VoidType()})

	src, _ := generate(t, h)
	if !strings.Contains(src, "func Foo() {") {
		t.Errorf("function lost its name:\n%s", src)
	}
	if !strings.Contains(src, "const Foo_ = 1") {
		t.Errorf("constant was not renamed:\n%s", src)
	}
}

func TestGoName(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"whisper_full_params", "WhisperFullParams"},
		{"WHISPER_SAMPLE_RATE", "WhisperSampleRate"},
		{"ggml_type", "GgmlType"},
		{"_private", "Private"},
		{"8bit", "X8bit"},
		{"camelCase", "CamelCase"},
	}
	for _, tt := range tests {
		if got := GoName(tt.in); got != tt.want {
			t.Errorf("GoName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParamName(t *testing.T) {
	for in, want := range map[string]string{
		"ctx":   "ctx",
		"type":  "type_",
		"len":   "len",
		"C":     "C_",
		"":      "arg",
		"range": "range_",
	} {
		if got := ParamName(in); got != want {
			t.Errorf("ParamName(%q) = %q, want %q", in, got, want)
		}
	}
}
