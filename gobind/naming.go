package gobind

import (
	"strings"
	"unicode"
)

// reservedNames cannot be used as parameter names in generated wrappers:
// Go keywords, predeclared identifiers the wrappers rely on, and the two
// package names every wrapper refers to.
var reservedNames = map[string]bool{
	"break": true, "case": true, "chan": true, "const": true, "continue": true,
	"default": true, "defer": true, "else": true, "fallthrough": true, "for": true,
	"func": true, "go": true, "goto": true, "if": true, "import": true,
	"interface": true, "map": true, "package": true, "range": true, "return": true,
	"select": true, "struct": true, "switch": true, "type": true, "var": true,

	"bool": true, "byte": true, "int": true, "int8": true, "int16": true,
	"int32": true, "int64": true, "uint": true, "uint8": true, "uint16": true,
	"uint32": true, "uint64": true, "uintptr": true, "float32": true,
	"float64": true, "string": true, "rune": true, "error": true,
	"nil": true, "true": true, "false": true, "iota": true,

	"C": true, "unsafe": true, "r": true,
}

// GoName turns a C identifier into an exported Go identifier:
// whisper_full_params -> WhisperFullParams, WHISPER_SAMPLE_RATE -> WhisperSampleRate.
func GoName(c string) string {
	parts := strings.FieldsFunc(c, func(r rune) bool { return r == '_' })
	allUpper := strings.ToUpper(c) == c
	var sb strings.Builder
	for _, p := range parts {
		if allUpper {
			p = strings.ToLower(p)
		}
		runes := []rune(p)
		runes[0] = unicode.ToUpper(runes[0])
		sb.WriteString(string(runes))
	}
	name := sb.String()
	if name == "" {
		return "X"
	}
	if unicode.IsDigit([]rune(name)[0]) {
		name = "X" + name
	}
	return name
}

// ParamName keeps the C spelling of a parameter unless it clashes with Go.
func ParamName(c string) string {
	if c == "" || c == "_" {
		return "arg"
	}
	if reservedNames[c] {
		return c + "_"
	}
	return c
}

// namer hands out unique identifiers in one scope.
type namer struct {
	used map[string]bool
}

func newNamer() *namer {
	return &namer{used: make(map[string]bool)}
}

// claim reserves name, appending underscores until it is unique.
func (n *namer) claim(name string) string {
	for n.used[name] {
		name += "_"
	}
	n.used[name] = true
	return name
}
