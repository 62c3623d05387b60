package config

import (
	"fmt"
	"go/token"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"
)

const (
	defaultLogLevel      = "info"
	DefaultHeader        = "../../external/whisper.cpp/whisper.h"
	DefaultIntermediate  = "whisper/whisper.go"
	DefaultPackage       = "whisper"
	DefaultLink          = "-lwhisper"
	DefaultPrologue      = `import . "whisper-bindings/whisper"`
	DefaultDllName       = "whisper"
	DefaultNamespace     = "WhisperCppLib"
	DefaultClassName     = "NativeMethods"
	DefaultEntryPrefix   = "bindgen_"
	DefaultAccessibility = "internal"
	DefaultShimOutput    = "whisper_ffi.go"
	DefaultCSharpOutput  = "../../src/WhisperCppLib/NativeMethods.g.cs"
)

var (
	Conf = &Config{}

	LogLevel = &cli.StringFlag{
		Name:        "log-level",
		Aliases:     []string{"l"},
		Usage:       "Logging level {trace, debug, info, warn, error}",
		Value:       defaultLogLevel,
		Destination: &Conf.LogLevel,
	}

	Header = &cli.StringFlag{
		Name:        "header",
		Usage:       "C header to generate bindings for",
		Value:       DefaultHeader,
		Destination: &Conf.Header,
	}

	ClangArgs = &cli.StringFlag{
		Name:        "clang-args",
		Usage:       "Extra arguments passed to clang, separated by spaces (e.g. \"-DGGML_SHARED -Iinclude\")",
		Destination: &Conf.ClangArgs,
	}

	Allowlist = &cli.StringFlag{
		Name:        "allowlist",
		Usage:       "Regular expression of declaration names to bind; empty binds everything",
		Destination: &Conf.Allowlist,
	}

	Intermediate = &cli.StringFlag{
		Name:        "intermediate",
		Aliases:     []string{"i"},
		Usage:       "Path of the generated cgo binding file",
		Value:       DefaultIntermediate,
		Destination: &Conf.Intermediate,
	}

	Package = &cli.StringFlag{
		Name:        "package",
		Usage:       "Go package name of the generated cgo binding file",
		Value:       DefaultPackage,
		Destination: &Conf.Package,
	}

	Link = &cli.StringFlag{
		Name:        "link",
		Usage:       "Linker flags of the generated cgo binding file",
		Value:       DefaultLink,
		Destination: &Conf.Link,
	}

	Prologue = &cli.StringFlag{
		Name:        "prologue",
		Usage:       "Source inserted at the top of the export shim, usually an import of the binding package",
		Value:       DefaultPrologue,
		Destination: &Conf.Prologue,
	}

	DllName = &cli.StringFlag{
		Name:        "dll-name",
		Usage:       "Dynamic library the C# imports are bound to",
		Value:       DefaultDllName,
		Destination: &Conf.DllName,
	}

	Namespace = &cli.StringFlag{
		Name:        "namespace",
		Aliases:     []string{"ns"},
		Usage:       "C# namespace of the generated imports",
		Value:       DefaultNamespace,
		Destination: &Conf.Namespace,
	}

	ClassName = &cli.StringFlag{
		Name:        "class-name",
		Usage:       "C# class holding the generated imports",
		Value:       DefaultClassName,
		Destination: &Conf.ClassName,
	}

	EntryPrefix = &cli.StringFlag{
		Name:        "entry-prefix",
		Usage:       "Prefix of the symbols exported by the shim",
		Value:       DefaultEntryPrefix,
		Destination: &Conf.EntryPrefix,
	}

	Accessibility = &cli.StringFlag{
		Name:        "accessibility",
		Usage:       "Accessibility of the generated C# types {internal, public}",
		Value:       DefaultAccessibility,
		Destination: &Conf.Accessibility,
	}

	ShimOutput = &cli.StringFlag{
		Name:        "shim-output",
		Usage:       "Path of the generated export shim",
		Value:       DefaultShimOutput,
		Destination: &Conf.ShimOutput,
	}

	CSharpOutput = &cli.StringFlag{
		Name:        "csharp-output",
		Aliases:     []string{"o"},
		Usage:       "Path of the generated C# file",
		Value:       DefaultCSharpOutput,
		Destination: &Conf.CSharpOutput,
	}

	AppFlags = []cli.Flag{
		LogLevel,
		Header,
		ClangArgs,
		Allowlist,
		Intermediate,
		Package,
		Link,
		Prologue,
		DllName,
		Namespace,
		ClassName,
		EntryPrefix,
		Accessibility,
		ShimOutput,
		CSharpOutput,
	}
)

type Config struct {
	LogLevel string

	Header       string
	ClangArgs    string
	Allowlist    string
	Intermediate string
	Package      string
	Link         string

	Prologue      string
	DllName       string
	Namespace     string
	ClassName     string
	EntryPrefix   string
	Accessibility string
	ShimOutput    string
	CSharpOutput  string
}

// Default returns a configuration holding the fixed build settings.
func Default() *Config {
	return &Config{
		LogLevel:      defaultLogLevel,
		Header:        DefaultHeader,
		Intermediate:  DefaultIntermediate,
		Package:       DefaultPackage,
		Link:          DefaultLink,
		Prologue:      DefaultPrologue,
		DllName:       DefaultDllName,
		Namespace:     DefaultNamespace,
		ClassName:     DefaultClassName,
		EntryPrefix:   DefaultEntryPrefix,
		Accessibility: DefaultAccessibility,
		ShimOutput:    DefaultShimOutput,
		CSharpOutput:  DefaultCSharpOutput,
	}
}

var namespaceRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

func (c *Config) Load() error {
	log.Debug("Try to load config")
	required := []struct{ name, value string }{
		{"header", c.Header},
		{"intermediate", c.Intermediate},
		{"package", c.Package},
		{"dll-name", c.DllName},
		{"namespace", c.Namespace},
		{"shim-output", c.ShimOutput},
		{"csharp-output", c.CSharpOutput},
	}
	for _, r := range required {
		if len(strings.TrimSpace(r.value)) <= 0 {
			return fmt.Errorf("No config %s", r.name)
		}
	}
	if !token.IsIdentifier(c.Package) {
		return fmt.Errorf("package %q is not a Go identifier", c.Package)
	}
	if !namespaceRe.MatchString(c.Namespace) {
		return fmt.Errorf("namespace %q is not a C# namespace", c.Namespace)
	}
	if c.ClassName != "" && !token.IsIdentifier(c.ClassName) {
		return fmt.Errorf("class name %q is not an identifier", c.ClassName)
	}
	switch c.Accessibility {
	case "", "internal", "public":
	default:
		return fmt.Errorf("accessibility %q must be internal or public", c.Accessibility)
	}
	if _, err := c.AllowlistRegexp(); err != nil {
		return err
	}
	log.Debug("Config info", "header", c.Header, "intermediate", c.Intermediate,
		"shim", c.ShimOutput, "csharp", c.CSharpOutput)
	return nil
}

// AllowlistRegexp compiles the allowlist. It returns nil when everything
// should be bound.
func (c *Config) AllowlistRegexp() (*regexp.Regexp, error) {
	if len(c.Allowlist) <= 0 {
		return nil, nil
	}
	re, err := regexp.Compile(c.Allowlist)
	if err != nil {
		return nil, fmt.Errorf("bad allowlist: %w", err)
	}
	return re, nil
}

func (c *Config) ClangArgList() []string {
	return strings.Fields(c.ClangArgs)
}

func (c *Config) LinkFlags() []string {
	if len(strings.TrimSpace(c.Link)) <= 0 {
		return nil
	}
	return []string{strings.TrimSpace(c.Link)}
}
