package csbind

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"

	"dllbindgen/common"
)

const (
	DefaultClassName     = "NativeMethods"
	DefaultEntryPrefix   = "bindgen_"
	DefaultAccessibility = "internal"
)

// Builder configures one interop generation run.
type Builder struct {
	// InputFile is the intermediate binding file written by the header step.
	InputFile string
	// FileHeader is inserted into the shim after import "C", typically an
	// import of the intermediate package.
	FileHeader    string
	DllName       string
	Namespace     string
	ClassName     string
	EntryPrefix   string
	Accessibility string
}

// Stats describes a finished run.
type Stats struct {
	Externs   int
	Records   int
	Enums     int
	Constants int
}

func (b *Builder) className() string {
	if b.ClassName == "" {
		return DefaultClassName
	}
	return b.ClassName
}

func (b *Builder) entryPrefix() string {
	if b.EntryPrefix == "" {
		return DefaultEntryPrefix
	}
	return b.EntryPrefix
}

func (b *Builder) accessibility() string {
	if b.Accessibility == "" {
		return DefaultAccessibility
	}
	return b.Accessibility
}

// Generate renders the shim and the C# bindings without writing them. The
// shim is assumed to live in the current directory.
func (b *Builder) Generate() (shim, cs []byte, err error) {
	shim, cs, _, err = b.generate(".")
	return shim, cs, err
}

// GenerateToFile renders both outputs and writes them only when both
// rendered.
func (b *Builder) GenerateToFile(shimPath, csPath string) (Stats, error) {
	shim, cs, stats, err := b.generate(filepath.Dir(shimPath))
	if err != nil {
		return Stats{}, err
	}
	if err := common.WriteFileAtomic(shimPath, shim); err != nil {
		return Stats{}, fmt.Errorf("%w: %w", ErrOutput, err)
	}
	if err := common.WriteFileAtomic(csPath, cs); err != nil {
		return Stats{}, fmt.Errorf("%w: %w", ErrOutput, err)
	}
	log.Info("Wrote interop bindings", "shim", shimPath, "csharp", csPath, "externs", stats.Externs)
	return stats, nil
}

func (b *Builder) generate(shimDir string) ([]byte, []byte, Stats, error) {
	if b.InputFile == "" {
		return nil, nil, Stats{}, errors.New("no input file")
	}
	if b.DllName == "" || b.Namespace == "" {
		return nil, nil, Stats{}, errors.New("dll name and namespace are required")
	}

	m, err := Read(b.InputFile)
	if err != nil {
		return nil, nil, Stats{}, err
	}

	shim, err := renderShim(m, b.FileHeader, b.entryPrefix(), relDir(shimDir, filepath.Dir(b.InputFile)))
	if err != nil {
		return nil, nil, Stats{}, fmt.Errorf("%w: %w", ErrInput, err)
	}
	cs, externs, err := renderCSharp(m, b)
	if err != nil {
		return nil, nil, Stats{}, fmt.Errorf("%w: %w", ErrInput, err)
	}
	return shim, cs, Stats{
		Externs:   externs,
		Records:   m.Records.Len(),
		Enums:     m.Enums.Len(),
		Constants: m.Consts.Len(),
	}, nil
}

// relDir returns target relative to base in slash form, or "" when no
// relative path exists.
func relDir(base, target string) string {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return ""
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(absBase, absTarget)
	if err != nil {
		return ""
	}
	return filepath.ToSlash(rel)
}
