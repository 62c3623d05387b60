// Package pipeline runs the two generation steps: header to cgo bindings,
// then cgo bindings to the export shim and the C# imports.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"

	"dllbindgen/cdecl"
	"dllbindgen/common"
	"dllbindgen/config"
	"dllbindgen/csbind"
	"dllbindgen/gobind"
)

var (
	// ErrParse is returned when the header or the intermediate file cannot be
	// parsed or bound.
	ErrParse = errors.New("parse failure")
	// ErrWrite is returned when a generated file cannot be written.
	ErrWrite = errors.New("write failure")

	ErrNoIntermediate = errors.New("intermediate bindings not found")
)

// HeaderParser turns a C header into declarations.
type HeaderParser interface {
	Parse(path string) (*cdecl.Header, error)
}

type Pipeline struct {
	cfg     *config.Config
	parser  HeaderParser
	summary Summary
}

func New(cfg *config.Config, parser HeaderParser) *Pipeline {
	return &Pipeline{cfg: cfg, parser: parser}
}

func (p *Pipeline) Summary() Summary {
	return p.summary
}

// Run executes both steps and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.RunHeader(ctx); err != nil {
		return err
	}
	return p.RunInterop(ctx)
}

// RunHeader parses the header and writes the intermediate bindings. Nothing
// is written unless the header parsed and rendered.
func (p *Pipeline) RunHeader(ctx context.Context) error {
	cfg := p.cfg
	if err := ctx.Err(); err != nil {
		return err
	}

	h, err := p.parser.Parse(cfg.Header)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrParse, err)
	}
	allow, err := cfg.AllowlistRegexp()
	if err != nil {
		return err
	}
	if allow != nil {
		h = h.Filter(allow)
		log.Debug("Applied allowlist", "pattern", allow.String(), "functions", h.Functions.Len())
	}

	src, stats, err := gobind.Generate(h, gobind.Options{
		Package: cfg.Package,
		Include: filepath.Base(cfg.Header),
		CFlags:  []string{p.includeFlag()},
		LDFlags: cfg.LinkFlags(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrParse, err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := common.WriteFileAtomic(cfg.Intermediate, src); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	p.summary.Functions = stats.Functions
	p.summary.Records = stats.Records
	p.summary.Enums = stats.Enums
	p.summary.Typedefs = stats.Typedefs
	p.summary.Constants = stats.Constants
	p.summary.Skipped = stats.Skipped
	log.Info("Wrote intermediate bindings", "path", cfg.Intermediate,
		"functions", stats.Functions, "skipped", stats.Skipped)
	return nil
}

// RunInterop reads the intermediate bindings and writes the shim and the C#
// imports.
func (p *Pipeline) RunInterop(ctx context.Context) error {
	cfg := p.cfg
	if err := ctx.Err(); err != nil {
		return err
	}
	if !common.IsExist(cfg.Intermediate) {
		return fmt.Errorf("%w: %w: %s, run the header step first", ErrParse, ErrNoIntermediate, cfg.Intermediate)
	}

	b := &csbind.Builder{
		InputFile:     cfg.Intermediate,
		FileHeader:    cfg.Prologue,
		DllName:       cfg.DllName,
		Namespace:     cfg.Namespace,
		ClassName:     cfg.ClassName,
		EntryPrefix:   cfg.EntryPrefix,
		Accessibility: cfg.Accessibility,
	}
	stats, err := b.GenerateToFile(cfg.ShimOutput, cfg.CSharpOutput)
	if err != nil {
		if errors.Is(err, csbind.ErrOutput) {
			return fmt.Errorf("%w: %w", ErrWrite, err)
		}
		return fmt.Errorf("%w: %w", ErrParse, err)
	}
	p.summary.Externs = stats.Externs
	return nil
}

// includeFlag points the intermediate package at the header's directory,
// relative to the package so the output does not depend on the checkout.
func (p *Pipeline) includeFlag() string {
	headerDir, err := filepath.Abs(filepath.Dir(p.cfg.Header))
	if err != nil {
		return "-I" + filepath.Dir(p.cfg.Header)
	}
	pkgDir, err := filepath.Abs(filepath.Dir(p.cfg.Intermediate))
	if err != nil {
		return "-I" + headerDir
	}
	rel, err := filepath.Rel(pkgDir, headerDir)
	if err != nil {
		return "-I" + headerDir
	}
	if rel == "." {
		return "-I${SRCDIR}"
	}
	return "-I${SRCDIR}/" + filepath.ToSlash(rel)
}
