package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"dllbindgen/config"
	"dllbindgen/headerparse"
	"dllbindgen/pipeline"
	"dllbindgen/version"
)

func commands() []*cli.Command {
	cmds := []*cli.Command{}
	cmds = append(cmds, versionCmd())
	cmds = append(cmds, headerCmd())
	cmds = append(cmds, interopCmd())
	return cmds
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:        "version",
		Aliases:     []string{"v"},
		Category:    "dllbindgen",
		Usage:       "Show dllbindgen version",
		Description: "Show dllbindgen version",
		Action: func(ctx *cli.Context) error {
			fmt.Println(version.String())
			return nil
		},
	}
}

func headerCmd() *cli.Command {
	return &cli.Command{
		Name:        "header",
		Category:    "dllbindgen",
		Usage:       "Generate the cgo binding file from the C header",
		Description: "Parse --header with libclang and write the cgo binding file to --intermediate",
		Action: func(ctx *cli.Context) error {
			return runStep(ctx, (*pipeline.Pipeline).RunHeader)
		},
	}
}

func interopCmd() *cli.Command {
	return &cli.Command{
		Name:        "interop",
		Category:    "dllbindgen",
		Usage:       "Generate the export shim and C# imports from the cgo binding file",
		Description: "Read --intermediate and write --shim-output and --csharp-output",
		Action: func(ctx *cli.Context) error {
			return runStep(ctx, (*pipeline.Pipeline).RunInterop)
		},
	}
}

func generateHandler(ctx *cli.Context) error {
	return runStep(ctx, (*pipeline.Pipeline).Run)
}

func runStep(ctx *cli.Context, step func(*pipeline.Pipeline, context.Context) error) error {
	c, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Conf
	p := pipeline.New(cfg, headerparse.New(cfg.ClangArgList()...))
	if err := step(p, c); err != nil {
		return err
	}
	log.Info("Generation finished")
	return p.Summary().Print(os.Stdout)
}
