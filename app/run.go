package app

import (
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"dllbindgen/config"
	"dllbindgen/version"
)

func Run() error {
	app := &cli.App{
		Name:                 "dllbindgen",
		Version:              version.String(),
		Usage:                "Generate a Go c-shared export shim and C# imports from a C header",
		Flags:                config.AppFlags,
		EnableBashCompletion: true,
		Before:               OnBefore,
		Commands:             commands(),
		Action:               generateHandler,
	}

	return app.Run(os.Args)
}

func OnBefore(ctx *cli.Context) error {
	err := initLog(config.Conf)
	if err != nil {
		return err
	}
	log.Debug("Before init")
	return config.Conf.Load()
}
