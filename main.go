package main

import (
	"os"

	"github.com/ethereum/go-ethereum/log"

	"dllbindgen/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
