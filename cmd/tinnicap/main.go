package main

import (
	"os"

	"tinnicap/internal/adapter/primary/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
