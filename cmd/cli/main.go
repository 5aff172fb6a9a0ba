package main

import (
	"os"

	"github.com/beam-cloud/mailsync/pkg/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		cli.PrintFormattedError("Command failed", err)
		os.Exit(1)
	}
}
