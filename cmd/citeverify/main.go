// Package main provides the citeverify command line tool.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"

	"github.com/helixir/citation-verification-service/internal/cli"
)

const version = "0.1.0"

func main() {
	root := cli.NewRootCmd()

	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}
