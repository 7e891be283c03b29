// Package main is the fieldtrace CLI entry point.
package main

import (
	"os"

	"github.com/fieldtrace-labs/fieldtrace/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
