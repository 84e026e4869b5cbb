// Package main provides the entry point for the teamctl CLI.
package main

import (
	"os"

	"github.com/teamforge/core/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
