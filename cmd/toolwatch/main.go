// Package main is the entry point for the toolwatch CLI.
package main

import (
	"os"

	"github.com/good-yellow-bee/toolwatch/cmd/toolwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
