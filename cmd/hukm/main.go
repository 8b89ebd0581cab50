// Package main provides the entry point for the hukm CLI.
package main

import (
	"os"

	"github.com/hukm-search/hukm/cmd/hukm/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
