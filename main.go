// Package main is the entry point for Sentinel.
package main

import (
	"fmt"
	"os"

	"sentinel/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
