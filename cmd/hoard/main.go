// Package main provides the hoard CLI tool for inspecting ring balance
// and benchmarking the local eviction engine.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
