package main

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags.
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "hoard",
	Short: "Distributed cache layer diagnostics",
	Long: `Hoard is a CLI tool for inspecting the cache layer: how evenly the
consistent hash ring spreads keys across nodes, how many keys move on
membership changes, and how fast the local eviction engine runs under
each eviction policy.

Examples:
  # Check ring balance for a five node cluster
  hoard balance --nodes 5

  # How much of the keyspace moves when a node joins
  hoard balance --nodes 5 --add-node

  # Benchmark the local engine
  hoard bench --policy lru --ops 1000000`,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}
