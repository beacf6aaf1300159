package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/hoardcache/hoard/benchmark/balance"
	"github.com/hoardcache/hoard/internal/ring"
)

var (
	balanceNodes   int
	balanceVNodes  int
	balanceHash    string
	balanceKeys    int
	balanceAddNode bool
)

var balanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Measure key distribution across the hash ring",
	Long: `Place sample keys on a consistent hash ring and report how evenly
they spread across the nodes. With --add-node, also report the fraction
of keys that move when one more node joins the ring.`,
	RunE: runBalance,
}

func init() {
	balanceCmd.Flags().IntVarP(&balanceNodes, "nodes", "n", 5, "number of nodes on the ring")
	balanceCmd.Flags().IntVar(&balanceVNodes, "virtual-nodes", ring.DefaultVirtualNodes, "ring positions per unit of node weight")
	balanceCmd.Flags().StringVar(&balanceHash, "hash", "xxhash", "hash algorithm (xxhash, fnv1a, sha256)")
	balanceCmd.Flags().IntVarP(&balanceKeys, "keys", "k", 100_000, "number of sample keys")
	balanceCmd.Flags().BoolVar(&balanceAddNode, "add-node", false, "also measure movement when one node joins")
	rootCmd.AddCommand(balanceCmd)
}

func runBalance(cmd *cobra.Command, args []string) error {
	if balanceNodes < 1 {
		return fmt.Errorf("--nodes must be at least 1")
	}

	nodes := make([]ring.Node, balanceNodes)
	for i := range nodes {
		nodes[i] = ring.Node{ID: fmt.Sprintf("cache-%02d", i)}
	}
	cfg := balance.Config{
		Nodes:        nodes,
		VirtualNodes: balanceVNodes,
		Hash:         balanceHash,
		Keys:         balanceKeys,
	}

	d, err := balance.Measure(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("Nodes:          %d\n", balanceNodes)
	fmt.Printf("Virtual nodes:  %d\n", balanceVNodes)
	fmt.Printf("Hash:           %s\n", balanceHash)
	fmt.Printf("Sample keys:    %d\n", d.Keys)
	fmt.Printf("Mean per node:  %.1f\n", d.Mean)
	fmt.Printf("Std deviation:  %.1f\n", d.StdDev)
	fmt.Printf("Coeff. of var.: %.4f\n", d.CV)

	if verbose {
		ids := make([]string, 0, len(d.PerNode))
		for id := range d.PerNode {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Println()
		for _, id := range ids {
			count := d.PerNode[id]
			fmt.Printf("  %s  %7d  (%.2f%%)\n", id, count, float64(count)/float64(d.Keys)*100)
		}
	}

	if balanceAddNode {
		moved, err := balance.Remap(cfg, ring.Node{ID: fmt.Sprintf("cache-%02d", balanceNodes)})
		if err != nil {
			return err
		}
		ideal := 1.0 / float64(balanceNodes+1)
		fmt.Println()
		fmt.Printf("Keys moved on join: %.2f%% (ideal %.2f%%)\n", moved*100, ideal*100)
	}

	return nil
}
