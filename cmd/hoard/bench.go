package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/hoardcache/hoard/internal/local"
	"github.com/hoardcache/hoard/internal/policy"
)

var (
	benchPolicy   string
	benchOps      int
	benchKeyspace int
	benchValueLen int
	benchReadPct  int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark the local eviction engine",
	Long: `Run a mixed read/write workload against the in-process eviction
engine and report throughput, hit rate and evictions. With --policy all,
run the same workload once per eviction policy for comparison.`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().StringVarP(&benchPolicy, "policy", "p", policy.LRU, "eviction policy (lru, lfu, fifo, ttl, all)")
	benchCmd.Flags().IntVar(&benchOps, "ops", 1_000_000, "total operations")
	benchCmd.Flags().IntVar(&benchKeyspace, "keyspace", 100_000, "distinct keys in the workload")
	benchCmd.Flags().IntVar(&benchValueLen, "value-bytes", 128, "value size in bytes")
	benchCmd.Flags().IntVar(&benchReadPct, "read-pct", 80, "percentage of reads in the workload")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	if benchReadPct < 0 || benchReadPct > 100 {
		return fmt.Errorf("--read-pct must be between 0 and 100")
	}

	policies := []string{benchPolicy}
	if benchPolicy == "all" {
		policies = []string{policy.LRU, policy.LFU, policy.FIFO, policy.TTL}
	}

	fmt.Printf("Operations:  %d (%d%% reads)\n", benchOps, benchReadPct)
	fmt.Printf("Keyspace:    %d keys, %d byte values\n\n", benchKeyspace, benchValueLen)

	for _, name := range policies {
		if err := benchOne(name); err != nil {
			return err
		}
	}
	return nil
}

func benchOne(policyName string) error {
	cache, err := local.New(local.Config{
		MaxSize:       benchKeyspace / 2, // force evictions
		MemoryLimit:   1 << 30,
		Policy:        policyName,
		SweepInterval: time.Hour,
	})
	if err != nil {
		return err
	}
	defer cache.Close()

	value := make([]byte, benchValueLen)
	rng := rand.New(rand.NewSource(42))

	start := time.Now()
	for i := 0; i < benchOps; i++ {
		key := fmt.Sprintf("key:%d", rng.Intn(benchKeyspace))
		if rng.Intn(100) < benchReadPct {
			cache.Get(key)
		} else {
			cache.Set(key, value, 0)
		}
	}
	elapsed := time.Since(start)

	s := cache.Stats()
	total := s.Hits + s.Misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(s.Hits) / float64(total) * 100
	}

	fmt.Printf("%-5s  %12.0f ops/s  hit rate %5.1f%%  evictions %d\n",
		policyName,
		float64(benchOps)/elapsed.Seconds(),
		hitRate,
		s.Evictions,
	)
	if verbose {
		fmt.Printf("       entries %d, memory %d bytes, elapsed %s\n",
			s.Len, s.MemoryUsed, elapsed.Round(time.Millisecond))
	}
	return nil
}
