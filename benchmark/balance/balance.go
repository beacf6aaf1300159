// Package balance measures how evenly a consistent hash ring spreads
// keys across nodes and how many keys move when the membership changes.
package balance

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/hoardcache/hoard/internal/ring"
	"github.com/hoardcache/hoard/internal/ring/hasher"
)

// Distribution summarizes key placement over a ring.
type Distribution struct {
	// Keys is the number of sample keys placed.
	Keys int

	// PerNode maps node ID to the count of keys it owns.
	PerNode map[string]int

	// Mean and StdDev describe the per-node counts.
	Mean   float64
	StdDev float64

	// CV is the coefficient of variation (StdDev/Mean), the usual
	// single-number measure of ring balance. Lower is better; a
	// perfectly even spread gives 0.
	CV float64
}

// Config describes the ring under measurement.
type Config struct {
	// Nodes is the ring membership. Required.
	Nodes []ring.Node

	// VirtualNodes is the positions per unit of node weight.
	// Zero means ring.DefaultVirtualNodes.
	VirtualNodes int

	// Hash names the hash algorithm. Empty means the default.
	Hash string

	// Keys is the number of sample keys. Zero means 100000.
	Keys int
}

func (c Config) build() (*ring.Ring, int, error) {
	if len(c.Nodes) == 0 {
		return nil, 0, fmt.Errorf("balance: at least one node is required")
	}

	h := hasher.Default()
	if c.Hash != "" {
		var err error
		h, err = hasher.New(c.Hash)
		if err != nil {
			return nil, 0, err
		}
	}

	vnodes := c.VirtualNodes
	if vnodes <= 0 {
		vnodes = ring.DefaultVirtualNodes
	}

	r := ring.New(h, vnodes)
	for _, n := range c.Nodes {
		r.AddNode(n)
	}

	keys := c.Keys
	if keys <= 0 {
		keys = 100_000
	}
	return r, keys, nil
}

// Measure places sample keys on the ring and reports the distribution.
func Measure(cfg Config) (*Distribution, error) {
	r, keys, err := cfg.build()
	if err != nil {
		return nil, err
	}

	perNode := make(map[string]int, len(cfg.Nodes))
	for i := 0; i < keys; i++ {
		owner, ok := r.Get(sampleKey(i))
		if !ok {
			return nil, fmt.Errorf("balance: ring has no nodes")
		}
		perNode[owner.ID]++
	}

	counts := make([]float64, 0, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		counts = append(counts, float64(perNode[n.ID]))
	}

	mean, std := stat.MeanStdDev(counts, nil)
	d := &Distribution{
		Keys:    keys,
		PerNode: perNode,
		Mean:    mean,
		StdDev:  std,
	}
	if mean > 0 {
		d.CV = std / mean
	}
	return d, nil
}

// Remap reports the fraction of sample keys whose owner changes when
// added joins the ring. Consistent hashing should keep this near
// 1/(n+1) rather than the near-total reshuffle of modulo sharding.
func Remap(cfg Config, added ring.Node) (float64, error) {
	r, keys, err := cfg.build()
	if err != nil {
		return 0, err
	}

	before := make([]string, keys)
	for i := 0; i < keys; i++ {
		owner, ok := r.Get(sampleKey(i))
		if !ok {
			return 0, fmt.Errorf("balance: ring has no nodes")
		}
		before[i] = owner.ID
	}

	r.AddNode(added)

	moved := 0
	for i := 0; i < keys; i++ {
		owner, _ := r.Get(sampleKey(i))
		if owner.ID != before[i] {
			moved++
		}
	}
	return float64(moved) / float64(keys), nil
}

func sampleKey(i int) string {
	return fmt.Sprintf("key:%012d", i)
}
