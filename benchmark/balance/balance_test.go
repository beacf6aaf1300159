package balance

import (
	"testing"

	"github.com/hoardcache/hoard/internal/ring"
)

func testNodes(n int) []ring.Node {
	nodes := make([]ring.Node, n)
	for i := range nodes {
		nodes[i] = ring.Node{ID: string(rune('a'+i)) + "-node"}
	}
	return nodes
}

func TestMeasure_EvenSpread(t *testing.T) {
	d, err := Measure(Config{
		Nodes: testNodes(5),
		Keys:  20_000,
	})
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}

	if d.Keys != 20_000 {
		t.Errorf("Keys = %d, want 20000", d.Keys)
	}
	total := 0
	for _, count := range d.PerNode {
		total += count
	}
	if total != d.Keys {
		t.Errorf("per-node counts sum to %d, want %d", total, d.Keys)
	}
	// 150 virtual nodes keeps a 5-node ring within a reasonable spread.
	if d.CV > 0.25 {
		t.Errorf("CV = %.3f, want <= 0.25", d.CV)
	}
}

func TestMeasure_WeightedNode(t *testing.T) {
	nodes := []ring.Node{
		{ID: "light"},
		{ID: "heavy", Weight: 3},
	}
	d, err := Measure(Config{Nodes: nodes, Keys: 20_000})
	if err != nil {
		t.Fatalf("Measure() error = %v", err)
	}
	if d.PerNode["heavy"] <= d.PerNode["light"] {
		t.Errorf("heavy owns %d keys, light %d; want heavy > light",
			d.PerNode["heavy"], d.PerNode["light"])
	}
}

func TestMeasure_NoNodes(t *testing.T) {
	if _, err := Measure(Config{}); err == nil {
		t.Error("Measure() error = nil, want error for empty membership")
	}
}

func TestMeasure_UnknownHash(t *testing.T) {
	if _, err := Measure(Config{Nodes: testNodes(1), Hash: "crc7"}); err == nil {
		t.Error("Measure() error = nil, want error for unknown hash")
	}
}

func TestRemap_MinimalMovement(t *testing.T) {
	moved, err := Remap(Config{
		Nodes: testNodes(5),
		Keys:  20_000,
	}, ring.Node{ID: "f-node"})
	if err != nil {
		t.Fatalf("Remap() error = %v", err)
	}

	// Ideal movement when a sixth node joins is 1/6 of the keyspace.
	if moved <= 0 || moved > 0.30 {
		t.Errorf("moved fraction = %.3f, want (0, 0.30]", moved)
	}
}
