// Package ring implements a consistent hash ring with virtual nodes.
// Both nodes and keys hash into the same 64-bit space; a key is owned by
// the first node position clockwise from its hash, so membership changes
// remap only a minimal fraction of keys.
package ring

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hoardcache/hoard/internal/ring/hasher"
)

// DefaultVirtualNodes is the number of ring positions per unit of node
// weight when none is configured.
const DefaultVirtualNodes = 150

// Node is a physical cache node on the ring. Identity is ID.
type Node struct {
	// ID is a host:port or logical identifier.
	ID string

	// Weight scales the node's share of the ring. Values below 1 are
	// treated as 1.
	Weight int
}

func (n Node) virtualNodes(perNode int) int {
	w := n.Weight
	if w < 1 {
		w = 1
	}
	return perNode * w
}

// Ring is a consistent hash ring. Lookups may run concurrently;
// membership changes take the write lock.
type Ring struct {
	hash         hasher.Hasher
	virtualNodes int

	mu        sync.RWMutex
	nodes     map[string]Node
	positions []uint64          // sorted
	owners    map[uint64]string // position -> node ID
}

// New creates an empty ring. If h is nil the default hasher is used;
// virtualNodes <= 0 selects DefaultVirtualNodes.
func New(h hasher.Hasher, virtualNodes int) *Ring {
	if h == nil {
		h = hasher.Default()
	}
	if virtualNodes <= 0 {
		virtualNodes = DefaultVirtualNodes
	}
	return &Ring{
		hash:         h,
		virtualNodes: virtualNodes,
		nodes:        make(map[string]Node),
		owners:       make(map[uint64]string),
	}
}

// AddNode inserts the node's virtual positions. Adding an already
// present node ID is a no-op, so remove-then-re-add reproduces the exact
// same positions.
func (r *Ring) AddNode(n Node) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[n.ID]; ok {
		return
	}
	r.nodes[n.ID] = n

	for i := 0; i < n.virtualNodes(r.virtualNodes); i++ {
		pos := r.hash.Sum64(fmt.Sprintf("%s:%d", n.ID, i))
		if _, taken := r.owners[pos]; taken {
			// Position collision between virtual nodes. First owner
			// keeps it; with a 64-bit space this is vanishingly rare.
			continue
		}
		r.owners[pos] = n.ID
		r.positions = append(r.positions, pos)
	}
	sort.Slice(r.positions, func(i, j int) bool { return r.positions[i] < r.positions[j] })
}

// RemoveNode removes exactly the node's virtual positions, leaving all
// others untouched.
func (r *Ring) RemoveNode(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[id]; !ok {
		return
	}
	delete(r.nodes, id)

	kept := r.positions[:0]
	for _, pos := range r.positions {
		if r.owners[pos] == id {
			delete(r.owners, pos)
			continue
		}
		kept = append(kept, pos)
	}
	r.positions = kept
}

// Contains reports whether the node ID is on the ring.
func (r *Ring) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[id]
	return ok
}

// Get returns the node owning key, walking clockwise from the key's hash
// and wrapping past the end. An empty ring returns false.
func (r *Ring) Get(key string) (Node, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.positions) == 0 {
		return Node{}, false
	}
	idx := r.search(r.hash.Sum64(key))
	return r.nodes[r.owners[r.positions[idx]]], true
}

// GetN returns up to n distinct physical nodes for key, in clockwise
// order from the key's hash. Repeated virtual nodes of the same physical
// node are deduplicated; fewer than n nodes are returned when the ring
// holds fewer than n distinct nodes.
func (r *Ring) GetN(key string, n int) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.positions) == 0 || n <= 0 {
		return nil
	}

	start := r.search(r.hash.Sum64(key))
	seen := make(map[string]struct{}, n)
	result := make([]Node, 0, n)

	for i := 0; i < len(r.positions) && len(result) < n; i++ {
		pos := r.positions[(start+i)%len(r.positions)]
		id := r.owners[pos]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		result = append(result, r.nodes[id])
	}
	return result
}

// Len returns the number of physical nodes on the ring.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Nodes returns all physical nodes on the ring, in no particular order.
func (r *Ring) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		nodes = append(nodes, n)
	}
	return nodes
}

// Positions returns the node's current virtual positions, sorted.
// Used by tests to verify ring determinism.
func (r *Ring) Positions(id string) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []uint64
	for _, pos := range r.positions {
		if r.owners[pos] == id {
			out = append(out, pos)
		}
	}
	return out
}

// search returns the index of the first position >= h, wrapping to 0.
// Callers must hold at least the read lock.
func (r *Ring) search(h uint64) int {
	idx := sort.Search(len(r.positions), func(i int) bool {
		return r.positions[i] >= h
	})
	if idx == len(r.positions) {
		return 0
	}
	return idx
}
