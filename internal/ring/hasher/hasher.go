// Package hasher provides the pluggable hash functions used to place
// nodes and keys on the consistent hash ring. The only property the ring
// requires is a uniform, deterministic mapping into 64-bit space.
package hasher

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Well-known hasher names accepted by New.
const (
	XXHash = "xxhash"
	FNV1a  = "fnv1a"
	SHA256 = "sha256"
)

// Hasher maps a string onto the ring's coordinate space.
type Hasher interface {
	// Name returns the hasher name as accepted by New.
	Name() string

	// Sum64 returns the hash of s.
	Sum64(s string) uint64
}

// New returns the hasher for the given name.
// Unknown names are a configuration error.
func New(name string) (Hasher, error) {
	switch name {
	case XXHash:
		return xxHasher{}, nil
	case FNV1a:
		return fnvHasher{}, nil
	case SHA256:
		return shaHasher{}, nil
	default:
		return nil, fmt.Errorf("hasher: unknown hash algorithm %q", name)
	}
}

// Default returns the default hasher (xxhash).
func Default() Hasher {
	return xxHasher{}
}

type xxHasher struct{}

func (xxHasher) Name() string          { return XXHash }
func (xxHasher) Sum64(s string) uint64 { return xxhash.Sum64String(s) }

type fnvHasher struct{}

func (fnvHasher) Name() string { return FNV1a }

// Sum64 computes the FNV-1a 64-bit hash of s.
func (fnvHasher) Sum64(s string) uint64 {
	var h uint64 = 14695981039346656037 // FNV offset basis
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211 // FNV prime
	}
	return h
}

type shaHasher struct{}

func (shaHasher) Name() string { return SHA256 }

// Sum64 truncates a SHA-256 digest to its first 8 bytes.
func (shaHasher) Sum64(s string) uint64 {
	sum := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}
