package hoard

import "fmt"

// Consistency is a tunable read or write consistency level.
type Consistency int

const (
	// One requires a single replica to answer.
	One Consistency = iota + 1

	// Quorum requires a majority of replicas to answer.
	Quorum

	// All requires every replica to answer.
	All
)

// ParseConsistency parses a consistency level name.
func ParseConsistency(s string) (Consistency, error) {
	switch s {
	case "one":
		return One, nil
	case "quorum":
		return Quorum, nil
	case "all":
		return All, nil
	default:
		return 0, fmt.Errorf("hoard: unknown consistency level %q", s)
	}
}

// String returns the consistency level name.
func (c Consistency) String() string {
	switch c {
	case One:
		return "one"
	case Quorum:
		return "quorum"
	case All:
		return "all"
	default:
		return fmt.Sprintf("consistency(%d)", int(c))
	}
}

// replicas returns how many of r total replicas this level involves.
func (c Consistency) replicas(r int) int {
	switch c {
	case One:
		return 1
	case Quorum:
		return r/2 + 1
	default:
		return r
	}
}

// required returns how many of attempted targets must succeed.
func (c Consistency) required(attempted int) int {
	switch c {
	case One:
		return 1
	case Quorum:
		return attempted/2 + 1
	default:
		return attempted
	}
}
