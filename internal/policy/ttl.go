package policy

import (
	"time"

	"github.com/hoardcache/hoard/internal/entry"
)

// Compile-time check that ttlPolicy implements Policy.
var _ Policy = (*ttlPolicy)(nil)

// ttlPolicy evicts an already-expired entry when one exists, otherwise the
// entry closest to expiry. Entries without a TTL are evicted last, oldest
// insertion first.
type ttlPolicy struct {
	// now is swappable for tests.
	now func() time.Time
}

func newTTL() *ttlPolicy { return &ttlPolicy{now: time.Now} }

func (p *ttlPolicy) Name() string { return TTL }

func (p *ttlPolicy) Add(key string)    {}
func (p *ttlPolicy) Touch(key string)  {}
func (p *ttlPolicy) Remove(key string) {}
func (p *ttlPolicy) Reset()            {}

func (p *ttlPolicy) Victim(entries map[string]*entry.Entry) (string, bool) {
	now := p.now()

	var victim *entry.Entry
	for _, e := range entries {
		if e.Expired(now) {
			return e.Key, true
		}
		if victim == nil {
			victim = e
			continue
		}
		if better(e, victim) {
			victim = e
		}
	}
	if victim == nil {
		return "", false
	}
	return victim.Key, true
}

// better reports whether a should be evicted before b.
func better(a, b *entry.Entry) bool {
	aNone := a.ExpiresAt.IsZero()
	bNone := b.ExpiresAt.IsZero()
	switch {
	case aNone && bNone:
		return a.Seq < b.Seq
	case aNone:
		return false
	case bNone:
		return true
	default:
		return a.ExpiresAt.Before(b.ExpiresAt)
	}
}
