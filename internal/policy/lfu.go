package policy

import "github.com/hoardcache/hoard/internal/entry"

// Compile-time check that lfuPolicy implements Policy.
var _ Policy = (*lfuPolicy)(nil)

// lfuPolicy evicts the key with the lowest access count, breaking ties by
// insertion order. Access counts already live on the entries, so the
// policy keeps no bookkeeping of its own.
type lfuPolicy struct{}

func newLFU() *lfuPolicy { return &lfuPolicy{} }

func (p *lfuPolicy) Name() string { return LFU }

func (p *lfuPolicy) Add(key string)    {}
func (p *lfuPolicy) Touch(key string)  {}
func (p *lfuPolicy) Remove(key string) {}
func (p *lfuPolicy) Reset()            {}

func (p *lfuPolicy) Victim(entries map[string]*entry.Entry) (string, bool) {
	var victim *entry.Entry
	for _, e := range entries {
		if victim == nil {
			victim = e
			continue
		}
		if e.AccessCount < victim.AccessCount ||
			(e.AccessCount == victim.AccessCount && e.Seq < victim.Seq) {
			victim = e
		}
	}
	if victim == nil {
		return "", false
	}
	return victim.Key, true
}
