package policy

import (
	"container/list"

	"github.com/hoardcache/hoard/internal/entry"
)

// Compile-time check that lruPolicy implements Policy.
var _ Policy = (*lruPolicy)(nil)

// lruPolicy evicts the least recently touched key. Keys are kept in a
// doubly-linked list ordered front (most recent) to back (least recent).
type lruPolicy struct {
	order *list.List
	elems map[string]*list.Element
}

func newLRU() *lruPolicy {
	return &lruPolicy{
		order: list.New(),
		elems: make(map[string]*list.Element),
	}
}

func (p *lruPolicy) Name() string { return LRU }

func (p *lruPolicy) Add(key string) {
	if el, ok := p.elems[key]; ok {
		p.order.MoveToFront(el)
		return
	}
	p.elems[key] = p.order.PushFront(key)
}

func (p *lruPolicy) Touch(key string) {
	if el, ok := p.elems[key]; ok {
		p.order.MoveToFront(el)
	}
}

func (p *lruPolicy) Remove(key string) {
	if el, ok := p.elems[key]; ok {
		p.order.Remove(el)
		delete(p.elems, key)
	}
}

func (p *lruPolicy) Reset() {
	p.order.Init()
	p.elems = make(map[string]*list.Element)
}

func (p *lruPolicy) Victim(entries map[string]*entry.Entry) (string, bool) {
	back := p.order.Back()
	if back == nil {
		return "", false
	}
	return back.Value.(string), true
}
