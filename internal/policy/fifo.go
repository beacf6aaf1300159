package policy

import (
	"container/list"

	"github.com/hoardcache/hoard/internal/entry"
)

// Compile-time check that fifoPolicy implements Policy.
var _ Policy = (*fifoPolicy)(nil)

// fifoPolicy evicts the oldest inserted key regardless of access history.
type fifoPolicy struct {
	order *list.List
	elems map[string]*list.Element
}

func newFIFO() *fifoPolicy {
	return &fifoPolicy{
		order: list.New(),
		elems: make(map[string]*list.Element),
	}
}

func (p *fifoPolicy) Name() string { return FIFO }

func (p *fifoPolicy) Add(key string) {
	if _, ok := p.elems[key]; ok {
		return
	}
	p.elems[key] = p.order.PushFront(key)
}

// Touch is a no-op: insertion order is all FIFO cares about.
func (p *fifoPolicy) Touch(key string) {}

func (p *fifoPolicy) Remove(key string) {
	if el, ok := p.elems[key]; ok {
		p.order.Remove(el)
		delete(p.elems, key)
	}
}

func (p *fifoPolicy) Reset() {
	p.order.Init()
	p.elems = make(map[string]*list.Element)
}

func (p *fifoPolicy) Victim(entries map[string]*entry.Entry) (string, bool) {
	back := p.order.Back()
	if back == nil {
		return "", false
	}
	return back.Value.(string), true
}
