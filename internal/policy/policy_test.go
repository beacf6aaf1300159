package policy

import (
	"testing"
	"time"

	"github.com/hoardcache/hoard/internal/entry"
)

func TestNew_UnknownPolicy(t *testing.T) {
	if _, err := New("random"); err == nil {
		t.Error("New(\"random\") error = nil, want error")
	}
}

func TestNew_KnownPolicies(t *testing.T) {
	for _, name := range []string{LRU, LFU, FIFO, TTL} {
		p, err := New(name)
		if err != nil {
			t.Fatalf("New(%q) error = %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("Name() = %q, want %q", p.Name(), name)
		}
	}
}

func TestLRU_Victim(t *testing.T) {
	p := newLRU()
	p.Add("a")
	p.Add("b")
	p.Add("c")
	p.Touch("a") // a becomes most recent, b is now least recent

	key, ok := p.Victim(nil)
	if !ok || key != "b" {
		t.Errorf("Victim() = %q, %v, want \"b\", true", key, ok)
	}
}

func TestLRU_RemoveClearsTracking(t *testing.T) {
	p := newLRU()
	p.Add("a")
	p.Add("b")
	p.Remove("a")

	key, ok := p.Victim(nil)
	if !ok || key != "b" {
		t.Errorf("Victim() after Remove = %q, %v, want \"b\", true", key, ok)
	}

	p.Remove("b")
	if _, ok := p.Victim(nil); ok {
		t.Error("Victim() on empty tracking should return false")
	}
}

func TestFIFO_Victim_IgnoresTouch(t *testing.T) {
	p := newFIFO()
	p.Add("a")
	p.Add("b")
	p.Touch("a")
	p.Touch("a")

	key, ok := p.Victim(nil)
	if !ok || key != "a" {
		t.Errorf("Victim() = %q, %v, want \"a\", true", key, ok)
	}
}

func TestLFU_Victim(t *testing.T) {
	now := time.Now()
	entries := map[string]*entry.Entry{
		"hot":  entry.New("hot", []byte("v"), 0, now, 1),
		"cold": entry.New("cold", []byte("v"), 0, now, 2),
	}
	entries["hot"].Touch(now)
	entries["hot"].Touch(now)

	p := newLFU()
	key, ok := p.Victim(entries)
	if !ok || key != "cold" {
		t.Errorf("Victim() = %q, %v, want \"cold\", true", key, ok)
	}
}

func TestLFU_Victim_TieBrokenByInsertionOrder(t *testing.T) {
	now := time.Now()
	entries := map[string]*entry.Entry{
		"second": entry.New("second", []byte("v"), 0, now, 2),
		"first":  entry.New("first", []byte("v"), 0, now, 1),
	}

	p := newLFU()
	key, ok := p.Victim(entries)
	if !ok || key != "first" {
		t.Errorf("Victim() = %q, %v, want \"first\", true", key, ok)
	}
}

func TestTTL_Victim_PrefersExpired(t *testing.T) {
	now := time.Now()
	entries := map[string]*entry.Entry{
		"fresh":   entry.New("fresh", []byte("v"), time.Hour, now, 1),
		"expired": entry.New("expired", []byte("v"), time.Millisecond, now.Add(-time.Second), 2),
	}

	p := newTTL()
	p.now = func() time.Time { return now }

	key, ok := p.Victim(entries)
	if !ok || key != "expired" {
		t.Errorf("Victim() = %q, %v, want \"expired\", true", key, ok)
	}
}

func TestTTL_Victim_NearestExpiry(t *testing.T) {
	now := time.Now()
	entries := map[string]*entry.Entry{
		"soon":    entry.New("soon", []byte("v"), time.Minute, now, 1),
		"later":   entry.New("later", []byte("v"), time.Hour, now, 2),
		"forever": entry.New("forever", []byte("v"), 0, now, 3),
	}

	p := newTTL()
	p.now = func() time.Time { return now }

	key, ok := p.Victim(entries)
	if !ok || key != "soon" {
		t.Errorf("Victim() = %q, %v, want \"soon\", true", key, ok)
	}
}

func TestTTL_Victim_NoTTLEvictedLast(t *testing.T) {
	now := time.Now()
	entries := map[string]*entry.Entry{
		"old":   entry.New("old", []byte("v"), 0, now, 1),
		"newer": entry.New("newer", []byte("v"), 0, now, 2),
	}

	p := newTTL()
	p.now = func() time.Time { return now }

	key, ok := p.Victim(entries)
	if !ok || key != "old" {
		t.Errorf("Victim() = %q, %v, want \"old\", true", key, ok)
	}
}
