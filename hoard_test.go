package hoard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hoardcache/hoard/backend"
)

// memBackend is a map-backed test backend with switchable failure
// injection for connect and data-path operations.
type memBackend struct {
	mu          sync.Mutex
	values      map[string][]byte
	failing     bool
	failConnect bool
	sets        int
	gets        int
}

var _ backend.Backend = (*memBackend)(nil)

var errInjected = errors.New("injected failure")

func newMemBackend() *memBackend {
	return &memBackend{values: make(map[string][]byte)}
}

func (m *memBackend) setFailing(failing bool) {
	m.mu.Lock()
	m.failing = failing
	m.failConnect = failing
	m.mu.Unlock()
}

func (m *memBackend) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failConnect {
		return errInjected
	}
	return nil
}

func (m *memBackend) Disconnect() error { return nil }

func (m *memBackend) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.failing {
		return nil, errInjected
	}
	v, ok := m.values[key]
	if !ok {
		return nil, backend.ErrNotFound
	}
	return v, nil
}

func (m *memBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errInjected
	}
	m.sets++
	m.values[key] = value
	return nil
}

func (m *memBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errInjected
	}
	delete(m.values, key)
	return nil
}

func (m *memBackend) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return false, errInjected
	}
	_, ok := m.values[key]
	return ok, nil
}

func (m *memBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errInjected
	}
	if _, ok := m.values[key]; !ok {
		return backend.ErrNotFound
	}
	return nil
}

func (m *memBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return 0, errInjected
	}
	return backend.NoTTL, nil
}

func (m *memBackend) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errInjected
	}
	m.values = make(map[string][]byte)
	return nil
}

func (m *memBackend) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.values[key]
	return ok
}

func (m *memBackend) getCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

// newTestClient builds a connected client over n fresh backends.
// The health interval is long enough to stay out of the way.
func newTestClient(t *testing.T, n int, opts ...Option) (*Client, []*memBackend) {
	t.Helper()

	backends := make([]*memBackend, n)
	nodes := make([]Node, n)
	for i := range backends {
		backends[i] = newMemBackend()
		nodes[i] = Node{ID: string(rune('a'+i)) + "-node", Backend: backends[i]}
	}

	opts = append([]Option{
		WithNodes(nodes...),
		WithHealthCheckInterval(time.Hour),
	}, opts...)

	c, err := New(opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, backends
}

func TestNew_Validation(t *testing.T) {
	b := newMemBackend()

	tests := []struct {
		name string
		opts []Option
	}{
		{"no nodes", nil},
		{"nil backend", []Option{WithNodes(Node{ID: "a"})}},
		{"empty node id", []Option{WithNodes(Node{ID: "", Backend: b})}},
		{"duplicate node id", []Option{WithNodes(
			Node{ID: "a", Backend: b},
			Node{ID: "a", Backend: b},
		)}},
		{"zero replication", []Option{
			WithNodes(Node{ID: "a", Backend: b}),
			WithReplication(0),
		}},
		{"replication exceeds nodes", []Option{
			WithNodes(Node{ID: "a", Backend: b}),
			WithReplication(2),
		}},
		{"zero failure threshold", []Option{
			WithNodes(Node{ID: "a", Backend: b}),
			WithFailureThreshold(0),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.opts...); err == nil {
				t.Error("New() error = nil, want configuration error")
			}
		})
	}
}

func TestClient_SetGet(t *testing.T) {
	c, _ := newTestClient(t, 3)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "v" {
		t.Errorf("Get() = %q, want %q", got, "v")
	}
}

func TestClient_Get_Absent(t *testing.T) {
	c, _ := newTestClient(t, 3)

	_, err := c.Get(context.Background(), "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}

	s := c.Stats()
	if s.Misses != 1 {
		t.Errorf("Stats().Misses = %d, want 1", s.Misses)
	}
}

func TestClient_Set_NegativeTTL(t *testing.T) {
	c, _ := newTestClient(t, 1)

	err := c.Set(context.Background(), "k", []byte("v"), -time.Second)
	if !errors.Is(err, backend.ErrInvalidTTL) {
		t.Errorf("Set() error = %v, want ErrInvalidTTL", err)
	}
}

func TestClient_Replication(t *testing.T) {
	c, backends := newTestClient(t, 3, WithReplication(2), WithWriteConsistency(All))
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	copies := 0
	for _, b := range backends {
		if b.has("k") {
			copies++
		}
	}
	if copies != 2 {
		t.Errorf("key stored on %d nodes, want 2", copies)
	}
}

func TestClient_Set_QuorumToleratesOneFailure(t *testing.T) {
	c, backends := newTestClient(t, 3,
		WithReplication(3),
		WithWriteConsistency(Quorum),
		WithFailureThreshold(100),
	)
	backends[0].setFailing(true)

	if err := c.Set(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Errorf("Set() error = %v, want nil with 2/3 replicas up", err)
	}
}

func TestClient_Set_AllFailsOnOneFailure(t *testing.T) {
	c, backends := newTestClient(t, 3,
		WithReplication(3),
		WithWriteConsistency(All),
		WithFailureThreshold(100),
	)
	backends[0].setFailing(true)

	err := c.Set(context.Background(), "k", []byte("v"), 0)
	if !errors.Is(err, ErrConsistencyNotMet) {
		t.Errorf("Set() error = %v, want ErrConsistencyNotMet", err)
	}
}

func TestClient_Get_QuorumRequiresAnswers(t *testing.T) {
	c, backends := newTestClient(t, 3,
		WithReplication(2),
		WithReadConsistency(Quorum),
		WithWriteConsistency(All),
		WithFailureThreshold(100),
	)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Take down the second replica in probe order. The first still
	// holds the value, but a quorum read needs both to answer.
	second := c.ring.GetN("k", 2)[1].ID
	for i := range backends {
		if string(rune('a'+i))+"-node" == second {
			backends[i].setFailing(true)
		}
	}

	_, err := c.Get(ctx, "k")
	if !errors.Is(err, ErrConsistencyNotMet) {
		t.Errorf("Get() error = %v, want ErrConsistencyNotMet", err)
	}
}

func TestClient_Quarantine_AtThreshold(t *testing.T) {
	c, backends := newTestClient(t, 2,
		WithReplication(1),
		WithFailureThreshold(2),
		WithReadRepair(false),
	)
	ctx := context.Background()

	// Fail every node so each read hits the broken backend regardless
	// of key placement.
	for _, b := range backends {
		b.setFailing(true)
	}
	for i := 0; i < 2; i++ {
		c.Get(ctx, "k1")
		c.Get(ctx, "k2")
	}

	s := c.Stats()
	if len(s.Quarantined) != 2 {
		t.Fatalf("Stats().Quarantined = %v, want both nodes", s.Quarantined)
	}
	if len(c.Nodes()) != 0 {
		t.Errorf("Nodes() = %v, want empty ring after quarantine", c.Nodes())
	}
	if _, err := c.Get(ctx, "k1"); !errors.Is(err, ErrNoNodes) {
		t.Errorf("Get() error = %v, want ErrNoNodes", err)
	}
}

func TestClient_SuccessResetsFailureCount(t *testing.T) {
	c, backends := newTestClient(t, 1, WithFailureThreshold(2))
	ctx := context.Background()

	b := backends[0]
	b.setFailing(true)
	c.Get(ctx, "k") // one failure

	b.setFailing(false)
	c.Get(ctx, "k") // success resets the count

	b.setFailing(true)
	c.Get(ctx, "k") // one failure again, still below threshold

	if got := len(c.Stats().Quarantined); got != 0 {
		t.Errorf("quarantined nodes = %d, want 0", got)
	}
}

func TestClient_HealthLoop_Recovers(t *testing.T) {
	backends := []*memBackend{newMemBackend()}
	c, err := New(
		WithNodes(Node{ID: "solo", Backend: backends[0]}),
		WithFailureThreshold(1),
		WithHealthCheckInterval(10*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()
	ctx := context.Background()

	backends[0].setFailing(true)
	c.Get(ctx, "k")
	if len(c.Stats().Quarantined) != 1 {
		t.Fatal("node not quarantined after failure at threshold 1")
	}

	backends[0].setFailing(false)

	deadline := time.After(2 * time.Second)
	for len(c.Stats().Quarantined) != 0 {
		select {
		case <-deadline:
			t.Fatal("node not recovered before deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}
	if len(c.Nodes()) != 1 {
		t.Errorf("Nodes() = %v, want recovered node back on ring", c.Nodes())
	}
}

func TestClient_ReadRepair(t *testing.T) {
	c, backends := newTestClient(t, 3,
		WithReplication(3),
		WithReadConsistency(All),
		WithWriteConsistency(All),
	)
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Diverge the replica probed first for this key so the read sees
	// the absence before finding the value elsewhere.
	first := c.ring.GetN("k", 3)[0].ID
	var diverged *memBackend
	for i := range backends {
		if string(rune('a'+i))+"-node" == first {
			diverged = backends[i]
		}
	}
	diverged.mu.Lock()
	delete(diverged.values, "k")
	diverged.mu.Unlock()

	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for !diverged.has("k") {
		select {
		case <-deadline:
			t.Fatal("read repair did not restore the missing replica")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestClient_Delete_AllReplicas(t *testing.T) {
	c, backends := newTestClient(t, 3, WithReplication(3), WithWriteConsistency(All))
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 0)
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	for i, b := range backends {
		if b.has("k") {
			t.Errorf("backend %d still holds key after Delete", i)
		}
	}
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}
}

func TestClient_Exists(t *testing.T) {
	c, _ := newTestClient(t, 3)
	ctx := context.Background()

	ok, err := c.Exists(ctx, "k")
	if err != nil || ok {
		t.Errorf("Exists() = %v, %v, want false, nil", ok, err)
	}

	c.Set(ctx, "k", []byte("v"), 0)
	ok, err = c.Exists(ctx, "k")
	if err != nil || !ok {
		t.Errorf("Exists() = %v, %v, want true, nil", ok, err)
	}
}

func TestClient_Clear(t *testing.T) {
	c, backends := newTestClient(t, 3, WithReplication(2), WithWriteConsistency(All))
	ctx := context.Background()

	for _, key := range []string{"a", "b", "c", "d"} {
		c.Set(ctx, key, []byte("v"), 0)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	for i, b := range backends {
		b.mu.Lock()
		n := len(b.values)
		b.mu.Unlock()
		if n != 0 {
			t.Errorf("backend %d holds %d entries after Clear, want 0", i, n)
		}
	}
}

func TestClient_TTL_NoExpiry(t *testing.T) {
	c, _ := newTestClient(t, 1)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 0)
	ttl, err := c.TTL(ctx, "k")
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl != backend.NoTTL {
		t.Errorf("TTL() = %v, want NoTTL", ttl)
	}
}

// gatedTTLBackend blocks TTL until the gate closes, holding a read
// repair in flight for as long as the test needs.
type gatedTTLBackend struct {
	*memBackend
	gate chan struct{}
}

func (g *gatedTTLBackend) TTL(ctx context.Context, key string) (time.Duration, error) {
	<-g.gate
	return g.memBackend.TTL(ctx, key)
}

func TestClient_Close_WaitsForReadRepair(t *testing.T) {
	gate := make(chan struct{})
	released := false
	defer func() {
		if !released {
			close(gate)
		}
	}()

	plain := map[string]*memBackend{
		"a-node": newMemBackend(),
		"b-node": newMemBackend(),
	}
	c, err := New(
		WithNodes(
			Node{ID: "a-node", Backend: &gatedTTLBackend{memBackend: plain["a-node"], gate: gate}},
			Node{ID: "b-node", Backend: &gatedTTLBackend{memBackend: plain["b-node"], gate: gate}},
		),
		WithReplication(2),
		WithReadConsistency(All),
		WithWriteConsistency(All),
		WithHealthCheckInterval(time.Hour),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Diverge the replica probed first so the read spawns a repair,
	// which then blocks fetching the source TTL.
	first := c.ring.GetN("k", 2)[0].ID
	diverged := plain[first]
	diverged.mu.Lock()
	delete(diverged.values, "k")
	diverged.mu.Unlock()

	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// Close must not disconnect backends under the in-flight repair.
	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case <-closed:
		t.Fatal("Close() returned while a read repair was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	released = true

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return after the repair finished")
	}

	// The repair completed against a still-connected backend.
	if !diverged.has("k") {
		t.Error("read repair did not reach the diverged replica before shutdown")
	}
}

func TestClient_Close_RejectsOperations(t *testing.T) {
	c, _ := newTestClient(t, 1)
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := c.Get(context.Background(), "k"); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() after Close error = %v, want ErrClosed", err)
	}
	if err := c.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close() error = %v, want ErrClosed", err)
	}
}

func TestClient_Connect_QuarantinesUnreachableNode(t *testing.T) {
	good, bad := newMemBackend(), newMemBackend()
	bad.setFailing(true)

	c, err := New(
		WithNodes(
			Node{ID: "good", Backend: good},
			Node{ID: "bad", Backend: bad},
		),
		WithHealthCheckInterval(time.Hour),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close()

	if got := c.Nodes(); len(got) != 1 || got[0] != "good" {
		t.Errorf("Nodes() = %v, want only the reachable node", got)
	}
	if got := c.Stats().Quarantined; len(got) != 1 || got[0] != "bad" {
		t.Errorf("Stats().Quarantined = %v, want the unreachable node", got)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	c, _ := newTestClient(t, 1)
	if err := r.Register("hot", c); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("hot", c); err == nil {
		t.Error("Register() duplicate error = nil, want error")
	}

	got, err := r.Get("hot")
	if err != nil || got != c {
		t.Errorf("Get() = %v, %v, want registered client", got, err)
	}
	if _, err := r.Get("cold"); err == nil {
		t.Error("Get() unknown name error = nil, want error")
	}

	if names := r.Names(); len(names) != 1 || names[0] != "hot" {
		t.Errorf("Names() = %v, want [hot]", names)
	}

	if err := r.Shutdown(); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if _, err := r.Get("hot"); err == nil {
		t.Error("Get() after Shutdown error = nil, want error")
	}
}
