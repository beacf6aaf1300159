package hoard

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/multierr"
)

// Registry holds named cache clients so an application can address
// several independent cache layers (say, a hot in-memory tier and a
// cold object-store tier) through one handle and shut them down
// together.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
	}
}

// Register adds a client under name. Registering the same name twice is
// an error.
func (r *Registry) Register(name string, client *Client) error {
	if client == nil {
		return fmt.Errorf("hoard: registering nil client %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.clients[name]; exists {
		return fmt.Errorf("hoard: client %q already registered", name)
	}
	r.clients[name] = client
	return nil
}

// Get returns the client registered under name.
func (r *Registry) Get(name string) (*Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("hoard: no client registered as %q", name)
	}
	return c, nil
}

// Names returns the registered client names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown closes every registered client and empties the registry.
// Close errors are aggregated rather than short-circuiting.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for name, c := range r.clients {
		if cerr := c.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("closing client %s: %w", name, cerr))
		}
	}
	r.clients = make(map[string]*Client)
	return err
}
