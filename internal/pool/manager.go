package pool

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/joao-brasil/poolcore/internal/config"
)

// Manager supervises one Pool per named backend. It is a thin convenience
// layer above Pool: a caller could equally well construct and track its
// own Pool values. It exists because a single process commonly talks to
// more than one backend (a primary and a reporting replica, say), and
// wants one place to fan Shutdown and Stats out across all of them.
type Manager struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewManager constructs a Manager and opens one Pool per config entry,
// keyed by its Name field. If any pool fails to initialize, every pool
// already opened is shut down before the error is returned.
func NewManager(ctx context.Context, cfgs []config.Config, depsFor func(name string) Deps) (*Manager, error) {
	m := &Manager{pools: make(map[string]*Pool, len(cfgs))}

	for _, cfg := range cfgs {
		p, err := New(ctx, cfg, depsFor(cfg.Name))
		if err != nil {
			m.Shutdown(context.Background())
			return nil, fmt.Errorf("initializing pool %q: %w", cfg.Name, err)
		}
		m.pools[cfg.Name] = p
	}

	log.Printf("[pool] manager initialized: %d pools", len(m.pools))
	return m, nil
}

// Pool returns the named pool, or false if no such pool exists.
func (m *Manager) Pool(name string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[name]
	return p, ok
}

// Borrow is a convenience wrapper around Pool(name).Borrow.
func (m *Manager) Borrow(ctx context.Context, name string) (Session, error) {
	p, ok := m.Pool(name)
	if !ok {
		return nil, fmt.Errorf("unknown pool: %s", name)
	}
	return p.Borrow(ctx)
}

// Status returns a snapshot of every managed pool, keyed by name.
func (m *Manager) Status(resetCounters bool) map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.pools))
	for name, p := range m.pools {
		out[name] = p.Status(resetCounters)
	}
	return out
}

// Statistics returns the borrow-timing snapshot of every managed pool,
// keyed by name.
func (m *Manager) Statistics(resetCounters bool) map[string]Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Statistics, len(m.pools))
	for name, p := range m.pools {
		out[name] = p.Statistics(resetCounters)
	}
	return out
}

// Shutdown shuts down every managed pool, collecting the first error
// encountered but still attempting every pool.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	pools := m.pools
	m.pools = nil
	m.mu.Unlock()

	var firstErr error
	for name, p := range pools {
		if err := p.Shutdown(ctx, true); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shutting down pool %s: %w", name, err)
		}
	}

	log.Println("[pool] manager shut down")
	return firstErr
}
