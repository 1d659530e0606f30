package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joao-brasil/poolcore/pkg/session"
)

// fakeConn is an in-memory session.Conn used by the pool tests. It never
// touches a real database; Ping/ExecContext simply honor the fakeFactory's
// configured failure behavior.
type fakeConn struct {
	id     uint64
	closed atomic.Bool
	fac    *fakeFactory
}

func (c *fakeConn) Ping(ctx context.Context) error {
	if c.fac.pingErr.Load() {
		return fmt.Errorf("fake: ping failed")
	}
	return nil
}

func (c *fakeConn) ExecContext(ctx context.Context, query string) error {
	if c.fac.pingErr.Load() {
		return fmt.Errorf("fake: exec failed")
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closed.Store(true)
	c.fac.mu.Lock()
	c.fac.closes++
	c.fac.mu.Unlock()
	return nil
}

// fakeFactory is a session.Factory backed by fakeConn, with knobs tests
// flip to simulate backend outages and open failures.
type fakeFactory struct {
	mu sync.Mutex

	nextID  atomic.Uint64
	opens   int
	closes  int
	resets  int
	openErr atomic.Bool
	pingErr atomic.Bool

	openDelay func()
}

func (f *fakeFactory) Name() string { return "fake" }

func (f *fakeFactory) Open(ctx context.Context, opts session.Options) (session.Conn, error) {
	if f.openDelay != nil {
		f.openDelay()
	}
	if f.openErr.Load() {
		return nil, fmt.Errorf("fake: open failed")
	}
	f.mu.Lock()
	f.opens++
	f.mu.Unlock()
	return &fakeConn{id: f.nextID.Add(1), fac: f}, nil
}

func (f *fakeFactory) Reset(ctx context.Context, c session.Conn) error {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
	return nil
}

func (f *fakeFactory) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeFactory) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeFactory) resetCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}
