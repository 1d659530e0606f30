package pool

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joao-brasil/poolcore/pkg/session"
)

// State is a PooledSession's lifecycle state: idle, borrowed, or closed.
type State int32

const (
	StateIdle State = iota
	StateBorrowed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBorrowed:
		return "borrowed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the generic handle borrow() hands to callers. Both pooled and
// unpooled sessions implement it; Close on a pooled session returns it to
// the pool, Close on an unpooled one destroys it outright.
type Session interface {
	// Conn exposes the underlying backend session for issuing queries.
	Conn() session.Conn
	// Close releases the session. Idempotent: a second call is a no-op.
	Close() error
	// ID is a pool-scoped identifier, unique for the life of the pool.
	ID() uint64
	// Name is "<pool>.<id>" ("<pool>.unpooled.<id>" for an unpooled
	// session), a human-readable identifier for logs and diagnostics.
	Name() string
}

// PooledSession wraps one backend session with the bookkeeping the queue
// and health monitor need: identity, state, timestamps, and an optional
// captured borrow stack trace. Exactly one of {free, busy, destroyed}
// references a given PooledSession at any instant.
type PooledSession struct {
	mu sync.Mutex

	id       uint64
	poolName string
	conn     session.Conn
	pool     *Pool // back-reference for Close(); never owns PooledSession

	state State

	createdAtMs  int64
	lastUsedAtMs int64
	borrowedAtUs int64 // borrow start, microseconds, for statistics

	stack []byte

	fatal bool // set when an operation classifies the session as connection-fatal

	pinned bool // set while the session must not be leak-reclaimed (e.g. a long bulk load)

	returned atomic.Bool // guards double-Close idempotence
}

func nowMs() int64 { return time.Now().UnixMilli() }
func nowUs() int64 { return time.Now().UnixMicro() }

// newPooledSession constructs a session in the BORROWED state: it is
// handed straight to the caller that triggered its creation. Callers
// filling the pool at construction (ensureMinimum) call markIdle
// themselves to transition it to IDLE before adding it to free.
func newPooledSession(id uint64, poolName string, conn session.Conn) *PooledSession {
	now := nowMs()
	return &PooledSession{
		id:           id,
		poolName:     poolName,
		conn:         conn,
		state:        StateBorrowed,
		createdAtMs:  now,
		lastUsedAtMs: now,
		borrowedAtUs: nowUs(),
	}
}

func (s *PooledSession) Conn() session.Conn { return s.conn }
func (s *PooledSession) ID() uint64         { return s.id }
func (s *PooledSession) Name() string       { return fmt.Sprintf("%s.%d", s.poolName, s.id) }

func (s *PooledSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close returns the session to its pool. Idempotent: only the first call
// of any sequence of Close calls has an effect.
func (s *PooledSession) Close() error {
	if !s.returned.CompareAndSwap(false, true) {
		return nil
	}
	if s.pool == nil {
		return s.conn.Close()
	}
	forceClose := s.isFatal()
	s.pool.returnSession(s, forceClose)
	return nil
}

// MarkFatal flags the session for force-close on its next return: any
// operation that throws a connection-fatal error marks the session this
// way instead of letting it re-enter the free list.
func (s *PooledSession) MarkFatal() {
	s.mu.Lock()
	s.fatal = true
	s.mu.Unlock()
}

func (s *PooledSession) isFatal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Pin marks the session as exempt from leak reclamation, for callers
// knowingly holding it past leakTimeMinutes (a long bulk load, an explicit
// long-lived transaction). Unpin clears it.
func (s *PooledSession) Pin() {
	s.mu.Lock()
	s.pinned = true
	s.mu.Unlock()
}

func (s *PooledSession) Unpin() {
	s.mu.Lock()
	s.pinned = false
	s.mu.Unlock()
}

func (s *PooledSession) isPinned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pinned
}

func (s *PooledSession) markBorrowed() {
	s.mu.Lock()
	s.state = StateBorrowed
	s.lastUsedAtMs = nowMs()
	s.borrowedAtUs = nowUs()
	s.fatal = false
	s.pinned = false
	s.mu.Unlock()
	s.returned.Store(false)
}

func (s *PooledSession) markIdle() {
	s.mu.Lock()
	s.state = StateIdle
	s.lastUsedAtMs = nowMs()
	s.mu.Unlock()
}

func (s *PooledSession) markClosed() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

func (s *PooledSession) ageMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nowMs() - s.createdAtMs
}

func (s *PooledSession) idleMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nowMs() - s.lastUsedAtMs
}

func (s *PooledSession) lastUsedMs() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsedAtMs
}

func (s *PooledSession) heldMicros() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nowUs() - s.borrowedAtUs
}

// captureStack snapshots the current goroutine's stack, truncated to
// maxFrameLines lines, for later leak/timeout diagnostics.
func (s *PooledSession) captureStack(maxFrameLines int) {
	raw := debug.Stack()
	lines := splitLines(raw, maxFrameLines)
	s.mu.Lock()
	s.stack = lines
	s.mu.Unlock()
}

func (s *PooledSession) stackSnippet() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return ""
	}
	return string(s.stack)
}

func splitLines(raw []byte, maxLines int) []byte {
	if maxLines <= 0 {
		return raw
	}
	count := 0
	for i, b := range raw {
		if b == '\n' {
			count++
			if count >= maxLines {
				return raw[:i]
			}
		}
	}
	return raw
}
