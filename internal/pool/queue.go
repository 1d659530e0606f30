package pool

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joao-brasil/poolcore/internal/metrics"
	"github.com/joao-brasil/poolcore/pkg/session"
)

// waiter is one blocked borrower: a single-slot channel the releaser (or
// beginShutdown, with nil) sends into at most once, plus the deadline that governs
// how long acquire() waits before giving up.
type waiter struct {
	ch       chan *PooledSession
	deadline time.Time
}

// SessionQueue is the central data structure of the pool engine: the free
// and busy collections, the waiter FIFO, and the admission/release/trim
// protocols and their counters. It knows nothing about alert sinks,
// listeners, or statistics — those live in the Pool facade, which is the
// only thing that talks to a SessionQueue.
type SessionQueue struct {
	mu sync.Mutex

	name    string
	factory session.Factory
	opts    session.Options

	// free holds IDLE sessions, most-recently-returned last, so popFree
	// takes the hottest session first (LIFO): a session that was just used
	// still has warm server-side caches and a live TCP connection.
	free []*PooledSession
	// busy holds BORROWED sessions, indexed by id.
	busy map[uint64]*PooledSession
	// waiters is the FIFO of blocked borrowers.
	waiters []*waiter

	nextID atomic.Uint64

	minSize, maxSize, warningSize int
	waitTimeoutMs                 int64

	createdCount   uint64
	destroyedCount uint64
	highWaterMark  int
	hitCount       uint64
	waitCount      uint64

	shutdown bool

	// onWarning is invoked (outside the lock) after a release that leaves
	// busy at or above warningSize; acquire never invokes it. The Pool
	// facade supplies it to apply the latch.
	onWarning func()
	// onDestroy is invoked (outside the lock) once per destroyed session,
	// with the reason, for metrics.
	onDestroy func(reason string)
}

func newSessionQueue(name string, factory session.Factory, opts session.Options, minSize, maxSize, warningSize int, waitTimeoutMs int64) *SessionQueue {
	return &SessionQueue{
		name:          name,
		factory:       factory,
		opts:          opts,
		free:          make([]*PooledSession, 0, maxSize),
		busy:          make(map[uint64]*PooledSession, maxSize),
		minSize:       minSize,
		maxSize:       maxSize,
		warningSize:   warningSize,
		waitTimeoutMs: waitTimeoutMs,
	}
}

// queueTimeoutError is returned internally by acquire when the waiter's
// deadline elapses; the facade converts it into an *Error with KindPoolTimeout.
type queueTimeoutError struct {
	diag TimeoutDiagnostics
}

func (e *queueTimeoutError) Error() string { return "acquire timed out waiting for a session" }

// errQueueClosed is returned to any waiter still blocked when the queue is
// shut down.
var errQueueClosed = fmt.Errorf("pool closed while waiting for a session")

// acquire implements the admission protocol: reuse a free session, grow if
// under max, or join the waiter FIFO and block. Session creation happens
// without holding q.mu so a slow Open never stalls other borrowers.
func (q *SessionQueue) acquire(ctx context.Context) (*PooledSession, error) {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return nil, errQueueClosed
	}
	q.hitCount++

	if s := q.popFree(); s != nil {
		s.markBorrowed()
		q.busy[s.id] = s
		if len(q.busy) > q.highWaterMark {
			q.highWaterMark = len(q.busy)
		}
		q.mu.Unlock()
		return s, nil
	}

	total := len(q.free) + len(q.busy)
	if total < q.maxSize {
		q.mu.Unlock()

		conn, err := q.factory.Open(ctx, q.opts)
		if err != nil {
			return nil, err
		}

		s := newPooledSession(q.nextID.Add(1), q.name, conn)
		q.mu.Lock()
		q.createdCount++
		q.busy[s.id] = s
		if len(q.busy) > q.highWaterMark {
			q.highWaterMark = len(q.busy)
		}
		q.mu.Unlock()
		return s, nil
	}

	// Saturated: join the waiter FIFO and block.
	q.waitCount++
	w := &waiter{
		ch:       make(chan *PooledSession, 1),
		deadline: time.Now().Add(time.Duration(q.waitTimeoutMs) * time.Millisecond),
	}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	waitStart := time.Now()
	timer := time.NewTimer(time.Until(w.deadline))
	defer timer.Stop()

	select {
	case s := <-w.ch:
		metrics.WaitDuration.WithLabelValues(q.name).Observe(time.Since(waitStart).Seconds())
		if s == nil {
			return nil, errQueueClosed
		}
		return s, nil

	case <-timer.C:
		if q.removeWaiter(w) {
			metrics.WaitDuration.WithLabelValues(q.name).Observe(time.Since(waitStart).Seconds())
			return nil, &queueTimeoutError{diag: q.snapshotDiagnostics()}
		}
		// A handoff raced the expiry: a session was assigned between the
		// timer firing and our removal attempt. Accept it rather than lose it.
		metrics.WaitDuration.WithLabelValues(q.name).Observe(time.Since(waitStart).Seconds())
		select {
		case s := <-w.ch:
			if s != nil {
				return s, nil
			}
			return nil, errQueueClosed
		default:
			return nil, &queueTimeoutError{diag: q.snapshotDiagnostics()}
		}

	case <-ctx.Done():
		if q.removeWaiter(w) {
			return nil, ctx.Err()
		}
		select {
		case s := <-w.ch:
			if s != nil {
				return s, nil
			}
		default:
		}
		return nil, ctx.Err()
	}
}

// popFree removes and returns the most-recently-returned idle session, or
// nil if free is empty.
func (q *SessionQueue) popFree() *PooledSession {
	n := len(q.free)
	if n == 0 {
		return nil
	}
	s := q.free[n-1]
	q.free = q.free[:n-1]
	return s
}

// removeWaiter removes w from the waiter list if still present, returning
// true if it removed it. False means a releaser already popped w and is in
// the process of (or has finished) handing off a session.
func (q *SessionQueue) removeWaiter(w *waiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, c := range q.waiters {
		if c == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// release hands a session back: destroy it, hand it off to a waiter, or
// park it in free. The destroy decision and the waiter handoff happen
// under the lock; the actual Close() I/O and the warning callback happen
// after the lock is released so neither blocks another borrower.
func (q *SessionQueue) release(s *PooledSession, forceClose bool) {
	if !forceClose {
		if resetter, ok := q.factory.(session.Resetter); ok {
			if err := resetter.Reset(context.Background(), s.conn); err != nil {
				log.Printf("[pool] %s: session %s failed reset, discarding: %v", q.name, s.Name(), err)
				forceClose = true
			}
		}
	}

	q.mu.Lock()

	if _, ok := q.busy[s.id]; !ok {
		q.mu.Unlock()
		log.Printf("[pool] %s: double release of session %s ignored", q.name, s.Name())
		return
	}

	// total includes s, which is still in busy at this point.
	total := len(q.free) + len(q.busy)
	destroy := forceClose || q.shutdown || total > q.maxSize

	delete(q.busy, s.id)

	if destroy {
		q.destroyedCount++
		busyLen := len(q.busy)
		q.mu.Unlock()

		s.markClosed()
		s.conn.Close()

		reason := destroyReason(forceClose, q.shutdown, total > q.maxSize)
		if q.onDestroy != nil {
			q.onDestroy(reason)
		}
		q.checkWarning(busyLen)
		return
	}

	s.markIdle()

	if len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		s.markBorrowed()
		q.busy[s.id] = s
		if len(q.busy) > q.highWaterMark {
			q.highWaterMark = len(q.busy)
		}
		busyLen := len(q.busy)
		q.mu.Unlock()

		w.ch <- s
		q.checkWarning(busyLen)
		return
	}

	q.free = append(q.free, s)
	busyLen := len(q.busy)
	q.mu.Unlock()
	q.checkWarning(busyLen)
}

func destroyReason(forceClose, shutdown, overMax bool) string {
	switch {
	case forceClose:
		return "force_close"
	case shutdown:
		return "shutdown"
	case overMax:
		return "over_max"
	default:
		return "age"
	}
}

func (q *SessionQueue) checkWarning(busyLen int) {
	q.mu.Lock()
	warn := busyLen >= q.warningSize
	q.mu.Unlock()
	if warn && q.onWarning != nil {
		q.onWarning()
	}
}

// trim evicts idle-too-long and aged-out free sessions, each independently
// preserving minSize. Runs at most once per trimPoolFreqMs, gated by the
// caller (HealthMonitor).
func (q *SessionQueue) trim(maxInactiveMs, maxAgeMs int64) int {
	q.mu.Lock()

	total := len(q.free) + len(q.busy)
	kept := make([]*PooledSession, 0, len(q.free))
	var destroyed []*PooledSession

	for _, s := range q.free {
		if maxInactiveMs > 0 && s.idleMs() > maxInactiveMs && total > q.minSize {
			destroyed = append(destroyed, s)
			total--
			continue
		}
		if maxAgeMs > 0 && s.ageMs() > maxAgeMs && total > q.minSize {
			destroyed = append(destroyed, s)
			total--
			continue
		}
		kept = append(kept, s)
	}
	q.free = kept
	q.destroyedCount += uint64(len(destroyed))
	q.mu.Unlock()

	for _, s := range destroyed {
		s.markClosed()
		s.conn.Close()
		if q.onDestroy != nil {
			q.onDestroy("trim")
		}
	}
	return len(destroyed)
}

// closeAllFree destroys every currently-idle session, used by reset().
func (q *SessionQueue) closeAllFree() int {
	q.mu.Lock()
	destroyed := q.free
	q.free = nil
	q.destroyedCount += uint64(len(destroyed))
	q.mu.Unlock()

	for _, s := range destroyed {
		s.markClosed()
		s.conn.Close()
		if q.onDestroy != nil {
			q.onDestroy("reset")
		}
	}
	return len(destroyed)
}

// closeBusy forcibly closes every busy session whose last use predates
// olderThan ago: leak reclamation for a borrower that forgot to return its
// session. The borrower is not waited on; its next use of the session fails.
func (q *SessionQueue) closeBusy(olderThan time.Duration) []*PooledSession {
	cutoff := nowMs() - olderThan.Milliseconds()

	q.mu.Lock()
	var leaked []*PooledSession
	for id, s := range q.busy {
		if s.lastUsedMs() < cutoff && !s.isPinned() {
			leaked = append(leaked, s)
			delete(q.busy, id)
		}
	}
	q.destroyedCount += uint64(len(leaked))
	q.mu.Unlock()

	for _, s := range leaked {
		s.markClosed()
		s.conn.Close()
		if q.onDestroy != nil {
			q.onDestroy("leak")
		}
	}
	return leaked
}

// ensureMinimum synchronously creates minSize sessions and places them in
// free. Failures are logged, not fatal: a pool that can't warm up yet
// should still come up and retry creation on the next borrow.
func (q *SessionQueue) ensureMinimum(ctx context.Context) {
	q.mu.Lock()
	minSize := q.minSize
	q.mu.Unlock()

	for i := 0; i < minSize; i++ {
		conn, err := q.factory.Open(ctx, q.opts)
		if err != nil {
			log.Printf("[pool] %s: failed to create warm session %d/%d: %v", q.name, i+1, minSize, err)
			continue
		}
		s := newPooledSession(q.nextID.Add(1), q.name, conn)
		s.markIdle()

		q.mu.Lock()
		q.createdCount++
		q.free = append(q.free, s)
		q.mu.Unlock()
	}
}

// resize atomically updates the queue's limits. Reducing maxSize does not
// forcibly close busy sessions; they are destroyed on return once the pool
// exceeds the new max.
func (q *SessionQueue) resize(minSize, maxSize, warningSize *int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if minSize != nil {
		q.minSize = *minSize
	}
	if maxSize != nil {
		q.maxSize = *maxSize
	}
	if warningSize != nil {
		q.warningSize = *warningSize
	}
}

// Status is a point-in-time snapshot of the queue's sizes and counters.
type Status struct {
	MinSize       int
	MaxSize       int
	Free          int
	Busy          int
	Waiting       int
	HighWaterMark int
	WaitCount     uint64
	HitCount      uint64
}

func (q *SessionQueue) status(resetCounters bool) Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Status{
		MinSize:       q.minSize,
		MaxSize:       q.maxSize,
		Free:          len(q.free),
		Busy:          len(q.busy),
		Waiting:       len(q.waiters),
		HighWaterMark: q.highWaterMark,
		WaitCount:     q.waitCount,
		HitCount:      q.hitCount,
	}
	if resetCounters {
		q.waitCount = 0
		q.hitCount = 0
		// highWaterMark must never fall below the current busy count, so
		// resetting means "forget history older than now", not "forget
		// the current load".
		q.highWaterMark = len(q.busy)
	}
	return st
}

func (q *SessionQueue) snapshotDiagnostics() TimeoutDiagnostics {
	q.mu.Lock()
	defer q.mu.Unlock()
	return TimeoutDiagnostics{
		Free:          len(q.free),
		Busy:          len(q.busy),
		Waiting:       len(q.waiters),
		BusySummaries: q.busySummariesLocked(),
	}
}

func (q *SessionQueue) busySummariesLocked() []BusySummary {
	out := make([]BusySummary, 0, len(q.busy))
	for _, s := range q.busy {
		out = append(out, BusySummary{
			ID:           s.ID(),
			Name:         s.Name(),
			LastUsedMs:   s.lastUsedMs(),
			BorrowedMs:   s.heldMicros() / 1000,
			StackSnippet: s.stackSnippet(),
		})
	}
	return out
}

// busySummaries returns a diagnostic snapshot of every busy session,
// backing Pool.GetBusyInformation.
func (q *SessionQueue) busySummaries() []BusySummary {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busySummariesLocked()
}

// beginShutdown marks the queue closed and releases every blocked waiter
// with a nil session (translated to ErrPoolClosed). It does not touch free
// or busy sessions; the facade drains those separately.
func (q *SessionQueue) beginShutdown() {
	q.mu.Lock()
	q.shutdown = true
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()

	for _, w := range waiters {
		w.ch <- nil
	}
}

// drainFree destroys every currently-free session, for shutdown.
func (q *SessionQueue) drainFree() {
	q.closeAllFree()
}

// busyCount reports the current busy size, polled by shutdown's bounded wait.
func (q *SessionQueue) busyCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.busy)
}
