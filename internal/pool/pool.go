// Package pool implements the pool engine: PooledSession, SessionQueue,
// HealthMonitor, and the Pool facade that ties them together with an
// alert sink and a pool listener. It is the core this module is built
// around; everything else (session factories, configuration, metrics,
// alert transports) is an external collaborator the facade is wired to.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joao-brasil/poolcore/internal/alert"
	"github.com/joao-brasil/poolcore/internal/config"
	"github.com/joao-brasil/poolcore/internal/metrics"
	"github.com/joao-brasil/poolcore/pkg/session"
)

// Deps are the Pool's behavioral collaborators: the session factory, the
// alert sink, and the pool listener. These are external to the pool engine
// itself so it never imports a specific backend driver or alert transport.
type Deps struct {
	Factory  session.Factory
	Alert    alert.Sink // nil => alert.Noop{}
	Listener Listener   // nil => noopListener{}
}

// Pool is the public facade: borrow, return, resize, status, shutdown,
// reset, and the diagnostic dump operations. It owns configuration, the
// queue, the health monitor, and the notification bridge to the alert
// sink and pool listener.
type Pool struct {
	name    string
	cfg     config.Config
	factory session.Factory
	alert   alert.Sink
	listen  Listener

	queue   *SessionQueue
	monitor *HealthMonitor
	stats   *statsTracker

	stateMu       sync.Mutex
	isUp          bool
	downReason    error
	downAlertSent bool

	warnMu    sync.Mutex
	inWarning bool

	shutdownOnce sync.Once
	shuttingDown atomic.Bool

	captureStack       bool
	maxStackFrameLines int
}

// New constructs a pool: validates configuration (already done by
// config.Load, but re-checked here for callers that build a Config by
// hand), synchronously fills minConnections idle sessions, pre-registers
// metrics, and starts the health monitor.
func New(ctx context.Context, cfg config.Config, deps Deps) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, newError(KindConfigInvalid, cfg.Name, err)
	}
	cfg.ApplyDefaults()

	if deps.Factory == nil {
		return nil, newError(KindConfigInvalid, cfg.Name, fmt.Errorf("a session factory is required"))
	}
	alertSink := deps.Alert
	if alertSink == nil {
		alertSink = alert.Noop{}
	}
	listener := deps.Listener
	if listener == nil {
		listener = noopListener{}
	}

	opts := session.Options{
		Host:           cfg.Host,
		Port:           cfg.Port,
		Database:       cfg.Database,
		Username:       cfg.Username,
		Password:       cfg.Password,
		Isolation:      cfg.IsolationLevel,
		AutoCommit:     cfg.AutoCommit,
		ConnectTimeout: cfg.ConnectionTimeout(),
		Properties:     cfg.CustomProperties,
	}

	q := newSessionQueue(cfg.Name, deps.Factory, opts, cfg.MinConnections, cfg.MaxConnections, cfg.WarningSize, cfg.WaitTimeoutMillis)

	p := &Pool{
		name:               cfg.Name,
		cfg:                cfg,
		factory:            deps.Factory,
		alert:              alertSink,
		listen:             listener,
		queue:              q,
		stats:              &statsTracker{},
		isUp:               true,
		captureStack:       cfg.CaptureStackTrace,
		maxStackFrameLines: cfg.MaxStackTraceSize,
	}
	q.onWarning = p.raiseWarning
	q.onDestroy = func(reason string) { metrics.DestroyedTotal.WithLabelValues(p.name, reason).Inc() }

	metrics.Preseed(p.name, cfg.MaxConnections)
	acquireDriverSlot(deps.Factory.Name())

	q.ensureMinimum(ctx)
	p.refreshGauges()

	p.monitor = newHealthMonitor(p)
	p.monitor.start()

	log.Printf("[pool] %s: initialized, min=%d max=%d warning=%d", p.name, cfg.MinConnections, cfg.MaxConnections, cfg.WarningSize)
	return p, nil
}

// Borrow acquires a session from the pool, blocking up to waitTimeoutMs if
// the pool is saturated.
func (p *Pool) Borrow(ctx context.Context) (Session, error) {
	if p.shuttingDown.Load() {
		return nil, newError(KindPoolClosed, p.name, nil)
	}

	s, err := p.queue.acquire(ctx)
	if err != nil {
		return nil, p.classifyAcquireErr(err)
	}

	s.pool = p
	if p.captureStack {
		s.captureStack(p.maxStackFrameLines)
	}
	p.listen.AfterBorrow(s)
	p.refreshGauges()
	metrics.BorrowsTotal.WithLabelValues(p.name, "acquired").Inc()
	return s, nil
}

func (p *Pool) classifyAcquireErr(err error) error {
	var qte *queueTimeoutError
	if errors.As(err, &qte) {
		metrics.BorrowsTotal.WithLabelValues(p.name, "timeout").Inc()
		return &Error{Kind: KindPoolTimeout, Pool: p.name, Cause: ErrPoolTimeout, Diagnostics: &qte.diag}
	}
	if err == errQueueClosed {
		metrics.BorrowsTotal.WithLabelValues(p.name, "closed").Inc()
		return newError(KindPoolClosed, p.name, nil)
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		metrics.BorrowsTotal.WithLabelValues(p.name, "cancelled").Inc()
		return err
	}

	// Anything else is a session-creation failure: surface as BackendDown
	// and drive the UP→DOWN transition.
	metrics.BorrowsTotal.WithLabelValues(p.name, "create_failed").Inc()
	p.transitionDown(err)
	return newError(KindBackendDown, p.name, err)
}

// BorrowWithCredentials opens an unpooled session with overridden
// credentials. It is never added to the pool; closing it closes it fully.
func (p *Pool) BorrowWithCredentials(ctx context.Context, username, password string) (Session, error) {
	if p.shuttingDown.Load() {
		return nil, newError(KindPoolClosed, p.name, nil)
	}

	opts := session.Options{
		Host:           p.cfg.Host,
		Port:           p.cfg.Port,
		Database:       p.cfg.Database,
		Username:       username,
		Password:       password,
		Isolation:      p.cfg.IsolationLevel,
		AutoCommit:     p.cfg.AutoCommit,
		ConnectTimeout: p.cfg.ConnectionTimeout(),
		Properties:     p.cfg.CustomProperties,
	}

	conn, err := p.factory.Open(ctx, opts)
	if err != nil {
		return nil, newError(KindBackendDown, p.name, err)
	}
	return &unpooledSession{id: p.queue.nextID.Add(1), poolName: p.name, conn: conn}, nil
}

// returnSession is called by PooledSession.Close, with forceClose set when
// the session was flagged by MarkFatal. A session that fails the factory's
// reset step is force-closed inside SessionQueue.release instead, without
// the health check below.
func (p *Pool) returnSession(s *PooledSession, forceClose bool) {
	if !forceClose {
		p.listen.BeforeReturn(s)
	}

	heldMicros := s.heldMicros()
	p.stats.record(heldMicros)
	metrics.BorrowHeldSeconds.WithLabelValues(p.name).Observe(float64(heldMicros) / 1e6)

	p.queue.release(s, forceClose || p.shuttingDown.Load())
	p.refreshGauges()

	if forceClose {
		// Run the health check off the return path's own call stack so it
		// never recurses into a lock its caller might still be holding.
		go p.monitor.probe()
	}
}

// Resize atomically updates the queue's limits. Nil fields leave that
// limit unchanged.
func (p *Pool) Resize(minSize, maxSize, warningSize *int) {
	p.queue.resize(minSize, maxSize, warningSize)
	if maxSize != nil {
		metrics.MaxSize.WithLabelValues(p.name).Set(float64(*maxSize))
	}
}

// Status returns a snapshot of sizes and counters.
func (p *Pool) Status(resetCounters bool) Status {
	return p.queue.status(resetCounters)
}

// Statistics returns the aggregated borrow-timing snapshot.
func (p *Pool) Statistics(resetCounters bool) Statistics {
	return p.stats.snapshot(resetCounters)
}

// Reset closes free sessions, clears the warning latch, and reclaims any
// session busy longer than leakTimeMinutes.
func (p *Pool) Reset(ctx context.Context) {
	p.queue.closeAllFree()
	p.clearWarningLatch()

	leaked := p.queue.closeBusy(p.cfg.LeakTime())
	for _, s := range leaked {
		p.logLeak(s)
	}
	p.refreshGauges()
}

func (p *Pool) logLeak(s *PooledSession) {
	stack := s.stackSnippet()
	if stack == "" {
		log.Printf("[pool] %s: reclaimed leaked session %s (idle %dms)", p.name, s.Name(), nowMs()-s.lastUsedMs())
		return
	}
	log.Printf("[pool] %s: reclaimed leaked session %s (idle %dms), borrowed at:\n%s", p.name, s.Name(), nowMs()-s.lastUsedMs(), stack)
}

// DumpBusyInformation logs a diagnostic listing of every busy session.
func (p *Pool) DumpBusyInformation() {
	for _, b := range p.GetBusyInformation() {
		log.Printf("[pool] %s: busy %s last_used=%dms_ago borrowed_for=%dms", p.name, b.Name, nowMs()-b.LastUsedMs, b.BorrowedMs)
	}
}

// GetBusyInformation returns the same diagnostic listing as a slice.
func (p *Pool) GetBusyInformation() []BusySummary {
	return p.queue.busySummaries()
}

// Shutdown cancels the health monitor, drains free sessions, waits
// (bounded by ctx) for busy sessions to return, then optionally
// deregisters the backend driver. After Shutdown, Borrow fails with
// PoolClosed.
func (p *Pool) Shutdown(ctx context.Context, deregisterDriver bool) error {
	p.shutdownOnce.Do(func() {
		p.shuttingDown.Store(true)
		p.monitor.stop()
		p.queue.beginShutdown()
		p.queue.drainFree()

		p.waitForBusyDrain(ctx)

		if deregisterDriver {
			releaseDriverSlot(p.factory.Name())
		}
		log.Printf("[pool] %s: shutdown complete", p.name)
	})
	return nil
}

func (p *Pool) waitForBusyDrain(ctx context.Context) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.queue.busyCount() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			log.Printf("[pool] %s: shutdown deadline reached with %d sessions still busy (leaked, not waited on)", p.name, p.queue.busyCount())
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) raiseWarning() {
	p.warnMu.Lock()
	if p.inWarning {
		p.warnMu.Unlock()
		return
	}
	p.inWarning = true
	p.warnMu.Unlock()

	p.alert.OnWarning(p.name, fmt.Sprintf("busy sessions reached the warning threshold (%d)", p.cfg.WarningSize))
}

func (p *Pool) clearWarningLatch() {
	p.warnMu.Lock()
	p.inWarning = false
	p.warnMu.Unlock()
}

// transitionDown drives UP→DOWN. Safe to call while holding no queue
// lock: it is invoked from the monitor's probe (no lock) and from
// Borrow's create-failure path (no lock).
func (p *Pool) transitionDown(cause error) {
	p.stateMu.Lock()
	if !p.isUp {
		p.downReason = cause
		p.stateMu.Unlock()
		return
	}
	p.isUp = false
	p.downReason = cause
	sendAlert := !p.downAlertSent
	p.downAlertSent = true
	p.stateMu.Unlock()

	metrics.Up.WithLabelValues(p.name).Set(0)
	if sendAlert {
		p.alert.OnDown(p.name)
	}
	p.Reset(context.Background())
}

// transitionUp drives DOWN→UP. isUp is set true before notifying the
// alert sink so a re-entrant borrow triggered from inside OnUp cannot
// recurse into a second transition.
func (p *Pool) transitionUp() {
	p.stateMu.Lock()
	if p.isUp {
		p.stateMu.Unlock()
		return
	}
	sendAlert := p.downAlertSent
	p.downAlertSent = false
	p.isUp = true
	p.downReason = nil
	p.stateMu.Unlock()

	metrics.Up.WithLabelValues(p.name).Set(1)
	if sendAlert {
		p.alert.OnUp(p.name)
	}
	p.Reset(context.Background())
}

// IsUp reports the pool's current view of backend health.
func (p *Pool) IsUp() bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.isUp
}

// DownReason is the last fatal error observed, or nil when up.
func (p *Pool) DownReason() error {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.downReason
}

func (p *Pool) refreshGauges() {
	st := p.queue.status(false)
	metrics.Free.WithLabelValues(p.name).Set(float64(st.Free))
	metrics.Busy.WithLabelValues(p.name).Set(float64(st.Busy))
	metrics.Waiting.WithLabelValues(p.name).Set(float64(st.Waiting))
	metrics.HighWaterMark.WithLabelValues(p.name).Set(float64(st.HighWaterMark))
}

// unpooledSession implements Session for credential-overridden borrows
// that never join the pool.
type unpooledSession struct {
	id       uint64
	poolName string
	conn     session.Conn
	returned atomic.Bool
}

func (u *unpooledSession) Conn() session.Conn { return u.conn }
func (u *unpooledSession) ID() uint64         { return u.id }
func (u *unpooledSession) Name() string       { return fmt.Sprintf("%s.unpooled.%d", u.poolName, u.id) }

func (u *unpooledSession) Close() error {
	if !u.returned.CompareAndSwap(false, true) {
		return nil
	}
	return u.conn.Close()
}

// ── Global driver registration ──────────────────────────────────────────
//
// database/sql drivers are registered process-wide and cannot actually be
// unregistered; this tracks reference counts per driver name so a
// multi-pool process only logs deregistration intent once the last pool
// using that driver shuts down.

var (
	driverMu   sync.Mutex
	driverRefs = map[string]int{}
)

func acquireDriverSlot(name string) {
	driverMu.Lock()
	driverRefs[name]++
	driverMu.Unlock()
}

func releaseDriverSlot(name string) {
	driverMu.Lock()
	defer driverMu.Unlock()
	driverRefs[name]--
	if driverRefs[name] <= 0 {
		delete(driverRefs, name)
		log.Printf("[pool] last pool using driver %q closed; deregistering", name)
	}
}
