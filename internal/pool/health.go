package pool

import (
	"context"
	"sync"
	"time"
)

// HealthMonitor is the cancellable periodic task that trims idle/aged
// sessions and probes backend liveness on a timer, driving the pool's
// UP/DOWN transitions. It holds no queue lock while probing — borrow/
// release keep working normally during a tick.
type HealthMonitor struct {
	pool *Pool

	heartbeatFreq    time.Duration
	trimFreqMillis   int64
	maxInactiveMs    int64
	maxAgeMs         int64
	heartbeatTimeout time.Duration
	heartbeatSQL     string

	mu       sync.Mutex
	lastTrim time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newHealthMonitor(p *Pool) *HealthMonitor {
	cfg := p.cfg
	return &HealthMonitor{
		pool:             p,
		heartbeatFreq:    cfg.HeartbeatFreq(),
		trimFreqMillis:   cfg.TrimPoolFreqMillis(),
		maxInactiveMs:    cfg.MaxInactiveMillis(),
		maxAgeMs:         cfg.MaxAgeMillis(),
		heartbeatTimeout: cfg.HeartbeatTimeout(),
		heartbeatSQL:     cfg.HeartbeatSQL,
		stopCh:           make(chan struct{}),
	}
}

// start launches the monitor loop. A zero heartbeatFreq disables it
// entirely: no periodic trimming or probing at all.
func (m *HealthMonitor) start() {
	if m.heartbeatFreq <= 0 {
		return
	}
	m.wg.Add(1)
	go m.loop()
}

// stop cancels the monitor. Safe to call exactly once; the facade's
// shutdownOnce guarantees that.
func (m *HealthMonitor) stop() {
	close(m.stopCh)
	m.wg.Wait()
}

func (m *HealthMonitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.heartbeatFreq)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick runs one maintenance pass: trim (gated by trimPoolFreqMs) then a
// liveness probe. Neither returns an error to the loop: a failed probe
// drives the pool's DOWN transition instead, so the monitor keeps running.
func (m *HealthMonitor) tick() {
	m.maybeTrim()
	m.probe()
}

func (m *HealthMonitor) maybeTrim() {
	m.mu.Lock()
	due := time.Since(m.lastTrim).Milliseconds() >= m.trimFreqMillis
	if due {
		m.lastTrim = time.Now()
	}
	m.mu.Unlock()

	if !due {
		return
	}
	m.pool.queue.trim(m.maxInactiveMs, m.maxAgeMs)
}

// probe borrows one session, runs the configured liveness check, and
// returns it, driving the pool's UP/DOWN state machine on the outcome.
func (m *HealthMonitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.heartbeatTimeout)
	defer cancel()

	s, err := m.pool.queue.acquire(ctx)
	if err != nil {
		m.pool.transitionDown(err)
		return
	}

	probeErr := m.runProbe(ctx, s)
	m.pool.queue.release(s, probeErr != nil)

	if probeErr != nil {
		m.pool.transitionDown(probeErr)
		return
	}
	m.pool.transitionUp()
}

// runProbe executes the configured probe SQL, or falls back to the
// vendor-level liveness check.
func (m *HealthMonitor) runProbe(ctx context.Context, s *PooledSession) error {
	if m.heartbeatSQL != "" {
		return s.conn.ExecContext(ctx, m.heartbeatSQL)
	}
	return s.conn.Ping(ctx)
}
