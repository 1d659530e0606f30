// Package metrics defines the Prometheus metrics the pool facade
// instruments itself with. Every vector is labeled by pool name so a
// process hosting several pools (one per backend) reports them distinctly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Free tracks the number of idle sessions per pool.
	Free = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_sessions_free",
		Help: "Number of idle sessions currently held by the pool",
	}, []string{"pool"})

	// Busy tracks the number of borrowed sessions per pool.
	Busy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_sessions_busy",
		Help: "Number of sessions currently borrowed from the pool",
	}, []string{"pool"})

	// Waiting tracks the current waiter-queue length per pool.
	Waiting = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_waiters",
		Help: "Number of borrowers currently blocked waiting for a session",
	}, []string{"pool"})

	// HighWaterMark tracks the maximum observed busy count per pool.
	HighWaterMark = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_high_water_mark",
		Help: "Maximum number of simultaneously busy sessions observed",
	}, []string{"pool"})

	// MaxSize tracks the configured max size per pool.
	MaxSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_max_size",
		Help: "Configured maximum pool size",
	}, []string{"pool"})

	// Up reports backend health as seen by the pool's health monitor.
	Up = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_backend_up",
		Help: "1 if the backend is currently reachable, 0 if down",
	}, []string{"pool"})

	// BorrowsTotal counts completed borrow attempts by outcome.
	BorrowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_borrows_total",
		Help: "Total borrow attempts by outcome",
	}, []string{"pool", "outcome"})

	// DestroyedTotal counts sessions destroyed by reason.
	DestroyedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_sessions_destroyed_total",
		Help: "Total sessions destroyed, by reason",
	}, []string{"pool", "reason"})

	// WaitDuration tracks how long borrowers spent blocked in the waiter queue.
	WaitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_wait_seconds",
		Help:    "Time spent waiting in the borrower queue before acquiring a session",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"pool"})

	// BorrowHeldSeconds tracks how long a session stays borrowed before release.
	BorrowHeldSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_borrow_held_seconds",
		Help:    "Duration a session is held between borrow and release",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"pool"})
)

// Preseed sets an initial value for every gauge a pool exposes (zero for the
// size gauges, the configured max for MaxSize, 1 for Up), so the labels
// appear in scrapes immediately instead of only after first use.
func Preseed(poolName string, maxSize int) {
	Free.WithLabelValues(poolName).Set(0)
	Busy.WithLabelValues(poolName).Set(0)
	Waiting.WithLabelValues(poolName).Set(0)
	HighWaterMark.WithLabelValues(poolName).Set(0)
	MaxSize.WithLabelValues(poolName).Set(float64(maxSize))
	Up.WithLabelValues(poolName).Set(1)
}
