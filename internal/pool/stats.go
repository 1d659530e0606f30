package pool

import "sync"

// Statistics is the aggregated borrow-timing snapshot exposed to callers.
type Statistics struct {
	Count       uint64
	TotalMicros uint64
	HWMMicros   uint64
	AvgMicros   uint64
}

// statsTracker accumulates per-borrow held-time measurements. It is
// intentionally separate from SessionQueue: the queue knows nothing about
// wall-clock borrow duration, only about free/busy membership.
type statsTracker struct {
	mu          sync.Mutex
	count       uint64
	totalMicros uint64
	hwmMicros   uint64
}

func (t *statsTracker) record(heldMicros int64) {
	if heldMicros < 0 {
		heldMicros = 0
	}
	u := uint64(heldMicros)

	t.mu.Lock()
	t.count++
	t.totalMicros += u
	if u > t.hwmMicros {
		t.hwmMicros = u
	}
	t.mu.Unlock()
}

func (t *statsTracker) snapshot(resetCounters bool) Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Statistics{Count: t.count, TotalMicros: t.totalMicros, HWMMicros: t.hwmMicros}
	if st.Count > 0 {
		st.AvgMicros = st.TotalMicros / st.Count
	}

	if resetCounters {
		t.count = 0
		t.totalMicros = 0
		t.hwmMicros = 0
	}
	return st
}
