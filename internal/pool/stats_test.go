package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsTracker_RecordAndSnapshot(t *testing.T) {
	tr := &statsTracker{}
	tr.record(100_000)
	tr.record(50_000)

	st := tr.snapshot(false)
	assert.Equal(t, uint64(2), st.Count)
	assert.Equal(t, uint64(150_000), st.TotalMicros)
	assert.Equal(t, uint64(100_000), st.HWMMicros)
	assert.Equal(t, uint64(75_000), st.AvgMicros)
}

func TestStatsTracker_ResetZeroesCounters(t *testing.T) {
	tr := &statsTracker{}
	tr.record(10_000)

	st := tr.snapshot(true)
	assert.Equal(t, uint64(1), st.Count)

	after := tr.snapshot(false)
	assert.Equal(t, uint64(0), after.Count)
	assert.Equal(t, uint64(0), after.TotalMicros)
	assert.Equal(t, uint64(0), after.HWMMicros)
}

func TestStatsTracker_NegativeHeldTimeClampedToZero(t *testing.T) {
	tr := &statsTracker{}
	tr.record(-5)

	st := tr.snapshot(false)
	assert.Equal(t, uint64(1), st.Count)
	assert.Equal(t, uint64(0), st.TotalMicros)
}
