package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-brasil/poolcore/pkg/session"
)

func newTestQueue(min, max, warning int, waitMs int64) (*SessionQueue, *fakeFactory) {
	f := &fakeFactory{}
	q := newSessionQueue("testpool", f, session.Options{}, min, max, warning, waitMs)
	return q, f
}

func TestSessionQueue_AcquireGrowsUntilMax(t *testing.T) {
	q, f := newTestQueue(0, 2, 2, 1000)

	s1, err := q.acquire(context.Background())
	require.NoError(t, err)
	s2, err := q.acquire(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, f.openCount())
	st := q.status(false)
	assert.Equal(t, 2, st.Busy)
	assert.Equal(t, 0, st.Free)
	assert.Equal(t, 2, st.HighWaterMark)

	q.release(s1, false)
	q.release(s2, false)
}

func TestSessionQueue_PopFreeIsLIFO(t *testing.T) {
	q, f := newTestQueue(0, 5, 5, 1000)

	s1, err := q.acquire(context.Background())
	require.NoError(t, err)
	q.release(s1, false)

	s2, err := q.acquire(context.Background())
	require.NoError(t, err)
	q.release(s2, false)

	// Only one session was ever created; the second acquire reused it.
	assert.Equal(t, 1, f.openCount())
	assert.Equal(t, s1.ID(), s2.ID())
}

func TestSessionQueue_AcquireTimesOutWhenSaturated(t *testing.T) {
	q, _ := newTestQueue(0, 1, 1, 30)

	s1, err := q.acquire(context.Background())
	require.NoError(t, err)

	_, err = q.acquire(context.Background())
	require.Error(t, err)
	var qte *queueTimeoutError
	require.True(t, errors.As(err, &qte))
	assert.Equal(t, 0, qte.diag.Free)
	assert.Equal(t, 1, qte.diag.Busy)

	q.release(s1, false)
}

func TestSessionQueue_WaiterGetsHandoffOnRelease(t *testing.T) {
	q, _ := newTestQueue(0, 1, 1, 2000)

	s1, err := q.acquire(context.Background())
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	var got *PooledSession
	var waitErr error
	go func() {
		defer wg.Done()
		got, waitErr = q.acquire(context.Background())
	}()

	// Give the waiter goroutine time to register before releasing.
	time.Sleep(20 * time.Millisecond)
	q.release(s1, false)
	wg.Wait()

	require.NoError(t, waitErr)
	require.NotNil(t, got)
	assert.Equal(t, s1.ID(), got.ID())

	st := q.status(false)
	assert.Equal(t, 1, st.Busy)
	assert.Equal(t, 0, st.Waiting)
}

func TestSessionQueue_ReleaseOverMaxDestroysSession(t *testing.T) {
	q, f := newTestQueue(0, 2, 2, 1000)

	s1, err := q.acquire(context.Background())
	require.NoError(t, err)
	s2, err := q.acquire(context.Background())
	require.NoError(t, err)

	q.resize(nil, intPtr(1), nil)
	q.release(s1, false)
	q.release(s2, false)

	// s1 is released while the pool (2) exceeds the new max (1) and is
	// destroyed; s2 is released at exactly the max and goes back to free.
	assert.Equal(t, 1, f.closeCount())
	st := q.status(false)
	assert.Equal(t, 1, st.Free)
}

func TestSessionQueue_ReleaseRunsResetter(t *testing.T) {
	q, f := newTestQueue(0, 1, 1, 1000)

	s1, err := q.acquire(context.Background())
	require.NoError(t, err)
	q.release(s1, false)

	assert.Equal(t, 1, f.resetCount())
}

func TestSessionQueue_TrimRespectsMinSize(t *testing.T) {
	q, f := newTestQueue(1, 5, 5, 1000)

	s1, err := q.acquire(context.Background())
	require.NoError(t, err)
	s2, err := q.acquire(context.Background())
	require.NoError(t, err)
	q.release(s1, false)
	q.release(s2, false)

	destroyed := q.trim(-1, -1) // maxInactiveMs<=0 disables idle trim entirely
	assert.Equal(t, 0, destroyed)

	time.Sleep(5 * time.Millisecond)
	destroyed = q.trim(1, -1) // idle >1ms, but minSize=1 must survive
	assert.Equal(t, 1, destroyed)

	st := q.status(false)
	assert.Equal(t, 1, st.Free)
	assert.Equal(t, 2, f.openCount())
}

func TestSessionQueue_CloseBusyReclaimsLeaked(t *testing.T) {
	q, f := newTestQueue(0, 2, 2, 1000)

	s1, err := q.acquire(context.Background())
	require.NoError(t, err)
	s1.lastUsedAtMs = nowMs() - 10*60*1000 // 10 minutes ago

	leaked := q.closeBusy(5 * time.Minute)
	require.Len(t, leaked, 1)
	assert.Equal(t, s1.ID(), leaked[0].ID())
	assert.Equal(t, 1, f.closeCount())

	st := q.status(false)
	assert.Equal(t, 0, st.Busy)
}

func TestSessionQueue_BeginShutdownReleasesWaiters(t *testing.T) {
	q, _ := newTestQueue(0, 1, 1, 5000)

	_, err := q.acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := q.acquire(context.Background())
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	q.beginShutdown()

	err = <-errCh
	assert.ErrorIs(t, err, errQueueClosed)
}

func TestSessionQueue_CloseBusySkipsPinnedSession(t *testing.T) {
	q, f := newTestQueue(0, 1, 1, 1000)

	s1, err := q.acquire(context.Background())
	require.NoError(t, err)
	s1.lastUsedAtMs = nowMs() - 10*60*1000
	s1.Pin()

	leaked := q.closeBusy(5 * time.Minute)
	assert.Empty(t, leaked)
	assert.Equal(t, 0, f.closeCount())

	st := q.status(false)
	assert.Equal(t, 1, st.Busy)
}

func intPtr(v int) *int { return &v }
