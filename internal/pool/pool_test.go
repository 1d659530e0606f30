package pool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-brasil/poolcore/internal/config"
)

func testConfig(name string, min, max, warn int) config.Config {
	cfg := config.Config{
		Name:           name,
		Username:       "user",
		Password:       "pass",
		MinConnections: min,
		MaxConnections: max,
		WarningSize:    warn,
	}
	cfg.ApplyDefaults()
	return cfg
}

type recordingListener struct {
	afterBorrow  int
	beforeReturn int
}

func (l *recordingListener) AfterBorrow(Session)  { l.afterBorrow++ }
func (l *recordingListener) BeforeReturn(Session) { l.beforeReturn++ }

type recordingAlert struct {
	downs, ups int
	warnings   []string
}

func (a *recordingAlert) OnDown(string)          { a.downs++ }
func (a *recordingAlert) OnUp(string)            { a.ups++ }
func (a *recordingAlert) OnWarning(_, msg string) { a.warnings = append(a.warnings, msg) }

func TestPool_BorrowAndReturn(t *testing.T) {
	f := &fakeFactory{}
	listener := &recordingListener{}
	p, err := New(context.Background(), testConfig("p1", 0, 2, 2), Deps{Factory: f, Listener: listener})
	require.NoError(t, err)

	s, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 1, listener.afterBorrow)

	require.NoError(t, s.Close())
	assert.Equal(t, 1, listener.beforeReturn)

	st := p.Status(false)
	assert.Equal(t, 1, st.Free)
	assert.Equal(t, 0, st.Busy)
}

func TestPool_BorrowAfterShutdownFails(t *testing.T) {
	f := &fakeFactory{}
	p, err := New(context.Background(), testConfig("p2", 0, 1, 1), Deps{Factory: f})
	require.NoError(t, err)

	require.NoError(t, p.Shutdown(context.Background(), true))

	_, err = p.Borrow(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPool_WarningLatchFiresOnceUntilReset(t *testing.T) {
	// The warning check only runs on release, not acquire: growing the
	// pool never raises a warning by itself.
	f := &fakeFactory{}
	al := &recordingAlert{}
	p, err := New(context.Background(), testConfig("p3", 0, 2, 1), Deps{Factory: f, Alert: al})
	require.NoError(t, err)

	s1, err := p.Borrow(context.Background())
	require.NoError(t, err)
	s2, err := p.Borrow(context.Background())
	require.NoError(t, err)
	assert.Empty(t, al.warnings)

	require.NoError(t, s2.Close()) // busy drops to 1, still >= warningSize(1): latches
	assert.Len(t, al.warnings, 1)

	s2, err = p.Borrow(context.Background())
	require.NoError(t, err)
	require.NoError(t, s1.Close()) // busy (2) -> 1 again, but already latched: no new warning
	assert.Len(t, al.warnings, 1)
	require.NoError(t, s2.Close()) // busy 1 -> 0: below warningSize, no warning
	assert.Len(t, al.warnings, 1)

	p.Reset(context.Background())
	s3, err := p.Borrow(context.Background())
	require.NoError(t, err)
	s4, err := p.Borrow(context.Background())
	require.NoError(t, err)
	require.NoError(t, s4.Close()) // busy 2 -> 1, latch was cleared by Reset: fires again
	assert.Len(t, al.warnings, 2)
	require.NoError(t, s3.Close())
}

func TestPool_ForceCloseOnFatalSession(t *testing.T) {
	f := &fakeFactory{}
	p, err := New(context.Background(), testConfig("p4", 0, 1, 1), Deps{Factory: f})
	require.NoError(t, err)

	s, err := p.Borrow(context.Background())
	require.NoError(t, err)
	ps := s.(*PooledSession)
	ps.MarkFatal()
	require.NoError(t, s.Close())

	st := p.Status(false)
	assert.Equal(t, 0, st.Free)
	assert.Equal(t, 1, f.closeCount())
}

func TestPool_CreateFailureTransitionsDown(t *testing.T) {
	f := &fakeFactory{}
	f.openErr.Store(true)
	al := &recordingAlert{}
	p, err := New(context.Background(), testConfig("p5", 0, 1, 1), Deps{Factory: f, Alert: al})
	require.NoError(t, err)
	require.True(t, p.IsUp()) // min=0, so New never tried to open anything yet

	_, err = p.Borrow(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendDown)
	assert.False(t, p.IsUp())
	assert.Equal(t, 1, al.downs)

	f.openErr.Store(false)
	p.transitionUp()
	assert.True(t, p.IsUp())
	assert.Equal(t, 1, al.ups)
}

func TestPool_AcquireTimeoutCarriesDiagnostics(t *testing.T) {
	f := &fakeFactory{}
	cfg := testConfig("p6", 0, 1, 1)
	cfg.WaitTimeoutMillis = 20
	p, err := New(context.Background(), cfg, Deps{Factory: f})
	require.NoError(t, err)

	s, err := p.Borrow(context.Background())
	require.NoError(t, err)

	_, err = p.Borrow(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolTimeout)

	var perr *Error
	require.True(t, errors.As(err, &perr))
	require.NotNil(t, perr.Diagnostics)
	assert.Equal(t, 1, perr.Diagnostics.Busy)

	require.NoError(t, s.Close())
}

func TestPool_StatisticsTrackHeldTime(t *testing.T) {
	f := &fakeFactory{}
	p, err := New(context.Background(), testConfig("p7", 0, 2, 2), Deps{Factory: f})
	require.NoError(t, err)

	s1, err := p.Borrow(context.Background())
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s1.Close())

	s2, err := p.Borrow(context.Background())
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s2.Close())

	stats := p.Statistics(false)
	assert.Equal(t, uint64(2), stats.Count)
	assert.Greater(t, stats.TotalMicros, uint64(30_000))
	assert.Greater(t, stats.AvgMicros, uint64(0))
}

func TestPool_BorrowWithCredentialsIsUnpooled(t *testing.T) {
	f := &fakeFactory{}
	p, err := New(context.Background(), testConfig("p8", 0, 1, 1), Deps{Factory: f})
	require.NoError(t, err)

	s, err := p.BorrowWithCredentials(context.Background(), "other-user", "other-pass")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close()) // idempotent

	st := p.Status(false)
	assert.Equal(t, 0, st.Busy)
	assert.Equal(t, 0, st.Free) // never joined the pool
}
