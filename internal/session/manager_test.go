package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rayven122/tumiki-sub015/internal/config"
	customerrors "github.com/rayven122/tumiki-sub015/internal/errors"
	"github.com/rayven122/tumiki-sub015/internal/metrics"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestManager(t *testing.T, maxSessions int) (*Manager, *testClock) {
	t.Helper()

	clock := &testClock{now: time.Now()}
	m := CreateSessionManager(config.SessionConfig{
		MaxSessions:     maxSessions,
		Timeout:         time.Minute,
		MaxErrorCount:   3,
		CleanupInterval: time.Hour,
	}, zaptest.NewLogger(t), metrics.InitializeMetricsRegistry())
	m.now = clock.Now

	return m, clock
}

func TestCreateSession(t *testing.T) {
	m, _ := newTestManager(t, 10)

	s, err := m.CreateSession(KindSSE, "key-1", "client-1", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, KindSSE, s.Kind)
	assert.Equal(t, "key-1", s.CredentialID)
	assert.True(t, m.IsValid(s.ID))
	assert.Equal(t, 1, m.Count())

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Equal(t, s, got)
}

func TestCreateSession_LimitReached(t *testing.T) {
	m, _ := newTestManager(t, 2)

	for i := 0; i < 2; i++ {
		_, err := m.CreateSession(KindStreamableHTTP, "key", "client", nil)
		require.NoError(t, err)
	}

	assert.False(t, m.CanCreateNewSession())

	_, err := m.CreateSession(KindStreamableHTTP, "key", "client", nil)
	require.Error(t, err)
	assert.True(t, customerrors.HasCode(err, ErrCodeSessionLimitExceeded))
	assert.True(t, customerrors.IsRetryable(err))
	assert.Equal(t, 503, customerrors.GetHTTPStatus(err))
}

func TestCreateSession_ConcurrentCeiling(t *testing.T) {
	const limit = 5

	m, _ := newTestManager(t, limit)

	var ok, rejected int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if _, err := m.CreateSession(KindSSE, "key", "client", nil); err != nil {
				atomic.AddInt32(&rejected, 1)

				return
			}

			atomic.AddInt32(&ok, 1)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(limit), ok)
	assert.Equal(t, int32(45), rejected)
	assert.Equal(t, limit, m.Count())
}

func TestIsValid_TimeoutAndSweep(t *testing.T) {
	m, clock := newTestManager(t, 10)

	var cleanups int32
	s, err := m.CreateSession(KindSSE, "key", "client", func() error {
		atomic.AddInt32(&cleanups, 1)

		return nil
	})
	require.NoError(t, err)

	fresh, err := m.CreateSession(KindSSE, "key", "client", nil)
	require.NoError(t, err)

	clock.Advance(50 * time.Second)
	require.True(t, m.Touch(fresh.ID))
	clock.Advance(20 * time.Second)

	assert.False(t, m.IsValid(s.ID))
	assert.True(t, m.IsValid(fresh.ID))

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, int32(1), atomic.LoadInt32(&cleanups))

	_, ok := m.Get(s.ID)
	assert.False(t, ok)

	assert.Equal(t, 0, m.Sweep())
	assert.False(t, m.Destroy(s.ID))
	assert.Equal(t, int32(1), atomic.LoadInt32(&cleanups), "cleanup must run exactly once")
}

func TestRecordError_InvalidatesAtCap(t *testing.T) {
	m, _ := newTestManager(t, 10)

	s, err := m.CreateSession(KindStreamableHTTP, "key", "client", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, m.RecordError(s.ID))
	assert.Equal(t, 2, m.RecordError(s.ID))
	assert.True(t, m.IsValid(s.ID))
	assert.Equal(t, 3, m.RecordError(s.ID))
	assert.False(t, m.IsValid(s.ID))

	_, err = m.Validate(s.ID)
	assert.True(t, customerrors.HasCode(err, ErrCodeSessionExpired))

	_, err = m.Validate("missing")
	assert.True(t, customerrors.HasCode(err, ErrCodeSessionNotFound))
	assert.Equal(t, 0, m.RecordError("missing"))
}

func TestDestroy_ToleratesCleanupFailure(t *testing.T) {
	m, _ := newTestManager(t, 10)

	failing, err := m.CreateSession(KindSSE, "key", "client", func() error { return errors.New("stream already closed") })
	require.NoError(t, err)

	panicking, err := m.CreateSession(KindSSE, "key", "client", func() error { panic("boom") })
	require.NoError(t, err)

	assert.True(t, m.Destroy(failing.ID))
	assert.True(t, m.Destroy(panicking.ID))
	assert.Equal(t, 0, m.Count())
}

func TestStopAdmitting(t *testing.T) {
	m, _ := newTestManager(t, 10)
	m.StopAdmitting()

	assert.False(t, m.CanCreateNewSession())

	_, err := m.CreateSession(KindSSE, "key", "client", nil)
	assert.True(t, customerrors.HasCode(err, ErrCodeSessionDraining))
}

func TestStartAndClose(t *testing.T) {
	m, _ := newTestManager(t, 10)
	m.cfg.CleanupInterval = 5 * time.Millisecond

	var cleanups int32
	_, err := m.CreateSession(KindSSE, "key", "client", func() error {
		atomic.AddInt32(&cleanups, 1)

		return nil
	})
	require.NoError(t, err)

	m.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.Equal(t, 0, m.Count())
	assert.Equal(t, int32(1), atomic.LoadInt32(&cleanups))
}
