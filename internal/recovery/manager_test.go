package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rayven122/tumiki-sub015/internal/config"
	"github.com/rayven122/tumiki-sub015/internal/metrics"
	"github.com/rayven122/tumiki-sub015/internal/session"
)

type fakeSessions struct {
	timeout  time.Duration
	sessions map[string]session.Session
}

func (f *fakeSessions) Get(id string) (session.Session, bool) {
	s, ok := f.sessions[id]

	return s, ok
}

func (f *fakeSessions) Snapshot() []session.Session {
	out := make([]session.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}

	return out
}

func (f *fakeSessions) Timeout() time.Duration { return f.timeout }

func newTestRecovery(t *testing.T) (*Manager, *fakeSessions, *time.Time) {
	t.Helper()

	sessions := &fakeSessions{timeout: 100 * time.Second, sessions: map[string]session.Session{}}
	m := CreateRecoveryManager(config.RecoveryConfig{
		MaxRetryAttempts: 3,
		BaseDelay:        time.Second,
		MaxDelay:         3 * time.Second,
		MonitorInterval:  time.Hour,
	}, sessions, zaptest.NewLogger(t), metrics.InitializeMetricsRegistry())

	now := time.Now()
	m.now = func() time.Time { return now }

	return m, sessions, &now
}

func TestBand(t *testing.T) {
	timeout := 100 * time.Second

	assert.Equal(t, StateHealthy, Band(0, timeout))
	assert.Equal(t, StateHealthy, Band(79*time.Second, timeout))
	assert.Equal(t, StateDegraded, Band(80*time.Second, timeout))
	assert.Equal(t, StateDegraded, Band(100*time.Second, timeout))
	assert.Equal(t, StateFailed, Band(101*time.Second, timeout))
}

func TestDelay(t *testing.T) {
	m, _, _ := newTestRecovery(t)

	assert.Equal(t, time.Duration(0), m.Delay(0))
	assert.Equal(t, time.Second, m.Delay(1))
	assert.Equal(t, 2*time.Second, m.Delay(2))
	assert.Equal(t, 3*time.Second, m.Delay(3), "capped at max delay")
	assert.Equal(t, 3*time.Second, m.Delay(30))
}

func TestAttemptRecovery_BackoffIsNoOp(t *testing.T) {
	m, _, now := newTestRecovery(t)
	ctx := context.Background()

	calls := 0
	failing := func(context.Context) error {
		calls++

		return errors.New("upstream still down")
	}

	ok, err := m.AttemptRecovery(ctx, "s1", failing)
	assert.False(t, ok)
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	rec, found := m.Record("s1")
	require.True(t, found)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, 1, rec.ConsecutiveFailures)

	*now = now.Add(999 * time.Millisecond)
	ok, err = m.AttemptRecovery(ctx, "s1", failing)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrNotYetDue)
	assert.Equal(t, 1, calls, "callback must not run before the back-off elapsed")

	*now = now.Add(time.Millisecond)
	_, err = m.AttemptRecovery(ctx, "s1", failing)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotYetDue)
	assert.Equal(t, 2, calls)

	// Second delay is base*2.
	*now = now.Add(1500 * time.Millisecond)
	_, err = m.AttemptRecovery(ctx, "s1", failing)
	assert.ErrorIs(t, err, ErrNotYetDue)
	assert.Equal(t, 2, calls)
}

func TestAttemptRecovery_CapStopsCallbacks(t *testing.T) {
	m, _, now := newTestRecovery(t)
	ctx := context.Background()

	calls := 0
	failing := func(context.Context) error {
		calls++

		return errors.New("down")
	}

	for i := 0; i < 3; i++ {
		*now = now.Add(time.Minute)
		ok, err := m.AttemptRecovery(ctx, "s1", failing)
		assert.False(t, ok)
		require.Error(t, err)
	}

	require.Equal(t, 3, calls)

	for i := 0; i < 5; i++ {
		*now = now.Add(time.Minute)
		ok, err := m.AttemptRecovery(ctx, "s1", failing)
		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
	}

	assert.Equal(t, 3, calls)

	rec, _ := m.Record("s1")
	assert.Equal(t, StateFailed, rec.State)

	m.Reset("s1")
	ok, err := m.AttemptRecovery(ctx, "s1", func(context.Context) error { return nil })
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestAttemptRecovery_SuccessResets(t *testing.T) {
	m, _, now := newTestRecovery(t)
	ctx := context.Background()

	_, _ = m.AttemptRecovery(ctx, "s1", func(context.Context) error { return errors.New("down") })

	*now = now.Add(5 * time.Second)
	ok, err := m.AttemptRecovery(ctx, "s1", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.True(t, ok)

	rec, _ := m.Record("s1")
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, 0, rec.ConsecutiveFailures)
	assert.Equal(t, StateHealthy, rec.State)

	// A reset counter means the next attempt is due immediately.
	ok, err = m.AttemptRecovery(ctx, "s1", func(context.Context) error { return nil })
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestScan(t *testing.T) {
	m, sessions, now := newTestRecovery(t)

	sessions.sessions["fresh"] = session.Session{ID: "fresh", LastActivity: *now}
	sessions.sessions["stale"] = session.Session{ID: "stale", LastActivity: now.Add(-90 * time.Second)}
	sessions.sessions["dead"] = session.Session{ID: "dead", LastActivity: now.Add(-5 * time.Minute)}

	_, _ = m.AttemptRecovery(context.Background(), "gone", func(context.Context) error { return errors.New("down") })

	got := m.Scan()
	require.Len(t, got, 3)
	assert.Equal(t, "dead", got[0].SessionID)
	assert.Equal(t, StateFailed, got[0].State)
	assert.Equal(t, "gone", got[1].SessionID)
	assert.Equal(t, StateFailed, got[1].State)
	assert.Equal(t, "stale", got[2].SessionID)
	assert.Equal(t, StateDegraded, got[2].State)

	assert.Equal(t, got, m.Unhealthy())
	assert.Equal(t, StateHealthy, m.Health("fresh"))
	assert.Equal(t, StateFailed, m.Health("missing"))

	_, tracked := m.Record("gone")
	assert.False(t, tracked, "records for destroyed sessions are dropped after reporting")
}
