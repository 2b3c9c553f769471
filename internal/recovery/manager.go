// Package recovery tracks per-session health and gates reconnection attempts
// behind a retry cap and exponential back-off.
//
// Health is derived from how long a session has been idle relative to the
// session timeout: under 80% is healthy, 80% to 100% is degraded, and over
// the timeout (or a session that no longer exists) is failed. The monitor
// loop only reports; recovery is driven by request-path code that noticed a
// dead upstream connection.
package recovery

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/config"
	"github.com/rayven122/tumiki-sub015/internal/metrics"
	"github.com/rayven122/tumiki-sub015/internal/session"
)

// State is a session health band.
type State string

const (
	StateHealthy    State = "healthy"
	StateDegraded   State = "degraded"
	StateFailed     State = "failed"
	StateRecovering State = "recovering"
)

const degradedRatio = 0.8

var (
	// ErrNotYetDue is returned when the back-off delay has not elapsed.
	ErrNotYetDue = errors.New("recovery not yet due")
	// ErrRetriesExhausted is returned once a session reached the retry cap.
	ErrRetriesExhausted = errors.New("recovery retries exhausted")
)

// RecoveryFunc re-establishes whatever the session lost.
type RecoveryFunc func(ctx context.Context) error

// Record is the retry state of one session.
type Record struct {
	SessionID           string    `json:"session_id"`
	RetryCount          int       `json:"retry_count"`
	LastRetry           time.Time `json:"last_retry"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
}

// SessionHealth is one entry of the monitor's report.
type SessionHealth struct {
	SessionID  string        `json:"session_id"`
	State      State         `json:"state"`
	IdleFor    time.Duration `json:"idle_for"`
	RetryCount int           `json:"retry_count"`
}

// SessionSource is the view of the session table the manager needs.
type SessionSource interface {
	Get(id string) (session.Session, bool)
	Snapshot() []session.Session
	Timeout() time.Duration
}

// Manager owns the recovery records.
type Manager struct {
	cfg      config.RecoveryConfig
	sessions SessionSource
	logger   *zap.Logger
	metrics  *metrics.Registry
	now      func() time.Time

	mu        sync.Mutex
	records   map[string]*Record
	unhealthy []SessionHealth
}

// CreateRecoveryManager creates a recovery manager over the session table.
func CreateRecoveryManager(cfg config.RecoveryConfig, sessions SessionSource, logger *zap.Logger, reg *metrics.Registry) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: sessions,
		logger:   logger.With(zap.String("component", "recovery")),
		metrics:  reg,
		now:      time.Now,
		records:  make(map[string]*Record),
	}
}

// Band classifies idle time against the session timeout.
func Band(idle, timeout time.Duration) State {
	switch {
	case idle > timeout:
		return StateFailed
	case float64(idle) >= degradedRatio*float64(timeout):
		return StateDegraded
	default:
		return StateHealthy
	}
}

// Health returns the current band of one session.
func (m *Manager) Health(sessionID string) State {
	s, ok := m.sessions.Get(sessionID)
	if !ok {
		return StateFailed
	}

	return Band(m.now().Sub(s.LastActivity), m.sessions.Timeout())
}

// Delay returns the back-off required after attempt number attempt (1-based).
func (m *Manager) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	d := m.cfg.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= m.cfg.MaxDelay {
			return m.cfg.MaxDelay
		}
	}

	if d > m.cfg.MaxDelay {
		return m.cfg.MaxDelay
	}

	return d
}

// AttemptRecovery runs fn if the session is below the retry cap and its
// back-off has elapsed. It reports whether fn ran and succeeded.
func (m *Manager) AttemptRecovery(ctx context.Context, sessionID string, fn RecoveryFunc) (bool, error) {
	now := m.now()

	m.mu.Lock()

	rec, ok := m.records[sessionID]
	if !ok {
		rec = &Record{SessionID: sessionID, State: StateHealthy}
		m.records[sessionID] = rec
	}

	if rec.RetryCount >= m.cfg.MaxRetryAttempts {
		rec.State = StateFailed
		m.mu.Unlock()

		m.metrics.RecoveryAttempt("exhausted")
		m.logger.Warn("Recovery retries exhausted",
			zap.String("session_id", sessionID),
			zap.Int("max_retry_attempts", m.cfg.MaxRetryAttempts),
		)

		return false, ErrRetriesExhausted
	}

	if wait := m.Delay(rec.RetryCount); now.Sub(rec.LastRetry) < wait {
		m.mu.Unlock()

		m.metrics.RecoveryAttempt("not_due")

		return false, ErrNotYetDue
	}

	rec.State = StateRecovering
	rec.RetryCount++
	rec.LastRetry = now
	attempt := rec.RetryCount
	m.mu.Unlock()

	err := fn(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Forget may have dropped the record while fn ran.
	rec, ok = m.records[sessionID]
	if !ok {
		rec = &Record{SessionID: sessionID}
		m.records[sessionID] = rec
	}

	if err != nil {
		rec.ConsecutiveFailures++
		rec.State = StateFailed

		m.metrics.RecoveryAttempt("failure")
		m.logger.Warn("Recovery attempt failed",
			zap.String("session_id", sessionID),
			zap.Int("attempt", attempt),
			zap.Int("consecutive_failures", rec.ConsecutiveFailures),
			zap.Error(err),
		)

		return false, err
	}

	rec.RetryCount = 0
	rec.ConsecutiveFailures = 0
	rec.State = StateHealthy

	m.metrics.RecoveryAttempt("success")
	m.logger.Info("Recovery succeeded",
		zap.String("session_id", sessionID),
		zap.Int("attempt", attempt),
	)

	return true, nil
}

// Reset clears the retry state so a capped session may be retried again.
func (m *Manager) Reset(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[sessionID]; ok {
		*rec = Record{SessionID: sessionID, State: StateHealthy}
	}
}

// Forget drops the record, typically when the session is destroyed.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	delete(m.records, sessionID)
	m.mu.Unlock()
}

// Record returns a copy of the session's retry state.
func (m *Manager) Record(sessionID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[sessionID]
	if !ok {
		return Record{}, false
	}

	return *rec, true
}

// Scan computes the health of every session and tracked record, publishes
// the per-state counts, and returns the degraded, failed and recovering set.
func (m *Manager) Scan() []SessionHealth {
	now := m.now()
	timeout := m.sessions.Timeout()
	snapshot := m.sessions.Snapshot()

	counts := map[string]int{
		string(StateHealthy):    0,
		string(StateDegraded):   0,
		string(StateFailed):     0,
		string(StateRecovering): 0,
	}

	m.mu.Lock()

	seen := make(map[string]bool, len(snapshot))

	var unhealthy []SessionHealth

	for _, s := range snapshot {
		seen[s.ID] = true

		h := SessionHealth{
			SessionID: s.ID,
			IdleFor:   now.Sub(s.LastActivity),
		}
		h.State = Band(h.IdleFor, timeout)

		if rec, ok := m.records[s.ID]; ok {
			h.RetryCount = rec.RetryCount
			if rec.State == StateFailed || rec.State == StateRecovering {
				h.State = rec.State
			}
		}

		counts[string(h.State)]++

		if h.State != StateHealthy {
			unhealthy = append(unhealthy, h)
		}
	}

	// Records whose session is gone are reported once as failed, then dropped.
	for id, rec := range m.records {
		if seen[id] {
			continue
		}

		counts[string(StateFailed)]++
		unhealthy = append(unhealthy, SessionHealth{SessionID: id, State: StateFailed, RetryCount: rec.RetryCount})
		delete(m.records, id)
	}

	sort.Slice(unhealthy, func(i, j int) bool { return unhealthy[i].SessionID < unhealthy[j].SessionID })
	m.unhealthy = unhealthy
	m.mu.Unlock()

	m.metrics.SetSessionHealth(counts)

	if len(unhealthy) > 0 {
		m.logger.Info("Unhealthy sessions detected",
			zap.Int("degraded", counts[string(StateDegraded)]),
			zap.Int("failed", counts[string(StateFailed)]),
			zap.Int("recovering", counts[string(StateRecovering)]),
		)
	}

	return unhealthy
}

// Unhealthy returns the set computed by the most recent Scan.
func (m *Manager) Unhealthy() []SessionHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]SessionHealth(nil), m.unhealthy...)
}

// Monitor scans every MonitorInterval until ctx is done.
func (m *Manager) Monitor(ctx context.Context) {
	interval := m.cfg.MonitorInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("Session health monitor started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Scan()
		}
	}
}
