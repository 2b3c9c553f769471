// Package session tracks long-lived client connections (SSE and streaming
// HTTP), enforces the global session ceiling, and sweeps sessions that timed
// out or exceeded their error budget.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rayven122/tumiki-sub015/internal/config"
	"github.com/rayven122/tumiki-sub015/internal/metrics"
)

// Kind is the client transport of a session.
type Kind string

const (
	KindSSE            Kind = "sse"
	KindStreamableHTTP Kind = "streamable-http"
)

// Reasons a session is destroyed, used as a metrics label.
const (
	ReasonDisconnect = "disconnect"
	ReasonSweep      = "sweep"
	ReasonShutdown   = "shutdown"
)

// CleanupFunc releases resources bound to a session. It is called exactly
// once when the session is destroyed.
type CleanupFunc func() error

// Session is a point-in-time copy of a registered session.
type Session struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	CredentialID string    `json:"credential_id"`
	ClientID     string    `json:"client_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ErrorCount   int       `json:"error_count"`
}

type entry struct {
	Session
	cleanup CleanupFunc
}

// Manager owns the session table.
type Manager struct {
	cfg     config.SessionConfig
	logger  *zap.Logger
	metrics *metrics.Registry
	now     func() time.Time

	mu        sync.Mutex
	sessions  map[string]*entry
	admitting bool

	cleanupStop    chan struct{}
	cleanupStopped chan struct{}
	started        atomic.Bool
	startOnce      sync.Once
	closeOnce      sync.Once
}

// CreateSessionManager creates a session manager. Call Start to run the sweep.
func CreateSessionManager(cfg config.SessionConfig, logger *zap.Logger, reg *metrics.Registry) *Manager {
	return &Manager{
		cfg:            cfg,
		logger:         logger.With(zap.String("component", "session")),
		metrics:        reg,
		now:            time.Now,
		sessions:       make(map[string]*entry),
		admitting:      true,
		cleanupStop:    make(chan struct{}),
		cleanupStopped: make(chan struct{}),
	}
}

// CreateSession registers a new session. The ceiling check and the insert
// happen under one lock hold.
func (m *Manager) CreateSession(kind Kind, credentialID, clientID string, cleanup CleanupFunc) (Session, error) {
	now := m.now()
	e := &entry{
		Session: Session{
			ID:           uuid.NewString(),
			Kind:         kind,
			CredentialID: credentialID,
			ClientID:     clientID,
			CreatedAt:    now,
			LastActivity: now,
		},
		cleanup: cleanup,
	}

	m.mu.Lock()

	if !m.admitting {
		m.mu.Unlock()

		return Session{}, NewAdmissionClosedError()
	}

	if len(m.sessions) >= m.cfg.MaxSessions {
		count := len(m.sessions)
		m.mu.Unlock()

		m.metrics.SessionRejected()
		m.logger.Warn("Session limit reached, refusing new session",
			zap.Int("active_sessions", count),
			zap.Int("max_sessions", m.cfg.MaxSessions),
		)

		return Session{}, NewSessionLimitError(m.cfg.MaxSessions)
	}

	m.sessions[e.ID] = e
	snapshot := e.Session
	m.mu.Unlock()

	m.metrics.SessionCreated(string(kind))
	m.logger.Debug("Session created",
		zap.String("session_id", snapshot.ID),
		zap.String("transport", string(kind)),
		zap.String("client_id", clientID),
	)

	return snapshot, nil
}

// CanCreateNewSession reports whether a new session would be admitted.
func (m *Manager) CanCreateNewSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.admitting && len(m.sessions) < m.cfg.MaxSessions
}

// StopAdmitting makes every later CreateSession fail.
func (m *Manager) StopAdmitting() {
	m.mu.Lock()
	m.admitting = false
	m.mu.Unlock()
}

// Touch refreshes the last activity time. It returns false for unknown ids.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if ok {
		e.LastActivity = m.now()
	}

	return ok
}

// RecordError increments the session error count and returns the new value.
func (m *Manager) RecordError(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return 0
	}

	e.ErrorCount++

	return e.ErrorCount
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]
	if !ok {
		return Session{}, false
	}

	return e.Session, true
}

// IsValid reports whether the session exists, has not timed out, and is
// below the error cap.
func (m *Manager) IsValid(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.sessions[id]

	return ok && m.valid(&e.Session, m.now())
}

func (m *Manager) valid(s *Session, now time.Time) bool {
	if s.ErrorCount >= m.cfg.MaxErrorCount {
		return false
	}

	return now.Sub(s.LastActivity) <= m.cfg.Timeout
}

// Validate returns the session when it is usable, or a not-found/expired error.
func (m *Manager) Validate(id string) (Session, error) {
	m.mu.Lock()
	e, ok := m.sessions[id]

	if !ok {
		m.mu.Unlock()

		return Session{}, NewSessionNotFoundError(id)
	}

	if !m.valid(&e.Session, m.now()) {
		m.mu.Unlock()

		return Session{}, NewSessionExpiredError(id)
	}

	s := e.Session
	m.mu.Unlock()

	return s, nil
}

// Destroy removes the session and runs its cleanup. It returns false if the
// session was already gone.
func (m *Manager) Destroy(id string) bool {
	return m.destroy(id, ReasonDisconnect)
}

func (m *Manager) destroy(id, reason string) bool {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	m.runCleanup(e, reason)

	return true
}

func (m *Manager) runCleanup(e *entry, reason string) {
	m.metrics.SessionDestroyed(reason)

	if e.cleanup == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Session cleanup panicked",
				zap.String("session_id", e.ID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := e.cleanup(); err != nil {
		m.logger.Warn("Session cleanup failed",
			zap.String("session_id", e.ID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// Snapshot returns copies of every registered session.
func (m *Manager) Snapshot() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		out = append(out, e.Session)
	}

	return out
}

// Timeout returns the configured inactivity timeout.
func (m *Manager) Timeout() time.Duration {
	return m.cfg.Timeout
}

// Sweep destroys every invalid session and returns how many were removed.
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()

	var expired []*entry

	for id, e := range m.sessions {
		if !m.valid(&e.Session, now) {
			delete(m.sessions, id)
			expired = append(expired, e)
		}
	}
	m.mu.Unlock()

	for _, e := range expired {
		m.runCleanup(e, ReasonSweep)
	}

	if len(expired) > 0 {
		m.logger.Info("Swept expired sessions", zap.Int("count", len(expired)))
	}

	return len(expired)
}

// DestroyAll removes every session, running each cleanup.
func (m *Manager) DestroyAll() int {
	m.mu.Lock()
	all := make([]*entry, 0, len(m.sessions))

	for id, e := range m.sessions {
		delete(m.sessions, id)
		all = append(all, e)
	}
	m.mu.Unlock()

	for _, e := range all {
		m.runCleanup(e, ReasonShutdown)
	}

	return len(all)
}

// Start runs the periodic sweep until Close is called or ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.started.Store(true)

		go m.sweepLoop(ctx)
	})
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer close(m.cleanupStopped)

	interval := m.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.logger.Info("Session sweep started", zap.Duration("interval", interval))

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return
		case <-m.cleanupStop:
			return
		}
	}
}

// Close stops the sweep and destroys every remaining session.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.cleanupStop)

		if m.started.Load() {
			<-m.cleanupStopped
		}

		n := m.DestroyAll()
		m.logger.Info("Session manager closed", zap.Int("destroyed", n))
	})

	return nil
}
