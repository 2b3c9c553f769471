// Package pool keeps a bounded set of live upstream MCP client connections
// per (instance id, upstream server name) key.
//
// # Connection lifecycle
//
//  1. Acquire looks for an idle entry under the key and marks it active
//     before releasing the lock, so no second caller can take it.
//  2. The candidate is pinged outside the lock. A healthy candidate is lent
//     out; an unhealthy one is closed and discarded.
//  3. With nothing reusable, a slot is reserved under the lock (only if the
//     key is below MaxConnectionsPerServer) and the factory dials outside it.
//  4. Release returns the connection to the idle set without closing it.
//     Discard closes and removes it, typically after a transport failure.
//  5. A background sweep closes idle entries older than IdleTimeout.
//
// The pool never waits for capacity: a full key fails immediately with a
// retryable POOL_EXHAUSTED error.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rayven122/tumiki-sub015/internal/config"
	"github.com/rayven122/tumiki-sub015/internal/metrics"
	"github.com/rayven122/tumiki-sub015/internal/store"
)

// Key identifies one pool.
type Key struct {
	InstanceID string
	ServerName string
}

func (k Key) String() string {
	return k.InstanceID + "/" + k.ServerName
}

// Connection is a live upstream MCP client.
type Connection interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	Ping(ctx context.Context) error
	Close() error
}

// ServerConfig describes how to reach an upstream server. Headers and Env
// may carry credentials and are never logged.
type ServerConfig struct {
	Transport string
	URL       string
	Command   string
	Args      []string
	Env       map[string]string
	Headers   map[string]string
}

// ServerConfigFromTemplate converts a stored template.
func ServerConfigFromTemplate(t store.Template) ServerConfig {
	return ServerConfig{
		Transport: t.Transport,
		URL:       t.URL,
		Command:   t.Command,
		Args:      t.Args,
		Env:       t.Env,
		Headers:   t.Headers,
	}
}

// ConnectionFactory dials upstream servers.
type ConnectionFactory interface {
	Create(ctx context.Context, key Key, cfg ServerConfig) (Connection, error)
}

// PooledConnection is a connection lent out by the Manager. The embedded
// Connection is nil while the slot is reserved and the dial is in flight.
type PooledConnection struct {
	Connection

	id        string
	key       Key
	createdAt time.Time
	lastUsed  time.Time
	active    bool
}

// ID returns the pool-assigned connection id.
func (pc *PooledConnection) ID() string { return pc.id }

// Key returns the pool key the connection belongs to.
func (pc *PooledConnection) Key() Key { return pc.key }

// KeyStats holds per-key counts.
type KeyStats struct {
	Active int `json:"active"`
	Idle   int `json:"idle"`
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Keys         map[string]KeyStats `json:"keys"`
	Active       int                 `json:"active"`
	Idle         int                 `json:"idle"`
	CreatedCount int64               `json:"created_count"`
	FailedCount  int64               `json:"failed_count"`
	ClosedCount  int64               `json:"closed_count"`
}

// Manager owns every pooled connection.
type Manager struct {
	cfg       config.PoolConfig
	factory   ConnectionFactory
	logger    *zap.Logger
	collector *metrics.Collector
	metrics   *metrics.Registry
	now       func() time.Time

	mu      sync.Mutex
	entries map[Key][]*PooledConnection
	closed  bool

	created int64
	failed  int64
	evicted int64

	sweepStop    chan struct{}
	sweepStopped chan struct{}
	started      atomic.Bool
	startOnce    sync.Once
	stopOnce     sync.Once
}

// CreatePoolManager creates a pool manager. Call Start to run the idle sweep.
func CreatePoolManager(
	cfg config.PoolConfig,
	factory ConnectionFactory,
	collector *metrics.Collector,
	reg *metrics.Registry,
	logger *zap.Logger,
) *Manager {
	if cfg.MaxConnectionsPerServer <= 0 {
		cfg.MaxConnectionsPerServer = 1
	}

	return &Manager{
		cfg:          cfg,
		factory:      factory,
		logger:       logger.With(zap.String("component", "pool")),
		collector:    collector,
		metrics:      reg,
		now:          time.Now,
		entries:      make(map[Key][]*PooledConnection),
		sweepStop:    make(chan struct{}),
		sweepStopped: make(chan struct{}),
	}
}

// Acquire returns a healthy connection for the key, reusing an idle one
// when possible.
func (m *Manager) Acquire(ctx context.Context, instanceID, serverName string, cfg ServerConfig) (*PooledConnection, error) {
	key := Key{InstanceID: instanceID, ServerName: serverName}

	for {
		m.mu.Lock()

		if m.closed {
			m.mu.Unlock()

			return nil, NewPoolClosedError()
		}

		candidate := m.takeIdleLocked(key)
		if candidate == nil {
			reserved, err := m.reserveLocked(key)
			m.mu.Unlock()

			if err != nil {
				return nil, err
			}

			return m.dial(ctx, reserved, cfg)
		}
		m.mu.Unlock()

		if m.healthy(ctx, candidate) {
			m.logger.Debug("Reusing pooled connection",
				zap.String("conn_id", candidate.id),
				zap.String("server", serverName),
			)

			return candidate, nil
		}

		m.logger.Info("Discarding unhealthy pooled connection",
			zap.String("conn_id", candidate.id),
			zap.String("server", serverName),
		)
		m.Discard(candidate)
	}
}

func (m *Manager) takeIdleLocked(key Key) *PooledConnection {
	for _, pc := range m.entries[key] {
		if !pc.active && pc.Connection != nil {
			pc.active = true

			return pc
		}
	}

	return nil
}

// reserveLocked records a placeholder entry so concurrent acquires see the
// slot as taken while the dial runs outside the lock.
func (m *Manager) reserveLocked(key Key) (*PooledConnection, error) {
	if len(m.entries[key]) >= m.cfg.MaxConnectionsPerServer {
		m.metrics.PoolExhausted(key.ServerName)
		m.logger.Warn("Connection pool at capacity",
			zap.String("server", key.ServerName),
			zap.String("instance_id", key.InstanceID),
			zap.Int("max_connections", m.cfg.MaxConnectionsPerServer),
		)

		return nil, NewPoolExhaustedError(key, m.cfg.MaxConnectionsPerServer)
	}

	now := m.now()
	pc := &PooledConnection{
		id:        uuid.NewString(),
		key:       key,
		createdAt: now,
		lastUsed:  now,
		active:    true,
	}
	m.entries[key] = append(m.entries[key], pc)

	return pc, nil
}

func (m *Manager) dial(ctx context.Context, pc *PooledConnection, cfg ServerConfig) (*PooledConnection, error) {
	dialCtx := ctx
	if m.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()
	}

	start := m.now()
	conn, err := m.factory.Create(dialCtx, pc.key, cfg)
	m.collector.RecordConnection(pc.key.ServerName, err == nil)

	if err != nil {
		m.mu.Lock()
		m.removeLocked(pc)
		m.mu.Unlock()

		atomic.AddInt64(&m.failed, 1)
		m.logger.Warn("Failed to create upstream connection",
			zap.String("server", pc.key.ServerName),
			zap.String("transport", cfg.Transport),
			zap.Error(err),
		)

		return nil, NewConnectError(err, pc.key)
	}

	m.mu.Lock()

	if m.closed || !m.containsLocked(pc) {
		m.mu.Unlock()
		_ = conn.Close()

		return nil, NewPoolClosedError()
	}

	pc.Connection = conn
	pc.lastUsed = m.now()
	m.mu.Unlock()

	atomic.AddInt64(&m.created, 1)
	m.logger.Debug("Created upstream connection",
		zap.String("conn_id", pc.id),
		zap.String("server", pc.key.ServerName),
		zap.Duration("dial_time", m.now().Sub(start)),
	)

	return pc, nil
}

func (m *Manager) healthy(ctx context.Context, pc *PooledConnection) bool {
	pingCtx := ctx
	if m.cfg.HealthCheckTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, m.cfg.HealthCheckTimeout)
		defer cancel()
	}

	return pc.Ping(pingCtx) == nil
}

// Release returns the connection to the idle set. It does not close it.
func (m *Manager) Release(pc *PooledConnection) {
	if pc == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.containsLocked(pc) {
		return
	}

	pc.active = false
	pc.lastUsed = m.now()
}

// Discard closes the connection and removes it from the pool.
func (m *Manager) Discard(pc *PooledConnection) {
	if pc == nil {
		return
	}

	m.mu.Lock()
	removed := m.removeLocked(pc)
	m.mu.Unlock()

	if removed && pc.Connection != nil {
		m.closeConn(pc)
	}
}

func (m *Manager) containsLocked(pc *PooledConnection) bool {
	for _, e := range m.entries[pc.key] {
		if e == pc {
			return true
		}
	}

	return false
}

func (m *Manager) removeLocked(pc *PooledConnection) bool {
	list := m.entries[pc.key]
	for i, e := range list {
		if e != pc {
			continue
		}

		list = append(list[:i], list[i+1:]...)
		if len(list) == 0 {
			delete(m.entries, pc.key)
		} else {
			m.entries[pc.key] = list
		}

		return true
	}

	return false
}

func (m *Manager) closeConn(pc *PooledConnection) {
	if err := pc.Close(); err != nil {
		m.logger.Warn("Failed to close upstream connection",
			zap.String("conn_id", pc.id),
			zap.String("server", pc.key.ServerName),
			zap.Error(err),
		)
	}
}

// Sweep closes idle connections unused for longer than IdleTimeout and
// returns how many were closed.
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()

	var stale []*PooledConnection

	for key, list := range m.entries {
		kept := list[:0]

		for _, pc := range list {
			if !pc.active && pc.Connection != nil && now.Sub(pc.lastUsed) > m.cfg.IdleTimeout {
				stale = append(stale, pc)

				continue
			}

			kept = append(kept, pc)
		}

		if len(kept) == 0 {
			delete(m.entries, key)
		} else {
			m.entries[key] = kept
		}
	}
	m.mu.Unlock()

	for _, pc := range stale {
		m.closeConn(pc)
	}

	if len(stale) > 0 {
		atomic.AddInt64(&m.evicted, int64(len(stale)))
		m.metrics.PoolEvicted(len(stale))
		m.logger.Info("Closed idle upstream connections", zap.Int("count", len(stale)))
	}

	m.publishGauges()

	return len(stale)
}

// CleanupAll closes every connection across every key in parallel and
// clears the pool. Connections currently lent out are closed too.
func (m *Manager) CleanupAll(ctx context.Context) error {
	m.mu.Lock()

	var all []*PooledConnection

	for _, list := range m.entries {
		for _, pc := range list {
			if pc.Connection != nil {
				all = append(all, pc)
			}
		}
	}

	m.entries = make(map[Key][]*PooledConnection)
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)

	for _, pc := range all {
		g.Go(func() error {
			return pc.Close()
		})
	}

	err := g.Wait()

	atomic.AddInt64(&m.evicted, int64(len(all)))
	m.logger.Info("Closed all upstream connections", zap.Int("count", len(all)))
	m.publishGauges()

	return err
}

// Stats returns per-key active and idle counts.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Keys:         make(map[string]KeyStats, len(m.entries)),
		CreatedCount: atomic.LoadInt64(&m.created),
		FailedCount:  atomic.LoadInt64(&m.failed),
		ClosedCount:  atomic.LoadInt64(&m.evicted),
	}

	for key, list := range m.entries {
		var ks KeyStats

		for _, pc := range list {
			if pc.active {
				ks.Active++
			} else {
				ks.Idle++
			}
		}

		s.Keys[key.String()] = ks
		s.Active += ks.Active
		s.Idle += ks.Idle
	}

	return s
}

func (m *Manager) publishGauges() {
	s := m.Stats()
	m.metrics.SetPoolConnections(s.Active, s.Idle)
}

// Start runs the idle sweep until Close is called or ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		m.started.Store(true)

		go m.sweepLoop(ctx)
	})
}

func (m *Manager) sweepLoop(ctx context.Context) {
	defer close(m.sweepStopped)

	interval := m.cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-ctx.Done():
			return
		case <-m.sweepStop:
			return
		}
	}
}

// Close stops the sweep, refuses further acquires, and closes every
// connection.
func (m *Manager) Close(ctx context.Context) error {
	var err error

	m.stopOnce.Do(func() {
		close(m.sweepStop)

		if m.started.Load() {
			<-m.sweepStopped
		}

		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()

		err = m.CleanupAll(ctx)
	})

	return err
}
