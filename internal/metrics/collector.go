package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultLatencyWindow is the number of most recent operation latencies the
// rolling average is computed over.
const DefaultLatencyWindow = 100

// Snapshot is a point-in-time copy of the in-process counters.
type Snapshot struct {
	ConnectionSuccesses int64         `json:"connection_successes"`
	ConnectionFailures  int64         `json:"connection_failures"`
	OperationSuccesses  int64         `json:"operation_successes"`
	OperationFailures   int64         `json:"operation_failures"`
	AverageLatency      time.Duration `json:"average_latency"`
	Samples             int           `json:"samples"`
}

// Collector keeps in-process connection and operation statistics, including
// a rolling average of the most recent operation latencies.
type Collector struct {
	mu sync.Mutex

	connSuccess int64
	connFailure int64
	opSuccess   int64
	opFailure   int64

	window  []time.Duration
	next    int
	filled  bool
	sum     time.Duration
	logger  *zap.Logger
	promReg *Registry
}

// NewCollector creates a collector with the default latency window. reg may be nil.
func NewCollector(logger *zap.Logger, reg *Registry) *Collector {
	return NewCollectorWithWindow(logger, reg, DefaultLatencyWindow)
}

// NewCollectorWithWindow creates a collector with a custom latency window.
func NewCollectorWithWindow(logger *zap.Logger, reg *Registry, size int) *Collector {
	if size <= 0 {
		size = DefaultLatencyWindow
	}

	return &Collector{
		window:  make([]time.Duration, size),
		logger:  logger,
		promReg: reg,
	}
}

// RecordConnection records an upstream connection attempt for server.
func (c *Collector) RecordConnection(server string, ok bool) {
	c.mu.Lock()
	if ok {
		c.connSuccess++
	} else {
		c.connFailure++
	}
	c.mu.Unlock()

	c.promReg.PoolConnect(server, ok)
}

// RecordOperation records the outcome and latency of one operation.
func (c *Collector) RecordOperation(ok bool, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ok {
		c.opSuccess++
	} else {
		c.opFailure++
	}

	c.sum -= c.window[c.next]
	c.window[c.next] = latency
	c.sum += latency

	c.next++
	if c.next == len(c.window) {
		c.next = 0
		c.filled = true
	}
}

// Snapshot returns the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.next
	if c.filled {
		n = len(c.window)
	}

	var avg time.Duration
	if n > 0 {
		avg = c.sum / time.Duration(n)
	}

	return Snapshot{
		ConnectionSuccesses: c.connSuccess,
		ConnectionFailures:  c.connFailure,
		OperationSuccesses:  c.opSuccess,
		OperationFailures:   c.opFailure,
		AverageLatency:      avg,
		Samples:             n,
	}
}

// Report logs a snapshot every interval until ctx is done.
func (c *Collector) Report(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := c.Snapshot()
			c.logger.Info("Gateway statistics",
				zap.Int64("connection_successes", s.ConnectionSuccesses),
				zap.Int64("connection_failures", s.ConnectionFailures),
				zap.Int64("operation_successes", s.OperationSuccesses),
				zap.Int64("operation_failures", s.OperationFailures),
				zap.Duration("average_latency", s.AverageLatency),
			)
		}
	}
}
