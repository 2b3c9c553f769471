package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCollector_Counters(t *testing.T) {
	reg := InitializeMetricsRegistry()
	c := NewCollector(zap.NewNop(), reg)

	c.RecordConnection("srv", true)
	c.RecordConnection("srv", false)
	c.RecordConnection("srv", true)
	c.RecordOperation(true, 10*time.Millisecond)
	c.RecordOperation(false, 30*time.Millisecond)

	s := c.Snapshot()
	assert.Equal(t, int64(2), s.ConnectionSuccesses)
	assert.Equal(t, int64(1), s.ConnectionFailures)
	assert.Equal(t, int64(1), s.OperationSuccesses)
	assert.Equal(t, int64(1), s.OperationFailures)
	assert.Equal(t, 20*time.Millisecond, s.AverageLatency)
	assert.Equal(t, 2, s.Samples)

	assert.InDelta(t, 2, testutil.ToFloat64(reg.PoolCreateTotal.WithLabelValues("srv", "success")), 0)
}

func TestCollector_RollingWindow(t *testing.T) {
	c := NewCollectorWithWindow(zap.NewNop(), nil, 3)

	for _, ms := range []int{100, 100, 100, 10, 10, 10} {
		c.RecordOperation(true, time.Duration(ms)*time.Millisecond)
	}

	s := c.Snapshot()
	assert.Equal(t, 3, s.Samples)
	assert.Equal(t, 10*time.Millisecond, s.AverageLatency, "only the most recent samples count")
	assert.Equal(t, int64(6), s.OperationSuccesses)
}

func TestCollector_EmptySnapshot(t *testing.T) {
	s := NewCollectorWithWindow(zap.NewNop(), nil, 0).Snapshot()

	assert.Zero(t, s.AverageLatency)
	assert.Zero(t, s.Samples)
}

func TestCollector_Report(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := NewCollector(zap.New(core), nil)
	c.RecordOperation(true, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Report(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("Gateway statistics").Len() > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	entry := logs.FilterMessage("Gateway statistics").All()[0]
	assert.Equal(t, int64(1), entry.ContextMap()["operation_successes"])
}

func TestCollector_ReportDisabled(t *testing.T) {
	c := NewCollector(zap.NewNop(), nil)

	done := make(chan struct{})
	go func() {
		c.Report(context.Background(), 0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Report with a zero interval should return immediately")
	}
}
