package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/rayven122/tumiki-sub015/internal/testutil"
)

func TestShutdown_RunsDrainThenClosers(t *testing.T) {
	c := CreateCoordinator(time.Second, testutil.NewTestLogger(t))
	assert.Equal(t, StateRunning, c.State())

	var (
		mu    sync.Mutex
		order []string
	)

	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	c.OnDrain(func() {
		assert.Equal(t, StateDraining, c.State())
		record("drain")
	})
	c.Register("pool", func(context.Context) error { record("pool"); return nil })
	c.Register("store", func(context.Context) error { record("store"); return nil })

	require.NoError(t, c.Shutdown())
	assert.Equal(t, StateStopped, c.State())
	assert.True(t, c.Draining())

	require.Len(t, order, 3)
	assert.Equal(t, "drain", order[0])
	assert.ElementsMatch(t, []string{"pool", "store"}, order[1:])

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
}

func TestShutdown_ClosersRunInParallel(t *testing.T) {
	c := CreateCoordinator(time.Second, testutil.NewTestLogger(t))

	// Each closer waits for the other; run serially this would deadlock.
	a, b := make(chan struct{}), make(chan struct{})

	c.Register("a", func(ctx context.Context) error {
		close(a)
		select {
		case <-b:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	c.Register("b", func(ctx context.Context) error {
		close(b)
		select {
		case <-a:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	require.NoError(t, c.Shutdown())
}

func TestShutdown_OnlyOnce(t *testing.T) {
	c := CreateCoordinator(time.Second, testutil.NewTestLogger(t))

	var calls atomic.Int32

	c.Register("pool", func(context.Context) error {
		calls.Add(1)
		time.Sleep(testutil.MediumDelay)

		return nil
	})

	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			assert.NoError(t, c.Shutdown())
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestShutdown_ReturnsCloserError(t *testing.T) {
	c := CreateCoordinator(time.Second, testutil.NewTestLogger(t))
	boom := errors.New("close failed")

	c.Register("ok", func(context.Context) error { return nil })
	c.Register("bad", func(context.Context) error { return boom })

	assert.ErrorIs(t, c.Shutdown(), boom)
	assert.ErrorIs(t, c.Shutdown(), boom)
	assert.Equal(t, StateStopped, c.State())
}

func TestShutdown_GraceElapsedStillWaits(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	c := CreateCoordinator(testutil.ShortDelay, zap.New(core))

	finished := make(chan struct{})

	// Ignores its context and outlives the grace period.
	c.Register("slow", func(context.Context) error {
		time.Sleep(5 * testutil.ShortDelay)
		close(finished)

		return nil
	})

	require.NoError(t, c.Shutdown())

	select {
	case <-finished:
	default:
		t.Fatal("shutdown returned before the closer settled")
	}

	assert.Equal(t, 1, logs.FilterMessage("Shutdown grace period elapsed, waiting for cleanup to settle").Len())
}

func TestShutdown_GraceCancelsContext(t *testing.T) {
	c := CreateCoordinator(testutil.ShortDelay, testutil.NewTestLogger(t))

	c.Register("cooperative", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, c.Shutdown(), context.DeadlineExceeded)
}

func TestRun_ContextCancel(t *testing.T) {
	c := CreateCoordinator(time.Second, testutil.NewTestLogger(t))

	drained := make(chan struct{})
	c.OnDrain(func() { close(drained) })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)

	go func() { errCh <- c.Run(ctx) }()

	assert.Equal(t, StateRunning, c.State())
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(testutil.MediumTimeout):
		t.Fatal("Run did not return")
	}

	<-drained
	assert.Equal(t, StateStopped, c.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(9).String())
}
