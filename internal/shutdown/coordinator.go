// Package shutdown sequences the gateway's termination: stop admitting new
// work, close every registered resource in parallel, and bound the wait
// with a grace period.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// State is the coordinator's lifecycle state.
type State int32

const (
	StateRunning State = iota
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const defaultGracePeriod = 10 * time.Second

// CloseFunc releases one resource during shutdown.
type CloseFunc func(ctx context.Context) error

type closer struct {
	name string
	fn   CloseFunc
}

// Coordinator runs exactly one shutdown sequence per process.
type Coordinator struct {
	grace  time.Duration
	logger *zap.Logger

	state atomic.Int32

	mu      sync.Mutex
	onDrain []func()
	closers []closer

	once sync.Once
	done chan struct{}
	err  error
}

// CreateCoordinator creates a coordinator in the running state.
func CreateCoordinator(grace time.Duration, logger *zap.Logger) *Coordinator {
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	return &Coordinator{
		grace:  grace,
		logger: logger.With(zap.String("component", "shutdown")),
		done:   make(chan struct{}),
	}
}

// OnDrain registers fn to run synchronously when draining begins, before
// any closer. Used to stop admitting sessions.
func (c *Coordinator) OnDrain(fn func()) {
	c.mu.Lock()
	c.onDrain = append(c.onDrain, fn)
	c.mu.Unlock()
}

// Register adds a closer. All closers run concurrently during shutdown.
func (c *Coordinator) Register(name string, fn CloseFunc) {
	c.mu.Lock()
	c.closers = append(c.closers, closer{name: name, fn: fn})
	c.mu.Unlock()
}

// State returns the current state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Draining reports whether shutdown has begun.
func (c *Coordinator) Draining() bool {
	return c.State() != StateRunning
}

// Done is closed once the shutdown sequence has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Run blocks until SIGINT or SIGTERM arrives or ctx ends, then shuts down.
// Signals received while shutting down are logged and ignored.
func (c *Coordinator) Run(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		c.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		c.logger.Info("Context canceled, shutting down")
	}

	go func() {
		for {
			select {
			case sig := <-sigChan:
				c.logger.Warn("Shutdown already in progress, ignoring signal", zap.String("signal", sig.String()))
			case <-c.done:
				return
			}
		}
	}()

	return c.Shutdown()
}

// Shutdown runs the shutdown sequence. Concurrent and repeated calls wait
// for the single sequence and return its result.
func (c *Coordinator) Shutdown() error {
	c.once.Do(func() {
		c.err = c.run()
		close(c.done)
	})

	<-c.done

	return c.err
}

func (c *Coordinator) run() error {
	c.state.Store(int32(StateDraining))
	c.logger.Info("Starting graceful shutdown", zap.Duration("grace_period", c.grace))

	c.mu.Lock()
	onDrain := append([]func(){}, c.onDrain...)
	closers := append([]closer{}, c.closers...)
	c.mu.Unlock()

	for _, fn := range onDrain {
		fn()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.grace)
	defer cancel()

	var g errgroup.Group

	for _, cl := range closers {
		g.Go(func() error {
			start := time.Now()

			if err := cl.fn(ctx); err != nil {
				c.logger.Error("Error closing resource",
					zap.String("resource", cl.name),
					zap.Error(err),
				)

				return err
			}

			c.logger.Debug("Closed resource",
				zap.String("resource", cl.name),
				zap.Duration("duration", time.Since(start)),
			)

			return nil
		})
	}

	result := make(chan error, 1)

	go func() {
		result <- g.Wait()
	}()

	var err error

	select {
	case err = <-result:
	case <-ctx.Done():
		c.logger.Warn("Shutdown grace period elapsed, waiting for cleanup to settle",
			zap.Duration("grace_period", c.grace),
		)

		err = <-result
	}

	c.state.Store(int32(StateStopped))
	c.logger.Info("Shutdown complete")

	return err
}
