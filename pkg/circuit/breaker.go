// Package circuit provides a circuit breaker for calls to optional downstream
// dependencies whose failure must not slow down the caller.
package circuit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned without invoking the call while the circuit is open.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down elapses.
	StateOpen
	// StateHalfOpen lets calls through to probe whether the dependency recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker opens after maxFailures consecutive failures, stays open for
// cooldown, then closes again after successThreshold consecutive successes
// in half-open state. Any half-open failure reopens it.
type Breaker struct {
	maxFailures      int
	successThreshold int
	cooldown         time.Duration
	now              func() time.Time
	onStateChange    func(from, to State)

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithStateChangeHook registers fn to be called, outside the lock, on every transition.
func WithStateChangeHook(fn func(from, to State)) Option {
	return func(b *Breaker) { b.onStateChange = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) { b.now = now }
}

// NewBreaker creates a closed breaker.
func NewBreaker(maxFailures, successThreshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}

	if successThreshold <= 0 {
		successThreshold = 1
	}

	b := &Breaker{
		maxFailures:      maxFailures,
		successThreshold: successThreshold,
		cooldown:         cooldown,
		now:              time.Now,
		state:            StateClosed,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Execute runs fn unless the circuit is open and records its outcome.
// Context cancellation by the caller is not counted as a failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)

	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}

	b.record(err == nil)

	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()

	if b.state != StateOpen {
		b.mu.Unlock()

		return nil
	}

	if b.now().Sub(b.openedAt) < b.cooldown {
		b.mu.Unlock()

		return ErrOpen
	}

	from := b.transition(StateHalfOpen)
	b.mu.Unlock()

	b.notify(from, StateHalfOpen)

	return nil
}

func (b *Breaker) record(ok bool) {
	b.mu.Lock()

	from := b.state
	to := from

	if ok {
		b.failures = 0

		if b.state == StateHalfOpen {
			b.successes++
			if b.successes >= b.successThreshold {
				to = StateClosed
			}
		}
	} else {
		b.failures++

		switch b.state {
		case StateClosed:
			if b.failures >= b.maxFailures {
				to = StateOpen
			}
		case StateHalfOpen:
			to = StateOpen
		case StateOpen:
		}
	}

	if to != from {
		b.transition(to)
	}

	b.mu.Unlock()

	if to != from {
		b.notify(from, to)
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) State {
	from := b.state
	b.state = to
	b.failures = 0
	b.successes = 0

	if to == StateOpen {
		b.openedAt = b.now()
	}

	return from
}

func (b *Breaker) notify(from, to State) {
	if b.onStateChange != nil && from != to {
		b.onStateChange(from, to)
	}
}

// State returns the current state. An open breaker whose cool-down elapsed
// still reports open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.transition(StateClosed)
	b.mu.Unlock()

	b.notify(from, StateClosed)
}
