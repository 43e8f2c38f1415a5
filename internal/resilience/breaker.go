// Package resilience provides the circuit breaker guarding remote detector
// calls.
//
// The [Breaker] is a classic three-state machine (closed, open, half-open):
// consecutive failures trip it open, calls are rejected with [ErrOpen] until
// the reset timeout elapses, then a limited number of probe calls decide
// whether it closes again. With an LLM-backed intent detector the breaker
// keeps a failing backend from adding a timeout's worth of latency to every
// closed utterance; rejected calls fall through to the heuristic detector
// immediately.
//
// All methods are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Execute] while the breaker rejects calls.
var ErrOpen = errors.New("resilience: breaker open")

const (
	defaultTripAfter    = 5
	defaultResetTimeout = 30 * time.Second
	defaultProbeQuota   = 3
)

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Option is a functional option for configuring a [Breaker].
type Option func(*Breaker)

// WithTripAfter sets how many consecutive failures open the breaker.
// Default: 5.
func WithTripAfter(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.tripAfter = n
		}
	}
}

// WithResetTimeout sets how long the breaker stays open before probing.
// Default: 30s.
func WithResetTimeout(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.resetTimeout = d
		}
	}
}

// WithProbeQuota sets how many half-open probe calls may run before the
// breaker decides. Default: 3.
func WithProbeQuota(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.probeQuota = n
		}
	}
}

// WithClock injects a deterministic clock for tests.
func WithClock(clock func() time.Time) Option {
	return func(b *Breaker) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// Breaker is a three-state circuit breaker.
type Breaker struct {
	name         string
	tripAfter    int
	resetTimeout time.Duration
	probeQuota   int
	clock        func() time.Time

	mu         sync.Mutex
	state      state
	failures   int
	trippedAt  time.Time
	probes     int
	probeFails int
}

// NewBreaker creates a Breaker labelled name for log messages.
func NewBreaker(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:         name,
		tripAfter:    defaultTripAfter,
		resetTimeout: defaultResetTimeout,
		probeQuota:   defaultProbeQuota,
		clock:        time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Execute runs fn if the breaker allows it. While open it returns [ErrOpen]
// without calling fn. No lock is held during fn.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.observe(err)
	return err
}

// admit decides whether a call may proceed, handling the open-to-half-open
// transition.
func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if b.clock().Sub(b.trippedAt) < b.resetTimeout {
			return ErrOpen
		}
		b.state = stateHalfOpen
		b.probes = 0
		b.probeFails = 0
		slog.Info("breaker half-open, probing", "name", b.name)
		b.probes++
		return nil

	case stateHalfOpen:
		if b.probes >= b.probeQuota {
			return ErrOpen
		}
		b.probes++
		return nil

	default:
		return nil
	}
}

// observe records a call outcome and drives the state transitions.
func (b *Breaker) observe(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == stateHalfOpen {
			slog.Info("breaker closed after successful probe", "name", b.name)
		}
		b.state = stateClosed
		b.failures = 0
		return
	}

	switch b.state {
	case stateHalfOpen:
		b.probeFails++
		b.trip()
	default:
		b.failures++
		if b.failures >= b.tripAfter {
			b.trip()
		}
	}
}

// trip opens the breaker. Must be called with b.mu held.
func (b *Breaker) trip() {
	b.state = stateOpen
	b.trippedAt = b.clock()
	b.failures = 0
	slog.Warn("breaker opened",
		"name", b.name,
		"reset_timeout", b.resetTimeout,
	)
}
