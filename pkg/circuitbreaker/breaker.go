// Package circuitbreaker stops calls to a failing dependency after a run of
// consecutive failures.
//
// States:
//   - Closed: calls allowed
//   - Open: calls rejected for the rest of the breaker's lifetime
//
// A breaker is meant to live for one batch of work. The next batch starts
// with a fresh, closed breaker.
package circuitbreaker

import (
	"errors"
	"sync"
)

// ErrOpen is returned by callers when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State int

const (
	Closed State = iota
	Open
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold int // consecutive failures before opening (default: 3)

	// OnStateChange is called with the lock released after every transition.
	OnStateChange func(from, to State)
}

// DefaultThreshold is used when Config.Threshold is not positive.
const DefaultThreshold = 3

// Breaker tracks consecutive failures for one dependency.
type Breaker struct {
	mu       sync.Mutex
	state    State
	failures int
	cfg      Config
}

// New creates a closed breaker.
func New(cfg Config) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Breaker{state: Closed, cfg: cfg}
}

// Allow reports whether a call should be attempted.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == Closed
}

// RecordSuccess clears the failure count of a closed breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Closed {
		b.failures = 0
	}
}

// RecordFailure counts a failure and opens the breaker at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	from := b.state
	b.failures++
	if b.failures >= b.cfg.Threshold {
		b.state = Open
	}
	to := b.state
	b.mu.Unlock()

	if from != to && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
