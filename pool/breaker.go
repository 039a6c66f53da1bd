package pool

import (
	"sync"
	"time"
)

// BreakerState is the state of a pool's circuit breaker.
type BreakerState int

const (
	// BreakerClosed lets every acquisition through.
	BreakerClosed BreakerState = iota
	// BreakerOpen refuses acquisitions until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen lets acquisitions through until a success closes the breaker.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s BreakerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// BreakerSnapshot is a read-only view of a breaker.
type BreakerSnapshot struct {
	State       BreakerState `json:"state"`
	Failures    int          `json:"failures"`
	LastFailure time.Time    `json:"lastFailure"`
	NextAttempt time.Time    `json:"nextAttempt"`
	Opens       int64        `json:"opens"`
}

// CircuitBreaker gates acquisitions for one pool.
// The open to half-open transition is lazy: it happens on the first query at or after NextAttempt.
// Only RecordSuccess moves a half-open breaker back to closed.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       BreakerState
	failures    int
	lastFailure time.Time
	nextAttempt time.Time
	opens       int64

	threshold int
	timeout   time.Duration
	now       func() time.Time

	onStateChange func(from, to BreakerState)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(threshold int, timeout time.Duration, now func() time.Time) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		state:     BreakerClosed,
		threshold: threshold,
		timeout:   timeout,
		now:       now,
	}
}

// OnStateChange registers a callback invoked with the breaker lock held.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to BreakerState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Configure updates threshold and cooldown; the current state is kept.
func (cb *CircuitBreaker) Configure(threshold int, timeout time.Duration) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.threshold = threshold
	cb.timeout = timeout
}

// State returns the current state, applying the lazy open to half-open transition.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

// Allow reports whether an acquisition may be attempted. Half-open counts as passable.
func (cb *CircuitBreaker) Allow() bool {
	return cb.State() != BreakerOpen
}

// RecordFailure counts a failure and opens the breaker once the threshold is reached.
// Every failure at or above the threshold pushes NextAttempt forward.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.failures++
	cb.lastFailure = now
	if cb.failures >= cb.threshold {
		cb.nextAttempt = now.Add(cb.timeout)
		cb.setState(BreakerOpen)
	}
}

// RecordSuccess closes a half-open breaker and clears the failure count.
// It is a no-op in any other state.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.stateLocked() != BreakerHalfOpen {
		return
	}
	cb.failures = 0
	cb.setState(BreakerClosed)
}

// Snapshot returns the breaker fields after applying the lazy transition.
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerSnapshot{
		State:       cb.stateLocked(),
		Failures:    cb.failures,
		LastFailure: cb.lastFailure,
		NextAttempt: cb.nextAttempt,
		Opens:       cb.opens,
	}
}

func (cb *CircuitBreaker) stateLocked() BreakerState {
	if cb.state == BreakerOpen && !cb.now().Before(cb.nextAttempt) {
		cb.setState(BreakerHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to == BreakerOpen {
		cb.opens++
	}
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}
