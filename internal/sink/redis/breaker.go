package redis

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Execute while the breaker is rejecting
// writes. The writer treats it as "skip this record quietly": the record
// is already durable in SQLite and the JSONL journal, so Redis fan-out
// can be shed under an outage without log spam.
var ErrCircuitOpen = errors.New("redis writes suspended: circuit open")

// State is the breaker position.
type State int

const (
	StateClosed State = iota // writes flow to Redis
	StateOpen                // writes rejected until the cooldown elapses
	StateHalfOpen            // one trial write in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker sheds Redis pipeline writes after repeated failures.
// Without it a dead Redis turns every record into a full dial timeout on
// the sink goroutine, which backs the fan-out bus up and starts dropping
// records for the healthy sinks too.
//
// maxFailures consecutive errors trip it open. After resetTimeout one
// trial write is let through: success closes the breaker, failure
// re-opens it for another cooldown.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration

	// now is swappable so cooldown behavior is testable without sleeping.
	now func() time.Time

	// OnStateChange, when set, observes every transition.
	OnStateChange func(from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// NewCircuitBreaker creates a breaker that opens after maxFailures
// consecutive errors and retries one trial write after resetTimeout.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Execute runs fn unless the breaker is open and still cooling down, in
// which case it returns ErrCircuitOpen without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

// allow decides whether a call may proceed, moving an expired open
// breaker to half-open on the way.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) <= cb.resetTimeout {
			return false
		}
		cb.transition(StateHalfOpen)
	}
	return true
}

// record folds one call outcome into the breaker state.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == StateHalfOpen {
			cb.transition(StateClosed)
		}
		cb.failures = 0
		return
	}

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.openedAt = cb.now()
		cb.transition(StateOpen)
	}
}

// CurrentState reports the breaker position.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.OnStateChange != nil {
		cb.OnStateChange(from, to)
	}
}
