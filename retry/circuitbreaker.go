package retry

import (
	"fmt"
	"sync"
	"time"
)

// State is one of the three circuit-breaker states of spec §4.12.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned by Allow when the breaker is open and the
// cooldown has not yet elapsed.
var ErrCircuitOpen = fmt.Errorf("retry: circuit open")

// CircuitBreakerConfig mirrors spec §6's peer_circuit_breaker_threshold and
// peer_circuit_breaker_open_ms.
type CircuitBreakerConfig struct {
	FailureThreshold int
	OpenDuration     time.Duration
}

// DefaultCircuitBreakerConfig returns the default policy: 5 consecutive
// failures open the circuit for 60s. Failures are counted without a time
// window; only a success resets the count.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{FailureThreshold: 5, OpenDuration: 60 * time.Second}
}

// CircuitBreaker tracks one peer's recent reliability (spec §4.12): closed
// allows all calls; five consecutive failures opens it for a cooldown;
// after the cooldown it moves to half-open and allows exactly one trial
// call, closing again on success or reopening on failure.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg CircuitBreakerConfig

	state            State
	consecutiveFails int
	openedAt         time.Time
	halfOpenInFlight bool

	nowFn func() time.Time
}

// NewCircuitBreaker constructs a breaker in the closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: StateClosed, nowFn: time.Now}
}

// Allow reports whether a call should proceed, transitioning open->half-open
// once the cooldown has elapsed.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.nowFn().Sub(b.openedAt) >= b.cfg.OpenDuration {
			b.state = StateHalfOpen
			b.halfOpenInFlight = true
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if b.halfOpenInFlight {
			return ErrCircuitOpen
		}
		b.halfOpenInFlight = true
		return nil
	default:
		return nil
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.consecutiveFails = 0
	b.halfOpenInFlight = false
}

// RecordFailure increments the consecutive-failure count, opening the
// breaker once it reaches the configured threshold, or immediately
// reopening a half-open breaker's failed trial call.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		b.openedAt = b.nowFn()
		b.halfOpenInFlight = false
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.cfg.FailureThreshold {
		b.state = StateOpen
		b.openedAt = b.nowFn()
	}
}

// State reports the breaker's current state.
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
