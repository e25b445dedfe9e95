package evoasync

import (
	"time"

	"github.com/sony/gobreaker/v2"
)

// CircuitBreaker wraps circuit breaker functionality for a BackendPool
// execution result of type T. This allows callers to provide their own
// implementation in place of GoBreakerWrapper.
type CircuitBreaker[T any] interface {
	// Execute runs fn if the circuit breaker is closed. Returns an error if
	// the circuit is open or if fn fails.
	Execute(fn func() (T, error)) (T, error)

	// State returns the current state of the circuit breaker.
	State() CircuitBreakerState
}

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState int

const (
	CircuitStateClosed CircuitBreakerState = iota
	CircuitStateHalfOpen
	CircuitStateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case CircuitStateClosed:
		return "closed"
	case CircuitStateHalfOpen:
		return "half-open"
	case CircuitStateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// GoBreakerWrapper adapts gobreaker.CircuitBreaker[T] to CircuitBreaker[T].
type GoBreakerWrapper[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

func (w *GoBreakerWrapper[T]) Execute(fn func() (T, error)) (T, error) {
	return w.cb.Execute(fn)
}

func (w *GoBreakerWrapper[T]) State() CircuitBreakerState {
	switch w.cb.State() {
	case gobreaker.StateClosed:
		return CircuitStateClosed
	case gobreaker.StateHalfOpen:
		return CircuitStateHalfOpen
	case gobreaker.StateOpen:
		return CircuitStateOpen
	default:
		return CircuitStateClosed
	}
}

// NewGoBreaker creates a circuit breaker using gobreaker for result type T.
func NewGoBreaker[T any](settings gobreaker.Settings) CircuitBreaker[T] {
	return &GoBreakerWrapper[T]{cb: gobreaker.NewCircuitBreaker[T](settings)}
}

// NewGobreakerConfig returns a factory that creates one circuit breaker per
// backend address, keyed by address for named-breaker metrics (the
// teacher's per-server breaker-factory idiom, generalized to BackendPool's
// result type T).
func NewGobreakerConfig[T any](maxRequests uint32, interval, timeout time.Duration) func(backendAddr string) CircuitBreaker[T] {
	return func(backendAddr string) CircuitBreaker[T] {
		settings := gobreaker.Settings{
			Name:        backendAddr,
			MaxRequests: maxRequests,
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
		}
		return NewGoBreaker[T](settings)
	}
}
