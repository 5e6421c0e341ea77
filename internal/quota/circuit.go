package quota

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"
)

// CircuitState represents breaker state.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitOptions configures breaker thresholds. OpenDuration is the base
// cooldown; repeated trips back off exponentially from there (capped at
// MaxOpenDuration) so a shared store that keeps failing its half-open
// probes gets progressively more room to recover instead of being
// re-probed at a fixed cadence.
type CircuitOptions struct {
	FailureThreshold int64
	OpenDuration     time.Duration
	MaxOpenDuration  time.Duration
	HalfOpenMaxCalls int64
	JitterFactor     float64
}

// CircuitBreaker gates calls to a Store backend. Used to fail fast against
// a shared store that is down rather than letting every Acquire pay the
// full timeout; a breaker trip is reported as a backend error without
// waiting out the timeout again.
type CircuitBreaker struct {
	state            atomic.Int32
	openUntil        atomic.Int64
	failures         atomic.Int64
	halfOpenInFlight atomic.Int64
	trips            atomic.Int64
	opts             CircuitOptions
}

// NewCircuitBreaker constructs a breaker with defaults.
func NewCircuitBreaker(opts CircuitOptions) *CircuitBreaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 10
	}
	if opts.OpenDuration <= 0 {
		opts.OpenDuration = 200 * time.Millisecond
	}
	if opts.MaxOpenDuration <= 0 {
		opts.MaxOpenDuration = 10 * opts.OpenDuration
	}
	if opts.HalfOpenMaxCalls <= 0 {
		opts.HalfOpenMaxCalls = 5
	}
	if opts.JitterFactor <= 0 {
		opts.JitterFactor = 0.2
	}
	cb := &CircuitBreaker{opts: opts}
	cb.state.Store(int32(CircuitClosed))
	return cb
}

// CircuitStats is a snapshot for telemetry: how many times the breaker has
// tripped open and how it currently sits.
type CircuitStats struct {
	State         CircuitState
	Trips         int64
	FailureStreak int64
}

// Stats reports the breaker's current counters, nil-safe.
func (cb *CircuitBreaker) Stats() CircuitStats {
	if cb == nil {
		return CircuitStats{State: CircuitClosed}
	}
	return CircuitStats{
		State:         CircuitState(cb.state.Load()),
		Trips:         cb.trips.Load(),
		FailureStreak: cb.failures.Load(),
	}
}

// nextOpenDuration backs off exponentially by consecutive trip count,
// jittered by +/-JitterFactor so a pool of breakers against the same
// backend doesn't all probe it on the same tick. trips is the count prior
// to the trip being recorded, so the first trip uses the base duration.
func (cb *CircuitBreaker) nextOpenDuration(trips int64) time.Duration {
	scaled := float64(cb.opts.OpenDuration) * math.Pow(2, float64(trips))
	max := float64(cb.opts.MaxOpenDuration)
	if scaled > max {
		scaled = max
	}
	jitter := rand.Float64() * scaled * cb.opts.JitterFactor
	if rand.Float64() < 0.5 {
		scaled -= jitter
	} else {
		scaled += jitter
	}
	if scaled < 0 {
		scaled = 0
	}
	if scaled > max {
		scaled = max
	}
	return time.Duration(scaled)
}

// Allow reports whether the call should proceed.
func (cb *CircuitBreaker) Allow() bool {
	if cb == nil {
		return true
	}
	switch CircuitState(cb.state.Load()) {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Now().UnixNano() >= cb.openUntil.Load() {
			cb.state.Store(int32(CircuitHalfOpen))
			cb.halfOpenInFlight.Store(0)
			return true
		}
		return false
	case CircuitHalfOpen:
		inFlight := cb.halfOpenInFlight.Add(1)
		if inFlight <= cb.opts.HalfOpenMaxCalls {
			return true
		}
		cb.halfOpenInFlight.Add(-1)
		return false
	default:
		return true
	}
}

// OnSuccess records a successful call.
func (cb *CircuitBreaker) OnSuccess() {
	if cb == nil {
		return
	}
	switch CircuitState(cb.state.Load()) {
	case CircuitHalfOpen:
		cb.halfOpenInFlight.Add(-1)
		cb.failures.Store(0)
		cb.trips.Store(0)
		cb.state.Store(int32(CircuitClosed))
	case CircuitClosed:
		cb.failures.Store(0)
	}
}

// OnFailure records a failure and updates state.
func (cb *CircuitBreaker) OnFailure() {
	if cb == nil {
		return
	}
	if CircuitState(cb.state.Load()) == CircuitHalfOpen {
		cb.halfOpenInFlight.Add(-1)
		cb.failures.Store(cb.opts.FailureThreshold)
		wait := cb.nextOpenDuration(cb.trips.Load())
		cb.trips.Add(1)
		cb.openUntil.Store(time.Now().Add(wait).UnixNano())
		cb.state.Store(int32(CircuitOpen))
		return
	}
	failures := cb.failures.Add(1)
	if failures >= cb.opts.FailureThreshold {
		wait := cb.nextOpenDuration(cb.trips.Load())
		cb.trips.Add(1)
		cb.openUntil.Store(time.Now().Add(wait).UnixNano())
		cb.state.Store(int32(CircuitOpen))
	}
}
