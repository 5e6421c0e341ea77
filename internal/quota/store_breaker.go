package quota

import "context"

// BreakerStore wraps a Store (normally RedisStore) with a CircuitBreaker,
// tripping open after repeated backend failures so Acquire calls fail
// fast with a backend_error outcome instead of paying the full per-call
// timeout on every retry. Grounded on the teacher's redisLimiter, which
// gates every Redis call through a *CircuitBreaker the same way; the
// breaker's own trip counter is surfaced through Metrics so a string of
// backend outages is visible as more than a spike of backend_error counts.
type BreakerStore struct {
	inner   Store
	breaker *CircuitBreaker
	metrics Metrics
}

func NewBreakerStore(inner Store, breaker *CircuitBreaker) *BreakerStore {
	if breaker == nil {
		breaker = NewCircuitBreaker(CircuitOptions{})
	}
	return &BreakerStore{inner: inner, breaker: breaker, metrics: noopMetrics{}}
}

// WithMetrics attaches a Metrics sink for circuit-trip telemetry.
func (s *BreakerStore) WithMetrics(m Metrics) *BreakerStore {
	if m != nil {
		s.metrics = m
	}
	return s
}

var errCircuitOpen = Wrap(CodeBackendUnreachable, "circuit breaker open", nil)

func (s *BreakerStore) guard(op string, err error) error {
	before := s.breaker.Stats().Trips
	if err != nil {
		s.breaker.OnFailure()
	} else {
		s.breaker.OnSuccess()
	}
	if after := s.breaker.Stats().Trips; after > before {
		s.metrics.IncBackendError(op + "_circuit_open")
	}
	return err
}

func (s *BreakerStore) CheckAndAdmit(ctx context.Context, key string, cutoff, now, weight, limit float64) (CheckResult, error) {
	if !s.breaker.Allow() {
		s.metrics.IncBackendError("check_and_admit_circuit_rejected")
		return CheckResult{}, errCircuitOpen
	}
	result, err := s.inner.CheckAndAdmit(ctx, key, cutoff, now, weight, limit)
	return result, s.guard("check_and_admit", err)
}

func (s *BreakerStore) Remove(ctx context.Context, key string, token string) error {
	return s.inner.Remove(ctx, key, token)
}

func (s *BreakerStore) Load(ctx context.Context, key string, cutoff float64) (float64, error) {
	if !s.breaker.Allow() {
		s.metrics.IncBackendError("load_circuit_rejected")
		return 0, errCircuitOpen
	}
	v, err := s.inner.Load(ctx, key, cutoff)
	return v, s.guard("load", err)
}

func (s *BreakerStore) Oldest(ctx context.Context, key string, cutoff float64) (float64, bool, error) {
	if !s.breaker.Allow() {
		s.metrics.IncBackendError("oldest_circuit_rejected")
		return 0, false, errCircuitOpen
	}
	t, ok, err := s.inner.Oldest(ctx, key, cutoff)
	return t, ok, s.guard("oldest", err)
}

func (s *BreakerStore) Clear(ctx context.Context, key string) error {
	return s.inner.Clear(ctx, key)
}

func (s *BreakerStore) AllKeys(ctx context.Context) ([]string, error) {
	return s.inner.AllKeys(ctx)
}

func (s *BreakerStore) ReportMemory(ctx context.Context) (MemoryReport, error) {
	return s.inner.ReportMemory(ctx)
}

func (s *BreakerStore) Healthy(ctx context.Context) bool {
	return s.breaker.Allow() && s.inner.Healthy(ctx)
}
