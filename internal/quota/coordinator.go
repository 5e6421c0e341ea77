package quota

import (
	"context"
	"time"
)

// Status is the outcome discriminator carried on an Outcome record.
type Status string

const (
	StatusAdmitted    Status = "admitted"
	StatusRateLimited Status = "rate_limited"
	StatusExhausted   Status = "exhausted"
	StatusBackendErr  Status = "backend_error"
	StatusCancelled   Status = "cancelled"
)

// Outcome is the stable record returned by Acquire.
type Outcome struct {
	Status      Status
	ResourceKey string
	LimitType   LimitTypeName
	N           float64
	W           float64
	Wait        float64
	Load        float64
	Backend     string
	Err         error
}

// AcquireOptions carries the optional arguments to Acquire: the user
// scope, the request's weight, and an optional deadline.
type AcquireOptions struct {
	UserID string
	Weight float64
	// Deadline bounds how long Acquire may retry. A Deadline that is not
	// after the call's start time means "do not sleep at all" — the
	// caller opted out, so a rejection surfaces immediately as
	// rate_limited. A nil Deadline blocks up to the widest active window.
	Deadline *time.Time
}

// Coordinator is the admit/sleep coordinator: the top-level entry point
// callers use, consulting the Manager and optionally sleeping between
// retries.
type Coordinator struct {
	manager *Manager
	clock   Clock
	logger  Logger
	metrics Metrics
	backend string
}

// CoordinatorOption configures optional collaborators.
type CoordinatorOption func(*Coordinator)

func WithLogger(l Logger) CoordinatorOption { return func(c *Coordinator) { c.logger = l } }
func WithMetrics(m Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewCoordinator wires a Manager and Clock together. backend names the
// store variant recorded on each Outcome and its log records.
func NewCoordinator(manager *Manager, clock Clock, backend string, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		manager: manager,
		clock:   clock,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		backend: backend,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// widestWindow returns the largest W among resource's active limits, the
// bound on total retry time.
func (c *Coordinator) widestWindow(resource string) time.Duration {
	var widest time.Duration
	for _, spec := range c.manager.activeSpecs(resource) {
		if spec.W > widest {
			widest = spec.W
		}
	}
	return widest
}

// Acquire checks the resource, and if rejected, sleeps and retries until
// admitted, the retry bound is exhausted, or the context is cancelled.
func (c *Coordinator) Acquire(ctx context.Context, resource string, opts AcquireOptions) Outcome {
	weight := opts.Weight
	if weight <= 0 {
		weight = 1
	}
	key := resourceKey(resource, opts.UserID)
	start := c.clock.Now()

	immediate := opts.Deadline != nil && !opts.Deadline.After(start)
	bound := c.widestWindow(resource)
	if opts.Deadline != nil {
		if remaining := opts.Deadline.Sub(start); remaining < bound {
			if remaining < 0 {
				remaining = 0
			}
			bound = remaining
		}
	}

	for {
		checkStart := c.clock.Now()
		decision, err := c.manager.Evaluate(ctx, resource, key, weight)
		c.metrics.ObserveCheckLatency(c.clock.Now().Sub(checkStart))
		if err != nil {
			outcome := Outcome{Status: StatusBackendErr, ResourceKey: key, Backend: c.backend, Err: err}
			c.metrics.IncBackendError("evaluate")
			c.logger.Warn("quota backend error", F("resource_key", key), F("error", err.Error()), F("backend", c.backend))
			return outcome
		}

		elapsed := c.clock.Now().Sub(start).Seconds()

		if decision.Admitted {
			outcome := Outcome{Status: StatusAdmitted, ResourceKey: key, Backend: c.backend}
			c.metrics.IncCheck("admitted", "")
			c.logger.Info("quota admitted", F("resource_key", key), F("elapsed", elapsed), F("backend", c.backend))
			return outcome
		}

		rejected := Outcome{
			Status:      StatusRateLimited,
			ResourceKey: key,
			LimitType:   decision.LimitType,
			N:           decision.N,
			W:           decision.W,
			Wait:        decision.Wait,
			Load:        decision.Load,
			Backend:     c.backend,
		}
		c.metrics.IncCheck("rejected", string(decision.LimitType))

		if immediate {
			c.logger.Info("quota rate limited", F("resource_key", key), F("limit_type", string(decision.LimitType)), F("n", decision.N), F("w", decision.W), F("wait", decision.Wait), F("load", decision.Load), F("backend", c.backend))
			return rejected
		}

		if elapsed+decision.Wait > bound.Seconds() {
			exhausted := rejected
			exhausted.Status = StatusExhausted
			exhausted.Wait = elapsed
			c.logger.Info("quota exhausted", F("resource_key", key), F("limit_type", string(decision.LimitType)), F("n", decision.N), F("w", decision.W), F("wait", decision.Wait), F("load", decision.Load), F("elapsed", elapsed), F("backend", c.backend))
			return exhausted
		}

		select {
		case <-ctx.Done():
			cancelled := rejected
			cancelled.Status = StatusCancelled
			cancelled.Wait = elapsed
			c.logger.Info("quota cancelled", F("resource_key", key), F("limit_type", string(decision.LimitType)), F("n", decision.N), F("w", decision.W), F("load", decision.Load), F("elapsed", elapsed), F("backend", c.backend))
			return cancelled
		default:
		}

		c.logger.Info("quota sleeping", F("resource_key", key), F("limit_type", string(decision.LimitType)), F("n", decision.N), F("w", decision.W), F("wait", decision.Wait), F("load", decision.Load), F("backend", c.backend))
		if !c.sleep(ctx, decision.Wait) {
			cancelled := rejected
			cancelled.Status = StatusCancelled
			cancelled.Wait = c.clock.Now().Sub(start).Seconds()
			c.logger.Info("quota cancelled", F("resource_key", key), F("limit_type", string(decision.LimitType)), F("n", decision.N), F("w", decision.W), F("load", decision.Load), F("elapsed", cancelled.Wait), F("backend", c.backend))
			return cancelled
		}
	}
}

// sleep waits for d seconds, honoring ctx cancellation; returns false if
// ctx was cancelled before the sleep completed.
func (c *Coordinator) sleep(ctx context.Context, d float64) bool {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	select {
	case <-ctx.Done():
		return false
	case <-c.clock.After(time.Duration(d * float64(time.Second))):
		return true
	}
}
