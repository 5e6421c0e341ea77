package quota

import (
	"context"
)

// Decision is the result of one admission check against a single
// LimitSpec.
type Decision struct {
	Admitted  bool
	Wait      float64
	LoadAfter float64
}

// Limiter evaluates one (N, W) LimitSpec against a Store-backed series.
// It is stateless itself; all state lives in the Store.
type Limiter struct {
	store Store
	clock Clock
}

func newLimiter(store Store, clock Clock) *Limiter {
	return &Limiter{store: store, clock: clock}
}

// checkAndAdmit implements the sliding-window admission check: prune,
// sum, and conditionally record a new entry. key is already namespaced
// by the caller (Coordinator/Manager).
func (l *Limiter) checkAndAdmit(ctx context.Context, key string, spec LimitSpec, weight float64) (Decision, string, error) {
	now := nowSeconds(l.clock)
	windowSeconds := spec.W.Seconds()
	cutoff := now - windowSeconds

	// weight > N is permanently unadmissible; nothing is recorded.
	if weight > spec.N {
		return Decision{Admitted: false, Wait: windowSeconds}, "", nil
	}

	result, err := l.store.CheckAndAdmit(ctx, key, cutoff, now, weight, spec.N)
	if err != nil {
		return Decision{}, "", err
	}

	if result.Admitted {
		return Decision{Admitted: true, Wait: 0, LoadAfter: result.Load}, result.Token, nil
	}

	var wait float64
	if result.HasOldest {
		wait = result.Oldest + windowSeconds - now
		if wait < 0 {
			wait = 0
		}
	}
	return Decision{Admitted: false, Wait: wait, LoadAfter: result.Load}, "", nil
}
