package quota

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ResourceConfig maps active limit types to their LimitSpec for one
// resource.
type ResourceConfig struct {
	Limits map[LimitTypeName]LimitSpec
}

// ConfigureInput mirrors the configure call's signature; a nil or absent
// field leaves that limit type untouched, a non-positive value
// deactivates it.
type ConfigureInput struct {
	RequestsPerSecond *float64
	RequestsPerMinute *float64
	RequestsPerHour   *float64
	TokensPerSecond   *float64
	TokensPerMinute   *float64
}

type resourceEntry struct {
	mu     sync.RWMutex
	config ResourceConfig
}

// ManagerDecision is the composed outcome of evaluating every active
// limiter for one resource.
type ManagerDecision struct {
	Admitted  bool
	Wait      float64
	LimitType LimitTypeName
	N         float64
	W         float64
	Load      float64
}

// Manager binds a resource name to a set of active LimitSpecs and
// evaluates them jointly in a fixed order.
type Manager struct {
	store     Store
	clock     Clock
	limiter   *Limiter
	resources sync.Map // resource name -> *resourceEntry
	// sf collapses concurrent first-touch entry() calls for the same
	// resource into one creation, mirroring how resolveDelegate in the
	// token-based-ratelimit policy uses a singleflight.Group alongside a
	// sync.Map cache to avoid racing creations.
	sf singleflight.Group
}

func NewManager(store Store, clock Clock) *Manager {
	return &Manager{
		store:   store,
		clock:   clock,
		limiter: newLimiter(store, clock),
	}
}

func (m *Manager) entry(resource string) *resourceEntry {
	if v, ok := m.resources.Load(resource); ok {
		return v.(*resourceEntry)
	}
	v, _, _ := m.sf.Do(resource, func() (interface{}, error) {
		entry := &resourceEntry{config: ResourceConfig{Limits: map[LimitTypeName]LimitSpec{}}}
		actual, _ := m.resources.LoadOrStore(resource, entry)
		return actual, nil
	})
	return v.(*resourceEntry)
}

// Configure applies in to resource's configuration, idempotently.
// An unknown limit type (rejected by newLimitSpec) is returned as an
// error at this boundary, never from the hot path; a non-positive value
// is stored and deactivates that limit rather than erroring.
func (m *Manager) Configure(resource string, in ConfigureInput) error {
	e := m.entry(resource)
	e.mu.Lock()
	defer e.mu.Unlock()

	apply := func(t LimitTypeName, v *float64) error {
		if v == nil {
			return nil
		}
		spec, err := newLimitSpec(t, *v)
		if err != nil {
			return err
		}
		e.config.Limits[t] = spec
		return nil
	}

	for _, pair := range []struct {
		t LimitTypeName
		v *float64
	}{
		{RequestsPerSecond, in.RequestsPerSecond},
		{RequestsPerMinute, in.RequestsPerMinute},
		{RequestsPerHour, in.RequestsPerHour},
		{TokensPerSecond, in.TokensPerSecond},
		{TokensPerMinute, in.TokensPerMinute},
	} {
		if err := apply(pair.t, pair.v); err != nil {
			return err
		}
	}
	return nil
}

// Config returns a copy of resource's current configuration.
func (m *Manager) Config(resource string) ResourceConfig {
	e := m.entry(resource)
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := ResourceConfig{Limits: make(map[LimitTypeName]LimitSpec, len(e.config.Limits))}
	for k, v := range e.config.Limits {
		out.Limits[k] = v
	}
	return out
}

// activeSpecs returns the configured specs for resource in evaluation
// order, skipping inactive ones.
func (m *Manager) activeSpecs(resource string) []LimitSpec {
	e := m.entry(resource)
	e.mu.RLock()
	defer e.mu.RUnlock()

	var specs []LimitSpec
	for _, t := range evaluationOrder {
		spec, ok := e.config.Limits[t]
		if ok && spec.Active() {
			specs = append(specs, spec)
		}
	}
	return specs
}

type admission struct {
	key   string
	token string
}

// Evaluate runs every active limiter for resource under key against
// weight: admitted iff all admit; on any rejection, already-succeeded
// admissions this call are rolled back and the maximum wait among
// rejectors is reported along with the binding limit.
func (m *Manager) Evaluate(ctx context.Context, resource, key string, weight float64) (ManagerDecision, error) {
	specs := m.activeSpecs(resource)

	var succeeded []admission
	rollback := func() {
		for _, a := range succeeded {
			// best-effort: on failure the entry remains and contributes
			// to future load, which is safe but slightly conservative.
			_ = m.store.Remove(ctx, a.key, a.token)
		}
	}

	var (
		worst      ManagerDecision
		hasReject  bool
	)

	for _, spec := range specs {
		w := weight
		if spec.Kind == KindRequest {
			w = 1
		}
		seriesKey := fmt.Sprintf("%s:%s", key, suffixFor(spec.Type))

		decision, token, err := m.limiter.checkAndAdmit(ctx, seriesKey, spec, w)
		if err != nil {
			rollback()
			return ManagerDecision{}, err
		}

		if !decision.Admitted {
			hasReject = true
			if decision.Wait > worst.Wait || worst.LimitType == "" {
				worst = ManagerDecision{
					Admitted:  false,
					Wait:      decision.Wait,
					LimitType: spec.Type,
					N:         spec.N,
					W:         spec.W.Seconds(),
					Load:      decision.LoadAfter,
				}
			}
			continue
		}

		succeeded = append(succeeded, admission{key: seriesKey, token: token})
	}

	if hasReject {
		rollback()
		return worst, nil
	}

	return ManagerDecision{Admitted: true}, nil
}
