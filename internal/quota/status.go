package quota

import (
	"context"
	"fmt"
)

// UsageReport describes one active limit type's current standing,
// returned as part of a resource's status report.
type UsageReport struct {
	Current float64
	Limit   float64
}

// StatusReport is the snapshot returned by Manager.Status for a resource
// and optional user scope.
type StatusReport struct {
	Configuration   ResourceConfig
	CurrentUsage    map[LimitTypeName]UsageReport
	OldestTimestamp float64
	HasOldest       bool
	SleepTimeHint   float64
}

// Status reports resource's configuration and live usage for userID
// (empty for the unscoped resource key).
func (m *Manager) Status(ctx context.Context, resource, userID string) (StatusReport, error) {
	config := m.Config(resource)
	key := resourceKey(resource, userID)

	report := StatusReport{
		Configuration: config,
		CurrentUsage:  make(map[LimitTypeName]UsageReport, len(config.Limits)),
	}

	var widestWait float64
	now := nowSeconds(m.clock)

	for _, t := range evaluationOrder {
		spec, ok := config.Limits[t]
		if !ok || !spec.Active() {
			continue
		}
		seriesKey := fmt.Sprintf("%s:%s", key, suffixFor(t))
		cutoff := now - spec.W.Seconds()

		load, err := m.store.Load(ctx, seriesKey, cutoff)
		if err != nil {
			return StatusReport{}, err
		}
		report.CurrentUsage[t] = UsageReport{Current: load, Limit: spec.N}

		oldest, hasOldest, err := m.store.Oldest(ctx, seriesKey, cutoff)
		if err != nil {
			return StatusReport{}, err
		}
		if hasOldest {
			if !report.HasOldest || oldest < report.OldestTimestamp {
				report.OldestTimestamp = oldest
				report.HasOldest = true
			}
			if load >= spec.N {
				wait := oldest + spec.W.Seconds() - now
				if wait < 0 {
					wait = 0
				}
				if wait > widestWait {
					widestWait = wait
				}
			}
		}
	}
	report.SleepTimeHint = widestWait
	return report, nil
}

// BackendInfo summarizes the store backend's health and footprint.
type BackendInfo struct {
	Variant          string
	ConnectionState  bool
	KeyCount         int
	ApproximateBytes int64
}

func (m *Manager) BackendInfo(ctx context.Context, variant string) (BackendInfo, error) {
	healthy := m.store.Healthy(ctx)
	report, err := m.store.ReportMemory(ctx)
	if err != nil {
		return BackendInfo{}, err
	}
	return BackendInfo{
		Variant:          variant,
		ConnectionState:  healthy,
		KeyCount:         report.KeyCount,
		ApproximateBytes: report.ApproximateBytes,
	}, nil
}
