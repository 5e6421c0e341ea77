package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Status_ReportsUsageAndSleepHint(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Unix(0, 0))
	manager := NewManager(NewMemoryStore(), clock)

	require.NoError(t, manager.Configure("api", ConfigureInput{
		RequestsPerSecond: floatPtr(2),
		RequestsPerMinute: floatPtr(100),
	}))

	key := resourceKey("api", "alice")
	for i := 0; i < 2; i++ {
		decision, err := manager.Evaluate(ctx, "api", key, 1)
		require.NoError(t, err)
		require.True(t, decision.Admitted)
	}

	report, err := manager.Status(ctx, "api", "alice")
	require.NoError(t, err)

	assert.Equal(t, float64(2), report.CurrentUsage[RequestsPerSecond].Current)
	assert.Equal(t, float64(2), report.CurrentUsage[RequestsPerSecond].Limit)
	assert.Equal(t, float64(2), report.CurrentUsage[RequestsPerMinute].Current)
	assert.True(t, report.HasOldest)
	assert.Equal(t, float64(0), report.OldestTimestamp)
	// rps is at capacity, so the sleep hint reflects its window.
	assert.InDelta(t, 1.0, report.SleepTimeHint, 0.001)
}

func TestManager_Status_EmptyResourceHasNoOldest(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Unix(0, 0))
	manager := NewManager(NewMemoryStore(), clock)
	require.NoError(t, manager.Configure("api", ConfigureInput{RequestsPerSecond: floatPtr(5)}))

	report, err := manager.Status(ctx, "api", "nobody")
	require.NoError(t, err)

	assert.False(t, report.HasOldest)
	assert.Equal(t, float64(0), report.SleepTimeHint)
	assert.Equal(t, float64(0), report.CurrentUsage[RequestsPerSecond].Current)
}

func TestManager_BackendInfo_ReportsMemoryStoreFootprint(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Unix(0, 0))
	store := NewMemoryStore()
	manager := NewManager(store, clock)
	require.NoError(t, manager.Configure("api", ConfigureInput{RequestsPerSecond: floatPtr(5)}))

	_, err := manager.Evaluate(ctx, "api", resourceKey("api", "alice"), 1)
	require.NoError(t, err)

	info, err := manager.BackendInfo(ctx, "memory")
	require.NoError(t, err)

	assert.Equal(t, "memory", info.Variant)
	assert.True(t, info.ConnectionState)
	assert.Equal(t, 1, info.KeyCount)
	assert.Greater(t, info.ApproximateBytes, int64(0))
}
