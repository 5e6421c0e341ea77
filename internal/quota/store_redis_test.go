package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore() (*RedisStore, *fakeRedisClient) {
	client := newFakeRedisClient()
	return NewRedisStore(client, time.Second), client
}

func TestRedisStore_AdmitsUpToLimitThenRejects(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore()

	first, err := store.CheckAndAdmit(ctx, "k", -1000, 0, 1, 2)
	require.NoError(t, err)
	assert.True(t, first.Admitted)
	assert.Equal(t, float64(1), first.Load)
	assert.NotEmpty(t, first.Token)

	second, err := store.CheckAndAdmit(ctx, "k", -1000, 1, 1, 2)
	require.NoError(t, err)
	assert.True(t, second.Admitted)
	assert.Equal(t, float64(2), second.Load)

	third, err := store.CheckAndAdmit(ctx, "k", -1000, 2, 1, 2)
	require.NoError(t, err)
	assert.False(t, third.Admitted)
	assert.Equal(t, float64(2), third.Load)
	assert.True(t, third.HasOldest)
	assert.Equal(t, float64(0), third.Oldest)
}

func TestRedisStore_WeightedLoadAccumulates(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore()

	r1, err := store.CheckAndAdmit(ctx, "tokens", -1000, 0, 2.5, 10)
	require.NoError(t, err)
	assert.True(t, r1.Admitted)
	assert.Equal(t, 2.5, r1.Load)

	r2, err := store.CheckAndAdmit(ctx, "tokens", -1000, 1, 6.5, 10)
	require.NoError(t, err)
	assert.True(t, r2.Admitted)
	assert.Equal(t, 9.0, r2.Load)

	r3, err := store.CheckAndAdmit(ctx, "tokens", -1000, 2, 2, 10)
	require.NoError(t, err)
	assert.False(t, r3.Admitted, "9 + 2 exceeds the limit of 10")

	load, err := store.Load(ctx, "tokens", -1000)
	require.NoError(t, err)
	assert.Equal(t, 9.0, load)
}

func TestRedisStore_CutoffBoundaryExcludesEntryExactlyAtCutoff(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore()

	admitted, err := store.CheckAndAdmit(ctx, "k", -1, 0, 1, 1)
	require.NoError(t, err)
	require.True(t, admitted.Admitted)

	// now the entry sits at ts=0 and the window is 1s wide: at t=1 the
	// cutoff is exactly 0, so the entry must fall out of the window
	// rather than linger for one more check.
	next, err := store.CheckAndAdmit(ctx, "k", 0, 1, 1, 1)
	require.NoError(t, err)
	assert.True(t, next.Admitted, "an entry exactly W seconds old must not still count against the limit")
	assert.Equal(t, float64(1), next.Load)
}

func TestRedisStore_Remove_RollsBackAdmittedEntry(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore()

	result, err := store.CheckAndAdmit(ctx, "k", -1000, 0, 1, 1)
	require.NoError(t, err)
	require.True(t, result.Admitted)

	require.NoError(t, store.Remove(ctx, "k", result.Token))

	load, err := store.Load(ctx, "k", -1000)
	require.NoError(t, err)
	assert.Equal(t, float64(0), load)
}

func TestRedisStore_Oldest_ReportsEarliestLiveEntry(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore()

	_, err := store.CheckAndAdmit(ctx, "k", -1000, 5, 1, 10)
	require.NoError(t, err)
	_, err = store.CheckAndAdmit(ctx, "k", -1000, 7, 1, 10)
	require.NoError(t, err)

	ts, ok, err := store.Oldest(ctx, "k", -1000)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, float64(5), ts)
}

func TestRedisStore_Oldest_EmptySeriesHasNoOldest(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestRedisStore()

	_, ok, err := store.Oldest(ctx, "empty", -1000)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_CheckAndAdmit_WrapsBackendError(t *testing.T) {
	ctx := context.Background()
	client := newFakeRedisClient()
	client.noEval = true
	store := NewRedisStore(client, time.Second)

	_, err := store.CheckAndAdmit(ctx, "k", -1000, 0, 1, 1)
	require.Error(t, err)
	assert.Equal(t, CodeBackendUnreachable, CodeOf(err))
}

func TestRedisKey_Namespaced(t *testing.T) {
	assert.Equal(t, "rate_limiter:api:rps", redisKey("api:rps"))
}

func TestParseMember_RoundTrips(t *testing.T) {
	ts, weight, nonce, ok := parseMember("12.500000000:3.000000000:abc-123")
	assert.True(t, ok)
	assert.Equal(t, 12.5, ts)
	assert.Equal(t, 3.0, weight)
	assert.Equal(t, "abc-123", nonce)
}

func TestParseMember_RejectsMalformed(t *testing.T) {
	_, _, _, ok := parseMember("not-a-member")
	assert.False(t, ok)

	_, _, _, ok = parseMember("abc:3.0:nonce")
	assert.False(t, ok)
}

func TestSumMemberWeights(t *testing.T) {
	members := []string{
		"1.000000000:2.500000000:a",
		"2.000000000:1.500000000:b",
		"garbage",
	}
	assert.Equal(t, 4.0, sumMemberWeights(members))
}

func TestToInt64_AcceptsIntOrFloat(t *testing.T) {
	v, err := toInt64(int64(7))
	assert.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = toInt64(float64(7))
	assert.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = toInt64("nope")
	assert.Error(t, err)
}

func TestToFloat64_AcceptsStringIntOrFloat(t *testing.T) {
	v, err := toFloat64("3.25")
	assert.NoError(t, err)
	assert.Equal(t, 3.25, v)

	v, err = toFloat64(int64(3))
	assert.NoError(t, err)
	assert.Equal(t, 3.0, v)

	v, err = toFloat64(float64(3.5))
	assert.NoError(t, err)
	assert.Equal(t, 3.5, v)
}
