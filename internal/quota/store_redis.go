package quota

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

//go:embed lua/slidingwindow.lua
var slidingWindowScript string

// keyPrefix namespaces the shared store's key-space.
const keyPrefix = "rate_limiter:"

// RedisStore is the shared-store timestamp-series backend: an external
// ordered-set service backing each series with a Redis sorted set, with
// prune+count+conditional-add executed as one Lua script so that no
// other client interleaves. Grounded on
// wso2-gateway-controllers/policies/advanced-ratelimit's
// algorithms/gcra/redis.go, which embeds a Lua script the same way.
type RedisStore struct {
	client redis.UniversalClient
	script *redis.Script
	// timeout bounds every round-trip to the store.
	timeout time.Duration
}

// NewRedisStore wraps an existing go-redis client. timeout is applied as a
// per-call context deadline if the caller's context has none.
func NewRedisStore(client redis.UniversalClient, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RedisStore{
		client:  client,
		script:  redis.NewScript(slidingWindowScript),
		timeout: timeout,
	}
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, func()) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func redisKey(key string) string {
	return keyPrefix + key
}

func (s *RedisStore) CheckAndAdmit(ctx context.Context, key string, cutoff, now, weight, limit float64) (CheckResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	nonce := uuid.New().String()
	windowSeconds := now - cutoff

	raw, err := s.run(ctx, redisKey(key), cutoff, now, weight, limit, nonce, windowSeconds)
	if err != nil {
		return CheckResult{}, Wrap(CodeBackendUnreachable, "sliding window script failed", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 4 {
		return CheckResult{}, Wrap(CodeBackendInconsistent, "sliding window script returned malformed data", nil)
	}
	admitted, err1 := toInt64(values[0])
	load, err2 := toFloat64(values[1])
	oldest, err3 := toFloat64(values[2])
	hasOldest, err4 := toInt64(values[3])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return CheckResult{}, Wrap(CodeBackendInconsistent, "sliding window script returned malformed fields", nil)
	}

	result := CheckResult{
		Admitted:  admitted == 1,
		Load:      load,
		Oldest:    oldest,
		HasOldest: hasOldest == 1,
	}
	if result.Admitted {
		result.Token = fmt.Sprintf("%.9f:%.9f:%s", now, weight, nonce)
	}
	return result, nil
}

// run executes the embedded script, loading it into the server and
// retrying once on NOSCRIPT, following the idiom in
// advanced-ratelimit/algorithms/gcra/redis.go.
func (s *RedisStore) run(ctx context.Context, key string, cutoff, now, weight, limit float64, nonce string, window float64) (interface{}, error) {
	result, err := s.script.Run(ctx, s.client, []string{key}, cutoff, now, weight, limit, nonce, window).Result()
	if err != nil && strings.Contains(err.Error(), "NOSCRIPT") {
		if _, loadErr := s.script.Load(ctx, s.client).Result(); loadErr != nil {
			return nil, loadErr
		}
		result, err = s.script.Run(ctx, s.client, []string{key}, cutoff, now, weight, limit, nonce, window).Result()
	}
	return result, err
}

func (s *RedisStore) Remove(ctx context.Context, key string, token string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.ZRem(ctx, redisKey(key), token).Err(); err != nil {
		return Wrap(CodeBackendUnreachable, "zrem failed", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, key string, cutoff float64) (float64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	members, err := s.client.ZRangeByScore(ctx, redisKey(key), &redis.ZRangeBy{
		Min: "(" + strconv.FormatFloat(cutoff, 'f', -1, 64),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, Wrap(CodeBackendUnreachable, "zrangebyscore failed", err)
	}
	return sumMemberWeights(members), nil
}

func (s *RedisStore) Oldest(ctx context.Context, key string, cutoff float64) (float64, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	members, err := s.client.ZRangeByScore(ctx, redisKey(key), &redis.ZRangeBy{
		Min:   "(" + strconv.FormatFloat(cutoff, 'f', -1, 64),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return 0, false, Wrap(CodeBackendUnreachable, "zrangebyscore failed", err)
	}
	if len(members) == 0 {
		return 0, false, nil
	}
	ts, _, _, ok := parseMember(members[0])
	return ts, ok, nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return Wrap(CodeBackendUnreachable, "del failed", err)
	}
	return nil
}

func (s *RedisStore) AllKeys(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var keys []string
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, Wrap(CodeBackendUnreachable, "scan failed", err)
	}
	return keys, nil
}

func (s *RedisStore) ReportMemory(ctx context.Context) (MemoryReport, error) {
	keys, err := s.AllKeys(ctx)
	if err != nil {
		return MemoryReport{}, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var total int64
	for _, k := range keys {
		n, err := s.client.MemoryUsage(ctx, redisKey(k)).Result()
		if err != nil {
			continue // diagnostic-only; a failure here isn't fatal
		}
		total += n
	}
	return MemoryReport{KeyCount: len(keys), ApproximateBytes: total}, nil
}

func (s *RedisStore) Healthy(ctx context.Context) bool {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err() == nil
}

func sumMemberWeights(members []string) float64 {
	var sum float64
	for _, m := range members {
		_, w, _, ok := parseMember(m)
		if ok {
			sum += w
		}
	}
	return sum
}

func parseMember(member string) (ts, weight float64, nonce string, ok bool) {
	parts := strings.SplitN(member, ":", 3)
	if len(parts) != 3 {
		return 0, 0, "", false
	}
	ts, err1 := strconv.ParseFloat(parts[0], 64)
	weight, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, "", false
	}
	return ts, weight, parts[2], true
}

func toInt64(v interface{}) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func toFloat64(v interface{}) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
