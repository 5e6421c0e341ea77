package quota

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// fakeRedisError implements redis.Error so that callers relying on
// redis.HasErrorPrefix (e.g. Script.Run's NOSCRIPT-triggered EVAL
// fallback) see it as a genuine Redis error, matching real server
// behavior.
type fakeRedisError string

func (e fakeRedisError) Error() string { return string(e) }
func (e fakeRedisError) RedisError()   {}

// fakeRedisClient is a minimal redis.UniversalClient double that backs
// CheckAndAdmit's Lua-script call, and ZRem/ZRangeByScore, with the same
// prune+count+conditional-add semantics as lua/slidingwindow.lua, so
// store_redis_test.go can exercise RedisStore's contract (admit/reject,
// weight summation, the cutoff boundary, rollback) without a running
// Redis server. The pack carries no Lua-capable fake-Redis dependency
// (no miniredis/redismock in any retrieved repo), so this hand-rolled
// double mirrors the embedded script's documented algorithm instead.
// Embedding the real interface and leaving it nil lets a struct satisfy
// redis.UniversalClient's large surface while only overriding the
// handful of methods RedisStore actually calls; any other method would
// panic on a nil dereference, which is fine since this double is only
// ever driven through RedisStore.
type fakeRedisClient struct {
	redis.UniversalClient

	mu     sync.Mutex
	zsets  map[string]map[string]float64
	noEval bool // when true, Eval also fails, simulating a fully down backend
}

func newFakeRedisClient() *fakeRedisClient {
	return &fakeRedisClient{zsets: map[string]map[string]float64{}}
}

func (f *fakeRedisClient) EvalSha(ctx context.Context, _ string, _ []string, _ ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	cmd.SetErr(fakeRedisError("NOSCRIPT No matching script. Please use EVAL."))
	return cmd
}

func (f *fakeRedisClient) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	return f.EvalSha(ctx, sha1, keys, args...)
}

func (f *fakeRedisClient) Eval(ctx context.Context, _ string, keys []string, args ...interface{}) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	if f.noEval {
		cmd.SetErr(fmt.Errorf("connection refused"))
		return cmd
	}
	val, err := f.evalSlidingWindow(keys[0], args)
	if err != nil {
		cmd.SetErr(err)
		return cmd
	}
	cmd.SetVal(val)
	return cmd
}

func (f *fakeRedisClient) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd {
	return f.Eval(ctx, script, keys, args...)
}

func (f *fakeRedisClient) ScriptLoad(ctx context.Context, _ string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	cmd.SetVal("fake-sha")
	return cmd
}

func (f *fakeRedisClient) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	cmd := redis.NewBoolSliceCmd(ctx)
	cmd.SetVal(make([]bool, len(hashes)))
	return cmd
}

// evalSlidingWindow is lua/slidingwindow.lua translated line for line: a
// Lua table reply truncates fractional numbers to RESP integers, so load
// and oldest are returned as decimal strings exactly as the real script
// now formats them (see the script's own comment on this).
func (f *fakeRedisClient) evalSlidingWindow(key string, args []interface{}) (interface{}, error) {
	if len(args) != 6 {
		return nil, fmt.Errorf("expected 6 args, got %d", len(args))
	}
	cutoff, ok1 := args[0].(float64)
	now, ok2 := args[1].(float64)
	weight, ok3 := args[2].(float64)
	limit, ok4 := args[3].(float64)
	nonce, ok5 := args[4].(string)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return nil, fmt.Errorf("unexpected arg types %#v", args)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	zset := f.zsets[key]
	if zset == nil {
		zset = map[string]float64{}
		f.zsets[key] = zset
	}
	for member, score := range zset {
		if score <= cutoff {
			delete(zset, member)
		}
	}

	type scored struct {
		member string
		score  float64
	}
	var live []scored
	for member, score := range zset {
		live = append(live, scored{member, score})
	}
	sort.Slice(live, func(i, j int) bool { return live[i].score < live[j].score })

	var load float64
	for _, s := range live {
		if _, w, _, ok := parseMember(s.member); ok {
			load += w
		}
	}

	if load+weight <= limit {
		member := fmt.Sprintf("%.9f:%.9f:%s", now, weight, nonce)
		zset[member] = now
		return []interface{}{int64(1), fmt.Sprintf("%.9f", load+weight), "0", int64(0)}, nil
	}

	var oldest float64
	var hasOldest int64
	if len(live) > 0 {
		oldest = live[0].score
		hasOldest = 1
	}
	return []interface{}{int64(0), fmt.Sprintf("%.9f", load), fmt.Sprintf("%.9f", oldest), hasOldest}, nil
}

func (f *fakeRedisClient) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	zset := f.zsets[key]
	var removed int64
	for _, m := range members {
		s, ok := m.(string)
		if !ok {
			continue
		}
		if _, exists := zset[s]; exists {
			delete(zset, s)
			removed++
		}
	}
	cmd.SetVal(removed)
	return cmd
}

func (f *fakeRedisClient) ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewStringSliceCmd(ctx)

	cutoff, err := parseExclusiveMin(opt.Min)
	if err != nil {
		cmd.SetErr(err)
		return cmd
	}

	type scored struct {
		member string
		score  float64
	}
	var live []scored
	for member, score := range f.zsets[key] {
		if score > cutoff {
			live = append(live, scored{member, score})
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].score < live[j].score })

	if opt.Count > 0 && int64(len(live)) > opt.Count {
		live = live[:opt.Count]
	}
	members := make([]string, len(live))
	for i, s := range live {
		members[i] = s.member
	}
	cmd.SetVal(members)
	return cmd
}

// parseExclusiveMin undoes the "(" + strconv.FormatFloat formatting
// RedisStore.Load/Oldest always send as opt.Min.
func parseExclusiveMin(min string) (float64, error) {
	trimmed := strings.TrimPrefix(min, "(")
	return strconv.ParseFloat(trimmed, 64)
}

func (f *fakeRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	var n int64
	for _, k := range keys {
		if _, ok := f.zsets[k]; ok {
			delete(f.zsets, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func (f *fakeRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}
