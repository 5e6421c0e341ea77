package quota

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// shardCount is the number of mutex stripes guarding the in-memory series
// map, following the sharded-lock idiom used throughout the fallback and
// limiter-pool code (e.g. FallbackLimiter's per-key locking) to keep
// unrelated keys from serializing on each other.
const shardCount = 32

type entry struct {
	ts     float64
	weight float64
}

// series is a sorted-by-timestamp multiset of entries for one key, with
// the running sum of weights maintained incrementally so Load is O(1).
type series struct {
	entries []entry
	sum     float64
}

// MemoryStore is the process-local timestamp-series backend: an
// in-memory mapping from key to a sorted sequence of entries, guarded by
// a striped-by-key mutex. Grounded on memory_backend.py's bisect-based
// sorted list plus the LocalLimiterStore sharding idiom.
type MemoryStore struct {
	mus    [shardCount]sync.Mutex
	series [shardCount]map[string]*series
}

// NewMemoryStore constructs an empty process-local store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.series {
		s.series[i] = make(map[string]*series)
	}
	return s
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

func (s *MemoryStore) lock(key string) (*sync.Mutex, map[string]*series) {
	idx := shardIndex(key)
	return &s.mus[idx], s.series[idx]
}

// prune removes entries with ts <= cutoff, so an entry exactly W seconds
// old falls out of the window rather than lingering for one extra check.
// Stale entries live at the front of the sorted slice, so this is O(k) in
// the number removed.
func (ser *series) prune(cutoff float64) {
	i := sort.Search(len(ser.entries), func(i int) bool {
		return ser.entries[i].ts > cutoff
	})
	if i == 0 {
		return
	}
	for _, e := range ser.entries[:i] {
		ser.sum -= e.weight
	}
	if ser.sum < 0 {
		ser.sum = 0
	}
	ser.entries = ser.entries[i:]
}

func (ser *series) insert(e entry) {
	i := sort.Search(len(ser.entries), func(i int) bool {
		return ser.entries[i].ts > e.ts
	})
	ser.entries = append(ser.entries, entry{})
	copy(ser.entries[i+1:], ser.entries[i:])
	ser.entries[i] = e
	ser.sum += e.weight
}

func (s *MemoryStore) CheckAndAdmit(_ context.Context, key string, cutoff, now, weight, limit float64) (CheckResult, error) {
	mu, m := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	ser := m[key]
	if ser == nil {
		ser = &series{}
		m[key] = ser
	}
	ser.prune(cutoff)

	if ser.sum+weight <= limit {
		ser.insert(entry{ts: now, weight: weight})
		token := fmt.Sprintf("%.9f:%.9f", now, weight)
		return CheckResult{Admitted: true, Load: ser.sum, Token: token}, nil
	}

	result := CheckResult{Admitted: false, Load: ser.sum}
	if len(ser.entries) > 0 {
		result.Oldest = ser.entries[0].ts
		result.HasOldest = true
	}
	return result, nil
}

func (s *MemoryStore) Remove(_ context.Context, key string, token string) error {
	ts, weight, ok := parseMemoryToken(token)
	if !ok {
		return nil
	}

	mu, m := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	ser := m[key]
	if ser == nil {
		return nil
	}
	for i, e := range ser.entries {
		if e.ts == ts && e.weight == weight {
			ser.entries = append(ser.entries[:i], ser.entries[i+1:]...)
			ser.sum -= weight
			if ser.sum < 0 {
				ser.sum = 0
			}
			return nil
		}
	}
	return nil // best-effort: no exact match, nothing to roll back
}

func parseMemoryToken(token string) (ts, weight float64, ok bool) {
	parts := strings.SplitN(token, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	ts, err1 := strconv.ParseFloat(parts[0], 64)
	weight, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return ts, weight, true
}

func (s *MemoryStore) Load(_ context.Context, key string, cutoff float64) (float64, error) {
	mu, m := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	ser := m[key]
	if ser == nil {
		return 0, nil
	}
	ser.prune(cutoff)
	return ser.sum, nil
}

func (s *MemoryStore) Oldest(_ context.Context, key string, cutoff float64) (float64, bool, error) {
	mu, m := s.lock(key)
	mu.Lock()
	defer mu.Unlock()

	ser := m[key]
	if ser == nil {
		return 0, false, nil
	}
	ser.prune(cutoff)
	if len(ser.entries) == 0 {
		return 0, false, nil
	}
	return ser.entries[0].ts, true, nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	mu, m := s.lock(key)
	mu.Lock()
	defer mu.Unlock()
	delete(m, key)
	return nil
}

func (s *MemoryStore) AllKeys(_ context.Context) ([]string, error) {
	var keys []string
	for i := range s.series {
		s.mus[i].Lock()
		for k := range s.series[i] {
			keys = append(keys, k)
		}
		s.mus[i].Unlock()
	}
	return keys, nil
}

func (s *MemoryStore) ReportMemory(ctx context.Context) (MemoryReport, error) {
	keys, _ := s.AllKeys(ctx)
	var entries int64
	for i := range s.series {
		s.mus[i].Lock()
		for _, ser := range s.series[i] {
			entries += int64(len(ser.entries))
		}
		s.mus[i].Unlock()
	}
	// rough per-entry footprint: two float64s plus slice/map overhead.
	const bytesPerEntry = 32
	return MemoryReport{KeyCount: len(keys), ApproximateBytes: entries * bytesPerEntry}, nil
}

func (s *MemoryStore) Healthy(context.Context) bool { return true }
