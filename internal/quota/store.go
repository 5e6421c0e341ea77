package quota

import "context"

// CheckResult is the outcome of the atomic prune+count+conditional-add
// primitive: the Store decides admission itself so that, on the
// shared-store variant, the whole sequence can run as one server-side
// script.
type CheckResult struct {
	Admitted bool
	// Load is the series load. On admission this is the load *after* the
	// new entry was added; on rejection it is the load that caused the
	// rejection (the entry was not added).
	Load float64
	// Oldest is the timestamp of the oldest live entry, valid only when
	// HasOldest is true. Used to compute the wait-until-admitted estimate.
	Oldest    float64
	HasOldest bool
	// Token identifies the entry just added, valid only when Admitted is
	// true. Pass it to Remove to roll the admission back exactly; its
	// encoding is backend-specific and opaque to callers.
	Token string
}

// MemoryReport is diagnostic output describing a backend's footprint.
type MemoryReport struct {
	KeyCount          int
	ApproximateBytes  int64
}

// Store is the timestamp-series contract shared by both backends. Both
// variants (process-local and shared) implement it; all operations are
// observably atomic per key, and concurrent calls on different keys need
// not serialize.
type Store interface {
	// CheckAndAdmit performs the sliding-window check as a single atomic
	// unit: prune entries older than cutoff, sum the remaining weights,
	// and if the sum plus weight does not exceed limit, append (now,
	// weight) and report the new sum; otherwise report the current sum
	// and the oldest surviving entry.
	CheckAndAdmit(ctx context.Context, key string, cutoff, now, weight, limit float64) (CheckResult, error)

	// Remove deletes the entry identified by token, best-effort. Used by
	// the Resource Manager to roll back an admission that must be undone
	// because a later limit in the same call rejected.
	Remove(ctx context.Context, key string, token string) error

	// Load returns the sum of weights with timestamp > cutoff, pruning
	// first. Used by status reporting and diagnostics, not the hot
	// admission path.
	Load(ctx context.Context, key string, cutoff float64) (float64, error)

	// Oldest returns the smallest timestamp > cutoff, or ok=false if the
	// series (after pruning) is empty.
	Oldest(ctx context.Context, key string, cutoff float64) (t float64, ok bool, err error)

	// Clear removes all entries for key.
	Clear(ctx context.Context, key string) error

	// AllKeys lists every key with live state. Diagnostic only.
	AllKeys(ctx context.Context) ([]string, error)

	// ReportMemory summarizes the backend's footprint.
	ReportMemory(ctx context.Context) (MemoryReport, error)

	// Healthy reports whether the backend is currently reachable.
	Healthy(ctx context.Context) bool
}
