package quota

import "time"

// Logger is the structured-event sink the Coordinator writes to: one
// observation per terminal outcome and one per intermediate sleep. Kept
// minimal and decoupled from any particular logging library, mirroring
// the observability package's split between interface and implementation.
type Logger interface {
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
}

// Field is a single structured attribute. Constructors below keep call
// sites free of the underlying representation.
type Field struct {
	Key   string
	Value interface{}
}

func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Metrics records counters/histograms for the quota engine. Nil-safe: a
// nil Metrics is a no-op.
type Metrics interface {
	IncCheck(result string, limitType string)
	ObserveCheckLatency(d time.Duration)
	IncBackendError(op string)
}

type noopLogger struct{}

func (noopLogger) Info(string, ...Field) {}
func (noopLogger) Warn(string, ...Field) {}

type noopMetrics struct{}

func (noopMetrics) IncCheck(string, string)          {}
func (noopMetrics) ObserveCheckLatency(time.Duration) {}
func (noopMetrics) IncBackendError(string)            {}
