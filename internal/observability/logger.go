// Package observability provides the logging and metrics collaborators
// the quota engine writes to.
package observability

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vaedprasad/slidingquota/internal/quota"
)

// JSONLogger adapts a *zap.Logger to the quota.Logger shape (variadic
// Field pairs rather than zap.Field directly), generalized from the
// teacher's StdLogger (internal/ratelimit/logging.go) onto zap, the
// logging library Groxx-cadence depends on throughout. The underlying
// core is a zapcore.NewTee of a console encoder (human-readable, to w)
// and a JSON encoder (to an optional log file), mirroring the
// console-handler plus JSON-file-handler split in the retrieved logging
// setup (logger_config.py).
type JSONLogger struct {
	log *zap.Logger
}

// NewJSONLogger builds a logger writing human-readable lines to w
// (typically os.Stdout) and, if path is non-empty, additionally JSON
// lines to a log file at path. A failure to open the file degrades to
// console-only rather than failing construction — logging setup must
// never block startup.
func NewJSONLogger(w zapcore.WriteSyncer, path string) *JSONLogger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)
	cores := []zapcore.Core{zapcore.NewCore(consoleEncoder, w, zapcore.InfoLevel)}
	if path != "" {
		if sink, _, err := zap.Open(path); err == nil {
			jsonEncoder := zapcore.NewJSONEncoder(encoderCfg)
			cores = append(cores, zapcore.NewCore(jsonEncoder, sink, zapcore.InfoLevel))
		} else {
			zap.NewNop().Sugar().Errorf("failed to open log file %s: %v", path, err)
		}
	}

	return &JSONLogger{log: zap.New(zapcore.NewTee(cores...))}
}

func (jl *JSONLogger) Info(msg string, fields ...quota.Field) { jl.log.Info(msg, zapFields(fields)...) }
func (jl *JSONLogger) Warn(msg string, fields ...quota.Field) { jl.log.Warn(msg, zapFields(fields)...) }

func zapFields(fields []quota.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}
