// Package obs is the ambient observability layer: a process-wide zap
// logger and the prometheus counters/histograms the three core
// components (btree, docmap, impact) report through, mirroring how
// the teacher wires log.Init/log.Get and promauto metrics for every
// long-running component even when nothing downstream consumes them
// yet.
package obs

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const envLogLevel = "MGSTORE_LOG_LEVEL"

var (
	globalLogger     *zap.Logger
	globalLoggerInit sync.Once
)

// Init initializes the package-wide logger. It must be called once
// from a process's main(), not from an init() function; subsequent
// calls are no-ops. It returns a sync callback the caller should
// invoke before exit.
func Init(component string) (sync func() error) {
	globalLoggerInit.Do(func() {
		level := zap.NewAtomicLevelAt(parseLevel(os.Getenv(envLogLevel)))
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		cfg.EncoderConfig.TimeKey = "ts"
		logger, err := cfg.Build()
		if err != nil {
			panic(err.Error())
		}
		globalLogger = logger.With(zap.String("component", component))
	})
	return globalLogger.Sync
}

// Get returns the package-wide logger, falling back to a no-op logger
// if Init was never called (matching log tooling used from tests,
// which never call Init).
func Get() *zap.Logger {
	if globalLogger == nil {
		return zap.NewNop()
	}
	return globalLogger
}

func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
