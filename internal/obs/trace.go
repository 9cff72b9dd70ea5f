package obs

import (
	"time"

	"go.uber.org/zap"
)

// Span times one named operation and logs its duration at Debug level
// on End. It is a deliberately thin stand-in for the teacher's
// OpenTelemetry tracer: the core has no request-scoped context to hang
// spans off of (spec.md's concurrency model is single-threaded,
// cooperative, with no background work), so a start/stop timer logged
// through the package logger covers what the core's components need
// without pulling in a tracing SDK no request path here would drive.
type Span struct {
	name  string
	start time.Time
}

// StartSpan begins timing name.
func StartSpan(name string) *Span {
	return &Span{name: name, start: time.Now()}
}

// End logs the span's elapsed duration.
func (s *Span) End() {
	Get().Debug(s.name, zap.Duration("duration", time.Since(s.start)))
}
