package obs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetWithoutInitReturnsNoopLogger(t *testing.T) {
	// globalLogger is process-wide and may already be set by another
	// test in this binary; either way Get must never return nil.
	require.NotNil(t, Get())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug": "debug",
		"warn":  "warn",
		"error": "error",
		"":      "info",
		"huh":   "info",
	}
	for in, want := range cases {
		require.Equal(t, want, parseLevel(in).String())
	}
}

func TestSpanEndDoesNotPanic(t *testing.T) {
	s := StartSpan("test-span")
	s.End()
}
