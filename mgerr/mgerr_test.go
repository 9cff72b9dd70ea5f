package mgerr

import (
	"testing"

	stderrors "errors"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestNewPreservesKindForErrorsIs(t *testing.T) {
	err := New(Fmt, "bad page tag")
	require.True(t, errors.Is(err, Fmt))
	require.False(t, errors.Is(err, IO))
	require.Contains(t, err.Error(), "bad page tag")
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(Arg, "docno %d out of range", 42)
	require.True(t, errors.Is(err, Arg))
	require.Contains(t, err.Error(), "docno 42 out of range")
}

func TestWrapNilIsNil(t *testing.T) {
	require.NoError(t, Wrap(nil, "unused"))
	require.NoError(t, Wrapf(nil, "unused %d", 1))
}

func TestWrapKeepsUnderlyingKind(t *testing.T) {
	base := New(Bufsize, "page full")
	wrapped := Wrap(base, "while appending term")
	require.True(t, errors.Is(wrapped, Bufsize))
	require.Contains(t, wrapped.Error(), "while appending term")
}

func TestTransientClassifiesEintrAndEagainOnly(t *testing.T) {
	require.True(t, Transient(New(EINTR, "retry me")))
	require.True(t, Transient(New(EAGAIN, "retry me too")))
	require.False(t, Transient(New(IO, "not transient")))
	require.False(t, Transient(stderrors.New("unrelated")))
}

func TestIterFinishIsDistinctFromFailureKinds(t *testing.T) {
	err := New(IterFinish, "done")
	require.True(t, errors.Is(err, IterFinish))
	require.False(t, errors.Is(err, Fmt))
}
