package vbyte

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 34, ^uint64(0)}
	for _, v := range cases {
		enc := Put(nil, v)
		require.Len(t, enc, Size(v))
		got, n, err := Get(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n)
		require.Equal(t, v, got)
	}
}

func TestGetTruncatedReturnsBufsize(t *testing.T) {
	enc := Put(nil, 1<<20)
	_, _, err := Get(enc[:len(enc)-1])
	require.Error(t, err)
}

func TestGetTooLongIsRejected(t *testing.T) {
	b := make([]byte, MaxLen+1)
	for i := range b {
		b[i] = 0x80
	}
	_, _, err := Get(b)
	require.Error(t, err)
}

func TestReaderSequenceMatchesWriterSequence(t *testing.T) {
	w := NewWriter(make([]byte, 0, 64), 64)
	require.NoError(t, w.PutUint(42))
	require.NoError(t, w.PutUint(1<<16))
	require.NoError(t, w.PutByte('x'))
	require.NoError(t, w.PutBytes([]byte("suffix")))

	r := NewReader(w.Bytes())
	require.EqualValues(t, 42, r.Uint())
	require.EqualValues(t, 1<<16, r.Uint())
	require.Equal(t, byte('x'), r.Byte())
	require.Equal(t, []byte("suffix"), r.Bytes(6))
	require.NoError(t, r.Err)
}

func TestWriterReportsBufsizeOverflow(t *testing.T) {
	w := NewWriter(make([]byte, 0, 2), 2)
	require.NoError(t, w.PutUint(1)) // 1 byte, fits
	err := w.PutUint(1 << 20)        // needs 3 bytes, does not fit
	require.Error(t, err)
	require.Equal(t, 1, w.Len()) // failed write must not mutate the buffer
}

func TestReaderShortReadSetsErr(t *testing.T) {
	r := NewReader([]byte{0x01})
	got := r.Bytes(5)
	require.Nil(t, got)
	require.Error(t, r.Err)
	// once Err is set, further reads are no-ops rather than panics
	require.EqualValues(t, 0, r.Uint())
}

func TestFloatRoundTrip(t *testing.T) {
	cases := []float64{0, 1, 0.5, 3.140625, 1e6, 1e-6}
	tolerance := map[uint]float64{7: 0.05, 32: 1e-6}
	for _, f := range cases {
		for _, bits := range []uint{7, 32} {
			enc := PutFloat(nil, f, bits)
			got, n, err := GetFloat(enc, bits)
			require.NoError(t, err)
			require.Equal(t, len(enc), n)
			if f == 0 {
				require.Zero(t, got)
				continue
			}
			require.InEpsilon(t, f, got, tolerance[bits])
		}
	}
}

func TestFloatZeroRoundTripsExactly(t *testing.T) {
	enc := PutFloat(nil, 0, AggregateBits)
	got, _, err := GetFloat(enc, AggregateBits)
	require.NoError(t, err)
	require.Zero(t, got)
}

func TestWriterPutFloatOverflowLeavesBufferUntouched(t *testing.T) {
	w := NewWriter(make([]byte, 0, 1), 1)
	err := w.PutFloat(1e9, AggregateBits)
	require.Error(t, err)
	require.Zero(t, w.Len())
}
