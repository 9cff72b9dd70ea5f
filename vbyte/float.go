package vbyte

import (
	"math"

	"github.com/mgtoolkit/mgstore/mgerr"
)

var errBufsize = mgerr.New(mgerr.Bufsize, "vbyte: writer out of space")

// Float encodes a non-negative float64 as a mantissa-exponent pair: an
// unsigned integer mantissa scaled to `bits` of precision, plus a
// vbyte-encoded signed exponent offset (zig-zag coded so small negative
// exponents stay cheap). "Full precision" (AggregateBits) uses all 32
// mantissa bits; component-specific uses such as the document map's
// per-doc weight specify a narrower precision (7 bits per spec.md §3).

// AggregateBits is the full-precision mantissa width used by cache-page
// aggregate sums.
const AggregateBits = 32

// decompose splits f into a mantissa in [2^(bits-1), 2^bits) and a
// base-2 exponent such that f == mantissa * 2^exponent, for f > 0.
func decompose(f float64, bits uint) (mantissa uint64, exponent int) {
	if f == 0 {
		return 0, 0
	}
	frac, exp := math.Frexp(f) // f == frac * 2^exp, frac in [0.5, 1)
	scaled := frac * float64(uint64(1)<<bits)
	m := uint64(math.Round(scaled))
	e := exp - int(bits)
	// Rounding can carry the mantissa up to 2^bits; renormalize.
	if m == uint64(1)<<bits {
		m >>= 1
		e++
	}
	return m, e
}

func recompose(mantissa uint64, exponent int, bits uint) float64 {
	if mantissa == 0 {
		return 0
	}
	return float64(mantissa) * math.Pow(2, float64(exponent))
}

func zigzag(v int) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func unzigzag(v uint64) int {
	return int((v >> 1) ^ -(v & 1))
}

// PutFloat appends f (which must be >= 0) encoded with the given
// mantissa precision in bits (<=32).
func PutFloat(dst []byte, f float64, bits uint) []byte {
	m, e := decompose(f, bits)
	dst = Put(dst, m)
	dst = Put(dst, zigzag(e))
	return dst
}

// GetFloat decodes a float previously written by PutFloat with the same
// bits precision, returning the value and bytes consumed.
func GetFloat(b []byte, bits uint) (float64, int, error) {
	m, n1, err := Get(b)
	if err != nil {
		return 0, 0, err
	}
	ez, n2, err := Get(b[n1:])
	if err != nil {
		return 0, 0, err
	}
	e := unzigzag(ez)
	return recompose(m, e, bits), n1 + n2, nil
}

// Float reads the next mantissa-exponent pair at the given precision
// off the reader.
func (r *Reader) Float(bits uint) float64 {
	if r.Err != nil {
		return 0
	}
	f, n, err := GetFloat(r.b[r.off:], bits)
	if err != nil {
		r.Err = err
		return 0
	}
	r.off += n
	return f
}

// PutFloat appends a mantissa-exponent encoded float at the given
// precision.
func (w *Writer) PutFloat(f float64, bits uint) error {
	// Compute size first so we never mutate buf on overflow.
	tmp := PutFloat(nil, f, bits)
	if !w.Fits(len(tmp)) {
		return errBufsize
	}
	w.buf = append(w.buf, tmp...)
	return nil
}
