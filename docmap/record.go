// Package docmap implements the paged document map of spec.md §4.3:
// an append-only sequential store of per-document metadata records,
// each encoded against the previous record on the same page via
// front-coding (trecno) and delta-coding (gaps, byte/word counts),
// with optional in-memory caches reconstructible from cache pages
// written at shutdown.
package docmap

import (
	"github.com/mgtoolkit/mgstore/mgerr"
	"github.com/mgtoolkit/mgstore/vbyte"
)

// weightBits is the mantissa precision spec.md §4 fixes for the
// per-document weight field.
const weightBits = 7

// Record is the decoded view of one document's metadata. Docno is not
// stored in the record itself — it is the record's position in the
// map.
type Record struct {
	Fileno        uint32
	Offset        int64
	Bytes         int64
	Flags         byte
	Words         int64
	DistinctWords int64
	MimeType      byte
	Trecno        []byte
	Weight        float64
}

// validate checks the invariants spec.md §3 places on a Document
// Record.
func (r *Record) validate() error {
	if r.Words < r.DistinctWords {
		return mgerr.New(mgerr.Arg, "docmap: words < distinct_words")
	}
	if r.Bytes < 2*r.Words-1 {
		return mgerr.New(mgerr.Arg, "docmap: bytes too small for word count")
	}
	return nil
}

// encode writes rec against prev (nil for the first record on a
// page) into w, following spec.md §4.3's per-field scheme exactly.
func encodeRecord(w *vbyte.Writer, prev, rec *Record, docnoGap uint64) error {
	if prev != nil && rec.Fileno == prev.Fileno && rec.Offset == prev.Offset+prev.Bytes {
		if err := w.PutUint(0); err != nil {
			return err
		}
	} else {
		if err := w.PutUint(1 + uint64(int64(rec.Fileno)-filenoOf(prev))); err != nil {
			return err
		}
		if err := w.PutUint(uint64(rec.Offset)); err != nil {
			return err
		}
	}

	if err := w.PutUint(docnoGap<<1 | uint64(rec.Flags&1)); err != nil {
		return err
	}
	if err := w.PutUint(uint64(rec.DistinctWords)); err != nil {
		return err
	}
	if err := w.PutUint(uint64(rec.Words - rec.DistinctWords)); err != nil {
		return err
	}
	if err := w.PutUint(uint64(rec.Bytes + 1 - 2*rec.Words)); err != nil {
		return err
	}
	if err := w.PutUint(uint64(rec.MimeType)); err != nil {
		return err
	}

	prefix, suffix := frontCode(trecnoOf(prev), rec.Trecno)
	if err := w.PutUint(uint64(prefix)); err != nil {
		return err
	}
	if err := w.PutUint(uint64(len(suffix))); err != nil {
		return err
	}
	if err := w.PutBytes(suffix); err != nil {
		return err
	}

	return w.PutFloat(rec.Weight, weightBits)
}

func decodeRecord(r *vbyte.Reader, prev *Record) (rec *Record, docnoGap uint64, err error) {
	rec = &Record{}

	gapOrZero := r.Uint()
	if gapOrZero == 0 {
		rec.Fileno = filenoOfU(prev)
		rec.Offset = offsetOf(prev) + bytesOf(prev)
	} else {
		rec.Fileno = uint32(int64(filenoOf(prev)) + int64(gapOrZero) - 1)
		rec.Offset = int64(r.Uint())
	}

	docnoFlags := r.Uint()
	docnoGap = docnoFlags >> 1
	rec.Flags = byte(docnoFlags & 1)

	rec.DistinctWords = int64(r.Uint())
	rec.Words = rec.DistinctWords + int64(r.Uint())
	rec.Bytes = int64(r.Uint()) - 1 + 2*rec.Words
	rec.MimeType = byte(r.Uint())

	prefix := int(r.Uint())
	suffixLen := int(r.Uint())
	suffix := r.Bytes(suffixLen)
	rec.Trecno = append(append([]byte(nil), trecnoOf(prev)[:prefix]...), suffix...)

	rec.Weight = r.Float(weightBits)

	if r.Err != nil {
		return nil, 0, r.Err
	}
	return rec, docnoGap, nil
}

// frontCode returns the shared-prefix length and the differing suffix
// of cur relative to prev.
func frontCode(prev, cur []byte) (prefixLen int, suffix []byte) {
	max := len(prev)
	if len(cur) < max {
		max = len(cur)
	}
	i := 0
	for i < max && prev[i] == cur[i] {
		i++
	}
	return i, cur[i:]
}

func filenoOf(prev *Record) int64 {
	if prev == nil {
		return 0
	}
	return int64(prev.Fileno)
}

func filenoOfU(prev *Record) uint32 {
	if prev == nil {
		return 0
	}
	return prev.Fileno
}

func offsetOf(prev *Record) int64 {
	if prev == nil {
		return 0
	}
	return prev.Offset
}

func bytesOf(prev *Record) int64 {
	if prev == nil {
		return 0
	}
	return prev.Bytes
}

func trecnoOf(prev *Record) []byte {
	if prev == nil {
		return nil
	}
	return prev.Trecno
}
