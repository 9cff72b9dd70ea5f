// Package impact implements the posting-list impact-ordering
// transform of spec.md §4.4: a two-scan pivoted-cosine weighting pass
// that rewrites each term's document-ordered posting list into a
// quantised, impact-ordered block form, then commits a freshly built
// vocabulary carrying both the original and the new impact entry for
// every term.
package impact

import (
	"encoding/binary"

	"github.com/mgtoolkit/mgstore/mgerr"
)

// Tunable defaults, spec.md §6.
const (
	DefaultPivot    = 0.2
	DefaultSlope    = 0.6
	DefaultQuantBits = 8
)

// EntryKind distinguishes a vocabulary record's original
// document-ordered posting list from the impact-ordered rewrite
// appended alongside it.
type EntryKind byte

const (
	KindPosting EntryKind = 0
	KindImpact  EntryKind = 1
)

// vocabEntrySize is the fixed width of one encoded VocabEntry: kind
// byte, 4-byte fileno, 8-byte offset, 8-byte length.
const vocabEntrySize = 1 + 4 + 8 + 8

// VocabEntry locates one term's vector (posting or impact list) in a
// vector file. A term's full vocabulary payload is one or two
// VocabEntry records back to back: the original posting entry always
// first, the impact entry appended after transform runs.
type VocabEntry struct {
	Kind   EntryKind
	Fileno uint32
	Offset int64
	Length int64
}

// EncodeVocabEntry serialises one VocabEntry to its fixed 21-byte
// wire form, exposed for callers (mgstore-build) that assemble a
// term's initial KindPosting vocabulary payload outside this package.
func EncodeVocabEntry(e VocabEntry) []byte {
	return encodeVocabEntry(e)
}

func encodeVocabEntry(e VocabEntry) []byte {
	b := make([]byte, vocabEntrySize)
	b[0] = byte(e.Kind)
	binary.BigEndian.PutUint32(b[1:5], e.Fileno)
	binary.BigEndian.PutUint64(b[5:13], uint64(e.Offset))
	binary.BigEndian.PutUint64(b[13:21], uint64(e.Length))
	return b
}

func decodeVocabEntry(b []byte) (VocabEntry, error) {
	if len(b) < vocabEntrySize {
		return VocabEntry{}, mgerr.New(mgerr.Fmt, "impact: short vocabulary entry")
	}
	return VocabEntry{
		Kind:   EntryKind(b[0]),
		Fileno: binary.BigEndian.Uint32(b[1:5]),
		Offset: int64(binary.BigEndian.Uint64(b[5:13])),
		Length: int64(binary.BigEndian.Uint64(b[13:21])),
	}, nil
}

// decodeVocabPayload splits a term's full vocabulary payload into its
// constituent entries (one or two).
func decodeVocabPayload(payload []byte) ([]VocabEntry, error) {
	var entries []VocabEntry
	for off := 0; off+vocabEntrySize <= len(payload); off += vocabEntrySize {
		e, err := decodeVocabEntry(payload[off : off+vocabEntrySize])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// findEntry returns the first entry of the given kind, if present.
func findEntry(entries []VocabEntry, kind EntryKind) (VocabEntry, bool) {
	for _, e := range entries {
		if e.Kind == kind {
			return e, true
		}
	}
	return VocabEntry{}, false
}
