// Package bucket packs (term, payload) entries into a page-sized byte
// blob, spec.md §4.1. A bucket operation is a total function over the
// caller-supplied image: no I/O, no allocation beyond caller-supplied
// buffers, no external state. The on-page layout is a slotted page —
// entries grow forward from a small header, a sorted slot directory
// grows backward from the end of the image — generalizing the
// fixed-record slotted page in the storage layer of the pack's
// ajg7-GengarDB to variable-length (term, payload) pairs ordered by
// term instead of fixed (key, RID) pairs ordered by insertion.
package bucket

import (
	"bytes"
	"encoding/binary"

	"github.com/mgtoolkit/mgstore/mgerr"
)

// headerSize is entryCount(2) + freeStart(2) + freeEnd(2).
const headerSize = 6

// Strategy fixes how a bucket interprets its bytes: whether payloads
// are variable length (the leaf strategy, storing posting/record
// pointers of differing sizes) or a fixed width (the internal-node
// strategy, storing child (fileno, offset) pairs that are always the
// same size). Strategies are a closed set chosen once at store
// creation time.
type Strategy struct {
	Name string
	// FixedPayloadSize is 0 for a variable-payload strategy, else the
	// exact payload width every entry must use.
	FixedPayloadSize int
}

// LeafStrategy is the variable-payload, ordered strategy used by
// B+tree leaf pages.
var LeafStrategy = Strategy{Name: "leaf"}

// NodeStrategy returns a fixed payload-size strategy suitable for
// internal B+tree nodes, where every entry's payload is a
// (fileno, offset) child pointer of the given encoded width.
func NodeStrategy(childPointerSize int) Strategy {
	return Strategy{Name: "node", FixedPayloadSize: childPointerSize}
}

func (s Strategy) slotSize() int {
	if s.FixedPayloadSize > 0 {
		return 4 // offset(2) + termLen(2); payload length is implied
	}
	return 6 // offset(2) + termLen(2) + payloadLen(2)
}

// slot is the decoded form of one directory entry.
type slot struct {
	offset     uint16 // position in image where term bytes begin
	termLen    uint16
	payloadLen uint16
}

// ErrSplit indicates the entry does not fit this bucket as-is but may
// fit an empty bucket of the same size; the caller should split and
// retry.
var ErrSplit = mgerr.New(mgerr.Bufsize, "bucket: full, split required")

// ErrTooBig indicates the entry can never fit any bucket of this
// size, empty or not.
var ErrTooBig = mgerr.New(mgerr.Arg, "bucket: entry too big for this page size")

// ErrNotFound is returned by Realloc when term has no entry. Find and
// Search never return it; they report a miss through their found
// result.
var ErrNotFound = mgerr.New(mgerr.Arg, "bucket: not found")

func header(image []byte) (count, freeStart, freeEnd uint16) {
	return binary.LittleEndian.Uint16(image[0:2]),
		binary.LittleEndian.Uint16(image[2:4]),
		binary.LittleEndian.Uint16(image[4:6])
}

func setHeader(image []byte, count, freeStart, freeEnd uint16) {
	binary.LittleEndian.PutUint16(image[0:2], count)
	binary.LittleEndian.PutUint16(image[2:4], freeStart)
	binary.LittleEndian.PutUint16(image[4:6], freeEnd)
}

// New formats an empty bucket into image, which must be exactly `size`
// bytes.
func New(image []byte, size int, strategy Strategy) {
	setHeader(image[:size], 0, headerSize, uint16(size))
}

func slotPos(size, index int, slotSize int) int {
	return size - (index+1)*slotSize
}

func getSlot(image []byte, size, index int, strategy Strategy) slot {
	ss := strategy.slotSize()
	pos := slotPos(size, index, ss)
	s := slot{
		offset:  binary.LittleEndian.Uint16(image[pos : pos+2]),
		termLen: binary.LittleEndian.Uint16(image[pos+2 : pos+4]),
	}
	if strategy.FixedPayloadSize > 0 {
		s.payloadLen = uint16(strategy.FixedPayloadSize)
	} else {
		s.payloadLen = binary.LittleEndian.Uint16(image[pos+4 : pos+6])
	}
	return s
}

func setSlot(image []byte, size, index int, strategy Strategy, s slot) {
	ss := strategy.slotSize()
	pos := slotPos(size, index, ss)
	binary.LittleEndian.PutUint16(image[pos:pos+2], s.offset)
	binary.LittleEndian.PutUint16(image[pos+2:pos+4], s.termLen)
	if strategy.FixedPayloadSize == 0 {
		binary.LittleEndian.PutUint16(image[pos+4:pos+6], s.payloadLen)
	}
}

func termBytes(image []byte, s slot) []byte {
	return image[s.offset : s.offset+s.termLen]
}

func payloadBytes(image []byte, s slot) []byte {
	start := s.offset + s.termLen
	return image[start : start+s.payloadLen]
}

// Entries returns the number of (term, payload) entries in the
// bucket.
func Entries(image []byte, size int, strategy Strategy) int {
	count, _, _ := header(image[:size])
	return int(count)
}

// Utilised returns the number of bytes currently occupied by entry
// payloads, terms, and slot directory entries.
func Utilised(image []byte, size int, strategy Strategy) int {
	_, freeStart, freeEnd := header(image[:size])
	return int(freeStart-headerSize) + (size - int(freeEnd))
}

// Overhead returns the fixed per-bucket bookkeeping cost: the header
// plus one slot directory entry per stored entry.
func Overhead(image []byte, size int, strategy Strategy) int {
	count, _, _ := header(image[:size])
	return headerSize + int(count)*strategy.slotSize()
}

// Unused returns the number of free bytes available for new entries,
// before accounting for the directory entry the new entry itself
// would need.
func Unused(image []byte, size int, strategy Strategy) int {
	_, freeStart, freeEnd := header(image[:size])
	return int(freeEnd) - int(freeStart)
}

func needed(termLen, payloadLen int, strategy Strategy) int {
	return termLen + payloadLen + strategy.slotSize()
}

// capacity reports whether an empty bucket of `size` bytes could ever
// hold an entry with the given term/payload lengths.
func capacity(size int, termLen, payloadLen int, strategy Strategy) bool {
	return needed(termLen, payloadLen, strategy) <= size-headerSize
}

// findIndex returns the index of the first slot whose term is >= term
// (lower bound), and whether that slot's term equals term exactly.
func findIndex(image []byte, size int, strategy Strategy, term []byte) (idx int, exact bool) {
	count, _, _ := header(image[:size])
	lo, hi := 0, int(count)
	for lo < hi {
		mid := (lo + hi) / 2
		s := getSlot(image, size, mid, strategy)
		c := bytes.Compare(termBytes(image, s), term)
		if c < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < int(count) {
		s := getSlot(image, size, lo, strategy)
		exact = bytes.Equal(termBytes(image, s), term)
	}
	return lo, exact
}

// Find looks up term's exact entry, returning its payload bytes, index,
// and whether it was found.
func Find(image []byte, size int, strategy Strategy, term []byte) (payload []byte, index int, found bool) {
	idx, exact := findIndex(image, size, strategy, term)
	if !exact {
		return nil, idx, false
	}
	s := getSlot(image, size, idx, strategy)
	return payloadBytes(image, s), idx, true
}

// Search returns the lexicographically-nearest entry at or before
// term (the predecessor), used for descending an internal node.
// found is false only when the bucket is empty or term precedes every
// entry.
func Search(image []byte, size int, strategy Strategy, term []byte) (payload []byte, index int, found bool) {
	idx, exact := findIndex(image, size, strategy, term)
	if exact {
		s := getSlot(image, size, idx, strategy)
		return payloadBytes(image, s), idx, true
	}
	if idx == 0 {
		return nil, -1, false
	}
	s := getSlot(image, size, idx-1, strategy)
	return payloadBytes(image, s), idx - 1, true
}

// TermAt returns the term stored at index.
func TermAt(image []byte, size int, strategy Strategy, index int) []byte {
	s := getSlot(image, size, index, strategy)
	return termBytes(image, s)
}

// PayloadAt returns the payload stored at index.
func PayloadAt(image []byte, size int, strategy Strategy, index int) []byte {
	s := getSlot(image, size, index, strategy)
	return payloadBytes(image, s)
}

// shiftSlotsRight moves slots [from, count) one position further from
// the header (toward lower memory addresses, since the directory
// grows backward) to make room for an insertion at `from`.
func shiftSlotsRight(image []byte, size int, strategy Strategy, from, count int) {
	for i := count; i > from; i-- {
		s := getSlot(image, size, i-1, strategy)
		setSlot(image, size, i, strategy, s)
	}
}

func shiftSlotsLeft(image []byte, size int, strategy Strategy, from, count int) {
	for i := from; i < count-1; i++ {
		s := getSlot(image, size, i+1, strategy)
		setSlot(image, size, i, strategy, s)
	}
}

// Alloc reserves space for a new (term, payload) entry at its sorted
// position and returns a pointer to the payload region plus the
// entry's index. It returns ErrTooBig if the entry could never fit an
// empty bucket of this size, or ErrSplit if it would fit an empty
// bucket but not this one as currently occupied.
func Alloc(image []byte, size int, strategy Strategy, term []byte, payloadSize int) (payload []byte, index int, err error) {
	if strategy.FixedPayloadSize > 0 && payloadSize != strategy.FixedPayloadSize {
		return nil, 0, mgerr.Newf(mgerr.Arg, "bucket: payload size %d != fixed size %d", payloadSize, strategy.FixedPayloadSize)
	}
	if !capacity(size, len(term), payloadSize, strategy) {
		return nil, 0, ErrTooBig
	}
	count, freeStart, freeEnd := header(image[:size])
	need := needed(len(term), payloadSize, strategy)
	if int(freeEnd)-int(freeStart) < need {
		return nil, 0, ErrSplit
	}

	idx, exact := findIndex(image, size, strategy, term)
	if exact {
		return nil, idx, mgerr.New(mgerr.Arg, "bucket: duplicate term")
	}

	shiftSlotsRight(image, size, strategy, idx, int(count))

	entryOff := freeStart
	copy(image[entryOff:], term)
	clear(image[int(entryOff)+len(term) : int(entryOff)+len(term)+payloadSize])

	setSlot(image, size, idx, strategy, slot{
		offset:     entryOff,
		termLen:    uint16(len(term)),
		payloadLen: uint16(payloadSize),
	})

	newFreeStart := freeStart + uint16(len(term)+payloadSize)
	newFreeEnd := freeEnd - uint16(strategy.slotSize())
	setHeader(image[:size], count+1, newFreeStart, newFreeEnd)

	s := getSlot(image, size, idx, strategy)
	return payloadBytes(image, s), idx, nil
}

// Append inserts a (term, payload) entry the caller expects to sort
// after every existing entry. It delegates to Alloc: the binary search
// is not skipped, an out-of-order term is placed at its sorted
// position, and a duplicate term is rejected.
func Append(image []byte, size int, strategy Strategy, term []byte, payloadSize int) (payload []byte, index int, err error) {
	return Alloc(image, size, strategy, term, payloadSize)
}

// ReallocAt grows or shrinks the payload at index to newSize. A shrink
// happens in place; a growth always copies the entry's term and a
// zeroed payload of newSize bytes to the end of the used region. It
// returns ErrSplit if there isn't room in this bucket for that copy.
func ReallocAt(image []byte, size int, strategy Strategy, index int, newSize int) ([]byte, error) {
	if strategy.FixedPayloadSize > 0 && newSize != strategy.FixedPayloadSize {
		return nil, mgerr.New(mgerr.Arg, "bucket: cannot resize a fixed-payload entry")
	}
	count, freeStart, freeEnd := header(image[:size])
	s := getSlot(image, size, index, strategy)

	if newSize <= int(s.payloadLen) {
		// Shrinks in place; no need to move bytes, we just shorten the
		// recorded length and waive the reclaimed tail (compacted on
		// the next Remove/insert pass that needs the space).
		s.payloadLen = uint16(newSize)
		setSlot(image, size, index, strategy, s)
		return payloadBytes(image, s), nil
	}

	if int(freeEnd)-int(freeStart) < int(s.termLen)+newSize {
		return nil, ErrSplit
	}

	termLen := int(s.termLen)
	newOff := freeStart
	copy(image[newOff:], termBytes(image, s))
	clear(image[int(newOff)+termLen : int(newOff)+termLen+newSize])

	s.offset = newOff
	s.payloadLen = uint16(newSize)
	setSlot(image, size, index, strategy, s)
	setHeader(image[:size], count, freeStart+uint16(termLen+newSize), freeEnd)

	return payloadBytes(image, s), nil
}

// Realloc locates term and calls ReallocAt on it.
func Realloc(image []byte, size int, strategy Strategy, term []byte, newSize int) ([]byte, error) {
	idx, exact := findIndex(image, size, strategy, term)
	if !exact {
		return nil, ErrNotFound
	}
	return ReallocAt(image, size, strategy, idx, newSize)
}

// RemoveAt deletes the entry at index, compacting the slot directory.
// Freed payload/term bytes are reclaimed lazily: remaining entries
// keep their offsets, and Unused() only grows when the freeStart/
// freeEnd gap itself grows, matching the lazy-delete behavior the
// pack's slotted page implementations use.
func RemoveAt(image []byte, size int, strategy Strategy, index int) error {
	count, freeStart, freeEnd := header(image[:size])
	if index < 0 || index >= int(count) {
		return mgerr.New(mgerr.Arg, "bucket: index out of range")
	}
	shiftSlotsLeft(image, size, strategy, index, int(count))
	setHeader(image[:size], count-1, freeStart, freeEnd+uint16(strategy.slotSize()))
	return nil
}

// Remove locates term and removes it, reporting whether it was
// present.
func Remove(image []byte, size int, strategy Strategy, term []byte) (bool, error) {
	idx, exact := findIndex(image, size, strategy, term)
	if !exact {
		return false, nil
	}
	return true, RemoveAt(image, size, strategy, idx)
}

// SetTerm rewrites the term of the entry at index in place. The new
// term must be the same length (changing length would require
// resorting, which the caller must do via Remove+Alloc instead).
func SetTerm(image []byte, size int, strategy Strategy, index int, term []byte) error {
	s := getSlot(image, size, index, strategy)
	if int(s.termLen) != len(term) {
		return mgerr.New(mgerr.Arg, "bucket: SetTerm requires same-length term")
	}
	copy(image[s.offset:s.offset+s.termLen], term)
	return nil
}

// Sorted reports whether the bucket's entries are in strictly
// ascending term order, an invariant every exported mutator preserves;
// this exists to let tests and the debug integrity-check mode in
// spec.md §9 verify it directly.
func Sorted(image []byte, size int, strategy Strategy) bool {
	count, _, _ := header(image[:size])
	var prev []byte
	for i := 0; i < int(count); i++ {
		s := getSlot(image, size, i, strategy)
		t := termBytes(image, s)
		if prev != nil && bytes.Compare(prev, t) >= 0 {
			return false
		}
		prev = t
	}
	return true
}

// Iter is a cursor for NextTerm's in-order traversal.
type Iter struct {
	Index int
}

// NextTerm advances the cursor and returns the next entry in term
// order, or found=false once iteration is exhausted.
func NextTerm(image []byte, size int, strategy Strategy, it *Iter) (term, payload []byte, found bool) {
	count, _, _ := header(image[:size])
	if it.Index >= int(count) {
		return nil, nil, false
	}
	s := getSlot(image, size, it.Index, strategy)
	it.Index++
	return termBytes(image, s), payloadBytes(image, s), true
}

// Merge copies every entry of src into dst, which must already be
// formatted and have enough room; used when a remove leaves a leaf
// under-occupied and a sibling absorbs it (left as future work at the
// B+tree layer; exposed here as the bucket-level primitive).
func Merge(dstImage []byte, dstSize int, srcImage []byte, srcSize int, strategy Strategy) error {
	it := &Iter{}
	for {
		term, payload, ok := NextTerm(srcImage, srcSize, strategy, it)
		if !ok {
			break
		}
		p, _, err := Alloc(dstImage, dstSize, strategy, term, len(payload))
		if err != nil {
			return err
		}
		copy(p, payload)
	}
	return nil
}
