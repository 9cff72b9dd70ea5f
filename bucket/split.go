package bucket

import (
	"bytes"

	"github.com/mgtoolkit/mgstore/mgerr"
)

// entrySize returns the on-page footprint (term + payload + slot
// directory entry) of the entry at index.
func entrySize(image []byte, size int, strategy Strategy, index int) int {
	s := getSlot(image, size, index, strategy)
	return int(s.termLen) + int(s.payloadLen) + strategy.slotSize()
}

// FindSplitEntry chooses an index such that splitting at it leaves
// room for inserting (newTerm, additionalBytes) on the correct side,
// and among indices within rangeHint bytes of the balanced midpoint,
// picks the one whose boundary term is shortest — the
// "shortest-separator" rule spec.md §4.1 requires, since that
// separator term is what gets propagated into the parent.
func FindSplitEntry(image []byte, size int, strategy Strategy, rangeHint int, newTerm []byte, additionalBytes int) (splitAt int, insertGoesLeft bool, err error) {
	count, _, _ := header(image[:size])
	if count < 2 {
		return 0, false, mgerr.New(mgerr.Arg, "bucket: cannot split fewer than 2 entries")
	}

	cum := make([]int, count+1)
	for i := 0; i < int(count); i++ {
		cum[i+1] = cum[i] + entrySize(image, size, strategy, i)
	}
	total := cum[count]
	mid := total / 2

	// bestInRange tracks whether the current candidate falls within
	// rangeHint of mid. An in-range candidate always wins over an
	// out-of-range one regardless of separator length, so once one is
	// found, later out-of-range indices are skipped outright; until
	// then, out-of-range indices still compete against each other by
	// the same rule in-range ones use (shortest separator first, then
	// closest to mid) rather than losing to whichever index came first.
	best := -1
	bestLen := -1
	bestInRange := false
	for i := 1; i < int(count); i++ {
		inRange := abs(cum[i]-mid) <= rangeHint
		if bestInRange && !inRange {
			continue
		}
		termLen := int(getSlot(image, size, i, strategy).termLen)
		switch {
		case best == -1:
			best, bestLen, bestInRange = i, termLen, inRange
		case inRange && !bestInRange:
			best, bestLen, bestInRange = i, termLen, true
		case inRange == bestInRange && (termLen < bestLen || (termLen == bestLen && absLess(cum[i], mid, cum[best], mid))):
			best, bestLen = i, termLen
		}
	}

	boundary := TermAt(image, size, strategy, best)
	insertGoesLeft = bytes.Compare(newTerm, boundary) < 0

	need := needed(len(newTerm), additionalBytes, strategy)
	var sideBytes int
	if insertGoesLeft {
		sideBytes = cum[best]
	} else {
		sideBytes = total - cum[best]
	}
	if sideBytes+need > size-headerSize {
		// The chosen side still can't hold the new entry; caller must
		// treat this as "won't fit even after split", which in
		// practice only happens for pathologically large entries and
		// is surfaced as ErrTooBig by the B+tree layer's own size
		// check before it ever calls FindSplitEntry.
		return best, insertGoesLeft, mgerr.New(mgerr.Bufsize, "bucket: no split balances this insertion")
	}

	return best, insertGoesLeft, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func absLess(a, amid, b, bmid int) bool {
	return abs(a-amid) < abs(b-bmid)
}

// Split moves entries [splitAt, count) out of srcImage into an
// uninitialised rightImage, which must be `rightSize` bytes. The
// source bucket retains entries [0, splitAt) and its header is
// updated in place; rightImage ends up correctly headered and sorted.
func Split(srcImage []byte, srcSize int, rightImage []byte, rightSize int, strategy Strategy, splitAt int) error {
	count, freeStart, freeEnd := header(srcImage[:srcSize])
	if splitAt < 0 || splitAt > int(count) {
		return mgerr.New(mgerr.Arg, "bucket: split index out of range")
	}

	New(rightImage, rightSize, strategy)
	for i := splitAt; i < int(count); i++ {
		s := getSlot(srcImage, srcSize, i, strategy)
		term := termBytes(srcImage, s)
		payload := payloadBytes(srcImage, s)
		p, _, err := Alloc(rightImage, rightSize, strategy, term, len(payload))
		if err != nil {
			return err
		}
		copy(p, payload)
	}

	// Truncate the source directory down to [0, splitAt); the header's
	// freeEnd grows back by the number of removed slots, and freeStart
	// is left untouched (orphaned payload bytes beyond the last kept
	// entry are simply unreachable, reclaimed only by compaction on
	// future inserts — the same lazy-delete trade-off RemoveAt makes).
	removed := int(count) - splitAt
	setHeader(srcImage[:srcSize], uint16(splitAt), freeStart, freeEnd+uint16(removed*strategy.slotSize()))
	return nil
}
