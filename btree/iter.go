package btree

import (
	"github.com/mgtoolkit/mgstore/bucket"
	"github.com/mgtoolkit/mgstore/page"
)

// Cursor is a finger-search iterator: it starts at the leaf owning
// (or preceding) a given term and walks forward across the leaf
// sibling chain, never re-descending from the root. spec.md §4.2
// calls this the cheap alternative to repeated Find calls for
// in-order scans (vocabulary dumps, range merges).
type Cursor struct {
	t    *Tree
	loc  page.Location
	iter bucket.Iter
	done bool
}

// IterFrom positions a cursor at the first entry >= term (or at the
// start of the leaf preceding term if term falls before every entry
// on its leaf).
func (t *Tree) IterFrom(term []byte) (*Cursor, error) {
	if err := t.flushTmp(); err != nil {
		return nil, err
	}
	if _, err := t.descend(term); err != nil {
		return nil, err
	}
	start, _ := lowerBoundIndex(bucketImage(t.leaf.image), t.bucketSize(), t.leafStg, term)
	return &Cursor{t: t, loc: t.leaf.loc, iter: bucket.Iter{Index: start}}, nil
}

// IterAll positions a cursor at the very first entry in the tree.
func (t *Tree) IterAll() (*Cursor, error) {
	if err := t.flushTmp(); err != nil {
		return nil, err
	}
	loc := t.leftmostLeaf(t.rootLoc)
	if err := t.ensureLeaf(loc); err != nil {
		return nil, err
	}
	return &Cursor{t: t, loc: loc, iter: bucket.Iter{}}, nil
}

// lowerBoundIndex returns the index of the first entry >= term.
func lowerBoundIndex(image []byte, size int, strategy bucket.Strategy, term []byte) (int, bool) {
	n := bucket.Entries(image, size, strategy)
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		t := bucket.TermAt(image, size, strategy, mid)
		if string(t) < string(term) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < n
}

// Next advances the cursor, returning the next (term, payload) pair.
// The returned slices are copies, safe to retain past the next Next
// call.
func (c *Cursor) Next() (term, payload []byte, ok bool, err error) {
	if c.done {
		return nil, nil, false, nil
	}
	if err := c.t.ensureLeaf(c.loc); err != nil {
		return nil, nil, false, err
	}
	for {
		tm, pl, found := bucket.NextTerm(bucketImage(c.t.leaf.image), c.t.bucketSize(), c.t.leafStg, &c.iter)
		if found {
			return append([]byte(nil), tm...), append([]byte(nil), pl...), true, nil
		}
		next := siblingOf(c.t.leaf.image)
		if next == c.loc {
			c.done = true
			return nil, nil, false, nil
		}
		c.loc = next
		c.iter = bucket.Iter{}
		if err := c.t.ensureLeaf(c.loc); err != nil {
			return nil, nil, false, err
		}
	}
}
