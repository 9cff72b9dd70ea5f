package btree

import (
	"bytes"

	"github.com/mgtoolkit/mgstore/bucket"
	"github.com/mgtoolkit/mgstore/freemap"
	"github.com/mgtoolkit/mgstore/internal/obs"
	"github.com/mgtoolkit/mgstore/mgerr"
	"github.com/mgtoolkit/mgstore/page"
)

// Tree.Put/Get/Update/Remove deliberately copy payload bytes across
// the call boundary rather than handing back bucket.Alloc's raw
// in-page pointer: a split may leave the freshly written half
// sitting in the tree's tmp slot, unflushed, until the next
// operation evicts it, so a pointer into that slot would outlive its
// safe window. Copy-in/copy-out keeps the tree's external contract
// simple at the cost of one extra copy per operation, in line with
// the on-disk stores the rest of the package builds (docmap, impact)
// already paying for encode/decode anyway.

func (t *Tree) bucketSize() int { return t.pgSize - pageHeaderSize }

// Get looks up term, returning a copy of its payload.
func (t *Tree) Get(term []byte) (value []byte, found bool, err error) {
	if err := t.flushTmp(); err != nil {
		return nil, false, err
	}
	if _, err := t.descend(term); err != nil {
		return nil, false, err
	}
	p, _, ok := bucket.Find(bucketImage(t.leaf.image), t.bucketSize(), t.leafStg, term)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), p...), true, nil
}

// Put inserts term/value, splitting leaves and, as needed,
// propagating separators up through internal nodes (and growing the
// tree by one level at the root) to make room. It returns
// mgerr.Arg-wrapped bucket.ErrTooBig style errors untouched so
// callers can distinguish "entry too large for any page" from other
// failures.
func (t *Tree) Put(term []byte, value []byte) error {
	return t.put(term, value, false)
}

// Append inserts term/value, for callers adding terms in ascending
// order. It takes the same path as Put: it descends from the root
// and places the entry through bucket.Append, which searches the leaf
// like bucket.Alloc does, so an out-of-order term still lands in
// sorted position (and a duplicate is still rejected). It does not
// use the rightmost-leaf shortcut.
func (t *Tree) Append(term []byte, value []byte) error {
	return t.put(term, value, true)
}

func (t *Tree) put(term []byte, value []byte, sortedAppend bool) error {
	if len(value) > t.pgSize/4 {
		return ErrTooBig
	}
	if err := t.flushTmp(); err != nil {
		return err
	}
	path, err := t.descend(term)
	if err != nil {
		return err
	}

	alloc := bucket.Alloc
	if sortedAppend {
		alloc = bucket.Append
	}

	p, _, err := alloc(bucketImage(t.leaf.image), t.bucketSize(), t.leafStg, term, len(value))
	if err == nil {
		copy(p, value)
		t.leaf.dirty = true
		t.entries++
		return nil
	}
	if err != bucket.ErrSplit {
		return err
	}

	origLoc := t.leaf.loc
	rightImage, rightLoc, separator, insertLeft, err := t.splitImage(t.leaf.image, origLoc, t.leafStg, term, len(value))
	if err != nil {
		return err
	}

	if insertLeft {
		p, _, err = alloc(bucketImage(t.leaf.image), t.bucketSize(), t.leafStg, term, len(value))
	} else {
		p, _, err = alloc(bucketImage(rightImage), t.bucketSize(), t.leafStg, term, len(value))
	}
	if err != nil {
		return mgerr.Wrap(err, "btree: entry does not fit even after split")
	}
	copy(p, value)
	t.entries++
	t.leaf.dirty = true

	if err := t.flushTmp(); err != nil {
		return err
	}
	t.tmp = leafSlot{loc: rightLoc, image: rightImage, valid: true, dirty: true}

	return t.propagate(path, separator, rightLoc, -1)
}

// Remove deletes term if present. Deletion is lazy: a leaf that falls
// below its fill target is not merged with a sibling, matching
// bucket.RemoveAt's own lazy-reclaim behavior (see DESIGN.md's
// resolution of the §9 Open Question on merge-on-delete).
func (t *Tree) Remove(term []byte) (bool, error) {
	if err := t.flushTmp(); err != nil {
		return false, err
	}
	if _, err := t.descend(term); err != nil {
		return false, err
	}
	ok, err := bucket.Remove(bucketImage(t.leaf.image), t.bucketSize(), t.leafStg, term)
	if err != nil {
		return false, err
	}
	if ok {
		t.leaf.dirty = true
		t.entries--
	}
	return ok, nil
}

// Update replaces term's payload, reallocating in place when the new
// value is a different size. If the leaf can't absorb the growth it
// falls back to remove-then-reinsert, which may itself trigger a
// split.
func (t *Tree) Update(term []byte, value []byte) error {
	if len(value) > t.pgSize/4 {
		return ErrTooBig
	}
	if err := t.flushTmp(); err != nil {
		return err
	}
	if _, err := t.descend(term); err != nil {
		return err
	}
	p, err := bucket.Realloc(bucketImage(t.leaf.image), t.bucketSize(), t.leafStg, term, len(value))
	if err == nil {
		copy(p, value)
		t.leaf.dirty = true
		return nil
	}
	if err != bucket.ErrSplit {
		return err
	}
	if _, err := t.Remove(term); err != nil {
		return err
	}
	return t.Put(term, value)
}

// splitImage carves a page in two: it allocates a fresh page for the
// right half, moves the upper entries into it via bucket.Split, and
// (for leaves) relinks the sibling chain. It does not persist
// anything; the caller owns when the right half is written.
func (t *Tree) splitImage(fullImage []byte, origLoc page.Location, strategy bucket.Strategy, newTerm []byte, newPayloadSize int) (rightImage []byte, rightLoc page.Location, separator []byte, insertLeft bool, err error) {
	obs.BtreeSplits.Inc()
	bucketSize := t.bucketSize()
	rangeHint := bucketSize / 8

	splitAt, insertLeft, err := bucket.FindSplitEntry(bucketImage(fullImage), bucketSize, strategy, rangeHint, newTerm, newPayloadSize)
	if err != nil {
		return nil, page.Location{}, nil, false, err
	}

	loc, newFile, err := t.fm.Allocate(int64(t.pgSize), freemap.Hints{})
	if err != nil {
		return nil, page.Location{}, nil, false, err
	}
	if newFile {
		if err := t.fs.Create(t.typ, loc.Fileno); err != nil {
			return nil, page.Location{}, nil, false, err
		}
	}

	leaf := isLeafImage(fullImage)
	rightImage = newPageImage(t.pgSize, leaf)
	if err := bucket.Split(bucketImage(fullImage), bucketSize, bucketImage(rightImage), bucketSize, strategy, splitAt); err != nil {
		return nil, page.Location{}, nil, false, err
	}

	if leaf {
		oldSibling := siblingOf(fullImage)
		setSibling(rightImage, oldSibling)
		setSibling(fullImage, loc)
		if oldSibling == origLoc {
			t.right = loc
		}
	}

	separator = append([]byte(nil), bucket.TermAt(bucketImage(rightImage), bucketSize, strategy, 0)...)
	return rightImage, loc, separator, insertLeft, nil
}

// propagate inserts (separator, childLoc) into the parent recorded in
// path's last step, splitting that internal node (and recursing
// further up, or growing a new root) if it has no room.
// childArenaIdx is the arena index of the node childLoc now names, or
// -1 if childLoc is a leaf.
func (t *Tree) propagate(path []step, separator []byte, childLoc page.Location, childArenaIdx int) error {
	if len(path) == 0 {
		return t.newRoot(separator, childLoc, childArenaIdx)
	}

	last := path[len(path)-1]
	parent := t.arena[last.nodeIdx]

	p, _, err := bucket.Alloc(bucketImage(parent.image), t.bucketSize(), t.nodeStg, separator, childPointerSize)
	if err == nil {
		copy(p, encodeChildPointer(childLoc))
		parent.dirty = true
		if childArenaIdx >= 0 {
			parent.resolved[string(separator)] = childArenaIdx
			t.arena[childArenaIdx].parent = last.nodeIdx
		}
		return nil
	}
	if err != bucket.ErrSplit {
		return err
	}

	rightImage, rightLoc, sep2, insertLeft, err := t.splitImage(parent.image, parent.loc, t.nodeStg, separator, childPointerSize)
	if err != nil {
		return err
	}

	right := &node{loc: rightLoc, image: rightImage, resolved: map[string]int{}, parent: parent.parent}
	t.arena = append(t.arena, right)
	rightIdx := len(t.arena) - 1
	t.repartitionResolved(parent, right, rightIdx, sep2)

	if insertLeft {
		p, _, err = bucket.Alloc(bucketImage(parent.image), t.bucketSize(), t.nodeStg, separator, childPointerSize)
	} else {
		p, _, err = bucket.Alloc(bucketImage(rightImage), t.bucketSize(), t.nodeStg, separator, childPointerSize)
	}
	if err != nil {
		return mgerr.Wrap(err, "btree: internal entry does not fit even after split")
	}
	copy(p, encodeChildPointer(childLoc))

	dest := parent
	destIdx := last.nodeIdx
	if !insertLeft {
		dest = right
		destIdx = rightIdx
	}
	if childArenaIdx >= 0 {
		dest.resolved[string(separator)] = childArenaIdx
		t.arena[childArenaIdx].parent = destIdx
	}

	parent.dirty = true
	if err := t.writePage(rightLoc, rightImage); err != nil {
		return err
	}

	return t.propagate(path[:len(path)-1], sep2, rightLoc, rightIdx)
}

// repartitionResolved moves left's resolved-child cache entries for
// terms >= sep2 over to right, fixing up each moved child's parent
// pointer, since those entries' bucket slots just moved to the new
// page.
func (t *Tree) repartitionResolved(left, right *node, rightIdx int, sep2 []byte) {
	for term, idx := range left.resolved {
		if bytes.Compare([]byte(term), sep2) >= 0 {
			delete(left.resolved, term)
			right.resolved[term] = idx
			t.arena[idx].parent = rightIdx
		}
	}
}

// newRoot builds a fresh internal root over the current root (now
// named by leftLoc implicitly via the "" leftmost entry) and a new
// right sibling, growing the tree by one level.
func (t *Tree) newRoot(separator []byte, rightLoc page.Location, rightArenaIdx int) error {
	loc, newFile, err := t.fm.Allocate(int64(t.pgSize), freemap.Hints{})
	if err != nil {
		return err
	}
	if newFile {
		if err := t.fs.Create(t.typ, loc.Fileno); err != nil {
			return err
		}
	}

	img := newPageImage(t.pgSize, false)
	leftLoc := t.rootLoc
	leftWasLeaf := t.rootIsLeaf
	leftArenaIdx := t.root

	p, _, err := bucket.Alloc(bucketImage(img), t.bucketSize(), t.nodeStg, nil, childPointerSize)
	if err != nil {
		return err
	}
	copy(p, encodeChildPointer(leftLoc))
	p, _, err = bucket.Alloc(bucketImage(img), t.bucketSize(), t.nodeStg, separator, childPointerSize)
	if err != nil {
		return err
	}
	copy(p, encodeChildPointer(rightLoc))

	n := &node{loc: loc, image: img, resolved: map[string]int{}, parent: -1, dirty: true}
	t.arena = append(t.arena, n)
	newIdx := len(t.arena) - 1

	if !leftWasLeaf {
		n.resolved[""] = leftArenaIdx
		t.arena[leftArenaIdx].parent = newIdx
	}
	if rightArenaIdx >= 0 {
		n.resolved[string(separator)] = rightArenaIdx
		t.arena[rightArenaIdx].parent = newIdx
	}

	t.rootLoc = loc
	t.rootIsLeaf = false
	t.root = newIdx
	t.levels++
	return t.writePage(loc, img)
}
