package btree

import (
	"github.com/mgtoolkit/mgstore/bucket"
	"github.com/mgtoolkit/mgstore/page"
)

// step records one hop taken while descending: the arena index of the
// internal node visited and the bucket slot whose payload was
// followed. Used to propagate a split's new separator back up the
// path without re-descending.
type step struct {
	nodeIdx int
	slot    int
}

func (t *Tree) readPage(loc page.Location) ([]byte, error) {
	b := make([]byte, t.pgSize)
	if err := t.fs.ReadAt(t.typ, loc.Fileno, loc.Offset, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (t *Tree) writePage(loc page.Location, image []byte) error {
	return t.fs.WriteAt(t.typ, loc.Fileno, loc.Offset, image)
}

// loadRoot ensures the root is resident: in the arena if internal, or
// in the leaf slot if the tree is a single page.
func (t *Tree) loadRoot() (int, error) {
	if t.rootIsLeaf {
		return -1, t.ensureLeaf(t.rootLoc)
	}
	if t.root >= 0 {
		return t.root, nil
	}
	img, err := t.readPage(t.rootLoc)
	if err != nil {
		return -1, err
	}
	n := &node{loc: t.rootLoc, image: img, resolved: map[string]int{}, parent: -1}
	t.arena = append(t.arena, n)
	t.root = len(t.arena) - 1
	return t.root, nil
}

// ensureLeaf pages loc into the tree's single leaf slot, flushing
// whatever was there first if it was dirty.
func (t *Tree) ensureLeaf(loc page.Location) error {
	if t.leaf.valid && t.leaf.loc == loc {
		return nil
	}
	if err := t.flushLeaf(); err != nil {
		return err
	}
	img, err := t.readPage(loc)
	if err != nil {
		return err
	}
	t.leaf = leafSlot{loc: loc, image: img, valid: true}
	return nil
}

func (t *Tree) flushLeaf() error {
	if !t.leaf.valid || !t.leaf.dirty {
		return nil
	}
	if err := t.writePage(t.leaf.loc, t.leaf.image); err != nil {
		return err
	}
	t.leaf.dirty = false
	return nil
}

// loadChild resolves the internal node at slot of parent node pidx,
// using and populating the term-keyed resolved cache.
func (t *Tree) loadChild(pidx int, term []byte, loc page.Location) (int, error) {
	p := t.arena[pidx]
	if idx, ok := p.resolved[string(term)]; ok {
		return idx, nil
	}
	img, err := t.readPage(loc)
	if err != nil {
		return -1, err
	}
	n := &node{loc: loc, image: img, resolved: map[string]int{}, parent: pidx}
	t.arena = append(t.arena, n)
	idx := len(t.arena) - 1
	p.resolved[string(term)] = idx
	return idx, nil
}

// descend walks from the root to the leaf owning key, recording the
// path of internal hops taken. On return the owning leaf is paged
// into t.leaf.
func (t *Tree) descend(key []byte) ([]step, error) {
	rootIdx, err := t.loadRoot()
	if err != nil {
		return nil, err
	}
	if t.rootIsLeaf {
		return nil, nil
	}

	var path []step
	cur := rootIdx
	depth := 1
	for {
		n := t.arena[cur]
		_, slot, found := bucket.Search(bucketImage(n.image), t.pgSize-pageHeaderSize, t.nodeStg, key)
		if !found {
			// key precedes every entry; route via the leftmost ("")
			// child, always present once the node has any entries.
			slot = 0
		}
		term := bucket.TermAt(bucketImage(n.image), t.pgSize-pageHeaderSize, t.nodeStg, slot)
		childLoc := decodeChildPointer(bucket.PayloadAt(bucketImage(n.image), t.pgSize-pageHeaderSize, t.nodeStg, slot))
		path = append(path, step{nodeIdx: cur, slot: slot})

		if depth == t.levels-1 {
			return path, t.ensureLeaf(childLoc)
		}
		cur, err = t.loadChild(cur, term, childLoc)
		if err != nil {
			return nil, err
		}
		depth++
	}
}
