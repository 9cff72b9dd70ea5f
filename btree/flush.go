package btree

import (
	"github.com/mgtoolkit/mgstore/bucket"
	"github.com/mgtoolkit/mgstore/fileset"
	"github.com/mgtoolkit/mgstore/freemap"
	"github.com/mgtoolkit/mgstore/internal/obs"
	"github.com/mgtoolkit/mgstore/page"
)

// flushTmp persists the tree's tmp slot (the most recently split-off
// right half of a leaf) if it is holding unwritten data, then
// invalidates it. Every public Tree method that pages a leaf in
// (Get/Put/Append/Remove/Update/IterFrom/IterAll, and Flush) calls
// this first, so the right half a split leaves in the tmp slot is on
// disk before any later operation reads that page back.
func (t *Tree) flushTmp() error {
	if !t.tmp.valid {
		return nil
	}
	if t.tmp.dirty {
		if err := t.writePage(t.tmp.loc, t.tmp.image); err != nil {
			return err
		}
	}
	t.tmp = leafSlot{}
	return nil
}

// Flush writes every dirty in-memory page (the leaf slot, the tmp
// slot, and all resident internal nodes) back to the file set.
func (t *Tree) Flush() error {
	if err := t.flushLeaf(); err != nil {
		return err
	}
	if err := t.flushTmp(); err != nil {
		return err
	}
	for _, n := range t.arena {
		if !n.dirty {
			continue
		}
		if err := t.writePage(n.loc, n.image); err != nil {
			return err
		}
		n.dirty = false
	}
	obs.BtreePages.Set(float64(t.Pages()))
	return nil
}

// LoadQuick reopens a tree rooted at rootLoc, counting levels by
// walking the leftmost spine down to a leaf. entries must be supplied
// by the caller (typically persisted alongside rootLoc in the owning
// component's own header) since LoadQuick does not scan every leaf;
// use Load for that.
//
// Every page LoadQuick actually visits (the leftmost and rightmost
// spines) is reserved in fm via freemap.Hints.Fixed as it is read, so
// a freshly constructed freemap passed in by a reopening process (the
// normal case: mgstore-impact and mgstore-verify both call
// freemap.New followed by LoadQuick against an on-disk tree)
// does not hand an Allocate caller an address already occupied by one
// of these pages. LoadQuick does not walk the whole tree, so pages off
// both spines are only reserved by Load's full scan.
func LoadQuick(fs *fileset.FileSet, fm *freemap.FreeMap, typ string, pageSize int, leafStg bucket.Strategy, rootLoc page.Location, entries int) (*Tree, error) {
	t := &Tree{
		fs:      fs,
		fm:      fm,
		typ:     typ,
		pgSize:  pageSize,
		leafStg: leafStg,
		nodeStg: bucket.NodeStrategy(childPointerSize),
		root:    -1,
		rootLoc: rootLoc,
		entries: entries,
	}

	levels := 1
	loc := rootLoc
	for {
		if _, _, err := fm.Allocate(int64(pageSize), freemap.Hints{Fixed: &loc}); err != nil {
			return nil, err
		}
		img, err := t.readPage(loc)
		if err != nil {
			return nil, err
		}
		if isLeafImage(img) {
			break
		}
		loc = decodeChildPointer(bucket.PayloadAt(bucketImage(img), pageSize-pageHeaderSize, t.nodeStg, 0))
		levels++
	}
	t.levels = levels
	t.rootIsLeaf = levels == 1

	right, err := t.findRight(rootLoc, levels == 1)
	if err != nil {
		return nil, err
	}
	t.right = right
	return t, nil
}

// findRight descends the rightmost spine to recover the current
// rightmost leaf's location, needed to resume Put/Append's
// tail-of-chain tracking after a reload. Only called from LoadQuick,
// so reserving each page it visits in the freemap is safe here (unlike
// the shared leftmostLeaf helper below, which iter.go also uses for
// plain iteration, where reserving would be wrong).
func (t *Tree) findRight(loc page.Location, isLeaf bool) (page.Location, error) {
	if _, _, err := t.fm.Allocate(int64(t.pgSize), freemap.Hints{Fixed: &loc}); err != nil {
		return page.Location{}, err
	}
	img, err := t.readPage(loc)
	if err != nil {
		return page.Location{}, err
	}
	if isLeaf {
		return loc, nil
	}
	bucketSize := t.pgSize - pageHeaderSize
	n := bucket.Entries(bucketImage(img), bucketSize, t.nodeStg)
	last := bucket.PayloadAt(bucketImage(img), bucketSize, t.nodeStg, n-1)
	childLoc := decodeChildPointer(last)
	childImg, err := t.readPage(childLoc)
	if err != nil {
		return page.Location{}, err
	}
	return t.findRight(childLoc, isLeafImage(childImg))
}

// Load is LoadQuick's debug integrity-check variant (spec.md §9's
// supplemented load mode): a full scan that recursively visits every
// page under the root — not just the two spines LoadQuick touches —
// reserving each one's location in the freemap, recomputing the entry
// count, and verifying every leaf's bucket is correctly sorted,
// returning an error on the first page that isn't. This is the "full
// scan load... reserve its location in the freemap" path spec.md §4.2
// describes.
func Load(fs *fileset.FileSet, fm *freemap.FreeMap, typ string, pageSize int, leafStg bucket.Strategy, rootLoc page.Location) (*Tree, error) {
	t, err := LoadQuick(fs, fm, typ, pageSize, leafStg, rootLoc, 0)
	if err != nil {
		return nil, err
	}

	total, rightmost, err := t.walkReserve(rootLoc)
	if err != nil {
		return nil, err
	}
	t.entries = total
	t.right = rightmost
	return t, nil
}

// walkReserve recursively visits every page reachable from loc,
// reserving each one's location in the freemap (idempotent with
// LoadQuick's spine reservations above, since freemap.Hints.Fixed is a
// set-union), verifying every leaf bucket is sorted, and returning the
// total entry count plus the rightmost leaf encountered — leaves are
// visited left to right, so the last one returned from the recursion
// is the rightmost.
func (t *Tree) walkReserve(loc page.Location) (entries int, rightmost page.Location, err error) {
	if _, _, err := t.fm.Allocate(int64(t.pgSize), freemap.Hints{Fixed: &loc}); err != nil {
		return 0, page.Location{}, err
	}
	img, err := t.readPage(loc)
	if err != nil {
		return 0, page.Location{}, err
	}

	bucketSize := t.pgSize - pageHeaderSize
	if isLeafImage(img) {
		if !bucket.Sorted(bucketImage(img), bucketSize, t.leafStg) {
			return 0, page.Location{}, errNotSorted
		}
		return bucket.Entries(bucketImage(img), bucketSize, t.leafStg), loc, nil
	}

	n := bucket.Entries(bucketImage(img), bucketSize, t.nodeStg)
	var total int
	var last page.Location
	for i := 0; i < n; i++ {
		childLoc := decodeChildPointer(bucket.PayloadAt(bucketImage(img), bucketSize, t.nodeStg, i))
		sub, rightLeaf, err := t.walkReserve(childLoc)
		if err != nil {
			return 0, page.Location{}, err
		}
		total += sub
		last = rightLeaf
	}
	return total, last, nil
}

func (t *Tree) leftmostLeaf(loc page.Location) page.Location {
	for {
		img, err := t.readPage(loc)
		if err != nil {
			return loc
		}
		if isLeafImage(img) {
			return loc
		}
		loc = decodeChildPointer(bucket.PayloadAt(bucketImage(img), t.pgSize-pageHeaderSize, t.nodeStg, 0))
	}
}
