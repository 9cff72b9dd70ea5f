// Package btree implements the paged B+tree of spec.md §4.2: terms in
// leaves point at variable-length payloads, internal nodes hold
// (term, child-location) entries in the same bucket format, and a
// small set of in-memory page slots (root directory, one leaf slot,
// one tmp slot used during a split) bound the tree's working set.
//
// Ownership of in-memory pages follows spec.md §9's redesign note: an
// arena (a Go slice of *node, indexed by small integers) replaces the
// source's pointer-tagging trick for "this is a leaf". Because a
// balanced B+tree's leaf/internal distinction is a property of depth,
// not of any one entry, a node's resolved-child cache is keyed by
// separator term rather than by slot index (unresolved = absent from
// the map, never a sentinel value that could alias a real arena
// index) — see DESIGN.md for why this replaces a raw tagged-union
// directory slot.
package btree

import (
	"encoding/binary"

	"github.com/mgtoolkit/mgstore/bucket"
	"github.com/mgtoolkit/mgstore/fileset"
	"github.com/mgtoolkit/mgstore/freemap"
	"github.com/mgtoolkit/mgstore/page"
)

// pageHeaderSize is the on-disk preamble before the bucket image: a
// one-byte leaf/internal flag followed by the sibling pointer
// (fileno uint32 + offset int64). spec.md §3 describes this as "two
// bytes" carrying a packed shard plus flag; that packing is under-
// specified for arbitrary (fileno, offset) pairs (see DESIGN.md), so
// this implementation spells the sibling pointer out in full instead
// of trying to compress it into two bytes.
const pageHeaderSize = 1 + 4 + 8

const (
	flagInternal = 0
	flagLeaf     = 1
)

// ErrTooBig is returned by Put/Update/Append when a payload exceeds
// one quarter of the page size, the ceiling spec.md §4.2 imposes.
var ErrTooBig = bucket.ErrTooBig

// node is an in-memory internal page. Leaves are never resident
// outside the tree's leaf/tmp slots. resolved caches, by separator
// term, the arena index of any internal child this node has already
// loaded; leaf children are never cached here since they pass through
// the tree's single leaf slot instead.
type node struct {
	loc      page.Location
	image    []byte
	resolved map[string]int
	parent   int // arena index, -1 for the root
	dirty    bool
}

// leafSlot is one of the tree's two single-page working buffers (the
// "leaf slot" and the "tmp slot" of spec.md §4.2's State section).
type leafSlot struct {
	loc   page.Location
	image []byte
	valid bool
	dirty bool
}

// Tree is a paged B+tree keyed by variable-length terms.
type Tree struct {
	fs      *fileset.FileSet
	fm      *freemap.FreeMap
	typ     string
	pgSize  int
	leafStg bucket.Strategy
	nodeStg bucket.Strategy

	arena []*node
	root  int // arena index of the root node if internal, -1 if the root is a leaf
	rootLoc page.Location
	rootIsLeaf bool

	leaf leafSlot
	tmp  leafSlot

	levels  int
	entries int
	right   page.Location
}

// childPointerSize is the encoded width of a (fileno, offset) child
// pointer payload used by the internal-node strategy.
const childPointerSize = 4 + 8

func encodeChildPointer(loc page.Location) []byte {
	b := make([]byte, childPointerSize)
	binary.BigEndian.PutUint32(b[0:4], loc.Fileno)
	binary.BigEndian.PutUint64(b[4:12], uint64(loc.Offset))
	return b
}

func decodeChildPointer(b []byte) page.Location {
	return page.Location{
		Fileno: binary.BigEndian.Uint32(b[0:4]),
		Offset: int64(binary.BigEndian.Uint64(b[4:12])),
	}
}

func bucketImage(image []byte) []byte { return image[pageHeaderSize:] }

func isLeafImage(image []byte) bool { return image[0] == flagLeaf }

func setLeafFlag(image []byte, leaf bool) {
	if leaf {
		image[0] = flagLeaf
	} else {
		image[0] = flagInternal
	}
}

func siblingOf(image []byte) page.Location {
	return page.Location{
		Fileno: binary.BigEndian.Uint32(image[1:5]),
		Offset: int64(binary.BigEndian.Uint64(image[5:13])),
	}
}

func setSibling(image []byte, loc page.Location) {
	binary.BigEndian.PutUint32(image[1:5], loc.Fileno)
	binary.BigEndian.PutUint64(image[5:13], uint64(loc.Offset))
}

func newPageImage(size int, leaf bool) []byte {
	b := make([]byte, size)
	setLeafFlag(b, leaf)
	bucket.New(bucketImage(b), size-pageHeaderSize, stgFor(leaf))
	return b
}

// stgFor is a package-level convenience used where a *Tree isn't in
// scope (construction of a brand-new page before the caller has one).
func stgFor(leaf bool) bucket.Strategy {
	if leaf {
		return bucket.LeafStrategy
	}
	return bucket.NodeStrategy(childPointerSize)
}

// New allocates a fresh, empty tree: a single page that is both root
// and leaf.
func New(fs *fileset.FileSet, fm *freemap.FreeMap, typ string, pageSize int, leafStg bucket.Strategy) (*Tree, error) {
	if err := page.ValidateSize(pageSize); err != nil {
		return nil, err
	}
	t := &Tree{
		fs:      fs,
		fm:      fm,
		typ:     typ,
		pgSize:  pageSize,
		leafStg: leafStg,
		nodeStg: bucket.NodeStrategy(childPointerSize),
		root:    -1,
		levels:  1,
	}

	loc, newFile, err := fm.Allocate(int64(pageSize), freemap.Hints{})
	if err != nil {
		return nil, err
	}
	if newFile {
		if err := fs.Create(typ, loc.Fileno); err != nil {
			return nil, err
		}
	}
	img := newPageImage(pageSize, true)
	setSibling(img, loc) // rightmost leaf is a self-loop terminator
	if err := fs.WriteAt(typ, loc.Fileno, loc.Offset, img); err != nil {
		return nil, err
	}

	t.rootLoc = loc
	t.rootIsLeaf = true
	t.right = loc
	t.leaf = leafSlot{loc: loc, image: img, valid: true}
	return t, nil
}

// Root returns the tree root's on-disk location.
func (t *Tree) Root() page.Location { return t.rootLoc }

// Levels returns the number of levels in the tree (1 for a tree that
// is just a single leaf page).
func (t *Tree) Levels() int { return t.levels }

// Size returns the number of (term, payload) entries across all
// leaves.
func (t *Tree) Size() int { return t.entries }

// PageSize returns the configured page size.
func (t *Tree) PageSize() int { return t.pgSize }

// Pages returns the number of pages currently allocated to the tree.
func (t *Tree) Pages() int { return int(t.fm.Utilised()) }
