// Package page defines the fixed-size byte image shared by the
// vocabulary B+tree and the document map (spec.md §3 "Page", §6
// "On-disk page formats").
//
// A page is addressed by (fileno, offset) and carries a one-byte tag
// at offset 0 identifying its kind. Everything past that byte is
// owned by the component that formatted the page (a bucket image for
// the B+tree, vbyte-encoded records for the document map).
package page

import "github.com/mgtoolkit/mgstore/mgerr"

// Tag identifies what kind of page a byte image holds. Tags are
// disjoint across components so a misrouted page is caught immediately
// rather than silently misinterpreted.
type Tag byte

const (
	TagInvalid Tag = 0x00

	// B+tree pages carry their leaf/internal flag in the btree
	// package's own 13-byte page preamble (flag, sibling fileno,
	// sibling offset) ahead of the bucket image, not in this tag; the
	// tag namespace below is reserved for the document map.
	TagDocData      Tag = 0xDA // data leaf
	TagDocDataFinal Tag = 0xDF // final data leaf
	TagCache        Tag = 0xCA // cache page
	TagCacheFinal   Tag = 0xCF // final cache page
)

// MaxSize is the largest page size the 16-bit size field used by
// bucket offsets can address.
const MaxSize = 65535

// MinSize is the smallest practical page size (4 KiB, per spec.md §3).
const MinSize = 4096

// Location names a page by its (fileno, offset) address within a
// file set type; the type itself is not part of Location.
type Location struct {
	Fileno uint32
	Offset int64
}

// Image is a page-sized byte buffer. Components embed it or hold one
// per in-memory page slot; Image itself does no I/O.
type Image struct {
	Size int
	Data []byte
}

// NewImage allocates a zeroed page image of the given size.
func NewImage(size int) *Image {
	return &Image{Size: size, Data: make([]byte, size)}
}

// Tag returns the page's leading tag byte.
func (im *Image) Tag() Tag {
	if len(im.Data) == 0 {
		return TagInvalid
	}
	return Tag(im.Data[0])
}

// SetTag overwrites the page's leading tag byte.
func (im *Image) SetTag(t Tag) {
	im.Data[0] = byte(t)
}

// ValidateSize checks a configured page size against the 16-bit
// offset-field ceiling spec.md §3 requires.
func ValidateSize(size int) error {
	if size < MinSize || size > MaxSize {
		return mgerr.Newf(mgerr.Arg, "page: size %d out of range [%d,%d]", size, MinSize, MaxSize)
	}
	return nil
}
