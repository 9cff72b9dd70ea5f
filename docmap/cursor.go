package docmap

import (
	"github.com/mgtoolkit/mgstore/mgerr"
	"github.com/mgtoolkit/mgstore/vbyte"
)

// Cursor is a repositionable decode cursor over the document map,
// oblivious to buffer page movement except for the map's monotonic
// timestamp, which it uses to detect a concurrent mutation
// invalidating its cached position (spec.md §4.3's traverse contract).
type Cursor struct {
	dm        *DocMap
	pageIdx   int
	reader    *vbyte.Reader
	next      uint64 // docno the reader will decode next
	docno     uint64 // docno of the record currently held in prev
	prev      *Record
	timestamp uint64
	live      bool
}

// NewCursor returns a cursor positioned at docno.
func (dm *DocMap) NewCursor(docno uint64) (*Cursor, error) {
	c := &Cursor{dm: dm}
	if err := c.Traverse(docno); err != nil {
		return nil, err
	}
	return c, nil
}

// resetAtPage repositions the cursor to the head of page idx, ready to
// decode forward from its first record.
func (c *Cursor) resetAtPage(idx int) error {
	p, err := c.dm.residentPage(idx)
	if err != nil {
		return err
	}
	c.reader = vbyte.NewReader(p.image[dataHeaderSize:])
	c.prev = nil
	c.next = p.firstDocno
	c.pageIdx = idx
	c.timestamp = c.dm.timestamp
	c.live = true
	return nil
}

// Traverse repositions the cursor to docno: if docno lies on the
// already-decoded page and at or after the cursor's current forward
// position, it decodes forward in place; otherwise it pages in the
// owning page and decodes from its head.
func (c *Cursor) Traverse(docno uint64) error {
	if docno >= c.dm.count {
		return mgerr.New(mgerr.Arg, "docmap: docno out of range")
	}

	idx := c.dm.findPage(docno)
	stale := !c.live || c.timestamp != c.dm.timestamp
	if stale || idx != c.pageIdx || docno < c.next-1 {
		if err := c.resetAtPage(idx); err != nil {
			return err
		}
	}

	for c.next <= docno {
		rec, _, err := decodeRecord(c.reader, c.prev)
		if err != nil {
			return err
		}
		c.prev = rec
		c.docno = c.next
		c.next++
	}
	return nil
}

// at is an internal convenience for sequential full-map scans
// (Cache's rescan): callers step docno strictly ascending from 0.
func (c *Cursor) at(docno uint64) (*Record, error) {
	if err := c.Traverse(docno); err != nil {
		return nil, err
	}
	return c.prev, nil
}

// Record returns the record the cursor currently sits on.
func (c *Cursor) Record() *Record { return c.prev }

// Docno returns the docno the cursor currently sits on.
func (c *Cursor) Docno() uint64 { return c.docno }
