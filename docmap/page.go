package docmap

import (
	"encoding/binary"

	"github.com/mgtoolkit/mgstore/mgerr"
	"github.com/mgtoolkit/mgstore/page"
)

// Page tags, spec.md §6.
const (
	tagData      byte = 0xDA
	tagDataFinal byte = 0xDF
	tagCache     byte = 0xCA
	tagCacheFinal byte = 0xCF
)

// dataHeaderSize is the tag byte plus the big-endian 32-bit entry
// count.
const dataHeaderSize = 1 + 4

// dmPage is one resident page of the append/read buffer arena.
type dmPage struct {
	loc        page.Location
	image      []byte
	entries    int
	used       int // body bytes occupied, beyond dataHeaderSize
	firstDocno uint64
	dirty      bool
	onDisk     bool
}

func newDataPage(size int, loc page.Location, firstDocno uint64) *dmPage {
	img := make([]byte, size)
	img[0] = tagData
	return &dmPage{loc: loc, image: img, firstDocno: firstDocno, dirty: true}
}

func (p *dmPage) setEntries(n int) {
	p.entries = n
	binary.BigEndian.PutUint32(p.image[1:5], uint32(n))
}

func (p *dmPage) bodyFree(size int) []byte {
	return p.image[dataHeaderSize+p.bodyUsed() : size]
}

// bodyUsed tracks how many body bytes are occupied; dmPage doesn't
// decode its own records, so the docmap keeps this in sync as it
// appends.
func (p *dmPage) bodyUsed() int { return p.used }

func parseDataPage(img []byte) (entries int, tag byte, err error) {
	tag = img[0]
	if tag != tagData && tag != tagDataFinal {
		return 0, tag, mgerr.New(mgerr.Fmt, "docmap: expected data page tag")
	}
	entries = int(binary.BigEndian.Uint32(img[1:5]))
	return entries, tag, nil
}
