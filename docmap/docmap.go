package docmap

import (
	"sort"

	"go.uber.org/atomic"

	"github.com/mgtoolkit/mgstore/fileset"
	"github.com/mgtoolkit/mgstore/freemap"
	"github.com/mgtoolkit/mgstore/internal/obs"
	"github.com/mgtoolkit/mgstore/mgerr"
	"github.com/mgtoolkit/mgstore/page"
	"github.com/mgtoolkit/mgstore/vbyte"
)

// CacheMask selects which quantities the map keeps in O(1)-readable
// in-memory caches, per spec.md §4.3/§6.
type CacheMask uint8

const (
	CacheLocation CacheMask = 1 << iota
	CacheWords
	CacheDistinctWords
	CacheWeight
	CacheTrecno
)

func (m CacheMask) has(bit CacheMask) bool { return m&bit != 0 }

const typTag = "docmap"

// DocMap is the append-only sequential store of Records.
type DocMap struct {
	fs          *fileset.FileSet
	fm          *freemap.FreeMap
	pageSize    int
	bufferPages int
	maxFileSize int64

	pages []*dmPage // resident window; pages[0] is the oldest still held
	first []uint64  // firstDocno per on-disk page, parallel to locs; no trailing sentinel (findPage treats the last page as open-ended)
	locs  []page.Location

	last      *Record
	count     uint64
	timestamp uint64

	mask CacheMask
	// cached per-docno arrays, populated when the corresponding mask
	// bit is set.
	cLoc    []docLoc
	cWords  []int64
	cDWords []int64
	cWeight []float64
	cTrecno [][]byte

	sumBytes, sumWords, sumDWords, sumWeight float64
	sumTrecnoLen                             int64

	repos *ReposSet

	// trecnoOffsets/locOffsets hold a just-read TRECNO/LOC section's
	// raw bytes between reading it and reading the TRECNO_CODE/LOC_CODE
	// section that follows it in the cache stream.
	trecnoOffsets []byte
	locOffsets    []byte

	// pageHits/pageMisses count residentPage calls that found their
	// page already in the buffer window versus ones that paged it in
	// from the file set, feeding obs.DocmapCacheHitRatio.
	pageHits   atomic.Uint64
	pageMisses atomic.Uint64
}

// reportCacheRatio recomputes the resident-page hit ratio and pushes
// it to the package-wide gauge; a no-op until the first residentPage
// call gives it something to divide.
func (dm *DocMap) reportCacheRatio() {
	hits, misses := dm.pageHits.Load(), dm.pageMisses.Load()
	total := hits + misses
	if total == 0 {
		return
	}
	obs.DocmapCacheHitRatio.Set(float64(hits) / float64(total))
}

// docLoc caches a document's location and metadata minus its source
// fileno, which is always recovered from repos (the Repository Set)
// rather than duplicated here, since repos is the authoritative
// docno->fileno mapping and is itself part of the cache-page format.
type docLoc struct {
	offset   int64
	bytes    int64
	mimeType byte
	flags    byte
}

// New creates an empty document map backed by fs/fm.
func New(fs *fileset.FileSet, fm *freemap.FreeMap, pageSize, bufferPages int, maxFileSize int64, mask CacheMask) (*DocMap, error) {
	if bufferPages < 2 {
		return nil, mgerr.New(mgerr.Arg, "docmap: buffer_pages must be >= 2")
	}
	if err := page.ValidateSize(pageSize); err != nil {
		return nil, err
	}
	dm := &DocMap{
		fs: fs, fm: fm,
		pageSize: pageSize, bufferPages: bufferPages, maxFileSize: maxFileSize,
		mask: mask, repos: newReposSet(),
	}
	if err := fs.Create(typTag, 0); err != nil {
		return nil, err
	}
	if err := dm.appendNewPage(0); err != nil {
		return nil, err
	}
	return dm, nil
}

func (dm *DocMap) appendNewPage(firstDocno uint64) error {
	var fileno uint32
	var offset int64
	if len(dm.locs) == 0 {
		fileno, offset = 0, 0
	} else {
		last := dm.locs[len(dm.locs)-1]
		fileno = last.Fileno
		offset = last.Offset + int64(dm.pageSize)
		if offset+int64(dm.pageSize) > dm.maxFileSize {
			fileno++
			offset = 0
			if err := dm.fs.Create(typTag, fileno); err != nil {
				return err
			}
		}
	}
	loc := page.Location{Fileno: fileno, Offset: offset}
	p := newDataPage(dm.pageSize, loc, firstDocno)
	dm.pages = append(dm.pages, p)
	dm.locs = append(dm.locs, loc)
	dm.first = append(dm.first, firstDocno)
	dm.evictToBufferWindow()
	return nil
}

// evictToBufferWindow flushes and drops resident pages beyond the
// configured buffer_pages window, keeping the most recent ones (the
// "append buffer"); the rest are re-read from disk on demand (the
// simplified stand-in for the spec's separately-addressed "read
// buffer" region of the same arena).
func (dm *DocMap) evictToBufferWindow() error {
	for len(dm.pages) > dm.bufferPages {
		p := dm.pages[0]
		if p.dirty {
			if err := dm.fs.WriteAt(typTag, p.loc.Fileno, p.loc.Offset, p.image); err != nil {
				return err
			}
			p.dirty = false
			p.onDisk = true
		}
		dm.pages = dm.pages[1:]
	}
	return nil
}

// Add appends a new document record, returning its docno.
func (dm *DocMap) Add(fileno uint32, offset, nbytes int64, flags byte, words, dwords int64, weight float64, trecno []byte, mimeType byte) (uint64, error) {
	rec := &Record{Fileno: fileno, Offset: offset, Bytes: nbytes, Flags: flags, Words: words, DistinctWords: dwords, MimeType: mimeType, Trecno: trecno, Weight: weight}
	if err := rec.validate(); err != nil {
		return 0, err
	}

	cur := dm.pages[len(dm.pages)-1]
	buf := make([]byte, dm.pageSize)
	w := vbyte.NewWriter(buf, len(buf))
	if err := encodeRecord(w, dm.last, rec, 1); err != nil {
		return 0, err
	}
	encoded := w.Bytes()

	if dataHeaderSize+cur.used+len(encoded) > dm.pageSize {
		if err := dm.appendNewPage(dm.count); err != nil {
			return 0, err
		}
		cur = dm.pages[len(dm.pages)-1]
	}

	copy(cur.image[dataHeaderSize+cur.used:], encoded)
	cur.used += len(encoded)
	cur.entries++
	cur.setEntries(cur.entries)
	cur.dirty = true

	docno := dm.count
	dm.count++
	dm.last = rec
	dm.timestamp++
	dm.repos.Record(docno, fileno)

	dm.sumBytes += float64(nbytes)
	dm.sumWords += float64(words)
	dm.sumDWords += float64(dwords)
	dm.sumWeight += float64(weight)
	dm.sumTrecnoLen += int64(len(trecno))

	if dm.mask.has(CacheLocation) {
		dm.cLoc = append(dm.cLoc, docLoc{offset, nbytes, mimeType, flags})
	}
	if dm.mask.has(CacheWords) {
		dm.cWords = append(dm.cWords, words)
	}
	if dm.mask.has(CacheDistinctWords) {
		dm.cDWords = append(dm.cDWords, dwords)
	}
	if dm.mask.has(CacheWeight) {
		dm.cWeight = append(dm.cWeight, weight)
	}
	if dm.mask.has(CacheTrecno) {
		dm.cTrecno = append(dm.cTrecno, append([]byte(nil), trecno...))
	}

	return docno, nil
}

// Count returns the number of documents recorded.
func (dm *DocMap) Count() uint64 { return dm.count }

// findPage binary-searches the first-docno map for the page owning
// docno.
func (dm *DocMap) findPage(docno uint64) int {
	return sort.Search(len(dm.first), func(i int) bool {
		var next uint64 = ^uint64(0)
		if i+1 < len(dm.first) {
			next = dm.first[i+1]
		}
		return docno < next
	})
}

func (dm *DocMap) residentPage(idx int) (*dmPage, error) {
	for _, p := range dm.pages {
		if p.loc == dm.locs[idx] {
			dm.pageHits.Inc()
			dm.reportCacheRatio()
			return p, nil
		}
	}
	dm.pageMisses.Inc()
	dm.reportCacheRatio()
	img := make([]byte, dm.pageSize)
	if err := dm.fs.ReadAt(typTag, dm.locs[idx].Fileno, dm.locs[idx].Offset, img); err != nil {
		return nil, err
	}
	entries, _, err := parseDataPage(img)
	if err != nil {
		return nil, err
	}
	return &dmPage{loc: dm.locs[idx], image: img, entries: entries, firstDocno: dm.first[idx], onDisk: true}, nil
}

// recordAt decodes the record for docno by scanning its page from the
// start (front-coding and delta-coding mean records can't be
// random-accessed within a page without decoding from the page head).
func (dm *DocMap) recordAt(docno uint64) (*Record, error) {
	if docno >= dm.count {
		return nil, mgerr.New(mgerr.Arg, "docmap: docno out of range")
	}
	idx := dm.findPage(docno)
	p, err := dm.residentPage(idx)
	if err != nil {
		return nil, err
	}

	r := vbyte.NewReader(p.image[dataHeaderSize:])
	var prev *Record
	for i := 0; i <= int(docno-p.firstDocno); i++ {
		rec, _, err := decodeRecord(r, prev)
		if err != nil {
			return nil, err
		}
		prev = rec
	}
	return prev, nil
}

// GetLocation returns a document's source location and metadata.
func (dm *DocMap) GetLocation(docno uint64) (fileno uint32, offset, nbytes int64, mimeType, flags byte, err error) {
	if dm.mask.has(CacheLocation) {
		l := dm.cLoc[docno]
		return dm.repos.Fileno(docno), l.offset, l.bytes, l.mimeType, l.flags, nil
	}
	rec, err := dm.recordAt(docno)
	if err != nil {
		return 0, 0, 0, 0, 0, err
	}
	return rec.Fileno, rec.Offset, rec.Bytes, rec.MimeType, rec.Flags, nil
}

// GetTrecno returns a document's external identifier.
func (dm *DocMap) GetTrecno(docno uint64) ([]byte, error) {
	if dm.mask.has(CacheTrecno) {
		return dm.cTrecno[docno], nil
	}
	rec, err := dm.recordAt(docno)
	if err != nil {
		return nil, err
	}
	return rec.Trecno, nil
}

// GetWords returns a document's word count.
func (dm *DocMap) GetWords(docno uint64) (int64, error) {
	if dm.mask.has(CacheWords) {
		return dm.cWords[docno], nil
	}
	rec, err := dm.recordAt(docno)
	if err != nil {
		return 0, err
	}
	return rec.Words, nil
}

// GetDistinctWords returns a document's distinct word count.
func (dm *DocMap) GetDistinctWords(docno uint64) (int64, error) {
	if dm.mask.has(CacheDistinctWords) {
		return dm.cDWords[docno], nil
	}
	rec, err := dm.recordAt(docno)
	if err != nil {
		return 0, err
	}
	return rec.DistinctWords, nil
}

// GetWeight returns a document's weight.
func (dm *DocMap) GetWeight(docno uint64) (float64, error) {
	if dm.mask.has(CacheWeight) {
		return dm.cWeight[docno], nil
	}
	rec, err := dm.recordAt(docno)
	if err != nil {
		return 0, err
	}
	return rec.Weight, nil
}

// GetBytes returns a document's byte length.
func (dm *DocMap) GetBytes(docno uint64) (int64, error) {
	if dm.mask.has(CacheLocation) {
		return dm.cLoc[docno].bytes, nil
	}
	rec, err := dm.recordAt(docno)
	if err != nil {
		return 0, err
	}
	return rec.Bytes, nil
}

// AvgBytes, AvgWords, AvgDistinctWords, AvgWeight, and TotalBytes are
// the aggregates spec.md §4.3 requires in O(1).
func (dm *DocMap) AvgBytes() float64 {
	if dm.count == 0 {
		return 0
	}
	return dm.sumBytes / float64(dm.count)
}

func (dm *DocMap) AvgWords() float64 {
	if dm.count == 0 {
		return 0
	}
	return dm.sumWords / float64(dm.count)
}

func (dm *DocMap) AvgDistinctWords() float64 {
	if dm.count == 0 {
		return 0
	}
	return dm.sumDWords / float64(dm.count)
}

func (dm *DocMap) AvgWeight() float64 {
	if dm.count == 0 {
		return 0
	}
	return dm.sumWeight / float64(dm.count)
}

func (dm *DocMap) TotalBytes() float64 { return dm.sumBytes }

// Cache adds the quantities in mask to the cached set. Adding a
// quantity that isn't already resident triggers a full rescan to
// backfill it. It never removes a quantity: bits already cached and
// absent from mask stay cached.
func (dm *DocMap) Cache(mask CacheMask) error {
	adding := mask &^ dm.mask
	dm.mask |= mask
	if adding == 0 {
		return nil
	}
	return dm.rescan(adding)
}

func (dm *DocMap) rescan(adding CacheMask) error {
	if dm.count == 0 {
		return nil
	}
	c, err := dm.NewCursor(0)
	if err != nil {
		return err
	}
	for docno := uint64(0); docno < dm.count; docno++ {
		rec, err := c.at(docno)
		if err != nil {
			return err
		}
		if adding.has(CacheLocation) {
			dm.cLoc = append(dm.cLoc, docLoc{rec.Offset, rec.Bytes, rec.MimeType, rec.Flags})
		}
		if adding.has(CacheWords) {
			dm.cWords = append(dm.cWords, rec.Words)
		}
		if adding.has(CacheDistinctWords) {
			dm.cDWords = append(dm.cDWords, rec.DistinctWords)
		}
		if adding.has(CacheWeight) {
			dm.cWeight = append(dm.cWeight, rec.Weight)
		}
		if adding.has(CacheTrecno) {
			dm.cTrecno = append(dm.cTrecno, append([]byte(nil), rec.Trecno...))
		}
	}
	return nil
}
