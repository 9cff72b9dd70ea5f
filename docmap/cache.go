package docmap

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/mgtoolkit/mgstore/fileset"
	"github.com/mgtoolkit/mgstore/freemap"
	"github.com/mgtoolkit/mgstore/internal/obs"
	"github.com/mgtoolkit/mgstore/mgerr"
	"github.com/mgtoolkit/mgstore/page"
	"github.com/mgtoolkit/mgstore/vbyte"
)

// cacheTypTag names the file-set type used for trailing cache pages,
// kept separate from the data page sequence (typTag) so a cache
// rewrite never disturbs data-page fileno/offset addressing.
const cacheTypTag = "docmap-cache"

// Cache page section tags, spec.md §4.3's cache-page table.
const (
	secEnd        byte = 0x00
	secAgg        byte = 0x01
	secMap        byte = 0x02
	secWords      byte = 0x03
	secDWords     byte = 0x04
	secWeight     byte = 0x05
	secTrecno     byte = 0x06
	secTrecnoCode byte = 0x07
	secLoc        byte = 0x08
	secLocCode    byte = 0x09
	secTypeEx     byte = 0x0A
	secReposRec   byte = 0x0B
)

// cacheHeaderSize is the one-byte page tag preceding each cache
// page's payload chunk.
const cacheHeaderSize = 1

func putSection(buf []byte, tag byte, payload []byte) []byte {
	buf = append(buf, tag)
	buf = vbyte.Put(buf, uint64(len(payload)))
	return append(buf, payload...)
}

// Save flushes resident dirty data pages, marks the current last data
// page as final, and writes the map's metadata to trailing cache
// pages, per spec.md §4.3's save contract.
func (dm *DocMap) Save() error {
	start := time.Now()
	defer func() { obs.DocmapSaveDuration.Observe(time.Since(start).Seconds()) }()

	for _, p := range dm.pages {
		if p.dirty {
			if err := dm.fs.WriteAt(typTag, p.loc.Fileno, p.loc.Offset, p.image); err != nil {
				return err
			}
		}
	}

	if len(dm.pages) > 0 {
		last := dm.pages[len(dm.pages)-1]
		orig := last.image[0]
		last.image[0] = tagDataFinal
		if err := dm.fs.WriteAt(typTag, last.loc.Fileno, last.loc.Offset, last.image); err != nil {
			return err
		}
		last.image[0] = orig
	}

	body := dm.encodeCacheBody()
	return dm.writeCachePages(body)
}

func (dm *DocMap) encodeCacheBody() []byte {
	var buf []byte

	agg := make([]byte, 0, 40)
	agg = appendFloat64(agg, dm.sumBytes)
	agg = appendFloat64(agg, dm.sumWords)
	agg = appendFloat64(agg, dm.sumDWords)
	agg = appendFloat64(agg, dm.sumWeight)
	agg = appendFloat64(agg, float64(dm.sumTrecnoLen))
	agg = vbyte.Put(agg, dm.count)
	agg = vbyte.Put(agg, dm.timestamp)
	agg = append(agg, byte(dm.mask))
	buf = putSection(buf, secAgg, agg)

	var mp []byte
	mp = vbyte.Put(mp, uint64(len(dm.first)))
	for i, f := range dm.first {
		mp = vbyte.Put(mp, f)
		mp = vbyte.Put(mp, uint64(dm.locs[i].Fileno))
		mp = vbyte.Put(mp, uint64(dm.locs[i].Offset))
	}
	buf = putSection(buf, secMap, mp)

	if dm.mask.has(CacheWords) {
		var w []byte
		w = vbyte.Put(w, uint64(len(dm.cWords)))
		for _, v := range dm.cWords {
			w = vbyte.Put(w, uint64(v))
		}
		buf = putSection(buf, secWords, w)
	}
	if dm.mask.has(CacheDistinctWords) {
		var w []byte
		w = vbyte.Put(w, uint64(len(dm.cDWords)))
		for _, v := range dm.cDWords {
			w = vbyte.Put(w, uint64(v))
		}
		buf = putSection(buf, secDWords, w)
	}
	if dm.mask.has(CacheWeight) {
		var w []byte
		w = vbyte.Put(w, uint64(len(dm.cWeight)))
		for _, v := range dm.cWeight {
			w = vbyte.PutFloat(w, v, weightBits)
		}
		buf = putSection(buf, secWeight, w)
	}
	if dm.mask.has(CacheTrecno) {
		offsets, code := encodeTrecnoGroups(dm.cTrecno)
		buf = putSection(buf, secTrecno, offsets)
		buf = putSection(buf, secTrecnoCode, code)
	}

	// REPOS_REC precedes LOC/LOC_CODE because decoding LOC_CODE's
	// per-group checkpoint needs the repos run table already restored.
	var rr []byte
	runs := dm.repos.Runs()
	rr = vbyte.Put(rr, uint64(len(runs)))
	for _, r := range runs {
		rr = vbyte.Put(rr, r.startDocno)
		if r.manyInOne {
			rr = append(rr, 1)
		} else {
			rr = append(rr, 0)
		}
		rr = vbyte.Put(rr, uint64(r.fileno))
	}
	buf = putSection(buf, secReposRec, rr)

	if dm.mask.has(CacheLocation) {
		offsets, code := dm.encodeLocGroups()
		buf = putSection(buf, secLoc, offsets)
		buf = putSection(buf, secLocCode, code)

		var ex []byte
		var n uint64
		for docno, l := range dm.cLoc {
			if l.mimeType != 0 {
				n++
				ex = vbyte.Put(ex, uint64(docno))
				ex = append(ex, l.mimeType)
			}
		}
		exOut := vbyte.Put(nil, n)
		exOut = append(exOut, ex...)
		buf = putSection(buf, secTypeEx, exOut)
	}

	buf = putSection(buf, secEnd, nil)
	return buf
}

func appendFloat64(buf []byte, f float64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	return append(buf, b[:]...)
}

// encodeTrecnoGroups implements the TRECNO/TRECNO_CODE scheme: every
// 4th docno stores a full trecno (vbyte length + bytes) in the code
// array, the next 3 are front-coded against the previous docno's
// trecno; TRECNO holds one code-array offset per group of 4.
func encodeTrecnoGroups(trecno [][]byte) (offsets, code []byte) {
	offsets = vbyte.Put(nil, uint64(len(trecno)))
	var prev []byte
	for i, t := range trecno {
		if i%4 == 0 {
			offsets = vbyte.Put(offsets, uint64(len(code)))
			code = vbyte.Put(code, uint64(len(t)))
			code = append(code, t...)
		} else {
			prefix, suffix := frontCode(prev, t)
			code = vbyte.Put(code, uint64(prefix))
			code = vbyte.Put(code, uint64(len(suffix)))
			code = append(code, suffix...)
		}
		prev = t
	}
	return offsets, code
}

// encodeLocGroups implements the LOC/LOC_CODE scheme: per-doc byte
// counts, with an offset checkpoint prepended every 8th doc when that
// doc lies inside a many-docs-per-file run but isn't the run's first
// member.
func (dm *DocMap) encodeLocGroups() (offsets, code []byte) {
	offsets = vbyte.Put(nil, uint64(len(dm.cLoc)))
	for i, l := range dm.cLoc {
		if i%8 == 0 {
			offsets = vbyte.Put(offsets, uint64(len(code)))
			if dm.inRunNotFirst(uint64(i)) {
				code = vbyte.Put(code, uint64(l.offset))
			}
		}
		code = vbyte.Put(code, uint64(l.bytes))
	}
	return offsets, code
}

func (dm *DocMap) inRunNotFirst(docno uint64) bool {
	runs := dm.repos.Runs()
	for i := len(runs) - 1; i >= 0; i-- {
		if docno >= runs[i].startDocno {
			return runs[i].manyInOne && docno != runs[i].startDocno
		}
	}
	return false
}

func (dm *DocMap) writeCachePages(body []byte) error {
	chunk := dm.pageSize - cacheHeaderSize
	if chunk <= 0 {
		return mgerr.New(mgerr.Bufsize, "docmap: page too small for cache section")
	}

	var fileno uint32
	off := 0
	for {
		end := off + chunk
		final := end >= len(body)
		if final {
			end = len(body)
		}

		img := make([]byte, dm.pageSize)
		if final {
			img[0] = tagCacheFinal
		} else {
			img[0] = tagCache
		}
		copy(img[cacheHeaderSize:], body[off:end])

		if err := dm.fs.CreateOrReplace(cacheTypTag, fileno); err != nil {
			return err
		}
		if err := dm.fs.WriteAt(cacheTypTag, fileno, 0, img); err != nil {
			return err
		}
		if final {
			break
		}
		off = end
		fileno++
	}
	return nil
}

// readCacheBody reads every cache page in sequence and concatenates
// their payloads, stopping at the final-tagged page.
func readCacheBody(fs *fileset.FileSet, pageSize int) ([]byte, error) {
	var body []byte
	chunk := pageSize - cacheHeaderSize
	for fileno := uint32(0); ; fileno++ {
		img := make([]byte, pageSize)
		if err := fs.ReadAt(cacheTypTag, fileno, 0, img); err != nil {
			return nil, err
		}
		switch img[0] {
		case tagCache:
			body = append(body, img[cacheHeaderSize:cacheHeaderSize+chunk]...)
		case tagCacheFinal:
			body = append(body, img[cacheHeaderSize:cacheHeaderSize+chunk]...)
			return body, nil
		default:
			return nil, mgerr.New(mgerr.Fmt, "docmap: bad cache page tag")
		}
	}
}

type sectionReader struct {
	b   []byte
	off int
}

func (s *sectionReader) next() (tag byte, payload []byte, ok bool) {
	if s.off >= len(s.b) {
		return 0, nil, false
	}
	tag = s.b[s.off]
	s.off++
	n, sz, err := vbyte.Get(s.b[s.off:])
	if err != nil {
		return 0, nil, false
	}
	s.off += sz
	payload = s.b[s.off : s.off+int(n)]
	s.off += int(n)
	return tag, payload, true
}

// Load reconstructs a document map whose cache pages were written by
// Save. Quantities named in mask but absent from the saved cache mask
// are backfilled with a full rescan; an exact mask match skips it.
func Load(fs *fileset.FileSet, fm *freemap.FreeMap, pageSize, bufferPages int, maxFileSize int64, mask CacheMask) (*DocMap, error) {
	body, err := readCacheBody(fs, pageSize)
	if err != nil {
		return nil, err
	}

	dm := &DocMap{
		fs: fs, fm: fm,
		pageSize: pageSize, bufferPages: bufferPages, maxFileSize: maxFileSize,
		repos: newReposSet(),
	}

	var savedMask CacheMask
	sr := &sectionReader{b: body}
	for {
		tag, payload, ok := sr.next()
		if !ok {
			return nil, mgerr.New(mgerr.Fmt, "docmap: cache missing END section")
		}
		if tag == secEnd {
			break
		}
		if err := dm.loadSection(tag, payload, &savedMask); err != nil {
			return nil, err
		}
	}

	dm.mask = savedMask
	if err := dm.reopenResidentWindow(); err != nil {
		return nil, err
	}

	if missing := mask &^ savedMask; missing != 0 {
		dm.mask |= missing
		if err := dm.rescan(missing); err != nil {
			return nil, err
		}
	}
	return dm, nil
}

func (dm *DocMap) loadSection(tag byte, payload []byte, savedMask *CacheMask) error {
	r := vbyte.NewReader(payload)
	switch tag {
	case secAgg:
		if len(payload) < 40 {
			return mgerr.New(mgerr.Fmt, "docmap: short AGG section")
		}
		dm.sumBytes = readFloat64(payload[0:8])
		dm.sumWords = readFloat64(payload[8:16])
		dm.sumDWords = readFloat64(payload[16:24])
		dm.sumWeight = readFloat64(payload[24:32])
		dm.sumTrecnoLen = int64(readFloat64(payload[32:40]))
		r = vbyte.NewReader(payload[40:])
		dm.count = r.Uint()
		dm.timestamp = r.Uint()
		mb := r.Byte()
		*savedMask = CacheMask(mb)
		if r.Err != nil {
			return r.Err
		}
	case secMap:
		n := int(r.Uint())
		dm.first = make([]uint64, 0, n)
		dm.locs = make([]page.Location, 0, n)
		for i := 0; i < n; i++ {
			first := r.Uint()
			fileno := uint32(r.Uint())
			offset := int64(r.Uint())
			dm.first = append(dm.first, first)
			dm.locs = append(dm.locs, page.Location{Fileno: fileno, Offset: offset})
		}
		if r.Err != nil {
			return r.Err
		}
	case secWords:
		n := int(r.Uint())
		dm.cWords = make([]int64, n)
		for i := range dm.cWords {
			dm.cWords[i] = int64(r.Uint())
		}
		if r.Err != nil {
			return r.Err
		}
	case secDWords:
		n := int(r.Uint())
		dm.cDWords = make([]int64, n)
		for i := range dm.cDWords {
			dm.cDWords[i] = int64(r.Uint())
		}
		if r.Err != nil {
			return r.Err
		}
	case secWeight:
		n := int(r.Uint())
		dm.cWeight = make([]float64, n)
		for i := range dm.cWeight {
			dm.cWeight[i] = r.Float(weightBits)
		}
		if r.Err != nil {
			return r.Err
		}
	case secTrecno:
		dm.trecnoOffsets = payload
	case secTrecnoCode:
		dm.cTrecno = decodeTrecnoGroups(dm.trecnoOffsets, payload)
		dm.trecnoOffsets = nil
	case secLoc:
		dm.locOffsets = payload
	case secLocCode:
		dm.decodeLocGroups(payload)
		dm.locOffsets = nil
	case secTypeEx:
		n := r.Uint()
		for i := uint64(0); i < n; i++ {
			docno := r.Uint()
			mt := r.Byte()
			if r.Err != nil {
				return r.Err
			}
			if int(docno) < len(dm.cLoc) {
				dm.cLoc[docno].mimeType = mt
			}
		}
	case secReposRec:
		n := int(r.Uint())
		runs := make([]reposRun, n)
		for i := range runs {
			runs[i].startDocno = r.Uint()
			runs[i].manyInOne = r.Byte() != 0
			runs[i].fileno = uint32(r.Uint())
		}
		if r.Err != nil {
			return r.Err
		}
		dm.repos.restoreRuns(runs)
	}
	return nil
}

// reopenResidentWindow re-reads the trailing bufferPages data pages
// into memory, matching Save's assumption that the append buffer
// always holds the map's most recent window, and recovers dm.last so
// Add can keep delta-coding against it.
func (dm *DocMap) reopenResidentWindow() error {
	if len(dm.locs) == 0 {
		return nil
	}
	start := 0
	if len(dm.locs) > dm.bufferPages {
		start = len(dm.locs) - dm.bufferPages
	}

	dm.pages = nil
	for i := start; i < len(dm.locs); i++ {
		img := make([]byte, dm.pageSize)
		if err := dm.fs.ReadAt(typTag, dm.locs[i].Fileno, dm.locs[i].Offset, img); err != nil {
			return err
		}
		entries, _, err := parseDataPage(img)
		if err != nil {
			return err
		}
		used, last, err := decodePageTail(img, entries)
		if err != nil {
			return err
		}
		p := &dmPage{loc: dm.locs[i], image: img, entries: entries, used: used, firstDocno: dm.first[i], onDisk: true}
		dm.pages = append(dm.pages, p)
		if i == len(dm.locs)-1 {
			dm.last = last
		}
	}
	return nil
}

// decodePageTail decodes every record on a page and reports the body
// bytes consumed and the last decoded record.
func decodePageTail(img []byte, entries int) (used int, last *Record, err error) {
	r := vbyte.NewReader(img[dataHeaderSize:])
	var prev *Record
	for i := 0; i < entries; i++ {
		rec, _, derr := decodeRecord(r, prev)
		if derr != nil {
			return 0, nil, derr
		}
		prev = rec
	}
	return len(img[dataHeaderSize:]) - r.Len(), prev, nil
}

func readFloat64(b []byte) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

func decodeTrecnoGroups(offsets, code []byte) [][]byte {
	ro := vbyte.NewReader(offsets)
	n := int(ro.Uint())
	out := make([][]byte, n)
	var prev []byte
	rc := vbyte.NewReader(code)
	for i := 0; i < n; i++ {
		if i%4 == 0 {
			l := int(rc.Uint())
			out[i] = append([]byte(nil), rc.Bytes(l)...)
		} else {
			prefix := int(rc.Uint())
			suffixLen := int(rc.Uint())
			suffix := rc.Bytes(suffixLen)
			out[i] = append(append([]byte(nil), prev[:prefix]...), suffix...)
		}
		prev = out[i]
	}
	return out
}

func (dm *DocMap) decodeLocGroups(code []byte) {
	rc := vbyte.NewReader(code)
	ro := vbyte.NewReader(dm.locOffsets)
	count := int(ro.Uint())
	dm.cLoc = make([]docLoc, count)
	for i := 0; i < count; i++ {
		if i%8 == 0 {
			if dm.inRunNotFirst(uint64(i)) {
				// offset checkpoint precedes the byte count at group heads
				// inside a many-docs-per-file run.
				off := int64(rc.Uint())
				dm.cLoc[i].offset = off
			}
		} else if dm.inRunNotFirst(uint64(i)) {
			// between checkpoints, a run member starts where the
			// previous document ended.
			dm.cLoc[i].offset = dm.cLoc[i-1].offset + dm.cLoc[i-1].bytes
		}
		dm.cLoc[i].bytes = int64(rc.Uint())
	}
}
