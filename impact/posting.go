package impact

import "github.com/mgtoolkit/mgstore/vbyte"

// Posting is one (docno, term frequency) pair. Position lists are out
// of scope for the transform itself (it only needs frequency to
// compute a weight). The list format DecodePostingList reads carries
// no position data: each entry is exactly (δdocno, f_dt), and a list
// with positions after f_dt does not decode correctly.
type Posting struct {
	Docno uint64
	Freq  uint64
}

// DecodePostingList decodes a document-ordered posting list: header
// (docs, occurs, last_docno) followed by docs entries of (δdocno,
// f_dt).
func DecodePostingList(b []byte) (postings []Posting, occurs uint64, err error) {
	r := vbyte.NewReader(b)
	docs := r.Uint()
	occurs = r.Uint()
	r.Uint() // last_docno, recoverable from the final posting; not needed here

	postings = make([]Posting, 0, docs)
	var docno uint64
	for i := uint64(0); i < docs; i++ {
		delta := r.Uint()
		if i == 0 {
			docno = delta
		} else {
			docno += delta
		}
		freq := r.Uint()
		postings = append(postings, Posting{Docno: docno, Freq: freq})
	}
	if r.Err != nil {
		return nil, 0, r.Err
	}
	return postings, occurs, nil
}

// EncodePostingList is DecodePostingList's inverse, used by tests and
// by any caller producing a fresh document-ordered list.
func EncodePostingList(postings []Posting) []byte {
	var occurs uint64
	for _, p := range postings {
		occurs += p.Freq
	}

	w := vbyte.NewWriter(nil, 24*len(postings)+32)
	w.PutUint(uint64(len(postings)))
	w.PutUint(occurs)
	var last uint64
	if len(postings) > 0 {
		last = postings[len(postings)-1].Docno
	}
	w.PutUint(last)

	var prev uint64
	for i, p := range postings {
		if i == 0 {
			w.PutUint(p.Docno)
		} else {
			w.PutUint(p.Docno - prev)
		}
		w.PutUint(p.Freq)
		prev = p.Docno
	}
	return w.Bytes()
}
