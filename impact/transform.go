package impact

import (
	"math"
	"sort"
	"time"

	"github.com/mgtoolkit/mgstore/bucket"
	"github.com/mgtoolkit/mgstore/btree"
	"github.com/mgtoolkit/mgstore/fileset"
	"github.com/mgtoolkit/mgstore/freemap"
	"github.com/mgtoolkit/mgstore/internal/obs"
	"github.com/mgtoolkit/mgstore/mgerr"
	"github.com/mgtoolkit/mgstore/vbyte"
)

// Weights supplies the per-document weight data the pivoted-cosine
// formula needs; *docmap.DocMap satisfies it directly (GetWeight,
// AvgWeight), kept as an interface so tests can substitute a fake map.
type Weights interface {
	GetWeight(docno uint64) (float64, error)
	AvgWeight() float64
}

// Options carries the transform's tunable parameters, spec.md §6.
type Options struct {
	Pivot       float64
	Slope       float64
	QuantBits   uint
	MaxFileSize int64
	VectorTyp   string // file-set type the document-ordered vectors live under
	VocabTyp    string // file-set type the vocabulary tree's pages live under
	VocabFS     *fileset.FileSet
	VocabPage   int
	LeafStg     bucket.Strategy
}

// DefaultOptions returns the spec's documented defaults.
func DefaultOptions(vectorTyp string, maxFileSize int64) Options {
	return Options{
		Pivot:       DefaultPivot,
		Slope:       DefaultSlope,
		QuantBits:   DefaultQuantBits,
		MaxFileSize: maxFileSize,
		VectorTyp:   vectorTyp,
	}
}

// Stats reports the running quantities the transform leaves behind
// for later query-time scoring, per spec.md §4.4 step 5.
type Stats struct {
	WqtMin, WqtMax float64
	TermsRewritten int
}

// termWork accumulates scan-1 results for one term so scan 2 does not
// need to re-read the vector file: spec.md frames the algorithm as
// two literal passes over disk, but nothing requires discarding the
// first pass's decoded postings, and re-reading every vector a second
// time would double the transform's I/O for no benefit.
type termWork struct {
	term     []byte
	orig     VocabEntry
	postings []Posting
	weights  []float64 // w_dt, parallel to postings
	fAvg     float64   // f_t: average f_dt for this term
}

// Transform runs the full two-scan impact transform over vocab,
// reading document-ordered vectors from vecFS under opts.VectorTyp and
// weights from dm, and returns the committed vocabulary (reopened via
// btree.Load) plus the scoring statistics.
func Transform(vocab *btree.Tree, vecFS *fileset.FileSet, dm Weights, opts Options) (*btree.Tree, Stats, error) {
	start := time.Now()
	defer func() { obs.ImpactTransformDuration.Observe(time.Since(start).Seconds()) }()

	terms, err := scanOne(vocab, vecFS, dm, opts)
	if err != nil {
		return nil, Stats{}, err
	}
	if len(terms) == 0 {
		return vocab, Stats{}, nil
	}

	M, m := globalExtremes(terms)
	if M <= 0 || m <= 0 || M == m {
		return nil, Stats{}, mgerr.New(mgerr.Arg, "impact: degenerate weight range, cannot normalise")
	}
	B := normalizationConstant(M, m)
	fAvgCorpus := corpusAverageFreq(terms)

	newVocab, stats, err := scanTwo(terms, vecFS, opts, M, m, B, fAvgCorpus)
	if err != nil {
		return nil, Stats{}, err
	}
	return newVocab, stats, nil
}

func scanOne(vocab *btree.Tree, vecFS *fileset.FileSet, dm Weights, opts Options) ([]termWork, error) {
	aW := dm.AvgWeight()
	if aW <= 0 {
		return nil, mgerr.New(mgerr.Arg, "impact: average document weight must be positive")
	}

	it, err := vocab.IterAll()
	if err != nil {
		return nil, err
	}

	var terms []termWork
	for {
		term, payload, ok, err := it.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}

		entries, err := decodeVocabPayload(payload)
		if err != nil {
			return nil, err
		}
		orig, ok := findEntry(entries, KindPosting)
		if !ok {
			continue
		}

		raw := make([]byte, orig.Length)
		if err := vecFS.ReadAt(opts.VectorTyp, orig.Fileno, orig.Offset, raw); err != nil {
			return nil, err
		}
		postings, _, err := DecodePostingList(raw)
		if err != nil {
			return nil, err
		}
		if len(postings) == 0 {
			continue
		}

		tw := termWork{term: append([]byte(nil), term...), orig: orig, postings: postings}
		tw.weights = make([]float64, len(postings))
		var sumFreq float64
		for i, p := range postings {
			Wd, err := dm.GetWeight(p.Docno)
			if err != nil {
				return nil, err
			}
			w := (1 + math.Log(float64(p.Freq))) / ((1 - opts.Pivot) + opts.Pivot*Wd/aW)
			tw.weights[i] = w
			sumFreq += float64(p.Freq)
		}
		tw.fAvg = sumFreq / float64(len(postings))
		terms = append(terms, tw)
	}
	return terms, nil
}

func globalExtremes(terms []termWork) (M, m float64) {
	m = math.Inf(1)
	M = math.Inf(-1)
	for _, tw := range terms {
		for _, w := range tw.weights {
			if w < m {
				m = w
			}
			if w > M {
				M = w
			}
		}
	}
	return M, m
}

// normalizationConstant computes B = (M/m)^(m/(M-m)).
func normalizationConstant(M, m float64) float64 {
	return math.Pow(M/m, m/(M-m))
}

func corpusAverageFreq(terms []termWork) float64 {
	var sum float64
	for _, tw := range terms {
		sum += tw.fAvg
	}
	return sum / float64(len(terms))
}

const quantEpsilon = 1e-9

// quantizeWeight implements scan 2 step 3: clamp-and-rescale through
// log_B, blend with the raw weight by opts.Slope, then bucket into
// 1..2^Q.
func quantizeWeight(w, M, m, B float64, opts Options) int {
	ratio := w / m
	wPrime := m + m*math.Log(ratio)/math.Log(B)
	if wPrime < m {
		wPrime = m
	}
	if wPrime > M {
		wPrime = M
	}
	wPrime = (1-opts.Slope)*wPrime + opts.Slope*w

	levels := math.Pow(2, float64(opts.QuantBits))
	level := int(math.Floor(levels*(wPrime-m)/(M-m+quantEpsilon))) + 1
	return level
}

type scoredPosting struct {
	docno uint64
	level int
}

func scanTwo(terms []termWork, vecFS *fileset.FileSet, opts Options, M, m, B, fAvgCorpus float64) (*btree.Tree, Stats, error) {
	sideTyp := opts.VectorTyp + "-impact"
	if err := vecFS.Create(sideTyp, 0); err != nil {
		return nil, Stats{}, err
	}
	vfileno := uint32(0)
	voffset := int64(0)

	sideVocabTyp := opts.VocabTyp + "-rebuild"
	newFm := freemap.New(int64(opts.VocabPage), opts.MaxFileSize)
	newVocab, err := btree.New(opts.VocabFS, newFm, sideVocabTyp, opts.VocabPage, opts.LeafStg)
	if err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{WqtMin: math.Inf(1), WqtMax: math.Inf(-1)}

	for _, tw := range terms {
		scored := make([]scoredPosting, len(tw.postings))
		for i, p := range tw.postings {
			level := quantizeWeight(tw.weights[i], M, m, B, opts)
			scored[i] = scoredPosting{docno: p.Docno, level: level}
		}
		sort.Slice(scored, func(i, j int) bool {
			if scored[i].level != scored[j].level {
				return scored[i].level > scored[j].level
			}
			return scored[i].docno < scored[j].docno
		})

		body := encodeImpactBlocks(scored)

		if voffset+int64(len(body)) > opts.MaxFileSize {
			vfileno++
			voffset = 0
			if err := vecFS.Create(sideTyp, vfileno); err != nil {
				return nil, Stats{}, err
			}
		}
		if err := vecFS.WriteAt(sideTyp, vfileno, voffset, body); err != nil {
			return nil, Stats{}, err
		}
		impactEntry := VocabEntry{Kind: KindImpact, Fileno: vfileno, Offset: voffset, Length: int64(len(body))}
		voffset += int64(len(body))

		payload := append(encodeVocabEntry(tw.orig), encodeVocabEntry(impactEntry)...)
		if err := newVocab.Append(tw.term, payload); err != nil {
			return nil, Stats{}, err
		}

		wqt := (1 + math.Log(tw.fAvg)) * math.Log(1+fAvgCorpus/tw.fAvg)
		if wqt < stats.WqtMin {
			stats.WqtMin = wqt
		}
		if wqt > stats.WqtMax {
			stats.WqtMax = wqt
		}
		stats.TermsRewritten++
		obs.ImpactTermsRewritten.Inc()
	}

	if err := newVocab.Flush(); err != nil {
		return nil, Stats{}, err
	}

	rootLoc := newVocab.Root()
	lastFileno := newFm.Tail().Fileno
	filenos := make([]uint32, lastFileno+1)
	for i := range filenos {
		filenos[i] = uint32(i)
	}
	if err := opts.VocabFS.RenameType(sideVocabTyp, opts.VocabTyp, filenos); err != nil {
		return nil, Stats{}, err
	}

	committed, err := btree.Load(opts.VocabFS, newFm, opts.VocabTyp, opts.VocabPage, opts.LeafStg, rootLoc)
	if err != nil {
		return nil, Stats{}, err
	}
	return committed, stats, nil
}

// encodeImpactBlocks writes scored (already sorted by level desc,
// docno asc) as the block sequence of spec.md §4.4 step 4: vbyte
// block_size, vbyte impact_level, then docnos (first absolute,
// subsequent delta-minus-one).
func encodeImpactBlocks(scored []scoredPosting) []byte {
	w := vbyte.NewWriter(nil, 24*len(scored)+64)
	i := 0
	for i < len(scored) {
		j := i
		for j < len(scored) && scored[j].level == scored[i].level {
			j++
		}
		block := scored[i:j]
		w.PutUint(uint64(len(block)))
		w.PutUint(uint64(block[0].level))
		var prev uint64
		for k, s := range block {
			if k == 0 {
				w.PutUint(s.docno)
			} else {
				w.PutUint(s.docno - prev - 1)
			}
			prev = s.docno
		}
		i = j
	}
	return w.Bytes()
}

// ScoredPosting is one decoded (docno, impact level) pair, the result
// of DecodeImpactBlocks.
type ScoredPosting struct {
	Docno uint64
	Level int
}

// DecodeImpactBlocks is encodeImpactBlocks's inverse, exposed for
// query-time readers and tests.
func DecodeImpactBlocks(b []byte) ([]ScoredPosting, error) {
	r := vbyte.NewReader(b)
	var out []ScoredPosting
	for r.Len() > 0 {
		size := r.Uint()
		level := r.Uint()
		var prev uint64
		for k := uint64(0); k < size; k++ {
			v := r.Uint()
			var docno uint64
			if k == 0 {
				docno = v
			} else {
				docno = prev + v + 1
			}
			out = append(out, ScoredPosting{Docno: docno, Level: int(level)})
			prev = docno
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	return out, nil
}
