package impact

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/mgtoolkit/mgstore/bucket"
	"github.com/mgtoolkit/mgstore/btree"
	"github.com/mgtoolkit/mgstore/fileset"
	"github.com/mgtoolkit/mgstore/freemap"
)

const testPageSize = 4096

type fakeWeights struct {
	byDocno map[uint64]float64
	avg     float64
}

func (f *fakeWeights) GetWeight(docno uint64) (float64, error) { return f.byDocno[docno], nil }
func (f *fakeWeights) AvgWeight() float64                      { return f.avg }

func buildVocab(t *testing.T, fs *fileset.FileSet, vecFS *fileset.FileSet, vecTyp string, entries map[string][]Posting) *btree.Tree {
	t.Helper()
	fm := freemap.New(int64(testPageSize), int64(testPageSize)*4096)
	tree, err := btree.New(fs, fm, "vocab", testPageSize, bucket.LeafStrategy)
	require.NoError(t, err)

	require.NoError(t, vecFS.Create(vecTyp, 0))
	var offset int64
	for term, postings := range entries {
		body := EncodePostingList(postings)
		require.NoError(t, vecFS.WriteAt(vecTyp, 0, offset, body))
		entry := VocabEntry{Kind: KindPosting, Fileno: 0, Offset: offset, Length: int64(len(body))}
		offset += int64(len(body))
		require.NoError(t, tree.Put(append([]byte(nil), term...), encodeVocabEntry(entry)))
	}
	require.NoError(t, tree.Flush())
	return tree
}

func TestTransformProducesImpactEntryPerTerm(t *testing.T) {
	dir := t.TempDir()
	fs, err := fileset.Open(dir)
	require.NoError(t, err)
	vecFS, err := fileset.Open(dir)
	require.NoError(t, err)

	postings := map[string][]Posting{
		"alpha": {{Docno: 0, Freq: 3}, {Docno: 1, Freq: 1}, {Docno: 5, Freq: 7}},
		"beta":  {{Docno: 2, Freq: 2}, {Docno: 3, Freq: 2}},
	}
	vocab := buildVocab(t, fs, vecFS, "vectors", postings)

	weights := &fakeWeights{
		byDocno: map[uint64]float64{0: 10, 1: 12, 2: 8, 3: 9, 5: 20},
		avg:     11.8,
	}

	opts := DefaultOptions("vectors", int64(testPageSize)*4096)
	opts.VocabTyp = "vocab"
	opts.VocabFS = fs
	opts.VocabPage = testPageSize
	opts.LeafStg = bucket.LeafStrategy

	newVocab, stats, err := Transform(vocab, vecFS, weights, opts)
	require.NoError(t, err)
	require.Equal(t, 2, stats.TermsRewritten)
	require.True(t, stats.WqtMax >= stats.WqtMin)

	it, err := newVocab.IterAll()
	require.NoError(t, err)
	seen := map[string]bool{}
	for {
		term, payload, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		entries, err := decodeVocabPayload(payload)
		require.NoError(t, err)
		require.Len(t, entries, 2)

		_, hasOrig := findEntry(entries, KindPosting)
		require.True(t, hasOrig)
		impactE, hasImpact := findEntry(entries, KindImpact)
		require.True(t, hasImpact)

		raw := make([]byte, impactE.Length)
		require.NoError(t, vecFS.ReadAt("vectors-impact", impactE.Fileno, impactE.Offset, raw))
		scored, err := DecodeImpactBlocks(raw)
		require.NoError(t, err)
		require.Len(t, scored, len(postings[string(term)]))

		for i := 1; i < len(scored); i++ {
			require.True(t, scored[i-1].Level >= scored[i].Level)
			if scored[i-1].Level == scored[i].Level {
				require.True(t, scored[i-1].Docno < scored[i].Docno)
			}
		}
		seen[string(term)] = true
	}
	require.True(t, seen["alpha"])
	require.True(t, seen["beta"])
}

func TestQuantizeWeightMonotonic(t *testing.T) {
	opts := Options{Pivot: DefaultPivot, Slope: 0, QuantBits: DefaultQuantBits}
	M, m := 10.0, 1.0
	B := normalizationConstant(M, m)

	lo := quantizeWeight(m, M, m, B, opts)
	hi := quantizeWeight(M, M, m, B, opts)
	require.True(t, hi >= lo)
}

func TestEncodeDecodeImpactBlocksRoundTrip(t *testing.T) {
	scored := []scoredPosting{
		{docno: 1, level: 5},
		{docno: 2, level: 5},
		{docno: 7, level: 5},
		{docno: 3, level: 2},
		{docno: 9, level: 2},
	}
	body := encodeImpactBlocks(scored)
	decoded, err := DecodeImpactBlocks(body)
	require.NoError(t, err)
	require.Len(t, decoded, len(scored))
	for i, s := range scored {
		require.EqualValues(t, s.docno, decoded[i].Docno)
		require.EqualValues(t, s.level, decoded[i].Level)
	}
}

func TestPostingListEncodeDecodeRoundTrip(t *testing.T) {
	postings := []Posting{{Docno: 0, Freq: 4}, {Docno: 2, Freq: 1}, {Docno: 9, Freq: 3}}
	body := EncodePostingList(postings)
	decoded, occurs, err := DecodePostingList(body)
	require.NoError(t, err)
	require.EqualValues(t, 8, occurs)
	if diff := cmp.Diff(postings, decoded); diff != "" {
		t.Errorf("posting list mismatch after round trip (-want +got):\n%s", diff)
	}
}
