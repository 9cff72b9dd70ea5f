package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgtoolkit/mgstore/bucket"
	"github.com/mgtoolkit/mgstore/btree"
	"github.com/mgtoolkit/mgstore/docmap"
	"github.com/mgtoolkit/mgstore/fileset"
	"github.com/mgtoolkit/mgstore/freemap"
	"github.com/mgtoolkit/mgstore/impact"
	"github.com/mgtoolkit/mgstore/internal/storemeta"
)

const testPageSize = 4096

func TestRunAppliesImpactTransformAndPersistsRoot(t *testing.T) {
	dir := t.TempDir()

	func() {
		fs, err := fileset.Open(dir)
		require.NoError(t, err)
		defer fs.Close()

		fm := freemap.New(int64(testPageSize), int64(testPageSize)*1024)
		vocab, err := btree.New(fs, fm, vocabTyp, testPageSize, bucket.LeafStrategy)
		require.NoError(t, err)

		require.NoError(t, fs.Create(vectorTyp, 0))
		postings := []impact.Posting{{Docno: 0, Freq: 3}, {Docno: 1, Freq: 1}}
		body := impact.EncodePostingList(postings)
		require.NoError(t, fs.WriteAt(vectorTyp, 0, 0, body))
		entry := impact.VocabEntry{Kind: impact.KindPosting, Fileno: 0, Offset: 0, Length: int64(len(body))}
		require.NoError(t, vocab.Append([]byte("alpha"), impact.EncodeVocabEntry(entry)))
		require.NoError(t, vocab.Flush())

		dmFm := freemap.New(int64(testPageSize), int64(testPageSize)*1024)
		dm, err := docmap.New(fs, dmFm, testPageSize, 2, int64(testPageSize)*1024, 0)
		require.NoError(t, err)
		_, err = dm.Add(0, 0, 20, 0, 10, 8, 10.0, []byte("doc-0"), 0)
		require.NoError(t, err)
		_, err = dm.Add(0, 20, 20, 0, 10, 8, 12.0, []byte("doc-1"), 0)
		require.NoError(t, err)
		require.NoError(t, dm.Save())

		meta := storemeta.Meta{
			PageSize:     testPageSize,
			BufferPages:  2,
			MaxFileSize:  int64(testPageSize) * 1024,
			VocabRoot:    vocab.Root(),
			VocabEntries: 1,
			Pivot:        impact.DefaultPivot,
			Slope:        impact.DefaultSlope,
			QuantBits:    impact.DefaultQuantBits,
		}
		require.NoError(t, storemeta.Save(dir, meta))
	}()

	stats, err := run(dir)
	require.NoError(t, err)
	require.Equal(t, 1, stats.TermsRewritten)

	meta, err := storemeta.Load(dir)
	require.NoError(t, err)
	require.True(t, meta.ImpactApplied)
}
