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

func buildTestStore(t *testing.T, dir string, words, distinct, nbytes int64) storemeta.Meta {
	t.Helper()
	fs, err := fileset.Open(dir)
	require.NoError(t, err)
	defer fs.Close()

	fm := freemap.New(int64(testPageSize), int64(testPageSize)*1024)
	vocab, err := btree.New(fs, fm, vocabTyp, testPageSize, bucket.LeafStrategy)
	require.NoError(t, err)

	require.NoError(t, fs.Create("vectors", 0))
	body := impact.EncodePostingList([]impact.Posting{{Docno: 0, Freq: 1}})
	require.NoError(t, fs.WriteAt("vectors", 0, 0, body))
	entry := impact.VocabEntry{Kind: impact.KindPosting, Fileno: 0, Offset: 0, Length: int64(len(body))}
	require.NoError(t, vocab.Append([]byte("alpha"), impact.EncodeVocabEntry(entry)))
	require.NoError(t, vocab.Append([]byte("beta"), impact.EncodeVocabEntry(entry)))
	require.NoError(t, vocab.Flush())

	dmFm := freemap.New(int64(testPageSize), int64(testPageSize)*1024)
	dm, err := docmap.New(fs, dmFm, testPageSize, 2, int64(testPageSize)*1024, 0)
	require.NoError(t, err)
	_, err = dm.Add(0, 0, nbytes, 0, words, distinct, 1.0, []byte("doc-0"), 0)
	require.NoError(t, err)
	require.NoError(t, dm.Save())

	meta := storemeta.Meta{
		PageSize:     testPageSize,
		BufferPages:  2,
		MaxFileSize:  int64(testPageSize) * 1024,
		VocabRoot:    vocab.Root(),
		VocabEntries: 2,
	}
	require.NoError(t, storemeta.Save(dir, meta))
	return meta
}

func TestVerifyStorePasses(t *testing.T) {
	dir := t.TempDir()
	buildTestStore(t, dir, 10, 8, 25)
	require.NoError(t, verifyStore(dir))
}

func TestVerifyStoreCatchesEntryCountMismatch(t *testing.T) {
	dir := t.TempDir()
	meta := buildTestStore(t, dir, 10, 8, 25)
	meta.VocabEntries = 3 // store.json disagrees with the tree's actual entry count
	require.NoError(t, storemeta.Save(dir, meta))

	err := verifyStore(dir)
	require.Error(t, err)
}
