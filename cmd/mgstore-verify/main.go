// Command mgstore-verify checks the testable invariants of spec.md §8
// (vocabulary ordering, per-document word/byte sanity) against one or
// more store directories, verifying them concurrently.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/mgtoolkit/mgstore/bucket"
	"github.com/mgtoolkit/mgstore/btree"
	"github.com/mgtoolkit/mgstore/docmap"
	"github.com/mgtoolkit/mgstore/fileset"
	"github.com/mgtoolkit/mgstore/freemap"
	"github.com/mgtoolkit/mgstore/internal/obs"
	"github.com/mgtoolkit/mgstore/internal/storemeta"
	"github.com/mgtoolkit/mgstore/mgerr"
)

const vocabTyp = "vocab"

func main() {
	parallelism := flag.Int("parallelism", 4, "number of store directories to verify concurrently")
	flag.Parse()

	sync := obs.Init("mgstore-verify")
	defer sync() //nolint:errcheck

	dirs := flag.Args()
	if len(dirs) == 0 {
		fmt.Fprintln(flag.CommandLine.Output(), "USAGE: mgstore-verify [-parallelism N] STOREDIR...")
		flag.PrintDefaults()
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(*parallelism)

	for _, dir := range dirs {
		dir := dir
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := verifyStore(dir); err != nil {
				return fmt.Errorf("%s: %w", dir, err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		obs.Get().Sugar().Errorf("verify failed: %v", err)
		os.Exit(1)
	}
	fmt.Printf("%d store(s) OK\n", len(dirs))
}

func verifyStore(dir string) error {
	meta, err := storemeta.Load(dir)
	if err != nil {
		return err
	}

	fs, err := fileset.Open(dir)
	if err != nil {
		return err
	}
	defer fs.Close()

	if err := verifyVocabOrder(fs, meta); err != nil {
		return err
	}
	return verifyDocMap(fs, meta)
}

// verifyVocabOrder walks the vocabulary tree's full in-order iteration
// and asserts strictly ascending terms, spec.md §8's B+tree invariant.
func verifyVocabOrder(fs *fileset.FileSet, meta storemeta.Meta) error {
	fm := freemap.New(int64(meta.PageSize), meta.MaxFileSize)
	vocab, err := btree.LoadQuick(fs, fm, vocabTyp, meta.PageSize, bucket.LeafStrategy, meta.VocabRoot, meta.VocabEntries)
	if err != nil {
		return err
	}

	it, err := vocab.IterAll()
	if err != nil {
		return err
	}
	var prev []byte
	n := 0
	for {
		term, _, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if prev != nil && string(term) <= string(prev) {
			return mgerr.Newf(mgerr.Fmt, "vocabulary out of order: %q does not follow %q", term, prev)
		}
		prev = append(prev[:0], term...)
		n++
	}
	if n != meta.VocabEntries {
		return mgerr.Newf(mgerr.Fmt, "vocabulary entry count mismatch: store.json says %d, tree holds %d", meta.VocabEntries, n)
	}
	return nil
}

// verifyDocMap checks spec.md §8's per-document sanity properties:
// words is never less than distinct_words, and a
// document's byte length is at least roughly proportional to its word
// count (every word contributes at least one byte plus a separator).
func verifyDocMap(fs *fileset.FileSet, meta storemeta.Meta) error {
	fm := freemap.New(int64(meta.PageSize), meta.MaxFileSize)
	dm, err := docmap.Load(fs, fm, meta.PageSize, meta.BufferPages, meta.MaxFileSize, docmap.CacheMask(meta.CacheMask))
	if err != nil {
		return err
	}

	count := dm.Count()
	if count == 0 {
		return nil
	}
	c, err := dm.NewCursor(0)
	if err != nil {
		return err
	}
	for docno := uint64(0); docno < count; docno++ {
		if err := c.Traverse(docno); err != nil {
			return err
		}
		rec := c.Record()
		if rec.Words < rec.DistinctWords {
			return mgerr.Newf(mgerr.Fmt, "docno %d: words (%d) < distinct_words (%d)", docno, rec.Words, rec.DistinctWords)
		}
		if rec.Bytes+1 < 2*rec.Words {
			return mgerr.Newf(mgerr.Fmt, "docno %d: bytes (%d) too small for words (%d)", docno, rec.Bytes, rec.Words)
		}
	}
	return nil
}
