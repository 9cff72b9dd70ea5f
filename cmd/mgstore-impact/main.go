// Command mgstore-impact runs the posting-list impact transform
// (spec.md §4.4) over an existing store built by mgstore-build,
// printing the resulting weight-quantisation statistics.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/mgtoolkit/mgstore/bucket"
	"github.com/mgtoolkit/mgstore/btree"
	"github.com/mgtoolkit/mgstore/docmap"
	"github.com/mgtoolkit/mgstore/fileset"
	"github.com/mgtoolkit/mgstore/freemap"
	"github.com/mgtoolkit/mgstore/impact"
	"github.com/mgtoolkit/mgstore/internal/obs"
	"github.com/mgtoolkit/mgstore/internal/storemeta"
)

const (
	vocabTyp  = "vocab"
	vectorTyp = "vectors"
)

func main() {
	dir := flag.String("dir", "", "store directory, as produced by mgstore-build")
	flag.Parse()

	if _, err := maxprocs.Set(); err != nil {
		log.Fatal(err)
	}
	sync := obs.Init("mgstore-impact")
	defer sync() //nolint:errcheck

	if *dir == "" {
		fmt.Fprintln(flag.CommandLine.Output(), "USAGE: mgstore-impact -dir STOREDIR")
		flag.PrintDefaults()
		os.Exit(1)
	}

	stats, err := run(*dir)
	if err != nil {
		obs.Get().Fatal("impact transform failed", zap.Error(err))
	}
	fmt.Printf("terms_rewritten=%d wqt_min=%.6f wqt_max=%.6f\n", stats.TermsRewritten, stats.WqtMin, stats.WqtMax)
}

func run(dir string) (impact.Stats, error) {
	meta, err := storemeta.Load(dir)
	if err != nil {
		return impact.Stats{}, err
	}

	fs, err := fileset.Open(dir)
	if err != nil {
		return impact.Stats{}, err
	}
	defer fs.Close()

	dmFm := freemap.New(int64(meta.PageSize), meta.MaxFileSize)
	dm, err := docmap.Load(fs, dmFm, meta.PageSize, meta.BufferPages, meta.MaxFileSize, docmap.CacheMask(meta.CacheMask))
	if err != nil {
		return impact.Stats{}, err
	}

	vocabFm := freemap.New(int64(meta.PageSize), meta.MaxFileSize)
	vocab, err := btree.LoadQuick(fs, vocabFm, vocabTyp, meta.PageSize, bucket.LeafStrategy, meta.VocabRoot, meta.VocabEntries)
	if err != nil {
		return impact.Stats{}, err
	}

	opts := impact.DefaultOptions(vectorTyp, meta.MaxFileSize)
	opts.Pivot = meta.Pivot
	opts.Slope = meta.Slope
	opts.QuantBits = meta.QuantBits
	opts.VocabTyp = vocabTyp
	opts.VocabFS = fs
	opts.VocabPage = meta.PageSize
	opts.LeafStg = bucket.LeafStrategy

	newVocab, stats, err := impact.Transform(vocab, fs, dm, opts)
	if err != nil {
		return impact.Stats{}, err
	}

	meta.VocabRoot = newVocab.Root()
	meta.ImpactApplied = true
	if err := storemeta.Save(dir, meta); err != nil {
		return impact.Stats{}, err
	}
	return stats, nil
}
