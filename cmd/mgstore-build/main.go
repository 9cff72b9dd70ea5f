// Command mgstore-build constructs a vocabulary/docmap/vector store
// from a feed of pre-tokenized documents. Tokenization, stemming, and
// MIME sniffing are out of scope (spec.md's Non-goals); the feed is
// expected to already carry per-document term/frequency pairs, one
// JSON object per line:
//
//	{"trecno":"AP880212-0001","fileno":0,"offset":0,"bytes":512,
//	 "words":80,"distinct_words":52,"weight":1.0,"mime":0,"flags":0,
//	 "postings":[{"term":"zebra","freq":3}, ...]}
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/mgtoolkit/mgstore/bucket"
	"github.com/mgtoolkit/mgstore/btree"
	"github.com/mgtoolkit/mgstore/docmap"
	"github.com/mgtoolkit/mgstore/fileset"
	"github.com/mgtoolkit/mgstore/freemap"
	"github.com/mgtoolkit/mgstore/impact"
	"github.com/mgtoolkit/mgstore/internal/config"
	"github.com/mgtoolkit/mgstore/internal/obs"
	"github.com/mgtoolkit/mgstore/internal/storemeta"
)

const (
	vocabTyp  = "vocab"
	vectorTyp = "vectors"
)

type postingIn struct {
	Term string `json:"term"`
	Freq uint64 `json:"freq"`
}

type docIn struct {
	Trecno        string      `json:"trecno"`
	Fileno        uint32      `json:"fileno"`
	Offset        int64       `json:"offset"`
	Bytes         int64       `json:"bytes"`
	Words         int64       `json:"words"`
	DistinctWords int64       `json:"distinct_words"`
	Weight        float64     `json:"weight"`
	Mime          byte        `json:"mime"`
	Flags         byte        `json:"flags"`
	Postings      []postingIn `json:"postings"`
}

func main() {
	fs := flag.NewFlagSet("mgstore-build", flag.ExitOnError)
	dir := fs.String("dir", "", "store directory (created if absent)")
	feed := fs.String("feed", "", "JSON-lines document feed; defaults to stdin")
	cfg := config.Defaults()
	cfg.Flags(fs)

	if err := config.ParseEnv(fs, os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	if _, err := maxprocs.Set(); err != nil {
		log.Fatal(err)
	}
	sync := obs.Init("mgstore-build")
	defer sync() //nolint:errcheck
	logger := obs.Get()

	if *dir == "" {
		fmt.Fprintln(fs.Output(), "USAGE: mgstore-build -dir STOREDIR [-feed FILE]")
		fs.PrintDefaults()
		os.Exit(1)
	}

	r := os.Stdin
	if *feed != "" {
		f, err := os.Open(*feed)
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		r = f
	}

	if err := build(*dir, r, cfg); err != nil {
		logger.Fatal("build failed", zap.Error(err))
	}
}

func build(dir string, r io.Reader, cfg *config.Store) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	fs, err := fileset.Open(dir)
	if err != nil {
		return err
	}
	defer fs.Close()

	dmFm := freemap.New(int64(cfg.PageSize), cfg.MaxFileSize)
	dm, err := docmap.New(fs, dmFm, cfg.PageSize, cfg.BufferPages, cfg.MaxFileSize, cfg.CacheMask)
	if err != nil {
		return err
	}

	if err := fs.Create(vectorTyp, 0); err != nil {
		return err
	}
	vecFileno := uint32(0)
	vecOffset := int64(0)

	postingsByTerm := map[string][]impact.Posting{}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var d docIn
		if err := json.Unmarshal(line, &d); err != nil {
			return err
		}

		docno, err := dm.Add(d.Fileno, d.Offset, d.Bytes, d.Flags, d.Words, d.DistinctWords, d.Weight, []byte(d.Trecno), d.Mime)
		if err != nil {
			return err
		}
		for _, p := range d.Postings {
			postingsByTerm[p.Term] = append(postingsByTerm[p.Term], impact.Posting{Docno: docno, Freq: p.Freq})
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	terms := make([]string, 0, len(postingsByTerm))
	for term := range postingsByTerm {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	vocabFm := freemap.New(int64(cfg.PageSize), cfg.MaxFileSize)
	vocab, err := btree.New(fs, vocabFm, vocabTyp, cfg.PageSize, bucket.LeafStrategy)
	if err != nil {
		return err
	}

	for _, term := range terms {
		postings := postingsByTerm[term]
		sort.Slice(postings, func(i, j int) bool { return postings[i].Docno < postings[j].Docno })

		body := impact.EncodePostingList(postings)
		if vecOffset+int64(len(body)) > cfg.MaxFileSize {
			vecFileno++
			vecOffset = 0
			if err := fs.Create(vectorTyp, vecFileno); err != nil {
				return err
			}
		}
		if err := fs.WriteAt(vectorTyp, vecFileno, vecOffset, body); err != nil {
			return err
		}
		entry := impact.VocabEntry{Kind: impact.KindPosting, Fileno: vecFileno, Offset: vecOffset, Length: int64(len(body))}
		vecOffset += int64(len(body))

		if err := vocab.Append([]byte(term), impact.EncodeVocabEntry(entry)); err != nil {
			return err
		}
	}

	if err := vocab.Flush(); err != nil {
		return err
	}
	if err := dm.Save(); err != nil {
		return err
	}

	meta := storemeta.Meta{
		PageSize:     cfg.PageSize,
		BufferPages:  cfg.BufferPages,
		MaxFileSize:  cfg.MaxFileSize,
		CacheMask:    uint8(cfg.CacheMask),
		VocabRoot:    vocab.Root(),
		VocabEntries: len(terms),
		Pivot:        cfg.Pivot,
		Slope:        cfg.Slope,
		QuantBits:    cfg.QuantBits,
	}
	if err := storemeta.Save(dir, meta); err != nil {
		return err
	}

	var totalPostings int
	for _, p := range postingsByTerm {
		totalPostings += len(p)
	}
	obs.Get().Info("build complete",
		zap.Uint64("documents", dm.Count()),
		zap.Int("terms", len(terms)),
		zap.String("postings", humanize.Comma(int64(totalPostings))),
		zap.String("dir", dir))
	return nil
}
