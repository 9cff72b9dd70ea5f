// Package config collects the tunable parameters spec.md §6 lists
// into one struct, wires them to command-line flags, and layers
// environment variable overrides on top via peterbourgon/ff — the
// same flag-registration shape the build package uses for index
// Options, generalized from one flag set to the full store.
package config

import (
	"flag"
	"fmt"

	"github.com/peterbourgon/ff/v3"

	"github.com/mgtoolkit/mgstore/docmap"
)

// envPrefix is the variable prefix ff.Parse looks for: MGSTORE_PAGE_SIZE
// overrides -page_size, and so on.
const envPrefix = "MGSTORE"

// Store bundles every per-component tunable spec.md §6 names under
// "Tunable parameters" into one value, so a single flag set and a
// single environment prefix configure an entire store.
type Store struct {
	// PageSize is the page size shared by the vocabulary B+tree and
	// the document map, in bytes.
	PageSize int

	// BufferPages is the number of trailing document-map pages kept
	// resident between saves.
	BufferPages int

	// MaxFileSize is the byte ceiling before a component rolls onto a
	// new numbered file.
	MaxFileSize int64

	// CacheMask selects which document-map cache sections Save/Load
	// persist: any subset of location, words, distinct_words, weight,
	// trecno.
	CacheMask docmap.CacheMask

	// Pivot, Slope, and QuantBits are the impact transform's
	// pivoted-cosine weighting knobs.
	Pivot     float64
	Slope     float64
	QuantBits uint

	// TrecnoFrontFreq and LocRelFreq hold how often the document map's
	// cache pages emit a full (non-front-coded, non-delta) record
	// instead of coding against the previous one. Nothing passes them
	// to the document map: its cache encoding always uses a full trecno
	// every 4 records and a location checkpoint every 8, whatever these
	// fields hold.
	TrecnoFrontFreq int
	LocRelFreq      int

	// StemCacheCapacity sizes the clock/second-chance stem cache.
	StemCacheCapacity int
}

// Defaults returns spec.md §6's documented defaults.
func Defaults() *Store {
	return &Store{
		PageSize:          4096,
		BufferPages:       4,
		MaxFileSize:       1 << 30,
		CacheMask:         0,
		Pivot:             0.2,
		Slope:             0.6,
		QuantBits:         8,
		TrecnoFrontFreq:   4,
		LocRelFreq:        8,
		StemCacheCapacity: 4096,
	}
}

var cacheMaskFlagNames = []struct {
	bit  docmap.CacheMask
	name string
}{
	{docmap.CacheLocation, "location"},
	{docmap.CacheWords, "words"},
	{docmap.CacheDistinctWords, "distinct_words"},
	{docmap.CacheWeight, "weight"},
	{docmap.CacheTrecno, "trecno"},
}

// cacheMaskFlag adapts Store.CacheMask to flag.Value so it can be
// repeated on the command line, one -cache=<name> per bit, mirroring
// build.Options' largeFilesFlag pattern for repeatable flags.
type cacheMaskFlag struct{ mask *docmap.CacheMask }

func (f cacheMaskFlag) String() string {
	if f.mask == nil {
		return ""
	}
	var names []string
	for _, e := range cacheMaskFlagNames {
		if *f.mask&e.bit != 0 {
			names = append(names, e.name)
		}
	}
	return fmt.Sprint(names)
}

func (f cacheMaskFlag) Set(value string) error {
	for _, e := range cacheMaskFlagNames {
		if e.name == value {
			*f.mask |= e.bit
			return nil
		}
	}
	return fmt.Errorf("config: unknown cache section %q", value)
}

// Flags registers fs flags for every Store field, seeded with s's
// current values as defaults, following build.Options.Flags'
// convention.
func (s *Store) Flags(fs *flag.FlagSet) {
	x := *s
	fs.IntVar(&s.PageSize, "page_size", x.PageSize, "page size shared by the vocabulary and document map, in bytes")
	fs.IntVar(&s.BufferPages, "buffer_pages", x.BufferPages, "resident document-map pages kept between saves")
	fs.Int64Var(&s.MaxFileSize, "max_filesize", x.MaxFileSize, "byte ceiling before a component rolls onto a new numbered file")
	fs.Var(cacheMaskFlag{&s.CacheMask}, "cache", "document-map cache section to persist; repeat for more than one")
	fs.Float64Var(&s.Pivot, "pivot", x.Pivot, "impact transform pivoted-cosine pivot")
	fs.Float64Var(&s.Slope, "slope", x.Slope, "impact transform quantisation blend slope")
	fs.UintVar(&s.QuantBits, "quant_bits", x.QuantBits, "impact transform quantisation bit width")
	fs.IntVar(&s.TrecnoFrontFreq, "trecno_front_freq", x.TrecnoFrontFreq, "full (non-front-coded) trecno interval; recorded only, the document map always uses 4")
	fs.IntVar(&s.LocRelFreq, "loc_rel_freq", x.LocRelFreq, "absolute location checkpoint interval; recorded only, the document map always uses 8")
	fs.IntVar(&s.StemCacheCapacity, "stemcache_capacity", x.StemCacheCapacity, "stem cache slot count")
}

// Parse registers s's flags on a fresh flag set named name, parses
// args, and layers MGSTORE_*-prefixed environment variables on top of
// any flag not explicitly set.
func Parse(s *Store, name string, args []string) error {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	s.Flags(fs)
	return ff.Parse(fs, args, ff.WithEnvVarPrefix(envPrefix))
}

// ParseEnv applies MGSTORE_*-prefixed environment variable overrides
// to fs and parses args. Unlike Parse, it takes a flag set the caller
// already owns, so a command that needs its own flags (-dir, -feed)
// alongside a Store's can register everything on one set before
// parsing once, rather than parsing twice against two different sets.
func ParseEnv(fs *flag.FlagSet, args []string) error {
	return ff.Parse(fs, args, ff.WithEnvVarPrefix(envPrefix))
}
