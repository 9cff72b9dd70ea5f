package config

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgtoolkit/mgstore/docmap"
)

func TestParseFlagsOverrideDefaults(t *testing.T) {
	s := Defaults()
	err := Parse(s, "mgstore-test", []string{"-page_size", "8192", "-pivot", "0.3"})
	require.NoError(t, err)
	require.Equal(t, 8192, s.PageSize)
	require.Equal(t, 0.3, s.Pivot)
	require.Equal(t, 0.6, s.Slope) // untouched flag keeps its default
}

func TestCacheMaskFlagAccumulates(t *testing.T) {
	s := Defaults()
	err := Parse(s, "mgstore-test", []string{"-cache", "words", "-cache", "weight"})
	require.NoError(t, err)
	require.NotZero(t, s.CacheMask&docmap.CacheWords)
	require.NotZero(t, s.CacheMask&docmap.CacheWeight)
	require.Zero(t, s.CacheMask&docmap.CacheTrecno)
}

func TestCacheMaskFlagRejectsUnknownSection(t *testing.T) {
	s := Defaults()
	err := Parse(s, "mgstore-test", []string{"-cache", "bogus"})
	require.Error(t, err)
}

func TestParseEnvSharesCallerOwnedFlagSet(t *testing.T) {
	fs := flag.NewFlagSet("mgstore-test", flag.ContinueOnError)
	dir := fs.String("dir", "", "store directory")
	s := Defaults()
	s.Flags(fs)

	err := ParseEnv(fs, []string{"-dir", "/tmp/store", "-pivot", "0.4"})
	require.NoError(t, err)
	require.Equal(t, "/tmp/store", *dir)
	require.Equal(t, 0.4, s.Pivot)
}
