package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgtoolkit/mgstore/internal/config"
	"github.com/mgtoolkit/mgstore/internal/storemeta"
)

const feed = `{"trecno":"doc-0","fileno":0,"offset":0,"bytes":20,"words":10,"distinct_words":8,"weight":1.5,"mime":0,"flags":0,"postings":[{"term":"zebra","freq":2},{"term":"apple","freq":1}]}
{"trecno":"doc-1","fileno":0,"offset":20,"bytes":40,"words":20,"distinct_words":15,"weight":2.0,"mime":0,"flags":0,"postings":[{"term":"apple","freq":3}]}
`

func TestBuildRecordsVocabularyEntryCount(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.PageSize = 4096
	cfg.MaxFileSize = 1 << 20

	require.NoError(t, build(dir, strings.NewReader(feed), cfg))

	meta, err := storemeta.Load(dir)
	require.NoError(t, err)
	require.Equal(t, 2, meta.VocabEntries)
	require.False(t, meta.ImpactApplied)
}

func TestBuildRejectsMalformedLine(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.MaxFileSize = 1 << 20

	err := build(dir, strings.NewReader("not json\n"), cfg)
	require.Error(t, err)
}
