package storemeta

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgtoolkit/mgstore/page"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := Meta{
		PageSize:      4096,
		BufferPages:   4,
		MaxFileSize:   1 << 30,
		CacheMask:     3,
		VocabRoot:     page.Location{Fileno: 2, Offset: 8192},
		VocabEntries:  1024,
		Pivot:         0.2,
		Slope:         0.6,
		QuantBits:     8,
		ImpactApplied: true,
	}

	require.NoError(t, Save(dir, want))
	got, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestLoadMissingSidecarReturnsError(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestSaveOverwritesPreviousContents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(dir, Meta{VocabEntries: 1}))
	require.NoError(t, Save(dir, Meta{VocabEntries: 2, ImpactApplied: true}))

	got, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, 2, got.VocabEntries)
	require.True(t, got.ImpactApplied)
}
