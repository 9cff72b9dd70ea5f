package freemap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgtoolkit/mgstore/page"
)

const testGranularity = 4096

func TestAllocateAppendsAtTail(t *testing.T) {
	m := New(testGranularity, testGranularity*10)
	loc1, newFile, err := m.Allocate(testGranularity, Hints{})
	require.NoError(t, err)
	require.False(t, newFile)
	require.Equal(t, page.Location{Fileno: 0, Offset: 0}, loc1)

	loc2, newFile, err := m.Allocate(testGranularity, Hints{})
	require.NoError(t, err)
	require.False(t, newFile)
	require.Equal(t, page.Location{Fileno: 0, Offset: testGranularity}, loc2)

	require.EqualValues(t, 2, m.Utilised())
}

func TestAllocateRollsToNewFileAtCapacity(t *testing.T) {
	m := New(testGranularity, testGranularity*2) // 2 units per file
	_, _, err := m.Allocate(testGranularity, Hints{})
	require.NoError(t, err)
	_, _, err = m.Allocate(testGranularity, Hints{})
	require.NoError(t, err)

	loc, newFile, err := m.Allocate(testGranularity, Hints{})
	require.NoError(t, err)
	require.True(t, newFile)
	require.Equal(t, uint32(1), loc.Fileno)
	require.EqualValues(t, 0, loc.Offset)
}

func TestFreeThenAllocateReusesUnit(t *testing.T) {
	m := New(testGranularity, testGranularity*10)
	loc1, _, err := m.Allocate(testGranularity, Hints{})
	require.NoError(t, err)
	_, _, err = m.Allocate(testGranularity, Hints{})
	require.NoError(t, err)

	require.NoError(t, m.Free(loc1, testGranularity))
	require.EqualValues(t, 1, m.Utilised())

	reused, newFile, err := m.Allocate(testGranularity, Hints{})
	require.NoError(t, err)
	require.False(t, newFile)
	require.Equal(t, loc1, reused)
}

func TestAllocateRejectsWrongSize(t *testing.T) {
	m := New(testGranularity, testGranularity*10)
	_, _, err := m.Allocate(testGranularity*2, Hints{})
	require.Error(t, err)
}

func TestFreeRejectsUnallocatedUnit(t *testing.T) {
	m := New(testGranularity, testGranularity*10)
	err := m.Free(page.Location{Fileno: 0, Offset: 0}, testGranularity)
	require.Error(t, err)
}

func TestAllocateFixedReservesExactLocationAndAdvancesTail(t *testing.T) {
	m := New(testGranularity, testGranularity*10)
	fixed := page.Location{Fileno: 2, Offset: 3 * testGranularity}
	loc, newFile, err := m.Allocate(testGranularity, Hints{Fixed: &fixed})
	require.NoError(t, err)
	require.False(t, newFile)
	require.Equal(t, fixed, loc)

	next, _, err := m.Allocate(testGranularity, Hints{})
	require.NoError(t, err)
	require.Equal(t, page.Location{Fileno: 2, Offset: 4 * testGranularity}, next)
}

func TestTailReflectsNextAppendLocation(t *testing.T) {
	m := New(testGranularity, testGranularity*10)
	require.Equal(t, page.Location{Fileno: 0, Offset: 0}, m.Tail())
	_, _, err := m.Allocate(testGranularity, Hints{})
	require.NoError(t, err)
	require.Equal(t, page.Location{Fileno: 0, Offset: testGranularity}, m.Tail())
}
