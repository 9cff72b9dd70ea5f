package bucket

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

const testPageSize = 256

func newTestImage(t *testing.T) []byte {
	t.Helper()
	img := make([]byte, testPageSize)
	New(img, testPageSize, LeafStrategy)
	return img
}

func TestAllocFindRoundTrip(t *testing.T) {
	img := newTestImage(t)

	terms := []string{"banana", "apple", "cherry"}
	for _, term := range terms {
		p, _, err := Alloc(img, testPageSize, LeafStrategy, []byte(term), len(term))
		require.NoError(t, err)
		copy(p, term)
	}

	require.True(t, Sorted(img, testPageSize, LeafStrategy))
	require.Equal(t, 3, Entries(img, testPageSize, LeafStrategy))

	for _, term := range terms {
		p, _, ok := Find(img, testPageSize, LeafStrategy, []byte(term))
		require.True(t, ok)
		require.Equal(t, term, string(p))
	}

	_, _, ok := Find(img, testPageSize, LeafStrategy, []byte("durian"))
	require.False(t, ok)
}

func TestAllocDuplicateRejected(t *testing.T) {
	img := newTestImage(t)
	_, _, err := Alloc(img, testPageSize, LeafStrategy, []byte("apple"), 5)
	require.NoError(t, err)

	_, _, err = Alloc(img, testPageSize, LeafStrategy, []byte("apple"), 5)
	require.Error(t, err)
}

func TestSearchPredecessor(t *testing.T) {
	img := newTestImage(t)
	for _, term := range []string{"b", "d", "f"} {
		_, _, err := Alloc(img, testPageSize, LeafStrategy, []byte(term), 1)
		require.NoError(t, err)
	}

	cases := []struct {
		term      string
		wantFound bool
		wantIdx   int
	}{
		{"a", false, -1},
		{"b", true, 0},
		{"c", true, 0},
		{"e", true, 1},
		{"z", true, 2},
	}
	for _, tt := range cases {
		t.Run(fmt.Sprintf("search %q", tt.term), func(t *testing.T) {
			_, idx, found := Search(img, testPageSize, LeafStrategy, []byte(tt.term))
			require.Equal(t, tt.wantFound, found)
			require.Equal(t, tt.wantIdx, idx)
		})
	}
}

func TestAllocTooBig(t *testing.T) {
	img := newTestImage(t)
	big := make([]byte, testPageSize*2)
	_, _, err := Alloc(img, testPageSize, LeafStrategy, big, 1)
	require.ErrorIs(t, err, ErrTooBig)
}

func TestAllocSplitRequired(t *testing.T) {
	img := newTestImage(t)
	var err error
	for i := 0; i < 1000; i++ {
		term := fmt.Sprintf("term-%04d", i)
		_, _, err = Alloc(img, testPageSize, LeafStrategy, []byte(term), 8)
		if err != nil {
			break
		}
	}
	require.ErrorIs(t, err, ErrSplit)
}

func TestRemove(t *testing.T) {
	img := newTestImage(t)
	for _, term := range []string{"a", "b", "c"} {
		_, _, err := Alloc(img, testPageSize, LeafStrategy, []byte(term), 1)
		require.NoError(t, err)
	}

	ok, err := Remove(img, testPageSize, LeafStrategy, []byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, Entries(img, testPageSize, LeafStrategy))

	_, _, found := Find(img, testPageSize, LeafStrategy, []byte("b"))
	require.False(t, found)

	ok, err = Remove(img, testPageSize, LeafStrategy, []byte("nope"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNextTermInOrder(t *testing.T) {
	img := newTestImage(t)
	for _, term := range []string{"z", "a", "m"} {
		_, _, err := Alloc(img, testPageSize, LeafStrategy, []byte(term), 1)
		require.NoError(t, err)
	}

	var got []string
	it := &Iter{}
	for {
		term, _, ok := NextTerm(img, testPageSize, LeafStrategy, it)
		if !ok {
			break
		}
		got = append(got, string(term))
	}
	require.Equal(t, []string{"a", "m", "z"}, got)
}

func TestSplitBalancesEntries(t *testing.T) {
	img := newTestImage(t)
	n := 0
	for {
		term := fmt.Sprintf("k%03d", n)
		_, _, err := Alloc(img, testPageSize, LeafStrategy, []byte(term), 4)
		if err == ErrSplit {
			break
		}
		require.NoError(t, err)
		n++
	}

	splitAt, _, err := FindSplitEntry(img, testPageSize, LeafStrategy, testPageSize/8, []byte("zzz"), 4)
	require.NoError(t, err)
	require.Greater(t, splitAt, 0)
	require.Less(t, splitAt, n)

	right := make([]byte, testPageSize)
	require.NoError(t, Split(img, testPageSize, right, testPageSize, LeafStrategy, splitAt))

	require.Equal(t, splitAt, Entries(img, testPageSize, LeafStrategy))
	require.Equal(t, n-splitAt, Entries(right, testPageSize, LeafStrategy))
	require.True(t, Sorted(img, testPageSize, LeafStrategy))
	require.True(t, Sorted(right, testPageSize, LeafStrategy))

	leftLastTerm := TermAt(img, testPageSize, LeafStrategy, Entries(img, testPageSize, LeafStrategy)-1)
	rightFirstTerm := TermAt(right, testPageSize, LeafStrategy, 0)
	require.Less(t, string(leftLastTerm), string(rightFirstTerm))
}

func TestMerge(t *testing.T) {
	left := newTestImage(t)
	right := newTestImage(t)
	for _, term := range []string{"a", "c"} {
		_, _, err := Alloc(left, testPageSize, LeafStrategy, []byte(term), 1)
		require.NoError(t, err)
	}
	for _, term := range []string{"b", "d"} {
		_, _, err := Alloc(right, testPageSize, LeafStrategy, []byte(term), 1)
		require.NoError(t, err)
	}

	dst := newTestImage(t)
	require.NoError(t, Merge(dst, testPageSize, left, testPageSize, LeafStrategy))
	require.NoError(t, Merge(dst, testPageSize, right, testPageSize, LeafStrategy))
	require.Equal(t, 4, Entries(dst, testPageSize, LeafStrategy))
	require.True(t, Sorted(dst, testPageSize, LeafStrategy))
}

func TestReallocGrowAndShrink(t *testing.T) {
	img := newTestImage(t)
	_, _, err := Alloc(img, testPageSize, LeafStrategy, []byte("term"), 4)
	require.NoError(t, err)

	p, err := Realloc(img, testPageSize, LeafStrategy, []byte("term"), 8)
	require.NoError(t, err)
	require.Len(t, p, 8)

	p, err = Realloc(img, testPageSize, LeafStrategy, []byte("term"), 2)
	require.NoError(t, err)
	require.Len(t, p, 2)

	_, err = Realloc(img, testPageSize, LeafStrategy, []byte("missing"), 4)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNodeStrategyFixedPayload(t *testing.T) {
	strategy := NodeStrategy(12)
	img := make([]byte, testPageSize)
	New(img, testPageSize, strategy)

	_, _, err := Alloc(img, testPageSize, strategy, []byte("term"), 11)
	require.Error(t, err)

	p, _, err := Alloc(img, testPageSize, strategy, []byte("term"), 12)
	require.NoError(t, err)
	require.Len(t, p, 12)
}
