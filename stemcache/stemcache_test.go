package stemcache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// truncStemmer stems by trimming a trailing "ing"/"ed"/"s", a stand-in
// stemmer exercising the cache's contract without needing a real
// algorithm (spec.md §4.5 specifies the cache only, not a stemmer).
type truncStemmer struct{}

func (truncStemmer) Stem(dst, term []byte) []byte {
	s := string(term)
	for _, suf := range []string{"ing", "ed", "s"} {
		if strings.HasSuffix(s, suf) {
			s = s[:len(s)-len(suf)]
			break
		}
	}
	return append(dst[:0], s...)
}

func TestCacheHitAfterInsert(t *testing.T) {
	c := New(4)
	var buf []byte

	out := c.Stem(truncStemmer{}, buf, []byte("running"))
	require.Equal(t, "runn", string(out))
	require.EqualValues(t, 1, c.Misses())
	require.EqualValues(t, 0, c.Hits())

	out = c.Stem(truncStemmer{}, buf, []byte("running"))
	require.Equal(t, "runn", string(out))
	require.EqualValues(t, 1, c.Misses())
	require.EqualValues(t, 1, c.Hits())
}

func TestCapacityOneCyclesBetweenTwoInputs(t *testing.T) {
	c := New(1)
	var buf []byte

	c.Stem(truncStemmer{}, buf, []byte("cats"))
	require.Equal(t, 1, c.Len())

	c.Stem(truncStemmer{}, buf, []byte("dogs"))
	require.Equal(t, 1, c.Len())

	out := c.Stem(truncStemmer{}, buf, []byte("cats"))
	require.Equal(t, "cat", string(out))
	require.Equal(t, 1, c.Len())
}

// TestClockCycleFullAndHitRatio reproduces spec.md §8 scenario 5:
// capacity 4, insert sequence sing/sang/sung/song/sing/sang/sung/song.
// After step 4 the cache is full; steps 5-8 repeat the same four
// terms and must all hit.
func TestClockCycleFullAndHitRatio(t *testing.T) {
	c := New(4)
	var buf []byte
	seq := []string{"sing", "sang", "sung", "song", "sing", "sang", "sung", "song"}

	for i, term := range seq {
		c.Stem(truncStemmer{}, buf, []byte(term))
		if i == 3 {
			require.Equal(t, 4, c.Len())
			require.EqualValues(t, 4, c.Misses())
		}
	}

	require.EqualValues(t, 4, c.Misses())
	require.EqualValues(t, 4, c.Hits())
}

func TestEvictionPicksZeroRefCountSlot(t *testing.T) {
	c := New(2)
	var buf []byte

	c.Stem(truncStemmer{}, buf, []byte("alpha"))
	c.Stem(truncStemmer{}, buf, []byte("beta"))
	// both slots now have refCount 2; a third distinct insert must
	// evict one of them via the clock sweep rather than grow the map.
	c.Stem(truncStemmer{}, buf, []byte("gamma"))
	require.Equal(t, 2, c.Len())
}

func TestStemWithoutCachingNeverErrors(t *testing.T) {
	c := New(2)
	var buf []byte
	for i := 0; i < 100; i++ {
		out := c.Stem(truncStemmer{}, buf, []byte("repeatedrunning"))
		require.NotEmpty(t, out)
	}
}
